package stack

import (
	"github.com/aws/aws-cdk-go/awscdk/v2"

	"testapp-infrastructure/config"
)

// newTestApp creates an app with asset bundling disabled so synthesis does
// not require docker.
func newTestApp() awscdk.App {
	return awscdk.NewApp(&awscdk.AppProps{
		Context: &map[string]interface{}{
			"aws:cdk:bundling-stacks": []interface{}{},
		},
	})
}

func devConfig() config.Config {
	return config.Config{Environment: "dev"}
}

func prodConfig() config.Config {
	return config.Config{Environment: "production"}
}

func sampleSecrets() map[string]string {
	return map[string]string{
		"APPLICATION_SECRET_KEY":       "test-secret-key",
		"APPLICATION_JWT_SECRET":       "test-jwt-secret",
		"APPLICATION_REQUIRED_SETTING": "test-value",
		"MONITORING_SENTRY_DSN":        "",
	}
}

// testEnvironment wires the infrastructure, application and platform stacks
// the same way main.go does.
type testEnvironment struct {
	infra       *TestAppInfrastructureStack
	application *ApplicationStack
	platform    *EcsPlatformStack
}

func newTestEnvironment(app awscdk.App, cfg config.Config) *testEnvironment {
	infra := NewTestAppInfrastructureStack(app, "Infra", &TestAppInfrastructureStackProps{
		Config:  cfg,
		Secrets: sampleSecrets(),
	})
	application := NewApplicationStack(app, "Application", &ApplicationStackProps{
		Config: cfg,
		Vpc:    infra.Vpc,
	})
	platform := NewEcsPlatformStack(app, "Platform", &EcsPlatformStackProps{
		Config:         cfg,
		Vpc:            infra.Vpc,
		Repository:     infra.Repository,
		AppSecret:      infra.AppSecret,
		Database:       infra.Database,
		DatabaseSecret: infra.DatabaseSecret,
		RedisSG:        infra.RedisSG,
		RedisEndpoint:  infra.RedisEndpoint,
		TargetGroup:    application.TargetGroup,
		AlbSG:          application.AlbSG,
	})
	return &testEnvironment{infra: infra, application: application, platform: platform}
}
