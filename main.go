// Command testapp-infrastructure synthesizes the CDK stacks for the testapp
// environments.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsroute53"
	"github.com/aws/jsii-runtime-go"
	"github.com/joho/godotenv"

	"testapp-infrastructure/config"
	"testapp-infrastructure/secrets"
	"testapp-infrastructure/stack"
)

func main() {
	defer jsii.Close()

	// Local overrides; CI provides real environment variables.
	_ = godotenv.Load()

	app := awscdk.NewApp(nil)
	cfg := resolveConfig(app)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if config.IsCI() {
		log.Printf("CI detected, secrets fall back to environment variables when sops is unavailable")
	}

	loader := secrets.NewLoader(secrets.ProjectRoot(), cfg.Environment)
	loader.LoadSecretsWithFallback(cfg.Environment)
	flat := loader.ExportAsEnvVars()
	webhookSecret, err := loader.GetSecret("external_services.webhook_secret")
	if err != nil {
		log.Printf("webhook secret unavailable, alarm notifications are unsigned: %v", err)
	}

	env := awsEnv()
	if err := checkLookupEnv(cfg, env); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	infra := stack.NewTestAppInfrastructureStack(app, stackID(cfg, "Infrastructure"), &stack.TestAppInfrastructureStackProps{
		StackProps: awscdk.StackProps{Env: env},
		Config:     cfg,
		Secrets:    flat,
	})

	var zone awsroute53.IHostedZone
	if cfg.EnableHTTPS {
		zone = awsroute53.HostedZone_FromLookup(infra.Stack, jsii.String("TestAppHostedZone"), &awsroute53.HostedZoneProviderProps{
			DomainName: jsii.String(cfg.DomainName),
		})
	}

	application := stack.NewApplicationStack(app, stackID(cfg, "Application"), &stack.ApplicationStackProps{
		StackProps: awscdk.StackProps{Env: env},
		Config:     cfg,
		Vpc:        infra.Vpc,
		HostedZone: zone,
	})

	platform := stack.NewEcsPlatformStack(app, stackID(cfg, "EcsPlatform"), &stack.EcsPlatformStackProps{
		StackProps:     awscdk.StackProps{Env: env},
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

	stack.NewSecurityPolicyStack(app, stackID(cfg, "SecurityPolicy"), &stack.SecurityPolicyStackProps{
		StackProps:   awscdk.StackProps{Env: env},
		Config:       cfg,
		LoadBalancer: application.LoadBalancer,
	})

	stack.NewMonitoringDashboardStack(app, stackID(cfg, "MonitoringDashboard"), &stack.MonitoringDashboardStackProps{
		StackProps:    awscdk.StackProps{Env: env},
		Config:        cfg,
		Service:       platform.Service,
		LoadBalancer:  application.LoadBalancer,
		TargetGroup:   application.TargetGroup,
		WebhookSecret: webhookSecret,
	})

	app.Synth(nil)
}

// resolveConfig reads settings from CDK context first, then environment
// variables.
func resolveConfig(app awscdk.App) config.Config {
	environment := contextString(app, "environment")
	if environment == "" {
		environment = config.DetectEnvironment()
	}

	domainName := contextString(app, "domain_name")
	if domainName == "" {
		domainName = os.Getenv("DOMAIN_NAME")
	}

	enableHTTPS := contextString(app, "enable_https") == "true" || os.Getenv("ENABLE_HTTPS") == "true"

	return config.Config{
		Environment:     environment,
		EnableHTTPS:     enableHTTPS,
		DomainName:      domainName,
		AlarmWebhookURL: os.Getenv("ALARM_WEBHOOK_URL"),
	}
}

func contextString(app awscdk.App, key string) string {
	value := app.Node().TryGetContext(jsii.String(key))
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}

func stackID(cfg config.Config, suffix string) string {
	return fmt.Sprintf("TestApp-%s-%s", cfg.Environment, suffix)
}

func awsEnv() *awscdk.Environment {
	return &awscdk.Environment{
		Account: jsii.String(os.Getenv("CDK_DEFAULT_ACCOUNT")),
		Region:  jsii.String(os.Getenv("CDK_DEFAULT_REGION")),
	}
}

// checkLookupEnv rejects an HTTPS synthesis without a concrete account and
// region. The hosted zone lookup cannot run against an unresolved
// environment and the error it produces does not name the missing values.
func checkLookupEnv(cfg config.Config, env *awscdk.Environment) error {
	if !cfg.EnableHTTPS {
		return nil
	}
	if env == nil || env.Account == nil || *env.Account == "" || env.Region == nil || *env.Region == "" {
		return errors.New("enableHTTPS requires CDK_DEFAULT_ACCOUNT and CDK_DEFAULT_REGION for the hosted zone lookup")
	}
	return nil
}
