package stack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-cdk-go/awscdk/v2/assertions"
	"github.com/aws/jsii-runtime-go"
	"github.com/stretchr/testify/require"

	"testapp-infrastructure/config"
)

func newMonitoringStack(t *testing.T, cfg config.Config) *MonitoringDashboardStack {
	t.Helper()
	app := newTestApp()
	env := newTestEnvironment(app, cfg)
	return NewMonitoringDashboardStack(app, "Monitoring", &MonitoringDashboardStackProps{
		Config:        cfg,
		Service:       env.platform.Service,
		LoadBalancer:  env.application.LoadBalancer,
		TargetGroup:   env.application.TargetGroup,
		WebhookSecret: "webhook-secret",
	})
}

func TestMonitoringStackAlarms(t *testing.T) {
	monitoring := newMonitoringStack(t, devConfig())
	template := assertions.Template_FromStack(monitoring.Stack, nil)

	template.ResourceCountIs(jsii.String("AWS::CloudWatch::Alarm"), jsii.Number(4))
	template.HasResourceProperties(jsii.String("AWS::CloudWatch::Alarm"), map[string]interface{}{
		"AlarmName":          "testapp-dev-cpu-high",
		"Threshold":          80,
		"EvaluationPeriods":  3,
		"ComparisonOperator": "GreaterThanThreshold",
		"TreatMissingData":   "notBreaching",
	})
	template.HasResourceProperties(jsii.String("AWS::CloudWatch::Alarm"), map[string]interface{}{
		"AlarmName": "testapp-dev-5xx",
		"Threshold": 10,
	})
	template.HasResourceProperties(jsii.String("AWS::CloudWatch::Alarm"), map[string]interface{}{
		"AlarmName": "testapp-dev-unhealthy-hosts",
		"Threshold": 0,
	})
}

func TestMonitoringStackAlarmsNotifyTopic(t *testing.T) {
	monitoring := newMonitoringStack(t, devConfig())
	template := assertions.Template_FromStack(monitoring.Stack, nil)

	template.ResourceCountIs(jsii.String("AWS::SNS::Topic"), jsii.Number(1))
	template.HasResourceProperties(jsii.String("AWS::SNS::Topic"), map[string]interface{}{
		"TopicName": "testapp-dev-alarms",
	})
	template.HasResourceProperties(jsii.String("AWS::CloudWatch::Alarm"), map[string]interface{}{
		"AlarmName": "testapp-dev-memory-high",
		"AlarmActions": assertions.Match_ArrayWith(&[]interface{}{
			assertions.Match_ObjectLike(&map[string]interface{}{
				"Ref": assertions.Match_AnyValue(),
			}),
		}),
	})
}

func TestMonitoringStackDashboard(t *testing.T) {
	monitoring := newMonitoringStack(t, devConfig())
	template := assertions.Template_FromStack(monitoring.Stack, nil)

	template.ResourceCountIs(jsii.String("AWS::CloudWatch::Dashboard"), jsii.Number(1))
	template.HasResourceProperties(jsii.String("AWS::CloudWatch::Dashboard"), map[string]interface{}{
		"DashboardName": "testapp-dev",
	})
}

func TestMonitoringStackNotifierOnlyWithWebhook(t *testing.T) {
	withoutWebhook := newMonitoringStack(t, devConfig())
	template := assertions.Template_FromStack(withoutWebhook.Stack, nil)
	template.ResourceCountIs(jsii.String("AWS::Lambda::Function"), jsii.Number(0))

	cfg := devConfig()
	cfg.AlarmWebhookURL = "https://hooks.example.com/alerts"
	withWebhook := newMonitoringStack(t, cfg)
	withTemplate := assertions.Template_FromStack(withWebhook.Stack, nil)

	withTemplate.HasResourceProperties(jsii.String("AWS::Lambda::Function"), map[string]interface{}{
		"Handler": "bootstrap",
		"Runtime": "provided.al2023",
		"Environment": map[string]interface{}{
			"Variables": assertions.Match_ObjectLike(&map[string]interface{}{
				"WEBHOOK_URL":    "https://hooks.example.com/alerts",
				"WEBHOOK_SECRET": "webhook-secret",
				"ENVIRONMENT":    "dev",
			}),
		},
	})
	withTemplate.ResourceCountIs(jsii.String("AWS::SNS::Subscription"), jsii.Number(1))
}

// The notifier asset is bundled from its own directory inside a plain
// golang container, so the directory must be a self-contained module
// that declares everything the handler imports.
func TestNotifierAssetIsSelfContainedModule(t *testing.T) {
	assetDir := filepath.Join(monitoringFileDir(), "../lambda/notifier")

	goMod, err := os.ReadFile(filepath.Join(assetDir, "go.mod"))
	require.NoError(t, err, "notifier asset must carry its own go.mod")
	require.Contains(t, string(goMod), "module testapp-infrastructure/lambda/notifier")
	require.Contains(t, string(goMod), "github.com/aws/aws-lambda-go")

	_, err = os.Stat(filepath.Join(assetDir, "main.go"))
	require.NoError(t, err)
}
