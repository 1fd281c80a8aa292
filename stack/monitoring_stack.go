package stack

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscloudwatch"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscloudwatchactions"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsecs"
	"github.com/aws/aws-cdk-go/awscdk/v2/awselasticloadbalancingv2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3assets"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssns"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssnssubscriptions"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"testapp-infrastructure/config"
)

// MonitoringDashboardStackProps defines the properties for the monitoring
// stack.
type MonitoringDashboardStackProps struct {
	awscdk.StackProps
	Config       config.Config
	Service      awsecs.FargateService
	LoadBalancer awselasticloadbalancingv2.ApplicationLoadBalancer
	TargetGroup  awselasticloadbalancingv2.ApplicationTargetGroup
	// WebhookSecret signs alarm notifications forwarded by the notifier
	// lambda. Comes from external_services.webhook_secret.
	WebhookSecret string
}

// MonitoringDashboardStack holds the dashboard, alarms and alarm topic.
type MonitoringDashboardStack struct {
	awscdk.Stack
	Dashboard  awscloudwatch.Dashboard
	AlarmTopic awssns.ITopic
}

// NewMonitoringDashboardStack creates the CloudWatch dashboard, the service
// and ALB alarms, and the webhook notifier wired to the alarm topic.
func NewMonitoringDashboardStack(scope constructs.Construct, id string, props *MonitoringDashboardStackProps) *MonitoringDashboardStack {
	stack := awscdk.NewStack(scope, &id, &props.StackProps)
	cfg := props.Config

	alarmTopic := awssns.NewTopic(stack, jsii.String("TestAppAlarmTopic"), &awssns.TopicProps{
		TopicName:   jsii.String(fmt.Sprintf("testapp-%s-alarms", cfg.Environment)),
		DisplayName: jsii.String("TestApp operational alarms"),
	})
	tagAll(alarmTopic, cfg)

	if cfg.AlarmWebhookURL != "" {
		notifier := createAlarmNotifier(stack, props)
		alarmTopic.AddSubscription(awssnssubscriptions.NewLambdaSubscription(notifier, nil))
	}

	createServiceAlarms(stack, props, alarmTopic)
	dashboard := createDashboard(stack, props)

	awscdk.NewCfnOutput(stack, jsii.String("AlarmTopicArn"), &awscdk.CfnOutputProps{
		Value:       alarmTopic.TopicArn(),
		Description: jsii.String("SNS topic receiving CloudWatch alarm state changes"),
		ExportName:  jsii.String(fmt.Sprintf("%s-%s-Alarm-Topic-ARN", ExportNamePrefix, cfg.Environment)),
	})

	return &MonitoringDashboardStack{
		Stack:      stack,
		Dashboard:  dashboard,
		AlarmTopic: alarmTopic,
	}
}

// createAlarmNotifier bundles the Go notifier lambda that forwards alarm
// state changes to the configured webhook.
func createAlarmNotifier(stack awscdk.Stack, props *MonitoringDashboardStackProps) awslambda.Function {
	cfg := props.Config
	lambdaPath := filepath.Join(monitoringFileDir(), "../lambda/notifier")

	notifier := awslambda.NewFunction(stack, jsii.String("AlarmNotifier"), &awslambda.FunctionProps{
		Runtime:      awslambda.Runtime_PROVIDED_AL2023(),
		Handler:      jsii.String("bootstrap"),
		Architecture: awslambda.Architecture_ARM_64(),
		Code: awslambda.AssetCode_FromAsset(jsii.String(lambdaPath), &awss3assets.AssetOptions{
			Bundling: &awscdk.BundlingOptions{
				Image: awscdk.DockerImage_FromRegistry(jsii.String("golang:1.24")),
				// The notifier is its own module so the asset directory
				// builds standalone inside the container.
				Command: jsii.Strings(
					"bash", "-c",
					"go mod tidy && GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o /asset-output/bootstrap .",
				),
				User: jsii.String("root"),
			},
		}),
		Environment: &map[string]*string{
			"WEBHOOK_URL":    jsii.String(cfg.AlarmWebhookURL),
			"WEBHOOK_SECRET": jsii.String(props.WebhookSecret),
			"ENVIRONMENT":    jsii.String(cfg.Environment),
		},
		Timeout:    awscdk.Duration_Seconds(jsii.Number(30)),
		MemorySize: jsii.Number(128),
	})
	tagAll(notifier, cfg)

	if !cfg.IsProduction() {
		notifier.ApplyRemovalPolicy(awscdk.RemovalPolicy_DESTROY)
	}
	return notifier
}

// createServiceAlarms creates the CPU, memory, 5xx and unhealthy host alarms.
func createServiceAlarms(stack awscdk.Stack, props *MonitoringDashboardStackProps, topic awssns.ITopic) {
	cfg := props.Config
	action := awscloudwatchactions.NewSnsAction(topic)

	cpuAlarm := props.Service.MetricCpuUtilization(nil).CreateAlarm(stack, jsii.String("CpuHighAlarm"), &awscloudwatch.CreateAlarmOptions{
		AlarmName:          jsii.String(fmt.Sprintf("testapp-%s-cpu-high", cfg.Environment)),
		AlarmDescription:   jsii.String("Service CPU above 80% for 3 periods"),
		Threshold:          jsii.Number(80),
		EvaluationPeriods:  jsii.Number(3),
		ComparisonOperator: awscloudwatch.ComparisonOperator_GREATER_THAN_THRESHOLD,
		TreatMissingData:   awscloudwatch.TreatMissingData_NOT_BREACHING,
	})
	cpuAlarm.AddAlarmAction(action)

	memoryAlarm := props.Service.MetricMemoryUtilization(nil).CreateAlarm(stack, jsii.String("MemoryHighAlarm"), &awscloudwatch.CreateAlarmOptions{
		AlarmName:          jsii.String(fmt.Sprintf("testapp-%s-memory-high", cfg.Environment)),
		AlarmDescription:   jsii.String("Service memory above 80% for 3 periods"),
		Threshold:          jsii.Number(80),
		EvaluationPeriods:  jsii.Number(3),
		ComparisonOperator: awscloudwatch.ComparisonOperator_GREATER_THAN_THRESHOLD,
		TreatMissingData:   awscloudwatch.TreatMissingData_NOT_BREACHING,
	})
	memoryAlarm.AddAlarmAction(action)

	serverErrorAlarm := props.LoadBalancer.Metrics().HttpCodeTarget(awselasticloadbalancingv2.HttpCodeTarget_TARGET_5XX_COUNT, nil).CreateAlarm(stack, jsii.String("Target5xxAlarm"), &awscloudwatch.CreateAlarmOptions{
		AlarmName:          jsii.String(fmt.Sprintf("testapp-%s-5xx", cfg.Environment)),
		AlarmDescription:   jsii.String("Targets returned more than 10 5xx responses in a period"),
		Threshold:          jsii.Number(10),
		EvaluationPeriods:  jsii.Number(1),
		ComparisonOperator: awscloudwatch.ComparisonOperator_GREATER_THAN_THRESHOLD,
		TreatMissingData:   awscloudwatch.TreatMissingData_NOT_BREACHING,
	})
	serverErrorAlarm.AddAlarmAction(action)

	unhealthyAlarm := props.TargetGroup.Metrics().UnhealthyHostCount(nil).CreateAlarm(stack, jsii.String("UnhealthyHostAlarm"), &awscloudwatch.CreateAlarmOptions{
		AlarmName:          jsii.String(fmt.Sprintf("testapp-%s-unhealthy-hosts", cfg.Environment)),
		AlarmDescription:   jsii.String("At least one target failing health checks"),
		Threshold:          jsii.Number(0),
		EvaluationPeriods:  jsii.Number(2),
		ComparisonOperator: awscloudwatch.ComparisonOperator_GREATER_THAN_THRESHOLD,
		TreatMissingData:   awscloudwatch.TreatMissingData_NOT_BREACHING,
	})
	unhealthyAlarm.AddAlarmAction(action)
}

// createDashboard builds the operational dashboard for the environment.
func createDashboard(stack awscdk.Stack, props *MonitoringDashboardStackProps) awscloudwatch.Dashboard {
	cfg := props.Config

	dashboard := awscloudwatch.NewDashboard(stack, jsii.String("TestAppDashboard"), &awscloudwatch.DashboardProps{
		DashboardName: jsii.String(fmt.Sprintf("testapp-%s", cfg.Environment)),
	})
	tagAll(dashboard, cfg)

	dashboard.AddWidgets(
		awscloudwatch.NewGraphWidget(&awscloudwatch.GraphWidgetProps{
			Title: jsii.String("Service utilization"),
			Left: &[]awscloudwatch.IMetric{
				props.Service.MetricCpuUtilization(nil),
				props.Service.MetricMemoryUtilization(nil),
			},
			Width: jsii.Number(12),
		}),
		awscloudwatch.NewGraphWidget(&awscloudwatch.GraphWidgetProps{
			Title: jsii.String("Request volume"),
			Left: &[]awscloudwatch.IMetric{
				props.LoadBalancer.Metrics().RequestCount(nil),
			},
			Width: jsii.Number(12),
		}),
	)
	dashboard.AddWidgets(
		awscloudwatch.NewGraphWidget(&awscloudwatch.GraphWidgetProps{
			Title: jsii.String("Latency and errors"),
			Left: &[]awscloudwatch.IMetric{
				props.LoadBalancer.Metrics().TargetResponseTime(nil),
				props.LoadBalancer.Metrics().HttpCodeTarget(awselasticloadbalancingv2.HttpCodeTarget_TARGET_5XX_COUNT, nil),
			},
			Width: jsii.Number(12),
		}),
		awscloudwatch.NewGraphWidget(&awscloudwatch.GraphWidgetProps{
			Title: jsii.String("Target health"),
			Left: &[]awscloudwatch.IMetric{
				props.TargetGroup.Metrics().HealthyHostCount(nil),
				props.TargetGroup.Metrics().UnhealthyHostCount(nil),
			},
			Width: jsii.Number(12),
		}),
	)

	return dashboard
}

func monitoringFileDir() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		panic("unable to get current file path")
	}
	return filepath.Dir(filename)
}
