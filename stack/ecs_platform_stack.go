package stack

import (
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsapplicationautoscaling"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsec2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsecr"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsecs"
	"github.com/aws/aws-cdk-go/awscdk/v2/awselasticloadbalancingv2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslogs"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsrds"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssecretsmanager"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"testapp-infrastructure/config"
)

// EcsPlatformStackProps defines the properties for the container platform
// stack.
type EcsPlatformStackProps struct {
	awscdk.StackProps
	Config         config.Config
	Vpc            awsec2.IVpc
	Repository     awsecr.IRepository
	AppSecret      awssecretsmanager.ISecret
	Database       awsrds.IDatabaseCluster
	DatabaseSecret awssecretsmanager.ISecret
	RedisSG        awsec2.ISecurityGroup
	RedisEndpoint  *string
	// TargetGroup and AlbSG come from the application stack; the service
	// registers itself as a target and admits traffic from the ALB only.
	TargetGroup awselasticloadbalancingv2.IApplicationTargetGroup
	AlbSG       awsec2.ISecurityGroup
}

// EcsPlatformStack holds the cluster, task definition and Fargate service.
type EcsPlatformStack struct {
	awscdk.Stack
	Cluster   awsecs.ICluster
	TaskDef   awsecs.FargateTaskDefinition
	Service   awsecs.FargateService
	ServiceSG awsec2.ISecurityGroup
	LogGroup  awslogs.ILogGroup
}

// NewEcsPlatformStack creates the ECS cluster and the Django Fargate service.
func NewEcsPlatformStack(scope constructs.Construct, id string, props *EcsPlatformStackProps) *EcsPlatformStack {
	stack := awscdk.NewStack(scope, &id, &props.StackProps)
	cfg := props.Config

	cluster := awsecs.NewCluster(stack, jsii.String("TestAppCluster"), &awsecs.ClusterProps{
		ClusterName:       jsii.String(fmt.Sprintf("testapp-%s", cfg.Environment)),
		Vpc:               props.Vpc,
		ContainerInsights: jsii.Bool(cfg.IsProduction()),
	})
	tagAll(cluster, cfg)
	if !cfg.IsProduction() {
		cluster.ApplyRemovalPolicy(awscdk.RemovalPolicy_DESTROY)
	}

	logGroup := awslogs.NewLogGroup(stack, jsii.String("TestAppLogGroup"), &awslogs.LogGroupProps{
		LogGroupName:  jsii.String(fmt.Sprintf("%s/%s", LogGroupNameBase, cfg.Environment)),
		Retention:     cfg.LogRetention(),
		RemovalPolicy: cfg.RemovalPolicy(),
	})
	tagAll(logGroup, cfg)

	taskDef := createTaskDefinition(stack, props, logGroup)

	serviceSG := awsec2.NewSecurityGroup(stack, jsii.String("TestAppServiceSG"), &awsec2.SecurityGroupProps{
		Vpc:              props.Vpc,
		Description:      jsii.String("Outbound access for the testapp service tasks"),
		AllowAllOutbound: jsii.Bool(true),
	})
	tagAll(serviceSG, cfg)

	subnetType := awsec2.SubnetType_PUBLIC
	assignPublicIP := true
	if cfg.IsProduction() {
		subnetType = awsec2.SubnetType_PRIVATE_WITH_EGRESS
		assignPublicIP = false
	}

	service := awsecs.NewFargateService(stack, jsii.String("TestAppService"), &awsecs.FargateServiceProps{
		ServiceName:    jsii.String(fmt.Sprintf("testapp-%s", cfg.Environment)),
		Cluster:        cluster,
		TaskDefinition: taskDef,
		DesiredCount:   jsii.Number(cfg.DesiredCount()),
		VpcSubnets: &awsec2.SubnetSelection{
			SubnetType: subnetType,
		},
		AssignPublicIp:         jsii.Bool(assignPublicIP),
		SecurityGroups:         &[]awsec2.ISecurityGroup{serviceSG},
		MinHealthyPercent:      jsii.Number(100),
		MaxHealthyPercent:      jsii.Number(200),
		EnableExecuteCommand:   jsii.Bool(!cfg.IsProduction()),
		CircuitBreaker:         &awsecs.DeploymentCircuitBreaker{Rollback: jsii.Bool(true)},
		HealthCheckGracePeriod: awscdk.Duration_Seconds(jsii.Number(60)),
	})
	tagAll(service, cfg)

	scaling := service.AutoScaleTaskCount(&awsapplicationautoscaling.EnableScalingProps{
		MinCapacity: jsii.Number(cfg.MinCapacity()),
		MaxCapacity: jsii.Number(cfg.MaxCapacity()),
	})
	scaling.ScaleOnCpuUtilization(jsii.String("CpuScaling"), &awsecs.CpuUtilizationScalingProps{
		TargetUtilizationPercent: jsii.Number(70),
		ScaleInCooldown:          awscdk.Duration_Seconds(jsii.Number(120)),
		ScaleOutCooldown:         awscdk.Duration_Seconds(jsii.Number(60)),
	})

	service.AttachToApplicationTargetGroup(props.TargetGroup)
	serviceSG.AddIngressRule(props.AlbSG, awsec2.Port_Tcp(jsii.Number(ContainerPort)), jsii.String("HTTP from the ALB"), jsii.Bool(false))

	// Database and cache accept connections from the service tasks only.
	props.Database.Connections().AllowFrom(serviceSG, awsec2.Port_Tcp(jsii.Number(DatabasePort)), jsii.String("Allow testapp service to reach Postgres"))
	props.RedisSG.AddIngressRule(serviceSG, awsec2.Port_Tcp(jsii.Number(RedisPort)), jsii.String("Allow testapp service to reach Redis"), jsii.Bool(false))

	awscdk.NewCfnOutput(stack, jsii.String("ClusterName"), &awscdk.CfnOutputProps{
		Value:       cluster.ClusterName(),
		Description: jsii.String("ECS cluster name"),
		ExportName:  jsii.String(fmt.Sprintf("%s-%s-Cluster-Name", ExportNamePrefix, cfg.Environment)),
	})
	awscdk.NewCfnOutput(stack, jsii.String("ServiceName"), &awscdk.CfnOutputProps{
		Value:       service.ServiceName(),
		Description: jsii.String("Fargate service name"),
		ExportName:  jsii.String(fmt.Sprintf("%s-%s-Service-Name", ExportNamePrefix, cfg.Environment)),
	})

	return &EcsPlatformStack{
		Stack:     stack,
		Cluster:   cluster,
		TaskDef:   taskDef,
		Service:   service,
		ServiceSG: serviceSG,
		LogGroup:  logGroup,
	}
}

// createTaskDefinition builds the Fargate task definition for the Django
// container, wiring secrets from Secrets Manager and plain configuration
// through environment variables.
func createTaskDefinition(stack awscdk.Stack, props *EcsPlatformStackProps, logGroup awslogs.ILogGroup) awsecs.FargateTaskDefinition {
	cfg := props.Config

	taskRole := awsiam.NewRole(stack, jsii.String("TestAppTaskRole"), &awsiam.RoleProps{
		AssumedBy: awsiam.NewServicePrincipal(jsii.String("ecs-tasks.amazonaws.com"), nil),
	})
	tagAll(taskRole, cfg)
	props.AppSecret.GrantRead(taskRole, nil)
	props.DatabaseSecret.GrantRead(taskRole, nil)

	cpu, memory := 256.0, 512.0
	if cfg.IsProduction() {
		cpu, memory = 512.0, 1024.0
	}

	taskDef := awsecs.NewFargateTaskDefinition(stack, jsii.String("TestAppTaskDef"), &awsecs.FargateTaskDefinitionProps{
		Family:         jsii.String(fmt.Sprintf("testapp-%s", cfg.Environment)),
		Cpu:            jsii.Number(cpu),
		MemoryLimitMiB: jsii.Number(memory),
		TaskRole:       taskRole,
	})
	tagAll(taskDef, cfg)

	container := taskDef.AddContainer(jsii.String(ContainerName), &awsecs.ContainerDefinitionOptions{
		ContainerName: jsii.String(ContainerName),
		Image:         awsecs.ContainerImage_FromEcrRepository(props.Repository, jsii.String("latest")),
		Logging: awsecs.LogDrivers_AwsLogs(&awsecs.AwsLogDriverProps{
			StreamPrefix: jsii.String("testapp"),
			LogGroup:     logGroup,
		}),
		Environment: &map[string]*string{
			"ENVIRONMENT":         jsii.String(cfg.Environment),
			"DEBUG":               jsii.String("False"),
			"ALLOWED_HOSTS":       jsii.String(allowedHosts(cfg)),
			"DATABASE_SECRET_ARN": props.DatabaseSecret.SecretArn(),
			"DATABASE_HOST":       props.Database.ClusterEndpoint().Hostname(),
			"DATABASE_PORT":       jsii.String(fmt.Sprintf("%d", DatabasePort)),
			"DATABASE_NAME":       jsii.String(DatabaseName),
			"REDIS_URL":           jsii.String(fmt.Sprintf("redis://%s:%d/0", *props.RedisEndpoint, RedisPort)),
			"USE_WHITENOISE":      jsii.String("True"),
			"SECURE_SSL_REDIRECT": jsii.String(fmt.Sprintf("%t", cfg.EnableHTTPS)),
		},
		Secrets: &map[string]awsecs.Secret{
			"SECRET_KEY":       awsecs.Secret_FromSecretsManager(props.AppSecret, jsii.String("APPLICATION_SECRET_KEY")),
			"JWT_SECRET":       awsecs.Secret_FromSecretsManager(props.AppSecret, jsii.String("APPLICATION_JWT_SECRET")),
			"REQUIRED_SETTING": awsecs.Secret_FromSecretsManager(props.AppSecret, jsii.String("APPLICATION_REQUIRED_SETTING")),
			"SENTRY_DSN":       awsecs.Secret_FromSecretsManager(props.AppSecret, jsii.String("MONITORING_SENTRY_DSN")),
		},
	})

	container.AddPortMappings(&awsecs.PortMapping{
		ContainerPort: jsii.Number(ContainerPort),
	})

	return taskDef
}

func allowedHosts(cfg config.Config) string {
	if cfg.DomainName != "" {
		return cfg.DomainName
	}
	return "*"
}
