// Package stack declares the CDK stacks for the testapp infrastructure.
package stack

import (
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsec2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsecr"
	"github.com/aws/aws-cdk-go/awscdk/v2/awselasticache"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsrds"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssecretsmanager"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"testapp-infrastructure/config"
	"testapp-infrastructure/secrets"
)

// TestAppInfrastructureStackProps defines the properties for the base
// infrastructure stack.
type TestAppInfrastructureStackProps struct {
	awscdk.StackProps
	Config config.Config
	// Secrets is the flattened SOPS-loaded config used to seed the
	// application secret's initial value.
	Secrets map[string]string
}

// TestAppInfrastructureStack holds the shared resources consumed by the
// platform, application and security stacks.
type TestAppInfrastructureStack struct {
	awscdk.Stack
	Vpc            awsec2.IVpc
	Repository     awsecr.IRepository
	AppSecret      awssecretsmanager.ISecret
	Database       awsrds.IDatabaseCluster
	DatabaseSecret awssecretsmanager.ISecret
	RedisSG        awsec2.ISecurityGroup
	RedisEndpoint  *string
}

// infraResources carries the stack and config through the create helpers.
type infraResources struct {
	Stack  awscdk.Stack
	Config config.Config
}

// NewTestAppInfrastructureStack creates the VPC, ECR repository, application
// secret and data plane resources.
func NewTestAppInfrastructureStack(scope constructs.Construct, id string, props *TestAppInfrastructureStackProps) *TestAppInfrastructureStack {
	stack := awscdk.NewStack(scope, &id, &props.StackProps)
	resources := &infraResources{Stack: stack, Config: props.Config}

	vpc := createNetworkingResources(resources)
	repository := createRegistryResources(resources)
	appSecret := createApplicationSecret(resources, props.Secrets)
	database := createDatabaseResources(resources, vpc)
	cache := createCacheResources(resources, vpc)

	awscdk.NewCfnOutput(stack, jsii.String("VpcId"), &awscdk.CfnOutputProps{
		Value:       vpc.VpcId(),
		Description: jsii.String("VPC ID for the testapp environment"),
		ExportName:  jsii.String(fmt.Sprintf("%s-%s-Vpc-ID", ExportNamePrefix, props.Config.Environment)),
	})
	awscdk.NewCfnOutput(stack, jsii.String("EcrRepositoryUri"), &awscdk.CfnOutputProps{
		Value:       repository.RepositoryUri(),
		Description: jsii.String("ECR repository URI for the application container image"),
		ExportName:  jsii.String(fmt.Sprintf("%s-%s-ECR-Repository-URI", ExportNamePrefix, props.Config.Environment)),
	})
	awscdk.NewCfnOutput(stack, jsii.String("ApplicationSecretArn"), &awscdk.CfnOutputProps{
		Value:       appSecret.SecretArn(),
		Description: jsii.String("Secrets Manager ARN for the application secrets"),
		ExportName:  jsii.String(fmt.Sprintf("%s-%s-App-Secret-ARN", ExportNamePrefix, props.Config.Environment)),
	})
	awscdk.NewCfnOutput(stack, jsii.String("DatabaseEndpoint"), &awscdk.CfnOutputProps{
		Value:       database.cluster.ClusterEndpoint().Hostname(),
		Description: jsii.String("Aurora PostgreSQL writer endpoint"),
		ExportName:  jsii.String(fmt.Sprintf("%s-%s-DB-Endpoint", ExportNamePrefix, props.Config.Environment)),
	})
	awscdk.NewCfnOutput(stack, jsii.String("RedisEndpoint"), &awscdk.CfnOutputProps{
		Value:       cache.endpoint,
		Description: jsii.String("ElastiCache Redis primary endpoint"),
		ExportName:  jsii.String(fmt.Sprintf("%s-%s-Redis-Endpoint", ExportNamePrefix, props.Config.Environment)),
	})

	return &TestAppInfrastructureStack{
		Stack:          stack,
		Vpc:            vpc,
		Repository:     repository,
		AppSecret:      appSecret,
		Database:       database.cluster,
		DatabaseSecret: database.credentialsSecret,
		RedisSG:        cache.securityGroup,
		RedisEndpoint:  cache.endpoint,
	}
}

// createNetworkingResources creates the VPC. Production gets private
// subnets behind a NAT gateway; other environments run everything in
// public subnets to avoid NAT cost.
func createNetworkingResources(resources *infraResources) awsec2.IVpc {
	cfg := resources.Config

	subnets := []*awsec2.SubnetConfiguration{
		{
			CidrMask:   jsii.Number(24),
			Name:       jsii.String("Public"),
			SubnetType: awsec2.SubnetType_PUBLIC,
		},
	}
	if cfg.IsProduction() {
		subnets = append(subnets, &awsec2.SubnetConfiguration{
			CidrMask:   jsii.Number(24),
			Name:       jsii.String("Private"),
			SubnetType: awsec2.SubnetType_PRIVATE_WITH_EGRESS,
		})
	}

	vpc := awsec2.NewVpc(resources.Stack, jsii.String("TestAppVpc"), &awsec2.VpcProps{
		MaxAzs:              jsii.Number(2),
		NatGateways:         jsii.Number(cfg.NatGateways()),
		SubnetConfiguration: &subnets,
	})
	tagAll(vpc, cfg)

	vpc.AddGatewayEndpoint(jsii.String("S3Endpoint"), &awsec2.GatewayVpcEndpointOptions{
		Service: awsec2.GatewayVpcEndpointAwsService_S3(),
	})
	if cfg.IsProduction() {
		// Tasks in private subnets pull images through VPC endpoints.
		vpc.AddInterfaceEndpoint(jsii.String("EcrApiEndpoint"), &awsec2.InterfaceVpcEndpointOptions{
			Service: awsec2.InterfaceVpcEndpointAwsService_ECR(),
		})
		vpc.AddInterfaceEndpoint(jsii.String("EcrDockerEndpoint"), &awsec2.InterfaceVpcEndpointOptions{
			Service: awsec2.InterfaceVpcEndpointAwsService_ECR_DOCKER(),
		})
	}

	if !cfg.IsProduction() {
		vpc.ApplyRemovalPolicy(awscdk.RemovalPolicy_DESTROY)
	}
	return vpc
}

// createRegistryResources creates the ECR repository for application images.
func createRegistryResources(resources *infraResources) awsecr.IRepository {
	cfg := resources.Config

	props := &awsecr.RepositoryProps{
		RepositoryName:  jsii.String(fmt.Sprintf("%s-%s", EcrRepositoryName, cfg.Environment)),
		ImageScanOnPush: jsii.Bool(true),
		RemovalPolicy:   cfg.RemovalPolicy(),
		LifecycleRules: &[]*awsecr.LifecycleRule{
			{
				Description:   jsii.String("Keep only the most recent images"),
				MaxImageCount: jsii.Number(10),
			},
		},
	}
	// EmptyOnDelete is only valid together with a DESTROY policy.
	if !cfg.IsProduction() {
		props.EmptyOnDelete = jsii.Bool(true)
	}

	repository := awsecr.NewRepository(resources.Stack, jsii.String("TestAppEcrRepo"), props)
	tagAll(repository, cfg)
	return repository
}

// createApplicationSecret seeds the Secrets Manager secret with the
// flattened SOPS-loaded values. Secrets Manager owns the value after
// creation; subsequent rotations happen outside this stack.
func createApplicationSecret(resources *infraResources, flat map[string]string) awssecretsmanager.ISecret {
	cfg := resources.Config

	values := map[string]awscdk.SecretValue{}
	for _, key := range secrets.SortedKeys(flat) {
		values[key] = awscdk.SecretValue_UnsafePlainText(jsii.String(flat[key]))
	}

	secret := awssecretsmanager.NewSecret(resources.Stack, jsii.String("TestAppSecret"), &awssecretsmanager.SecretProps{
		SecretName:        jsii.String(fmt.Sprintf("%s/%s/application", SecretNamePrefix, cfg.Environment)),
		Description:       jsii.String("Application secrets loaded from the SOPS-encrypted secrets file"),
		SecretObjectValue: &values,
		RemovalPolicy:     cfg.RemovalPolicy(),
	})
	tagAll(secret, cfg)
	return secret
}

// databaseResources holds the Aurora cluster and its generated credentials.
type databaseResources struct {
	cluster           awsrds.IDatabaseCluster
	credentialsSecret awssecretsmanager.ISecret
}

// createDatabaseResources creates the Aurora PostgreSQL Serverless v2
// cluster backing DATABASE_URL.
func createDatabaseResources(resources *infraResources, vpc awsec2.IVpc) *databaseResources {
	cfg := resources.Config

	credentialsSecret := awssecretsmanager.NewSecret(resources.Stack, jsii.String("TestAppDbSecret"), &awssecretsmanager.SecretProps{
		SecretName: jsii.String(fmt.Sprintf("%s/%s/database", SecretNamePrefix, cfg.Environment)),
		GenerateSecretString: &awssecretsmanager.SecretStringGenerator{
			SecretStringTemplate: jsii.String("{\"username\": \"testapp\"}"),
			GenerateStringKey:    jsii.String("password"),
			ExcludeCharacters:    jsii.String("\"@/\\"),
		},
		RemovalPolicy: cfg.RemovalPolicy(),
	})
	tagAll(credentialsSecret, cfg)

	subnetType := awsec2.SubnetType_PUBLIC
	if cfg.IsProduction() {
		subnetType = awsec2.SubnetType_PRIVATE_WITH_EGRESS
	}

	cluster := awsrds.NewDatabaseCluster(resources.Stack, jsii.String("TestAppDatabase"), &awsrds.DatabaseClusterProps{
		Engine: awsrds.DatabaseClusterEngine_AuroraPostgres(&awsrds.AuroraPostgresClusterEngineProps{
			Version: awsrds.AuroraPostgresEngineVersion_VER_15_12(),
		}),
		Writer: awsrds.ClusterInstance_ServerlessV2(jsii.String("writer"), &awsrds.ServerlessV2ClusterInstanceProps{
			AutoMinorVersionUpgrade: jsii.Bool(true),
		}),
		Vpc: vpc,
		VpcSubnets: &awsec2.SubnetSelection{
			SubnetType: subnetType,
		},
		DefaultDatabaseName:     jsii.String(DatabaseName),
		Port:                    jsii.Number(DatabasePort),
		Credentials:             awsrds.Credentials_FromSecret(credentialsSecret, jsii.String("testapp")),
		ClusterIdentifier:       jsii.String(fmt.Sprintf("testapp-%s", cfg.Environment)),
		RemovalPolicy:           cfg.RemovalPolicy(),
		DeletionProtection:      jsii.Bool(cfg.IsProduction()),
		ServerlessV2MinCapacity: jsii.Number(0.5),
		ServerlessV2MaxCapacity: jsii.Number(4.0),
	})
	tagAll(cluster, cfg)

	return &databaseResources{
		cluster:           cluster,
		credentialsSecret: credentialsSecret,
	}
}

// cacheResources holds the Redis replication group endpoint and its
// security group.
type cacheResources struct {
	endpoint      *string
	securityGroup awsec2.ISecurityGroup
}

// createCacheResources creates the ElastiCache Redis backing REDIS_URL.
// Production runs a two-node replication group with automatic failover.
func createCacheResources(resources *infraResources, vpc awsec2.IVpc) *cacheResources {
	cfg := resources.Config

	securityGroup := awsec2.NewSecurityGroup(resources.Stack, jsii.String("RedisSG"), &awsec2.SecurityGroupProps{
		Vpc:              vpc,
		Description:      jsii.String("Redis access from the application service"),
		AllowAllOutbound: jsii.Bool(false),
	})
	tagAll(securityGroup, cfg)

	subnetIDs := vpc.SelectSubnets(&awsec2.SubnetSelection{SubnetType: awsec2.SubnetType_PUBLIC}).SubnetIds
	if cfg.IsProduction() {
		subnetIDs = vpc.SelectSubnets(&awsec2.SubnetSelection{SubnetType: awsec2.SubnetType_PRIVATE_WITH_EGRESS}).SubnetIds
	}

	subnetGroup := awselasticache.NewCfnSubnetGroup(resources.Stack, jsii.String("RedisSubnetGroup"), &awselasticache.CfnSubnetGroupProps{
		Description: jsii.String("Subnets for the testapp Redis replication group"),
		SubnetIds:   subnetIDs,
	})

	nodeCount := 1.0
	automaticFailover := false
	if cfg.IsProduction() {
		nodeCount = 2.0
		automaticFailover = true
	}

	redis := awselasticache.NewCfnReplicationGroup(resources.Stack, jsii.String("TestAppRedis"), &awselasticache.CfnReplicationGroupProps{
		ReplicationGroupDescription: jsii.String("Cache and session store for testapp"),
		Engine:                      jsii.String("redis"),
		CacheNodeType:               jsii.String("cache.t4g.micro"),
		NumCacheClusters:            jsii.Number(nodeCount),
		AutomaticFailoverEnabled:    jsii.Bool(automaticFailover),
		AtRestEncryptionEnabled:     jsii.Bool(true),
		TransitEncryptionEnabled:    jsii.Bool(false),
		Port:                        jsii.Number(RedisPort),
		CacheSubnetGroupName:        subnetGroup.Ref(),
		SecurityGroupIds:            &[]*string{securityGroup.SecurityGroupId()},
	})
	redis.AddDependency(subnetGroup)

	return &cacheResources{
		endpoint:      redis.AttrPrimaryEndPointAddress(),
		securityGroup: securityGroup,
	}
}

// tagAll applies the standard project and environment tags.
func tagAll(scope constructs.IConstruct, cfg config.Config) {
	awscdk.Tags_Of(scope).Add(jsii.String(DefaultResourceTagKey), jsii.String(DefaultResourceTagValue), nil)
	awscdk.Tags_Of(scope).Add(jsii.String(EnvironmentTagKey), jsii.String(cfg.Environment), nil)
}
