package stack

import (
	"testing"

	"github.com/aws/aws-cdk-go/awscdk/v2/assertions"
	"github.com/aws/jsii-runtime-go"
	"github.com/stretchr/testify/assert"
)

func TestInfrastructureStackDevRetainsNothing(t *testing.T) {
	app := newTestApp()
	infra := NewTestAppInfrastructureStack(app, "Infra", &TestAppInfrastructureStackProps{
		Config:  devConfig(),
		Secrets: sampleSecrets(),
	})
	template := assertions.Template_FromStack(infra.Stack, nil)

	template.HasResource(jsii.String("AWS::ECR::Repository"), map[string]interface{}{
		"DeletionPolicy": "Delete",
	})
	template.HasResourceProperties(jsii.String("AWS::ECR::Repository"), map[string]interface{}{
		"RepositoryName": "testapp-dev",
		"EmptyOnDelete":  true,
		"ImageScanningConfiguration": map[string]interface{}{
			"ScanOnPush": true,
		},
	})
	template.HasResource(jsii.String("AWS::SecretsManager::Secret"), map[string]interface{}{
		"DeletionPolicy": "Delete",
		"Properties": map[string]interface{}{
			"Name": "testapp/dev/application",
		},
	})
}

func TestInfrastructureStackProductionRetainsData(t *testing.T) {
	app := newTestApp()
	infra := NewTestAppInfrastructureStack(app, "Infra", &TestAppInfrastructureStackProps{
		Config:  prodConfig(),
		Secrets: sampleSecrets(),
	})
	template := assertions.Template_FromStack(infra.Stack, nil)

	template.HasResource(jsii.String("AWS::ECR::Repository"), map[string]interface{}{
		"DeletionPolicy": "Retain",
	})
	template.HasResource(jsii.String("AWS::SecretsManager::Secret"), map[string]interface{}{
		"DeletionPolicy": "Retain",
		"Properties": map[string]interface{}{
			"Name": "testapp/production/application",
		},
	})
	template.HasResourceProperties(jsii.String("AWS::RDS::DBCluster"), map[string]interface{}{
		"DeletionProtection": true,
	})
}

func TestInfrastructureStackNetworking(t *testing.T) {
	app := newTestApp()
	infra := NewTestAppInfrastructureStack(app, "Infra", &TestAppInfrastructureStackProps{
		Config:  devConfig(),
		Secrets: sampleSecrets(),
	})
	template := assertions.Template_FromStack(infra.Stack, nil)

	// Dev runs in public subnets only, without NAT gateways.
	template.ResourceCountIs(jsii.String("AWS::EC2::NatGateway"), jsii.Number(0))
	template.ResourceCountIs(jsii.String("AWS::EC2::Subnet"), jsii.Number(2))
	template.HasResourceProperties(jsii.String("AWS::EC2::VPCEndpoint"), map[string]interface{}{
		"VpcEndpointType": "Gateway",
	})
}

func TestInfrastructureStackProductionNetworking(t *testing.T) {
	app := newTestApp()
	infra := NewTestAppInfrastructureStack(app, "Infra", &TestAppInfrastructureStackProps{
		Config:  prodConfig(),
		Secrets: sampleSecrets(),
	})
	template := assertions.Template_FromStack(infra.Stack, nil)

	template.ResourceCountIs(jsii.String("AWS::EC2::NatGateway"), jsii.Number(1))
	template.ResourceCountIs(jsii.String("AWS::EC2::Subnet"), jsii.Number(4))
	// ECR API and docker registry interface endpoints for image pulls.
	template.ResourceCountIs(jsii.String("AWS::EC2::VPCEndpoint"), jsii.Number(3))
}

func TestInfrastructureStackDataPlane(t *testing.T) {
	app := newTestApp()
	infra := NewTestAppInfrastructureStack(app, "Infra", &TestAppInfrastructureStackProps{
		Config:  devConfig(),
		Secrets: sampleSecrets(),
	})
	template := assertions.Template_FromStack(infra.Stack, nil)

	template.HasResourceProperties(jsii.String("AWS::RDS::DBCluster"), map[string]interface{}{
		"Engine":              "aurora-postgresql",
		"DatabaseName":        DatabaseName,
		"DBClusterIdentifier": "testapp-dev",
		"ServerlessV2ScalingConfiguration": map[string]interface{}{
			"MinCapacity": 0.5,
			"MaxCapacity": 4,
		},
	})
	template.HasResourceProperties(jsii.String("AWS::ElastiCache::ReplicationGroup"), map[string]interface{}{
		"Engine":                   "redis",
		"CacheNodeType":            "cache.t4g.micro",
		"NumCacheClusters":         1,
		"AutomaticFailoverEnabled": false,
		"AtRestEncryptionEnabled":  true,
	})
}

func TestInfrastructureStackProductionCacheFailsOver(t *testing.T) {
	app := newTestApp()
	infra := NewTestAppInfrastructureStack(app, "Infra", &TestAppInfrastructureStackProps{
		Config:  prodConfig(),
		Secrets: sampleSecrets(),
	})
	template := assertions.Template_FromStack(infra.Stack, nil)

	template.HasResourceProperties(jsii.String("AWS::ElastiCache::ReplicationGroup"), map[string]interface{}{
		"NumCacheClusters":         2,
		"AutomaticFailoverEnabled": true,
	})
}

func TestInfrastructureStackTagsResources(t *testing.T) {
	app := newTestApp()
	infra := NewTestAppInfrastructureStack(app, "Infra", &TestAppInfrastructureStackProps{
		Config:  devConfig(),
		Secrets: sampleSecrets(),
	})
	template := assertions.Template_FromStack(infra.Stack, nil)

	template.HasResourceProperties(jsii.String("AWS::EC2::VPC"), map[string]interface{}{
		"Tags": assertions.Match_ArrayWith(&[]interface{}{
			map[string]interface{}{"Key": EnvironmentTagKey, "Value": "dev"},
			map[string]interface{}{"Key": DefaultResourceTagKey, "Value": DefaultResourceTagValue},
		}),
	})
}

func TestInfrastructureStackExposesSharedResources(t *testing.T) {
	app := newTestApp()
	infra := NewTestAppInfrastructureStack(app, "Infra", &TestAppInfrastructureStackProps{
		Config:  devConfig(),
		Secrets: sampleSecrets(),
	})

	assert.NotNil(t, infra.Vpc)
	assert.NotNil(t, infra.Repository)
	assert.NotNil(t, infra.AppSecret)
	assert.NotNil(t, infra.Database)
	assert.NotNil(t, infra.DatabaseSecret)
	assert.NotNil(t, infra.RedisSG)
	assert.NotNil(t, infra.RedisEndpoint)
}
