package stack

import (
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscloudtrail"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsconfig"
	"github.com/aws/aws-cdk-go/awscdk/v2/awselasticloadbalancingv2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	"github.com/aws/aws-cdk-go/awscdk/v2/awswafv2"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"testapp-infrastructure/config"
)

// SecurityPolicyStackProps defines the properties for the security stack.
type SecurityPolicyStackProps struct {
	awscdk.StackProps
	Config       config.Config
	LoadBalancer awselasticloadbalancingv2.ApplicationLoadBalancer
}

// SecurityPolicyStack holds the WAF Web ACL and the compliance recording
// resources.
type SecurityPolicyStack struct {
	awscdk.Stack
	WebACL awswafv2.CfnWebACL
	Trail  awscloudtrail.Trail
}

// NewSecurityPolicyStack creates the WAF Web ACL attached to the ALB plus
// CloudTrail and AWS Config compliance recording.
func NewSecurityPolicyStack(scope constructs.Construct, id string, props *SecurityPolicyStackProps) *SecurityPolicyStack {
	stack := awscdk.NewStack(scope, &id, &props.StackProps)
	cfg := props.Config

	webACL := createWebACL(stack, cfg)
	awswafv2.NewCfnWebACLAssociation(stack, jsii.String("TestAppWebACLAssociation"), &awswafv2.CfnWebACLAssociationProps{
		ResourceArn: props.LoadBalancer.LoadBalancerArn(),
		WebAclArn:   webACL.AttrArn(),
	})

	trail := createAuditTrail(stack, cfg)
	createComplianceRecording(stack, cfg)

	awscdk.NewCfnOutput(stack, jsii.String("WebAclArn"), &awscdk.CfnOutputProps{
		Value:       webACL.AttrArn(),
		Description: jsii.String("WAF Web ACL ARN attached to the load balancer"),
		ExportName:  jsii.String(fmt.Sprintf("%s-%s-WebACL-ARN", ExportNamePrefix, cfg.Environment)),
	})

	return &SecurityPolicyStack{
		Stack:  stack,
		WebACL: webACL,
		Trail:  trail,
	}
}

// createWebACL builds the regional Web ACL: IP rate limiting with the
// per-environment threshold, a geo block list and the AWS common rule set.
func createWebACL(stack awscdk.Stack, cfg config.Config) awswafv2.CfnWebACL {
	blockedCountries := make([]*string, len(BlockedCountryCodes))
	for i, code := range BlockedCountryCodes {
		blockedCountries[i] = jsii.String(code)
	}

	rules := []interface{}{
		&awswafv2.CfnWebACL_RuleProperty{
			Name:     jsii.String("RateLimitRule"),
			Priority: jsii.Number(1),
			Action: &awswafv2.CfnWebACL_RuleActionProperty{
				Block: &awswafv2.CfnWebACL_BlockActionProperty{},
			},
			Statement: &awswafv2.CfnWebACL_StatementProperty{
				RateBasedStatement: &awswafv2.CfnWebACL_RateBasedStatementProperty{
					Limit:            jsii.Number(cfg.RateLimitThreshold()),
					AggregateKeyType: jsii.String("IP"),
				},
			},
			VisibilityConfig: &awswafv2.CfnWebACL_VisibilityConfigProperty{
				CloudWatchMetricsEnabled: jsii.Bool(true),
				MetricName:               jsii.String("RateLimitRule"),
				SampledRequestsEnabled:   jsii.Bool(true),
			},
		},
		&awswafv2.CfnWebACL_RuleProperty{
			Name:     jsii.String("GeoBlockRule"),
			Priority: jsii.Number(2),
			Action: &awswafv2.CfnWebACL_RuleActionProperty{
				Block: &awswafv2.CfnWebACL_BlockActionProperty{},
			},
			Statement: &awswafv2.CfnWebACL_StatementProperty{
				GeoMatchStatement: &awswafv2.CfnWebACL_GeoMatchStatementProperty{
					CountryCodes: &blockedCountries,
				},
			},
			VisibilityConfig: &awswafv2.CfnWebACL_VisibilityConfigProperty{
				CloudWatchMetricsEnabled: jsii.Bool(true),
				MetricName:               jsii.String("GeoBlockRule"),
				SampledRequestsEnabled:   jsii.Bool(true),
			},
		},
		&awswafv2.CfnWebACL_RuleProperty{
			Name:     jsii.String("AWSManagedCommonRuleSet"),
			Priority: jsii.Number(3),
			OverrideAction: &awswafv2.CfnWebACL_OverrideActionProperty{
				None: map[string]interface{}{},
			},
			Statement: &awswafv2.CfnWebACL_StatementProperty{
				ManagedRuleGroupStatement: &awswafv2.CfnWebACL_ManagedRuleGroupStatementProperty{
					VendorName: jsii.String("AWS"),
					Name:       jsii.String("AWSManagedRulesCommonRuleSet"),
				},
			},
			VisibilityConfig: &awswafv2.CfnWebACL_VisibilityConfigProperty{
				CloudWatchMetricsEnabled: jsii.Bool(true),
				MetricName:               jsii.String("AWSManagedCommonRuleSet"),
				SampledRequestsEnabled:   jsii.Bool(true),
			},
		},
	}

	webACL := awswafv2.NewCfnWebACL(stack, jsii.String("TestAppWebACL"), &awswafv2.CfnWebACLProps{
		Name:  jsii.String(fmt.Sprintf("testapp-%s", cfg.Environment)),
		Scope: jsii.String("REGIONAL"),
		DefaultAction: &awswafv2.CfnWebACL_DefaultActionProperty{
			Allow: &awswafv2.CfnWebACL_AllowActionProperty{},
		},
		VisibilityConfig: &awswafv2.CfnWebACL_VisibilityConfigProperty{
			CloudWatchMetricsEnabled: jsii.Bool(true),
			MetricName:               jsii.String(fmt.Sprintf("testapp-%s", cfg.Environment)),
			SampledRequestsEnabled:   jsii.Bool(true),
		},
		Rules: &rules,
	})
	return webACL
}

// createAuditTrail records management events into an S3 bucket and
// CloudWatch Logs with the per-environment retention.
func createAuditTrail(stack awscdk.Stack, cfg config.Config) awscloudtrail.Trail {
	expiration := 30.0
	if cfg.IsProduction() {
		expiration = 365.0
	}

	trailBucket := awss3.NewBucket(stack, jsii.String("TestAppTrailBucket"), &awss3.BucketProps{
		BlockPublicAccess: awss3.BlockPublicAccess_BLOCK_ALL(),
		Encryption:        awss3.BucketEncryption_S3_MANAGED,
		EnforceSSL:        jsii.Bool(true),
		RemovalPolicy:     cfg.RemovalPolicy(),
		AutoDeleteObjects: jsii.Bool(!cfg.IsProduction()),
		LifecycleRules: &[]*awss3.LifecycleRule{
			{
				Expiration: awscdk.Duration_Days(jsii.Number(expiration)),
			},
		},
	})
	tagAll(trailBucket, cfg)

	trail := awscloudtrail.NewTrail(stack, jsii.String("TestAppTrail"), &awscloudtrail.TrailProps{
		TrailName:                  jsii.String(fmt.Sprintf("testapp-%s", cfg.Environment)),
		Bucket:                     trailBucket,
		SendToCloudWatchLogs:       jsii.Bool(true),
		CloudWatchLogsRetention:    cfg.LogRetention(),
		IncludeGlobalServiceEvents: jsii.Bool(true),
		EnableFileValidation:       jsii.Bool(true),
	})
	tagAll(trail, cfg)
	return trail
}

// createComplianceRecording sets up the AWS Config recorder, delivery
// channel and the baseline managed rules.
func createComplianceRecording(stack awscdk.Stack, cfg config.Config) {
	configBucket := awss3.NewBucket(stack, jsii.String("TestAppConfigBucket"), &awss3.BucketProps{
		BlockPublicAccess: awss3.BlockPublicAccess_BLOCK_ALL(),
		Encryption:        awss3.BucketEncryption_S3_MANAGED,
		EnforceSSL:        jsii.Bool(true),
		RemovalPolicy:     cfg.RemovalPolicy(),
		AutoDeleteObjects: jsii.Bool(!cfg.IsProduction()),
	})
	tagAll(configBucket, cfg)

	recorderRole := awsiam.NewRole(stack, jsii.String("ConfigRecorderRole"), &awsiam.RoleProps{
		AssumedBy: awsiam.NewServicePrincipal(jsii.String("config.amazonaws.com"), nil),
		ManagedPolicies: &[]awsiam.IManagedPolicy{
			awsiam.ManagedPolicy_FromAwsManagedPolicyName(jsii.String("service-role/AWS_ConfigRole")),
		},
	})
	tagAll(recorderRole, cfg)
	configBucket.GrantReadWrite(recorderRole, nil)

	recorder := awsconfig.NewCfnConfigurationRecorder(stack, jsii.String("TestAppConfigRecorder"), &awsconfig.CfnConfigurationRecorderProps{
		RoleArn: recorderRole.RoleArn(),
		RecordingGroup: &awsconfig.CfnConfigurationRecorder_RecordingGroupProperty{
			AllSupported:               jsii.Bool(true),
			IncludeGlobalResourceTypes: jsii.Bool(true),
		},
	})

	channel := awsconfig.NewCfnDeliveryChannel(stack, jsii.String("TestAppConfigDeliveryChannel"), &awsconfig.CfnDeliveryChannelProps{
		S3BucketName: configBucket.BucketName(),
	})
	channel.AddDependency(recorder)

	// Rules cannot evaluate before the recorder exists.
	for id, identifier := range map[string]*string{
		"CloudTrailEnabledRule":   awsconfig.ManagedRuleIdentifiers_CLOUD_TRAIL_ENABLED(),
		"IncomingSSHDisabledRule": awsconfig.ManagedRuleIdentifiers_EC2_SECURITY_GROUPS_INCOMING_SSH_DISABLED(),
		"S3PublicReadRule":        awsconfig.ManagedRuleIdentifiers_S3_BUCKET_PUBLIC_READ_PROHIBITED(),
	} {
		rule := awsconfig.NewManagedRule(stack, jsii.String(id), &awsconfig.ManagedRuleProps{
			Identifier: identifier,
		})
		rule.Node().AddDependency(recorder)
	}
}
