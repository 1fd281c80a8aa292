package stack

import (
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscertificatemanager"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsec2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awselasticloadbalancingv2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsroute53"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsroute53targets"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"testapp-infrastructure/config"
)

// ApplicationStackProps defines the properties for the load balancer stack.
type ApplicationStackProps struct {
	awscdk.StackProps
	Config config.Config
	Vpc    awsec2.IVpc
	// Certificate is used for the HTTPS listener when set. When nil and a
	// HostedZone is supplied, a DNS-validated certificate is created.
	Certificate awscertificatemanager.ICertificate
	HostedZone  awsroute53.IHostedZone
}

// ApplicationStack holds the ALB and its target group. The Fargate service
// attaches itself to TargetGroup from the platform stack, which keeps the
// cross-stack dependency one-directional.
type ApplicationStack struct {
	awscdk.Stack
	LoadBalancer  awselasticloadbalancingv2.ApplicationLoadBalancer
	AlbSG         awsec2.ISecurityGroup
	TargetGroup   awselasticloadbalancingv2.ApplicationTargetGroup
	HTTPSListener awselasticloadbalancingv2.ApplicationListener
}

// NewApplicationStack creates the internet-facing ALB in front of the
// Fargate service. Panics during synthesis when HTTPS is requested without
// a domain name or without a certificate.
func NewApplicationStack(scope constructs.Construct, id string, props *ApplicationStackProps) *ApplicationStack {
	cfg := props.Config
	if cfg.EnableHTTPS && cfg.DomainName == "" {
		panic("enableHTTPS requires a domainName")
	}

	stack := awscdk.NewStack(scope, &id, &props.StackProps)

	albSG := awsec2.NewSecurityGroup(stack, jsii.String("TestAppAlbSG"), &awsec2.SecurityGroupProps{
		Vpc:              props.Vpc,
		Description:      jsii.String("Public HTTP/HTTPS access to the testapp load balancer"),
		AllowAllOutbound: jsii.Bool(true),
	})
	albSG.AddIngressRule(awsec2.Peer_AnyIpv4(), awsec2.Port_Tcp(jsii.Number(80)), jsii.String("HTTP from anywhere"), jsii.Bool(false))
	if cfg.EnableHTTPS {
		albSG.AddIngressRule(awsec2.Peer_AnyIpv4(), awsec2.Port_Tcp(jsii.Number(443)), jsii.String("HTTPS from anywhere"), jsii.Bool(false))
	}
	tagAll(albSG, cfg)

	loadBalancer := awselasticloadbalancingv2.NewApplicationLoadBalancer(stack, jsii.String("TestAppALB"), &awselasticloadbalancingv2.ApplicationLoadBalancerProps{
		Vpc:            props.Vpc,
		InternetFacing: jsii.Bool(true),
		SecurityGroup:  albSG,
		VpcSubnets: &awsec2.SubnetSelection{
			SubnetType: awsec2.SubnetType_PUBLIC,
		},
	})
	tagAll(loadBalancer, cfg)
	if !cfg.IsProduction() {
		loadBalancer.ApplyRemovalPolicy(awscdk.RemovalPolicy_DESTROY)
	}

	targetGroup := awselasticloadbalancingv2.NewApplicationTargetGroup(stack, jsii.String("TestAppTargetGroup"), &awselasticloadbalancingv2.ApplicationTargetGroupProps{
		Vpc:        props.Vpc,
		Port:       jsii.Number(ContainerPort),
		Protocol:   awselasticloadbalancingv2.ApplicationProtocol_HTTP,
		TargetType: awselasticloadbalancingv2.TargetType_IP,
		HealthCheck: &awselasticloadbalancingv2.HealthCheck{
			Path:                    jsii.String(HealthCheckPath),
			HealthyHttpCodes:        jsii.String("200"),
			HealthyThresholdCount:   jsii.Number(2),
			UnhealthyThresholdCount: jsii.Number(3),
			Timeout:                 awscdk.Duration_Seconds(jsii.Number(5)),
			Interval:                awscdk.Duration_Seconds(jsii.Number(30)),
		},
	})
	tagAll(targetGroup, cfg)

	var httpsListener awselasticloadbalancingv2.ApplicationListener
	if cfg.EnableHTTPS {
		httpsListener = createHTTPSListeners(stack, props, loadBalancer, targetGroup)
	} else {
		loadBalancer.AddListener(jsii.String("HttpListener"), &awselasticloadbalancingv2.BaseApplicationListenerProps{
			Port:     jsii.Number(80),
			Protocol: awselasticloadbalancingv2.ApplicationProtocol_HTTP,
			DefaultTargetGroups: &[]awselasticloadbalancingv2.IApplicationTargetGroup{
				targetGroup,
			},
		})
	}

	awscdk.NewCfnOutput(stack, jsii.String("LoadBalancerDNS"), &awscdk.CfnOutputProps{
		Value:       loadBalancer.LoadBalancerDnsName(),
		Description: jsii.String("Public DNS name of the application load balancer"),
		ExportName:  jsii.String(fmt.Sprintf("%s-%s-ALB-DNS", ExportNamePrefix, cfg.Environment)),
	})

	return &ApplicationStack{
		Stack:         stack,
		LoadBalancer:  loadBalancer,
		AlbSG:         albSG,
		TargetGroup:   targetGroup,
		HTTPSListener: httpsListener,
	}
}

// createHTTPSListeners adds the HTTPS listener and the HTTP->HTTPS redirect.
// The certificate comes from props, or is created against the hosted zone.
func createHTTPSListeners(stack awscdk.Stack, props *ApplicationStackProps, loadBalancer awselasticloadbalancingv2.ApplicationLoadBalancer, targetGroup awselasticloadbalancingv2.ApplicationTargetGroup) awselasticloadbalancingv2.ApplicationListener {
	cfg := props.Config

	certificate := props.Certificate
	if certificate == nil && props.HostedZone != nil {
		certificate = awscertificatemanager.NewCertificate(stack, jsii.String("TestAppCertificate"), &awscertificatemanager.CertificateProps{
			DomainName: jsii.String(cfg.DomainName),
			Validation: awscertificatemanager.CertificateValidation_FromDns(props.HostedZone),
		})
		tagAll(certificate, cfg)
	}
	if certificate == nil {
		panic("HTTPS listener requires a certificate")
	}

	httpsListener := loadBalancer.AddListener(jsii.String("HttpsListener"), &awselasticloadbalancingv2.BaseApplicationListenerProps{
		Port:     jsii.Number(443),
		Protocol: awselasticloadbalancingv2.ApplicationProtocol_HTTPS,
		Certificates: &[]awselasticloadbalancingv2.IListenerCertificate{
			awselasticloadbalancingv2.ListenerCertificate_FromCertificateManager(certificate),
		},
		DefaultTargetGroups: &[]awselasticloadbalancingv2.IApplicationTargetGroup{
			targetGroup,
		},
	})

	loadBalancer.AddListener(jsii.String("HttpRedirectListener"), &awselasticloadbalancingv2.BaseApplicationListenerProps{
		Port:     jsii.Number(80),
		Protocol: awselasticloadbalancingv2.ApplicationProtocol_HTTP,
		DefaultAction: awselasticloadbalancingv2.ListenerAction_Redirect(&awselasticloadbalancingv2.RedirectOptions{
			Protocol:  jsii.String("HTTPS"),
			Port:      jsii.String("443"),
			Permanent: jsii.Bool(true),
		}),
	})

	if props.HostedZone != nil {
		awsroute53.NewARecord(stack, jsii.String("TestAppAliasRecord"), &awsroute53.ARecordProps{
			Zone:       props.HostedZone,
			RecordName: jsii.String(cfg.DomainName),
			Target:     awsroute53.RecordTarget_FromAlias(awsroute53targets.NewLoadBalancerTarget(loadBalancer, nil)),
		})
	}

	return httpsListener
}
