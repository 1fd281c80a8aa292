// Package config resolves deployment environment settings for the testapp stacks.
package config

import (
	"errors"
	"os"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslogs"
)

// ProductionEnvironment is the environment name that enables retention,
// deletion protection and the larger scaling envelope.
const ProductionEnvironment = "production"

// Config holds the per-environment knobs consumed by the stack constructors.
type Config struct {
	// Environment is the deployment environment name, e.g. "production" or "dev".
	Environment string
	// EnableHTTPS adds an HTTPS listener and an HTTP->HTTPS redirect to the ALB.
	EnableHTTPS bool
	// DomainName is the public DNS name served by the ALB. Required when
	// EnableHTTPS is set.
	DomainName string
	// AlarmWebhookURL is the endpoint the alarm notifier posts to. Optional.
	AlarmWebhookURL string
}

// Validate reports construction-time misconfiguration before any resource
// is declared.
func (c Config) Validate() error {
	if c.Environment == "" {
		return errors.New("environment name must not be empty")
	}
	if c.EnableHTTPS && c.DomainName == "" {
		return errors.New("enableHTTPS requires a domainName")
	}
	return nil
}

// IsProduction reports whether this configuration targets production.
func (c Config) IsProduction() bool {
	return c.Environment == ProductionEnvironment
}

// LogRetention is 30 days in production and 7 days everywhere else.
func (c Config) LogRetention() awslogs.RetentionDays {
	if c.IsProduction() {
		return awslogs.RetentionDays_ONE_MONTH
	}
	return awslogs.RetentionDays_ONE_WEEK
}

// RemovalPolicy retains stateful resources (ECR, secrets, trail bucket) in
// production and destroys them everywhere else.
func (c Config) RemovalPolicy() awscdk.RemovalPolicy {
	if c.IsProduction() {
		return awscdk.RemovalPolicy_RETAIN
	}
	return awscdk.RemovalPolicy_DESTROY
}

// RateLimitThreshold is the WAF rate-based rule limit per 5-minute window.
func (c Config) RateLimitThreshold() float64 {
	if c.IsProduction() {
		return 2000
	}
	return 1000
}

// DesiredCount is the Fargate service task count at deploy time.
func (c Config) DesiredCount() float64 {
	if c.IsProduction() {
		return 2
	}
	return 1
}

// MinCapacity is the autoscaling floor for the Fargate service.
func (c Config) MinCapacity() float64 {
	if c.IsProduction() {
		return 2
	}
	return 1
}

// MaxCapacity is the autoscaling ceiling for the Fargate service.
func (c Config) MaxCapacity() float64 {
	if c.IsProduction() {
		return 10
	}
	return 2
}

// NatGateways is 1 in production so tasks run in private subnets; dev
// environments skip the NAT and run tasks with public IPs.
func (c Config) NatGateways() float64 {
	if c.IsProduction() {
		return 1
	}
	return 0
}

// DetectEnvironment resolves the environment name from ENVIRONMENT, then
// NODE_ENV, defaulting to "dev".
func DetectEnvironment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	if env := os.Getenv("NODE_ENV"); env != "" {
		return env
	}
	return "dev"
}

// IsCI reports whether synthesis runs inside a CI system.
func IsCI() bool {
	return os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != "" || os.Getenv("JENKINS_URL") != ""
}
