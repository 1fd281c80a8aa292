package stack

// Tag applied to every resource so cost and cleanup tooling can find them.
const (
	DefaultResourceTagKey   = "project"
	DefaultResourceTagValue = "testapp"
	EnvironmentTagKey       = "environment"
)

// Container and health check wiring shared between the platform and
// application stacks.
const (
	ContainerName     = "TestAppContainer"
	ContainerPort     = 8000
	HealthCheckPath   = "/health/"
	DatabaseName      = "testapp"
	DatabasePort      = 5432
	RedisPort         = 6379
	ExportNamePrefix  = "TestApp"
	SecretNamePrefix  = "testapp"
	LogGroupNameBase  = "/ecs/testapp"
	EcrRepositoryName = "testapp"
)

// BlockedCountryCodes feed the WAF geo-match rule. Product decision,
// mirrored from the security team's baseline.
var BlockedCountryCodes = []string{"CN", "RU", "KP"}
