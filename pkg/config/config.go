// Package config defines the control-plane configuration and its defaults.
package config

import "time"

// Defaults.
const (
	DefaultListenAddr     = ":8080"
	DefaultBaseDomain     = "mockfactory.local"
	DefaultDatabasePath   = "mockfactory.db"
	DefaultDockerHost     = "" // empty means DOCKER_HOST / platform default
	DefaultDNSListenAddr  = ":5353"
	DefaultPortRangeStart = 30000
	DefaultPortRangeEnd   = 40000
)

// Timing defaults.
const (
	DefaultAutoShutdownAfter   = 4 * time.Hour
	DefaultAutoShutdownPeriod  = 15 * time.Minute
	DefaultPortGCPeriod        = 10 * time.Minute
	DefaultPurgePeriod         = time.Hour
	DefaultReconcilePeriod     = time.Hour
	DefaultReadinessTimeout    = 30 * time.Second
	DefaultProvisionDeadline   = 120 * time.Second
	DefaultShutdownDrain       = 15 * time.Second
	DefaultLambdaConcurrency   = 10
	DefaultSQSVisibilityWindow = 30 * time.Second
)

// Quota defaults per tier: environments created per day.
var DefaultDailyQuota = map[string]int{
	"free": 5,
	"pro":  50,
	"team": 500,
}

// Config holds runtime settings for the control plane.
type Config struct {
	ListenAddr   string
	BaseDomain   string
	DatabasePath string

	// ConnectHost is the address clients use to reach provisioned container
	// ports. On a single-node deployment this is the node's public name.
	ConnectHost string

	// DockerHost overrides the runtime socket; it should point at the
	// capability-restricted broker, never the raw daemon socket.
	DockerHost string

	// Object-store settings. When Endpoint is empty the in-memory backend
	// is used, which is only suitable for dev and tests.
	ObjectStoreEndpoint string
	ObjectStoreRegion   string
	ObjectStoreKey      string
	ObjectStoreSecret   string

	// DNS responder; disabled unless DNSEnabled.
	DNSEnabled    bool
	DNSListenAddr string

	AutoShutdownAfter  time.Duration
	AutoShutdownPeriod time.Duration
	PortGCPeriod       time.Duration
	PurgePeriod        time.Duration
	ReconcilePeriod    time.Duration
	ReadinessTimeout   time.Duration
	ProvisionDeadline  time.Duration

	JSONLogs      bool
	OtelEndpoint  string
	SkipTelemetry bool
}

// Default returns a Config populated with the package defaults.
func Default() Config {
	return Config{
		ListenAddr:         DefaultListenAddr,
		BaseDomain:         DefaultBaseDomain,
		ConnectHost:        "localhost",
		DatabasePath:       DefaultDatabasePath,
		DockerHost:         DefaultDockerHost,
		ObjectStoreRegion:  "us-east-1",
		DNSListenAddr:      DefaultDNSListenAddr,
		AutoShutdownAfter:  DefaultAutoShutdownAfter,
		AutoShutdownPeriod: DefaultAutoShutdownPeriod,
		PortGCPeriod:       DefaultPortGCPeriod,
		PurgePeriod:        DefaultPurgePeriod,
		ReconcilePeriod:    DefaultReconcilePeriod,
		ReadinessTimeout:   DefaultReadinessTimeout,
		ProvisionDeadline:  DefaultProvisionDeadline,
	}
}
