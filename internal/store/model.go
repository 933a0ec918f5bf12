package store

import "time"

// EnvState is the environment lifecycle state.
type EnvState string

const (
	EnvCreated      EnvState = "CREATED"
	EnvProvisioning EnvState = "PROVISIONING"
	EnvRunning      EnvState = "RUNNING"
	EnvStopped      EnvState = "STOPPED"
	EnvDestroying   EnvState = "DESTROYING"
	EnvDestroyed    EnvState = "DESTROYED"
	EnvError        EnvState = "ERROR"
)

// SvcState is the per-service-instance state.
type SvcState string

const (
	SvcProvisioning SvcState = "PROVISIONING"
	SvcRunning      SvcState = "RUNNING"
	SvcStopped      SvcState = "STOPPED"
	SvcDestroyed    SvcState = "DESTROYED"
)

// User is an account. APIKey is the bearer credential the transport resolves.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Tier         string
	APIKey       string
	Active       bool
	CreatedAt    time.Time
}

// Environment is a named bundle of provisioned services.
type Environment struct {
	ID                string
	UserID            string
	Name              string
	Hostname          *string
	State             EnvState
	AutoShutdownAfter time.Duration
	HourlyRate        float64
	RunningCost       float64
	CreatedAt         time.Time
	LastActivityAt    time.Time
	StartedAt         *time.Time
	StoppedAt         *time.Time
	DestroyedAt       *time.Time
	AutoDeleteAt      *time.Time
}

// ServiceInstance is one provisioned service within an environment.
// Password holds the real credential; it is never rendered to callers.
type ServiceInstance struct {
	ID            string
	EnvironmentID string
	Kind          string
	State         SvcState
	ContainerID   *string
	Port          *int
	Namespace     *string
	Username      string
	Password      string
	Database      string
	CreatedAt     time.Time
}

// PortAllocation grants a service instance exclusive use of a host port.
type PortAllocation struct {
	ID          int64
	Port        int
	ServiceID   string
	Active      bool
	AllocatedAt time.Time
	ReleasedAt  *time.Time
}

// UsageInterval is a half-open accrual window. PeriodEnd is nil while open.
type UsageInterval struct {
	ID            int64
	EnvironmentID string
	PeriodStart   time.Time
	PeriodEnd     *time.Time
	HourlyRate    float64
	Cost          float64
	Billed        bool
}

// DNSRecord is one record scoped to an environment.
type DNSRecord struct {
	ID            int64
	EnvironmentID string
	Name          string
	Type          string
	Value         string
	TTL           int
	Priority      *int
	Weight        *int
	Port          *int
	CreatedAt     time.Time
}

// Bucket is an emulated object-store bucket. Family is "s3", "gcs" or "blob".
type Bucket struct {
	ID            int64
	EnvironmentID string
	Family        string
	Name          string
	CreatedAt     time.Time
}

// ObjectMeta is the stored metadata for one emulated object.
type ObjectMeta struct {
	BucketID     int64
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// EC2Instance is a synthesized compute instance. No VM backs it.
type EC2Instance struct {
	ID            string
	EnvironmentID string
	State         string
	InstanceType  string
	PrivateIP     string
	PublicIP      *string
	LaunchedAt    time.Time
}

// LambdaFunction holds emulated function metadata.
type LambdaFunction struct {
	ID            int64
	EnvironmentID string
	Name          string
	Runtime       string
	Handler       string
	MemoryMB      int
	TimeoutSecs   int
	EnvJSON       string
	CodeRef       string
	CreatedAt     time.Time
}

// Queue is an emulated SQS queue.
type Queue struct {
	ID                int64
	EnvironmentID     string
	Name              string
	URL               string
	FIFO              bool
	VisibilityTimeout int
	CreatedAt         time.Time
}

// Message is an emulated SQS message. VisibleAt gates redelivery.
type Message struct {
	ID            string
	QueueID       int64
	Body          string
	VisibleAt     time.Time
	ReceiptHandle *string
	ReceiveCount  int
	SentAt        time.Time
}

// DynamoTable is an emulated table descriptor.
type DynamoTable struct {
	ID            int64
	EnvironmentID string
	Name          string
	HashKey       string
	HashType      string
	RangeKey      *string
	RangeType     *string
	CreatedAt     time.Time
}

// DynamoItem stores one item as canonical attribute-value JSON.
type DynamoItem struct {
	TableID    int64
	HashValue  string
	RangeValue string
	AttrsJSON  string
}

// HostedZone is an emulated Route53 hosted zone.
type HostedZone struct {
	ID            string
	EnvironmentID string
	Name          string
	CreatedAt     time.Time
}
