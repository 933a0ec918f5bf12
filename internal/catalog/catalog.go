// Package catalog holds the static service-kind capability table. The table
// is built once at startup and is immutable afterwards, so it is safe to read
// from any goroutine without synchronization.
package catalog

import (
	"fmt"

	"github.com/afterdarksys/mockfactory/internal/fault"
)

// Kind enumerates the provisionable service kinds.
type Kind string

// Container-backed kinds.
const (
	Redis            Kind = "redis"
	Postgres         Kind = "postgresql"
	PostgresSupabase Kind = "postgresql-supabase"
	PostgresPgvector Kind = "postgresql-pgvector"
	PostgresPostgis  Kind = "postgresql-postgis"
	MongoDB          Kind = "mongodb"
	MySQL            Kind = "mysql"
	ElasticMQ        Kind = "elasticmq"
)

// Managed-backed kinds, emulated against an object-store namespace.
const (
	AWSS3      Kind = "aws-s3"
	GCPStorage Kind = "gcp-storage"
	AzureBlob  Kind = "azure-blob"
	AWSECR     Kind = "aws-ecr"
	AWSIAM     Kind = "aws-iam"
	AWSRoute53 Kind = "aws-route53"
)

// ProbeKind selects how readiness is checked after container start.
type ProbeKind string

const (
	ProbeExec ProbeKind = "exec"
	ProbeTCP  ProbeKind = "tcp"
)

// Probe describes a readiness check. Argv is only set for exec probes.
type Probe struct {
	Kind ProbeKind
	Argv []string
}

// Spec describes how one service kind is provisioned and billed.
type Spec struct {
	Kind         Kind
	Managed      bool
	Image        string
	InternalPort int
	Command      []string
	Probe        Probe
	HourlyRate   float64

	// Credential shape for container-backed kinds. Password is always
	// generated at provision time; Username and Database are the defaults
	// baked into the image.
	Username string
	Database string
	Scheme   string

	// Subdomain label used in managed virtual-host endpoints,
	// e.g. "s3" in https://s3.<env-id>.<base-domain>.
	Subdomain string
}

var table = buildTable()

func buildTable() map[Kind]Spec {
	pgProbe := Probe{Kind: ProbeExec, Argv: []string{"pg_isready", "-U", "mockfactory"}}

	specs := []Spec{
		{
			Kind: Redis, Image: "redis:7-alpine", InternalPort: 6379,
			Probe:      Probe{Kind: ProbeExec, Argv: []string{"redis-cli", "ping"}},
			HourlyRate: 0.01, Scheme: "redis",
		},
		{
			Kind: Postgres, Image: "postgres:16-alpine", InternalPort: 5432,
			Probe: pgProbe, HourlyRate: 0.02,
			Username: "mockfactory", Database: "mockfactory", Scheme: "postgresql",
		},
		{
			Kind: PostgresSupabase, Image: "supabase/postgres:15.8.1.060", InternalPort: 5432,
			Probe: pgProbe, HourlyRate: 0.03,
			Username: "mockfactory", Database: "mockfactory", Scheme: "postgresql",
		},
		{
			Kind: PostgresPgvector, Image: "pgvector/pgvector:pg16", InternalPort: 5432,
			Probe: pgProbe, HourlyRate: 0.025,
			Username: "mockfactory", Database: "mockfactory", Scheme: "postgresql",
		},
		{
			Kind: PostgresPostgis, Image: "postgis/postgis:16-3.4-alpine", InternalPort: 5432,
			Probe: pgProbe, HourlyRate: 0.025,
			Username: "mockfactory", Database: "mockfactory", Scheme: "postgresql",
		},
		{
			Kind: MongoDB, Image: "mongo:7", InternalPort: 27017,
			Probe:      Probe{Kind: ProbeExec, Argv: []string{"mongosh", "--quiet", "--eval", "db.runCommand({ping:1}).ok"}},
			HourlyRate: 0.02, Username: "mockfactory", Database: "mockfactory", Scheme: "mongodb",
		},
		{
			Kind: MySQL, Image: "mysql:8.4", InternalPort: 3306,
			Probe:      Probe{Kind: ProbeExec, Argv: []string{"mysqladmin", "ping", "-h", "127.0.0.1"}},
			HourlyRate: 0.02, Username: "mockfactory", Database: "mockfactory", Scheme: "mysql",
		},
		{
			Kind: ElasticMQ, Image: "softwaremill/elasticmq-native:1.6.5", InternalPort: 9324,
			Probe:      Probe{Kind: ProbeTCP},
			HourlyRate: 0.01, Scheme: "http",
		},

		{Kind: AWSS3, Managed: true, HourlyRate: 0.005, Subdomain: "s3"},
		{Kind: GCPStorage, Managed: true, HourlyRate: 0.005, Subdomain: "storage"},
		{Kind: AzureBlob, Managed: true, HourlyRate: 0.005, Subdomain: "blob"},
		{Kind: AWSECR, Managed: true, HourlyRate: 0.005, Subdomain: "ecr"},
		{Kind: AWSIAM, Managed: true, HourlyRate: 0, Subdomain: "iam"},
		{Kind: AWSRoute53, Managed: true, HourlyRate: 0, Subdomain: "route53"},
	}

	t := make(map[Kind]Spec, len(specs))
	for _, s := range specs {
		t[s.Kind] = s
	}
	return t
}

// Lookup returns the spec for a kind, or ErrInvalid for unknown kinds.
func Lookup(kind Kind) (Spec, error) {
	s, ok := table[kind]
	if !ok {
		return Spec{}, fault.Invalidf("unknown service kind %q", kind)
	}
	return s, nil
}

// Kinds returns all known kinds. Order is not significant.
func Kinds() []Kind {
	out := make([]Kind, 0, len(table))
	for k := range table {
		out = append(out, k)
	}
	return out
}

// MaskedCredential is the fixed placeholder rendered in place of every
// credential component on every response path.
const MaskedCredential = "*****"

// ConnectionString composes the connection descriptor for a container-backed
// instance. When masked is true the credential component is replaced with
// the fixed placeholder; the real credential never leaves the store layer
// through this path.
func ConnectionString(s Spec, host string, port int, password string, masked bool) string {
	cred := password
	if masked {
		cred = MaskedCredential
	}
	switch {
	case s.Kind == Redis:
		return fmt.Sprintf("redis://:%s@%s:%d", cred, host, port)
	case s.Kind == ElasticMQ:
		return fmt.Sprintf("http://%s:%d", host, port)
	case s.Database != "":
		return fmt.Sprintf("%s://%s:%s@%s:%d/%s", s.Scheme, s.Username, cred, host, port, s.Database)
	default:
		return fmt.Sprintf("%s://%s:%d", s.Scheme, host, port)
	}
}

// ManagedEndpoint composes the virtual-hostname endpoint for a managed kind.
func ManagedEndpoint(s Spec, envID, baseDomain string) string {
	return fmt.Sprintf("https://%s.%s.%s", s.Subdomain, envID, baseDomain)
}

// ContainerEnv returns the environment variables injected into a
// container-backed service so the daemon boots with the generated credential.
func ContainerEnv(s Spec, password string) []string {
	switch s.Kind {
	case Postgres, PostgresSupabase, PostgresPgvector, PostgresPostgis:
		return []string{
			"POSTGRES_USER=" + s.Username,
			"POSTGRES_PASSWORD=" + password,
			"POSTGRES_DB=" + s.Database,
		}
	case MongoDB:
		return []string{
			"MONGO_INITDB_ROOT_USERNAME=" + s.Username,
			"MONGO_INITDB_ROOT_PASSWORD=" + password,
		}
	case MySQL:
		return []string{
			"MYSQL_USER=" + s.Username,
			"MYSQL_PASSWORD=" + password,
			"MYSQL_ROOT_PASSWORD=" + password,
			"MYSQL_DATABASE=" + s.Database,
		}
	default:
		return nil
	}
}

// RedisCommand returns the container command override where the image needs
// one to honor the generated credential.
func RedisCommand(password string) []string {
	return []string{"redis-server", "--requirepass", password}
}
