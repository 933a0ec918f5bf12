package store

import "fmt"

// Schema. sqlite types are loose; TIMESTAMP columns round-trip time.Time
// through the driver. The partial index on ports is the port allocator's
// correctness anchor: at most one active allocation per port value.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL DEFAULT '',
	tier          TEXT NOT NULL DEFAULT 'free',
	api_key       TEXT NOT NULL UNIQUE,
	active        INTEGER NOT NULL DEFAULT 1,
	created_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS environments (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL REFERENCES users(id),
	name                TEXT NOT NULL,
	hostname            TEXT UNIQUE,
	state               TEXT NOT NULL,
	auto_shutdown_secs  INTEGER NOT NULL,
	hourly_rate         REAL NOT NULL DEFAULT 0,
	running_cost        REAL NOT NULL DEFAULT 0,
	created_at          TIMESTAMP NOT NULL,
	last_activity_at    TIMESTAMP NOT NULL,
	started_at          TIMESTAMP,
	stopped_at          TIMESTAMP,
	destroyed_at        TIMESTAMP,
	auto_delete_at      TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_environments_user ON environments(user_id);
CREATE INDEX IF NOT EXISTS idx_environments_state ON environments(state);

CREATE TABLE IF NOT EXISTS service_instances (
	id             TEXT PRIMARY KEY,
	environment_id TEXT NOT NULL REFERENCES environments(id),
	kind           TEXT NOT NULL,
	state          TEXT NOT NULL,
	container_id   TEXT,
	port           INTEGER,
	namespace      TEXT,
	username       TEXT NOT NULL DEFAULT '',
	password       TEXT NOT NULL DEFAULT '',
	database_name  TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_services_env ON service_instances(environment_id);

CREATE TABLE IF NOT EXISTS port_allocations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	port         INTEGER NOT NULL,
	service_id   TEXT NOT NULL REFERENCES service_instances(id),
	active       INTEGER NOT NULL DEFAULT 1,
	allocated_at TIMESTAMP NOT NULL,
	released_at  TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ports_active ON port_allocations(port) WHERE active = 1;
CREATE INDEX IF NOT EXISTS idx_ports_service ON port_allocations(service_id);

CREATE TABLE IF NOT EXISTS usage_intervals (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	environment_id TEXT NOT NULL REFERENCES environments(id),
	period_start   TIMESTAMP NOT NULL,
	period_end     TIMESTAMP,
	hourly_rate    REAL NOT NULL,
	cost           REAL NOT NULL DEFAULT 0,
	billed         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_usage_env ON usage_intervals(environment_id);

CREATE TABLE IF NOT EXISTS dns_records (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	environment_id TEXT NOT NULL REFERENCES environments(id),
	name           TEXT NOT NULL,
	rtype          TEXT NOT NULL,
	value          TEXT NOT NULL,
	ttl            INTEGER NOT NULL,
	priority       INTEGER,
	weight         INTEGER,
	srv_port       INTEGER,
	created_at     TIMESTAMP NOT NULL,
	UNIQUE(environment_id, name, rtype, value)
);
CREATE INDEX IF NOT EXISTS idx_dns_name ON dns_records(name, rtype);

CREATE TABLE IF NOT EXISTS buckets (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	environment_id TEXT NOT NULL REFERENCES environments(id),
	family         TEXT NOT NULL,
	name           TEXT NOT NULL,
	created_at     TIMESTAMP NOT NULL,
	UNIQUE(family, name)
);

CREATE TABLE IF NOT EXISTS object_meta (
	bucket_id     INTEGER NOT NULL REFERENCES buckets(id),
	key           TEXT NOT NULL,
	size          INTEGER NOT NULL,
	etag          TEXT NOT NULL,
	content_type  TEXT NOT NULL DEFAULT '',
	last_modified TIMESTAMP NOT NULL,
	PRIMARY KEY (bucket_id, key)
);

CREATE TABLE IF NOT EXISTS ec2_instances (
	id             TEXT PRIMARY KEY,
	environment_id TEXT NOT NULL REFERENCES environments(id),
	state          TEXT NOT NULL,
	instance_type  TEXT NOT NULL,
	private_ip     TEXT NOT NULL,
	public_ip      TEXT,
	launched_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS lambda_functions (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	environment_id TEXT NOT NULL REFERENCES environments(id),
	name           TEXT NOT NULL,
	runtime        TEXT NOT NULL,
	handler        TEXT NOT NULL,
	memory_mb      INTEGER NOT NULL DEFAULT 128,
	timeout_secs   INTEGER NOT NULL DEFAULT 3,
	env_json       TEXT NOT NULL DEFAULT '{}',
	code_ref       TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMP NOT NULL,
	UNIQUE(environment_id, name)
);

CREATE TABLE IF NOT EXISTS sqs_queues (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	environment_id     TEXT NOT NULL REFERENCES environments(id),
	name               TEXT NOT NULL,
	url                TEXT NOT NULL,
	fifo               INTEGER NOT NULL DEFAULT 0,
	visibility_timeout INTEGER NOT NULL DEFAULT 30,
	created_at         TIMESTAMP NOT NULL,
	UNIQUE(environment_id, name)
);

CREATE TABLE IF NOT EXISTS sqs_messages (
	id             TEXT PRIMARY KEY,
	queue_id       INTEGER NOT NULL REFERENCES sqs_queues(id),
	body           TEXT NOT NULL,
	visible_at     TIMESTAMP NOT NULL,
	receipt_handle TEXT,
	receive_count  INTEGER NOT NULL DEFAULT 0,
	sent_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_queue ON sqs_messages(queue_id, visible_at);

CREATE TABLE IF NOT EXISTS dynamo_tables (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	environment_id TEXT NOT NULL REFERENCES environments(id),
	name           TEXT NOT NULL,
	hash_key       TEXT NOT NULL,
	hash_type      TEXT NOT NULL,
	range_key      TEXT,
	range_type     TEXT,
	created_at     TIMESTAMP NOT NULL,
	UNIQUE(environment_id, name)
);

CREATE TABLE IF NOT EXISTS dynamo_items (
	table_id    INTEGER NOT NULL REFERENCES dynamo_tables(id),
	hash_value  TEXT NOT NULL,
	range_value TEXT NOT NULL DEFAULT '',
	attrs_json  TEXT NOT NULL,
	PRIMARY KEY (table_id, hash_value, range_value)
);

CREATE TABLE IF NOT EXISTS hosted_zones (
	id             TEXT PRIMARY KEY,
	environment_id TEXT NOT NULL REFERENCES environments(id),
	name           TEXT NOT NULL,
	created_at     TIMESTAMP NOT NULL
);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
