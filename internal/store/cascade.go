package store

import (
	"context"
	"database/sql"
)

// DeleteEnvironmentChildren removes every emulated resource and DNS record
// owned by an environment, inside the caller's transaction. Service
// instances, port allocations, and usage intervals are kept for audit; the
// lifecycle manager flips their states instead.
func (s *Store) DeleteEnvironmentChildren(ctx context.Context, tx *sql.Tx, envID string) error {
	stmts := []string{
		`DELETE FROM dns_records WHERE environment_id = ?`,
		`DELETE FROM object_meta WHERE bucket_id IN (SELECT id FROM buckets WHERE environment_id = ?)`,
		`DELETE FROM buckets WHERE environment_id = ?`,
		`DELETE FROM ec2_instances WHERE environment_id = ?`,
		`DELETE FROM lambda_functions WHERE environment_id = ?`,
		`DELETE FROM sqs_messages WHERE queue_id IN (SELECT id FROM sqs_queues WHERE environment_id = ?)`,
		`DELETE FROM sqs_queues WHERE environment_id = ?`,
		`DELETE FROM dynamo_items WHERE table_id IN (SELECT id FROM dynamo_tables WHERE environment_id = ?)`,
		`DELETE FROM dynamo_tables WHERE environment_id = ?`,
		`DELETE FROM hosted_zones WHERE environment_id = ?`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, envID); err != nil {
			return classify(err)
		}
	}
	return nil
}
