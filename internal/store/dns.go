package store

import (
	"context"
	"database/sql"
)

const dnsColumns = `id, environment_id, name, rtype, value, ttl, priority, weight, srv_port, created_at`

// CreateDNSRecord inserts one record. Duplicate (env, name, type, value)
// surfaces as Conflict.
func (s *Store) CreateDNSRecord(ctx context.Context, rec *DNSRecord) error {
	rec.CreatedAt = s.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dns_records (environment_id, name, rtype, value, ttl, priority, weight, srv_port, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EnvironmentID, rec.Name, rec.Type, rec.Value, rec.TTL,
		nullInt(rec.Priority), nullInt(rec.Weight), nullInt(rec.Port), rec.CreatedAt)
	if err != nil {
		return classify(err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// DNSRecordsByEnvironment lists an environment's records.
func (s *Store) DNSRecordsByEnvironment(ctx context.Context, envID string) ([]*DNSRecord, error) {
	return s.queryDNS(ctx,
		`SELECT `+dnsColumns+` FROM dns_records WHERE environment_id = ? ORDER BY id`, envID)
}

// DNSRecord fetches one record scoped to an environment.
func (s *Store) DNSRecord(ctx context.Context, envID string, id int64) (*DNSRecord, error) {
	return scanDNSFrom(s.db.QueryRowContext(ctx,
		`SELECT `+dnsColumns+` FROM dns_records WHERE environment_id = ? AND id = ?`, envID, id))
}

// DeleteDNSRecord removes one record scoped to an environment.
func (s *Store) DeleteDNSRecord(ctx context.Context, envID string, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dns_records WHERE environment_id = ? AND id = ?`, envID, id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res, "dns record %d", id)
}

// LookupDNS resolves (name, type) across all environments. Names are not
// unique across environments; the oldest record wins, so the responder's
// answer is stable.
func (s *Store) LookupDNS(ctx context.Context, name, rtype string) ([]*DNSRecord, error) {
	return s.queryDNS(ctx,
		`SELECT `+dnsColumns+` FROM dns_records
		 WHERE name = ? AND rtype = ?
		 AND environment_id = (
			SELECT environment_id FROM dns_records
			WHERE name = ? AND rtype = ? ORDER BY created_at, id LIMIT 1
		 )
		 ORDER BY created_at, id`, name, rtype, name, rtype)
}

func (s *Store) queryDNS(ctx context.Context, q string, args ...any) ([]*DNSRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*DNSRecord
	for rows.Next() {
		rec, err := scanDNSFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanDNSFrom(r rowScanner) (*DNSRecord, error) {
	var (
		rec              DNSRecord
		prio, weight, sp sql.NullInt64
	)
	err := r.Scan(&rec.ID, &rec.EnvironmentID, &rec.Name, &rec.Type, &rec.Value,
		&rec.TTL, &prio, &weight, &sp, &rec.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	rec.Priority = intPtr(prio)
	rec.Weight = intPtr(weight)
	rec.Port = intPtr(sp)
	return &rec, nil
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
