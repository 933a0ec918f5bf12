package store

import (
	"context"
	"database/sql"
)

// LeasePort allocates the smallest free port in [lo, hi] for a service,
// inside the caller's transaction. sql.ErrNoRows means the range is full;
// the unique partial index on (port WHERE active) backstops races.
func (s *Store) LeasePort(ctx context.Context, tx *sql.Tx, serviceID string, lo, hi int) (int, error) {
	var port int
	// Smallest candidate not currently held. The recursive CTE stays cheap
	// because it stops at the first gap.
	err := tx.QueryRowContext(ctx, `
		WITH RECURSIVE candidates(p) AS (
			SELECT ?
			UNION ALL
			SELECT p + 1 FROM candidates WHERE p < ?
		)
		SELECT p FROM candidates
		WHERE p NOT IN (SELECT port FROM port_allocations WHERE active = 1)
		LIMIT 1`, lo, hi).Scan(&port)
	if err != nil {
		return 0, classify(err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO port_allocations (port, service_id, active, allocated_at)
		 VALUES (?, ?, 1, ?)`, port, serviceID, s.Now())
	if err != nil {
		return 0, classify(err)
	}
	return port, nil
}

// ReleasePortsForService flips a service's active allocations inactive.
// Rows are retained for audit.
func (s *Store) ReleasePortsForService(ctx context.Context, tx *sql.Tx, serviceID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE port_allocations SET active = 0, released_at = ?
		 WHERE service_id = ? AND active = 1`, s.Now(), serviceID)
	return classify(err)
}

// ActivePorts returns all active allocations; the GC loop reconciles them.
func (s *Store) ActivePorts(ctx context.Context) ([]*PortAllocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, port, service_id, active, allocated_at, released_at
		 FROM port_allocations WHERE active = 1 ORDER BY port`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*PortAllocation
	for rows.Next() {
		var (
			pa       PortAllocation
			released sql.NullTime
		)
		if err := rows.Scan(&pa.ID, &pa.Port, &pa.ServiceID, &pa.Active, &pa.AllocatedAt, &released); err != nil {
			return nil, classify(err)
		}
		pa.ReleasedAt = timePtr(released)
		out = append(out, &pa)
	}
	return out, rows.Err()
}

// ReleaseAllocation flips one allocation inactive by row id.
func (s *Store) ReleaseAllocation(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE port_allocations SET active = 0, released_at = ?
		 WHERE id = ? AND active = 1`, s.Now(), id)
	return classify(err)
}

// ActivePortForService returns the port still leased to a service, if any.
func (s *Store) ActivePortForService(ctx context.Context, serviceID string) (int, bool, error) {
	var port int
	err := s.db.QueryRowContext(ctx,
		`SELECT port FROM port_allocations WHERE service_id = ? AND active = 1`,
		serviceID).Scan(&port)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify(err)
	}
	return port, true, nil
}
