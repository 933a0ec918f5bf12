package store

import (
	"context"
	"database/sql"
	"time"
)

// OpenUsageInterval starts a new accrual window at start. The lifecycle
// manager guarantees at most one open interval per environment.
func (s *Store) OpenUsageInterval(ctx context.Context, tx *sql.Tx, envID string, rate float64, start time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO usage_intervals (environment_id, period_start, hourly_rate)
		 VALUES (?, ?, ?)`, envID, start.UTC(), rate)
	return classify(err)
}

// CloseUsageInterval closes the open window at end and computes its cost.
// Closing when no window is open is a no-op: destroy() must stay idempotent.
func (s *Store) CloseUsageInterval(ctx context.Context, tx *sql.Tx, envID string, end time.Time) (float64, error) {
	var (
		id    int64
		start time.Time
		rate  float64
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, period_start, hourly_rate FROM usage_intervals
		 WHERE environment_id = ? AND period_end IS NULL`, envID).
		Scan(&id, &start, &rate)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, classify(err)
	}

	cost := end.Sub(start).Hours() * rate
	if cost < 0 {
		cost = 0
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE usage_intervals SET period_end = ?, cost = ? WHERE id = ?`,
		end.UTC(), cost, id)
	if err != nil {
		return 0, classify(err)
	}
	return cost, nil
}

// OpenIntervalsOlderThan returns open windows whose start is at or before
// cutoff; the hourly reconciliation loop rolls them over.
func (s *Store) OpenIntervalsOlderThan(ctx context.Context, cutoff time.Time) ([]*UsageInterval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, environment_id, period_start, period_end, hourly_rate, cost, billed
		 FROM usage_intervals WHERE period_end IS NULL AND period_start <= ?`, cutoff.UTC())
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return collectIntervals(rows)
}

// UsageIntervals lists an environment's windows in order.
func (s *Store) UsageIntervals(ctx context.Context, envID string) ([]*UsageInterval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, environment_id, period_start, period_end, hourly_rate, cost, billed
		 FROM usage_intervals WHERE environment_id = ? ORDER BY period_start, id`, envID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return collectIntervals(rows)
}

// RolloverInterval closes interval id at boundary and opens a fresh one at
// the same instant, in one transaction. This bounds billing loss on crash
// to one reconciliation period.
func (s *Store) RolloverInterval(ctx context.Context, id int64, boundary time.Time) error {
	return s.Tx(ctx, func(tx *sql.Tx) error {
		var (
			envID string
			start time.Time
			rate  float64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT environment_id, period_start, hourly_rate FROM usage_intervals
			 WHERE id = ? AND period_end IS NULL`, id).Scan(&envID, &start, &rate)
		if err == sql.ErrNoRows {
			return nil // closed concurrently by a lifecycle transition
		}
		if err != nil {
			return classify(err)
		}

		cost := boundary.Sub(start).Hours() * rate
		if cost < 0 {
			cost = 0
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE usage_intervals SET period_end = ?, cost = ? WHERE id = ?`,
			boundary.UTC(), cost, id); err != nil {
			return classify(err)
		}
		if err := s.AddRunningCost(ctx, tx, envID, cost); err != nil {
			return err
		}
		return s.OpenUsageInterval(ctx, tx, envID, rate, boundary)
	})
}

func collectIntervals(rows *sql.Rows) ([]*UsageInterval, error) {
	var out []*UsageInterval
	for rows.Next() {
		var (
			iv  UsageInterval
			end sql.NullTime
		)
		if err := rows.Scan(&iv.ID, &iv.EnvironmentID, &iv.PeriodStart, &end,
			&iv.HourlyRate, &iv.Cost, &iv.Billed); err != nil {
			return nil, classify(err)
		}
		iv.PeriodEnd = timePtr(end)
		out = append(out, &iv)
	}
	return out, rows.Err()
}
