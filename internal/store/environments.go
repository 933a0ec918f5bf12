package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/afterdarksys/mockfactory/internal/fault"
)

const envColumns = `id, user_id, name, hostname, state, auto_shutdown_secs,
	hourly_rate, running_cost, created_at, last_activity_at,
	started_at, stopped_at, destroyed_at, auto_delete_at`

// NewEnvironmentID mints an opaque environment token.
func NewEnvironmentID() string {
	return "env_" + uuid.NewString()[:12]
}

// CreateEnvironment inserts a new environment in state CREATED.
func (s *Store) CreateEnvironment(ctx context.Context, tx *sql.Tx, env *Environment) error {
	env.State = EnvCreated
	env.CreatedAt = s.Now()
	env.LastActivityAt = env.CreatedAt
	_, err := tx.ExecContext(ctx,
		`INSERT INTO environments (id, user_id, name, hostname, state, auto_shutdown_secs,
			hourly_rate, running_cost, created_at, last_activity_at, auto_delete_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		env.ID, env.UserID, env.Name, nullStr(env.Hostname), env.State,
		int(env.AutoShutdownAfter.Seconds()), env.HourlyRate,
		env.CreatedAt, env.LastActivityAt, nullTime(env.AutoDeleteAt))
	return classify(err)
}

// Environment fetches one environment by id.
func (s *Store) Environment(ctx context.Context, id string) (*Environment, error) {
	return scanEnv(s.db.QueryRowContext(ctx,
		`SELECT `+envColumns+` FROM environments WHERE id = ?`, id))
}

// EnvironmentTx fetches one environment inside a transaction, which under
// BEGIN IMMEDIATE doubles as the per-environment serialization lock.
func (s *Store) EnvironmentTx(ctx context.Context, tx *sql.Tx, id string) (*Environment, error) {
	return scanEnv(tx.QueryRowContext(ctx,
		`SELECT `+envColumns+` FROM environments WHERE id = ?`, id))
}

// EnvironmentsByUser lists a user's environments, optionally filtered by state.
func (s *Store) EnvironmentsByUser(ctx context.Context, userID string, state EnvState) ([]*Environment, error) {
	q := `SELECT ` + envColumns + ` FROM environments WHERE user_id = ?`
	args := []any{userID}
	if state != "" {
		q += ` AND state = ?`
		args = append(args, state)
	}
	q += ` ORDER BY created_at DESC`
	return s.queryEnvs(ctx, q, args...)
}

// EnvironmentsByState lists all environments in a state; scheduler loops use it.
func (s *Store) EnvironmentsByState(ctx context.Context, state EnvState) ([]*Environment, error) {
	return s.queryEnvs(ctx,
		`SELECT `+envColumns+` FROM environments WHERE state = ?`, state)
}

// ExpiredEnvironments returns environments whose auto-delete deadline passed.
func (s *Store) ExpiredEnvironments(ctx context.Context) ([]*Environment, error) {
	return s.queryEnvs(ctx,
		`SELECT `+envColumns+` FROM environments
		 WHERE auto_delete_at IS NOT NULL AND auto_delete_at <= ?
		   AND state NOT IN (?, ?, ?)`,
		s.Now(), EnvDestroying, EnvDestroyed, EnvError)
}

// SetEnvState transitions an environment, stamping the matching timestamp.
func (s *Store) SetEnvState(ctx context.Context, tx *sql.Tx, id string, state EnvState) error {
	now := s.Now()
	q := `UPDATE environments SET state = ?`
	args := []any{state}
	switch state {
	case EnvRunning:
		q += `, started_at = ?, stopped_at = NULL, last_activity_at = ?`
		args = append(args, now, now)
	case EnvStopped:
		q += `, stopped_at = ?, started_at = NULL`
		args = append(args, now)
	case EnvDestroyed:
		q += `, destroyed_at = ?, started_at = NULL, stopped_at = NULL`
		args = append(args, now)
	}
	q += ` WHERE id = ?`
	args = append(args, id)

	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return classify(err)
	}
	return requireRow(res, "environment %s", id)
}

// TouchEnvironment bumps last-activity; every emulation request calls this.
func (s *Store) TouchEnvironment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE environments SET last_activity_at = ? WHERE id = ?`, s.Now(), id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res, "environment %s", id)
}

// SetEnvHostname sets or clears the custom hostname. Uniqueness is enforced
// by the schema; a duplicate surfaces as Conflict.
func (s *Store) SetEnvHostname(ctx context.Context, id string, hostname *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE environments SET hostname = ? WHERE id = ?`, nullStr(hostname), id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res, "environment %s", id)
}

// AddRunningCost accrues cost onto the environment's running total.
func (s *Store) AddRunningCost(ctx context.Context, tx *sql.Tx, id string, cost float64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE environments SET running_cost = running_cost + ? WHERE id = ?`, cost, id)
	return classify(err)
}

// OwnedEnvironment fetches an environment and enforces ownership. A foreign
// environment reads as NotFound so ids cannot be probed.
func (s *Store) OwnedEnvironment(ctx context.Context, userID, id string) (*Environment, error) {
	env, err := s.Environment(ctx, id)
	if err != nil {
		return nil, err
	}
	if env.UserID != userID {
		return nil, fault.NotFoundf("environment %s", id)
	}
	return env, nil
}

func (s *Store) queryEnvs(ctx context.Context, q string, args ...any) ([]*Environment, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*Environment
	for rows.Next() {
		env, err := scanEnvRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvFrom(r rowScanner) (*Environment, error) {
	var (
		env      Environment
		hostname sql.NullString
		secs     int64
		started  sql.NullTime
		stopped  sql.NullTime
		destr    sql.NullTime
		autoDel  sql.NullTime
	)
	err := r.Scan(&env.ID, &env.UserID, &env.Name, &hostname, &env.State, &secs,
		&env.HourlyRate, &env.RunningCost, &env.CreatedAt, &env.LastActivityAt,
		&started, &stopped, &destr, &autoDel)
	if err != nil {
		return nil, classify(err)
	}
	env.AutoShutdownAfter = time.Duration(secs) * time.Second
	if hostname.Valid {
		env.Hostname = &hostname.String
	}
	env.StartedAt = timePtr(started)
	env.StoppedAt = timePtr(stopped)
	env.DestroyedAt = timePtr(destr)
	env.AutoDeleteAt = timePtr(autoDel)
	return &env, nil
}

func scanEnv(row *sql.Row) (*Environment, error)      { return scanEnvFrom(row) }
func scanEnvRows(rows *sql.Rows) (*Environment, error) { return scanEnvFrom(rows) }

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}
