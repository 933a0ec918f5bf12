package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateUser registers a user and mints its API key.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash, tier string) (*User, error) {
	u := &User{
		ID:           "usr_" + uuid.NewString()[:12],
		Email:        email,
		PasswordHash: passwordHash,
		Tier:         tier,
		APIKey:       "mf_" + randomHex(24),
		Active:       true,
		CreatedAt:    s.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, tier, api_key, active, created_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?)`,
		u.ID, u.Email, u.PasswordHash, u.Tier, u.APIKey, u.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return u, nil
}

// UserByAPIKey resolves the bearer credential to an active user.
func (s *Store) UserByAPIKey(ctx context.Context, key string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, tier, api_key, active, created_at
		 FROM users WHERE api_key = ? AND active = 1`, key))
}

// UserByID looks up a user regardless of activity flag.
func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, tier, api_key, active, created_at
		 FROM users WHERE id = ?`, id))
}

// SetUserTier mutates the tier; used by admin/billing events.
func (s *Store) SetUserTier(ctx context.Context, id, tier string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET tier = ? WHERE id = ?`, tier, id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res, "user %s", id)
}

// SetUserActive soft-enables or soft-disables an account.
func (s *Store) SetUserActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return classify(err)
	}
	return requireRow(res, "user %s", id)
}

// EnvironmentsCreatedSince counts environments a user created after cutoff.
// Drives the per-tier daily quota.
func (s *Store) EnvironmentsCreatedSince(ctx context.Context, userID string, cutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM environments WHERE user_id = ? AND created_at >= ?`,
		userID, cutoff).Scan(&n)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Tier, &u.APIKey, &u.Active, &u.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &u, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}
