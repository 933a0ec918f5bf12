package metering

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afterdarksys/mockfactory/internal/catalog"
	"github.com/afterdarksys/mockfactory/internal/store"
)

func TestRateForKinds(t *testing.T) {
	assert.Zero(t, RateForKinds(nil))
	assert.InDelta(t, 0.01, RateForKinds([]catalog.Kind{catalog.Redis}), 1e-9)
	assert.InDelta(t, 0.035,
		RateForKinds([]catalog.Kind{catalog.Redis, catalog.Postgres, catalog.AWSS3}), 1e-9)
	assert.InDelta(t, 0.01, RateForKinds([]catalog.Kind{catalog.Redis, "bogus"}), 1e-9,
		"unknown kinds rate zero")
}

func TestReconcileRollsOverOnHourBoundaries(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	now := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return now })

	ctx := context.Background()
	u, err := st.CreateUser(ctx, "dev@example.com", "", "free")
	require.NoError(t, err)
	env := &store.Environment{
		ID:                store.NewEnvironmentID(),
		UserID:            u.ID,
		Name:              "long-lived",
		AutoShutdownAfter: 24 * time.Hour,
		HourlyRate:        0.02,
	}
	require.NoError(t, st.Tx(ctx, func(tx *sql.Tx) error {
		return st.CreateEnvironment(ctx, tx, env)
	}))

	// Interval opened 3.5 hours ago and never rolled over.
	start := now.Add(-210 * time.Minute) // 10:30
	require.NoError(t, st.Tx(ctx, func(tx *sql.Tx) error {
		return st.OpenUsageInterval(ctx, tx, env.ID, env.HourlyRate, start)
	}))

	meter := New(st, slog.Default())
	require.NoError(t, meter.Reconcile(ctx))

	ivs, err := st.UsageIntervals(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, ivs, 5, "10:30-11, 11-12, 12-13, 13-14 closed plus one open")

	var closedHours float64
	for _, iv := range ivs[:4] {
		require.NotNil(t, iv.PeriodEnd)
		closedHours += iv.PeriodEnd.Sub(iv.PeriodStart).Hours()
	}
	assert.InDelta(t, 3.5, closedHours, 1e-9)

	open := ivs[4]
	assert.Nil(t, open.PeriodEnd)
	assert.True(t, open.PeriodStart.Equal(now), "open interval resumes at the last boundary")

	got, err := st.Environment(ctx, env.ID)
	require.NoError(t, err)
	assert.InDelta(t, 3.5*env.HourlyRate, got.RunningCost, 1e-9)
}

func TestReconcileLeavesYoungIntervalsAlone(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	now := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return now })

	ctx := context.Background()
	u, err := st.CreateUser(ctx, "dev@example.com", "", "free")
	require.NoError(t, err)
	env := &store.Environment{
		ID: store.NewEnvironmentID(), UserID: u.ID, Name: "fresh",
		AutoShutdownAfter: time.Hour, HourlyRate: 0.02,
	}
	require.NoError(t, st.Tx(ctx, func(tx *sql.Tx) error {
		return st.CreateEnvironment(ctx, tx, env)
	}))
	require.NoError(t, st.Tx(ctx, func(tx *sql.Tx) error {
		return st.OpenUsageInterval(ctx, tx, env.ID, env.HourlyRate, now.Add(-10*time.Minute))
	}))

	meter := New(st, slog.Default())
	require.NoError(t, meter.Reconcile(ctx))

	ivs, err := st.UsageIntervals(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, ivs, 1)
	assert.Nil(t, ivs[0].PeriodEnd)
}
