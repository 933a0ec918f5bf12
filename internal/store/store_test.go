package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afterdarksys/mockfactory/internal/fault"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedUser(t *testing.T, st *Store) *User {
	t.Helper()
	u, err := st.CreateUser(context.Background(), "dev@example.com", "", "free")
	require.NoError(t, err)
	return u
}

func seedEnv(t *testing.T, st *Store, userID string) *Environment {
	t.Helper()
	env := &Environment{
		ID:                NewEnvironmentID(),
		UserID:            userID,
		Name:              "scratch",
		AutoShutdownAfter: 4 * time.Hour,
		HourlyRate:        0.02,
	}
	err := st.Tx(context.Background(), func(tx *sql.Tx) error {
		return st.CreateEnvironment(context.Background(), tx, env)
	})
	require.NoError(t, err)
	return env
}

func seedService(t *testing.T, st *Store, envID string) *ServiceInstance {
	t.Helper()
	svc := &ServiceInstance{
		ID:            NewServiceID(),
		EnvironmentID: envID,
		Kind:          "redis",
	}
	err := st.Tx(context.Background(), func(tx *sql.Tx) error {
		return st.CreateServiceInstance(context.Background(), tx, svc)
	})
	require.NoError(t, err)
	return svc
}

func TestLeasePortSmallestFree(t *testing.T) {
	st := newTestStore(t)
	u := seedUser(t, st)
	env := seedEnv(t, st, u.ID)
	ctx := context.Background()

	var got []int
	for i := 0; i < 3; i++ {
		svc := seedService(t, st, env.ID)
		err := st.Tx(ctx, func(tx *sql.Tx) error {
			p, err := st.LeasePort(ctx, tx, svc.ID, 30000, 30002)
			got = append(got, p)
			return err
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []int{30000, 30001, 30002}, got)

	// Range is full now.
	svc := seedService(t, st, env.ID)
	err := st.Tx(ctx, func(tx *sql.Tx) error {
		_, err := st.LeasePort(ctx, tx, svc.ID, 30000, 30002)
		return err
	})
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestLeasePortReusesReleased(t *testing.T) {
	st := newTestStore(t)
	u := seedUser(t, st)
	env := seedEnv(t, st, u.ID)
	ctx := context.Background()

	first := seedService(t, st, env.ID)
	second := seedService(t, st, env.ID)
	require.NoError(t, st.Tx(ctx, func(tx *sql.Tx) error {
		_, err := st.LeasePort(ctx, tx, first.ID, 30000, 30010)
		if err != nil {
			return err
		}
		_, err = st.LeasePort(ctx, tx, second.ID, 30000, 30010)
		return err
	}))

	require.NoError(t, st.Tx(ctx, func(tx *sql.Tx) error {
		return st.ReleasePortsForService(ctx, tx, first.ID)
	}))

	third := seedService(t, st, env.ID)
	var port int
	require.NoError(t, st.Tx(ctx, func(tx *sql.Tx) error {
		var err error
		port, err = st.LeasePort(ctx, tx, third.ID, 30000, 30010)
		return err
	}))
	assert.Equal(t, 30000, port, "released port is the smallest free again")

	allocs, err := st.ActivePorts(ctx)
	require.NoError(t, err)
	assert.Len(t, allocs, 2)
}

func TestUsageIntervalCloseComputesCost(t *testing.T) {
	st := newTestStore(t)
	u := seedUser(t, st)
	env := seedEnv(t, st, u.ID)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.Tx(ctx, func(tx *sql.Tx) error {
		return st.OpenUsageInterval(ctx, tx, env.ID, 0.02, start)
	}))

	var cost float64
	require.NoError(t, st.Tx(ctx, func(tx *sql.Tx) error {
		var err error
		cost, err = st.CloseUsageInterval(ctx, tx, env.ID, start.Add(30*time.Minute))
		return err
	}))
	assert.InDelta(t, 0.01, cost, 1e-9)

	ivs, err := st.UsageIntervals(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, ivs, 1)
	require.NotNil(t, ivs[0].PeriodEnd)
	assert.InDelta(t, 0.01, ivs[0].Cost, 1e-9)
}

func TestCloseUsageIntervalWithoutOpenIsNoop(t *testing.T) {
	st := newTestStore(t)
	u := seedUser(t, st)
	env := seedEnv(t, st, u.ID)
	ctx := context.Background()

	var cost float64
	require.NoError(t, st.Tx(ctx, func(tx *sql.Tx) error {
		var err error
		cost, err = st.CloseUsageInterval(ctx, tx, env.ID, st.Now())
		return err
	}))
	assert.Zero(t, cost)
}

func TestRolloverInterval(t *testing.T) {
	st := newTestStore(t)
	u := seedUser(t, st)
	env := seedEnv(t, st, u.ID)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.Tx(ctx, func(tx *sql.Tx) error {
		return st.OpenUsageInterval(ctx, tx, env.ID, 0.05, start)
	}))
	ivs, err := st.UsageIntervals(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, ivs, 1)

	boundary := start.Add(time.Hour)
	require.NoError(t, st.RolloverInterval(ctx, ivs[0].ID, boundary))

	ivs, err = st.UsageIntervals(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, ivs, 2)
	require.NotNil(t, ivs[0].PeriodEnd)
	assert.InDelta(t, 0.05, ivs[0].Cost, 1e-9)
	assert.Nil(t, ivs[1].PeriodEnd)
	assert.True(t, ivs[1].PeriodStart.Equal(boundary))

	got, err := st.Environment(ctx, env.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, got.RunningCost, 1e-9)
}

func TestReceiveMessagesClaimsAndRedelivers(t *testing.T) {
	st := newTestStore(t)
	u := seedUser(t, st)
	env := seedEnv(t, st, u.ID)
	ctx := context.Background()

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return current })

	q := &Queue{EnvironmentID: env.ID, Name: "jobs", URL: "https://sqs.test/jobs", VisibilityTimeout: 30}
	require.NoError(t, st.CreateQueue(ctx, q))
	_, err := st.SendMessage(ctx, q.ID, "one")
	require.NoError(t, err)
	_, err = st.SendMessage(ctx, q.ID, "two")
	require.NoError(t, err)

	msgs, err := st.ReceiveMessages(ctx, q.ID, 10, 30)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[0].ReceiptHandle)

	// Claimed messages are hidden until the visibility window passes.
	again, err := st.ReceiveMessages(ctx, q.ID, 10, 30)
	require.NoError(t, err)
	assert.Empty(t, again)

	// Delete one by handle; the other redelivers after the window.
	deleted, err := st.DeleteMessageByHandle(ctx, q.ID, *msgs[0].ReceiptHandle)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = st.DeleteMessageByHandle(ctx, q.ID, "stale-handle")
	require.NoError(t, err)
	assert.False(t, deleted, "stale handle deletes nothing")

	current = current.Add(time.Minute)
	redelivered, err := st.ReceiveMessages(ctx, q.ID, 10, 30)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, "two", redelivered[0].Body)
	assert.Equal(t, 2, redelivered[0].ReceiveCount)
}

func TestOwnedEnvironmentForeignReadsNotFound(t *testing.T) {
	st := newTestStore(t)
	owner := seedUser(t, st)
	env := seedEnv(t, st, owner.ID)
	other, err := st.CreateUser(context.Background(), "other@example.com", "", "free")
	require.NoError(t, err)

	_, err = st.OwnedEnvironment(context.Background(), other.ID, env.ID)
	assert.ErrorIs(t, err, fault.ErrNotFound)

	got, err := st.OwnedEnvironment(context.Background(), owner.ID, env.ID)
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)
}

func TestSetEnvHostnameDuplicateConflicts(t *testing.T) {
	st := newTestStore(t)
	u := seedUser(t, st)
	a := seedEnv(t, st, u.ID)
	b := seedEnv(t, st, u.ID)
	ctx := context.Background()

	name := "myapp"
	require.NoError(t, st.SetEnvHostname(ctx, a.ID, &name))
	err := st.SetEnvHostname(ctx, b.ID, &name)
	assert.ErrorIs(t, err, fault.ErrConflict)

	// Clearing frees the name for reuse.
	require.NoError(t, st.SetEnvHostname(ctx, a.ID, nil))
	require.NoError(t, st.SetEnvHostname(ctx, b.ID, &name))
}

func TestEnvironmentsCreatedSince(t *testing.T) {
	st := newTestStore(t)
	u := seedUser(t, st)
	ctx := context.Background()

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return current })

	seedEnv(t, st, u.ID)
	current = current.Add(2 * time.Hour)
	seedEnv(t, st, u.ID)

	n, err := st.EnvironmentsCreatedSince(ctx, u.ID, current.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = st.EnvironmentsCreatedSince(ctx, u.ID, current.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLookupDNSOldestEnvironmentWins(t *testing.T) {
	st := newTestStore(t)
	u := seedUser(t, st)
	first := seedEnv(t, st, u.ID)
	second := seedEnv(t, st, u.ID)
	ctx := context.Background()

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return current })
	require.NoError(t, st.CreateDNSRecord(ctx, &DNSRecord{
		EnvironmentID: first.ID, Name: "api.shared.test", Type: "A", Value: "10.1.0.1", TTL: 300,
	}))
	current = current.Add(time.Minute)
	require.NoError(t, st.CreateDNSRecord(ctx, &DNSRecord{
		EnvironmentID: second.ID, Name: "api.shared.test", Type: "A", Value: "10.2.0.1", TTL: 300,
	}))

	recs, err := st.LookupDNS(ctx, "api.shared.test", "A")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, first.ID, recs[0].EnvironmentID)
	assert.Equal(t, "10.1.0.1", recs[0].Value)
}
