package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afterdarksys/mockfactory/internal/catalog"
	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/metering"
	"github.com/afterdarksys/mockfactory/internal/objectstore"
	"github.com/afterdarksys/mockfactory/internal/ports"
	"github.com/afterdarksys/mockfactory/internal/provision"
	"github.com/afterdarksys/mockfactory/internal/runtime"
	"github.com/afterdarksys/mockfactory/internal/store"
)

// testClock is a mutable logical clock shared with the store.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store *store.Store
	rt    *runtime.Fake
	mgr   *Manager
	clock *testClock
	user  *store.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	st.SetClock(clock.Now)

	u, err := st.CreateUser(context.Background(), "dev@example.com", "", "free")
	require.NoError(t, err)

	rt := runtime.NewFake()
	pa := ports.New(st, 30000, 30100, slog.Default())
	prov := provision.New(st, rt, objectstore.NewMemStore(), pa, "localhost", "test.local", slog.Default())
	prov.ReadinessTimeout = 2 * time.Second
	mgr := New(st, prov, metering.New(st, slog.Default()), slog.Default())
	return &fixture{store: st, rt: rt, mgr: mgr, clock: clock, user: u}
}

func TestCreateProvisionsToRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env, services, err := f.mgr.Create(ctx, CreateRequest{
		UserID: f.user.ID,
		Name:   "ci-db",
		Kinds:  []catalog.Kind{catalog.Redis, catalog.AWSS3},
	})
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.Equal(t, store.EnvRunning, env.State)
	assert.InDelta(t, 0.015, env.HourlyRate, 1e-9)
	assert.Equal(t, 4*time.Hour, env.AutoShutdownAfter, "default auto-shutdown window")

	ivs, err := f.store.UsageIntervals(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, ivs, 1)
	assert.Nil(t, ivs[0].PeriodEnd, "interval opens with the environment")
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.mgr.Create(ctx, CreateRequest{UserID: f.user.ID, Kinds: []catalog.Kind{catalog.Redis}})
	assert.ErrorIs(t, err, fault.ErrInvalid)

	_, _, err = f.mgr.Create(ctx, CreateRequest{UserID: f.user.ID, Name: "x"})
	assert.ErrorIs(t, err, fault.ErrInvalid)

	_, _, err = f.mgr.Create(ctx, CreateRequest{UserID: f.user.ID, Name: "x", Kinds: []catalog.Kind{"warehouse"}})
	assert.ErrorIs(t, err, fault.ErrInvalid)
}

func TestCreateFailureLandsInError(t *testing.T) {
	f := newFixture(t)
	f.rt.FailKinds = map[string]bool{string(catalog.Redis): true}
	ctx := context.Background()

	env, _, err := f.mgr.Create(ctx, CreateRequest{
		UserID: f.user.ID, Name: "doomed", Kinds: []catalog.Kind{catalog.Redis},
	})
	assert.ErrorIs(t, err, fault.ErrProvisioning)
	require.NotNil(t, env)

	got, gerr := f.store.Environment(ctx, env.ID)
	require.NoError(t, gerr)
	assert.Equal(t, store.EnvError, got.State)

	ivs, ierr := f.store.UsageIntervals(ctx, env.ID)
	require.NoError(t, ierr)
	assert.Empty(t, ivs, "no billing starts for a failed environment")
}

func TestStopClosesIntervalAndAccruesCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env, _, err := f.mgr.Create(ctx, CreateRequest{
		UserID: f.user.ID, Name: "ci-db", Kinds: []catalog.Kind{catalog.Redis},
	})
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	require.NoError(t, f.mgr.Stop(ctx, env.ID))

	got, err := f.store.Environment(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EnvStopped, got.State)
	assert.InDelta(t, 0.005, got.RunningCost, 1e-9, "0.01/h for half an hour")

	ivs, err := f.store.UsageIntervals(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, ivs, 1)
	require.NotNil(t, ivs[0].PeriodEnd)

	// A second stop conflicts.
	assert.ErrorIs(t, f.mgr.Stop(ctx, env.ID), fault.ErrConflict)
}

func TestStopFailureLandsInError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env, services, err := f.mgr.Create(ctx, CreateRequest{
		UserID: f.user.ID, Name: "ci-db", Kinds: []catalog.Kind{catalog.Redis},
	})
	require.NoError(t, err)
	require.Len(t, services, 1)
	require.NotNil(t, services[0].ContainerID)

	// Lose the container out from under the manager so the stop fails.
	require.NoError(t, f.rt.Remove(ctx, *services[0].ContainerID, true))

	f.clock.Advance(30 * time.Minute)
	require.Error(t, f.mgr.Stop(ctx, env.ID))

	got, err := f.store.Environment(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EnvError, got.State)
	assert.InDelta(t, 0.005, got.RunningCost, 1e-9)

	ivs, err := f.store.UsageIntervals(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, ivs, 1)
	assert.NotNil(t, ivs[0].PeriodEnd, "billing halts on a failed stop")
}

func TestStartReopensBilling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env, _, err := f.mgr.Create(ctx, CreateRequest{
		UserID: f.user.ID, Name: "ci-db", Kinds: []catalog.Kind{catalog.Redis},
	})
	require.NoError(t, err)
	require.NoError(t, f.mgr.Stop(ctx, env.ID))

	f.clock.Advance(time.Hour)
	require.NoError(t, f.mgr.Start(ctx, env.ID))

	got, err := f.store.Environment(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EnvRunning, got.State)

	ivs, err := f.store.UsageIntervals(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, ivs, 2)
	assert.Nil(t, ivs[1].PeriodEnd, "fresh interval after restart")

	// Starting a RUNNING environment conflicts.
	assert.ErrorIs(t, f.mgr.Start(ctx, env.ID), fault.ErrConflict)
}

func TestDestroyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env, services, err := f.mgr.Create(ctx, CreateRequest{
		UserID: f.user.ID, Name: "ci-db", Kinds: []catalog.Kind{catalog.Redis, catalog.AWSS3},
	})
	require.NoError(t, err)

	require.NoError(t, f.mgr.Destroy(ctx, env.ID))
	got, err := f.store.Environment(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EnvDestroyed, got.State)
	require.NotNil(t, got.DestroyedAt)

	for _, svc := range services {
		if svc.ContainerID != nil {
			assert.False(t, f.rt.Exists(*svc.ContainerID))
		}
	}
	allocs, err := f.store.ActivePorts(ctx)
	require.NoError(t, err)
	assert.Empty(t, allocs)

	// Second destroy is a no-op.
	require.NoError(t, f.mgr.Destroy(ctx, env.ID))
}

func TestDestroyFromStoppedAccruesNothingFurther(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env, _, err := f.mgr.Create(ctx, CreateRequest{
		UserID: f.user.ID, Name: "ci-db", Kinds: []catalog.Kind{catalog.Redis},
	})
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	require.NoError(t, f.mgr.Stop(ctx, env.ID))

	before, err := f.store.Environment(ctx, env.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	require.NoError(t, f.mgr.Destroy(ctx, env.ID))

	after, err := f.store.Environment(ctx, env.ID)
	require.NoError(t, err)
	assert.InDelta(t, before.RunningCost, after.RunningCost, 1e-9,
		"stopped time is free")
}
