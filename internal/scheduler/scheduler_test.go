package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afterdarksys/mockfactory/internal/catalog"
	"github.com/afterdarksys/mockfactory/internal/lifecycle"
	"github.com/afterdarksys/mockfactory/internal/metering"
	"github.com/afterdarksys/mockfactory/internal/objectstore"
	"github.com/afterdarksys/mockfactory/internal/ports"
	"github.com/afterdarksys/mockfactory/internal/provision"
	"github.com/afterdarksys/mockfactory/internal/runtime"
	"github.com/afterdarksys/mockfactory/internal/store"
)

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
	mgr   *lifecycle.Manager
	sched *Scheduler
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
	meter := metering.New(st, slog.Default())
	mgr := lifecycle.New(st, prov, meter, slog.Default())
	sched := New(st, mgr, meter, rt, slog.Default())
	return &fixture{store: st, rt: rt, mgr: mgr, sched: sched, clock: clock, user: u}
}

func (f *fixture) createEnv(t *testing.T, req lifecycle.CreateRequest) *store.Environment {
	t.Helper()
	req.UserID = f.user.ID
	env, _, err := f.mgr.Create(context.Background(), req)
	require.NoError(t, err)
	return env
}

func TestAutoShutdownPassStopsIdleEnvironments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	idle := f.createEnv(t, lifecycle.CreateRequest{
		Name: "idle", Kinds: []catalog.Kind{catalog.Redis}, AutoShutdownAfter: 15 * time.Minute,
	})
	busy := f.createEnv(t, lifecycle.CreateRequest{
		Name: "busy", Kinds: []catalog.Kind{catalog.Redis}, AutoShutdownAfter: 15 * time.Minute,
	})

	f.clock.Advance(20 * time.Minute)
	require.NoError(t, f.store.TouchEnvironment(ctx, busy.ID))

	require.NoError(t, f.sched.AutoShutdownPass(ctx))

	got, err := f.store.Environment(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EnvStopped, got.State)

	got, err = f.store.Environment(ctx, busy.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EnvRunning, got.State, "recent activity defers shutdown")
}

func TestPortGCPassReleasesOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env := f.createEnv(t, lifecycle.CreateRequest{
		Name: "leaky", Kinds: []catalog.Kind{catalog.Redis},
	})
	services, err := f.store.ServicesByEnvironment(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, services, 1)
	require.NotNil(t, services[0].ContainerID)

	// Container vanishes out from under the allocation.
	require.NoError(t, f.rt.Remove(ctx, *services[0].ContainerID, true))

	require.NoError(t, f.sched.PortGCPass(ctx))

	allocs, err := f.store.ActivePorts(ctx)
	require.NoError(t, err)
	assert.Empty(t, allocs)
}

func TestPortGCPassKeepsLiveAllocations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createEnv(t, lifecycle.CreateRequest{Name: "live", Kinds: []catalog.Kind{catalog.Redis}})
	require.NoError(t, f.sched.PortGCPass(ctx))

	allocs, err := f.store.ActivePorts(ctx)
	require.NoError(t, err)
	assert.Len(t, allocs, 1)
}

func TestPurgePassDestroysExpiredEnvironments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deadline := f.clock.Now().Add(30 * time.Minute)
	expiring := f.createEnv(t, lifecycle.CreateRequest{
		Name: "expiring", Kinds: []catalog.Kind{catalog.Redis}, AutoDeleteAt: &deadline,
	})
	keeper := f.createEnv(t, lifecycle.CreateRequest{
		Name: "keeper", Kinds: []catalog.Kind{catalog.Redis},
	})

	f.clock.Advance(time.Hour)
	require.NoError(t, f.sched.PurgePass(ctx))

	got, err := f.store.Environment(ctx, expiring.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EnvDestroyed, got.State)

	got, err = f.store.Environment(ctx, keeper.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EnvRunning, got.State)
}
