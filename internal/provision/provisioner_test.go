package provision

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afterdarksys/mockfactory/internal/catalog"
	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/objectstore"
	"github.com/afterdarksys/mockfactory/internal/ports"
	"github.com/afterdarksys/mockfactory/internal/runtime"
	"github.com/afterdarksys/mockfactory/internal/store"
)

type fixture struct {
	store *store.Store
	rt    *runtime.Fake
	obj   *objectstore.MemStore
	prov  *Provisioner
	env   *store.Environment
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	u, err := st.CreateUser(context.Background(), "dev@example.com", "", "free")
	require.NoError(t, err)
	env := &store.Environment{
		ID:                store.NewEnvironmentID(),
		UserID:            u.ID,
		Name:              "scratch",
		AutoShutdownAfter: time.Hour,
	}
	require.NoError(t, st.Tx(context.Background(), func(tx *sql.Tx) error {
		return st.CreateEnvironment(context.Background(), tx, env)
	}))

	rt := runtime.NewFake()
	obj := objectstore.NewMemStore()
	pa := ports.New(st, 30000, 30010, slog.Default())
	prov := New(st, rt, obj, pa, "localhost", "test.local", slog.Default())
	prov.ReadinessTimeout = 2 * time.Second
	return &fixture{store: st, rt: rt, obj: obj, prov: prov, env: env}
}

func TestProvisionAllContainerAndManaged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	services, err := f.prov.ProvisionAll(ctx, f.env, []catalog.Kind{catalog.Redis, catalog.AWSS3})
	require.NoError(t, err)
	require.Len(t, services, 2)

	redis := services[0]
	assert.Equal(t, store.SvcRunning, redis.State)
	require.NotNil(t, redis.Port)
	assert.Equal(t, 30000, *redis.Port)
	require.NotNil(t, redis.ContainerID)
	assert.True(t, f.rt.Running(*redis.ContainerID))
	assert.NotEmpty(t, redis.Password)

	s3 := services[1]
	assert.Equal(t, store.SvcRunning, s3.State)
	require.NotNil(t, s3.Namespace)
	exists, err := f.obj.NamespaceExists(ctx, *s3.Namespace)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestProvisionAllRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	f.rt.FailKinds = map[string]bool{string(catalog.Postgres): true}
	ctx := context.Background()

	_, err := f.prov.ProvisionAll(ctx, f.env, []catalog.Kind{catalog.Redis, catalog.Postgres})
	assert.ErrorIs(t, err, fault.ErrProvisioning)

	// The already-created redis is torn down and its port released.
	services, err := f.store.ServicesByEnvironment(ctx, f.env.ID)
	require.NoError(t, err)
	for _, svc := range services {
		assert.Equal(t, store.SvcDestroyed, svc.State, "kind %s", svc.Kind)
		if svc.ContainerID != nil {
			assert.False(t, f.rt.Exists(*svc.ContainerID))
		}
	}
	allocs, err := f.store.ActivePorts(ctx)
	require.NoError(t, err)
	assert.Empty(t, allocs)
}

func TestStopStartKeepsPortsAndCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	services, err := f.prov.ProvisionAll(ctx, f.env, []catalog.Kind{catalog.Redis})
	require.NoError(t, err)
	redis := services[0]
	wantPort, wantPassword := *redis.Port, redis.Password

	require.NoError(t, f.prov.StopServices(ctx, services))
	assert.False(t, f.rt.Running(*redis.ContainerID))

	stopped, err := f.store.ServicesByEnvironment(ctx, f.env.ID)
	require.NoError(t, err)
	require.NoError(t, f.prov.StartServices(ctx, stopped))

	restarted, err := f.store.ServicesByEnvironment(ctx, f.env.ID)
	require.NoError(t, err)
	require.Len(t, restarted, 1)
	assert.Equal(t, store.SvcRunning, restarted[0].State)
	assert.Equal(t, wantPort, *restarted[0].Port)
	assert.Equal(t, wantPassword, restarted[0].Password)
	assert.True(t, f.rt.Running(*redis.ContainerID), "same container restarts")
}

func TestDestroyServiceIsIdempotentOnPartials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// An instance row with no container or namespace tears down cleanly.
	svc := &store.ServiceInstance{
		ID:            store.NewServiceID(),
		EnvironmentID: f.env.ID,
		Kind:          string(catalog.Redis),
	}
	require.NoError(t, f.store.Tx(ctx, func(tx *sql.Tx) error {
		return f.store.CreateServiceInstance(ctx, tx, svc)
	}))
	require.NoError(t, f.prov.DestroyService(ctx, svc))

	got, err := f.store.ServiceInstance(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SvcDestroyed, got.State)
}

func TestDescribeMasksCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	services, err := f.prov.ProvisionAll(ctx, f.env, []catalog.Kind{catalog.Redis, catalog.AWSS3})
	require.NoError(t, err)
	redis := services[0]

	masked := f.prov.Describe(redis, true)
	assert.Contains(t, masked, catalog.MaskedCredential)
	assert.NotContains(t, masked, redis.Password)

	all := f.prov.DescribeAll(services)
	assert.Contains(t, all[string(catalog.Redis)], catalog.MaskedCredential)
	assert.Equal(t, "https://s3."+f.env.ID+".test.local", all[string(catalog.AWSS3)])
}
