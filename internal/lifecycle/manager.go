// Package lifecycle owns the environment state machine:
//
//	CREATED → PROVISIONING → RUNNING ⇄ STOPPED → DESTROYING → DESTROYED
//
// plus a transient ERROR for partial failures. Transitions within one
// environment are serialized by a keyed mutex plus the store's write lock;
// external mutations always follow a plan-then-execute order so a crash
// leaves a reconcilable state.
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/afterdarksys/mockfactory/internal/catalog"
	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/metering"
	"github.com/afterdarksys/mockfactory/internal/provision"
	"github.com/afterdarksys/mockfactory/internal/store"
)

// Manager drives environment lifecycle transitions.
type Manager struct {
	Store *store.Store
	Prov  *provision.Provisioner
	Meter *metering.Meter

	ProvisionDeadline time.Duration
	Logger            *slog.Logger
	Tracer            trace.Tracer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a manager.
func New(st *store.Store, prov *provision.Provisioner, meter *metering.Meter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		Store:             st,
		Prov:              prov,
		Meter:             meter,
		ProvisionDeadline: 120 * time.Second,
		Logger:            logger,
		Tracer:            otel.Tracer("mockfactory/lifecycle"),
		locks:             make(map[string]*sync.Mutex),
	}
}

// lock serializes lifecycle mutations per environment.
func (m *Manager) lock(envID string) func() {
	m.mu.Lock()
	l, ok := m.locks[envID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[envID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// CreateRequest declares a new environment.
type CreateRequest struct {
	UserID            string
	Name              string
	Kinds             []catalog.Kind
	AutoShutdownAfter time.Duration
	AutoDeleteAt      *time.Time
}

// Create inserts the environment row and provisions its services. The
// returned environment is RUNNING on success and ERROR after a rollback.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*store.Environment, []*store.ServiceInstance, error) {
	if req.Name == "" {
		return nil, nil, fault.Invalidf("environment name required")
	}
	if len(req.Kinds) == 0 {
		return nil, nil, fault.Invalidf("at least one service required")
	}
	for _, k := range req.Kinds {
		if _, err := catalog.Lookup(k); err != nil {
			return nil, nil, err
		}
	}
	if req.AutoShutdownAfter <= 0 {
		req.AutoShutdownAfter = 4 * time.Hour
	}

	env := &store.Environment{
		ID:                store.NewEnvironmentID(),
		UserID:            req.UserID,
		Name:              req.Name,
		AutoShutdownAfter: req.AutoShutdownAfter,
		HourlyRate:        metering.RateForKinds(req.Kinds),
		AutoDeleteAt:      req.AutoDeleteAt,
	}
	err := m.Store.Tx(ctx, func(tx *sql.Tx) error {
		return m.Store.CreateEnvironment(ctx, tx, env)
	})
	if err != nil {
		return nil, nil, err
	}

	services, err := m.Provision(ctx, env.ID, req.Kinds)
	if err != nil {
		return env, nil, err
	}
	refreshed, rerr := m.Store.Environment(ctx, env.ID)
	if rerr == nil {
		env = refreshed
	}
	return env, services, nil
}

// Provision moves CREATED (or ERROR, on operator retry) through
// PROVISIONING to RUNNING, opening the usage interval on success.
func (m *Manager) Provision(ctx context.Context, envID string, kinds []catalog.Kind) ([]*store.ServiceInstance, error) {
	unlock := m.lock(envID)
	defer unlock()

	ctx, span := m.Tracer.Start(ctx, "lifecycle.provision",
		trace.WithAttributes(attribute.String("environment", envID)))
	defer span.End()

	env, err := m.transition(ctx, envID, store.EnvProvisioning, store.EnvCreated, store.EnvError)
	if err != nil {
		return nil, err
	}

	provCtx, cancel := context.WithTimeout(ctx, m.ProvisionDeadline)
	defer cancel()

	services, err := m.Prov.ProvisionAll(provCtx, env, kinds)
	if err != nil {
		if serr := m.setState(ctx, envID, store.EnvError); serr != nil {
			m.Logger.Error("failed to mark environment ERROR", "environment", envID, "error", serr)
		}
		return nil, err
	}

	err = m.Store.Tx(ctx, func(tx *sql.Tx) error {
		if err := m.Store.SetEnvState(ctx, tx, envID, store.EnvRunning); err != nil {
			return err
		}
		return m.Store.OpenUsageInterval(ctx, tx, envID, env.HourlyRate, m.Store.Now())
	})
	if err != nil {
		return nil, err
	}
	m.Logger.Info("environment running", "environment", envID, "services", len(services))
	return services, nil
}

// Stop moves RUNNING to STOPPED, closing the open usage interval. Ports
// stay leased so a later start reuses them.
func (m *Manager) Stop(ctx context.Context, envID string) error {
	unlock := m.lock(envID)
	defer unlock()

	if _, err := m.transition(ctx, envID, "", store.EnvRunning); err != nil {
		return err
	}
	services, err := m.Store.ServicesByEnvironment(ctx, envID)
	if err != nil {
		return err
	}
	if err := m.Prov.StopServices(ctx, services); err != nil {
		// A half-stopped environment must not keep billing as RUNNING.
		serr := m.Store.Tx(ctx, func(tx *sql.Tx) error {
			cost, cerr := m.Store.CloseUsageInterval(ctx, tx, envID, m.Store.Now())
			if cerr != nil {
				return cerr
			}
			if cerr := m.Store.AddRunningCost(ctx, tx, envID, cost); cerr != nil {
				return cerr
			}
			return m.Store.SetEnvState(ctx, tx, envID, store.EnvError)
		})
		if serr != nil {
			m.Logger.Error("failed to mark environment ERROR", "environment", envID, "error", serr)
		}
		return err
	}
	return m.Store.Tx(ctx, func(tx *sql.Tx) error {
		cost, err := m.Store.CloseUsageInterval(ctx, tx, envID, m.Store.Now())
		if err != nil {
			return err
		}
		if err := m.Store.AddRunningCost(ctx, tx, envID, cost); err != nil {
			return err
		}
		return m.Store.SetEnvState(ctx, tx, envID, store.EnvStopped)
	})
}

// Start moves STOPPED back to RUNNING via PROVISIONING. Containers are
// started without recreation; credentials, namespaces, and ports are
// unchanged.
func (m *Manager) Start(ctx context.Context, envID string) error {
	unlock := m.lock(envID)
	defer unlock()

	env, err := m.transition(ctx, envID, store.EnvProvisioning, store.EnvStopped)
	if err != nil {
		return err
	}
	services, err := m.Store.ServicesByEnvironment(ctx, envID)
	if err != nil {
		return err
	}

	provCtx, cancel := context.WithTimeout(ctx, m.ProvisionDeadline)
	defer cancel()
	if err := m.Prov.StartServices(provCtx, services); err != nil {
		if serr := m.setState(ctx, envID, store.EnvError); serr != nil {
			m.Logger.Error("failed to mark environment ERROR", "environment", envID, "error", serr)
		}
		return err
	}
	return m.Store.Tx(ctx, func(tx *sql.Tx) error {
		if err := m.Store.SetEnvState(ctx, tx, envID, store.EnvRunning); err != nil {
			return err
		}
		return m.Store.OpenUsageInterval(ctx, tx, envID, env.HourlyRate, m.Store.Now())
	})
}

// Destroy tears an environment down. Idempotent: a second call on a
// DESTROYED environment succeeds with no side effects. A failed teardown
// leaves DESTROYING so the caller can retry.
func (m *Manager) Destroy(ctx context.Context, envID string) error {
	unlock := m.lock(envID)
	defer unlock()

	ctx, span := m.Tracer.Start(ctx, "lifecycle.destroy",
		trace.WithAttributes(attribute.String("environment", envID)))
	defer span.End()

	env, err := m.Store.Environment(ctx, envID)
	if err != nil {
		return err
	}
	switch env.State {
	case store.EnvDestroyed:
		return nil
	case store.EnvDestroying:
		// retry path, fall through
	default:
		err = m.Store.Tx(ctx, func(tx *sql.Tx) error {
			cost, err := m.Store.CloseUsageInterval(ctx, tx, envID, m.Store.Now())
			if err != nil {
				return err
			}
			if err := m.Store.AddRunningCost(ctx, tx, envID, cost); err != nil {
				return err
			}
			return m.Store.SetEnvState(ctx, tx, envID, store.EnvDestroying)
		})
		if err != nil {
			return err
		}
	}

	services, err := m.Store.ServicesByEnvironment(ctx, envID)
	if err != nil {
		return err
	}
	for _, svc := range services {
		if svc.State == store.SvcDestroyed {
			continue
		}
		if err := m.Prov.DestroyService(ctx, svc); err != nil {
			return fmt.Errorf("teardown of %s incomplete: %w", svc.Kind, err)
		}
	}

	return m.Store.Tx(ctx, func(tx *sql.Tx) error {
		if err := m.Store.DeleteEnvironmentChildren(ctx, tx, envID); err != nil {
			return err
		}
		return m.Store.SetEnvState(ctx, tx, envID, store.EnvDestroyed)
	})
}

// transition loads the environment, enforces the allowed source states, and
// (when target is non-empty) applies the target state, all in one write
// transaction. A disallowed source surfaces as Conflict.
func (m *Manager) transition(ctx context.Context, envID string, target store.EnvState, allowed ...store.EnvState) (*store.Environment, error) {
	var env *store.Environment
	err := m.Store.Tx(ctx, func(tx *sql.Tx) error {
		var err error
		env, err = m.Store.EnvironmentTx(ctx, tx, envID)
		if err != nil {
			return err
		}
		ok := false
		for _, s := range allowed {
			if env.State == s {
				ok = true
				break
			}
		}
		if !ok {
			return fault.Conflictf("environment %s is %s", envID, env.State)
		}
		if target == "" {
			return nil
		}
		return m.Store.SetEnvState(ctx, tx, envID, target)
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (m *Manager) setState(ctx context.Context, envID string, state store.EnvState) error {
	return m.Store.Tx(ctx, func(tx *sql.Tx) error {
		return m.Store.SetEnvState(ctx, tx, envID, state)
	})
}
