// Package provision maps declared service kinds onto real containers and
// managed object-store namespaces, bringing each to RUNNING or rolling the
// whole batch back.
package provision

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/afterdarksys/mockfactory/internal/catalog"
	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/objectstore"
	"github.com/afterdarksys/mockfactory/internal/ports"
	"github.com/afterdarksys/mockfactory/internal/runtime"
	"github.com/afterdarksys/mockfactory/internal/store"
)

// Provisioner orchestrates the port allocator, container runtime, and
// object store to materialize one environment's declared services.
type Provisioner struct {
	Store   *store.Store
	Runtime runtime.Adapter
	Objects objectstore.Store
	Ports   *ports.Allocator

	// Host is the address published in container-backed connection
	// descriptors; BaseDomain shapes managed virtual-host endpoints.
	Host       string
	BaseDomain string

	ReadinessTimeout time.Duration
	Logger           *slog.Logger
	Tracer           trace.Tracer
}

// New builds a provisioner with sane defaults.
func New(st *store.Store, rt runtime.Adapter, obj objectstore.Store, pa *ports.Allocator, host, baseDomain string, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		Store:            st,
		Runtime:          rt,
		Objects:          obj,
		Ports:            pa,
		Host:             host,
		BaseDomain:       baseDomain,
		ReadinessTimeout: 30 * time.Second,
		Logger:           logger,
		Tracer:           otel.Tracer("mockfactory/provision"),
	}
}

// ProvisionAll brings every declared service to RUNNING. On failure of
// service i it destroys services 1..i-1 in reverse creation order and
// returns ProvisioningFailure: partial success is never observable.
func (p *Provisioner) ProvisionAll(ctx context.Context, env *store.Environment, kinds []catalog.Kind) ([]*store.ServiceInstance, error) {
	ctx, span := p.Tracer.Start(ctx, "provision.all",
		trace.WithAttributes(attribute.String("environment", env.ID)))
	defer span.End()

	var created []*store.ServiceInstance
	for _, kind := range kinds {
		svc, err := p.provisionOne(ctx, env, kind)
		if err != nil {
			p.rollback(created)
			return nil, fault.Provisioningf("service %s failed", kind)
		}
		created = append(created, svc)
	}
	return created, nil
}

func (p *Provisioner) provisionOne(ctx context.Context, env *store.Environment, kind catalog.Kind) (*store.ServiceInstance, error) {
	spec, err := catalog.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if spec.Managed {
		return p.provisionManaged(ctx, env, spec)
	}
	return p.provisionContainer(ctx, env, spec)
}

// provisionContainer records intent first (instance row plus port lease in
// one transaction), then performs external effects, so a crash mid-flight
// leaves a reconcilable trail.
func (p *Provisioner) provisionContainer(ctx context.Context, env *store.Environment, spec catalog.Spec) (*store.ServiceInstance, error) {
	svc := &store.ServiceInstance{
		ID:            store.NewServiceID(),
		EnvironmentID: env.ID,
		Kind:          string(spec.Kind),
		Username:      spec.Username,
		Password:      randomPassword(),
		Database:      spec.Database,
	}

	var hostPort int
	err := p.Store.Tx(ctx, func(tx *sql.Tx) error {
		if err := p.Store.CreateServiceInstance(ctx, tx, svc); err != nil {
			return err
		}
		var err error
		hostPort, err = p.Ports.Lease(ctx, tx, svc.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	svc.Port = &hostPort

	cmd := spec.Command
	if spec.Kind == catalog.Redis {
		cmd = catalog.RedisCommand(svc.Password)
	}
	containerID, err := p.Runtime.Create(ctx, runtime.CreateOpts{
		Name:         "mf-" + svc.ID,
		Image:        spec.Image,
		Env:          catalog.ContainerEnv(spec, svc.Password),
		Cmd:          cmd,
		Labels:       map[string]string{runtime.LabelEnvironment: env.ID, runtime.LabelKind: string(spec.Kind)},
		InternalPort: spec.InternalPort,
		HostPort:     hostPort,
	})
	if err != nil {
		p.releaseAfterFailure(svc)
		return nil, fmt.Errorf("create failed for %s: %w", spec.Kind, err)
	}
	svc.ContainerID = &containerID
	if err := p.Store.BindContainer(ctx, svc.ID, containerID); err != nil {
		p.releaseAfterFailure(svc)
		return nil, err
	}

	if err := p.Runtime.Start(ctx, containerID); err != nil {
		p.releaseAfterFailure(svc)
		return nil, fmt.Errorf("start failed for %s: %w", spec.Kind, err)
	}
	if err := p.awaitReady(ctx, spec, containerID, hostPort); err != nil {
		p.releaseAfterFailure(svc)
		return nil, err
	}

	if err := p.Store.SetServiceState(ctx, svc.ID, store.SvcRunning); err != nil {
		p.releaseAfterFailure(svc)
		return nil, err
	}
	svc.State = store.SvcRunning
	p.Logger.Info("service provisioned", "environment", env.ID, "kind", spec.Kind, "port", hostPort)
	return svc, nil
}

func (p *Provisioner) provisionManaged(ctx context.Context, env *store.Environment, spec catalog.Spec) (*store.ServiceInstance, error) {
	namespace := fmt.Sprintf("mockfactory-%s-%s", env.ID, spec.Kind)
	svc := &store.ServiceInstance{
		ID:            store.NewServiceID(),
		EnvironmentID: env.ID,
		Kind:          string(spec.Kind),
		Namespace:     &namespace,
	}
	err := p.Store.Tx(ctx, func(tx *sql.Tx) error {
		return p.Store.CreateServiceInstance(ctx, tx, svc)
	})
	if err != nil {
		return nil, err
	}

	if err := p.Objects.CreateNamespace(ctx, namespace); err != nil {
		p.releaseAfterFailure(svc)
		return nil, fmt.Errorf("namespace create failed for %s: %w", spec.Kind, err)
	}
	if err := p.Store.SetServiceState(ctx, svc.ID, store.SvcRunning); err != nil {
		p.releaseAfterFailure(svc)
		return nil, err
	}
	svc.State = store.SvcRunning
	p.Logger.Info("service provisioned", "environment", env.ID, "kind", spec.Kind, "namespace", namespace)
	return svc, nil
}

// awaitReady polls the readiness probe with linear backoff until success or
// the per-service timeout.
func (p *Provisioner) awaitReady(ctx context.Context, spec catalog.Spec, containerID string, hostPort int) error {
	deadline := time.Now().Add(p.ReadinessTimeout)
	wait := 500 * time.Millisecond
	for attempt := 1; ; attempt++ {
		if err := p.probe(ctx, spec, containerID, hostPort); err == nil {
			return nil
		}
		if time.Now().Add(wait).After(deadline) {
			return fmt.Errorf("%s not ready within %s: %w", spec.Kind, p.ReadinessTimeout, fault.ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("readiness wait aborted: %w", ctx.Err())
		case <-time.After(wait):
		}
		wait += 500 * time.Millisecond
	}
}

func (p *Provisioner) probe(ctx context.Context, spec catalog.Spec, containerID string, hostPort int) error {
	switch spec.Probe.Kind {
	case catalog.ProbeExec:
		res, err := p.Runtime.Exec(ctx, containerID, spec.Probe.Argv)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("probe exited %d: %s", res.ExitCode, res.Stderr)
		}
		return nil
	default:
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", p.Host, hostPort), 2*time.Second)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// rollback destroys already-created services in reverse creation order.
// Errors are logged and suppressed; the environment lands in ERROR with
// operator visibility.
func (p *Provisioner) rollback(created []*store.ServiceInstance) {
	for i := len(created) - 1; i >= 0; i-- {
		p.releaseAfterFailure(created[i])
	}
}

// releaseAfterFailure tears one instance down on a background context so
// cleanup survives the caller's expired deadline.
func (p *Provisioner) releaseAfterFailure(svc *store.ServiceInstance) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.DestroyService(ctx, svc); err != nil {
		p.Logger.Error("rollback failed", "service", svc.ID, "kind", svc.Kind, "error", err)
	}
}

// DestroyService removes one instance's external artifacts, releases its
// port, and marks it DESTROYED. Safe to call on partially created instances.
func (p *Provisioner) DestroyService(ctx context.Context, svc *store.ServiceInstance) error {
	if svc.ContainerID != nil {
		if err := p.Runtime.Remove(ctx, *svc.ContainerID, true); err != nil {
			return err
		}
	}
	if svc.Namespace != nil {
		if err := p.Objects.DeleteNamespace(ctx, *svc.Namespace); err != nil {
			return err
		}
	}
	return p.Store.Tx(ctx, func(tx *sql.Tx) error {
		if err := p.Ports.Release(ctx, tx, svc.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE service_instances SET state = ? WHERE id = ?`, store.SvcDestroyed, svc.ID)
		return err
	})
}

// StopServices stops the containers behind an environment's instances.
// Ports stay leased and credentials stay put.
func (p *Provisioner) StopServices(ctx context.Context, services []*store.ServiceInstance) error {
	for _, svc := range services {
		if svc.State != store.SvcRunning {
			continue
		}
		if svc.ContainerID != nil {
			if err := p.Runtime.Stop(ctx, *svc.ContainerID, 10*time.Second); err != nil {
				return fmt.Errorf("stop failed for %s: %w", svc.Kind, err)
			}
		}
		if err := p.Store.SetServiceState(ctx, svc.ID, store.SvcStopped); err != nil {
			return err
		}
	}
	return nil
}

// StartServices restarts stopped instances without recreation: same
// containers, same ports, same credentials.
func (p *Provisioner) StartServices(ctx context.Context, services []*store.ServiceInstance) error {
	for _, svc := range services {
		if svc.State != store.SvcStopped {
			continue
		}
		if svc.ContainerID != nil {
			spec, err := catalog.Lookup(catalog.Kind(svc.Kind))
			if err != nil {
				return err
			}
			if err := p.Runtime.Start(ctx, *svc.ContainerID); err != nil {
				return fault.Provisioningf("restart failed for %s: %v", svc.Kind, err)
			}
			port := 0
			if svc.Port != nil {
				port = *svc.Port
			}
			if err := p.awaitReady(ctx, spec, *svc.ContainerID, port); err != nil {
				return fault.Provisioningf("restart readiness failed for %s: %v", svc.Kind, err)
			}
		}
		if err := p.Store.SetServiceState(ctx, svc.ID, store.SvcRunning); err != nil {
			return err
		}
	}
	return nil
}

func randomPassword() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}
