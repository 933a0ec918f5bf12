// Package scheduler runs the periodic maintenance loops: idle auto-shutdown,
// port-allocation GC, expired-environment purge, and usage-interval
// reconciliation. Each loop is a plain ticker with a heartbeat log line and a
// panic guard so one bad pass never kills the process.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/lifecycle"
	"github.com/afterdarksys/mockfactory/internal/metering"
	"github.com/afterdarksys/mockfactory/internal/runtime"
	"github.com/afterdarksys/mockfactory/internal/store"
)

// Scheduler owns the background loops. Intervals are fields so tests can
// shrink them.
type Scheduler struct {
	Store     *store.Store
	Lifecycle *lifecycle.Manager
	Meter     *metering.Meter
	Runtime   runtime.Adapter
	Logger    *slog.Logger

	AutoShutdownEvery time.Duration
	PortGCEvery       time.Duration
	PurgeEvery        time.Duration
	ReconcileEvery    time.Duration
}

// New builds a scheduler with the default cadences.
func New(st *store.Store, lm *lifecycle.Manager, meter *metering.Meter, rt runtime.Adapter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Store:             st,
		Lifecycle:         lm,
		Meter:             meter,
		Runtime:           rt,
		Logger:            logger,
		AutoShutdownEvery: 15 * time.Minute,
		PortGCEvery:       10 * time.Minute,
		PurgeEvery:        time.Hour,
		ReconcileEvery:    time.Hour,
	}
}

// Run starts every loop and blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	go s.loop(ctx, "auto-shutdown", s.AutoShutdownEvery, s.AutoShutdownPass)
	go s.loop(ctx, "port-gc", s.PortGCEvery, s.PortGCPass)
	go s.loop(ctx, "purge", s.PurgeEvery, s.PurgePass)
	go s.loop(ctx, "metering-reconcile", s.ReconcileEvery, s.Meter.Reconcile)
	<-ctx.Done()
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, pass func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("scheduler loop stopped", "loop", name)
			return
		case <-ticker.C:
			s.runPass(ctx, name, pass)
		}
	}
}

// runPass executes one pass with a panic guard and a heartbeat.
func (s *Scheduler) runPass(ctx context.Context, name string, pass func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("scheduler pass panicked", "loop", name, "panic", r)
		}
	}()
	start := time.Now()
	if err := pass(ctx); err != nil {
		s.Logger.Error("scheduler pass failed", "loop", name, "error", err)
		return
	}
	s.Logger.Debug("scheduler pass done", "loop", name, "elapsed", time.Since(start))
}

// AutoShutdownPass stops RUNNING environments idle past their auto-shutdown
// window.
func (s *Scheduler) AutoShutdownPass(ctx context.Context) error {
	envs, err := s.Store.EnvironmentsByState(ctx, store.EnvRunning)
	if err != nil {
		return err
	}
	now := s.Store.Now()
	for _, env := range envs {
		if env.AutoShutdownAfter <= 0 {
			continue
		}
		if now.Sub(env.LastActivityAt) < env.AutoShutdownAfter {
			continue
		}
		s.Logger.Info("auto-shutdown", "environment", env.ID,
			"idle", now.Sub(env.LastActivityAt).Truncate(time.Second))
		if err := s.Lifecycle.Stop(ctx, env.ID); err != nil {
			// A concurrent transition is fine; anything else gets logged.
			if !errors.Is(err, fault.ErrConflict) {
				s.Logger.Error("auto-shutdown failed", "environment", env.ID, "error", err)
			}
		}
	}
	return nil
}

// PortGCPass releases allocations whose service is gone: the instance row is
// DESTROYED, missing, or its container no longer exists.
func (s *Scheduler) PortGCPass(ctx context.Context) error {
	allocs, err := s.Store.ActivePorts(ctx)
	if err != nil {
		return err
	}
	for _, pa := range allocs {
		svc, err := s.Store.ServiceInstance(ctx, pa.ServiceID)
		orphaned := false
		switch {
		case errors.Is(err, fault.ErrNotFound):
			orphaned = true
		case err != nil:
			return err
		case svc.State == store.SvcDestroyed:
			orphaned = true
		case svc.ContainerID != nil:
			if _, ierr := s.Runtime.Inspect(ctx, *svc.ContainerID); ierr != nil {
				orphaned = true
			}
		}
		if !orphaned {
			continue
		}
		s.Logger.Info("releasing orphaned port", "port", pa.Port, "service", pa.ServiceID)
		if err := s.Store.ReleaseAllocation(ctx, pa.ID); err != nil {
			s.Logger.Error("port release failed", "port", pa.Port, "error", err)
		}
	}
	return nil
}

// PurgePass destroys environments whose auto-delete deadline passed.
func (s *Scheduler) PurgePass(ctx context.Context) error {
	envs, err := s.Store.ExpiredEnvironments(ctx)
	if err != nil {
		return err
	}
	for _, env := range envs {
		s.Logger.Info("purging expired environment", "environment", env.ID)
		if err := s.Lifecycle.Destroy(ctx, env.ID); err != nil {
			s.Logger.Error("purge failed", "environment", env.ID, "error", err)
		}
	}
	return nil
}
