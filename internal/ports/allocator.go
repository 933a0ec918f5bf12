// Package ports leases host ports from a bounded range. The store's unique
// partial index on active allocations is the correctness anchor; the
// allocator retries a bounded number of times when it loses a race.
package ports

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/store"
)

const maxLeaseRetries = 3

// Allocator hands out uncontested host ports in [Lo, Hi].
type Allocator struct {
	Store  *store.Store
	Lo, Hi int
	Logger *slog.Logger
}

// New builds an allocator over the given range.
func New(st *store.Store, lo, hi int, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{Store: st, Lo: lo, Hi: hi, Logger: logger}
}

// Lease allocates the smallest free port for a service instance, inside the
// caller's transaction. Exhaustion and lost races both end in PortsExhausted.
func (a *Allocator) Lease(ctx context.Context, tx *sql.Tx, serviceID string) (int, error) {
	port, err := a.Store.LeasePort(ctx, tx, serviceID, a.Lo, a.Hi)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return 0, fault.ErrPortsExhausted
		}
		return 0, err
	}
	return port, nil
}

// LeaseTx allocates in its own transaction, retrying bounded on conflicts.
func (a *Allocator) LeaseTx(ctx context.Context, serviceID string) (int, error) {
	var port int
	for attempt := 0; attempt < maxLeaseRetries; attempt++ {
		err := a.Store.Tx(ctx, func(tx *sql.Tx) error {
			var err error
			port, err = a.Lease(ctx, tx, serviceID)
			return err
		})
		if err == nil {
			return port, nil
		}
		if errors.Is(err, fault.ErrConflict) && !errors.Is(err, fault.ErrPortsExhausted) {
			a.Logger.Debug("port lease lost race, retrying", "service", serviceID, "attempt", attempt+1)
			continue
		}
		return 0, err
	}
	return 0, fault.ErrPortsExhausted
}

// Release flips a service's allocations inactive inside the caller's
// transaction. Rows are retained for audit.
func (a *Allocator) Release(ctx context.Context, tx *sql.Tx, serviceID string) error {
	return a.Store.ReleasePortsForService(ctx, tx, serviceID)
}
