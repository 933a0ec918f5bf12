// Package metering accrues per-second usage into hourly-rated intervals and
// reconciles long-running environments on hour boundaries.
package metering

import (
	"context"
	"log/slog"
	"time"

	"github.com/afterdarksys/mockfactory/internal/catalog"
	"github.com/afterdarksys/mockfactory/internal/store"
)

// Meter owns usage-interval bookkeeping.
type Meter struct {
	Store  *store.Store
	Logger *slog.Logger
}

// New builds a meter.
func New(st *store.Store, logger *slog.Logger) *Meter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{Store: st, Logger: logger}
}

// RateForKinds sums the static per-kind hourly rates. Unknown kinds rate
// zero; the catalog rejects them before provisioning anyway.
func RateForKinds(kinds []catalog.Kind) float64 {
	var rate float64
	for _, k := range kinds {
		if spec, err := catalog.Lookup(k); err == nil {
			rate += spec.HourlyRate
		}
	}
	return rate
}

// maxRolloverPasses bounds catch-up after long downtime: 7 days of hours.
const maxRolloverPasses = 7 * 24

// Reconcile closes every open interval older than one hour at its hour
// boundary and reopens a fresh one at the same boundary. Billing granularity
// stays decoupled from environment lifetime, and worst-case loss on crash is
// bounded to one hour.
func (m *Meter) Reconcile(ctx context.Context) error {
	for pass := 0; pass < maxRolloverPasses; pass++ {
		now := m.Store.Now()
		open, err := m.Store.OpenIntervalsOlderThan(ctx, now.Add(-time.Hour))
		if err != nil {
			return err
		}
		if len(open) == 0 {
			return nil
		}
		for _, iv := range open {
			boundary := iv.PeriodStart.Truncate(time.Hour).Add(time.Hour)
			if boundary.Before(iv.PeriodStart) || boundary.After(now) {
				boundary = iv.PeriodStart.Add(time.Hour)
			}
			if err := m.Store.RolloverInterval(ctx, iv.ID, boundary); err != nil {
				m.Logger.Error("interval rollover failed",
					"environment", iv.EnvironmentID, "interval", iv.ID, "error", err)
			}
		}
	}
	return nil
}
