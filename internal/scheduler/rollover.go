// Package scheduler implements the scheduled maintenance jobs that run at
// period boundaries. Monthly counters roll over implicitly (a new period key
// starts a fresh row and closed periods survive for audit), so the rollover
// job's work is the bookkeeping around that boundary: retiring expired packs
// and evaluating downgrade suggestions across the tenant population.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"metergate/internal/store"
	"metergate/internal/types"
)

// DowngradeEvaluator is the tier-manager surface the job needs.
type DowngradeEvaluator interface {
	EvaluateDowngrade(ctx context.Context, tenantID string, now time.Time) (bool, error)
}

// RolloverSummary reports one job run.
type RolloverSummary struct {
	PacksRetired        int   `json:"packs_retired"`
	RowsPruned          int64 `json:"rows_pruned"`
	TenantsScanned      int64 `json:"tenants_scanned"`
	DowngradesSuggested int64 `json:"downgrades_suggested"`
	TenantErrors        int64 `json:"tenant_errors"`
}

// Rollover is the month-boundary maintenance job.
type Rollover struct {
	store      store.Store
	tiers      DowngradeEvaluator
	clock      types.Clock
	logger     *slog.Logger
	pageSize   int
	workers    int
	keepMonths int
}

// NewRollover wires the job. pageSize bounds tenant listing pages, workers
// bounds concurrent downgrade evaluations, and keepMonths sets the audit
// retention window for closed periods.
func NewRollover(st store.Store, tiers DowngradeEvaluator, clock types.Clock, logger *slog.Logger, pageSize, workers, keepMonths int) *Rollover {
	if pageSize <= 0 {
		pageSize = 200
	}
	if workers <= 0 {
		workers = 8
	}
	if keepMonths <= 0 {
		keepMonths = 13
	}
	return &Rollover{
		store:      st,
		tiers:      tiers,
		clock:      clock,
		logger:     logger,
		pageSize:   pageSize,
		workers:    workers,
		keepMonths: keepMonths,
	}
}

// Run executes one pass. Per-tenant downgrade failures are counted and
// logged, not fatal: one broken tenant must not stall the population sweep.
func (j *Rollover) Run(ctx context.Context) (RolloverSummary, error) {
	now := j.clock.Now()
	var summary RolloverSummary

	retired, err := j.store.RetireExpiredPacks(ctx, now)
	if err != nil {
		return summary, err
	}
	summary.PacksRetired = retired

	cutoff := types.MonthPeriod(now.AddDate(0, -j.keepMonths, 0))
	pruned, err := j.store.PruneHistory(ctx, cutoff)
	if err != nil {
		return summary, err
	}
	summary.RowsPruned = pruned

	var scanned, suggested, failed int64
	afterID := ""
	for {
		ids, err := j.store.ListTenantIDs(ctx, afterID, j.pageSize)
		if err != nil {
			return summary, err
		}
		if len(ids) == 0 {
			break
		}
		afterID = ids[len(ids)-1]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(j.workers)
		for _, id := range ids {
			g.Go(func() error {
				atomic.AddInt64(&scanned, 1)
				fired, err := j.tiers.EvaluateDowngrade(gctx, id, now)
				if err != nil {
					atomic.AddInt64(&failed, 1)
					j.logger.Error("downgrade evaluation failed",
						"error", err.Error(), "tenant_id", id)
					return nil
				}
				if fired {
					atomic.AddInt64(&suggested, 1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return summary, err
		}
		if len(ids) < j.pageSize {
			break
		}
	}

	summary.TenantsScanned = scanned
	summary.DowngradesSuggested = suggested
	summary.TenantErrors = failed

	j.logger.Info("rollover run complete",
		"packs_retired", summary.PacksRetired,
		"rows_pruned", summary.RowsPruned,
		"tenants_scanned", summary.TenantsScanned,
		"downgrades_suggested", summary.DowngradesSuggested,
		"tenant_errors", summary.TenantErrors,
	)
	return summary, nil
}
