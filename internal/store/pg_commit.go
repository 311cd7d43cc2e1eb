package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"metergate/internal/types"
)

// Commit applies a consumption plan in one transaction. Every write carries
// its own guard in SQL, so a stale snapshot surfaces as zero rows affected
// and the whole transaction rolls back with Conflict=true. The caller
// re-reads and re-evaluates; nothing is ever half-applied.
func (s *PG) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return CommitResult{}, types.NewAppError(types.ErrCodeInternalDB, "failed to begin commit transaction", err)
	}
	defer tx.Rollback(ctx)

	if req.IdempotencyKey != "" {
		prev, found, err := s.lookupCommit(ctx, tx, req)
		if err != nil {
			return CommitResult{}, err
		}
		if found {
			prev.Replayed = true
			return prev, nil
		}
	}

	// Monthly counter compare-and-swap. The insert arm only runs for a fresh
	// period, where the expected value is necessarily zero; the update arm
	// requires the counter to still match the snapshot the decision used.
	newTotal, ok, err := s.bumpCounter(ctx, tx, req.TenantID, req.Metric, req.MonthPeriod,
		req.Units, req.ExpectedMonthlyUsage)
	if err != nil {
		return CommitResult{}, err
	}
	if !ok {
		return CommitResult{Conflict: true}, nil
	}

	if req.TrackDaily {
		if _, ok, err = s.bumpCounter(ctx, tx, req.TenantID, req.Metric, req.DayPeriod,
			req.Units, req.ExpectedDailyUsage); err != nil {
			return CommitResult{}, err
		}
		if !ok {
			return CommitResult{Conflict: true}, nil
		}
	}

	for _, d := range req.Plan.PackDebits {
		tag, err := tx.Exec(ctx, `
			UPDATE packs
			SET units_remaining = units_remaining - $2,
			    retired_at = CASE WHEN units_remaining - $2 = 0 THEN $3 ELSE retired_at END
			WHERE id = $1
			  AND retired_at IS NULL
			  AND units_remaining >= $2
			  AND expires_at > $3`,
			d.PackID, d.Units, req.Now,
		)
		if err != nil {
			return CommitResult{}, types.NewAppError(types.ErrCodeInternalDB, "failed to debit pack", err)
		}
		if tag.RowsAffected() == 0 {
			return CommitResult{Conflict: true}, nil
		}
	}

	if req.Plan.OverageCost > 0 {
		// The insert arm handles the fresh ledger (accrued starts at the cost
		// itself) and the update arm re-checks the cap against the live total.
		if req.Plan.OverageCost > req.SpendCap {
			return CommitResult{Conflict: true}, nil
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO overage_ledgers (tenant_id, period, accrued_usd_micros, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (tenant_id, period) DO UPDATE
			SET accrued_usd_micros = overage_ledgers.accrued_usd_micros + $3,
			    updated_at = now()
			WHERE overage_ledgers.accrued_usd_micros + $3 <= $4`,
			req.TenantID, req.MonthPeriod, req.Plan.OverageCost, req.SpendCap,
		)
		if err != nil {
			return CommitResult{}, types.NewAppError(types.ErrCodeInternalDB, "failed to accrue overage", err)
		}
		if tag.RowsAffected() == 0 {
			return CommitResult{Conflict: true}, nil
		}
	}

	res := CommitResult{NewMonthlyTotal: newTotal}
	if req.IdempotencyKey != "" {
		if _, err := tx.Exec(ctx, `
			INSERT INTO commit_log (idempotency_key, tenant_id, metric, units, new_monthly_total, created_at)
			VALUES ($1, $2, $3, $4, $5, now())`,
			req.IdempotencyKey, req.TenantID, req.Metric, req.Units, res.NewMonthlyTotal,
		); err != nil {
			return CommitResult{}, types.NewAppError(types.ErrCodeInternalDB, "failed to record commit", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return CommitResult{}, types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return res, nil
}

// lookupCommit resolves a replayed idempotency key. A key that was recorded
// for a different tenant, metric, or unit count is a caller bug, reported as
// a conflict rather than returning the unrelated stored result.
func (s *PG) lookupCommit(ctx context.Context, tx pgx.Tx, req CommitRequest) (CommitResult, bool, error) {
	var (
		res      CommitResult
		tenantID string
		metric   types.Metric
		units    int64
	)
	err := tx.QueryRow(ctx, `
		SELECT tenant_id, metric, units, new_monthly_total
		FROM commit_log
		WHERE idempotency_key = $1`,
		req.IdempotencyKey,
	).Scan(&tenantID, &metric, &units, &res.NewMonthlyTotal)
	if errors.Is(err, pgx.ErrNoRows) {
		return CommitResult{}, false, nil
	}
	if err != nil {
		return CommitResult{}, false, types.NewAppError(types.ErrCodeInternalDB, "failed to look up commit log", err)
	}
	if tenantID != req.TenantID || metric != req.Metric || units != req.Units {
		return CommitResult{}, false, types.NewAppError(types.ErrCodeConflictIdempotency,
			fmt.Sprintf("idempotency key %q was used by a different request", req.IdempotencyKey), nil)
	}
	return res, true, nil
}

// bumpCounter is the guarded counter increment shared by the monthly and
// daily periods. Returns the new total and whether the guard held.
func (s *PG) bumpCounter(ctx context.Context, tx pgx.Tx, tenantID string, metric types.Metric, period types.Period, units, expected int64) (int64, bool, error) {
	var newTotal int64
	err := tx.QueryRow(ctx, `
		INSERT INTO usage_counters (tenant_id, metric, period, amount_used, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (tenant_id, metric, period) DO UPDATE
		SET amount_used = usage_counters.amount_used + $4,
		    updated_at = now()
		WHERE usage_counters.amount_used = $5
		RETURNING amount_used`,
		tenantID, metric, period, units, expected,
	).Scan(&newTotal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, types.NewAppError(types.ErrCodeInternalDB, "failed to increment usage counter", err)
	}
	// The insert arm ignores the expected-value guard; it can only have run
	// when no row existed, which is only consistent with a zero snapshot.
	if newTotal == units && expected != 0 {
		return 0, false, nil
	}
	return newTotal, true, nil
}
