package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"metergate/internal/types"
)

// PG is the PostgreSQL-backed Store. Reads go straight through the pool;
// Commit opens its own transaction (see pg_commit.go).
type PG struct {
	db TxBeginner
}

var _ Store = (*PG)(nil)

// NewPG creates a PostgreSQL store backed by the given pool.
func NewPG(db TxBeginner) *PG {
	return &PG{db: db}
}

func (s *PG) UsageView(ctx context.Context, tenantID string, metric types.Metric, month, day types.Period) (UsageView, error) {
	var view UsageView

	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(amount_used) FILTER (WHERE period = $3), 0),
		       COALESCE(MAX(amount_used) FILTER (WHERE period = $4), 0)
		FROM usage_counters
		WHERE tenant_id = $1 AND metric = $2 AND period IN ($3, $4)`,
		tenantID, metric, month, day,
	).Scan(&view.MonthlyUsage, &view.DailyUsage)
	if err != nil {
		return UsageView{}, types.NewAppError(types.ErrCodeInternalDB, "failed to read usage counters", err)
	}

	packs, err := s.ListPacks(ctx, tenantID, metric)
	if err != nil {
		return UsageView{}, err
	}
	view.Packs = packs

	accrued, err := s.OverageAccrued(ctx, tenantID, month)
	if err != nil {
		return UsageView{}, err
	}
	view.OverageAccrued = accrued

	return view, nil
}

func (s *PG) CurrentUsage(ctx context.Context, tenantID string, metric types.Metric, period types.Period) (int64, error) {
	var used int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(amount_used, 0)
		FROM usage_counters
		WHERE tenant_id = $1 AND metric = $2 AND period = $3`,
		tenantID, metric, period,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to read usage counter", err)
	}
	return used, nil
}

func (s *PG) OverageAccrued(ctx context.Context, tenantID string, period types.Period) (types.USDMicros, error) {
	var accrued types.USDMicros
	err := s.db.QueryRow(ctx, `
		SELECT accrued_usd_micros
		FROM overage_ledgers
		WHERE tenant_id = $1 AND period = $2`,
		tenantID, period,
	).Scan(&accrued)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to read overage ledger", err)
	}
	return accrued, nil
}

// PruneHistory drops period-keyed rows older than the cutoff. Period strings
// compare lexicographically for both monthly and daily keys.
func (s *PG) PruneHistory(ctx context.Context, before types.Period) (int64, error) {
	var total int64
	for _, q := range []string{
		`DELETE FROM usage_counters WHERE period < $1`,
		`DELETE FROM overage_ledgers WHERE period < $1`,
		`DELETE FROM alert_states WHERE period < $1`,
	} {
		tag, err := s.db.Exec(ctx, q, before)
		if err != nil {
			return total, types.NewAppError(types.ErrCodeInternalDB, "failed to prune closed periods", err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func (s *PG) FiredThresholds(ctx context.Context, tenantID string, metric types.Metric, period types.Period) (map[float64]bool, error) {
	rows, err := s.db.Query(ctx, `
		SELECT threshold
		FROM alert_states
		WHERE tenant_id = $1 AND metric = $2 AND period = $3`,
		tenantID, metric, period,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query alert states", err)
	}
	defer rows.Close()

	fired := make(map[float64]bool)
	for rows.Next() {
		var th float64
		if err := rows.Scan(&th); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert state row", err)
		}
		fired[th] = true
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating alert state rows", err)
	}
	return fired, nil
}

// MarkThresholdFired relies on the primary key to arbitrate races: the first
// inserter wins and emits the event, later inserters see a no-op.
func (s *PG) MarkThresholdFired(ctx context.Context, tenantID string, metric types.Metric, period types.Period, threshold float64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO alert_states (tenant_id, metric, period, threshold, fired_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (tenant_id, metric, period, threshold) DO NOTHING`,
		tenantID, metric, period, threshold,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark threshold fired", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PG) CreatePack(ctx context.Context, p *types.Pack) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO packs (id, tenant_id, metric, units_remaining, purchased_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.TenantID, p.Metric, p.UnitsRemaining, p.PurchasedAt, p.ExpiresAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert pack", err)
	}
	return nil
}

func (s *PG) ListPacks(ctx context.Context, tenantID string, metric types.Metric) ([]types.Pack, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, metric, units_remaining, purchased_at, expires_at, retired_at
		FROM packs
		WHERE tenant_id = $1 AND metric = $2
		ORDER BY purchased_at ASC`,
		tenantID, metric,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query packs", err)
	}
	defer rows.Close()

	var packs []types.Pack
	for rows.Next() {
		var p types.Pack
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Metric, &p.UnitsRemaining,
			&p.PurchasedAt, &p.ExpiresAt, &p.RetiredAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan pack row", err)
		}
		packs = append(packs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating pack rows", err)
	}
	return packs, nil
}

func (s *PG) RetireExpiredPacks(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE packs
		SET retired_at = $1
		WHERE retired_at IS NULL AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to retire expired packs", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PG) BumpForMonth(ctx context.Context, tenantID string, month types.Period) (*types.BumpRecord, error) {
	var b types.BumpRecord
	err := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, month, from_plan, to_plan, prorated_cents, created_at, forgiven_at
		FROM bump_records
		WHERE tenant_id = $1 AND month = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		tenantID, month,
	).Scan(&b.ID, &b.TenantID, &b.Month, &b.FromPlan, &b.ToPlan,
		&b.ProratedCents, &b.CreatedAt, &b.ForgivenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read bump record", err)
	}
	return &b, nil
}

// CreateBump inserts the record behind a partial unique index on
// (tenant_id, month) WHERE forgiven_at IS NULL, so the one-bump-per-month
// invariant holds even across racing processes.
func (s *PG) CreateBump(ctx context.Context, rec *types.BumpRecord) error {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO bump_records (id, tenant_id, month, from_plan, to_plan, prorated_cents, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM bump_records
			WHERE tenant_id = $2 AND month = $3 AND forgiven_at IS NULL
		)`,
		rec.ID, rec.TenantID, rec.Month, rec.FromPlan, rec.ToPlan, rec.ProratedCents, rec.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert bump record", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictBumpExists,
			fmt.Sprintf("tenant %s already bumped in %s", rec.TenantID, rec.Month), nil)
	}
	return nil
}

func (s *PG) MarkForgiven(ctx context.Context, bumpID string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE bump_records
		SET forgiven_at = $2
		WHERE id = $1 AND forgiven_at IS NULL`,
		bumpID, at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark bump forgiven", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundBump,
			fmt.Sprintf("bump record %s not found or already forgiven", bumpID), nil)
	}
	return nil
}

func (s *PG) LastForgivenessAt(ctx context.Context, tenantID string) (*time.Time, error) {
	var at *time.Time
	err := s.db.QueryRow(ctx, `
		SELECT MAX(forgiven_at)
		FROM bump_records
		WHERE tenant_id = $1 AND forgiven_at IS NOT NULL`,
		tenantID,
	).Scan(&at)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read forgiveness history", err)
	}
	return at, nil
}

func (s *PG) GetTenant(ctx context.Context, tenantID string) (*types.TenantBilling, error) {
	var t types.TenantBilling
	err := s.db.QueryRow(ctx, `
		SELECT id, plan, timezone, trial_ends_at, overages_enabled, spend_cap_usd_micros,
		       auto_bump_on, quiet_hours, stripe_subscription_id, created_at, updated_at
		FROM tenant_billing
		WHERE id = $1`,
		tenantID,
	).Scan(&t.ID, &t.Plan, &t.Timezone, &t.TrialEndsAt, &t.OveragesEnabled, &t.SpendCap,
		&t.AutoBumpOn, &t.QuietHours, &t.StripeSubscriptionID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundTenant,
			fmt.Sprintf("tenant %s not found", tenantID), nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read tenant billing record", err)
	}
	return &t, nil
}

func (s *PG) UpdateTenantPlan(ctx context.Context, tenantID string, plan types.PlanCode) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE tenant_billing
		SET plan = $2, updated_at = now()
		WHERE id = $1`,
		tenantID, plan,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update tenant plan", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTenant,
			fmt.Sprintf("tenant %s not found", tenantID), nil)
	}
	return nil
}

func (s *PG) ListTenantIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id
		FROM tenant_billing
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list tenants", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan tenant id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating tenant ids", err)
	}
	return ids, nil
}
