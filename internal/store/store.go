// Package store provides the persistence layer for the metering engine: the
// usage ledger, pack ledger, overage accumulator, alert state, bump records,
// and tenant billing records. Two implementations exist: a PostgreSQL store
// (production) and an in-memory store (local mode and concurrency tests).
//
// The central contract is Commit: it applies a consumption plan computed by
// the pure authorizer as ONE atomic transaction, re-verifying the counter and
// pack/overage preconditions under locks. A failed precondition reports a
// conflict (the caller re-evaluates and retries), never a silent partial
// write. This collapses the check-then-act race into a compare-and-swap.
package store

import (
	"context"
	"time"

	"metergate/internal/types"
)

// UsageView is the read snapshot the authorizer evaluates: current counters,
// usable packs, and accrued overage for one (tenant, metric) at one instant.
type UsageView struct {
	MonthlyUsage   int64
	DailyUsage     int64
	Packs          []types.Pack
	OverageAccrued types.USDMicros
}

// CommitRequest applies an allowed decision's consumption plan. Expected*
// fields are optimistic-concurrency guards: the commit fails with
// Conflict=true when storage no longer matches the snapshot the decision was
// computed from, and the caller re-reads and re-evaluates.
type CommitRequest struct {
	TenantID    string
	Metric      types.Metric
	MonthPeriod types.Period
	Units       int64

	// ExpectedMonthlyUsage is the counter value the decision was based on.
	ExpectedMonthlyUsage int64

	// TrackDaily enables the trial daily sub-counter for this commit.
	TrackDaily         bool
	DayPeriod          types.Period
	ExpectedDailyUsage int64

	// Plan is the bundle/pack/overage split to apply. Pack debits reference
	// concrete pack IDs; overage cost is committed against the spend cap.
	Plan types.ConsumptionPlan

	// SpendCap re-asserts the cap inside the transaction so that the overage
	// accrual and its guard are one atomic operation.
	SpendCap types.USDMicros

	Now time.Time

	// IdempotencyKey deduplicates retried commits. A replay returns the
	// original result without double-counting usage.
	IdempotencyKey string
}

// CommitResult reports the outcome of an atomic commit.
type CommitResult struct {
	// Conflict is true when an optimistic guard failed (counter moved, pack
	// drained concurrently, or spend cap no longer admits the accrual). The
	// caller must re-read state and re-evaluate; this is not an error.
	Conflict bool

	// Replayed is true when IdempotencyKey matched a previous commit and the
	// stored result was returned instead of applying the plan again.
	Replayed bool

	NewMonthlyTotal int64
}

// Ledger is the transactional surface the authorization service depends on.
type Ledger interface {
	// UsageView reads the decision snapshot for one (tenant, metric).
	UsageView(ctx context.Context, tenantID string, metric types.Metric, month, day types.Period) (UsageView, error)

	// CurrentUsage returns the counter value for read-only queries
	// (dashboards, downgrade evaluation).
	CurrentUsage(ctx context.Context, tenantID string, metric types.Metric, period types.Period) (int64, error)

	// OverageAccrued returns the month's accrued overage for read-only
	// queries. The authorization path reads it through UsageView instead.
	OverageAccrued(ctx context.Context, tenantID string, period types.Period) (types.USDMicros, error)

	// Commit atomically applies a consumption plan. See CommitRequest.
	Commit(ctx context.Context, req CommitRequest) (CommitResult, error)

	// PruneHistory deletes usage counters, overage ledgers, and alert state
	// for periods strictly before the cutoff. Closed periods are kept for a
	// retention window for audit, then dropped by the rollover job. Returns
	// the number of rows removed.
	PruneHistory(ctx context.Context, before types.Period) (int64, error)
}

// AlertStates is the idempotency guard for threshold events.
type AlertStates interface {
	// FiredThresholds returns the thresholds already emitted for the key.
	FiredThresholds(ctx context.Context, tenantID string, metric types.Metric, period types.Period) (map[float64]bool, error)

	// MarkThresholdFired records a threshold emission. Returns false when the
	// threshold was already marked (a concurrent emitter won), in which case
	// the caller must not emit the event again.
	MarkThresholdFired(ctx context.Context, tenantID string, metric types.Metric, period types.Period, threshold float64) (bool, error)
}

// Packs manages prepaid pack records. Consumption happens inside Commit;
// these methods cover provisioning, reads, and maintenance.
type Packs interface {
	CreatePack(ctx context.Context, p *types.Pack) error
	ListPacks(ctx context.Context, tenantID string, metric types.Metric) ([]types.Pack, error)

	// RetireExpiredPacks marks expired packs retired (they remain for audit).
	// Returns the number of packs retired.
	RetireExpiredPacks(ctx context.Context, now time.Time) (int, error)
}

// Bumps manages auto-bump records and forgiveness accounting.
type Bumps interface {
	// BumpForMonth returns the bump record for the tenant-month, or nil.
	BumpForMonth(ctx context.Context, tenantID string, month types.Period) (*types.BumpRecord, error)

	// CreateBump inserts a bump record. Fails with
	// conflict_bump_already_recorded when a non-forgiven record already
	// exists for the month (the at-most-one-bump invariant is enforced by
	// storage, not just by the manager's in-memory state).
	CreateBump(ctx context.Context, rec *types.BumpRecord) error

	// MarkForgiven stamps the record's ForgivenAt and consumes the credit.
	MarkForgiven(ctx context.Context, bumpID string, at time.Time) error

	// LastForgivenessAt returns the most recent forgiveness instant for the
	// tenant, or nil when none exists.
	LastForgivenessAt(ctx context.Context, tenantID string) (*time.Time, error)
}

// Tenants reads and updates tenant billing records. Provisioning owns
// creation; this core only rewrites the plan code during bump/forgiveness.
type Tenants interface {
	GetTenant(ctx context.Context, tenantID string) (*types.TenantBilling, error)
	UpdateTenantPlan(ctx context.Context, tenantID string, plan types.PlanCode) error

	// ListTenantIDs pages through all tenants for scheduled jobs.
	ListTenantIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// Store is the full persistence surface.
type Store interface {
	Ledger
	AlertStates
	Packs
	Bumps
	Tenants
}
