// Package billing implements the tier transition manager: auto-bump on
// lead-event exhaustion, bump forgiveness, downgrade suggestion, and the
// Stripe subscription synchronization behind a circuit breaker.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"metergate/internal/catalog"
	"metergate/internal/store"
	"metergate/internal/types"
)

// downgradeThreshold is the fraction of the lead-event cap below which a
// month counts toward a downgrade suggestion.
const downgradeThreshold = 0.60

// downgradeWindowMonths is how many consecutive qualifying months trigger the
// suggestion.
const downgradeWindowMonths = 2

// EventPublisher is the async event sink for tier transitions.
type EventPublisher interface {
	Publish(ctx context.Context, eventType types.EventType, payload any) error
}

// SubscriptionUpdater pushes tier changes to the external billing provider.
// Failures are logged and left to billing reconciliation; the local state
// transition is the source of truth.
type SubscriptionUpdater interface {
	UpdateSubscriptionTier(ctx context.Context, subscriptionID string, plan types.PlanCode) error
}

// Manager owns the per-tenant monthly bump state machine. All methods are
// safe to call repeatedly: the bump record in storage arbitrates duplicates,
// so the manager can be invoked from racing authorization workers.
type Manager struct {
	store     store.Store
	catalog   *catalog.Catalog
	publisher EventPublisher
	subs      SubscriptionUpdater
	clock     types.Clock
	logger    *slog.Logger
}

// NewManager wires the tier transition manager. subs may be nil in local mode.
func NewManager(
	st store.Store,
	cat *catalog.Catalog,
	publisher EventPublisher,
	subs SubscriptionUpdater,
	clock types.Clock,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		store:     st,
		catalog:   cat,
		publisher: publisher,
		subs:      subs,
		clock:     clock,
		logger:    logger,
	}
}

// State reports the tenant's bump state for the month containing now. A
// standing bump with the quarterly forgiveness credit still available is
// BumpedOnce; once the credit is spent, no transition remains this month and
// the state is BumpBlocked.
func (m *Manager) State(ctx context.Context, tenantID string, now time.Time) (types.BumpState, error) {
	rec, err := m.store.BumpForMonth(ctx, tenantID, types.MonthPeriod(now))
	if err != nil {
		return "", err
	}
	if rec == nil || rec.Forgiven() {
		return types.BumpStable, nil
	}

	last, err := m.store.LastForgivenessAt(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if last != nil && last.After(types.QuarterKey(now)) {
		return types.BumpBlocked, nil
	}
	return types.BumpedOnce, nil
}

// HandleLeadExhaustion runs the auto-bump transition. It is a no-op when the
// tenant is on trial, has auto-bump disabled, already bumped this month, or
// sits at the top of the ladder. The storage-level uniqueness of bump records
// makes concurrent invocations converge on exactly one bump.
func (m *Manager) HandleLeadExhaustion(ctx context.Context, tenantID string, now time.Time) error {
	tenant, err := m.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if !tenant.AutoBumpOn || tenant.OnTrial(now) {
		return nil
	}

	month := types.MonthPeriod(now)
	existing, err := m.store.BumpForMonth(ctx, tenantID, month)
	if err != nil {
		return err
	}
	if existing != nil && !existing.Forgiven() {
		// BumpedOnce: the single monthly bump is spent, further exhaustion
		// reports are absorbed here.
		return nil
	}

	cur, err := m.catalog.Tier(tenant.Plan)
	if err != nil {
		return err
	}
	next, ok := m.catalog.NextTier(tenant.Plan)
	if !ok {
		m.logger.Info("lead exhaustion at top tier, no bump available",
			"tenant_id", tenantID, "plan", string(tenant.Plan))
		return nil
	}

	rec := &types.BumpRecord{
		ID:            "bump_" + uuid.NewString(),
		TenantID:      tenantID,
		Month:         month,
		FromPlan:      cur.Code,
		ToPlan:        next.Code,
		ProratedCents: ProratedCents(cur.PriceCents, next.PriceCents, now),
		CreatedAt:     now,
	}
	if err := m.store.CreateBump(ctx, rec); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictBumpExists {
			// A racing worker bumped first.
			return nil
		}
		return err
	}

	if err := m.store.UpdateTenantPlan(ctx, tenantID, next.Code); err != nil {
		return err
	}
	m.syncSubscription(ctx, tenant.StripeSubscriptionID, next.Code)

	if err := m.publisher.Publish(ctx, types.EventTierBumped, types.TierBumpedEvent{
		TenantID:       tenantID,
		FromPlan:       cur.Code,
		ToPlan:         next.Code,
		ProratedCents:  rec.ProratedCents,
		EffectiveMonth: month,
	}); err != nil {
		m.logger.Error("failed to publish tier bumped event",
			"error", err.Error(), "tenant_id", tenantID)
	}

	m.logger.Info("tenant auto-bumped",
		"tenant_id", tenantID,
		"from", string(cur.Code),
		"to", string(next.Code),
		"prorated_cents", rec.ProratedCents,
	)
	return nil
}

// Forgive reverses this month's bump: the tenant returns to the prior tier
// and the proration is canceled. One forgiveness credit is available per
// rolling quarter (90 days); a second use inside the window is rejected.
func (m *Manager) Forgive(ctx context.Context, tenantID string, now time.Time) error {
	rec, err := m.store.BumpForMonth(ctx, tenantID, types.MonthPeriod(now))
	if err != nil {
		return err
	}
	if rec == nil || rec.Forgiven() {
		return types.NewAppError(types.ErrCodeNotFoundBump,
			fmt.Sprintf("tenant %s has no active bump this month", tenantID), nil)
	}

	last, err := m.store.LastForgivenessAt(ctx, tenantID)
	if err != nil {
		return err
	}
	if last != nil && last.After(types.QuarterKey(now)) {
		return types.NewAppErrorWithDetails(types.ErrCodeConflictForgivenessConsumed,
			"forgiveness credit already used this quarter", nil,
			map[string]any{"last_used_at": last.UTC().Format(time.RFC3339)})
	}

	if err := m.store.MarkForgiven(ctx, rec.ID, now); err != nil {
		return err
	}
	if err := m.store.UpdateTenantPlan(ctx, tenantID, rec.FromPlan); err != nil {
		return err
	}

	tenant, err := m.store.GetTenant(ctx, tenantID)
	if err == nil {
		m.syncSubscription(ctx, tenant.StripeSubscriptionID, rec.FromPlan)
	}

	m.logger.Info("bump forgiven",
		"tenant_id", tenantID,
		"restored_plan", string(rec.FromPlan),
		"canceled_cents", rec.ProratedCents,
	)
	return nil
}

// EvaluateDowngrade checks the downgrade heuristic for the two most recent
// full calendar months: lead-event usage below 60% of the tier cap in both
// emits tier.downgrade_suggested. No tier change happens here; an external
// billing operator acts on the event. Returns whether a suggestion fired.
func (m *Manager) EvaluateDowngrade(ctx context.Context, tenantID string, now time.Time) (bool, error) {
	tenant, err := m.store.GetTenant(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if tenant.OnTrial(now) {
		return false, nil
	}
	tier, err := m.catalog.Tier(tenant.Plan)
	if err != nil {
		return false, err
	}
	cap := tier.Bundle[types.MetricLeadEvents]
	if cap <= 0 {
		return false, nil
	}
	// No suggestion below the lowest paid tier.
	prev, ok := m.catalog.PreviousTier(tenant.Plan)
	if !ok || prev.PriceCents == 0 {
		return false, nil
	}

	months := make([]types.Period, 0, downgradeWindowMonths)
	p := types.MonthPeriod(now)
	for i := 0; i < downgradeWindowMonths; i++ {
		p = p.PreviousMonth()
		months = append(months, p)
	}

	for _, month := range months {
		used, err := m.store.CurrentUsage(ctx, tenantID, types.MetricLeadEvents, month)
		if err != nil {
			return false, err
		}
		if float64(used) >= downgradeThreshold*float64(cap) {
			return false, nil
		}
	}

	if err := m.publisher.Publish(ctx, types.EventDowngradeSuggested, types.DowngradeSuggestedEvent{
		TenantID: tenantID,
		Plan:     tenant.Plan,
		Months:   months,
	}); err != nil {
		m.logger.Error("failed to publish downgrade suggestion",
			"error", err.Error(), "tenant_id", tenantID)
		return false, err
	}
	return true, nil
}

func (m *Manager) syncSubscription(ctx context.Context, subscriptionID string, plan types.PlanCode) {
	if m.subs == nil || subscriptionID == "" {
		return
	}
	if err := m.subs.UpdateSubscriptionTier(ctx, subscriptionID, plan); err != nil {
		m.logger.Error("failed to sync subscription tier, leaving to reconciliation",
			"error", err.Error(), "subscription_id", subscriptionID, "plan", string(plan))
	}
}

// ProratedCents computes the mid-month charge for a tier change: the price
// difference scaled by the days remaining in the month, bump day included,
// rounded half up.
func ProratedCents(oldCents, newCents int64, now time.Time) int64 {
	diff := newCents - oldCents
	if diff <= 0 {
		return 0
	}
	days := int64(types.DaysInMonth(now))
	remaining := int64(types.DaysRemainingInMonth(now))
	return (diff*remaining + days/2) / days
}
