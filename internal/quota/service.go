package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"metergate/internal/catalog"
	"metergate/internal/events"
	"metergate/internal/store"
	"metergate/internal/types"
)

// maxCommitRetries bounds the optimistic read-evaluate-commit loop. Exhausting
// it means pathological per-key contention and surfaces as a transient
// infrastructure error, never as a business denial.
const maxCommitRetries = 5

// EventPublisher is the async event sink the service emits to.
type EventPublisher interface {
	Publish(ctx context.Context, eventType types.EventType, payload any) error
}

// TierEscalator is notified when the lead-event bundle exhausts, the trigger
// for auto-bump evaluation. Implementations deduplicate internally, so the
// service may report the same exhaustion more than once.
type TierEscalator interface {
	HandleLeadExhaustion(ctx context.Context, tenantID string, now time.Time) error
}

// AuthorizeRequest is one admission-control request.
type AuthorizeRequest struct {
	TenantID string       `json:"tenant_id" validate:"required"`
	Metric   types.Metric `json:"metric" validate:"required"`
	Units    int64        `json:"units" validate:"required,gt=0"`

	// IdempotencyKey lets callers retry safely after a network failure: a
	// replayed commit returns the original outcome without double-counting.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Service is the authorization front door. Each call runs the pure decision
// against a fresh snapshot, commits atomically with optimistic guards, and
// emits threshold/cap events after the commit lands.
type Service struct {
	store     store.Store
	catalog   *catalog.Catalog
	publisher EventPublisher
	metrics   events.DecisionMetrics
	escalator TierEscalator
	clock     types.Clock
	logger    *slog.Logger
}

// NewService wires the authorization service. escalator may be nil when tier
// transitions are handled elsewhere (e.g. the rollover worker deployment).
func NewService(
	st store.Store,
	cat *catalog.Catalog,
	publisher EventPublisher,
	metrics events.DecisionMetrics,
	escalator TierEscalator,
	clock types.Clock,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:     st,
		catalog:   cat,
		publisher: publisher,
		metrics:   metrics,
		escalator: escalator,
		clock:     clock,
		logger:    logger,
	}
}

// Authorize decides and, on Allow, durably commits the consumption in one
// atomic transaction. A Deny is a successful call: the error return is
// reserved for validation and infrastructure failures.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (types.Decision, error) {
	tenant, err := s.store.GetTenant(ctx, req.TenantID)
	if err != nil {
		return types.Decision{}, err
	}
	tier, err := s.catalog.Tier(tenant.Plan)
	if err != nil {
		return types.Decision{}, err
	}

	now := s.clock.Now()
	month := types.MonthPeriod(now)
	day := types.DayPeriod(now)
	onTrial := tenant.OnTrial(now)
	_, hasDailyCap := tier.DailyCap(req.Metric)
	trackDaily := onTrial && hasDailyCap

	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		view, err := s.store.UsageView(ctx, req.TenantID, req.Metric, month, day)
		if err != nil {
			return types.Decision{}, err
		}

		dec, err := Evaluate(Input{
			Tenant:         *tenant,
			Tier:           tier,
			Metric:         req.Metric,
			Units:          req.Units,
			Timestamp:      now,
			MonthlyUsage:   view.MonthlyUsage,
			DailyUsage:     view.DailyUsage,
			Packs:          view.Packs,
			OverageAccrued: view.OverageAccrued,
		})
		if err != nil {
			return types.Decision{}, err
		}

		if !dec.Allowed {
			s.metrics.RecordDecision(ctx, req.Metric, false, dec.Reason)
			s.emitCapHit(ctx, req.TenantID, req.Metric, dec.Reason)
			s.maybeEscalate(ctx, tenant, req.Metric, dec, onTrial, now)
			return dec, nil
		}

		res, err := s.store.Commit(ctx, store.CommitRequest{
			TenantID:             req.TenantID,
			Metric:               req.Metric,
			MonthPeriod:          month,
			Units:                req.Units,
			ExpectedMonthlyUsage: view.MonthlyUsage,
			TrackDaily:           trackDaily,
			DayPeriod:            day,
			ExpectedDailyUsage:   view.DailyUsage,
			Plan:                 dec.Plan,
			SpendCap:             tenant.SpendCap,
			Now:                  now,
			IdempotencyKey:       req.IdempotencyKey,
		})
		if err != nil {
			return types.Decision{}, err
		}
		if res.Conflict {
			continue
		}

		s.metrics.RecordDecision(ctx, req.Metric, true, "")
		s.metrics.RecordCommitRetries(ctx, req.Metric, attempt)

		if res.Replayed {
			// The original commit already emitted its events.
			dec.NewMonthlyUsage = res.NewMonthlyTotal
			return dec, nil
		}

		dec.NewMonthlyUsage = res.NewMonthlyTotal
		s.logger.Debug("authorization committed",
			"tenant_id", req.TenantID,
			"metric", string(req.Metric),
			"units", req.Units,
			"sources", dec.Plan.Sources(),
			"new_monthly_total", res.NewMonthlyTotal,
		)
		s.emitThresholds(ctx, req.TenantID, req.Metric, month, res.NewMonthlyTotal, dec.EffectiveCap)
		s.maybeEscalate(ctx, tenant, req.Metric, dec, onTrial, now)
		return dec, nil
	}

	return types.Decision{}, types.NewAppError(types.ErrCodeInternalTxTimeout,
		fmt.Sprintf("commit contention on tenant %s metric %s", req.TenantID, req.Metric), nil)
}

// emitThresholds fires threshold.reached for every newly crossed alert level.
// The store's alert state arbitrates races, so each (tenant, metric, period,
// threshold) fires exactly once no matter how many workers cross it.
func (s *Service) emitThresholds(ctx context.Context, tenantID string, metric types.Metric, period types.Period, used, cap int64) {
	fired, err := s.store.FiredThresholds(ctx, tenantID, metric, period)
	if err != nil {
		s.logger.Error("failed to read alert state", "error", err.Error(), "tenant_id", tenantID)
		return
	}

	for _, th := range CrossedThresholds(used, cap, fired) {
		won, err := s.store.MarkThresholdFired(ctx, tenantID, metric, period, th)
		if err != nil {
			s.logger.Error("failed to mark threshold fired", "error", err.Error(), "tenant_id", tenantID)
			continue
		}
		if !won {
			continue
		}
		if err := s.publisher.Publish(ctx, types.EventThresholdReached, types.ThresholdReachedEvent{
			TenantID: tenantID,
			Metric:   metric,
			Period:   period,
			Pct:      th,
			Used:     used,
			Cap:      cap,
		}); err != nil {
			s.logger.Error("failed to publish threshold event",
				"error", err.Error(), "tenant_id", tenantID, "threshold", th)
		}
	}
}

func (s *Service) emitCapHit(ctx context.Context, tenantID string, metric types.Metric, reason types.DenyReason) {
	if err := s.publisher.Publish(ctx, types.EventCapHit, types.CapHitEvent{
		TenantID: tenantID,
		Metric:   metric,
		Reason:   reason,
	}); err != nil {
		s.logger.Error("failed to publish cap hit event",
			"error", err.Error(), "tenant_id", tenantID, "reason", string(reason))
	}
}

// maybeEscalate reports lead-event bundle exhaustion to the tier manager.
// Exhaustion means the paid bundle no longer covers lead events: either this
// request spilled past the cap (into packs, overage, or a denial) or an allow
// landed exactly on it. The manager's bump record deduplicates repeats.
func (s *Service) maybeEscalate(ctx context.Context, tenant *types.TenantBilling, metric types.Metric, dec types.Decision, onTrial bool, now time.Time) {
	if s.escalator == nil || onTrial || metric != types.MetricLeadEvents || !tenant.AutoBumpOn {
		return
	}
	var exhausted bool
	if dec.Allowed {
		exhausted = dec.NewMonthlyUsage >= dec.EffectiveCap ||
			dec.Plan.FromPacks > 0 || dec.Plan.FromOverage > 0
	} else {
		exhausted = dec.Reason == types.DenyNoOverage || dec.Reason == types.DenySpendCap
	}
	if !exhausted {
		return
	}
	if err := s.escalator.HandleLeadExhaustion(ctx, tenant.ID, now); err != nil {
		s.logger.Error("tier escalation failed", "error", err.Error(), "tenant_id", tenant.ID)
	}
}
