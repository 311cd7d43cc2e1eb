package quota

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metergate/internal/catalog"
	"metergate/internal/events"
	"metergate/internal/store"
	"metergate/internal/types"
)

type recordedEvent struct {
	Type    types.EventType
	Payload any
}

type capturingPublisher struct {
	events []recordedEvent
}

func (p *capturingPublisher) Publish(ctx context.Context, eventType types.EventType, payload any) error {
	p.events = append(p.events, recordedEvent{eventType, payload})
	return nil
}

func (p *capturingPublisher) ofType(t types.EventType) []recordedEvent {
	var out []recordedEvent
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeEscalator struct {
	calls []string
}

func (f *fakeEscalator) HandleLeadExhaustion(ctx context.Context, tenantID string, now time.Time) error {
	f.calls = append(f.calls, tenantID)
	return nil
}

type serviceClock struct{ t time.Time }

func (c serviceClock) Now() time.Time { return c.t }

func newTestService(t *testing.T) (*Service, *store.Memory, *capturingPublisher, *fakeEscalator) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	mem := store.NewMemory()
	pub := &capturingPublisher{}
	esc := &fakeEscalator{}
	svc := NewService(mem, cat, pub, events.NopDecisionMetrics{}, esc, serviceClock{noon}, slog.Default())
	return svc, mem, pub, esc
}

func seedStarter(mem *store.Memory) {
	mem.PutTenant(&types.TenantBilling{
		ID:              "t1",
		Plan:            types.PlanStarter,
		Timezone:        "UTC",
		TrialEndsAt:     noon.Add(-30 * 24 * time.Hour),
		OveragesEnabled: true,
		SpendCap:        types.MicrosFromDollars(50),
		AutoBumpOn:      true,
	})
}

func TestAuthorize_AllowCommitsUsage(t *testing.T) {
	svc, mem, _, _ := newTestService(t)
	seedStarter(mem)
	ctx := context.Background()

	dec, err := svc.Authorize(ctx, AuthorizeRequest{TenantID: "t1", Metric: types.MetricEmails, Units: 10})
	require.NoError(t, err)
	require.True(t, dec.Allowed)
	assert.Equal(t, int64(10), dec.NewMonthlyUsage)

	used, err := mem.CurrentUsage(ctx, "t1", types.MetricEmails, types.MonthPeriod(noon))
	require.NoError(t, err)
	assert.Equal(t, int64(10), used)
}

func TestAuthorize_UnknownTenant(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Authorize(context.Background(), AuthorizeRequest{
		TenantID: "ghost", Metric: types.MetricEmails, Units: 1,
	})
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundTenant, appErr.Code)
}

func TestAuthorize_ThresholdsFireOnce(t *testing.T) {
	svc, mem, pub, _ := newTestService(t)
	seedStarter(mem)
	ctx := context.Background()

	// 400 of the 500 email bundle crosses 70% and 80% in one request.
	dec, err := svc.Authorize(ctx, AuthorizeRequest{TenantID: "t1", Metric: types.MetricEmails, Units: 400})
	require.NoError(t, err)
	require.True(t, dec.Allowed)

	crossed := pub.ofType(types.EventThresholdReached)
	require.Len(t, crossed, 2)
	assert.Equal(t, 0.70, crossed[0].Payload.(types.ThresholdReachedEvent).Pct)
	assert.Equal(t, 0.80, crossed[1].Payload.(types.ThresholdReachedEvent).Pct)

	// 50 more reaches 90%: exactly one new event, no re-fire of 70/80.
	_, err = svc.Authorize(ctx, AuthorizeRequest{TenantID: "t1", Metric: types.MetricEmails, Units: 50})
	require.NoError(t, err)
	crossed = pub.ofType(types.EventThresholdReached)
	require.Len(t, crossed, 3)
	assert.Equal(t, 0.90, crossed[2].Payload.(types.ThresholdReachedEvent).Pct)

	// Staying between thresholds emits nothing.
	_, err = svc.Authorize(ctx, AuthorizeRequest{TenantID: "t1", Metric: types.MetricEmails, Units: 10})
	require.NoError(t, err)
	assert.Len(t, pub.ofType(types.EventThresholdReached), 3)
}

func TestAuthorize_DenyEmitsCapHit(t *testing.T) {
	svc, mem, pub, _ := newTestService(t)
	mem.PutTenant(&types.TenantBilling{
		ID:          "t1",
		Plan:        types.PlanStarter,
		Timezone:    "UTC",
		TrialEndsAt: noon.Add(-30 * 24 * time.Hour),
		// Overages disabled: exceeding the bundle is a hard deny.
	})
	ctx := context.Background()

	_, err := svc.Authorize(ctx, AuthorizeRequest{TenantID: "t1", Metric: types.MetricEmails, Units: 500})
	require.NoError(t, err)

	dec, err := svc.Authorize(ctx, AuthorizeRequest{TenantID: "t1", Metric: types.MetricEmails, Units: 1})
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, types.DenyNoOverage, dec.Reason)

	hits := pub.ofType(types.EventCapHit)
	require.Len(t, hits, 1)
	assert.Equal(t, types.DenyNoOverage, hits[0].Payload.(types.CapHitEvent).Reason)

	used, err := mem.CurrentUsage(ctx, "t1", types.MetricEmails, types.MonthPeriod(noon))
	require.NoError(t, err)
	assert.Equal(t, int64(500), used, "a denied request must not consume usage")
}

func TestAuthorize_LeadExhaustionEscalates(t *testing.T) {
	svc, mem, _, esc := newTestService(t)
	seedStarter(mem)
	ctx := context.Background()

	// 149 of the 150 lead bundle: no escalation yet.
	_, err := svc.Authorize(ctx, AuthorizeRequest{TenantID: "t1", Metric: types.MetricLeadEvents, Units: 149})
	require.NoError(t, err)
	assert.Empty(t, esc.calls)

	// The 150th lands exactly on the cap: bundle exhausted.
	dec, err := svc.Authorize(ctx, AuthorizeRequest{TenantID: "t1", Metric: types.MetricLeadEvents, Units: 1})
	require.NoError(t, err)
	require.True(t, dec.Allowed)
	assert.Equal(t, []string{"t1"}, esc.calls)
}

func TestAuthorize_NonLeadMetricNeverEscalates(t *testing.T) {
	svc, mem, _, esc := newTestService(t)
	seedStarter(mem)

	_, err := svc.Authorize(context.Background(), AuthorizeRequest{
		TenantID: "t1", Metric: types.MetricEmails, Units: 500,
	})
	require.NoError(t, err)
	assert.Empty(t, esc.calls)
}

func TestAuthorize_IdempotentRetry(t *testing.T) {
	svc, mem, _, _ := newTestService(t)
	seedStarter(mem)
	ctx := context.Background()

	req := AuthorizeRequest{
		TenantID: "t1", Metric: types.MetricSMS, Units: 5,
		IdempotencyKey: "req-42",
	}
	first, err := svc.Authorize(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Allowed)

	second, err := svc.Authorize(ctx, req)
	require.NoError(t, err)
	require.True(t, second.Allowed)
	assert.Equal(t, first.NewMonthlyUsage, second.NewMonthlyUsage)

	used, err := mem.CurrentUsage(ctx, "t1", types.MetricSMS, types.MonthPeriod(noon))
	require.NoError(t, err)
	assert.Equal(t, int64(5), used, "retry with the same key must not double-count")
}

func TestAuthorize_TrialDailyCounterTracked(t *testing.T) {
	svc, mem, _, _ := newTestService(t)
	mem.PutTenant(&types.TenantBilling{
		ID:          "t1",
		Plan:        types.PlanTrial,
		Timezone:    "UTC",
		TrialEndsAt: noon.Add(7 * 24 * time.Hour),
	})
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		dec, err := svc.Authorize(ctx, AuthorizeRequest{TenantID: "t1", Metric: types.MetricSMS, Units: 1})
		require.NoError(t, err)
		require.True(t, dec.Allowed, "send %d should fit the daily cap", i+1)
	}

	dec, err := svc.Authorize(ctx, AuthorizeRequest{TenantID: "t1", Metric: types.MetricSMS, Units: 1})
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, types.DenyTrialDailyCap, dec.Reason)
}
