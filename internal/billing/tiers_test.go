package billing

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metergate/internal/catalog"
	"metergate/internal/store"
	"metergate/internal/types"
)

type capturingPublisher struct {
	events []struct {
		Type    types.EventType
		Payload any
	}
}

func (p *capturingPublisher) Publish(ctx context.Context, eventType types.EventType, payload any) error {
	p.events = append(p.events, struct {
		Type    types.EventType
		Payload any
	}{eventType, payload})
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var managerNow = time.Date(2026, 8, 16, 10, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *store.Memory, *capturingPublisher) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	mem := store.NewMemory()
	pub := &capturingPublisher{}
	mgr := NewManager(mem, cat, pub, nil, fixedClock{managerNow}, slog.Default())
	return mgr, mem, pub
}

func seedPaidTenant(mem *store.Memory, plan types.PlanCode, autoBump bool) {
	mem.PutTenant(&types.TenantBilling{
		ID:          "t1",
		Plan:        plan,
		Timezone:    "UTC",
		TrialEndsAt: managerNow.Add(-30 * 24 * time.Hour),
		AutoBumpOn:  autoBump,
	})
}

func TestHandleLeadExhaustion_BumpsToNextTier(t *testing.T) {
	mgr, mem, pub := newTestManager(t)
	seedPaidTenant(mem, types.PlanStarter, true)
	ctx := context.Background()

	require.NoError(t, mgr.HandleLeadExhaustion(ctx, "t1", managerNow))

	tenant, err := mem.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanGrowth, tenant.Plan)

	rec, err := mem.BumpForMonth(ctx, "t1", types.MonthPeriod(managerNow))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.PlanStarter, rec.FromPlan)
	assert.Equal(t, types.PlanGrowth, rec.ToPlan)

	// $147 - $97 = $50 over 16 of 31 days, rounded half up.
	assert.Equal(t, ProratedCents(9700, 14700, managerNow), rec.ProratedCents)
	assert.Equal(t, int64(2581), rec.ProratedCents)

	require.Len(t, pub.events, 1)
	assert.Equal(t, types.EventTierBumped, pub.events[0].Type)
	bumped := pub.events[0].Payload.(types.TierBumpedEvent)
	assert.Equal(t, types.PlanGrowth, bumped.ToPlan)

	state, err := mgr.State(ctx, "t1", managerNow)
	require.NoError(t, err)
	assert.Equal(t, types.BumpedOnce, state)
}

func TestHandleLeadExhaustion_OneBumpPerMonth(t *testing.T) {
	mgr, mem, pub := newTestManager(t)
	seedPaidTenant(mem, types.PlanStarter, true)
	ctx := context.Background()

	require.NoError(t, mgr.HandleLeadExhaustion(ctx, "t1", managerNow))
	require.NoError(t, mgr.HandleLeadExhaustion(ctx, "t1", managerNow.Add(time.Hour)))

	tenant, err := mem.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanGrowth, tenant.Plan, "second exhaustion must not bump again")
	assert.Len(t, pub.events, 1)
}

func TestHandleLeadExhaustion_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("auto bump disabled", func(t *testing.T) {
		mgr, mem, pub := newTestManager(t)
		seedPaidTenant(mem, types.PlanStarter, false)
		require.NoError(t, mgr.HandleLeadExhaustion(ctx, "t1", managerNow))
		tenant, _ := mem.GetTenant(ctx, "t1")
		assert.Equal(t, types.PlanStarter, tenant.Plan)
		assert.Empty(t, pub.events)
	})

	t.Run("trial tenant", func(t *testing.T) {
		mgr, mem, pub := newTestManager(t)
		mem.PutTenant(&types.TenantBilling{
			ID: "t1", Plan: types.PlanTrial, Timezone: "UTC",
			TrialEndsAt: managerNow.Add(24 * time.Hour), AutoBumpOn: true,
		})
		require.NoError(t, mgr.HandleLeadExhaustion(ctx, "t1", managerNow))
		tenant, _ := mem.GetTenant(ctx, "t1")
		assert.Equal(t, types.PlanTrial, tenant.Plan)
		assert.Empty(t, pub.events)
	})

	t.Run("top of ladder", func(t *testing.T) {
		mgr, mem, pub := newTestManager(t)
		seedPaidTenant(mem, types.PlanPro, true)
		require.NoError(t, mgr.HandleLeadExhaustion(ctx, "t1", managerNow))
		tenant, _ := mem.GetTenant(ctx, "t1")
		assert.Equal(t, types.PlanPro, tenant.Plan)
		assert.Empty(t, pub.events)
	})
}

func TestForgive_RevertsBumpOncePerQuarter(t *testing.T) {
	mgr, mem, _ := newTestManager(t)
	seedPaidTenant(mem, types.PlanStarter, true)
	ctx := context.Background()

	require.NoError(t, mgr.HandleLeadExhaustion(ctx, "t1", managerNow))
	require.NoError(t, mgr.Forgive(ctx, "t1", managerNow.Add(time.Hour)))

	tenant, err := mem.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanStarter, tenant.Plan)

	state, err := mgr.State(ctx, "t1", managerNow)
	require.NoError(t, err)
	assert.Equal(t, types.BumpStable, state)

	// Forgiveness freed the month, so exhaustion can bump again...
	require.NoError(t, mgr.HandleLeadExhaustion(ctx, "t1", managerNow.Add(2*time.Hour)))
	tenant, _ = mem.GetTenant(ctx, "t1")
	assert.Equal(t, types.PlanGrowth, tenant.Plan)

	// ...but the quarterly credit is spent: the re-bumped month has no
	// transition left, and the state reports it.
	err = mgr.Forgive(ctx, "t1", managerNow.Add(3*time.Hour))
	require.Error(t, err)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConflictForgivenessConsumed, appErr.Code)

	state, err = mgr.State(ctx, "t1", managerNow.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.BumpBlocked, state)
}

func TestForgive_CreditReturnsAfterNinetyDays(t *testing.T) {
	mgr, mem, _ := newTestManager(t)
	seedPaidTenant(mem, types.PlanStarter, true)
	ctx := context.Background()

	require.NoError(t, mgr.HandleLeadExhaustion(ctx, "t1", managerNow))
	require.NoError(t, mgr.Forgive(ctx, "t1", managerNow))

	later := managerNow.AddDate(0, 0, 91)
	require.NoError(t, mgr.HandleLeadExhaustion(ctx, "t1", later))
	assert.NoError(t, mgr.Forgive(ctx, "t1", later))
}

func TestForgive_NoActiveBump(t *testing.T) {
	mgr, mem, _ := newTestManager(t)
	seedPaidTenant(mem, types.PlanStarter, true)

	err := mgr.Forgive(context.Background(), "t1", managerNow)
	require.Error(t, err)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundBump, appErr.Code)
}

func TestEvaluateDowngrade(t *testing.T) {
	ctx := context.Background()
	month := types.MonthPeriod(managerNow)
	prev1 := month.PreviousMonth()
	prev2 := prev1.PreviousMonth()

	// Growth lead cap is 500; 60% is 300.
	seedUsage := func(mem *store.Memory, period types.Period, used int64) {
		_, err := mem.Commit(ctx, store.CommitRequest{
			TenantID: "t1", Metric: types.MetricLeadEvents, MonthPeriod: period,
			Units: used, Plan: types.ConsumptionPlan{FromBundle: used},
			Now: managerNow,
		})
		require.NoError(t, err)
	}

	t.Run("two quiet months suggest", func(t *testing.T) {
		mgr, mem, pub := newTestManager(t)
		seedPaidTenant(mem, types.PlanGrowth, true)
		seedUsage(mem, prev1, 200)
		seedUsage(mem, prev2, 250)

		fired, err := mgr.EvaluateDowngrade(ctx, "t1", managerNow)
		require.NoError(t, err)
		assert.True(t, fired)
		require.Len(t, pub.events, 1)
		assert.Equal(t, types.EventDowngradeSuggested, pub.events[0].Type)
	})

	t.Run("one busy month suppresses", func(t *testing.T) {
		mgr, mem, pub := newTestManager(t)
		seedPaidTenant(mem, types.PlanGrowth, true)
		seedUsage(mem, prev1, 450)
		seedUsage(mem, prev2, 100)

		fired, err := mgr.EvaluateDowngrade(ctx, "t1", managerNow)
		require.NoError(t, err)
		assert.False(t, fired)
		assert.Empty(t, pub.events)
	})

	t.Run("lowest paid tier never suggests", func(t *testing.T) {
		mgr, mem, pub := newTestManager(t)
		seedPaidTenant(mem, types.PlanStarter, true)

		fired, err := mgr.EvaluateDowngrade(ctx, "t1", managerNow)
		require.NoError(t, err)
		assert.False(t, fired)
		assert.Empty(t, pub.events)
	})
}

func TestProratedCents(t *testing.T) {
	// Bump on Aug 16: 16 days remain of 31.
	assert.Equal(t, int64(2581), ProratedCents(9700, 14700, managerNow))

	// First of the month charges the full difference.
	first := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(5000), ProratedCents(9700, 14700, first))

	// Last day charges one day's fraction.
	last := time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(161), ProratedCents(9700, 14700, last))

	// Downward or equal price never charges.
	assert.Equal(t, int64(0), ProratedCents(14700, 9700, managerNow))
}
