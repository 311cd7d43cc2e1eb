package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metergate/internal/types"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	cat, err := Default()
	require.NoError(t, err)

	tiers := cat.Tiers()
	require.Len(t, tiers, 5)
	assert.Equal(t, types.PlanTrial, tiers[0].Code)
	assert.Equal(t, types.PlanPro, tiers[4].Code)

	starter, err := cat.Tier(types.PlanStarter)
	require.NoError(t, err)
	assert.Equal(t, int64(9700), starter.PriceCents)
	assert.Equal(t, int64(150), starter.Bundle[types.MetricLeadEvents])
	assert.Equal(t, types.USDMicros(15_000), starter.OverageRate(types.MetricSMS))

	trial, err := cat.Tier(types.PlanTrial)
	require.NoError(t, err)
	dc, ok := trial.DailyCap(types.MetricSMS)
	require.True(t, ok)
	assert.Equal(t, int64(15), dc)
	_, ok = trial.DailyCap(types.MetricLeadEvents)
	assert.False(t, ok)
	assert.Zero(t, trial.OverageRate(types.MetricSMS))
}

func TestUnknownTier(t *testing.T) {
	cat, err := Default()
	require.NoError(t, err)

	_, err = cat.Tier("platinum")
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConfigUnknownTier, appErr.Code)
}

func TestTierLadder(t *testing.T) {
	cat, err := Default()
	require.NoError(t, err)

	next, ok := cat.NextTier(types.PlanStarter)
	require.True(t, ok)
	assert.Equal(t, types.PlanGrowth, next.Code)

	next, ok = cat.NextTier(types.PlanTrial)
	require.True(t, ok)
	assert.Equal(t, types.PlanStarter, next.Code)

	_, ok = cat.NextTier(types.PlanPro)
	assert.False(t, ok, "pro is the top of the ladder")

	prev, ok := cat.PreviousTier(types.PlanGrowth)
	require.True(t, ok)
	assert.Equal(t, types.PlanStarter, prev.Code)

	_, ok = cat.PreviousTier(types.PlanTrial)
	assert.False(t, ok)
}

func TestNewRejectsMalformedCatalogs(t *testing.T) {
	base := func() Tier {
		bundle := make(map[types.Metric]int64, len(types.AllMetrics))
		for _, m := range types.AllMetrics {
			bundle[m] = 100
		}
		return Tier{Code: "basic", Rank: 1, PriceCents: 1000, Bundle: bundle, MaxAutoBumpsPerMonth: 1}
	}

	t.Run("empty catalog", func(t *testing.T) {
		_, err := New(nil)
		require.Error(t, err)
	})

	t.Run("duplicate code", func(t *testing.T) {
		a, b := base(), base()
		b.Rank = 2
		_, err := New([]Tier{a, b})
		require.Error(t, err)
	})

	t.Run("duplicate rank", func(t *testing.T) {
		a, b := base(), base()
		b.Code = "other"
		_, err := New([]Tier{a, b})
		require.Error(t, err)
	})

	t.Run("missing bundle metric", func(t *testing.T) {
		a := base()
		delete(a.Bundle, types.MetricSMS)
		_, err := New([]Tier{a})
		require.Error(t, err)
	})

	t.Run("bad bump limit", func(t *testing.T) {
		a := base()
		a.MaxAutoBumpsPerMonth = 2
		_, err := New([]Tier{a})
		require.Error(t, err)
	})

	t.Run("negative overage rate", func(t *testing.T) {
		a := base()
		a.OverageRates = map[types.Metric]types.USDMicros{types.MetricSMS: -1}
		_, err := New([]Tier{a})
		require.Error(t, err)
	})
}

func TestLoadJSON(t *testing.T) {
	t.Run("empty blob uses default", func(t *testing.T) {
		cat, err := LoadJSON("")
		require.NoError(t, err)
		_, err = cat.Tier(types.PlanGrowth)
		assert.NoError(t, err)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		_, err := LoadJSON("{not json")
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, types.ErrCodeConfigCatalog, appErr.Code)
	})

	t.Run("valid override", func(t *testing.T) {
		blob := `[{
			"code": "solo", "rank": 1, "price_cents": 500,
			"bundle": {"page_views": 10, "lead_events": 10, "ai_tokens": 10,
			           "emails": 10, "sms": 10, "voice_minutes": 10},
			"max_auto_bumps_per_month": 1
		}]`
		cat, err := LoadJSON(blob)
		require.NoError(t, err)
		tier, err := cat.Tier("solo")
		require.NoError(t, err)
		assert.Equal(t, int64(10), tier.Bundle[types.MetricSMS])
	})
}
