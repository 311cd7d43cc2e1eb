package catalog

import "metergate/internal/types"

// defaultTiers is the production tier ladder. Bundle quantities follow the
// published pricing page; trial carries daily micro-caps on outbound sends in
// addition to its monthly bundle. Overage rates are per-unit and only defined
// on paid tiers -- trial tenants never draw overage regardless.
var defaultTiers = []Tier{
	{
		Code:       types.PlanTrial,
		Rank:       0,
		PriceCents: 0,
		Bundle: map[types.Metric]int64{
			types.MetricPageViews:    2_000,
			types.MetricLeadEvents:   50,
			types.MetricAITokens:     150_000,
			types.MetricEmails:       100,
			types.MetricSMS:          50,
			types.MetricVoiceMinutes: 15,
		},
		DailyCaps: map[types.Metric]int64{
			types.MetricEmails:       30,
			types.MetricSMS:          15,
			types.MetricVoiceMinutes: 5,
		},
		MaxAutoBumpsPerMonth: 1,
	},
	{
		Code:       types.PlanStarter,
		Rank:       1,
		PriceCents: 9700,
		Bundle: map[types.Metric]int64{
			types.MetricPageViews:    20_000,
			types.MetricLeadEvents:   150,
			types.MetricAITokens:     300_000,
			types.MetricEmails:       500,
			types.MetricSMS:          150,
			types.MetricVoiceMinutes: 100,
		},
		OverageRates:         paidOverageRates,
		MaxAutoBumpsPerMonth: 1,
	},
	{
		Code:       types.PlanGrowth,
		Rank:       2,
		PriceCents: 14700,
		Bundle: map[types.Metric]int64{
			types.MetricPageViews:    75_000,
			types.MetricLeadEvents:   500,
			types.MetricAITokens:     1_500_000,
			types.MetricEmails:       1_500,
			types.MetricSMS:          500,
			types.MetricVoiceMinutes: 300,
		},
		OverageRates:         paidOverageRates,
		MaxAutoBumpsPerMonth: 1,
	},
	{
		Code:       types.PlanScale,
		Rank:       3,
		PriceCents: 23700,
		Bundle: map[types.Metric]int64{
			types.MetricPageViews:    250_000,
			types.MetricLeadEvents:   1_500,
			types.MetricAITokens:     3_000_000,
			types.MetricEmails:       5_000,
			types.MetricSMS:          1_500,
			types.MetricVoiceMinutes: 1_000,
		},
		OverageRates:         paidOverageRates,
		MaxAutoBumpsPerMonth: 1,
	},
	{
		Code:       types.PlanPro,
		Rank:       4,
		PriceCents: 43700,
		Bundle: map[types.Metric]int64{
			types.MetricPageViews:    1_000_000,
			types.MetricLeadEvents:   4_000,
			types.MetricAITokens:     10_000_000,
			types.MetricEmails:       15_000,
			types.MetricSMS:          5_000,
			types.MetricVoiceMinutes: 3_000,
		},
		OverageRates:         paidOverageRates,
		MaxAutoBumpsPerMonth: 1,
	},
}

// paidOverageRates are the per-unit pay-as-you-go prices shared by all paid
// tiers: provider cost plus margin. AI tokens are priced per token, which is
// why money is carried in micros rather than cents.
var paidOverageRates = map[types.Metric]types.USDMicros{
	types.MetricPageViews:    500,        // $0.0005 per view
	types.MetricLeadEvents:   250_000,    // $0.25 per lead event
	types.MetricAITokens:     4,          // $0.000004 per token
	types.MetricEmails:       2_000,      // $0.002 per email
	types.MetricSMS:          15_000,     // $0.015 per SMS
	types.MetricVoiceMinutes: 25_000,     // $0.025 per minute
}

// Default returns the built-in production catalog.
func Default() (*Catalog, error) {
	return New(defaultTiers)
}
