package types

// Metric identifies a metered resource. The set is closed; unknown metric
// strings are a configuration error, never a per-request outcome.
type Metric string

const (
	MetricPageViews    Metric = "page_views"
	MetricLeadEvents   Metric = "lead_events"
	MetricAITokens     Metric = "ai_tokens"
	MetricEmails       Metric = "emails"
	MetricSMS          Metric = "sms"
	MetricVoiceMinutes Metric = "voice_minutes"
)

// AllMetrics lists every metered resource. Used by catalog validation and the
// usage snapshot endpoint.
var AllMetrics = []Metric{
	MetricPageViews,
	MetricLeadEvents,
	MetricAITokens,
	MetricEmails,
	MetricSMS,
	MetricVoiceMinutes,
}

// Valid reports whether m is a member of the closed metric set.
func (m Metric) Valid() bool {
	switch m {
	case MetricPageViews, MetricLeadEvents, MetricAITokens,
		MetricEmails, MetricSMS, MetricVoiceMinutes:
		return true
	}
	return false
}

// QuietHoursApplies reports whether the metric is subject to trial quiet-hours
// suppression (outbound voice and SMS only).
func (m Metric) QuietHoursApplies() bool {
	return m == MetricSMS || m == MetricVoiceMinutes
}

// PlanCode identifies a plan tier in the catalog.
type PlanCode string

const (
	PlanTrial   PlanCode = "trial"
	PlanStarter PlanCode = "starter"
	PlanGrowth  PlanCode = "growth"
	PlanScale   PlanCode = "scale"
	PlanPro     PlanCode = "pro"
)

// DenyReason is the closed set of business denial outcomes. Callers branch on
// the reason to choose user-facing messaging; the engine never raises these
// as errors.
type DenyReason string

const (
	DenyQuietHours    DenyReason = "quiet_hours"
	DenyTrialDailyCap DenyReason = "trial_daily_cap_reached"
	DenyTrialCap      DenyReason = "trial_cap_reached"
	DenyNoOverage     DenyReason = "included_exhausted_no_overage"
	DenySpendCap      DenyReason = "spend_cap_reached"
)

// ConsumptionSource identifies where authorized units are drawn from, in
// priority order: included bundle first, then prepaid packs, then overage.
type ConsumptionSource string

const (
	SourceBundle  ConsumptionSource = "bundle"
	SourcePack    ConsumptionSource = "pack"
	SourceOverage ConsumptionSource = "overage"
)

// BumpState is the per-tenant monthly auto-bump state machine.
type BumpState string

const (
	// BumpStable means no bump has occurred this month.
	BumpStable BumpState = "stable"
	// BumpedOnce means the single allowed bump has been consumed.
	BumpedOnce BumpState = "bumped_once"
	// BumpBlocked means the bump stands and the quarterly forgiveness credit
	// is spent: neither a further bump nor a forgiveness remains this month.
	BumpBlocked BumpState = "bump_blocked"
)

// EventType identifies an asynchronous engine event consumed by the external
// notification dispatcher and the billing reconciliation process.
type EventType string

const (
	EventThresholdReached   EventType = "threshold.reached"
	EventCapHit             EventType = "cap.hit"
	EventTierBumped         EventType = "tier.bumped"
	EventDowngradeSuggested EventType = "tier.downgrade_suggested"
)
