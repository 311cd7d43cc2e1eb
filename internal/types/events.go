package types

import (
	"encoding/json"
	"time"
)

// EventEnvelope is the standard wrapper for all engine events published to the
// external notification dispatcher and billing reconciliation consumers.
// Delivery is at-least-once with no ordering guarantee relative to the
// authorization response; consumers deduplicate on EventID.
type EventEnvelope struct {
	EventID   string          `json:"event_id"`   // "evt_..." unique ID for deduplication
	EventType EventType       `json:"event_type"` // Dot-namespaced (e.g. "threshold.reached")
	Timestamp time.Time       `json:"timestamp"`  // ISO 8601 UTC
	Source    string          `json:"source"`     // Component name
	Version   string          `json:"version"`    // Schema version
	Payload   json.RawMessage `json:"payload"`
}

// ThresholdReachedEvent fires the first time a tenant's usage crosses one of
// the alert thresholds (70/80/90/95%) for a metric within a period.
type ThresholdReachedEvent struct {
	TenantID string  `json:"tenant_id"`
	Metric   Metric  `json:"metric"`
	Period   Period  `json:"period"`
	Pct      float64 `json:"pct"`
	Used     int64   `json:"used"`
	Cap      int64   `json:"cap"`
}

// CapHitEvent fires when an authorization is denied by a cap.
type CapHitEvent struct {
	TenantID string     `json:"tenant_id"`
	Metric   Metric     `json:"metric"`
	Reason   DenyReason `json:"reason"`
}

// TierBumpedEvent fires when the tier transition manager promotes a tenant.
type TierBumpedEvent struct {
	TenantID       string   `json:"tenant_id"`
	FromPlan       PlanCode `json:"from"`
	ToPlan         PlanCode `json:"to"`
	ProratedCents  int64    `json:"prorated_amount_cents"`
	EffectiveMonth Period   `json:"effective_month"`
}

// DowngradeSuggestedEvent fires when a tenant's lead-event usage stays below
// 60% of its tier cap for two consecutive full calendar months. No automatic
// downgrade occurs; a billing operator acts on the suggestion.
type DowngradeSuggestedEvent struct {
	TenantID string   `json:"tenant_id"`
	Plan     PlanCode `json:"plan"`
	Months   []Period `json:"months"`
}
