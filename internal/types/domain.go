package types

import "time"

// TenantBilling is the per-tenant billing state read by the engine. Account
// provisioning owns most fields; only the plan code and bump bookkeeping are
// mutated by this core (via the tier transition manager).
type TenantBilling struct {
	ID       string   `json:"id" db:"id"`
	Plan     PlanCode `json:"plan" db:"plan"`
	Timezone string   `json:"timezone" db:"timezone"`

	// TrialEndsAt classifies the tenant: trial iff now < TrialEndsAt.
	TrialEndsAt time.Time `json:"trial_ends_at" db:"trial_ends_at"`

	OveragesEnabled bool      `json:"overages_enabled" db:"overages_enabled"`
	SpendCap        USDMicros `json:"spend_cap_usd_micros" db:"spend_cap_usd_micros"`
	AutoBumpOn      bool      `json:"auto_bump_on" db:"auto_bump_on"`

	// QuietHours suppresses trial SMS/voice sends inside a local-time window.
	QuietHours *QuietHoursWindow `json:"quiet_hours,omitempty" db:"quiet_hours"`

	StripeSubscriptionID string `json:"-" db:"stripe_subscription_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// OnTrial reports whether the tenant is on trial at the given instant.
func (t *TenantBilling) OnTrial(now time.Time) bool {
	return now.Before(t.TrialEndsAt)
}

// UsageCounter is one atomic per-tenant/metric/period counter. AmountUsed is
// monotonically non-decreasing within a period; rollover starts a new row
// rather than zeroing this one, so closed periods survive for audit.
type UsageCounter struct {
	TenantID   string    `json:"tenant_id" db:"tenant_id"`
	Metric     Metric    `json:"metric" db:"metric"`
	Period     Period    `json:"period" db:"period"`
	AmountUsed int64     `json:"amount_used" db:"amount_used"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Pack is a prepaid, expiring block of extra units for one metric. Packs are
// consumed oldest-purchased-first among non-expired packs; an empty pack is
// retired but retained for audit.
type Pack struct {
	ID             string     `json:"id" db:"id"`
	TenantID       string     `json:"tenant_id" db:"tenant_id"`
	Metric         Metric     `json:"metric" db:"metric"`
	UnitsRemaining int64      `json:"units_remaining" db:"units_remaining"`
	PurchasedAt    time.Time  `json:"purchased_at" db:"purchased_at"`
	ExpiresAt      time.Time  `json:"expires_at" db:"expires_at"`
	RetiredAt      *time.Time `json:"retired_at,omitempty" db:"retired_at"`
}

// Expired reports whether the pack is past its expiry at the given instant.
func (p *Pack) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Usable reports whether the pack can still contribute units.
func (p *Pack) Usable(now time.Time) bool {
	return p.RetiredAt == nil && p.UnitsRemaining > 0 && !p.Expired(now)
}

// OverageLedger tracks pay-as-you-go spend for one tenant-month. Accrued
// never exceeds the tenant spend cap; the guard is enforced inside the same
// transaction that commits the increment.
type OverageLedger struct {
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	Period    Period    `json:"period" db:"period"`
	Accrued   USDMicros `json:"accrued_usd_micros" db:"accrued_usd_micros"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BumpRecord captures one auto-bump. At most one non-forgiven record exists
// per tenant per calendar month.
type BumpRecord struct {
	ID            string     `json:"id" db:"id"`
	TenantID      string     `json:"tenant_id" db:"tenant_id"`
	Month         Period     `json:"month" db:"month"`
	FromPlan      PlanCode   `json:"from_plan" db:"from_plan"`
	ToPlan        PlanCode   `json:"to_plan" db:"to_plan"`
	ProratedCents int64      `json:"prorated_cents" db:"prorated_cents"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	ForgivenAt    *time.Time `json:"forgiven_at,omitempty" db:"forgiven_at"`
}

// Forgiven reports whether this bump was reversed by a forgiveness credit.
func (b *BumpRecord) Forgiven() bool {
	return b.ForgivenAt != nil
}

// PackDebit records units drained from a single pack as part of one
// authorization commit.
type PackDebit struct {
	PackID string `json:"pack_id"`
	Units  int64  `json:"units"`
}

// ConsumptionPlan is the bundle/pack/overage split for an allowed request.
type ConsumptionPlan struct {
	FromBundle  int64       `json:"from_bundle"`
	FromPacks   int64       `json:"from_packs"`
	FromOverage int64       `json:"from_overage"`
	PackDebits  []PackDebit `json:"pack_debits,omitempty"`
	OverageCost USDMicros   `json:"overage_cost_usd_micros"`
}

// Total returns the unit count covered by the plan.
func (c ConsumptionPlan) Total() int64 {
	return c.FromBundle + c.FromPacks + c.FromOverage
}

// Sources lists where the plan draws units from, in consumption priority
// order. Used for decision logging and event payloads.
func (c ConsumptionPlan) Sources() []ConsumptionSource {
	var out []ConsumptionSource
	if c.FromBundle > 0 {
		out = append(out, SourceBundle)
	}
	if c.FromPacks > 0 {
		out = append(out, SourcePack)
	}
	if c.FromOverage > 0 {
		out = append(out, SourceOverage)
	}
	return out
}

// Decision is the outcome of an authorization request. Allowed carries the
// consumption split; a denial carries one of the closed DenyReason values.
// A Decision alone reserves nothing: the action is authorized only after the
// atomic commit succeeds.
type Decision struct {
	Allowed bool            `json:"allowed"`
	Reason  DenyReason      `json:"reason,omitempty"`
	Plan    ConsumptionPlan `json:"plan,omitempty"`

	// EffectiveCap and NewMonthlyUsage support threshold computation and
	// caller-side display. NewMonthlyUsage is the projected (on deny: current)
	// post-commit monthly total.
	EffectiveCap    int64 `json:"effective_cap"`
	NewMonthlyUsage int64 `json:"new_monthly_usage"`
}
