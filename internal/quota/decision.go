// Package quota implements the admission-control decision function and the
// authorization service that sits in front of every billable action. The
// decision itself is pure: it reads a snapshot of tenant state, plan tier,
// usage, packs, and overage, and produces an Allow/Deny without touching
// storage. All mutation happens in the commit step (internal/store), which
// re-verifies every cap under a per-key transaction.
package quota

import (
	"fmt"
	"sort"
	"time"

	"metergate/internal/catalog"
	"metergate/internal/types"
)

// Input is the state snapshot the decision function evaluates.
type Input struct {
	Tenant types.TenantBilling
	Tier   catalog.Tier

	Metric types.Metric
	Units  int64

	// Timestamp is the instant of the requested action, used for trial
	// classification, quiet hours, and period resolution.
	Timestamp time.Time

	// MonthlyUsage and DailyUsage are the current counter values for the
	// request's periods. DailyUsage is only consulted for trial tenants.
	MonthlyUsage int64
	DailyUsage   int64

	// Packs are the tenant's packs for this metric. Evaluate filters out
	// expired and retired packs and sorts by purchase time itself, so callers
	// may pass the raw list.
	Packs []types.Pack

	// OverageAccrued is the tenant's accrued overage for the current month.
	OverageAccrued types.USDMicros
}

// Evaluate is the pure quota decision function.
//
// Units must be positive; a non-positive value is a caller programming error
// reported as a validation error, not a business denial. Business-limit
// outcomes are always expressed as Deny decisions with a closed reason set.
//
// The allowed decision carries the bundle/pack/overage split the commit step
// must apply. The decision alone reserves nothing: two racing callers can
// both receive Allow here, and the atomic commit is what serializes them.
func Evaluate(in Input) (types.Decision, error) {
	if in.Units <= 0 {
		return types.Decision{}, types.NewAppError(types.ErrCodeValidationUnits,
			fmt.Sprintf("units must be positive, got %d", in.Units), nil)
	}
	if !in.Metric.Valid() {
		return types.Decision{}, types.NewAppError(types.ErrCodeValidationUnknownMetric,
			fmt.Sprintf("unknown metric %q", in.Metric), nil)
	}

	onTrial := in.Tenant.OnTrial(in.Timestamp)
	cap := in.Tier.Bundle[in.Metric]

	// Quiet hours gate trial SMS/voice sends only. A malformed window is a
	// provisioning error, never a silent deny under bounds nobody configured.
	if onTrial && in.Metric.QuietHoursApplies() && in.Tenant.QuietHours != nil {
		if err := in.Tenant.QuietHours.Validate(); err != nil {
			return types.Decision{}, err
		}
		local, err := tenantLocalTime(in.Tenant.Timezone, in.Timestamp)
		if err != nil {
			return types.Decision{}, err
		}
		if in.Tenant.QuietHours.Contains(local) {
			return deny(types.DenyQuietHours, cap, in.MonthlyUsage), nil
		}
	}

	// Trial daily micro-cap: an independent necessary condition alongside the
	// monthly cap.
	if onTrial {
		if dailyCap, ok := in.Tier.DailyCap(in.Metric); ok {
			if in.DailyUsage+in.Units > dailyCap {
				return deny(types.DenyTrialDailyCap, cap, in.MonthlyUsage), nil
			}
		}
	}

	// Included bundle covers the whole request. The cap is an inclusive
	// ceiling: landing exactly on it is Allow.
	if in.MonthlyUsage+in.Units <= cap {
		return types.Decision{
			Allowed:         true,
			Plan:            types.ConsumptionPlan{FromBundle: in.Units},
			EffectiveCap:    cap,
			NewMonthlyUsage: in.MonthlyUsage + in.Units,
		}, nil
	}

	// Trial has no packs, no overage, no auto-bump: the bundle is the wall.
	if onTrial {
		return deny(types.DenyTrialCap, cap, in.MonthlyUsage), nil
	}

	// Paid tenant exceeding the bundle: split the excess across packs then
	// overage.
	fromBundle := cap - in.MonthlyUsage
	if fromBundle < 0 {
		fromBundle = 0
	}
	excess := in.Units - fromBundle

	debits, fromPacks := planPackDebits(in.Packs, in.Metric, excess, in.Timestamp)
	remaining := excess - fromPacks

	if remaining == 0 {
		return types.Decision{
			Allowed: true,
			Plan: types.ConsumptionPlan{
				FromBundle: fromBundle,
				FromPacks:  fromPacks,
				PackDebits: debits,
			},
			EffectiveCap:    cap,
			NewMonthlyUsage: in.MonthlyUsage + in.Units,
		}, nil
	}

	// Packs exhausted; the rest rides on overage if enabled and within the
	// spend cap (inclusive ceiling, like the bundle cap).
	if in.Tenant.OveragesEnabled {
		cost := Project(remaining, in.Tier.OverageRate(in.Metric))
		if in.OverageAccrued+cost <= in.Tenant.SpendCap {
			return types.Decision{
				Allowed: true,
				Plan: types.ConsumptionPlan{
					FromBundle:  fromBundle,
					FromPacks:   fromPacks,
					FromOverage: remaining,
					PackDebits:  debits,
					OverageCost: cost,
				},
				EffectiveCap:    cap,
				NewMonthlyUsage: in.MonthlyUsage + in.Units,
			}, nil
		}
		return deny(types.DenySpendCap, cap, in.MonthlyUsage), nil
	}

	return deny(types.DenyNoOverage, cap, in.MonthlyUsage), nil
}

// Project computes the overage cost of draining units at the given per-unit
// rate. Pure; the spend-cap guard and the accrual commit happen together in
// the store transaction.
func Project(units int64, rate types.USDMicros) types.USDMicros {
	return types.USDMicros(units) * rate
}

// planPackDebits simulates FIFO pack draining: oldest-purchased usable packs
// first, splitting one pack's remaining units across the request if needed.
// Returns the per-pack debits and the total units covered.
func planPackDebits(packs []types.Pack, metric types.Metric, need int64, now time.Time) ([]types.PackDebit, int64) {
	if need <= 0 {
		return nil, 0
	}

	usable := make([]types.Pack, 0, len(packs))
	for _, p := range packs {
		if p.Metric == metric && p.Usable(now) {
			usable = append(usable, p)
		}
	}
	sort.Slice(usable, func(i, j int) bool {
		return usable[i].PurchasedAt.Before(usable[j].PurchasedAt)
	})

	var debits []types.PackDebit
	var drained int64
	for _, p := range usable {
		if drained == need {
			break
		}
		take := need - drained
		if take > p.UnitsRemaining {
			take = p.UnitsRemaining
		}
		debits = append(debits, types.PackDebit{PackID: p.ID, Units: take})
		drained += take
	}
	return debits, drained
}

// tenantLocalTime converts the request timestamp into the tenant's local
// wall-clock time. An unknown timezone is a provisioning configuration error.
func tenantLocalTime(tz string, t time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, types.NewAppError(types.ErrCodeConfigQuietHours,
			fmt.Sprintf("tenant timezone %q is invalid", tz), err)
	}
	return t.In(loc), nil
}

func deny(reason types.DenyReason, cap, monthlyUsage int64) types.Decision {
	return types.Decision{
		Allowed:         false,
		Reason:          reason,
		EffectiveCap:    cap,
		NewMonthlyUsage: monthlyUsage,
	}
}
