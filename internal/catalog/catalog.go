// Package catalog defines the plan catalog: the authoritative, immutable
// description of every tier's price, rank, included bundle, trial daily caps,
// and overage rates. The catalog is loaded once at process initialization,
// validated, and never mutated; a malformed catalog fails startup rather than
// surfacing mid-request.
package catalog

import (
	"encoding/json"
	"fmt"
	"sort"

	"metergate/internal/types"
)

// Tier describes one plan tier.
type Tier struct {
	Code types.PlanCode `json:"code"`

	// Rank orders tiers for "next tier" resolution during auto-bump.
	// Ranks must be unique; trial sits at rank 0 and is never a bump target.
	Rank int `json:"rank"`

	// PriceCents is the monthly subscription price, used for bump proration.
	PriceCents int64 `json:"price_cents"`

	// Bundle is the included monthly cap per metric. Every metric in the
	// closed set must be present. The cap is an inclusive ceiling: usage
	// exactly equal to the cap after a request is still allowed.
	Bundle map[types.Metric]int64 `json:"bundle"`

	// DailyCaps are trial-only micro-caps keyed by metric. Nil on paid tiers.
	DailyCaps map[types.Metric]int64 `json:"daily_caps,omitempty"`

	// OverageRates is the pay-as-you-go price per unit beyond bundle and
	// packs. A metric absent from the map cannot accrue overage.
	OverageRates map[types.Metric]types.USDMicros `json:"overage_rates,omitempty"`

	// MaxAutoBumpsPerMonth bounds non-forgiven auto-bumps. Always 1 in the
	// default catalog; kept explicit so validation can enforce it.
	MaxAutoBumpsPerMonth int `json:"max_auto_bumps_per_month"`
}

// DailyCap returns the trial daily cap for the metric and whether one is
// configured.
func (t Tier) DailyCap(m types.Metric) (int64, bool) {
	if t.DailyCaps == nil {
		return 0, false
	}
	cap, ok := t.DailyCaps[m]
	return cap, ok
}

// OverageRate returns the per-unit overage rate for the metric, or zero if
// the metric cannot accrue overage on this tier.
func (t Tier) OverageRate(m types.Metric) types.USDMicros {
	if t.OverageRates == nil {
		return 0
	}
	return t.OverageRates[m]
}

// Catalog is the process-wide, read-only tier registry.
type Catalog struct {
	tiers  map[types.PlanCode]Tier
	byRank []Tier
}

// New builds and validates a catalog from the given tiers.
func New(tiers []Tier) (*Catalog, error) {
	c := &Catalog{tiers: make(map[types.PlanCode]Tier, len(tiers))}
	seenRanks := make(map[int]types.PlanCode, len(tiers))

	for _, t := range tiers {
		if t.Code == "" {
			return nil, types.NewAppError(types.ErrCodeConfigCatalog, "tier with empty code", nil)
		}
		if _, dup := c.tiers[t.Code]; dup {
			return nil, types.NewAppError(types.ErrCodeConfigCatalog,
				fmt.Sprintf("duplicate tier code %q", t.Code), nil)
		}
		if prev, dup := seenRanks[t.Rank]; dup {
			return nil, types.NewAppError(types.ErrCodeConfigCatalog,
				fmt.Sprintf("tiers %q and %q share rank %d", prev, t.Code, t.Rank), nil)
		}
		if t.PriceCents < 0 {
			return nil, types.NewAppError(types.ErrCodeConfigCatalog,
				fmt.Sprintf("tier %q has negative price", t.Code), nil)
		}
		if t.MaxAutoBumpsPerMonth != 1 {
			return nil, types.NewAppError(types.ErrCodeConfigCatalog,
				fmt.Sprintf("tier %q: max auto-bumps per month must be 1, got %d", t.Code, t.MaxAutoBumpsPerMonth), nil)
		}
		for _, m := range types.AllMetrics {
			if _, ok := t.Bundle[m]; !ok {
				return nil, types.NewAppError(types.ErrCodeConfigCatalog,
					fmt.Sprintf("tier %q missing bundle cap for metric %q", t.Code, m), nil)
			}
			if t.Bundle[m] < 0 {
				return nil, types.NewAppError(types.ErrCodeConfigCatalog,
					fmt.Sprintf("tier %q has negative bundle cap for metric %q", t.Code, m), nil)
			}
		}
		for m, cap := range t.DailyCaps {
			if !m.Valid() {
				return nil, types.NewAppError(types.ErrCodeConfigCatalog,
					fmt.Sprintf("tier %q daily cap references unknown metric %q", t.Code, m), nil)
			}
			if cap <= 0 {
				return nil, types.NewAppError(types.ErrCodeConfigCatalog,
					fmt.Sprintf("tier %q has non-positive daily cap for metric %q", t.Code, m), nil)
			}
		}
		for m, rate := range t.OverageRates {
			if !m.Valid() {
				return nil, types.NewAppError(types.ErrCodeConfigCatalog,
					fmt.Sprintf("tier %q overage rate references unknown metric %q", t.Code, m), nil)
			}
			if rate < 0 {
				return nil, types.NewAppError(types.ErrCodeConfigCatalog,
					fmt.Sprintf("tier %q has negative overage rate for metric %q", t.Code, m), nil)
			}
		}

		seenRanks[t.Rank] = t.Code
		c.tiers[t.Code] = t
		c.byRank = append(c.byRank, t)
	}

	if len(c.tiers) == 0 {
		return nil, types.NewAppError(types.ErrCodeConfigCatalog, "catalog has no tiers", nil)
	}

	sort.Slice(c.byRank, func(i, j int) bool { return c.byRank[i].Rank < c.byRank[j].Rank })
	return c, nil
}

// Tier resolves a plan code. An unknown code is a configuration error
// (validated tenant records always carry a known code), never a per-request
// business outcome.
func (c *Catalog) Tier(code types.PlanCode) (Tier, error) {
	t, ok := c.tiers[code]
	if !ok {
		return Tier{}, types.NewAppError(types.ErrCodeConfigUnknownTier,
			fmt.Sprintf("unknown plan tier %q", code), nil)
	}
	return t, nil
}

// NextTier returns the tier ranked immediately above the given code, for
// auto-bump target resolution. ok is false at the top of the ladder.
func (c *Catalog) NextTier(code types.PlanCode) (Tier, bool) {
	cur, err := c.Tier(code)
	if err != nil {
		return Tier{}, false
	}
	for _, t := range c.byRank {
		if t.Rank > cur.Rank {
			return t, true
		}
	}
	return Tier{}, false
}

// PreviousTier returns the tier ranked immediately below the given code, for
// downgrade suggestions. ok is false at the bottom of the ladder.
func (c *Catalog) PreviousTier(code types.PlanCode) (Tier, bool) {
	cur, err := c.Tier(code)
	if err != nil {
		return Tier{}, false
	}
	for i := len(c.byRank) - 1; i >= 0; i-- {
		if c.byRank[i].Rank < cur.Rank {
			return c.byRank[i], true
		}
	}
	return Tier{}, false
}

// Tiers returns all tiers in rank order. The slice is a copy; mutating it
// does not affect the catalog.
func (c *Catalog) Tiers() []Tier {
	out := make([]Tier, len(c.byRank))
	copy(out, c.byRank)
	return out
}

// LoadJSON builds a catalog from a JSON array of tiers, used for the
// CATALOG_JSON environment override. An empty blob yields the default
// catalog.
func LoadJSON(blob string) (*Catalog, error) {
	if blob == "" {
		return Default()
	}
	var tiers []Tier
	if err := json.Unmarshal([]byte(blob), &tiers); err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigCatalog, "catalog JSON is malformed", err)
	}
	return New(tiers)
}
