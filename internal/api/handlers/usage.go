package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"metergate/internal/catalog"
	"metergate/internal/core"
	"metergate/internal/types"
)

// MetricUsage is one metric's line in the usage snapshot.
type MetricUsage struct {
	Metric         types.Metric `json:"metric"`
	Used           int64        `json:"used"`
	Cap            int64        `json:"cap"`
	Pct            float64      `json:"pct"`
	PackUnitsAvail int64        `json:"pack_units_available"`
}

// UsageSnapshot is the dashboard view of a tenant's current period.
type UsageSnapshot struct {
	TenantID       string         `json:"tenant_id"`
	Plan           types.PlanCode `json:"plan"`
	Period         types.Period   `json:"period"`
	OnTrial        bool           `json:"on_trial"`
	Metrics        []MetricUsage  `json:"metrics"`
	OverageAccrued float64        `json:"overage_accrued_usd"`
	SpendCap       float64        `json:"spend_cap_usd"`
}

// SnapshotStore is the read-only store surface the usage handler depends on.
type SnapshotStore interface {
	GetTenant(ctx context.Context, tenantID string) (*types.TenantBilling, error)
	CurrentUsage(ctx context.Context, tenantID string, metric types.Metric, period types.Period) (int64, error)
	ListPacks(ctx context.Context, tenantID string, metric types.Metric) ([]types.Pack, error)
	OverageAccrued(ctx context.Context, tenantID string, period types.Period) (types.USDMicros, error)
}

// UsageHandler serves tenant usage snapshots.
type UsageHandler struct {
	store   SnapshotStore
	catalog *catalog.Catalog
	clock   types.Clock
	logger  *slog.Logger
}

// NewUsageHandler creates the usage snapshot handler.
func NewUsageHandler(store SnapshotStore, cat *catalog.Catalog, clock types.Clock, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{store: store, catalog: cat, clock: clock, logger: logger}
}

// RegisterRoutes mounts the usage endpoints.
func (h *UsageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/v1/tenants/{tenantID}/usage", h.Snapshot)
}

// Snapshot handles GET /v1/tenants/{tenantID}/usage: every metric's counter
// against its cap, usable pack balances, and overage accrual for the month.
func (h *UsageHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	ctx := r.Context()

	tenant, err := h.store.GetTenant(ctx, tenantID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	tier, err := h.catalog.Tier(tenant.Plan)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	now := h.clock.Now()
	month := types.MonthPeriod(now)

	snapshot := UsageSnapshot{
		TenantID: tenantID,
		Plan:     tenant.Plan,
		Period:   month,
		OnTrial:  tenant.OnTrial(now),
		SpendCap: tenant.SpendCap.Dollars(),
	}

	for _, m := range types.AllMetrics {
		used, err := h.store.CurrentUsage(ctx, tenantID, m, month)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		packs, err := h.store.ListPacks(ctx, tenantID, m)
		if err != nil {
			core.Error(w, r, err)
			return
		}

		var packUnits int64
		for i := range packs {
			if packs[i].Usable(now) {
				packUnits += packs[i].UnitsRemaining
			}
		}

		cap := tier.Bundle[m]
		var pct float64
		if cap > 0 {
			pct = float64(used) / float64(cap)
		}
		snapshot.Metrics = append(snapshot.Metrics, MetricUsage{
			Metric:         m,
			Used:           used,
			Cap:            cap,
			Pct:            pct,
			PackUnitsAvail: packUnits,
		})
	}

	accrued, err := h.store.OverageAccrued(ctx, tenantID, month)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	snapshot.OverageAccrued = accrued.Dollars()

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: snapshot})
}
