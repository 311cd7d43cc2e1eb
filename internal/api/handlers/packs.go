package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"metergate/internal/core"
	"metergate/internal/types"
)

// PackStore is the store surface for pack provisioning.
type PackStore interface {
	GetTenant(ctx context.Context, tenantID string) (*types.TenantBilling, error)
	CreatePack(ctx context.Context, p *types.Pack) error
	ListPacks(ctx context.Context, tenantID string, metric types.Metric) ([]types.Pack, error)
}

// CreatePackRequest records a purchased pack. Purchase payment itself happens
// upstream in checkout; this endpoint makes the units consumable.
type CreatePackRequest struct {
	Metric    types.Metric `json:"metric" validate:"required"`
	Units     int64        `json:"units" validate:"required,gt=0"`
	ExpiresAt time.Time    `json:"expires_at" validate:"required"`
}

// PackHandler serves pack provisioning and listing.
type PackHandler struct {
	store     PackStore
	validator *core.Validator
	clock     types.Clock
	logger    *slog.Logger
}

// NewPackHandler creates the pack handler.
func NewPackHandler(store PackStore, validator *core.Validator, clock types.Clock, logger *slog.Logger) *PackHandler {
	return &PackHandler{store: store, validator: validator, clock: clock, logger: logger}
}

// RegisterRoutes mounts the pack endpoints.
func (h *PackHandler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/tenants/{tenantID}/packs", h.Create)
	r.Get("/v1/tenants/{tenantID}/packs", h.List)
}

// Create handles POST /v1/tenants/{tenantID}/packs.
func (h *PackHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	ctx := r.Context()

	var req CreatePackRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}
	if !req.Metric.Valid() {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationUnknownMetric,
			fmt.Sprintf("unknown metric %q", req.Metric), nil))
		return
	}

	now := h.clock.Now()
	if !req.ExpiresAt.After(now) {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
			"expires_at must be in the future", nil))
		return
	}

	// Tenant must exist; packs for unknown tenants would be unreachable units.
	if _, err := h.store.GetTenant(ctx, tenantID); err != nil {
		core.Error(w, r, err)
		return
	}

	pack := &types.Pack{
		ID:             "pack_" + uuid.NewString(),
		TenantID:       tenantID,
		Metric:         req.Metric,
		UnitsRemaining: req.Units,
		PurchasedAt:    now,
		ExpiresAt:      req.ExpiresAt.UTC(),
	}
	if err := h.store.CreatePack(ctx, pack); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("pack recorded",
		"tenant_id", tenantID,
		"pack_id", pack.ID,
		"metric", string(pack.Metric),
		"units", pack.UnitsRemaining,
	)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: pack})
}

// List handles GET /v1/tenants/{tenantID}/packs. The optional metric query
// parameter narrows the listing; retired and expired packs are included for
// audit visibility.
func (h *PackHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	ctx := r.Context()

	if _, err := h.store.GetTenant(ctx, tenantID); err != nil {
		core.Error(w, r, err)
		return
	}

	metrics := types.AllMetrics
	if q := r.URL.Query().Get("metric"); q != "" {
		m := types.Metric(q)
		if !m.Valid() {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationUnknownMetric,
				fmt.Sprintf("unknown metric %q", q), nil))
			return
		}
		metrics = []types.Metric{m}
	}

	packs := make([]types.Pack, 0)
	for _, m := range metrics {
		ps, err := h.store.ListPacks(ctx, tenantID, m)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		packs = append(packs, ps...)
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: packs})
}
