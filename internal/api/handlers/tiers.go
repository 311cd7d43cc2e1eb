package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"metergate/internal/core"
	"metergate/internal/types"
)

// TierManager is the tier transition surface exposed over the API: bump
// state, operator-invoked forgiveness, and downgrade evaluation.
type TierManager interface {
	State(ctx context.Context, tenantID string, now time.Time) (types.BumpState, error)
	Forgive(ctx context.Context, tenantID string, now time.Time) error
	EvaluateDowngrade(ctx context.Context, tenantID string, now time.Time) (bool, error)
}

// TierHandler serves tier transition operations.
type TierHandler struct {
	manager TierManager
	clock   types.Clock
	logger  *slog.Logger
}

// NewTierHandler creates the tier operations handler.
func NewTierHandler(manager TierManager, clock types.Clock, logger *slog.Logger) *TierHandler {
	return &TierHandler{manager: manager, clock: clock, logger: logger}
}

// RegisterRoutes mounts the tier endpoints.
func (h *TierHandler) RegisterRoutes(r chi.Router) {
	r.Get("/v1/tenants/{tenantID}/bump-state", h.BumpState)
	r.Post("/v1/tenants/{tenantID}/forgive-bump", h.Forgive)
	r.Post("/v1/tenants/{tenantID}/evaluate-downgrade", h.EvaluateDowngrade)
}

// BumpState handles GET /v1/tenants/{tenantID}/bump-state.
func (h *TierHandler) BumpState(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	state, err := h.manager.State(r.Context(), tenantID, h.clock.Now())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"tenant_id":  tenantID,
		"bump_state": state,
	}})
}

// Forgive handles POST /v1/tenants/{tenantID}/forgive-bump: reverts this
// month's auto-bump and consumes the quarterly forgiveness credit.
func (h *TierHandler) Forgive(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	if err := h.manager.Forgive(r.Context(), tenantID, h.clock.Now()); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{
		"tenant_id": tenantID,
		"status":    "forgiven",
	}})
}

// EvaluateDowngrade handles POST /v1/tenants/{tenantID}/evaluate-downgrade,
// an operator trigger for the downgrade heuristic outside the monthly job.
func (h *TierHandler) EvaluateDowngrade(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	suggested, err := h.manager.EvaluateDowngrade(r.Context(), tenantID, h.clock.Now())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"tenant_id": tenantID,
		"suggested": suggested,
	}})
}
