// Package handlers contains the HTTP handler implementations for the
// metering API: authorization, usage snapshots, pack provisioning, and tier
// operations. Each handler file defines the minimal service interface it
// consumes and registers its own routes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"metergate/internal/core"
	"metergate/internal/quota"
	"metergate/internal/types"
)

// QuotaAuthorizer is the admission-control service contract.
type QuotaAuthorizer interface {
	Authorize(ctx context.Context, req quota.AuthorizeRequest) (types.Decision, error)
}

// AuthorizeHandler serves the hot-path authorization endpoint.
type AuthorizeHandler struct {
	svc       QuotaAuthorizer
	validator *core.Validator
	logger    *slog.Logger
}

// NewAuthorizeHandler creates the authorization handler.
func NewAuthorizeHandler(svc QuotaAuthorizer, validator *core.Validator, logger *slog.Logger) *AuthorizeHandler {
	return &AuthorizeHandler{svc: svc, validator: validator, logger: logger}
}

// RegisterRoutes mounts the authorization endpoint.
func (h *AuthorizeHandler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/authorize", h.Authorize)
}

// Authorize handles POST /v1/authorize. A business denial is a 200 with
// allowed=false; error statuses are reserved for validation and
// infrastructure failures, so callers can branch on the decision without
// parsing error envelopes.
func (h *AuthorizeHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req quota.AuthorizeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	dec, err := h.svc.Authorize(r.Context(), req)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: dec})
}
