package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metergate/internal/billing"
	"metergate/internal/catalog"
	"metergate/internal/core"
	"metergate/internal/events"
	"metergate/internal/quota"
	"metergate/internal/store"
	"metergate/internal/types"
)

var handlerNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, eventType types.EventType, payload any) error {
	return nil
}

// newTestRouter wires the full handler stack against an in-memory store.
func newTestRouter(t *testing.T) (chi.Router, *store.Memory) {
	t.Helper()

	cat, err := catalog.Default()
	require.NoError(t, err)
	mem := store.NewMemory()
	logger := slog.Default()
	clock := fixedClock{handlerNow}
	validator := core.NewValidator()

	mgr := billing.NewManager(mem, cat, nopPublisher{}, nil, clock, logger)
	svc := quota.NewService(mem, cat, nopPublisher{}, events.NopDecisionMetrics{}, mgr, clock, logger)

	r := chi.NewRouter()
	NewAuthorizeHandler(svc, validator, logger).RegisterRoutes(r)
	NewUsageHandler(mem, cat, clock, logger).RegisterRoutes(r)
	NewPackHandler(mem, validator, clock, logger).RegisterRoutes(r)
	NewTierHandler(mgr, clock, logger).RegisterRoutes(r)
	return r, mem
}

func seedTenant(mem *store.Memory) {
	mem.PutTenant(&types.TenantBilling{
		ID:              "t1",
		Plan:            types.PlanStarter,
		Timezone:        "UTC",
		TrialEndsAt:     handlerNow.Add(-30 * 24 * time.Hour),
		OveragesEnabled: true,
		SpendCap:        types.MicrosFromDollars(50),
		AutoBumpOn:      true,
	})
}

func doJSON(t *testing.T, r chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthorizeEndpoint_Allow(t *testing.T) {
	r, mem := newTestRouter(t)
	seedTenant(mem)

	rec := doJSON(t, r, http.MethodPost, "/v1/authorize",
		`{"tenant_id":"t1","metric":"emails","units":10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data types.Decision `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Allowed)
	assert.Equal(t, int64(10), resp.Data.NewMonthlyUsage)
}

func TestAuthorizeEndpoint_DenyIsOK(t *testing.T) {
	r, mem := newTestRouter(t)
	mem.PutTenant(&types.TenantBilling{
		ID: "t1", Plan: types.PlanStarter, Timezone: "UTC",
		TrialEndsAt: handlerNow.Add(-30 * 24 * time.Hour),
	})

	rec := doJSON(t, r, http.MethodPost, "/v1/authorize",
		`{"tenant_id":"t1","metric":"emails","units":501}`)
	require.Equal(t, http.StatusOK, rec.Code, "business denial is not an HTTP error")

	var resp struct {
		Data types.Decision `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Data.Allowed)
	assert.Equal(t, types.DenyNoOverage, resp.Data.Reason)
}

func TestAuthorizeEndpoint_Validation(t *testing.T) {
	r, mem := newTestRouter(t)
	seedTenant(mem)

	rec := doJSON(t, r, http.MethodPost, "/v1/authorize",
		`{"tenant_id":"t1","metric":"emails"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/v1/authorize",
		`{"tenant_id":"t1","metric":"emails","units":1,"bogus_field":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/v1/authorize",
		`{"tenant_id":"ghost","metric":"emails","units":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsageSnapshotEndpoint(t *testing.T) {
	r, mem := newTestRouter(t)
	seedTenant(mem)

	rec := doJSON(t, r, http.MethodPost, "/v1/authorize",
		`{"tenant_id":"t1","metric":"emails","units":250}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/v1/tenants/t1/usage", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data UsageSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.PlanStarter, resp.Data.Plan)
	assert.False(t, resp.Data.OnTrial)
	assert.Equal(t, 50.0, resp.Data.SpendCap)
	require.Len(t, resp.Data.Metrics, len(types.AllMetrics))

	for _, mu := range resp.Data.Metrics {
		if mu.Metric == types.MetricEmails {
			assert.Equal(t, int64(250), mu.Used)
			assert.Equal(t, int64(500), mu.Cap)
			assert.Equal(t, 0.5, mu.Pct)
		}
	}
}

func TestPackEndpoints(t *testing.T) {
	r, mem := newTestRouter(t)
	seedTenant(mem)

	expires := handlerNow.Add(90 * 24 * time.Hour).Format(time.RFC3339)
	rec := doJSON(t, r, http.MethodPost, "/v1/tenants/t1/packs",
		`{"metric":"emails","units":1200,"expires_at":"`+expires+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data types.Pack `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, strings.HasPrefix(created.Data.ID, "pack_"))
	assert.Equal(t, int64(1200), created.Data.UnitsRemaining)

	rec = doJSON(t, r, http.MethodGet, "/v1/tenants/t1/packs?metric=emails", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Data []types.Pack `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Data, 1)

	// Expiry in the past is rejected.
	past := handlerNow.Add(-time.Hour).Format(time.RFC3339)
	rec = doJSON(t, r, http.MethodPost, "/v1/tenants/t1/packs",
		`{"metric":"emails","units":100,"expires_at":"`+past+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/v1/tenants/t1/packs?metric=pigeons", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/v1/tenants/ghost/packs",
		`{"metric":"emails","units":100,"expires_at":"`+expires+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTierEndpoints(t *testing.T) {
	r, mem := newTestRouter(t)
	seedTenant(mem)

	rec := doJSON(t, r, http.MethodGet, "/v1/tenants/t1/bump-state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.BumpStable))

	// Exhaust the lead bundle through the authorize endpoint: the escalator
	// bumps starter to growth.
	rec = doJSON(t, r, http.MethodPost, "/v1/authorize",
		`{"tenant_id":"t1","metric":"lead_events","units":150}`)
	require.Equal(t, http.StatusOK, rec.Code)

	tenant, err := mem.GetTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanGrowth, tenant.Plan)

	rec = doJSON(t, r, http.MethodGet, "/v1/tenants/t1/bump-state", "")
	assert.Contains(t, rec.Body.String(), string(types.BumpedOnce))

	rec = doJSON(t, r, http.MethodPost, "/v1/tenants/t1/forgive-bump", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tenant, err = mem.GetTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanStarter, tenant.Plan)

	// The next lead event spills into overage, reporting exhaustion again
	// and re-bumping; the second forgiveness in the quarter conflicts.
	rec = doJSON(t, r, http.MethodPost, "/v1/authorize",
		`{"tenant_id":"t1","metric":"lead_events","units":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, r, http.MethodPost, "/v1/tenants/t1/forgive-bump", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
