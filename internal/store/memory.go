package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"metergate/internal/types"
)

// Memory is the in-memory Store used by local mode and tests. A single mutex
// guards all state; Commit therefore has the same all-or-nothing semantics as
// the SQL implementation, just with coarser locking.
type Memory struct {
	mu sync.Mutex

	usage   map[string]int64            // tenant|metric|period -> amount used
	packs   map[string]*types.Pack      // pack ID -> pack
	overage map[string]types.USDMicros  // tenant|period -> accrued
	fired   map[string]map[float64]bool // tenant|metric|period -> thresholds
	bumps   map[string]*types.BumpRecord
	tenants map[string]*types.TenantBilling
	commits map[string]commitRecord // idempotency key -> stored result
}

// commitRecord pairs a stored commit result with the request identity it was
// produced for, so a replayed key carrying a different request is rejected
// instead of silently returning someone else's result.
type commitRecord struct {
	result   CommitResult
	tenantID string
	metric   types.Metric
	units    int64
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		usage:   make(map[string]int64),
		packs:   make(map[string]*types.Pack),
		overage: make(map[string]types.USDMicros),
		fired:   make(map[string]map[float64]bool),
		bumps:   make(map[string]*types.BumpRecord),
		tenants: make(map[string]*types.TenantBilling),
		commits: make(map[string]commitRecord),
	}
}

func usageKey(tenantID string, metric types.Metric, period types.Period) string {
	return fmt.Sprintf("%s|%s|%s", tenantID, metric, period)
}

func overageKey(tenantID string, period types.Period) string {
	return fmt.Sprintf("%s|%s", tenantID, period)
}

// PutTenant seeds or replaces a tenant record. Local-mode and test helper;
// production provisioning writes tenants out of band.
func (m *Memory) PutTenant(t *types.TenantBilling) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tenants[t.ID] = &cp
}

func (m *Memory) UsageView(ctx context.Context, tenantID string, metric types.Metric, month, day types.Period) (UsageView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return UsageView{
		MonthlyUsage:   m.usage[usageKey(tenantID, metric, month)],
		DailyUsage:     m.usage[usageKey(tenantID, metric, day)],
		Packs:          m.packsLocked(tenantID, metric),
		OverageAccrued: m.overage[overageKey(tenantID, month)],
	}, nil
}

func (m *Memory) CurrentUsage(ctx context.Context, tenantID string, metric types.Metric, period types.Period) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[usageKey(tenantID, metric, period)], nil
}

// Commit applies the plan atomically. Guards are checked first; on any guard
// failure nothing is written and Conflict is reported.
func (m *Memory) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.IdempotencyKey != "" {
		if prev, ok := m.commits[req.IdempotencyKey]; ok {
			if prev.tenantID != req.TenantID || prev.metric != req.Metric || prev.units != req.Units {
				return CommitResult{}, types.NewAppError(types.ErrCodeConflictIdempotency,
					fmt.Sprintf("idempotency key %q was used by a different request", req.IdempotencyKey), nil)
			}
			res := prev.result
			res.Replayed = true
			return res, nil
		}
	}

	monthKey := usageKey(req.TenantID, req.Metric, req.MonthPeriod)
	if m.usage[monthKey] != req.ExpectedMonthlyUsage {
		return CommitResult{Conflict: true}, nil
	}
	if req.TrackDaily {
		if m.usage[usageKey(req.TenantID, req.Metric, req.DayPeriod)] != req.ExpectedDailyUsage {
			return CommitResult{Conflict: true}, nil
		}
	}
	for _, d := range req.Plan.PackDebits {
		p, ok := m.packs[d.PackID]
		if !ok || !p.Usable(req.Now) || p.UnitsRemaining < d.Units {
			return CommitResult{Conflict: true}, nil
		}
	}
	if req.Plan.OverageCost > 0 {
		oKey := overageKey(req.TenantID, req.MonthPeriod)
		if m.overage[oKey]+req.Plan.OverageCost > req.SpendCap {
			return CommitResult{Conflict: true}, nil
		}
	}

	m.usage[monthKey] += req.Units
	if req.TrackDaily {
		m.usage[usageKey(req.TenantID, req.Metric, req.DayPeriod)] += req.Units
	}
	for _, d := range req.Plan.PackDebits {
		p := m.packs[d.PackID]
		p.UnitsRemaining -= d.Units
		if p.UnitsRemaining == 0 {
			at := req.Now
			p.RetiredAt = &at
		}
	}
	if req.Plan.OverageCost > 0 {
		m.overage[overageKey(req.TenantID, req.MonthPeriod)] += req.Plan.OverageCost
	}

	res := CommitResult{NewMonthlyTotal: m.usage[monthKey]}
	if req.IdempotencyKey != "" {
		m.commits[req.IdempotencyKey] = commitRecord{
			result:   res,
			tenantID: req.TenantID,
			metric:   req.Metric,
			units:    req.Units,
		}
	}
	return res, nil
}

// PruneHistory removes period-keyed state strictly older than the cutoff.
// Period keys compare lexicographically for both month and day forms.
func (m *Memory) PruneHistory(ctx context.Context, before types.Period) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key := range m.usage {
		if keyPeriod(key, 2) < string(before) {
			delete(m.usage, key)
			n++
		}
	}
	for key := range m.overage {
		if keyPeriod(key, 1) < string(before) {
			delete(m.overage, key)
			n++
		}
	}
	for key := range m.fired {
		if keyPeriod(key, 2) < string(before) {
			delete(m.fired, key)
			n++
		}
	}
	return n, nil
}

func keyPeriod(key string, idx int) string {
	parts := strings.Split(key, "|")
	if len(parts) <= idx {
		return ""
	}
	return parts[idx]
}

func (m *Memory) OverageAccrued(ctx context.Context, tenantID string, period types.Period) (types.USDMicros, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overage[overageKey(tenantID, period)], nil
}

func (m *Memory) FiredThresholds(ctx context.Context, tenantID string, metric types.Metric, period types.Period) (map[float64]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[float64]bool)
	for th := range m.fired[usageKey(tenantID, metric, period)] {
		out[th] = true
	}
	return out, nil
}

func (m *Memory) MarkThresholdFired(ctx context.Context, tenantID string, metric types.Metric, period types.Period, threshold float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := usageKey(tenantID, metric, period)
	if m.fired[key] == nil {
		m.fired[key] = make(map[float64]bool)
	}
	if m.fired[key][threshold] {
		return false, nil
	}
	m.fired[key][threshold] = true
	return true, nil
}

func (m *Memory) CreatePack(ctx context.Context, p *types.Pack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.packs[p.ID] = &cp
	return nil
}

func (m *Memory) ListPacks(ctx context.Context, tenantID string, metric types.Metric) ([]types.Pack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.packsLocked(tenantID, metric), nil
}

func (m *Memory) packsLocked(tenantID string, metric types.Metric) []types.Pack {
	var out []types.Pack
	for _, p := range m.packs {
		if p.TenantID == tenantID && p.Metric == metric {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PurchasedAt.Before(out[j].PurchasedAt) })
	return out
}

func (m *Memory) RetireExpiredPacks(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for _, p := range m.packs {
		if p.RetiredAt == nil && p.Expired(now) {
			at := now
			p.RetiredAt = &at
			n++
		}
	}
	return n, nil
}

func (m *Memory) BumpForMonth(ctx context.Context, tenantID string, month types.Period) (*types.BumpRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Latest record wins, matching the SQL ORDER BY created_at DESC. A
	// forgiven bump followed by a fresh one must resolve to the fresh one.
	var latest *types.BumpRecord
	for _, b := range m.bumps {
		if b.TenantID != tenantID || b.Month != month {
			continue
		}
		if latest == nil || b.CreatedAt.After(latest.CreatedAt) ||
			(b.CreatedAt.Equal(latest.CreatedAt) && !b.Forgiven()) {
			latest = b
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *Memory) CreateBump(ctx context.Context, rec *types.BumpRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.bumps {
		if b.TenantID == rec.TenantID && b.Month == rec.Month && !b.Forgiven() {
			return types.NewAppError(types.ErrCodeConflictBumpExists,
				fmt.Sprintf("tenant %s already bumped in %s", rec.TenantID, rec.Month), nil)
		}
	}
	cp := *rec
	m.bumps[rec.ID] = &cp
	return nil
}

func (m *Memory) MarkForgiven(ctx context.Context, bumpID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bumps[bumpID]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundBump,
			fmt.Sprintf("bump record %s not found", bumpID), nil)
	}
	t := at
	b.ForgivenAt = &t
	return nil
}

func (m *Memory) LastForgivenessAt(ctx context.Context, tenantID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var last *time.Time
	for _, b := range m.bumps {
		if b.TenantID != tenantID || b.ForgivenAt == nil {
			continue
		}
		if last == nil || b.ForgivenAt.After(*last) {
			t := *b.ForgivenAt
			last = &t
		}
	}
	return last, nil
}

func (m *Memory) GetTenant(ctx context.Context, tenantID string) (*types.TenantBilling, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundTenant,
			fmt.Sprintf("tenant %s not found", tenantID), nil)
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) UpdateTenantPlan(ctx context.Context, tenantID string, plan types.PlanCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[tenantID]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundTenant,
			fmt.Sprintf("tenant %s not found", tenantID), nil)
	}
	t.Plan = plan
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) ListTenantIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.tenants))
	for id := range m.tenants {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
