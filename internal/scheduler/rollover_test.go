package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metergate/internal/store"
	"metergate/internal/types"
)

var jobNow = time.Date(2026, 9, 1, 0, 5, 0, 0, time.UTC)

type jobClock struct{ t time.Time }

func (c jobClock) Now() time.Time { return c.t }

type fakeEvaluator struct {
	mu      sync.Mutex
	seen    []string
	suggest map[string]bool
	failFor map[string]bool
}

func (f *fakeEvaluator) EvaluateDowngrade(ctx context.Context, tenantID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, tenantID)
	if f.failFor[tenantID] {
		return false, fmt.Errorf("boom")
	}
	return f.suggest[tenantID], nil
}

func TestRolloverRun(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		mem.PutTenant(&types.TenantBilling{
			ID:          fmt.Sprintf("tenant-%02d", i),
			Plan:        types.PlanGrowth,
			Timezone:    "UTC",
			TrialEndsAt: jobNow.Add(-60 * 24 * time.Hour),
		})
	}
	require.NoError(t, mem.CreatePack(ctx, &types.Pack{
		ID: "stale", TenantID: "tenant-00", Metric: types.MetricEmails,
		UnitsRemaining: 10, PurchasedAt: jobNow.Add(-60 * 24 * time.Hour),
		ExpiresAt: jobNow.Add(-time.Hour),
	}))
	require.NoError(t, mem.CreatePack(ctx, &types.Pack{
		ID: "fresh", TenantID: "tenant-00", Metric: types.MetricEmails,
		UnitsRemaining: 10, PurchasedAt: jobNow.Add(-time.Hour),
		ExpiresAt: jobNow.Add(24 * time.Hour),
	}))

	// One counter beyond the 13-month retention window, one inside it.
	_, err := mem.Commit(ctx, store.CommitRequest{
		TenantID: "tenant-00", Metric: types.MetricEmails,
		MonthPeriod: "2025-01", Units: 5, Now: jobNow,
	})
	require.NoError(t, err)
	_, err = mem.Commit(ctx, store.CommitRequest{
		TenantID: "tenant-00", Metric: types.MetricEmails,
		MonthPeriod: "2026-08", Units: 5, Now: jobNow,
	})
	require.NoError(t, err)

	eval := &fakeEvaluator{
		suggest: map[string]bool{"tenant-03": true, "tenant-17": true},
		failFor: map[string]bool{"tenant-09": true},
	}

	// Page size below the population forces multiple pages.
	job := NewRollover(mem, eval, jobClock{jobNow}, slog.Default(), 10, 4, 13)
	summary, err := job.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.PacksRetired)
	assert.Equal(t, int64(1), summary.RowsPruned)

	kept, err := mem.CurrentUsage(ctx, "tenant-00", types.MetricEmails, "2026-08")
	require.NoError(t, err)
	assert.Equal(t, int64(5), kept)
	assert.Equal(t, int64(25), summary.TenantsScanned)
	assert.Equal(t, int64(2), summary.DowngradesSuggested)
	assert.Equal(t, int64(1), summary.TenantErrors)
	assert.Len(t, eval.seen, 25)
}
