package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shoplens/medallion/internal/models"
	"github.com/shoplens/medallion/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyMetricsStore fails upserts for one specific day.
type flakyMetricsStore struct {
	*storage.InMemoryMetricsStore
	failDate time.Time
}

func (s *flakyMetricsStore) Upsert(ctx context.Context, m *models.DailyMetrics) error {
	if m.Date.Equal(s.failDate) {
		return errors.New("gold store unavailable")
	}
	return s.InMemoryMetricsStore.Upsert(ctx, m)
}

type pipelineFixture struct {
	pipeline *Pipeline
	raw      *storage.InMemoryRawEventStore
	cleaned  *storage.InMemoryCleanedEventStore
	gold     storage.MetricsStore
	tenants  *storage.InMemoryTenantRepo
}

func newPipelineFixture(t *testing.T, gold storage.MetricsStore) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		raw:     storage.NewInMemoryRawEventStore(),
		cleaned: storage.NewInMemoryCleanedEventStore(),
		tenants: storage.NewInMemoryTenantRepo(),
	}
	if gold == nil {
		gold = storage.NewInMemoryMetricsStore()
	}
	f.gold = gold

	logger := zap.NewNop()
	cleaner := NewCleaner(f.raw, f.cleaned, logger)
	agg := NewAggregator(f.cleaned, gold, logger)
	f.pipeline = NewPipeline(cleaner, agg, f.tenants, 7, logger)
	f.pipeline.nowFn = func() time.Time { return testDay.Add(72 * time.Hour) }
	return f
}

func TestPipelineRunThreeDays(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	var events []*models.RawEvent
	for day := 0; day < 3; day++ {
		at := testDay.AddDate(0, 0, day).Add(12 * time.Hour)
		events = append(events,
			rawEvent(models.EventPageView, at),
			rawEvent(models.EventPurchase, at.Add(time.Minute), func(e *models.RawEvent) {
				e.OrderID = "o1"
				e.OrderTotal = 10
			}),
		)
	}
	require.NoError(t, f.raw.InsertBatch(ctx, events))

	result, err := f.pipeline.Run(ctx, "tenant-1", testDay, testDay.AddDate(0, 0, 2).Add(23*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 6, result.EventsProcessed)
	assert.Equal(t, 3, result.DaysAggregated)
	assert.Zero(t, result.DaysFailed)
	require.Len(t, result.Metrics, 3)
	for i, m := range result.Metrics {
		assert.Equal(t, testDay.AddDate(0, 0, i), m.Date, "day %d", i)
		assert.Equal(t, 10.0, m.TotalRevenue)
		assert.Equal(t, int64(1), m.TotalPageViews)
	}
}

func TestPipelineRunContinuesPastFailedDay(t *testing.T) {
	failDate := testDay.AddDate(0, 0, 1)
	gold := &flakyMetricsStore{
		InMemoryMetricsStore: storage.NewInMemoryMetricsStore(),
		failDate:             failDate,
	}
	f := newPipelineFixture(t, gold)
	ctx := context.Background()

	result, err := f.pipeline.Run(ctx, "tenant-1", testDay, testDay.AddDate(0, 0, 2).Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gold store unavailable")

	assert.Equal(t, 2, result.DaysAggregated)
	assert.Equal(t, 1, result.DaysFailed)
	require.Len(t, result.Metrics, 2)
	assert.Equal(t, testDay, result.Metrics[0].Date)
	assert.Equal(t, testDay.AddDate(0, 0, 2), result.Metrics[1].Date)
}

func TestPipelineRunDefaultWindow(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	result, err := f.pipeline.Run(ctx, "tenant-1", time.Time{}, time.Time{})
	require.NoError(t, err)

	now := testDay.Add(72 * time.Hour)
	assert.Equal(t, now, result.WindowEnd)
	assert.Equal(t, now.AddDate(0, 0, -7), result.WindowStart)
	// 7 day lookback spans 8 calendar days.
	assert.Equal(t, 8, result.DaysAggregated)
}

func TestPipelineRunValidation(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx, "", testDay, testDay)
	assert.ErrorIs(t, err, ErrMissingTenant)

	_, err = f.pipeline.Run(ctx, "tenant-1", testDay, testDay.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestPipelineRunTenantTimezone(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.tenants.Create(ctx, &models.Tenant{
		ID:        "tenant-1",
		StoreName: "Tokyo Store",
		Email:     "owner@example.com",
		Timezone:  "Asia/Tokyo",
	}))

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 23:30 UTC on the 15th lands on the 16th in Tokyo.
	at := time.Date(2024, 3, 15, 23, 30, 0, 0, time.UTC)
	require.NoError(t, f.raw.InsertBatch(ctx, []*models.RawEvent{
		rawEvent(models.EventPageView, at),
	}))

	result, err := f.pipeline.Run(ctx, "tenant-1", at, at.Add(time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, result.Metrics)
	assert.True(t, result.Metrics[0].Date.Equal(time.Date(2024, 3, 16, 0, 0, 0, 0, tokyo)))
	assert.Equal(t, int64(1), result.Metrics[0].TotalPageViews)
}

func TestPipelineRunUnknownTimezoneFallsBackToUTC(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.tenants.Create(ctx, &models.Tenant{
		ID:        "tenant-1",
		StoreName: "Broken Zone",
		Email:     "owner@example.com",
		Timezone:  "Mars/Olympus",
	}))

	result, err := f.pipeline.Run(ctx, "tenant-1", testDay, testDay.Add(time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, result.Metrics)
	assert.Equal(t, time.UTC, result.Metrics[0].Date.Location())
}
