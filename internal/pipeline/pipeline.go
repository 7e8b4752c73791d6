package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shoplens/medallion/internal/metrics"
	"github.com/shoplens/medallion/internal/models"
	"github.com/shoplens/medallion/internal/storage"
	"go.uber.org/zap"
)

// RunResult reports what a pipeline run accomplished.
type RunResult struct {
	TenantID        string                 `json:"tenant_id"`
	WindowStart     time.Time              `json:"window_start"`
	WindowEnd       time.Time              `json:"window_end"`
	EventsProcessed int                    `json:"events_processed"`
	DaysAggregated  int                    `json:"days_aggregated"`
	DaysFailed      int                    `json:"days_failed"`
	Metrics         []*models.DailyMetrics `json:"metrics"`
}

// Pipeline runs the full refinement for a tenant: clean the raw
// events in a window, then aggregate every calendar day the window
// touches. A failed day does not stop the remaining days; the run
// reports all failures together.
type Pipeline struct {
	cleaner    *Cleaner
	aggregator *Aggregator
	tenants    storage.TenantRepo
	logger     *zap.Logger
	metrics    *metrics.Metrics

	// windowDays is the default lookback when the caller gives no window.
	windowDays int

	nowFn func() time.Time
}

// NewPipeline wires the two stages together. tenants may be nil, in
// which case every tenant is treated as UTC.
func NewPipeline(cleaner *Cleaner, aggregator *Aggregator, tenants storage.TenantRepo, windowDays int, logger *zap.Logger) *Pipeline {
	if windowDays <= 0 {
		windowDays = 7
	}
	return &Pipeline{
		cleaner:    cleaner,
		aggregator: aggregator,
		tenants:    tenants,
		logger:     logger,
		windowDays: windowDays,
		nowFn:      time.Now,
	}
}

// SetMetrics enables Prometheus instrumentation.
func (p *Pipeline) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// Run refines [start, end] for one tenant. Zero start and end select
// the default lookback window ending now. Returns the per-day metrics
// in ascending date order; days that failed are absent from the slice
// and their errors joined into the returned error.
func (p *Pipeline) Run(ctx context.Context, tenantID string, start, end time.Time) (*RunResult, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	if start.IsZero() && end.IsZero() {
		end = p.nowFn()
		start = end.AddDate(0, 0, -p.windowDays)
	}
	if end.Before(start) {
		return nil, ErrInvalidWindow
	}

	loc, err := p.tenantLocation(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		TenantID:    tenantID,
		WindowStart: start,
		WindowEnd:   end,
		Metrics:     []*models.DailyMetrics{},
	}

	processed, err := p.cleaner.CleanRange(ctx, tenantID, start, end)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordPipelineRun(tenantID, err)
		}
		return nil, fmt.Errorf("clean stage: %w", err)
	}
	result.EventsProcessed = processed

	var dayErrs []error
	dayStart, _ := DayBounds(start, loc)
	for day := dayStart; !day.After(end); day = day.AddDate(0, 0, 1) {
		doc, err := p.aggregator.AggregateDay(ctx, tenantID, day, loc)
		if err != nil {
			result.DaysFailed++
			dayErrs = append(dayErrs, fmt.Errorf("aggregate %s: %w", day.Format("2006-01-02"), err))
			p.logger.Error("day aggregation failed",
				zap.String("tenant_id", tenantID),
				zap.Time("date", day),
				zap.Error(err),
			)
			continue
		}
		result.DaysAggregated++
		result.Metrics = append(result.Metrics, doc)
	}

	runErr := errors.Join(dayErrs...)
	if p.metrics != nil {
		p.metrics.RecordPipelineRun(tenantID, runErr)
	}

	p.logger.Info("pipeline run finished",
		zap.String("tenant_id", tenantID),
		zap.Time("window_start", start),
		zap.Time("window_end", end),
		zap.Int("events_processed", result.EventsProcessed),
		zap.Int("days_aggregated", result.DaysAggregated),
		zap.Int("days_failed", result.DaysFailed),
	)
	return result, runErr
}

// tenantLocation resolves the tenant's reference zone for day
// boundaries. Unknown tenants and unset or bad zones fall back to UTC.
func (p *Pipeline) tenantLocation(ctx context.Context, tenantID string) (*time.Location, error) {
	if p.tenants == nil {
		return time.UTC, nil
	}
	t, err := p.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant: %w", err)
	}
	if t == nil || t.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		p.logger.Warn("invalid tenant timezone, using UTC",
			zap.String("tenant_id", tenantID),
			zap.String("timezone", t.Timezone),
		)
		return time.UTC, nil
	}
	return loc, nil
}
