package storage

import (
	"context"
	"time"

	"github.com/shoplens/medallion/internal/models"
)

// =============================================
// BRONZE: RAW EVENTS
// =============================================

// RawEventStore is the append-only bronze layer. Events are written at
// ingestion and read back by the cleaning stage; they are never updated
// or deleted.
type RawEventStore interface {
	// InsertBatch appends raw events. The batch lands in full or the
	// whole call fails.
	InsertBatch(ctx context.Context, events []*models.RawEvent) error

	// FetchRange returns all raw events for the tenant with timestamp
	// in [start, end] inclusive, ordered by timestamp ascending.
	FetchRange(ctx context.Context, tenantID string, start, end time.Time) ([]*models.RawEvent, error)
}

// =============================================
// SILVER: CLEANED EVENTS
// =============================================

// CleanedEventStore is the silver layer written by the cleaning stage
// and read by the aggregation stage.
type CleanedEventStore interface {
	// InsertBatch appends cleaned events as a single batch. It does not
	// deduplicate: re-cleaning an overlapping window appends again.
	InsertBatch(ctx context.Context, events []*models.CleanedEvent) error

	// FetchRange returns all cleaned events for the tenant with
	// timestamp in [start, end] inclusive, ordered by timestamp
	// ascending.
	FetchRange(ctx context.Context, tenantID string, start, end time.Time) ([]*models.CleanedEvent, error)

	// CountByEventType groups events in [start, end] by event type.
	// Used by the conversion-funnel query.
	CountByEventType(ctx context.Context, tenantID string, start, end time.Time) (map[models.EventType]int64, error)
}

// =============================================
// GOLD: DAILY METRICS
// =============================================

// MetricsStore is the gold layer of per-day summaries.
type MetricsStore interface {
	// Upsert replaces the document for (tenant, date, period) in full,
	// inserting it if absent.
	Upsert(ctx context.Context, m *models.DailyMetrics) error

	// FetchRange returns all documents for the tenant with date in
	// [start, end] and the given period, ordered by date ascending.
	FetchRange(ctx context.Context, tenantID string, start, end time.Time, period models.Period) ([]*models.DailyMetrics, error)
}

// =============================================
// TENANTS
// =============================================

// TenantRepo stores tenant accounts.
type TenantRepo interface {
	Create(ctx context.Context, t *models.Tenant) error
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	GetByEmail(ctx context.Context, email string) (*models.Tenant, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error)
}
