package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shoplens/medallion/internal/enrich"
	"github.com/shoplens/medallion/internal/metrics"
	"github.com/shoplens/medallion/internal/models"
	"github.com/shoplens/medallion/internal/storage"
	"go.uber.org/zap"
)

// Validation errors, raised before any storage I/O.
var (
	ErrMissingTenant = errors.New("tenant id is required")
	ErrInvalidWindow = errors.New("window end precedes window start")
)

// Defaults applied when a product reference carries blank name or
// category.
const (
	DefaultProductName = "Unknown Product"
	DefaultCategory    = "Uncategorized"
)

// Cleaner is the bronze-to-silver stage. It reads a tenant's raw
// events in a time window, normalizes each into exactly one cleaned
// event, and appends the result to the silver layer in a single batch.
//
// Cleaning is strictly additive: re-running over an overlapping window
// appends the derived events again. Callers own window bookkeeping.
type Cleaner struct {
	raw     storage.RawEventStore
	cleaned storage.CleanedEventStore
	logger  *zap.Logger
	geo     enrich.GeoProvider
	metrics *metrics.Metrics
	nowFn   func() time.Time
}

// NewCleaner constructs a Cleaner over the given bronze and silver stores.
func NewCleaner(raw storage.RawEventStore, cleaned storage.CleanedEventStore, logger *zap.Logger) *Cleaner {
	return &Cleaner{
		raw:     raw,
		cleaned: cleaned,
		logger:  logger,
		nowFn:   time.Now,
	}
}

// SetGeo enables country enrichment from IP addresses.
func (c *Cleaner) SetGeo(geo enrich.GeoProvider) {
	c.geo = geo
}

// SetMetrics enables Prometheus instrumentation.
func (c *Cleaner) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// CleanRange processes all raw events for the tenant with timestamp in
// [start, end] inclusive and returns the number of cleaned events
// written. The batch insert lands in full or the call fails without
// visible partial state.
func (c *Cleaner) CleanRange(ctx context.Context, tenantID string, start, end time.Time) (int, error) {
	if tenantID == "" {
		return 0, ErrMissingTenant
	}
	if end.Before(start) {
		return 0, fmt.Errorf("%w: start=%s end=%s", ErrInvalidWindow,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	began := c.nowFn()
	count, err := c.cleanRange(ctx, tenantID, start, end)
	if c.metrics != nil {
		c.metrics.RecordClean(tenantID, count, c.nowFn().Sub(began), err)
	}
	return count, err
}

func (c *Cleaner) cleanRange(ctx context.Context, tenantID string, start, end time.Time) (int, error) {
	rawEvents, err := c.raw.FetchRange(ctx, tenantID, start, end)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordStorageError("bronze", "fetch")
		}
		return 0, fmt.Errorf("fetch raw events: %w", err)
	}

	if len(rawEvents) == 0 {
		c.logger.Debug("no raw events in window",
			zap.String("tenant_id", tenantID),
			zap.Time("start", start),
			zap.Time("end", end),
		)
		return 0, nil
	}

	now := c.nowFn()
	cleanedEvents := make([]*models.CleanedEvent, 0, len(rawEvents))
	for _, raw := range rawEvents {
		cleanedEvents = append(cleanedEvents, c.normalize(raw, now))
	}

	if err := c.cleaned.InsertBatch(ctx, cleanedEvents); err != nil {
		if c.metrics != nil {
			c.metrics.RecordStorageError("silver", "insert")
		}
		return 0, fmt.Errorf("write cleaned events: %w", err)
	}

	c.logger.Info("cleaned raw events",
		zap.String("tenant_id", tenantID),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("events", len(cleanedEvents)),
	)
	return len(cleanedEvents), nil
}

// normalize derives the cleaned event for one raw event. Each rule
// applies independently per field; fields absent on the source stay
// absent on the derivative.
func (c *Cleaner) normalize(raw *models.RawEvent, now time.Time) *models.CleanedEvent {
	out := &models.CleanedEvent{
		TenantID:    raw.TenantID,
		EventType:   raw.EventType,
		Timestamp:   raw.Timestamp,
		SessionID:   raw.SessionID,
		UserID:      raw.UserID,
		ProcessedAt: now,
	}

	if productID := strings.TrimSpace(raw.ProductID); productID != "" {
		out.ProductID = productID
		out.ProductName = strings.TrimSpace(raw.ProductName)
		if out.ProductName == "" {
			out.ProductName = DefaultProductName
		}
		out.Category = strings.TrimSpace(raw.Category)
		if out.Category == "" {
			out.Category = DefaultCategory
		}
		if raw.Price > 0 {
			out.Price = raw.Price
		}
		out.Quantity = 1
		if raw.Quantity > 1 {
			out.Quantity = raw.Quantity
		}
	}

	if orderID := strings.TrimSpace(raw.OrderID); orderID != "" {
		out.OrderID = orderID
		if raw.OrderTotal > 0 {
			out.OrderTotal = raw.OrderTotal
		}
	}

	if query := strings.TrimSpace(raw.SearchQuery); query != "" {
		out.SearchQuery = strings.ToLower(query)
	}

	out.DeviceType = models.NormalizeDeviceType(raw.DeviceType)
	out.Country = strings.TrimSpace(raw.Country)
	out.PageURL = strings.TrimSpace(raw.PageURL)

	if out.Country == "" && raw.IP != "" && c.geo != nil {
		country, err := c.geo.CountryCode(raw.IP)
		if err == nil {
			out.Country = country
		}
	}

	return out
}
