package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shoplens/medallion/internal/database"
	"github.com/shoplens/medallion/internal/models"
)

// ClickHouseRawEventStore implements RawEventStore on ClickHouse.
type ClickHouseRawEventStore struct {
	db *database.ClickHouseDB
}

// NewClickHouseRawEventStore creates a ClickHouse-backed bronze store.
func NewClickHouseRawEventStore(db *database.ClickHouseDB) *ClickHouseRawEventStore {
	return &ClickHouseRawEventStore{db: db}
}

// EnsureSchema creates the bronze table if it does not exist.
func (s *ClickHouseRawEventStore) EnsureSchema(ctx context.Context) error {
	err := s.db.Conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS bronze_events (
			id            String,
			tenant_id     String,
			event_type    String,
			timestamp     DateTime64(3),
			session_id    String,
			user_id       String,
			product_id    String,
			product_name  String,
			category      String,
			price         Float64,
			quantity      Int64,
			order_id      String,
			order_total   Float64,
			search_query  String,
			page_url      String,
			referrer      String,
			device_type   String,
			browser       String,
			country       String,
			ip            String,
			metadata      Map(String, String)
		) ENGINE = MergeTree()
		ORDER BY (tenant_id, timestamp)
	`)
	if err != nil {
		return fmt.Errorf("failed to create bronze_events table: %w", err)
	}
	return nil
}

func (s *ClickHouseRawEventStore) InsertBatch(ctx context.Context, events []*models.RawEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.db.Conn.PrepareBatch(ctx, `
		INSERT INTO bronze_events (
			id, tenant_id, event_type, timestamp, session_id, user_id,
			product_id, product_name, category, price, quantity,
			order_id, order_total, search_query, page_url, referrer,
			device_type, browser, country, ip, metadata
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare bronze batch: %w", err)
	}

	for _, e := range events {
		if err := batch.Append(
			e.ID,
			e.TenantID,
			string(e.EventType),
			e.Timestamp,
			e.SessionID,
			e.UserID,
			e.ProductID,
			e.ProductName,
			e.Category,
			e.Price,
			e.Quantity,
			e.OrderID,
			e.OrderTotal,
			e.SearchQuery,
			e.PageURL,
			e.Referrer,
			e.DeviceType,
			e.Browser,
			e.Country,
			e.IP,
			e.Metadata,
		); err != nil {
			return fmt.Errorf("failed to append raw event %s: %w", e.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send bronze batch: %w", err)
	}
	return nil
}

func (s *ClickHouseRawEventStore) FetchRange(ctx context.Context, tenantID string, start, end time.Time) ([]*models.RawEvent, error) {
	rows, err := s.db.Conn.Query(ctx, `
		SELECT id, tenant_id, event_type, timestamp, session_id, user_id,
		       product_id, product_name, category, price, quantity,
		       order_id, order_total, search_query, page_url, referrer,
		       device_type, browser, country, ip, metadata
		FROM bronze_events
		WHERE tenant_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query bronze events: %w", err)
	}
	defer rows.Close()

	var result []*models.RawEvent
	for rows.Next() {
		var (
			e         models.RawEvent
			eventType string
		)
		if err := rows.Scan(
			&e.ID,
			&e.TenantID,
			&eventType,
			&e.Timestamp,
			&e.SessionID,
			&e.UserID,
			&e.ProductID,
			&e.ProductName,
			&e.Category,
			&e.Price,
			&e.Quantity,
			&e.OrderID,
			&e.OrderTotal,
			&e.SearchQuery,
			&e.PageURL,
			&e.Referrer,
			&e.DeviceType,
			&e.Browser,
			&e.Country,
			&e.IP,
			&e.Metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan raw event: %w", err)
		}
		e.EventType = models.EventType(eventType)
		result = append(result, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error reading bronze events: %w", err)
	}
	return result, nil
}

// ClickHouseCleanedEventStore implements CleanedEventStore on ClickHouse.
type ClickHouseCleanedEventStore struct {
	db *database.ClickHouseDB
}

// NewClickHouseCleanedEventStore creates a ClickHouse-backed silver store.
func NewClickHouseCleanedEventStore(db *database.ClickHouseDB) *ClickHouseCleanedEventStore {
	return &ClickHouseCleanedEventStore{db: db}
}

// EnsureSchema creates the silver table if it does not exist.
func (s *ClickHouseCleanedEventStore) EnsureSchema(ctx context.Context) error {
	err := s.db.Conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS silver_events (
			tenant_id     String,
			event_type    String,
			timestamp     DateTime64(3),
			session_id    String,
			user_id       String,
			product_id    String,
			product_name  String,
			category      String,
			price         Float64,
			quantity      Int64,
			order_id      String,
			order_total   Float64,
			search_query  String,
			page_url      String,
			device_type   String,
			country       String,
			processed_at  DateTime64(3)
		) ENGINE = MergeTree()
		ORDER BY (tenant_id, timestamp)
	`)
	if err != nil {
		return fmt.Errorf("failed to create silver_events table: %w", err)
	}
	return nil
}

func (s *ClickHouseCleanedEventStore) InsertBatch(ctx context.Context, events []*models.CleanedEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.db.Conn.PrepareBatch(ctx, `
		INSERT INTO silver_events (
			tenant_id, event_type, timestamp, session_id, user_id,
			product_id, product_name, category, price, quantity,
			order_id, order_total, search_query, page_url,
			device_type, country, processed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare silver batch: %w", err)
	}

	for _, e := range events {
		if err := batch.Append(
			e.TenantID,
			string(e.EventType),
			e.Timestamp,
			e.SessionID,
			e.UserID,
			e.ProductID,
			e.ProductName,
			e.Category,
			e.Price,
			e.Quantity,
			e.OrderID,
			e.OrderTotal,
			e.SearchQuery,
			e.PageURL,
			string(e.DeviceType),
			e.Country,
			e.ProcessedAt,
		); err != nil {
			return fmt.Errorf("failed to append cleaned event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send silver batch: %w", err)
	}
	return nil
}

func (s *ClickHouseCleanedEventStore) FetchRange(ctx context.Context, tenantID string, start, end time.Time) ([]*models.CleanedEvent, error) {
	rows, err := s.db.Conn.Query(ctx, `
		SELECT tenant_id, event_type, timestamp, session_id, user_id,
		       product_id, product_name, category, price, quantity,
		       order_id, order_total, search_query, page_url,
		       device_type, country, processed_at
		FROM silver_events
		WHERE tenant_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query silver events: %w", err)
	}
	defer rows.Close()

	var result []*models.CleanedEvent
	for rows.Next() {
		var (
			e          models.CleanedEvent
			eventType  string
			deviceType string
		)
		if err := rows.Scan(
			&e.TenantID,
			&eventType,
			&e.Timestamp,
			&e.SessionID,
			&e.UserID,
			&e.ProductID,
			&e.ProductName,
			&e.Category,
			&e.Price,
			&e.Quantity,
			&e.OrderID,
			&e.OrderTotal,
			&e.SearchQuery,
			&e.PageURL,
			&deviceType,
			&e.Country,
			&e.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cleaned event: %w", err)
		}
		e.EventType = models.EventType(eventType)
		e.DeviceType = models.DeviceType(deviceType)
		result = append(result, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error reading silver events: %w", err)
	}
	return result, nil
}

func (s *ClickHouseCleanedEventStore) CountByEventType(ctx context.Context, tenantID string, start, end time.Time) (map[models.EventType]int64, error) {
	rows, err := s.db.Conn.Query(ctx, `
		SELECT event_type, count() AS total
		FROM silver_events
		WHERE tenant_id = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY event_type
	`, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query event type counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EventType]int64)
	for rows.Next() {
		var (
			eventType string
			total     uint64
		)
		if err := rows.Scan(&eventType, &total); err != nil {
			return nil, fmt.Errorf("failed to scan event type count: %w", err)
		}
		counts[models.EventType(eventType)] = int64(total)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error reading event type counts: %w", err)
	}
	return counts, nil
}
