package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shoplens/medallion/internal/models"
)

// In-memory implementations of the storage interfaces. They back the
// service when a database is not configured and are used by tests.

// =============================================
// RAW EVENTS
// =============================================

// InMemoryRawEventStore keeps bronze events in a per-tenant slice.
type InMemoryRawEventStore struct {
	mu     sync.RWMutex
	events map[string][]*models.RawEvent // tenantID -> events in insertion order
}

// NewInMemoryRawEventStore creates an empty in-memory raw event store.
func NewInMemoryRawEventStore() *InMemoryRawEventStore {
	return &InMemoryRawEventStore{
		events: make(map[string][]*models.RawEvent),
	}
}

func (s *InMemoryRawEventStore) InsertBatch(ctx context.Context, events []*models.RawEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		cp := *e
		s.events[e.TenantID] = append(s.events[e.TenantID], &cp)
	}
	return nil
}

func (s *InMemoryRawEventStore) FetchRange(ctx context.Context, tenantID string, start, end time.Time) ([]*models.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.RawEvent, 0)
	for _, e := range s.events[tenantID] {
		if inRange(e.Timestamp, start, end) {
			cp := *e
			result = append(result, &cp)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// =============================================
// CLEANED EVENTS
// =============================================

// InMemoryCleanedEventStore keeps silver events in a per-tenant slice.
type InMemoryCleanedEventStore struct {
	mu     sync.RWMutex
	events map[string][]*models.CleanedEvent
}

// NewInMemoryCleanedEventStore creates an empty in-memory cleaned event store.
func NewInMemoryCleanedEventStore() *InMemoryCleanedEventStore {
	return &InMemoryCleanedEventStore{
		events: make(map[string][]*models.CleanedEvent),
	}
}

func (s *InMemoryCleanedEventStore) InsertBatch(ctx context.Context, events []*models.CleanedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		cp := *e
		s.events[e.TenantID] = append(s.events[e.TenantID], &cp)
	}
	return nil
}

func (s *InMemoryCleanedEventStore) FetchRange(ctx context.Context, tenantID string, start, end time.Time) ([]*models.CleanedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.CleanedEvent, 0)
	for _, e := range s.events[tenantID] {
		if inRange(e.Timestamp, start, end) {
			cp := *e
			result = append(result, &cp)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (s *InMemoryCleanedEventStore) CountByEventType(ctx context.Context, tenantID string, start, end time.Time) (map[models.EventType]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.EventType]int64)
	for _, e := range s.events[tenantID] {
		if inRange(e.Timestamp, start, end) {
			counts[e.EventType]++
		}
	}
	return counts, nil
}

// =============================================
// DAILY METRICS
// =============================================

// InMemoryMetricsStore keeps gold documents keyed by (tenant, date, period).
type InMemoryMetricsStore struct {
	mu   sync.RWMutex
	docs map[string]*models.DailyMetrics
}

// NewInMemoryMetricsStore creates an empty in-memory metrics store.
func NewInMemoryMetricsStore() *InMemoryMetricsStore {
	return &InMemoryMetricsStore{
		docs: make(map[string]*models.DailyMetrics),
	}
}

func metricsKey(tenantID string, date time.Time, period models.Period) string {
	return fmt.Sprintf("%s|%d|%s", tenantID, date.UnixMilli(), period)
}

func (s *InMemoryMetricsStore) Upsert(ctx context.Context, m *models.DailyMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *m
	s.docs[metricsKey(m.TenantID, m.Date, m.Period)] = &cp
	return nil
}

func (s *InMemoryMetricsStore) FetchRange(ctx context.Context, tenantID string, start, end time.Time, period models.Period) ([]*models.DailyMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.DailyMetrics, 0)
	for _, m := range s.docs {
		if m.TenantID == tenantID && m.Period == period && inRange(m.Date, start, end) {
			cp := *m
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

// =============================================
// TENANTS
// =============================================

// InMemoryTenantRepo stores tenants in maps keyed by id, email and API key.
type InMemoryTenantRepo struct {
	mu       sync.RWMutex
	tenants  map[string]*models.Tenant
	byEmail  map[string]string
	byAPIKey map[string]string
}

// NewInMemoryTenantRepo creates an empty in-memory tenant repo.
func NewInMemoryTenantRepo() *InMemoryTenantRepo {
	return &InMemoryTenantRepo{
		tenants:  make(map[string]*models.Tenant),
		byEmail:  make(map[string]string),
		byAPIKey: make(map[string]string),
	}
}

func (r *InMemoryTenantRepo) Create(ctx context.Context, t *models.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[t.Email]; exists {
		return fmt.Errorf("tenant with email %q already exists", t.Email)
	}

	cp := *t
	r.tenants[t.ID] = &cp
	r.byEmail[t.Email] = t.ID
	if t.APIKey != "" {
		r.byAPIKey[t.APIKey] = t.ID
	}
	return nil
}

func (r *InMemoryTenantRepo) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tenants[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *InMemoryTenantRepo) GetByEmail(ctx context.Context, email string) (*models.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	cp := *r.tenants[id]
	return &cp, nil
}

func (r *InMemoryTenantRepo) GetByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byAPIKey[apiKey]
	if !ok {
		return nil, nil
	}
	cp := *r.tenants[id]
	return &cp, nil
}

// inRange reports whether ts falls in [start, end] inclusive.
func inRange(ts, start, end time.Time) bool {
	return !ts.Before(start) && !ts.After(end)
}
