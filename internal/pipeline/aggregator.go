package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shoplens/medallion/internal/metrics"
	"github.com/shoplens/medallion/internal/models"
	"github.com/shoplens/medallion/internal/storage"
	"go.uber.org/zap"
)

// Aggregator is the silver-to-gold stage. It reads a tenant's cleaned
// events for one calendar day, computes the daily metrics document,
// and upserts it under the (tenant, start-of-day, period) key.
//
// The upsert makes the stage idempotent per day: re-running against an
// unchanged event set produces an identical document except for the
// calculation timestamp.
type Aggregator struct {
	cleaned storage.CleanedEventStore
	gold    storage.MetricsStore
	logger  *zap.Logger
	metrics *metrics.Metrics

	// locks serializes aggregation per (tenant, day) in this process;
	// redisLock extends the guarantee across instances when configured.
	locks     *keyedMutex
	redisLock *dayLock

	nowFn func() time.Time
}

// NewAggregator constructs an Aggregator over the given silver and gold stores.
func NewAggregator(cleaned storage.CleanedEventStore, gold storage.MetricsStore, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		cleaned: cleaned,
		gold:    gold,
		logger:  logger,
		locks:   newKeyedMutex(),
		nowFn:   time.Now,
	}
}

// SetDistributedLock enables a Redis-backed lock so that concurrent
// aggregation of the same (tenant, day) is excluded across instances.
func (a *Aggregator) SetDistributedLock(client *redis.Client, ttl time.Duration) {
	a.redisLock = newDayLock(client, ttl)
}

// SetMetrics enables Prometheus instrumentation.
func (a *Aggregator) SetMetrics(m *metrics.Metrics) {
	a.metrics = m
}

// DayBounds returns the inclusive [start, end] bounds of the calendar
// day containing date in the given location. A nil location means UTC.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	d := date.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	end := start.Add(24*time.Hour - time.Millisecond)
	return start, end
}

// AggregateDay computes and persists the metrics document for the
// calendar day containing date, in the tenant's reference location.
// A failed upsert leaves any previous document for the day untouched.
func (a *Aggregator) AggregateDay(ctx context.Context, tenantID string, date time.Time, loc *time.Location) (*models.DailyMetrics, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}

	began := a.nowFn()
	doc, err := a.aggregateDay(ctx, tenantID, date, loc)
	if a.metrics != nil {
		a.metrics.RecordAggregate(tenantID, a.nowFn().Sub(began), err)
	}
	return doc, err
}

func (a *Aggregator) aggregateDay(ctx context.Context, tenantID string, date time.Time, loc *time.Location) (*models.DailyMetrics, error) {
	dayStart, dayEnd := DayBounds(date, loc)
	lockKey := fmt.Sprintf("%s|%s", tenantID, dayStart.Format("2006-01-02"))

	unlock := a.locks.Lock(lockKey)
	defer unlock()

	if a.redisLock != nil {
		release, err := a.redisLock.acquire(ctx, lockKey)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	events, err := a.cleaned.FetchRange(ctx, tenantID, dayStart, dayEnd)
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordStorageError("silver", "fetch")
		}
		return nil, fmt.Errorf("fetch cleaned events: %w", err)
	}

	doc := computeDailyMetrics(tenantID, dayStart, events, a.nowFn())

	if err := a.gold.Upsert(ctx, doc); err != nil {
		if a.metrics != nil {
			a.metrics.RecordStorageError("gold", "upsert")
		}
		return nil, fmt.Errorf("upsert daily metrics: %w", err)
	}

	a.logger.Info("aggregated day",
		zap.String("tenant_id", tenantID),
		zap.Time("date", dayStart),
		zap.Int("events", len(events)),
		zap.Int64("orders", doc.TotalOrders),
		zap.Float64("revenue", doc.TotalRevenue),
	)
	return doc, nil
}

// scanRank orders event types within the same timestamp by funnel
// position, so that equal-timestamp batches scan deterministically.
// The per-product add-to-cart rule depends on scan order, which makes
// any timestamp tie ambiguous without this.
func scanRank(t models.EventType) int {
	switch t {
	case models.EventPageView:
		return 0
	case models.EventSearch:
		return 1
	case models.EventProductView:
		return 2
	case models.EventAddToCart:
		return 3
	case models.EventRemoveFromCart:
		return 4
	case models.EventCheckoutStart:
		return 5
	case models.EventPurchase:
		return 6
	default:
		return 7
	}
}

// computeDailyMetrics folds one day's cleaned events into a metrics
// document. Events are scanned in (timestamp, funnel rank, session,
// product, query) order regardless of the order they arrive in, so
// the result is a function of the event set alone.
func computeDailyMetrics(tenantID string, dayStart time.Time, events []*models.CleanedEvent, now time.Time) *models.DailyMetrics {
	sorted := make([]*models.CleanedEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if ra, rb := scanRank(a.EventType), scanRank(b.EventType); ra != rb {
			return ra < rb
		}
		if a.SessionID != b.SessionID {
			return a.SessionID < b.SessionID
		}
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return a.SearchQuery < b.SearchQuery
	})

	doc := &models.DailyMetrics{
		TenantID:      tenantID,
		Date:          dayStart,
		Period:        models.PeriodDaily,
		TopProducts:   []models.ProductStat{},
		TopCategories: []models.CategoryStat{},
		TopSearches:   []models.SearchStat{},
		CalculatedAt:  now,
	}

	var (
		uniqueUsers      = make(map[string]struct{})
		uniqueSessions   = make(map[string]struct{})
		checkoutSessions = make(map[string]struct{})
		purchaseSessions = make(map[string]struct{})

		productStats  = make(map[string]*models.ProductStat)
		productOrder  []string
		categoryStats = make(map[string]*models.CategoryStat)
		categoryOrder []string
		searchCounts  = make(map[string]int64)
		searchOrder   []string
	)

	productStat := func(e *models.CleanedEvent) *models.ProductStat {
		st, ok := productStats[e.ProductID]
		if !ok {
			st = &models.ProductStat{
				ProductID:   e.ProductID,
				ProductName: e.ProductName,
			}
			productStats[e.ProductID] = st
			productOrder = append(productOrder, e.ProductID)
		}
		return st
	}

	for _, e := range sorted {
		if e.UserID != "" {
			uniqueUsers[e.UserID] = struct{}{}
		}
		if e.SessionID != "" {
			uniqueSessions[e.SessionID] = struct{}{}
		}

		switch e.EventType {
		case models.EventPageView:
			doc.TotalPageViews++

		case models.EventProductView:
			doc.TotalProductViews++
			if e.ProductID != "" {
				productStat(e).Views++
			}

		case models.EventAddToCart:
			doc.TotalAddToCarts++
			// Only counted against products already seen via a view or
			// purchase; a cart add alone does not create the accumulator.
			if e.ProductID != "" {
				if st, ok := productStats[e.ProductID]; ok {
					st.AddToCarts++
				}
			}

		case models.EventCheckoutStart:
			if e.SessionID != "" {
				checkoutSessions[e.SessionID] = struct{}{}
			}

		case models.EventPurchase:
			doc.TotalOrders++
			doc.TotalRevenue += e.OrderTotal
			if e.SessionID != "" {
				purchaseSessions[e.SessionID] = struct{}{}
			}
			if e.ProductID != "" {
				st := productStat(e)
				st.Revenue += e.Price * float64(e.Quantity)
				st.Quantity += e.Quantity
			}
			if e.Category != "" {
				st, ok := categoryStats[e.Category]
				if !ok {
					st = &models.CategoryStat{Category: e.Category}
					categoryStats[e.Category] = st
					categoryOrder = append(categoryOrder, e.Category)
				}
				st.Revenue += e.Price * float64(e.Quantity)
				st.Orders++
			}

		case models.EventSearch:
			if e.SearchQuery != "" {
				if _, ok := searchCounts[e.SearchQuery]; !ok {
					searchOrder = append(searchOrder, e.SearchQuery)
				}
				searchCounts[e.SearchQuery]++
			}
		}

		switch e.DeviceType {
		case models.DeviceMobile:
			doc.DeviceBreakdown.Mobile++
		case models.DeviceTablet:
			doc.DeviceBreakdown.Tablet++
		case models.DeviceDesktop:
			doc.DeviceBreakdown.Desktop++
		}
	}

	doc.UniqueVisitors = int64(len(uniqueUsers))
	doc.TotalSessions = int64(len(uniqueSessions))

	if doc.TotalOrders > 0 {
		doc.AverageOrderValue = doc.TotalRevenue / float64(doc.TotalOrders)
	}
	if doc.TotalSessions > 0 {
		doc.ConversionRate = clampPct(float64(doc.TotalOrders) / float64(doc.TotalSessions) * 100)
	}
	if len(checkoutSessions) > 0 {
		abandoned := len(checkoutSessions) - len(purchaseSessions)
		if abandoned < 0 {
			abandoned = 0
		}
		doc.CartAbandonmentRate = clampPct(float64(abandoned) / float64(len(checkoutSessions)) * 100)
	}
	if doc.TotalProductViews > 0 {
		doc.AddToCartRate = clampPct(float64(doc.TotalAddToCarts) / float64(doc.TotalProductViews) * 100)
	}

	doc.TopProducts = topProducts(productStats, productOrder, models.TopProductsLimit)
	doc.TopCategories = topCategories(categoryStats, categoryOrder, models.TopCategoriesLimit)
	doc.TopSearches = topSearches(searchCounts, searchOrder, models.TopSearchesLimit)

	return doc
}

// clampPct bounds a percentage into [0, 100].
func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// The ranking helpers materialize accumulator maps in first-seen order
// and sort stably, so ties keep their input order and re-runs over the
// same event set produce identical lists.

func topProducts(stats map[string]*models.ProductStat, order []string, limit int) []models.ProductStat {
	result := make([]models.ProductStat, 0, len(order))
	for _, id := range order {
		result = append(result, *stats[id])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Revenue > result[j].Revenue
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result
}

func topCategories(stats map[string]*models.CategoryStat, order []string, limit int) []models.CategoryStat {
	result := make([]models.CategoryStat, 0, len(order))
	for _, cat := range order {
		result = append(result, *stats[cat])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Revenue > result[j].Revenue
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result
}

func topSearches(counts map[string]int64, order []string, limit int) []models.SearchStat {
	result := make([]models.SearchStat, 0, len(order))
	for _, q := range order {
		result = append(result, models.SearchStat{Query: q, Count: counts[q]})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Count > result[j].Count
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result
}
