package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shoplens/medallion/internal/models"
	"github.com/shoplens/medallion/internal/storage"
	"go.uber.org/zap"
)

// Defaults for the read-side queries.
const (
	DefaultWindowDays      = 30
	DefaultTopProductLimit = 10
	TopSearchLimit         = 20

	overviewCachePrefix = "medallion:overview:"
)

// Overview is the dashboard summary over a date range. Totals are sums
// over the daily documents; conversion and abandonment are averages of
// the daily rates, while order value and add-to-cart rate are
// recomputed from the summed totals.
type Overview struct {
	TotalRevenue        float64 `json:"total_revenue"`
	TotalOrders         int64   `json:"total_orders"`
	AverageOrderValue   float64 `json:"average_order_value"`
	ConversionRate      float64 `json:"conversion_rate"`
	CartAbandonmentRate float64 `json:"cart_abandonment_rate"`
	TotalPageViews      int64   `json:"total_page_views"`
	UniqueVisitors      int64   `json:"unique_visitors"`
	TotalSessions       int64   `json:"total_sessions"`
	AddToCartRate       float64 `json:"add_to_cart_rate"`

	DailyMetrics []*models.DailyMetrics `json:"daily_metrics"`
}

// TrendPoint is one day of the revenue trend series.
type TrendPoint struct {
	Date              time.Time `json:"date"`
	TotalRevenue      float64   `json:"total_revenue"`
	TotalOrders       int64     `json:"total_orders"`
	AverageOrderValue float64   `json:"average_order_value"`
}

// ProductSummary is a product's totals re-merged across days.
type ProductSummary struct {
	ProductID     string  `json:"product_id"`
	ProductName   string  `json:"product_name"`
	TotalRevenue  float64 `json:"total_revenue"`
	TotalQuantity int64   `json:"total_quantity"`
	TotalViews    int64   `json:"total_views"`
}

// CategorySummary is a category's totals re-merged across days.
type CategorySummary struct {
	Category     string  `json:"category"`
	TotalRevenue float64 `json:"total_revenue"`
	TotalOrders  int64   `json:"total_orders"`
}

// Funnel counts events per stage over a range, straight off the
// cleaned events rather than the daily documents.
type Funnel struct {
	PageViews    int64 `json:"page_views"`
	ProductViews int64 `json:"product_views"`
	AddToCarts   int64 `json:"add_to_carts"`
	Checkouts    int64 `json:"checkouts"`
	Purchases    int64 `json:"purchases"`
}

// DeviceUsage is one device class's share of events over a range.
type DeviceUsage struct {
	Device     string  `json:"device"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Service answers dashboard queries from the gold layer, dropping to
// the silver layer only for the funnel. An optional Redis client
// caches the overview, the heaviest query.
type Service struct {
	gold    storage.MetricsStore
	cleaned storage.CleanedEventStore
	logger  *zap.Logger

	cache    *redis.Client
	cacheTTL time.Duration

	windowDays int
	nowFn      func() time.Time
}

// NewService constructs the analytics query service.
func NewService(gold storage.MetricsStore, cleaned storage.CleanedEventStore, logger *zap.Logger) *Service {
	return &Service{
		gold:       gold,
		cleaned:    cleaned,
		logger:     logger,
		windowDays: DefaultWindowDays,
		nowFn:      time.Now,
	}
}

// SetCache enables Redis caching of overview responses.
func (s *Service) SetCache(client *redis.Client, ttl time.Duration) {
	s.cache = client
	s.cacheTTL = ttl
}

// window substitutes the default lookback for zero bounds.
func (s *Service) window(start, end time.Time) (time.Time, time.Time) {
	if end.IsZero() {
		end = s.nowFn()
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -s.windowDays)
	}
	return start, end
}

func (s *Service) fetchDaily(ctx context.Context, tenantID string, start, end time.Time) ([]*models.DailyMetrics, error) {
	docs, err := s.gold.FetchRange(ctx, tenantID, start, end, models.PeriodDaily)
	if err != nil {
		return nil, fmt.Errorf("fetch daily metrics: %w", err)
	}
	return docs, nil
}

// GetOverview aggregates the daily documents in [start, end] into the
// dashboard summary. Zero bounds select the default lookback.
func (s *Service) GetOverview(ctx context.Context, tenantID string, start, end time.Time) (*Overview, error) {
	start, end = s.window(start, end)

	cacheKey := fmt.Sprintf("%s%s:%d:%d", overviewCachePrefix, tenantID, start.Unix(), end.Unix())
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached Overview
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	docs, err := s.fetchDaily(ctx, tenantID, start, end)
	if err != nil {
		return nil, err
	}

	overview := &Overview{DailyMetrics: docs}
	var sumConversion, sumAbandonment float64
	for _, m := range docs {
		overview.TotalRevenue += m.TotalRevenue
		overview.TotalOrders += m.TotalOrders
		overview.TotalPageViews += m.TotalPageViews
		overview.UniqueVisitors += m.UniqueVisitors
		overview.TotalSessions += m.TotalSessions
		sumConversion += m.ConversionRate
		sumAbandonment += m.CartAbandonmentRate
	}

	var totalProductViews, totalAddToCarts int64
	for _, m := range docs {
		totalProductViews += m.TotalProductViews
		totalAddToCarts += m.TotalAddToCarts
	}

	if n := len(docs); n > 0 {
		overview.ConversionRate = sumConversion / float64(n)
		overview.CartAbandonmentRate = sumAbandonment / float64(n)
	}
	if overview.TotalOrders > 0 {
		overview.AverageOrderValue = overview.TotalRevenue / float64(overview.TotalOrders)
	}
	if totalProductViews > 0 {
		overview.AddToCartRate = float64(totalAddToCarts) / float64(totalProductViews) * 100
	}

	if s.cache != nil {
		if raw, err := json.Marshal(overview); err == nil {
			if err := s.cache.Set(ctx, cacheKey, raw, s.cacheTTL).Err(); err != nil {
				s.logger.Warn("overview cache write failed", zap.Error(err))
			}
		}
	}
	return overview, nil
}

// GetRevenueTrends returns the per-day revenue series in ascending
// date order.
func (s *Service) GetRevenueTrends(ctx context.Context, tenantID string, start, end time.Time) ([]TrendPoint, error) {
	start, end = s.window(start, end)
	docs, err := s.fetchDaily(ctx, tenantID, start, end)
	if err != nil {
		return nil, err
	}

	trends := make([]TrendPoint, 0, len(docs))
	for _, m := range docs {
		trends = append(trends, TrendPoint{
			Date:              m.Date,
			TotalRevenue:      m.TotalRevenue,
			TotalOrders:       m.TotalOrders,
			AverageOrderValue: m.AverageOrderValue,
		})
	}
	return trends, nil
}

// GetTopProducts re-merges the per-day product rankings across the
// range and returns the top `limit` by summed revenue. A non-positive
// limit selects the default.
func (s *Service) GetTopProducts(ctx context.Context, tenantID string, start, end time.Time, limit int) ([]ProductSummary, error) {
	if limit <= 0 {
		limit = DefaultTopProductLimit
	}
	start, end = s.window(start, end)
	docs, err := s.fetchDaily(ctx, tenantID, start, end)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*ProductSummary)
	var order []string
	for _, m := range docs {
		for _, p := range m.TopProducts {
			sum, ok := merged[p.ProductID]
			if !ok {
				sum = &ProductSummary{ProductID: p.ProductID, ProductName: p.ProductName}
				merged[p.ProductID] = sum
				order = append(order, p.ProductID)
			}
			sum.TotalRevenue += p.Revenue
			sum.TotalQuantity += p.Quantity
			sum.TotalViews += p.Views
		}
	}

	result := make([]ProductSummary, 0, len(order))
	for _, id := range order {
		result = append(result, *merged[id])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TotalRevenue > result[j].TotalRevenue
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetFunnel counts cleaned events per funnel stage over the range.
func (s *Service) GetFunnel(ctx context.Context, tenantID string, start, end time.Time) (*Funnel, error) {
	start, end = s.window(start, end)
	counts, err := s.cleaned.CountByEventType(ctx, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	return &Funnel{
		PageViews:    counts[models.EventPageView],
		ProductViews: counts[models.EventProductView],
		AddToCarts:   counts[models.EventAddToCart],
		Checkouts:    counts[models.EventCheckoutStart],
		Purchases:    counts[models.EventPurchase],
	}, nil
}

// GetCategoryPerformance re-merges the per-day category rankings and
// returns every category sorted by summed revenue descending.
func (s *Service) GetCategoryPerformance(ctx context.Context, tenantID string, start, end time.Time) ([]CategorySummary, error) {
	start, end = s.window(start, end)
	docs, err := s.fetchDaily(ctx, tenantID, start, end)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*CategorySummary)
	var order []string
	for _, m := range docs {
		for _, c := range m.TopCategories {
			sum, ok := merged[c.Category]
			if !ok {
				sum = &CategorySummary{Category: c.Category}
				merged[c.Category] = sum
				order = append(order, c.Category)
			}
			sum.TotalRevenue += c.Revenue
			sum.TotalOrders += c.Orders
		}
	}

	result := make([]CategorySummary, 0, len(order))
	for _, cat := range order {
		result = append(result, *merged[cat])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TotalRevenue > result[j].TotalRevenue
	})
	return result, nil
}

// GetDeviceBreakdown sums the daily device histograms and reports each
// class's share as a percentage of the known-device total.
func (s *Service) GetDeviceBreakdown(ctx context.Context, tenantID string, start, end time.Time) ([]DeviceUsage, error) {
	start, end = s.window(start, end)
	docs, err := s.fetchDaily(ctx, tenantID, start, end)
	if err != nil {
		return nil, err
	}

	var mobile, tablet, desktop int64
	for _, m := range docs {
		mobile += m.DeviceBreakdown.Mobile
		tablet += m.DeviceBreakdown.Tablet
		desktop += m.DeviceBreakdown.Desktop
	}
	total := mobile + tablet + desktop

	pct := func(count int64) float64 {
		if total == 0 {
			return 0
		}
		return float64(count) / float64(total) * 100
	}
	return []DeviceUsage{
		{Device: "Mobile", Count: mobile, Percentage: pct(mobile)},
		{Device: "Tablet", Count: tablet, Percentage: pct(tablet)},
		{Device: "Desktop", Count: desktop, Percentage: pct(desktop)},
	}, nil
}

// GetTopSearches re-merges the per-day search rankings and returns the
// most frequent queries across the range.
func (s *Service) GetTopSearches(ctx context.Context, tenantID string, start, end time.Time) ([]models.SearchStat, error) {
	start, end = s.window(start, end)
	docs, err := s.fetchDaily(ctx, tenantID, start, end)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	var order []string
	for _, m := range docs {
		for _, st := range m.TopSearches {
			if _, ok := counts[st.Query]; !ok {
				order = append(order, st.Query)
			}
			counts[st.Query] += st.Count
		}
	}

	result := make([]models.SearchStat, 0, len(order))
	for _, q := range order {
		result = append(result, models.SearchStat{Query: q, Count: counts[q]})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Count > result[j].Count
	})
	if len(result) > TopSearchLimit {
		result = result[:TopSearchLimit]
	}
	return result, nil
}
