package models

import (
	"time"
)

// Period is the aggregation window of a metrics document.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Ranking limits for the per-day top lists.
const (
	TopProductsLimit   = 10
	TopCategoriesLimit = 5
	TopSearchesLimit   = 10
)

// ProductStat accumulates per-product engagement and revenue for one day.
type ProductStat struct {
	ProductID   string  `json:"product_id" bson:"productId"`
	ProductName string  `json:"product_name" bson:"productName"`
	Views       int64   `json:"views" bson:"views"`
	AddToCarts  int64   `json:"add_to_carts" bson:"addToCarts"`
	Revenue     float64 `json:"revenue" bson:"revenue"`
	Quantity    int64   `json:"quantity" bson:"quantity"`
}

// CategoryStat accumulates per-category revenue for one day.
type CategoryStat struct {
	Category string  `json:"category" bson:"category"`
	Revenue  float64 `json:"revenue" bson:"revenue"`
	Orders   int64   `json:"orders" bson:"orders"`
}

// SearchStat counts occurrences of one normalized search query.
type SearchStat struct {
	Query string `json:"query" bson:"query"`
	Count int64  `json:"count" bson:"count"`
}

// DeviceBreakdown is the histogram of events over the known device types.
// Events with an unknown device type are excluded.
type DeviceBreakdown struct {
	Mobile  int64 `json:"mobile" bson:"mobile"`
	Tablet  int64 `json:"tablet" bson:"tablet"`
	Desktop int64 `json:"desktop" bson:"desktop"`
}

// DailyMetrics is the gold-layer summary for one (tenant, day, period)
// key. Each aggregation run fully replaces the document for its key.
type DailyMetrics struct {
	TenantID string    `json:"tenant_id" bson:"tenantId"`
	Date     time.Time `json:"date" bson:"date"`
	Period   Period    `json:"period" bson:"period"`

	// Revenue
	TotalRevenue      float64 `json:"total_revenue" bson:"totalRevenue"`
	TotalOrders       int64   `json:"total_orders" bson:"totalOrders"`
	AverageOrderValue float64 `json:"average_order_value" bson:"averageOrderValue"`

	// Traffic
	TotalPageViews int64 `json:"total_page_views" bson:"totalPageViews"`
	UniqueVisitors int64 `json:"unique_visitors" bson:"uniqueVisitors"`
	TotalSessions  int64 `json:"total_sessions" bson:"totalSessions"`

	// Conversion (percentages in [0,100])
	ConversionRate      float64 `json:"conversion_rate" bson:"conversionRate"`
	CartAbandonmentRate float64 `json:"cart_abandonment_rate" bson:"cartAbandonmentRate"`

	// Product engagement
	TotalProductViews int64   `json:"total_product_views" bson:"totalProductViews"`
	TotalAddToCarts   int64   `json:"total_add_to_carts" bson:"totalAddToCarts"`
	AddToCartRate     float64 `json:"add_to_cart_rate" bson:"addToCartRate"`

	// Ranked lists, sorted descending, bounded by the Top*Limit constants.
	TopProducts   []ProductStat  `json:"top_products" bson:"topProducts"`
	TopCategories []CategoryStat `json:"top_categories" bson:"topCategories"`
	TopSearches   []SearchStat   `json:"top_searches" bson:"topSearches"`

	DeviceBreakdown DeviceBreakdown `json:"device_breakdown" bson:"deviceBreakdown"`

	CalculatedAt time.Time `json:"calculated_at" bson:"calculatedAt"`
}
