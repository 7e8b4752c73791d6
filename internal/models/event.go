package models

import (
	"fmt"
	"time"
)

// ===========================================
// EVENT TYPES
// ===========================================

// EventType identifies the kind of visitor action an event records.
type EventType string

const (
	EventPageView       EventType = "page_view"
	EventProductView    EventType = "product_view"
	EventAddToCart      EventType = "add_to_cart"
	EventRemoveFromCart EventType = "remove_from_cart"
	EventCheckoutStart  EventType = "checkout_start"
	EventPurchase       EventType = "purchase"
	EventSearch         EventType = "search"

	// EventUnknown is the fallback for event types this version does not
	// recognize. Unknown events are carried through the pipeline but only
	// contribute to device and visitor counts.
	EventUnknown EventType = "unknown"
)

// KnownEventTypes lists every event type the aggregator understands.
var KnownEventTypes = []EventType{
	EventPageView,
	EventProductView,
	EventAddToCart,
	EventRemoveFromCart,
	EventCheckoutStart,
	EventPurchase,
	EventSearch,
}

// ParseEventType maps a wire string to an EventType, falling back to
// EventUnknown for anything outside the closed set.
func ParseEventType(s string) EventType {
	for _, t := range KnownEventTypes {
		if string(t) == s {
			return t
		}
	}
	return EventUnknown
}

// ===========================================
// DEVICE TYPES
// ===========================================

// DeviceType is the normalized device classification.
type DeviceType string

const (
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
	DeviceDesktop DeviceType = "desktop"
	DeviceUnknown DeviceType = "unknown"
)

// NormalizeDeviceType passes through the three known device classes and
// maps everything else to unknown.
func NormalizeDeviceType(s string) DeviceType {
	switch DeviceType(s) {
	case DeviceMobile, DeviceTablet, DeviceDesktop:
		return DeviceType(s)
	default:
		return DeviceUnknown
	}
}

// ===========================================
// RAW EVENT (bronze layer)
// ===========================================

// RawEvent is a single observed visitor action as ingested. Rows are
// append-only: the bronze layer is never updated or deleted.
type RawEvent struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	EventType EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`

	// Product info (present on product_view / add_to_cart / purchase)
	ProductID   string  `json:"product_id,omitempty"`
	ProductName string  `json:"product_name,omitempty"`
	Category    string  `json:"category,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Quantity    int64   `json:"quantity,omitempty"`

	// Order info (present on purchase)
	OrderID    string  `json:"order_id,omitempty"`
	OrderTotal float64 `json:"order_total,omitempty"`

	// Search info
	SearchQuery string `json:"search_query,omitempty"`

	// Context
	PageURL    string            `json:"page_url,omitempty"`
	Referrer   string            `json:"referrer,omitempty"`
	DeviceType string            `json:"device_type,omitempty"`
	Browser    string            `json:"browser,omitempty"`
	Country    string            `json:"country,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Validate checks the fields the bronze layer guarantees are present.
func (e *RawEvent) Validate() error {
	if e.TenantID == "" {
		return fmt.Errorf("raw event missing tenant_id")
	}
	if e.EventType == "" {
		return fmt.Errorf("raw event missing event_type")
	}
	return nil
}

// ===========================================
// CLEANED EVENT (silver layer)
// ===========================================

// CleanedEvent is the validated, normalized derivative of exactly one
// RawEvent. Fields absent on the source stay absent here; defaults are
// only applied to partially present product and order data.
type CleanedEvent struct {
	TenantID  string    `json:"tenant_id"`
	EventType EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`

	// Product info: when ProductID is set, name and category are never
	// blank, price is >= 0 and quantity is >= 1.
	ProductID   string  `json:"product_id,omitempty"`
	ProductName string  `json:"product_name,omitempty"`
	Category    string  `json:"category,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Quantity    int64   `json:"quantity,omitempty"`

	// Order info: when OrderID is set, total is >= 0.
	OrderID    string  `json:"order_id,omitempty"`
	OrderTotal float64 `json:"order_total,omitempty"`

	// Trimmed and lower-cased.
	SearchQuery string `json:"search_query,omitempty"`

	PageURL    string     `json:"page_url,omitempty"`
	DeviceType DeviceType `json:"device_type"`
	Country    string     `json:"country,omitempty"`

	ProcessedAt time.Time `json:"processed_at"`
}
