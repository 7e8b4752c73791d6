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

type staticGeo struct {
	country string
	err     error
}

func (g *staticGeo) CountryCode(ip string) (string, error) { return g.country, g.err }
func (g *staticGeo) Close() error                          { return nil }

func newTestCleaner(t *testing.T) (*Cleaner, *storage.InMemoryRawEventStore, *storage.InMemoryCleanedEventStore) {
	t.Helper()
	raw := storage.NewInMemoryRawEventStore()
	cleaned := storage.NewInMemoryCleanedEventStore()
	c := NewCleaner(raw, cleaned, zap.NewNop())
	c.nowFn = func() time.Time { return testDay.Add(26 * time.Hour) }
	return c, raw, cleaned
}

func rawEvent(eventType models.EventType, at time.Time, mutate ...func(*models.RawEvent)) *models.RawEvent {
	e := &models.RawEvent{
		ID:        "evt-1",
		TenantID:  "tenant-1",
		EventType: eventType,
		Timestamp: at,
		SessionID: "s1",
	}
	for _, m := range mutate {
		m(e)
	}
	return e
}

func cleanOne(t *testing.T, raw *models.RawEvent, geo *staticGeo) *models.CleanedEvent {
	t.Helper()
	c, rawStore, cleanedStore := newTestCleaner(t)
	if geo != nil {
		c.SetGeo(geo)
	}
	ctx := context.Background()
	require.NoError(t, rawStore.InsertBatch(ctx, []*models.RawEvent{raw}))

	n, err := c.CleanRange(ctx, raw.TenantID, raw.Timestamp, raw.Timestamp)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	out, err := cleanedStore.FetchRange(ctx, raw.TenantID, raw.Timestamp, raw.Timestamp)
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0]
}

func TestCleanRangeProductDefaults(t *testing.T) {
	at := testDay.Add(10 * time.Hour)

	t.Run("missing name and category get defaults", func(t *testing.T) {
		got := cleanOne(t, rawEvent(models.EventProductView, at, func(e *models.RawEvent) {
			e.ProductID = "  p1  "
			e.Price = -4
			e.Quantity = 0
		}), nil)

		assert.Equal(t, "p1", got.ProductID)
		assert.Equal(t, DefaultProductName, got.ProductName)
		assert.Equal(t, DefaultCategory, got.Category)
		assert.Equal(t, 0.0, got.Price)
		assert.Equal(t, int64(1), got.Quantity)
	})

	t.Run("present fields pass through trimmed", func(t *testing.T) {
		got := cleanOne(t, rawEvent(models.EventPurchase, at, func(e *models.RawEvent) {
			e.ProductID = "p2"
			e.ProductName = " Fancy Hat "
			e.Category = " Apparel "
			e.Price = 19.99
			e.Quantity = 3
			e.OrderID = " o1 "
			e.OrderTotal = 59.97
		}), nil)

		assert.Equal(t, "Fancy Hat", got.ProductName)
		assert.Equal(t, "Apparel", got.Category)
		assert.Equal(t, 19.99, got.Price)
		assert.Equal(t, int64(3), got.Quantity)
		assert.Equal(t, "o1", got.OrderID)
		assert.Equal(t, 59.97, got.OrderTotal)
	})

	t.Run("no product id means no product defaults", func(t *testing.T) {
		got := cleanOne(t, rawEvent(models.EventPageView, at, func(e *models.RawEvent) {
			e.ProductID = "   "
			e.ProductName = "Ghost"
		}), nil)

		assert.Empty(t, got.ProductID)
		assert.Empty(t, got.ProductName)
		assert.Empty(t, got.Category)
		assert.Zero(t, got.Quantity)
	})

	t.Run("negative order total floors to zero", func(t *testing.T) {
		got := cleanOne(t, rawEvent(models.EventPurchase, at, func(e *models.RawEvent) {
			e.OrderID = "o2"
			e.OrderTotal = -10
		}), nil)

		assert.Equal(t, "o2", got.OrderID)
		assert.Equal(t, 0.0, got.OrderTotal)
	})
}

func TestCleanRangeSearchNormalization(t *testing.T) {
	got := cleanOne(t, rawEvent(models.EventSearch, testDay, func(e *models.RawEvent) {
		e.SearchQuery = "  Running SHOES  "
	}), nil)
	assert.Equal(t, "running shoes", got.SearchQuery)
}

func TestCleanRangeDeviceNormalization(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want models.DeviceType
	}{
		{"mobile", models.DeviceMobile},
		{"tablet", models.DeviceTablet},
		{"desktop", models.DeviceDesktop},
		{"xbox", models.DeviceUnknown},
		{"", models.DeviceUnknown},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got := cleanOne(t, rawEvent(models.EventPageView, testDay, func(e *models.RawEvent) {
				e.DeviceType = tc.in
			}), nil)
			assert.Equal(t, tc.want, got.DeviceType)
		})
	}
}

func TestCleanRangeGeoEnrichment(t *testing.T) {
	t.Run("fills country from ip when blank", func(t *testing.T) {
		got := cleanOne(t, rawEvent(models.EventPageView, testDay, func(e *models.RawEvent) {
			e.IP = "203.0.113.7"
		}), &staticGeo{country: "DE"})
		assert.Equal(t, "DE", got.Country)
	})

	t.Run("explicit country wins over lookup", func(t *testing.T) {
		got := cleanOne(t, rawEvent(models.EventPageView, testDay, func(e *models.RawEvent) {
			e.IP = "203.0.113.7"
			e.Country = "FR"
		}), &staticGeo{country: "DE"})
		assert.Equal(t, "FR", got.Country)
	})

	t.Run("lookup failure leaves country blank", func(t *testing.T) {
		got := cleanOne(t, rawEvent(models.EventPageView, testDay, func(e *models.RawEvent) {
			e.IP = "203.0.113.7"
		}), &staticGeo{err: errors.New("not found")})
		assert.Empty(t, got.Country)
	})
}

func TestCleanRangeValidation(t *testing.T) {
	c, _, _ := newTestCleaner(t)
	ctx := context.Background()

	_, err := c.CleanRange(ctx, "", testDay, testDay)
	assert.ErrorIs(t, err, ErrMissingTenant)

	_, err = c.CleanRange(ctx, "tenant-1", testDay, testDay.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestCleanRangeEmptyWindow(t *testing.T) {
	c, _, _ := newTestCleaner(t)
	n, err := c.CleanRange(context.Background(), "tenant-1", testDay, testDay.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

// Cleaning appends: running the same window twice writes the derived
// events twice. Callers that re-clean must account for the duplicates.
func TestCleanRangeReRunAppends(t *testing.T) {
	c, rawStore, cleanedStore := newTestCleaner(t)
	ctx := context.Background()

	require.NoError(t, rawStore.InsertBatch(ctx, []*models.RawEvent{
		rawEvent(models.EventPageView, testDay.Add(time.Hour)),
	}))

	for i := 0; i < 2; i++ {
		n, err := c.CleanRange(ctx, "tenant-1", testDay, testDay.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	out, err := cleanedStore.FetchRange(ctx, "tenant-1", testDay, testDay.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestCleanRangeTenantIsolation(t *testing.T) {
	c, rawStore, cleanedStore := newTestCleaner(t)
	ctx := context.Background()

	other := rawEvent(models.EventPageView, testDay.Add(time.Hour))
	other.TenantID = "tenant-2"
	require.NoError(t, rawStore.InsertBatch(ctx, []*models.RawEvent{
		rawEvent(models.EventPageView, testDay.Add(time.Hour)),
		other,
	}))

	n, err := c.CleanRange(ctx, "tenant-1", testDay, testDay.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out, err := cleanedStore.FetchRange(ctx, "tenant-2", testDay, testDay.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, out)
}
