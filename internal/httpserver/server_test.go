package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shoplens/medallion/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			Enabled:   true,
			JWTSecret: "test-secret",
			TokenTTL:  time.Hour,
			SkipPaths: []string{"/health", "/api/auth/"},
		},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Metrics:   config.MetricsConfig{Enabled: false},
		Pipeline: config.PipelineConfig{
			DefaultWindowDays: 7,
			DayLockTTL:        5 * time.Minute,
		},
	}
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	return NewServer(&Dependencies{
		Config: testConfig(),
		Logger: zap.NewNop(),
	})
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func registerTenant(t *testing.T, handler http.Handler) (token, apiKey string) {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/auth/register", map[string]string{
		"store_name": "Acme Outfitters",
		"email":      "owner@example.com",
		"password":   "correct-horse",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	token = body["token"].(string)
	tenant := body["tenant"].(map[string]interface{})
	apiKey = tenant["api_key"].(string)
	require.NotEmpty(t, token)
	require.NotEmpty(t, apiKey)
	return token, apiKey
}

func TestHealth(t *testing.T) {
	handler := newTestServer(t)
	rec := doJSON(t, handler, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestRegisterAndLogin(t *testing.T) {
	handler := newTestServer(t)
	registerTenant(t, handler)

	t.Run("duplicate email conflicts", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/auth/register", map[string]string{
			"store_name": "Copycat",
			"email":      "owner@example.com",
			"password":   "correct-horse",
		}, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("login returns token", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/auth/login", map[string]string{
			"email":    "owner@example.com",
			"password": "correct-horse",
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, decodeBody(t, rec)["token"])
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/auth/login", map[string]string{
			"email":    "owner@example.com",
			"password": "battery-staple",
		}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestIngestRequiresAuth(t *testing.T) {
	handler := newTestServer(t)
	rec := doJSON(t, handler, http.MethodPost, "/api/events", map[string]string{
		"event_type": "page_view",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIngestWithAPIKey(t *testing.T) {
	handler := newTestServer(t)
	_, apiKey := registerTenant(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/events", map[string]interface{}{
		"event_type": "page_view",
		"session_id": "s1",
		"page_url":   "/home",
	}, map[string]string{"X-API-Key": apiKey})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decodeBody(t, rec)["event_id"])
}

func TestIngestPerIPRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{
		Enabled:     true,
		IngestRPS:   10,
		IngestBurst: 20,
		QueryRPS:    1000,
		QueryBurst:  1000,
	}
	handler := NewServer(&Dependencies{
		Config: cfg,
		Logger: zap.NewNop(),
	})
	_, apiKey := registerTenant(t, handler)

	// Per-IP budget is a tenth of the shared ingest budget, so the
	// burst here is 2 requests from one address.
	event := map[string]interface{}{
		"event_type": "page_view",
		"session_id": "s1",
	}
	headers := map[string]string{"X-API-Key": apiKey}

	for i := 0; i < 2; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/events", event, headers)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/events", event, headers)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestIngestBulk(t *testing.T) {
	handler := newTestServer(t)
	_, apiKey := registerTenant(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/events/bulk", map[string]interface{}{
		"events": []map[string]interface{}{
			{"event_type": "page_view", "session_id": "s1"},
			{"event_type": "search", "session_id": "s1", "search_query": "Shoes"},
		},
	}, map[string]string{"X-API-Key": apiKey})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])

	t.Run("empty array rejected", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/api/events/bulk", map[string]interface{}{
			"events": []map[string]interface{}{},
		}, map[string]string{"X-API-Key": apiKey})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestEndToEndPipeline(t *testing.T) {
	handler := newTestServer(t)
	token, apiKey := registerTenant(t, handler)
	authHeader := map[string]string{"Authorization": "Bearer " + token}

	day := "2024-03-15"
	events := []map[string]interface{}{
		{"event_type": "page_view", "session_id": "s1", "user_id": "u1",
			"timestamp": day + "T10:00:00Z", "device_type": "mobile"},
		{"event_type": "product_view", "session_id": "s1", "user_id": "u1",
			"timestamp": day + "T10:01:00Z", "product_id": "p1", "product_name": "Widget",
			"category": "Gadgets", "price": 10.0, "quantity": 1},
		{"event_type": "add_to_cart", "session_id": "s1", "user_id": "u1",
			"timestamp": day + "T10:02:00Z", "product_id": "p1"},
		{"event_type": "checkout_start", "session_id": "s1", "user_id": "u1",
			"timestamp": day + "T10:03:00Z"},
		{"event_type": "purchase", "session_id": "s1", "user_id": "u1",
			"timestamp": day + "T10:04:00Z", "product_id": "p1", "product_name": "Widget",
			"category": "Gadgets", "price": 10.0, "quantity": 1,
			"order_id": "o1", "order_total": 10.0},
	}
	rec := doJSON(t, handler, http.MethodPost, "/api/events/bulk",
		map[string]interface{}{"events": events},
		map[string]string{"X-API-Key": apiKey})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodPost, "/api/pipeline/process", map[string]string{
		"start_date": day,
		"end_date":   day + "T23:59:59Z",
	}, authHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, float64(5), body["events_processed"])
	assert.Equal(t, float64(1), body["days_aggregated"])
	assert.Equal(t, float64(0), body["days_failed"])

	query := fmt.Sprintf("?start_date=%s&end_date=%sT23:59:59Z", day, day)

	rec = doJSON(t, handler, http.MethodGet, "/api/analytics/overview"+query, nil, authHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	overview := decodeBody(t, rec)
	assert.Equal(t, float64(10), overview["total_revenue"])
	assert.Equal(t, float64(1), overview["total_orders"])
	assert.Equal(t, float64(100), overview["conversion_rate"])

	rec = doJSON(t, handler, http.MethodGet, "/api/analytics/products"+query, nil, authHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	products := decodeBody(t, rec)["top_products"].([]interface{})
	require.Len(t, products, 1)
	assert.Equal(t, "p1", products[0].(map[string]interface{})["product_id"])

	rec = doJSON(t, handler, http.MethodGet, "/api/analytics/funnel"+query, nil, authHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	funnel := decodeBody(t, rec)["funnel"].(map[string]interface{})
	assert.Equal(t, float64(1), funnel["page_views"])
	assert.Equal(t, float64(1), funnel["purchases"])

	rec = doJSON(t, handler, http.MethodGet, "/api/analytics/devices"+query, nil, authHeader)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAnalyticsRejectsBadDates(t *testing.T) {
	handler := newTestServer(t)
	token, _ := registerTenant(t, handler)

	rec := doJSON(t, handler, http.MethodGet, "/api/analytics/overview?start_date=yesterday", nil,
		map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestServer(t)
	token, _ := registerTenant(t, handler)

	rec := doJSON(t, handler, http.MethodGet, "/api/events", nil,
		map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
