package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shoplens/medallion/internal/analytics"
	"github.com/shoplens/medallion/internal/auth"
	"github.com/shoplens/medallion/internal/config"
	"github.com/shoplens/medallion/internal/database"
	"github.com/shoplens/medallion/internal/enrich"
	"github.com/shoplens/medallion/internal/metrics"
	"github.com/shoplens/medallion/internal/middleware"
	"github.com/shoplens/medallion/internal/models"
	"github.com/shoplens/medallion/internal/pipeline"
	"github.com/shoplens/medallion/internal/storage"
	"go.uber.org/zap"
)

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	ClickHouse *database.ClickHouseDB
	DB         *database.PostgresDB
	Mongo      *database.MongoDB
	Redis      *database.RedisDB
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Server wraps the HTTP handlers and pipeline services.
type Server struct {
	rawStore    storage.RawEventStore
	authService *auth.Service
	pipeline    *pipeline.Pipeline
	analytics   *analytics.Service
	logger      *zap.Logger
	config      *config.Config
	metrics     *metrics.Metrics
	nowFn       func() time.Time
}

// NewServer constructs an http.Handler with all routes registered and
// the middleware chain applied. Missing backends degrade to in-memory
// stores so the service stays usable in development.
func NewServer(deps *Dependencies) http.Handler {
	// Initialize stores
	var rawStore storage.RawEventStore
	var cleanedStore storage.CleanedEventStore
	if deps.ClickHouse != nil {
		rawStore = storage.NewClickHouseRawEventStore(deps.ClickHouse)
		cleanedStore = storage.NewClickHouseCleanedEventStore(deps.ClickHouse)
	} else {
		rawStore = storage.NewInMemoryRawEventStore()
		cleanedStore = storage.NewInMemoryCleanedEventStore()
	}

	var metricsStore storage.MetricsStore
	if deps.Mongo != nil {
		metricsStore = storage.NewMongoMetricsStore(deps.Mongo.Database.Collection(deps.Config.Mongo.Collection))
	} else {
		metricsStore = storage.NewInMemoryMetricsStore()
	}

	var tenantRepo storage.TenantRepo
	if deps.DB != nil {
		tenantRepo = storage.NewPostgresTenantRepo(deps.DB.Pool)
	} else {
		tenantRepo = storage.NewInMemoryTenantRepo()
	}

	// Initialize pipeline stages
	cleaner := pipeline.NewCleaner(rawStore, cleanedStore, deps.Logger)
	cleaner.SetMetrics(deps.Metrics)
	if deps.Config.Geo.Enabled {
		geo, err := enrich.NewMaxMindGeoProvider(deps.Config.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("geo enrichment disabled", zap.Error(err))
		} else {
			cleaner.SetGeo(geo)
		}
	}

	aggregator := pipeline.NewAggregator(cleanedStore, metricsStore, deps.Logger)
	aggregator.SetMetrics(deps.Metrics)
	if deps.Redis != nil {
		aggregator.SetDistributedLock(deps.Redis.Client, deps.Config.Pipeline.DayLockTTL)
	}

	pipe := pipeline.NewPipeline(cleaner, aggregator, tenantRepo, deps.Config.Pipeline.DefaultWindowDays, deps.Logger)
	pipe.SetMetrics(deps.Metrics)

	// Initialize services
	tokens := auth.NewTokenManager(deps.Config.Auth.JWTSecret, deps.Config.Auth.TokenTTL)
	authSvc := auth.NewService(tenantRepo, tokens, deps.Logger)

	analyticsSvc := analytics.NewService(metricsStore, cleanedStore, deps.Logger)
	if deps.Redis != nil {
		analyticsSvc.SetCache(deps.Redis.Client, deps.Config.Pipeline.OverviewCacheTTL)
	}

	s := &Server{
		rawStore:    rawStore,
		authService: authSvc,
		pipeline:    pipe,
		analytics:   analyticsSvc,
		logger:      deps.Logger,
		config:      deps.Config,
		metrics:     deps.Metrics,
		nowFn:       time.Now,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}

	// Tenant accounts
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)

	rateMw := middleware.NewRateLimitMiddleware(deps.Config.RateLimit, deps.Logger)
	rateMw.SetMetrics(deps.Metrics)

	// Event ingestion (bronze layer). Ingest routes get an extra
	// per-IP limit on top of the shared budget.
	mux.Handle("/api/events", rateMw.HandlerPerIP(http.HandlerFunc(s.handleIngestEvent)))
	mux.Handle("/api/events/bulk", rateMw.HandlerPerIP(http.HandlerFunc(s.handleIngestBulk)))

	// Pipeline
	mux.HandleFunc("/api/pipeline/process", s.handleProcess)

	// Analytics
	mux.HandleFunc("/api/analytics/overview", s.handleOverview)
	mux.HandleFunc("/api/analytics/revenue", s.handleRevenueTrends)
	mux.HandleFunc("/api/analytics/products", s.handleTopProducts)
	mux.HandleFunc("/api/analytics/funnel", s.handleFunnel)
	mux.HandleFunc("/api/analytics/categories", s.handleCategories)
	mux.HandleFunc("/api/analytics/devices", s.handleDevices)
	mux.HandleFunc("/api/analytics/searches", s.handleSearches)

	// Middleware chain, innermost first
	var handler http.Handler = mux

	authMw := middleware.NewAuthMiddleware(deps.Config.Auth, authSvc, deps.Logger)
	handler = authMw.Handler(handler)

	handler = rateMw.Handler(handler)

	handler = middleware.NewLoggingMiddleware(deps.Logger).Handler(handler)
	handler = middleware.NewRecoveryMiddleware(deps.Logger).Handler(handler)

	return handler
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Tenant Accounts ----

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	tenant, token, err := s.authService.Register(r.Context(), &req)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			s.errorResponse(w, "email is already registered", http.StatusConflict)
			return
		}
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.jsonResponseStatus(w, http.StatusCreated, map[string]interface{}{
		"tenant": tenant,
		"token":  token,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	tenant, token, err := s.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.errorResponse(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	s.jsonResponse(w, map[string]interface{}{
		"tenant": tenant,
		"token":  token,
	})
}

// ---- Event Ingestion ----

func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		s.errorResponse(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var event models.RawEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	s.prepareEvent(&event, tenant.ID)
	if err := event.Validate(); err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.rawStore.InsertBatch(r.Context(), []*models.RawEvent{&event}); err != nil {
		s.logger.Error("event insert failed", zap.Error(err))
		if s.metrics != nil {
			s.metrics.RecordStorageError("bronze", "insert")
		}
		s.errorResponse(w, "failed to store event", http.StatusInternalServerError)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordIngest(tenant.ID, string(event.EventType), 1)
	}

	s.jsonResponseStatus(w, http.StatusCreated, map[string]string{"event_id": event.ID})
}

func (s *Server) handleIngestBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		s.errorResponse(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Events []*models.RawEvent `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.Events) == 0 {
		s.errorResponse(w, "events array is required", http.StatusBadRequest)
		return
	}

	for _, event := range req.Events {
		s.prepareEvent(event, tenant.ID)
		if err := event.Validate(); err != nil {
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	if err := s.rawStore.InsertBatch(r.Context(), req.Events); err != nil {
		s.logger.Error("bulk insert failed", zap.Error(err))
		if s.metrics != nil {
			s.metrics.RecordStorageError("bronze", "insert")
		}
		s.errorResponse(w, "failed to store events", http.StatusInternalServerError)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordIngest(tenant.ID, "bulk", len(req.Events))
	}

	s.jsonResponseStatus(w, http.StatusCreated, map[string]int{"count": len(req.Events)})
}

// prepareEvent stamps the event with the authenticated tenant and
// fills the fields clients may omit. The tenant from the credential
// always wins over whatever the payload claims.
func (s *Server) prepareEvent(event *models.RawEvent, tenantID string) {
	event.TenantID = tenantID
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.nowFn().UTC()
	}
	event.EventType = models.ParseEventType(string(event.EventType))
}

// ---- Pipeline ----

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		s.errorResponse(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
	}

	start, end, err := parseWindow(req.StartDate, req.EndDate)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.pipeline.Run(r.Context(), tenant.ID, start, end)
	if err != nil && result == nil {
		s.logger.Error("pipeline run failed", zap.Error(err))
		s.errorResponse(w, "pipeline failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{
		"events_processed": result.EventsProcessed,
		"days_aggregated":  result.DaysAggregated,
		"days_failed":      result.DaysFailed,
	}
	if err != nil {
		// Partial success: some days aggregated, some failed.
		resp["error"] = err.Error()
		s.jsonResponseStatus(w, http.StatusMultiStatus, resp)
		return
	}
	s.jsonResponse(w, resp)
}

// ---- Analytics ----

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	s.analyticsQuery(w, r, func(tenantID string, start, end time.Time) (interface{}, error) {
		return s.analytics.GetOverview(r.Context(), tenantID, start, end)
	})
}

func (s *Server) handleRevenueTrends(w http.ResponseWriter, r *http.Request) {
	s.analyticsQuery(w, r, func(tenantID string, start, end time.Time) (interface{}, error) {
		trends, err := s.analytics.GetRevenueTrends(r.Context(), tenantID, start, end)
		return map[string]interface{}{"trends": trends}, err
	})
}

func (s *Server) handleTopProducts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.errorResponse(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	s.analyticsQuery(w, r, func(tenantID string, start, end time.Time) (interface{}, error) {
		products, err := s.analytics.GetTopProducts(r.Context(), tenantID, start, end, limit)
		return map[string]interface{}{"top_products": products}, err
	})
}

func (s *Server) handleFunnel(w http.ResponseWriter, r *http.Request) {
	s.analyticsQuery(w, r, func(tenantID string, start, end time.Time) (interface{}, error) {
		funnel, err := s.analytics.GetFunnel(r.Context(), tenantID, start, end)
		return map[string]interface{}{"funnel": funnel}, err
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	s.analyticsQuery(w, r, func(tenantID string, start, end time.Time) (interface{}, error) {
		categories, err := s.analytics.GetCategoryPerformance(r.Context(), tenantID, start, end)
		return map[string]interface{}{"categories": categories}, err
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	s.analyticsQuery(w, r, func(tenantID string, start, end time.Time) (interface{}, error) {
		devices, err := s.analytics.GetDeviceBreakdown(r.Context(), tenantID, start, end)
		return map[string]interface{}{"device_breakdown": devices}, err
	})
}

func (s *Server) handleSearches(w http.ResponseWriter, r *http.Request) {
	s.analyticsQuery(w, r, func(tenantID string, start, end time.Time) (interface{}, error) {
		searches, err := s.analytics.GetTopSearches(r.Context(), tenantID, start, end)
		return map[string]interface{}{"top_searches": searches}, err
	})
}

// analyticsQuery handles the shared shape of the dashboard endpoints:
// GET only, authenticated tenant, optional start/end query params.
func (s *Server) analyticsQuery(w http.ResponseWriter, r *http.Request, query func(tenantID string, start, end time.Time) (interface{}, error)) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		s.errorResponse(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	start, end, err := parseWindow(q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := query(tenant.ID, start, end)
	if err != nil {
		s.logger.Error("analytics query failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		s.errorResponse(w, "query failed", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, result)
}

// parseWindow parses optional RFC 3339 or date-only bounds. Empty
// strings leave the corresponding bound zero so services apply their
// default lookback.
func parseWindow(startStr, endStr string) (time.Time, time.Time, error) {
	parse := func(v string) (time.Time, error) {
		if v == "" {
			return time.Time{}, nil
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, nil
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, errors.New("invalid date: " + v)
		}
		return t, nil
	}

	start, err := parse(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parse(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// ---- Helper Methods ----

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonResponseStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
