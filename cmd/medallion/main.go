package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shoplens/medallion/internal/config"
	"github.com/shoplens/medallion/internal/database"
	"github.com/shoplens/medallion/internal/httpserver"
	"github.com/shoplens/medallion/internal/metrics"
	"github.com/shoplens/medallion/internal/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// .env is optional; real deployments use environment variables.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg)
	defer logger.Sync()

	logger.Info("starting medallion",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	// Connect backends. Each one degrades independently: the service
	// comes up on in-memory stores when a backend is unreachable.
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer connectCancel()

	var clickhouse *database.ClickHouseDB
	var db *database.PostgresDB
	var mongo *database.MongoDB
	var redis *database.RedisDB

	clickhouse, err = database.NewClickHouseDB(connectCtx, cfg.ClickHouse, logger)
	if err != nil {
		logger.Warn("ClickHouse not available, using in-memory event store", zap.Error(err))
		clickhouse = nil
	} else {
		defer clickhouse.Close()
		logger.Info("connected to ClickHouse")
	}

	db, err = database.NewPostgresDB(connectCtx, cfg.Database, logger)
	if err != nil {
		logger.Warn("PostgreSQL not available, using in-memory tenant store", zap.Error(err))
		db = nil
	} else {
		defer db.Close()
		logger.Info("connected to PostgreSQL")
	}

	mongo, err = database.NewMongoDB(connectCtx, cfg.Mongo, logger)
	if err != nil {
		logger.Warn("MongoDB not available, using in-memory metrics store", zap.Error(err))
		mongo = nil
	} else {
		defer mongo.Close(context.Background())
		logger.Info("connected to MongoDB")
	}

	redis, err = database.NewRedisDB(connectCtx, cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis not available, locking and caching disabled", zap.Error(err))
		redis = nil
	} else {
		defer redis.Close()
		logger.Info("connected to Redis")
	}

	if err := ensureSchemas(clickhouse, db, mongo, cfg); err != nil {
		logger.Fatal("schema setup failed", zap.Error(err))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(cfg.Metrics.Namespace)
	}

	handler := httpserver.NewServer(&httpserver.Dependencies{
		ClickHouse: clickhouse,
		DB:         db,
		Mongo:      mongo,
		Redis:      redis,
		Config:     cfg,
		Logger:     logger,
		Metrics:    m,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// ensureSchemas creates tables, collections and indexes on whichever
// backends are connected.
func ensureSchemas(clickhouse *database.ClickHouseDB, db *database.PostgresDB, mongo *database.MongoDB, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if clickhouse != nil {
		if err := storage.NewClickHouseRawEventStore(clickhouse).EnsureSchema(ctx); err != nil {
			return fmt.Errorf("raw events schema: %w", err)
		}
		if err := storage.NewClickHouseCleanedEventStore(clickhouse).EnsureSchema(ctx); err != nil {
			return fmt.Errorf("cleaned events schema: %w", err)
		}
	}
	if db != nil {
		if err := storage.NewPostgresTenantRepo(db.Pool).EnsureSchema(ctx); err != nil {
			return fmt.Errorf("tenants schema: %w", err)
		}
	}
	if mongo != nil {
		coll := mongo.Database.Collection(cfg.Mongo.Collection)
		if err := storage.NewMongoMetricsStore(coll).EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("metrics indexes: %w", err)
		}
	}
	return nil
}

func setupLogger(cfg *config.Config) *zap.Logger {
	var zapCfg zap.Config

	if cfg.IsDevelopment() {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Log.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}

	return logger
}
