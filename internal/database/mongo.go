package database

import (
	"context"
	"fmt"

	"github.com/shoplens/medallion/internal/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// MongoDB wraps a MongoDB client. It backs the gold metrics layer.
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
	logger   *zap.Logger
}

// NewMongoDB connects to MongoDB and pings the primary.
func NewMongoDB(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (*MongoDB, error) {
	connCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(connCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("connected to MongoDB",
		zap.String("uri", cfg.URI),
		zap.String("database", cfg.DBName),
	)

	return &MongoDB{
		Client:   client,
		Database: client.Database(cfg.DBName),
		logger:   logger,
	}, nil
}

// Close disconnects the MongoDB client.
func (db *MongoDB) Close(ctx context.Context) error {
	if db.Client != nil {
		db.logger.Info("MongoDB connection closed")
		return db.Client.Disconnect(ctx)
	}
	return nil
}

// Health checks if MongoDB is reachable.
func (db *MongoDB) Health(ctx context.Context) error {
	return db.Client.Ping(ctx, readpref.Primary())
}
