package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shoplens/medallion/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoMetricsStore implements MetricsStore on a MongoDB collection.
// Documents are keyed by (tenantId, date, period); Upsert replaces the
// whole document for that key.
type MongoMetricsStore struct {
	coll *mongo.Collection
}

// NewMongoMetricsStore creates a Mongo-backed gold metrics store.
func NewMongoMetricsStore(coll *mongo.Collection) *MongoMetricsStore {
	return &MongoMetricsStore{coll: coll}
}

// EnsureIndexes creates the (tenantId, period, date) index used by
// range reads and the upsert filter.
func (s *MongoMetricsStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenantId", Value: 1},
				{Key: "period", Value: 1},
				{Key: "date", Value: -1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "tenantId", Value: 1},
				{Key: "date", Value: -1},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics indexes: %w", err)
	}
	return nil
}

func (s *MongoMetricsStore) Upsert(ctx context.Context, m *models.DailyMetrics) error {
	filter := bson.M{
		"tenantId": m.TenantID,
		"date":     m.Date,
		"period":   m.Period,
	}

	_, err := s.coll.ReplaceOne(ctx, filter, m, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert daily metrics for %s/%s: %w",
			m.TenantID, m.Date.Format("2006-01-02"), err)
	}
	return nil
}

func (s *MongoMetricsStore) FetchRange(ctx context.Context, tenantID string, start, end time.Time, period models.Period) ([]*models.DailyMetrics, error) {
	filter := bson.M{
		"tenantId": tenantID,
		"period":   period,
		"date": bson.M{
			"$gte": start,
			"$lte": end,
		},
	}

	cursor, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily metrics: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*models.DailyMetrics
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to decode daily metrics: %w", err)
	}
	return result, nil
}
