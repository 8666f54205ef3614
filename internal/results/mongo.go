package results

import (
	"context"
	"fmt"
	"time"

	"github.com/EricMurray-e-m-dev/SentinelMonkey/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const collectionName = "collection_results"

// MongoStore writes results to a MongoDB collection indexed by task and time
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

func NewMongoStore(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetAppName("sentinel"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collectionName),
		logger:     logger,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("Connected to MongoDB result store", zap.String("database", database))
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "task_id", Value: 1}, {Key: "collection_time", Value: -1}}},
		{Keys: bson.D{{Key: "target_host", Value: 1}, {Key: "collection_time", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create result indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Save(ctx context.Context, result *models.CollectionResult) error {
	if _, err := s.collection.InsertOne(ctx, result); err != nil {
		return fmt.Errorf("failed to insert result %s: %w", result.ResultID, err)
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context, q Query) ([]*models.CollectionResult, error) {
	filter := bson.M{}
	if q.TaskID != "" {
		filter["task_id"] = q.TaskID
	}
	if q.TargetHost != "" {
		filter["target_host"] = q.TargetHost
	}

	window := bson.M{}
	if !q.From.IsZero() {
		window["$gte"] = q.From
	}
	if !q.To.IsZero() {
		window["$lte"] = q.To
	}
	if len(window) > 0 {
		filter["collection_time"] = window
	}

	opts := options.Find().SetSort(bson.D{{Key: "collection_time", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}

	var out []*models.CollectionResult
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return out, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
