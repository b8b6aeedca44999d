package storage

import (
	"context"
	"fmt"
	"time"

	"vigil/config"
	"vigil/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// AlertCursor interface for mocking
type AlertCursor interface {
	All(ctx context.Context, results interface{}) error
	Close(ctx context.Context) error
}

// AlertCollection interface for mocking
type AlertCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (AlertCursor, error)
}

// mongoAlertCollection adapts *mongo.Collection to AlertCollection
type mongoAlertCollection struct {
	*mongo.Collection
}

func (m *mongoAlertCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (AlertCursor, error) {
	cursor, err := m.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

// MongoDB holds the MongoDB client and database
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// NewMongoDB creates a new MongoDB connection
func NewMongoDB(cfg config.MongoDBConfig, logger *zap.SugaredLogger) (*MongoDB, error) {
	selectionTimeout := cfg.ConnectTimeout
	if selectionTimeout <= 0 {
		selectionTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*selectionTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetServerSelectionTimeout(selectionTimeout)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Infow("Connected to MongoDB", "database", cfg.Database)

	return &MongoDB{
		Client:   client,
		Database: client.Database(cfg.Database),
	}, nil
}

// HealthCheck pings the server
func (m *MongoDB) HealthCheck(ctx context.Context) error {
	return m.Client.Ping(ctx, nil)
}

// Close disconnects the client
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// alertDocument is the stored shape: the alert plus the insertion time used
// for newest-first history.
type alertDocument struct {
	core.Alert `bson:",inline"`
	CreatedAt  time.Time `bson:"created_at"`
}

// MongoAlertStore is the operational alert store.
type MongoAlertStore struct {
	collection AlertCollection
	logger     *zap.SugaredLogger
	now        func() time.Time
}

// NewMongoAlertStore creates a store over the configured collection and
// ensures the history index exists.
func NewMongoAlertStore(db *MongoDB, collection string, logger *zap.SugaredLogger) *MongoAlertStore {
	coll := db.Database.Collection(collection)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	})
	if err != nil {
		logger.Warnw("Failed to create alert history index", "error", err)
	}

	return newMongoAlertStore(&mongoAlertCollection{Collection: coll}, logger)
}

func newMongoAlertStore(coll AlertCollection, logger *zap.SugaredLogger) *MongoAlertStore {
	return &MongoAlertStore{
		collection: coll,
		logger:     logger,
		now:        time.Now,
	}
}

// Name implements AlertSink
func (s *MongoAlertStore) Name() string { return "mongodb" }

// InsertAlert implements AlertSink
func (s *MongoAlertStore) InsertAlert(ctx context.Context, alert *core.Alert) error {
	doc := alertDocument{Alert: *alert, CreatedAt: s.now().UTC()}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert alert %s: %w", alert.ID, err)
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *MongoAlertStore) RecentAlerts(ctx context.Context, limit int) ([]core.Alert, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent alerts: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []alertDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode recent alerts: %w", err)
	}

	alerts := make([]core.Alert, 0, len(docs))
	for _, d := range docs {
		alerts = append(alerts, d.Alert)
	}
	return alerts, nil
}
