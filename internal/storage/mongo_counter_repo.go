package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/mmo-fauna/internal/entity"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for MongoDB counter repository.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. fauna
	Collection string // e.g. player_counters
}

// MongoCounterRepo implements CounterRepo on MongoDB backend.
// One document per (player_id, name) pair.
type MongoCounterRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
	counter    string
	ctxTimeout time.Duration
}

// NewMongoCounterRepo establishes connection and returns repository.
func NewMongoCounterRepo(cfg MongoConfig, counter string) (*MongoCounterRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "fauna"
	}
	if cfg.Collection == "" {
		cfg.Collection = "player_counters"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	// ping
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	repo := &MongoCounterRepo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		counter:    counter,
		ctxTimeout: 5 * time.Second,
	}
	if err := repo.ensureIndexes(); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return repo, nil
}

func (m *MongoCounterRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "player_id", Value: 1}, {Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("player_counter_unique"),
	}
	if _, err := m.collection.Indexes().CreateOne(ctx, idx); err != nil {
		return fmt.Errorf("failed to create counter index: %w", err)
	}
	return nil
}

func (m *MongoCounterRepo) filter(player entity.ID) bson.M {
	return bson.M{"player_id": player.String(), "name": m.counter}
}

// Load implements CounterRepo.
func (m *MongoCounterRepo) Load(ctx context.Context, player entity.ID) (int64, bool, error) {
	if err := validID(player); err != nil {
		return 0, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	var doc struct {
		Value int64 `bson:"value"`
	}
	err := m.collection.FindOne(ctx, m.filter(player)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to load counter for %s: %w", player, err)
	}
	return doc.Value, true, nil
}

// Save implements CounterRepo.
func (m *MongoCounterRepo) Save(ctx context.Context, player entity.ID, value int64) error {
	if err := validID(player); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	_, err := m.collection.UpdateOne(ctx, m.filter(player),
		bson.M{"$set": bson.M{"value": value, "updated_at": time.Now()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save counter for %s: %w", player, err)
	}
	return nil
}

// Delete implements CounterRepo.
func (m *MongoCounterRepo) Delete(ctx context.Context, player entity.ID) error {
	if err := validID(player); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	res, err := m.collection.DeleteOne(ctx, m.filter(player))
	if err != nil {
		return fmt.Errorf("failed to delete counter for %s: %w", player, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("счётчик игрока %s: %w", player, ErrNotFound)
	}
	return nil
}

// BatchSave upserts all values in one unordered bulk write.
func (m *MongoCounterRepo) BatchSave(ctx context.Context, values map[entity.ID]int64) error {
	if len(values) == 0 {
		return nil
	}
	now := time.Now()
	models := make([]mongo.WriteModel, 0, len(values))
	for player, v := range values {
		if err := validID(player); err != nil {
			return err
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(m.filter(player)).
			SetUpdate(bson.M{"$set": bson.M{"value": v, "updated_at": now}}).
			SetUpsert(true))
	}

	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()
	if _, err := m.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Close terminates connection.
func (m *MongoCounterRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
