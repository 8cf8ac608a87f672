package prefs

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo keeps one document per (device, key) in the webapp_state collection.
type Mongo struct {
	client *mongo.Client
	col    *mongo.Collection
	device string
}

type stateDoc struct {
	Device    string    `bson:"device"`
	Key       string    `bson:"key"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongo connects to uri and ensures the unique (device, key) index.
func NewMongo(ctx context.Context, uri, database, device string) (*Mongo, error) {
	if uri == "" {
		return nil, errors.New("prefs: mongo uri is empty")
	}
	if database == "" {
		database = "kina"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	col := client.Database(database).Collection("webapp_state")
	_, err = col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{bson.E{Key: "device", Value: 1}, bson.E{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &Mongo{client: client, col: col, device: device}, nil
}

func (m *Mongo) Get(ctx context.Context, key string) (string, error) {
	if m == nil {
		return "", errors.New("prefs: mongo not configured")
	}
	var doc stateDoc
	err := m.col.FindOne(ctx, bson.M{"device": m.device, "key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return doc.Value, nil
}

func (m *Mongo) Set(ctx context.Context, key, value string) error {
	if m == nil {
		return errors.New("prefs: mongo not configured")
	}
	_, err := m.col.UpdateOne(ctx,
		bson.M{"device": m.device, "key": key},
		bson.M{"$set": bson.M{
			"device":     m.device,
			"key":        key,
			"value":      value,
			"updated_at": time.Now(),
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *Mongo) Delete(ctx context.Context, key string) error {
	if m == nil {
		return nil
	}
	_, err := m.col.DeleteOne(ctx, bson.M{"device": m.device, "key": key})
	return err
}

func (m *Mongo) Close() error {
	if m == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
