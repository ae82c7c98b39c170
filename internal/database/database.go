// internal/database/database.go
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB is the document-store engine. Vote commits run inside a
// multi-document transaction, so the server must be a replica set.
type MongoDB struct {
	Client        *mongo.Client
	Users         *mongo.Collection
	Votables      *mongo.Collection
	Preferences   *mongo.Collection
	Notifications *mongo.Collection
}

func NewMongoDB(ctx context.Context, uri, database string) (*MongoDB, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	slog.Info("connected to MongoDB", "database", database)

	db := client.Database(database)
	m := &MongoDB{
		Client:        client,
		Users:         db.Collection("users"),
		Votables:      db.Collection("votables"),
		Preferences:   db.Collection("preferences"),
		Notifications: db.Collection("notifications"),
	}
	if err := m.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// EnsureIndexes creates the unique and lookup indexes every collection relies on.
func (m *MongoDB) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	if _, err := m.Users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: unique,
	}); err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}

	if _, err := m.Preferences.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "communityKey", Value: 1},
				{Key: "username", Value: 1},
				{Key: "preference", Value: 1},
			},
			Options: unique,
		},
	}); err != nil {
		return fmt.Errorf("failed to create preference indexes: %w", err)
	}

	if _, err := m.Notifications.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "recipientUsername", Value: 1},
			{Key: "createdAt", Value: -1},
		},
	}); err != nil {
		return fmt.Errorf("failed to create notification indexes: %w", err)
	}
	return nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
