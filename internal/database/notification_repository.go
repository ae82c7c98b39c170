// internal/database/notification_repository.go
package database

import (
	"context"

	"gator-forum/internal/models"
	"gator-forum/internal/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (m *MongoDB) SaveNotification(ctx context.Context, record *models.NotificationRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if _, err := m.Notifications.InsertOne(ctx, record); err != nil {
		return utils.ClassifyStorageError("failed to save notification", err)
	}
	return nil
}

// ListNotifications returns a user's records oldest first.
func (m *MongoDB) ListNotifications(ctx context.Context, username string, includeCleared bool) ([]*models.NotificationRecord, error) {
	filter := bson.M{"recipientUsername": username}
	if !includeCleared {
		filter["cleared"] = false
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})

	cursor, err := m.Notifications.Find(ctx, filter, opts)
	if err != nil {
		return nil, utils.ClassifyStorageError("failed to query notifications", err)
	}
	defer cursor.Close(ctx)

	records := []*models.NotificationRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, utils.ClassifyStorageError("failed to decode notifications", err)
	}
	return records, nil
}

func (m *MongoDB) ClearNotifications(ctx context.Context, username string) (int, error) {
	res, err := m.Notifications.UpdateMany(ctx,
		bson.M{"recipientUsername": username, "cleared": false},
		bson.M{"$set": bson.M{"cleared": true}},
	)
	if err != nil {
		return 0, utils.ClassifyStorageError("failed to clear notifications", err)
	}
	return int(res.ModifiedCount), nil
}
