// internal/database/preference_repository.go
package database

import (
	"context"

	"gator-forum/internal/models"
	"gator-forum/internal/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (m *MongoDB) findPreferences(ctx context.Context, filter bson.M) ([]models.UserPreference, error) {
	cursor, err := m.Preferences.Find(ctx, filter)
	if err != nil {
		return nil, utils.ClassifyStorageError("failed to query preferences", err)
	}
	defer cursor.Close(ctx)

	var prefs []models.UserPreference
	if err := cursor.All(ctx, &prefs); err != nil {
		return nil, utils.ClassifyStorageError("failed to decode preferences", err)
	}
	return prefs, nil
}

func (m *MongoDB) GetPreferences(ctx context.Context, username, communityKey string) ([]models.UserPreference, error) {
	return m.findPreferences(ctx, bson.M{"username": username, "communityKey": communityKey})
}

func (m *MongoDB) ListCommunityPreferences(ctx context.Context, communityKey string) ([]models.UserPreference, error) {
	return m.findPreferences(ctx, bson.M{"communityKey": communityKey})
}

// SavePreference is idempotent: the unique index makes a repeated save a no-op upsert.
func (m *MongoDB) SavePreference(ctx context.Context, pref *models.UserPreference) error {
	filter := bson.M{
		"username":     pref.Username,
		"communityKey": pref.CommunityKey,
		"preference":   pref.Preference,
	}
	opts := options.Update().SetUpsert(true)
	if _, err := m.Preferences.UpdateOne(ctx, filter, bson.M{"$setOnInsert": filter}, opts); err != nil {
		return utils.ClassifyStorageError("failed to save preference", err)
	}
	return nil
}
