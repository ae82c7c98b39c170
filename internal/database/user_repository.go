// internal/database/user_repository.go
package database

import (
	"context"
	"errors"
	"time"

	"gator-forum/internal/models"
	"gator-forum/internal/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserDocument represents the MongoDB schema for a user
type UserDocument struct {
	ID             string    `bson:"_id"`
	Username       string    `bson:"username"`
	Score          int       `bson:"score"`
	Rank           string    `bson:"rank"`
	Achievements   []string  `bson:"achievements"`
	QuestionsAsked int       `bson:"questionsAsked"`
	AnswersGiven   int       `bson:"answersGiven"`
	CommentsMade   int       `bson:"commentsMade"`
	UpVotesGiven   int       `bson:"upVotesGiven"`
	DownVotesGiven int       `bson:"downVotesGiven"`
	NimWins        int       `bson:"nimWins"`
	Version        int64     `bson:"version"` // bumped on every committed write
	CreatedAt      time.Time `bson:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt"`
}

func userToDocument(user *models.User) UserDocument {
	achievements := user.Achievements
	if achievements == nil {
		achievements = []string{}
	}
	return UserDocument{
		ID:             user.ID,
		Username:       user.Username,
		Score:          user.Score,
		Rank:           user.Rank,
		Achievements:   achievements,
		QuestionsAsked: user.QuestionsAsked,
		AnswersGiven:   user.AnswersGiven,
		CommentsMade:   user.CommentsMade,
		UpVotesGiven:   user.UpVotesGiven,
		DownVotesGiven: user.DownVotesGiven,
		NimWins:        user.NimWins,
		Version:        user.Version,
		CreatedAt:      user.CreatedAt,
		UpdatedAt:      user.UpdatedAt,
	}
}

func (doc *UserDocument) toModel() *models.User {
	achievements := doc.Achievements
	if achievements == nil {
		achievements = []string{}
	}
	return &models.User{
		ID:             doc.ID,
		Username:       doc.Username,
		Score:          doc.Score,
		Rank:           doc.Rank,
		Achievements:   achievements,
		QuestionsAsked: doc.QuestionsAsked,
		AnswersGiven:   doc.AnswersGiven,
		CommentsMade:   doc.CommentsMade,
		UpVotesGiven:   doc.UpVotesGiven,
		DownVotesGiven: doc.DownVotesGiven,
		NimWins:        doc.NimWins,
		Version:        doc.Version,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

// SaveUser creates or replaces a user document. Seeding only; votes go through CommitVote.
func (m *MongoDB) SaveUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	doc := userToDocument(user)
	opts := options.Update().SetUpsert(true)
	update := bson.M{
		"$set": bson.M{
			"username":       doc.Username,
			"score":          doc.Score,
			"rank":           doc.Rank,
			"achievements":   doc.Achievements,
			"questionsAsked": doc.QuestionsAsked,
			"answersGiven":   doc.AnswersGiven,
			"commentsMade":   doc.CommentsMade,
			"upVotesGiven":   doc.UpVotesGiven,
			"downVotesGiven": doc.DownVotesGiven,
			"nimWins":        doc.NimWins,
			"createdAt":      doc.CreatedAt,
			"updatedAt":      doc.UpdatedAt,
		},
		"$inc": bson.M{"version": 1},
	}

	res, err := m.Users.UpdateOne(ctx, bson.M{"_id": doc.ID}, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		return utils.NewAppError(utils.ErrInvalidRequest, "username already taken: "+user.Username, err)
	}
	if err != nil {
		return utils.ClassifyStorageError("failed to save user", err)
	}
	if res.UpsertedCount == 0 {
		user.Version++
	} else {
		user.Version = 1
	}
	return nil
}

func (m *MongoDB) findUser(ctx context.Context, filter bson.M, key string) (*models.User, error) {
	var doc UserDocument
	err := m.Users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewNotFoundError("user not found: " + key)
	}
	if err != nil {
		return nil, utils.ClassifyStorageError("failed to load user", err)
	}
	return doc.toModel(), nil
}

// LoadUser retrieves a user by username
func (m *MongoDB) LoadUser(ctx context.Context, username string) (*models.User, error) {
	return m.findUser(ctx, bson.M{"username": username}, username)
}

// LoadUserByID retrieves a user by their ID
func (m *MongoDB) LoadUserByID(ctx context.Context, id string) (*models.User, error) {
	return m.findUser(ctx, bson.M{"_id": id}, id)
}

// CommitUser writes the user only if the stored version is still the one it was loaded at.
func (m *MongoDB) CommitUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	if err := commitUserVersion(ctx, m.Users, user, now); err != nil {
		return err
	}
	user.Version++
	user.UpdatedAt = now
	return nil
}

// commitUserVersion is the compare-and-set write shared by CommitUser and
// CommitVote. The caller bumps the in-memory version once the write is durable.
func commitUserVersion(ctx context.Context, users *mongo.Collection, user *models.User, now time.Time) error {
	doc := userToDocument(user)
	filter := bson.M{"_id": doc.ID, "version": doc.Version}
	update := bson.M{
		"$set": bson.M{
			"score":          doc.Score,
			"rank":           doc.Rank,
			"achievements":   doc.Achievements,
			"questionsAsked": doc.QuestionsAsked,
			"answersGiven":   doc.AnswersGiven,
			"commentsMade":   doc.CommentsMade,
			"upVotesGiven":   doc.UpVotesGiven,
			"downVotesGiven": doc.DownVotesGiven,
			"nimWins":        doc.NimWins,
			"updatedAt":      now,
		},
		"$inc": bson.M{"version": 1},
	}

	res, err := users.UpdateOne(ctx, filter, update)
	if err != nil {
		return utils.ClassifyStorageError("failed to commit user", err)
	}
	if res.MatchedCount == 0 {
		n, err := users.CountDocuments(ctx, bson.M{"_id": doc.ID})
		if err != nil {
			return utils.ClassifyStorageError("failed to commit user", err)
		}
		if n == 0 {
			return utils.NewNotFoundError("user not found: " + user.Username)
		}
		return utils.NewConflictError("user " + user.Username + " changed concurrently")
	}
	return nil
}
