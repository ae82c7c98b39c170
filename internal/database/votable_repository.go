// internal/database/votable_repository.go
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

// VotableDocument keys a votable by "kind:id" so ids only need to be unique per kind.
type VotableDocument struct {
	Key            string `bson:"_id"`
	models.Votable `bson:",inline"`
}

func (m *MongoDB) SaveVotable(ctx context.Context, votable *models.Votable) error {
	if votable.ID == "" {
		votable.ID = uuid.NewString()
	}
	doc := VotableDocument{Key: votable.Key(), Votable: *votable.Clone()}

	opts := options.Replace().SetUpsert(true)
	if _, err := m.Votables.ReplaceOne(ctx, bson.M{"_id": doc.Key}, doc, opts); err != nil {
		return utils.ClassifyStorageError("failed to save votable", err)
	}
	return nil
}

func (m *MongoDB) LoadVotable(ctx context.Context, kind models.EntityKind, id string) (*models.Votable, error) {
	var doc VotableDocument
	err := m.Votables.FindOne(ctx, bson.M{"_id": models.EntityKey(kind, id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewNotFoundError(string(kind) + " not found: " + id)
	}
	if err != nil {
		return nil, utils.ClassifyStorageError("failed to load votable", err)
	}
	return doc.Votable.Clone(), nil
}

func voterSetField(state models.VoteState) string {
	switch state {
	case models.StateUp:
		return "upVoters"
	case models.StateDown:
		return "downVoters"
	default:
		return ""
	}
}

// membershipFilter matches the votable only while the voter still holds state.
func membershipFilter(key, voter string, state models.VoteState) bson.M {
	filter := bson.M{"_id": key}
	if field := voterSetField(state); field != "" {
		filter[field] = voter
		return filter
	}
	filter["upVoters"] = bson.M{"$ne": voter}
	filter["downVoters"] = bson.M{"$ne": voter}
	return filter
}

// membershipUpdate moves the voter out of the From set and into the To set in one command.
func membershipUpdate(voter string, from, to models.VoteState) bson.M {
	update := bson.M{"$inc": bson.M{"seq": 1}}
	if field := voterSetField(from); field != "" {
		update["$pull"] = bson.M{field: voter}
	}
	if field := voterSetField(to); field != "" {
		update["$addToSet"] = bson.M{field: voter}
	}
	return update
}

// CommitVote runs the conditional membership move and every version-checked
// user write in one transaction.
func (m *MongoDB) CommitVote(ctx context.Context, commit *VoteCommit) (*models.Votable, error) {
	session, err := m.Client.StartSession()
	if err != nil {
		return nil, utils.ClassifyStorageError("failed to start session", err)
	}
	defer session.EndSession(ctx)

	key := models.EntityKey(commit.Kind, commit.EntityID)
	now := time.Now()

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		var doc VotableDocument
		opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
		err := m.Votables.FindOneAndUpdate(sc,
			membershipFilter(key, commit.Voter, commit.From),
			membershipUpdate(commit.Voter, commit.From, commit.To),
			opts,
		).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			n, countErr := m.Votables.CountDocuments(sc, bson.M{"_id": key})
			if countErr != nil {
				return nil, countErr
			}
			if n == 0 {
				return nil, utils.NewNotFoundError(string(commit.Kind) + " not found: " + commit.EntityID)
			}
			return nil, utils.NewConflictError("vote by " + commit.Voter + " changed concurrently")
		}
		if err != nil {
			return nil, err
		}

		for _, u := range commit.Users {
			if err := commitUserVersion(sc, m.Users, u, now); err != nil {
				return nil, err
			}
		}
		return doc.Votable.Clone(), nil
	})
	if err != nil {
		return nil, utils.ClassifyStorageError("failed to commit vote", err)
	}

	for _, u := range commit.Users {
		u.Version++
		u.UpdatedAt = now
	}
	return result.(*models.Votable), nil
}
