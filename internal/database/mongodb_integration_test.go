//go:build integration

package database

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"gator-forum/internal/models"
	"gator-forum/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func startMongo(t *testing.T) *MongoDB {
	t.Helper()
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7", mongodb.WithReplicaSet("rs0"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := NewMongoDB(ctx, endpoint+"/?directConnection=true", "gator_forum_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })
	return db
}

func TestMongoCommitVote(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()

	require.NoError(t, db.SaveUser(ctx, &models.User{Username: "author", Rank: "Newcomer Newbie"}))
	require.NoError(t, db.SaveUser(ctx, &models.User{Username: "voter", Rank: "Newcomer Newbie"}))
	require.NoError(t, db.SaveVotable(ctx, &models.Votable{ID: "q1", Kind: models.QuestionKind, AuthorUsername: "author"}))

	author, err := db.LoadUser(ctx, "author")
	require.NoError(t, err)
	author.Score = 5
	author.Achievements = []string{"Ascension I"}

	v, err := db.CommitVote(ctx, &VoteCommit{
		Kind: models.QuestionKind, EntityID: "q1", Voter: "voter",
		From: models.StateNone, To: models.StateUp,
		Users: []*models.User{author},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"voter"}, v.UpVoters)

	stored, err := db.LoadUser(ctx, "author")
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Score)
	assert.Equal(t, []string{"Ascension I"}, stored.Achievements)
	assert.Equal(t, author.Version, stored.Version)

	// Replaying the same precondition is a conflict and leaves nothing behind.
	_, err = db.CommitVote(ctx, &VoteCommit{
		Kind: models.QuestionKind, EntityID: "q1", Voter: "voter",
		From: models.StateNone, To: models.StateDown,
	})
	assert.True(t, utils.IsErrorCode(err, utils.ErrConflict))

	v, err = db.LoadVotable(ctx, models.QuestionKind, "q1")
	require.NoError(t, err)
	assert.Equal(t, []string{"voter"}, v.UpVoters)
	assert.Empty(t, v.DownVoters)
}

func TestMongoConcurrentMembershipMoves(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	require.NoError(t, db.SaveVotable(ctx, &models.Votable{ID: "a1", Kind: models.AnswerKind, AuthorUsername: "author"}))

	const voters = 10
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := db.CommitVote(ctx, &VoteCommit{
				Kind: models.AnswerKind, EntityID: "a1", Voter: fmt.Sprintf("voter-%d", i),
				From: models.StateNone, To: models.StateUp,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	v, err := db.LoadVotable(ctx, models.AnswerKind, "a1")
	require.NoError(t, err)
	assert.Len(t, v.UpVoters, voters)
}

func TestMongoNotifications(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()

	require.NoError(t, db.SavePreference(ctx, &models.UserPreference{Username: "ada", CommunityKey: "golang", Preference: "newQuestion"}))
	require.NoError(t, db.SavePreference(ctx, &models.UserPreference{Username: "ada", CommunityKey: "golang", Preference: "newQuestion"}))
	prefs, err := db.ListCommunityPreferences(ctx, "golang")
	require.NoError(t, err)
	assert.Len(t, prefs, 1)

	require.NoError(t, db.SaveNotification(ctx, &models.NotificationRecord{RecipientUsername: "ada", Message: "hello"}))
	n, err := db.ClearNotifications(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := db.ListNotifications(ctx, "ada", false)
	require.NoError(t, err)
	assert.Empty(t, list)
}
