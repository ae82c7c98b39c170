package reputation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gator-forum/internal/database"
	"gator-forum/internal/models"
	"gator-forum/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	updates []models.VoteUpdate
	unlocks []models.AchievementUnlock
}

func (p *recordingPublisher) PublishVoteUpdate(update models.VoteUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, update)
}

func (p *recordingPublisher) PublishAchievements(unlock models.AchievementUnlock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unlocks = append(p.unlocks, unlock)
}

func testRetryPolicy() utils.RetryPolicy {
	p := utils.DefaultRetryPolicy()
	p.MaxAttempts = 50
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = 5 * time.Millisecond
	return p
}

func newTestService(t *testing.T, store Store) (*Service, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	svc := NewService(store, pub, Options{
		Retry:          testRetryPolicy(),
		PersistTimeout: time.Second,
		Metrics:        utils.NewMetricsCollector(),
	})
	return svc, pub
}

func seedUser(t *testing.T, store *database.MemoryStore, u *models.User) *models.User {
	t.Helper()
	u.Rank = RankFor(u.Score)
	require.NoError(t, store.SaveUser(context.Background(), u))
	return u
}

func seedVotable(t *testing.T, store *database.MemoryStore, kind models.EntityKind, id, author string) {
	t.Helper()
	require.NoError(t, store.SaveVotable(context.Background(), &models.Votable{ID: id, Kind: kind, AuthorUsername: author}))
}

func loadUser(t *testing.T, store *database.MemoryStore, username string) *models.User {
	t.Helper()
	u, err := store.LoadUser(context.Background(), username)
	require.NoError(t, err)
	return u
}

func TestCastVoteUpvoteCrossesRank(t *testing.T) {
	store := database.NewMemoryStore()
	seedUser(t, store, &models.User{Username: "author", Score: 45})
	seedUser(t, store, &models.User{Username: "voter"})
	seedVotable(t, store, models.QuestionKind, "q1", "author")
	svc, pub := newTestService(t, store)
	ctx := context.Background()

	res, err := svc.CastVote(ctx, VoteRequest{Kind: models.QuestionKind, EntityID: "q1", Voter: "voter", Direction: models.VoteUp})
	require.NoError(t, err)

	assert.Equal(t, models.StateUp, res.State)
	assert.Equal(t, []string{"voter"}, res.UpVoters)
	assert.Empty(t, res.DownVoters)
	assert.Equal(t, map[string][]string{"author": {"Ascension I"}}, res.Unlocked)

	author := loadUser(t, store, "author")
	assert.Equal(t, 50, author.Score)
	assert.Equal(t, RankContributor, author.Rank)
	assert.Equal(t, []string{"Ascension I"}, author.Achievements)

	voter := loadUser(t, store, "voter")
	assert.Equal(t, 1, voter.Score)
	assert.Equal(t, 1, voter.UpVotesGiven)

	// Cancel and re-vote: the rank is crossed again but the badge is already held.
	_, err = svc.CastVote(ctx, VoteRequest{Kind: models.QuestionKind, EntityID: "q1", Voter: "voter", Direction: models.VoteUp})
	require.NoError(t, err)
	assert.Equal(t, 45, loadUser(t, store, "author").Score)
	assert.Equal(t, 0, loadUser(t, store, "voter").Score)

	res, err = svc.CastVote(ctx, VoteRequest{Kind: models.QuestionKind, EntityID: "q1", Voter: "voter", Direction: models.VoteUp})
	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)
	assert.Equal(t, []string{"Ascension I"}, loadUser(t, store, "author").Achievements)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.updates, 3)
	assert.Equal(t, 1, pub.updates[2].UpCount)
	assert.Equal(t, "question:q1", pub.updates[2].Room())
	require.Len(t, pub.unlocks, 1)
	assert.Equal(t, models.AchievementUnlock{Username: "author", Achievements: []string{"Ascension I"}}, pub.unlocks[0])
}

func TestCastVoteFifthUpvoteUnlocksDiligentReviewer(t *testing.T) {
	store := database.NewMemoryStore()
	seedUser(t, store, &models.User{Username: "author"})
	seedUser(t, store, &models.User{Username: "voter", UpVotesGiven: 4})
	seedVotable(t, store, models.CommentKind, "c1", "author")
	svc, _ := newTestService(t, store)

	res, err := svc.CastVote(context.Background(), VoteRequest{Kind: models.CommentKind, EntityID: "c1", Voter: "voter", Direction: models.VoteUp})
	require.NoError(t, err)

	assert.Equal(t, []string{"Diligent Reviewer"}, res.Unlocked["voter"])
	voter := loadUser(t, store, "voter")
	assert.Equal(t, 5, voter.UpVotesGiven)
	assert.Equal(t, 1, voter.Score)
	assert.Equal(t, 3, loadUser(t, store, "author").Score)
}

func TestCastVoteSwitchDirection(t *testing.T) {
	store := database.NewMemoryStore()
	seedUser(t, store, &models.User{Username: "author", Score: 10})
	seedUser(t, store, &models.User{Username: "voter", Score: 10})
	seedVotable(t, store, models.QuestionKind, "q1", "author")
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	_, err := svc.CastVote(ctx, VoteRequest{Kind: models.QuestionKind, EntityID: "q1", Voter: "voter", Direction: models.VoteDown})
	require.NoError(t, err)
	res, err := svc.CastVote(ctx, VoteRequest{Kind: models.QuestionKind, EntityID: "q1", Voter: "voter", Direction: models.VoteUp})
	require.NoError(t, err)

	assert.Equal(t, []string{"voter"}, res.UpVoters)
	assert.Empty(t, res.DownVoters)
	assert.Equal(t, 15, loadUser(t, store, "author").Score)
	voter := loadUser(t, store, "voter")
	assert.Equal(t, 11, voter.Score)
	assert.Equal(t, 1, voter.UpVotesGiven)
	assert.Equal(t, 1, voter.DownVotesGiven)
}

func TestCastVoteSelfVoteAppliesSumOnce(t *testing.T) {
	store := database.NewMemoryStore()
	seedUser(t, store, &models.User{Username: "ada", Score: 44})
	seedVotable(t, store, models.QuestionKind, "q1", "ada")
	svc, _ := newTestService(t, store)

	res, err := svc.CastVote(context.Background(), VoteRequest{Kind: models.QuestionKind, EntityID: "q1", Voter: "ada", Direction: models.VoteUp})
	require.NoError(t, err)

	ada := loadUser(t, store, "ada")
	assert.Equal(t, 50, ada.Score)
	assert.Equal(t, RankContributor, ada.Rank)
	assert.Equal(t, []string{"Ascension I"}, ada.Achievements)
	require.Len(t, res.Users, 1)
	assert.Equal(t, UserSummary{Username: "ada", Score: 50, Rank: RankContributor}, res.Users[0])
}

func TestCastVoteOnAnswerLeavesScores(t *testing.T) {
	store := database.NewMemoryStore()
	seedUser(t, store, &models.User{Username: "author", Score: 20})
	seedUser(t, store, &models.User{Username: "voter", Score: 20})
	seedVotable(t, store, models.AnswerKind, "a1", "author")
	svc, _ := newTestService(t, store)

	res, err := svc.CastVote(context.Background(), VoteRequest{Kind: models.AnswerKind, EntityID: "a1", Voter: "voter", Direction: models.VoteDown})
	require.NoError(t, err)

	assert.Equal(t, []string{"voter"}, res.DownVoters)
	assert.Equal(t, 20, loadUser(t, store, "author").Score)
	voter := loadUser(t, store, "voter")
	assert.Equal(t, 20, voter.Score)
	assert.Zero(t, voter.DownVotesGiven)
}

func TestCastVoteErrors(t *testing.T) {
	store := database.NewMemoryStore()
	seedUser(t, store, &models.User{Username: "voter"})
	seedVotable(t, store, models.QuestionKind, "q1", "ghost")
	svc, pub := newTestService(t, store)
	ctx := context.Background()

	tests := []struct {
		name string
		req  VoteRequest
		code string
	}{
		{"missing entity id", VoteRequest{Kind: models.QuestionKind, Voter: "voter", Direction: models.VoteUp}, utils.ErrInvalidRequest},
		{"missing voter", VoteRequest{Kind: models.QuestionKind, EntityID: "q1", Direction: models.VoteUp}, utils.ErrInvalidRequest},
		{"bad direction", VoteRequest{Kind: models.QuestionKind, EntityID: "q1", Voter: "voter", Direction: "sideways"}, utils.ErrInvalidRequest},
		{"unknown entity", VoteRequest{Kind: models.QuestionKind, EntityID: "q404", Voter: "voter", Direction: models.VoteUp}, utils.ErrNotFound},
		{"unknown voter", VoteRequest{Kind: models.QuestionKind, EntityID: "q1", Voter: "nobody", Direction: models.VoteUp}, utils.ErrNotFound},
		{"unknown author", VoteRequest{Kind: models.QuestionKind, EntityID: "q1", Voter: "voter", Direction: models.VoteUp}, utils.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CastVote(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, utils.IsErrorCode(err, tt.code), "got %v", err)
		})
	}

	v, err := store.LoadVotable(ctx, models.QuestionKind, "q1")
	require.NoError(t, err)
	assert.Empty(t, v.UpVoters)
	assert.Zero(t, loadUser(t, store, "voter").Score)
	assert.Empty(t, pub.updates)
}

type failingCommitStore struct {
	*database.MemoryStore
	err   error
	block bool
}

func (s *failingCommitStore) CommitVote(ctx context.Context, commit *database.VoteCommit) (*models.Votable, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, s.err
}

func TestCastVotePersistenceFailureLeavesNoTrace(t *testing.T) {
	mem := database.NewMemoryStore()
	seedUser(t, mem, &models.User{Username: "author", Score: 45})
	seedUser(t, mem, &models.User{Username: "voter"})
	seedVotable(t, mem, models.QuestionKind, "q1", "author")
	svc, pub := newTestService(t, &failingCommitStore{MemoryStore: mem, err: errors.New("connection reset")})

	_, err := svc.CastVote(context.Background(), VoteRequest{Kind: models.QuestionKind, EntityID: "q1", Voter: "voter", Direction: models.VoteUp})
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrPersistenceFailure))
	assert.Equal(t, 500, utils.AppErrorToHTTPStatus(utils.ErrorCode(err)))

	author := loadUser(t, mem, "author")
	assert.Equal(t, 45, author.Score)
	assert.Empty(t, author.Achievements)
	assert.Empty(t, pub.updates)
	assert.Empty(t, pub.unlocks)
}

func TestCastVoteTimeoutIsPersistenceFailure(t *testing.T) {
	mem := database.NewMemoryStore()
	seedUser(t, mem, &models.User{Username: "author"})
	seedUser(t, mem, &models.User{Username: "voter"})
	seedVotable(t, mem, models.QuestionKind, "q1", "author")
	svc := NewService(&failingCommitStore{MemoryStore: mem, block: true}, &recordingPublisher{}, Options{
		Retry:          testRetryPolicy(),
		PersistTimeout: 20 * time.Millisecond,
	})

	_, err := svc.CastVote(context.Background(), VoteRequest{Kind: models.QuestionKind, EntityID: "q1", Voter: "voter", Direction: models.VoteUp})
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrPersistenceFailure))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentVotesAreNotLost(t *testing.T) {
	store := database.NewMemoryStore()
	seedUser(t, store, &models.User{Username: "author"})
	seedVotable(t, store, models.QuestionKind, "q1", "author")

	const voters = 20
	for i := 0; i < voters; i++ {
		seedUser(t, store, &models.User{Username: fmt.Sprintf("voter-%d", i)})
	}
	svc, pub := newTestService(t, store)

	var wg sync.WaitGroup
	errs := make(chan error, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CastVote(context.Background(), VoteRequest{
				Kind:      models.QuestionKind,
				EntityID:  "q1",
				Voter:     fmt.Sprintf("voter-%d", i),
				Direction: models.VoteUp,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	v, err := store.LoadVotable(context.Background(), models.QuestionKind, "q1")
	require.NoError(t, err)
	assert.Len(t, v.UpVoters, voters)
	author := loadUser(t, store, "author")
	assert.Equal(t, 5*voters, author.Score)
	assert.Equal(t, RankFor(author.Score), author.Rank)
	assert.Equal(t, int64(voters), v.Seq)

	// Every published snapshot carries its own commit sequence.
	seqs := make(map[int64]int)
	for _, u := range pub.updates {
		seqs[u.Seq] = u.UpCount
	}
	assert.Len(t, seqs, voters)
	for seq, ups := range seqs {
		assert.Equal(t, int(seq), ups)
	}
}

func TestRecordActivity(t *testing.T) {
	store := database.NewMemoryStore()
	seedUser(t, store, &models.User{Username: "ada"})
	svc, pub := newTestService(t, store)
	ctx := context.Background()

	res, err := svc.RecordActivity(ctx, "ada", models.Activity{Kind: models.ActivityQuestionAsked})
	require.NoError(t, err)
	assert.Equal(t, []string{"First Step"}, res.Unlocked)

	res, err = svc.RecordActivity(ctx, "ada", models.Activity{Kind: models.ActivityNimWin, Points: 60})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ascension I", "Nim Beginner"}, res.Unlocked)
	assert.Equal(t, 60, res.Score)
	assert.Equal(t, RankContributor, res.Rank)

	res, err = svc.RecordActivity(ctx, "ada", models.Activity{Kind: models.ActivityCommentMade})
	require.NoError(t, err)
	assert.Equal(t, []string{"Conversation Starter"}, res.Unlocked)

	ada := loadUser(t, store, "ada")
	assert.Equal(t, 1, ada.QuestionsAsked)
	assert.Equal(t, 1, ada.NimWins)
	assert.Equal(t, 1, ada.CommentsMade)
	assert.Len(t, pub.unlocks, 3)

	_, err = svc.RecordActivity(ctx, "ada", models.Activity{Kind: "dance"})
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidRequest))
	_, err = svc.RecordActivity(ctx, "nobody", models.Activity{Kind: models.ActivityAnswerGiven})
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}

func TestGrantAchievement(t *testing.T) {
	store := database.NewMemoryStore()
	ada := seedUser(t, store, &models.User{Username: "ada"})
	svc, pub := newTestService(t, store)
	ctx := context.Background()

	name, err := svc.GrantAchievement(ctx, ada.ID, "Nim King")
	require.NoError(t, err)
	assert.Equal(t, "Nim King", name)

	name, err = svc.GrantAchievement(ctx, ada.ID, "Nim King")
	require.NoError(t, err)
	assert.Empty(t, name)
	assert.Equal(t, []string{"Nim King"}, loadUser(t, store, "ada").Achievements)
	assert.Len(t, pub.unlocks, 1)

	_, err = svc.GrantAchievement(ctx, ada.ID, "Nim Emperor")
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidRequest))
	_, err = svc.GrantAchievement(ctx, "missing-id", "Nim King")
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}

func TestConcurrentGrantsDoNotDuplicate(t *testing.T) {
	store := database.NewMemoryStore()
	ada := seedUser(t, store, &models.User{Username: "ada"})
	svc, pub := newTestService(t, store)

	const callers = 20
	var wg sync.WaitGroup
	granted := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, err := svc.GrantAchievement(context.Background(), ada.ID, "Nim King")
			assert.NoError(t, err)
			granted <- name
		}()
	}
	wg.Wait()
	close(granted)

	var names []string
	for name := range granted {
		if name != "" {
			names = append(names, name)
		}
	}
	assert.Equal(t, []string{"Nim King"}, names)
	assert.Equal(t, []string{"Nim King"}, loadUser(t, store, "ada").Achievements)
	assert.Len(t, pub.unlocks, 1)
}

func TestConcurrentActivityUnlocksEachAchievementOnce(t *testing.T) {
	store := database.NewMemoryStore()
	seedUser(t, store, &models.User{Username: "ada"})
	svc, pub := newTestService(t, store)

	const wins = NimKingWins + 2
	var wg sync.WaitGroup
	unlocked := make(chan []string, wins)
	for i := 0; i < wins; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.RecordActivity(context.Background(), "ada", models.Activity{Kind: models.ActivityNimWin, Points: 1})
			if assert.NoError(t, err) {
				unlocked <- res.Unlocked
			}
		}()
	}
	wg.Wait()
	close(unlocked)

	counts := make(map[string]int)
	for list := range unlocked {
		for _, name := range list {
			counts[name]++
		}
	}
	assert.Equal(t, map[string]int{"Nim Beginner": 1, "Nim Novice": 1, "Nim King": 1}, counts)

	ada := loadUser(t, store, "ada")
	assert.Equal(t, wins, ada.NimWins)
	assert.Equal(t, wins, ada.Score)
	assert.ElementsMatch(t, []string{"Nim Beginner", "Nim Novice", "Nim King"}, ada.Achievements)
	assert.Len(t, pub.unlocks, 3)
}
