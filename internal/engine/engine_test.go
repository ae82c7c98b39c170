package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gator-forum/internal/database"
	"gator-forum/internal/models"
	"gator-forum/internal/notify"
	"gator-forum/internal/presence"
	"gator-forum/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
	fail   bool
}

func (r *recordingEmitter) EmitTo(connID, event string, payload any) error {
	return r.record(connID + "/" + event)
}

func (r *recordingEmitter) BroadcastRoom(room, event string, payload any) error {
	return r.record(room + "/" + event)
}

func (r *recordingEmitter) record(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("socket closed")
	}
	r.events = append(r.events, s)
	return nil
}

func (r *recordingEmitter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// blockingBroadcaster holds every NotifySpecificUsers call until release closes.
type blockingBroadcaster struct {
	*notify.Broadcaster
	release chan struct{}
}

func (b *blockingBroadcaster) NotifySpecificUsers(ctx context.Context, communityKey string, usernames []string, requiredPreference, message, relatedID string) (*notify.Delivery, error) {
	<-b.release
	return b.Broadcaster.NotifySpecificUsers(ctx, communityKey, usernames, requiredPreference, message, relatedID)
}

func newTestEngine(t *testing.T) (*Engine, *database.MemoryStore, *presence.Registry, *recordingEmitter) {
	t.Helper()
	store := database.NewMemoryStore()
	registry := presence.NewRegistry()
	emitter := &recordingEmitter{}
	broadcaster := notify.NewBroadcaster(store, registry, emitter, notify.Options{})

	e := NewEngine(actor.NewActorSystem(), broadcaster, time.Second, nil)
	t.Cleanup(e.Stop)
	return e, store, registry, emitter
}

func TestPublishIsDeliveredAsynchronously(t *testing.T) {
	e, _, registry, emitter := newTestEngine(t)
	registry.Register("conn-1")
	registry.Bind("conn-1", "ada")

	e.PublishVoteUpdate(models.NewVoteUpdate(&models.Votable{ID: "q1", Kind: models.QuestionKind}))
	e.PublishAchievements(models.AchievementUnlock{Username: "ada", Achievements: []string{"First Step"}})
	e.PublishAchievements(models.AchievementUnlock{Username: "offline", Achievements: []string{"First Step"}})

	require.Eventually(t, func() bool {
		return len(emitter.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"question:q1/voteUpdated", "conn-1/achievementUnlocked"}, emitter.snapshot())

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.VoteUpdates)
	assert.Equal(t, 2, stats.Achievements)
	assert.Zero(t, stats.Failures)
}

func TestPublishFailureIsCountedNotReturned(t *testing.T) {
	e, _, _, emitter := newTestEngine(t)
	emitter.fail = true

	e.PublishVoteUpdate(models.NewVoteUpdate(&models.Votable{ID: "q1", Kind: models.QuestionKind}))

	require.Eventually(t, func() bool {
		stats, err := e.Stats()
		return err == nil && stats.Failures == 1
	}, time.Second, 10*time.Millisecond)
}

func TestOutOfOrderVoteUpdateIsDropped(t *testing.T) {
	e, _, _, emitter := newTestEngine(t)
	newer := &models.Votable{ID: "q1", Kind: models.QuestionKind, UpVoters: []string{"ada", "bob"}, Seq: 2}
	older := &models.Votable{ID: "q1", Kind: models.QuestionKind, UpVoters: []string{"ada"}, Seq: 1}
	other := &models.Votable{ID: "q2", Kind: models.QuestionKind, Seq: 1}

	e.PublishVoteUpdate(models.NewVoteUpdate(newer))
	e.PublishVoteUpdate(models.NewVoteUpdate(older))
	e.PublishVoteUpdate(models.NewVoteUpdate(other))

	require.Eventually(t, func() bool {
		stats, err := e.Stats()
		return err == nil && stats.VoteUpdates+stats.Stale == 3
	}, time.Second, 10*time.Millisecond)

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.VoteUpdates)
	assert.Equal(t, 1, stats.Stale)
	assert.Equal(t, []string{"question:q1/voteUpdated", "question:q2/voteUpdated"}, emitter.snapshot())
}

func TestNotifyDoesNotBlockVoteUpdates(t *testing.T) {
	store := database.NewMemoryStore()
	registry := presence.NewRegistry()
	emitter := &recordingEmitter{}
	slow := &blockingBroadcaster{
		Broadcaster: notify.NewBroadcaster(store, registry, emitter, notify.Options{}),
		release:     make(chan struct{}),
	}
	e := NewEngine(actor.NewActorSystem(), slow, time.Second, nil)
	t.Cleanup(e.Stop)
	defer close(slow.release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go e.NotifySpecificUsers(ctx, "golang", []string{"ada"}, "newQuestion", "hi", "")

	e.PublishVoteUpdate(models.NewVoteUpdate(&models.Votable{ID: "q1", Kind: models.QuestionKind, Seq: 1}))
	require.Eventually(t, func() bool {
		return len(emitter.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestNotifyHonoursCallerContext(t *testing.T) {
	store := database.NewMemoryStore()
	registry := presence.NewRegistry()
	slow := &blockingBroadcaster{
		Broadcaster: notify.NewBroadcaster(store, registry, &recordingEmitter{}, notify.Options{}),
		release:     make(chan struct{}),
	}
	e := NewEngine(actor.NewActorSystem(), slow, 5*time.Second, nil)
	t.Cleanup(e.Stop)
	defer close(slow.release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := e.NotifySpecificUsers(ctx, "golang", []string{"ada"}, "newQuestion", "hi", "")
	assert.True(t, utils.IsErrorCode(err, utils.ErrPersistenceFailure))
	assert.Less(t, time.Since(start), time.Second)
}

func TestNotifyThroughActor(t *testing.T) {
	e, store, registry, emitter := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.SavePreference(ctx, &models.UserPreference{Username: "ada", CommunityKey: "golang", Preference: "newQuestion"}))
	require.NoError(t, store.SavePreference(ctx, &models.UserPreference{Username: "bob", CommunityKey: "golang", Preference: "newQuestion"}))
	registry.Register("conn-bob")
	registry.Bind("conn-bob", "bob")

	d, err := e.NotifyOnlineUsersInCommunity(ctx, "golang", "newQuestion", "New question", []string{"ada"}, "q1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, d.Stored)
	assert.Equal(t, []string{"bob"}, d.Live)
	assert.Equal(t, []string{"conn-bob/preferencesUpdated"}, emitter.snapshot())
	require.Eventually(t, func() bool {
		stats, err := e.Stats()
		return err == nil && stats.Notified == 1
	}, time.Second, 10*time.Millisecond)

	d, err = e.NotifySpecificUsers(ctx, "golang", []string{"ada"}, "newQuestion", "Answered", "q1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ada"}, d.Stored)
	assert.Empty(t, d.Live)

	_, err = e.NotifySpecificUsers(ctx, "", []string{"ada"}, "newQuestion", "Answered", "q1")
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidRequest))
}
