package database

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gator-forum/internal/models"
	"gator-forum/internal/utils"

	"github.com/sony/gobreaker"
)

type BreakerOptions struct {
	FailureThreshold uint32        // consecutive infrastructure failures before opening
	OpenTimeout      time.Duration // how long to stay open before probing again
	Logger           *slog.Logger
}

// BreakerStore fails fast with PERSISTENCE_FAILURE while the wrapped engine is
// unhealthy. Domain outcomes (NOT_FOUND, CONFLICT, INVALID_REQUEST) do not
// count against it.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerStore(next Store, opts BreakerOptions) *BreakerStore {
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	threshold := opts.FailureThreshold
	logger := opts.Logger

	return &BreakerStore{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "store",
			MaxRequests: 1,
			Timeout:     opts.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || utils.ErrorCode(err) != utils.ErrPersistenceFailure
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("storage breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// State reports the breaker state, e.g. for the health endpoint.
func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

func guard[T any](b *BreakerStore, fn func() (T, error)) (T, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, utils.NewPersistenceError("storage unavailable", err)
	}
	v, _ := out.(T)
	return v, err
}

func guardErr(b *BreakerStore, fn func() error) error {
	_, err := guard(b, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (b *BreakerStore) Close(ctx context.Context) error {
	return b.next.Close(ctx)
}

func (b *BreakerStore) LoadUser(ctx context.Context, username string) (*models.User, error) {
	return guard(b, func() (*models.User, error) { return b.next.LoadUser(ctx, username) })
}

func (b *BreakerStore) LoadUserByID(ctx context.Context, id string) (*models.User, error) {
	return guard(b, func() (*models.User, error) { return b.next.LoadUserByID(ctx, id) })
}

func (b *BreakerStore) SaveUser(ctx context.Context, user *models.User) error {
	return guardErr(b, func() error { return b.next.SaveUser(ctx, user) })
}

func (b *BreakerStore) CommitUser(ctx context.Context, user *models.User) error {
	return guardErr(b, func() error { return b.next.CommitUser(ctx, user) })
}

func (b *BreakerStore) LoadVotable(ctx context.Context, kind models.EntityKind, id string) (*models.Votable, error) {
	return guard(b, func() (*models.Votable, error) { return b.next.LoadVotable(ctx, kind, id) })
}

func (b *BreakerStore) SaveVotable(ctx context.Context, votable *models.Votable) error {
	return guardErr(b, func() error { return b.next.SaveVotable(ctx, votable) })
}

func (b *BreakerStore) CommitVote(ctx context.Context, commit *VoteCommit) (*models.Votable, error) {
	return guard(b, func() (*models.Votable, error) { return b.next.CommitVote(ctx, commit) })
}

func (b *BreakerStore) GetPreferences(ctx context.Context, username, communityKey string) ([]models.UserPreference, error) {
	return guard(b, func() ([]models.UserPreference, error) { return b.next.GetPreferences(ctx, username, communityKey) })
}

func (b *BreakerStore) ListCommunityPreferences(ctx context.Context, communityKey string) ([]models.UserPreference, error) {
	return guard(b, func() ([]models.UserPreference, error) { return b.next.ListCommunityPreferences(ctx, communityKey) })
}

func (b *BreakerStore) SavePreference(ctx context.Context, pref *models.UserPreference) error {
	return guardErr(b, func() error { return b.next.SavePreference(ctx, pref) })
}

func (b *BreakerStore) SaveNotification(ctx context.Context, record *models.NotificationRecord) error {
	return guardErr(b, func() error { return b.next.SaveNotification(ctx, record) })
}

func (b *BreakerStore) ListNotifications(ctx context.Context, username string, includeCleared bool) ([]*models.NotificationRecord, error) {
	return guard(b, func() ([]*models.NotificationRecord, error) {
		return b.next.ListNotifications(ctx, username, includeCleared)
	})
}

func (b *BreakerStore) ClearNotifications(ctx context.Context, username string) (int, error) {
	return guard(b, func() (int, error) { return b.next.ClearNotifications(ctx, username) })
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*MongoDB)(nil)
	_ Store = (*PostgresDB)(nil)
	_ Store = (*BreakerStore)(nil)
)
