// Package notify persists notification records and pushes live signals to
// whoever is connected.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"gator-forum/internal/models"
	"gator-forum/internal/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Socket event names.
const (
	EventVoteUpdated         = "voteUpdated"
	EventAchievementUnlocked = "achievementUnlocked"
	EventPreferencesUpdated  = "preferencesUpdated"
)

// Emitter is the socket transport.
type Emitter interface {
	EmitTo(connID, event string, payload any) error
	BroadcastRoom(room, event string, payload any) error
}

// SessionLookup resolves a username to one of its live sessions.
type SessionLookup interface {
	SessionFor(username string) (string, bool)
}

type Store interface {
	GetPreferences(ctx context.Context, username, communityKey string) ([]models.UserPreference, error)
	ListCommunityPreferences(ctx context.Context, communityKey string) ([]models.UserPreference, error)
	SaveNotification(ctx context.Context, record *models.NotificationRecord) error
}

type Options struct {
	Clock          clockwork.Clock
	PersistTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *utils.MetricsCollector
}

type Broadcaster struct {
	store          Store
	sessions       SessionLookup
	emitter        Emitter
	clock          clockwork.Clock
	persistTimeout time.Duration
	logger         *slog.Logger
	metrics        *utils.MetricsCollector
}

func NewBroadcaster(store Store, sessions SessionLookup, emitter Emitter, opts Options) *Broadcaster {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Broadcaster{
		store:          store,
		sessions:       sessions,
		emitter:        emitter,
		clock:          opts.Clock,
		persistTimeout: opts.PersistTimeout,
		logger:         opts.Logger.With("component", "notify"),
		metrics:        opts.Metrics,
	}
}

// PreferencesUpdated is the live payload sent alongside a stored notification.
type PreferencesUpdated struct {
	NotificationID    string `json:"notificationId"`
	CommunityKey      string `json:"communityKey"`
	Message           string `json:"message"`
	RelatedQuestionID string `json:"relatedQuestionId,omitempty"`
}

// Delivery reports who got a stored record and who also got a live push.
type Delivery struct {
	Stored []string `json:"stored"`
	Live   []string `json:"live"`
}

// NotifySpecificUsers notifies each named user opted into requiredPreference
// for the community.
func (b *Broadcaster) NotifySpecificUsers(ctx context.Context, communityKey string, usernames []string, requiredPreference, message, relatedID string) (*Delivery, error) {
	if communityKey == "" || requiredPreference == "" || message == "" {
		return nil, utils.NewInvalidRequestError("communityKey, requiredPreference and message are required")
	}

	delivery := &Delivery{Stored: []string{}, Live: []string{}}
	var errs []error
	for _, username := range dedupe(usernames) {
		prefs, err := b.preferencesOf(ctx, username, communityKey)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !models.HasPreference(prefs, requiredPreference) {
			continue
		}
		if err := b.deliver(ctx, delivery, username, communityKey, message, relatedID); err != nil {
			errs = append(errs, err)
		}
	}
	return delivery, joinStorageErrors(errs)
}

// NotifyOnlineUsersInCommunity notifies every user holding requiredPreference
// for the community, minus exclude.
func (b *Broadcaster) NotifyOnlineUsersInCommunity(ctx context.Context, communityKey, requiredPreference, message string, exclude []string, relatedID string) (*Delivery, error) {
	if communityKey == "" || requiredPreference == "" || message == "" {
		return nil, utils.NewInvalidRequestError("communityKey, requiredPreference and message are required")
	}

	listCtx, cancel := context.WithTimeout(ctx, b.persistTimeout)
	prefs, err := b.store.ListCommunityPreferences(listCtx, communityKey)
	cancel()
	if err != nil {
		return nil, utils.ClassifyStorageError("list community preferences", err)
	}

	var audience []string
	for _, p := range prefs {
		if p.Preference == requiredPreference && !slices.Contains(exclude, p.Username) {
			audience = append(audience, p.Username)
		}
	}

	delivery := &Delivery{Stored: []string{}, Live: []string{}}
	var errs []error
	for _, username := range dedupe(audience) {
		if err := b.deliver(ctx, delivery, username, communityKey, message, relatedID); err != nil {
			errs = append(errs, err)
		}
	}
	return delivery, joinStorageErrors(errs)
}

func (b *Broadcaster) preferencesOf(ctx context.Context, username, communityKey string) ([]models.UserPreference, error) {
	ctx, cancel := context.WithTimeout(ctx, b.persistTimeout)
	defer cancel()
	prefs, err := b.store.GetPreferences(ctx, username, communityKey)
	return prefs, utils.ClassifyStorageError("get preferences for "+username, err)
}

// deliver always persists the record; the live push happens only for present users.
func (b *Broadcaster) deliver(ctx context.Context, delivery *Delivery, username, communityKey, message, relatedID string) error {
	record := &models.NotificationRecord{
		ID:                uuid.NewString(),
		RecipientUsername: username,
		CommunityKey:      communityKey,
		Message:           message,
		RelatedQuestionID: relatedID,
		CreatedAt:         b.clock.Now(),
	}

	saveCtx, cancel := context.WithTimeout(ctx, b.persistTimeout)
	err := b.store.SaveNotification(saveCtx, record)
	cancel()
	if err != nil {
		return utils.ClassifyStorageError("save notification for "+username, err)
	}
	delivery.Stored = append(delivery.Stored, username)

	live := false
	if connID, ok := b.sessions.SessionFor(username); ok {
		payload := PreferencesUpdated{
			NotificationID:    record.ID,
			CommunityKey:      communityKey,
			Message:           message,
			RelatedQuestionID: relatedID,
		}
		if err := b.emitter.EmitTo(connID, EventPreferencesUpdated, payload); err != nil {
			b.broadcastFailed(EventPreferencesUpdated, err, "user", username, "conn", connID)
		} else {
			live = true
			delivery.Live = append(delivery.Live, username)
		}
	}
	if b.metrics != nil {
		b.metrics.IncrementNotifications(live)
	}
	return nil
}

// PushVoteUpdate sends the new vote sets to every subscriber of the entity.
func (b *Broadcaster) PushVoteUpdate(update models.VoteUpdate) error {
	if err := b.emitter.BroadcastRoom(update.Room(), EventVoteUpdated, update); err != nil {
		return b.broadcastFailed(EventVoteUpdated, err, "room", update.Room())
	}
	return nil
}

// PushAchievements tells a present user about newly unlocked badges. Absent users
// are skipped; the badges are already on their record.
func (b *Broadcaster) PushAchievements(unlock models.AchievementUnlock) error {
	connID, ok := b.sessions.SessionFor(unlock.Username)
	if !ok {
		return nil
	}
	if err := b.emitter.EmitTo(connID, EventAchievementUnlocked, unlock); err != nil {
		return b.broadcastFailed(EventAchievementUnlocked, err, "user", unlock.Username, "conn", connID)
	}
	return nil
}

func (b *Broadcaster) broadcastFailed(event string, err error, attrs ...any) error {
	if b.metrics != nil {
		b.metrics.IncrementBroadcastFailures(event)
	}
	appErr := utils.NewAppError(utils.ErrBroadcastFailure, "push "+event, err)
	b.logger.Warn("broadcast failed", append([]any{"event", event, "error", err}, attrs...)...)
	return appErr
}

func dedupe(usernames []string) []string {
	out := make([]string, 0, len(usernames))
	for _, u := range usernames {
		if u != "" && !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	return out
}

func joinStorageErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return utils.NewPersistenceError("some notifications were not stored", errors.Join(errs...))
}
