package database

import (
	"context"

	"gator-forum/internal/models"
)

// VoteCommit is one vote's complete state change. Engines apply it atomically:
// the voter's membership must still equal From, and every user must still be at
// the Version it was loaded with. Otherwise nothing is written and a CONFLICT
// AppError is returned.
type VoteCommit struct {
	Kind     models.EntityKind
	EntityID string
	Voter    string
	From     models.VoteState
	To       models.VoteState
	Users    []*models.User
}

// Store is the storage contract the reputation engine and the notification
// broadcaster run against.
type Store interface {
	Close(ctx context.Context) error

	// Users
	LoadUser(ctx context.Context, username string) (*models.User, error)
	LoadUserByID(ctx context.Context, id string) (*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
	CommitUser(ctx context.Context, user *models.User) error

	// Votables
	LoadVotable(ctx context.Context, kind models.EntityKind, id string) (*models.Votable, error)
	SaveVotable(ctx context.Context, votable *models.Votable) error
	CommitVote(ctx context.Context, commit *VoteCommit) (*models.Votable, error)

	// Preferences
	GetPreferences(ctx context.Context, username, communityKey string) ([]models.UserPreference, error)
	ListCommunityPreferences(ctx context.Context, communityKey string) ([]models.UserPreference, error)
	SavePreference(ctx context.Context, pref *models.UserPreference) error

	// Notifications
	SaveNotification(ctx context.Context, record *models.NotificationRecord) error
	ListNotifications(ctx context.Context, username string, includeCleared bool) ([]*models.NotificationRecord, error)
	ClearNotifications(ctx context.Context, username string) (int, error)
}
