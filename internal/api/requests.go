// Package api holds the request and response bodies of the HTTP surface.
// Every request validates itself before anything reaches the services.
package api

import (
	"strings"

	"gator-forum/internal/models"
	"gator-forum/internal/utils"
)

type VoteRequest struct {
	Direction string `json:"direction"`
}

func (r VoteRequest) Validate() (models.VoteDirection, error) {
	dir, err := models.ParseVoteDirection(r.Direction)
	if err != nil {
		return "", utils.NewAppError(utils.ErrInvalidRequest, "direction must be up or down", err)
	}
	return dir, nil
}

type ActivityRequest struct {
	Kind   string `json:"kind"`
	Points int    `json:"points"`
}

func (r ActivityRequest) Validate() (models.Activity, error) {
	kind, err := models.ParseActivityKind(r.Kind)
	if err != nil {
		return models.Activity{}, utils.NewAppError(utils.ErrInvalidRequest, "invalid activity kind", err)
	}
	if r.Points < 0 {
		return models.Activity{}, utils.NewInvalidRequestError("points must not be negative")
	}
	return models.Activity{Kind: kind, Points: r.Points}, nil
}

type GrantAchievementRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

func (r GrantAchievementRequest) Validate() error {
	if r.UserID == "" || r.Name == "" {
		return utils.NewInvalidRequestError("userId and name are required")
	}
	return nil
}

type GrantAchievementResponse struct {
	// Granted is null when the user already held the achievement.
	Granted *string `json:"granted"`
}

type NotifyUsersRequest struct {
	CommunityKey       string   `json:"communityKey"`
	Usernames          []string `json:"usernames"`
	RequiredPreference string   `json:"requiredPreference"`
	Message            string   `json:"message"`
	RelatedQuestionID  string   `json:"relatedQuestionId,omitempty"`
}

func (r NotifyUsersRequest) Validate() error {
	if err := requireNotifyFields(r.CommunityKey, r.RequiredPreference, r.Message); err != nil {
		return err
	}
	if len(r.Usernames) == 0 {
		return utils.NewInvalidRequestError("usernames must not be empty")
	}
	return nil
}

type NotifyCommunityRequest struct {
	CommunityKey       string   `json:"communityKey"`
	RequiredPreference string   `json:"requiredPreference"`
	Message            string   `json:"message"`
	Exclude            []string `json:"exclude,omitempty"`
	RelatedQuestionID  string   `json:"relatedQuestionId,omitempty"`
}

func (r NotifyCommunityRequest) Validate() error {
	return requireNotifyFields(r.CommunityKey, r.RequiredPreference, r.Message)
}

func requireNotifyFields(communityKey, preference, message string) error {
	var missing []string
	if communityKey == "" {
		missing = append(missing, "communityKey")
	}
	if preference == "" {
		missing = append(missing, "requiredPreference")
	}
	if message == "" {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		return utils.NewInvalidRequestError("missing " + strings.Join(missing, ", "))
	}
	return nil
}

type NotificationsResponse struct {
	Notifications []*models.NotificationRecord `json:"notifications"`
}

type ClearNotificationsResponse struct {
	Cleared int `json:"cleared"`
}

// CreateUserRequest seeds a user record. Identity and credentials live elsewhere.
type CreateUserRequest struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}

func (r CreateUserRequest) Validate() error {
	if strings.TrimSpace(r.Username) == "" {
		return utils.NewInvalidRequestError("username is required")
	}
	return nil
}

// CreateUserResponse includes a token so seeded users can vote straight away.
type CreateUserResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

type CreateVotableRequest struct {
	ID             string `json:"id,omitempty"`
	Kind           string `json:"kind"`
	AuthorUsername string `json:"authorUsername"`
	CommunityKey   string `json:"communityKey"`
}

func (r CreateVotableRequest) Validate() (*models.Votable, error) {
	kind, err := models.ParseEntityKind(r.Kind)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrInvalidRequest, "invalid entity kind", err)
	}
	if r.AuthorUsername == "" {
		return nil, utils.NewInvalidRequestError("authorUsername is required")
	}
	return &models.Votable{
		ID:             r.ID,
		Kind:           kind,
		AuthorUsername: r.AuthorUsername,
		CommunityKey:   r.CommunityKey,
		UpVoters:       []string{},
		DownVoters:     []string{},
	}, nil
}

type PreferenceRequest struct {
	Username     string `json:"username"`
	CommunityKey string `json:"communityKey"`
	Preference   string `json:"preference"`
}

func (r PreferenceRequest) Validate() (*models.UserPreference, error) {
	if r.Username == "" || r.CommunityKey == "" || r.Preference == "" {
		return nil, utils.NewInvalidRequestError("username, communityKey and preference are required")
	}
	return &models.UserPreference{Username: r.Username, CommunityKey: r.CommunityKey, Preference: r.Preference}, nil
}

type HealthResponse struct {
	Status            string          `json:"status"`
	Uptime            string          `json:"uptime"`
	ConnectedSessions int             `json:"connectedSessions"`
	Storage           string          `json:"storage"`
	Broadcast         *BroadcastStats `json:"broadcast,omitempty"`
}

type BroadcastStats struct {
	VoteUpdates  int `json:"voteUpdates"`
	Stale        int `json:"stale"`
	Achievements int `json:"achievements"`
	Notified     int `json:"notified"`
	Failures     int `json:"failures"`
}
