package models

import "time"

// NotificationRecord is the durable copy of a notification, kept until the user clears it.
type NotificationRecord struct {
	ID                string    `json:"id" db:"id" bson:"_id"`
	RecipientUsername string    `json:"recipientUsername" db:"recipient_username" bson:"recipientUsername"`
	CommunityKey      string    `json:"communityKey" db:"community_key" bson:"communityKey"`
	Message           string    `json:"message" db:"message" bson:"message"`
	RelatedQuestionID string    `json:"relatedQuestionId,omitempty" db:"related_question_id" bson:"relatedQuestionId"`
	Cleared           bool      `json:"cleared" db:"cleared" bson:"cleared"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at" bson:"createdAt"`
}

// UserPreference is one notification preference a user holds for a community.
type UserPreference struct {
	Username     string `json:"username" db:"username" bson:"username"`
	CommunityKey string `json:"communityKey" db:"community_key" bson:"communityKey"`
	Preference   string `json:"preference" db:"preference" bson:"preference"`
}

// HasPreference reports whether any of the entries opts into the given preference.
func HasPreference(prefs []UserPreference, preference string) bool {
	for _, p := range prefs {
		if p.Preference == preference {
			return true
		}
	}
	return false
}
