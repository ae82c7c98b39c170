package models

import "slices"

// Votable is a question, answer or comment as seen by the reputation engine.
// A username never appears in both UpVoters and DownVoters. Seq grows by one
// with every committed vote.
type Votable struct {
	ID             string     `json:"id" db:"id" bson:"entityId"`
	Kind           EntityKind `json:"kind" db:"kind" bson:"kind"`
	AuthorUsername string     `json:"authorUsername" db:"author_username" bson:"authorUsername"`
	CommunityKey   string     `json:"communityKey,omitempty" db:"community_key" bson:"communityKey"`
	UpVoters       []string   `json:"upVoters" db:"-" bson:"upVoters"`
	DownVoters     []string   `json:"downVoters" db:"-" bson:"downVoters"`
	Seq            int64      `json:"seq" db:"seq" bson:"seq"`
}

// StateOf returns the username's current membership in the vote sets.
func (v *Votable) StateOf(username string) VoteState {
	switch {
	case slices.Contains(v.UpVoters, username):
		return StateUp
	case slices.Contains(v.DownVoters, username):
		return StateDown
	default:
		return StateNone
	}
}

// Move removes the username from whichever set holds it and adds it to the set for state.
func (v *Votable) Move(username string, state VoteState) {
	v.UpVoters = slices.DeleteFunc(v.UpVoters, func(u string) bool { return u == username })
	v.DownVoters = slices.DeleteFunc(v.DownVoters, func(u string) bool { return u == username })
	switch state {
	case StateUp:
		v.UpVoters = append(v.UpVoters, username)
	case StateDown:
		v.DownVoters = append(v.DownVoters, username)
	}
}

// Clone returns a deep copy so callers can mutate vote sets without touching storage.
func (v *Votable) Clone() *Votable {
	c := *v
	c.UpVoters = slices.Clone(v.UpVoters)
	c.DownVoters = slices.Clone(v.DownVoters)
	if c.UpVoters == nil {
		c.UpVoters = []string{}
	}
	if c.DownVoters == nil {
		c.DownVoters = []string{}
	}
	return &c
}

// Key identifies the entity across kinds, e.g. "question:42".
func (v *Votable) Key() string {
	return EntityKey(v.Kind, v.ID)
}

// EntityKey builds the cross-kind identifier used for storage keys and socket rooms.
func EntityKey(kind EntityKind, id string) string {
	return string(kind) + ":" + id
}
