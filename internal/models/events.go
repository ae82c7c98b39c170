package models

// VoteUpdate is pushed to every socket subscribed to the entity after a vote commits.
type VoteUpdate struct {
	Kind       EntityKind `json:"kind"`
	EntityID   string     `json:"entityId"`
	UpVoters   []string   `json:"upVoters"`
	DownVoters []string   `json:"downVoters"`
	UpCount    int        `json:"upCount"`
	DownCount  int        `json:"downCount"`
	Seq        int64      `json:"seq"`
}

// NewVoteUpdate snapshots the entity's vote sets.
func NewVoteUpdate(v *Votable) VoteUpdate {
	c := v.Clone()
	return VoteUpdate{
		Kind:       c.Kind,
		EntityID:   c.ID,
		UpVoters:   c.UpVoters,
		DownVoters: c.DownVoters,
		UpCount:    len(c.UpVoters),
		DownCount:  len(c.DownVoters),
		Seq:        c.Seq,
	}
}

// Room is the socket room name subscribers of the entity join.
func (u VoteUpdate) Room() string {
	return EntityKey(u.Kind, u.EntityID)
}

// AchievementUnlock is pushed to the user who earned the badges, if connected.
type AchievementUnlock struct {
	Username     string   `json:"username"`
	Achievements []string `json:"achievements"`
}
