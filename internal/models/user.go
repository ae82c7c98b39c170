package models

import (
	"slices"
	"time"
)

type User struct {
	ID             string    `json:"id" db:"id"`
	Username       string    `json:"username" db:"username"`
	Score          int       `json:"score" db:"score"`
	Rank           string    `json:"rank" db:"rank"`
	Achievements   []string  `json:"achievements" db:"-"`
	QuestionsAsked int       `json:"questionsAsked" db:"questions_asked"`
	AnswersGiven   int       `json:"answersGiven" db:"answers_given"`
	CommentsMade   int       `json:"commentsMade" db:"comments_made"`
	UpVotesGiven   int       `json:"upVotesGiven" db:"up_votes_given"`
	DownVotesGiven int       `json:"downVotesGiven" db:"down_votes_given"`
	NimWins        int       `json:"nimWins" db:"nim_wins"`
	Version        int64     `json:"-" db:"version"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
}

// HasAchievement reports whether the badge is already held.
func (u *User) HasAchievement(name string) bool {
	return slices.Contains(u.Achievements, name)
}

// AddAchievement appends the badge unless it is already held. It reports whether it was added.
func (u *User) AddAchievement(name string) bool {
	if u.HasAchievement(name) {
		return false
	}
	u.Achievements = append(u.Achievements, name)
	return true
}

// Clone returns a deep copy of the user record.
func (u *User) Clone() *User {
	c := *u
	c.Achievements = slices.Clone(u.Achievements)
	if c.Achievements == nil {
		c.Achievements = []string{}
	}
	return &c
}
