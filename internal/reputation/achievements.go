package reputation

import "gator-forum/internal/models"

// Trigger carries the transition context an evaluation runs under.
// RankBefore and RankAfter are equal (or empty) when the rank did not move.
type Trigger struct {
	RankBefore string
	RankAfter  string
}

// RankChanged reports whether this evaluation crossed into a different tier.
func (t Trigger) RankChanged() bool {
	return t.RankBefore != t.RankAfter
}

// Achievement is a named badge with its unlock predicate. Predicates read the
// post-mutation user and must stay true once true, except rank crossings which
// only fire on the transition itself.
type Achievement struct {
	Name        string
	Description string
	Unlocked    func(u *models.User, t Trigger) bool
}

func counterAtLeast(counter func(u *models.User) int, threshold int) func(*models.User, Trigger) bool {
	return func(u *models.User, _ Trigger) bool {
		return counter(u) >= threshold
	}
}

func crossedInto(rank string) func(*models.User, Trigger) bool {
	return func(_ *models.User, t Trigger) bool {
		return t.RankChanged() && t.RankAfter == rank
	}
}

func questions(u *models.User) int { return u.QuestionsAsked }
func answers(u *models.User) int   { return u.AnswersGiven }
func comments(u *models.User) int  { return u.CommentsMade }
func upVotes(u *models.User) int   { return u.UpVotesGiven }
func downVotes(u *models.User) int { return u.DownVotesGiven }
func nimWins(u *models.User) int   { return u.NimWins }

// Nim win thresholds for Beginner, Novice and King.
const (
	NimBeginnerWins = 1
	NimNoviceWins   = 5
	NimKingWins     = 10
)

func defaultAchievements() []Achievement {
	return []Achievement{
		{"First Step", "Asked your first question", counterAtLeast(questions, 1)},
		{"Curious Thinker", "Asked five questions", counterAtLeast(questions, 5)},
		{"Helping Hand", "Posted your first answer", counterAtLeast(answers, 1)},
		{"Problem Solver", "Posted ten answers", counterAtLeast(answers, 10)},
		{"Conversation Starter", "Left your first comment", counterAtLeast(comments, 1)},
		{"Diligent Reviewer", "Cast five upvotes", counterAtLeast(upVotes, 5)},
		{"Critical Eye", "Cast five downvotes", counterAtLeast(downVotes, 5)},

		{"Ascension I", "Reached " + RankContributor, crossedInto(RankContributor)},
		{"Ascension II", "Reached " + RankSolver, crossedInto(RankSolver)},
		{"Ascension III", "Reached " + RankExplorer, crossedInto(RankExplorer)},
		{"Ascension IV", "Reached " + RankMentor, crossedInto(RankMentor)},
		{"Ascension V", "Reached " + RankMaster, crossedInto(RankMaster)},

		{"Nim Beginner", "Won a game of Nim", counterAtLeast(nimWins, NimBeginnerWins)},
		{"Nim Novice", "Won five games of Nim", counterAtLeast(nimWins, NimNoviceWins)},
		{"Nim King", "Won ten games of Nim", counterAtLeast(nimWins, NimKingWins)},
	}
}

// Catalog is the ordered, immutable set of achievements.
type Catalog struct {
	achievements []Achievement
	byName       map[string]int
}

// NewCatalog builds a catalog from the given achievements in declaration order.
func NewCatalog(achievements []Achievement) *Catalog {
	c := &Catalog{
		achievements: achievements,
		byName:       make(map[string]int, len(achievements)),
	}
	for i, a := range achievements {
		c.byName[a.Name] = i
	}
	return c
}

// DefaultCatalog is the product catalog.
func DefaultCatalog() *Catalog {
	return NewCatalog(defaultAchievements())
}

// Has reports whether name is a known achievement.
func (c *Catalog) Has(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Achievements returns the catalog in declaration order.
func (c *Catalog) Achievements() []Achievement {
	out := make([]Achievement, len(c.achievements))
	copy(out, c.achievements)
	return out
}

// Evaluate grants every achievement whose predicate holds for u and that u does
// not hold yet, appending it to u.Achievements. Only the newly granted names are
// returned, in declaration order.
func (c *Catalog) Evaluate(u *models.User, t Trigger) []string {
	var unlocked []string
	for _, a := range c.achievements {
		if u.HasAchievement(a.Name) {
			continue
		}
		if a.Unlocked(u, t) && u.AddAchievement(a.Name) {
			unlocked = append(unlocked, a.Name)
		}
	}
	return unlocked
}

// Grant adds a named achievement directly. It returns false when u already holds it.
func (c *Catalog) Grant(u *models.User, name string) bool {
	return u.AddAchievement(name)
}
