package reputation

import "gator-forum/internal/models"

// Transition is the outcome of applying a requested direction to a voter's previous state.
type Transition struct {
	NewState       models.VoteState
	VoterDelta     int
	RecipientDelta int
}

// Cancel reports whether the request toggled an existing vote off.
func (t Transition) Cancel() bool {
	return t.NewState == models.StateNone
}

type transitionKey struct {
	prev models.VoteState
	dir  models.VoteDirection
}

type deltas struct{ voter, recipient int }

// Product-defined point values. Answers are absent: their votes only move the vote sets.
var transitionTable = map[models.EntityKind]map[transitionKey]deltas{
	models.QuestionKind: {
		{models.StateNone, models.VoteUp}:   {+1, +5},
		{models.StateUp, models.VoteUp}:     {-1, -5},
		{models.StateDown, models.VoteUp}:   {+2, +7},
		{models.StateNone, models.VoteDown}: {-1, -2},
		{models.StateDown, models.VoteDown}: {+1, +2},
		{models.StateUp, models.VoteDown}:   {-2, -7},
	},
	models.CommentKind: {
		{models.StateNone, models.VoteUp}:   {+1, +3},
		{models.StateUp, models.VoteUp}:     {-1, -3},
		{models.StateDown, models.VoteUp}:   {+2, +6},
		{models.StateNone, models.VoteDown}: {-1, -1},
		{models.StateDown, models.VoteDown}: {+1, +1},
		{models.StateUp, models.VoteDown}:   {-2, -6},
	},
}

// Resolve computes the new vote state and the score deltas for voter and recipient.
// Requesting the direction already held cancels the vote; the opposite direction switches it.
func Resolve(kind models.EntityKind, prev models.VoteState, dir models.VoteDirection) Transition {
	next := models.StateFor(dir)
	if prev == next {
		next = models.StateNone
	}

	d := transitionTable[kind][transitionKey{prev, dir}]
	return Transition{
		NewState:       next,
		VoterDelta:     d.voter,
		RecipientDelta: d.recipient,
	}
}

// CarriesReputation reports whether votes on kind move user scores and counters.
func CarriesReputation(kind models.EntityKind) bool {
	_, ok := transitionTable[kind]
	return ok
}
