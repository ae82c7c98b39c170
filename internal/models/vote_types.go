package models

import "fmt"

// EntityKind represents the type of content being voted on.
type EntityKind string

const (
	QuestionKind EntityKind = "question"
	AnswerKind   EntityKind = "answer"
	CommentKind  EntityKind = "comment"
)

// ParseEntityKind converts a raw path or payload value into an EntityKind.
func ParseEntityKind(raw string) (EntityKind, error) {
	switch kind := EntityKind(raw); kind {
	case QuestionKind, AnswerKind, CommentKind:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", raw)
	}
}

// VoteDirection represents the direction a voter asked for.
type VoteDirection string

const (
	VoteUp   VoteDirection = "up"
	VoteDown VoteDirection = "down"
)

// ParseVoteDirection converts a raw payload value into a VoteDirection.
func ParseVoteDirection(raw string) (VoteDirection, error) {
	switch dir := VoteDirection(raw); dir {
	case VoteUp, VoteDown:
		return dir, nil
	default:
		return "", fmt.Errorf("unknown vote direction %q", raw)
	}
}

// VoteState is a voter's membership in an entity's vote sets.
type VoteState string

const (
	StateNone VoteState = "none"
	StateUp   VoteState = "up"
	StateDown VoteState = "down"
)

// StateFor returns the state a requested direction lands in when it is not a cancel.
func StateFor(dir VoteDirection) VoteState {
	if dir == VoteUp {
		return StateUp
	}
	return StateDown
}
