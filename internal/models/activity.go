package models

import "fmt"

// ActivityKind names a non-vote action that feeds a user's counters.
type ActivityKind string

const (
	ActivityQuestionAsked ActivityKind = "question_asked"
	ActivityAnswerGiven   ActivityKind = "answer_given"
	ActivityCommentMade   ActivityKind = "comment_made"
	ActivityNimWin        ActivityKind = "nim_win"
	ActivityGamePoints    ActivityKind = "game_points"
)

// Activity is reported by collaborators (question flow, game servers) after the fact.
type Activity struct {
	Kind   ActivityKind `json:"kind"`
	Points int          `json:"points,omitempty"`
}

// ParseActivityKind converts a raw payload value into an ActivityKind.
func ParseActivityKind(raw string) (ActivityKind, error) {
	switch kind := ActivityKind(raw); kind {
	case ActivityQuestionAsked, ActivityAnswerGiven, ActivityCommentMade, ActivityNimWin, ActivityGamePoints:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown activity kind %q", raw)
	}
}

// StatusResponse is a generic acknowledgement body.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
