package middleware

import (
	"encoding/json"
	"net/http"

	"gator-forum/internal/utils"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError maps err to its HTTP status and writes the JSON error body.
func WriteError(w http.ResponseWriter, err error) {
	code := utils.ErrorCode(err)
	msg := err.Error()
	if appErr, ok := utils.AsAppError(err); ok && code == utils.ErrPersistenceFailure {
		// storage internals stay in the logs
		msg = appErr.Message
	}
	WriteJSON(w, utils.AppErrorToHTTPStatus(code), ErrorResponse{Error: msg, Code: code})
}
