package handlers

import (
	"net/http"

	"gator-forum/internal/api"
	"gator-forum/internal/middleware"
	"gator-forum/internal/models"
	"gator-forum/internal/reputation"
	"gator-forum/internal/utils"

	"github.com/gorilla/mux"
)

// HandleVote casts the caller's vote on /votes/{kind}/{id}.
func (s *Server) HandleVote() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		voter, err := currentUser(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		vars := mux.Vars(r)
		kind, err := models.ParseEntityKind(vars["kind"])
		if err != nil {
			s.fail(w, r, utils.NewAppError(utils.ErrInvalidRequest, "invalid entity kind", err))
			return
		}

		var req api.VoteRequest
		if err := decodeBody(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		dir, err := req.Validate()
		if err != nil {
			s.fail(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		result, err := s.Reputation.CastVote(ctx, reputation.VoteRequest{
			Kind:      kind,
			EntityID:  vars["id"],
			Voter:     voter,
			Direction: dir,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, result)
	}
}

// HandleActivity records a non-vote action for the caller.
func (s *Server) HandleActivity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, err := currentUser(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		var req api.ActivityRequest
		if err := decodeBody(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		activity, err := req.Validate()
		if err != nil {
			s.fail(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		result, err := s.Reputation.RecordActivity(ctx, username, activity)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, result)
	}
}

func (s *Server) HandleGrantAchievement() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.GrantAchievementRequest
		if err := decodeBody(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		if err := req.Validate(); err != nil {
			s.fail(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		granted, err := s.Reputation.GrantAchievement(ctx, req.UserID, req.Name)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		var resp api.GrantAchievementResponse
		if granted != "" {
			resp.Granted = &granted
		}
		middleware.WriteJSON(w, http.StatusOK, resp)
	}
}
