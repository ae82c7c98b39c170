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

// HandleCreateUser seeds a user and returns a token for it.
func (s *Server) HandleCreateUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.CreateUserRequest
		if err := decodeBody(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		if err := req.Validate(); err != nil {
			s.fail(w, r, err)
			return
		}

		user := &models.User{
			Username:     req.Username,
			Score:        req.Score,
			Rank:         reputation.RankFor(req.Score),
			Achievements: []string{},
		}
		ctx, cancel := s.requestContext(r)
		defer cancel()
		if err := s.Store.SaveUser(ctx, user); err != nil {
			s.fail(w, r, utils.ClassifyStorageError("save user", err))
			return
		}

		token, err := s.Tokens.GenerateToken(user.Username)
		if err != nil {
			s.fail(w, r, utils.NewAppError(utils.ErrPersistenceFailure, "issue token", err))
			return
		}
		middleware.WriteJSON(w, http.StatusCreated, api.CreateUserResponse{User: user, Token: token})
	}
}

func (s *Server) HandleGetUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := s.requestContext(r)
		defer cancel()
		user, err := s.Store.LoadUser(ctx, mux.Vars(r)["username"])
		if err != nil {
			s.fail(w, r, utils.ClassifyStorageError("load user", err))
			return
		}
		middleware.WriteJSON(w, http.StatusOK, user)
	}
}

func (s *Server) HandleCreateVotable() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.CreateVotableRequest
		if err := decodeBody(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		votable, err := req.Validate()
		if err != nil {
			s.fail(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		if _, err := s.Store.LoadUser(ctx, votable.AuthorUsername); err != nil {
			s.fail(w, r, utils.ClassifyStorageError("load author", err))
			return
		}
		if err := s.Store.SaveVotable(ctx, votable); err != nil {
			s.fail(w, r, utils.ClassifyStorageError("save votable", err))
			return
		}
		middleware.WriteJSON(w, http.StatusCreated, votable)
	}
}

func (s *Server) HandleGetVotable() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		kind, err := models.ParseEntityKind(vars["kind"])
		if err != nil {
			s.fail(w, r, utils.NewAppError(utils.ErrInvalidRequest, "invalid entity kind", err))
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		votable, err := s.Store.LoadVotable(ctx, kind, vars["id"])
		if err != nil {
			s.fail(w, r, utils.ClassifyStorageError("load votable", err))
			return
		}
		middleware.WriteJSON(w, http.StatusOK, votable)
	}
}

func (s *Server) HandleSavePreference() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.PreferenceRequest
		if err := decodeBody(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		pref, err := req.Validate()
		if err != nil {
			s.fail(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		if err := s.Store.SavePreference(ctx, pref); err != nil {
			s.fail(w, r, utils.ClassifyStorageError("save preference", err))
			return
		}
		middleware.WriteJSON(w, http.StatusCreated, models.StatusResponse{Success: true})
	}
}
