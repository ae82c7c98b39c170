package handlers

import (
	"net/http"

	"gator-forum/internal/api"
	"gator-forum/internal/middleware"
	"gator-forum/internal/utils"
)

func (s *Server) HandleNotifyUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.NotifyUsersRequest
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
		delivery, err := s.Notifier.NotifySpecificUsers(ctx, req.CommunityKey, req.Usernames, req.RequiredPreference, req.Message, req.RelatedQuestionID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, delivery)
	}
}

func (s *Server) HandleNotifyCommunity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.NotifyCommunityRequest
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
		delivery, err := s.Notifier.NotifyOnlineUsersInCommunity(ctx, req.CommunityKey, req.RequiredPreference, req.Message, req.Exclude, req.RelatedQuestionID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, delivery)
	}
}

// HandleListNotifications lists the caller's records; ?all=true includes cleared ones.
func (s *Server) HandleListNotifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, err := currentUser(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		records, err := s.Store.ListNotifications(ctx, username, r.URL.Query().Get("all") == "true")
		if err != nil {
			s.fail(w, r, utils.ClassifyStorageError("list notifications", err))
			return
		}
		middleware.WriteJSON(w, http.StatusOK, api.NotificationsResponse{Notifications: records})
	}
}

func (s *Server) HandleClearNotifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, err := currentUser(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		ctx, cancel := s.requestContext(r)
		defer cancel()
		n, err := s.Store.ClearNotifications(ctx, username)
		if err != nil {
			s.fail(w, r, utils.ClassifyStorageError("clear notifications", err))
			return
		}
		middleware.WriteJSON(w, http.StatusOK, api.ClearNotificationsResponse{Cleared: n})
	}
}
