package handlers

import (
	"net/http"

	"gator-forum/internal/api"
	"gator-forum/internal/middleware"
)

// HandleHealth reports uptime, connected sessions, storage state and the
// broadcast actor's counters.
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := api.HealthResponse{Status: "healthy", Storage: "ok"}
		if s.Metrics != nil {
			resp.Uptime = s.Metrics.Uptime().Round(1e9).String()
		}
		if s.Sessions != nil {
			resp.ConnectedSessions = s.Sessions.ConnectedCount()
		}
		if s.StorageState != nil {
			resp.Storage = s.StorageState()
			if resp.Storage == "open" {
				resp.Status = "degraded"
			}
		}
		if s.Notifier != nil {
			if stats, err := s.Notifier.Stats(); err == nil {
				resp.Broadcast = &api.BroadcastStats{
					VoteUpdates:  stats.VoteUpdates,
					Stale:        stats.Stale,
					Achievements: stats.Achievements,
					Notified:     stats.Notified,
					Failures:     stats.Failures,
				}
			} else {
				resp.Status = "degraded"
			}
		}

		status := http.StatusOK
		if resp.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		middleware.WriteJSON(w, status, resp)
	}
}
