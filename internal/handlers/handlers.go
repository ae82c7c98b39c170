package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"gator-forum/internal/database"
	"gator-forum/internal/engine/actors"
	"gator-forum/internal/middleware"
	"gator-forum/internal/notify"
	"gator-forum/internal/reputation"
	"gator-forum/internal/utils"

	"github.com/gorilla/mux"
)

// Notifier runs the notify operations and reports broadcast counters.
type Notifier interface {
	NotifySpecificUsers(ctx context.Context, communityKey string, usernames []string, requiredPreference, message, relatedID string) (*notify.Delivery, error)
	NotifyOnlineUsersInCommunity(ctx context.Context, communityKey, requiredPreference, message string, exclude []string, relatedID string) (*notify.Delivery, error)
	Stats() (actors.BroadcastStats, error)
}

// SessionCounter reports how many sockets are connected.
type SessionCounter interface {
	ConnectedCount() int
}

// Server holds all server dependencies
type Server struct {
	Reputation     *reputation.Service
	Notifier       Notifier
	Store          database.Store
	Tokens         *middleware.TokenManager
	Socket         http.Handler
	Sessions       SessionCounter
	Metrics        *utils.MetricsCollector
	CORS           *middleware.CORSConfig
	Logger         *slog.Logger
	RequestTimeout time.Duration

	// SeedEnabled serves the unauthenticated routes that create users,
	// votables and preferences. Off for durable storage unless configured.
	SeedEnabled bool

	// StorageState describes the storage backend for /health. Optional.
	StorageState func() string
}

// Routes builds the router. Routes that act on behalf of a user, or that
// reach other users (grants, notifications), sit behind the token middleware.
func (s *Server) Routes() *mux.Router {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = 5 * time.Second
	}

	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(s.Logger, s.Metrics))

	r.HandleFunc("/health", s.HandleHealth()).Methods(http.MethodGet)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler()).Methods(http.MethodGet)
	}
	if s.Socket != nil {
		r.Handle("/ws", s.Socket).Methods(http.MethodGet)
	}

	r.HandleFunc("/users/{username}", s.HandleGetUser()).Methods(http.MethodGet)
	r.HandleFunc("/votables/{kind}/{id}", s.HandleGetVotable()).Methods(http.MethodGet)
	if s.SeedEnabled {
		r.HandleFunc("/users", s.HandleCreateUser()).Methods(http.MethodPost)
		r.HandleFunc("/votables", s.HandleCreateVotable()).Methods(http.MethodPost)
		r.HandleFunc("/preferences", s.HandleSavePreference()).Methods(http.MethodPost)
	}

	authed := r.NewRoute().Subrouter()
	authed.Use(s.Tokens.AuthMiddleware)
	authed.HandleFunc("/votes/{kind}/{id}", s.HandleVote()).Methods(http.MethodPost)
	authed.HandleFunc("/activity", s.HandleActivity()).Methods(http.MethodPost)
	authed.HandleFunc("/notifications", s.HandleListNotifications()).Methods(http.MethodGet)
	authed.HandleFunc("/notifications", s.HandleClearNotifications()).Methods(http.MethodDelete)
	authed.HandleFunc("/achievements", s.HandleGrantAchievement()).Methods(http.MethodPost)
	authed.HandleFunc("/notifications/users", s.HandleNotifyUsers()).Methods(http.MethodPost)
	authed.HandleFunc("/notifications/community", s.HandleNotifyCommunity()).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, utils.NewNotFoundError("no route for "+r.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusMethodNotAllowed, middleware.ErrorResponse{Error: "method not allowed", Code: utils.ErrInvalidRequest})
	})
	return r
}

// Handler is the router wrapped in CORS, which has to see preflight requests
// before route matching rejects them.
func (s *Server) Handler() http.Handler {
	return middleware.CORSMiddleware(s.CORS)(s.Routes())
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return utils.NewAppError(utils.ErrInvalidRequest, "invalid request body", err)
	}
	return nil
}

// fail logs server-side failures and writes the error body.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if utils.AppErrorToHTTPStatus(utils.ErrorCode(err)) >= 500 {
		s.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	middleware.WriteError(w, err)
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.RequestTimeout)
}

func currentUser(r *http.Request) (string, error) {
	username, ok := middleware.GetUsernameFromContext(r.Context())
	if !ok {
		return "", utils.NewUnauthorizedError("no user in request")
	}
	return username, nil
}
