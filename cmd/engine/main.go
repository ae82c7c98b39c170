package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gator-forum/internal/config"
	"gator-forum/internal/database"
	"gator-forum/internal/engine"
	"gator-forum/internal/handlers"
	"gator-forum/internal/logging"
	"gator-forum/internal/middleware"
	"gator-forum/internal/notify"
	"gator-forum/internal/presence"
	"gator-forum/internal/reputation"
	"gator-forum/internal/utils"
	"gator-forum/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/jonboulle/clockwork"
)

// App holds everything main wires together.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	system   *actor.ActorSystem
	engine   *engine.Engine
	hub      *websocket.Hub
	presence *presence.Registry
	store    database.Store
	metrics  *utils.MetricsCollector
	handler  http.Handler
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Init(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "type", cfg.Database.Type, "error", err)
		os.Exit(1)
	}

	app := NewApp(cfg, logger, store)
	if err := app.Run(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

// openStore connects the configured engine and wraps it in a circuit breaker.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (database.Store, error) {
	var store database.Store
	switch cfg.Database.Type {
	case "memory":
		store = database.NewMemoryStore()
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		mongoDB, err := database.NewMongoDB(connectCtx, cfg.Database.URI, cfg.Database.MongoDatabase)
		if err != nil {
			return nil, err
		}
		store = mongoDB
	case "postgres":
		pg, err := database.NewPostgresDB(cfg.Database.URI)
		if err != nil {
			return nil, err
		}
		if err := pg.InitializeTables(ctx); err != nil {
			pg.Close(ctx)
			return nil, err
		}
		store = pg
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q", cfg.Database.Type)
	}
	logger.Info("storage ready", "type", cfg.Database.Type)

	return database.NewBreakerStore(store, database.BreakerOptions{
		FailureThreshold: cfg.Database.BreakerFailures,
		OpenTimeout:      cfg.Database.BreakerOpenTimeout,
		Logger:           logger,
	}), nil
}

// NewApp builds the service graph on top of an open store.
func NewApp(cfg *config.Config, logger *slog.Logger, store database.Store) *App {
	metrics := utils.NewMetricsCollector()
	registry := presence.NewRegistry()
	tokens := middleware.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	cors := middleware.DefaultCORSConfig(cfg.AllowedOrigins)

	hub := websocket.NewHub(registry, tokens, websocket.HubOptions{
		OnSessionsChange: metrics.SetConnectedSessions,
		Logger:           logger,
		CheckOrigin:      cors.CheckOrigin,
	})

	broadcaster := notify.NewBroadcaster(store, registry, hub, notify.Options{
		Clock:          clockwork.NewRealClock(),
		PersistTimeout: cfg.PersistTimeout,
		Logger:         logger,
		Metrics:        metrics,
	})

	system := actor.NewActorSystem(actor.WithLoggerFactory(func(*actor.ActorSystem) *slog.Logger {
		return logger.With("component", "actor")
	}))
	eng := engine.NewEngine(system, broadcaster, cfg.BroadcastTimeout, logger)

	retry := utils.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.VoteRetryAttempts
	retry.InitialBackoff = cfg.VoteRetryBackoff

	service := reputation.NewService(store, eng, reputation.Options{
		Retry:          retry,
		PersistTimeout: cfg.PersistTimeout,
		Logger:         logger,
		Metrics:        metrics,
	})

	server := &handlers.Server{
		Reputation:     service,
		Notifier:       eng,
		Store:          store,
		Tokens:         tokens,
		Socket:         hub,
		Sessions:       registry,
		CORS:           cors,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
		SeedEnabled:    cfg.SeedRoutes(),
	}
	if cfg.Server.MetricsEnabled {
		server.Metrics = metrics
	}
	if b, ok := store.(*database.BreakerStore); ok {
		server.StorageState = func() string { return b.State().String() }
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		system:   system,
		engine:   eng,
		hub:      hub,
		presence: registry,
		store:    store,
		metrics:  metrics,
		handler:  server.Handler(),
	}
}

// Run serves HTTP until ctx is cancelled, then shuts everything down in
// reverse order of construction.
func (a *App) Run(ctx context.Context) error {
	go a.hub.Run()

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", "addr", srv.Addr, "storage", a.cfg.Database.Type)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown incomplete", "error", err)
	}
	a.Close(shutdownCtx)
	return serveErr
}

// Close stops the socket hub, drains the broadcast actor and closes storage.
func (a *App) Close(ctx context.Context) {
	a.hub.Stop()
	a.engine.Stop()
	a.system.Shutdown()
	if err := a.store.Close(ctx); err != nil {
		a.logger.Warn("storage close failed", "error", err)
	}
}
