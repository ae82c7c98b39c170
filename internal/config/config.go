package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// DevJWTSecret signs tokens when DB_TYPE=memory and no secret is configured.
const DevJWTSecret = "gator-forum-dev-secret"

// ServerConfig holds all server-related settings
type ServerConfig struct {
	Port           int    `env:"PORT" default:"8080"`
	Host           string `env:"HOST" default:"0.0.0.0"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" default:"true"`
}

// DatabaseConfig holds database configuration settings
type DatabaseConfig struct {
	Type          string `env:"DB_TYPE" default:"memory"` // memory | mongo | postgres
	URI           string `env:"DATABASE_URL"`
	MongoDatabase string `env:"MONGO_DATABASE" default:"gator_forum"`

	BreakerFailures    uint32        `env:"DB_BREAKER_FAILURES" default:"5"`
	BreakerOpenTimeout time.Duration `env:"DB_BREAKER_OPEN_TIMEOUT" default:"10s"`
}

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig

	JWTSecret      string        `env:"JWT_SECRET"`
	TokenTTL       time.Duration `env:"TOKEN_TTL" default:"24h"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" default:"*"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	PersistTimeout   time.Duration `env:"PERSIST_TIMEOUT" default:"3s"`
	BroadcastTimeout time.Duration `env:"BROADCAST_TIMEOUT" default:"2s"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT" default:"10s"`

	VoteRetryAttempts int           `env:"VOTE_RETRY_ATTEMPTS" default:"5"`
	VoteRetryBackoff  time.Duration `env:"VOTE_RETRY_BACKOFF" default:"10ms"`

	// SeedEnabled exposes the unauthenticated seeding routes on durable storage.
	SeedEnabled bool `env:"SEED_ENABLED" default:"false"`
}

// SeedRoutes reports whether POST /users, /votables and /preferences are served.
// The memory engine always serves them.
func (c *Config) SeedRoutes() bool {
	return c.SeedEnabled || c.Database.Type == "memory"
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// LoadConfig reads a .env file if one can be found, then the environment.
func LoadConfig() (*Config, error) {
	envLocations := []string{
		".env",       // Current directory
		"../../.env", // Project root when running from cmd/engine
	}
	if gopath := os.Getenv("GOPATH"); gopath != "" {
		envLocations = append(envLocations, filepath.Join(gopath, "src/gator-forum/.env"))
	}

	envLoaded := false
	for _, location := range envLocations {
		if err := godotenv.Load(location); err == nil {
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		slog.Debug("no .env file found, using environment variables")
	}

	return Load(nil)
}

// Load fills a Config from source, or from the process environment when
// source is nil, and validates it.
func Load(source env.Source) (*Config, error) {
	opts := &env.Options{SliceSep: ","}
	if source != nil {
		opts.Source = source
	}

	var cfg Config
	if err := env.Load(&cfg, opts); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []error

	switch cfg.Database.Type {
	case "memory":
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = DevJWTSecret
		}
	case "mongo", "postgres":
		if cfg.Database.URI == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required when DB_TYPE is %s", cfg.Database.Type))
		}
		if cfg.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("JWT_SECRET is required when DB_TYPE is %s", cfg.Database.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_TYPE %q (want memory, mongo or postgres)", cfg.Database.Type))
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", cfg.Server.Port))
	}
	if cfg.VoteRetryAttempts < 1 {
		errs = append(errs, errors.New("VOTE_RETRY_ATTEMPTS must be at least 1"))
	}
	for name, d := range map[string]time.Duration{
		"PERSIST_TIMEOUT":   cfg.PersistTimeout,
		"BROADCAST_TIMEOUT": cfg.BroadcastTimeout,
		"REQUEST_TIMEOUT":   cfg.RequestTimeout,
		"TOKEN_TTL":         cfg.TokenTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}
