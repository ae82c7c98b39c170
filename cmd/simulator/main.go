package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"gator-forum/internal/logging"
	"gator-forum/simulator"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type simEnv struct {
	EngineURL    string        `env:"SIM_ENGINE_URL" default:"http://localhost:8080"`
	Users        int           `env:"SIM_USERS" default:"50"`
	Questions    int           `env:"SIM_QUESTIONS" default:"10"`
	Answers      int           `env:"SIM_ANSWERS" default:"10"`
	Comments     int           `env:"SIM_COMMENTS" default:"20"`
	VotesPerUser int           `env:"SIM_VOTES_PER_USER" default:"40"`
	Workers      int           `env:"SIM_WORKERS" default:"16"`
	ZipfS        float64       `env:"SIM_ZIPF_S" default:"1.07"`
	Seed         int64         `env:"SIM_SEED" default:"0"`
	Timeout      time.Duration `env:"SIM_TIMEOUT" default:"10m"`
	LogLevel     string        `env:"LOG_LEVEL" default:"info"`
}

func main() {
	_ = godotenv.Load()

	var cfg simEnv
	if err := env.Load(&cfg, nil); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Init(os.Stdout, cfg.LogLevel, "text")

	sim := simulator.NewSimulator(simulator.SimConfig{
		NumUsers:     cfg.Users,
		NumQuestions: cfg.Questions,
		NumAnswers:   cfg.Answers,
		NumComments:  cfg.Comments,
		VotesPerUser: cfg.VotesPerUser,
		Workers:      cfg.Workers,
		ZipfS:        cfg.ZipfS,
		Seed:         cfg.Seed,
		EngineURL:    cfg.EngineURL,
		Logger:       logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	report, err := sim.Run(ctx)
	if err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}

	m := report.Metrics
	logger.Info("simulation completed",
		"users", m.TotalUsers,
		"targets", m.TotalTargets,
		"votes", m.VotesCast,
		"requests", m.TotalRequests,
		"errors", m.ErrorCount,
		"avgLatency", m.AverageLatency,
		"rps", fmt.Sprintf("%.1f", m.RequestsPerSecond))

	if !report.OK() {
		for _, v := range report.Violations {
			logger.Error("invariant violated", "detail", v)
		}
		os.Exit(2)
	}
}
