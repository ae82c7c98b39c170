package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"gator-forum/internal/api"
	"gator-forum/internal/middleware"
	"gator-forum/internal/models"

	"github.com/google/uuid"
)

type SimConfig struct {
	NumUsers     int
	NumQuestions int
	NumAnswers   int
	NumComments  int
	VotesPerUser int
	Workers      int
	// ZipfS skews which entities get voted on; larger is more skewed.
	ZipfS     float64
	Seed      int64
	EngineURL string
	Logger    *slog.Logger
}

func (c *SimConfig) setDefaults() {
	if c.NumUsers <= 0 {
		c.NumUsers = 20
	}
	if c.NumQuestions <= 0 {
		c.NumQuestions = 5
	}
	if c.VotesPerUser <= 0 {
		c.VotesPerUser = 20
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.ZipfS <= 1 {
		c.ZipfS = 1.07
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type SimulationStats struct {
	mu              sync.Mutex
	StartTime       time.Time
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	AverageLatency  time.Duration
	VotesCast       int64
}

// SimulatedUser is one seeded account.
type SimulatedUser struct {
	ID       string
	Username string
	Token    string
}

type target struct {
	Kind   models.EntityKind
	ID     string
	Author string
}

func (t target) key() string {
	return models.EntityKey(t.Kind, t.ID)
}

type Simulator struct {
	config  SimConfig
	stats   *SimulationStats
	users   []*SimulatedUser
	targets []target
	client  *http.Client
	logger  *slog.Logger

	// model is what the server should hold once every vote has landed:
	// entity key -> username -> state. Each user is driven by one worker so
	// its votes land in the order they were issued.
	mu            sync.Mutex
	model         map[string]map[string]models.VoteState
	expectedScore map[string]int
}

func NewSimulator(config SimConfig) *Simulator {
	config.setDefaults()
	return &Simulator{
		config: config,
		stats:  &SimulationStats{StartTime: time.Now()},
		client: &http.Client{Timeout: 10 * time.Second},
		logger: config.Logger.With("component", "simulator"),
		model:  make(map[string]map[string]models.VoteState),

		expectedScore: make(map[string]int),
	}
}

// Run seeds users and entities, casts the votes concurrently and then checks
// the server's state against the local model.
func (s *Simulator) Run(ctx context.Context) (*Report, error) {
	s.logger.Info("starting simulation",
		"users", s.config.NumUsers, "questions", s.config.NumQuestions,
		"answers", s.config.NumAnswers, "comments", s.config.NumComments,
		"votesPerUser", s.config.VotesPerUser, "seed", s.config.Seed)

	if err := s.initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialization failed: %w", err)
	}

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	go s.collectMetrics(metricsCtx)
	err := s.simulateVotes(ctx)
	stopMetrics()
	if err != nil {
		return nil, err
	}

	return s.verify(ctx)
}

func (s *Simulator) initialize(ctx context.Context) error {
	s.users = make([]*SimulatedUser, 0, s.config.NumUsers)
	for i := 0; i < s.config.NumUsers; i++ {
		name := fmt.Sprintf("sim_%s_%d", uuid.NewString()[:8], i)
		var resp api.CreateUserResponse
		if err := s.do(ctx, http.MethodPost, "/users", "", api.CreateUserRequest{Username: name}, &resp); err != nil {
			return fmt.Errorf("create user %s: %w", name, err)
		}
		s.users = append(s.users, &SimulatedUser{ID: resp.User.ID, Username: name, Token: resp.Token})
	}

	rng := rand.New(rand.NewSource(s.config.Seed))
	counts := []struct {
		kind models.EntityKind
		n    int
	}{
		{models.QuestionKind, s.config.NumQuestions},
		{models.AnswerKind, s.config.NumAnswers},
		{models.CommentKind, s.config.NumComments},
	}
	for _, c := range counts {
		for i := 0; i < c.n; i++ {
			author := s.users[rng.Intn(len(s.users))]
			req := api.CreateVotableRequest{
				ID:             uuid.NewString(),
				Kind:           string(c.kind),
				AuthorUsername: author.Username,
				CommunityKey:   getRandomTheme(rng),
			}
			if err := s.do(ctx, http.MethodPost, "/votables", "", req, nil); err != nil {
				return fmt.Errorf("create %s: %w", c.kind, err)
			}
			s.targets = append(s.targets, target{Kind: c.kind, ID: req.ID, Author: author.Username})
		}
	}
	if len(s.targets) == 0 {
		return fmt.Errorf("nothing to vote on")
	}
	return nil
}

// Helper function to generate random community themes
func getRandomTheme(rng *rand.Rand) string {
	themes := []string{
		"golang", "databases", "networking", "security", "devops",
		"frontend", "algorithms", "compilers", "distributed-systems", "testing",
	}
	return themes[rng.Intn(len(themes))]
}

// RequestError is a non-2xx response.
type RequestError struct {
	Method   string
	Endpoint string
	Status   int
	Code     string
	Message  string
}

func (e *RequestError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d %s: %s", e.Method, e.Endpoint, e.Status, e.Code, e.Message)
}

// do sends one JSON request and decodes the response into out when non-nil.
func (s *Simulator) do(ctx context.Context, method, endpoint, token string, data, out any) error {
	var body []byte
	if data != nil {
		var err error
		if body, err = json.Marshal(data); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.EngineURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err == nil && resp.StatusCode >= 400 {
		var body middleware.ErrorResponse
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		_ = json.Unmarshal(raw, &body)
		err = &RequestError{Method: method, Endpoint: endpoint, Status: resp.StatusCode, Code: body.Code, Message: body.Error}
	}
	s.recordRequestMetrics(start, err)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Simulator) recordRequestMetrics(start time.Time, err error) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	latency := time.Since(start)
	s.stats.TotalRequests++
	if err != nil {
		s.stats.FailedRequests++
	} else {
		s.stats.SuccessRequests++
	}

	totalLatency := s.stats.AverageLatency * time.Duration(s.stats.TotalRequests-1)
	s.stats.AverageLatency = (totalLatency + latency) / time.Duration(s.stats.TotalRequests)
}

func (s *Simulator) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := s.GetMetrics()
			s.logger.Info("simulation progress",
				"requests", m.TotalRequests,
				"rps", fmt.Sprintf("%.1f", m.RequestsPerSecond),
				"votes", m.VotesCast,
				"failed", m.ErrorCount,
				"avgLatency", m.AverageLatency)
		}
	}
}

// SimulationMetrics holds the metrics of the simulation
type SimulationMetrics struct {
	TotalUsers        int
	TotalTargets      int
	TotalRequests     int64
	VotesCast         int64
	AverageLatency    time.Duration
	ErrorCount        int64
	RequestsPerSecond float64
}

// GetMetrics returns the current simulation metrics
func (s *Simulator) GetMetrics() SimulationMetrics {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	elapsed := time.Since(s.stats.StartTime)
	return SimulationMetrics{
		TotalUsers:        len(s.users),
		TotalTargets:      len(s.targets),
		TotalRequests:     s.stats.TotalRequests,
		VotesCast:         s.stats.VotesCast,
		AverageLatency:    s.stats.AverageLatency,
		ErrorCount:        s.stats.FailedRequests,
		RequestsPerSecond: float64(s.stats.TotalRequests) / elapsed.Seconds(),
	}
}
