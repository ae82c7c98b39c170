package reputation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"gator-forum/internal/database"
	"gator-forum/internal/models"
	"gator-forum/internal/utils"

	"golang.org/x/sync/errgroup"
)

// Store is the part of the storage contract the reputation engine needs.
type Store interface {
	LoadVotable(ctx context.Context, kind models.EntityKind, id string) (*models.Votable, error)
	LoadUser(ctx context.Context, username string) (*models.User, error)
	LoadUserByID(ctx context.Context, id string) (*models.User, error)
	CommitVote(ctx context.Context, commit *database.VoteCommit) (*models.Votable, error)
	CommitUser(ctx context.Context, user *models.User) error
}

// Publisher receives committed changes for best-effort delivery. Implementations
// must not block the caller.
type Publisher interface {
	PublishVoteUpdate(update models.VoteUpdate)
	PublishAchievements(unlock models.AchievementUnlock)
}

type Options struct {
	Retry          utils.RetryPolicy
	PersistTimeout time.Duration
	Catalog        *Catalog
	Logger         *slog.Logger
	Metrics        *utils.MetricsCollector
}

// Service orchestrates votes, activity reports and direct grants.
type Service struct {
	store          Store
	publisher      Publisher
	catalog        *Catalog
	retry          utils.RetryPolicy
	persistTimeout time.Duration
	logger         *slog.Logger
	metrics        *utils.MetricsCollector
}

func NewService(store Store, publisher Publisher, opts Options) *Service {
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = utils.DefaultRetryPolicy()
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		store:          store,
		publisher:      publisher,
		catalog:        opts.Catalog,
		retry:          opts.Retry,
		persistTimeout: opts.PersistTimeout,
		logger:         opts.Logger.With("component", "reputation"),
		metrics:        opts.Metrics,
	}
}

// Catalog exposes the achievement catalog the service evaluates.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

type VoteRequest struct {
	Kind      models.EntityKind
	EntityID  string
	Voter     string
	Direction models.VoteDirection
}

func (r VoteRequest) Validate() error {
	if r.EntityID == "" {
		return utils.NewInvalidRequestError("entityId is required")
	}
	if r.Voter == "" {
		return utils.NewInvalidRequestError("voterUsername is required")
	}
	if _, err := models.ParseEntityKind(string(r.Kind)); err != nil {
		return utils.NewAppError(utils.ErrInvalidRequest, "invalid entity kind", err)
	}
	if _, err := models.ParseVoteDirection(string(r.Direction)); err != nil {
		return utils.NewAppError(utils.ErrInvalidRequest, "invalid vote direction", err)
	}
	return nil
}

type UserSummary struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
	Rank     string `json:"rank"`
}

type VoteResult struct {
	Kind       models.EntityKind   `json:"kind"`
	EntityID   string              `json:"entityId"`
	State      models.VoteState    `json:"state"`
	UpVoters   []string            `json:"upVoters"`
	DownVoters []string            `json:"downVoters"`
	Unlocked   map[string][]string `json:"unlockedAchievements"`
	Users      []UserSummary       `json:"users"`

	votable *models.Votable
}

// CastVote applies one vote. Conflicts from concurrent writers are retried
// from a fresh read; the committed result is then published without waiting.
func (s *Service) CastVote(ctx context.Context, req VoteRequest) (*VoteResult, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		s.observeVote(req.Kind, err, start)
		return nil, err
	}

	policy := s.retry
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		s.logger.Debug("vote conflict, retrying",
			"kind", req.Kind, "entity", req.EntityID, "voter", req.Voter,
			"attempt", attempt, "backoff", backoff)
		if s.metrics != nil {
			s.metrics.IncrementConflictRetries()
		}
	}

	result, err := utils.RetryOnConflict(ctx, policy, func(int) (*VoteResult, error) {
		return s.attemptVote(ctx, req)
	})
	s.observeVote(req.Kind, err, start)
	if err != nil {
		if utils.IsErrorCode(err, utils.ErrPersistenceFailure) || utils.IsErrorCode(err, utils.ErrConflict) {
			s.logger.Error("vote failed", "kind", req.Kind, "entity", req.EntityID, "voter", req.Voter, "error", err)
		}
		return nil, err
	}

	s.publisher.PublishVoteUpdate(models.NewVoteUpdate(result.votable))
	s.publishUnlocks(result.Unlocked)
	return result, nil
}

func (s *Service) attemptVote(ctx context.Context, req VoteRequest) (*VoteResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()

	votable, err := s.store.LoadVotable(ctx, req.Kind, req.EntityID)
	if err != nil {
		return nil, utils.ClassifyStorageError("load "+string(req.Kind), err)
	}

	voter, author, err := s.loadParticipants(ctx, req.Voter, votable.AuthorUsername)
	if err != nil {
		return nil, err
	}

	prev := votable.StateOf(req.Voter)
	t := Resolve(req.Kind, prev, req.Direction)

	commit := &database.VoteCommit{
		Kind:     req.Kind,
		EntityID: req.EntityID,
		Voter:    req.Voter,
		From:     prev,
		To:       t.NewState,
	}
	unlocked := make(map[string][]string)
	affected := []*models.User{voter}

	if CarriesReputation(req.Kind) {
		countVoteGiven(voter, t.NewState)
		if author == nil {
			// Self-vote: one record, summed deltas, one evaluation pass.
			unlocked[voter.Username] = s.applyScore(voter, t.VoterDelta+t.RecipientDelta)
		} else {
			unlocked[voter.Username] = s.applyScore(voter, t.VoterDelta)
			unlocked[author.Username] = s.applyScore(author, t.RecipientDelta)
			affected = append(affected, author)
		}
		commit.Users = affected
	} else if author != nil {
		affected = append(affected, author)
	}

	committed, err := s.store.CommitVote(ctx, commit)
	if err != nil {
		return nil, utils.ClassifyStorageError("commit vote", err)
	}

	for name, list := range unlocked {
		if len(list) == 0 {
			delete(unlocked, name)
		}
	}

	snapshot := committed.Clone()
	result := &VoteResult{
		Kind:       req.Kind,
		EntityID:   req.EntityID,
		State:      snapshot.StateOf(req.Voter),
		UpVoters:   snapshot.UpVoters,
		DownVoters: snapshot.DownVoters,
		Unlocked:   unlocked,
		votable:    committed,
	}
	for _, u := range affected {
		result.Users = append(result.Users, UserSummary{Username: u.Username, Score: u.Score, Rank: u.Rank})
	}
	return result, nil
}

// loadParticipants fetches voter and author concurrently. author is nil when
// the voter wrote the entity.
func (s *Service) loadParticipants(ctx context.Context, voterName, authorName string) (*models.User, *models.User, error) {
	var voter, author *models.User
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.store.LoadUser(gctx, voterName)
		voter = u
		return err
	})
	if authorName != voterName {
		g.Go(func() error {
			u, err := s.store.LoadUser(gctx, authorName)
			author = u
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, utils.ClassifyStorageError("load users", err)
	}
	return voter, author, nil
}

func countVoteGiven(u *models.User, state models.VoteState) {
	switch state {
	case models.StateUp:
		u.UpVotesGiven++
	case models.StateDown:
		u.DownVotesGiven++
	}
}

// applyScore adds delta, re-derives the rank and evaluates the catalog on the
// resulting state.
func (s *Service) applyScore(u *models.User, delta int) []string {
	before := RankFor(u.Score)
	u.Score += delta
	u.Rank = RankFor(u.Score)
	return s.catalog.Evaluate(u, Trigger{RankBefore: before, RankAfter: u.Rank})
}

func (s *Service) publishUnlocks(unlocked map[string][]string) {
	for username, names := range unlocked {
		if len(names) == 0 {
			continue
		}
		if s.metrics != nil {
			for _, name := range names {
				s.metrics.IncrementAchievement(name)
			}
		}
		s.logger.Info("achievements unlocked", "user", username, "achievements", names)
		s.publisher.PublishAchievements(models.AchievementUnlock{Username: username, Achievements: names})
	}
}

func (s *Service) observeVote(kind models.EntityKind, err error, start time.Time) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(utils.ErrorCode(err))
	}
	s.metrics.ObserveVote(string(kind), outcome, time.Since(start))
}

type ActivityResult struct {
	Username string   `json:"username"`
	Score    int      `json:"score"`
	Rank     string   `json:"rank"`
	Unlocked []string `json:"unlockedAchievements"`
}

// RecordActivity bumps the counter for a non-vote action, adds any points and
// grants whatever the new totals unlock.
func (s *Service) RecordActivity(ctx context.Context, username string, activity models.Activity) (*ActivityResult, error) {
	if username == "" {
		return nil, utils.NewInvalidRequestError("username is required")
	}
	if _, err := models.ParseActivityKind(string(activity.Kind)); err != nil {
		return nil, utils.NewAppError(utils.ErrInvalidRequest, "invalid activity", err)
	}

	result, err := utils.RetryOnConflict(ctx, s.retry, func(int) (*ActivityResult, error) {
		ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
		defer cancel()

		user, err := s.store.LoadUser(ctx, username)
		if err != nil {
			return nil, utils.ClassifyStorageError("load user", err)
		}

		switch activity.Kind {
		case models.ActivityQuestionAsked:
			user.QuestionsAsked++
		case models.ActivityAnswerGiven:
			user.AnswersGiven++
		case models.ActivityCommentMade:
			user.CommentsMade++
		case models.ActivityNimWin:
			user.NimWins++
		}
		unlocked := s.applyScore(user, activity.Points)

		if err := s.store.CommitUser(ctx, user); err != nil {
			return nil, utils.ClassifyStorageError("commit user", err)
		}
		return &ActivityResult{Username: user.Username, Score: user.Score, Rank: user.Rank, Unlocked: unlocked}, nil
	})
	if err != nil {
		return nil, err
	}

	if len(result.Unlocked) > 0 {
		s.publishUnlocks(map[string][]string{result.Username: result.Unlocked})
	} else {
		result.Unlocked = []string{}
	}
	return result, nil
}

// GrantAchievement adds a catalog achievement directly. It returns "" when the
// user already holds it.
func (s *Service) GrantAchievement(ctx context.Context, userID, name string) (string, error) {
	if userID == "" {
		return "", utils.NewInvalidRequestError("userId is required")
	}
	if !s.catalog.Has(name) {
		return "", utils.NewInvalidRequestError("unknown achievement: " + name)
	}

	var username string
	granted, err := utils.RetryOnConflict(ctx, s.retry, func(int) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
		defer cancel()

		user, err := s.store.LoadUserByID(ctx, userID)
		if err != nil {
			return "", utils.ClassifyStorageError("load user", err)
		}
		username = user.Username
		if !s.catalog.Grant(user, name) {
			return "", nil
		}
		if err := s.store.CommitUser(ctx, user); err != nil {
			return "", utils.ClassifyStorageError("commit user", err)
		}
		return name, nil
	})
	if err != nil {
		return "", err
	}

	if granted != "" {
		s.publishUnlocks(map[string][]string{username: {granted}})
	}
	return granted, nil
}
