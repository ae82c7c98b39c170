package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"slices"

	"gator-forum/internal/api"
	"gator-forum/internal/models"
	"gator-forum/internal/reputation"
	"gator-forum/internal/utils"

	"golang.org/x/sync/errgroup"
)

// simulateVotes hands each user to exactly one worker. Users run in parallel,
// so every entity sees concurrent votes from many users.
func (s *Simulator) simulateVotes(ctx context.Context) error {
	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)

	for w := 0; w < s.config.Workers; w++ {
		g.Go(func() error {
			for idx := range jobs {
				if err := s.runUser(gctx, idx); err != nil {
					return err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for i := range s.users {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	return g.Wait()
}

func (s *Simulator) runUser(ctx context.Context, idx int) error {
	user := s.users[idx]
	rng := rand.New(rand.NewSource(s.config.Seed + int64(idx)))
	zipf := rand.NewZipf(rng, s.config.ZipfS, 1, uint64(len(s.targets)-1))

	for i := 0; i < s.config.VotesPerUser; i++ {
		t := s.targets[int(zipf.Uint64())]
		dir := models.VoteUp
		if rng.Float64() >= 0.7 {
			dir = models.VoteDown
		}

		result, err := s.castVote(ctx, user, t, dir)
		if err != nil {
			return fmt.Errorf("vote by %s on %s: %w", user.Username, t.key(), err)
		}

		s.mu.Lock()
		votes, ok := s.model[t.key()]
		if !ok {
			votes = make(map[string]models.VoteState)
			s.model[t.key()] = votes
		}
		prev, ok := votes[user.Username]
		if !ok {
			prev = models.StateNone
		}
		tr := reputation.Resolve(t.Kind, prev, dir)
		next := tr.NewState
		votes[user.Username] = next
		s.expectedScore[user.Username] += tr.VoterDelta
		s.expectedScore[t.Author] += tr.RecipientDelta
		s.mu.Unlock()

		if result.State != next {
			return fmt.Errorf("vote by %s on %s: server reported %s, expected %s", user.Username, t.key(), result.State, next)
		}

		s.stats.mu.Lock()
		s.stats.VotesCast++
		s.stats.mu.Unlock()
	}
	return nil
}

// maxConflictResends bounds how often a vote the server gave up on is sent again.
// A CONFLICT response means nothing was written, so resending is safe.
const maxConflictResends = 3

func (s *Simulator) castVote(ctx context.Context, user *SimulatedUser, t target, dir models.VoteDirection) (*reputation.VoteResult, error) {
	path := fmt.Sprintf("/votes/%s/%s", t.Kind, t.ID)
	for attempt := 0; ; attempt++ {
		var result reputation.VoteResult
		err := s.do(ctx, http.MethodPost, path, user.Token, api.VoteRequest{Direction: string(dir)}, &result)
		if err == nil {
			return &result, nil
		}
		var reqErr *RequestError
		if !errors.As(err, &reqErr) || reqErr.Code != utils.ErrConflict || attempt >= maxConflictResends {
			return nil, err
		}
		s.logger.Debug("vote conflicted, resending", "user", user.Username, "target", t.key(), "attempt", attempt+1)
	}
}

// Report lists every invariant the final state broke.
type Report struct {
	Metrics    SimulationMetrics
	Violations []string
}

func (r *Report) OK() bool {
	return len(r.Violations) == 0
}

// verify reads every entity and user back and compares them with the model.
func (s *Simulator) verify(ctx context.Context) (*Report, error) {
	report := &Report{}
	violate := func(format string, args ...any) {
		report.Violations = append(report.Violations, fmt.Sprintf(format, args...))
	}

	for _, t := range s.targets {
		votes := s.model[t.key()]

		var v models.Votable
		if err := s.do(ctx, http.MethodGet, "/votables/"+string(t.Kind)+"/"+t.ID, "", nil, &v); err != nil {
			return nil, err
		}

		for _, u := range v.UpVoters {
			if slices.Contains(v.DownVoters, u) {
				violate("%s: %s is in both vote sets", t.key(), u)
			}
		}
		for name, state := range votes {
			if got := v.StateOf(name); got != state {
				violate("%s: %s holds %s, expected %s", t.key(), name, got, state)
			}
		}
		if len(v.UpVoters)+len(v.DownVoters) != countVoting(votes) {
			violate("%s: %d voters on record, expected %d", t.key(), len(v.UpVoters)+len(v.DownVoters), countVoting(votes))
		}
	}

	for _, u := range s.users {
		var got models.User
		if err := s.do(ctx, http.MethodGet, "/users/"+u.Username, "", nil, &got); err != nil {
			return nil, err
		}
		if want := s.expectedScore[u.Username]; got.Score != want {
			violate("user %s: score %d, expected %d", u.Username, got.Score, want)
		}
		if got.Rank != reputation.RankFor(got.Score) {
			violate("user %s: rank %q does not match score %d", u.Username, got.Rank, got.Score)
		}
	}

	report.Metrics = s.GetMetrics()
	if report.OK() {
		s.logger.Info("simulation verified", "votes", report.Metrics.VotesCast, "targets", len(s.targets))
	} else {
		s.logger.Error("simulation found violations", "count", len(report.Violations))
	}
	return report, nil
}

func countVoting(votes map[string]models.VoteState) int {
	n := 0
	for _, st := range votes {
		if st != models.StateNone {
			n++
		}
	}
	return n
}
