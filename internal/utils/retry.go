package utils

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryPolicy bounds how often an optimistic operation is re-run after a Conflict.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration // zero means uncapped
	Clock          clockwork.Clock
	OnRetry        func(attempt int, err error, backoff time.Duration)
}

// DefaultRetryPolicy is used when the caller does not configure one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Clock:          clockwork.NewRealClock(),
	}
}

// RetryOnConflict runs op until it succeeds, fails with something other than
// a Conflict, or the attempts run out. Backoff doubles each round with jitter
// so competing writers spread out.
func RetryOnConflict[T any](ctx context.Context, p RetryPolicy, op func(attempt int) (T, error)) (T, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Clock == nil {
		p.Clock = clockwork.NewRealClock()
	}
	backoff := p.InitialBackoff

	var zero T
	for attempt := 1; ; attempt++ {
		val, err := op(attempt)
		if err == nil {
			return val, nil
		}
		if !IsErrorCode(err, ErrConflict) {
			return zero, err
		}
		if attempt >= p.MaxAttempts {
			return zero, NewAppError(ErrConflict, fmt.Sprintf("gave up after %d attempts", attempt), err)
		}

		wait := backoff
		if wait > 0 {
			wait += time.Duration(rand.Int63n(int64(wait)/2 + 1))
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		select {
		case <-p.Clock.After(wait):
			backoff *= 2
			if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		case <-ctx.Done():
			return zero, NewPersistenceError("cancelled while retrying", ctx.Err())
		}
	}
}
