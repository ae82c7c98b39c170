package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"gator-forum/internal/models"
	"gator-forum/internal/utils"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyStore struct {
	*MemoryStore
	err   error
	calls int
}

func (f *flakyStore) LoadUser(ctx context.Context, username string) (*models.User, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.MemoryStore.LoadUser(ctx, username)
}

func TestBreakerOpensOnInfrastructureFailures(t *testing.T) {
	flaky := &flakyStore{MemoryStore: NewMemoryStore(), err: errors.New("connection refused")}
	store := NewBreakerStore(flaky, BreakerOptions{FailureThreshold: 2, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := store.LoadUser(ctx, "ada")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, store.State())

	_, err := store.LoadUser(ctx, "ada")
	assert.True(t, utils.IsErrorCode(err, utils.ErrPersistenceFailure))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, flaky.calls)
}

func TestBreakerIgnoresDomainErrors(t *testing.T) {
	store := NewBreakerStore(NewMemoryStore(), BreakerOptions{FailureThreshold: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.LoadUser(ctx, "ghost")
		assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
	}
	assert.Equal(t, gobreaker.StateClosed, store.State())
}

func TestBreakerPassesResultsThrough(t *testing.T) {
	mem := NewMemoryStore()
	store := NewBreakerStore(mem, BreakerOptions{})
	ctx := context.Background()

	require.NoError(t, store.SaveUser(ctx, &models.User{Username: "ada", Score: 7}))
	u, err := store.LoadUser(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, 7, u.Score)

	n, err := store.ClearNotifications(ctx, "ada")
	require.NoError(t, err)
	assert.Zero(t, n)
}
