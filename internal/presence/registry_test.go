package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()

	r.Register("c1")
	assert.Equal(t, 1, r.ConnectedCount())
	assert.Empty(t, r.LoggedInUsers())
	_, ok := r.SessionFor("ada")
	assert.False(t, ok)

	assert.True(t, r.Bind("c1", "ada"))
	id, ok := r.SessionFor("ada")
	require.True(t, ok)
	assert.Equal(t, "c1", id)
	assert.Equal(t, []string{"ada"}, r.LoggedInUsers())

	assert.Equal(t, "ada", r.Unregister("c1"))
	assert.Zero(t, r.ConnectedCount())
	_, ok = r.SessionFor("ada")
	assert.False(t, ok)
	assert.Empty(t, r.Unregister("c1"))
}

func TestSessionForPrefersFirstSession(t *testing.T) {
	r := NewRegistry()
	r.Register("c1")
	r.Register("c2")
	r.Register("c3")
	r.Bind("c3", "ada")
	r.Bind("c2", "ada")
	r.Bind("c1", "bob")

	id, ok := r.SessionFor("ada")
	require.True(t, ok)
	assert.Equal(t, "c2", id)
	assert.Equal(t, []string{"ada", "bob"}, r.LoggedInUsers())

	r.Unregister("c2")
	id, _ = r.SessionFor("ada")
	assert.Equal(t, "c3", id)
}

func TestBindIgnoresUnknownSession(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.Bind("ghost", "ada"))

	r.Register("c1")
	r.Unregister("c1")
	assert.False(t, r.Bind("c1", "ada"))

	_, ok := r.SessionFor("ada")
	assert.False(t, ok)
	assert.Zero(t, r.ConnectedCount())
	assert.Empty(t, r.LoggedInUsers())
}

func TestRegistryReset(t *testing.T) {
	r := NewRegistry()
	r.Register("c1")
	r.Bind("c1", "ada")
	r.Reset()
	assert.Zero(t, r.ConnectedCount())
	assert.Empty(t, r.LoggedInUsers())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Register(id)
			r.Bind(id, fmt.Sprintf("user-%d", i%5))
			r.SessionFor("user-1")
			r.LoggedInUsers()
			if i%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.ConnectedCount())
}
