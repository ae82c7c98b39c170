// Package presence tracks which socket sessions are connected and who they belong to.
package presence

import (
	"sort"
	"sync"
)

type entry struct {
	username string // empty until the session logs in
	seq      uint64
}

// Registry maps connection ids to usernames. It is built once at startup and
// injected wherever presence is needed. Locks cover map operations only.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	seq     uint64
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register records a new anonymous session.
func (r *Registry) Register(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[connID]; ok {
		return
	}
	r.seq++
	r.entries[connID] = &entry{seq: r.seq}
}

// Bind attaches a username to a registered session. It reports false, and
// changes nothing, when the session is unknown or already gone.
func (r *Registry) Bind(connID, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connID]
	if !ok {
		return false
	}
	e.username = username
	return true
}

// Unregister drops the session. It reports the username that was bound, if any.
func (r *Registry) Unregister(connID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connID]
	if !ok {
		return ""
	}
	delete(r.entries, connID)
	return e.username
}

// LoggedInUsers lists each bound username once, sorted.
func (r *Registry) LoggedInUsers() []string {
	r.mu.RLock()
	seen := make(map[string]struct{}, len(r.entries))
	for _, e := range r.entries {
		if e.username != "" {
			seen[e.username] = struct{}{}
		}
	}
	r.mu.RUnlock()

	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// SessionFor returns the earliest-registered session bound to username.
func (r *Registry) SessionFor(username string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best    string
		bestSeq uint64
	)
	for id, e := range r.entries {
		if e.username != username {
			continue
		}
		if best == "" || e.seq < bestSeq {
			best, bestSeq = id, e.seq
		}
	}
	return best, best != ""
}

// ConnectedCount counts sessions, logged in or not.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Reset forgets every session. Tests only.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry)
	r.seq = 0
}
