package database

import (
	"context"
	"slices"
	"sync"
	"time"

	"gator-forum/internal/models"
	"gator-forum/internal/utils"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process. A single mutex makes every
// commit atomic; it backs tests and DB_TYPE=memory.
type MemoryStore struct {
	mu            sync.Mutex
	users         map[string]*models.User // by username
	usernameByID  map[string]string
	votables      map[string]*models.Votable // by EntityKey
	preferences   []models.UserPreference
	notifications []*models.NotificationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]*models.User),
		usernameByID: make(map[string]string),
		votables:     make(map[string]*models.Votable),
	}
}

func (m *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// --- Users ---

func (m *MemoryStore) LoadUser(ctx context.Context, username string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, utils.ClassifyStorageError("load user", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[username]
	if !ok {
		return nil, utils.NewNotFoundError("user not found: " + username)
	}
	return user.Clone(), nil
}

func (m *MemoryStore) LoadUserByID(ctx context.Context, id string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, utils.ClassifyStorageError("load user", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	username, ok := m.usernameByID[id]
	if !ok {
		return nil, utils.NewNotFoundError("user not found: " + id)
	}
	return m.users[username].Clone(), nil
}

// SaveUser creates or replaces a user record, keeping the stored version moving forward.
func (m *MemoryStore) SaveUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return utils.ClassifyStorageError("save user", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if existing, ok := m.users[user.Username]; ok {
		if existing.ID != user.ID {
			return utils.NewAppError(utils.ErrInvalidRequest, "username already taken: "+user.Username, nil)
		}
		user.Version = existing.Version + 1
	}

	m.users[user.Username] = user.Clone()
	m.usernameByID[user.ID] = user.Username
	return nil
}

// CommitUser writes the user if its version still matches the stored one.
func (m *MemoryStore) CommitUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return utils.ClassifyStorageError("commit user", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkVersionLocked(user); err != nil {
		return err
	}
	m.writeUserLocked(user)
	return nil
}

func (m *MemoryStore) checkVersionLocked(user *models.User) error {
	stored, ok := m.users[user.Username]
	if !ok {
		return utils.NewNotFoundError("user not found: " + user.Username)
	}
	if stored.Version != user.Version {
		return utils.NewConflictError("user " + user.Username + " changed concurrently")
	}
	return nil
}

func (m *MemoryStore) writeUserLocked(user *models.User) {
	user.Version++
	user.UpdatedAt = time.Now()
	m.users[user.Username] = user.Clone()
}

// --- Votables ---

func (m *MemoryStore) LoadVotable(ctx context.Context, kind models.EntityKind, id string) (*models.Votable, error) {
	if err := ctx.Err(); err != nil {
		return nil, utils.ClassifyStorageError("load votable", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.votables[models.EntityKey(kind, id)]
	if !ok {
		return nil, utils.NewNotFoundError(string(kind) + " not found: " + id)
	}
	return v.Clone(), nil
}

func (m *MemoryStore) SaveVotable(ctx context.Context, votable *models.Votable) error {
	if err := ctx.Err(); err != nil {
		return utils.ClassifyStorageError("save votable", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if votable.ID == "" {
		votable.ID = uuid.NewString()
	}
	m.votables[votable.Key()] = votable.Clone()
	return nil
}

// CommitVote applies the membership move and every user write under one lock.
func (m *MemoryStore) CommitVote(ctx context.Context, commit *VoteCommit) (*models.Votable, error) {
	if err := ctx.Err(); err != nil {
		return nil, utils.ClassifyStorageError("commit vote", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.votables[models.EntityKey(commit.Kind, commit.EntityID)]
	if !ok {
		return nil, utils.NewNotFoundError(string(commit.Kind) + " not found: " + commit.EntityID)
	}
	if v.StateOf(commit.Voter) != commit.From {
		return nil, utils.NewConflictError("vote by " + commit.Voter + " changed concurrently")
	}
	for _, u := range commit.Users {
		if err := m.checkVersionLocked(u); err != nil {
			return nil, err
		}
	}

	v.Move(commit.Voter, commit.To)
	v.Seq++
	for _, u := range commit.Users {
		m.writeUserLocked(u)
	}
	return v.Clone(), nil
}

// --- Preferences ---

func (m *MemoryStore) GetPreferences(ctx context.Context, username, communityKey string) ([]models.UserPreference, error) {
	if err := ctx.Err(); err != nil {
		return nil, utils.ClassifyStorageError("get preferences", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.UserPreference
	for _, p := range m.preferences {
		if p.Username == username && p.CommunityKey == communityKey {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListCommunityPreferences(ctx context.Context, communityKey string) ([]models.UserPreference, error) {
	if err := ctx.Err(); err != nil {
		return nil, utils.ClassifyStorageError("list preferences", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.UserPreference
	for _, p := range m.preferences {
		if p.CommunityKey == communityKey {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) SavePreference(ctx context.Context, pref *models.UserPreference) error {
	if err := ctx.Err(); err != nil {
		return utils.ClassifyStorageError("save preference", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(m.preferences, *pref) {
		m.preferences = append(m.preferences, *pref)
	}
	return nil
}

// --- Notifications ---

func (m *MemoryStore) SaveNotification(ctx context.Context, record *models.NotificationRecord) error {
	if err := ctx.Err(); err != nil {
		return utils.ClassifyStorageError("save notification", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	stored := *record
	m.notifications = append(m.notifications, &stored)
	return nil
}

func (m *MemoryStore) ListNotifications(ctx context.Context, username string, includeCleared bool) ([]*models.NotificationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, utils.ClassifyStorageError("list notifications", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []*models.NotificationRecord{}
	for _, n := range m.notifications {
		if n.RecipientUsername != username || (n.Cleared && !includeCleared) {
			continue
		}
		c := *n
		out = append(out, &c)
	}
	return out, nil
}

func (m *MemoryStore) ClearNotifications(ctx context.Context, username string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, utils.ClassifyStorageError("clear notifications", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cleared := 0
	for _, n := range m.notifications {
		if n.RecipientUsername == username && !n.Cleared {
			n.Cleared = true
			cleared++
		}
	}
	return cleared, nil
}
