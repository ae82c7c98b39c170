// internal/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gator-forum/internal/models"
	"gator-forum/internal/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresDB represents a PostgreSQL database connection
type PostgresDB struct {
	DB *sqlx.DB
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(connectionString string) (*PostgresDB, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	slog.Info("connected to PostgreSQL")

	return &PostgresDB{DB: db}, nil
}

// Close closes the database connection
func (p *PostgresDB) Close(ctx context.Context) error {
	slog.Info("closing PostgreSQL connection")
	return p.DB.Close()
}

var schema = []struct {
	name string
	ddl  string
}{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			score INTEGER NOT NULL DEFAULT 0,
			rank VARCHAR(32) NOT NULL,
			achievements TEXT[] NOT NULL DEFAULT '{}',
			questions_asked INTEGER NOT NULL DEFAULT 0,
			answers_given INTEGER NOT NULL DEFAULT 0,
			comments_made INTEGER NOT NULL DEFAULT 0,
			up_votes_given INTEGER NOT NULL DEFAULT 0,
			down_votes_given INTEGER NOT NULL DEFAULT 0,
			nim_wins INTEGER NOT NULL DEFAULT 0,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`},
	{"votables", `
		CREATE TABLE IF NOT EXISTS votables (
			kind VARCHAR(16) NOT NULL,
			id TEXT NOT NULL,
			author_username VARCHAR(50) NOT NULL,
			community_key TEXT NOT NULL DEFAULT '',
			seq BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (kind, id)
		)`},
	{"votables_seq", `ALTER TABLE votables ADD COLUMN IF NOT EXISTS seq BIGINT NOT NULL DEFAULT 0`},
	// One row per voter and entity, so exclusivity of up/down is structural.
	{"votes", `
		CREATE TABLE IF NOT EXISTS votes (
			kind VARCHAR(16) NOT NULL,
			entity_id TEXT NOT NULL,
			username VARCHAR(50) NOT NULL,
			state VARCHAR(8) NOT NULL CHECK (state IN ('up', 'down')),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (kind, entity_id, username),
			FOREIGN KEY (kind, entity_id) REFERENCES votables(kind, id) ON DELETE CASCADE
		)`},
	{"preferences", `
		CREATE TABLE IF NOT EXISTS preferences (
			username VARCHAR(50) NOT NULL,
			community_key TEXT NOT NULL,
			preference TEXT NOT NULL,
			PRIMARY KEY (community_key, username, preference)
		)`},
	{"notifications", `
		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			recipient_username VARCHAR(50) NOT NULL,
			community_key TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			related_question_id TEXT NOT NULL DEFAULT '',
			cleared BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`},
	{"notifications index", `
		CREATE INDEX IF NOT EXISTS notifications_recipient_idx
			ON notifications (recipient_username, created_at)`},
}

// InitializeTables creates all necessary tables if they don't exist
func (p *PostgresDB) InitializeTables(ctx context.Context) error {
	for _, s := range schema {
		if _, err := p.DB.ExecContext(ctx, s.ddl); err != nil {
			return fmt.Errorf("failed to create %s: %w", s.name, err)
		}
	}
	return nil
}

// userRow carries the achievements column, which models.User leaves untagged.
type userRow struct {
	models.User
	Achievements pq.StringArray `db:"achievements"`
}

func (r *userRow) toModel() *models.User {
	u := r.User
	u.Achievements = []string(r.Achievements)
	if u.Achievements == nil {
		u.Achievements = []string{}
	}
	return &u
}

// achievementArray never yields NULL for the NOT NULL column.
func achievementArray(user *models.User) any {
	if user.Achievements == nil {
		return pq.Array([]string{})
	}
	return pq.Array(user.Achievements)
}

const userColumns = `id, username, score, rank, achievements, questions_asked, answers_given, comments_made,
	up_votes_given, down_votes_given, nim_wins, version, created_at, updated_at`

func (p *PostgresDB) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	var row userRow
	err := p.DB.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewNotFoundError(fmt.Sprintf("user not found: %v", arg))
	}
	if err != nil {
		return nil, utils.ClassifyStorageError("failed to query user", err)
	}
	return row.toModel(), nil
}

func (p *PostgresDB) LoadUser(ctx context.Context, username string) (*models.User, error) {
	return p.getUser(ctx, `username = $1`, username)
}

func (p *PostgresDB) LoadUserByID(ctx context.Context, id string) (*models.User, error) {
	return p.getUser(ctx, `id = $1`, id)
}

// SaveUser inserts a user or overwrites it wholesale. Seeding only.
func (p *PostgresDB) SaveUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	query := `
		INSERT INTO users (id, username, score, rank, achievements, questions_asked, answers_given, comments_made,
			up_votes_given, down_votes_given, nim_wins, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			score = EXCLUDED.score, rank = EXCLUDED.rank, achievements = EXCLUDED.achievements,
			questions_asked = EXCLUDED.questions_asked, answers_given = EXCLUDED.answers_given,
			comments_made = EXCLUDED.comments_made, up_votes_given = EXCLUDED.up_votes_given,
			down_votes_given = EXCLUDED.down_votes_given, nim_wins = EXCLUDED.nim_wins,
			version = users.version + 1, updated_at = EXCLUDED.updated_at
		RETURNING version
	`
	err := p.DB.QueryRowxContext(ctx, query,
		user.ID, user.Username, user.Score, user.Rank, achievementArray(user),
		user.QuestionsAsked, user.AnswersGiven, user.CommentsMade,
		user.UpVotesGiven, user.DownVotesGiven, user.NimWins,
		user.CreatedAt, user.UpdatedAt,
	).Scan(&user.Version)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return utils.NewAppError(utils.ErrInvalidRequest, "username already taken: "+user.Username, err)
		}
		return utils.ClassifyStorageError("failed to save user", err)
	}
	return nil
}

// updateUserVersioned is the compare-and-set write shared by CommitUser and CommitVote.
func updateUserVersioned(ctx context.Context, ext sqlx.ExtContext, user *models.User, now time.Time) error {
	query := `
		UPDATE users SET
			score = $1, rank = $2, achievements = $3, questions_asked = $4, answers_given = $5,
			comments_made = $6, up_votes_given = $7, down_votes_given = $8, nim_wins = $9,
			version = version + 1, updated_at = $10
		WHERE id = $11 AND version = $12
	`
	result, err := ext.ExecContext(ctx, query,
		user.Score, user.Rank, achievementArray(user), user.QuestionsAsked, user.AnswersGiven,
		user.CommentsMade, user.UpVotesGiven, user.DownVotesGiven, user.NimWins,
		now, user.ID, user.Version,
	)
	if err != nil {
		return utils.ClassifyStorageError("failed to update user", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		var exists bool
		if err := sqlx.GetContext(ctx, ext, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, user.ID); err != nil {
			return utils.ClassifyStorageError("failed to check user", err)
		}
		if !exists {
			return utils.NewNotFoundError("user not found: " + user.Username)
		}
		return utils.NewConflictError("user " + user.Username + " changed concurrently")
	}
	return nil
}

func (p *PostgresDB) CommitUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	if err := updateUserVersioned(ctx, p.DB, user, now); err != nil {
		return err
	}
	user.Version++
	user.UpdatedAt = now
	return nil
}

func (p *PostgresDB) SaveVotable(ctx context.Context, votable *models.Votable) error {
	if votable.ID == "" {
		votable.ID = uuid.NewString()
	}
	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return utils.ClassifyStorageError("failed to begin transaction", err)
	}
	defer tx.Rollback() // Rollback is ignored if tx is committed.

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO votables (kind, id, author_username, community_key)
		VALUES (:kind, :id, :author_username, :community_key)
		ON CONFLICT (kind, id) DO UPDATE SET
			author_username = EXCLUDED.author_username, community_key = EXCLUDED.community_key
	`, votable)
	if err != nil {
		return utils.ClassifyStorageError("failed to save votable", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM votes WHERE kind = $1 AND entity_id = $2`, votable.Kind, votable.ID); err != nil {
		return utils.ClassifyStorageError("failed to reset votes", err)
	}
	for state, voters := range map[models.VoteState][]string{models.StateUp: votable.UpVoters, models.StateDown: votable.DownVoters} {
		for _, voter := range voters {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO votes (kind, entity_id, username, state) VALUES ($1, $2, $3, $4)`,
				votable.Kind, votable.ID, voter, state)
			if err != nil {
				return utils.ClassifyStorageError("failed to save vote", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return utils.ClassifyStorageError("failed to commit votable", err)
	}
	return nil
}

func loadVotable(ctx context.Context, q sqlx.QueryerContext, kind models.EntityKind, id string) (*models.Votable, error) {
	var v models.Votable
	err := sqlx.GetContext(ctx, q, &v,
		`SELECT kind, id, author_username, community_key, seq FROM votables WHERE kind = $1 AND id = $2`, kind, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewNotFoundError(string(kind) + " not found: " + id)
	}
	if err != nil {
		return nil, utils.ClassifyStorageError("failed to query votable", err)
	}

	var votes []struct {
		Username string           `db:"username"`
		State    models.VoteState `db:"state"`
	}
	err = sqlx.SelectContext(ctx, q, &votes,
		`SELECT username, state FROM votes WHERE kind = $1 AND entity_id = $2 ORDER BY created_at, username`, kind, id)
	if err != nil {
		return nil, utils.ClassifyStorageError("failed to query votes", err)
	}

	v.UpVoters, v.DownVoters = []string{}, []string{}
	for _, vote := range votes {
		v.Move(vote.Username, vote.State)
	}
	return &v, nil
}

func (p *PostgresDB) LoadVotable(ctx context.Context, kind models.EntityKind, id string) (*models.Votable, error) {
	return loadVotable(ctx, p.DB, kind, id)
}

// moveVote applies the conditional membership change. Zero affected rows means
// the voter's stored state is no longer commit.From.
func moveVote(ctx context.Context, tx *sqlx.Tx, commit *VoteCommit) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	switch {
	case commit.From == models.StateNone:
		result, err = tx.ExecContext(ctx, `
			INSERT INTO votes (kind, entity_id, username, state) VALUES ($1, $2, $3, $4)
			ON CONFLICT (kind, entity_id, username) DO NOTHING`,
			commit.Kind, commit.EntityID, commit.Voter, commit.To)
	case commit.To == models.StateNone:
		result, err = tx.ExecContext(ctx,
			`DELETE FROM votes WHERE kind = $1 AND entity_id = $2 AND username = $3 AND state = $4`,
			commit.Kind, commit.EntityID, commit.Voter, commit.From)
	default:
		result, err = tx.ExecContext(ctx, `
			UPDATE votes SET state = $1, created_at = NOW()
			WHERE kind = $2 AND entity_id = $3 AND username = $4 AND state = $5`,
			commit.To, commit.Kind, commit.EntityID, commit.Voter, commit.From)
	}
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CommitVote moves the voter's row and writes every user in one transaction.
func (p *PostgresDB) CommitVote(ctx context.Context, commit *VoteCommit) (*models.Votable, error) {
	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, utils.ClassifyStorageError("failed to begin transaction", err)
	}
	defer tx.Rollback() // Rollback is ignored if tx is committed.

	// Bumping seq row-locks the votable, so commits on one entity serialize in seq order.
	var seq int64
	err = tx.GetContext(ctx, &seq,
		`UPDATE votables SET seq = seq + 1 WHERE kind = $1 AND id = $2 RETURNING seq`, commit.Kind, commit.EntityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewNotFoundError(string(commit.Kind) + " not found: " + commit.EntityID)
	}
	if err != nil {
		return nil, utils.ClassifyStorageError("failed to lock votable", err)
	}

	moved, err := moveVote(ctx, tx, commit)
	if err != nil {
		return nil, utils.ClassifyStorageError("failed to record vote", err)
	}
	if moved == 0 {
		return nil, utils.NewConflictError("vote by " + commit.Voter + " changed concurrently")
	}

	now := time.Now()
	for _, u := range commit.Users {
		if err := updateUserVersioned(ctx, tx, u, now); err != nil {
			return nil, err
		}
	}

	votable, err := loadVotable(ctx, tx, commit.Kind, commit.EntityID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, utils.ClassifyStorageError("failed to commit vote transaction", err)
	}
	for _, u := range commit.Users {
		u.Version++
		u.UpdatedAt = now
	}
	return votable, nil
}

func (p *PostgresDB) GetPreferences(ctx context.Context, username, communityKey string) ([]models.UserPreference, error) {
	var prefs []models.UserPreference
	err := p.DB.SelectContext(ctx, &prefs,
		`SELECT username, community_key, preference FROM preferences WHERE username = $1 AND community_key = $2`,
		username, communityKey)
	if err != nil {
		return nil, utils.ClassifyStorageError("failed to query preferences", err)
	}
	return prefs, nil
}

func (p *PostgresDB) ListCommunityPreferences(ctx context.Context, communityKey string) ([]models.UserPreference, error) {
	var prefs []models.UserPreference
	err := p.DB.SelectContext(ctx, &prefs,
		`SELECT username, community_key, preference FROM preferences WHERE community_key = $1 ORDER BY username`,
		communityKey)
	if err != nil {
		return nil, utils.ClassifyStorageError("failed to query community preferences", err)
	}
	return prefs, nil
}

func (p *PostgresDB) SavePreference(ctx context.Context, pref *models.UserPreference) error {
	_, err := p.DB.NamedExecContext(ctx, `
		INSERT INTO preferences (username, community_key, preference)
		VALUES (:username, :community_key, :preference)
		ON CONFLICT DO NOTHING
	`, pref)
	if err != nil {
		return utils.ClassifyStorageError("failed to save preference", err)
	}
	return nil
}

func (p *PostgresDB) SaveNotification(ctx context.Context, record *models.NotificationRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	_, err := p.DB.NamedExecContext(ctx, `
		INSERT INTO notifications (id, recipient_username, community_key, message, related_question_id, cleared, created_at)
		VALUES (:id, :recipient_username, :community_key, :message, :related_question_id, :cleared, :created_at)
	`, record)
	if err != nil {
		return utils.ClassifyStorageError("failed to save notification", err)
	}
	return nil
}

func (p *PostgresDB) ListNotifications(ctx context.Context, username string, includeCleared bool) ([]*models.NotificationRecord, error) {
	query := `SELECT id, recipient_username, community_key, message, related_question_id, cleared, created_at
		FROM notifications WHERE recipient_username = $1`
	if !includeCleared {
		query += ` AND NOT cleared`
	}
	query += ` ORDER BY created_at`

	records := []*models.NotificationRecord{}
	if err := p.DB.SelectContext(ctx, &records, query, username); err != nil {
		return nil, utils.ClassifyStorageError("failed to query notifications", err)
	}
	return records, nil
}

func (p *PostgresDB) ClearNotifications(ctx context.Context, username string) (int, error) {
	result, err := p.DB.ExecContext(ctx,
		`UPDATE notifications SET cleared = TRUE WHERE recipient_username = $1 AND NOT cleared`, username)
	if err != nil {
		return 0, utils.ClassifyStorageError("failed to clear notifications", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
