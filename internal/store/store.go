package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/audiogate/audiogate/internal/model"
)

// Store is the gateway's document store, backed by SQLite. It persists
// users, API keys, transcription results, usage analytics, and audit events.
type Store struct {
	db *sqlx.DB
}

// New creates a new store. Pass empty string for in-memory.
func New(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "audiogate.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user. The ID, CreatedAt, and UpdatedAt fields are
// populated after a successful insert.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	const q = `INSERT INTO users
		(username, email, password_hash, upload_limit, is_admin, created_at, updated_at)
		VALUES
		(:username, :email, :password_hash, :upload_limit, :is_admin, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, user)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get user id: %w", err)
	}
	user.ID = id
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// GetUserByIdentifier returns a user matching the given username or email.
// Login accepts either, so both columns are consulted.
func (s *Store) GetUserByIdentifier(ctx context.Context, identifier string) (*model.User, error) {
	var user model.User
	err := s.db.GetContext(ctx, &user,
		"SELECT * FROM users WHERE username = ? OR email = ?", identifier, identifier)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by identifier: %w", err)
	}
	return &user, nil
}

// UserExists reports whether a user with the given username or email exists.
func (s *Store) UserExists(ctx context.Context, username, email string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM users WHERE username = ? OR email = ?", username, email)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// ListUsers returns all users ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY username"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUploadLimit sets the hourly upload limit for a user.
func (s *Store) UpdateUploadLimit(ctx context.Context, userID int64, limit int) error {
	return s.execOne(ctx, "update upload limit",
		"UPDATE users SET upload_limit = ?, updated_at = ? WHERE id = ?",
		limit, time.Now().UTC(), userID)
}

// UpdateAdminFlag toggles the admin flag for a user.
func (s *Store) UpdateAdminFlag(ctx context.Context, userID int64, isAdmin bool) error {
	return s.execOne(ctx, "update admin flag",
		"UPDATE users SET is_admin = ?, updated_at = ? WHERE id = ?",
		isAdmin, time.Now().UTC(), userID)
}

// UpdatePassword replaces a user's password hash.
func (s *Store) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	return s.execOne(ctx, "update password",
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?",
		passwordHash, time.Now().UTC(), userID)
}

// DeleteUser removes the user row only. Dependent records are removed by the
// caller as part of the cascade (see handler.AdminHandler.DeleteUser), so
// each step's outcome stays independently observable.
func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	return s.execOne(ctx, "delete user", "DELETE FROM users WHERE id = ?", userID)
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key record. The key_hash must already be
// set. The ID and CreatedAt fields are populated after insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO api_keys
		(user_id, raw_key, key_hash, active, created_at, activated_at, last_used_at)
		VALUES
		(:user_id, :raw_key, :key_hash, :active, :created_at, :activated_at, :last_used_at)`

	result, err := s.db.NamedExecContext(ctx, q, key)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get api key id: %w", err)
	}
	key.ID = id
	return nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, "SELECT * FROM api_keys WHERE key_hash = ?", hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &key, nil
}

// GetNewestAPIKey returns the most recently created key for a user. Multiple
// keys per user are tolerated but only the newest is surfaced.
func (s *Store) GetNewestAPIKey(ctx context.Context, userID int64) (*model.APIKey, error) {
	var key model.APIKey
	err := s.db.GetContext(ctx, &key,
		"SELECT * FROM api_keys WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1", userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get newest api key: %w", err)
	}
	return &key, nil
}

// SetAPIKeyActive flips the active flag on every key belonging to a user.
// Activation also stamps activated_at. Returns ErrNotFound when the user has
// no keys at all.
func (s *Store) SetAPIKeyActive(ctx context.Context, userID int64, active bool) error {
	var result sql.Result
	var err error
	if active {
		result, err = s.db.ExecContext(ctx,
			"UPDATE api_keys SET active = 1, activated_at = ? WHERE user_id = ?",
			time.Now().UTC(), userID)
	} else {
		result, err = s.db.ExecContext(ctx,
			"UPDATE api_keys SET active = 0 WHERE user_id = ?", userID)
	}
	if err != nil {
		return fmt.Errorf("set api key active: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set api key active rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAPIKeyLastUsed sets the last_used_at timestamp for an API key.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id int64) error {
	return s.execOne(ctx, "update api key last used",
		"UPDATE api_keys SET last_used_at = ? WHERE id = ?", time.Now().UTC(), id)
}

// DeleteAPIKeysForUser removes every key owned by a user and returns the
// number of keys removed.
func (s *Store) DeleteAPIKeysForUser(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("delete api keys: %w", err)
	}
	return result.RowsAffected()
}

// ---------------------------------------------------------------------------
// Transcriptions
// ---------------------------------------------------------------------------

// CreateTranscription persists one engine result.
func (s *Store) CreateTranscription(ctx context.Context, t *model.Transcription) error {
	t.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO transcriptions
		(user_id, username, filename, mode, result_json, file_size,
		 processing_duration_sec, audio_duration_sec, created_at)
		VALUES
		(:user_id, :username, :filename, :mode, :result_json, :file_size,
		 :processing_duration_sec, :audio_duration_sec, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, t)
	if err != nil {
		return fmt.Errorf("insert transcription: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get transcription id: %w", err)
	}
	t.ID = id
	return nil
}

// ListTranscriptions returns a user's newest transcriptions, up to limit.
func (s *Store) ListTranscriptions(ctx context.Context, userID int64, limit int) ([]model.Transcription, error) {
	var records []model.Transcription
	err := s.db.SelectContext(ctx, &records,
		"SELECT * FROM transcriptions WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transcriptions: %w", err)
	}
	return records, nil
}

// GetTranscription returns one transcription scoped to its owner. A matching
// ID owned by a different user yields ErrNotFound, not Forbidden, so record
// IDs cannot be probed.
func (s *Store) GetTranscription(ctx context.Context, id, userID int64) (*model.Transcription, error) {
	var t model.Transcription
	err := s.db.GetContext(ctx, &t,
		"SELECT * FROM transcriptions WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transcription: %w", err)
	}
	return &t, nil
}

// DeleteTranscriptionsForUser removes every stored result for a user.
func (s *Store) DeleteTranscriptionsForUser(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM transcriptions WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("delete transcriptions: %w", err)
	}
	return result.RowsAffected()
}

// ---------------------------------------------------------------------------
// Usage analytics
// ---------------------------------------------------------------------------

// BumpUsage increments a user's lifetime upload counters, creating the row
// on first use.
func (s *Store) BumpUsage(ctx context.Context, userID int64, secondsProcessed int) error {
	const q = `INSERT INTO usage_stats (user_id, files_uploaded, seconds_processed)
		VALUES (?, 1, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			files_uploaded = files_uploaded + 1,
			seconds_processed = seconds_processed + excluded.seconds_processed`

	if _, err := s.db.ExecContext(ctx, q, userID, secondsProcessed); err != nil {
		return fmt.Errorf("bump usage: %w", err)
	}
	return nil
}

// ListUsage returns usage counters for all users.
func (s *Store) ListUsage(ctx context.Context) ([]model.UsageStat, error) {
	var stats []model.UsageStat
	if err := s.db.SelectContext(ctx, &stats, "SELECT * FROM usage_stats ORDER BY user_id"); err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	return stats, nil
}

// DeleteUsageForUser removes a user's usage counters.
func (s *Store) DeleteUsageForUser(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM usage_stats WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("delete usage: %w", err)
	}
	return result.RowsAffected()
}

// ---------------------------------------------------------------------------
// Audit events
// ---------------------------------------------------------------------------

// AppendAuditRecord persists one audit event.
func (s *Store) AppendAuditRecord(ctx context.Context, rec *model.AuditRecord) error {
	rec.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO audit_events (category, request_id, data_json, created_at)
		VALUES (:category, :request_id, :data_json, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, rec)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get audit event id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListAuditRecords returns all events recorded for one request, in emission
// order.
func (s *Store) ListAuditRecords(ctx context.Context, requestID string) ([]model.AuditRecord, error) {
	var recs []model.AuditRecord
	err := s.db.SelectContext(ctx, &recs,
		"SELECT * FROM audit_events WHERE request_id = ? ORDER BY id", requestID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return recs, nil
}

// DeleteAuditRecordsForUser removes audit events whose payload references the
// given user. Best effort: events are freeform JSON, so the match is on the
// recorded user_id field.
func (s *Store) DeleteAuditRecordsForUser(ctx context.Context, userID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_events WHERE json_extract(data_json, '$.user_id') = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("delete audit events: %w", err)
	}
	return result.RowsAffected()
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

// execOne runs an exec statement that must affect exactly one row, mapping
// zero affected rows to ErrNotFound.
func (s *Store) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
