package auth

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/audiogate/audiogate/internal/audit"
	"github.com/audiogate/audiogate/internal/kv"
)

// SessionTTL is the sliding inactivity window: every authenticated access
// re-arms it, so only sustained inactivity expires a session.
const SessionTTL = 3600 * time.Second

// SessionManager keeps ephemeral session records in the expiring key-value
// store. Records may be lost under memory pressure; that is accepted cache
// semantics, recovered by re-login.
type SessionManager struct {
	kv    kv.Store
	audit *audit.Pipeline
	ttl   time.Duration

	now func() time.Time
}

// NewSessionManager creates a SessionManager with the standard TTL.
func NewSessionManager(store kv.Store, pipeline *audit.Pipeline) *SessionManager {
	return &SessionManager{
		kv:    store,
		audit: pipeline,
		ttl:   SessionTTL,
		now:   time.Now,
	}
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

// Create opens a new session for the user and returns its opaque identifier.
func (m *SessionManager) Create(ctx context.Context, userID int64) (string, error) {
	sessionID := uuid.NewString()
	now := m.now().Unix()

	err := m.kv.HSet(ctx, sessionKey(sessionID), map[string]string{
		"user_id":    strconv.FormatInt(userID, 10),
		"login_time": strconv.FormatInt(now, 10),
		"last_seen":  strconv.FormatInt(now, 10),
	}, m.ttl)
	if err != nil {
		return "", err
	}

	m.audit.Log(ctx, audit.CategoryAuth, map[string]any{
		"event":      "session_created",
		"session_id": sessionID,
		"user_id":    userID,
	})
	return sessionID, nil
}

// CurrentUser resolves a session to its user. A miss returns ok=false, never
// an error: the caller treats it as unauthenticated. A hit refreshes
// last_seen and re-arms the TTL. Two concurrent touches both extend toward
// the same steady state; last writer wins.
func (m *SessionManager) CurrentUser(ctx context.Context, sessionID string) (int64, bool, error) {
	if sessionID == "" {
		return 0, false, nil
	}
	fields, err := m.kv.HGetAll(ctx, sessionKey(sessionID))
	if err != nil {
		return 0, false, err
	}
	if fields == nil {
		m.audit.Log(ctx, audit.CategoryAuth, map[string]any{
			"event":      "session_miss",
			"session_id": sessionID,
			"reason":     "session_not_found",
		})
		return 0, false, nil
	}

	userID, err := strconv.ParseInt(fields["user_id"], 10, 64)
	if err != nil {
		return 0, false, nil
	}

	now := m.now().Unix()
	if err := m.kv.Touch(ctx, sessionKey(sessionID), "last_seen", strconv.FormatInt(now, 10), m.ttl); err != nil {
		return 0, false, err
	}

	m.audit.Log(ctx, audit.CategoryAuth, map[string]any{
		"event":      "get_current_user_success",
		"session_id": sessionID,
		"user_id":    strconv.FormatInt(userID, 10),
	})
	return userID, true, nil
}

// Duration returns how long the session has been alive, in seconds, or 0 if
// it no longer exists. Logout must succeed even for an expired session, so
// absence is not an error.
func (m *SessionManager) Duration(ctx context.Context, sessionID string) int64 {
	fields, err := m.kv.HGetAll(ctx, sessionKey(sessionID))
	if err != nil || fields == nil {
		return 0
	}
	loginTime, err := strconv.ParseInt(fields["login_time"], 10, 64)
	if err != nil {
		return 0
	}
	return m.now().Unix() - loginTime
}

// UserID returns the session's user without touching its TTL. Used by
// logout, which should not extend a session it is about to destroy.
func (m *SessionManager) UserID(ctx context.Context, sessionID string) (int64, bool) {
	fields, err := m.kv.HGetAll(ctx, sessionKey(sessionID))
	if err != nil || fields == nil {
		return 0, false
	}
	userID, err := strconv.ParseInt(fields["user_id"], 10, 64)
	if err != nil {
		return 0, false
	}
	return userID, true
}

// Destroy deletes the session unconditionally.
func (m *SessionManager) Destroy(ctx context.Context, sessionID string) error {
	userID, known := m.UserID(ctx, sessionID)
	if err := m.kv.Del(ctx, sessionKey(sessionID)); err != nil {
		return err
	}
	fields := map[string]any{
		"event":      "session_destroyed",
		"session_id": sessionID,
	}
	if known {
		fields["user_id"] = userID
	}
	m.audit.Log(ctx, audit.CategoryAuth, fields)
	return nil
}

// ActiveSessions returns the live session records, keyed by session ID.
// Admin observability only.
func (m *SessionManager) ActiveSessions(ctx context.Context) (map[string]map[string]string, error) {
	keys, err := m.kv.Keys(ctx, "session:")
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]string, len(keys))
	for _, key := range keys {
		fields, err := m.kv.HGetAll(ctx, key)
		if err != nil || fields == nil {
			continue
		}
		out[key[len("session:"):]] = fields
	}
	return out, nil
}

// SetNow overrides the clock. Test hook.
func (m *SessionManager) SetNow(now func() time.Time) {
	m.now = now
}
