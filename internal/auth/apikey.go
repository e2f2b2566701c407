package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/audiogate/audiogate/internal/audit"
	"github.com/audiogate/audiogate/internal/model"
	"github.com/audiogate/audiogate/internal/store"
)

// GenerateAPIKey derives the raw key for a user: api_<id>_<USERNAME>, with
// the username uppercased and spaces removed. The format is deliberately
// guessable; the stored hash comparison, not obscurity, is the security
// boundary.
func GenerateAPIKey(userID int64, username string) string {
	clean := strings.ToUpper(strings.ReplaceAll(username, " ", ""))
	return fmt.Sprintf("api_%d_%s", userID, clean)
}

// HashAPIKey returns the hex-encoded SHA-256 hash of a raw API key. Keys are
// high-entropy opaque tokens, so a fast digest suffices here; bcrypt is
// reserved for human passwords.
func HashAPIKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// VerifyAPIKey reports whether the raw key hashes to the stored hash. Raw
// values are never compared directly.
func VerifyAPIKey(raw, hash string) bool {
	return HashAPIKey(raw) == hash
}

// KeyManager issues and authenticates API keys.
type KeyManager struct {
	store *store.Store
	audit *audit.Pipeline
}

// NewKeyManager creates a KeyManager.
func NewKeyManager(s *store.Store, pipeline *audit.Pipeline) *KeyManager {
	return &KeyManager{store: s, audit: pipeline}
}

// Issue derives and stores a new key for the user. The key starts inactive:
// an administrator must activate it before it authenticates anything.
func (m *KeyManager) Issue(ctx context.Context, userID int64, username string) (*model.APIKey, error) {
	raw := GenerateAPIKey(userID, username)
	key := &model.APIKey{
		UserID:  userID,
		RawKey:  raw,
		KeyHash: HashAPIKey(raw),
		Active:  false,
	}
	if err := m.store.CreateAPIKey(ctx, key); err != nil {
		return nil, err
	}
	m.audit.Log(ctx, audit.CategoryAuth, map[string]any{
		"event":   "api_key_issued",
		"user_id": userID,
		"active":  false,
	})
	return key, nil
}

// Activate enables a user's keys. Returns store.ErrNotFound when the user
// has no key.
func (m *KeyManager) Activate(ctx context.Context, userID int64) error {
	return m.store.SetAPIKeyActive(ctx, userID, true)
}

// Deactivate disables a user's keys. Returns store.ErrNotFound when the
// user has no key.
func (m *KeyManager) Deactivate(ctx context.Context, userID int64) error {
	return m.store.SetAPIKeyActive(ctx, userID, false)
}

// Authenticate resolves a raw key to its owning user. The presented key is
// hashed and looked up; an unknown hash is ErrInvalidCredentials and a known
// but inactive key is ErrKeyInactive. On success the key's last-used
// timestamp is bumped.
func (m *KeyManager) Authenticate(ctx context.Context, rawKey string) (int64, error) {
	key, err := m.store.GetAPIKeyByHash(ctx, HashAPIKey(rawKey))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}
	if !key.Active {
		return 0, ErrKeyInactive
	}

	// Best effort; a failed bump must not fail authentication.
	_ = m.store.UpdateAPIKeyLastUsed(ctx, key.ID)

	return key.UserID, nil
}

// LastUsed exposes the key's last-used timestamp for admin listings.
func (m *KeyManager) LastUsed(ctx context.Context, userID int64) (*time.Time, error) {
	key, err := m.store.GetNewestAPIKey(ctx, userID)
	if err != nil {
		return nil, err
	}
	return key.LastUsedAt, nil
}
