package model

import "time"

// APIKey is a long-lived credential tied to one user. Verification always
// hashes the presented key and compares against KeyHash; RawKey is kept only
// so the owner can read their key back from the profile endpoint.
//
// New keys start inactive. An administrator must activate a key before it
// authenticates anything.
type APIKey struct {
	ID          int64      `json:"id" db:"id"`
	UserID      int64      `json:"user_id" db:"user_id"`
	RawKey      string     `json:"-" db:"raw_key"`
	KeyHash     string     `json:"-" db:"key_hash"` // SHA-256 hex, never expose
	Active      bool       `json:"active" db:"active"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty" db:"activated_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}
