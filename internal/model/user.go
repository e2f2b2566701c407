package model

import "time"

// User is a registered account. Passwords are stored as bcrypt hashes of a
// SHA-256 digest of the plaintext; the plaintext never touches the store.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"` // never expose
	UploadLimit  int       `json:"upload_limit" db:"upload_limit"`
	IsAdmin      bool      `json:"is_admin" db:"is_admin"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultUploadLimit is the hourly upload allowance assigned at registration.
const DefaultUploadLimit = 50

// UsageStat aggregates lifetime upload activity for one user.
type UsageStat struct {
	UserID           int64 `json:"user_id" db:"user_id"`
	FilesUploaded    int64 `json:"files_uploaded" db:"files_uploaded"`
	SecondsProcessed int64 `json:"seconds_processed" db:"seconds_processed"`
}
