package auth

import "errors"

var (
	// ErrInvalidCredentials covers unknown identifiers, wrong passwords,
	// and API keys whose hash matches nothing.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrKeyInactive is returned for a known key that has not been
	// activated by an administrator, or was deactivated.
	ErrKeyInactive = errors.New("api key inactive")

	// ErrUnauthenticated is returned by the resolver when no credential in
	// the chain yields an identity.
	ErrUnauthenticated = errors.New("authentication required")
)
