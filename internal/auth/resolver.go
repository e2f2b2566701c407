package auth

import "context"

// Credentials carries the raw material a request presented: the session
// cookie value and the API key header value, either of which may be empty.
type Credentials struct {
	SessionID string
	APIKey    string
}

// Strategy resolves one credential kind to a user. A strategy that cannot
// resolve returns ok=false and the chain moves on; it never errors the
// request on its own.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, creds Credentials) (userID int64, ok bool)
}

// Resolver identifies the caller by trying an ordered chain of strategies.
// Sessions are tried before API keys so a live browser session transparently
// overrides a stale key header left behind by tooling. Adding a credential
// kind means appending one strategy; call sites do not change.
type Resolver struct {
	chain []Strategy
}

// NewResolver builds the standard chain: session cookie, then API key
// header.
func NewResolver(sessions *SessionManager, keys *KeyManager) *Resolver {
	return &Resolver{chain: []Strategy{
		sessionStrategy{sessions},
		apiKeyStrategy{keys},
	}}
}

// Resolve returns the first identity the chain produces, or
// ErrUnauthenticated when every strategy misses. It never partially
// succeeds.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (int64, string, error) {
	for _, s := range r.chain {
		if userID, ok := s.Resolve(ctx, creds); ok {
			return userID, s.Name(), nil
		}
	}
	return 0, "", ErrUnauthenticated
}

type sessionStrategy struct {
	sessions *SessionManager
}

func (s sessionStrategy) Name() string { return "session" }

func (s sessionStrategy) Resolve(ctx context.Context, creds Credentials) (int64, bool) {
	if creds.SessionID == "" {
		return 0, false
	}
	userID, ok, err := s.sessions.CurrentUser(ctx, creds.SessionID)
	if err != nil || !ok {
		return 0, false
	}
	return userID, true
}

type apiKeyStrategy struct {
	keys *KeyManager
}

func (s apiKeyStrategy) Name() string { return "api_key" }

func (s apiKeyStrategy) Resolve(ctx context.Context, creds Credentials) (int64, bool) {
	if creds.APIKey == "" {
		return 0, false
	}
	userID, err := s.keys.Authenticate(ctx, creds.APIKey)
	if err != nil {
		return 0, false
	}
	return userID, true
}
