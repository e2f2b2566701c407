package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/audiogate/audiogate/internal/audit"
	"github.com/audiogate/audiogate/internal/auth"
	"github.com/audiogate/audiogate/internal/kv"
	"github.com/audiogate/audiogate/internal/model"
	"github.com/audiogate/audiogate/internal/store"
)

func testDeps(t *testing.T) (*auth.Resolver, *auth.SessionManager, *store.Store) {
	t.Helper()
	s, err := store.New("")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	mem := kv.NewMemory()
	t.Cleanup(func() { mem.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := audit.NewPipeline(logger)
	sessions := auth.NewSessionManager(mem, pipeline)
	keys := auth.NewKeyManager(s, pipeline)
	return auth.NewResolver(sessions, keys), sessions, s
}

func seedUser(t *testing.T, s *store.Store, username string, admin bool) *model.User {
	t.Helper()
	user := &model.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
		UploadLimit:  model.DefaultUploadLimit,
		IsAdmin:      admin,
	}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func okHandler(t *testing.T, sawPrincipal **Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sawPrincipal != nil {
			*sawPrincipal = GetPrincipal(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticateRejectsAnonymous(t *testing.T) {
	resolver, _, _ := testDeps(t)
	handler := Authenticate(resolver)(okHandler(t, nil))

	req := httptest.NewRequest("GET", "/protected", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
	var resp model.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not the error envelope: %v", err)
	}
	if resp.Error.Code != model.CodeUnauthenticated {
		t.Errorf("code = %q, want %q", resp.Error.Code, model.CodeUnauthenticated)
	}
}

func TestAuthenticateWithSessionCookie(t *testing.T) {
	resolver, sessions, s := testDeps(t)
	user := seedUser(t, s, "alice", false)
	sessionID, err := sessions.Create(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}

	var principal *Principal
	handler := Authenticate(resolver)(okHandler(t, &principal))

	req := httptest.NewRequest("GET", "/protected", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sessionID})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if principal == nil || principal.UserID != user.ID || principal.Via != "session" {
		t.Errorf("principal = %+v, want user %d via session", principal, user.ID)
	}
}

func TestRequireAdmin(t *testing.T) {
	resolver, sessions, s := testDeps(t)
	regular := seedUser(t, s, "bob", false)
	admin := seedUser(t, s, "root", true)

	handler := Authenticate(resolver)(RequireAdmin(s)(okHandler(t, nil)))

	for _, tt := range []struct {
		name   string
		userID int64
		want   int
	}{
		{"regular user", regular.ID, http.StatusForbidden},
		{"admin user", admin.ID, http.StatusOK},
	} {
		sessionID, _ := sessions.Create(context.Background(), tt.userID)
		req := httptest.NewRequest("GET", "/admin/users", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sessionID})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, rr.Code, tt.want)
		}
	}
}

func TestRequestAuditLifecycle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := audit.NewPipeline(logger)

	var sawScope bool
	handler := RequestAudit(pipeline)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawScope = audit.FromContext(r.Context()) != nil
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("POST", "/upload", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !sawScope {
		t.Error("handler ran without an audit request scope")
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d; middleware altered the response code", rr.Code)
	}
}

func TestRequestAuditSkipsPreflight(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pipeline := audit.NewPipeline(logger)

	handler := RequestAudit(pipeline)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if audit.FromContext(r.Context()) != nil {
			t.Error("OPTIONS request got an audit scope")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("OPTIONS", "/upload", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(3)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest("POST", "/auth/login", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("4th request status = %d, want 429", last.Code)
	}
	var resp model.ErrorResponse
	if err := json.Unmarshal(last.Body.Bytes(), &resp); err != nil {
		t.Fatalf("429 body is not the error envelope: %v", err)
	}
	if resp.Error.Code != model.CodeRateLimited {
		t.Errorf("code = %q, want %q", resp.Error.Code, model.CodeRateLimited)
	}
}

func TestRateLimitByHeader(t *testing.T) {
	handler := RateLimitByHeader(APIKeyHeader, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/upload", nil)
		req.Header.Set(APIKeyHeader, key)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := send("api_1_ALICE"); rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rr.Code)
		}
	}
	rr := send("api_1_ALICE")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("3rd request status = %d, want 429", rr.Code)
	}
	var resp model.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("429 body is not the error envelope: %v", err)
	}
	if resp.Error.Code != model.CodeRateLimited {
		t.Errorf("code = %q, want %q", resp.Error.Code, model.CodeRateLimited)
	}

	// A different key has its own bucket.
	if rr := send("api_2_BOB"); rr.Code != http.StatusOK {
		t.Errorf("other key status = %d, want 200", rr.Code)
	}
}
