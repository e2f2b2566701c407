package auth

import (
	"context"
	"testing"
	"time"

	"github.com/audiogate/audiogate/internal/kv"
)

func testSessionManager(t *testing.T) (*SessionManager, *kv.Memory) {
	t.Helper()
	mem := kv.NewMemory()
	t.Cleanup(func() { mem.Close() })
	return NewSessionManager(mem, quietPipeline()), mem
}

func TestSessionCreateAndResolve(t *testing.T) {
	m, _ := testSessionManager(t)
	ctx := context.Background()

	sessionID, err := m.Create(ctx, 42)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sessionID == "" {
		t.Fatal("empty session id")
	}

	userID, ok, err := m.CurrentUser(ctx, sessionID)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if !ok || userID != 42 {
		t.Errorf("CurrentUser = (%d, %v), want (42, true)", userID, ok)
	}

	// An unknown session is a miss, not an error.
	_, ok, err = m.CurrentUser(ctx, "not-a-session")
	if err != nil {
		t.Fatalf("CurrentUser unknown: %v", err)
	}
	if ok {
		t.Error("unknown session resolved")
	}
}

func TestSessionSlidingExpiry(t *testing.T) {
	m, mem := testSessionManager(t)
	ctx := context.Background()

	base := time.Now()
	clock := base
	now := func() time.Time { return clock }
	m.SetNow(now)
	mem.SetNow(now)

	sessionID, err := m.Create(ctx, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Accesses every 45 minutes keep the session alive well past the
	// original one-hour deadline.
	for i := 0; i < 3; i++ {
		clock = clock.Add(45 * time.Minute)
		_, ok, err := m.CurrentUser(ctx, sessionID)
		if err != nil {
			t.Fatalf("CurrentUser at +%dm: %v", 45*(i+1), err)
		}
		if !ok {
			t.Fatalf("session expired at +%dm despite activity", 45*(i+1))
		}
	}

	// Sustained inactivity past the TTL ends it.
	clock = clock.Add(61 * time.Minute)
	_, ok, err := m.CurrentUser(ctx, sessionID)
	if err != nil {
		t.Fatalf("CurrentUser after idle: %v", err)
	}
	if ok {
		t.Error("session survived 61 minutes of inactivity")
	}
}

func TestSessionDestroy(t *testing.T) {
	m, _ := testSessionManager(t)
	ctx := context.Background()

	sessionID, _ := m.Create(ctx, 5)
	if err := m.Destroy(ctx, sessionID); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, ok, _ := m.CurrentUser(ctx, sessionID); ok {
		t.Error("destroyed session still resolves")
	}

	// Destroying again is fine; logout is idempotent.
	if err := m.Destroy(ctx, sessionID); err != nil {
		t.Errorf("second Destroy: %v", err)
	}
}

func TestSessionDuration(t *testing.T) {
	m, mem := testSessionManager(t)
	ctx := context.Background()

	base := time.Now()
	clock := base
	now := func() time.Time { return clock }
	m.SetNow(now)
	mem.SetNow(now)

	sessionID, _ := m.Create(ctx, 9)
	clock = clock.Add(10 * time.Minute)

	if d := m.Duration(ctx, sessionID); d != 600 {
		t.Errorf("Duration = %d, want 600", d)
	}
	if d := m.Duration(ctx, "gone"); d != 0 {
		t.Errorf("Duration of missing session = %d, want 0", d)
	}
}

func TestActiveSessions(t *testing.T) {
	m, _ := testSessionManager(t)
	ctx := context.Background()

	id1, _ := m.Create(ctx, 1)
	id2, _ := m.Create(ctx, 2)

	sessions, err := m.ActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ActiveSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("ActiveSessions = %d entries, want 2", len(sessions))
	}
	if sessions[id1]["user_id"] != "1" || sessions[id2]["user_id"] != "2" {
		t.Errorf("unexpected session records: %v", sessions)
	}
}
