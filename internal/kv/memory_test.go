package kv

import (
	"context"
	"testing"
	"time"
)

func TestMemoryHashLifecycle(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	if err := m.HSet(ctx, "session:abc", map[string]string{"user_id": "7"}, time.Hour); err != nil {
		t.Fatalf("HSet: %v", err)
	}

	fields, err := m.HGetAll(ctx, "session:abc")
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if fields["user_id"] != "7" {
		t.Errorf("user_id = %q, want 7", fields["user_id"])
	}

	// Missing key is a nil map, not an error.
	fields, err = m.HGetAll(ctx, "session:nope")
	if err != nil {
		t.Fatalf("HGetAll miss: %v", err)
	}
	if fields != nil {
		t.Errorf("expected nil map for missing key, got %v", fields)
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	base := time.Now()
	m.SetNow(func() time.Time { return base })

	if err := m.HSet(ctx, "session:x", map[string]string{"user_id": "1"}, time.Hour); err != nil {
		t.Fatalf("HSet: %v", err)
	}

	// One second past the deadline the key is gone, janitor or not.
	m.SetNow(func() time.Time { return base.Add(time.Hour + time.Second) })

	fields, err := m.HGetAll(ctx, "session:x")
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if fields != nil {
		t.Errorf("expected expired key to be invisible, got %v", fields)
	}
}

func TestMemoryTouchExtendsDeadline(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	base := time.Now()
	m.SetNow(func() time.Time { return base })

	m.HSet(ctx, "session:y", map[string]string{"user_id": "2", "last_seen": "0"}, time.Hour)

	// 50 minutes in, a touch re-arms the full TTL.
	m.SetNow(func() time.Time { return base.Add(50 * time.Minute) })
	if err := m.Touch(ctx, "session:y", "last_seen", "3000", time.Hour); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	// 90 minutes after creation, 40 after the touch: still alive.
	m.SetNow(func() time.Time { return base.Add(90 * time.Minute) })
	fields, _ := m.HGetAll(ctx, "session:y")
	if fields == nil {
		t.Fatal("touched key expired at original deadline")
	}
	if fields["last_seen"] != "3000" {
		t.Errorf("last_seen = %q, want 3000", fields["last_seen"])
	}
}

func TestMemoryIncrWithTTL(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	base := time.Now()
	m.SetNow(func() time.Time { return base })

	for want := int64(1); want <= 3; want++ {
		got, err := m.IncrWithTTL(ctx, "upload_limit:1", time.Hour)
		if err != nil {
			t.Fatalf("IncrWithTTL: %v", err)
		}
		if got != want {
			t.Errorf("IncrWithTTL = %d, want %d", got, want)
		}
	}

	n, err := m.GetInt(ctx, "upload_limit:1")
	if err != nil {
		t.Fatalf("GetInt: %v", err)
	}
	if n != 3 {
		t.Errorf("GetInt = %d, want 3", n)
	}

	// Past the window, the counter restarts from zero.
	m.SetNow(func() time.Time { return base.Add(2 * time.Hour) })
	n, _ = m.GetInt(ctx, "upload_limit:1")
	if n != 0 {
		t.Errorf("GetInt after expiry = %d, want 0", n)
	}
	got, _ := m.IncrWithTTL(ctx, "upload_limit:1", time.Hour)
	if got != 1 {
		t.Errorf("IncrWithTTL after expiry = %d, want 1", got)
	}
}

func TestMemoryKeysAndDel(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	m.HSet(ctx, "session:a", map[string]string{"user_id": "1"}, time.Hour)
	m.HSet(ctx, "session:b", map[string]string{"user_id": "2"}, time.Hour)
	m.IncrWithTTL(ctx, "upload_limit:1", time.Hour)

	keys, err := m.Keys(ctx, "session:")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Keys = %v, want 2 session keys", keys)
	}

	if err := m.Del(ctx, "session:a", "session:b"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	keys, _ = m.Keys(ctx, "session:")
	if len(keys) != 0 {
		t.Errorf("Keys after Del = %v, want empty", keys)
	}
}
