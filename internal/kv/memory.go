package kv

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store. All operations are key-scoped and guarded
// by one mutex, so the increment/expire and touch pairs are atomic. A
// janitor goroutine evicts expired keys; reads also check deadlines so a key
// is never visible past its TTL regardless of janitor timing.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memEntry

	stop chan struct{}
	once sync.Once

	// now is swappable in tests to simulate TTL expiry.
	now func() time.Time
}

type memEntry struct {
	fields   map[string]string
	counter  int64
	deadline time.Time
}

const janitorInterval = time.Minute

// NewMemory creates an in-memory Store and starts its janitor.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]*memEntry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go m.janitor()
	return m
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			now := m.now()
			for k, e := range m.entries {
				if now.After(e.deadline) {
					delete(m.entries, k)
				}
			}
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}

// live returns the entry at key if it has not expired. Caller holds the lock.
func (m *Memory) live(key string) *memEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if m.now().After(e.deadline) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *Memory) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &memEntry{fields: copied, deadline: m.now().Add(ttl)}
	return nil
}

func (m *Memory) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.fields == nil {
		return nil, nil
	}
	out := make(map[string]string, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Touch(ctx context.Context, key, field, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil || e.fields == nil {
		return nil
	}
	e.fields[field] = value
	e.deadline = m.now().Add(ttl)
	return nil
}

func (m *Memory) GetInt(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		return 0, nil
	}
	if e.fields != nil {
		// Tolerate counters written as single-field hashes.
		if v, ok := e.fields["value"]; ok {
			n, _ := strconv.ParseInt(v, 10, 64)
			return n, nil
		}
		return 0, nil
	}
	return e.counter, nil
}

func (m *Memory) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		e = &memEntry{}
		m.entries[key] = e
	}
	e.counter++
	e.deadline = m.now().Add(ttl)
	return e.counter, nil
}

func (m *Memory) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []string
	for k, e := range m.entries {
		if now.After(e.deadline) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Close stops the janitor. Safe to call more than once.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

// SetNow overrides the clock. Test hook for TTL expiry.
func (m *Memory) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
