// Package quota enforces per-user hourly upload limits with a fixed-window
// counter. The window is a self-expiring key, not a sliding log of
// timestamps: brief over-admission at window boundaries under concurrent
// load is an accepted trade-off, and the check/reserve split means in-flight
// requests can overrun the limit by their own count. Do not tighten either
// without changing the contract.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/audiogate/audiogate/internal/kv"
)

// Window is the accounting period for one counter key.
const Window = 3600 * time.Second

// Enforcer guards downstream capacity with one expiring counter per user.
type Enforcer struct {
	kv     kv.Store
	window time.Duration
}

// NewEnforcer creates an Enforcer with the standard window.
func NewEnforcer(store kv.Store) *Enforcer {
	return &Enforcer{kv: store, window: Window}
}

func counterKey(userID int64) string {
	return fmt.Sprintf("upload_limit:%d", userID)
}

// Current returns the user's count in the active window; 0 when the window
// has expired or never started.
func (e *Enforcer) Current(ctx context.Context, userID int64) (int64, error) {
	return e.kv.GetInt(ctx, counterKey(userID))
}

// Check reads the current count against the limit without incrementing.
// Denied means count >= limit.
func (e *Enforcer) Check(ctx context.Context, userID int64, limit int) (allowed bool, current int64, err error) {
	current, err = e.Current(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	return current < int64(limit), current, nil
}

// Reserve counts one admitted upload. Called only after the guarded
// operation succeeded. The increment and TTL refresh are issued together as
// one round trip, so the window is re-armed on every increment and cannot
// expire mid-window after early heavy use.
func (e *Enforcer) Reserve(ctx context.Context, userID int64) (int64, error) {
	return e.kv.IncrWithTTL(ctx, counterKey(userID), e.window)
}

// Reset drops the user's counter. Used by the cascading user delete.
func (e *Enforcer) Reset(ctx context.Context, userID int64) error {
	return e.kv.Del(ctx, counterKey(userID))
}
