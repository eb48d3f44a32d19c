// Package ratelimit enforces per-tenant embed quotas before any retrieval
// or model cost is spent.
package ratelimit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mkalas/ragline/internal/config"
)

// CounterStore persists window counters keyed by (tenant, visitor, window)
// so restarts do not reset quotas early.
type CounterStore interface {
	IncrementAndGet(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Decision is the allow/deny outcome plus the next window boundary.
type Decision struct {
	Allowed bool
	ResetAt time.Time
}

type Limiter struct {
	store CounterStore
	now   func() time.Time
}

func New(store CounterStore) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// NewWithClock lets tests pin the window boundary.
func NewWithClock(store CounterStore, now func() time.Time) *Limiter {
	return &Limiter{store: store, now: now}
}

// Check atomically increments the daily and per-session counters and rejects
// when either exceeds its limit. Both windows roll over at UTC midnight.
func (l *Limiter) Check(ctx context.Context, tenantID, visitorHash, sessionID string, limits config.RateLimitSettings) (*Decision, error) {
	now := l.now().UTC()
	day := now.Format("20060102")
	resetAt := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	ttl := resetAt.Sub(now) + time.Minute

	dailyKey := fmt.Sprintf("rl:day:%s:%s:%s", tenantID, visitorHash, day)
	n, err := l.store.IncrementAndGet(ctx, dailyKey, ttl)
	if err != nil {
		return nil, fmt.Errorf("increment daily counter: %w", err)
	}
	if limits.DailyLimit > 0 && n > int64(limits.DailyLimit) {
		return &Decision{Allowed: false, ResetAt: resetAt}, nil
	}

	sessKey := fmt.Sprintf("rl:sess:%s:%s:%s", tenantID, sessionID, day)
	n, err = l.store.IncrementAndGet(ctx, sessKey, ttl)
	if err != nil {
		return nil, fmt.Errorf("increment session counter: %w", err)
	}
	if limits.SessionLimit > 0 && n > int64(limits.SessionLimit) {
		return &Decision{Allowed: false, ResetAt: resetAt}, nil
	}

	return &Decision{Allowed: true, ResetAt: resetAt}, nil
}

// HashVisitor anonymizes a visitor identity under the tenant widget secret.
// Raw visitor ids never reach the counter store.
func HashVisitor(secret, visitorID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(visitorID))
	return hex.EncodeToString(mac.Sum(nil)[:16])
}
