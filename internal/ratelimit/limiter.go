// Package ratelimit implements the shared sliding-window rate limiter.
//
// Admissions for a key are tracked as a Redis sorted set of timestamps so the
// window is shared by every worker process. On backend errors the limiter
// fails open: a scan that runs slightly too fast beats a scan fleet wedged on
// a Redis hiccup.
package ratelimit

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"
)

// WindowStore is the minimal sorted-set surface the limiter needs. Implemented
// by RedisStore in production and by an in-memory fake in tests.
type WindowStore interface {
	// RemoveOlderThan drops members of key scored strictly below cutoff.
	RemoveOlderThan(ctx context.Context, key string, cutoff int64) error
	// Count returns the cardinality of key.
	Count(ctx context.Context, key string) (int64, error)
	// Add inserts a member scored at ts and refreshes the key TTL.
	Add(ctx context.Context, key string, member string, ts int64, ttl time.Duration) error
}

// Limiter is a sliding-window limiter scoped by a key prefix. Scan admission
// uses the "scan" prefix; the generic job limiter uses "ratelimit" so the two
// budgets never interfere.
type Limiter struct {
	store  WindowStore
	prefix string
	logger *log.Logger

	// pollInterval is how often WaitIfNeeded retries; shortened in tests.
	pollInterval time.Duration

	// now is split out for tests.
	now func() time.Time
}

// New creates a limiter over the given store with the given key prefix.
func New(store WindowStore, prefix string) *Limiter {
	return &Limiter{
		store:        store,
		prefix:       prefix,
		logger:       log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
		pollInterval: 100 * time.Millisecond,
		now:          time.Now,
	}
}

func (l *Limiter) key(identifier string) string {
	return l.prefix + ":" + identifier
}

// IsAllowed reports whether one more request fits inside the window and, if it
// does, records it. The check is remove-old, count, then conditionally add so
// admissions over any window never exceed maxRequests.
func (l *Limiter) IsAllowed(ctx context.Context, identifier string, maxRequests int, windowSeconds int) bool {
	key := l.key(identifier)
	nowUnix := l.now().UnixNano()
	windowStart := nowUnix - int64(windowSeconds)*int64(time.Second)

	if err := l.store.RemoveOlderThan(ctx, key, windowStart); err != nil {
		l.logger.Printf("backend error on %s, allowing request: %v", key, err)
		return true
	}

	count, err := l.store.Count(ctx, key)
	if err != nil {
		l.logger.Printf("backend error on %s, allowing request: %v", key, err)
		return true
	}
	if count >= int64(maxRequests) {
		return false
	}

	member := strconv.FormatInt(nowUnix, 10)
	ttl := time.Duration(windowSeconds+1) * time.Second
	if err := l.store.Add(ctx, key, member, nowUnix, ttl); err != nil {
		l.logger.Printf("backend error on %s, allowing request: %v", key, err)
	}
	return true
}

// WaitIfNeeded polls IsAllowed every 100 ms until the request is admitted or
// maxWait elapses. Returns false on timeout.
func (l *Limiter) WaitIfNeeded(ctx context.Context, identifier string, maxRequests, windowSeconds int, maxWait time.Duration) bool {
	deadline := l.now().Add(maxWait)
	for {
		if l.IsAllowed(ctx, identifier, maxRequests, windowSeconds) {
			return true
		}
		if !l.now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(l.pollInterval):
		}
	}
}

// Remaining returns how many requests are left in the current window.
// Fails open to maxRequests on backend errors.
func (l *Limiter) Remaining(ctx context.Context, identifier string, maxRequests, windowSeconds int) int {
	key := l.key(identifier)
	windowStart := l.now().UnixNano() - int64(windowSeconds)*int64(time.Second)

	if err := l.store.RemoveOlderThan(ctx, key, windowStart); err != nil {
		return maxRequests
	}
	count, err := l.store.Count(ctx, key)
	if err != nil {
		return maxRequests
	}
	remaining := maxRequests - int(count)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RateLimitConfig is the effective per-project scan budget.
type RateLimitConfig struct {
	MaxRequestsPerSecond int `json:"max_requests_per_second"`
	MaxConcurrentScans   int `json:"max_concurrent_scans"`
}

// EffectiveConfig merges the project budget with a per-task override, task
// winning per key, and applies defaults.
func EffectiveConfig(project, taskOverride map[string]interface{}) RateLimitConfig {
	cfg := RateLimitConfig{MaxRequestsPerSecond: 10, MaxConcurrentScans: 5}
	apply := func(m map[string]interface{}) {
		if m == nil {
			return
		}
		if v, ok := asInt(m["max_requests_per_second"]); ok && v >= 1 {
			cfg.MaxRequestsPerSecond = v
		}
		if v, ok := asInt(m["max_concurrent_scans"]); ok && v >= 1 {
			cfg.MaxConcurrentScans = v
		}
	}
	apply(project)
	apply(taskOverride)
	return cfg
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

var (
	defaultMu      sync.Mutex
	defaultScan    *Limiter
	defaultGeneric *Limiter
)

// InitDefault installs the process-wide limiters. Idempotent; the first call
// wins so concurrent initialization is safe.
func InitDefault(store WindowStore) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultScan == nil {
		defaultScan = New(store, "scan")
		defaultGeneric = New(store, "ratelimit")
	}
}

// Scan returns the scan-admission limiter (key prefix "scan").
func Scan() *Limiter {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultScan
}

// Generic returns the generic job limiter (key prefix "ratelimit").
func Generic() *Limiter {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultGeneric
}

// ResetForTest clears the process singletons.
func ResetForTest() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultScan = nil
	defaultGeneric = nil
}
