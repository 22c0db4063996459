package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWindowStore is an in-memory sorted set keyed by score.
type fakeWindowStore struct {
	mu      sync.Mutex
	entries map[string][]int64
	err     error
}

func newFakeWindowStore() *fakeWindowStore {
	return &fakeWindowStore{entries: map[string][]int64{}}
}

func (f *fakeWindowStore) RemoveOlderThan(_ context.Context, key string, cutoff int64) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []int64
	for _, ts := range f.entries[key] {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	f.entries[key] = kept
	return nil
}

func (f *fakeWindowStore) Count(_ context.Context, key string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.entries[key])), nil
}

func (f *fakeWindowStore) Add(_ context.Context, key string, _ string, ts int64, _ time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = append(f.entries[key], ts)
	return nil
}

func TestIsAllowed_WindowCap(t *testing.T) {
	store := newFakeWindowStore()
	l := New(store, "scan")

	for i := 0; i < 3; i++ {
		assert.True(t, l.IsAllowed(context.Background(), "p1", 3, 60), "request %d should fit", i)
	}
	assert.False(t, l.IsAllowed(context.Background(), "p1", 3, 60), "fourth request must be rejected")
}

func TestIsAllowed_KeysAreIndependent(t *testing.T) {
	store := newFakeWindowStore()
	scan := New(store, "scan")
	generic := New(store, "ratelimit")

	require.True(t, scan.IsAllowed(context.Background(), "p1", 1, 60))
	assert.False(t, scan.IsAllowed(context.Background(), "p1", 1, 60))
	assert.True(t, generic.IsAllowed(context.Background(), "p1", 1, 60),
		"scan and generic budgets must not interfere")
}

func TestIsAllowed_WindowSlides(t *testing.T) {
	store := newFakeWindowStore()
	l := New(store, "scan")

	now := time.Now()
	l.now = func() time.Time { return now }
	require.True(t, l.IsAllowed(context.Background(), "p1", 1, 1))
	require.False(t, l.IsAllowed(context.Background(), "p1", 1, 1))

	// Two seconds later the old admission has aged out.
	l.now = func() time.Time { return now.Add(2 * time.Second) }
	assert.True(t, l.IsAllowed(context.Background(), "p1", 1, 1))
}

func TestIsAllowed_FailsOpenOnBackendError(t *testing.T) {
	store := newFakeWindowStore()
	store.err = errors.New("connection refused")
	l := New(store, "scan")
	assert.True(t, l.IsAllowed(context.Background(), "p1", 1, 60))
}

func TestWaitIfNeeded_Timeout(t *testing.T) {
	store := newFakeWindowStore()
	l := New(store, "scan")
	l.pollInterval = time.Millisecond

	require.True(t, l.IsAllowed(context.Background(), "p1", 1, 600))
	ok := l.WaitIfNeeded(context.Background(), "p1", 1, 600, 10*time.Millisecond)
	assert.False(t, ok, "wait must report timeout when the window never frees up")
}

func TestWaitIfNeeded_AdmitsImmediately(t *testing.T) {
	store := newFakeWindowStore()
	l := New(store, "scan")
	assert.True(t, l.WaitIfNeeded(context.Background(), "p1", 5, 60, time.Second))
}

func TestRemaining(t *testing.T) {
	store := newFakeWindowStore()
	l := New(store, "scan")

	assert.Equal(t, 3, l.Remaining(context.Background(), "p1", 3, 60))
	l.IsAllowed(context.Background(), "p1", 3, 60)
	assert.Equal(t, 2, l.Remaining(context.Background(), "p1", 3, 60))

	store.err = errors.New("down")
	assert.Equal(t, 3, l.Remaining(context.Background(), "p1", 3, 60),
		"remaining fails open to max on backend error")
}

func TestEffectiveConfig(t *testing.T) {
	cfg := EffectiveConfig(nil, nil)
	assert.Equal(t, 10, cfg.MaxRequestsPerSecond)
	assert.Equal(t, 5, cfg.MaxConcurrentScans)

	cfg = EffectiveConfig(
		map[string]interface{}{"max_requests_per_second": float64(20)},
		map[string]interface{}{"max_requests_per_second": 3, "max_concurrent_scans": 2},
	)
	assert.Equal(t, 3, cfg.MaxRequestsPerSecond, "task override wins per key")
	assert.Equal(t, 2, cfg.MaxConcurrentScans)

	cfg = EffectiveConfig(map[string]interface{}{"max_requests_per_second": 0}, nil)
	assert.Equal(t, 10, cfg.MaxRequestsPerSecond, "values below 1 are ignored")
}

func TestDefaultSingletons(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	InitDefault(newFakeWindowStore())
	first := Scan()
	require.NotNil(t, first)
	require.NotNil(t, Generic())

	InitDefault(newFakeWindowStore())
	assert.Same(t, first, Scan(), "second init must not replace the limiter")
}
