package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is the counting state of one client under one policy.
type Window struct {
	Start time.Time
	Count int
}

// expired reports whether the window no longer covers now. The comparison is
// strict: a hit at exactly Start+window still counts against the old window.
func (w *Window) expired(now time.Time, window time.Duration) bool {
	return now.Sub(w.Start) > window
}

// Store tracks windows keyed by (policy, client). Implementations must be
// safe for concurrent use.
type Store interface {
	// Hit atomically replaces the window for (policy, key) if it is missing or
	// stale, increments its count, and returns the resulting window.
	Hit(ctx context.Context, policy, key string, now time.Time, window time.Duration) (Window, error)

	// Ping reports whether the store can serve hits.
	Ping(ctx context.Context) error
}

// MemoryStore is an in-process Store. State is lost on restart and is not
// shared between instances.
type MemoryStore struct {
	mu       sync.Mutex
	policies map[string]map[string]*Window
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{policies: make(map[string]map[string]*Window)}
}

// Hit sweeps stale windows of the policy, then counts the request against
// the client's current window. The whole sequence runs under one lock so two
// concurrent hits can never both observe the same count.
func (s *MemoryStore) Hit(_ context.Context, policy, key string, now time.Time, window time.Duration) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients, ok := s.policies[policy]
	if !ok {
		clients = make(map[string]*Window)
		s.policies[policy] = clients
	}

	// sweep on access, scoped to this policy so windows of other lengths are
	// judged only by their own policy
	sweepLocked(clients, now, window)

	w, ok := clients[key]
	if !ok || w.expired(now, window) {
		w = &Window{Start: now}
		clients[key] = w
	}
	w.Count++
	return *w, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Sweep removes every window of policy that has expired at now and returns
// how many were removed.
func (s *MemoryStore) Sweep(policy string, now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	clients, ok := s.policies[policy]
	if !ok {
		return 0
	}
	return sweepLocked(clients, now, window)
}

func sweepLocked(clients map[string]*Window, now time.Time, window time.Duration) int {
	removed := 0
	for key, w := range clients {
		if w.expired(now, window) {
			delete(clients, key)
			removed++
		}
	}
	return removed
}

// Get returns a copy of the window tracked for (policy, key).
func (s *MemoryStore) Get(policy, key string) (Window, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.policies[policy][key]
	if !ok {
		return Window{}, false
	}
	return *w, true
}

// Len returns the number of windows tracked for policy.
func (s *MemoryStore) Len(policy string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.policies[policy])
}

// StartSweeper runs a background sweep of the given policies every interval
// until ctx is done. windows maps policy name to window length.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration, windows map[string]time.Duration) {
	if interval <= 0 || len(windows) == 0 {
		return
	}
	// copy so later changes by the caller cannot race the sweeper
	ws := make(map[string]time.Duration, len(windows))
	for p, w := range windows {
		ws[p] = w
	}
	go s.sweepLoop(ctx, interval, ws)
}

func (s *MemoryStore) sweepLoop(ctx context.Context, interval time.Duration, windows map[string]time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for policy, window := range windows {
				s.Sweep(policy, now, window)
			}
		}
	}
}
