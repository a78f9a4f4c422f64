package mailsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned when a pass for the same
// (user, folder, purpose) key is still in flight.
var ErrAlreadyRunning = errors.New("sync already running")

// Manager serializes sync runs so that at most one pass is in flight per
// (user, folder, purpose) key. Overlapping scheduler triggers for the
// same key are rejected rather than queued; the caller retries on its
// next tick.
type Manager struct {
	mu      sync.Mutex
	running map[string]struct{}
}

// NewManager creates an empty run manager.
func NewManager() *Manager {
	return &Manager{running: make(map[string]struct{})}
}

// RunSync executes one engine pass under the manager's concurrency guard.
func (m *Manager) RunSync(ctx context.Context, e *Engine, userID, folder string, purpose Purpose, lookback time.Duration, maxMessages int, handler Handler) (RunResult, error) {
	key := fmt.Sprintf("%s:%s:%s", userID, folder, purpose)

	if !m.tryAcquire(key) {
		return RunResult{}, fmt.Errorf("%s: %w", key, ErrAlreadyRunning)
	}
	defer m.release(key)

	return e.Run(ctx, userID, folder, purpose, lookback, maxMessages, handler)
}

// Running lists the keys with a pass currently in flight.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.running))
	for k := range m.running {
		keys = append(keys, k)
	}
	return keys
}

func (m *Manager) tryAcquire(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.running[key]; exists {
		return false
	}
	m.running[key] = struct{}{}
	return true
}

func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, key)
}
