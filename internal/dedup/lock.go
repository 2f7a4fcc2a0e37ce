// Package dedup provides the two-phase distributed locks that keep crawl
// work single-flight: one phase collapses duplicate triggers before anything
// is queued, the other collapses duplicate executions across workers. The
// phases are independent; holding one says nothing about the other.
package dedup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Phase names a lock namespace.
type Phase string

const (
	// PhaseEnqueue guards trigger time: producers race on it before
	// pushing a task descriptor.
	PhaseEnqueue Phase = "enqueue"
	// PhaseExecution guards run time: workers race on it before
	// executing a dequeued task.
	PhaseExecution Phase = "execution"
)

// LockStore is the minimal set-if-absent store the manager needs. The Redis
// implementation lives in internal/storage and uses SET NX EX.
type LockStore interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Key builds the namespaced lock key for a phase, task, and fingerprint.
func Key(phase Phase, taskName, fingerprint string) string {
	return fmt.Sprintf("dedup:%s:%s:%s", phase, taskName, fingerprint)
}

// Manager wraps a LockStore with the dedup policy: non-blocking acquisition,
// TTL expiry as the primary release mechanism, and fail-closed behavior when
// the store is unreachable.
type Manager struct {
	store  LockStore
	ttl    time.Duration
	logger *zap.Logger
}

func NewManager(store LockStore, ttl time.Duration, logger *zap.Logger) *Manager {
	return &Manager{store: store, ttl: ttl, logger: logger}
}

// Acquire attempts the lock for (phase, task, fingerprint). It never blocks
// or retries. When the store is unreachable it fails closed: skipping work is
// recoverable, running it twice is not.
func (m *Manager) Acquire(ctx context.Context, phase Phase, taskName, fingerprint string) bool {
	key := Key(phase, taskName, fingerprint)
	acquired, err := m.store.TryAcquire(ctx, key, m.ttl)
	if err != nil {
		m.logger.Warn("dedup store unreachable, failing closed",
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	if !acquired {
		m.logger.Info("dedup lock already held",
			zap.String("key", key))
	}
	return acquired
}

// Release deletes the lock early. Best effort: the TTL remains the authority,
// so a failed delete only extends the dedup window.
func (m *Manager) Release(ctx context.Context, phase Phase, taskName, fingerprint string) {
	key := Key(phase, taskName, fingerprint)
	if err := m.store.Release(ctx, key); err != nil {
		m.logger.Warn("dedup lock release failed",
			zap.String("key", key),
			zap.Error(err))
	}
}
