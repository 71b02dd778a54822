package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ebogdum/bundlefs/metrics"
)

// releaseTimeout bounds the release call made from deferred cleanup,
// where the request context may already be cancelled.
const releaseTimeout = 5 * time.Second

// Lease is a held lock on one key. Release is safe to defer right after
// AcquireLease succeeds: it drops whatever lock type the lease holds at
// that moment and does nothing on later calls.
//
// Each lease carries its own owner token. On an Expiring manager the lease
// refreshes its lock every third of the TTL until released.
type Lease struct {
	mu      sync.Mutex
	manager Manager
	key     string
	owner   string
	held    LockType
	logger  *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// AcquireLease takes a lock of the given type on key. It returns ErrLocked
// (wrapped) when a conflicting lock is held.
func AcquireLease(ctx context.Context, manager Manager, key string, lockType LockType, logger *zap.Logger) (*Lease, error) {
	owner := uuid.NewString()

	start := time.Now()
	granted, err := manager.Acquire(ctx, key, owner, lockType)
	metrics.LockOperationDuration.WithLabelValues("acquire").Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.LockOperationsTotal.WithLabelValues("acquire", "error").Inc()
		return nil, err
	}
	if !granted {
		metrics.LockOperationsTotal.WithLabelValues("acquire", "locked").Inc()
		return nil, fmt.Errorf("%w: %s lock on %q is not available", ErrLocked, lockType, key)
	}

	metrics.LockOperationsTotal.WithLabelValues("acquire", "success").Inc()
	metrics.ActiveLocks.Inc()

	l := &Lease{manager: manager, key: key, owner: owner, held: lockType, logger: logger}
	if exp, ok := manager.(Expiring); ok && exp.TTL() > 0 {
		l.stop = make(chan struct{})
		l.done = make(chan struct{})
		go l.keepAlive(exp.TTL() / 3)
	}
	return l, nil
}

// Held returns the lock type currently held, or 0 after release
func (l *Lease) Held() LockType {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Downgrade converts an exclusive lease into a shared one
func (l *Lease) Downgrade(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held == 0 {
		return fmt.Errorf("lease on %q already released", l.key)
	}
	if l.held == Shared {
		return nil
	}

	start := time.Now()
	changed, err := l.manager.Downgrade(ctx, l.key, l.owner)
	metrics.LockOperationDuration.WithLabelValues("downgrade").Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.LockOperationsTotal.WithLabelValues("downgrade", "error").Inc()
		return err
	}
	if !changed {
		metrics.LockOperationsTotal.WithLabelValues("downgrade", "locked").Inc()
		return fmt.Errorf("%w: exclusive lock on %q is no longer held", ErrLocked, l.key)
	}

	metrics.LockOperationsTotal.WithLabelValues("downgrade", "success").Inc()
	l.held = Shared
	return nil
}

// Release drops the lease. Errors are logged, not returned.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held == 0 {
		return
	}

	if l.stop != nil {
		close(l.stop)
		<-l.done
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	held := l.held
	l.held = 0
	metrics.ActiveLocks.Dec()

	if err := l.manager.Release(ctx, l.key, l.owner, held); err != nil {
		metrics.LockOperationsTotal.WithLabelValues("release", "error").Inc()
		l.logger.Error("Failed to release lock",
			zap.String("lock_key", l.key),
			zap.Stringer("type", held),
			zap.Error(err))
		return
	}
	metrics.LockOperationsTotal.WithLabelValues("release", "success").Inc()
}

// keepAlive refreshes the lock until the lease is released or the lock
// is found to be gone
func (l *Lease) keepAlive(interval time.Duration) {
	defer close(l.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		held, err := l.manager.Refresh(ctx, l.key, l.owner)
		cancel()

		switch {
		case err != nil:
			metrics.LockOperationsTotal.WithLabelValues("refresh", "error").Inc()
			l.logger.Warn("Failed to refresh lock",
				zap.String("lock_key", l.key),
				zap.Error(err))
		case !held:
			metrics.LockOperationsTotal.WithLabelValues("refresh", "lost").Inc()
			l.logger.Warn("Lock expired while held",
				zap.String("lock_key", l.key))
			return
		default:
			metrics.LockOperationsTotal.WithLabelValues("refresh", "success").Inc()
		}
	}
}
