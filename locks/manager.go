package locks

import (
	"context"
	"errors"
	"time"
)

// LockType is the kind of lock held on a resource
type LockType int

const (
	// Shared permits any number of concurrent shared holders
	Shared LockType = iota + 1
	// Exclusive excludes every other holder
	Exclusive
)

func (t LockType) String() string {
	switch t {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		return "none"
	}
}

// ErrLocked is returned when a lock cannot be granted because another
// holder has a conflicting lock on the same key
var ErrLocked = errors.New("resource is locked")

// Manager defines the interface for shared/exclusive locking operations.
// Calls never wait for a conflicting holder; they report false instead.
// owner identifies one holder; only that holder may downgrade, refresh or
// release what it acquired.
type Manager interface {
	// Acquire attempts to take a lock of the given type on key for owner.
	// Returns false if a conflicting lock is held.
	Acquire(ctx context.Context, key, owner string, lockType LockType) (bool, error)

	// Downgrade converts owner's exclusive lock on key into a shared one.
	// Returns false if owner does not hold key exclusively.
	Downgrade(ctx context.Context, key, owner string) (bool, error)

	// Refresh extends owner's lock on key. Returns false if owner no
	// longer holds it.
	Refresh(ctx context.Context, key, owner string) (bool, error)

	// Release drops owner's lock of the given type on key
	Release(ctx context.Context, key, owner string, lockType LockType) error

	// Close closes the lock manager and releases any resources
	Close() error
}

// Expiring is implemented by managers whose locks lapse after TTL unless
// refreshed. Leases on such managers refresh themselves while held.
type Expiring interface {
	TTL() time.Duration
}
