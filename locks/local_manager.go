package locks

import (
	"context"
	"sync"
)

// localLock is the state of one key. exclusive names the exclusive
// holder; shared counts shared holds per owner.
type localLock struct {
	exclusive string
	shared    map[string]int
}

func (l *localLock) sharedHolders() int {
	n := 0
	for _, c := range l.shared {
		n += c
	}
	return n
}

// LocalManager provides in-process lock management for single-node deployments.
type LocalManager struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

// NewLocalManager creates a new in-memory lock manager.
func NewLocalManager() *LocalManager {
	return &LocalManager{
		locks: make(map[string]*localLock),
	}
}

// Acquire grants the lock if it does not conflict with current holders.
func (m *LocalManager) Acquire(ctx context.Context, key, owner string, lockType LockType) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, held := m.locks[key]
	switch lockType {
	case Exclusive:
		if held {
			return false, nil
		}
		m.locks[key] = &localLock{exclusive: owner}
	default:
		if held && state.exclusive != "" {
			return false, nil
		}
		if !held {
			state = &localLock{shared: make(map[string]int)}
			m.locks[key] = state
		}
		state.shared[owner]++
	}
	return true, nil
}

// Downgrade converts owner's exclusive lock on key into a shared one.
func (m *LocalManager) Downgrade(ctx context.Context, key, owner string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, held := m.locks[key]
	if !held || state.exclusive != owner {
		return false, nil
	}
	m.locks[key] = &localLock{shared: map[string]int{owner: 1}}
	return true, nil
}

// Refresh reports whether owner still holds key. Local locks never expire.
func (m *LocalManager) Refresh(ctx context.Context, key, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, held := m.locks[key]
	if !held {
		return false, nil
	}
	return state.exclusive == owner || state.shared[owner] > 0, nil
}

// Release drops one lock of the given type held by owner.
func (m *LocalManager) Release(ctx context.Context, key, owner string, lockType LockType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, held := m.locks[key]
	if !held {
		return nil
	}

	switch lockType {
	case Exclusive:
		if state.exclusive == owner {
			delete(m.locks, key)
		}
	default:
		if state.shared[owner] == 0 {
			return nil
		}
		state.shared[owner]--
		if state.shared[owner] == 0 {
			delete(state.shared, owner)
		}
		if len(state.shared) == 0 {
			delete(m.locks, key)
		}
	}
	return nil
}

// State reports the lock currently held on key and the number of holders.
func (m *LocalManager) State(key string) (LockType, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, held := m.locks[key]
	switch {
	case !held:
		return 0, 0
	case state.exclusive != "":
		return Exclusive, 1
	default:
		return Shared, state.sharedHolders()
	}
}

// Close clears all local locks.
func (m *LocalManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks = make(map[string]*localLock)
	return nil
}
