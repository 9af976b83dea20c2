package ranking

import "sync"

// scopeLocks provides per-key mutual exclusion for ranking passes. At most
// one pass may be in flight for a given (term, scope) pair; a second caller
// fails fast instead of interleaving writes.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[string]*sync.Mutex)}
}

// tryAcquire attempts to take the lock for key without blocking. The second
// return is the release function, valid only when acquired.
func (s *scopeLocks) tryAcquire(key string) (bool, func()) {
	s.mu.Lock()
	lock, exists := s.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	s.mu.Unlock()

	if !lock.TryLock() {
		return false, nil
	}

	return true, lock.Unlock
}
