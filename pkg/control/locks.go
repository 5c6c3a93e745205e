package control

import (
	"sync"
)

// lockRegistry hands out one mutex per resource identity. The registry map
// itself is guarded by a creation mutex so two callers racing on a fresh
// resourceID never end up holding different locks for the same identity.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*sync.Mutex)}
}

// lockFor returns the deploy lock for a resource identity, creating it on
// first use. Locks live for the process lifetime; the map is bounded by the
// number of distinct resource identities.
func (r *lockRegistry) lockFor(resourceID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[resourceID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[resourceID] = l
	}
	return l
}
