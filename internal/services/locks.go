// Per-key lock arena.
//
// Processing must be serialized per voice note id (and quota admission per
// session id) while unrelated keys proceed in parallel, so a single global
// mutex is out. The arena hands out one mutex per key on demand and evicts
// idle entries opportunistically, the same bookkeeping the HTTP rate
// limiter uses for its per-identity buckets.
package services

import (
	"sync"
	"time"
)

// lockEntry holds one key's mutex plus eviction bookkeeping. holders counts
// goroutines that currently reference the entry; only unreferenced, stale
// entries are evicted.
type lockEntry struct {
	mu       sync.Mutex
	holders  int
	lastSeen time.Time
}

// lockArena is a map of per-key mutexes with opportunistic cleanup.
// It is safe for concurrent use.
type lockArena struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	ttl     time.Duration
	ops     uint64
}

// newLockArena returns an arena whose idle entries expire after ttl.
func newLockArena(ttl time.Duration) *lockArena {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &lockArena{
		entries: make(map[string]*lockEntry),
		ttl:     ttl,
	}
}

// acquire obtains the key's lock, blocking until it is free.
// The returned function releases it.
func (a *lockArena) acquire(key string) (release func()) {
	e := a.checkout(key)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		a.checkin(key, e)
	}
}

// tryAcquire obtains the key's lock only when it is immediately free.
// ok is false when another goroutine holds it; no release is returned then.
func (a *lockArena) tryAcquire(key string) (release func(), ok bool) {
	e := a.checkout(key)
	if !e.mu.TryLock() {
		a.checkin(key, e)
		return nil, false
	}
	return func() {
		e.mu.Unlock()
		a.checkin(key, e)
	}, true
}

// checkout returns the entry for key, creating it when absent, and marks it
// referenced. Every ~256 checkouts the arena sweeps idle entries.
func (a *lockArena) checkout(key string) *lockEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[key]
	if !ok {
		e = &lockEntry{}
		a.entries[key] = e
	}
	e.holders++
	e.lastSeen = time.Now()

	a.ops++
	if a.ops%256 == 0 {
		cutoff := time.Now().Add(-a.ttl)
		for k, v := range a.entries {
			if v.holders == 0 && v.lastSeen.Before(cutoff) {
				delete(a.entries, k)
			}
		}
	}
	return e
}

// checkin drops one reference to the key's entry.
func (a *lockArena) checkin(key string, e *lockEntry) {
	a.mu.Lock()
	e.holders--
	e.lastSeen = time.Now()
	a.mu.Unlock()
}
