// Package userlock provides keyed mutual exclusion: at most one in-flight
// critical section per key, with keys created on demand and removed once the
// last holder releases. Callers for different keys never block each other.
package userlock

import (
	"sync"
)

// entry is one key's mutex plus the number of goroutines holding or waiting on it.
type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed serializes critical sections per key.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// NewKeyed creates an empty keyed lock set.
func NewKeyed() *Keyed {
	return &Keyed{
		locks: make(map[string]*entry),
	}
}

// Lock acquires the exclusive section for key, blocking behind any holder of
// the same key. Waiters are granted the section in arrival order per the
// runtime's mutex semantics.
func (k *Keyed) Lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the exclusive section for key. The key's entry is dropped
// once nothing holds or waits on it, so the map never grows without bound.
func (k *Keyed) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		panic("userlock: unlock of unheld key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}

// Do runs fn inside the exclusive section for key.
func (k *Keyed) Do(key string, fn func() error) error {
	k.Lock(key)
	defer k.Unlock(key)
	return fn()
}

// Len reports how many keys currently have a live entry. Used by tests to
// verify cleanup.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
