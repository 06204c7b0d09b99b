// Package keyedmutex provides mutual exclusion scoped to arbitrary keys.
//
// Acquiring key K blocks only concurrent acquisitions of K, never of other
// keys. Guard entries are created on first use and reclaimed as soon as the
// last waiter releases, so the table stays proportional to the number of
// currently contended keys, not the number of keys ever locked.
package keyedmutex

import "sync"

// Table is a set of per-key mutexes. The zero value is not usable; create
// with New.
type Table[K comparable] struct {
	mu     sync.Mutex
	guards map[K]*guard
}

// guard is one key's mutex, reference-counted by holders and waiters.
type guard struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty mutex table.
func New[K comparable]() *Table[K] {
	return &Table[K]{guards: make(map[K]*guard)}
}

// Lock acquires exclusive access to key, blocking while another goroutine
// holds it. Each Lock must be paired with exactly one Unlock for the same
// key, normally via defer.
func (t *Table[K]) Lock(key K) {
	t.mu.Lock()
	g, ok := t.guards[key]
	if !ok {
		g = &guard{}
		t.guards[key] = g
	}
	g.refs++
	t.mu.Unlock()

	g.mu.Lock()
}

// Unlock releases key. Panics if the key is not held.
func (t *Table[K]) Unlock(key K) {
	t.mu.Lock()
	g, ok := t.guards[key]
	if !ok {
		t.mu.Unlock()
		panic("keyedmutex: unlock of unheld key")
	}
	g.refs--
	if g.refs == 0 {
		delete(t.guards, key)
	}
	t.mu.Unlock()

	g.mu.Unlock()
}

// With runs fn while holding key, releasing it even if fn panics.
func (t *Table[K]) With(key K, fn func() error) error {
	t.Lock(key)
	defer t.Unlock(key)
	return fn()
}

// Len returns the number of keys currently held or contended. Used by tests
// to verify guard reclamation.
func (t *Table[K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.guards)
}
