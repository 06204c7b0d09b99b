// Package dircomplete coordinates per-directory completion callbacks over a
// concurrently processed tree.
//
// A listener is registered for each directory before its children are
// discovered. Every child's eventual result, success or failure, is attached
// to the listener; the callback runs exactly once, strictly after the walker
// has marked the directory complete and every attached child has resolved.
// Failed children arrive as tagged Result values rather than propagated
// errors, so one bad child never hides its siblings.
//
// Callbacks across all directories are serialized through a size-1 admission
// gate: child processing stays fully concurrent, but at most one directory
// callback executes at a time. A directory's own callback outcome is
// forwarded to its parent's listener automatically, so completions ripple up
// a deep tree without explicit wiring at each level.
package dircomplete

import (
	"sync"

	"github.com/dupidx/dupidx/internal/types"
)

// Result is one child's outcome. Err is non-nil for a failed child; Value
// carries the success payload and is meaningless when Err is set.
type Result[V any] struct {
	Path  string
	Value V
	Err   error
}

// Callback receives the full list of child results in attachment order and
// returns the directory's own result, forwarded to the parent listener.
type Callback[V any] func(results []Result[V]) (V, error)

// Coordinator owns the callback admission gate for one tree traversal.
type Coordinator[V any] struct {
	gate types.Throttle
	wg   sync.WaitGroup
}

// NewCoordinator creates a coordinator whose callbacks run one at a time.
func NewCoordinator[V any]() *Coordinator[V] {
	return &Coordinator[V]{gate: types.NewThrottle(1)}
}

// Wait blocks until every callback dispatched so far has finished and its
// result has been forwarded. Call after the walker has completed all
// directories and all children have resolved.
func (c *Coordinator[V]) Wait() {
	c.wg.Wait()
}

// Listener tracks one directory's outstanding children.
type Listener[V any] struct {
	coord    *Coordinator[V]
	parent   *Listener[V]
	path     string
	callback Callback[V]

	mu          sync.Mutex
	results     []Result[V]
	outstanding int
	complete    bool
	fired       bool
}

// Listen registers a listener for the directory at path. A non-nil parent
// has this directory attached as one of its own children; the attachment
// happens here, before any of this directory's children exist, so the parent
// can never fire early.
func (c *Coordinator[V]) Listen(parent *Listener[V], path string, cb Callback[V]) *Listener[V] {
	l := &Listener[V]{coord: c, parent: parent, path: path, callback: cb}
	if parent != nil {
		parent.Expect()
	}
	return l
}

// Expect attaches one child whose result will arrive later. Must be called
// before the child's processing is scheduled.
func (l *Listener[V]) Expect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fired {
		panic("dircomplete: Expect after callback fired")
	}
	l.outstanding++
}

// Resolve attaches a child's result, releasing the callback if this was the
// last outstanding child of a completed directory.
func (l *Listener[V]) Resolve(r Result[V]) {
	l.mu.Lock()
	l.results = append(l.results, r)
	l.outstanding--
	l.maybeFireLocked()
	l.mu.Unlock()
}

// Complete marks the directory as fully discovered: no further Expect calls
// will follow. Called by the walker's completion hook.
func (l *Listener[V]) Complete() {
	l.mu.Lock()
	l.complete = true
	l.maybeFireLocked()
	l.mu.Unlock()
}

func (l *Listener[V]) maybeFireLocked() {
	if l.fired || !l.complete || l.outstanding > 0 {
		return
	}
	l.fired = true
	results := l.results
	l.coord.wg.Add(1)
	go func() {
		defer l.coord.wg.Done()
		l.coord.gate.Acquire()
		v, err := l.callback(results)
		l.coord.gate.Release()
		if l.parent != nil {
			l.parent.Resolve(Result[V]{Path: l.path, Value: v, Err: err})
		}
	}()
}
