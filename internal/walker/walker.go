// Package walker provides policy-driven, resumable directory traversal.
//
// The walker is an externally-driven cursor: Next yields one entry at a
// time in pre-order, and before advancing past it the caller may steer the
// traversal with Decide. Exclude skips the entry's subtree, Substitute
// descends into a replacement context's children as if they were the
// entry's own (how symlink following is implemented), and the default
// Continue descends into directories.
//
// A directory's registered completion hooks fire only after every one of
// its descendants has been produced. The sequence is lazy, finite, and not
// restartable: create a new Walker per traversal.
package walker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// decisionKind discriminates Decision values.
type decisionKind int

const (
	decideContinue decisionKind = iota
	decideExclude
	decideSubstitute
)

// Decision steers the traversal past the most recently yielded entry.
type Decision struct {
	kind decisionKind
	sub  *Context
}

// Continue descends into the entry if it is a directory.
func Continue() Decision { return Decision{kind: decideContinue} }

// Exclude skips the entry's entire subtree.
func Exclude() Decision { return Decision{kind: decideExclude} }

// Substitute descends into ctx's children as if they were the entry's own
// children. The yielded relative paths keep the original entry's name.
func Substitute(ctx *Context) Decision { return Decision{kind: decideSubstitute, sub: ctx} }

// Policy configures a traversal.
type Policy struct {
	// Excluded holds slash-separated relative paths whose subtrees are
	// skipped without being yielded.
	Excluded map[string]bool
	// ShouldFollowSymlink is consulted when a yielded symlink entry is
	// continued past. A non-nil replacement context causes the walker to
	// descend into the replacement's children. Nil means never follow.
	ShouldFollowSymlink func(absPath string, ctx *Context) *Context
	// YieldRoot yields the root itself as the first entry.
	YieldRoot bool
	// OnError receives per-entry traversal errors (unreadable directory,
	// vanished entry). The traversal continues past them.
	OnError func(path string, err error)
}

// Entry is one yielded filesystem entry.
type Entry struct {
	AbsPath string
	RelPath string // slash-separated, relative to the traversal root
	Context *Context
}

// CompletionHook is notified when a directory's last descendant has been
// produced. Hooks run synchronously inside Next, in registration order.
type CompletionHook func(ctx *Context)

// frame is one directory being enumerated.
type frame struct {
	ctx     *Context // the directory's own context (possibly substituted)
	rel     string   // relative path prefix for children ("" for root)
	entries []string // child names, sorted
	next    int
	yielded *Context // original yielded context, for completion hooks
}

// Walker is a single-use traversal cursor.
type Walker struct {
	root   string
	policy Policy
	hooks  []CompletionHook

	stack   []*frame
	pending *Entry   // yielded, awaiting a decision
	decided Decision // decision for pending
	hasDec  bool
	started bool
	done    bool
	nextID  NodeID
}

// New creates a walker rooted at root. The root must be a directory.
func New(root string, policy Policy) (*Walker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("walk %s: not a directory", abs)
	}
	return &Walker{root: abs, policy: policy}, nil
}

// Root returns the absolute traversal root.
func (w *Walker) Root() string { return w.root }

// OnDirComplete registers a hook notified as each directory finishes.
func (w *Walker) OnDirComplete(h CompletionHook) {
	w.hooks = append(w.hooks, h)
}

// Decide records the caller's decision for the most recently yielded entry.
// Calling Next without deciding is equivalent to Continue.
func (w *Walker) Decide(d Decision) {
	if w.pending == nil {
		panic("walker: Decide with no pending entry")
	}
	w.decided = d
	w.hasDec = true
}

func (w *Walker) newContext(name, abs string, parent *Context) *Context {
	c := &Context{id: w.nextID, name: name, abs: abs, parent: parent}
	w.nextID++
	return c
}

// Next advances to the next entry in pre-order. ok is false when the
// traversal is exhausted; after that every call returns false.
func (w *Walker) Next() (entry Entry, ok bool) {
	if w.done {
		return Entry{}, false
	}
	if !w.started {
		w.started = true
		rootCtx := w.newContext(filepath.Base(w.root), w.root, nil)
		w.pushDir(rootCtx, "", rootCtx)
		if w.policy.YieldRoot {
			return w.yield(Entry{AbsPath: w.root, RelPath: ".", Context: rootCtx})
		}
	}
	w.applyPending()

	for len(w.stack) > 0 {
		top := w.stack[len(w.stack)-1]
		if top.next >= len(top.entries) {
			w.complete(top.yielded)
			w.stack = w.stack[:len(w.stack)-1]
			continue
		}
		name := top.entries[top.next]
		top.next++

		rel := name
		if top.rel != "" {
			rel = top.rel + "/" + name
		}
		if w.policy.Excluded[rel] {
			continue
		}
		abs := filepath.Join(top.ctx.abs, name)
		ctx := w.newContext(name, abs, top.ctx)
		return w.yield(Entry{AbsPath: abs, RelPath: rel, Context: ctx})
	}
	w.done = true
	return Entry{}, false
}

func (w *Walker) yield(e Entry) (Entry, bool) {
	w.pending = &e
	w.hasDec = false
	return e, true
}

// applyPending consumes the decision for the last yielded entry, descending
// where the decision calls for it.
func (w *Walker) applyPending() {
	if w.pending == nil {
		return
	}
	e := *w.pending
	d := w.decided
	if !w.hasDec {
		d = Continue()
	}
	w.pending = nil

	// The root frame is already pushed when the root itself is yielded.
	if e.RelPath == "." {
		if d.kind == decideExclude {
			w.stack = w.stack[:0]
			w.done = true
		}
		return
	}

	switch d.kind {
	case decideExclude:
		return
	case decideSubstitute:
		w.pushDir(d.sub, e.RelPath, e.Context)
	case decideContinue:
		if e.Context.IsSymlink() && w.policy.ShouldFollowSymlink != nil {
			if sub := w.policy.ShouldFollowSymlink(e.AbsPath, e.Context); sub != nil && sub.IsDir() {
				w.pushDir(sub, e.RelPath, e.Context)
			}
			return
		}
		if e.Context.IsDir() {
			w.pushDir(e.Context, e.RelPath, e.Context)
		}
	}
}

// pushDir lists ctx's children and pushes an enumeration frame. A directory
// that cannot be listed is reported through OnError and completed empty.
func (w *Walker) pushDir(ctx *Context, rel string, yielded *Context) {
	if !ctx.IsDir() {
		return
	}
	names, err := readDirNames(ctx.abs)
	if err != nil {
		if w.policy.OnError != nil {
			w.policy.OnError(ctx.abs, err)
		}
	}
	w.stack = append(w.stack, &frame{ctx: ctx, rel: rel, entries: names, yielded: yielded})
}

func (w *Walker) complete(ctx *Context) {
	for _, h := range w.hooks {
		h(ctx)
	}
}

// readDirNames lists a directory in batches so enormous directories do not
// force one huge allocation, then sorts for deterministic traversal order.
func readDirNames(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	const batchSize = 1000
	var names []string
	for {
		batch, err := f.Readdirnames(batchSize)
		names = append(names, batch...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return names, err
		}
		if len(batch) == 0 {
			break
		}
	}
	sort.Strings(names)
	return names, nil
}
