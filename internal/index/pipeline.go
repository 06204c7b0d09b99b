// Package index keeps the persisted signature and equivalence-class index
// in step with the filesystem.
//
// # Architecture Overview
//
// A refresh runs two reconciliation passes concurrently:
//
//  1. REGISTERED PASS (step "cleanup")
//     - One task per registered signature
//     - Vanished files have their class membership and signature removed
//     - Files with a newer mtime (or an unresolved class) are cleaned up
//       and re-indexed with fresh content
//
//  2. DISCOVERY PASS (step "assign")
//     - The tree walker yields every live entry in pre-order
//     - Files without a signature are hashed and assigned to an
//       equivalence class under their digest
//     - A directory-completion listener per directory aggregates child
//       outcomes; callbacks are serialized so at most one directory
//       finalizes at a time
//
// # Synchronization Primitives
//
//	┌──────────────┬──────────────────────────────────────────────────┐
//	│ Primitive    │ Purpose                                          │
//	├──────────────┼──────────────────────────────────────────────────┤
//	│ digest locks │ Serialize class mutation per digest              │
//	│ offload      │ Bounds in-flight hash/compare units              │
//	│ errgroup     │ Fail-together scope: first error propagates      │
//	│              │ after in-flight tasks drain                      │
//	│ coordinator  │ Serialized per-directory completion callbacks    │
//	└──────────────┴──────────────────────────────────────────────────┘
//
// # Class Assignment
//
// The per-digest lock is what makes assignment race-free: without it, two
// tasks sharing a digest could both observe "no class yet", both pick class
// id 0, and create overlapping classes for genuinely different content.
// Under the lock, the new file is byte-compared against one representative
// of each existing class for its digest; the first match reuses that class
// id, and no match allocates the next dense id, distinguishing a true hash
// collision from a content match.
//
// The signature registration order is deliberate: register with the class
// unresolved, add the path to the chosen class, then resolve the class id
// as the final step. A concurrent cleanup can therefore never observe a
// path registered in a class set without a resolvable signature, and a
// reader never observes a signature pointing at a class the path has
// already left.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dupidx/dupidx/internal/dircomplete"
	"github.com/dupidx/dupidx/internal/keyedmutex"
	"github.com/dupidx/dupidx/internal/progress"
	"github.com/dupidx/dupidx/internal/store"
	"github.com/dupidx/dupidx/internal/types"
	"github.com/dupidx/dupidx/internal/walker"
)

// Options configures a pipeline run.
type Options struct {
	Workers            int        // hashing parallelism (default NumCPU)
	ThrottleMultiplier int        // in-flight units per worker (default 2)
	Excluded           []string   // repository-relative paths to skip
	FollowSymlinks     bool       // descend into out-of-boundary symlink targets
	Boundaries         []string   // absolute paths symlinks must not resolve into
	ShowProgress       bool       // display progress spinner
	ErrCh              chan error // non-fatal errors (unreadable directories)
}

// Pipeline brings the index up to date with the repository tree.
//
// The pipeline is designed for single-use: create with New, call Refresh or
// Rebuild once.
type Pipeline struct {
	// Config (immutable, set by New)
	store *store.Store
	root  string
	opts  Options
	log   *logrus.Entry

	locks   *keyedmutex.Table[types.Digest]
	offload *Offload

	// Runtime (initialized in Refresh)
	known map[string]types.FileSignature
	stats *stats
	bar   *progress.Bar
}

// New creates a Pipeline over the repository rooted at root.
func New(st *store.Store, root string, opts Options) *Pipeline {
	return &Pipeline{
		store:   st,
		root:    filepath.Clean(root),
		opts:    opts,
		log:     logrus.WithField("component", "index"),
		locks:   keyedmutex.New[types.Digest](),
		offload: NewOffload(opts.Workers, opts.ThrottleMultiplier),
	}
}

// stats tracks pipeline progress using atomic counters for lock-free
// updates from concurrent tasks.
type stats struct {
	indexed      atomic.Int64 // newly assigned signatures
	refreshed    atomic.Int64 // stale signatures re-indexed
	removed      atomic.Int64 // vanished signatures cleaned up
	unchanged    atomic.Int64 // signatures already current
	indexedBytes atomic.Int64
	startTime    time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Indexed %d files (%s), refreshed %d, removed %d, unchanged %d in %.1fs",
		s.indexed.Load(), humanize.IBytes(uint64(s.indexedBytes.Load())),
		s.refreshed.Load(), s.removed.Load(), s.unchanged.Load(),
		time.Since(s.startTime).Seconds())
}

// dirSummary is the per-directory aggregation payload flowing up the
// completion coordinator.
type dirSummary struct {
	Items int64
	Bytes int64
}

// Rebuild truncates the entire persisted index, re-runs Refresh, and
// records the active hash algorithm identifier.
func (p *Pipeline) Rebuild(ctx context.Context) error {
	if err := p.store.Truncate(); err != nil {
		return err
	}
	if err := p.Refresh(ctx); err != nil {
		return err
	}
	return p.store.SetHashAlgorithm(types.HashAlgorithm)
}

// Refresh reconciles every registered signature against the live tree and
// assigns every unregistered file to an equivalence class. The first task
// failure is propagated after all in-flight tasks have been allowed to
// finish; the index stays consistent for every file that did complete.
func (p *Pipeline) Refresh(ctx context.Context) error {
	// Initialize runtime fields
	p.stats = &stats{startTime: time.Now()}
	p.bar = progress.New(p.opts.ShowProgress, -1)
	p.bar.Describe(p.stats)

	p.known = make(map[string]types.FileSignature)
	if err := p.store.ForEachSignature(func(sig types.FileSignature) error {
		p.known[sig.Path] = sig
		return nil
	}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	// Registered pass: one task per known signature.
	for _, sig := range p.known {
		sig := sig
		if gctx.Err() != nil {
			break // stop admitting, let in-flight drain
		}
		g.Go(func() error { return p.reconcile(gctx, sig) })
	}

	// Discovery pass: walk the live tree, scheduling unregistered files.
	coord, err := p.discoverTree(g, gctx)
	if err != nil {
		_ = g.Wait()
		return err
	}

	err = g.Wait()
	// Every scheduled child has resolved once the group drains; only now
	// does the coordinator's wait cover the full callback cascade.
	coord.Wait()
	if err == nil {
		// A cancellation that outran task admission still fails the run.
		err = ctx.Err()
	}
	p.bar.Finish(p.stats)
	return err
}

// discoverTree drives the walker, wiring a completion listener per
// directory and a hashing task per unregistered file.
func (p *Pipeline) discoverTree(g *errgroup.Group, gctx context.Context) (*dircomplete.Coordinator[dirSummary], error) {
	w, err := walker.New(p.root, walker.Policy{
		Excluded:  excludedSet(p.opts.Excluded),
		YieldRoot: true,
		OnError:   p.sendError,
	})
	if err != nil {
		return nil, err
	}

	coord := dircomplete.NewCoordinator[dirSummary]()
	listeners := make(map[walker.NodeID]*dircomplete.Listener[dirSummary])
	w.OnDirComplete(func(ctx *walker.Context) {
		if l := listeners[ctx.ID()]; l != nil {
			l.Complete()
		}
	})
	listenerFor := func(ctx *walker.Context) *dircomplete.Listener[dirSummary] {
		if ctx == nil {
			return nil
		}
		return listeners[ctx.ID()]
	}

	for entry, ok := w.Next(); ok; entry, ok = w.Next() {
		if gctx.Err() != nil {
			break
		}
		ctx := entry.Context

		if ctx.IsDir() {
			l := coord.Listen(listenerFor(ctx.Parent()), entry.RelPath, p.dirCallback(entry.RelPath))
			listeners[ctx.ID()] = l
			continue
		}

		if ctx.IsSymlink() {
			if !p.opts.FollowSymlinks {
				continue
			}
			sub := w.ResolveSymlinkTarget(entry.AbsPath, ctx, p.opts.Boundaries)
			if sub == nil {
				continue
			}
			if sub.IsDir() {
				// The walker completes substituted subtrees against the
				// symlink's own context; children resolve into the same
				// listener through the substituted context's id.
				l := coord.Listen(listenerFor(ctx.Parent()), entry.RelPath, p.dirCallback(entry.RelPath))
				listeners[ctx.ID()] = l
				listeners[sub.ID()] = l
				w.Decide(walker.Substitute(sub))
				continue
			}
			p.scheduleFile(g, gctx, listenerFor(ctx.Parent()), entry.RelPath, sub.AbsPath())
			continue
		}

		info, err := ctx.Lstat()
		if err != nil {
			p.sendError(entry.AbsPath, err)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		p.scheduleFile(g, gctx, listenerFor(ctx.Parent()), entry.RelPath, entry.AbsPath)
	}

	return coord, nil
}

// scheduleFile attaches the file to its directory's listener and runs the
// discovery task in the errgroup scope.
func (p *Pipeline) scheduleFile(g *errgroup.Group, gctx context.Context, l *dircomplete.Listener[dirSummary], rel, abs string) {
	if l != nil {
		l.Expect()
	}
	g.Go(func() error {
		summary, err := p.discover(gctx, rel, abs)
		if l != nil {
			l.Resolve(dircomplete.Result[dirSummary]{Path: rel, Value: summary, Err: err})
		}
		return err
	})
}

// discover indexes one walked file that has no current signature. Files the
// registered pass owns are counted and left alone.
func (p *Pipeline) discover(gctx context.Context, rel, abs string) (dirSummary, error) {
	info, err := os.Lstat(abs)
	if err != nil {
		return dirSummary{}, fmt.Errorf("%s: %w", abs, err)
	}
	summary := dirSummary{Items: 1, Bytes: info.Size()}
	if _, registered := p.known[rel]; registered {
		return summary, nil
	}
	if err := p.assign(gctx, rel, abs, info.ModTime().UnixNano(), info.Size()); err != nil {
		return dirSummary{}, err
	}
	return summary, nil
}

// reconcile brings one registered signature up to date (refresh step 2).
func (p *Pipeline) reconcile(gctx context.Context, sig types.FileSignature) error {
	abs := filepath.Join(p.root, sig.Path)
	info, err := os.Lstat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := p.cleanup(sig); err != nil {
			return err
		}
		p.stats.removed.Add(1)
		p.bar.Describe(p.stats)
		p.log.WithField("path", sig.Path).Debug("signature removed")
		return nil
	case err != nil:
		return fmt.Errorf("%s: %w", abs, err)
	case info.Mode().IsRegular():
		return p.reconcileContent(gctx, sig, abs, info)
	default:
		// A followed symlink was indexed from its resolved target, so it
		// reconciles against the target too, under the same boundary rules
		// discovery applied.
		if info.Mode()&os.ModeSymlink != 0 && p.opts.FollowSymlinks {
			if target, tinfo, ok := walker.ResolveSymlink(abs, p.opts.Boundaries); ok && tinfo.Mode().IsRegular() {
				return p.reconcileContent(gctx, sig, target, tinfo)
			}
		}
		// Replaced by a directory, device, or an unfollowable link: same
		// as vanished.
		if err := p.cleanup(sig); err != nil {
			return err
		}
		p.stats.removed.Add(1)
		p.bar.Describe(p.stats)
		return nil
	}
}

// reconcileContent compares one signature against live file metadata,
// re-indexing a stale or unresolved entry from abs.
func (p *Pipeline) reconcileContent(gctx context.Context, sig types.FileSignature, abs string, info os.FileInfo) error {
	if info.ModTime().UnixNano() > sig.MTimeNS || !sig.Resolved() {
		if err := p.cleanup(sig); err != nil {
			return err
		}
		if err := p.assign(gctx, sig.Path, abs, info.ModTime().UnixNano(), info.Size()); err != nil {
			return err
		}
		p.stats.refreshed.Add(1)
		p.bar.Describe(p.stats)
		return nil
	}
	p.stats.unchanged.Add(1)
	p.bar.Describe(p.stats)
	return nil
}

// cleanup removes a signature's class membership and deregisters it. The
// signature's class id is cleared before the per-digest lock is taken so a
// concurrent reader never observes it pointing at a class the path has
// already left.
func (p *Pipeline) cleanup(sig types.FileSignature) error {
	cleared := sig
	cleared.ClassID = types.ClassUnresolved
	if err := p.store.Register(cleared); err != nil {
		return err
	}

	err := p.locks.With(sig.Digest, func() error {
		if sig.Resolved() {
			return p.store.RemovePaths(sig.Digest, sig.ClassID, []string{sig.Path})
		}
		// Unresolved: the path may sit in any class under the digest from
		// an interrupted migration. Sweep them all.
		classes, err := p.store.ListClasses(sig.Digest)
		if err != nil {
			return err
		}
		for _, c := range classes {
			if err := p.store.RemovePaths(sig.Digest, c.ID, []string{sig.Path}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return p.store.Deregister(sig.Path)
}

// assign computes a file's digest and places it in an equivalence class
// (refresh step 3).
func (p *Pipeline) assign(gctx context.Context, rel, abs string, mtimeNS, size int64) error {
	digest, err := p.offload.DigestFile(gctx, abs)
	if err != nil {
		return fmt.Errorf("%s: %w", abs, err)
	}

	return p.locks.With(digest, func() error {
		classes, err := p.store.ListClasses(digest)
		if err != nil {
			return err
		}
		chosen := types.ClassUnresolved
		for _, c := range classes {
			if len(c.Paths) == 0 {
				continue
			}
			equal, err := p.offload.FilesEqual(gctx, abs, filepath.Join(p.root, c.Paths[0]))
			if err != nil {
				// The digest's class set must not be mutated past an
				// unverifiable representative.
				return fmt.Errorf("compare %s: %w", abs, err)
			}
			if equal {
				chosen = c.ID
				break
			}
		}
		if chosen == types.ClassUnresolved {
			// Hash collision or first file under the digest: a new class.
			chosen = store.NextClassID(classes)
		}

		sig := types.FileSignature{Path: rel, Digest: digest, MTimeNS: mtimeNS, ClassID: types.ClassUnresolved}
		if err := p.store.Register(sig); err != nil {
			return err
		}
		if err := p.store.AddPaths(digest, chosen, []string{rel}); err != nil {
			return err
		}
		sig.ClassID = chosen
		if err := p.store.Register(sig); err != nil {
			return err
		}

		p.stats.indexed.Add(1)
		p.stats.indexedBytes.Add(size)
		p.bar.Describe(p.stats)
		p.log.WithFields(logrus.Fields{
			"path": rel, "digest": digest.Short(), "class": chosen,
		}).Debug("signature assigned")
		return nil
	})
}

// dirCallback aggregates one directory's child results. Callbacks run one
// at a time across the whole traversal.
func (p *Pipeline) dirCallback(rel string) dircomplete.Callback[dirSummary] {
	return func(results []dircomplete.Result[dirSummary]) (dirSummary, error) {
		var sum dirSummary
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
				continue
			}
			sum.Items += r.Value.Items
			sum.Bytes += r.Value.Bytes
		}
		p.log.WithFields(logrus.Fields{
			"dir": rel, "items": sum.Items, "failed": failed,
		}).Debug("directory completed")
		return sum, nil
	}
}

// sendError reports a non-fatal traversal error.
func (p *Pipeline) sendError(path string, err error) {
	if p.opts.ErrCh != nil {
		p.opts.ErrCh <- fmt.Errorf("%s: %v", path, err)
	}
}

func excludedSet(paths []string) map[string]bool {
	if len(paths) == 0 {
		return nil
	}
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[filepath.ToSlash(filepath.Clean(p))] = true
	}
	return set
}
