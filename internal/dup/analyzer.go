// Package dup detects duplicated content between arbitrary paths and the
// indexed repository.
//
// # Overview
//
// The analyzer walks an analyzed subtree depth-first, comparing it in
// lock-step against candidate repository paths discovered through the
// persisted equivalence classes.
//
// # Processing Pipeline
//
//	Input: analyzed path (file or directory, anywhere on the filesystem)
//	    │
//	    ├──► File: digest → equivalence classes for the digest →
//	    │        byte-compare against one representative per class →
//	    │        the matching class's members are the candidates
//	    │
//	    ├──► Directory: recurse over children, group child matches by
//	    │        candidate parent directory, reduce each group with
//	    │        matchReducer into identical/superset verdicts
//	    │
//	    └──► Output: one DuplicateRecord, persisted to the report store
//
// Candidates whose content differs from the analyzed side are excluded
// entirely; a content match with disagreeing metadata stays a match with
// Identical=false. Record-level duplicated totals count each analyzed item
// once no matter how many candidates matched it; per-candidate totals are
// local to that candidate.
package dup

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/dupidx/dupidx/internal/index"
	"github.com/dupidx/dupidx/internal/progress"
	"github.com/dupidx/dupidx/internal/store"
	"github.com/dupidx/dupidx/internal/types"
	"github.com/dupidx/dupidx/internal/walker"
)

// Analyzer computes duplicate records for analyzed paths against one
// repository.
//
// The analyzer is designed for single-use: create with New, call Analyze
// once per path.
type Analyzer struct {
	// Config (immutable, set by New)
	store        *store.Store
	repoRoot     string // absolute
	repositoryID string
	rule         types.MatchRule
	offload      *index.Offload
	showProgress bool
	errCh        chan error
	log          *logrus.Entry

	stats *stats
}

// New creates an Analyzer over the repository rooted at repoRoot.
func New(st *store.Store, repoRoot, repositoryID string, rule types.MatchRule, offload *index.Offload, showProgress bool, errCh chan error) *Analyzer {
	return &Analyzer{
		store:        st,
		repoRoot:     filepath.Clean(repoRoot),
		repositoryID: repositoryID,
		rule:         rule,
		offload:      offload,
		showProgress: showProgress,
		errCh:        errCh,
		log:          logrus.WithField("component", "analyze"),
		stats:        &stats{startTime: time.Now()},
	}
}

// stats tracks analysis progress.
type stats struct {
	analyzedItems   atomic.Int64
	analyzedBytes   atomic.Int64
	duplicatedItems atomic.Int64
	duplicatedBytes atomic.Int64
	startTime       time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Analyzed %d items (%s), duplicated %d (%s) in %.1fs",
		s.analyzedItems.Load(), humanize.IBytes(uint64(s.analyzedBytes.Load())),
		s.duplicatedItems.Load(), humanize.IBytes(uint64(s.duplicatedBytes.Load())),
		time.Since(s.startTime).Seconds())
}

// nodeResult is the rollup for one analyzed node. The duplicated totals are
// deduplicated (each analyzed item counted once regardless of how many
// candidates matched it); matches carry per-candidate local totals.
type nodeResult struct {
	totalSize  int64
	totalItems int64
	dupSize    int64
	dupItems   int64
	matches    []types.DuplicateMatch
}

// RecordPath canonicalizes an analyzed path into the form records are keyed
// by: cleaned absolute path expressed as a slash-joined component sequence.
func RecordPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return types.JoinPath(types.SplitPath(filepath.ToSlash(abs))), nil
}

// Analyze computes and persists the duplicate record for one analyzed path.
func (a *Analyzer) Analyze(ctx context.Context, analyzed string) (*types.DuplicateRecord, error) {
	abs, err := filepath.Abs(analyzed)
	if err != nil {
		return nil, err
	}
	if _, err := os.Lstat(abs); err != nil {
		return nil, fmt.Errorf("analyze %s: %w", analyzed, err)
	}

	bar := progress.New(a.showProgress, -1)
	bar.Describe(a.stats)

	node, err := a.analyzeNode(ctx, abs, bar)
	if err != nil {
		return nil, err
	}
	rec, err := a.record(abs, node)
	if err != nil {
		return nil, err
	}
	bar.Finish(a.stats)
	a.log.WithFields(logrus.Fields{
		"path": rec.Path, "matches": len(rec.Matches), "duplicated": rec.DuplicatedItems,
	}).Debug("record stored")
	return rec, nil
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// record builds the DuplicateRecord for one analyzed node.
func (a *Analyzer) record(abs string, node nodeResult) (*types.DuplicateRecord, error) {
	recPath, err := RecordPath(abs)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(node.matches, func(x, y types.DuplicateMatch) int {
		return compareStrings(x.Path, y.Path)
	})
	return &types.DuplicateRecord{
		Path:            recPath,
		RepositoryID:    a.repositoryID,
		TotalSize:       node.totalSize,
		TotalItems:      node.totalItems,
		DuplicatedSize:  node.dupSize,
		DuplicatedItems: node.dupItems,
		Matches:         node.matches,
	}, nil
}

// persistNode stores the record for one analyzed node. Every node in the
// analyzed tree gets a record, so describe and diff-tree can consult any
// subpath of a past analysis.
func (a *Analyzer) persistNode(abs string, node nodeResult) error {
	rec, err := a.record(abs, node)
	if err != nil {
		return err
	}
	return a.store.PutReport(rec)
}

func (a *Analyzer) analyzeNode(ctx context.Context, abs string, bar *progress.Bar) (nodeResult, error) {
	info, err := os.Lstat(abs)
	if err != nil {
		return nodeResult{}, fmt.Errorf("%s: %w", abs, err)
	}
	switch {
	case info.Mode().IsRegular():
		return a.analyzeFile(ctx, abs, info, bar)
	case info.IsDir():
		return a.analyzeDir(ctx, abs, info, bar)
	default:
		// Symlinks and special files carry no indexable content.
		return nodeResult{}, nil
	}
}

// analyzeFile is the aggregation base case: candidates are the members of
// the one equivalence class whose content matches the analyzed bytes.
func (a *Analyzer) analyzeFile(ctx context.Context, abs string, info os.FileInfo, bar *progress.Bar) (nodeResult, error) {
	size := info.Size()
	node := nodeResult{totalSize: size, totalItems: 1}
	meta := walker.MetaFromFileInfo(info)

	digest, err := a.offload.DigestFile(ctx, abs)
	if err != nil {
		return nodeResult{}, fmt.Errorf("%s: %w", abs, err)
	}
	classes, err := a.store.ListClasses(digest)
	if err != nil {
		return nodeResult{}, err
	}

	var candidates []string
	for _, c := range classes {
		if len(c.Paths) == 0 {
			continue
		}
		equal, err := a.offload.FilesEqual(ctx, abs, filepath.Join(a.repoRoot, c.Paths[0]))
		if err != nil {
			// Stale class representative: skip the class, keep analyzing.
			a.sendError(c.Paths[0], err)
			continue
		}
		if equal {
			candidates = c.Paths
			break
		}
	}

	for _, cand := range candidates {
		candAbs := filepath.Join(a.repoRoot, cand)
		if candAbs == abs {
			continue // the analyzed file itself, when analyzing inside the repository
		}
		candInfo, err := os.Lstat(candAbs)
		if err != nil {
			a.sendError(cand, err)
			continue
		}
		agreement := types.CompareMeta(meta, walker.MetaFromFileInfo(candInfo))
		exact := agreement.Satisfies(a.rule)
		node.matches = append(node.matches, types.DuplicateMatch{
			Path:            cand,
			Agreement:       agreement,
			DuplicatedSize:  size,
			DuplicatedItems: 1,
			Identical:       exact,
			Superset:        exact, // files are atomic: no partial match
			Rule:            a.rule,
		})
	}
	if len(node.matches) > 0 {
		node.dupSize = size
		node.dupItems = 1
		a.stats.duplicatedItems.Add(1)
		a.stats.duplicatedBytes.Add(size)
	}
	a.stats.analyzedItems.Add(1)
	a.stats.analyzedBytes.Add(size)
	bar.Describe(a.stats)
	if err := a.persistNode(abs, node); err != nil {
		return nodeResult{}, err
	}
	return node, nil
}

// analyzeDir recurses over children, then reduces the union of child names
// per candidate parent directory.
func (a *Analyzer) analyzeDir(ctx context.Context, abs string, info os.FileInfo, bar *progress.Bar) (nodeResult, error) {
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nodeResult{}, fmt.Errorf("%s: %w", abs, err)
	}

	var names []string
	children := make(map[string]nodeResult)
	var node nodeResult
	for _, e := range entries {
		if !e.IsDir() && !e.Type().IsRegular() {
			continue
		}
		child, err := a.analyzeNode(ctx, filepath.Join(abs, e.Name()), bar)
		if err != nil {
			return nodeResult{}, err
		}
		names = append(names, e.Name())
		children[e.Name()] = child
		node.totalSize += child.totalSize
		node.totalItems += child.totalItems
		node.dupSize += child.dupSize
		node.dupItems += child.dupItems
	}
	slices.Sort(names)

	// Group child matches by candidate parent directory. A child match at
	// D/name speaks for child "name" under candidate directory D only when
	// the names agree; content found under a different name never makes a
	// directory identical.
	byCandidate := make(map[string]map[string]types.DuplicateMatch)
	for name, child := range children {
		for _, m := range child.matches {
			if path.Base(m.Path) != name {
				continue
			}
			dir := path.Dir(m.Path)
			if byCandidate[dir] == nil {
				byCandidate[dir] = make(map[string]types.DuplicateMatch)
			}
			byCandidate[dir][name] = m
		}
	}

	dirMeta := walker.MetaFromFileInfo(info)
	candDirs := make([]string, 0, len(byCandidate))
	for d := range byCandidate {
		candDirs = append(candDirs, d)
	}
	slices.Sort(candDirs)

	for _, candDir := range candDirs {
		match, ok := a.reduceCandidate(abs, candDir, names, byCandidate[candDir], dirMeta)
		if ok {
			node.matches = append(node.matches, match)
		}
	}
	if err := a.persistNode(abs, node); err != nil {
		return nodeResult{}, err
	}
	return node, nil
}

// reduceCandidate runs the reducer for one candidate directory.
func (a *Analyzer) reduceCandidate(analyzedAbs, candDir string, names []string, childMatches map[string]types.DuplicateMatch, dirMeta types.ItemMeta) (types.DuplicateMatch, bool) {
	candAbs := filepath.Join(a.repoRoot, candDir)
	if candAbs == analyzedAbs {
		return types.DuplicateMatch{}, false
	}
	candInfo, err := os.Lstat(candAbs)
	if err != nil || !candInfo.IsDir() {
		return types.DuplicateMatch{}, false // candidate vanished since indexing
	}

	reducer := newMatchReducer()
	for _, name := range names {
		if m, ok := childMatches[name]; ok {
			reducer = reducer.withMatch(m)
		} else {
			reducer = reducer.withMissing()
		}
	}

	extra := false
	if candEntries, err := os.ReadDir(candAbs); err == nil {
		analyzed := make(map[string]bool, len(names))
		for _, n := range names {
			analyzed[n] = true
		}
		for _, e := range candEntries {
			if !e.IsDir() && !e.Type().IsRegular() {
				continue
			}
			if !analyzed[e.Name()] {
				extra = true
				break
			}
		}
	}

	dirAgreement := types.CompareMeta(dirMeta, walker.MetaFromFileInfo(candInfo))
	identical, superset, agreement := reducer.finish(dirAgreement, a.rule, extra)
	return types.DuplicateMatch{
		Path:            candDir,
		Agreement:       agreement,
		DuplicatedSize:  reducer.dupSize,
		DuplicatedItems: reducer.dupItems,
		Identical:       identical,
		Superset:        superset,
		Rule:            a.rule,
	}, true
}

// sendError reports a non-fatal per-candidate error.
func (a *Analyzer) sendError(path string, err error) {
	if a.errCh != nil {
		a.errCh <- fmt.Errorf("%s: %v", path, err)
	}
}
