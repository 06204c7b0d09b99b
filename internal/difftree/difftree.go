// Package difftree renders persisted duplicate verdicts as a tree.
//
// The printer is a read-only consumer of DuplicateRecords: it never
// re-compares content or metadata, only classifies each analyzed node from
// the record's Identical/Superset/DuplicatedItems signals. A directory
// whose content matches but whose verdict is not identical is rendered as
// "differs" even when only metadata diverges; the stored signals cannot
// distinguish that from a differing descendant, and the classifier resolves
// the ambiguity conservatively.
package difftree

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/dupidx/dupidx/internal/dup"
	"github.com/dupidx/dupidx/internal/store"
	"github.com/dupidx/dupidx/internal/types"
)

// Status classifies one analyzed node against one candidate path.
type Status int

const (
	// StatusSame: the candidate is an exact copy under the record's rule.
	StatusSame Status = iota
	// StatusDiffers: content or metadata diverges somewhere below.
	StatusDiffers
	// StatusMissing: the node's content is absent from the candidate.
	StatusMissing
	// StatusUnknown: no record exists for the node.
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusSame:
		return "same"
	case StatusDiffers:
		return "differs"
	case StatusMissing:
		return "missing"
	default:
		return "not analyzed"
	}
}

// Printer renders the analyzed tree with per-node statuses.
type Printer struct {
	store        *store.Store
	repositoryID string
	w            io.Writer
}

// New creates a Printer writing to w, verifying every consulted record
// against repositoryID.
func New(st *store.Store, repositoryID string, w io.Writer) *Printer {
	return &Printer{store: st, repositoryID: repositoryID, w: w}
}

// Print walks the analyzed tree and prints each node's status against the
// corresponding path under the candidate. candidateRel is the candidate
// root, repository-relative. The analyzed root must have been analyzed:
// a missing root record is an error, missing descendant records render as
// "not analyzed".
func (p *Printer) Print(analyzedRoot, candidateRel string) error {
	abs, err := filepath.Abs(analyzedRoot)
	if err != nil {
		return err
	}
	status, err := p.classify(abs, candidateRel, true)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.w, "%s  [%s]\n", displayName(abs, ""), status)
	if status == StatusSame {
		return nil // everything below is an exact copy
	}
	return p.printChildren(abs, candidateRel, "  ")
}

func (p *Printer) printChildren(abs, candidateRel, indent string) error {
	info, err := os.Lstat(abs)
	if err != nil || !info.IsDir() {
		return nil
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil // unreadable analyzed dir: nothing to render below
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if !e.IsDir() && !e.Type().IsRegular() {
			continue
		}
		childAbs := filepath.Join(abs, e.Name())
		childCand := path.Join(candidateRel, e.Name())
		status, err := p.classify(childAbs, childCand, false)
		if err != nil {
			return err
		}
		fmt.Fprintf(p.w, "%s%s  [%s]\n", indent, displayName(childAbs, e.Name()), status)
		if e.IsDir() && status != StatusSame && status != StatusUnknown {
			if err := p.printChildren(childAbs, childCand, indent+"  "); err != nil {
				return err
			}
		}
	}
	return nil
}

// classify looks up the node's record and the match for its candidate.
func (p *Printer) classify(abs, candidateRel string, required bool) (Status, error) {
	recPath, err := dup.RecordPath(abs)
	if err != nil {
		return StatusUnknown, err
	}
	rec, found, err := p.store.GetReport(recPath)
	if err != nil {
		return StatusUnknown, err
	}
	if !found {
		if required {
			return StatusUnknown, fmt.Errorf("no analysis record for %s (run analyze first)", abs)
		}
		return StatusUnknown, nil
	}
	if rec.RepositoryID != p.repositoryID {
		return StatusUnknown, fmt.Errorf("record for %s belongs to repository %s, current repository is %s",
			abs, rec.RepositoryID, p.repositoryID)
	}
	return classifyMatch(rec, candidateRel), nil
}

func classifyMatch(rec *types.DuplicateRecord, candidateRel string) Status {
	for i := range rec.Matches {
		m := &rec.Matches[i]
		if m.Path != candidateRel {
			continue
		}
		if m.Identical {
			return StatusSame
		}
		return StatusDiffers
	}
	return StatusMissing
}

func displayName(abs, name string) string {
	if name == "" {
		name = filepath.Base(abs)
	}
	if info, err := os.Lstat(abs); err == nil && info.IsDir() {
		return name + "/"
	}
	return name
}
