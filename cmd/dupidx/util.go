package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dupidx/dupidx/internal/config"
	"github.com/dupidx/dupidx/internal/index"
	"github.com/dupidx/dupidx/internal/progress"
	"github.com/dupidx/dupidx/internal/store"
)

const repoEnvName = config.EnvRepo

// repoEnv bundles an opened repository: its root, settings, index store and
// identity.
type repoEnv struct {
	root string
	cfg  config.Config
	st   *store.Store
	id   string
}

// openRepo locates and opens the repository for a command invocation.
func openRepo(opts *globalOptions) (*repoEnv, error) {
	root, err := config.Locate(opts.repo)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(config.IndexPath(root))
	if err != nil {
		return nil, err
	}
	id, err := st.RepositoryID()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &repoEnv{root: root, cfg: cfg, st: st, id: id}, nil
}

func (e *repoEnv) close() {
	_ = e.st.Close()
}

// pipelineOptions assembles index.Options from repository settings. The
// marker directory is always excluded from traversal, and the repository
// root is always a symlink boundary.
func (e *repoEnv) pipelineOptions(opts *globalOptions, errCh chan error) index.Options {
	return index.Options{
		Workers:            e.cfg.Workers,
		ThrottleMultiplier: e.cfg.ThrottleMultiplier,
		Excluded:           append([]string{config.MarkerDir}, e.cfg.Exclude...),
		FollowSymlinks:     e.cfg.FollowSymlinks,
		Boundaries:         append([]string{e.root}, e.cfg.SymlinkBoundaries...),
		ShowProgress:       !opts.noProgress,
		ErrCh:              errCh,
	}
}

// repoRelative converts a path argument into its repository-relative slash
// form, rejecting paths outside the repository.
func (e *repoEnv) repoRelative(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(e.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not inside repository %s", abs, e.root)
	}
	return filepath.ToSlash(rel), nil
}

// drainErrors consumes non-fatal errors and writes them to stderr, clearing
// the progress line first to avoid visual collision.
func drainErrors(errs <-chan error) {
	for err := range errs {
		progress.ClearLine(os.Stderr)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}
