package walker

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveSymlinkTarget follows a symlink chain one hop at a time and returns
// a replacement context rooted at the final target, or nil when the link
// must not be followed.
//
// Full-path resolution (filepath.EvalSymlinks) is deliberately avoided: it
// would resolve intermediate hops silently, and a hop crossing into a
// boundary path mid-chain has to be refused, not skipped over. After every
// hop the new target is checked against each boundary; a target at or under
// a boundary (the repository root, typically) is refused to avoid indexing
// the same content twice. Cycles are detected by tracking every absolute
// path visited in the chain. A broken link or an inaccessible final target
// also yields nil.
func (w *Walker) ResolveSymlinkTarget(absPath string, ctx *Context, boundaries []string) *Context {
	target, info, ok := ResolveSymlink(absPath, boundaries)
	if !ok {
		return nil
	}
	sub := w.newContext(ctx.Name(), target, ctx.Parent())
	sub.statted, sub.info, sub.statErr = true, info, nil
	return sub
}

// ResolveSymlink is the walker-independent core of symlink resolution:
// it returns the chain's final target path and lstat result, or ok=false
// when the link must not be followed. Consumers reconciling previously
// indexed links apply the same hop, boundary and cycle rules as discovery.
func ResolveSymlink(absPath string, boundaries []string) (string, os.FileInfo, bool) {
	visited := map[string]bool{absPath: true}
	current := absPath

	for {
		target, err := os.Readlink(current)
		if err != nil {
			return "", nil, false // not a symlink, or vanished mid-walk
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(current), target)
		}
		target = filepath.Clean(target)

		if underAny(target, boundaries) {
			return "", nil, false
		}
		if visited[target] {
			return "", nil, false // cycle
		}
		visited[target] = true

		info, err := os.Lstat(target)
		if err != nil {
			return "", nil, false // broken link
		}
		if info.Mode()&os.ModeSymlink != 0 {
			current = target
			continue
		}
		return target, info, true
	}
}

// underAny reports whether path equals or lies under any of the boundaries.
func underAny(path string, boundaries []string) bool {
	for _, b := range boundaries {
		b = filepath.Clean(b)
		if path == b || strings.HasPrefix(path, b+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
