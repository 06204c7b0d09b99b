package walker

import (
	"os"
	"syscall"

	"github.com/dupidx/dupidx/internal/types"
)

// NodeID identifies a context within one traversal. Collaborators keep
// per-traversal side state in their own maps keyed by NodeID instead of
// attaching it to the context itself.
type NodeID int

// Context describes one filesystem entry under traversal. Metadata is
// fetched lazily with lstat (symlinks describe themselves) and cached.
type Context struct {
	id     NodeID
	name   string
	abs    string // the entry's own absolute path
	parent *Context

	statted bool
	info    os.FileInfo
	statErr error
}

// ID returns the context's traversal-scoped identity.
func (c *Context) ID() NodeID { return c.id }

// Name returns the entry's base name.
func (c *Context) Name() string { return c.name }

// AbsPath returns the entry's absolute path.
func (c *Context) AbsPath() string { return c.abs }

// Parent returns the enclosing directory's context, nil for the root.
func (c *Context) Parent() *Context { return c.parent }

// Lstat returns the entry's metadata without following symlinks. The first
// call hits the filesystem; the result, including any error, is cached.
func (c *Context) Lstat() (os.FileInfo, error) {
	if !c.statted {
		c.info, c.statErr = os.Lstat(c.abs)
		c.statted = true
	}
	return c.info, c.statErr
}

// IsDir reports whether the entry is a directory (not following symlinks).
func (c *Context) IsDir() bool {
	info, err := c.Lstat()
	return err == nil && info.IsDir()
}

// IsSymlink reports whether the entry is a symbolic link.
func (c *Context) IsSymlink() bool {
	info, err := c.Lstat()
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// Meta samples the six rule-selectable metadata fields from the entry.
func (c *Context) Meta() (types.ItemMeta, error) {
	info, err := c.Lstat()
	if err != nil {
		return types.ItemMeta{}, err
	}
	return MetaFromFileInfo(info), nil
}

// MetaFromFileInfo extracts rule-selectable metadata from a stat result.
func MetaFromFileInfo(info os.FileInfo) types.ItemMeta {
	stat := info.Sys().(*syscall.Stat_t)
	return types.ItemMeta{
		MTimeNS: stat.Mtim.Nano(),
		ATimeNS: stat.Atim.Nano(),
		CTimeNS: stat.Ctim.Nano(),
		Mode:    uint32(info.Mode().Perm()),
		UID:     stat.Uid,
		GID:     stat.Gid,
	}
}
