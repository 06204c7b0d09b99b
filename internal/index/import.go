package index

import (
	"fmt"
	"path"

	"github.com/dupidx/dupidx/internal/store"
	"github.com/dupidx/dupidx/internal/types"
)

// Import merges another repository's signatures into dst, re-rooting every
// path under prefix. Class membership is not copied: imported signatures
// arrive with an unresolved class id, and the next refresh re-verifies the
// live files and assigns classes through the normal per-digest protocol.
// Importing a repository into itself is rejected.
func Import(dst, src *store.Store, prefix string) (int, error) {
	dstID, err := dst.RepositoryID()
	if err != nil {
		return 0, err
	}
	srcID, err := src.RepositoryID()
	if err != nil {
		return 0, err
	}
	if dstID == srcID {
		return 0, fmt.Errorf("cannot import repository %s into itself", srcID)
	}

	count := 0
	err = src.ForEachSignature(func(sig types.FileSignature) error {
		sig.Path = path.Join(prefix, sig.Path)
		sig.ClassID = types.ClassUnresolved
		if err := dst.Register(sig); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}
