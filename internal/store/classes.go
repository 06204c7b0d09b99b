package store

import (
	"bytes"
	"slices"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/dupidx/dupidx/internal/types"
)

// Class is one equivalence class under a digest: a set of paths verified
// byte-identical to each other. Paths are kept sorted for determinism.
type Class struct {
	ID    int32
	Paths []string
}

// classGroup is the stored form: one digest's classes inside a storage-key
// bucket entry. A storage key may hold groups for several digests when
// their xxhash keys collide.
type classGroup struct {
	Digest  []byte   `msgpack:"d"`
	ClassID int32    `msgpack:"c"`
	Paths   []string `msgpack:"p"`
}

func decodeClassGroups(v []byte) ([]classGroup, error) {
	if len(v) == 0 {
		return nil, nil
	}
	var groups []classGroup
	if err := msgpack.Unmarshal(v, &groups); err != nil {
		return nil, errors.Wrap(err, "decode class groups")
	}
	return groups, nil
}

func encodeClassGroups(groups []classGroup) ([]byte, error) {
	v, err := msgpack.Marshal(groups)
	return v, errors.Wrap(err, "encode class groups")
}

// ListClasses returns every equivalence class persisted under digest,
// ordered by class id. Returns nil when the digest is unknown.
func (s *Store) ListClasses(digest types.Digest) ([]Class, error) {
	var classes []Class
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(classesBucket)).Get(hashKey(digest[:]))
		groups, err := decodeClassGroups(v)
		if err != nil {
			return err
		}
		for _, g := range groups {
			if !bytes.Equal(g.Digest, digest[:]) {
				continue // another digest sharing the storage key
			}
			classes = append(classes, Class{ID: g.ClassID, Paths: slices.Clone(g.Paths)})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list classes for %s", digest.Short())
	}
	slices.SortFunc(classes, func(a, b Class) int { return int(a.ID - b.ID) })
	return classes, nil
}

// AddPaths adds paths to the (digest, classID) class, creating it if absent.
// Re-adding an already-present path is a no-op.
func (s *Store) AddPaths(digest types.Digest, classID int32, paths []string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(classesBucket))
		key := hashKey(digest[:])
		groups, err := decodeClassGroups(b.Get(key))
		if err != nil {
			return err
		}
		idx := slices.IndexFunc(groups, func(g classGroup) bool {
			return bytes.Equal(g.Digest, digest[:]) && g.ClassID == classID
		})
		if idx < 0 {
			groups = append(groups, classGroup{Digest: append([]byte(nil), digest[:]...), ClassID: classID})
			idx = len(groups) - 1
		}
		for _, p := range paths {
			if !slices.Contains(groups[idx].Paths, p) {
				groups[idx].Paths = append(groups[idx].Paths, p)
			}
		}
		slices.Sort(groups[idx].Paths)
		v, err := encodeClassGroups(groups)
		if err != nil {
			return err
		}
		return b.Put(key, v)
	})
	return errors.Wrapf(err, "add paths to class (%s, %d)", digest.Short(), classID)
}

// RemovePaths removes paths from the (digest, classID) class. Paths not in
// the class are silently ignored; a class emptied of paths is deleted, and
// a storage key emptied of groups is deleted.
func (s *Store) RemovePaths(digest types.Digest, classID int32, paths []string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(classesBucket))
		key := hashKey(digest[:])
		groups, err := decodeClassGroups(b.Get(key))
		if err != nil {
			return err
		}
		idx := slices.IndexFunc(groups, func(g classGroup) bool {
			return bytes.Equal(g.Digest, digest[:]) && g.ClassID == classID
		})
		if idx < 0 {
			return nil
		}
		groups[idx].Paths = slices.DeleteFunc(groups[idx].Paths, func(p string) bool {
			return slices.Contains(paths, p)
		})
		if len(groups[idx].Paths) == 0 {
			groups = slices.Delete(groups, idx, idx+1)
		}
		if len(groups) == 0 {
			return b.Delete(key)
		}
		v, err := encodeClassGroups(groups)
		if err != nil {
			return err
		}
		return b.Put(key, v)
	})
	return errors.Wrapf(err, "remove paths from class (%s, %d)", digest.Short(), classID)
}

// NextClassID returns the lowest unused class id among classes: the max
// existing id plus one, or zero for an empty set. The class list must have
// been read under the per-digest lock for the returned id to stay
// available.
func NextClassID(classes []Class) int32 {
	next := int32(0)
	for _, c := range classes {
		if c.ID >= next {
			next = c.ID + 1
		}
	}
	return next
}
