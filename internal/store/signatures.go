package store

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/dupidx/dupidx/internal/types"
)

// sigEntry is the stored form of a file signature. Entries sharing an
// xxhash storage key live in one slice and are told apart by full path.
type sigEntry struct {
	Path    string `msgpack:"p"`
	Digest  []byte `msgpack:"d"`
	MTimeNS int64  `msgpack:"m"`
	ClassID int32  `msgpack:"c"`
}

func decodeSignatures(v []byte) ([]sigEntry, error) {
	if len(v) == 0 {
		return nil, nil
	}
	var entries []sigEntry
	if err := msgpack.Unmarshal(v, &entries); err != nil {
		return nil, errors.Wrap(err, "decode signatures")
	}
	return entries, nil
}

func (e sigEntry) signature() (types.FileSignature, error) {
	if len(e.Digest) != types.DigestSize {
		return types.FileSignature{}, errors.Errorf("signature for %s has %d-byte digest, want %d",
			e.Path, len(e.Digest), types.DigestSize)
	}
	sig := types.FileSignature{Path: e.Path, MTimeNS: e.MTimeNS, ClassID: e.ClassID}
	copy(sig.Digest[:], e.Digest)
	return sig, nil
}

// Register upserts a signature keyed by its path.
func (s *Store) Register(sig types.FileSignature) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(signaturesBucket))
		key := hashKey([]byte(sig.Path))
		entries, err := decodeSignatures(b.Get(key))
		if err != nil {
			return err
		}
		entry := sigEntry{
			Path:    sig.Path,
			Digest:  append([]byte(nil), sig.Digest[:]...),
			MTimeNS: sig.MTimeNS,
			ClassID: sig.ClassID,
		}
		idx := slices.IndexFunc(entries, func(e sigEntry) bool { return e.Path == sig.Path })
		if idx >= 0 {
			entries[idx] = entry
		} else {
			entries = append(entries, entry)
		}
		v, err := msgpack.Marshal(entries)
		if err != nil {
			return err
		}
		return b.Put(key, v)
	})
	return errors.Wrapf(err, "register signature for %s", sig.Path)
}

// Deregister removes the signature for path. Removing an absent path is a
// no-op.
func (s *Store) Deregister(path string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(signaturesBucket))
		key := hashKey([]byte(path))
		entries, err := decodeSignatures(b.Get(key))
		if err != nil {
			return err
		}
		trimmed := slices.DeleteFunc(entries, func(e sigEntry) bool { return e.Path == path })
		if len(trimmed) == len(entries) {
			return nil
		}
		if len(trimmed) == 0 {
			return b.Delete(key)
		}
		v, err := msgpack.Marshal(trimmed)
		if err != nil {
			return err
		}
		return b.Put(key, v)
	})
	return errors.Wrapf(err, "deregister signature for %s", path)
}

// Lookup returns the signature for path, with found=false when absent.
func (s *Store) Lookup(path string) (sig types.FileSignature, found bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		entries, err := decodeSignatures(tx.Bucket([]byte(signaturesBucket)).Get(hashKey([]byte(path))))
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Path != path {
				continue // another path sharing the storage key
			}
			sig, err = e.signature()
			found = err == nil
			return err
		}
		return nil
	})
	return sig, found, errors.Wrapf(err, "lookup signature for %s", path)
}

// ForEachSignature calls fn for every registered signature. The snapshot is
// taken inside one read transaction; fn must not mutate the store.
func (s *Store) ForEachSignature(fn func(types.FileSignature) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(signaturesBucket)).ForEach(func(_, v []byte) error {
			entries, err := decodeSignatures(v)
			if err != nil {
				return err
			}
			for _, e := range entries {
				sig, err := e.signature()
				if err != nil {
					return err
				}
				if err := fn(sig); err != nil {
					return err
				}
			}
			return nil
		})
	})
	return errors.Wrap(err, "scan signatures")
}
