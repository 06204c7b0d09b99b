// Package store persists the dupidx index in a single BoltDB database.
//
// Three record families share the database: file signatures, equivalence
// classes, and duplicate reports. Signatures and classes are keyed by a
// 64-bit xxhash of their natural key (path or digest) with the full key
// stored inside the value, so an xxhash collision between unrelated keys
// degrades to a short linear scan instead of cross-contaminating entries.
// Reports are keyed by a 128-bit path hash plus a varint sequence suffix
// with the same scan-and-verify discipline.
package store

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	metaBucket       = "meta"
	classesBucket    = "classes"
	signaturesBucket = "signatures"
	reportsBucket    = "reports"
)

const (
	metaKeyVersion  = "format_version"
	metaKeyRepoID   = "repository_id"
	metaKeyHashAlgo = "hash_algorithm"
	formatVersion   = "1"
)

// ErrNoRepository is returned when opening a path that holds no index.
var ErrNoRepository = errors.New("no repository index found")

// Store is the persisted dupidx index. Safe for concurrent use; BoltDB
// serializes write transactions internally, callers serialize logically
// conflicting mutations with the per-digest lock.
type Store struct {
	db *bolt.DB
}

// Create initializes a new index database at path, failing if one exists.
func Create(path, repositoryID string) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, errors.Errorf("index already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create index dir")
	}
	s, err := open(path)
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(metaBucket))
		if err := b.Put([]byte(metaKeyVersion), []byte(formatVersion)); err != nil {
			return err
		}
		return b.Put([]byte(metaKeyRepoID), []byte(repositoryID))
	})
	if err != nil {
		_ = s.Close()
		return nil, errors.Wrap(err, "write index meta")
	}
	return s, nil
}

// Open opens an existing index database at path.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(ErrNoRepository, "%s", path)
	}
	s, err := open(path)
	if err != nil {
		return nil, err
	}
	var version []byte
	_ = s.db.View(func(tx *bolt.Tx) error {
		version = append(version, tx.Bucket([]byte(metaBucket)).Get([]byte(metaKeyVersion))...)
		return nil
	})
	if !bytes.Equal(version, []byte(formatVersion)) {
		_ = s.Close()
		return nil, errors.Errorf("unsupported index format %q at %s (want %q)", version, path, formatVersion)
	}
	return s, nil
}

func open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open index (locked by another instance?)")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{metaBucket, classesBucket, signaturesBucket, reportsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create index buckets")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RepositoryID returns the repository identity written at creation time.
func (s *Store) RepositoryID() (string, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		id = string(tx.Bucket([]byte(metaBucket)).Get([]byte(metaKeyRepoID)))
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "read repository id")
	}
	if id == "" {
		return "", errors.New("index has no repository id")
	}
	return id, nil
}

// SetHashAlgorithm records the digest algorithm used by the last rebuild.
func (s *Store) SetHashAlgorithm(algo string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(metaBucket)).Put([]byte(metaKeyHashAlgo), []byte(algo))
	})
	return errors.Wrap(err, "record hash algorithm")
}

// HashAlgorithm returns the recorded digest algorithm, or "" before the
// first rebuild completes.
func (s *Store) HashAlgorithm() (string, error) {
	var algo string
	err := s.db.View(func(tx *bolt.Tx) error {
		algo = string(tx.Bucket([]byte(metaBucket)).Get([]byte(metaKeyHashAlgo)))
		return nil
	})
	return algo, errors.Wrap(err, "read hash algorithm")
}

// Truncate drops all signatures and equivalence classes, leaving meta and
// reports intact. Run by rebuild before re-indexing.
func (s *Store) Truncate() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{classesBucket, signaturesBucket} {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return err
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "truncate index")
}

// hashKey builds the fixed 8-byte big-endian xxhash storage key shared by
// the signature and class buckets.
func hashKey(natural []byte) []byte {
	key := make([]byte, 8)
	sum := xxhash.Sum64(natural)
	for i := 7; i >= 0; i-- {
		key[i] = byte(sum)
		sum >>= 8
	}
	return key
}

// Stats summarizes index contents for the inspect command.
type Stats struct {
	Signatures       int
	Digests          int
	Classes          int
	CollisionBuckets int // storage keys shared by more than one digest or path
	Reports          int
}

// Stats scans the whole index and returns summary counts.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(classesBucket)).ForEach(func(_, v []byte) error {
			groups, err := decodeClassGroups(v)
			if err != nil {
				return err
			}
			st.Classes += len(groups)
			seen := map[string]bool{}
			for _, g := range groups {
				seen[string(g.Digest)] = true
			}
			st.Digests += len(seen)
			if len(seen) > 1 {
				st.CollisionBuckets++
			}
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(signaturesBucket)).ForEach(func(_, v []byte) error {
			entries, err := decodeSignatures(v)
			if err != nil {
				return err
			}
			st.Signatures += len(entries)
			if len(entries) > 1 {
				st.CollisionBuckets++
			}
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket([]byte(reportsBucket)).ForEach(func(_, _ []byte) error {
			st.Reports++
			return nil
		})
	})
	return st, errors.Wrap(err, "scan index stats")
}
