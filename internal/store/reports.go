package store

import (
	"bytes"
	"crypto/sha256"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/dupidx/dupidx/internal/types"
)

// Reports are keyed by a 16-byte SHA-256 prefix of the analyzed path's
// NUL-joined component sequence plus a varint sequence suffix. The suffix
// disambiguates different paths whose component hashes share a key prefix;
// readers scan the prefix range and compare full path equality, never
// trusting the hash alone.

const reportKeyPrefixLen = 16

const reportFormatVersion byte = 1

// ErrCorruptReport is returned when a stored record fails to decode.
var ErrCorruptReport = errors.New("corrupt duplicate record")

func reportKeyPrefix(path string) []byte {
	components := types.SplitPath(path)
	h := sha256.New()
	for i, c := range components {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(c))
	}
	return h.Sum(nil)[:reportKeyPrefixLen]
}

// PutReport persists a record, replacing any previous record for the same
// analyzed path and allocating a fresh sequence suffix for a new path whose
// key prefix is already taken.
func (s *Store) PutReport(rec *types.DuplicateRecord) error {
	encoded, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	prefix := reportKeyPrefix(rec.Path)
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(reportsBucket))
		c := b.Cursor()
		var key []byte
		var nextSeq uint64
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			seq, _, err := readVarint(k, reportKeyPrefixLen)
			if err != nil {
				return errors.Wrap(ErrCorruptReport, err.Error())
			}
			if seq >= nextSeq {
				nextSeq = seq + 1
			}
			existing, err := decodeRecord(v)
			if err != nil {
				return err
			}
			if existing.Path == rec.Path {
				key = append([]byte(nil), k...)
			}
		}
		if key == nil {
			key, _ = appendVarint(append([]byte(nil), prefix...), nextSeq)
		}
		return b.Put(key, encoded)
	})
	return errors.Wrapf(err, "store report for %s", rec.Path)
}

// GetReport returns the persisted record for an analyzed path, with
// found=false when none exists.
func (s *Store) GetReport(path string) (rec *types.DuplicateRecord, found bool, err error) {
	prefix := reportKeyPrefix(path)
	err = s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(reportsBucket)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			decoded, err := decodeRecord(v)
			if err != nil {
				return err
			}
			if decoded.Path == path {
				rec, found = decoded, true
				return nil
			}
		}
		return nil
	})
	return rec, found, errors.Wrapf(err, "load report for %s", path)
}

// ForEachReport calls fn for every persisted record in key order.
func (s *Store) ForEachReport(fn func(*types.DuplicateRecord) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(reportsBucket)).ForEach(func(_, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			return fn(rec)
		})
	})
	return errors.Wrap(err, "scan reports")
}

// Compact binary record encoding. All integers are the varint codec of this
// package; paths are stored as component sequences so the on-disk form is
// independent of the platform separator.

func appendUvarint(dst []byte, v uint64) []byte {
	dst, err := appendVarint(dst, v)
	if err != nil {
		// Sizes and counts never reach 2^63.
		panic(err)
	}
	return dst
}

func appendComponents(dst []byte, path string) []byte {
	components := types.SplitPath(path)
	dst = appendUvarint(dst, uint64(len(components)))
	for _, c := range components {
		dst = appendUvarint(dst, uint64(len(c)))
		dst = append(dst, c...)
	}
	return dst
}

func packAgreement(a types.MetaAgreement) byte {
	var b byte
	for i, set := range []bool{a.MTime, a.ATime, a.CTime, a.Mode, a.UID, a.GID} {
		if set {
			b |= 1 << i
		}
	}
	return b
}

func unpackAgreement(b byte) types.MetaAgreement {
	return types.MetaAgreement{
		MTime: b&(1<<0) != 0,
		ATime: b&(1<<1) != 0,
		CTime: b&(1<<2) != 0,
		Mode:  b&(1<<3) != 0,
		UID:   b&(1<<4) != 0,
		GID:   b&(1<<5) != 0,
	}
}

func packRule(r types.MatchRule) byte {
	var b byte
	for i, set := range []bool{r.MTime, r.ATime, r.CTime, r.Mode, r.UID, r.GID} {
		if set {
			b |= 1 << i
		}
	}
	return b
}

func unpackRule(b byte) types.MatchRule {
	return types.MatchRule{
		MTime: b&(1<<0) != 0,
		ATime: b&(1<<1) != 0,
		CTime: b&(1<<2) != 0,
		Mode:  b&(1<<3) != 0,
		UID:   b&(1<<4) != 0,
		GID:   b&(1<<5) != 0,
	}
}

func encodeRecord(rec *types.DuplicateRecord) ([]byte, error) {
	buf := []byte{reportFormatVersion}
	buf = appendComponents(buf, rec.Path)
	buf = appendUvarint(buf, uint64(len(rec.RepositoryID)))
	buf = append(buf, rec.RepositoryID...)
	buf = appendUvarint(buf, uint64(rec.TotalSize))
	buf = appendUvarint(buf, uint64(rec.TotalItems))
	buf = appendUvarint(buf, uint64(rec.DuplicatedSize))
	buf = appendUvarint(buf, uint64(rec.DuplicatedItems))
	buf = appendUvarint(buf, uint64(len(rec.Matches)))
	for _, m := range rec.Matches {
		buf = appendComponents(buf, m.Path)
		flags := byte(0)
		if m.Identical {
			flags |= 1
		}
		if m.Superset {
			flags |= 2
		}
		buf = append(buf, packAgreement(m.Agreement), flags, packRule(m.Rule))
		buf = appendUvarint(buf, uint64(m.DuplicatedSize))
		buf = appendUvarint(buf, uint64(m.DuplicatedItems))
	}
	return buf, nil
}

type recordReader struct {
	buf []byte
	off int
	err error
}

func (r *recordReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, next, err := readVarint(r.buf, r.off)
	if err != nil {
		r.err = err
		return 0
	}
	r.off = next
	return v
}

func (r *recordReader) bytes(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if uint64(r.off)+n > uint64(len(r.buf)) {
		r.err = errors.Errorf("need %d bytes at offset %d, have %d", n, r.off, len(r.buf))
		return nil
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b
}

func (r *recordReader) byte() byte {
	b := r.bytes(1)
	if r.err != nil {
		return 0
	}
	return b[0]
}

func (r *recordReader) path() string {
	count := r.uvarint()
	if count > uint64(len(r.buf)) {
		r.err = errors.Errorf("component count %d exceeds buffer", count)
		return ""
	}
	components := make([]string, 0, count)
	for i := uint64(0); i < count && r.err == nil; i++ {
		components = append(components, string(r.bytes(r.uvarint())))
	}
	return types.JoinPath(components)
}

func decodeRecord(v []byte) (*types.DuplicateRecord, error) {
	r := &recordReader{buf: v}
	if version := r.byte(); r.err == nil && version != reportFormatVersion {
		return nil, errors.Wrapf(ErrCorruptReport, "unknown format version %d", version)
	}
	rec := &types.DuplicateRecord{}
	rec.Path = r.path()
	rec.RepositoryID = string(r.bytes(r.uvarint()))
	rec.TotalSize = int64(r.uvarint())
	rec.TotalItems = int64(r.uvarint())
	rec.DuplicatedSize = int64(r.uvarint())
	rec.DuplicatedItems = int64(r.uvarint())
	matchCount := r.uvarint()
	for i := uint64(0); i < matchCount && r.err == nil; i++ {
		var m types.DuplicateMatch
		m.Path = r.path()
		m.Agreement = unpackAgreement(r.byte())
		flags := r.byte()
		m.Identical = flags&1 != 0
		m.Superset = flags&2 != 0
		m.Rule = unpackRule(r.byte())
		m.DuplicatedSize = int64(r.uvarint())
		m.DuplicatedItems = int64(r.uvarint())
		rec.Matches = append(rec.Matches, m)
	}
	if r.err != nil {
		return nil, errors.Wrap(ErrCorruptReport, r.err.Error())
	}
	return rec, nil
}
