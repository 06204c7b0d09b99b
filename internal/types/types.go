// Package types provides shared types used across the dupidx codebase.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// DigestSize is the width of a content digest in bytes.
const DigestSize = sha256.Size

// HashAlgorithm identifies the digest algorithm recorded in the index meta
// bucket on rebuild. Indexes written with a different algorithm must be
// rebuilt before use.
const HashAlgorithm = "sha256"

// Digest is the fixed-width content hash of a file's full byte content.
type Digest [DigestSize]byte

// DigestOf computes the digest of a byte slice. Used by tests and by the
// hashing offload for small buffered reads.
func DigestOf(b []byte) Digest { return sha256.Sum256(b) }

// String returns the full hex form of the digest.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Short returns an abbreviated hex form for log output.
func (d Digest) Short() string { return hex.EncodeToString(d[:6]) }

// ClassUnresolved marks a signature whose equivalence class is still being
// migrated. A signature is registered in this state before its path is added
// to a class set and resolved immediately after.
const ClassUnresolved int32 = -1

// FileSignature is the per-path index entry: the path's content digest, the
// modification time observed when it was hashed, and the equivalence class
// the path was assigned to under that digest.
type FileSignature struct {
	Path    string
	Digest  Digest
	MTimeNS int64
	ClassID int32
}

// Resolved reports whether the signature points at a concrete class.
func (s FileSignature) Resolved() bool { return s.ClassID != ClassUnresolved }

// SplitPath splits a slash-separated relative path into its components.
// The empty path (repository root) yields no components.
func SplitPath(p string) []string {
	p = path.Clean(p)
	if p == "." || p == "/" || p == "" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// JoinPath is the inverse of SplitPath.
func JoinPath(components []string) string {
	if len(components) == 0 {
		return "."
	}
	return strings.Join(components, "/")
}

// Throttle bounds the number of concurrently outstanding units of work using
// a buffered channel. Acquire blocks when the limit is reached and is
// admitted as soon as a slot frees; admission is FIFO-fair as long as every
// admitted unit eventually releases.
type Throttle chan struct{}

// NewThrottle creates a throttle admitting up to n concurrent units.
func NewThrottle(n int) Throttle { return make(chan struct{}, n) }

// Acquire blocks until a slot is available, then claims it.
func (t Throttle) Acquire() { t <- struct{}{} }

// Release frees a slot, unblocking one waiting Acquire call.
func (t Throttle) Release() { <-t }
