package index

import (
	"context"
	"crypto/sha256"
	"io"
	"os"
	"runtime"

	"github.com/hlubek/readercomp"

	"github.com/dupidx/dupidx/internal/types"
)

// blockSize is the read buffer size for hashing and comparison (64KB).
const blockSize = 64 * 1024

// Offload runs CPU-bound digest and compare work behind an admission
// throttle sized as a multiple of the available hashing parallelism. The
// scheduler goroutine suspends at admission when the limit is reached and
// is resumed as soon as a slot frees; a cancelled context is honored at
// admission, never mid-read.
type Offload struct {
	throttle types.Throttle
}

// NewOffload creates an offload admitting parallelism*multiplier concurrent
// units. Zero or negative arguments fall back to NumCPU and 2.
func NewOffload(parallelism, multiplier int) *Offload {
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if multiplier <= 0 {
		multiplier = 2
	}
	return &Offload{throttle: types.NewThrottle(parallelism * multiplier)}
}

func (o *Offload) admit(ctx context.Context) error {
	select {
	case o.throttle <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DigestFile computes the content digest of the file at path.
func (o *Offload) DigestFile(ctx context.Context, path string) (types.Digest, error) {
	if err := o.admit(ctx); err != nil {
		return types.Digest{}, err
	}
	defer o.throttle.Release()

	f, err := os.Open(path)
	if err != nil {
		return types.Digest{}, err
	}
	defer func() { _ = f.Close() }()

	hasher := sha256.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(hasher, f, buf); err != nil {
		return types.Digest{}, err
	}
	var d types.Digest
	hasher.Sum(d[:0])
	return d, nil
}

// FilesEqual compares two files byte for byte.
func (o *Offload) FilesEqual(ctx context.Context, a, b string) (bool, error) {
	if err := o.admit(ctx); err != nil {
		return false, err
	}
	defer o.throttle.Release()
	return readercomp.FilesEqual(a, b)
}
