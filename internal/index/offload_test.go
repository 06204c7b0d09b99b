package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dupidx/dupidx/internal/types"
)

func TestDigestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	content := []byte("some file content")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	o := NewOffload(1, 1)
	d, err := o.DigestFile(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, types.DigestOf(content), d)

	_, err = o.DigestFile(context.Background(), filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func TestFilesEqual(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	c := filepath.Join(dir, "c")
	require.NoError(t, os.WriteFile(a, []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(c, []byte("diff"), 0o644))

	o := NewOffload(2, 2)
	equal, err := o.FilesEqual(context.Background(), a, b)
	require.NoError(t, err)
	require.True(t, equal)

	equal, err = o.FilesEqual(context.Background(), a, c)
	require.NoError(t, err)
	require.False(t, equal)
}

// TestAdmissionHonorsCancellation checks that a full throttle rejects new
// units once the context is cancelled instead of blocking forever.
func TestAdmissionHonorsCancellation(t *testing.T) {
	o := NewOffload(1, 1)
	o.throttle.Acquire() // occupy the only slot
	defer o.throttle.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.DigestFile(ctx, "irrelevant")
	require.ErrorIs(t, err, context.Canceled)
}
