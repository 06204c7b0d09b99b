package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/dupidx/dupidx/internal/config"
	"github.com/dupidx/dupidx/internal/store"
	"github.com/dupidx/dupidx/internal/types"
)

// testRepo is a repository fixture: a root tree plus its index store.
type testRepo struct {
	t    *testing.T
	root string
	st   *store.Store
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	root := t.TempDir()
	st, err := store.Create(config.IndexPath(root), "test-repo-id")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return &testRepo{t: t, root: root, st: st}
}

func (r *testRepo) write(rel, content string) {
	r.t.Helper()
	abs := filepath.Join(r.root, filepath.FromSlash(rel))
	require.NoError(r.t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(r.t, os.WriteFile(abs, []byte(content), 0o644))
}

func (r *testRepo) chtimes(rel string, mtime time.Time) {
	r.t.Helper()
	abs := filepath.Join(r.root, filepath.FromSlash(rel))
	require.NoError(r.t, os.Chtimes(abs, mtime, mtime))
}

func (r *testRepo) remove(rel string) {
	r.t.Helper()
	require.NoError(r.t, os.Remove(filepath.Join(r.root, filepath.FromSlash(rel))))
}

// pipeline builds a fresh single-use pipeline over the fixture.
func (r *testRepo) pipeline() *Pipeline {
	return New(r.st, r.root, Options{Excluded: []string{config.MarkerDir}})
}

func (r *testRepo) signature(rel string) types.FileSignature {
	r.t.Helper()
	sig, found, err := r.st.Lookup(rel)
	require.NoError(r.t, err)
	require.True(r.t, found, "no signature for %s", rel)
	return sig
}

func (r *testRepo) signatureCount() int {
	r.t.Helper()
	count := 0
	require.NoError(r.t, r.st.ForEachSignature(func(types.FileSignature) error {
		count++
		return nil
	}))
	return count
}

func TestRebuildIndexesTree(t *testing.T) {
	repo := newTestRepo(t)
	repo.write("a.txt", "same content")
	repo.write("sub/b.txt", "same content")
	repo.write("sub/c.txt", "different content")

	require.NoError(t, repo.pipeline().Rebuild(context.Background()))

	a := repo.signature("a.txt")
	b := repo.signature("sub/b.txt")
	c := repo.signature("sub/c.txt")
	require.True(t, a.Resolved())
	require.Equal(t, a.Digest, b.Digest, "equal content must share a digest")
	require.Equal(t, a.ClassID, b.ClassID, "verified-equal content must share a class")
	require.NotEqual(t, a.Digest, c.Digest)

	classes, err := repo.st.ListClasses(a.Digest)
	require.NoError(t, err)
	require.Len(t, classes, 1)
	require.Equal(t, []string{"a.txt", "sub/b.txt"}, classes[0].Paths)

	algo, err := repo.st.HashAlgorithm()
	require.NoError(t, err)
	require.Equal(t, types.HashAlgorithm, algo)

	// The marker directory stays out of the index.
	require.Equal(t, 3, repo.signatureCount())
}

func TestRebuildIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	repo.write("x.txt", "x")
	repo.write("y.txt", "x")

	require.NoError(t, repo.pipeline().Rebuild(context.Background()))
	first := map[string]types.FileSignature{
		"x.txt": repo.signature("x.txt"),
		"y.txt": repo.signature("y.txt"),
	}

	require.NoError(t, repo.pipeline().Rebuild(context.Background()))
	for rel, want := range first {
		got := repo.signature(rel)
		require.Equal(t, want.Digest, got.Digest, "%s digest changed across rebuilds", rel)
		require.Equal(t, want.ClassID, got.ClassID, "%s class changed across rebuilds", rel)
	}
	require.Equal(t, 2, repo.signatureCount())
}

func TestRefreshUnchanged(t *testing.T) {
	repo := newTestRepo(t)
	repo.write("a.txt", "stable")
	require.NoError(t, repo.pipeline().Rebuild(context.Background()))
	before := repo.signature("a.txt")

	require.NoError(t, repo.pipeline().Refresh(context.Background()))
	require.Equal(t, before, repo.signature("a.txt"))
}

func TestRefreshDiscoversNewFile(t *testing.T) {
	repo := newTestRepo(t)
	repo.write("old.txt", "old")
	require.NoError(t, repo.pipeline().Rebuild(context.Background()))

	repo.write("new.txt", "new")
	require.NoError(t, repo.pipeline().Refresh(context.Background()))

	sig := repo.signature("new.txt")
	require.True(t, sig.Resolved())
	classes, err := repo.st.ListClasses(sig.Digest)
	require.NoError(t, err)
	require.Equal(t, []string{"new.txt"}, classes[0].Paths)
}

func TestRefreshRemovesVanishedFile(t *testing.T) {
	repo := newTestRepo(t)
	repo.write("gone.txt", "ephemeral")
	repo.write("stays.txt", "ephemeral")
	require.NoError(t, repo.pipeline().Rebuild(context.Background()))
	digest := repo.signature("gone.txt").Digest

	repo.remove("gone.txt")
	require.NoError(t, repo.pipeline().Refresh(context.Background()))

	_, found, err := repo.st.Lookup("gone.txt")
	require.NoError(t, err)
	require.False(t, found, "vanished file kept its signature")

	classes, err := repo.st.ListClasses(digest)
	require.NoError(t, err)
	require.Len(t, classes, 1)
	require.Equal(t, []string{"stays.txt"}, classes[0].Paths, "vanished file kept its class membership")
}

func TestRefreshReindexesModifiedFile(t *testing.T) {
	repo := newTestRepo(t)
	past := time.Now().Add(-2 * time.Hour)
	repo.write("f.txt", "before")
	repo.chtimes("f.txt", past)
	require.NoError(t, repo.pipeline().Rebuild(context.Background()))
	oldSig := repo.signature("f.txt")

	repo.write("f.txt", "after")
	repo.chtimes("f.txt", past.Add(time.Hour))
	require.NoError(t, repo.pipeline().Refresh(context.Background()))

	newSig := repo.signature("f.txt")
	require.NotEqual(t, oldSig.Digest, newSig.Digest)
	require.True(t, newSig.Resolved())

	// The old digest's class no longer references the path.
	oldClasses, err := repo.st.ListClasses(oldSig.Digest)
	require.NoError(t, err)
	require.Empty(t, oldClasses)
	newClasses, err := repo.st.ListClasses(newSig.Digest)
	require.NoError(t, err)
	require.Equal(t, []string{"f.txt"}, newClasses[0].Paths)
}

// TestRefreshResolvesUnresolvedSignature covers recovery from an
// interrupted migration: a registered signature with an unresolved class is
// re-verified and assigned on the next refresh.
func TestRefreshResolvesUnresolvedSignature(t *testing.T) {
	repo := newTestRepo(t)
	repo.write("f.txt", "content")
	require.NoError(t, repo.st.Register(types.FileSignature{
		Path:    "f.txt",
		Digest:  types.DigestOf([]byte("content")),
		MTimeNS: time.Now().Add(time.Hour).UnixNano(), // mtime alone says current
		ClassID: types.ClassUnresolved,
	}))

	require.NoError(t, repo.pipeline().Refresh(context.Background()))

	sig := repo.signature("f.txt")
	require.True(t, sig.Resolved(), "unresolved signature survived a refresh")
	classes, err := repo.st.ListClasses(sig.Digest)
	require.NoError(t, err)
	require.Equal(t, []string{"f.txt"}, classes[0].Paths)
}

// TestDigestCollisionSplitsClasses plants a class whose digest matches a
// new file but whose representative has different bytes, standing in for a
// digest collision. The new file must get its own class id.
func TestDigestCollisionSplitsClasses(t *testing.T) {
	repo := newTestRepo(t)
	repo.write("decoy.txt", "decoy bytes")
	repo.write("real.txt", "real bytes")
	collidingDigest := types.DigestOf([]byte("real bytes"))
	require.NoError(t, repo.st.AddPaths(collidingDigest, 0, []string{"decoy.txt"}))

	require.NoError(t, repo.pipeline().Refresh(context.Background()))

	sig := repo.signature("real.txt")
	require.Equal(t, collidingDigest, sig.Digest)
	require.Equal(t, int32(1), sig.ClassID, "content differing from class 0's representative must not join it")

	classes, err := repo.st.ListClasses(collidingDigest)
	require.NoError(t, err)
	require.Len(t, classes, 2)
	require.Equal(t, []string{"real.txt"}, classes[1].Paths)
}

func TestRefreshCancelled(t *testing.T) {
	repo := newTestRepo(t)
	for i := 0; i < 20; i++ {
		repo.write(filepath.Join("d", string(rune('a'+i))+".txt"), "content")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := repo.pipeline().Refresh(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestImport(t *testing.T) {
	src := newTestRepo(t)
	src.write("a.txt", "shared")
	src.write("sub/b.txt", "shared")
	require.NoError(t, src.pipeline().Rebuild(context.Background()))

	dst := newTestRepo(t)
	count, err := Import(dst.st, src.st, "imported")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	sig := dst.signature("imported/a.txt")
	require.False(t, sig.Resolved(), "imported signatures must arrive unresolved")
	require.Equal(t, types.DigestOf([]byte("shared")), sig.Digest)
	dst.signature("imported/sub/b.txt")
}

func TestImportSelfRejected(t *testing.T) {
	repo := newTestRepo(t)
	other, err := store.Create(filepath.Join(t.TempDir(), "index.db"), "test-repo-id")
	require.NoError(t, err)
	defer func() { _ = other.Close() }()

	_, err = Import(repo.st, other, "x")
	require.Error(t, err, "matching repository identities must be rejected")
}

// TestImportThenRefresh checks the full round: imported signatures are
// re-verified against the live files and joined into classes with the
// destination's own content.
func TestImportThenRefresh(t *testing.T) {
	src := newTestRepo(t)
	src.write("a.txt", "shared")
	require.NoError(t, src.pipeline().Rebuild(context.Background()))

	dst := newTestRepo(t)
	dst.write("local.txt", "shared")
	require.NoError(t, dst.pipeline().Rebuild(context.Background()))

	// Materialize the imported tree, then merge the index.
	dst.write("imported/a.txt", "shared")
	_, err := Import(dst.st, src.st, "imported")
	require.NoError(t, err)

	require.NoError(t, dst.pipeline().Refresh(context.Background()))

	local := dst.signature("local.txt")
	imported := dst.signature("imported/a.txt")
	require.True(t, imported.Resolved())
	require.Equal(t, local.Digest, imported.Digest)
	require.Equal(t, local.ClassID, imported.ClassID, "equal content must converge into one class")
}

// followPipeline builds a pipeline that follows symlinks, with the
// repository root as the resolution boundary, matching the command wiring.
func (r *testRepo) followPipeline() *Pipeline {
	return New(r.st, r.root, Options{
		Excluded:       []string{config.MarkerDir},
		FollowSymlinks: true,
		Boundaries:     []string{r.root},
	})
}

// TestRefreshFollowedSymlinkStable indexes a symlink to an outside file and
// refreshes twice. The signature was taken from the resolved target, so
// reconciliation must resolve the link the same way; an lstat-only pass
// would drop the signature on the first refresh and re-create it on the
// next, oscillating forever.
func TestRefreshFollowedSymlinkStable(t *testing.T) {
	repo := newTestRepo(t)
	outside := t.TempDir()
	target := filepath.Join(outside, "target.txt")
	require.NoError(t, os.WriteFile(target, []byte("linked bytes"), 0o644))
	require.NoError(t, os.Symlink(target, filepath.Join(repo.root, "link.txt")))

	require.NoError(t, repo.followPipeline().Rebuild(context.Background()))
	before := repo.signature("link.txt")
	require.Equal(t, types.DigestOf([]byte("linked bytes")), before.Digest)

	for i := 0; i < 2; i++ {
		require.NoError(t, repo.followPipeline().Refresh(context.Background()))
		require.Equal(t, before, repo.signature("link.txt"), "refresh %d disturbed the signature", i+1)
	}
	require.Equal(t, 1, repo.signatureCount())
}

// TestRefreshFollowedSymlinkTargetModified checks that a staleness check on
// a followed symlink uses the target's mtime and content.
func TestRefreshFollowedSymlinkTargetModified(t *testing.T) {
	repo := newTestRepo(t)
	outside := t.TempDir()
	target := filepath.Join(outside, "target.txt")
	require.NoError(t, os.WriteFile(target, []byte("old content"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(target, past, past))
	require.NoError(t, os.Symlink(target, filepath.Join(repo.root, "link.txt")))

	require.NoError(t, repo.followPipeline().Rebuild(context.Background()))
	require.Equal(t, types.DigestOf([]byte("old content")), repo.signature("link.txt").Digest)

	require.NoError(t, os.WriteFile(target, []byte("new content"), 0o644))
	later := past.Add(30 * time.Minute)
	require.NoError(t, os.Chtimes(target, later, later))

	require.NoError(t, repo.followPipeline().Refresh(context.Background()))
	require.Equal(t, types.DigestOf([]byte("new content")), repo.signature("link.txt").Digest)
}

// TestRefreshFollowedSymlinkTargetRemoved checks that a link whose target
// vanished is cleaned up like any other vanished file.
func TestRefreshFollowedSymlinkTargetRemoved(t *testing.T) {
	repo := newTestRepo(t)
	outside := t.TempDir()
	target := filepath.Join(outside, "target.txt")
	require.NoError(t, os.WriteFile(target, []byte("going away"), 0o644))
	require.NoError(t, os.Symlink(target, filepath.Join(repo.root, "link.txt")))

	require.NoError(t, repo.followPipeline().Rebuild(context.Background()))
	require.NoError(t, os.Remove(target))

	require.NoError(t, repo.followPipeline().Refresh(context.Background()))
	_, found, err := repo.st.Lookup("link.txt")
	require.NoError(t, err)
	require.False(t, found, "a dangling link's signature must be removed")
}

// TestRefreshDrainsDirectoryCallbacks checks that every directory
// completion callback has run by the time Refresh returns; a refresh that
// returns with callbacks still in flight would log and aggregate after the
// caller moved on.
func TestRefreshDrainsDirectoryCallbacks(t *testing.T) {
	hook := logtest.NewGlobal()
	level := logrus.GetLevel()
	logrus.SetLevel(logrus.DebugLevel)
	t.Cleanup(func() {
		logrus.SetLevel(level)
		hook.Reset()
	})

	repo := newTestRepo(t)
	repo.write("a/b/f.txt", "one")
	repo.write("a/g.txt", "two")

	require.NoError(t, repo.pipeline().Refresh(context.Background()))

	completed := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "directory completed" {
			completed++
		}
	}
	require.Equal(t, 3, completed, "one callback per directory must finish before Refresh returns")
}
