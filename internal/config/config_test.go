package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dupidx/dupidx/internal/types"
)

func makeRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, MarkerDir), 0o755); err != nil {
		t.Fatal(err)
	}
	return root
}

// TestLoadDefaults checks the fallback when no config file exists.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(makeRepo(t))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workers != 0 {
		t.Errorf("default Workers = %d, want 0 (auto)", cfg.Workers)
	}
	if cfg.ThrottleMultiplier != 2 {
		t.Errorf("default ThrottleMultiplier = %d, want 2", cfg.ThrottleMultiplier)
	}
	if cfg.Rule != types.DefaultMatchRule() {
		t.Errorf("default Rule = %+v, want %+v", cfg.Rule, types.DefaultMatchRule())
	}
	if cfg.FollowSymlinks {
		t.Error("symlink following must default off")
	}
}

// TestWriteLoadRoundTrip checks that settings survive the TOML codec.
func TestWriteLoadRoundTrip(t *testing.T) {
	root := makeRepo(t)
	want := Config{
		Workers:            4,
		ThrottleMultiplier: 3,
		Exclude:            []string{"tmp", "cache/scratch"},
		FollowSymlinks:     true,
		SymlinkBoundaries:  []string{"/mnt/backup"},
		Rule:               types.MatchRule{MTime: true, Mode: true, UID: true},
	}
	if err := Write(root, want); err != nil {
		t.Fatal(err)
	}
	got, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if got.Workers != want.Workers || got.ThrottleMultiplier != want.ThrottleMultiplier ||
		got.FollowSymlinks != want.FollowSymlinks || got.Rule != want.Rule {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
	if len(got.Exclude) != 2 || got.Exclude[0] != "tmp" {
		t.Errorf("Exclude = %v, want %v", got.Exclude, want.Exclude)
	}
	if len(got.SymlinkBoundaries) != 1 || got.SymlinkBoundaries[0] != "/mnt/backup" {
		t.Errorf("SymlinkBoundaries = %v, want %v", got.SymlinkBoundaries, want.SymlinkBoundaries)
	}
}

// TestLoadRejectsBrokenFile checks that a present but unparsable config is
// a hard error rather than silently replaced by defaults.
func TestLoadRejectsBrokenFile(t *testing.T) {
	root := makeRepo(t)
	path := filepath.Join(root, MarkerDir, ConfigFile)
	if err := os.WriteFile(path, []byte("workers = \"many\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(root); err == nil {
		t.Error("Load accepted an unparsable config file")
	}
}

// TestLocate checks flag and environment resolution.
func TestLocate(t *testing.T) {
	root := makeRepo(t)
	plain := t.TempDir()

	got, err := Locate(root)
	if err != nil {
		t.Fatal(err)
	}
	if got != root {
		t.Errorf("Locate(flag) = %s, want %s", got, root)
	}

	if _, err := Locate(plain); err == nil {
		t.Error("Locate accepted a directory with no marker")
	}

	t.Setenv(EnvRepo, root)
	got, err = Locate("")
	if err != nil {
		t.Fatal(err)
	}
	if got != root {
		t.Errorf("Locate(env) = %s, want %s", got, root)
	}

	// The flag wins over the environment.
	t.Setenv(EnvRepo, plain)
	if got, err := Locate(root); err != nil || got != root {
		t.Errorf("Locate(flag over env) = %s, %v; want %s", got, err, root)
	}
}

// TestLocateAncestor checks the working-directory ancestor search.
func TestLocateAncestor(t *testing.T) {
	root := makeRepo(t)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(nested); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	got, err := Locate("")
	if err != nil {
		t.Fatal(err)
	}
	// TempDir may sit behind a symlink (macOS), so compare resolved paths.
	wantResolved, _ := filepath.EvalSymlinks(root)
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != wantResolved {
		t.Errorf("Locate from nested dir = %s, want %s", got, root)
	}
}
