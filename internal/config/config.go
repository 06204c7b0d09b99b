// Package config locates the repository and loads its TOML settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/dupidx/dupidx/internal/types"
)

const (
	// MarkerDir is the directory marking a repository root.
	MarkerDir = ".dupidx"
	// IndexFile is the index database file inside the marker directory.
	IndexFile = "index.db"
	// ConfigFile is the settings file inside the marker directory.
	ConfigFile = "config.toml"
	// EnvRepo overrides repository discovery when set.
	EnvRepo = "DUPIDX_REPO"
)

// Config holds the per-repository settings.
type Config struct {
	Workers            int             `toml:"workers"`
	ThrottleMultiplier int             `toml:"throttle_multiplier"`
	Exclude            []string        `toml:"exclude"`
	FollowSymlinks     bool            `toml:"follow_symlinks"`
	SymlinkBoundaries  []string        `toml:"symlink_boundaries"`
	Rule               types.MatchRule `toml:"match_rule"`
}

// Default returns the settings used when no config file exists. Zero
// workers means "use the available CPU parallelism" downstream.
func Default() Config {
	return Config{
		ThrottleMultiplier: 2,
		Rule:               types.DefaultMatchRule(),
	}
}

// IndexPath returns the index database path for a repository root.
func IndexPath(root string) string {
	return filepath.Join(root, MarkerDir, IndexFile)
}

// configPath returns the settings file path for a repository root.
func configPath(root string) string {
	return filepath.Join(root, MarkerDir, ConfigFile)
}

// Load reads the repository's settings, falling back to defaults when the
// file does not exist. A present but unparsable file is an error, never
// silently ignored.
func Load(root string) (Config, error) {
	cfg := Default()
	path := configPath(root)
	if _, err := os.Stat(path); err != nil {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Write stores settings to the repository's config file.
func Write(root string, cfg Config) error {
	f, err := os.Create(configPath(root))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode %s: %w", configPath(root), err)
	}
	return nil
}

// Locate resolves the repository root: the explicit flag value wins, then
// the DUPIDX_REPO environment variable, then a search of the working
// directory's ancestors for the marker directory.
func Locate(flagValue string) (string, error) {
	if flagValue != "" {
		return verifyRoot(flagValue)
	}
	if env := os.Getenv(EnvRepo); env != "" {
		return verifyRoot(env)
	}
	start, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for dir := start; ; {
		if isRoot(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s repository found in %s or any ancestor (set --repo or %s)",
				MarkerDir, start, EnvRepo)
		}
		dir = parent
	}
}

func verifyRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if !isRoot(abs) {
		return "", fmt.Errorf("%s is not a %s repository", abs, MarkerDir)
	}
	return abs, nil
}

func isRoot(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, MarkerDir))
	return err == nil && info.IsDir()
}
