package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dupidx/dupidx/internal/config"
	"github.com/dupidx/dupidx/internal/store"
)

// newInitCmd creates the init subcommand.
func newInitCmd(_ *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Create a new repository index",
		Long: `Creates the ` + config.MarkerDir + ` marker directory with an empty index
database, a fresh repository identity, and a default config.toml.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			return runInit(root)
		},
	}
}

func runInit(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", abs)
	}

	id := uuid.NewString()
	st, err := store.Create(config.IndexPath(abs), id)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := config.Write(abs, config.Default()); err != nil {
		return err
	}
	fmt.Printf("Initialized repository %s at %s\n", id, abs)
	return nil
}
