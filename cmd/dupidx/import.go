package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dupidx/dupidx/internal/config"
	"github.com/dupidx/dupidx/internal/index"
	"github.com/dupidx/dupidx/internal/store"
)

// importOptions holds CLI flags for the import command.
type importOptions struct {
	prefix string
}

// newImportCmd creates the import subcommand.
func newImportCmd(opts *globalOptions) *cobra.Command {
	iopts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import SOURCE",
		Short: "Import another repository's signatures",
		Long: `Registers the source repository's file signatures under a path prefix in
this repository. Imported signatures carry no class assignment; run refresh
afterwards to verify the files and assign equivalence classes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runImport(opts, iopts, args[0])
		},
	}

	cmd.Flags().StringVar(&iopts.prefix, "prefix", "",
		"Destination path prefix (default: base name of SOURCE)")
	return cmd
}

func runImport(opts *globalOptions, iopts *importOptions, source string) error {
	env, err := openRepo(opts)
	if err != nil {
		return err
	}
	defer env.close()

	srcRoot, err := filepath.Abs(source)
	if err != nil {
		return err
	}
	src, err := store.Open(config.IndexPath(srcRoot))
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	prefix := iopts.prefix
	if prefix == "" {
		prefix = filepath.Base(srcRoot)
	}

	count, err := index.Import(env.st, src, prefix)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d signatures under %s/ (run refresh to assign classes)\n", count, prefix)
	return nil
}
