package main

import (
	"github.com/spf13/cobra"

	"github.com/dupidx/dupidx/internal/index"
)

// newRebuildCmd creates the rebuild subcommand.
func newRebuildCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Truncate and re-create the whole index",
		Long: `Drops every signature and equivalence class, re-indexes the repository
tree from scratch, and records the active hash algorithm.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openRepo(opts)
			if err != nil {
				return err
			}
			defer env.close()

			errCh := make(chan error, 100)
			go drainErrors(errCh)
			defer close(errCh)

			return index.New(env.st, env.root, env.pipelineOptions(opts, errCh)).Rebuild(cmd.Context())
		},
	}
}
