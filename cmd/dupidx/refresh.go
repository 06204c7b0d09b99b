package main

import (
	"github.com/spf13/cobra"

	"github.com/dupidx/dupidx/internal/index"
)

// newRefreshCmd creates the refresh subcommand.
func newRefreshCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Bring the index up to date with the filesystem",
		Long: `Removes signatures for vanished files, re-indexes modified files, and
assigns every newly discovered file to an equivalence class.`,
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

			return index.New(env.st, env.root, env.pipelineOptions(opts, errCh)).Refresh(cmd.Context())
		},
	}
}
