package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dupidx/dupidx/internal/dup"
	"github.com/dupidx/dupidx/internal/index"
)

// newAnalyzeCmd creates the analyze subcommand.
func newAnalyzeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze PATH...",
		Short: "Compute duplicate records for paths against the repository",
		Long: `Recursively compares each path's content and metadata against the indexed
repository and persists a duplicate record per analyzed node. Results are
shown with describe or diff-tree.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openRepo(opts)
			if err != nil {
				return err
			}
			defer env.close()

			errCh := make(chan error, 100)
			go drainErrors(errCh)
			defer close(errCh)

			offload := index.NewOffload(env.cfg.Workers, env.cfg.ThrottleMultiplier)
			for _, p := range args {
				analyzer := dup.New(env.st, env.root, env.id, env.cfg.Rule, offload, !opts.noProgress, errCh)
				rec, err := analyzer.Analyze(cmd.Context(), p)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d/%d items duplicated (%s of %s), %d candidates\n",
					rec.Path, rec.DuplicatedItems, rec.TotalItems,
					humanize.IBytes(uint64(rec.DuplicatedSize)), humanize.IBytes(uint64(rec.TotalSize)),
					len(rec.Matches))
			}
			return nil
		},
	}
}
