package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dupidx/dupidx/internal/difftree"
)

// newDiffTreeCmd creates the diff-tree subcommand.
func newDiffTreeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diff-tree ANALYZED REPOSITORY",
		Short: "Render per-path verdicts of an analyzed tree against a repository path",
		Long: `Walks a previously analyzed tree and prints, per node, whether the
corresponding path under REPOSITORY is an exact copy, differs, or is
missing. Consumes persisted records only; run analyze first.`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			env, err := openRepo(opts)
			if err != nil {
				return err
			}
			defer env.close()

			candidateRel, err := env.repoRelative(args[1])
			if err != nil {
				return err
			}
			return difftree.New(env.st, env.id, os.Stdout).Print(args[0], candidateRel)
		},
	}
}
