package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newInspectCmd creates the inspect subcommand.
func newInspectCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show repository and index statistics",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			env, err := openRepo(opts)
			if err != nil {
				return err
			}
			defer env.close()

			algo, err := env.st.HashAlgorithm()
			if err != nil {
				return err
			}
			if algo == "" {
				algo = "(not rebuilt yet)"
			}
			stats, err := env.st.Stats()
			if err != nil {
				return err
			}

			fmt.Printf("Repository:        %s\n", env.root)
			fmt.Printf("Identity:          %s\n", env.id)
			fmt.Printf("Hash algorithm:    %s\n", algo)
			fmt.Printf("Signatures:        %d\n", stats.Signatures)
			fmt.Printf("Digests:           %d\n", stats.Digests)
			fmt.Printf("Classes:           %d\n", stats.Classes)
			fmt.Printf("Collision buckets: %d\n", stats.CollisionBuckets)
			fmt.Printf("Reports:           %d\n", stats.Reports)
			return nil
		},
	}
}
