package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dupidx/dupidx/internal/dup"
	"github.com/dupidx/dupidx/internal/types"
)

// newDescribeCmd creates the describe subcommand.
func newDescribeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "describe [PATH...]",
		Short: "Show persisted duplicate records",
		Long: `Prints the duplicate record for each path, or a summary line for every
persisted record when no path is given.`,
		RunE: func(_ *cobra.Command, args []string) error {
			env, err := openRepo(opts)
			if err != nil {
				return err
			}
			defer env.close()

			if len(args) == 0 {
				return env.st.ForEachReport(func(rec *types.DuplicateRecord) error {
					printSummary(rec)
					return nil
				})
			}
			for _, p := range args {
				recPath, err := dup.RecordPath(p)
				if err != nil {
					return err
				}
				rec, found, err := env.st.GetReport(recPath)
				if err != nil {
					return err
				}
				if !found {
					fmt.Printf("%s: no record (run analyze first)\n", p)
					continue
				}
				if rec.RepositoryID != env.id {
					return fmt.Errorf("record for %s belongs to repository %s, current repository is %s",
						p, rec.RepositoryID, env.id)
				}
				printRecord(rec)
			}
			return nil
		},
	}
}

func printSummary(rec *types.DuplicateRecord) {
	fmt.Printf("%s: %d/%d items duplicated (%s of %s), %d candidates\n",
		rec.Path, rec.DuplicatedItems, rec.TotalItems,
		humanize.IBytes(uint64(rec.DuplicatedSize)), humanize.IBytes(uint64(rec.TotalSize)),
		len(rec.Matches))
}

func printRecord(rec *types.DuplicateRecord) {
	printSummary(rec)
	for i := range rec.Matches {
		m := &rec.Matches[i]
		fmt.Printf("  %s  %s  %d items (%s)\n",
			verdict(m), m.Path, m.DuplicatedItems, humanize.IBytes(uint64(m.DuplicatedSize)))
	}
}

func verdict(m *types.DuplicateMatch) string {
	switch {
	case m.Identical:
		return "identical"
	case m.Superset:
		return "superset "
	default:
		return "partial  "
	}
}
