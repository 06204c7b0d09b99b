package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

// globalOptions holds persistent flags shared by every command.
type globalOptions struct {
	repo       string
	verbose    bool
	noProgress bool
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &globalOptions{}

	root := &cobra.Command{
		Use:     "dupidx",
		Short:   "Maintain a content-addressed file index and detect duplicates",
		Version: version + " (" + commit + ")",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logrus.SetOutput(os.Stderr)
			if opts.verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.repo, "repo", "",
		"Repository root (default: $"+repoEnvName+", then ancestor search)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")

	root.AddCommand(
		newInitCmd(opts),
		newRebuildCmd(opts),
		newRefreshCmd(opts),
		newImportCmd(opts),
		newAnalyzeCmd(opts),
		newDescribeCmd(opts),
		newDiffTreeCmd(opts),
		newInspectCmd(opts),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
