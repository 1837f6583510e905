package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/applybot-dev/applybot/internal/cli"
	"github.com/applybot-dev/applybot/internal/cli/batch"
	"github.com/applybot-dev/applybot/internal/version"
	"github.com/applybot-dev/applybot/pkg/printer"
)

var rootCmd = &cobra.Command{
	Use:   "applyctl",
	Short: "Job application bot",
	Long: `applyctl searches for postings and applies to them in parallel, using
browser agents in isolated worker containers.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printer.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(batch.BatchCmd)
	rootCmd.AddCommand(cli.SearchCmd)
	rootCmd.AddCommand(cli.WorkerCmd)
	rootCmd.AddCommand(cli.VersionCmd)
}

func Root() *cobra.Command {
	return rootCmd
}
