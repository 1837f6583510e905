package batch

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/applybot-dev/applybot/pkg/printer"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Stop and remove every worker left by earlier runs",
	Long: `Tear down all workers applyctl has launched, running or exited.

Safe to run at any time, and more than once. Results on disk are kept.`,
	Args:    cobra.NoArgs,
	RunE:    runCleanup,
	Example: `  applyctl batch cleanup`,
}

func init() {
	BatchCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	n, err := provider.Cleanup(cmd.Context())
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	if n == 0 {
		printer.PrintInfo("No workers to clean up")
		return nil
	}
	printer.PrintSuccess(fmt.Sprintf("Removed %d %s worker(s)", n, provider.Name()))
	return nil
}
