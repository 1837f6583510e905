package batch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/applybot-dev/applybot/internal/orchestrator"
	"github.com/applybot-dev/applybot/pkg/models"
	"github.com/applybot-dev/applybot/pkg/printer"
)

var reportCmd = &cobra.Command{
	Use:   "report [run-dir]",
	Short: "Recompute the summary of a run from its results",
	Long: `Re-read every worker's results in a run directory and rewrite summary.json.

Use it after an interrupted run, or to look at an earlier run again. Without
an argument the most recent run under the results directory is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
	Example: `  applyctl batch report
  applyctl batch report results/0d9f3c1a-77aa-4b8e-9c11-5e2f5f0a1b2c -o json`,
}

func init() {
	BatchCmd.AddCommand(reportCmd)
}

func runReport(_ *cobra.Command, args []string) error {
	p, err := newPrinter()
	if err != nil {
		return err
	}

	var runDir string
	if len(args) == 1 {
		runDir = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if runDir, err = orchestrator.LatestRun(cfg.ResultsDir); err != nil {
			return err
		}
	}

	report, path, err := orchestrator.Report(runDir)
	if err != nil {
		return err
	}
	if err := printSummary(p, *report); err != nil {
		return err
	}
	if isTable() {
		printer.PrintInfo(printer.Muted("Summary written to " + path))
	}
	return nil
}

// printSummary renders a run summary in the selected format.
func printSummary(p *printer.Printer, report models.SummaryReport) error {
	return p.Print(report, func(t *printer.TablePrinter) {
		out := p.Out()
		_, _ = fmt.Fprintf(out, "Run %s: %d/%d verified (%.1f%%), %d failed, %d missing\n",
			report.RunID, report.SuccessCount, report.TotalJobs, report.SuccessRate*100,
			report.FailureCount, report.MissingCount)
		if report.StartedAt != nil && report.CompletedAt != nil {
			_, _ = fmt.Fprintf(out, "Took %s\n", printer.FormatDuration(report.CompletedAt.Sub(*report.StartedAt)))
		}
		if reasons := formatReasons(report.FailuresByReason); reasons != "" {
			_, _ = fmt.Fprintln(out, printer.Wrap("Failures: "+reasons, 80))
		}
		_, _ = fmt.Fprintln(out)

		t.SetHeaders("Worker", "State", "Assigned", "Verified", "Failed", "Missing")
		t.SetWideHeaders("Fault")
		for _, w := range report.Workers {
			t.AddRow(w.WorkerID, w.State, w.Assigned, w.Succeeded, w.Failed, w.Missing,
				printer.EmptyValueOrDefault(printer.TruncateString(w.Fault, 60), "-"))
		}
	})
}

func formatReasons(reasons map[models.FailureReason]int) string {
	keys := make([]string, 0, len(reasons))
	for r := range reasons {
		keys = append(keys, string(r))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, reasons[models.FailureReason(k)]))
	}
	return strings.Join(parts, " ")
}
