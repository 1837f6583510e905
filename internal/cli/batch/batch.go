// Package batch implements the applyctl batch commands.
package batch

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/applybot-dev/applybot/internal/config"
	"github.com/applybot-dev/applybot/internal/runtime"
	"github.com/applybot-dev/applybot/pkg/printer"
)

var (
	verbose      bool
	runtimeName  string
	outputFormat string
)

// BatchCmd groups the orchestration commands.
var BatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run, inspect and clean up batches of job applications",
	Long: `Run a batch of job applications across parallel workers.

Each worker is a container (or a local process with --runtime process) that
takes a contiguous slice of the jobs file and works through it one job at a
time. Results land under the results directory, one directory per run.`,
}

func init() {
	BatchCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	BatchCmd.PersistentFlags().StringVar(&runtimeName, "runtime", "", "Worker runtime: docker or process (default from APPLYBOT_RUNTIME)")
	BatchCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, wide, json or yaml")
}

// loadConfig reads the configuration and applies the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Verbose = true
	}
	if runtimeName != "" {
		cfg.Runtime = runtimeName
	}
	return cfg, nil
}

// stateDir holds the pid files of process workers.
func stateDir(cfg *config.Config) string {
	return filepath.Join(cfg.ResultsDir, ".workers")
}

func newProvider(cfg *config.Config) (runtime.Provider, error) {
	return runtime.New(cfg, stateDir(cfg))
}

func newLogger() *log.Logger {
	if verbose {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(os.Stderr, "", 0)
}

// isTable reports whether human-readable output was requested.
func isTable() bool {
	t := printer.OutputType(outputFormat)
	return t == printer.OutputTypeTable || t == printer.OutputTypeWide
}

func newPrinter() (*printer.Printer, error) {
	switch t := printer.OutputType(outputFormat); t {
	case printer.OutputTypeTable, printer.OutputTypeWide, printer.OutputTypeJSON, printer.OutputTypeYAML:
		return printer.New(t), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q (want table, wide, json or yaml)", outputFormat)
	}
}
