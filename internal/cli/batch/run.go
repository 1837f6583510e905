package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/applybot-dev/applybot/internal/config"
	"github.com/applybot-dev/applybot/internal/errdefs"
	"github.com/applybot-dev/applybot/internal/jobstore"
	"github.com/applybot-dev/applybot/internal/orchestrator"
	"github.com/applybot-dev/applybot/internal/profile"
	"github.com/applybot-dev/applybot/internal/store"
	"github.com/applybot-dev/applybot/internal/telemetry"
	"github.com/applybot-dev/applybot/internal/version"
	"github.com/applybot-dev/applybot/pkg/models"
	"github.com/applybot-dev/applybot/pkg/printer"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Apply to every job in a jobs file",
	Long: `Partition the jobs file across parallel workers and apply to each job.

Workers run isolated from each other. A worker that crashes, times out or
cannot be launched only affects its own slice; everything the other workers
did is still collected and summarised. Interrupting the command stops every
worker and still writes the summary.`,
	Args: cobra.NoArgs,
	RunE: runRun,
	Example: `  applyctl batch run --jobs-file jobs.json
  applyctl batch run --jobs-file jobs.json --max-workers 3 --backend openai
  applyctl batch run --jobs-file jobs.json --min-salary 60000 --exclude senior --build`,
}

var (
	runJobsFile   string
	runMaxWorkers int
	runBackend    string
	runBuild      bool
	runRunID      string
	runMinSalary  float64
	runRequire    []string
	runExclude    []string
	runMetrics    string
)

func init() {
	BatchCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runJobsFile, "jobs-file", "", "Jobs file (JSON array or the output of applyctl search)")
	runCmd.Flags().IntVar(&runMaxWorkers, "max-workers", 5, "Maximum number of parallel workers")
	runCmd.Flags().StringVar(&runBackend, "backend", config.DefaultBackend, "Agent backend: browser-use or openai-computer-use (aliases: openai, computer-use)")
	runCmd.Flags().BoolVar(&runBuild, "build", false, "Build the worker image first if it is missing")
	runCmd.Flags().StringVar(&runRunID, "run-id", "", "Run id (default: random UUID)")
	runCmd.Flags().Float64Var(&runMinSalary, "min-salary", 0, "Skip jobs advertising a lower minimum salary")
	runCmd.Flags().StringSliceVar(&runRequire, "require", nil, "Keywords that must all appear in the title or description")
	runCmd.Flags().StringSliceVar(&runExclude, "exclude", nil, "Keywords that skip a job when present")
	runCmd.Flags().StringVar(&runMetrics, "metrics-addr", "", "Serve live Prometheus metrics on this address during the run (e.g. :9464)")

	_ = runCmd.MarkFlagRequired("jobs-file")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-workers") {
		cfg.MaxWorkers = runMaxWorkers
	}
	if cmd.Flags().Changed("backend") {
		cfg.Backend = runBackend
	}

	jobs, err := loadJobs(runJobsFile, jobstore.Filter{
		MinSalary: runMinSalary,
		Required:  runRequire,
		Excluded:  runExclude,
	})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := checkProfile(cfg.ProfilePath); err != nil {
		return err
	}
	p, err := newPrinter()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runBuild && cfg.Runtime == "docker" {
		if err := ensureImage(ctx, cfg); err != nil {
			return err
		}
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	shutdown, metrics, err := telemetry.InitMetrics(version.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()
	if runMetrics != "" {
		srv := serveMetrics(runMetrics, metrics)
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	o := &orchestrator.Orchestrator{
		Config:   cfg,
		Provider: provider,
		Metrics:  metrics,
		Progress: os.Stderr,
		Logger:   newLogger(),
	}
	if cfg.DatabaseURL != "" {
		index, err := store.NewPGIndex(ctx, cfg.DatabaseURL)
		if err != nil {
			printer.PrintWarning(fmt.Sprintf("outcome index disabled: %v", err))
		} else {
			defer index.Close()
			o.Index = index
		}
	}

	report, runErr := o.Run(ctx, jobs, orchestrator.Options{
		MaxWorkers: cfg.MaxWorkers,
		Backend:    cfg.Backend,
		RunID:      runRunID,
	})
	if report != nil {
		if err := printSummary(p, *report); err != nil {
			return err
		}
		if isTable() {
			warnUnfinished(o.Workers())
			printer.PrintInfo(printer.Muted("Results in " + orchestrator.RunDir(cfg, report.RunID)))
		}
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("run interrupted: %w", runErr)
		}
		return runErr
	}
	return nil
}

// warnUnfinished reports workers that did not exit cleanly.
func warnUnfinished(workers []orchestrator.WorkerStatus) {
	for _, w := range workers {
		if w.Phase == orchestrator.PhaseCompleted {
			continue
		}
		msg := fmt.Sprintf("worker %s %s", w.WorkerID, w.Phase)
		switch {
		case w.ExitCode != nil:
			msg += fmt.Sprintf(" (exit code %d)", *w.ExitCode)
		case w.Error != "":
			msg += ": " + w.Error
		}
		printer.PrintWarning(msg)
	}
}

// loadJobs reads the jobs file and applies the filter.
func loadJobs(path string, filter jobstore.Filter) ([]models.JobDescriptor, error) {
	jobs, err := jobstore.LoadFile(path)
	if err != nil {
		return nil, err
	}
	kept := filter.Apply(jobs)
	if skipped := len(jobs) - len(kept); skipped > 0 {
		printer.PrintInfo(fmt.Sprintf("Filtered out %d of %d jobs", skipped, len(jobs)))
	}
	if len(kept) == 0 {
		return nil, errdefs.Configuration("no jobs left to process in %s", path)
	}
	return kept, nil
}

// checkProfile fails fast on a profile the workers could not use.
func checkProfile(path string) error {
	p, err := profile.Load(path)
	if err != nil {
		return err
	}
	dropped, err := p.CheckDocuments()
	if err != nil {
		return err
	}
	for _, label := range dropped {
		printer.PrintWarning(fmt.Sprintf("optional document %q not found, it will not be uploaded", label))
	}
	return nil
}

// serveMetrics exposes the run's metrics until the returned server is shut down.
func serveMetrics(addr string, metrics *telemetry.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.PrometheusHandler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server: %v", err)
		}
	}()
	return srv
}
