package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/applybot-dev/applybot/internal/config"
	"github.com/applybot-dev/applybot/internal/jobstore"
	"github.com/applybot-dev/applybot/internal/profile"
	"github.com/applybot-dev/applybot/internal/worker"
)

var (
	workerJobsFile   string
	workerResultsDir string
	workerProfile    string
	workerRunID      string
	workerID         string
)

// WorkerCmd runs inside a worker container or process. It is started by
// applyctl batch run and not meant to be called by hand.
var WorkerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Process one partition of jobs (used inside worker containers)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

func init() {
	WorkerCmd.Flags().StringVar(&workerJobsFile, "jobs-file", "/app/jobs.json", "Partition file")
	WorkerCmd.Flags().StringVar(&workerResultsDir, "results-dir", "/app/results", "Directory for job and batch results")
	WorkerCmd.Flags().StringVar(&workerProfile, "profile", "", "Applicant profile (default from APPLYBOT_PROFILE)")
	WorkerCmd.Flags().StringVar(&workerRunID, "run-id", "", "Run id recorded in the batch result")
	WorkerCmd.Flags().StringVar(&workerID, "worker-id", os.Getenv("WORKER_ID"), "Worker id (default from WORKER_ID)")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if workerProfile != "" {
		cfg.ProfilePath = workerProfile
	}

	jobs, err := jobstore.LoadFile(workerJobsFile)
	if err != nil {
		return err
	}
	prof, err := profile.Load(cfg.ProfilePath)
	if err != nil {
		return err
	}
	if _, err := prof.CheckDocuments(); err != nil {
		return err
	}

	// SIGTERM from the orchestrator cancels the loop; the batch result is
	// still written before exit.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	w, err := worker.New(cfg, worker.Options{
		ID:         workerID,
		RunID:      workerRunID,
		ResultsDir: workerResultsDir,
		Profile:    prof,
	})
	if err != nil {
		return err
	}

	batch, err := w.Run(ctx, jobs)
	if err != nil {
		return fmt.Errorf("write batch result: %w", err)
	}
	if batch.Fault != "" && ctx.Err() == nil {
		return fmt.Errorf("worker %s stopped early: %s", workerID, batch.Fault)
	}
	return nil
}
