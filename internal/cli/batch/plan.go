package batch

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/applybot-dev/applybot/internal/config"
	"github.com/applybot-dev/applybot/internal/jobstore"
	"github.com/applybot-dev/applybot/internal/partition"
	"github.com/applybot-dev/applybot/internal/runtime"
	"github.com/applybot-dev/applybot/internal/store"
	"github.com/applybot-dev/applybot/pkg/models"
	"github.com/applybot-dev/applybot/pkg/printer"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show how a jobs file would be split across workers",
	Long: `Print the partition plan for a jobs file without launching anything.

With --compose-file the plan is also written as a docker compose project with
one service per worker. Partition files for it are written under the results
directory.`,
	Args: cobra.NoArgs,
	RunE: runPlan,
	Example: `  applyctl batch plan --jobs-file jobs.json --max-workers 3
  applyctl batch plan --jobs-file jobs.json --compose-file compose.yaml`,
}

var (
	planJobsFile    string
	planMaxWorkers  int
	planComposeFile string
)

// planRow is one worker of a plan.
type planRow struct {
	WorkerID string   `json:"worker_id"`
	Jobs     int      `json:"jobs"`
	First    string   `json:"first"`
	Last     string   `json:"last"`
	JobIDs   []string `json:"job_ids"`
}

func init() {
	BatchCmd.AddCommand(planCmd)

	planCmd.Flags().StringVar(&planJobsFile, "jobs-file", "", "Jobs file to partition")
	planCmd.Flags().IntVar(&planMaxWorkers, "max-workers", 5, "Maximum number of parallel workers")
	planCmd.Flags().StringVar(&planComposeFile, "compose-file", "", "Also write a docker compose file for the plan")

	_ = planCmd.MarkFlagRequired("jobs-file")
}

func runPlan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-workers") {
		cfg.MaxWorkers = planMaxWorkers
	}
	p, err := newPrinter()
	if err != nil {
		return err
	}

	jobs, err := jobstore.LoadFile(planJobsFile)
	if err != nil {
		return err
	}
	plan, err := partition.Plan(jobs, cfg.MaxWorkers)
	if err != nil {
		return err
	}

	rows := make([]planRow, 0, len(plan))
	for _, a := range plan {
		rows = append(rows, planRow{
			WorkerID: a.WorkerID,
			Jobs:     len(a.Jobs),
			First:    a.Jobs[0].DisplayName(),
			Last:     a.Jobs[len(a.Jobs)-1].DisplayName(),
			JobIDs:   models.JobIDs(a.Jobs),
		})
	}
	if err := p.Print(rows, func(t *printer.TablePrinter) {
		t.SetHeaders("Worker", "Jobs", "First", "Last")
		for _, r := range rows {
			t.AddRow(r.WorkerID, r.Jobs, printer.TruncateString(r.First, 40), printer.TruncateString(r.Last, 40))
		}
	}); err != nil {
		return err
	}

	if planComposeFile == "" {
		return nil
	}
	if err := writeComposePlan(cfg, plan, planComposeFile); err != nil {
		return err
	}
	printer.PrintSuccess(fmt.Sprintf("Compose project written to %s", planComposeFile))
	return nil
}

// writeComposePlan writes partitions into a "plan" run directory and a
// compose project that mounts them.
func writeComposePlan(cfg *config.Config, plan []partition.Assignment, path string) error {
	rs, err := store.NewRunStore(cfg.ResultsDir, "plan")
	if err != nil {
		return err
	}
	env := cfg.WorkerEnv()
	backend, err := config.ResolveBackend(cfg.Backend)
	if err != nil {
		return err
	}

	specs := make([]runtime.WorkerSpec, 0, len(plan))
	for _, a := range plan {
		partitionFile, err := rs.WritePartition(a.WorkerID, a.Jobs)
		if err != nil {
			return err
		}
		dir, err := rs.WorkerDir(a.WorkerID)
		if err != nil {
			return err
		}
		specs = append(specs, runtime.WorkerSpec{
			RunID:         "plan",
			WorkerID:      a.WorkerID,
			Backend:       backend.Name,
			PartitionFile: partitionFile,
			ResultsDir:    dir,
			ProfilePath:   cfg.ProfilePath,
			Env:           env,
		})
	}

	workingDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return err
	}
	project, err := runtime.ComposeProject(cfg.Image, workingDir, specs)
	if err != nil {
		return err
	}
	return runtime.WriteCompose(project, path)
}
