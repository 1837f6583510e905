// Package orchestrator runs a batch of job applications across parallel
// workers and merges what they leave behind into one summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/applybot-dev/applybot/internal/aggregate"
	"github.com/applybot-dev/applybot/internal/config"
	"github.com/applybot-dev/applybot/internal/errdefs"
	"github.com/applybot-dev/applybot/internal/partition"
	"github.com/applybot-dev/applybot/internal/runtime"
	"github.com/applybot-dev/applybot/internal/store"
	"github.com/applybot-dev/applybot/internal/telemetry"
	"github.com/applybot-dev/applybot/pkg/models"
)

// MetricsFile is written next to the summary.
const MetricsFile = "metrics.prom"

// cleanupTimeout bounds each stop or remove call on top of the stop grace.
const cleanupTimeout = 30 * time.Second

// Recorder receives every batch result that was recovered.
type Recorder interface {
	RecordBatch(ctx context.Context, runID string, b *models.BatchResult) error
}

// Options select how one run is executed.
type Options struct {
	// MaxWorkers defaults to Config.MaxWorkers.
	MaxWorkers int
	// Backend defaults to Config.Backend.
	Backend string
	// RunID defaults to a random UUID.
	RunID string
}

// Orchestrator partitions jobs, launches one worker per partition and
// aggregates the results.
type Orchestrator struct {
	Config   *config.Config
	Provider runtime.Provider
	// Index and Metrics are optional.
	Index   Recorder
	Metrics *telemetry.Metrics
	// Progress receives a progress bar. Nil hides it.
	Progress io.Writer
	Logger   *log.Logger

	tracker *Tracker
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}

// Workers returns the phases of the last run's workers.
func (o *Orchestrator) Workers() []WorkerStatus {
	if o.tracker == nil {
		return nil
	}
	return o.tracker.List()
}

// Run executes the batch and blocks until every launched worker has exited
// or been torn down. A summary is returned whenever the run directory was
// created, including when some workers failed to launch or ctx was
// cancelled; the error reports those conditions.
func (o *Orchestrator) Run(ctx context.Context, jobs []models.JobDescriptor, opts Options) (*models.SummaryReport, error) {
	cfg := o.Config
	if len(jobs) == 0 {
		return nil, errdefs.Configuration("no jobs to process")
	}
	maxWorkers := opts.MaxWorkers
	if maxWorkers == 0 {
		maxWorkers = cfg.MaxWorkers
	}
	backendName := opts.Backend
	if backendName == "" {
		backendName = cfg.Backend
	}
	backend, err := config.ResolveBackend(backendName)
	if err != nil {
		return nil, err
	}
	plan, err := partition.Plan(jobs, maxWorkers)
	if err != nil {
		return nil, errdefs.Configuration("%v", err)
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	if err := o.Provider.Prepare(ctx); err != nil {
		return nil, err
	}

	rs, specs, err := o.prepareRun(runID, backend.Name, plan)
	if err != nil {
		return nil, err
	}
	o.logf("Run %s: %d jobs across %d workers (backend %s, runtime %s)",
		runID, len(jobs), len(plan), backend.Name, o.Provider.Name())

	counts := make(map[string]int, len(plan))
	for _, a := range plan {
		counts[a.WorkerID] = len(a.Jobs)
	}
	o.tracker = NewTracker(counts)

	bar := o.progressBar(len(plan))
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		launchErrs []error
	)
	for _, spec := range specs {
		wg.Add(1)
		go func(spec runtime.WorkerSpec) {
			defer wg.Done()
			defer func() { _ = bar.Add(1) }()
			if err := o.runWorker(ctx, spec); err != nil {
				mu.Lock()
				launchErrs = append(launchErrs, err)
				mu.Unlock()
			}
		}(spec)
	}
	wg.Wait()
	_ = bar.Finish()

	report, err := o.finalize(context.WithoutCancel(ctx), rs, backend.Name)
	if err != nil {
		return nil, err
	}

	if len(launchErrs) > 0 {
		return report, errdefs.Infrastructure(errors.Join(launchErrs...),
			"%d of %d workers failed to launch", len(launchErrs), len(specs))
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run %s cancelled: %w", runID, err)
	}
	return report, nil
}

// prepareRun writes partitions and the manifest before anything launches.
func (o *Orchestrator) prepareRun(runID, backend string, plan []partition.Assignment) (*store.RunStore, []runtime.WorkerSpec, error) {
	cfg := o.Config
	rs, err := store.NewRunStore(cfg.ResultsDir, runID)
	if err != nil {
		return nil, nil, err
	}

	manifest := store.Manifest{
		RunID:     runID,
		Backend:   backend,
		Runtime:   o.Provider.Name(),
		CreatedAt: time.Now().UTC(),
	}
	if o.Provider.Name() == "docker" {
		manifest.Image = cfg.Image
	}

	env := cfg.WorkerEnv()
	specs := make([]runtime.WorkerSpec, 0, len(plan))
	for _, a := range plan {
		path, err := rs.WritePartition(a.WorkerID, a.Jobs)
		if err != nil {
			return nil, nil, err
		}
		dir, err := rs.WorkerDir(a.WorkerID)
		if err != nil {
			return nil, nil, err
		}
		manifest.Workers = append(manifest.Workers, store.ManifestWorker{
			WorkerID:      a.WorkerID,
			Assigned:      models.JobIDs(a.Jobs),
			PartitionFile: path,
		})
		specs = append(specs, runtime.WorkerSpec{
			RunID:         runID,
			WorkerID:      a.WorkerID,
			Backend:       backend,
			PartitionFile: path,
			ResultsDir:    dir,
			ProfilePath:   cfg.ProfilePath,
			Env:           env,
		})
	}
	if err := rs.WriteManifest(manifest); err != nil {
		return nil, nil, err
	}
	return rs, specs, nil
}

// runWorker launches one worker and waits for it under the worker timeout.
// The unit is always removed before it returns. Only launch failures are
// returned; everything else is visible in the worker's results.
func (o *Orchestrator) runWorker(ctx context.Context, spec runtime.WorkerSpec) error {
	id := spec.WorkerID
	_ = o.tracker.Launching(id)

	h, err := o.Provider.Launch(ctx, spec)
	if err != nil {
		o.logf("[%s] launch failed: %v", id, err)
		_ = o.tracker.Finish(id, PhaseFailed, nil, err)
		if o.Metrics != nil {
			o.Metrics.RecordLaunchFailure(context.WithoutCancel(ctx), id)
		}
		return fmt.Errorf("%s: %w", id, err)
	}
	_ = o.tracker.Running(id, h.ID)
	started := time.Now()

	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if err := o.Provider.Remove(rctx, h); err != nil {
			o.logf("[%s] remove failed: %v", id, err)
		}
		if o.Metrics != nil {
			o.Metrics.RecordWorker(rctx, id, time.Since(started))
		}
	}()

	wctx := ctx
	if o.Config.WorkerTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, o.Config.WorkerTimeout)
		defer cancel()
	}

	code, err := o.Provider.Wait(wctx, h)
	switch {
	case err == nil && code == 0:
		_ = o.tracker.Finish(id, PhaseCompleted, &code, nil)
		return nil
	case err == nil:
		o.logf("[%s] exited with code %d", id, code)
		_ = o.tracker.Finish(id, PhaseFailed, &code, fmt.Errorf("exit code %d", code))
		return nil
	}

	phase := PhaseFailed
	switch {
	case ctx.Err() != nil:
		phase = PhaseCancelled
		o.logf("[%s] cancelled, stopping", id)
	case wctx.Err() != nil:
		phase = PhaseTimedOut
		o.logf("[%s] exceeded %s, stopping", id, o.Config.WorkerTimeout)
	default:
		o.logf("[%s] wait failed: %v", id, err)
	}
	o.stop(ctx, h)
	_ = o.tracker.Finish(id, phase, nil, err)
	return nil
}

// stop gives a worker StopGrace to write its partial results.
func (o *Orchestrator) stop(ctx context.Context, h runtime.Handle) {
	_ = o.tracker.Stopping(h.WorkerID)
	grace := o.Config.StopGrace
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace+cleanupTimeout)
	defer cancel()
	if err := o.Provider.Stop(sctx, h, grace); err != nil {
		o.logf("[%s] stop failed: %v", h.WorkerID, err)
	}
}

// finalize merges whatever the workers left, writes the summary and metrics
// and indexes the batches.
func (o *Orchestrator) finalize(ctx context.Context, rs *store.RunStore, backend string) (*models.SummaryReport, error) {
	runID, inputs, err := rs.Inputs()
	if err != nil {
		return nil, err
	}

	if o.Index != nil {
		for _, in := range inputs {
			if in.Batch == nil {
				continue
			}
			if err := o.Index.RecordBatch(ctx, runID, in.Batch); err != nil {
				o.logf("[%s] failed to index results: %v", in.WorkerID, err)
			}
		}
	}

	report := aggregate.Merge(runID, inputs)
	data, err := aggregate.Encode(report)
	if err != nil {
		return nil, err
	}
	path, err := rs.WriteSummary(data)
	if err != nil {
		return nil, err
	}
	o.logf("Summary written to %s", path)

	if o.Metrics != nil {
		o.Metrics.RecordSummary(ctx, backend, report)
		if err := o.Metrics.WriteTextfile(filepath.Join(rs.Dir(), MetricsFile)); err != nil {
			o.logf("Failed to write metrics: %v", err)
		}
	}
	return &report, nil
}

func (o *Orchestrator) progressBar(workers int) *progressbar.ProgressBar {
	if o.Progress == nil {
		return progressbar.NewOptions(workers, progressbar.OptionSetVisibility(false))
	}
	return progressbar.NewOptions(workers,
		progressbar.OptionSetDescription("Workers finished"),
		progressbar.OptionSetWriter(o.Progress),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(o.Progress)
		}),
	)
}

// Report re-aggregates an existing run directory and rewrites its summary.
// It is how a run is recovered after the orchestrator itself died.
func Report(runDir string) (*models.SummaryReport, string, error) {
	rs, err := store.OpenRunStore(runDir)
	if err != nil {
		return nil, "", err
	}
	runID, inputs, err := rs.Inputs()
	if err != nil {
		return nil, "", err
	}
	report := aggregate.Merge(runID, inputs)
	data, err := aggregate.Encode(report)
	if err != nil {
		return nil, "", err
	}
	path, err := rs.WriteSummary(data)
	if err != nil {
		return nil, "", err
	}
	return &report, path, nil
}

// RunDir returns the directory of a run under the configured results root.
func RunDir(cfg *config.Config, runID string) string {
	return filepath.Join(cfg.ResultsDir, runID)
}

// LatestRun returns the most recently modified run directory under root.
func LatestRun(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	var (
		latest string
		mod    time.Time
	)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		info, err := os.Stat(filepath.Join(dir, "manifest.json"))
		if err != nil {
			continue
		}
		if info.ModTime().After(mod) {
			latest, mod = dir, info.ModTime()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("%w under %s", store.ErrNoManifest, root)
	}
	return latest, nil
}
