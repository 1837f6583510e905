// Package runtime launches workers as isolated execution units: docker
// containers by default, or local processes.
package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/applybot-dev/applybot/internal/config"
	"github.com/applybot-dev/applybot/internal/docker"
	"github.com/applybot-dev/applybot/internal/errdefs"
)

// Labels put on every launched unit.
const (
	LabelManaged = "applybot.managed"
	LabelRun     = "applybot.run"
	LabelWorker  = "applybot.worker"
)

// Paths inside a worker container.
const (
	ContainerJobsFile   = "/app/jobs.json"
	ContainerResultsDir = "/app/results"
	ContainerProfileDir = "/app/profile"
)

// WorkerLogFile is the worker's combined output, kept in its results dir.
const WorkerLogFile = "worker.log"

// WorkerSpec is everything needed to start one worker.
type WorkerSpec struct {
	RunID    string
	WorkerID string
	Backend  string
	// PartitionFile is the host path of the worker's job slice.
	PartitionFile string
	// ResultsDir is the host directory the worker writes its results to.
	ResultsDir  string
	ProfilePath string
	// Env is passed to the worker as its whole environment.
	Env map[string]string
}

// Handle identifies a launched unit.
type Handle struct {
	WorkerID string
	ID       string
	// LogFile receives the unit's output, at the latest when it is removed.
	LogFile string
}

// Provider starts, waits on and tears down workers.
type Provider interface {
	Name() string
	// Prepare checks that units can be launched at all.
	Prepare(ctx context.Context) error
	Launch(ctx context.Context, spec WorkerSpec) (Handle, error)
	// Wait blocks until the unit exits and returns its exit code.
	Wait(ctx context.Context, h Handle) (int, error)
	// Stop asks the unit to exit and kills it after grace.
	Stop(ctx context.Context, h Handle, grace time.Duration) error
	Remove(ctx context.Context, h Handle) error
	// Cleanup tears down every unit left by earlier runs and reports how many
	// it found. Calling it twice is safe.
	Cleanup(ctx context.Context) (int, error)
}

// New returns the provider selected by cfg.Runtime.
func New(cfg *config.Config, stateDir string) (Provider, error) {
	switch cfg.Runtime {
	case "", "docker":
		return &DockerProvider{
			Exec:  docker.NewExecutor(cfg.Verbose, ""),
			Image: cfg.Image,
		}, nil
	case "process":
		return NewProcessProvider(stateDir)
	default:
		return nil, errdefs.Configuration("unknown runtime %q", cfg.Runtime)
	}
}

// workerArgs is the worker command line, given the paths the worker sees.
func workerArgs(spec WorkerSpec, jobsFile, resultsDir, profilePath string) []string {
	args := []string{
		"worker",
		"--jobs-file", jobsFile,
		"--results-dir", resultsDir,
		"--run-id", spec.RunID,
		"--worker-id", spec.WorkerID,
	}
	if profilePath != "" {
		args = append(args, "--profile", profilePath)
	}
	return args
}

// workerEnv adds the worker identity to the forwarded settings.
func workerEnv(spec WorkerSpec) map[string]string {
	env := make(map[string]string, len(spec.Env)+2)
	for k, v := range spec.Env {
		env[k] = v
	}
	env["WORKER_ID"] = spec.WorkerID
	if spec.Backend != "" {
		env[config.EnvPrefix+"BACKEND"] = spec.Backend
	}
	return env
}

func containerProfilePath(hostPath string) string {
	if hostPath == "" {
		return ""
	}
	return ContainerProfileDir + "/" + filepath.Base(hostPath)
}

func absPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	return abs, nil
}
