package runtime

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/stoewer/go-strcase"

	"github.com/applybot-dev/applybot/internal/config"
	"github.com/applybot-dev/applybot/internal/docker"
	"github.com/applybot-dev/applybot/internal/errdefs"
)

// DockerProvider runs each worker as a detached container.
type DockerProvider struct {
	Exec  *docker.Executor
	Image string
	// Network is optional.
	Network string
}

func (p *DockerProvider) Name() string { return "docker" }

func (p *DockerProvider) Prepare(ctx context.Context) error {
	if err := p.Exec.CheckAvailability(ctx); err != nil {
		return errdefs.Infrastructure(err, "docker unavailable")
	}
	if !p.Exec.ImageExistsLocally(ctx, p.Image) {
		return errdefs.Configuration("worker image %s not found locally; run `applyctl batch build` or pass --build", p.Image)
	}
	return nil
}

func (p *DockerProvider) Launch(ctx context.Context, spec WorkerSpec) (Handle, error) {
	rs, err := p.containerSpec(spec)
	if err != nil {
		return Handle{}, errdefs.Infrastructure(err, "prepare container for %s", spec.WorkerID)
	}
	id, err := p.Exec.RunDetached(ctx, rs)
	if err != nil {
		return Handle{}, errdefs.Infrastructure(err, "launch container for %s", spec.WorkerID)
	}
	return Handle{WorkerID: spec.WorkerID, ID: id, LogFile: filepath.Join(spec.ResultsDir, WorkerLogFile)}, nil
}

func (p *DockerProvider) Wait(ctx context.Context, h Handle) (int, error) {
	return p.Exec.Wait(ctx, h.ID)
}

func (p *DockerProvider) Stop(ctx context.Context, h Handle, grace time.Duration) error {
	return p.Exec.Stop(ctx, h.ID, grace)
}

// Remove saves the container's output to h.LogFile, then deletes the container.
func (p *DockerProvider) Remove(ctx context.Context, h Handle) error {
	if h.LogFile != "" {
		if err := p.saveLogs(ctx, h); err != nil {
			log.Printf("[%s] failed to save container logs: %v", h.WorkerID, err)
		}
	}
	return p.Exec.RemoveContainer(ctx, h.ID)
}

func (p *DockerProvider) saveLogs(ctx context.Context, h Handle) error {
	f, err := os.Create(h.LogFile)
	if err != nil {
		return err
	}
	defer f.Close()
	return p.Exec.Logs(ctx, h.ID, f)
}

func (p *DockerProvider) Cleanup(ctx context.Context) (int, error) {
	ids, err := p.Exec.ListContainers(ctx, LabelManaged+"=true")
	if err != nil {
		return 0, errdefs.Infrastructure(err, "list worker containers")
	}
	for _, id := range ids {
		if err := p.Exec.RemoveContainer(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// ContainerName is the docker name of a worker container.
func ContainerName(runID, workerID string) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return strcase.KebabCase(fmt.Sprintf("applybot_%s_%s", short, workerID))
}

// containerEnv pins the browser settings the worker image depends on. Chromium
// runs as root in the image and has no display, so host values do not apply.
func containerEnv(spec WorkerSpec) map[string]string {
	env := workerEnv(spec)
	env[config.EnvPrefix+"NO_SANDBOX"] = "true"
	env[config.EnvPrefix+"HEADLESS"] = "true"
	delete(env, config.EnvPrefix+"CHROME_PATH")
	return env
}

func (p *DockerProvider) containerSpec(spec WorkerSpec) (docker.RunSpec, error) {
	partition, err := absPath(spec.PartitionFile)
	if err != nil {
		return docker.RunSpec{}, err
	}
	results, err := absPath(spec.ResultsDir)
	if err != nil {
		return docker.RunSpec{}, err
	}
	profile, err := absPath(spec.ProfilePath)
	if err != nil {
		return docker.RunSpec{}, err
	}

	mounts := []docker.Mount{
		{Source: partition, Target: ContainerJobsFile, ReadOnly: true},
		{Source: results, Target: ContainerResultsDir},
	}
	if profile != "" {
		mounts = append(mounts, docker.Mount{Source: filepath.Dir(profile), Target: ContainerProfileDir, ReadOnly: true})
	}

	return docker.RunSpec{
		Name:    ContainerName(spec.RunID, spec.WorkerID),
		Image:   p.Image,
		Args:    workerArgs(spec, ContainerJobsFile, ContainerResultsDir, containerProfilePath(profile)),
		Env:     containerEnv(spec),
		Mounts:  mounts,
		Network: p.Network,
		Labels: map[string]string{
			LabelManaged: "true",
			LabelRun:     spec.RunID,
			LabelWorker:  spec.WorkerID,
		},
	}, nil
}
