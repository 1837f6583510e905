// Package docker wraps the docker CLI.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/applybot-dev/applybot/pkg/printer"
)

// ErrNotFound is returned when a container or image does not exist.
var ErrNotFound = errors.New("no such object")

// Executor shells out to the docker CLI. Verbose echoes each invocation.
type Executor struct {
	Verbose bool
	WorkDir string
	// Binary is the docker executable, "docker" unless set.
	Binary string
}

// NewExecutor returns an Executor running in workDir, or the current directory when empty.
func NewExecutor(verbose bool, workDir string) *Executor {
	return &Executor{
		Verbose: verbose,
		WorkDir: workDir,
		Binary:  "docker",
	}
}

func (e *Executor) binary() string {
	if e.Binary == "" {
		return "docker"
	}
	return e.Binary
}

func (e *Executor) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, e.binary(), args...)
	cmd.Dir = e.WorkDir
	return cmd
}

// CheckAvailability fails unless both the CLI and the daemon answer.
func (e *Executor) CheckAvailability(ctx context.Context) error {
	if _, err := exec.LookPath(e.binary()); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", e.binary(), err)
	}
	if _, err := e.Output(ctx, "version", "--format", "{{.Server.Version}}"); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

func (e *Executor) trace(args []string) {
	if e.Verbose {
		printer.PrintInfo(printer.Muted("$ docker " + strings.Join(args, " ")))
	}
}

// Run executes docker with the provided arguments, streaming its output.
func (e *Executor) Run(ctx context.Context, args ...string) error {
	e.trace(args)
	cmd := e.command(ctx, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Output executes docker and returns its trimmed stdout. Stderr is folded into the error.
func (e *Executor) Output(ctx context.Context, args ...string) (string, error) {
	e.trace(args)
	var stdout, stderr bytes.Buffer
	cmd := e.command(ctx, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(strings.ToLower(msg), "no such") {
			return "", fmt.Errorf("docker %s: %w: %s", args[0], ErrNotFound, msg)
		}
		return "", fmt.Errorf("docker %s: %w: %s", args[0], err, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Build tags buildContext as imageName. extraArgs go before the context path.
func (e *Executor) Build(ctx context.Context, imageName, buildContext, dockerfile string, extraArgs ...string) error {
	args := []string{"build", "-t", imageName}
	if dockerfile != "" {
		args = append(args, "-f", dockerfile)
	}
	args = append(args, extraArgs...)
	args = append(args, buildContext)
	if err := e.Run(ctx, args...); err != nil {
		return fmt.Errorf("build %s: %w", imageName, err)
	}
	printer.PrintSuccess("Built " + imageName)
	return nil
}

// ImageExistsLocally reports whether imageRef can be inspected without a pull.
func (e *Executor) ImageExistsLocally(ctx context.Context, imageRef string) bool {
	_, err := e.Output(ctx, "image", "inspect", "--format", "{{.Id}}", imageRef)
	return err == nil
}

// Mount is a bind mount.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

func (m Mount) String() string {
	s := m.Source + ":" + m.Target
	if m.ReadOnly {
		s += ":ro"
	}
	return s
}

// RunSpec describes a detached container.
type RunSpec struct {
	Name    string
	Image   string
	Args    []string
	Env     map[string]string
	Mounts  []Mount
	Labels  map[string]string
	Network string
}

// RunArgs returns the docker run arguments for spec. Env and labels are sorted.
func RunArgs(spec RunSpec) []string {
	args := []string{"run", "-d"}
	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}
	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
	}
	for _, k := range sortedKeys(spec.Labels) {
		args = append(args, "--label", k+"="+spec.Labels[k])
	}
	for _, k := range sortedKeys(spec.Env) {
		args = append(args, "-e", k+"="+spec.Env[k])
	}
	for _, m := range spec.Mounts {
		args = append(args, "-v", m.String())
	}
	args = append(args, spec.Image)
	return append(args, spec.Args...)
}

// RunDetached starts a container and returns its id.
func (e *Executor) RunDetached(ctx context.Context, spec RunSpec) (string, error) {
	out, err := e.Output(ctx, RunArgs(spec)...)
	if err != nil {
		return "", err
	}
	lines := strings.Split(out, "\n")
	id := strings.TrimSpace(lines[len(lines)-1])
	if id == "" {
		return "", fmt.Errorf("docker run returned empty container id")
	}
	return id, nil
}

// Wait blocks until the container exits and returns its exit code.
func (e *Executor) Wait(ctx context.Context, containerID string) (int, error) {
	out, err := e.Output(ctx, "wait", containerID)
	if err != nil {
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		return -1, err
	}
	code, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return -1, fmt.Errorf("unexpected docker wait output %q", out)
	}
	return code, nil
}

// Stop sends SIGTERM and kills the container after grace.
func (e *Executor) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	secs := int(grace.Round(time.Second) / time.Second)
	_, err := e.Output(ctx, "stop", "-t", strconv.Itoa(secs), containerID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// RemoveContainer force-removes a container by ID. A missing container is not an error.
func (e *Executor) RemoveContainer(ctx context.Context, containerID string) error {
	_, err := e.Output(ctx, "rm", "-f", containerID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("docker rm: %w", err)
	}
	return nil
}

// ListContainers returns the ids of all containers, running or not, that carry label.
func (e *Executor) ListContainers(ctx context.Context, label string) ([]string, error) {
	out, err := e.Output(ctx, "ps", "-aq", "--filter", "label="+label)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Fields(out), nil
}

// Logs copies the container's output to w.
func (e *Executor) Logs(ctx context.Context, containerID string, w io.Writer) error {
	cmd := e.command(ctx, "logs", containerID)
	cmd.Stdout = w
	cmd.Stderr = w
	return cmd.Run()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
