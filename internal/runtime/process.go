package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/applybot-dev/applybot/internal/errdefs"
)

const pidSuffix = ".pid"

// ProcessProvider runs each worker as a child process of the current
// executable. Pid files under StateDir let Cleanup find workers left by a
// run that never finished.
type ProcessProvider struct {
	// Executable defaults to the running binary.
	Executable string
	StateDir   string

	mu    sync.Mutex
	procs map[string]*process
}

type process struct {
	cmd     *exec.Cmd
	pidFile string
	done    chan struct{}
	code    int
	err     error
}

// NewProcessProvider returns a provider that keeps its pid files in stateDir.
func NewProcessProvider(stateDir string) (*ProcessProvider, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, errdefs.Infrastructure(err, "locate executable")
	}
	return &ProcessProvider{Executable: exe, StateDir: stateDir}, nil
}

func (p *ProcessProvider) Name() string { return "process" }

func (p *ProcessProvider) Prepare(context.Context) error {
	if _, err := os.Stat(p.Executable); err != nil {
		return errdefs.Configuration("worker executable %s: %v", p.Executable, err)
	}
	return os.MkdirAll(p.StateDir, 0o755)
}

func (p *ProcessProvider) Launch(_ context.Context, spec WorkerSpec) (Handle, error) {
	if err := os.MkdirAll(spec.ResultsDir, 0o755); err != nil {
		return Handle{}, errdefs.Infrastructure(err, "create results dir for %s", spec.WorkerID)
	}
	logPath := filepath.Join(spec.ResultsDir, WorkerLogFile)
	logFile, err := os.Create(logPath)
	if err != nil {
		return Handle{}, errdefs.Infrastructure(err, "create log for %s", spec.WorkerID)
	}

	// The process outlives the launch call, so it is not tied to ctx.
	cmd := exec.Command(p.Executable, workerArgs(spec, spec.PartitionFile, spec.ResultsDir, spec.ProfilePath)...)
	cmd.Env = processEnv(workerEnv(spec))
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return Handle{}, errdefs.Infrastructure(err, "start worker %s", spec.WorkerID)
	}

	id := spec.RunID + "-" + spec.WorkerID
	proc := &process{cmd: cmd, done: make(chan struct{})}
	if p.StateDir != "" {
		if err := os.MkdirAll(p.StateDir, 0o755); err == nil {
			proc.pidFile = filepath.Join(p.StateDir, id+pidSuffix)
			_ = os.WriteFile(proc.pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644)
		}
	}

	go func() {
		defer close(proc.done)
		defer logFile.Close()
		err := cmd.Wait()
		proc.code = cmd.ProcessState.ExitCode()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			proc.err = err
		}
	}()

	p.mu.Lock()
	if p.procs == nil {
		p.procs = make(map[string]*process)
	}
	p.procs[id] = proc
	p.mu.Unlock()

	return Handle{WorkerID: spec.WorkerID, ID: id, LogFile: logPath}, nil
}

func (p *ProcessProvider) lookup(h Handle) (*process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	proc, ok := p.procs[h.ID]
	if !ok {
		return nil, fmt.Errorf("unknown worker process %s", h.ID)
	}
	return proc, nil
}

func (p *ProcessProvider) Wait(ctx context.Context, h Handle) (int, error) {
	proc, err := p.lookup(h)
	if err != nil {
		return -1, err
	}
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case <-proc.done:
		return proc.code, proc.err
	}
}

func (p *ProcessProvider) Stop(ctx context.Context, h Handle, grace time.Duration) error {
	proc, err := p.lookup(h)
	if err != nil {
		return err
	}
	select {
	case <-proc.done:
		return nil
	default:
	}

	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-proc.done:
		return nil
	case <-t.C:
	case <-ctx.Done():
	}
	if err := proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-proc.done
	return nil
}

func (p *ProcessProvider) Remove(_ context.Context, h Handle) error {
	p.mu.Lock()
	proc, ok := p.procs[h.ID]
	delete(p.procs, h.ID)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-proc.done:
	default:
		_ = proc.cmd.Process.Kill()
		<-proc.done
	}
	if proc.pidFile != "" {
		if err := os.Remove(proc.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Cleanup kills the processes named by leftover pid files.
func (p *ProcessProvider) Cleanup(context.Context) (int, error) {
	entries, err := os.ReadDir(p.StateDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), pidSuffix) {
			continue
		}
		path := filepath.Join(p.StateDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid > 0 {
			if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
				return n, fmt.Errorf("kill worker %d: %w", pid, err)
			}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return n, err
		}
		n++
	}
	return n, nil
}

// processEnv keeps PATH and HOME from the host so the browser can be found.
func processEnv(env map[string]string) []string {
	out := make([]string, 0, len(env)+2)
	for _, k := range []string{"PATH", "HOME"} {
		if _, set := env[k]; !set {
			if v, ok := os.LookupEnv(k); ok {
				out = append(out, k+"="+v)
			}
		}
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
