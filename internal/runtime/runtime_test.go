package runtime

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applybot-dev/applybot/internal/config"
	"github.com/applybot-dev/applybot/internal/docker"
)

func testSpec(t *testing.T) WorkerSpec {
	t.Helper()
	dir := t.TempDir()
	return WorkerSpec{
		RunID:         "0d9f3c1a-77aa-4b8e-9c11-5e2f5f0a1b2c",
		WorkerID:      "batch-002",
		Backend:       "browser-use",
		PartitionFile: filepath.Join(dir, "partitions", "batch-002.json"),
		ResultsDir:    filepath.Join(dir, "batch-002"),
		ProfilePath:   filepath.Join(dir, "config", "profile.yaml"),
		Env:           map[string]string{"OPENAI_API_KEY": "sk-test"},
	}
}

func TestDockerProvider_ContainerSpec(t *testing.T) {
	spec := testSpec(t)
	p := &DockerProvider{Image: "job-application-bot:latest"}

	rs, err := p.containerSpec(spec)
	require.NoError(t, err)

	assert.Equal(t, "job-application-bot:latest", rs.Image)
	assert.True(t, strings.HasPrefix(rs.Name, "applybot-"), rs.Name)
	assert.Contains(t, rs.Name, "batch")
	assert.Equal(t, map[string]string{
		LabelManaged: "true",
		LabelRun:     spec.RunID,
		LabelWorker:  "batch-002",
	}, rs.Labels)

	assert.Equal(t, "batch-002", rs.Env["WORKER_ID"])
	assert.Equal(t, "browser-use", rs.Env["APPLYBOT_BACKEND"])
	assert.Equal(t, "sk-test", rs.Env["OPENAI_API_KEY"])

	require.Len(t, rs.Mounts, 3)
	assert.Equal(t, ContainerJobsFile, rs.Mounts[0].Target)
	assert.True(t, rs.Mounts[0].ReadOnly)
	assert.Equal(t, spec.ResultsDir, rs.Mounts[1].Source)
	assert.False(t, rs.Mounts[1].ReadOnly)
	assert.Equal(t, filepath.Dir(spec.ProfilePath), rs.Mounts[2].Source)

	assert.Equal(t, []string{
		"worker",
		"--jobs-file", ContainerJobsFile,
		"--results-dir", ContainerResultsDir,
		"--run-id", spec.RunID,
		"--worker-id", "batch-002",
		"--profile", ContainerProfileDir + "/profile.yaml",
	}, rs.Args)
}

func TestDockerProvider_DefaultRunArgsPinBrowserSettings(t *testing.T) {
	cfg, err := config.Parse(map[string]string{
		"OPENAI_API_KEY":       "sk-test",
		"APPLYBOT_HEADLESS":    "false",
		"APPLYBOT_CHROME_PATH": "/opt/chrome/chrome",
	})
	require.NoError(t, err)
	require.False(t, cfg.Browser.NoSandbox)

	spec := testSpec(t)
	spec.Env = cfg.WorkerEnv()
	spec.Env[config.EnvPrefix+"CHROME_PATH"] = cfg.Browser.ChromePath
	rs, err := (&DockerProvider{Image: cfg.Image}).containerSpec(spec)
	require.NoError(t, err)

	args := strings.Join(docker.RunArgs(rs), " ")
	assert.Contains(t, args, "-e APPLYBOT_NO_SANDBOX=true")
	assert.Contains(t, args, "-e APPLYBOT_HEADLESS=true")
	assert.NotContains(t, args, "NO_SANDBOX=false")
	assert.NotContains(t, args, "CHROME_PATH")
	assert.Contains(t, args, "-e OPENAI_API_KEY=sk-test")

	project, err := ComposeProject(cfg.Image, t.TempDir(), []WorkerSpec{spec})
	require.NoError(t, err)
	got := project.Services["batch-002"].Environment[config.EnvPrefix+"NO_SANDBOX"]
	require.NotNil(t, got)
	assert.Equal(t, "true", *got)
}

func TestComposeProject(t *testing.T) {
	a := testSpec(t)
	b := testSpec(t)
	b.WorkerID = "batch-003"

	project, err := ComposeProject("bot:dev", t.TempDir(), []WorkerSpec{a, b})
	require.NoError(t, err)
	require.Len(t, project.Services, 2)

	svc, ok := project.Services["batch-002"]
	require.True(t, ok)
	assert.Equal(t, "bot:dev", svc.Image)
	require.NotNil(t, svc.Environment["WORKER_ID"])
	assert.Equal(t, "batch-002", *svc.Environment["WORKER_ID"])
	assert.Len(t, svc.Volumes, 3)
	assert.Nil(t, svc.Environment["OPENAI_API_KEY"])

	path := filepath.Join(t.TempDir(), "compose.yaml")
	require.NoError(t, WriteCompose(project, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "batch-003")
	assert.Contains(t, string(data), "/app/jobs.json")
	assert.NotContains(t, string(data), "sk-test")

	_, err = ComposeProject("bot:dev", "", nil)
	assert.Error(t, err)
}

func TestDockerProvider_RemoveSavesLogs(t *testing.T) {
	dir := t.TempDir()
	callLog := filepath.Join(dir, "calls.log")
	bin := filepath.Join(dir, "docker")
	script := `#!/bin/sh
echo "$@" >> "` + callLog + `"
case "$1" in
  run) echo "abc123" ;;
  logs) echo "applied 2 of 2" ;;
esac
`
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	ex := docker.NewExecutor(false, "")
	ex.Binary = bin

	spec := testSpec(t)
	require.NoError(t, os.MkdirAll(spec.ResultsDir, 0o755))
	p := &DockerProvider{Exec: ex, Image: "bot:dev"}
	ctx := context.Background()

	h, err := p.Launch(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "abc123", h.ID)

	require.NoError(t, p.Remove(ctx, h))
	out, err := os.ReadFile(h.LogFile)
	require.NoError(t, err)
	assert.Equal(t, "applied 2 of 2", strings.TrimSpace(string(out)))

	data, err := os.ReadFile(callLog)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "run -d"))
	assert.Equal(t, "logs abc123", lines[1])
	assert.Equal(t, "rm -f abc123", lines[2])
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-worker")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestProcessProvider_LaunchAndWait(t *testing.T) {
	spec := testSpec(t)
	state := t.TempDir()
	p := &ProcessProvider{
		Executable: writeScript(t, `echo "$WORKER_ID $APPLYBOT_BACKEND $1"; exit 3`),
		StateDir:   state,
	}
	ctx := context.Background()
	require.NoError(t, p.Prepare(ctx))

	h, err := p.Launch(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "batch-002", h.WorkerID)
	assert.FileExists(t, filepath.Join(state, h.ID+pidSuffix))

	code, err := p.Wait(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	assert.Equal(t, filepath.Join(spec.ResultsDir, WorkerLogFile), h.LogFile)
	log, err := os.ReadFile(h.LogFile)
	require.NoError(t, err)
	assert.Equal(t, "batch-002 browser-use worker", strings.TrimSpace(string(log)))

	require.NoError(t, p.Remove(ctx, h))
	assert.NoFileExists(t, filepath.Join(state, h.ID+pidSuffix))
	require.NoError(t, p.Remove(ctx, h))
}

func TestProcessProvider_StopKillsAfterGrace(t *testing.T) {
	p := &ProcessProvider{
		Executable: writeScript(t, `trap '' TERM; exec sleep 30`),
		StateDir:   t.TempDir(),
	}
	ctx := context.Background()

	h, err := p.Launch(ctx, testSpec(t))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, p.Stop(ctx, h, 200*time.Millisecond))
	assert.Less(t, time.Since(start), 10*time.Second)

	code, err := p.Wait(ctx, h)
	require.NoError(t, err)
	assert.NotEqual(t, 0, code)
	require.NoError(t, p.Remove(ctx, h))
}

func TestProcessProvider_WaitHonoursContext(t *testing.T) {
	p := &ProcessProvider{Executable: writeScript(t, `exec sleep 30`), StateDir: t.TempDir()}
	h, err := p.Launch(context.Background(), testSpec(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Remove(context.Background(), h) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Wait(ctx, h)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessProvider_CleanupIsIdempotent(t *testing.T) {
	state := t.TempDir()
	orphan := exec.Command("sleep", "30")
	require.NoError(t, orphan.Start())
	require.NoError(t, os.WriteFile(filepath.Join(state, "old-run-batch-001.pid"), []byte(strconv.Itoa(orphan.Process.Pid)), 0o644))

	p := &ProcessProvider{StateDir: state}
	n, err := p.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Error(t, orphan.Wait())

	n, err = p.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	missing := &ProcessProvider{StateDir: filepath.Join(state, "nope")}
	n, err = missing.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
