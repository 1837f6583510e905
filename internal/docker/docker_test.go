package docker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDocker installs a shell script that logs its arguments and answers a
// few subcommands the way the docker CLI does.
func fakeDocker(t *testing.T) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	logFile := filepath.Join(dir, "calls.log")
	script := `#!/bin/sh
echo "$@" >> "` + logFile + `"
case "$1" in
  run) echo "abc123" ;;
  wait) echo "3" ;;
  ps) printf "c1\nc2\n" ;;
  rm) if [ "$3" = "gone" ]; then echo "Error: No such container: gone" >&2; exit 1; fi ;;
  stop) if [ "$4" = "gone" ]; then echo "Error response from daemon: No such container: gone" >&2; exit 1; fi ;;
  image) exit 1 ;;
esac
`
	bin := filepath.Join(dir, "docker")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	e := NewExecutor(false, "")
	e.Binary = bin
	return e, logFile
}

func calls(t *testing.T, logFile string) []string {
	t.Helper()
	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestRunArgs(t *testing.T) {
	args := RunArgs(RunSpec{
		Name:   "applybot-batch-001",
		Image:  "job-application-bot:latest",
		Args:   []string{"worker", "--jobs-file", "/app/jobs.json"},
		Env:    map[string]string{"WORKER_ID": "batch-001", "APPLYBOT_BACKEND": "browser-use"},
		Labels: map[string]string{"applybot.run": "r1", "applybot.managed": "true"},
		Mounts: []Mount{
			{Source: "/tmp/p.json", Target: "/app/jobs.json", ReadOnly: true},
			{Source: "/tmp/out", Target: "/app/results"},
		},
	})

	assert.Equal(t, []string{
		"run", "-d", "--name", "applybot-batch-001",
		"--label", "applybot.managed=true",
		"--label", "applybot.run=r1",
		"-e", "APPLYBOT_BACKEND=browser-use",
		"-e", "WORKER_ID=batch-001",
		"-v", "/tmp/p.json:/app/jobs.json:ro",
		"-v", "/tmp/out:/app/results",
		"job-application-bot:latest",
		"worker", "--jobs-file", "/app/jobs.json",
	}, args)
}

func TestExecutor_ContainerLifecycle(t *testing.T) {
	e, logFile := fakeDocker(t)
	ctx := context.Background()

	id, err := e.RunDetached(ctx, RunSpec{Name: "w1", Image: "img"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	code, err := e.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	require.NoError(t, e.Stop(ctx, id, 30*time.Second))
	require.NoError(t, e.RemoveContainer(ctx, id))

	ids, err := e.ListContainers(ctx, "applybot.managed=true")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids)

	assert.Equal(t, []string{
		"run -d --name w1 img",
		"wait abc123",
		"stop -t 30 abc123",
		"rm -f abc123",
		"ps -aq --filter label=applybot.managed=true",
	}, calls(t, logFile))
}

func TestExecutor_MissingContainersAreNotErrors(t *testing.T) {
	e, _ := fakeDocker(t)
	ctx := context.Background()

	assert.NoError(t, e.RemoveContainer(ctx, "gone"))
	assert.NoError(t, e.Stop(ctx, "gone", time.Second))
	assert.False(t, e.ImageExistsLocally(ctx, "missing:latest"))
}

func TestExecutor_BuildArgs(t *testing.T) {
	e, logFile := fakeDocker(t)

	require.NoError(t, e.Build(context.Background(), "bot:dev", ".", "Dockerfile", "--pull"))
	assert.Equal(t, []string{"build -t bot:dev -f Dockerfile --pull ."}, calls(t, logFile))
}
