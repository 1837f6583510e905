package cli

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lookup resolves a space separated command path such as "batch run".
func lookup(t *testing.T, path string) *cobra.Command {
	t.Helper()
	root := Root()
	if path == "" {
		return root
	}
	cmd, rest, err := root.Find(strings.Fields(path))
	require.NoError(t, err, "resolve %q", path)
	require.Empty(t, rest, "resolve %q", path)
	require.NotSame(t, root, cmd, "resolve %q", path)
	return cmd
}

func subcommands(cmd *cobra.Command) []string {
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	slices.Sort(names)
	return names
}

func TestCommandTree(t *testing.T) {
	assert.Equal(t, []string{"batch", "search", "version", "worker"}, subcommands(lookup(t, "")))
	assert.Equal(t, []string{"build", "cleanup", "plan", "report", "run"}, subcommands(lookup(t, "batch")))
}

func TestCommandsHaveRequiredMetadata(t *testing.T) {
	queue := Root().Commands()
	for len(queue) > 0 {
		cmd := queue[0]
		queue = append(queue[1:], cmd.Commands()...)
		assert.NotEmpty(t, cmd.Use, "%s: Use", cmd.CommandPath())
		assert.NotEmpty(t, cmd.Short, "%s: Short", cmd.CommandPath())
	}
}

func TestHiddenCommands(t *testing.T) {
	for name, hidden := range map[string]bool{
		"worker":  true,
		"batch":   false,
		"search":  false,
		"version": false,
	} {
		assert.Equal(t, hidden, lookup(t, name).Hidden, name)
	}
}

func TestFlagDefaults(t *testing.T) {
	tests := []struct {
		path     string
		flag     string
		def      string
		required bool
	}{
		{"batch run", "jobs-file", "", true},
		{"batch run", "max-workers", "5", false},
		{"batch run", "backend", "browser-use", false},
		{"batch run", "build", "false", false},
		{"batch run", "metrics-addr", "", false},
		{"batch plan", "jobs-file", "", true},
		{"batch plan", "max-workers", "5", false},
		{"batch build", "tag", "", false},
		{"batch build", "no-cache", "false", false},
		{"search", "keywords", "", true},
		{"search", "country", "de", false},
		{"search", "output-file", "jobs.json", false},
		{"worker", "jobs-file", "/app/jobs.json", false},
		{"worker", "results-dir", "/app/results", false},
	}
	for _, tt := range tests {
		t.Run(strings.ReplaceAll(tt.path, " ", "/")+"/"+tt.flag, func(t *testing.T) {
			f := lookup(t, tt.path).Flags().Lookup(tt.flag)
			require.NotNil(t, f, "--%s", tt.flag)
			assert.Equal(t, tt.def, f.DefValue)
			_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
			assert.Equal(t, tt.required, required, "required")
		})
	}
}

func TestBatchPersistentFlags(t *testing.T) {
	flags := lookup(t, "batch").PersistentFlags()
	for _, name := range []string{"verbose", "runtime", "output"} {
		assert.NotNil(t, flags.Lookup(name), "--%s", name)
	}
	assert.Equal(t, "v", flags.Lookup("verbose").Shorthand)
}

func TestArgsValidators(t *testing.T) {
	tests := []struct {
		path    string
		args    int
		wantErr bool
	}{
		{"batch", 0, false},
		{"search", 0, false},
		{"search", 1, true},
		{"worker", 1, true},
		{"version", 1, true},
		{"batch run", 0, false},
		{"batch run", 1, true},
		{"batch cleanup", 1, true},
		{"batch plan", 1, true},
		{"batch build", 1, true},
		{"batch report", 0, false},
		{"batch report", 1, false},
		{"batch report", 2, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", strings.ReplaceAll(tt.path, " ", "/"), tt.args), func(t *testing.T) {
			cmd := lookup(t, tt.path)
			if cmd.Args == nil {
				assert.False(t, tt.wantErr, "no Args validator")
				return
			}
			err := cmd.Args(cmd, slices.Repeat([]string{"x"}, tt.args))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
