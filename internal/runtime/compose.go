package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/compose-spec/compose-go/v2/types"
	"github.com/stoewer/go-strcase"
)

// passThroughEnv are left without a value in compose files, so docker
// compose takes them from the invoking shell.
var passThroughEnv = map[string]bool{
	"OPENAI_API_KEY": true,
}

// ComposeProject describes a run as a compose project with one service per
// worker. The project mirrors what DockerProvider launches, so a run can be
// inspected or replayed with docker compose.
func ComposeProject(image, workingDir string, specs []WorkerSpec) (*types.Project, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no workers to export")
	}
	p := &DockerProvider{Image: image}
	services := make(types.Services, len(specs))
	for _, spec := range specs {
		rs, err := p.containerSpec(spec)
		if err != nil {
			return nil, err
		}

		var env []string
		for k, v := range rs.Env {
			if passThroughEnv[k] {
				env = append(env, k)
				continue
			}
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		sort.Strings(env)

		volumes := make([]types.ServiceVolumeConfig, 0, len(rs.Mounts))
		for _, m := range rs.Mounts {
			volumes = append(volumes, types.ServiceVolumeConfig{
				Type:     "bind",
				Source:   m.Source,
				Target:   m.Target,
				ReadOnly: m.ReadOnly,
			})
		}

		name := strcase.KebabCase(spec.WorkerID)
		if _, dup := services[name]; dup {
			return nil, fmt.Errorf("duplicate worker id %s", spec.WorkerID)
		}
		services[name] = types.ServiceConfig{
			Name:          name,
			Image:         image,
			ContainerName: rs.Name,
			Command:       rs.Args,
			Environment:   types.NewMappingWithEquals(env),
			Volumes:       volumes,
			Labels:        rs.Labels,
		}
	}

	return &types.Project{
		Name:       strcase.KebabCase("applybot_" + specs[0].RunID),
		WorkingDir: workingDir,
		Services:   services,
	}, nil
}

// WriteCompose marshals project to path.
func WriteCompose(project *types.Project, path string) error {
	data, err := project.MarshalYAML()
	if err != nil {
		return fmt.Errorf("failed to marshal docker compose yaml: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write docker compose yaml: %w", err)
	}
	return nil
}
