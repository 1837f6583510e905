// Package jobstore loads the read-only list of postings for a run.
package jobstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/applybot-dev/applybot/internal/errdefs"
	"github.com/applybot-dev/applybot/pkg/models"
)

// searchOutput is the envelope written by `applyctl search`.
type searchOutput struct {
	Jobs []models.JobDescriptor `json:"jobs"`
	Data *struct {
		Jobs []models.JobDescriptor `json:"jobs"`
	} `json:"data,omitempty"`
}

// LoadFile reads a jobs file. Both a bare array and a {"jobs": [...]}
// envelope are accepted. A missing file, an empty URL or a duplicate URL is a
// configuration error.
func LoadFile(path string) ([]models.JobDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errdefs.Configuration("jobs file %s does not exist", path)
		}
		return nil, errdefs.Configuration("read jobs file %s: %v", path, err)
	}
	jobs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return jobs, nil
}

// Parse decodes and validates job descriptors.
func Parse(data []byte) ([]models.JobDescriptor, error) {
	var jobs []models.JobDescriptor
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0:
		return nil, errdefs.Configuration("jobs file is empty")
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &jobs); err != nil {
			return nil, errdefs.Configuration("decode jobs: %v", err)
		}
	default:
		var env searchOutput
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, errdefs.Configuration("decode jobs: %v", err)
		}
		jobs = env.Jobs
		if len(jobs) == 0 && env.Data != nil {
			jobs = env.Data.Jobs
		}
	}

	seen := make(map[string]int, len(jobs))
	for i := range jobs {
		jobs[i].URL = strings.TrimSpace(jobs[i].URL)
		id := jobs[i].ID()
		if id == "" || id == "N/A" {
			return nil, errdefs.Configuration("job %d (%s) has no url", i, jobs[i].Title)
		}
		if prev, dup := seen[id]; dup {
			return nil, errdefs.Configuration("job %d duplicates job %d: %s", i, prev, id)
		}
		seen[id] = i
	}
	return jobs, nil
}

// Write stores jobs in the envelope format LoadFile reads.
func Write(path string, jobs []models.JobDescriptor) error {
	data, err := json.MarshalIndent(searchOutput{Jobs: jobs}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
