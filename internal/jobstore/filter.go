package jobstore

import (
	"strings"

	"github.com/applybot-dev/applybot/pkg/models"
)

// Filter narrows a job list before it is partitioned.
type Filter struct {
	// MinSalary drops jobs whose advertised minimum is below it. Jobs without
	// a salary are kept.
	MinSalary float64
	// Required keywords must all appear in the title or description.
	Required []string
	// Excluded keywords drop a job if any appears in the title or description.
	Excluded []string
}

// IsZero reports whether the filter keeps everything.
func (f Filter) IsZero() bool {
	return f.MinSalary <= 0 && len(f.Required) == 0 && len(f.Excluded) == 0
}

// Apply returns the matching jobs in their original order.
func (f Filter) Apply(jobs []models.JobDescriptor) []models.JobDescriptor {
	if f.IsZero() {
		return jobs
	}
	out := make([]models.JobDescriptor, 0, len(jobs))
	for _, j := range jobs {
		if f.Match(j) {
			out = append(out, j)
		}
	}
	return out
}

// Match reports whether one job passes the filter.
func (f Filter) Match(j models.JobDescriptor) bool {
	if f.MinSalary > 0 && j.SalaryMin != nil && *j.SalaryMin > 0 && *j.SalaryMin < f.MinSalary {
		return false
	}

	text := strings.ToLower(j.Title + "\n" + j.Description)
	for _, kw := range f.Required {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && !strings.Contains(text, kw) {
			return false
		}
	}
	for _, kw := range f.Excluded {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(text, kw) {
			return false
		}
	}
	return true
}
