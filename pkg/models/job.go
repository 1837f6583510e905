package models

import (
	"strings"
)

// JobDescriptor is one posting to apply to. The URL is its identity within a run.
type JobDescriptor struct {
	Title        string            `json:"title" yaml:"title"`
	Company      string            `json:"company" yaml:"company"`
	URL          string            `json:"url" yaml:"url"`
	Location     string            `json:"location,omitempty" yaml:"location,omitempty"`
	SalaryMin    *float64          `json:"salary_min,omitempty" yaml:"salary_min,omitempty"`
	SalaryMax    *float64          `json:"salary_max,omitempty" yaml:"salary_max,omitempty"`
	Currency     string            `json:"currency,omitempty" yaml:"currency,omitempty"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Created      string            `json:"created,omitempty" yaml:"created,omitempty"`
	Category     string            `json:"category,omitempty" yaml:"category,omitempty"`
	ContractType string            `json:"contract_type,omitempty" yaml:"contract_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ID returns the job identity.
func (j JobDescriptor) ID() string {
	return strings.TrimSpace(j.URL)
}

// DisplayName returns "title @ company" for logs and tables.
func (j JobDescriptor) DisplayName() string {
	switch {
	case j.Title != "" && j.Company != "":
		return j.Title + " @ " + j.Company
	case j.Title != "":
		return j.Title
	default:
		return j.ID()
	}
}

// JobIDs returns the ids of jobs in order.
func JobIDs(jobs []JobDescriptor) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID()
	}
	return ids
}
