package config

import (
	"sort"
	"strings"

	"github.com/applybot-dev/applybot/internal/errdefs"
)

// DefaultBackend is used when no backend is selected.
const DefaultBackend = "browser-use"

// Backend is an automation profile: which planner model drives the agents and
// whether it sees screenshots in addition to the page structure.
type Backend struct {
	Name   string
	Model  string
	Vision bool
}

var backends = map[string]Backend{
	"browser-use": {
		Name:  "browser-use",
		Model: "gpt-4o",
	},
	"openai-computer-use": {
		Name:   "openai-computer-use",
		Model:  "gpt-4o",
		Vision: true,
	},
}

var backendAliases = map[string]string{
	"browser":      "browser-use",
	"openai":       "openai-computer-use",
	"computer-use": "openai-computer-use",
}

// ResolveBackend maps a backend name or alias to its profile.
func ResolveBackend(name string) (Backend, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = DefaultBackend
	}
	if canonical, ok := backendAliases[key]; ok {
		key = canonical
	}
	b, ok := backends[key]
	if !ok {
		return Backend{}, errdefs.Configuration("unknown backend %q (available: %s)", name, strings.Join(BackendNames(), ", "))
	}
	return b, nil
}

// BackendNames lists the canonical backend names.
func BackendNames() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PlannerModel returns the model to use for a backend, honouring an explicit override.
func (c *Config) PlannerModel(b Backend) string {
	if c.LLM.Model != "" {
		return c.LLM.Model
	}
	return b.Model
}
