package config

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/joho/godotenv"

	"github.com/applybot-dev/applybot/internal/errdefs"
)

// EnvPrefix is prepended to every application setting.
const EnvPrefix = "APPLYBOT_"

// Config holds the application configuration.
// See .env.example for more documentation.
type Config struct {
	// Orchestration
	Image         string        `env:"IMAGE" envDefault:"job-application-bot:latest"`
	BuildContext  string        `env:"BUILD_CONTEXT" envDefault:"."`
	Dockerfile    string        `env:"DOCKERFILE" envDefault:"Dockerfile"`
	Runtime       string        `env:"RUNTIME" envDefault:"docker"`
	MaxWorkers    int           `env:"MAX_WORKERS" envDefault:"5"`
	Backend       string        `env:"BACKEND" envDefault:"browser-use"`
	WorkerTimeout time.Duration `env:"WORKER_TIMEOUT" envDefault:"30m"`
	StopGrace     time.Duration `env:"STOP_GRACE" envDefault:"30s"`
	ResultsDir    string        `env:"RESULTS_DIR" envDefault:"results"`
	ProfilePath   string        `env:"PROFILE" envDefault:"config/profile.yaml"`
	DatabaseURL   string        `env:"DATABASE_URL" envDefault:""`
	Verbose       bool          `env:"VERBOSE" envDefault:"false"`

	// Job runner
	JobTimeout       time.Duration `env:"JOB_TIMEOUT" envDefault:"10m"`
	DelayBetweenJobs time.Duration `env:"DELAY_BETWEEN_JOBS" envDefault:"5s"`
	MaxJobAttempts   int           `env:"MAX_JOB_ATTEMPTS" envDefault:"1"`

	Agent   AgentConfig
	Browser BrowserConfig
	LLM     LLMConfig

	// Credentials are read without the prefix. They are the same variable
	// names the worker containers receive.
	Credentials Credentials
}

// AgentConfig bounds the navigation and form agents.
type AgentConfig struct {
	NavigationMaxSteps int           `env:"NAVIGATION_MAX_STEPS" envDefault:"20"`
	FormMaxSteps       int           `env:"FORM_MAX_STEPS" envDefault:"100"`
	MaxFormPages       int           `env:"MAX_FORM_PAGES" envDefault:"5"`
	MaxPlannerAttempts int           `env:"MAX_PLANNER_ATTEMPTS" envDefault:"3"`
	PageLoadTimeout    time.Duration `env:"PAGE_LOAD_TIMEOUT" envDefault:"45s"`
	ActionTimeout      time.Duration `env:"ACTION_TIMEOUT" envDefault:"20s"`
	VerifyTimeout      time.Duration `env:"VERIFY_TIMEOUT" envDefault:"30s"`
	VerifyPollInterval time.Duration `env:"VERIFY_POLL_INTERVAL" envDefault:"2s"`
}

// BrowserConfig configures the Chrome engine.
type BrowserConfig struct {
	Headless   bool   `env:"HEADLESS" envDefault:"true"`
	ChromePath string `env:"CHROME_PATH" envDefault:""`
	UserAgent  string `env:"USER_AGENT" envDefault:""`
	WindowSize string `env:"WINDOW_SIZE" envDefault:"1366x900"`
	NoSandbox  bool   `env:"NO_SANDBOX" envDefault:"false"`
}

// LLMConfig configures the planner backing both agents.
type LLMConfig struct {
	Model             string        `env:"LLM_MODEL" envDefault:""`
	BaseURL           string        `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	RequestTimeout    time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"60s"`
	MaxRetries        int           `env:"LLM_MAX_RETRIES" envDefault:"3"`
	RequestsPerMinute int           `env:"LLM_REQUESTS_PER_MINUTE" envDefault:"30"`
}

// Credentials are secrets supplied by the environment.
type Credentials struct {
	OpenAIAPIKey string `env:"OPENAI_API_KEY" envDefault:""`
	AdzunaAppID  string `env:"ADZUNA_APP_ID" envDefault:""`
	AdzunaAppKey string `env:"ADZUNA_APP_KEY" envDefault:""`
}

// Load reads .env (if present) and the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env file: %v", err)
	}
	return Parse(nil)
}

// Parse builds a Config from the process environment, or from environment
// when it is non-nil.
func Parse(environment map[string]string) (*Config, error) {
	var cfg Config
	opts := env.Options{Prefix: EnvPrefix, Environment: environment}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, errdefs.Configuration("failed to parse config: %v", err)
	}
	if err := env.ParseWithOptions(&cfg.Credentials, env.Options{Environment: environment}); err != nil {
		return nil, errdefs.Configuration("failed to parse credentials: %v", err)
	}
	return &cfg, nil
}

// Validate checks settings the orchestrator needs before it launches anything.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Credentials.OpenAIAPIKey) == "" {
		return errdefs.Configuration("OPENAI_API_KEY is not set")
	}
	if c.MaxWorkers < 1 {
		return errdefs.Configuration("max workers must be at least 1, got %d", c.MaxWorkers)
	}
	if c.MaxJobAttempts < 1 {
		return errdefs.Configuration("%sMAX_JOB_ATTEMPTS must be at least 1", EnvPrefix)
	}
	if c.WorkerTimeout <= 0 {
		return errdefs.Configuration("%sWORKER_TIMEOUT must be positive", EnvPrefix)
	}
	if _, err := ResolveBackend(c.Backend); err != nil {
		return err
	}
	switch c.Runtime {
	case "docker":
		if _, err := name.ParseReference(c.Image); err != nil {
			return errdefs.Configuration("invalid worker image %q: %v", c.Image, err)
		}
	case "process":
	default:
		return errdefs.Configuration("unknown runtime %q (want docker or process)", c.Runtime)
	}
	return nil
}

// WorkerEnv returns the settings forwarded to every worker. Everything a
// worker needs travels explicitly; workers do not inherit the host environment.
func (c *Config) WorkerEnv() map[string]string {
	out := map[string]string{
		"OPENAI_API_KEY":                      c.Credentials.OpenAIAPIKey,
		EnvPrefix + "JOB_TIMEOUT":             c.JobTimeout.String(),
		EnvPrefix + "DELAY_BETWEEN_JOBS":      c.DelayBetweenJobs.String(),
		EnvPrefix + "MAX_JOB_ATTEMPTS":        strconv.Itoa(c.MaxJobAttempts),
		EnvPrefix + "NAVIGATION_MAX_STEPS":    strconv.Itoa(c.Agent.NavigationMaxSteps),
		EnvPrefix + "FORM_MAX_STEPS":          strconv.Itoa(c.Agent.FormMaxSteps),
		EnvPrefix + "MAX_FORM_PAGES":          strconv.Itoa(c.Agent.MaxFormPages),
		EnvPrefix + "MAX_PLANNER_ATTEMPTS":    strconv.Itoa(c.Agent.MaxPlannerAttempts),
		EnvPrefix + "PAGE_LOAD_TIMEOUT":       c.Agent.PageLoadTimeout.String(),
		EnvPrefix + "ACTION_TIMEOUT":          c.Agent.ActionTimeout.String(),
		EnvPrefix + "VERIFY_TIMEOUT":          c.Agent.VerifyTimeout.String(),
		EnvPrefix + "VERIFY_POLL_INTERVAL":    c.Agent.VerifyPollInterval.String(),
		EnvPrefix + "HEADLESS":                strconv.FormatBool(c.Browser.Headless),
		EnvPrefix + "NO_SANDBOX":              strconv.FormatBool(c.Browser.NoSandbox),
		EnvPrefix + "WINDOW_SIZE":             c.Browser.WindowSize,
		EnvPrefix + "LLM_BASE_URL":            c.LLM.BaseURL,
		EnvPrefix + "LLM_REQUEST_TIMEOUT":     c.LLM.RequestTimeout.String(),
		EnvPrefix + "LLM_MAX_RETRIES":         strconv.Itoa(c.LLM.MaxRetries),
		EnvPrefix + "LLM_REQUESTS_PER_MINUTE": strconv.Itoa(c.LLM.RequestsPerMinute),
		EnvPrefix + "VERBOSE":                 strconv.FormatBool(c.Verbose),
	}
	if c.LLM.Model != "" {
		out[EnvPrefix+"LLM_MODEL"] = c.LLM.Model
	}
	if c.Browser.UserAgent != "" {
		out[EnvPrefix+"USER_AGENT"] = c.Browser.UserAgent
	}
	return out
}

// WindowDimensions parses WindowSize ("WIDTHxHEIGHT").
func (b BrowserConfig) WindowDimensions() (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(b.WindowSize), "x")
	if !ok {
		return 0, 0, fmt.Errorf("window size %q is not WIDTHxHEIGHT", b.WindowSize)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return 0, 0, fmt.Errorf("window width: %w", err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return 0, 0, fmt.Errorf("window height: %w", err)
	}
	return width, height, nil
}
