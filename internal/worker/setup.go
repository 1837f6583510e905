package worker

import (
	"fmt"
	"log"
	"os"

	"github.com/applybot-dev/applybot/internal/agent"
	"github.com/applybot-dev/applybot/internal/browser"
	"github.com/applybot-dev/applybot/internal/config"
	"github.com/applybot-dev/applybot/internal/llm"
	"github.com/applybot-dev/applybot/internal/profile"
	"github.com/applybot-dev/applybot/internal/store"
)

// Options are the per-worker inputs that do not come from Config.
type Options struct {
	ID         string
	RunID      string
	ResultsDir string
	Profile    *profile.Profile

	// Engine and Planner default to Chrome and the OpenAI planner.
	Engine  browser.Engine
	Planner agent.Planner
	Logger  *log.Logger
}

// New assembles a worker from the loaded configuration.
func New(cfg *config.Config, opts Options) (*Worker, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	if opts.Profile == nil {
		return nil, fmt.Errorf("applicant profile is required")
	}
	backend, err := config.ResolveBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	sink, err := store.NewResultSink(opts.ResultsDir)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "["+opts.ID+"] ", log.LstdFlags)
	}

	engine := opts.Engine
	if engine == nil {
		width, height, err := cfg.Browser.WindowDimensions()
		if err != nil {
			return nil, err
		}
		engine = browser.NewChrome(browser.ChromeOptions{
			Headless:  cfg.Browser.Headless,
			ExecPath:  cfg.Browser.ChromePath,
			UserAgent: cfg.Browser.UserAgent,
			Width:     width,
			Height:    height,
			NoSandbox: cfg.Browser.NoSandbox,
			Verbose:   cfg.Verbose,
		})
	}

	planner := opts.Planner
	if planner == nil {
		planner = llm.New(llm.Options{
			BaseURL:           cfg.LLM.BaseURL,
			APIKey:            cfg.Credentials.OpenAIAPIKey,
			Model:             cfg.PlannerModel(backend),
			Vision:            backend.Vision,
			RequestTimeout:    cfg.LLM.RequestTimeout,
			MaxRetries:        cfg.LLM.MaxRetries,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
			Verbose:           cfg.Verbose,
		})
	}

	return &Worker{
		ID:      opts.ID,
		RunID:   opts.RunID,
		Backend: backend.Name,
		Delay:   cfg.DelayBetweenJobs,
		Runner: &Runner{
			WorkerID: opts.ID,
			Engine:   engine,
			Navigation: &agent.Navigator{
				Planner: planner,
				Config:  cfg.Agent,
				Vision:  backend.Vision,
				Logger:  logger,
			},
			Form: &agent.FormFiller{
				Planner: planner,
				Profile: opts.Profile,
				Config:  cfg.Agent,
				Vision:  backend.Vision,
				Logger:  logger,
			},
			Sink:        sink,
			JobTimeout:  cfg.JobTimeout,
			MaxAttempts: cfg.MaxJobAttempts,
			Logger:      logger,
		},
	}, nil
}
