package batch

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/applybot-dev/applybot/internal/config"
	"github.com/applybot-dev/applybot/internal/docker"
	"github.com/applybot-dev/applybot/internal/errdefs"
	"github.com/applybot-dev/applybot/pkg/printer"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the worker image",
	Long: `Build the worker Docker image from the configured build context.

The image name, build context and Dockerfile come from APPLYBOT_IMAGE,
APPLYBOT_BUILD_CONTEXT and APPLYBOT_DOCKERFILE.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
	Example: `  applyctl batch build
  applyctl batch build --tag job-application-bot:dev --platform linux/amd64`,
}

var (
	buildTag      string
	buildPlatform string
	buildNoCache  bool
)

func init() {
	BatchCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVarP(&buildTag, "tag", "t", "", "Image tag (default from APPLYBOT_IMAGE)")
	buildCmd.Flags().StringVar(&buildPlatform, "platform", "", "Target platform (e.g., linux/amd64)")
	buildCmd.Flags().BoolVar(&buildNoCache, "no-cache", false, "Do not use the build cache")
}

func runBuild(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if buildTag != "" {
		cfg.Image = buildTag
	}
	var extra []string
	if buildPlatform != "" {
		extra = append(extra, "--platform", buildPlatform)
	}
	if buildNoCache {
		extra = append(extra, "--no-cache")
	}
	return buildImage(cmd.Context(), cfg, extra...)
}

// buildImage builds cfg.Image from the configured context.
func buildImage(ctx context.Context, cfg *config.Config, extra ...string) error {
	exec := docker.NewExecutor(cfg.Verbose, "")
	if err := exec.CheckAvailability(ctx); err != nil {
		return errdefs.Infrastructure(err, "docker unavailable")
	}
	printer.PrintInfo(fmt.Sprintf("Building worker image %s from %s...", cfg.Image, cfg.BuildContext))
	if err := exec.Build(ctx, cfg.Image, cfg.BuildContext, cfg.Dockerfile, extra...); err != nil {
		return errdefs.Configuration("build worker image: %v", err)
	}
	return nil
}

// ensureImage builds the image only when it is not present locally.
func ensureImage(ctx context.Context, cfg *config.Config) error {
	exec := docker.NewExecutor(cfg.Verbose, "")
	if exec.ImageExistsLocally(ctx, cfg.Image) {
		if cfg.Verbose {
			printer.PrintInfo(fmt.Sprintf("Worker image %s found locally", cfg.Image))
		}
		return nil
	}
	return buildImage(ctx, cfg)
}
