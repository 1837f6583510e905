package cli

import (
	"github.com/spf13/cobra"

	"github.com/applybot-dev/applybot/internal/version"
	"github.com/applybot-dev/applybot/pkg/printer"
)

var versionOutput string

type versionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := versionInfo{
			Version:   version.Version,
			GitCommit: version.GitCommit,
			BuildDate: version.BuildDate,
		}
		p := printer.New(printer.OutputType(versionOutput))
		p.SetOutput(cmd.OutOrStdout())
		return p.Print(info, func(t *printer.TablePrinter) {
			t.SetHeaders("Version", "Commit", "Built")
			t.AddRow(info.Version, info.GitCommit, info.BuildDate)
		})
	},
}

func init() {
	VersionCmd.Flags().StringVarP(&versionOutput, "output", "o", "table", "Output format: table, json or yaml")
}
