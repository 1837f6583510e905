package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/applybot-dev/applybot/internal/config"
	"github.com/applybot-dev/applybot/internal/errdefs"
	"github.com/applybot-dev/applybot/internal/jobstore"
	"github.com/applybot-dev/applybot/internal/search"
	"github.com/applybot-dev/applybot/pkg/models"
	"github.com/applybot-dev/applybot/pkg/printer"
)

var (
	searchKeywords   string
	searchLocation   string
	searchCountry    string
	searchMaxResults int
	searchMaxDaysOld int
	searchSortBy     string
	searchFullTime   bool
	searchMinSalary  float64
	searchRequire    []string
	searchExclude    []string
	searchOutputFile string
	searchOutput     string
)

// SearchCmd finds postings on Adzuna and writes a jobs file for batch run.
var SearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search Adzuna for jobs and write a jobs file",
	Long: `Search Adzuna for postings matching the keywords and write them to a
jobs file that applyctl batch run accepts.

Requires ADZUNA_APP_ID and ADZUNA_APP_KEY. Rate limits are reported, not retried.`,
	Args: cobra.NoArgs,
	RunE: runSearch,
	Example: `  applyctl search --keywords "golang developer" --location Berlin
  applyctl search --keywords "data engineer" --country uk --max-results 50 --exclude senior -f jobs.json`,
}

func init() {
	SearchCmd.Flags().StringVarP(&searchKeywords, "keywords", "k", "", "Search keywords")
	SearchCmd.Flags().StringVar(&searchLocation, "location", "", "City or region")
	SearchCmd.Flags().StringVar(&searchCountry, "country", "de", "Country name or ISO code")
	SearchCmd.Flags().IntVar(&searchMaxResults, "max-results", 20, "Results to fetch (at most 50)")
	SearchCmd.Flags().IntVar(&searchMaxDaysOld, "max-days-old", 0, "Only postings newer than this many days")
	SearchCmd.Flags().StringVar(&searchSortBy, "sort-by", "", "Sort order: date, salary or relevance")
	SearchCmd.Flags().BoolVar(&searchFullTime, "full-time", false, "Only full-time positions")
	SearchCmd.Flags().Float64Var(&searchMinSalary, "min-salary", 0, "Minimum advertised salary")
	SearchCmd.Flags().StringSliceVar(&searchRequire, "require", nil, "Keywords that must all appear in the title or description")
	SearchCmd.Flags().StringSliceVar(&searchExclude, "exclude", nil, "Keywords that drop a posting when present")
	SearchCmd.Flags().StringVarP(&searchOutputFile, "output-file", "f", "jobs.json", "Jobs file to write")
	SearchCmd.Flags().StringVarP(&searchOutput, "output", "o", "table", "Output format: table, wide, json or yaml")

	_ = SearchCmd.MarkFlagRequired("keywords")
}

func runSearch(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	creds := cfg.Credentials
	if creds.AdzunaAppID == "" || creds.AdzunaAppKey == "" {
		return errdefs.Configuration("ADZUNA_APP_ID and ADZUNA_APP_KEY must be set")
	}

	client := search.NewClient(creds.AdzunaAppID, creds.AdzunaAppKey)
	jobs, err := client.Search(cmd.Context(), search.Query{
		Keywords:   searchKeywords,
		Location:   searchLocation,
		Country:    searchCountry,
		MaxResults: searchMaxResults,
		MaxDaysOld: searchMaxDaysOld,
		SortBy:     searchSortBy,
		FullTime:   searchFullTime,
		Filter: jobstore.Filter{
			MinSalary: searchMinSalary,
			Required:  searchRequire,
			Excluded:  searchExclude,
		},
	})
	if err != nil {
		return err
	}

	p := printer.New(printer.OutputType(searchOutput))
	if err := p.Print(jobs, func(t *printer.TablePrinter) {
		t.SetHeaders("Title", "Company", "Location", "Salary")
		t.SetWideHeaders("URL")
		for _, j := range jobs {
			t.AddRow(printer.TruncateString(j.Title, 50), printer.TruncateString(j.Company, 30),
				printer.EmptyValueOrDefault(j.Location, "-"), formatSalary(j), j.URL)
		}
	}); err != nil {
		return err
	}

	if len(jobs) == 0 {
		printer.PrintWarning("no postings matched, nothing written")
		return nil
	}
	if err := jobstore.Write(searchOutputFile, jobs); err != nil {
		return fmt.Errorf("write jobs file: %w", err)
	}
	printer.PrintSuccess(fmt.Sprintf("Wrote %d jobs to %s", len(jobs), searchOutputFile))
	return nil
}

func formatSalary(j models.JobDescriptor) string {
	switch {
	case j.SalaryMin != nil && j.SalaryMax != nil && *j.SalaryMax > *j.SalaryMin:
		return fmt.Sprintf("%s-%s %s", round(*j.SalaryMin), round(*j.SalaryMax), j.Currency)
	case j.SalaryMin != nil:
		return fmt.Sprintf("%s %s", round(*j.SalaryMin), j.Currency)
	default:
		return "-"
	}
}

func round(v float64) string {
	return strconv.FormatFloat(v, 'f', 0, 64)
}

