// Package search looks up postings on the Adzuna job search API.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/applybot-dev/applybot/internal/errdefs"
	"github.com/applybot-dev/applybot/internal/jobstore"
	"github.com/applybot-dev/applybot/pkg/models"
)

// DefaultBaseURL is the public Adzuna API.
const DefaultBaseURL = "https://api.adzuna.com/v1/api"

// MaxResultsPerPage is the largest page Adzuna serves.
const MaxResultsPerPage = 50

const maxDescription = 500

// ErrRateLimited is returned on HTTP 429. Searches are never retried.
var ErrRateLimited = errors.New("adzuna rate limit exceeded")

var countryCodes = map[string]string{
	"germany":        "de",
	"united kingdom": "gb",
	"uk":             "gb",
	"usa":            "us",
	"united states":  "us",
	"canada":         "ca",
	"australia":      "au",
	"france":         "fr",
	"netherlands":    "nl",
	"austria":        "at",
	"switzerland":    "ch",
	"italy":          "it",
	"spain":          "es",
}

// Query describes one keyword search.
type Query struct {
	Keywords   string
	Location   string
	Country    string
	MaxResults int
	MaxDaysOld int
	SortBy     string
	FullTime   bool
	Filter     jobstore.Filter
}

// Searcher finds postings.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]models.JobDescriptor, error)
}

// Client talks to Adzuna.
type Client struct {
	BaseURL string
	AppID   string
	AppKey  string
	HTTP    *http.Client
}

var _ Searcher = (*Client)(nil)

// NewClient returns an Adzuna client with a 30s request timeout.
func NewClient(appID, appKey string) *Client {
	hc := cleanhttp.DefaultClient()
	hc.Timeout = 30 * time.Second
	return &Client{
		BaseURL: DefaultBaseURL,
		AppID:   appID,
		AppKey:  appKey,
		HTTP:    hc,
	}
}

type adzunaResponse struct {
	Count   int         `json:"count"`
	Results []adzunaJob `json:"results"`
}

type adzunaJob struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	RedirectURL  string   `json:"redirect_url"`
	Created      string   `json:"created"`
	SalaryMin    *float64 `json:"salary_min"`
	SalaryMax    *float64 `json:"salary_max"`
	ContractType string   `json:"contract_type"`
	ContractTime string   `json:"contract_time"`
	Company      struct {
		DisplayName string `json:"display_name"`
	} `json:"company"`
	Location struct {
		DisplayName string `json:"display_name"`
	} `json:"location"`
	Category struct {
		Label string `json:"label"`
	} `json:"category"`
}

// CountryCode maps a country name to Adzuna's two-letter code.
func CountryCode(country string) string {
	c := strings.ToLower(strings.TrimSpace(country))
	if c == "" {
		return "de"
	}
	if code, ok := countryCodes[c]; ok {
		return code
	}
	return c
}

// Search runs one page of results and applies q.Filter locally.
func (c *Client) Search(ctx context.Context, q Query) ([]models.JobDescriptor, error) {
	if strings.TrimSpace(q.Keywords) == "" {
		return nil, errdefs.Configuration("search keywords are required")
	}
	if c.AppID == "" || c.AppKey == "" {
		return nil, errdefs.Configuration("ADZUNA_APP_ID and ADZUNA_APP_KEY must be set")
	}

	perPage := q.MaxResults
	if perPage <= 0 {
		perPage = 20
	}
	perPage = min(perPage, MaxResultsPerPage)

	params := url.Values{}
	params.Set("app_id", c.AppID)
	params.Set("app_key", c.AppKey)
	params.Set("what", q.Keywords)
	params.Set("results_per_page", strconv.Itoa(perPage))
	params.Set("content-type", "application/json")
	if q.MaxDaysOld > 0 {
		params.Set("max_days_old", strconv.Itoa(q.MaxDaysOld))
	}
	if q.SortBy != "" {
		params.Set("sort_by", q.SortBy)
	}
	if q.Location != "" {
		params.Set("where", q.Location)
	}
	if q.Filter.MinSalary > 0 {
		params.Set("salary_min", strconv.FormatFloat(q.Filter.MinSalary, 'f', 0, 64))
	}
	if q.FullTime {
		params.Set("full_time", "1")
	}

	endpoint := fmt.Sprintf("%s/jobs/%s/search/1?%s", strings.TrimRight(c.BaseURL, "/"), CountryCode(q.Country), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("adzuna search: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errdefs.Configuration("adzuna rejected the credentials (status %d)", resp.StatusCode)
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("adzuna search failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed adzunaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode adzuna response: %w", err)
	}

	jobs := make([]models.JobDescriptor, 0, len(parsed.Results))
	seen := make(map[string]bool, len(parsed.Results))
	for _, r := range parsed.Results {
		u := strings.TrimSpace(r.RedirectURL)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		jobs = append(jobs, toDescriptor(r))
	}
	return q.Filter.Apply(jobs), nil
}

func toDescriptor(r adzunaJob) models.JobDescriptor {
	desc := r.Description
	if len([]rune(desc)) > maxDescription {
		desc = string([]rune(desc)[:maxDescription]) + "..."
	}
	j := models.JobDescriptor{
		Title:        r.Title,
		Company:      r.Company.DisplayName,
		URL:          strings.TrimSpace(r.RedirectURL),
		Location:     r.Location.DisplayName,
		SalaryMin:    r.SalaryMin,
		SalaryMax:    r.SalaryMax,
		Currency:     "EUR",
		Description:  desc,
		Created:      r.Created,
		Category:     r.Category.Label,
		ContractType: r.ContractType,
	}
	if r.ContractTime != "" {
		j.Metadata = map[string]string{"contract_time": r.ContractTime}
	}
	return j
}
