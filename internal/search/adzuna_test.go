package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applybot-dev/applybot/internal/errdefs"
	"github.com/applybot-dev/applybot/internal/jobstore"
)

const sampleResponse = `{
  "count": 3,
  "results": [
    {"title": "Senior Go Engineer", "description": "Build services in Go.", "redirect_url": "https://adzuna.example/1",
     "salary_min": 70000, "company": {"display_name": "Acme"}, "location": {"display_name": "Berlin"},
     "category": {"label": "IT Jobs"}, "contract_time": "full_time"},
    {"title": "Junior PHP Developer", "description": "Legacy PHP.", "redirect_url": "https://adzuna.example/2",
     "salary_min": 35000, "company": {"display_name": "Legacy GmbH"}},
    {"title": "Senior Go Engineer", "description": "Duplicate listing.", "redirect_url": "https://adzuna.example/1"},
    {"title": "No link", "redirect_url": ""}
  ]
}`

func TestClient_Search(t *testing.T) {
	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/de/search/1", r.URL.Path)
		query = map[string]string{}
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	c := NewClient("id", "key")
	c.BaseURL = srv.URL

	jobs, err := c.Search(context.Background(), Query{
		Keywords:   "go developer",
		Location:   "Berlin",
		Country:    "Germany",
		MaxResults: 200,
	})
	require.NoError(t, err)

	assert.Equal(t, "50", query["results_per_page"])
	assert.Equal(t, "go developer", query["what"])
	assert.Equal(t, "Berlin", query["where"])
	assert.Equal(t, "id", query["app_id"])

	require.Len(t, jobs, 2, "duplicates and jobs without a url are dropped")
	assert.Equal(t, "Acme", jobs[0].Company)
	assert.Equal(t, "Berlin", jobs[0].Location)
	assert.Equal(t, "full_time", jobs[0].Metadata["contract_time"])
	assert.Equal(t, "https://adzuna.example/2", jobs[1].URL)
}

func TestClient_SearchFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	c := NewClient("id", "key")
	c.BaseURL = srv.URL

	tests := []struct {
		name   string
		filter jobstore.Filter
		want   []string
	}{
		{name: "min salary", filter: jobstore.Filter{MinSalary: 50000}, want: []string{"https://adzuna.example/1"}},
		{name: "excluded keyword", filter: jobstore.Filter{Excluded: []string{"php"}}, want: []string{"https://adzuna.example/1"}},
		{name: "required keyword", filter: jobstore.Filter{Required: []string{"legacy"}}, want: []string{"https://adzuna.example/2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := c.Search(context.Background(), Query{Keywords: "dev", Filter: tt.filter})
			require.NoError(t, err)
			var urls []string
			for _, j := range jobs {
				urls = append(urls, j.URL)
			}
			assert.Equal(t, tt.want, urls)
		})
	}
}

func TestClient_SearchErrors(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		switch {
		case strings.Contains(r.URL.RawQuery, "what=busy"):
			w.WriteHeader(http.StatusTooManyRequests)
		case strings.Contains(r.URL.RawQuery, "what=denied"):
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := NewClient("id", "key")
	c.BaseURL = srv.URL

	_, err := c.Search(context.Background(), Query{Keywords: "busy"})
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, 1, hits, "rate limits are not retried")

	_, err = c.Search(context.Background(), Query{Keywords: "denied"})
	assert.Equal(t, errdefs.KindConfiguration, errdefs.KindOf(err))

	_, err = c.Search(context.Background(), Query{Keywords: "other"})
	assert.ErrorContains(t, err, "status 502")

	_, err = c.Search(context.Background(), Query{})
	assert.Equal(t, errdefs.KindConfiguration, errdefs.KindOf(err))

	_, err = NewClient("", "").Search(context.Background(), Query{Keywords: "go"})
	assert.Equal(t, errdefs.KindConfiguration, errdefs.KindOf(err))
}

func TestCountryCode(t *testing.T) {
	assert.Equal(t, "de", CountryCode(""))
	assert.Equal(t, "gb", CountryCode("United Kingdom"))
	assert.Equal(t, "nl", CountryCode("nl"))
}
