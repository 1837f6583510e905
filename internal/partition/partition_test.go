package partition

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applybot-dev/applybot/pkg/models"
)

func makeJobs(n int) []models.JobDescriptor {
	jobs := make([]models.JobDescriptor, n)
	for i := range jobs {
		jobs[i] = models.JobDescriptor{
			Title: fmt.Sprintf("Job %d", i),
			URL:   fmt.Sprintf("https://jobs.example/%d", i),
		}
	}
	return jobs
}

func TestSplit_Sizes(t *testing.T) {
	tests := []struct {
		name  string
		n, w  int
		sizes []int
	}{
		{"even", 10, 5, []int{2, 2, 2, 2, 2}},
		{"remainder to first slices", 11, 4, []int{3, 3, 3, 2}},
		{"fewer jobs than workers", 3, 5, []int{1, 1, 1}},
		{"single worker", 7, 1, []int{7}},
		{"no jobs", 0, 3, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(makeJobs(tt.n), tt.w)
			var sizes []int
			for _, s := range got {
				sizes = append(sizes, len(s))
			}
			assert.Equal(t, tt.sizes, sizes)
		})
	}
}

func TestSplit_OrderPreservingAndExhaustive(t *testing.T) {
	for n := 0; n <= 23; n++ {
		for w := 1; w <= 8; w++ {
			jobs := makeJobs(n)
			var concat []models.JobDescriptor
			for _, s := range Split(jobs, w) {
				require.NotEmpty(t, s)
				concat = append(concat, s...)
			}
			if n == 0 {
				assert.Empty(t, concat)
				continue
			}
			assert.Equal(t, jobs, concat, "n=%d w=%d", n, w)
		}
	}
}

func TestSplit_SlicesDoNotAlias(t *testing.T) {
	parts := Split(makeJobs(4), 2)
	require.Len(t, parts, 2)

	parts[0] = append(parts[0], models.JobDescriptor{URL: "https://jobs.example/extra"})
	assert.Equal(t, "https://jobs.example/2", parts[1][0].URL)
}

func TestPlan(t *testing.T) {
	plan, err := Plan(makeJobs(10), 5)
	require.NoError(t, err)
	require.Len(t, plan, 5)

	for i, a := range plan {
		assert.Equal(t, i, a.Index)
		assert.Len(t, a.Jobs, 2)
	}
	assert.Equal(t, "batch-001", plan[0].WorkerID)
	assert.Equal(t, "batch-005", plan[4].WorkerID)

	_, err = Plan(makeJobs(1), 0)
	assert.Error(t, err)
}
