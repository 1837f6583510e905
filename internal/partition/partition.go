// Package partition splits a job list into contiguous worker slices.
package partition

import (
	"fmt"

	"github.com/applybot-dev/applybot/pkg/models"
)

// Assignment is the slice of jobs owned by one worker.
type Assignment struct {
	WorkerID string                 `json:"worker_id"`
	Index    int                    `json:"index"`
	Jobs     []models.JobDescriptor `json:"jobs"`
}

// Split cuts items into at most w contiguous slices whose sizes differ by at
// most one; the first len(items)%w slices get the extra item. Empty slices are
// omitted, so fewer than w slices come back when len(items) < w.
func Split[T any](items []T, w int) [][]T {
	if w < 1 || len(items) == 0 {
		return nil
	}
	base, rem := len(items)/w, len(items)%w

	out := make([][]T, 0, w)
	start := 0
	for i := 0; i < w; i++ {
		size := base
		if i < rem {
			size++
		}
		if size == 0 {
			break
		}
		out = append(out, items[start:start+size:start+size])
		start += size
	}
	return out
}

// WorkerID formats the id of the i-th (zero based) worker.
func WorkerID(i int) string {
	return fmt.Sprintf("batch-%03d", i+1)
}

// Plan assigns jobs to at most maxWorkers workers, in launch order.
func Plan(jobs []models.JobDescriptor, maxWorkers int) ([]Assignment, error) {
	if maxWorkers < 1 {
		return nil, fmt.Errorf("max workers must be at least 1, got %d", maxWorkers)
	}
	slices := Split(jobs, maxWorkers)
	plan := make([]Assignment, len(slices))
	for i, s := range slices {
		plan[i] = Assignment{
			WorkerID: WorkerID(i),
			Index:    i,
			Jobs:     s,
		}
	}
	return plan, nil
}
