// Package aggregate reduces worker batch results into a run summary.
package aggregate

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/applybot-dev/applybot/pkg/models"
)

// Input is what is known about one worker: the jobs it was assigned and the
// batch result it left behind, if any.
type Input struct {
	WorkerID string
	Assigned []string
	Batch    *models.BatchResult
}

// Merge computes the summary for a run. It is pure: the output depends only
// on the set of inputs, not their order, and nothing is mutated.
func Merge(runID string, inputs []Input) models.SummaryReport {
	ordered := make([]Input, len(inputs))
	copy(ordered, inputs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].WorkerID < ordered[j].WorkerID
	})

	report := models.SummaryReport{
		RunID:            runID,
		FailuresByReason: map[models.FailureReason]int{},
		Workers:          make([]models.WorkerSummary, 0, len(ordered)),
	}

	var started, completed time.Time
	for _, in := range ordered {
		ws := summarizeWorker(in)
		report.TotalJobs += ws.Assigned
		report.SuccessCount += ws.Succeeded
		report.FailureCount += ws.Failed
		report.MissingCount += ws.Missing
		report.Workers = append(report.Workers, ws)

		if in.Batch == nil {
			continue
		}
		for reason, n := range failureReasons(in) {
			report.FailuresByReason[reason] += n
		}
		if t := in.Batch.WorkerStartedAt; !t.IsZero() && (started.IsZero() || t.Before(started)) {
			started = t
		}
		if t := in.Batch.WorkerCompletedAt; t.After(completed) {
			completed = t
		}
	}

	if report.TotalJobs > 0 {
		report.SuccessRate = float64(report.SuccessCount) / float64(report.TotalJobs)
	}
	if !started.IsZero() {
		s := started.UTC()
		report.StartedAt = &s
	}
	if !completed.IsZero() {
		c := completed.UTC()
		report.CompletedAt = &c
	}
	return report
}

// Encode renders a report as indented JSON. encoding/json sorts map keys, so
// equal reports always encode to equal bytes.
func Encode(report models.SummaryReport) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func summarizeWorker(in Input) models.WorkerSummary {
	ws := models.WorkerSummary{
		WorkerID: in.WorkerID,
		Assigned: len(in.Assigned),
	}
	if in.Batch == nil {
		ws.Missing = ws.Assigned
		ws.State = models.WorkerStateMissing
		return ws
	}

	final := finalResults(in)
	for _, id := range in.Assigned {
		r, ok := final[id]
		switch {
		case !ok || !r.Status.IsTerminal():
			ws.Missing++
		case r.Status.IsSuccess():
			ws.Succeeded++
		default:
			ws.Failed++
		}
	}

	ws.Fault = in.Batch.Fault
	ws.State = models.WorkerStateComplete
	if in.Batch.Partial || ws.Missing > 0 {
		ws.State = models.WorkerStatePartial
	}
	return ws
}

// finalResults keeps, per assigned job, the result with the highest attempt.
func finalResults(in Input) map[string]models.JobResult {
	assigned := make(map[string]struct{}, len(in.Assigned))
	for _, id := range in.Assigned {
		assigned[id] = struct{}{}
	}

	final := make(map[string]models.JobResult, len(in.Assigned))
	for _, r := range in.Batch.Results {
		if _, ok := assigned[r.JobID]; !ok {
			continue
		}
		prev, seen := final[r.JobID]
		if !seen || r.Attempt > prev.Attempt || (r.Attempt == prev.Attempt && r.Status.IsTerminal() && !prev.Status.IsTerminal()) {
			final[r.JobID] = r
		}
	}
	return final
}

func failureReasons(in Input) map[models.FailureReason]int {
	counts := map[models.FailureReason]int{}
	for _, r := range finalResults(in) {
		if !r.Status.IsFailure() {
			continue
		}
		reason := r.FailureReason
		if reason == models.ReasonNone {
			reason = r.Status.DefaultReason()
		}
		counts[reason]++
	}
	return counts
}
