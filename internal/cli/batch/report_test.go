package batch

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applybot-dev/applybot/pkg/models"
	"github.com/applybot-dev/applybot/pkg/printer"
)

func TestPrintSummary(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(4*time.Minute + 12*time.Second)
	report := models.SummaryReport{
		RunID:        "run-1",
		TotalJobs:    4,
		SuccessCount: 2,
		FailureCount: 1,
		MissingCount: 1,
		SuccessRate:  0.5,
		FailuresByReason: map[models.FailureReason]int{
			models.ReasonCaptchaBlocked: 1,
		},
		Workers: []models.WorkerSummary{
			{WorkerID: "batch-001", Assigned: 2, Succeeded: 2, State: models.WorkerStateComplete},
			{WorkerID: "batch-002", Assigned: 2, Failed: 1, Missing: 1, State: models.WorkerStatePartial, Fault: "container exited with code 137"},
		},
		StartedAt:   &start,
		CompletedAt: &end,
	}

	tests := []struct {
		name     string
		output   printer.OutputType
		contains []string
		absent   []string
	}{
		{
			name:   "table",
			output: printer.OutputTypeTable,
			contains: []string{
				"Run run-1: 2/4 verified (50.0%), 1 failed, 1 missing",
				"Took 4m12s",
				"Failures: captcha_blocked=1",
				"batch-002",
			},
			absent: []string{"code 137"},
		},
		{name: "wide shows fault", output: printer.OutputTypeWide, contains: []string{"FAULT", "code 137"}},
		{name: "json", output: printer.OutputTypeJSON, contains: []string{`"success_count": 2`}, absent: []string{"Took"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := printer.New(tt.output)
			p.SetOutput(&buf)
			require.NoError(t, printSummary(p, report))
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestFormatReasons(t *testing.T) {
	got := formatReasons(map[models.FailureReason]int{
		models.ReasonUploadFailed:   2,
		models.ReasonCaptchaBlocked: 1,
	})
	assert.Equal(t, "captcha_blocked=1 upload_failed=2", got)
	assert.Empty(t, formatReasons(nil))
}
