package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applybot-dev/applybot/internal/aggregate"
	"github.com/applybot-dev/applybot/pkg/models"
)

func jobResult(id string, status models.Status, attempt int) models.JobResult {
	return models.JobResult{
		JobID:     id,
		WorkerID:  "batch-001",
		Attempt:   attempt,
		Status:    status,
		StartedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRunStore_ManifestRoundTrip(t *testing.T) {
	root := t.TempDir()
	rs, err := NewRunStore(root, "run-abc")
	require.NoError(t, err)

	path, err := rs.WritePartition("batch-001", []models.JobDescriptor{{URL: "https://a.example/1"}})
	require.NoError(t, err)
	assert.FileExists(t, path)

	m := Manifest{
		RunID:   "run-abc",
		Backend: "browser-use",
		Runtime: "docker",
		Workers: []ManifestWorker{{WorkerID: "batch-001", Assigned: []string{"https://a.example/1"}, PartitionFile: path}},
	}
	require.NoError(t, rs.WriteManifest(m))

	reopened, err := OpenRunStore(filepath.Join(root, "run-abc"))
	require.NoError(t, err)
	got, err := reopened.ReadManifest()
	require.NoError(t, err)
	assert.Equal(t, m.Workers, got.Workers)
}

func TestOpenRunStore_NoManifest(t *testing.T) {
	_, err := OpenRunStore(t.TempDir())
	assert.ErrorIs(t, err, ErrNoManifest)
}

func TestLoadBatch(t *testing.T) {
	root := t.TempDir()
	rs, err := NewRunStore(root, "run-1")
	require.NoError(t, err)

	t.Run("batch file wins", func(t *testing.T) {
		dir, err := rs.WorkerDir("batch-001")
		require.NoError(t, err)
		sink, err := NewResultSink(dir)
		require.NoError(t, err)

		_, err = sink.WriteJob(1, jobResult("a", models.StatusVerified, 1))
		require.NoError(t, err)
		_, err = sink.WriteBatch(models.BatchResult{
			WorkerID: "batch-001",
			Assigned: []string{"a"},
			Results:  []models.JobResult{jobResult("a", models.StatusVerified, 1)},
		})
		require.NoError(t, err)

		b, err := rs.LoadBatch("batch-001")
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.False(t, b.Partial)
		assert.Len(t, b.Results, 1)
	})

	t.Run("rebuilt from job files after a crash", func(t *testing.T) {
		dir, err := rs.WorkerDir("batch-002")
		require.NoError(t, err)
		sink, err := NewResultSink(dir)
		require.NoError(t, err)

		_, err = sink.WriteJob(2, jobResult("c", models.StatusError, 1))
		require.NoError(t, err)
		_, err = sink.WriteJob(1, jobResult("b", models.StatusVerified, 1))
		require.NoError(t, err)
		// a torn file from a killed worker
		require.NoError(t, os.WriteFile(filepath.Join(dir, "job-003-1.json"), []byte(`{"job_id":`), 0o644))

		b, err := rs.LoadBatch("batch-002")
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.True(t, b.Partial)
		require.Len(t, b.Results, 2)
		assert.Equal(t, "b", b.Results[0].JobID)
		assert.Equal(t, "c", b.Results[1].JobID)
	})

	t.Run("nothing left behind", func(t *testing.T) {
		b, err := rs.LoadBatch("batch-009")
		require.NoError(t, err)
		assert.Nil(t, b)
	})
}

func TestRunStore_Inputs(t *testing.T) {
	root := t.TempDir()
	rs, err := NewRunStore(root, "run-2")
	require.NoError(t, err)

	require.NoError(t, rs.WriteManifest(Manifest{
		RunID: "run-2",
		Workers: []ManifestWorker{
			{WorkerID: "batch-001", Assigned: []string{"a"}},
			{WorkerID: "batch-002", Assigned: []string{"b"}},
		},
	}))
	dir, err := rs.WorkerDir("batch-001")
	require.NoError(t, err)
	sink, err := NewResultSink(dir)
	require.NoError(t, err)
	_, err = sink.WriteBatch(models.BatchResult{WorkerID: "batch-001", Results: []models.JobResult{jobResult("a", models.StatusVerified, 1)}})
	require.NoError(t, err)

	runID, inputs, err := rs.Inputs()
	require.NoError(t, err)
	assert.Equal(t, "run-2", runID)
	require.Len(t, inputs, 2)
	assert.NotNil(t, inputs[0].Batch)
	assert.Nil(t, inputs[1].Batch)
}

func TestRunStore_InputsSurviveCorruptBatchFile(t *testing.T) {
	rs, err := NewRunStore(t.TempDir(), "run-4")
	require.NoError(t, err)
	require.NoError(t, rs.WriteManifest(Manifest{
		RunID: "run-4",
		Workers: []ManifestWorker{
			{WorkerID: "batch-001", Assigned: []string{"a"}},
			{WorkerID: "batch-002", Assigned: []string{"b", "c"}},
			{WorkerID: "batch-003", Assigned: []string{"d"}},
		},
	}))

	dir, err := rs.WorkerDir("batch-001")
	require.NoError(t, err)
	sink, err := NewResultSink(dir)
	require.NoError(t, err)
	_, err = sink.WriteBatch(models.BatchResult{WorkerID: "batch-001", Results: []models.JobResult{jobResult("a", models.StatusVerified, 1)}})
	require.NoError(t, err)

	dir, err = rs.WorkerDir("batch-002")
	require.NoError(t, err)
	sink, err = NewResultSink(dir)
	require.NoError(t, err)
	_, err = sink.WriteJob(1, jobResult("b", models.StatusVerified, 1))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "batch.json"), []byte(`{"worker_id":"batch-002","results":[`), 0o644))

	dir, err = rs.WorkerDir("batch-003")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "batch.json"), []byte("{"), 0o644))

	runID, inputs, err := rs.Inputs()
	require.NoError(t, err)
	require.Len(t, inputs, 3)

	b := inputs[1].Batch
	require.NotNil(t, b)
	assert.True(t, b.Partial)
	assert.Contains(t, b.Fault, "unreadable batch.json")
	require.Len(t, b.Results, 1)
	assert.Equal(t, "b", b.Results[0].JobID)

	require.NotNil(t, inputs[2].Batch)
	assert.Empty(t, inputs[2].Batch.Results)

	report := aggregate.Merge(runID, inputs)
	assert.Equal(t, 4, report.TotalJobs)
	assert.Equal(t, 2, report.SuccessCount)
	assert.Equal(t, 2, report.MissingCount)
	assert.Equal(t, models.WorkerStatePartial, report.Workers[1].State)
	assert.Equal(t, models.WorkerStatePartial, report.Workers[2].State)
}

func TestRunStore_WriteSummary(t *testing.T) {
	rs, err := NewRunStore(t.TempDir(), "run-3")
	require.NoError(t, err)

	path, err := rs.WriteSummary([]byte(`{"total_jobs":0}`))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_jobs":0}`, string(data))

	entries, err := os.ReadDir(rs.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}
