// Package store persists run manifests, worker partitions, job and batch
// results, and summaries on the local filesystem.
//
// Layout of one run directory:
//
//	manifest.json
//	partitions/<worker>.json
//	<worker>/job-<seq>-<attempt>.json
//	<worker>/batch.json
//	summary.json
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/applybot-dev/applybot/internal/aggregate"
	"github.com/applybot-dev/applybot/pkg/models"
)

const (
	manifestFile  = "manifest.json"
	summaryFile   = "summary.json"
	batchFile     = "batch.json"
	partitionsDir = "partitions"
	jobFilePrefix = "job-"
)

// ErrNoManifest is returned when a directory is not a run directory.
var ErrNoManifest = errors.New("run manifest not found")

// ManifestWorker records what one worker was given.
type ManifestWorker struct {
	WorkerID      string   `json:"worker_id"`
	Assigned      []string `json:"assigned"`
	PartitionFile string   `json:"partition_file"`
}

// Manifest is written before any worker launches so a run can be
// re-aggregated even if the orchestrator dies.
type Manifest struct {
	RunID     string           `json:"run_id"`
	Backend   string           `json:"backend"`
	Image     string           `json:"image,omitempty"`
	Runtime   string           `json:"runtime"`
	CreatedAt time.Time        `json:"created_at"`
	Workers   []ManifestWorker `json:"workers"`
}

// RunStore is the directory of a single run.
type RunStore struct {
	dir string
}

// NewRunStore creates (if needed) and returns the run directory under root.
func NewRunStore(root, runID string) (*RunStore, error) {
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(filepath.Join(dir, partitionsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	return &RunStore{dir: dir}, nil
}

// OpenRunStore opens an existing run directory.
func OpenRunStore(dir string) (*RunStore, error) {
	if _, err := os.Stat(filepath.Join(dir, manifestFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNoManifest, dir)
		}
		return nil, err
	}
	return &RunStore{dir: dir}, nil
}

// Dir returns the run directory.
func (s *RunStore) Dir() string { return s.dir }

// WorkerDir returns, and creates, the result directory of one worker.
func (s *RunStore) WorkerDir(workerID string) (string, error) {
	dir := filepath.Join(s.dir, workerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create worker directory: %w", err)
	}
	return dir, nil
}

// WritePartition stores a worker's job slice and returns its path.
func (s *RunStore) WritePartition(workerID string, jobs []models.JobDescriptor) (string, error) {
	path := filepath.Join(s.dir, partitionsDir, workerID+".json")
	if err := writeJSON(path, jobs); err != nil {
		return "", fmt.Errorf("write partition for %s: %w", workerID, err)
	}
	return path, nil
}

// WriteManifest stores the run manifest.
func (s *RunStore) WriteManifest(m Manifest) error {
	return writeJSON(filepath.Join(s.dir, manifestFile), m)
}

// ReadManifest loads the run manifest.
func (s *RunStore) ReadManifest() (*Manifest, error) {
	var m Manifest
	if err := readJSON(filepath.Join(s.dir, manifestFile), &m); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return &m, nil
}

// WriteSummary stores encoded summary bytes.
func (s *RunStore) WriteSummary(data []byte) (string, error) {
	path := filepath.Join(s.dir, summaryFile)
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}

// LoadBatch returns the batch result of a worker. When batch.json is absent
// or unreadable the result is rebuilt from the job files the worker managed
// to write and marked partial. A worker that left nothing returns nil, nil.
func (s *RunStore) LoadBatch(workerID string) (*models.BatchResult, error) {
	dir := filepath.Join(s.dir, workerID)

	var batch models.BatchResult
	err := readJSON(filepath.Join(dir, batchFile), &batch)
	if err == nil {
		return &batch, nil
	}
	var fault string
	if !errors.Is(err, os.ErrNotExist) {
		log.Printf("[%s] ignoring unreadable %s: %v", workerID, batchFile, err)
		fault = fmt.Sprintf("unreadable %s: %v", batchFile, err)
	}

	results, err := readJobFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 && fault == "" {
		return nil, nil
	}
	return &models.BatchResult{
		WorkerID: workerID,
		Results:  results,
		Partial:  true,
		Fault:    fault,
	}, nil
}

// Inputs loads everything needed to aggregate the run.
func (s *RunStore) Inputs() (string, []aggregate.Input, error) {
	m, err := s.ReadManifest()
	if err != nil {
		return "", nil, err
	}
	inputs := make([]aggregate.Input, 0, len(m.Workers))
	for _, w := range m.Workers {
		b, err := s.LoadBatch(w.WorkerID)
		if err != nil {
			return "", nil, err
		}
		inputs = append(inputs, aggregate.Input{
			WorkerID: w.WorkerID,
			Assigned: w.Assigned,
			Batch:    b,
		})
	}
	return m.RunID, inputs, nil
}

// ResultSink is the worker side of the store: append-only, one directory per worker.
type ResultSink struct {
	dir string
}

// NewResultSink creates the directory a worker writes to.
func NewResultSink(dir string) (*ResultSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	return &ResultSink{dir: dir}, nil
}

// Dir returns the sink directory.
func (s *ResultSink) Dir() string { return s.dir }

// WriteJob persists one job result as soon as it is produced.
func (s *ResultSink) WriteJob(seq int, r models.JobResult) (string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%s%03d-%d.json", jobFilePrefix, seq, r.Attempt))
	if err := writeJSON(path, r); err != nil {
		return "", fmt.Errorf("write job result: %w", err)
	}
	return path, nil
}

// WriteBatch persists the batch result. It is written once per worker.
func (s *ResultSink) WriteBatch(b models.BatchResult) (string, error) {
	path := filepath.Join(s.dir, batchFile)
	if err := writeJSON(path, b); err != nil {
		return "", fmt.Errorf("write batch result: %w", err)
	}
	return path, nil
}

// ScreenshotPath returns where evidence for a job attempt should be written.
func (s *ResultSink) ScreenshotPath(seq, attempt int, label string) string {
	return filepath.Join(s.dir, "screenshots", fmt.Sprintf("job-%03d-%d-%s.png", seq, attempt, label))
}

func readJobFiles(dir string) ([]models.JobResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read worker directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), jobFilePrefix) || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	results := make([]models.JobResult, 0, len(names))
	for _, name := range names {
		var r models.JobResult
		if err := readJSON(filepath.Join(dir, name), &r); err != nil {
			// a torn write from a killed worker is skipped, the job counts as missing
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(data, '\n'))
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
