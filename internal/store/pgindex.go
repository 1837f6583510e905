package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/applybot-dev/applybot/pkg/models"
)

const createOutcomesTable = `
CREATE TABLE IF NOT EXISTS application_outcomes (
    run_id         TEXT        NOT NULL,
    job_id         TEXT        NOT NULL,
    attempt        INTEGER     NOT NULL,
    worker_id      TEXT        NOT NULL,
    title          TEXT        NOT NULL DEFAULT '',
    company        TEXT        NOT NULL DEFAULT '',
    status         TEXT        NOT NULL,
    failure_reason TEXT        NOT NULL DEFAULT '',
    stage          TEXT        NOT NULL DEFAULT '',
    started_at     TIMESTAMPTZ,
    completed_at   TIMESTAMPTZ,
    detail         JSONB       NOT NULL,
    PRIMARY KEY (run_id, job_id, attempt)
)`

const upsertOutcome = `
INSERT INTO application_outcomes
    (run_id, job_id, attempt, worker_id, title, company, status, failure_reason, stage, started_at, completed_at, detail)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (run_id, job_id, attempt) DO UPDATE SET
    status = EXCLUDED.status,
    failure_reason = EXCLUDED.failure_reason,
    stage = EXCLUDED.stage,
    completed_at = EXCLUDED.completed_at,
    detail = EXCLUDED.detail`

// PGIndex keeps a queryable history of job outcomes across runs. The files
// in the run directory stay the source of truth.
type PGIndex struct {
	pool *pgxpool.Pool
}

// NewPGIndex connects and makes sure the outcomes table exists.
func NewPGIndex(ctx context.Context, connectionURI string) (*PGIndex, error) {
	config, err := pgxpool.ParseConfig(connectionURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}
	config.MaxConns = 4
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	if _, err := pool.Exec(ctx, createOutcomesTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create outcomes table: %w", err)
	}
	return &PGIndex{pool: pool}, nil
}

// RecordBatch upserts every job result of a batch in one transaction.
func (idx *PGIndex) RecordBatch(ctx context.Context, runID string, b *models.BatchResult) error {
	if b == nil || len(b.Results) == 0 {
		return nil
	}

	tx, err := idx.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	//nolint:contextcheck // rollback must run even if ctx is already cancelled
	defer func() {
		rollbackCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if rbErr := tx.Rollback(rollbackCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Printf("failed to rollback transaction: %v", rbErr)
		}
	}()

	batch := &pgx.Batch{}
	for _, r := range b.Results {
		detail, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal result for %s: %w", r.JobID, err)
		}
		batch.Queue(upsertOutcome,
			runID, r.JobID, r.Attempt, b.WorkerID, r.Title, r.Company,
			string(r.Status), string(r.FailureReason), string(r.Stage),
			nullTime(r.StartedAt), nullTime(r.CompletedAt), detail,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to record outcomes for %s: %w", b.WorkerID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close releases the pool.
func (idx *PGIndex) Close() {
	if idx != nil && idx.pool != nil {
		idx.pool.Close()
	}
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
