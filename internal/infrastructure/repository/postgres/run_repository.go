package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *RunRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS ingestion_runs (
	id TEXT PRIMARY KEY,
	root TEXT NOT NULL,
	trigger TEXT NOT NULL,
	status TEXT NOT NULL,
	resources INTEGER NOT NULL DEFAULT 0,
	documents INTEGER NOT NULL DEFAULT 0,
	chunks INTEGER NOT NULL DEFAULT 0,
	batches INTEGER NOT NULL DEFAULT 0,
	skipped JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_message TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_ingestion_runs_started_at ON ingestion_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_ingestion_runs_status ON ingestion_runs(status);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *RunRepository) Create(ctx context.Context, run *domain.IngestionRun) error {
	skipped, err := marshalSkipped(run.Skipped)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO ingestion_runs (
	id, root, trigger, status, resources, documents, chunks, batches, skipped, error_message, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		run.ID, run.Root, run.Trigger, string(run.Status), run.Resources, run.Documents, run.Chunks, run.Batches,
		skipped, run.Error, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ingestion run: %w", err)
	}
	return nil
}

func (r *RunRepository) Update(ctx context.Context, run *domain.IngestionRun) error {
	skipped, err := marshalSkipped(run.Skipped)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE ingestion_runs
SET status = $2, resources = $3, documents = $4, chunks = $5, batches = $6, skipped = $7, error_message = $8, finished_at = $9
WHERE id = $1
`, run.ID, string(run.Status), run.Resources, run.Documents, run.Chunks, run.Batches, skipped, run.Error, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("update ingestion run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ingestion run rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "update ingestion run", fmt.Errorf("run %s", run.ID))
	}
	return nil
}

const selectRun = `
SELECT id, root, trigger, status, resources, documents, chunks, batches, skipped, error_message, started_at, finished_at
FROM ingestion_runs
`

func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.IngestionRun, error) {
	row := r.db.QueryRowContext(ctx, selectRun+"WHERE id = $1\n", id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get ingestion run", fmt.Errorf("run %s", id))
		}
		return nil, fmt.Errorf("scan ingestion run: %w", err)
	}
	return run, nil
}

func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]domain.IngestionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, selectRun+"ORDER BY started_at DESC\nLIMIT $1\n", limit)
	if err != nil {
		return nil, fmt.Errorf("list ingestion runs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.IngestionRun, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ingestion run: %w", err)
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ingestion runs: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*domain.IngestionRun, error) {
	var (
		run        domain.IngestionRun
		status     string
		skippedRaw []byte
		errMessage sql.NullString
		finishedAt sql.NullTime
	)
	err := s.Scan(
		&run.ID, &run.Root, &run.Trigger, &status, &run.Resources, &run.Documents, &run.Chunks, &run.Batches,
		&skippedRaw, &errMessage, &run.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	run.Error = errMessage.String
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if len(skippedRaw) > 0 {
		if err := json.Unmarshal(skippedRaw, &run.Skipped); err != nil {
			return nil, fmt.Errorf("unmarshal skipped resources: %w", err)
		}
	}
	return &run, nil
}

func marshalSkipped(skipped []domain.SkippedResource) ([]byte, error) {
	if skipped == nil {
		skipped = []domain.SkippedResource{}
	}
	raw, err := json.Marshal(skipped)
	if err != nil {
		return nil, fmt.Errorf("marshal skipped resources: %w", err)
	}
	return raw, nil
}
