// Package sqlite keeps the ingestion run ledger in a local SQLite file for
// single-node deployments and the ragctl CLI.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS ingestion_runs (
	id TEXT PRIMARY KEY,
	root TEXT NOT NULL,
	trigger TEXT NOT NULL,
	status TEXT NOT NULL,
	resources INTEGER NOT NULL DEFAULT 0,
	documents INTEGER NOT NULL DEFAULT 0,
	chunks INTEGER NOT NULL DEFAULT 0,
	batches INTEGER NOT NULL DEFAULT 0,
	skipped TEXT NOT NULL DEFAULT '[]',
	error_message TEXT,
	started_at TEXT NOT NULL,
	finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_ingestion_runs_started_at ON ingestion_runs(started_at DESC);
`

// RunRepository is a SQLite-backed ports.IngestionRunStore.
type RunRepository struct {
	db   *sql.DB
	path string
}

// Open creates the database file if needed and applies the schema.
func Open(path string) (*RunRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer keeps WAL contention out of the ledger path.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &RunRepository{db: db, path: path}, nil
}

func (r *RunRepository) Close() error {
	return r.db.Close()
}

func (r *RunRepository) Path() string {
	return r.path
}

func (r *RunRepository) Create(ctx context.Context, run *domain.IngestionRun) error {
	skipped, err := marshalSkipped(run.Skipped)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (
			id, root, trigger, status, resources, documents, chunks, batches, skipped, error_message, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Root, run.Trigger, string(run.Status), run.Resources, run.Documents, run.Chunks, run.Batches,
		skipped, nullableString(run.Error), formatTime(run.StartedAt), formatNullableTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting ingestion run: %w", err)
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
		SET status = ?, resources = ?, documents = ?, chunks = ?, batches = ?, skipped = ?, error_message = ?, finished_at = ?
		WHERE id = ?`,
		string(run.Status), run.Resources, run.Documents, run.Chunks, run.Batches, skipped,
		nullableString(run.Error), formatNullableTime(run.FinishedAt), run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating ingestion run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating ingestion run rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "update ingestion run", fmt.Errorf("run %s", run.ID))
	}
	return nil
}

const selectRun = `
	SELECT id, root, trigger, status, resources, documents, chunks, batches, skipped, error_message, started_at, finished_at
	FROM ingestion_runs`

func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.IngestionRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, selectRun+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get ingestion run", fmt.Errorf("run %s", id))
		}
		return nil, fmt.Errorf("scanning ingestion run: %w", err)
	}
	return run, nil
}

func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]domain.IngestionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, selectRun+" ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing ingestion runs: %w", err)
	}
	defer rows.Close()

	var out []domain.IngestionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ingestion run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*domain.IngestionRun, error) {
	var (
		run                domain.IngestionRun
		status, skipped    string
		startedAt          string
		errMsg, finishedAt sql.NullString
	)
	if err := s.Scan(
		&run.ID, &run.Root, &run.Trigger, &status, &run.Resources, &run.Documents, &run.Chunks, &run.Batches,
		&skipped, &errMsg, &startedAt, &finishedAt,
	); err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	run.Error = errMsg.String
	if t, err := time.Parse(timeLayout, startedAt); err == nil {
		run.StartedAt = t
	}
	run.FinishedAt = parseNullableTime(finishedAt)
	if skipped != "" {
		if err := json.Unmarshal([]byte(skipped), &run.Skipped); err != nil {
			return nil, fmt.Errorf("unmarshalling skipped resources: %w", err)
		}
	}
	if len(run.Skipped) == 0 {
		run.Skipped = nil
	}
	return &run, nil
}

func marshalSkipped(skipped []domain.SkippedResource) (string, error) {
	if len(skipped) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(skipped)
	if err != nil {
		return "", fmt.Errorf("marshalling skipped resources: %w", err)
	}
	return string(raw), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Fixed-width UTC timestamps keep lexical order equal to chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}
