package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

func openTestRepo(t *testing.T) *RunRepository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "data", "ledger.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestCreateUpdateGetRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	started := time.Date(2026, 10, 18, 9, 0, 0, 123, time.UTC)
	run := &domain.IngestionRun{ID: "run-1", Root: "/corpus", Trigger: "manual", Status: domain.RunStatusRunning, StartedAt: started}
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.RunStatusRunning || got.FinishedAt != nil || !got.StartedAt.Equal(started) {
		t.Fatalf("unexpected running run %+v", got)
	}

	run.Resources, run.Documents, run.Chunks, run.Batches = 2, 3, 7, 1
	run.Skipped = []domain.SkippedResource{{Location: "/corpus/broken.pdf", Reason: "parse failed"}}
	run.Finish(nil, started.Add(time.Second))
	if err := repo.Update(ctx, run); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err = repo.GetByID(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.RunStatusCompleted || got.Chunks != 7 || got.Batches != 1 {
		t.Fatalf("unexpected finished run %+v", got)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(started.Add(time.Second)) {
		t.Fatalf("unexpected finished_at %v", got.FinishedAt)
	}
	if len(got.Skipped) != 1 || got.Skipped[0].Reason != "parse failed" {
		t.Fatalf("unexpected skipped %+v", got.Skipped)
	}
}

func TestMissingRunIsNotFound(t *testing.T) {
	repo := openTestRepo(t)

	if _, err := repo.GetByID(context.Background(), "nope"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("GetByID() expected ErrNotFound, got %v", err)
	}
	err := repo.Update(context.Background(), &domain.IngestionRun{ID: "nope", Status: domain.RunStatusFailed})
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("Update() expected ErrNotFound, got %v", err)
	}
}

func TestListRecentNewestFirst(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		run := &domain.IngestionRun{ID: id, Root: "/r", Trigger: "manual", Status: domain.RunStatusRunning, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.Create(ctx, run); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	runs, err := repo.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("unexpected order %+v", runs)
	}
}

func TestDuplicateCreateFails(t *testing.T) {
	repo := openTestRepo(t)
	run := &domain.IngestionRun{ID: "dup", Root: "/r", Trigger: "manual", Status: domain.RunStatusRunning, StartedAt: time.Now()}
	if err := repo.Create(context.Background(), run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(context.Background(), run); err == nil {
		t.Fatalf("expected primary key violation")
	}
}
