package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

// RunRepository keeps ingestion runs in process memory.
type RunRepository struct {
	mu   sync.RWMutex
	runs map[string]domain.IngestionRun
}

func NewRunRepository() *RunRepository {
	return &RunRepository{runs: make(map[string]domain.IngestionRun)}
}

func (r *RunRepository) Create(_ context.Context, run *domain.IngestionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; ok {
		return domain.WrapError(domain.ErrConflict, "create ingestion run", fmt.Errorf("run %s already exists", run.ID))
	}
	r.runs[run.ID] = cloneRun(*run)
	return nil
}

func (r *RunRepository) Update(_ context.Context, run *domain.IngestionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		return domain.WrapError(domain.ErrNotFound, "update ingestion run", fmt.Errorf("run %s", run.ID))
	}
	r.runs[run.ID] = cloneRun(*run)
	return nil
}

func (r *RunRepository) GetByID(_ context.Context, id string) (*domain.IngestionRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get ingestion run", fmt.Errorf("run %s", id))
	}
	out := cloneRun(run)
	return &out, nil
}

func (r *RunRepository) ListRecent(_ context.Context, limit int) ([]domain.IngestionRun, error) {
	if limit <= 0 {
		limit = 20
	}
	r.mu.RLock()
	out := make([]domain.IngestionRun, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, cloneRun(run))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRun(run domain.IngestionRun) domain.IngestionRun {
	if run.Skipped != nil {
		run.Skipped = append([]domain.SkippedResource(nil), run.Skipped...)
	}
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		run.FinishedAt = &t
	}
	return run
}
