package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/core/ports"
)

// QueuedIngestor hands ingestion requests to workers instead of running them
// in process. The queued record is stored before the request is published so
// the run is visible by ID at once; the worker moves it to running.
type QueuedIngestor struct {
	queue       ports.ReindexQueue
	runs        ports.IngestionRunStore
	defaultRoot string
	now         func() time.Time
}

func NewQueuedIngestor(queue ports.ReindexQueue, runs ports.IngestionRunStore, defaultRoot string) *QueuedIngestor {
	return &QueuedIngestor{
		queue:       queue,
		runs:        runs,
		defaultRoot: defaultRoot,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (q *QueuedIngestor) Start(ctx context.Context, req domain.IngestRequest) (*domain.IngestionRun, error) {
	if req.BatchSize < 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "queue ingestion", fmt.Errorf("batch size must be positive, got %d", req.BatchSize))
	}
	if strings.TrimSpace(req.RunID) == "" {
		req.RunID = uuid.NewString()
	}
	if req.Trigger == "" {
		req.Trigger = "queue"
	}
	root := req.Root
	if strings.TrimSpace(root) == "" {
		root = q.defaultRoot
	}

	run := &domain.IngestionRun{
		ID:        req.RunID,
		Root:      root,
		Trigger:   req.Trigger,
		Status:    domain.RunStatusQueued,
		StartedAt: q.now(),
	}
	if q.runs != nil {
		if err := q.runs.Create(ctx, run); err != nil {
			return nil, fmt.Errorf("create queued ingestion run: %w", err)
		}
	}

	if err := q.queue.PublishReindexRequest(ctx, req); err != nil {
		if q.runs != nil {
			run.Finish(err, q.now())
			if updateErr := q.runs.Update(ctx, run); updateErr != nil {
				slog.Error("ingestion_run_update_failed", "run_id", run.ID, "error", updateErr)
			}
		}
		return nil, fmt.Errorf("publish reindex request: %w", err)
	}
	slog.Info("ingestion_run_queued", "run_id", run.ID, "root", root, "trigger", run.Trigger)

	snapshot := *run
	return &snapshot, nil
}
