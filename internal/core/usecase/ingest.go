package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/core/ports"
)

// DefaultExtensions is the extension allow-list of a run that names none.
var DefaultExtensions = []string{"txt", "pdf", "doc", "docx", "md", "html"}

type IngestOptions struct {
	Root         string
	Recursive    bool
	Extensions   []string
	BatchSize    int
	ParsePolicy  domain.ParseErrorPolicy
	ParseWorkers int
}

func DefaultIngestOptions() IngestOptions {
	return IngestOptions{
		Recursive:    true,
		Extensions:   append([]string(nil), DefaultExtensions...),
		BatchSize:    100,
		ParsePolicy:  domain.ParseErrorAbort,
		ParseWorkers: 1,
	}
}

// IngestUseCase runs resolve -> parse -> split -> batch index. Only one run
// executes at a time; a concurrent Run or Start fails with ErrConflict while
// RunWhenIdle waits for the active run to finish.
type IngestUseCase struct {
	resolver ports.ResourceResolver
	parser   ports.DocumentParser
	chunker  ports.Chunker
	store    ports.VectorStore
	runs     ports.IngestionRunStore
	events   ports.IngestionEvents
	observer ports.IngestionObserver
	defaults IngestOptions

	slot       chan struct{}
	background sync.WaitGroup
	now        func() time.Time
}

func NewIngestUseCase(
	resolver ports.ResourceResolver,
	parser ports.DocumentParser,
	chunker ports.Chunker,
	store ports.VectorStore,
	runs ports.IngestionRunStore,
	events ports.IngestionEvents,
	observer ports.IngestionObserver,
	defaults IngestOptions,
) *IngestUseCase {
	if observer == nil {
		observer = noopIngestionObserver{}
	}
	return &IngestUseCase{
		resolver: resolver,
		parser:   parser,
		chunker:  chunker,
		store:    store,
		runs:     runs,
		events:   events,
		observer: observer,
		defaults: defaults,
		slot:     make(chan struct{}, 1),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one ingestion run and returns its record. The record is
// returned together with the error when the run failed after it started.
func (uc *IngestUseCase) Run(ctx context.Context, req domain.IngestRequest) (*domain.IngestionRun, error) {
	return uc.run(ctx, req, false)
}

// RunWhenIdle is Run for queue consumers: instead of failing while another
// run is active it waits for that run to finish or ctx to end.
func (uc *IngestUseCase) RunWhenIdle(ctx context.Context, req domain.IngestRequest) (*domain.IngestionRun, error) {
	return uc.run(ctx, req, true)
}

func (uc *IngestUseCase) run(ctx context.Context, req domain.IngestRequest, wait bool) (*domain.IngestionRun, error) {
	opts, run, err := uc.begin(ctx, req, wait)
	if err != nil {
		return nil, err
	}
	defer uc.release()

	runErr := uc.execute(ctx, opts, run)
	uc.finish(ctx, run, runErr)
	if runErr != nil {
		return run, runErr
	}
	return run, nil
}

// Start creates the run record and executes the run in the background. It
// returns a snapshot of the running record; the run outlives ctx.
func (uc *IngestUseCase) Start(ctx context.Context, req domain.IngestRequest) (*domain.IngestionRun, error) {
	opts, run, err := uc.begin(ctx, req, false)
	if err != nil {
		return nil, err
	}
	snapshot := *run

	bg := context.WithoutCancel(ctx)
	uc.background.Go(func() {
		defer uc.release()
		runErr := uc.execute(bg, opts, run)
		uc.finish(bg, run, runErr)
	})
	return &snapshot, nil
}

// Wait blocks until runs launched by Start have finished.
func (uc *IngestUseCase) Wait() {
	uc.background.Wait()
}

func (uc *IngestUseCase) acquire(ctx context.Context, wait bool) error {
	if !wait {
		select {
		case uc.slot <- struct{}{}:
			return nil
		default:
			return domain.WrapError(domain.ErrConflict, "start ingestion", errors.New("another ingestion run is in progress"))
		}
	}
	select {
	case uc.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return domain.WrapError(domain.ErrTemporary, "start ingestion", ctx.Err())
	}
}

func (uc *IngestUseCase) release() {
	<-uc.slot
}

// begin validates the request, takes the run slot and records the run. A
// request whose RunID names a queued record moves that record to running;
// any other existing record is a duplicate delivery. On success the caller
// owns the slot.
func (uc *IngestUseCase) begin(ctx context.Context, req domain.IngestRequest, wait bool) (IngestOptions, *domain.IngestionRun, error) {
	opts, err := uc.options(req)
	if err != nil {
		return opts, nil, err
	}
	if err := uc.acquire(ctx, wait); err != nil {
		return opts, nil, err
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = "manual"
	}
	id := strings.TrimSpace(req.RunID)
	if id == "" {
		id = uuid.NewString()
	}
	run := &domain.IngestionRun{
		ID:        id,
		Root:      opts.Root,
		Trigger:   trigger,
		Status:    domain.RunStatusRunning,
		StartedAt: uc.now(),
	}
	if err := uc.record(ctx, run, req.RunID != ""); err != nil {
		uc.release()
		return opts, nil, err
	}
	slog.Info("ingestion_run_started",
		"run_id", run.ID,
		"root", opts.Root,
		"recursive", opts.Recursive,
		"extensions", strings.Join(opts.Extensions, ","),
		"batch_size", opts.BatchSize,
		"trigger", trigger,
	)
	return opts, run, nil
}

func (uc *IngestUseCase) record(ctx context.Context, run *domain.IngestionRun, lookup bool) error {
	if uc.runs == nil {
		return nil
	}
	if lookup {
		existing, err := uc.runs.GetByID(ctx, run.ID)
		switch {
		case err == nil && existing.Status == domain.RunStatusQueued:
			if err := uc.runs.Update(ctx, run); err != nil {
				return fmt.Errorf("update queued ingestion run: %w", err)
			}
			return nil
		case err == nil:
			return domain.WrapError(domain.ErrConflict, "start ingestion",
				fmt.Errorf("run %s already %s", run.ID, existing.Status))
		case !domain.IsKind(err, domain.ErrNotFound):
			return fmt.Errorf("load ingestion run: %w", err)
		}
	}
	if err := uc.runs.Create(ctx, run); err != nil {
		return fmt.Errorf("create ingestion run: %w", err)
	}
	return nil
}

func (uc *IngestUseCase) options(req domain.IngestRequest) (IngestOptions, error) {
	opts := uc.defaults
	if strings.TrimSpace(req.Root) != "" {
		opts.Root = strings.TrimSpace(req.Root)
	}
	if req.Recursive != nil {
		opts.Recursive = *req.Recursive
	}
	if len(req.Extensions) > 0 {
		opts.Extensions = req.Extensions
	}
	if req.BatchSize != 0 {
		opts.BatchSize = req.BatchSize
	}
	if opts.ParsePolicy == "" {
		opts.ParsePolicy = domain.ParseErrorAbort
	}
	if opts.ParseWorkers <= 0 {
		opts.ParseWorkers = 1
	}

	switch {
	case opts.Root == "":
		return opts, domain.WrapError(domain.ErrInvalidInput, "ingest", errors.New("root is required"))
	case opts.BatchSize <= 0:
		return opts, domain.WrapError(domain.ErrInvalidInput, "ingest", fmt.Errorf("batch size must be positive, got %d", opts.BatchSize))
	case !opts.ParsePolicy.Valid():
		return opts, domain.WrapError(domain.ErrInvalidInput, "ingest", fmt.Errorf("unknown parse error policy %q", opts.ParsePolicy))
	}
	return opts, nil
}

func (uc *IngestUseCase) execute(ctx context.Context, opts IngestOptions, run *domain.IngestionRun) error {
	resources, err := uc.resolver.Resolve(ctx, opts.Root, opts.Recursive, opts.Extensions)
	if err != nil {
		return fmt.Errorf("resolve resources: %w", err)
	}
	run.Resources = len(resources)

	indexer, err := NewBatchIndexer(uc.store, opts.BatchSize, uc.observer)
	if err != nil {
		return err
	}
	stats, err := indexer.IndexAll(ctx, uc.chunks(ctx, resources, opts, run))
	run.Chunks = stats.Chunks
	run.Batches = stats.Batches
	if err != nil {
		if pending := indexer.Len(); pending > 0 {
			slog.Error("ingestion_batch_unwritten", "run_id", run.ID, "pending_chunks", pending)
		}
		return err
	}
	return nil
}

type parsedResource struct {
	documents int
	chunks    []domain.Chunk
	err       error
}

func (uc *IngestUseCase) parse(ctx context.Context, res domain.SourceResource) parsedResource {
	docs, err := uc.parser.Parse(ctx, res)
	if err != nil {
		return parsedResource{err: err}
	}
	return parsedResource{documents: len(docs), chunks: uc.chunker.Split(docs)}
}

// chunks yields the chunks of every resource in resolved order. With more
// than one worker, resources are parsed ahead of the consumer inside a
// bounded window, but the output order does not change.
func (uc *IngestUseCase) chunks(ctx context.Context, resources []domain.SourceResource, opts IngestOptions, run *domain.IngestionRun) iter.Seq2[domain.Chunk, error] {
	return func(yield func(domain.Chunk, error) bool) {
		next := uc.sequentialParse(ctx, resources)
		if opts.ParseWorkers > 1 && len(resources) > 1 {
			var stop func()
			next, stop = uc.parallelParse(ctx, resources, opts.ParseWorkers)
			defer stop()
		}

		for i, res := range resources {
			parsed, err := next(i)
			if err != nil {
				yield(domain.Chunk{}, err)
				return
			}
			if parsed.err != nil {
				if opts.ParsePolicy == domain.ParseErrorSkip && domain.IsKind(parsed.err, domain.ErrParse) {
					run.Skipped = append(run.Skipped, domain.SkippedResource{Location: res.Location, Reason: parsed.err.Error()})
					uc.observer.ResourceProcessed("skipped")
					slog.Warn("ingestion_resource_skipped", "run_id", run.ID, "resource", res.Location, "error", parsed.err.Error())
					continue
				}
				uc.observer.ResourceProcessed("failed")
				yield(domain.Chunk{}, fmt.Errorf("process %s: %w", res.Location, parsed.err))
				return
			}
			uc.observer.ResourceProcessed("parsed")
			run.Documents += parsed.documents
			for _, chunk := range parsed.chunks {
				if !yield(chunk, nil) {
					return
				}
			}
		}
	}
}

func (uc *IngestUseCase) sequentialParse(ctx context.Context, resources []domain.SourceResource) func(int) (parsedResource, error) {
	return func(i int) (parsedResource, error) {
		if err := ctx.Err(); err != nil {
			return parsedResource{}, err
		}
		return uc.parse(ctx, resources[i]), nil
	}
}

func (uc *IngestUseCase) parallelParse(ctx context.Context, resources []domain.SourceResource, workers int) (func(int) (parsedResource, error), func()) {
	ctx, cancel := context.WithCancel(ctx)
	results := make([]chan parsedResource, len(resources))
	for i := range results {
		results[i] = make(chan parsedResource, 1)
	}
	window := make(chan struct{}, workers*2)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for i, res := range resources {
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				return
			}
			g.Go(func() error {
				results[i] <- uc.parse(gctx, res)
				return nil
			})
		}
	}()

	next := func(i int) (parsedResource, error) {
		select {
		case parsed := <-results[i]:
			<-window
			return parsed, nil
		case <-ctx.Done():
			return parsedResource{}, ctx.Err()
		}
	}
	stop := func() {
		cancel()
		<-dispatched
		_ = g.Wait()
	}
	return next, stop
}

func (uc *IngestUseCase) finish(ctx context.Context, run *domain.IngestionRun, runErr error) {
	run.Finish(runErr, uc.now())
	seconds := run.FinishedAt.Sub(run.StartedAt).Seconds()
	uc.observer.RunFinished(run.Status, run.Chunks, seconds)

	// Bookkeeping must survive a cancelled run context.
	bg := context.WithoutCancel(ctx)
	if uc.runs != nil {
		if err := uc.runs.Update(bg, run); err != nil {
			slog.Error("ingestion_run_update_failed", "run_id", run.ID, "error", err.Error())
		}
	}
	if uc.events != nil {
		if err := uc.events.PublishIngestionFinished(bg, *run); err != nil {
			slog.Warn("ingestion_event_publish_failed", "run_id", run.ID, "error", err.Error())
		}
	}

	attrs := []any{
		"run_id", run.ID,
		"status", string(run.Status),
		"resources", run.Resources,
		"skipped", len(run.Skipped),
		"documents", run.Documents,
		"chunks", run.Chunks,
		"batches", run.Batches,
		"duration_ms", int64(seconds * 1000),
	}
	if runErr != nil {
		slog.Error("ingestion_run_finished", append(attrs, "error", runErr.Error())...)
		return
	}
	slog.Info("ingestion_run_finished", attrs...)
}
