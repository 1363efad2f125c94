package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

type storeFake struct {
	mu        sync.Mutex
	batches   [][]domain.Chunk
	addErrs   []error
	addCalls  int
	results   []domain.RetrievedChunk
	searchErr error
	lastTopK  int
	lastQuery string
}

func (f *storeFake) Add(_ context.Context, chunks []domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.addCalls
	f.addCalls++
	if call < len(f.addErrs) && f.addErrs[call] != nil {
		return f.addErrs[call]
	}
	batch := make([]domain.Chunk, len(chunks))
	copy(batch, chunks)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *storeFake) SimilaritySearch(_ context.Context, query string, topK int) ([]domain.RetrievedChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = query
	f.lastTopK = topK
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *storeFake) texts() []string {
	var out []string
	for _, b := range f.batches {
		for _, c := range b {
			out = append(out, c.Text)
		}
	}
	return out
}

func (f *storeFake) sizes() []int {
	var out []int
	for _, b := range f.batches {
		out = append(out, len(b))
	}
	return out
}

type chatFake struct {
	mu      sync.Mutex
	resp    *domain.ChatResponse
	err     error
	prompts []string
}

func (f *chatFake) Call(_ context.Context, prompt string) (*domain.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type resolverFake struct {
	resources []domain.SourceResource
	err       error
	block     chan struct{}
	entered   chan struct{}
	once      sync.Once
}

func (f *resolverFake) Resolve(ctx context.Context, _ string, _ bool, _ []string) ([]domain.SourceResource, error) {
	if f.entered != nil {
		f.once.Do(func() { close(f.entered) })
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.resources, f.err
}

// parserFake yields one document per resource whose text is the resource
// location; failing locations return a parse error.
type parserFake struct {
	fail map[string]bool
}

func (f *parserFake) Parse(_ context.Context, res domain.SourceResource) ([]domain.Document, error) {
	if f.fail[res.Location] {
		return nil, domain.WrapError(domain.ErrParse, "parse "+res.Location, errors.New("corrupt file"))
	}
	return []domain.Document{{Text: res.Location, Metadata: map[string]string{domain.MetaSource: res.Location}}}, nil
}

// chunkerFake emits perDoc chunks for every document.
type chunkerFake struct {
	perDoc int
}

func (f *chunkerFake) Split(docs []domain.Document) []domain.Chunk {
	var out []domain.Chunk
	for _, d := range docs {
		for i := 0; i < f.perDoc; i++ {
			out = append(out, domain.Chunk{
				ID:       fmt.Sprintf("%s-%d", d.Text, i),
				Index:    i,
				Text:     fmt.Sprintf("%s#%d", d.Text, i),
				Metadata: domain.CopyMetadata(d.Metadata),
			})
		}
	}
	return out
}

type runStoreFake struct {
	mu      sync.Mutex
	created []domain.IngestionRun
	updated []domain.IngestionRun
}

func (f *runStoreFake) Create(_ context.Context, run *domain.IngestionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *run)
	return nil
}

func (f *runStoreFake) Update(_ context.Context, run *domain.IngestionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, *run)
	return nil
}

// GetByID returns the latest written version of the record.
func (f *runStoreFake) GetByID(_ context.Context, id string) (*domain.IngestionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.updated) - 1; i >= 0; i-- {
		if f.updated[i].ID == id {
			run := f.updated[i]
			return &run, nil
		}
	}
	for i := len(f.created) - 1; i >= 0; i-- {
		if f.created[i].ID == id {
			run := f.created[i]
			return &run, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *runStoreFake) ListRecent(context.Context, int) ([]domain.IngestionRun, error) {
	return nil, nil
}

type eventsFake struct {
	published []domain.IngestionRun
}

func (f *eventsFake) PublishIngestionFinished(_ context.Context, run domain.IngestionRun) error {
	f.published = append(f.published, run)
	return nil
}

type observerFake struct {
	mu        sync.Mutex
	outcomes  []string
	flushes   []int
	flushErrs int
	finished  []domain.RunStatus
	answers   []domain.AnswerStatus
	degraded  int
}

func (f *observerFake) ResourceProcessed(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *observerFake) BatchFlushed(size int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.flushErrs++
		return
	}
	f.flushes = append(f.flushes, size)
}

func (f *observerFake) RunFinished(status domain.RunStatus, _ int, _ float64) {
	f.finished = append(f.finished, status)
}

func (f *observerFake) AnswerObserved(_ int, degraded bool, status domain.AnswerStatus, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, status)
	if degraded {
		f.degraded++
	}
}

func chunksNamed(names ...string) []domain.Chunk {
	out := make([]domain.Chunk, 0, len(names))
	for i, n := range names {
		out = append(out, domain.Chunk{ID: n, Index: i, Text: n})
	}
	return out
}

func resourcesNamed(names ...string) []domain.SourceResource {
	out := make([]domain.SourceResource, 0, len(names))
	for _, n := range names {
		out = append(out, domain.SourceResource{Location: n, Extension: "txt", Kind: domain.ResourceFile})
	}
	return out
}
