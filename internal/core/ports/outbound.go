package ports

import (
	"context"
	"io"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

// ResourceResolver expands a root location into ordered source resources.
type ResourceResolver interface {
	Resolve(ctx context.Context, root string, recursive bool, extensions []string) ([]domain.SourceResource, error)
}

// ResourceOpener gives access to the raw bytes of a resource.
type ResourceOpener interface {
	Open(ctx context.Context, res domain.SourceResource) (io.ReadCloser, error)
}

// DocumentParser converts a raw resource into normalized documents.
type DocumentParser interface {
	Parse(ctx context.Context, res domain.SourceResource) ([]domain.Document, error)
}

// Chunker splits documents into token-bounded chunks.
type Chunker interface {
	Split(docs []domain.Document) []domain.Chunk
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore persists chunks and serves top-K similarity search.
type VectorStore interface {
	Add(ctx context.Context, chunks []domain.Chunk) error
	SimilaritySearch(ctx context.Context, query string, topK int) ([]domain.RetrievedChunk, error)
}

// ChatModel generates text for an assembled prompt.
type ChatModel interface {
	Call(ctx context.Context, prompt string) (*domain.ChatResponse, error)
}

// IngestionRunStore persists ingestion run records.
type IngestionRunStore interface {
	Create(ctx context.Context, run *domain.IngestionRun) error
	Update(ctx context.Context, run *domain.IngestionRun) error
	GetByID(ctx context.Context, id string) (*domain.IngestionRun, error)
	ListRecent(ctx context.Context, limit int) ([]domain.IngestionRun, error)
}

// IngestionEvents publishes run lifecycle events.
type IngestionEvents interface {
	PublishIngestionFinished(ctx context.Context, run domain.IngestionRun) error
}

// ReindexQueue carries ingestion requests to workers.
type ReindexQueue interface {
	PublishReindexRequest(ctx context.Context, req domain.IngestRequest) error
	SubscribeReindexRequests(ctx context.Context, handler func(context.Context, domain.IngestRequest) error) error
}

// IngestionObserver receives pipeline measurements.
type IngestionObserver interface {
	ResourceProcessed(outcome string)
	BatchFlushed(size int, err error)
	RunFinished(status domain.RunStatus, chunks int, seconds float64)
}

// QueryObserver receives query path measurements.
type QueryObserver interface {
	AnswerObserved(sources int, degraded bool, status domain.AnswerStatus, seconds float64)
}
