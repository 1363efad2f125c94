package ports

import (
	"context"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
)

// Ingestor is the inbound contract for ingestion runs.
type Ingestor interface {
	Run(ctx context.Context, req domain.IngestRequest) (*domain.IngestionRun, error)
}

// IngestionStarter starts a run without waiting for it to finish.
type IngestionStarter interface {
	Start(ctx context.Context, req domain.IngestRequest) (*domain.IngestionRun, error)
}

// ProposalService is the inbound contract for retrieval-augmented answers.
type ProposalService interface {
	Answer(ctx context.Context, question string) (*domain.Answer, error)
	Retrieve(ctx context.Context, question string, topK int) ([]domain.RetrievedChunk, error)
}

// IngestionReader is the inbound read model for ingestion runs.
type IngestionReader interface {
	GetByID(ctx context.Context, id string) (*domain.IngestionRun, error)
	ListRecent(ctx context.Context, limit int) ([]domain.IngestionRun, error)
}
