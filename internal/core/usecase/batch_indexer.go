package usecase

import (
	"context"
	"fmt"
	"iter"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/core/ports"
)

// BatchIndexer buffers chunks and writes them to the vector store in batches
// of exactly size, except the final remainder. A failed write keeps the
// buffer intact so the caller may retry with Flush. It is owned by a single
// ingestion run and is not safe for concurrent use.
type BatchIndexer struct {
	store    ports.VectorStore
	size     int
	buffer   []domain.Chunk
	observer ports.IngestionObserver

	flushes int
	written int
}

type IndexStats struct {
	Chunks  int
	Batches int
}

func NewBatchIndexer(store ports.VectorStore, size int, observer ports.IngestionObserver) (*BatchIndexer, error) {
	if size <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create batch indexer", fmt.Errorf("batch size must be positive, got %d", size))
	}
	if observer == nil {
		observer = noopIngestionObserver{}
	}
	return &BatchIndexer{
		store:    store,
		size:     size,
		buffer:   make([]domain.Chunk, 0, size),
		observer: observer,
	}, nil
}

// Add appends a chunk and flushes when the buffer reaches the batch size. A
// buffer left full by an earlier failed flush is retried first.
func (b *BatchIndexer) Add(ctx context.Context, chunk domain.Chunk) error {
	if len(b.buffer) >= b.size {
		if err := b.Flush(ctx); err != nil {
			return err
		}
	}
	b.buffer = append(b.buffer, chunk)
	if len(b.buffer) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered chunks as one batch. An empty buffer is a no-op.
func (b *BatchIndexer) Flush(ctx context.Context) error {
	if len(b.buffer) == 0 {
		return nil
	}
	if err := b.store.Add(ctx, b.buffer); err != nil {
		b.observer.BatchFlushed(len(b.buffer), err)
		return domain.WrapError(domain.ErrIndexWrite, "flush batch", err)
	}
	b.observer.BatchFlushed(len(b.buffer), nil)
	b.flushes++
	b.written += len(b.buffer)
	b.buffer = make([]domain.Chunk, 0, b.size)
	return nil
}

// IndexAll drains seq and flushes the non-empty remainder once at the end.
// The first error from the sequence or from a flush stops the run.
func (b *BatchIndexer) IndexAll(ctx context.Context, seq iter.Seq2[domain.Chunk, error]) (IndexStats, error) {
	for chunk, err := range seq {
		if err != nil {
			return b.Stats(), err
		}
		if err := ctx.Err(); err != nil {
			return b.Stats(), err
		}
		if err := b.Add(ctx, chunk); err != nil {
			return b.Stats(), err
		}
	}
	if err := b.Flush(ctx); err != nil {
		return b.Stats(), err
	}
	return b.Stats(), nil
}

func (b *BatchIndexer) Pending() []domain.Chunk {
	out := make([]domain.Chunk, len(b.buffer))
	copy(out, b.buffer)
	return out
}

func (b *BatchIndexer) Len() int {
	return len(b.buffer)
}

func (b *BatchIndexer) Stats() IndexStats {
	return IndexStats{Chunks: b.written, Batches: b.flushes}
}

// ChunkSlice adapts a slice to the sequence consumed by IndexAll.
func ChunkSlice(chunks []domain.Chunk) iter.Seq2[domain.Chunk, error] {
	return func(yield func(domain.Chunk, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

type noopIngestionObserver struct{}

func (noopIngestionObserver) ResourceProcessed(string)                   {}
func (noopIngestionObserver) BatchFlushed(int, error)                    {}
func (noopIngestionObserver) RunFinished(domain.RunStatus, int, float64) {}
