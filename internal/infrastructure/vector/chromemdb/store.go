package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/core/ports"
)

// Store is an embedded vector store. With an empty path it lives in memory;
// otherwise every write is persisted under path.
type Store struct {
	collection *chromem.Collection
	embedder   ports.Embedder
}

func New(path, collection string, embedder ports.Embedder) (*Store, error) {
	if embedder == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create chromem store", errors.New("embedder is required"))
	}
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(collection, map[string]string{"hnsw:space": "cosine"}, embedder.EmbedQuery)
	if err != nil {
		return nil, fmt.Errorf("open chromem collection: %w", err)
	}
	return &Store{collection: col, embedder: embedder}, nil
}

func (s *Store) Add(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return domain.WrapError(domain.ErrInvalidInput, "embed chunks", fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)))
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for i, ch := range chunks {
		meta := domain.CopyMetadata(ch.Metadata)
		meta[domain.MetaChunkIndex] = strconv.Itoa(ch.Index)
		docs = append(docs, chromem.Document{
			ID:        ch.ID,
			Metadata:  meta,
			Embedding: vectors[i],
			Content:   ch.Text,
		})
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add chromem documents: %w", err)
	}
	return nil
}

// SimilaritySearch returns results ordered by descending similarity. The
// request is clamped to the collection size because chromem rejects larger
// result counts.
func (s *Store) SimilaritySearch(ctx context.Context, query string, topK int) ([]domain.RetrievedChunk, error) {
	n := topK
	if count := s.collection.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return []domain.RetrievedChunk{}, nil
	}
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := s.collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query chromem: %w", err)
	}

	out := make([]domain.RetrievedChunk, 0, len(results))
	for _, r := range results {
		out = append(out, domain.RetrievedChunk{
			ID:       r.ID,
			Source:   r.Metadata[domain.MetaSource],
			Text:     r.Content,
			Score:    float64(r.Similarity),
			Metadata: r.Metadata,
		})
	}
	return out, nil
}

func (s *Store) Count() int {
	return s.collection.Count()
}
