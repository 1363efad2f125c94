package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/core/ports"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/resilience"
)

const (
	payloadText     = "text"
	payloadSource   = "source"
	payloadIndex    = "chunk_index"
	payloadMetadata = "metadata"
)

// Client is a dense vector store over the Qdrant REST API. It embeds chunk
// text on write and the question on search.
type Client struct {
	baseURL    string
	collection string
	distance   string
	httpClient *http.Client
	embedder   ports.Embedder
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string, embedder ports.Embedder, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		distance:   "Cosine",
		httpClient: &http.Client{Timeout: 60 * time.Second},
		embedder:   embedder,
		executor:   executor,
	}
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Add embeds and upserts one batch. Point IDs are the chunk IDs, so writing
// the same chunk twice overwrites instead of duplicating.
func (c *Client) Add(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return domain.WrapError(domain.ErrInvalidInput, "embed chunks", fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)))
	}

	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	points := make([]point, 0, len(chunks))
	for i, ch := range chunks {
		points = append(points, point{
			ID:     ch.ID,
			Vector: vectors[i],
			Payload: map[string]any{
				payloadText:     ch.Text,
				payloadSource:   ch.Metadata[domain.MetaSource],
				payloadIndex:    ch.Index,
				payloadMetadata: ch.Metadata,
			},
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	err = c.do(ctx, "qdrant_upsert", http.MethodPut, url, map[string]any{"points": points}, nil, "upsert")
	return resilience.WrapTemporary("qdrant upsert", err, resilience.ClassifyHTTPError)
}

// SimilaritySearch returns at most topK chunks in the order Qdrant ranks
// them. A missing collection means nothing was indexed yet.
func (c *Client) SimilaritySearch(ctx context.Context, query string, topK int) ([]domain.RetrievedChunk, error) {
	if topK <= 0 {
		return []domain.RetrievedChunk{}, nil
	}
	vector, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	reqBody := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var searchResp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	err = c.do(ctx, "qdrant_search", http.MethodPost, url, reqBody, &searchResp, "search")
	if err != nil {
		if isNotFound(err) {
			return []domain.RetrievedChunk{}, nil
		}
		return nil, resilience.WrapTemporary("qdrant search", err, resilience.ClassifyHTTPError)
	}

	out := make([]domain.RetrievedChunk, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.RetrievedChunk{
			ID:       fmt.Sprintf("%v", r.ID),
			Source:   getStringPayload(r.Payload, payloadSource),
			Text:     getStringPayload(r.Payload, payloadText),
			Score:    r.Score,
			Metadata: getMetadataPayload(r.Payload),
		})
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": c.distance,
		},
	}
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err := c.do(ctx, "qdrant_ensure_collection", http.MethodPut, url, reqBody, nil, "ensure collection")
	// 200/201 for create, 409 if already exists (depends on version/config).
	if err != nil && !isConflict(err) {
		return resilience.WrapTemporary("qdrant ensure collection", err, resilience.ClassifyHTTPError)
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func (c *Client) do(ctx context.Context, breakerOp, method, url string, payload, out any, operation string) error {
	send := func(ctx context.Context) error {
		return c.send(ctx, method, url, payload, out, operation)
	}
	if c.executor == nil {
		return send(ctx)
	}
	return c.executor.Execute(ctx, breakerOp, send, resilience.ClassifyHTTPError)
}

func (c *Client) send(ctx context.Context, method, url string, payload, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &resilience.HTTPStatusError{
			Service:    "qdrant",
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

func getMetadataPayload(payload map[string]any) map[string]string {
	raw, ok := payload[payloadMetadata].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k := range raw {
		out[k] = getStringPayload(raw, k)
	}
	return out
}
