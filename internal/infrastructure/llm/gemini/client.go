package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/resilience"
)

// contentGenerator and batchEmbedder are the slices of the genai client the
// adapters use; tests replace them.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type batchEmbedder interface {
	embedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Client struct {
	client   *genai.Client
	executor *resilience.Executor
}

func New(ctx context.Context, apiKey string, executor *resilience.Executor) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create gemini client", errors.New("api key is empty"))
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{client: client, executor: executor}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

type ChatModel struct {
	model     contentGenerator
	modelName string
	executor  *resilience.Executor
}

func (c *Client) NewChatModel(name string, temperature float32) *ChatModel {
	model := c.client.GenerativeModel(name)
	model.SetTemperature(temperature)
	return &ChatModel{model: model, modelName: name, executor: c.executor}
}

// Call joins the text parts of the first candidate. No candidate, or one
// without text, gives a response without a result.
func (m *ChatModel) Call(ctx context.Context, prompt string) (*domain.ChatResponse, error) {
	resp, err := resilience.Do(ctx, m.executor, "gemini_generate", func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return m.model.GenerateContent(ctx, genai.Text(prompt))
	}, classifyGeminiError)
	if err != nil {
		return nil, resilience.WrapTemporary("gemini generate", err, classifyGeminiError)
	}

	out := &domain.ChatResponse{Model: m.modelName}
	if resp == nil {
		return out, nil
	}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return out, nil
	}
	cand := resp.Candidates[0]
	var parts []string
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				parts = append(parts, string(text))
			}
		}
	}
	text := strings.TrimSpace(strings.Join(parts, ""))
	if text == "" {
		return out, nil
	}
	out.Result = &domain.Generation{Output: text, FinishReason: cand.FinishReason.String()}
	return out, nil
}

type Embedder struct {
	embedder batchEmbedder
	executor *resilience.Executor
}

func (c *Client) NewEmbedder(name string) *Embedder {
	return &Embedder{embedder: &genaiBatchEmbedder{model: c.client.EmbeddingModel(name)}, executor: c.executor}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := resilience.Do(ctx, e.executor, "gemini_embed", func(ctx context.Context) ([][]float32, error) {
		return e.embedder.embedBatch(ctx, texts)
	}, classifyGeminiError)
	if err != nil {
		return nil, resilience.WrapTemporary("gemini embed", err, classifyGeminiError)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("gemini embed: vectors/texts mismatch: %d/%d", len(vectors), len(texts))
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

type genaiBatchEmbedder struct {
	model *genai.EmbeddingModel
}

func (g *genaiBatchEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	batch := g.model.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}
	resp, err := g.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("gemini embed: empty embedding at %d", i)
		}
		values := make([]float32, len(emb.Values))
		for j, v := range emb.Values {
			values[j] = float32(v)
		}
		out = append(out, values)
	}
	return out, nil
}

func classifyGeminiError(err error) resilience.ErrorClassification {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return resilience.ClassifyHTTPError(&resilience.HTTPStatusError{
			Service:    "gemini",
			StatusCode: apiErr.Code,
			Status:     http.StatusText(apiErr.Code),
		})
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "quota", "resource exhausted", "unavailable", "deadline"} {
		if strings.Contains(msg, marker) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
	}
	return resilience.ClassifyHTTPError(err)
}
