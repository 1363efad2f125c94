package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	chatModel  string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
	options    map[string]any
}

func New(baseURL, chatModel, embedModel string, timeout time.Duration, executor *resilience.Executor) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		chatModel:  chatModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

// WithTemperature sets the sampling temperature sent with every chat call.
func (c *Client) WithTemperature(t float64) *Client {
	if c.options == nil {
		c.options = map[string]any{}
	}
	c.options["temperature"] = t
	return c
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.call(ctx, "ollama_embed", "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: vectors/texts mismatch: %d/%d", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vectors[0], nil
}

// ChatModel sends an assembled prompt to /api/generate. An empty or missing
// response field yields a ChatResponse without a result.
type ChatModel struct {
	client *Client
}

func NewChatModel(client *Client) *ChatModel {
	return &ChatModel{client: client}
}

func (m *ChatModel) Call(ctx context.Context, prompt string) (*domain.ChatResponse, error) {
	request := map[string]any{
		"model":  m.client.chatModel,
		"prompt": prompt,
		"stream": false,
	}
	if len(m.client.options) > 0 {
		request["options"] = m.client.options
	}

	var response struct {
		Model           string  `json:"model"`
		Response        *string `json:"response"`
		DoneReason      string  `json:"done_reason"`
		PromptEvalCount int     `json:"prompt_eval_count"`
		EvalCount       int     `json:"eval_count"`
	}
	if err := m.client.call(ctx, "ollama_generate", "/api/generate", request, &response, "generate"); err != nil {
		return nil, err
	}

	out := &domain.ChatResponse{
		Model:            response.Model,
		PromptTokens:     response.PromptEvalCount,
		CompletionTokens: response.EvalCount,
	}
	if response.Response != nil && strings.TrimSpace(*response.Response) != "" {
		out.Result = &domain.Generation{
			Output:       strings.TrimSpace(*response.Response),
			FinishReason: response.DoneReason,
		}
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, breakerOp, path string, payload, out any, operation string) error {
	post := func(ctx context.Context) error {
		return c.postJSON(ctx, path, payload, out, operation)
	}
	var err error
	if c.executor == nil {
		err = post(ctx)
	} else {
		err = c.executor.Execute(ctx, breakerOp, post, resilience.ClassifyHTTPError)
	}
	return resilience.WrapTemporary("ollama "+operation, err, resilience.ClassifyHTTPError)
}
