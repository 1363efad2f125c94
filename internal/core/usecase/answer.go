package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/core/ports"
	"github.com/kirillkom/proposal-rag/internal/core/prompt"
)

const DefaultTopK = 2

// AnswerUseCase answers a question with the top-K stored chunks as sample
// proposals. It keeps no per-request state and is safe for concurrent use.
type AnswerUseCase struct {
	store    ports.VectorStore
	model    ports.ChatModel
	template *prompt.Template
	topK     int
	observer ports.QueryObserver
	now      func() time.Time
}

func NewAnswerUseCase(
	store ports.VectorStore,
	model ports.ChatModel,
	template *prompt.Template,
	topK int,
	observer ports.QueryObserver,
) (*AnswerUseCase, error) {
	if template == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create answer use case", errors.New("prompt template is required"))
	}
	if err := template.Require(prompt.SlotInput, prompt.SlotSampleProposals); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if observer == nil {
		observer = noopQueryObserver{}
	}
	return &AnswerUseCase{
		store:    store,
		model:    model,
		template: template,
		topK:     topK,
		observer: observer,
		now:      time.Now,
	}, nil
}

func (uc *AnswerUseCase) TopK() int {
	return uc.topK
}

func (uc *AnswerUseCase) Answer(ctx context.Context, question string) (*domain.Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("question is empty"))
	}
	started := uc.now()

	answer := &domain.Answer{Sources: []domain.RetrievedChunk{}}
	sources, err := uc.Retrieve(ctx, question, uc.topK)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// Retrieval failures degrade to an empty context instead of failing the request.
		slog.Warn("retrieval_degraded", "error", err.Error())
		answer.Degraded = true
		answer.Warning = "similarity search failed; answered without sample proposals"
	} else {
		answer.Sources = sources
	}

	texts := make([]string, 0, len(answer.Sources))
	for _, src := range answer.Sources {
		texts = append(texts, src.Text)
	}
	assembled, err := uc.template.Render(map[string]string{
		prompt.SlotInput:           question,
		prompt.SlotSampleProposals: strings.Join(texts, "\n"),
	})
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}
	slog.Debug("prompt_assembled", "prompt", assembled, "sources", len(answer.Sources))

	resp, err := uc.model.Call(ctx, assembled)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, domain.WrapError(domain.ErrModel, "call chat model", err)
	}

	if resp == nil || resp.Result == nil || strings.TrimSpace(resp.Result.Output) == "" {
		answer.Status = domain.AnswerStatusNoAnswer
	} else {
		answer.Status = domain.AnswerStatusAnswered
		answer.Text = resp.Result.Output
	}

	uc.observer.AnswerObserved(len(answer.Sources), answer.Degraded, answer.Status, uc.now().Sub(started).Seconds())
	return answer, nil
}

// Retrieve returns up to topK chunks in store order. topK <= 0 uses the
// configured default.
func (uc *AnswerUseCase) Retrieve(ctx context.Context, question string, topK int) ([]domain.RetrievedChunk, error) {
	if strings.TrimSpace(question) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("question is empty"))
	}
	if topK <= 0 {
		topK = uc.topK
	}
	chunks, err := uc.store.SimilaritySearch(ctx, question, topK)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "similarity search", err)
	}
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	if chunks == nil {
		chunks = []domain.RetrievedChunk{}
	}
	return chunks, nil
}

type noopQueryObserver struct{}

func (noopQueryObserver) AnswerObserved(int, bool, domain.AnswerStatus, float64) {}
