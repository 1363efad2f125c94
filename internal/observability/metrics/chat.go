package metrics

import (
	"context"

	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/core/ports"
)

type tokenRecorder interface {
	RecordTokenUsage(model string, promptTokens, completionTokens int)
}

// InstrumentChatModel records the token usage each response reports.
func InstrumentChatModel(model ports.ChatModel, recorder tokenRecorder) ports.ChatModel {
	if recorder == nil {
		return model
	}
	return &instrumentedChatModel{next: model, recorder: recorder}
}

type instrumentedChatModel struct {
	next     ports.ChatModel
	recorder tokenRecorder
}

func (m *instrumentedChatModel) Call(ctx context.Context, prompt string) (*domain.ChatResponse, error) {
	resp, err := m.next.Call(ctx, prompt)
	if err == nil && resp != nil {
		m.recorder.RecordTokenUsage(resp.Model, resp.PromptTokens, resp.CompletionTokens)
	}
	return resp, err
}
