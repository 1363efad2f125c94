package domain

type RetrievedChunk struct {
	ID       string            `json:"id"`
	Source   string            `json:"source"`
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Generation is the result object of a chat model response.
type Generation struct {
	Output       string `json:"output"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// ChatResponse carries an optional result; Result is nil when the model
// produced nothing usable.
type ChatResponse struct {
	Result           *Generation `json:"result,omitempty"`
	Model            string      `json:"model,omitempty"`
	PromptTokens     int         `json:"prompt_tokens,omitempty"`
	CompletionTokens int         `json:"completion_tokens,omitempty"`
}

type AnswerStatus string

const (
	AnswerStatusAnswered AnswerStatus = "answered"
	AnswerStatusNoAnswer AnswerStatus = "no_answer"
)

// NoAnswerText is returned to plain-text callers when the model produced no output.
const NoAnswerText = "No answer was generated for this question."

type Answer struct {
	Text     string           `json:"answer"`
	Status   AnswerStatus     `json:"status"`
	Sources  []RetrievedChunk `json:"sources"`
	Degraded bool             `json:"degraded"`
	Warning  string           `json:"warning,omitempty"`
}

func (a *Answer) PlainText() string {
	if a == nil || a.Status == AnswerStatusNoAnswer {
		return NoAnswerText
	}
	return a.Text
}
