package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/proposal-rag/internal/config"
	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/observability/metrics"
)

type proposalFake struct {
	answer    *domain.Answer
	err       error
	questions []string
}

func (f *proposalFake) Answer(_ context.Context, question string) (*domain.Answer, error) {
	f.questions = append(f.questions, question)
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(question) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("question is empty"))
	}
	if f.answer != nil {
		return f.answer, nil
	}
	return &domain.Answer{Text: "Proposal for " + question, Status: domain.AnswerStatusAnswered}, nil
}

func (f *proposalFake) Retrieve(context.Context, string, int) ([]domain.RetrievedChunk, error) {
	return nil, nil
}

type starterFake struct {
	err  error
	reqs []domain.IngestRequest
}

func (f *starterFake) Start(_ context.Context, req domain.IngestRequest) (*domain.IngestionRun, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.IngestionRun{ID: "run-1", Root: "/corpus", Trigger: req.Trigger, Status: domain.RunStatusRunning, StartedAt: time.Now()}, nil
}

type runsFake struct {
	runs []domain.IngestionRun
	err  error
	last int
}

func (f *runsFake) GetByID(_ context.Context, id string) (*domain.IngestionRun, error) {
	for _, run := range f.runs {
		if run.ID == id {
			return &run, nil
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "get ingestion run", errors.New(id))
}

func (f *runsFake) ListRecent(_ context.Context, limit int) ([]domain.IngestionRun, error) {
	f.last = limit
	return f.runs, f.err
}

func newTestHandler(t *testing.T, cfg config.Config, proposals *proposalFake, starter *starterFake, runs *runsFake) http.Handler {
	t.Helper()
	if proposals == nil {
		proposals = &proposalFake{}
	}
	if starter == nil {
		starter = &starterFake{}
	}
	if runs == nil {
		runs = &runsFake{}
	}
	router, err := NewRouter(cfg, starter, proposals, runs)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return router.Handler()
}

func postJSON(handler http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeError(t *testing.T, res *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var out errorResponse
	if err := json.NewDecoder(bytes.NewReader(res.Body.Bytes())).Decode(&out); err != nil {
		t.Fatalf("decode error body %q: %v", res.Body.String(), err)
	}
	return out
}

func TestHealthzEndpoint(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, nil, nil, nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestGenerateProposalReturnsPlainText(t *testing.T) {
	proposals := &proposalFake{}
	handler := newTestHandler(t, config.Config{}, proposals, nil, nil)

	res := postJSON(handler, "/proposal/generate", `{"question":"solar roof for a school"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if ct := res.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain, got %q", ct)
	}
	if res.Body.String() != "Proposal for solar roof for a school" {
		t.Fatalf("unexpected body %q", res.Body.String())
	}
	if len(proposals.questions) != 1 || proposals.questions[0] != "solar roof for a school" {
		t.Fatalf("question must be passed through raw, got %v", proposals.questions)
	}
}

func TestGenerateProposalNoAnswerMarker(t *testing.T) {
	proposals := &proposalFake{answer: &domain.Answer{Status: domain.AnswerStatusNoAnswer, Degraded: true}}
	handler := newTestHandler(t, config.Config{}, proposals, nil, nil)

	res := postJSON(handler, "/proposal/generate", `{"question":"anything"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Body.String() != domain.NoAnswerText {
		t.Fatalf("expected no-answer marker, got %q", res.Body.String())
	}
	if res.Header().Get("X-Retrieval-Degraded") != "true" {
		t.Fatalf("expected degraded header")
	}
}

func TestGenerateProposalRejectsInvalidQuestions(t *testing.T) {
	proposals := &proposalFake{}
	handler := newTestHandler(t, config.Config{}, proposals, nil, nil)

	for name, body := range map[string]string{
		"missing":    `{}`,
		"empty":      `{"question":""}`,
		"wrong type": `{"question":42}`,
		"blank":      `{"question":"   "}`,
	} {
		t.Run(name, func(t *testing.T) {
			res := postJSON(handler, "/proposal/generate", body)
			if res.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", res.Code, res.Body.String())
			}
			if decodeError(t, res).Error == "" {
				t.Fatalf("expected error message")
			}
		})
	}
	if len(proposals.questions) != 1 {
		t.Fatalf("only the schema-valid blank question should reach the service, got %v", proposals.questions)
	}
}

func TestAnswerProposalJSON(t *testing.T) {
	proposals := &proposalFake{answer: &domain.Answer{
		Text:   "Draft",
		Status: domain.AnswerStatusAnswered,
		Sources: []domain.RetrievedChunk{
			{ID: "c1", Source: "/corpus/a.md", Text: "past proposal", Score: 0.9},
		},
	}}
	handler := newTestHandler(t, config.Config{}, proposals, nil, nil)

	res := postJSON(handler, "/v1/proposals", `{"question":"q"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var got domain.Answer
	if err := json.Unmarshal(res.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Text != "Draft" || got.Status != domain.AnswerStatusAnswered || len(got.Sources) != 1 || got.Degraded {
		t.Fatalf("unexpected answer %+v", got)
	}
}

func TestAnswerProposalEmptySourcesIsArray(t *testing.T) {
	proposals := &proposalFake{answer: &domain.Answer{Text: "x", Status: domain.AnswerStatusAnswered}}
	handler := newTestHandler(t, config.Config{}, proposals, nil, nil)

	res := postJSON(handler, "/v1/proposals", `{"question":"q"}`)
	if !strings.Contains(res.Body.String(), `"sources":[]`) {
		t.Fatalf("expected empty sources array, got %s", res.Body.String())
	}
}

func TestProposalErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"model", domain.WrapError(domain.ErrModel, "call chat model", errors.New("boom")), http.StatusBadGateway},
		{"temporary", domain.WrapError(domain.ErrModel, "call chat model", domain.WrapError(domain.ErrTemporary, "ollama", errors.New("503"))), http.StatusServiceUnavailable},
		{"unknown", errors.New("surprise"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestHandler(t, config.Config{}, &proposalFake{err: tc.err}, nil, nil)
			res := postJSON(handler, "/proposal/generate", `{"question":"q"}`)
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, res.Code)
			}
			if body := decodeError(t, res); strings.Contains(body.Error, "boom") || body.RequestID == "" {
				t.Fatalf("unexpected error body %+v", body)
			}
		})
	}
}

func TestStartIngestionAccepted(t *testing.T) {
	starter := &starterFake{}
	handler := newTestHandler(t, config.Config{}, nil, starter, nil)

	res := postJSON(handler, "/v1/ingestions", `{"root":"/srv/proposals","extensions":["pdf"],"batch_size":10}`)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	if res.Header().Get("Location") != "/v1/ingestions/run-1" {
		t.Fatalf("unexpected Location %q", res.Header().Get("Location"))
	}
	if len(starter.reqs) != 1 || starter.reqs[0].Root != "/srv/proposals" || starter.reqs[0].Trigger != "api" || starter.reqs[0].BatchSize != 10 {
		t.Fatalf("unexpected request %+v", starter.reqs)
	}
}

func TestStartIngestionWithoutBody(t *testing.T) {
	starter := &starterFake{}
	handler := newTestHandler(t, config.Config{}, nil, starter, nil)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/ingestions", http.NoBody))
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
}

func TestStartIngestionErrors(t *testing.T) {
	conflict := newTestHandler(t, config.Config{}, nil, &starterFake{err: domain.WrapError(domain.ErrConflict, "start", errors.New("busy"))}, nil)
	if res := postJSON(conflict, "/v1/ingestions", `{}`); res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}

	handler := newTestHandler(t, config.Config{}, nil, nil, nil)
	if res := postJSON(handler, "/v1/ingestions", `{"batch_size":0}`); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for batch_size 0, got %d", res.Code)
	}
	if res := postJSON(handler, "/v1/ingestions", `{"run_id":"forced"}`); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", res.Code)
	}
}

func TestGetIngestion(t *testing.T) {
	runs := &runsFake{runs: []domain.IngestionRun{{ID: "r1", Root: "/c", Status: domain.RunStatusCompleted, StartedAt: time.Now()}}}
	handler := newTestHandler(t, config.Config{}, nil, nil, runs)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/ingestions/r1", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/ingestions/missing", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestListIngestions(t *testing.T) {
	runs := &runsFake{}
	handler := newTestHandler(t, config.Config{}, nil, nil, runs)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/ingestions?limit=5", nil))
	if res.Code != http.StatusOK || runs.last != 5 {
		t.Fatalf("expected 200 with limit 5, got %d limit=%d", res.Code, runs.last)
	}
	if !strings.Contains(res.Body.String(), `"items":[]`) {
		t.Fatalf("expected empty items array, got %s", res.Body.String())
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/ingestions?limit=abc", nil))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", res.Code)
	}
}

func TestOpenAPIDocumentServed(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, nil, nil, nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	body, _ := io.ReadAll(res.Body)
	if res.Code != http.StatusOK || !bytes.Contains(body, []byte("/proposal/generate")) {
		t.Fatalf("unexpected openapi response %d", res.Code)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-123")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Header().Get(requestIDHeader) != "req-123" {
		t.Fatalf("expected request id echo, got %q", res.Header().Get(requestIDHeader))
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestMetricsEndpointWhenConfigured(t *testing.T) {
	router, err := NewRouter(config.Config{}, &starterFake{}, &proposalFake{}, &runsFake{})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	handler := router.WithMetrics(metrics.NewHTTPServerMetrics("api")).Handler()

	postJSON(handler, "/proposal/generate", `{"question":"q"}`)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "proposal_rag_http_requests_total") {
		t.Fatalf("expected metrics exposition, got %d", res.Code)
	}
}

func TestUnknownMethodIsRejected(t *testing.T) {
	handler := newTestHandler(t, config.Config{}, nil, nil, nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/proposal/generate", nil))
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}
