package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/getkin/kin-openapi/routers"

	"github.com/kirillkom/proposal-rag/internal/config"
	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/core/ports"
	"github.com/kirillkom/proposal-rag/internal/observability/metrics"
)

const maxRequestBodyBytes = 1 << 20

type Router struct {
	cfg       config.Config
	ingestor  ports.IngestionStarter
	proposals ports.ProposalService
	runs      ports.IngestionReader
	metrics   *metrics.HTTPServerMetrics
	validator routers.Router
}

// NewRouter fails only when the embedded OpenAPI document is invalid.
func NewRouter(
	cfg config.Config,
	ingestor ports.IngestionStarter,
	proposals ports.ProposalService,
	runs ports.IngestionReader,
) (*Router, error) {
	_, validator, err := loadOpenAPI()
	if err != nil {
		return nil, err
	}
	return &Router{
		cfg:       cfg,
		ingestor:  ingestor,
		proposals: proposals,
		runs:      runs,
		validator: validator,
	}, nil
}

func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.yaml", rt.openAPI)
	mux.HandleFunc("POST /proposal/generate", rt.generateProposal)
	mux.HandleFunc("POST /v1/proposals", rt.answerProposal)
	mux.HandleFunc("POST /v1/ingestions", rt.startIngestion)
	mux.HandleFunc("GET /v1/ingestions", rt.listIngestions)
	mux.HandleFunc("GET /v1/ingestions/{id}", rt.getIngestion)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = requestValidationMiddleware(rt.validator, mux)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.BackpressureWait(), rt.onReject)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.onReject)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) onReject(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejected(reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(OpenAPIDocument())
}

type questionRequest struct {
	Question string `json:"question"`
}

func (rt *Router) decodeQuestion(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req questionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return "", false
	}
	return req.Question, true
}

// generateProposal keeps the plain-text contract: the body is the proposal,
// or a fixed marker when the model returned nothing.
func (rt *Router) generateProposal(w http.ResponseWriter, r *http.Request) {
	question, ok := rt.decodeQuestion(w, r)
	if !ok {
		return
	}
	answer, err := rt.proposals.Answer(r.Context(), question)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	annotateAnswer(r, answer)
	if answer.Degraded {
		w.Header().Set("X-Retrieval-Degraded", "true")
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, answer.PlainText())
}

func (rt *Router) answerProposal(w http.ResponseWriter, r *http.Request) {
	question, ok := rt.decodeQuestion(w, r)
	if !ok {
		return
	}
	answer, err := rt.proposals.Answer(r.Context(), question)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	annotateAnswer(r, answer)
	if answer.Sources == nil {
		answer.Sources = []domain.RetrievedChunk{}
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) startIngestion(w http.ResponseWriter, r *http.Request) {
	var req domain.IngestRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid json")
			return
		}
	}
	// Callers pick what to ingest, not the run identity.
	req.RunID = ""
	req.Trigger = "api"

	run, err := rt.ingestor.Start(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	annotate(r, "run_id", run.ID, "run_status", run.Status)
	w.Header().Set("Location", "/v1/ingestions/"+run.ID)
	writeJSON(w, http.StatusAccepted, run)
}

func (rt *Router) listIngestions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := rt.runs.ListRecent(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if runs == nil {
		runs = []domain.IngestionRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": runs})
}

func (rt *Router) getIngestion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := rt.runs.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func annotateAnswer(r *http.Request, answer *domain.Answer) {
	if answer == nil {
		return
	}
	annotate(r, "answer_status", answer.Status, "sources", len(answer.Sources), "degraded", answer.Degraded)
}

func retryAfterSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

var errOverloaded = errors.New("server is overloaded, retry later")
