package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/kirillkom/proposal-rag/internal/config"
	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/core/usecase"
	"github.com/kirillkom/proposal-rag/internal/observability/metrics"
)

func newOllamaServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/embed":
			inputs, _ := req["input"].([]any)
			vectors := make([][]float32, 0, len(inputs))
			for _, in := range inputs {
				text, _ := in.(string)
				vectors = append(vectors, []float32{1, float32(len(text)%5 + 1), 0.5})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors})
		case "/api/generate":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model":             "test-model",
				"response":          "Generated proposal",
				"prompt_eval_count": 12,
				"eval_count":        3,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, ollamaURL string) config.Config {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("Solar roof installation for a public school."), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.md"), []byte("# Heat pumps\nRetrofit of a municipal office."), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	cfg := config.Default()
	cfg.Resource = root
	cfg.ChunkTokenizer = "word"
	cfg.VectorStore = config.VectorStoreChromem
	cfg.LedgerDriver = config.LedgerMemory
	cfg.OllamaURL = ollamaURL
	cfg.RetryMaxAttempts = 1
	return cfg
}

func TestNewWiresInProcessPipeline(t *testing.T) {
	server := newOllamaServer(t)
	cfg := testConfig(t, server.URL)
	httpMetrics := metrics.NewHTTPServerMetrics("api")

	app, err := New(context.Background(), cfg, Options{Service: "api", HTTPMetrics: httpMetrics})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	if app.Queue != nil {
		t.Fatalf("queue must stay disabled without NATS_URL")
	}
	if _, ok := app.Starter.(*usecase.IngestUseCase); !ok {
		t.Fatalf("expected in-process starter, got %T", app.Starter)
	}

	run, err := app.IngestOnStartup(context.Background())
	if err != nil {
		t.Fatalf("IngestOnStartup() error = %v", err)
	}
	if run.Status != domain.RunStatusCompleted || run.Resources != 2 || run.Chunks != 2 {
		t.Fatalf("unexpected run %+v", run)
	}
	stored, err := app.Runs.GetByID(context.Background(), run.ID)
	if err != nil || stored.Status != domain.RunStatusCompleted {
		t.Fatalf("run must be recorded in the ledger, got %+v err=%v", stored, err)
	}

	answer, err := app.Answer.Answer(context.Background(), "school roof")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Text != "Generated proposal" || len(answer.Sources) != 2 || answer.Degraded {
		t.Fatalf("unexpected answer %+v", answer)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.IndexBatchSize = 0
	if _, err := New(context.Background(), cfg, Options{Service: "test"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestNewUsesSQLiteLedger(t *testing.T) {
	server := newOllamaServer(t)
	cfg := testConfig(t, server.URL)
	cfg.LedgerDriver = config.LedgerSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "ledger", "runs.db")

	app, err := New(context.Background(), cfg, Options{Service: "ragctl"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	if _, err := app.IngestOnStartup(context.Background()); err != nil {
		t.Fatalf("IngestOnStartup() error = %v", err)
	}
	runs, err := app.Runs.ListRecent(context.Background(), 5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one persisted run, got %d err=%v", len(runs), err)
	}
	if _, err := os.Stat(cfg.SQLitePath); err != nil {
		t.Fatalf("sqlite file missing: %v", err)
	}
}

func TestStartupIngestionFailureIsReturned(t *testing.T) {
	server := newOllamaServer(t)
	cfg := testConfig(t, server.URL)
	cfg.Resource = filepath.Join(t.TempDir(), "missing")

	app, err := New(context.Background(), cfg, Options{Service: "api"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	if _, err := app.IngestOnStartup(context.Background()); !domain.IsKind(err, domain.ErrResourceResolution) {
		t.Fatalf("expected resource resolution failure, got %v", err)
	}
}

func TestSubscribeReindexWithoutQueue(t *testing.T) {
	app := &App{}
	err := app.SubscribeReindex(context.Background(), func(context.Context, domain.IngestRequest) error { return nil })
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input without NATS, got %v", err)
	}
}

func TestIngestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Resource = "/corpus"
	cfg.ScanRecursive = false
	cfg.ScanExtensions = []string{"pdf"}
	cfg.IndexBatchSize = 7
	cfg.IngestParseErrorPolicy = "skip"
	cfg.IngestParseWorkers = 4

	opts := ingestOptions(cfg)
	if opts.Root != "/corpus" || opts.Recursive || len(opts.Extensions) != 1 || opts.BatchSize != 7 ||
		opts.ParsePolicy != domain.ParseErrorSkip || opts.ParseWorkers != 4 {
		t.Fatalf("unexpected options %+v", opts)
	}
}
