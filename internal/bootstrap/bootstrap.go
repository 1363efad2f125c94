package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/proposal-rag/internal/config"
	"github.com/kirillkom/proposal-rag/internal/core/domain"
	"github.com/kirillkom/proposal-rag/internal/core/ports"
	"github.com/kirillkom/proposal-rag/internal/core/prompt"
	"github.com/kirillkom/proposal-rag/internal/core/usecase"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/chunking"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/parser"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/queue/nats"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/repository/memory"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/resilience"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/resource/filesystem"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/resource/remote"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/vector/chromemdb"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/proposal-rag/internal/infrastructure/watch"
	"github.com/kirillkom/proposal-rag/internal/observability/metrics"
)

// Options carries the per-binary observability wiring.
type Options struct {
	Service string
	// HTTPMetrics receives query and token metrics; its registry also
	// collects ingestion and resilience metrics unless Registerer is set.
	HTTPMetrics *metrics.HTTPServerMetrics
	Registerer  prometheus.Registerer
}

type App struct {
	Config config.Config

	Resolver *filesystem.Resolver
	Parser   *parser.Registry
	Splitter *chunking.Splitter
	Store    ports.VectorStore
	Runs     ports.IngestionRunStore
	Queue    *nats.Queue

	Ingest  *usecase.IngestUseCase
	Answer  *usecase.AnswerUseCase
	Starter ports.IngestionStarter

	closers []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := opts.Registerer
	if reg == nil && opts.HTTPMetrics != nil {
		reg = opts.HTTPMetrics.Registerer()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	app := &App{Config: cfg}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	executor := resilience.NewExecutor(cfg.Resilience()).
		WithObserver(metrics.NewResilienceMetrics(opts.Service, reg))

	embedder, chat, err := app.newModels(ctx, cfg, executor)
	if err != nil {
		return nil, err
	}
	if opts.HTTPMetrics != nil {
		chat = metrics.InstrumentChatModel(chat, opts.HTTPMetrics)
	}

	if app.Store, err = newVectorStore(cfg, embedder, executor); err != nil {
		return nil, err
	}
	if err := app.openLedger(ctx, cfg); err != nil {
		return nil, err
	}

	var events ports.IngestionEvents
	if cfg.NATSURL != "" {
		queue, err := nats.New(cfg.NATSURL, cfg.NATSReindexSubject, nats.Options{
			Name:               opts.Service,
			EventsSubject:      cfg.NATSEventsSubject,
			ResilienceExecutor: executor,
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.Queue = queue
		app.closers = append(app.closers, queue.Close)
		events = queue
	}

	tokenizer, err := chunking.NewTokenizer(cfg.ChunkTokenizer)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "init tokenizer", err)
	}
	app.Splitter = chunking.NewSplitter(tokenizer, cfg.ChunkSize, cfg.ChunkOverlap, cfg.ChunkMinChars)
	app.Resolver = filesystem.NewResolver()
	app.Parser = parser.NewRegistry(map[domain.ResourceKind]ports.ResourceOpener{
		domain.ResourceFile:   localfs.New(""),
		domain.ResourceRemote: remote.NewOpener(time.Duration(cfg.RemoteFetchTimeoutSecs)*time.Second, cfg.IngestMaxResourceBytes),
	}, cfg.IngestMaxResourceBytes)

	app.Ingest = usecase.NewIngestUseCase(
		app.Resolver,
		app.Parser,
		app.Splitter,
		app.Store,
		app.Runs,
		events,
		metrics.NewIngestionMetrics(opts.Service, reg),
		ingestOptions(cfg),
	)

	tmpl, err := prompt.Load(cfg.PromptTemplatePath, prompt.SlotInput, prompt.SlotSampleProposals)
	if err != nil {
		return nil, fmt.Errorf("load prompt template: %w", err)
	}
	var queryObserver ports.QueryObserver
	if opts.HTTPMetrics != nil {
		queryObserver = opts.HTTPMetrics
	}
	app.Answer, err = usecase.NewAnswerUseCase(app.Store, chat, tmpl, cfg.RAGTopK, queryObserver)
	if err != nil {
		return nil, fmt.Errorf("init answer use case: %w", err)
	}

	app.Starter = app.Ingest
	if app.Queue != nil {
		app.Starter = usecase.NewQueuedIngestor(app.Queue, app.Runs, cfg.Resource)
	}

	slog.Info("bootstrap_completed",
		"llm_provider", cfg.LLMProvider,
		"vector_store", cfg.VectorStore,
		"ledger", cfg.LedgerDriver,
		"tokenizer", app.Splitter.Tokenizer(),
		"nats_enabled", app.Queue != nil,
	)
	return app, nil
}

func (a *App) newModels(ctx context.Context, cfg config.Config, executor *resilience.Executor) (ports.Embedder, ports.ChatModel, error) {
	switch cfg.LLMProvider {
	case config.LLMProviderGemini:
		client, err := gemini.New(ctx, cfg.GeminiAPIKey, executor)
		if err != nil {
			return nil, nil, fmt.Errorf("init gemini client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return client.NewEmbedder(cfg.GeminiEmbedModel), client.NewChatModel(cfg.GeminiChatModel, float32(cfg.LLMTemperature)), nil
	default:
		client := ollama.New(
			cfg.OllamaURL,
			cfg.OllamaChatModel,
			cfg.OllamaEmbedModel,
			time.Duration(cfg.OllamaTimeoutSecs)*time.Second,
			executor,
		).WithTemperature(cfg.LLMTemperature)
		return ollama.NewEmbedder(client), ollama.NewChatModel(client), nil
	}
}

func newVectorStore(cfg config.Config, embedder ports.Embedder, executor *resilience.Executor) (ports.VectorStore, error) {
	switch cfg.VectorStore {
	case config.VectorStoreChromem:
		store, err := chromemdb.New(cfg.ChromemPath, cfg.ChromemCollection, embedder)
		if err != nil {
			return nil, fmt.Errorf("init chromem store: %w", err)
		}
		return store, nil
	default:
		return qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, embedder, executor), nil
	}
}

func (a *App) openLedger(ctx context.Context, cfg config.Config) error {
	switch cfg.LedgerDriver {
	case config.LedgerPostgres:
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		repo := postgres.NewRunRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		a.Runs = repo
	case config.LedgerSQLite:
		repo, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite ledger: %w", err)
		}
		a.closers = append(a.closers, func() { _ = repo.Close() })
		a.Runs = repo
	default:
		a.Runs = memory.NewRunRepository()
	}
	return nil
}

func ingestOptions(cfg config.Config) usecase.IngestOptions {
	opts := usecase.DefaultIngestOptions()
	opts.Root = cfg.Resource
	opts.Recursive = cfg.ScanRecursive
	opts.Extensions = append([]string(nil), cfg.ScanExtensions...)
	opts.BatchSize = cfg.IndexBatchSize
	opts.ParsePolicy = domain.ParseErrorPolicy(cfg.IngestParseErrorPolicy)
	opts.ParseWorkers = cfg.IngestParseWorkers
	return opts
}

// NewWatcher re-runs ingestion of the configured root when files change.
func (a *App) NewWatcher() (*watch.Watcher, error) {
	cfg := a.Config
	return watch.New(cfg.Resource, cfg.ScanRecursive, cfg.ScanExtensions, cfg.WatchDebounce(), func(ctx context.Context) error {
		_, err := a.Ingest.Run(ctx, domain.IngestRequest{Trigger: "watch"})
		return err
	})
}

// IngestOnStartup runs the initial ingestion. A failed run is returned as an
// error so the caller can refuse to serve an unindexed corpus.
func (a *App) IngestOnStartup(ctx context.Context) (*domain.IngestionRun, error) {
	run, err := a.Ingest.Run(ctx, domain.IngestRequest{Trigger: "startup"})
	if err != nil {
		return run, fmt.Errorf("startup ingestion: %w", err)
	}
	return run, nil
}

// Close waits for background runs and releases resources in reverse order
// of acquisition.
func (a *App) Close() {
	if a.Ingest != nil {
		a.Ingest.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

var errNoQueue = errors.New("nats is not configured")

// SubscribeReindex runs ingestion for every reindex request from the queue
// until ctx is cancelled.
func (a *App) SubscribeReindex(ctx context.Context, handle func(context.Context, domain.IngestRequest) error) error {
	if a.Queue == nil {
		return domain.WrapError(domain.ErrInvalidInput, "subscribe reindex requests", errNoQueue)
	}
	return a.Queue.SubscribeReindexRequests(ctx, handle)
}
