package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/proposal-rag/internal/infrastructure/resource/filesystem"
)

// fileConfig mirrors the property tree of a config file. Pointer fields
// distinguish "absent" from zero values so the file only overrides what it sets.
type fileConfig struct {
	App struct {
		Resource *string `yaml:"resource" toml:"resource"`
		Scan     struct {
			Recursive  *bool   `yaml:"recursive" toml:"recursive"`
			Extensions *string `yaml:"extensions" toml:"extensions"`
		} `yaml:"scan" toml:"scan"`
		Index struct {
			BatchSize *int `yaml:"batch_size" toml:"batch_size"`
		} `yaml:"index" toml:"index"`
	} `yaml:"app" toml:"app"`

	Ingest struct {
		OnStartup        *bool   `yaml:"on_startup" toml:"on_startup"`
		ParseErrorPolicy *string `yaml:"parse_error_policy" toml:"parse_error_policy"`
		ParseWorkers     *int    `yaml:"parse_workers" toml:"parse_workers"`
		Watch            *bool   `yaml:"watch" toml:"watch"`
		WatchDebounceMS  *int    `yaml:"watch_debounce_ms" toml:"watch_debounce_ms"`
	} `yaml:"ingest" toml:"ingest"`

	Chunking struct {
		Tokenizer *string `yaml:"tokenizer" toml:"tokenizer"`
		Size      *int    `yaml:"size" toml:"size"`
		Overlap   *int    `yaml:"overlap" toml:"overlap"`
		MinChars  *int    `yaml:"min_chars" toml:"min_chars"`
	} `yaml:"chunking" toml:"chunking"`

	Prompt struct {
		TemplatePath *string `yaml:"template_path" toml:"template_path"`
	} `yaml:"prompt" toml:"prompt"`

	VectorStore struct {
		Provider *string `yaml:"provider" toml:"provider"`
		TopK     *int    `yaml:"top_k" toml:"top_k"`
		Qdrant   struct {
			URL        *string `yaml:"url" toml:"url"`
			Collection *string `yaml:"collection" toml:"collection"`
		} `yaml:"qdrant" toml:"qdrant"`
		Chromem struct {
			Path       *string `yaml:"path" toml:"path"`
			Collection *string `yaml:"collection" toml:"collection"`
		} `yaml:"chromem" toml:"chromem"`
	} `yaml:"vectorstore" toml:"vectorstore"`

	LLM struct {
		Provider    *string  `yaml:"provider" toml:"provider"`
		Temperature *float64 `yaml:"temperature" toml:"temperature"`
		Ollama      struct {
			URL        *string `yaml:"url" toml:"url"`
			ChatModel  *string `yaml:"chat_model" toml:"chat_model"`
			EmbedModel *string `yaml:"embed_model" toml:"embed_model"`
		} `yaml:"ollama" toml:"ollama"`
		Gemini struct {
			ChatModel  *string `yaml:"chat_model" toml:"chat_model"`
			EmbedModel *string `yaml:"embed_model" toml:"embed_model"`
		} `yaml:"gemini" toml:"gemini"`
	} `yaml:"llm" toml:"llm"`

	Ledger struct {
		Driver     *string `yaml:"driver" toml:"driver"`
		SQLitePath *string `yaml:"sqlite_path" toml:"sqlite_path"`
	} `yaml:"ledger" toml:"ledger"`

	NATS struct {
		URL            *string `yaml:"url" toml:"url"`
		ReindexSubject *string `yaml:"reindex_subject" toml:"reindex_subject"`
		EventsSubject  *string `yaml:"events_subject" toml:"events_subject"`
	} `yaml:"nats" toml:"nats"`

	API struct {
		Port               *string  `yaml:"port" toml:"port"`
		RateLimitRPS       *float64 `yaml:"rate_limit_rps" toml:"rate_limit_rps"`
		RateLimitBurst     *int     `yaml:"rate_limit_burst" toml:"rate_limit_burst"`
		MaxInFlight        *int     `yaml:"max_in_flight" toml:"max_in_flight"`
		BackpressureWaitMS *int     `yaml:"backpressure_wait_ms" toml:"backpressure_wait_ms"`
	} `yaml:"api" toml:"api"`

	Log struct {
		Level *string `yaml:"level" toml:"level"`
	} `yaml:"log" toml:"log"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	fc.apply(cfg)
	return nil
}

// API keys and DSNs come only from the environment.
func (fc *fileConfig) apply(cfg *Config) {
	set(&cfg.Resource, fc.App.Resource)
	set(&cfg.ScanRecursive, fc.App.Scan.Recursive)
	if fc.App.Scan.Extensions != nil {
		cfg.ScanExtensions = filesystem.ParseExtensions(*fc.App.Scan.Extensions)
	}
	set(&cfg.IndexBatchSize, fc.App.Index.BatchSize)

	set(&cfg.IngestOnStartup, fc.Ingest.OnStartup)
	set(&cfg.IngestParseErrorPolicy, fc.Ingest.ParseErrorPolicy)
	set(&cfg.IngestParseWorkers, fc.Ingest.ParseWorkers)
	set(&cfg.IngestWatch, fc.Ingest.Watch)
	set(&cfg.IngestWatchDebounceMS, fc.Ingest.WatchDebounceMS)

	set(&cfg.ChunkTokenizer, fc.Chunking.Tokenizer)
	set(&cfg.ChunkSize, fc.Chunking.Size)
	set(&cfg.ChunkOverlap, fc.Chunking.Overlap)
	set(&cfg.ChunkMinChars, fc.Chunking.MinChars)

	set(&cfg.PromptTemplatePath, fc.Prompt.TemplatePath)

	set(&cfg.VectorStore, fc.VectorStore.Provider)
	set(&cfg.RAGTopK, fc.VectorStore.TopK)
	set(&cfg.QdrantURL, fc.VectorStore.Qdrant.URL)
	set(&cfg.QdrantCollection, fc.VectorStore.Qdrant.Collection)
	set(&cfg.ChromemPath, fc.VectorStore.Chromem.Path)
	set(&cfg.ChromemCollection, fc.VectorStore.Chromem.Collection)

	set(&cfg.LLMProvider, fc.LLM.Provider)
	set(&cfg.LLMTemperature, fc.LLM.Temperature)
	set(&cfg.OllamaURL, fc.LLM.Ollama.URL)
	set(&cfg.OllamaChatModel, fc.LLM.Ollama.ChatModel)
	set(&cfg.OllamaEmbedModel, fc.LLM.Ollama.EmbedModel)
	set(&cfg.GeminiChatModel, fc.LLM.Gemini.ChatModel)
	set(&cfg.GeminiEmbedModel, fc.LLM.Gemini.EmbedModel)

	set(&cfg.LedgerDriver, fc.Ledger.Driver)
	set(&cfg.SQLitePath, fc.Ledger.SQLitePath)

	set(&cfg.NATSURL, fc.NATS.URL)
	set(&cfg.NATSReindexSubject, fc.NATS.ReindexSubject)
	set(&cfg.NATSEventsSubject, fc.NATS.EventsSubject)

	set(&cfg.APIPort, fc.API.Port)
	set(&cfg.APIRateLimitRPS, fc.API.RateLimitRPS)
	set(&cfg.APIRateLimitBurst, fc.API.RateLimitBurst)
	set(&cfg.APIMaxInFlight, fc.API.MaxInFlight)
	set(&cfg.APIBackpressureWaitMS, fc.API.BackpressureWaitMS)

	set(&cfg.LogLevel, fc.Log.Level)
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
