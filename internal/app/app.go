// Package app assembles the long-lived components shared by the API server
// and the command line tools.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/marketbrain/config"
	"github.com/mohammad-safakhou/marketbrain/internal/booklearning"
	"github.com/mohammad-safakhou/marketbrain/internal/decompose"
	"github.com/mohammad-safakhou/marketbrain/internal/embedding"
	"github.com/mohammad-safakhou/marketbrain/internal/ingest"
	"github.com/mohammad-safakhou/marketbrain/internal/llm"
	"github.com/mohammad-safakhou/marketbrain/internal/parser"
	"github.com/mohammad-safakhou/marketbrain/internal/retrieval"
	"github.com/mohammad-safakhou/marketbrain/internal/runtime"
	"github.com/mohammad-safakhou/marketbrain/internal/store"
	"github.com/mohammad-safakhou/marketbrain/internal/summarycache"
	"github.com/mohammad-safakhou/marketbrain/internal/training"
	"github.com/redis/go-redis/v9"
)

// App holds every wired component. Close releases them in reverse order.
type App struct {
	Config      *config.Config
	Telemetry   *runtime.Telemetry
	Store       *store.Store
	Redis       *redis.Client
	LLM         llm.Client
	Embedder    embedding.Embedder
	Parser      *parser.Registry
	Engine      *retrieval.Engine
	MultiQuery  *retrieval.MultiQuery
	Pipeline    *booklearning.Pipeline
	Runner      *booklearning.Runner
	Sweeper     *booklearning.Sweeper
	Documents   *ingest.Documents
	Transcripts *ingest.Transcripts
	Summarizer  *training.Summarizer
}

// Options toggles optional pieces of the bootstrap.
type Options struct {
	ServiceName string
	Version     string
	// Background starts the book runner and the stale-book sweeper.
	Background bool
}

// Build opens storage, providers and services from cfg.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	a := &App{Config: cfg}

	tel, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
		ServiceName:    opts.ServiceName,
		ServiceVersion: opts.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}
	a.Telemetry = tel

	dsn, err := runtime.BuildPostgresDSN(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.Store = st

	rdb, err := runtime.OpenRedis(ctx, cfg.Storage.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Redis = rdb

	client, err := llm.NewFromConfig(cfg.LLM, log.New(log.Writer(), "[LLM] ", log.LstdFlags))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.LLM = client

	embedder, err := buildEmbedder(cfg, rdb)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Embedder = embedder
	a.Parser = parser.New()

	rcfg := cfg.Retrieval.Normalize()
	ragLogger := log.New(log.Writer(), "[RAG] ", log.LstdFlags)
	a.Engine = retrieval.NewEngine(st, embedder, client, rcfg, ragLogger)
	decomposer := decompose.New(client, rcfg.DecomposeModel, log.New(log.Writer(), "[DECOMPOSE] ", log.LstdFlags))
	a.MultiQuery = retrieval.NewMultiQuery(a.Engine, decomposer, log.New(log.Writer(), "[COMBINER] ", log.LstdFlags))

	bcfg := cfg.Books.Normalize()
	bookLogger := log.New(log.Writer(), "[BOOK] ", log.LstdFlags)
	a.Pipeline = booklearning.NewPipeline(st, a.Parser, client, embedder, bcfg, bookLogger)
	if opts.Background {
		a.Runner = booklearning.NewRunner(a.Pipeline, bcfg.Workers, bookLogger)
		sweeper, err := booklearning.NewSweeper(st, bcfg.SweepCron, bcfg.StaleAfter, log.New(log.Writer(), "[SWEEP] ", log.LstdFlags))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Sweeper = sweeper
	}

	dcfg := cfg.Documents.Normalize()
	ingestLogger := log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	a.Documents = ingest.NewDocuments(st, a.Parser, embedder, dcfg, ingestLogger)
	a.Transcripts = ingest.NewTranscripts(st, embedder, dcfg, ingestLogger)

	var cache summarycache.Cache = summarycache.NewMemory(cfg.Training.SummaryTTL)
	if rdb != nil {
		cache = summarycache.NewRedis(rdb, "", cfg.Training.SummaryTTL, log.New(log.Writer(), "[CACHE] ", log.LstdFlags))
	}
	a.Summarizer = training.NewSummarizer(st, client, cache, cfg.Training.SampleSize, cfg.Training.Model, log.New(log.Writer(), "[TRAINING] ", log.LstdFlags))
	return a, nil
}

// buildEmbedder picks the credentials of the configured embedding provider
// and wraps the embedder with the redis cache when both are enabled.
func buildEmbedder(cfg *config.Config, rdb *redis.Client) (embedding.Embedder, error) {
	ecfg := cfg.Embedding.Normalize()
	p, ok := cfg.LLM.Providers[ecfg.Provider]
	if !ok || p.APIKey == "" {
		return nil, fmt.Errorf("%w: embedding provider %q has no api key", llm.ErrProviderNotConfigured, ecfg.Provider)
	}
	logger := log.New(log.Writer(), "[EMBED] ", log.LstdFlags)
	var e embedding.Embedder = embedding.NewOpenAIEmbedder(embedding.OpenAIOptions{
		APIKey:            p.APIKey,
		BaseURL:           p.BaseURL,
		Model:             ecfg.Model,
		Dimensions:        ecfg.Dimensions,
		BatchSize:         ecfg.BatchSize,
		RequestsPerSecond: ecfg.RequestsPerSecond,
		Timeout:           p.Timeout,
		Retry:             llm.RetryPolicyFromConfig(cfg.LLM.Retry),
		Logger:            logger,
	})
	if rdb != nil && ecfg.CacheEnabled {
		e = embedding.NewCachedEmbedder(e, rdb, ecfg.Model, ecfg.CacheTTL, logger)
	}
	return e, nil
}

// StartBackground launches the stale-book sweeper until ctx ends.
func (a *App) StartBackground(ctx context.Context) {
	if a.Sweeper != nil {
		a.Sweeper.Start(ctx)
	}
}

// Close drains the runner and releases connections.
func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if a.Runner != nil {
		if err := a.Runner.Close(ctx); err != nil {
			log.Printf("book runner close: %v", err)
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
	if a.Telemetry != nil {
		_ = a.Telemetry.Shutdown(ctx)
	}
}
