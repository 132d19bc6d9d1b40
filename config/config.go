package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the knowledge service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Books     BooksConfig     `mapstructure:"books"`
	Documents DocumentsConfig `mapstructure:"documents"`
	Training  TrainingConfig  `mapstructure:"training"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address        string `mapstructure:"address"`
	JWTSecret      string `mapstructure:"jwt_secret"`
	UploadDir      string `mapstructure:"upload_dir"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
	MigrationsDir  string `mapstructure:"migrations_dir"`
}

// LLMConfig contains language model provider configurations.
type LLMConfig struct {
	Providers          map[string]LLMProvider `mapstructure:"providers"`
	DefaultModel       string                 `mapstructure:"default_model"`
	OpenRouterPrefixes []string               `mapstructure:"openrouter_prefixes"`
	Retry              RetryConfig            `mapstructure:"retry"`
}

// LLMProvider represents a single OpenAI-compatible endpoint.
type LLMProvider struct {
	Type    string        `mapstructure:"type"` // openai, openrouter
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RetryConfig bounds retries of transient provider failures.
type RetryConfig struct {
	Attempts        int           `mapstructure:"attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// Normalize applies defaults for unset retry values.
func (r RetryConfig) Normalize() RetryConfig {
	if r.Attempts <= 0 {
		r.Attempts = 3
	}
	if r.InitialInterval <= 0 {
		r.InitialInterval = 2 * time.Second
	}
	if r.MaxInterval <= 0 {
		r.MaxInterval = 10 * time.Second
	}
	if r.MaxInterval < r.InitialInterval {
		r.MaxInterval = r.InitialInterval
	}
	return r
}

func (c LLMConfig) Validate() error {
	if strings.TrimSpace(c.DefaultModel) == "" {
		return fmt.Errorf("llm.default_model required")
	}
	for name, p := range c.Providers {
		switch strings.ToLower(p.Type) {
		case "", "openai", "openrouter":
		default:
			return fmt.Errorf("llm.providers.%s: unsupported type %q", name, p.Type)
		}
	}
	return nil
}

// EmbeddingConfig describes the embedding model and its throughput limits.
type EmbeddingConfig struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	Dimensions        int           `mapstructure:"dimensions"`
	BatchSize         int           `mapstructure:"batch_size"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	CacheEnabled      bool          `mapstructure:"cache_enabled"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

// Normalize applies defaults for unset embedding values.
func (c EmbeddingConfig) Normalize() EmbeddingConfig {
	if strings.TrimSpace(c.Provider) == "" {
		c.Provider = "openai"
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimensions <= 0 {
		c.Dimensions = 1536
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 24 * time.Hour
	}
	return c
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings. Redis is optional; caches
// fall back to process memory when no host is configured.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required when host is set")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// RetrievalConfig tunes the search, rerank and multi-query paths.
type RetrievalConfig struct {
	DefaultLimit       int    `mapstructure:"default_limit"`
	CandidateFactor    int    `mapstructure:"candidate_factor"`
	RerankPreviewChars int    `mapstructure:"rerank_preview_chars"`
	RerankModel        string `mapstructure:"rerank_model"`
	DecomposeModel     string `mapstructure:"decompose_model"`
	NumQueries         int    `mapstructure:"num_queries"`
	PerQueryLimit      int    `mapstructure:"per_query_limit"`
	MaxResults         int    `mapstructure:"max_results"`
	MinBooks           int    `mapstructure:"min_books"`
	MaxParallel        int    `mapstructure:"max_parallel"`
}

// Normalize applies defaults for unset retrieval values.
func (c RetrievalConfig) Normalize() RetrievalConfig {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 5
	}
	if c.CandidateFactor <= 0 {
		c.CandidateFactor = 3
	}
	if c.RerankPreviewChars <= 0 {
		c.RerankPreviewChars = 500
	}
	if c.NumQueries <= 0 {
		c.NumQueries = 4
	}
	if c.PerQueryLimit <= 0 {
		c.PerQueryLimit = 5
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 7
	}
	if c.MinBooks < 0 {
		c.MinBooks = 0
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 4
	}
	return c
}

// BooksConfig tunes the book learning pipeline and its background runner.
type BooksConfig struct {
	ChunkSize          int           `mapstructure:"chunk_size"`
	ChunkOverlap       int           `mapstructure:"chunk_overlap"`
	BatchSize          int           `mapstructure:"batch_size"`
	ExtractionModel    string        `mapstructure:"extraction_model"`
	SummaryModel       string        `mapstructure:"summary_model"`
	SummaryChunks      int           `mapstructure:"summary_chunks"`
	ConceptsPerChunk   int           `mapstructure:"concepts_per_chunk"`
	MaxSummaryConcepts int           `mapstructure:"max_summary_concepts"`
	Workers            int           `mapstructure:"workers"`
	SweepCron          string        `mapstructure:"sweep_cron"`
	StaleAfter         time.Duration `mapstructure:"stale_after"`
}

// Normalize applies defaults for unset book values.
func (c BooksConfig) Normalize() BooksConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1500
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = fallbackOverlap(c.ChunkSize, 200)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.SummaryChunks <= 0 {
		c.SummaryChunks = 30
	}
	if c.ConceptsPerChunk <= 0 {
		c.ConceptsPerChunk = 3
	}
	if c.MaxSummaryConcepts <= 0 {
		c.MaxSummaryConcepts = 20
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if strings.TrimSpace(c.SweepCron) == "" {
		c.SweepCron = "*/5 * * * *"
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
	return c
}

// DocumentsConfig tunes chunking of uploaded documents and transcripts.
type DocumentsConfig struct {
	ChunkSize         int `mapstructure:"chunk_size"`
	ChunkOverlap      int `mapstructure:"chunk_overlap"`
	TranscriptWords   int `mapstructure:"transcript_words"`
	TranscriptOverlap int `mapstructure:"transcript_overlap"`
}

// Normalize applies defaults for unset document values.
func (c DocumentsConfig) Normalize() DocumentsConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = fallbackOverlap(c.ChunkSize, 200)
	}
	if c.TranscriptWords <= 0 {
		c.TranscriptWords = 800
	}
	if c.TranscriptOverlap < 0 || c.TranscriptOverlap >= c.TranscriptWords {
		c.TranscriptOverlap = fallbackOverlap(c.TranscriptWords, 100)
	}
	return c
}

// fallbackOverlap returns def when it fits below size, otherwise a fifth of size.
func fallbackOverlap(size, def int) int {
	if def < size {
		return def
	}
	return size / 5
}

// TrainingConfig controls the cached per-tenant training summary.
type TrainingConfig struct {
	SummaryTTL time.Duration `mapstructure:"summary_ttl"`
	SampleSize int           `mapstructure:"sample_size"`
	Model      string        `mapstructure:"model"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.upload_dir", filepath.Join(os.TempDir(), "marketbrain-uploads"))
	v.SetDefault("server.max_upload_bytes", 50<<20)
	v.SetDefault("server.auto_migrate", true)
	v.SetDefault("server.migrations_dir", "file://migrations")
	v.SetDefault("general.default_timeout", "60s")
	v.SetDefault("llm.default_model", "gpt-4o-mini")
	v.SetDefault("llm.openrouter_prefixes", []string{"anthropic/", "deepseek/", "meta-llama/", "google/", "mistral/"})
	v.SetDefault("llm.retry.attempts", 3)
	v.SetDefault("llm.retry.initial_interval", "2s")
	v.SetDefault("llm.retry.max_interval", "10s")
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.batch_size", 50)
	v.SetDefault("embedding.cache_enabled", true)
	v.SetDefault("embedding.cache_ttl", "24h")
	v.SetDefault("retrieval.default_limit", 5)
	v.SetDefault("retrieval.candidate_factor", 3)
	v.SetDefault("retrieval.rerank_preview_chars", 500)
	v.SetDefault("retrieval.num_queries", 4)
	v.SetDefault("retrieval.per_query_limit", 5)
	v.SetDefault("retrieval.max_results", 7)
	v.SetDefault("retrieval.min_books", 2)
	v.SetDefault("retrieval.max_parallel", 4)
	v.SetDefault("books.chunk_size", 1500)
	v.SetDefault("books.chunk_overlap", 200)
	v.SetDefault("books.batch_size", 10)
	v.SetDefault("books.workers", 2)
	v.SetDefault("books.sweep_cron", "*/5 * * * *")
	v.SetDefault("books.stale_after", "30m")
	v.SetDefault("documents.chunk_size", 1000)
	v.SetDefault("documents.chunk_overlap", 200)
	v.SetDefault("documents.transcript_words", 800)
	v.SetDefault("documents.transcript_overlap", 100)
	v.SetDefault("training.summary_ttl", "1h")
	v.SetDefault("training.sample_size", 20)
	v.SetDefault("storage.postgres.sslmode", "disable")
}

// Load reads the configuration file (or searches the default locations when
// path is empty), overlays MARKETBRAIN_* environment variables and validates
// the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, ".."))
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("MARKETBRAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.LLM.Retry = cfg.LLM.Retry.Normalize()
	cfg.Embedding = cfg.Embedding.Normalize()
	cfg.Retrieval = cfg.Retrieval.Normalize()
	cfg.Books = cfg.Books.Normalize()
	cfg.Documents = cfg.Documents.Normalize()
	if cfg.Training.SampleSize <= 0 {
		cfg.Training.SampleSize = 20
	}
	if cfg.Training.SummaryTTL <= 0 {
		cfg.Training.SummaryTTL = time.Hour
	}

	for _, check := range []func() error{
		cfg.LLM.Validate,
		cfg.Telemetry.Validate,
		cfg.Storage.Redis.Validate,
		cfg.Storage.Postgres.Validate,
	} {
		if err := check(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// LoadConfig loads config from file and panics on error.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}

// JWTSecret resolves the shared JWT secret: server.jwt_secret, then general.jwt_secret.
func (c *Config) JWTSecret() (string, error) {
	if c.Server.JWTSecret != "" {
		return c.Server.JWTSecret, nil
	}
	if c.General.JWTSecret != "" {
		return c.General.JWTSecret, nil
	}
	return "", fmt.Errorf("jwt secret not configured (server.jwt_secret or general.jwt_secret)")
}
