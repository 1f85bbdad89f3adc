// Package config loads the ingest engine's runtime configuration from a
// YAML file, environment variable overrides, and finally validates the
// merged result, mirroring the teacher's Load/applyEnvOverrides/Validate
// three-phase pattern.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration for the ingest engine.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Storage   StorageConfig   `yaml:"storage"`
	Queue     QueueConfig     `yaml:"queue"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Worker    WorkerConfig    `yaml:"worker"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address        string          `yaml:"address"`
	ReadTimeout    time.Duration   `yaml:"readTimeout"`
	WriteTimeout   time.Duration   `yaml:"writeTimeout"`
	AllowedOrigins []string        `yaml:"allowedOrigins"`
	MaxUploadMB    int             `yaml:"maxUploadMb"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	Retry          RetryConfig     `yaml:"retry"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// RetryConfig configures best-effort retries for idempotent requests.
type RetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	Exclude     []string      `yaml:"exclude"`
}

// PostgresConfig contains DSN and pooling settings for the metadata store.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

// StorageConfig configures the blob store backing uploaded source bytes.
type StorageConfig struct {
	Backend   string `yaml:"backend"` // "r2" or "memory"
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
}

// QueueConfig selects and configures the job-ready wakeup fabric.
type QueueConfig struct {
	Backend  string `yaml:"backend"` // "immediate" or "valkey"
	Addr     string `yaml:"addr"`
	QueueKey string `yaml:"queueKey"`
}

// EmbeddingConfig contains embedding provider settings.
type EmbeddingConfig struct {
	APIKey            string  `yaml:"apiKey"`
	BaseURL           string  `yaml:"baseUrl"`
	Model             string  `yaml:"model"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	BatchMaxItems     int     `yaml:"batchMaxItems"`
	BatchMaxTokens    int     `yaml:"batchMaxTokens"`
}

// ChunkingConfig holds chunk token sizes. They are validated at load but
// not passed to the engine, which always chunks with
// ingest.DefaultChunkPolicy.
type ChunkingConfig struct {
	TargetTokens  int `yaml:"targetTokens"`
	OverlapTokens int `yaml:"overlapTokens"`
	MaxTokens     int `yaml:"maxTokens"`
}

// WorkerConfig sizes the Pipeline Engine's worker pool.
type WorkerConfig struct {
	Count             int           `yaml:"count"`
	ClaimPollInterval time.Duration `yaml:"claimPollInterval"`
}

// IngestConfig holds ingest-domain-wide settings not specific to one
// collaborator.
type IngestConfig struct {
	VectorDim  int           `yaml:"vectorDim"`
	GCInterval time.Duration `yaml:"gcInterval"`
}

// Load reads configuration from a YAML file and environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("HTTP_READ_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.ReadTimeout = parsed
		}
	}
	if v := os.Getenv("HTTP_WRITE_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.WriteTimeout = parsed
		}
	}
	if v := os.Getenv("HTTP_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("HTTP_MAX_UPLOAD_MB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.MaxUploadMB = parsed
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_ENABLED"); v != "" {
		cfg.HTTP.RateLimit.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_RPM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.RequestsPerMinute = parsed
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.Burst = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_ENABLED"); v != "" {
		cfg.HTTP.Retry.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("HTTP_RETRY_MAX_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Retry.MaxAttempts = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_BASE_BACKOFF"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.Retry.BaseBackoff = parsed
		}
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.MaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("POSTGRES_MIN_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.MinConns = int32(parsed)
		}
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("STORAGE_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("STORAGE_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("STORAGE_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("STORAGE_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("STORAGE_REGION"); v != "" {
		cfg.Storage.Region = v
	}
	if v := os.Getenv("QUEUE_BACKEND"); v != "" {
		cfg.Queue.Backend = v
	}
	if v := os.Getenv("QUEUE_ADDR"); v != "" {
		cfg.Queue.Addr = v
	}
	if v := os.Getenv("QUEUE_KEY"); v != "" {
		cfg.Queue.QueueKey = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("EMBEDDING_REQUESTS_PER_SECOND"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Embedding.RequestsPerSecond = parsed
		}
	}
	if v := os.Getenv("EMBEDDING_BATCH_MAX_ITEMS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.BatchMaxItems = parsed
		}
	}
	if v := os.Getenv("EMBEDDING_BATCH_MAX_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.BatchMaxTokens = parsed
		}
	}
	if v := os.Getenv("CHUNKING_TARGET_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Chunking.TargetTokens = parsed
		}
	}
	if v := os.Getenv("CHUNKING_OVERLAP_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Chunking.OverlapTokens = parsed
		}
	}
	if v := os.Getenv("CHUNKING_MAX_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Chunking.MaxTokens = parsed
		}
	}
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Count = parsed
		}
	}
	if v := os.Getenv("WORKER_CLAIM_POLL_INTERVAL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Worker.ClaimPollInterval = parsed
		}
	}
	if v := os.Getenv("INGEST_VECTOR_DIM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.VectorDim = parsed
		}
	}
	if v := os.Getenv("INGEST_GC_INTERVAL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Ingest.GCInterval = parsed
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:        ":8080",
			AllowedOrigins: []string{"*"},
			MaxUploadMB:    250,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             20,
			},
			Retry: RetryConfig{
				Enabled:     true,
				MaxAttempts: 3,
				BaseBackoff: 150 * time.Millisecond,
				Exclude: []string{
					"/api/v1/jobs/stream",
					"/api/v1/upload",
					"/api/v1/upload-and-process",
				},
			},
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
			MinConns: 2,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Queue: QueueConfig{
			Backend:  "immediate",
			QueueKey: "ingest:jobs:ready",
		},
		Embedding: EmbeddingConfig{
			Model:             "text-embedding-3-small",
			RequestsPerSecond: 5,
			BatchMaxItems:     64,
			BatchMaxTokens:    8000,
		},
		Chunking: ChunkingConfig{
			TargetTokens:  512,
			OverlapTokens: 64,
			MaxTokens:     1024,
		},
		Worker: WorkerConfig{
			Count:             0, // 0 resolves to runtime.NumCPU() at wiring time
			ClaimPollInterval: time.Second,
		},
		Ingest: IngestConfig{
			VectorDim:  1536,
			GCInterval: time.Hour,
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if c.HTTP.MaxUploadMB <= 0 {
		return errors.New("http.maxUploadMb must be positive")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	if c.HTTP.Retry.Enabled {
		if c.HTTP.Retry.MaxAttempts <= 0 {
			return errors.New("http.retry.maxAttempts must be positive")
		}
		if c.HTTP.Retry.BaseBackoff <= 0 {
			return errors.New("http.retry.baseBackoff must be positive")
		}
	}
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		return errors.New("postgres.dsn cannot be empty")
	}
	if c.Storage.Backend != "memory" && c.Storage.Backend != "r2" {
		return errors.New("storage.backend must be \"memory\" or \"r2\"")
	}
	if c.Storage.Backend == "r2" && strings.TrimSpace(c.Storage.Bucket) == "" {
		return errors.New("storage.bucket cannot be empty when storage.backend is \"r2\"")
	}
	if c.Queue.Backend != "immediate" && c.Queue.Backend != "valkey" {
		return errors.New("queue.backend must be \"immediate\" or \"valkey\"")
	}
	if c.Queue.Backend == "valkey" && strings.TrimSpace(c.Queue.Addr) == "" {
		return errors.New("queue.addr cannot be empty when queue.backend is \"valkey\"")
	}
	if strings.TrimSpace(c.Embedding.Model) == "" {
		return errors.New("embedding.model cannot be empty")
	}
	if c.Embedding.RequestsPerSecond <= 0 {
		return errors.New("embedding.requestsPerSecond must be positive")
	}
	if c.Embedding.BatchMaxItems <= 0 {
		return errors.New("embedding.batchMaxItems must be positive")
	}
	if c.Embedding.BatchMaxTokens <= 0 {
		return errors.New("embedding.batchMaxTokens must be positive")
	}
	if c.Chunking.TargetTokens <= 0 {
		return errors.New("chunking.targetTokens must be positive")
	}
	if c.Chunking.MaxTokens < c.Chunking.TargetTokens {
		return errors.New("chunking.maxTokens must be >= chunking.targetTokens")
	}
	if c.Chunking.OverlapTokens < 0 {
		return errors.New("chunking.overlapTokens cannot be negative")
	}
	if c.Worker.Count < 0 {
		return errors.New("worker.count cannot be negative")
	}
	if c.Ingest.VectorDim <= 0 {
		return errors.New("ingest.vectorDim must be positive")
	}
	return nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var result []string
	for _, part := range parts {
		val := strings.TrimSpace(part)
		if val != "" {
			result = append(result, val)
		}
	}
	return result
}
