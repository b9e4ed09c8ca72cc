// Package config loads the pipeline and query service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned for any configuration that must stop the process before a run.
var ErrInvalidConfig = errors.New("invalid configuration")

// Known step actions.
const (
	ActionIngest    = "ingest"
	ActionClean     = "clean"
	ActionEmbed     = "embed"
	ActionLogStatus = "log_status"
)

var knownActions = map[string]bool{
	ActionIngest:    true,
	ActionClean:     true,
	ActionEmbed:     true,
	ActionLogStatus: true,
}

// Legacy configs name a script per step instead of an action.
var scriptActions = map[string]string{
	"fetch_cmc.py":  ActionIngest,
	"preprocess.py": ActionClean,
	"pca_umap.py":   ActionEmbed,
	"log_status.py": ActionLogStatus,
}

type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Storage   StorageConfig   `yaml:"storage"`
	RunLog    RunLogConfig    `yaml:"run_log"`
	Staging   StagingConfig   `yaml:"staging"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Server    ServerConfig    `yaml:"server"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type PipelineConfig struct {
	Schedule ScheduleConfig `yaml:"schedule"`
	Steps    []StepConfig   `yaml:"steps" validate:"min=1,unique=Name,dive"`
}

type ScheduleConfig struct {
	Interval      time.Duration `yaml:"interval"`
	IntervalHours float64       `yaml:"interval_hours"`
}

type StepConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Action      string `yaml:"action"`
	Script      string `yaml:"script"`
	Description string `yaml:"description"`
}

type UpstreamConfig struct {
	BaseURL           string        `yaml:"base_url" validate:"required,url"`
	APIKey            string        `yaml:"api_key"`
	Start             int           `yaml:"start" validate:"gte=1"`
	Limit             int           `yaml:"limit" validate:"gte=1,lte=5000"`
	Convert           string        `yaml:"convert" validate:"required"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries        int           `yaml:"max_retries" validate:"gte=0"`
	RetryWaitMin      time.Duration `yaml:"retry_wait_min"`
	RetryWaitMax      time.Duration `yaml:"retry_wait_max"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
}

type StorageConfig struct {
	Backend    string           `yaml:"backend" validate:"oneof=duckdb clickhouse memory"`
	DuckDB     DuckDBConfig     `yaml:"duckdb"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

type DuckDBConfig struct {
	Path string `yaml:"path"`
}

type ClickHouseConfig struct {
	DSN string `yaml:"dsn"`
}

type RunLogConfig struct {
	Backend  string         `yaml:"backend" validate:"oneof=file postgres duckdb memory"`
	File     FileLogConfig  `yaml:"file"`
	Postgres PostgresConfig `yaml:"postgres"`
	// Human-readable completion lines written by the log_status action.
	StatusPath string `yaml:"status_path"`
}

type FileLogConfig struct {
	Path   string `yaml:"path"`
	MaxAge int    `yaml:"max_age" validate:"gte=0"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type StagingConfig struct {
	Dir string `yaml:"dir" validate:"required"`
	// Staged files older than this are removed; 0 keeps them all.
	Retention time.Duration `yaml:"retention" validate:"gte=0"`
}

type ArchiveConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type EmbeddingConfig struct {
	NNeighbors int     `yaml:"n_neighbors" validate:"gte=2"`
	MinDist    float64 `yaml:"min_dist" validate:"gt=0"`
	Seed       int64   `yaml:"seed"`
	Epochs     int     `yaml:"epochs" validate:"gte=1"`
	PlotPath   string  `yaml:"plot_path"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr" validate:"required"`
	MetricsAddr string `yaml:"metrics_addr"`
	// Limits applied when a request omits them.
	DefaultCoinsLimit      int `yaml:"default_coins_limit" validate:"gte=1"`
	DefaultEmbeddingsLimit int `yaml:"default_embeddings_limit" validate:"gte=1"`
}

type CacheConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age" validate:"gte=0"`
}

// Default returns a configuration with every default applied and the
// standard three-step pipeline.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Schedule: ScheduleConfig{Interval: 6 * time.Hour},
			Steps: []StepConfig{
				{Name: "fetch", Action: ActionIngest, Description: "Fetch latest listings"},
				{Name: "clean", Action: ActionClean, Description: "Clean and append snapshots"},
				{Name: "analytics", Action: ActionEmbed, Description: "Compute PCA and UMAP embeddings"},
			},
		},
		Upstream: UpstreamConfig{
			BaseURL:           "https://pro-api.coinmarketcap.com/v1/cryptocurrency/listings/latest",
			Start:             1,
			Limit:             200,
			Convert:           "USD",
			Timeout:           20 * time.Second,
			MaxRetries:        5,
			RetryWaitMin:      time.Second,
			RetryWaitMax:      30 * time.Second,
			RequestsPerSecond: 0.5,
		},
		Storage: StorageConfig{
			Backend: "duckdb",
			DuckDB:  DuckDBConfig{Path: "data/cmc.duckdb"},
		},
		RunLog: RunLogConfig{
			Backend:    "file",
			File:       FileLogConfig{Path: "logs/run_log.jsonl"},
			StatusPath: "logs/pipeline.log",
		},
		Staging: StagingConfig{Dir: "data/staging", Retention: 7 * 24 * time.Hour},
		Embedding: EmbeddingConfig{
			NNeighbors: 15,
			MinDist:    0.1,
			Seed:       42,
			Epochs:     200,
			PlotPath:   "data/umap.png",
		},
		Server: ServerConfig{
			Addr:                   ":8000",
			MetricsAddr:            ":9090",
			DefaultCoinsLimit:      100,
			DefaultEmbeddingsLimit: 500,
		},
		Cache: CacheConfig{Redis: RedisConfig{TTL: time.Minute}},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads .env (if present), the YAML file at path, applies environment
// overrides and validates the result for running the pipeline. An empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation.
func Read(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping defaults for absent keys.
// A present steps list replaces the default steps.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: failed to parse config file: %v", ErrInvalidConfig, err)
	}
	cfg.normalize()
	return nil
}

func (c *Config) normalize() {
	if c.Pipeline.Schedule.IntervalHours > 0 {
		c.Pipeline.Schedule.Interval = time.Duration(c.Pipeline.Schedule.IntervalHours * float64(time.Hour))
		c.Pipeline.Schedule.IntervalHours = 0
	}
	for i := range c.Pipeline.Steps {
		s := &c.Pipeline.Steps[i]
		s.Name = strings.TrimSpace(s.Name)
		s.Action = strings.ToLower(strings.TrimSpace(s.Action))
		if s.Action == "" && s.Script != "" {
			s.Action = scriptActions[filepath.Base(s.Script)]
		}
	}
	c.Upstream.Convert = strings.ToUpper(strings.TrimSpace(c.Upstream.Convert))
	c.Archive.S3.Bucket = strings.TrimSpace(c.Archive.S3.Bucket)
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CMC_API_KEY")); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("DUCKDB_PATH")); v != "" {
		cfg.Storage.DuckDB.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("CLICKHOUSE_DSN")); v != "" {
		cfg.Storage.ClickHouse.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("POSTGRES_DSN")); v != "" {
		cfg.RunLog.Postgres.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Cache.Redis.Addr = v
	}
	if cfg.Archive.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Archive.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Archive.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Archive.S3.Region = strings.TrimSpace(v)
		}
	}
}

var validate = validator.New()

// Validate checks structural and semantic constraints.
// Every failure wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.Pipeline.Schedule.Interval <= 0 {
		return fmt.Errorf("%w: pipeline.schedule.interval must be greater than 0", ErrInvalidConfig)
	}

	for _, s := range c.Pipeline.Steps {
		if !knownActions[s.Action] {
			return fmt.Errorf("%w: step %q has unknown action %q", ErrInvalidConfig, s.Name, s.Action)
		}
	}

	if c.HasAction(ActionIngest) && c.Upstream.APIKey == "" {
		return fmt.Errorf("%w: upstream.api_key (or CMC_API_KEY) is required when an ingest step is configured", ErrInvalidConfig)
	}

	if err := c.validateBackends(); err != nil {
		return err
	}

	if s3 := c.Archive.S3; s3.Enabled {
		if s3.Bucket == "" {
			return fmt.Errorf("%w: archive.s3.bucket is required when S3 is enabled", ErrInvalidConfig)
		}
		if s3.Region == "" {
			return fmt.Errorf("%w: archive.s3.region is required when S3 is enabled", ErrInvalidConfig)
		}
		if s3.AccessKeyID == "" || s3.SecretAccessKey == "" {
			return fmt.Errorf("%w: archive.s3.access_key_id and archive.s3.secret_access_key are required when S3 is enabled", ErrInvalidConfig)
		}
	}

	return nil
}

// ValidateServe checks only what the query service needs.
func (c *Config) ValidateServe() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return c.validateBackends()
}

func (c *Config) validateBackends() error {
	switch c.Storage.Backend {
	case "duckdb":
		if c.Storage.DuckDB.Path == "" {
			return fmt.Errorf("%w: storage.duckdb.path is required", ErrInvalidConfig)
		}
	case "clickhouse":
		if c.Storage.ClickHouse.DSN == "" {
			return fmt.Errorf("%w: storage.clickhouse.dsn is required", ErrInvalidConfig)
		}
	}

	switch c.RunLog.Backend {
	case "file":
		if c.RunLog.File.Path == "" {
			return fmt.Errorf("%w: run_log.file.path is required", ErrInvalidConfig)
		}
	case "postgres":
		if c.RunLog.Postgres.DSN == "" {
			return fmt.Errorf("%w: run_log.postgres.dsn is required", ErrInvalidConfig)
		}
	case "duckdb":
		if c.Storage.Backend != "duckdb" {
			return fmt.Errorf("%w: run_log.backend duckdb requires storage.backend duckdb", ErrInvalidConfig)
		}
	}

	return nil
}

// HasAction reports whether any configured step uses action.
func (c *Config) HasAction(action string) bool {
	for _, s := range c.Pipeline.Steps {
		if s.Action == action {
			return true
		}
	}
	return false
}
