package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CMC_API_KEY", "key")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 6*time.Hour, cfg.Pipeline.Schedule.Interval)
	assert.Len(t, cfg.Pipeline.Steps, 3)
	assert.Equal(t, "key", cfg.Upstream.APIKey)
	assert.Equal(t, "USD", cfg.Upstream.Convert)
	assert.Equal(t, 200, cfg.Upstream.Limit)
	assert.Equal(t, "duckdb", cfg.Storage.Backend)
	assert.Equal(t, 15, cfg.Embedding.NNeighbors)
	assert.Equal(t, int64(42), cfg.Embedding.Seed)
	assert.Equal(t, 7*24*time.Hour, cfg.Staging.Retention)
}

func TestLoad_LegacySchedule(t *testing.T) {
	t.Setenv("CMC_API_KEY", "key")
	path := writeConfig(t, `
pipeline:
  schedule:
    interval_hours: 1.5
  steps:
    - name: fetch
      script: src/etl/fetch_cmc.py
      description: Fetch
    - name: preprocess
      script: src/etl/preprocess.py
    - name: analytics
      script: src/analytics/pca_umap.py
    - name: status
      script: src/utils/log_status.py
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Minute, cfg.Pipeline.Schedule.Interval)
	require.Len(t, cfg.Pipeline.Steps, 4)
	assert.Equal(t, ActionIngest, cfg.Pipeline.Steps[0].Action)
	assert.Equal(t, ActionClean, cfg.Pipeline.Steps[1].Action)
	assert.Equal(t, ActionEmbed, cfg.Pipeline.Steps[2].Action)
	assert.Equal(t, ActionLogStatus, cfg.Pipeline.Steps[3].Action)
}

func TestLoad_DurationInterval(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  schedule:
    interval: 30m
  steps:
    - name: clean
      action: clean
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.Schedule.Interval)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CMC_API_KEY", "from-env")
	t.Setenv("DUCKDB_PATH", "/tmp/x.duckdb")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("POSTGRES_DSN", "postgres://u:p@localhost/db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Upstream.APIKey)
	assert.Equal(t, "/tmp/x.duckdb", cfg.Storage.DuckDB.Path)
	assert.Equal(t, "localhost:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, "postgres://u:p@localhost/db", cfg.RunLog.Postgres.DSN)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing api key with ingest", func(c *Config) { c.Upstream.APIKey = "" }},
		{"unknown action", func(c *Config) { c.Pipeline.Steps[0].Action = "publish" }},
		{"duplicate step name", func(c *Config) { c.Pipeline.Steps[1].Name = c.Pipeline.Steps[0].Name }},
		{"no steps", func(c *Config) { c.Pipeline.Steps = nil }},
		{"zero interval", func(c *Config) { c.Pipeline.Schedule.Interval = 0 }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "sqlite" }},
		{"clickhouse without dsn", func(c *Config) { c.Storage.Backend = "clickhouse" }},
		{"postgres run log without dsn", func(c *Config) { c.RunLog.Backend = "postgres" }},
		{"s3 without bucket", func(c *Config) {
			c.Archive.S3 = S3Config{Enabled: true, Region: "us-east-1", AccessKeyID: "a", SecretAccessKey: "b"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Upstream.APIKey = "key"
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestValidate_NoIngestNeedsNoKey(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.Steps = []StepConfig{{Name: "clean", Action: ActionClean}}
	assert.NoError(t, cfg.Validate())
}

func TestParse_Malformed(t *testing.T) {
	err := Parse([]byte("pipeline: [unclosed"), Default())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidateServe_NoAPIKeyNeeded(t *testing.T) {
	t.Setenv("CMC_API_KEY", "")

	cfg, err := Read("")
	require.NoError(t, err)

	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	assert.NoError(t, cfg.ValidateServe())

	cfg.Storage.Backend = "clickhouse"
	assert.ErrorIs(t, cfg.ValidateServe(), ErrInvalidConfig)
}
