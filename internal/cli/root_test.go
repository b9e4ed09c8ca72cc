package cli

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cmc-analytics/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand(&bytes.Buffer{}, &bytes.Buffer{})

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"pipeline", "run-once", "serve", "migrate"}, names)

	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestMigrate_DuckDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cmc.duckdb")
	path := writeConfig(t, fmt.Sprintf(`
storage:
  backend: duckdb
  duckdb:
    path: %s
run_log:
  backend: duckdb
logging:
  level: error
  output: stderr
`, dbPath))

	out, err := execute(t, "migrate", "-c", path)
	require.NoError(t, err)

	assert.Contains(t, out, "schemas up to date (storage=duckdb, run_log=duckdb)")
	assert.FileExists(t, dbPath)
}

func TestMigrate_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: clickhouse
logging:
  level: error
  output: stderr
`)

	_, err := execute(t, "migrate", "--config", path)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRunOnce_StatusOnly(t *testing.T) {
	dir := t.TempDir()
	statusPath := filepath.Join(dir, "pipeline.log")
	path := writeConfig(t, fmt.Sprintf(`
pipeline:
  schedule:
    interval: 1h
  steps:
    - name: status
      action: log_status
storage:
  backend: memory
run_log:
  backend: memory
  status_path: %s
staging:
  dir: %s
logging:
  level: error
  output: stderr
`, statusPath, filepath.Join(dir, "staging")))

	_, err := execute(t, "run-once", "-c", path)
	require.NoError(t, err)

	data, err := os.ReadFile(statusPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pipeline completed")
}

func TestRunOnce_FailedStepFailsCommand(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	dir := t.TempDir()
	path := writeConfig(t, fmt.Sprintf(`
pipeline:
  schedule:
    interval: 1h
  steps:
    - name: fetch
      action: ingest
upstream:
  base_url: %s
  api_key: test-key
  max_retries: 0
  requests_per_second: 0
storage:
  backend: memory
run_log:
  backend: memory
staging:
  dir: %s
logging:
  level: error
  output: stderr
`, upstream.URL, filepath.Join(dir, "staging")))

	_, err := execute(t, "run-once", "-c", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepsFailed)
}

func TestPipeline_WithAPIKeepsRunningWhenAPIFails(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	dir := t.TempDir()
	statusPath := filepath.Join(dir, "pipeline.log")
	path := writeConfig(t, fmt.Sprintf(`
pipeline:
  schedule:
    interval: 1h
  steps:
    - name: status
      action: log_status
storage:
  backend: memory
run_log:
  backend: memory
  status_path: %s
staging:
  dir: %s
server:
  addr: %s
  metrics_addr: ""
logging:
  level: error
  output: stderr
`, statusPath, filepath.Join(dir, "staging"), taken.Addr().String()))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	cmd := NewRootCommand(&bytes.Buffer{}, &bytes.Buffer{})
	cmd.SetArgs([]string{"pipeline", "--with-api", "-c", path})
	start := time.Now()
	err = cmd.ExecuteContext(ctx)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond, "pipeline must run until cancelled")

	data, err := os.ReadFile(statusPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pipeline completed")
}
