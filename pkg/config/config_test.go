package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-moderation/pkg/moderation"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.Server.Address)
	assert.Equal(t, 280, cfg.Limits.PostMaxLength)
	assert.Equal(t, 200, cfg.Limits.CommentMaxLength)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "polis-moderation", cfg.Telemetry.ServiceName)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRatio)
}

func TestLoad_SampleRatio(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "telemetry:\n  sample_ratio: 0\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Telemetry.SampleRatio)

	path = writeFile(t, t.TempDir(), "config.yaml", "telemetry:\n  sample_ratio: 1.5\n")
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_FileWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_TABLES_DIR", "/etc/moderation")
	path := writeFile(t, t.TempDir(), "config.yaml", `
server:
  address: ":9000"
  read_timeout: 3s
  max_body_bytes: 2048
limits:
  post_max_length: 500
moderation:
  tables_file: "${TEST_TABLES_DIR}/tables.yaml"
  watch_tables: true
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, int64(2048), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 500, cfg.Limits.PostMaxLength)
	assert.Equal(t, 200, cfg.Limits.CommentMaxLength, "unset fields keep defaults")
	assert.Equal(t, "/etc/moderation/tables.yaml", cfg.Moderation.TablesFile)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MODERATION_ADDR", ":7777")
	t.Setenv("MODERATION_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("MODERATION_OTLP_INSECURE", "true")
	t.Setenv("MODERATION_MAX_BODY_BYTES", "4096")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Address)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, int64(4096), cfg.Server.MaxBodyBytes)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"negative limit":     "limits:\n  post_max_length: -1\n",
		"watch without file": "moderation:\n  watch_tables: true\n",
		"cert without key":   "server:\n  cert_file: /tmp/cert.pem\n",
		"zero body":          "server:\n  max_body_bytes: 0\n",
		"negative rate":      "server:\n  rate_limits:\n    moderate:\n      requests_per_second: -1\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", content)
			_, err := Load(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoad_RateLimits(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `server:
  rate_limits:
    moderate:
      requests_per_second: 50
      burst: 100
    moderate_batch:
      requests_per_second: 2.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Server.RateLimits, 2)
	assert.Equal(t, 50.0, cfg.Server.RateLimits["moderate"].RequestsPerSecond)
	assert.Equal(t, 100, cfg.Server.RateLimits["moderate"].Burst)
	assert.Equal(t, 2.5, cfg.Server.RateLimits["moderate_batch"].RequestsPerSecond)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestShippedConfigs(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("DEPLOY_ENV", "test")

	cfg, err := Load(filepath.Join("..", "..", "configs", "moderation.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.Moderation.WatchTables)
	assert.Equal(t, "test", cfg.Telemetry.Environment)
	assert.Equal(t, 20.0, cfg.Server.RateLimits["moderate_batch"].RequestsPerSecond)

	tables, err := LoadTables(filepath.Join("..", "..", "configs", "tables.yaml"))
	require.NoError(t, err)
	assert.Equal(t, moderation.DefaultTables(), tables)
}
