package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Join(cfg.DataDir, "storage"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join(cfg.DataDir, "manifest.db"), cfg.ManifestPath())
	assert.True(t, cfg.ShouldRunHTTP())
	assert.True(t, cfg.ShouldRunGRPC())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "compact" }},
		{"bad storage", func(c *Config) { c.Storage.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"zero concurrency", func(c *Config) { c.Pipeline.DownloadConcurrency = 0 }},
		{"brokers without topic", func(c *Config) {
			c.Notify.Brokers = []string{"localhost:9092"}
			c.Notify.Topic = ""
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vibewatch.yaml")
	data := []byte(`
mode: http
data_dir: /tmp/vw
http:
  addr: ":9999"
pipeline:
  timeout: 30s
  download_concurrency: 2
notify:
  brokers: ["kafka:9092"]
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ModeHTTP, cfg.Mode)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.Timeout)
	assert.Equal(t, 2, cfg.Pipeline.DownloadConcurrency)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Notify.Brokers)
	assert.Equal(t, "vibewatch.flagged", cfg.Notify.Topic)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.ShouldRunGRPC())
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vibewatch.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = 'all'"), 0644))
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("VIBEWATCH_MODE", "grpc")
	t.Setenv("VIBEWATCH_KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("VIBEWATCH_PIPELINE_TIMEOUT", "90s")
	t.Setenv("VIBEWATCH_LOG_FORMAT", "json")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	assert.Equal(t, ModeGRPC, cfg.Mode)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Notify.Brokers)
	assert.Equal(t, 90*time.Second, cfg.Pipeline.Timeout)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("VIBEWATCH_TEST_DOTENV=loaded\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("VIBEWATCH_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "loaded", os.Getenv("VIBEWATCH_TEST_DOTENV"))
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Resolve()
	require.NoError(t, cfg.EnsureDirectories())
	for _, dir := range []string{cfg.DataDir, cfg.Storage.Path, cfg.Pipeline.WorkDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
