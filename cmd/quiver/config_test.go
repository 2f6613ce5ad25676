package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigEnvVars(t *testing.T) {
	t.Setenv("QUIVER_LOG_FORMAT", "console")
	t.Setenv("QUIVER_LOG_LEVEL", "debug")
	t.Setenv("QUIVER_METRICS_ADDR", "127.0.0.1:9100")
	t.Setenv("QUIVER_STORAGE_TYPE", "s3")
	t.Setenv("QUIVER_STORAGE_S3_BUCKET", "indexes")
	t.Setenv("QUIVER_STORAGE_S3_USE_PATH_STYLE", "true")
	t.Setenv("QUIVER_STORAGE_S3_IDLE_CONN_TIMEOUT", "30s")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "indexes", cfg.Storage.S3.Bucket)
	assert.True(t, cfg.Storage.S3.UsePathStyle)
	assert.Equal(t, "30s", cfg.Storage.S3.IdleConnTimeout.String())
}

func TestLoadConfigEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quiver.env")
	require.NoError(t, os.WriteFile(path, []byte("QUIVER_LOG_LEVEL=warn\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("QUIVER_LOG_LEVEL") })

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"valid", func(*Config) {}, nil},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, ErrInvalidLogFormat},
		{"log level", func(c *Config) { c.LogLevel = "trace" }, ErrInvalidLogLevel},
		{"storage type", func(c *Config) { c.Storage.Type = "tape" }, ErrInvalidStorageType},
		{"storage dir", func(c *Config) { c.Storage.Dir = "" }, ErrInvalidStorageDir},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Equal(t, tt.want, ValidateConfig(&cfg))
		})
	}
}
