package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 2500, cfg.Ingest.BatchCommitSize)
	assert.Equal(t, 50, cfg.Ingest.UploadWorkers)
	assert.Equal(t, 50000, cfg.Ingest.BodyOffloadThreshold)
	assert.Equal(t, 1024*1024, cfg.Ingest.AttachmentChunkSize)
	assert.False(t, cfg.Ingest.IncludeInlineImages)
	assert.False(t, cfg.Ingest.PrecountMessages)
	assert.Equal(t, "discovery-attachments", cfg.Blob.Bucket)
	assert.Equal(t, "discovery-bodies", cfg.Blob.BodyBucket)
	assert.True(t, cfg.Blob.UseSSL)
	assert.Equal(t, "emails", cfg.Search.Index)
	assert.False(t, cfg.Search.Enabled)
	assert.True(t, cfg.Scope.SpamFilter)
	assert.Equal(t, 36, cfg.Thread.TimeWindowHours)
	assert.Equal(t, 6, cfg.Thread.QuotedAnchorLines)
	assert.Equal(t, 4, cfg.Thread.SubjectNumericTokenLen)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500, cfg.Retry.InitialBackoffMs)
	assert.Equal(t, 0.25, cfg.Retry.JitterFraction)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
ingest:
  batch_commit_size: 500
  upload_workers: 8
thread:
  time_window_hours: 48
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 500, cfg.Ingest.BatchCommitSize)
	assert.Equal(t, 8, cfg.Ingest.UploadWorkers)
	assert.Equal(t, 48, cfg.Thread.TimeWindowHours)
	// Defaults still apply for unset values
	assert.Equal(t, 50000, cfg.Ingest.BodyOffloadThreshold)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("DISCOVERY_STORE_DRIVER", "postgres")
	t.Setenv("DISCOVERY_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("DISCOVERY_INGEST_UPLOAD_WORKERS", "12")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Ingest.UploadWorkers)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the defaults validation cares about.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	cfg.Blob.Endpoint = "localhost:9000"
	cfg.Ingest.BatchCommitSize = 2500
	cfg.Ingest.UploadWorkers = 50
	cfg.Ingest.AttachmentChunkSize = 1024 * 1024
	cfg.Thread.TimeWindowHours = 36
	cfg.Thread.QuotedAnchorLines = 6
	return cfg
}

func TestValidateIngest_AllPresent(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("ingest"))
}

func TestValidateIngest_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Blob.Endpoint = ""

	err := cfg.Validate("ingest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "blob.endpoint is required")
}

func TestValidateIngest_SQLiteNeedsNoURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""

	assert.NoError(t, cfg.Validate("ingest"))
}

func TestValidateIngest_WorkerBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Ingest.UploadWorkers = 0
	err := cfg.Validate("ingest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "upload_workers must be between 1 and 200")

	cfg.Ingest.UploadWorkers = 201
	err = cfg.Validate("ingest")
	assert.Error(t, err)

	cfg.Ingest.UploadWorkers = 200
	assert.NoError(t, cfg.Validate("ingest"))
}

func TestValidateThreads(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("threads"))

	cfg.Thread.TimeWindowHours = 0
	err := cfg.Validate("threads")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "time_window_hours")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
