package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"
  allowed_origins: ["https://console.example.com"]

database:
  url: "postgres://localhost/staging?sslmode=disable"

staging:
  pre_staging_table: "merchant_pre_staging"
  staging_pk_column: "staging_id"
  other_pre_staging_table: "legacy.pre_staging"
  batch_size: 250
  lock_batches: true

archive:
  s3_bucket: "raw-uploads"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, []string{"https://console.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "postgres://localhost/staging?sslmode=disable", cfg.Database.URL)

	assert.Equal(t, "merchant_pre_staging", cfg.Staging.PreStagingTable)
	assert.Equal(t, "id", cfg.Staging.PreStagingPKColumn)
	assert.Equal(t, "staging_id", cfg.Staging.StagingPKColumn)
	assert.Equal(t, "legacy.pre_staging", cfg.Staging.OtherPreStagingTable)
	assert.Equal(t, "id", cfg.Staging.OtherPreStagingPKColumn)
	assert.True(t, cfg.Staging.OtherEnabled())
	assert.Equal(t, 250, cfg.Staging.BatchSize)
	assert.Equal(t, 5000, cfg.Staging.MaxBatchSize)
	assert.True(t, cfg.Staging.LockBatches)

	assert.True(t, cfg.Archive.Enabled())
	assert.Equal(t, "us-east-1", cfg.Archive.S3Region)
}

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("{}\n"), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "pre_staging", cfg.Staging.PreStagingTable)
	assert.Equal(t, "import_job_id", cfg.Staging.PreStagingJobColumn)
	assert.Equal(t, "staging", cfg.Staging.StagingTable)
	assert.Equal(t, "staging_quarantine", cfg.Staging.QuarantineTable)
	assert.Equal(t, "import_jobs", cfg.Staging.JobsTable)
	assert.Equal(t, 1000, cfg.Staging.BatchSize)
	assert.Equal(t, 5000, cfg.Staging.MaxBatchSize)
	assert.Equal(t, "staging_row_count", cfg.Staging.CountProcedure)
	assert.False(t, cfg.Staging.OtherEnabled())
	assert.Empty(t, cfg.Staging.OtherPreStagingPKColumn)
	assert.False(t, cfg.Archive.Enabled())
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("staging: [unclosed"), 0644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://prod/staging")
	t.Setenv("PRE_STAGING_TABLE", "uploads_pending")
	t.Setenv("PRE_STAGING_PK_COLUMN", "row_id")
	t.Setenv("OTHER_PRE_STAGING_TABLE", "legacy_pending")
	t.Setenv("STAGING_BATCH_SIZE", "400")
	t.Setenv("STAGING_MAX_BATCH_SIZE", "2000")
	t.Setenv("ARCHIVE_S3_BUCKET", "raw-uploads")
	t.Setenv("STAGING_LOCK_BATCHES", "true")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://prod/staging", cfg.Database.URL)
	assert.Equal(t, "uploads_pending", cfg.Staging.PreStagingTable)
	assert.Equal(t, "row_id", cfg.Staging.PreStagingPKColumn)
	assert.Equal(t, "legacy_pending", cfg.Staging.OtherPreStagingTable)
	assert.Equal(t, "id", cfg.Staging.OtherPreStagingPKColumn)
	assert.Equal(t, 400, cfg.Staging.BatchSize)
	assert.Equal(t, 2000, cfg.Staging.MaxBatchSize)
	assert.True(t, cfg.Staging.LockBatches)
	assert.Equal(t, "raw-uploads", cfg.Archive.S3Bucket)
	assert.Equal(t, "staging", cfg.Staging.StagingTable)
}

func TestLoadFromEnvRejectsBadBatchSize(t *testing.T) {
	t.Setenv("STAGING_BATCH_SIZE", "lots")

	_, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	var envErr *EnvError
	require.ErrorAs(t, err, &envErr)
	assert.Equal(t, "STAGING_BATCH_SIZE", envErr.Key)
}
