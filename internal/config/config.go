package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Staging  StagingConfig  `yaml:"staging"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	StatementTimeoutMS     int    `yaml:"statement_timeout_ms"`
}

// ConnMaxLifetime returns the pool connection lifetime.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds the optional Redis connection used for batch locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// StagingConfig names the tables the pipeline reads and writes. Every
// name can be overridden so the pipeline fits an existing schema.
type StagingConfig struct {
	PreStagingTable          string `yaml:"pre_staging_table"`
	PreStagingPKColumn       string `yaml:"pre_staging_pk_column"`
	PreStagingJobColumn      string `yaml:"pre_staging_job_column"`
	StagingTable             string `yaml:"staging_table"`
	StagingPKColumn          string `yaml:"staging_pk_column"`
	QuarantineTable          string `yaml:"quarantine_table"`
	JobsTable                string `yaml:"jobs_table"`
	OtherPreStagingTable     string `yaml:"other_pre_staging_table"`
	OtherPreStagingPKColumn  string `yaml:"other_pre_staging_pk_column"`
	OtherPreStagingJobColumn string `yaml:"other_pre_staging_job_column"`
	BatchSize                int    `yaml:"batch_size"`
	MaxBatchSize             int    `yaml:"max_batch_size"`
	CountProcedure           string `yaml:"count_procedure"`
	LockBatches              bool   `yaml:"lock_batches"`
	LockTTLSeconds           int    `yaml:"lock_ttl_seconds"`
}

// OtherEnabled reports whether the other pre-staging table is configured.
func (c StagingConfig) OtherEnabled() bool {
	return c.OtherPreStagingTable != ""
}

// LockTTL returns how long a batch guard survives a crashed holder.
func (c StagingConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// ArchiveConfig enables S3 archival of raw uploads when S3Bucket is set.
type ArchiveConfig struct {
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	Prefix     string `yaml:"prefix"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// Enabled reports whether uploads are archived.
func (c ArchiveConfig) Enabled() bool { return c.S3Bucket != "" }

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level            string `yaml:"level"`
	DisableRedaction bool   `yaml:"disable_redaction"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 100
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Database.StatementTimeoutMS == 0 {
		cfg.Database.StatementTimeoutMS = 60000
	}

	s := &cfg.Staging
	if s.PreStagingTable == "" {
		s.PreStagingTable = "pre_staging"
	}
	if s.PreStagingPKColumn == "" {
		s.PreStagingPKColumn = "id"
	}
	if s.PreStagingJobColumn == "" {
		s.PreStagingJobColumn = "import_job_id"
	}
	if s.StagingTable == "" {
		s.StagingTable = "staging"
	}
	if s.StagingPKColumn == "" {
		s.StagingPKColumn = "id"
	}
	if s.QuarantineTable == "" {
		s.QuarantineTable = "staging_quarantine"
	}
	if s.JobsTable == "" {
		s.JobsTable = "import_jobs"
	}
	if s.OtherPreStagingTable != "" && s.OtherPreStagingPKColumn == "" {
		s.OtherPreStagingPKColumn = "id"
	}
	if s.BatchSize == 0 {
		s.BatchSize = 1000
	}
	if s.MaxBatchSize == 0 {
		s.MaxBatchSize = 5000
	}
	if s.CountProcedure == "" {
		s.CountProcedure = "staging_row_count"
	}
	if s.LockTTLSeconds == 0 {
		s.LockTTLSeconds = 600
	}

	if cfg.Archive.S3Region == "" {
		cfg.Archive.S3Region = "us-east-1"
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "staging-uploads"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) first. A missing config file is not an
// error: defaults plus environment are enough to run on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &Config{}
		cfg.applyDefaults()
	} else if err != nil {
		return nil, err
	}

	envString("DATABASE_URL", &cfg.Database.URL)
	envString("REDIS_URL", &cfg.Redis.URL)
	envString("LOG_LEVEL", &cfg.Logging.Level)

	envString("PRE_STAGING_TABLE", &cfg.Staging.PreStagingTable)
	envString("PRE_STAGING_PK_COLUMN", &cfg.Staging.PreStagingPKColumn)
	envString("PRE_STAGING_JOB_COLUMN", &cfg.Staging.PreStagingJobColumn)
	envString("STAGING_TABLE", &cfg.Staging.StagingTable)
	envString("STAGING_PK_COLUMN", &cfg.Staging.StagingPKColumn)
	envString("QUARANTINE_TABLE", &cfg.Staging.QuarantineTable)
	envString("OTHER_PRE_STAGING_TABLE", &cfg.Staging.OtherPreStagingTable)
	envString("OTHER_PRE_STAGING_PK_COLUMN", &cfg.Staging.OtherPreStagingPKColumn)
	if cfg.Staging.OtherPreStagingTable != "" && cfg.Staging.OtherPreStagingPKColumn == "" {
		cfg.Staging.OtherPreStagingPKColumn = "id"
	}
	if err := envInt("STAGING_BATCH_SIZE", &cfg.Staging.BatchSize); err != nil {
		return nil, err
	}
	if err := envInt("STAGING_MAX_BATCH_SIZE", &cfg.Staging.MaxBatchSize); err != nil {
		return nil, err
	}
	if v := os.Getenv("STAGING_LOCK_BATCHES"); v != "" {
		cfg.Staging.LockBatches = v == "1" || strings.EqualFold(v, "true")
	}

	envString("ARCHIVE_S3_BUCKET", &cfg.Archive.S3Bucket)
	envString("ARCHIVE_S3_REGION", &cfg.Archive.S3Region)

	return cfg, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return &EnvError{Key: key, Value: v}
	}
	*dst = n
	return nil
}

// EnvError reports an environment override that could not be parsed.
type EnvError struct {
	Key   string
	Value string
}

func (e *EnvError) Error() string {
	return "invalid value " + strconv.Quote(e.Value) + " for " + e.Key + ": expected a positive integer"
}
