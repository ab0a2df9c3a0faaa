package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Blob   BlobConfig   `yaml:"blob" mapstructure:"blob"`
	Search SearchConfig `yaml:"search" mapstructure:"search"`
	Ingest IngestConfig `yaml:"ingest" mapstructure:"ingest"`
	Scope  ScopeConfig  `yaml:"scope" mapstructure:"scope"`
	Thread ThreadConfig `yaml:"thread" mapstructure:"thread"`
	Retry  RetryConfig  `yaml:"retry" mapstructure:"retry"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// BlobConfig configures the S3-compatible object store used for archive
// retrieval, attachment content, and offloaded message bodies.
type BlobConfig struct {
	Endpoint   string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey  string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey  string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket     string `yaml:"bucket" mapstructure:"bucket"`
	BodyBucket string `yaml:"body_bucket" mapstructure:"body_bucket"`
	UseSSL     bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// SearchConfig configures the best-effort search indexer.
type SearchConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Index   string `yaml:"index" mapstructure:"index"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// IngestConfig configures the archive ingestion run.
type IngestConfig struct {
	BatchCommitSize      int    `yaml:"batch_commit_size" mapstructure:"batch_commit_size"`
	UploadWorkers        int    `yaml:"upload_workers" mapstructure:"upload_workers"`
	BodyOffloadThreshold int    `yaml:"body_offload_threshold" mapstructure:"body_offload_threshold"`
	AttachmentChunkSize  int    `yaml:"attachment_chunk_size" mapstructure:"attachment_chunk_size"`
	IncludeInlineImages  bool   `yaml:"include_inline_images" mapstructure:"include_inline_images"`
	PrecountMessages     bool   `yaml:"precount_messages" mapstructure:"precount_messages"`
	ProgressIntervalSecs int    `yaml:"progress_interval_secs" mapstructure:"progress_interval_secs"`
	ProgressEvery        int    `yaml:"progress_every" mapstructure:"progress_every"`
	WorkDir              string `yaml:"work_dir" mapstructure:"work_dir"`
}

// ScopeConfig configures project scoping and spam filtering.
type ScopeConfig struct {
	TermsFile     string   `yaml:"terms_file" mapstructure:"terms_file"`
	CurrentTerms  []string `yaml:"current_terms" mapstructure:"current_terms"`
	ExcludedTerms []string `yaml:"excluded_terms" mapstructure:"excluded_terms"`
	SpamFilter    bool     `yaml:"spam_filter" mapstructure:"spam_filter"`
}

// ThreadConfig configures thread reconstruction.
type ThreadConfig struct {
	TimeWindowHours        int `yaml:"time_window_hours" mapstructure:"time_window_hours"`
	QuotedAnchorLines      int `yaml:"quoted_anchor_lines" mapstructure:"quoted_anchor_lines"`
	SubjectNumericTokenLen int `yaml:"subject_numeric_token_len" mapstructure:"subject_numeric_token_len"`
}

// RetryConfig configures retry behavior for object storage and search
// indexer calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("blob.bucket", "discovery-attachments")
	v.SetDefault("blob.body_bucket", "discovery-bodies")
	v.SetDefault("blob.use_ssl", true)
	v.SetDefault("search.index", "emails")
	v.SetDefault("search.enabled", false)
	v.SetDefault("ingest.batch_commit_size", 2500)
	v.SetDefault("ingest.upload_workers", 50)
	v.SetDefault("ingest.body_offload_threshold", 50000)
	v.SetDefault("ingest.attachment_chunk_size", 1024*1024)
	v.SetDefault("ingest.progress_interval_secs", 2)
	v.SetDefault("ingest.progress_every", 250)
	v.SetDefault("ingest.work_dir", "/tmp/discovery-ingest")
	v.SetDefault("scope.spam_filter", true)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("thread.time_window_hours", 36)
	v.SetDefault("thread.quoted_anchor_lines", 6)
	v.SetDefault("thread.subject_numeric_token_len", 4)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration required for the given command
// mode is present. Modes: "ingest", "threads", "dedupe", "runs".
func (c *Config) Validate(mode string) error {
	var missing []string

	requireStore := func() {
		if c.Store.DatabaseURL == "" && c.Store.Driver != "sqlite" {
			missing = append(missing, "store.database_url is required")
		}
	}

	switch mode {
	case "ingest":
		requireStore()
		if c.Blob.Endpoint == "" {
			missing = append(missing, "blob.endpoint is required")
		}
		if c.Ingest.BatchCommitSize < 1 {
			missing = append(missing, "ingest.batch_commit_size must be >= 1")
		}
		if c.Ingest.UploadWorkers < 1 || c.Ingest.UploadWorkers > 200 {
			missing = append(missing, "ingest.upload_workers must be between 1 and 200")
		}
		if c.Ingest.AttachmentChunkSize < 1 {
			missing = append(missing, "ingest.attachment_chunk_size must be >= 1")
		}
	case "threads":
		requireStore()
		if c.Thread.TimeWindowHours < 1 {
			missing = append(missing, "thread.time_window_hours must be >= 1")
		}
		if c.Thread.QuotedAnchorLines < 1 {
			missing = append(missing, "thread.quoted_anchor_lines must be >= 1")
		}
	case "dedupe", "runs":
		requireStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
