// Package config loads application configuration from file and environment
// and initializes the global logger.
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
	Store   StoreConfig             `yaml:"store" mapstructure:"store"`
	Sources map[string]SourceConfig `yaml:"sources" mapstructure:"sources"`
	Agency  AgencyConfig            `yaml:"agency" mapstructure:"agency"`
	Enrich  EnrichConfig            `yaml:"enrich" mapstructure:"enrich"`
	Archive ArchiveConfig           `yaml:"archive" mapstructure:"archive"`
	Fetch   FetchConfig             `yaml:"fetch" mapstructure:"fetch"`
	Scorer  ScorerConfig            `yaml:"scorer" mapstructure:"scorer"`
	Feeds   FeedsConfig             `yaml:"feeds" mapstructure:"feeds"`
	Data    DataConfig              `yaml:"data" mapstructure:"data"`
	Log     LogConfig               `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// SourceConfig holds one external metadata source's endpoint and its
// resilience policy. Every limit is externally supplied; nothing here is
// hard-coded into the enrichment layer.
type SourceConfig struct {
	BaseURL             string `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerPeriod   int    `yaml:"requests_per_period" mapstructure:"requests_per_period"`
	PeriodSecs          int    `yaml:"period_secs" mapstructure:"period_secs"`
	FailureThreshold    int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTimeoutSecs int    `yaml:"recovery_timeout_secs" mapstructure:"recovery_timeout_secs"`
}

// AgencyConfig maps agency codes on award records to source codes.
type AgencyConfig struct {
	Sources map[string]string `yaml:"sources" mapstructure:"sources"`
}

// EnrichConfig configures the enrichment orchestrator and batch optimizer.
type EnrichConfig struct {
	CallTimeoutSecs  int `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	BatchConcurrency int `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
}

// ArchiveConfig configures archive acquisition and its local cache.
type ArchiveConfig struct {
	URLTemplate        string `yaml:"url_template" mapstructure:"url_template"`
	CacheDir           string `yaml:"cache_dir" mapstructure:"cache_dir"`
	AlertsDir          string `yaml:"alerts_dir" mapstructure:"alerts_dir"`
	RetryWindowSecs    int    `yaml:"retry_window_secs" mapstructure:"retry_window_secs"`
	RetryIntervalSecs  int    `yaml:"retry_interval_secs" mapstructure:"retry_interval_secs"`
	AttemptTimeoutSecs int    `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs"`
}

// FetchConfig configures the HTTP download client and its retry policy.
type FetchConfig struct {
	TimeoutSecs           int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryMaxAttempts      int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryInitialBackoffMs int     `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int     `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	RetryMultiplier       float64 `yaml:"retry_multiplier" mapstructure:"retry_multiplier"`
	RetryJitterFraction   float64 `yaml:"retry_jitter_fraction" mapstructure:"retry_jitter_fraction"`
}

// ScorerConfig holds confidence scorer weights and level thresholds.
type ScorerConfig struct {
	UEIExact          float64 `yaml:"uei_exact" mapstructure:"uei_exact"`
	NameExact         float64 `yaml:"name_exact" mapstructure:"name_exact"`
	NameSimilarity    float64 `yaml:"name_similarity" mapstructure:"name_similarity"`
	AwardNumberExact  float64 `yaml:"award_number_exact" mapstructure:"award_number_exact"`
	AddressSimilarity float64 `yaml:"address_similarity" mapstructure:"address_similarity"`
	MediumThreshold   float64 `yaml:"medium_threshold" mapstructure:"medium_threshold"`
	HighThreshold     float64 `yaml:"high_threshold" mapstructure:"high_threshold"`
}

// FeedsConfig configures the delayed feed queue.
type FeedsConfig struct {
	ManifestPath string `yaml:"manifest_path" mapstructure:"manifest_path"`
}

// DataConfig locates the run logs and other persisted artifacts.
type DataConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
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
	v.SetEnvPrefix("AWARDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "awardsync.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("data.dir", "data")
	v.SetDefault("feeds.manifest_path", "data/pending_feeds.json")
	v.SetDefault("agency.sources", map[string]string{"NIH": "nih", "NSF": "nsf"})
	v.SetDefault("enrich.call_timeout_secs", 15)
	v.SetDefault("enrich.batch_concurrency", 4)
	v.SetDefault("archive.cache_dir", "data/archives")
	v.SetDefault("archive.alerts_dir", "data/alerts")
	v.SetDefault("archive.retry_window_secs", 900)
	v.SetDefault("archive.retry_interval_secs", 30)
	v.SetDefault("archive.attempt_timeout_secs", 120)
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.retry_max_attempts", 3)
	v.SetDefault("fetch.retry_initial_backoff_ms", 500)
	v.SetDefault("fetch.retry_max_backoff_ms", 10000)
	v.SetDefault("fetch.retry_multiplier", 2.0)
	v.SetDefault("fetch.retry_jitter_fraction", 0.2)
	v.SetDefault("sources.nih.base_url", "https://api.reporter.nih.gov")
	v.SetDefault("sources.nih.requests_per_period", 60)
	v.SetDefault("sources.nih.period_secs", 60)
	v.SetDefault("sources.nih.failure_threshold", 5)
	v.SetDefault("sources.nih.recovery_timeout_secs", 60)
	v.SetDefault("sources.nsf.base_url", "https://api.nsf.gov")
	v.SetDefault("sources.nsf.requests_per_period", 30)
	v.SetDefault("sources.nsf.period_secs", 60)
	v.SetDefault("sources.nsf.failure_threshold", 5)
	v.SetDefault("sources.nsf.recovery_timeout_secs", 60)
	v.SetDefault("scorer.uei_exact", 0.5)
	v.SetDefault("scorer.name_exact", 0.3)
	v.SetDefault("scorer.name_similarity", 0.2)
	v.SetDefault("scorer.award_number_exact", 0.2)
	v.SetDefault("scorer.address_similarity", 0.1)
	v.SetDefault("scorer.medium_threshold", 0.5)
	v.SetDefault("scorer.high_threshold", 0.8)

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
