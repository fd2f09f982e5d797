package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Routing    RoutingConfig    `yaml:"routing" mapstructure:"routing"`
	Confidence ConfidenceConfig `yaml:"confidence" mapstructure:"confidence"`
	Mapping    MappingConfig    `yaml:"mapping" mapstructure:"mapping"`
	RuleTest   RuleTestConfig   `yaml:"ruletest" mapstructure:"ruletest"`
	Catalog    CatalogConfig    `yaml:"catalog" mapstructure:"catalog"`
	Extractor  ExtractorConfig  `yaml:"extractor" mapstructure:"extractor"`
	TextLayer  TextLayerConfig  `yaml:"textlayer" mapstructure:"textlayer"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend. For sqlite, DatabaseURL is
// the database file path.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	RetryInitialBackoffMs int                     `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int                     `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	Steps                 map[string]StepOverride `yaml:"steps" mapstructure:"steps"`
}

// StepOverride replaces parts of a default step descriptor. Nil fields keep
// the default.
type StepOverride struct {
	TimeoutMs *int  `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	Retries   *int  `yaml:"retries" mapstructure:"retries"`
	Enabled   *bool `yaml:"enabled" mapstructure:"enabled"`
}

// RetryInitialBackoff returns the delay before the first stage retry.
func (p PipelineConfig) RetryInitialBackoff() time.Duration {
	return time.Duration(p.RetryInitialBackoffMs) * time.Millisecond
}

// RetryMaxBackoff returns the cap on the delay between stage retries.
func (p PipelineConfig) RetryMaxBackoff() time.Duration {
	return time.Duration(p.RetryMaxBackoffMs) * time.Millisecond
}

// RoutingConfig holds the review tier thresholds.
type RoutingConfig struct {
	AutoApproveThreshold float64 `yaml:"auto_approve_threshold" mapstructure:"auto_approve_threshold"`
	QuickReviewThreshold float64 `yaml:"quick_review_threshold" mapstructure:"quick_review_threshold"`
}

// ConfidenceConfig configures confidence aggregation.
type ConfidenceConfig struct {
	Method            string             `yaml:"method" mapstructure:"method"`
	CriticalFields    []string           `yaml:"critical_fields" mapstructure:"critical_fields"`
	CriticalThreshold float64            `yaml:"critical_threshold" mapstructure:"critical_threshold"`
	Weights           map[string]float64 `yaml:"weights" mapstructure:"weights"`
}

// MappingConfig configures the mapping resolver.
type MappingConfig struct {
	SyncIntervalSecs int `yaml:"sync_interval_secs" mapstructure:"sync_interval_secs"`
}

// RuleTestConfig configures rule regression testing.
type RuleTestConfig struct {
	MaxRegressionRate float64 `yaml:"max_regression_rate" mapstructure:"max_regression_rate"`
	SampleSize        int     `yaml:"sample_size" mapstructure:"sample_size"`
}

// CatalogConfig points at the issuer/format catalog.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ExtractorConfig configures the remote layout/vision extraction service.
type ExtractorConfig struct {
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	Key          string  `yaml:"key" mapstructure:"key"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit    float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst    int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	BreakerTrips int     `yaml:"breaker_trips" mapstructure:"breaker_trips"`
	// BreakerCooldownSecs is how long a method's backend is skipped after
	// its breaker opens.
	BreakerCooldownSecs int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// TextLayerConfig selects how documents without embedded text get one:
// none, pdftotext (local binary) or mistral (OCR API).
type TextLayerConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_key" mapstructure:"mistral_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// TemporalConfig configures the Temporal client used for async rule tests.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentDocuments int `yaml:"max_concurrent_documents" mapstructure:"max_concurrent_documents"`
}

// FetchConfig configures downloads of documents submitted by URL.
type FetchConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxBytes          int64   `yaml:"max_bytes" mapstructure:"max_bytes"`
}

// MonitoringConfig configures outcome alerting and rule test report delivery.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ManualRateThreshold  float64 `yaml:"manual_rate_threshold" mapstructure:"manual_rate_threshold"`
	MinAvgConfidence     float64 `yaml:"min_avg_confidence" mapstructure:"min_avg_confidence"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DOCFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "docflow.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("pipeline.retry_initial_backoff_ms", 200)
	v.SetDefault("pipeline.retry_max_backoff_ms", 2000)
	v.SetDefault("routing.auto_approve_threshold", 0.95)
	v.SetDefault("routing.quick_review_threshold", 0.80)
	v.SetDefault("confidence.method", "mean")
	v.SetDefault("confidence.critical_fields", []string{"invoice_number", "invoice_date", "total_amount"})
	v.SetDefault("confidence.critical_threshold", 0.70)
	v.SetDefault("mapping.sync_interval_secs", 30)
	v.SetDefault("ruletest.max_regression_rate", 0.05)
	v.SetDefault("ruletest.sample_size", 100)
	v.SetDefault("catalog.path", "catalog.yaml")
	v.SetDefault("extractor.timeout_secs", 90)
	v.SetDefault("extractor.rate_limit", 5.0)
	v.SetDefault("extractor.rate_burst", 5)
	v.SetDefault("extractor.breaker_trips", 5)
	v.SetDefault("extractor.breaker_cooldown_secs", 30)
	v.SetDefault("textlayer.provider", "none")
	v.SetDefault("fetch.user_agent", "docflow/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.requests_per_second", 5.0)
	v.SetDefault("fetch.max_bytes", 50<<20)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "docflow-ruletest")
	v.SetDefault("batch.max_concurrent_documents", 4)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.manual_rate_threshold", 0.30)

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

// Validate checks the settings a command needs. Every problem is reported,
// not just the first.
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Routing.QuickReviewThreshold <= 0 || c.Routing.QuickReviewThreshold > 1 {
		errs = append(errs, "routing.quick_review_threshold must be in (0,1]")
	}
	if c.Routing.AutoApproveThreshold <= c.Routing.QuickReviewThreshold || c.Routing.AutoApproveThreshold > 1 {
		errs = append(errs, "routing.auto_approve_threshold must be above quick_review_threshold and at most 1")
	}
	if c.Confidence.CriticalThreshold < 0 || c.Confidence.CriticalThreshold >= c.Routing.QuickReviewThreshold {
		errs = append(errs, "confidence.critical_threshold must be in [0, quick_review_threshold)")
	}
	switch c.Confidence.Method {
	case "mean", "weighted", "min":
	default:
		errs = append(errs, fmt.Sprintf("confidence.method %q is not one of mean, weighted, min", c.Confidence.Method))
	}
	for id, o := range c.Pipeline.Steps {
		if o.TimeoutMs != nil && *o.TimeoutMs <= 0 {
			errs = append(errs, fmt.Sprintf("pipeline.steps.%s.timeout_ms must be positive", id))
		}
		if o.Retries != nil && *o.Retries < 0 {
			errs = append(errs, fmt.Sprintf("pipeline.steps.%s.retries must not be negative", id))
		}
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch c.TextLayer.Provider {
	case "", "none", "pdftotext":
	case "mistral":
		if c.TextLayer.MistralKey == "" && (mode == "serve" || mode == "process" || mode == "batch") {
			errs = append(errs, "textlayer.mistral_key is required for the mistral provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("textlayer.provider %q is not one of none, pdftotext, mistral", c.TextLayer.Provider))
	}

	if c.Fetch.MaxBytes < 0 || c.Fetch.RequestsPerSecond < 0 {
		errs = append(errs, "fetch.max_bytes and fetch.requests_per_second must not be negative")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		if c.Monitoring.Enabled && c.Monitoring.WebhookURL == "" {
			errs = append(errs, "monitoring.webhook_url is required when monitoring is enabled")
		}
	case "process", "batch":
		if c.Extractor.BaseURL == "" {
			errs = append(errs, "extractor.base_url is required")
		}
		if c.Batch.MaxConcurrentDocuments <= 0 {
			errs = append(errs, "batch.max_concurrent_documents must be positive")
		}
	case "ruletest":
		if c.RuleTest.MaxRegressionRate < 0 || c.RuleTest.MaxRegressionRate > 1 {
			errs = append(errs, "ruletest.max_regression_rate must be in [0,1]")
		}
		if c.RuleTest.SampleSize <= 0 {
			errs = append(errs, "ruletest.sample_size must be positive")
		}
	case "worker":
		if c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
		if c.Temporal.TaskQueue == "" {
			errs = append(errs, "temporal.task_queue is required")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
