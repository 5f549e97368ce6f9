package config

import (
	"errors"
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
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	DLQ        DLQConfig        `yaml:"dlq" mapstructure:"dlq"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// DelayRange is a randomized delay window in milliseconds.
type DelayRange struct {
	MinMs int `yaml:"min" mapstructure:"min"`
	MaxMs int `yaml:"max" mapstructure:"max"`
}

// Bounds returns the window as durations.
func (d DelayRange) Bounds() (time.Duration, time.Duration) {
	return time.Duration(d.MinMs) * time.Millisecond, time.Duration(d.MaxMs) * time.Millisecond
}

// EngineConfig configures batch sizing, pacing, and confidence thresholds.
type EngineConfig struct {
	InitialBatchSize        int        `yaml:"initial_batch_size" mapstructure:"initial_batch_size"`
	MinBatchSize            int        `yaml:"min_batch_size" mapstructure:"min_batch_size"`
	MaxBatchSize            int        `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	MaxConsecutiveFailures  int        `yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
	BatchDelay              DelayRange `yaml:"batch_delay_ms" mapstructure:"batch_delay_ms"`
	LowSuccessRateThreshold float64    `yaml:"low_success_rate_threshold" mapstructure:"low_success_rate_threshold"`
	LowSuccessRateDelay     DelayRange `yaml:"low_success_rate_delay_ms" mapstructure:"low_success_rate_delay_ms"`
	SingleRetryDelay        DelayRange `yaml:"single_retry_delay_ms" mapstructure:"single_retry_delay_ms"`
	SuccessWindow           int        `yaml:"success_window" mapstructure:"success_window"`
	MaxInFlight             int        `yaml:"max_in_flight" mapstructure:"max_in_flight"`

	HighConfidenceThreshold float64    `yaml:"high_confidence_threshold" mapstructure:"high_confidence_threshold"`
	AcceptedMinConfidence   float64    `yaml:"accepted_min_confidence" mapstructure:"accepted_min_confidence"`
	InterRequestDelay       DelayRange `yaml:"inter_request_delay_ms" mapstructure:"inter_request_delay_ms"`
	RateLimitCooldownMs     int        `yaml:"rate_limit_cooldown_ms" mapstructure:"rate_limit_cooldown_ms"`
	Parallel                bool       `yaml:"parallel" mapstructure:"parallel"`
	MaxFallbacksPerEntity   int        `yaml:"max_fallbacks_per_entity" mapstructure:"max_fallbacks_per_entity"`
}

// RetryConfig configures the adaptive retry manager.
type RetryConfig struct {
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	BaseDelayMs       int     `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	Jitter            float64 `yaml:"jitter" mapstructure:"jitter"`
	StreakThreshold   int     `yaml:"streak_threshold" mapstructure:"streak_threshold"`
	StreakMaxScale    float64 `yaml:"streak_max_scale" mapstructure:"streak_max_scale"`
}

// CircuitConfig configures per-operation circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// FetchConfig configures the page-fetch capability.
type FetchConfig struct {
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxBodyKB   int      `yaml:"max_body_kb" mapstructure:"max_body_kb"`
	RatePerHost float64  `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	UserAgents  []string `yaml:"user_agents" mapstructure:"user_agents"`
	AcceptLangs []string `yaml:"accept_languages" mapstructure:"accept_languages"`
	// ExcludePaths are URL path globs never fetched (e.g. "/login/*").
	ExcludePaths []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// SourcesConfig points at the adapter/strategy catalog.
type SourcesConfig struct {
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// JinaConfig holds Jina AI Reader/Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
	Country       string `yaml:"country" mapstructure:"country"`
	Language      string `yaml:"language" mapstructure:"language"`
	Results       int    `yaml:"results" mapstructure:"results"`
}

// AnthropicConfig holds Anthropic API settings for LLM extraction fallback.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// DLQConfig configures the dead letter queue for unresolved entities.
type DLQConfig struct {
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
	MaxRetries int  `yaml:"max_retries" mapstructure:"max_retries"`
}

// MonitoringConfig configures alert thresholds and delivery.
type MonitoringConfig struct {
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	MinSuccessRate    float64 `yaml:"min_success_rate" mapstructure:"min_success_rate"`
	MaxWaitShare      float64 `yaml:"max_wait_share" mapstructure:"max_wait_share"`
	MinAttempts       int     `yaml:"min_attempts" mapstructure:"min_attempts"`
	CheckIntervalSecs int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	// RepeatAfterSecs is how long a still-firing alert stays quiet before it is resent.
	RepeatAfterSecs int `yaml:"repeat_after_secs" mapstructure:"repeat_after_secs"`
}

// ServerConfig configures the control server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads config.yaml from the working directory, if present, and the
// FACILITY_* environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An explicit path that does
// not exist is an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("FACILITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

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

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "facility.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("engine.initial_batch_size", 10)
	v.SetDefault("engine.min_batch_size", 1)
	v.SetDefault("engine.max_batch_size", 20)
	v.SetDefault("engine.max_consecutive_failures", 3)
	v.SetDefault("engine.batch_delay_ms.min", 2000)
	v.SetDefault("engine.batch_delay_ms.max", 5000)
	v.SetDefault("engine.low_success_rate_threshold", 0.8)
	v.SetDefault("engine.low_success_rate_delay_ms.min", 10000)
	v.SetDefault("engine.low_success_rate_delay_ms.max", 20000)
	v.SetDefault("engine.single_retry_delay_ms.min", 500)
	v.SetDefault("engine.single_retry_delay_ms.max", 1500)
	v.SetDefault("engine.success_window", 5)
	v.SetDefault("engine.max_in_flight", 1)
	v.SetDefault("engine.high_confidence_threshold", 0.7)
	v.SetDefault("engine.accepted_min_confidence", 0.1)
	v.SetDefault("engine.inter_request_delay_ms.min", 1000)
	v.SetDefault("engine.inter_request_delay_ms.max", 3000)
	v.SetDefault("engine.rate_limit_cooldown_ms", 30000)
	v.SetDefault("engine.parallel", false)
	v.SetDefault("engine.max_fallbacks_per_entity", 1)

	v.SetDefault("retry.max_retries", 5)
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("retry.backoff_multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.1)
	v.SetDefault("retry.streak_threshold", 3)
	v.SetDefault("retry.streak_max_scale", 3.0)

	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)

	v.SetDefault("fetch.timeout_secs", 15)
	v.SetDefault("fetch.max_body_kb", 1024)
	v.SetDefault("fetch.rate_per_host", 1.0)

	v.SetDefault("sources.catalog_path", "sources.yaml")
	// Empty defaults register the keys so FACILITY_* env vars reach Unmarshal.
	v.SetDefault("jina.key", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("jina.country", "KR")
	v.SetDefault("jina.language", "ko")
	v.SetDefault("jina.results", 5)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)

	v.SetDefault("dlq.enabled", true)
	v.SetDefault("dlq.max_retries", 3)

	v.SetDefault("monitoring.min_success_rate", 0.5)
	v.SetDefault("monitoring.max_wait_share", 0.9)
	v.SetDefault("monitoring.min_attempts", 10)
	v.SetDefault("monitoring.check_interval_secs", 60)
	v.SetDefault("monitoring.repeat_after_secs", 900)
}

// Defaults returns a Config holding only the built-in defaults.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks the configuration for the given command mode ("run",
// "serve", "dlq"). All violations are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run", "dlq":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "none":
		if mode == "dlq" {
			errs = append(errs, "dlq requires a store (store.driver must be postgres or sqlite)")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres, sqlite, or none", c.Store.Driver))
	}

	e := c.Engine
	if e.MinBatchSize < 1 || e.MinBatchSize > e.MaxBatchSize {
		errs = append(errs, "engine.min_batch_size must be between 1 and max_batch_size")
	}
	if e.InitialBatchSize < e.MinBatchSize || e.InitialBatchSize > e.MaxBatchSize {
		errs = append(errs, "engine.initial_batch_size must be within [min_batch_size, max_batch_size]")
	}
	if e.MaxConsecutiveFailures < 1 {
		errs = append(errs, "engine.max_consecutive_failures must be >= 1")
	}
	if e.MaxInFlight < 1 || e.MaxInFlight > 50 {
		errs = append(errs, "engine.max_in_flight must be between 1 and 50")
	}
	fractions := []struct {
		name string
		v    float64
	}{
		{"engine.low_success_rate_threshold", e.LowSuccessRateThreshold},
		{"engine.high_confidence_threshold", e.HighConfidenceThreshold},
		{"engine.accepted_min_confidence", e.AcceptedMinConfidence},
	}
	for _, f := range fractions {
		if f.v < 0 || f.v > 1 {
			errs = append(errs, f.name+" must be within [0, 1]")
		}
	}
	delays := []struct {
		name string
		d    DelayRange
	}{
		{"engine.batch_delay_ms", e.BatchDelay},
		{"engine.low_success_rate_delay_ms", e.LowSuccessRateDelay},
		{"engine.single_retry_delay_ms", e.SingleRetryDelay},
		{"engine.inter_request_delay_ms", e.InterRequestDelay},
	}
	for _, r := range delays {
		if r.d.MinMs < 0 || r.d.MinMs > r.d.MaxMs {
			errs = append(errs, r.name+" must satisfy 0 <= min <= max")
		}
	}

	if c.Retry.MaxRetries < 1 {
		errs = append(errs, "retry.max_retries must be >= 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		errs = append(errs, "retry.jitter must be within [0, 1]")
	}

	if len(errs) > 0 {
		return eris.Wrap(errors.New(strings.Join(errs, "; ")), "config: invalid")
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
