package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	GitHub    GitHubConfig    `yaml:"github" mapstructure:"github"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Analysis  AnalysisConfig  `yaml:"analysis" mapstructure:"analysis"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	RunLog    RunLogConfig    `yaml:"runlog" mapstructure:"runlog"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects where the snapshot lives: a file path, sqlite://path,
// or a postgres:// URL.
type StoreConfig struct {
	Location string `yaml:"location" mapstructure:"location"`
}

// GitHubConfig holds remote tracker settings.
type GitHubConfig struct {
	Token             string  `yaml:"token" mapstructure:"token"`
	Owner             string  `yaml:"owner" mapstructure:"owner"`
	Repo              string  `yaml:"repo" mapstructure:"repo"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	CommentWorkers    int     `yaml:"comment_workers" mapstructure:"comment_workers"`
}

// AnthropicConfig holds enrichment engine settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AnalysisConfig tunes the analysis kinds.
type AnalysisConfig struct {
	ChunkSize              int            `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkSizes             map[string]int `yaml:"chunk_sizes" mapstructure:"chunk_sizes"`
	DuplicateMinConfidence float64        `yaml:"duplicate_min_confidence" mapstructure:"duplicate_min_confidence"`
	StaleAfterDays         int            `yaml:"stale_after_days" mapstructure:"stale_after_days"`
	Recheck                bool           `yaml:"recheck" mapstructure:"recheck"`
}

// RetryConfig configures retries of engine and tracker calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the engine circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// RunLogConfig locates the run history database. An empty path disables it.
type RunLogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from cezar.yaml (optional) and CEZAR_* env vars.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("cezar")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CEZAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.location", ".cezar/store.json")
	v.SetDefault("github.token", "")
	v.SetDefault("github.owner", "")
	v.SetDefault("github.repo", "")
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.requests_per_second", 10.0)
	v.SetDefault("github.comment_workers", 4)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("analysis.chunk_size", 20)
	v.SetDefault("analysis.chunk_sizes", map[string]int{"digest": 10, "duplicates": 10})
	v.SetDefault("analysis.duplicate_min_confidence", 0.8)
	v.SetDefault("analysis.stale_after_days", 90)
	v.SetDefault("analysis.recheck", false)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("runlog.path", ".cezar/runs.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

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

// Validate checks the settings a command mode needs. Modes: "store",
// "sync", "analyze".
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Store.Location == "" {
		errs = append(errs, "store.location is required")
	}

	switch mode {
	case "store":
	case "sync":
		if c.GitHub.CommentWorkers < 1 || c.GitHub.CommentWorkers > 32 {
			errs = append(errs, "github.comment_workers must be between 1 and 32")
		}
		if c.GitHub.RequestsPerSecond <= 0 {
			errs = append(errs, "github.requests_per_second must be > 0")
		}
	case "analyze":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Anthropic.Model == "" {
			errs = append(errs, "anthropic.model is required")
		}
		if c.Analysis.ChunkSize < 1 || c.Analysis.ChunkSize > 100 {
			errs = append(errs, "analysis.chunk_size must be between 1 and 100")
		}
		for kind, n := range c.Analysis.ChunkSizes {
			if n < 1 || n > 100 {
				errs = append(errs, fmt.Sprintf("analysis.chunk_sizes.%s must be between 1 and 100", kind))
			}
		}
		if c.Analysis.DuplicateMinConfidence < 0 || c.Analysis.DuplicateMinConfidence > 1 {
			errs = append(errs, "analysis.duplicate_min_confidence must be between 0 and 1")
		}
		if c.Analysis.StaleAfterDays < 1 {
			errs = append(errs, "analysis.stale_after_days must be >= 1")
		}
		if c.Retry.MaxAttempts < 1 {
			errs = append(errs, "retry.max_attempts must be >= 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
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
