package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Purpose-based model routing keys. Distinct purposes may route to models of
// different capability and cost.
const (
	PurposePlanning            = "planning"
	PurposeExecution           = "execution"
	PurposeCorrection          = "correction"
	PurposeReview              = "review"
	PurposeCompaction          = "compaction"
	PurposeDependencyInference = "dependency_inference"
)

// RuntimeConfig carries process-wide settings: provider access, model routing,
// scheduling defaults, and budgets.
type RuntimeConfig struct {
	LLMProvider string `mapstructure:"llm_provider"`
	LLMModel    string `mapstructure:"llm_model"`
	BaseURL     string `mapstructure:"base_url"`
	APIKey      string `mapstructure:"api_key"`

	// ModelsByPurpose overrides the default model per purpose.
	ModelsByPurpose map[string]string `mapstructure:"models_by_purpose"`

	ContextWindowTokens int     `mapstructure:"context_window_tokens"`
	MaxTokens           int     `mapstructure:"max_tokens"`
	Temperature         float64 `mapstructure:"temperature"`

	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	CommandTimeoutSeconds int `mapstructure:"command_timeout_seconds"`
	GateTimeoutSeconds    int `mapstructure:"gate_timeout_seconds"`

	MaxParallel   int `mapstructure:"max_parallel"`
	MaxFixRetries int `mapstructure:"max_fix_retries"`

	// RunTokenBudget is the soft per-run token budget; 0 disables it.
	RunTokenBudget int `mapstructure:"run_token_budget"`

	// BlockerExpiryHours is the blocker expiry window, default 24h.
	BlockerExpiryHours int `mapstructure:"blocker_expiry_hours"`

	LogLevel string `mapstructure:"log_level"`
}

// LoadRuntime reads ~/.codeframe/config.yaml plus CODEFRAME_* environment
// overrides. All fields have working defaults so a missing file is fine.
func LoadRuntime() (*RuntimeConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.codeframe")
	v.SetEnvPrefix("CODEFRAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("llm_provider", "anthropic")
	v.SetDefault("llm_model", "claude-sonnet-4-5")
	v.SetDefault("context_window_tokens", 200000)
	v.SetDefault("max_tokens", 8192)
	v.SetDefault("temperature", 0.2)
	v.SetDefault("request_timeout_seconds", 120)
	v.SetDefault("command_timeout_seconds", 120)
	v.SetDefault("gate_timeout_seconds", 300)
	v.SetDefault("max_parallel", 4)
	v.SetDefault("max_fix_retries", 5)
	v.SetDefault("blocker_expiry_hours", 24)
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is not an error; malformed config is.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &RuntimeConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ModelFor resolves the model for a purpose, falling back to the default model.
func (c *RuntimeConfig) ModelFor(purpose string) string {
	if c.ModelsByPurpose != nil {
		if model, ok := c.ModelsByPurpose[strings.ToLower(purpose)]; ok && model != "" {
			return model
		}
	}
	return c.LLMModel
}

// RequestTimeout returns the provider request timeout.
func (c *RuntimeConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// CommandTimeout returns the per-command subprocess timeout.
func (c *RuntimeConfig) CommandTimeout() time.Duration {
	if c.CommandTimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// GateTimeout returns the lint/test gate timeout.
func (c *RuntimeConfig) GateTimeout() time.Duration {
	if c.GateTimeoutSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.GateTimeoutSeconds) * time.Second
}

// BlockerExpiry returns the blocker expiry window.
func (c *RuntimeConfig) BlockerExpiry() time.Duration {
	if c.BlockerExpiryHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.BlockerExpiryHours) * time.Hour
}
