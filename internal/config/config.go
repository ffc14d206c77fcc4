package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log       LogConfig        `mapstructure:"log"`
	Consensus ConsensusConfig  `mapstructure:"consensus"`
	Threads   ThreadsConfig    `mapstructure:"threads"`
	Providers []ProviderConfig `mapstructure:"providers"`
	Models    []ModelConfig    `mapstructure:"models"`
	Server    ServerConfig     `mapstructure:"server"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ConsensusConfig configures the consultation engine.
type ConsensusConfig struct {
	// DefaultModelTimeout applies to models whose provider reports no timeout.
	DefaultModelTimeout time.Duration `mapstructure:"default_model_timeout"`
	// PhaseBuffer is added to the slowest model's timeout to form the phase deadline.
	PhaseBuffer         time.Duration `mapstructure:"phase_buffer"`
	MaxWorkers          int           `mapstructure:"max_workers"`
	Temperature         float64       `mapstructure:"temperature"`
	EnableCrossFeedback bool          `mapstructure:"enable_cross_feedback"`
	// MaxPromptTokens caps prompts for models without a declared input limit; 0 disables the check.
	MaxPromptTokens  int    `mapstructure:"max_prompt_tokens"`
	SystemPromptFile string `mapstructure:"system_prompt_file"`
	// FilesRoot confines context files and local images; empty means the working directory.
	FilesRoot string `mapstructure:"files_root"`
}

// ThreadsConfig configures continuation thread persistence.
type ThreadsConfig struct {
	Backend  string        `mapstructure:"backend"` // memory, file, sqlite, redis
	Path     string        `mapstructure:"path"`
	MaxTurns int           `mapstructure:"max_turns"`
	TTL      time.Duration `mapstructure:"ttl"`
	Redis    RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the redis thread backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ProviderConfig configures one model provider endpoint.
type ProviderConfig struct {
	Name         string            `mapstructure:"name"`
	Type         string            `mapstructure:"type"`
	BaseURL      string            `mapstructure:"base_url"`
	APIKeyEnv    string            `mapstructure:"api_key_env"`
	RateLimitRPM int               `mapstructure:"rate_limit_rpm"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	MaxRetries   int               `mapstructure:"max_retries"`
	Headers      map[string]string `mapstructure:"headers"`
}

// ModelConfig declares a model and the provider serving it.
type ModelConfig struct {
	Name           string        `mapstructure:"name"`
	Provider       string        `mapstructure:"provider"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxInputTokens int           `mapstructure:"max_input_tokens"`
	SupportsImages bool          `mapstructure:"supports_images"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	// RequestTimeout bounds one HTTP request; 0 derives it from ConsultationBudget.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ProviderByName returns the named provider configuration.
func (c *Config) ProviderByName(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// persistMargin covers thread persistence and report assembly after both phases.
const persistMargin = time.Minute

// ModelTimeout returns the effective budget of a configured model: its own
// timeout, else its provider's, else the consensus default.
func (c *Config) ModelTimeout(m ModelConfig) time.Duration {
	if m.Timeout > 0 {
		return m.Timeout
	}
	if p, ok := c.ProviderByName(m.Provider); ok && p.Timeout > 0 {
		return p.Timeout
	}
	return c.Consensus.DefaultModelTimeout
}

// ConsultationBudget is the longest a consultation can run: two phases, each
// bounded by the slowest model plus the phase buffer, then persistence.
func (c *Config) ConsultationBudget() time.Duration {
	slowest := c.Consensus.DefaultModelTimeout
	for _, m := range c.Models {
		if d := c.ModelTimeout(m); d > slowest {
			slowest = d
		}
	}
	return 2*(slowest+c.Consensus.PhaseBuffer) + persistMargin
}
