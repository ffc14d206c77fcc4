package config

import (
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateConsensus(&cfg.Consensus)
	v.validateThreads(&cfg.Threads)
	providers := v.validateProviders(cfg.Providers)
	v.validateModels(cfg.Models, providers)
	v.validateServer(&cfg.Server)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: msg})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}
	switch cfg.Format {
	case "auto", "text", "json":
	default:
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateConsensus(cfg *ConsensusConfig) {
	if cfg.DefaultModelTimeout <= 0 {
		v.addError("consensus.default_model_timeout", cfg.DefaultModelTimeout, "must be positive")
	}
	if cfg.PhaseBuffer < 0 {
		v.addError("consensus.phase_buffer", cfg.PhaseBuffer, "must not be negative")
	}
	if cfg.MaxWorkers < 1 {
		v.addError("consensus.max_workers", cfg.MaxWorkers, "must be at least 1")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		v.addError("consensus.temperature", cfg.Temperature, "must be between 0 and 1")
	}
	if cfg.MaxPromptTokens < 0 {
		v.addError("consensus.max_prompt_tokens", cfg.MaxPromptTokens, "must not be negative")
	}
}

func (v *Validator) validateThreads(cfg *ThreadsConfig) {
	switch cfg.Backend {
	case "memory":
	case "file", "sqlite":
		if strings.TrimSpace(cfg.Path) == "" {
			v.addError("threads.path", cfg.Path, "required for "+cfg.Backend+" backend")
		}
	case "redis":
		if cfg.Redis.Addr == "" {
			v.addError("threads.redis.addr", cfg.Redis.Addr, "required for redis backend")
		}
	default:
		v.addError("threads.backend", cfg.Backend, "must be one of: memory, file, sqlite, redis")
	}
	if cfg.MaxTurns < 2 {
		v.addError("threads.max_turns", cfg.MaxTurns, "must be at least 2")
	}
	if cfg.TTL <= 0 {
		v.addError("threads.ttl", cfg.TTL, "must be positive")
	}
}

func (v *Validator) validateProviders(providers []ProviderConfig) map[string]bool {
	seen := make(map[string]bool, len(providers))
	for i, p := range providers {
		field := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			v.addError(field+".name", p.Name, "required")
			continue
		}
		if seen[p.Name] {
			v.addError(field+".name", p.Name, "duplicate provider name")
		}
		seen[p.Name] = true

		switch p.Type {
		case "openai", "":
		default:
			v.addError(field+".type", p.Type, "must be: openai")
		}
		if p.BaseURL == "" {
			v.addError(field+".base_url", p.BaseURL, "required")
		}
		if p.RateLimitRPM < 0 {
			v.addError(field+".rate_limit_rpm", p.RateLimitRPM, "must not be negative")
		}
		if p.Timeout < 0 {
			v.addError(field+".timeout", p.Timeout, "must not be negative")
		}
		if p.MaxRetries < 0 {
			v.addError(field+".max_retries", p.MaxRetries, "must not be negative")
		}
	}
	return seen
}

func (v *Validator) validateModels(models []ModelConfig, providers map[string]bool) {
	seen := make(map[string]bool, len(models))
	for i, m := range models {
		field := fmt.Sprintf("models[%d]", i)
		if m.Name == "" {
			v.addError(field+".name", m.Name, "required")
			continue
		}
		if seen[m.Name] {
			v.addError(field+".name", m.Name, "duplicate model name")
		}
		seen[m.Name] = true
		if !providers[m.Provider] {
			v.addError(field+".provider", m.Provider, "unknown provider")
		}
		if m.Timeout < 0 {
			v.addError(field+".timeout", m.Timeout, "must not be negative")
		}
		if m.MaxInputTokens < 0 {
			v.addError(field+".max_input_tokens", m.MaxInputTokens, "must not be negative")
		}
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 0 and 65535")
	}
	if cfg.RequestTimeout < 0 {
		v.addError("server.request_timeout", cfg.RequestTimeout, "must not be negative")
	}
}

// ValidateConfig validates cfg and wraps failures as a domain validation error.
func ValidateConfig(cfg *Config) error {
	if err := NewValidator().Validate(cfg); err != nil {
		return core.ErrValidation(core.CodeInvalidConfig, "invalid configuration").WithCause(err)
	}
	return nil
}
