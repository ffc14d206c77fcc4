package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults shared with the engine.
const (
	DefaultModelTimeout = 600 * time.Second
	DefaultPhaseBuffer  = 60 * time.Second
	DefaultMaxWorkers   = 5
	DefaultTemperature  = 0.2

	// ModelTimeoutEnv overrides consensus.default_model_timeout (seconds or Go duration).
	ModelTimeoutEnv = "CONSENSUS_MODEL_TIMEOUT"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
	warnings   []string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance
// so CLI flag bindings take part in precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "CONSENSUS",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Warnings returns non-fatal problems found by the last Load.
func (l *Loader) Warnings() []string {
	return l.warnings
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (CONSENSUS_*)
// 3. Project config (.quorum-consensus.yaml in current directory)
// 4. User config (~/.config/quorum-consensus/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.warnings = nil
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".quorum-consensus")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "quorum-consensus"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if raw, ok := os.LookupEnv(ModelTimeoutEnv); ok {
		d, err := ParseModelTimeout(raw)
		if err != nil {
			l.warnings = append(l.warnings, fmt.Sprintf("%s: %v; using %s", ModelTimeoutEnv, err, DefaultModelTimeout))
			d = DefaultModelTimeout
		}
		cfg.Consensus.DefaultModelTimeout = d
	}

	return &cfg, nil
}

// ParseModelTimeout accepts plain seconds ("600", "90.5") or a Go duration ("10m").
func ParseModelTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	var d time.Duration
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		d = time.Duration(secs * float64(time.Second))
	} else if parsed, err := time.ParseDuration(raw); err == nil {
		d = parsed
	} else {
		return 0, fmt.Errorf("invalid timeout %q", raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %q", raw)
	}
	return d, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("consensus.default_model_timeout", DefaultModelTimeout)
	l.v.SetDefault("consensus.phase_buffer", DefaultPhaseBuffer)
	l.v.SetDefault("consensus.max_workers", DefaultMaxWorkers)
	l.v.SetDefault("consensus.temperature", DefaultTemperature)
	l.v.SetDefault("consensus.enable_cross_feedback", true)
	l.v.SetDefault("consensus.max_prompt_tokens", 0)
	l.v.SetDefault("consensus.files_root", "")

	l.v.SetDefault("threads.backend", "sqlite")
	l.v.SetDefault("threads.path", ".quorum-consensus/threads.db")
	l.v.SetDefault("threads.max_turns", 20)
	l.v.SetDefault("threads.ttl", 3*time.Hour)
	l.v.SetDefault("threads.redis.addr", "localhost:6379")
	l.v.SetDefault("threads.redis.db", 0)
	l.v.SetDefault("threads.redis.key_prefix", "consensus:thread:")

	l.v.SetDefault("server.host", "127.0.0.1")
	l.v.SetDefault("server.port", 8787)
	l.v.SetDefault("server.request_timeout", 0)
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}
