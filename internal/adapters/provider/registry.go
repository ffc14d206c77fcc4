package provider

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/logging"
)

// Config configures one provider endpoint.
type Config struct {
	Name         string
	Type         string
	BaseURL      string
	APIKey       string
	RateLimitRPM int
	MaxRetries   int
	RetryWait    time.Duration
	Headers      map[string]string
	// FilesRoot confines local image paths; empty means the working directory.
	FilesRoot string
	// Models holds the capabilities of every model served by this endpoint.
	Models map[string]core.ModelCapabilities
}

// Factory creates a provider from configuration.
type Factory func(cfg Config, logger *logging.Logger) (core.ModelProvider, error)

// Registry resolves model identifiers to providers. Providers are created
// lazily on first use and then shared by every consultation.
type Registry struct {
	factories map[string]Factory
	configs   map[string]Config
	providers map[string]core.ModelProvider
	routes    map[string]string // model -> provider name
	logger    *logging.Logger
	mu        sync.RWMutex
}

// NewRegistry creates a registry with the built-in provider types.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Registry{
		factories: make(map[string]Factory),
		configs:   make(map[string]Config),
		providers: make(map[string]core.ModelProvider),
		routes:    make(map[string]string),
		logger:    logger,
	}
	r.RegisterFactory(TypeOpenAI, func(cfg Config, logger *logging.Logger) (core.ModelProvider, error) {
		return NewOpenAIClient(cfg, logger)
	})
	return r
}

// RegisterFactory registers a factory for a provider type.
func (r *Registry) RegisterFactory(providerType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerType] = factory
}

// Configure sets the configuration of a provider and routes its models to it.
func (r *Registry) Configure(cfg Config) {
	if cfg.Type == "" {
		cfg.Type = TypeOpenAI
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Name] = cfg
	// Clear cached provider to force re-creation
	delete(r.providers, cfg.Name)
	for model := range cfg.Models {
		r.routes[model] = cfg.Name
	}
}

// Register adds a ready provider serving models.
func (r *Registry) Register(p core.ModelProvider, models ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	for _, m := range models {
		r.routes[m] = p.Name()
	}
}

// ProviderFor implements core.ProviderResolver.
func (r *Registry) ProviderFor(model string) (core.ModelProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.routes[model]
	if !ok {
		return nil, core.ErrValidation(core.CodeUnknownModel,
			fmt.Sprintf("model %s is not served by any configured provider", model)).
			WithDetail("model", model)
	}
	if p, ok := r.providers[name]; ok {
		return p, nil
	}

	cfg, ok := r.configs[name]
	if !ok {
		return nil, core.ErrNotFound("provider", name)
	}
	factory, ok := r.factories[cfg.Type]
	if !ok {
		return nil, core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("provider %s has unsupported type %q", name, cfg.Type))
	}
	p, err := factory(cfg, r.logger.With("provider", name))
	if err != nil {
		return nil, fmt.Errorf("creating provider %s: %w", name, err)
	}
	r.providers[name] = p
	return p, nil
}

// Models returns every routed model identifier, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make([]string, 0, len(r.routes))
	for m := range r.routes {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

var _ core.ProviderResolver = (*Registry)(nil)
