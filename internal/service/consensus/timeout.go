package consensus

import (
	"context"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/logging"
)

// Timeout defaults.
const (
	DefaultModelTimeout = 600 * time.Second
	DefaultPhaseBuffer  = 60 * time.Second
)

// TimeoutResolver maps models to their time budget. A resolver belongs to a
// single consultation; its cache never outlives the call that created it.
type TimeoutResolver struct {
	providers core.ProviderResolver
	fallback  time.Duration
	buffer    time.Duration
	logger    *logging.Logger

	mu    sync.Mutex
	cache map[string]time.Duration
}

// NewTimeoutResolver creates a per-call resolver.
func NewTimeoutResolver(providers core.ProviderResolver, fallback, buffer time.Duration, logger *logging.Logger) *TimeoutResolver {
	if fallback <= 0 {
		fallback = DefaultModelTimeout
	}
	if buffer < 0 {
		buffer = DefaultPhaseBuffer
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TimeoutResolver{
		providers: providers,
		fallback:  fallback,
		buffer:    buffer,
		logger:    logger,
		cache:     make(map[string]time.Duration),
	}
}

// Resolve returns the model's declared timeout, or the fallback when the
// provider is unknown, the capability lookup fails, or no timeout is declared.
func (r *TimeoutResolver) Resolve(ctx context.Context, model string) time.Duration {
	r.mu.Lock()
	if d, ok := r.cache[model]; ok {
		r.mu.Unlock()
		return d
	}
	r.mu.Unlock()

	d := r.lookup(ctx, model)

	r.mu.Lock()
	r.cache[model] = d
	r.mu.Unlock()
	return d
}

func (r *TimeoutResolver) lookup(ctx context.Context, model string) time.Duration {
	if r.providers == nil {
		return r.fallback
	}
	provider, err := r.providers.ProviderFor(model)
	if err != nil {
		r.logger.Debug("no provider for timeout lookup", "model", model, "error", err)
		return r.fallback
	}
	caps, err := provider.Capabilities(ctx, model)
	if err != nil {
		r.logger.Debug("capability lookup failed", "model", model, "error", err)
		return r.fallback
	}
	if caps.Timeout <= 0 {
		return r.fallback
	}
	return caps.Timeout
}

// PhaseTimeout returns the slowest model's budget plus the coordination buffer.
func (r *TimeoutResolver) PhaseTimeout(ctx context.Context, models []string) time.Duration {
	longest := time.Duration(0)
	for _, m := range models {
		if d := r.Resolve(ctx, m); d > longest {
			longest = d
		}
	}
	if longest == 0 {
		longest = r.fallback
	}
	return longest + r.buffer
}
