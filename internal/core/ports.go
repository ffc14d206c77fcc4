package core

import (
	"context"
	"time"
)

// =============================================================================
// Model Provider Port
// =============================================================================

// ModelProvider defines the contract for LLM backend adapters.
// Instances are process-wide and shared by every model they serve; callers
// never tear a provider down after a single consultation.
type ModelProvider interface {
	// Name returns the provider identifier (e.g., "openai", "openrouter").
	Name() string

	// Capabilities returns metadata for one model served by this provider.
	Capabilities(ctx context.Context, model string) (ModelCapabilities, error)

	// Generate sends one prompt and returns the model's answer.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// ModelCapabilities describes one model.
type ModelCapabilities struct {
	Model          string
	Timeout        time.Duration // Zero means "use the engine default"
	MaxInputTokens int           // Zero means unbounded
	SupportsImages bool
	SupportsTemp   bool
}

// GenerateRequest configures one provider call.
type GenerateRequest struct {
	Prompt          string
	SystemPrompt    string
	Model           string
	Temperature     float64
	ReasoningEffort string
	Timeout         time.Duration
	Images          []string
}

// GenerateResult is a provider answer.
type GenerateResult struct {
	Text     string
	Usage    Usage
	Model    string
	Provider string
}

// ProviderResolver maps a model identifier to the provider serving it.
type ProviderResolver interface {
	ProviderFor(model string) (ModelProvider, error)
}

// =============================================================================
// Thread Store Port
// =============================================================================

// ThreadStore persists continuation threads.
type ThreadStore interface {
	// CreateThread starts a thread owned by toolName and returns its id.
	// parentID links a thread started because its parent ran out of turns.
	CreateThread(ctx context.Context, toolName, parentID string, initialContext map[string]interface{}) (string, error)

	// GetThread returns the thread, or nil when it does not exist or expired.
	GetThread(ctx context.Context, id string) (*Thread, error)

	// AddTurn appends turns as one unit: either all of them are stored or
	// none are. It returns false when the thread is missing or the turn
	// budget cannot fit every turn.
	AddTurn(ctx context.Context, id string, turns ...Turn) (bool, error)

	// MaxTurns returns the per-thread turn budget.
	MaxTurns() int

	// Close releases backend resources.
	Close() error
}

// =============================================================================
// Context Embedding Port
// =============================================================================

// ContextEmbedder renders caller-supplied files into prompt text.
type ContextEmbedder interface {
	Embed(ctx context.Context, paths []string) (string, error)
}

// TokenEstimator approximates the token count of a text.
type TokenEstimator interface {
	EstimateTokens(text string) int
}
