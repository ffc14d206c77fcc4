package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
)

// Script describes how a MockProvider answers one model.
type Script struct {
	// Texts are returned on successive calls; the last one repeats.
	Texts []string
	Delay time.Duration
	// IgnoreContext makes the call sleep through cancellation.
	IgnoreContext bool
	Err           error
	Panic         string
	Usage         core.Usage
}

// MockProvider implements core.ModelProvider for testing.
type MockProvider struct {
	name         string
	caps         map[string]core.ModelCapabilities
	capsErr      error
	scripts      map[string]Script
	generateFunc func(context.Context, core.GenerateRequest) (*core.GenerateResult, error)
	calls        []MockCall
	counts       map[string]int
	mu           sync.Mutex
}

// MockCall records a call to the mock.
type MockCall struct {
	Method    string
	Model     string
	Request   core.GenerateRequest
	Timestamp time.Time
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:    name,
		caps:    make(map[string]core.ModelCapabilities),
		scripts: make(map[string]Script),
		counts:  make(map[string]int),
	}
}

// Name returns the mock name.
func (m *MockProvider) Name() string {
	return m.name
}

// Capabilities returns the configured capabilities for model.
func (m *MockProvider) Capabilities(_ context.Context, model string) (core.ModelCapabilities, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: "Capabilities", Model: model, Timestamp: time.Now()})
	if m.capsErr != nil {
		return core.ModelCapabilities{}, m.capsErr
	}
	if c, ok := m.caps[model]; ok {
		return c, nil
	}
	return core.ModelCapabilities{Model: model}, nil
}

// Generate answers according to the model's script.
func (m *MockProvider) Generate(ctx context.Context, req core.GenerateRequest) (*core.GenerateResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: "Generate", Model: req.Model, Request: req, Timestamp: time.Now()})
	n := m.counts[req.Model]
	m.counts[req.Model] = n + 1
	script, scripted := m.scripts[req.Model]
	fn := m.generateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if !scripted {
		return &core.GenerateResult{
			Text:     fmt.Sprintf("Mock response from %s", req.Model),
			Usage:    core.Usage{InputTokens: 100, OutputTokens: 50},
			Model:    req.Model,
			Provider: m.name,
		}, nil
	}

	if script.Delay > 0 {
		if script.IgnoreContext {
			time.Sleep(script.Delay)
		} else {
			select {
			case <-time.After(script.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if script.Panic != "" {
		panic(script.Panic)
	}
	if script.Err != nil {
		return nil, script.Err
	}

	text := ""
	if len(script.Texts) > 0 {
		text = script.Texts[min(n, len(script.Texts)-1)]
	}
	return &core.GenerateResult{Text: text, Usage: script.Usage, Model: req.Model, Provider: m.name}, nil
}

// WithScript sets the behavior for one model.
func (m *MockProvider) WithScript(model string, s Script) *MockProvider {
	m.scripts[model] = s
	return m
}

// WithResponse makes model answer text.
func (m *MockProvider) WithResponse(model, text string) *MockProvider {
	return m.WithScript(model, Script{Texts: []string{text}, Usage: core.Usage{InputTokens: 100, OutputTokens: len(text) / 4}})
}

// WithError makes model fail with err.
func (m *MockProvider) WithError(model string, err error) *MockProvider {
	return m.WithScript(model, Script{Err: err})
}

// WithGenerateFunc overrides every script.
func (m *MockProvider) WithGenerateFunc(fn func(context.Context, core.GenerateRequest) (*core.GenerateResult, error)) *MockProvider {
	m.generateFunc = fn
	return m
}

// WithCapabilities sets capabilities for model.
func (m *MockProvider) WithCapabilities(model string, caps core.ModelCapabilities) *MockProvider {
	caps.Model = model
	m.caps[model] = caps
	return m
}

// WithTimeout sets the declared timeout for model.
func (m *MockProvider) WithTimeout(model string, d time.Duration) *MockProvider {
	c := m.caps[model]
	c.Timeout = d
	return m.WithCapabilities(model, c)
}

// WithCapabilitiesError makes every capability lookup fail.
func (m *MockProvider) WithCapabilitiesError(err error) *MockProvider {
	m.capsErr = err
	return m
}

// Calls returns all recorded calls.
func (m *MockProvider) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// GenerateCalls returns the recorded Generate calls for model.
func (m *MockProvider) GenerateCalls(model string) []core.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.GenerateRequest
	for _, c := range m.calls {
		if c.Method == "Generate" && c.Model == model {
			out = append(out, c.Request)
		}
	}
	return out
}

// CallCount returns the number of calls to method.
func (m *MockProvider) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// MockResolver maps model identifiers to providers.
type MockResolver struct {
	providers map[string]core.ModelProvider
	mu        sync.RWMutex
}

// NewMockResolver creates an empty resolver.
func NewMockResolver() *MockResolver {
	return &MockResolver{providers: make(map[string]core.ModelProvider)}
}

// Add routes models to p.
func (r *MockResolver) Add(p core.ModelProvider, models ...string) *MockResolver {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range models {
		r.providers[m] = p
	}
	return r
}

// ProviderFor implements core.ProviderResolver.
func (r *MockResolver) ProviderFor(model string) (core.ModelProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[model]; ok {
		return p, nil
	}
	return nil, core.ErrValidation(core.CodeUnknownModel, fmt.Sprintf("no provider serves model %s", model))
}
