package consensus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/logging"
)

// Config tunes the orchestrator. Zero values fall back to defaults.
type Config struct {
	DefaultModelTimeout time.Duration
	PhaseBuffer         time.Duration
	Temperature         float64
	EnableCrossFeedback bool
	// MaxPromptTokens applies to models that declare no input limit; 0 disables the check.
	MaxPromptTokens int
	SystemPrompt    string
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		DefaultModelTimeout: DefaultModelTimeout,
		PhaseBuffer:         DefaultPhaseBuffer,
		Temperature:         0.2,
		EnableCrossFeedback: true,
	}
}

// Request is one consultation.
type Request struct {
	Prompt              string           `json:"prompt" yaml:"prompt"`
	Models              []core.ModelSpec `json:"models" yaml:"models"`
	ContinuationID      string           `json:"continuation_id,omitempty" yaml:"continuation_id,omitempty"`
	EnableCrossFeedback *bool            `json:"enable_cross_feedback,omitempty" yaml:"enable_cross_feedback,omitempty"`
	CrossFeedbackPrompt string           `json:"cross_feedback_prompt,omitempty" yaml:"cross_feedback_prompt,omitempty"`
	Temperature         *float64         `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	ReasoningEffort     string           `json:"reasoning_effort,omitempty" yaml:"reasoning_effort,omitempty"`
	Files               []string         `json:"relevant_files,omitempty" yaml:"relevant_files,omitempty"`
	Images              []string         `json:"images,omitempty" yaml:"images,omitempty"`
}

// Observer receives consultation telemetry.
type Observer interface {
	ObserveResult(result core.ConsultationResult)
	ObservePhase(phase core.Phase, elapsed time.Duration, outcome core.PhaseOutcome)
	ObserveConsultation(report *core.ConsensusReport, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveResult(core.ConsultationResult)                          {}
func (nopObserver) ObservePhase(core.Phase, time.Duration, core.PhaseOutcome)      {}
func (nopObserver) ObserveConsultation(*core.ConsensusReport, time.Duration, error) {}

// Orchestrator runs consultations. It is safe for concurrent use; all
// per-call state lives in a call value created by Consult.
type Orchestrator struct {
	providers     core.ProviderResolver
	threads       core.ThreadStore
	embedder      core.ContextEmbedder
	sizes         sizeChecker
	scheduler     *Scheduler
	disambiguator *Disambiguator
	recorder      *Recorder
	observer      Observer
	logger        *logging.Logger
	cfg           Config
	pool          *WorkerPool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithPool shares a worker pool between orchestrators.
func WithPool(p *WorkerPool) Option {
	return func(o *Orchestrator) { o.pool = p }
}

// WithEmbedder sets the file embedder used for Request.Files.
func WithEmbedder(e core.ContextEmbedder) Option {
	return func(o *Orchestrator) { o.embedder = e }
}

// WithEstimator replaces the default character-based token estimator.
func WithEstimator(e core.TokenEstimator) Option {
	return func(o *Orchestrator) { o.sizes = sizeChecker{estimator: e} }
}

// WithObserver registers a telemetry observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// New creates an orchestrator.
func New(providers core.ProviderResolver, threads core.ThreadStore, cfg Config, opts ...Option) *Orchestrator {
	if cfg.DefaultModelTimeout <= 0 {
		cfg.DefaultModelTimeout = DefaultModelTimeout
	}
	if cfg.PhaseBuffer < 0 {
		cfg.PhaseBuffer = DefaultPhaseBuffer
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt()
	}

	o := &Orchestrator{
		providers: providers,
		threads:   threads,
		sizes:     sizeChecker{estimator: CharEstimator{}},
		observer:  nopObserver{},
		logger:    logging.NewNop(),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.pool == nil {
		o.pool = NewWorkerPool(DefaultPoolSize)
	}
	o.scheduler = NewScheduler(o.pool, o.logger)
	o.disambiguator = NewDisambiguator(threads, o.logger)
	o.recorder = NewRecorder(threads, o.logger)
	return o
}

// call is the state of one consultation.
type call struct {
	req           Request
	timeouts      *TimeoutResolver
	history       *History
	files         string
	temperature   float64
	crossFeedback bool
	logger        *logging.Logger
}

// Consult runs the initial phase, the optional refinement phase, and
// records the result. Per-model failures are reported inside the returned
// report; an error is returned only when the request is invalid or the
// engine itself fails.
func (o *Orchestrator) Consult(ctx context.Context, req Request) (report *core.ConsensusReport, err error) {
	start := time.Now()
	defer func() {
		o.observer.ObserveConsultation(report, time.Since(start), err)
	}()

	c, err := o.newCall(ctx, req)
	if err != nil {
		return nil, err
	}
	c.logger.Info("starting consensus", "models", len(req.Models), "cross_feedback", c.crossFeedback)

	initial := o.runInitial(ctx, c)

	var refined core.PhaseOutcome
	if c.crossFeedback {
		refined = o.runRefinement(ctx, c, initial)
	}

	report = Synthesize(SynthesisInput{
		Prompt:               req.Prompt,
		ModelsConsulted:      len(req.Models),
		CrossFeedbackEnabled: c.crossFeedback,
		Initial:              initial,
		Refined:              refined,
	})

	offer, err := o.recorder.Persist(ctx, report, PersistRequest{
		Prompt:              req.Prompt,
		ContinuationID:      req.ContinuationID,
		Models:              req.Models,
		Files:               req.Files,
		Images:              req.Images,
		EnableCrossFeedback: c.crossFeedback,
		Temperature:         c.temperature,
		ReasoningEffort:     req.ReasoningEffort,
	})
	if err != nil {
		c.logger.Error("persisting consensus failed", "error", err)
		return nil, fmt.Errorf("persisting consensus: %w", err)
	}
	report.ContinuationOffer = offer

	c.logger.Info("consensus complete",
		"successful", report.SuccessfulResponses,
		"failed", len(report.FailedModels),
		"refined", report.Metadata.ModelsWithRefinements,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return report, nil
}

func (o *Orchestrator) newCall(ctx context.Context, req Request) (*call, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, core.ErrValidation(core.CodeEmptyPrompt, "prompt is required")
	}
	if len(req.Prompt) > core.MaxPromptLength {
		return nil, core.ErrValidation(core.CodePromptTooLong,
			fmt.Sprintf("prompt exceeds %d characters", core.MaxPromptLength))
	}
	if err := core.ValidateRoster(req.Models); err != nil {
		return nil, err
	}

	temperature := o.cfg.Temperature
	if req.Temperature != nil {
		if *req.Temperature < 0 || *req.Temperature > 1 {
			return nil, core.ErrValidation(core.CodeInvalidTemperature,
				fmt.Sprintf("temperature %v outside [0, 1]", *req.Temperature))
		}
		temperature = *req.Temperature
	}
	crossFeedback := o.cfg.EnableCrossFeedback
	if req.EnableCrossFeedback != nil {
		crossFeedback = *req.EnableCrossFeedback
	}

	logger := o.logger.WithContext(ctx).WithThread(req.ContinuationID)

	files := ""
	if len(req.Files) > 0 {
		if o.embedder == nil {
			return nil, core.ErrValidation(core.CodeInvalidConfig, "file embedding is not configured")
		}
		embedded, err := o.embedder.Embed(ctx, req.Files)
		if err != nil {
			return nil, fmt.Errorf("embedding context files: %w", err)
		}
		files = embedded
	}

	var history *History
	if req.ContinuationID != "" {
		history = o.disambiguator.Load(ctx, req.ContinuationID)
		logger.Debug("continuation history loaded", "prior_models", history.Len())
	}

	return &call{
		req:           req,
		timeouts:      NewTimeoutResolver(o.providers, o.cfg.DefaultModelTimeout, o.cfg.PhaseBuffer, logger),
		history:       history,
		files:         files,
		temperature:   temperature,
		crossFeedback: crossFeedback,
		logger:        logger,
	}, nil
}

func (o *Orchestrator) runInitial(ctx context.Context, c *call) core.PhaseOutcome {
	specs := c.req.Models
	tasks := make([]Task, len(specs))
	for i, spec := range specs {
		tasks[i] = Task{
			Model: spec.Label(),
			Call: func(ctx context.Context) core.ConsultationResult {
				return o.consultModel(ctx, c, spec, core.PhaseInitial, func(model string, limit int) (string, error) {
					parts := promptParts{Question: c.req.Prompt, Files: c.files, History: c.history.For(spec.Label())}
					prompt, truncated, err := o.sizes.fit(model, limit, o.cfg.SystemPrompt, parts)
					if truncated && err == nil {
						c.logger.Info("continuation history truncated to fit prompt budget", "model", spec.Label())
					}
					return prompt, err
				})
			},
		}
	}
	return o.runPhase(ctx, c, core.PhaseInitial, specs, tasks)
}

func (o *Orchestrator) runRefinement(ctx context.Context, c *call, initial core.PhaseOutcome) core.PhaseOutcome {
	plans := PlanRefinement(initial)
	if len(plans) == 0 {
		c.logger.Info("skipping refinement", "successful_initial", len(initial.Successes()))
		return nil
	}

	specs := make([]core.ModelSpec, len(plans))
	tasks := make([]Task, len(plans))
	for i, plan := range plans {
		spec := c.req.Models[plan.Index]
		specs[i] = spec
		tasks[i] = Task{
			Model: spec.Label(),
			Call: func(ctx context.Context) core.ConsultationResult {
				return o.consultModel(ctx, c, spec, core.PhaseRefinement, func(model string, limit int) (string, error) {
					prompt, err := BuildFeedbackPrompt(FeedbackInput{
						Question:       c.req.Prompt,
						Own:            plan.Own,
						Peers:          plan.Peers,
						CustomTemplate: c.req.CrossFeedbackPrompt,
					})
					if err != nil {
						return "", err
					}
					prompt, _, err = o.sizes.fit(model, limit, o.cfg.SystemPrompt, promptParts{Question: prompt})
					return prompt, err
				})
			},
		}
	}
	return o.runPhase(ctx, c, core.PhaseRefinement, specs, tasks)
}

func (o *Orchestrator) runPhase(ctx context.Context, c *call, phase core.Phase, specs []core.ModelSpec, tasks []Task) core.PhaseOutcome {
	ids := make([]string, len(specs))
	for i, s := range specs {
		ids[i] = s.Model
	}
	deadline := c.timeouts.PhaseTimeout(ctx, ids)
	c.logger.Info("phase started", "phase", phase, "models", len(tasks), "deadline", deadline)

	start := time.Now()
	outcome := o.scheduler.Run(ctx, phase, tasks, deadline)
	elapsed := time.Since(start)

	for _, r := range outcome {
		o.observer.ObserveResult(r)
		if !r.OK() {
			c.logger.Warn("model failed", "model", r.Model, "phase", phase, "kind", r.Status, "error", r.Error)
		}
	}
	o.observer.ObservePhase(phase, elapsed, outcome)
	c.logger.Info("phase finished", "phase", phase,
		"successful", len(outcome.Successes()), "failed", len(outcome.Failures()),
		"elapsed", elapsed.Round(time.Millisecond))
	return outcome
}

// promptBuilder returns the prompt for a model given its input token limit.
type promptBuilder func(model string, limit int) (string, error)

// consultModel performs one provider call. Every failure is returned as a
// result so that it never escapes the phase.
func (o *Orchestrator) consultModel(ctx context.Context, c *call, spec core.ModelSpec, phase core.Phase, build promptBuilder) core.ConsultationResult {
	start := time.Now()
	label := spec.Label()
	logger := c.logger.WithModel(label).WithPhase(string(phase))

	provider, err := o.providers.ProviderFor(spec.Model)
	if err != nil {
		return core.Failed(label, phase, err, time.Since(start))
	}

	caps, err := provider.Capabilities(ctx, spec.Model)
	if err != nil {
		logger.Debug("capabilities unavailable, using defaults", "error", err)
		caps = core.ModelCapabilities{Model: spec.Model}
	}
	limit := caps.MaxInputTokens
	if limit <= 0 {
		limit = o.cfg.MaxPromptTokens
	}

	prompt, err := build(label, limit)
	if err != nil {
		logger.Warn("prompt rejected before dispatch", "error", err)
		return core.Failed(label, phase, err, time.Since(start))
	}

	temperature := c.temperature
	if spec.Temperature != nil {
		temperature = *spec.Temperature
	}
	effort := c.req.ReasoningEffort
	if spec.ReasoningEffort != "" {
		effort = spec.ReasoningEffort
	}

	timeout := c.timeouts.Resolve(ctx, spec.Model)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Debug("calling model", "timeout", timeout, "prompt_chars", len(prompt))
	res, err := provider.Generate(callCtx, core.GenerateRequest{
		Prompt:          prompt,
		SystemPrompt:    o.cfg.SystemPrompt,
		Model:           spec.Model,
		Temperature:     temperature,
		ReasoningEffort: effort,
		Timeout:         timeout,
		Images:          c.req.Images,
	})
	elapsed := time.Since(start)
	if err != nil {
		return core.Failed(label, phase, err, elapsed)
	}

	logger.Debug("model responded", "elapsed", elapsed.Round(time.Millisecond),
		"input_tokens", res.Usage.InputTokens, "output_tokens", res.Usage.OutputTokens)
	return core.Succeeded(label, provider.Name(), phase, res.Text, res.Usage, elapsed)
}
