package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Phase identifies one fan-out/gather round of a consultation.
type Phase string

const (
	// PhaseInitial asks every model the caller's question.
	PhaseInitial Phase = "initial"

	// PhaseRefinement shows each successful model its peers' answers
	// and asks for a replacement answer.
	PhaseRefinement Phase = "refinement"
)

// Status is the outcome tag of a ConsultationResult.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Usage holds token counts reported by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add returns the element-wise sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
	}
}

// ModelSpec names one roster entry and its optional per-call overrides.
type ModelSpec struct {
	Model           string   `json:"model" yaml:"model"`
	Temperature     *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	ReasoningEffort string   `json:"reasoning_effort,omitempty" yaml:"reasoning_effort,omitempty"`
}

// HasOverrides reports whether s sets a temperature or reasoning effort.
func (s ModelSpec) HasOverrides() bool {
	return s.Temperature != nil || s.ReasoningEffort != ""
}

// Label returns the attribution key for this spec.
// It equals the model identifier unless overrides are present, in which case
// they are appended so that two specs for the same model never collide.
func (s ModelSpec) Label() string {
	if !s.HasOverrides() {
		return s.Model
	}
	parts := make([]string, 0, 2)
	if s.Temperature != nil {
		parts = append(parts, "temperature="+strconv.FormatFloat(*s.Temperature, 'f', -1, 64))
	}
	if s.ReasoningEffort != "" {
		parts = append(parts, "reasoning_effort="+s.ReasoningEffort)
	}
	return fmt.Sprintf("%s[%s]", s.Model, strings.Join(parts, ","))
}

// ValidateRoster checks a caller-supplied roster.
func ValidateRoster(specs []ModelSpec) error {
	if len(specs) == 0 {
		return ErrValidation(CodeNoModels, "consensus requires at least one model")
	}
	seen := make(map[string]int, len(specs))
	for i, spec := range specs {
		if strings.TrimSpace(spec.Model) == "" {
			return ErrValidation(CodeInvalidModel, fmt.Sprintf("models[%d]: model identifier is required", i))
		}
		if spec.Temperature != nil && (*spec.Temperature < 0 || *spec.Temperature > 1) {
			return ErrValidation(CodeInvalidTemperature,
				fmt.Sprintf("models[%d]: temperature %v outside [0, 1]", i, *spec.Temperature))
		}
		label := spec.Label()
		if prev, dup := seen[label]; dup {
			return ErrValidation(CodeDuplicateModel,
				fmt.Sprintf("models[%d] duplicates models[%d] (%s)", i, prev, label)).
				WithDetail("model", label)
		}
		seen[label] = i
	}
	return nil
}

// ConsultationResult is the outcome of asking one model in one phase.
// Exactly one of Text (success) or Error (error, timeout) is meaningful.
type ConsultationResult struct {
	Model    string
	Provider string
	Phase    Phase
	Status   Status
	Text     string
	Error    string
	Category ErrorCategory
	Code     string
	Usage    Usage
	Elapsed  time.Duration
}

// Succeeded builds a success result.
func Succeeded(model, provider string, phase Phase, text string, usage Usage, elapsed time.Duration) ConsultationResult {
	return ConsultationResult{
		Model:    model,
		Provider: provider,
		Phase:    phase,
		Status:   StatusSuccess,
		Text:     text,
		Usage:    usage,
		Elapsed:  elapsed,
	}
}

// Failed builds an error result carrying the error text verbatim.
// Errors classified as timeouts produce a timeout result instead.
func Failed(model string, phase Phase, err error, elapsed time.Duration) ConsultationResult {
	status := StatusError
	category := GetCategory(err)
	if category == ErrCatTimeout {
		status = StatusTimeout
	}
	return ConsultationResult{
		Model:    model,
		Phase:    phase,
		Status:   status,
		Error:    err.Error(),
		Category: category,
		Code:     GetCode(err),
		Elapsed:  elapsed,
	}
}

// TimedOut builds a timeout result for a task abandoned at the phase deadline.
func TimedOut(model string, phase Phase, deadline, elapsed time.Duration) ConsultationResult {
	return ConsultationResult{
		Model:    model,
		Phase:    phase,
		Status:   StatusTimeout,
		Error:    fmt.Sprintf("phase timeout exceeded (%s) for model %s", deadline, model),
		Category: ErrCatTimeout,
		Code:     CodeTimeout,
		Elapsed:  elapsed,
	}
}

// OK reports whether the result is a success.
func (r ConsultationResult) OK() bool {
	return r.Status == StatusSuccess
}

// PhaseOutcome is the ordered list of results of one phase,
// index-aligned with the phase's task list.
type PhaseOutcome []ConsultationResult

// Successes returns the successful results in order.
func (o PhaseOutcome) Successes() []ConsultationResult {
	out := make([]ConsultationResult, 0, len(o))
	for _, r := range o {
		if r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Failures returns the failed results in order.
func (o PhaseOutcome) Failures() []ConsultationResult {
	out := make([]ConsultationResult, 0)
	for _, r := range o {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}
