package consensus

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/logging"
)

// SynthesisInput holds both phases of one consultation.
type SynthesisInput struct {
	Prompt               string
	ModelsConsulted      int
	CrossFeedbackEnabled bool
	Initial              core.PhaseOutcome
	// Refined holds refinement results for some initial successes, matched by model label.
	Refined core.PhaseOutcome
}

// Synthesize merges initial and refined results into a report. It is a pure
// function of its input.
func Synthesize(in SynthesisInput) *core.ConsensusReport {
	refined := make(map[string]core.ConsultationResult, len(in.Refined))
	refinementFailures := make([]core.ModelFailure, 0)
	for _, r := range in.Refined {
		if r.OK() {
			refined[r.Model] = r
		} else {
			refinementFailures = append(refinementFailures, failureOf(r))
		}
	}

	responses := make([]core.ModelResponse, 0, len(in.Initial))
	failures := make([]core.ModelFailure, 0)
	withRefinements := 0
	for _, initial := range in.Initial {
		if !initial.OK() {
			failures = append(failures, failureOf(initial))
			continue
		}
		if ref, ok := refined[initial.Model]; ok {
			responses = append(responses, mergeRefined(initial, ref))
			withRefinements++
			continue
		}
		responses = append(responses, initialOnly(initial))
	}

	workflow := core.WorkflowParallel
	if withRefinements > 0 {
		workflow = core.WorkflowParallelWithFeedback
	}
	if len(refinementFailures) == 0 {
		refinementFailures = nil
	}

	return &core.ConsensusReport{
		Status:               core.ReportStatusComplete,
		ConsensusComplete:    true,
		InitialPrompt:        in.Prompt,
		ModelsConsulted:      in.ModelsConsulted,
		SuccessfulResponses:  len(responses),
		FailedModels:         failures,
		RefinementFailures:   refinementFailures,
		CrossFeedbackEnabled: in.CrossFeedbackEnabled,
		Responses:            responses,
		NextSteps:            core.NextStepsInstruction,
		Metadata: core.ReportMetadata{
			ToolName:              core.ToolName,
			WorkflowType:          workflow,
			TotalModels:           in.ModelsConsulted,
			SuccessfulModels:      len(responses),
			ModelsWithRefinements: withRefinements,
		},
	}
}

func failureOf(r core.ConsultationResult) core.ModelFailure {
	return core.ModelFailure{
		Model:    r.Model,
		Error:    r.Error,
		Phase:    r.Phase,
		Kind:     r.Status,
		Category: r.Category,
	}
}

func initialOnly(r core.ConsultationResult) core.ModelResponse {
	secs := r.Elapsed.Seconds()
	return core.ModelResponse{
		Model:    r.Model,
		Status:   core.StatusSuccess,
		Response: r.Text,
		Metadata: core.ResponseMetadata{
			Provider:            r.Provider,
			ModelName:           r.Model,
			InitialResponseTime: secs,
			TotalResponseTime:   secs,
			InputTokensInitial:  r.Usage.InputTokens,
			OutputTokensInitial: r.Usage.OutputTokens,
			TotalInputTokens:    r.Usage.InputTokens,
			TotalOutputTokens:   r.Usage.OutputTokens,
		},
	}
}

func mergeRefined(initial, ref core.ConsultationResult) core.ModelResponse {
	refSecs := ref.Elapsed.Seconds()
	refIn, refOut := ref.Usage.InputTokens, ref.Usage.OutputTokens
	total := initial.Usage.Add(ref.Usage)
	return core.ModelResponse{
		Model:    initial.Model,
		Status:   core.StatusSuccess,
		Response: ref.Text,
		Metadata: core.ResponseMetadata{
			Provider:               initial.Provider,
			ModelName:              initial.Model,
			Refined:                true,
			InitialResponseTime:    initial.Elapsed.Seconds(),
			RefinementResponseTime: &refSecs,
			TotalResponseTime:      (initial.Elapsed + ref.Elapsed).Seconds(),
			InputTokensInitial:     initial.Usage.InputTokens,
			OutputTokensInitial:    initial.Usage.OutputTokens,
			InputTokensRefinement:  &refIn,
			OutputTokensRefinement: &refOut,
			TotalInputTokens:       total.InputTokens,
			TotalOutputTokens:      total.OutputTokens,
		},
	}
}

// FormatForStorage flattens a report into the text of its thread turn.
// Only answers and failures are kept so that history does not grow with
// every nested report.
func FormatForStorage(report *core.ConsensusReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consensus gathering complete - %d models responded", report.SuccessfulResponses)

	if len(report.Responses) > 0 {
		b.WriteString("\n\nModel responses:")
		for _, r := range report.Responses {
			if r.Status != core.StatusSuccess {
				continue
			}
			fmt.Fprintf(&b, "\n\n--- %s ---\n%s", r.Model, r.Response)
		}
	}

	if len(report.FailedModels) > 0 {
		fmt.Fprintf(&b, "\n\nFailed models: %d", len(report.FailedModels))
		for _, f := range report.FailedModels {
			fmt.Fprintf(&b, "\n- %s: %s", f.Model, f.Error)
		}
	}
	return b.String()
}

// turnMetadata builds the structured per-model map stored on the assistant
// turn. Generic containers keep the shape identical across thread backends.
func turnMetadata(report *core.ConsensusReport) map[string]interface{} {
	responses := make([]interface{}, 0, len(report.Responses))
	consulted := make([]interface{}, 0, len(report.Responses))
	for _, r := range report.Responses {
		responses = append(responses, map[string]interface{}{
			"model":    r.Model,
			"response": r.Response,
			"status":   string(r.Status),
		})
		if r.Status == core.StatusSuccess {
			consulted = append(consulted, r.Model)
		}
	}
	return map[string]interface{}{
		core.MetaConsensusData: map[string]interface{}{
			core.MetaResponses: responses,
		},
		core.MetaConsultedModels: consulted,
	}
}

// PersistRequest describes the call being recorded.
type PersistRequest struct {
	Prompt              string
	ContinuationID      string
	Models              []core.ModelSpec
	Files               []string
	Images              []string
	EnableCrossFeedback bool
	Temperature         float64
	ReasoningEffort     string
}

// Recorder appends consultation results to continuation threads.
type Recorder struct {
	threads core.ThreadStore
	logger  *logging.Logger
}

// NewRecorder creates a recorder writing to threads.
func NewRecorder(threads core.ThreadStore, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Recorder{threads: threads, logger: logger}
}

// Persist stores the consultation as a user and an assistant turn and
// returns the continuation offer. No offer is made when no model succeeded
// or when the store refuses a turn. Store errors are returned.
func (r *Recorder) Persist(ctx context.Context, report *core.ConsensusReport, req PersistRequest) (*core.ContinuationOffer, error) {
	if r.threads == nil || report.SuccessfulResponses == 0 {
		return nil, nil
	}
	maxTurns := r.threads.MaxTurns()
	user, assistant := r.turns(report, req)

	threadID := ""
	parentID := ""
	existing := 0
	if req.ContinuationID != "" {
		thread, err := r.threads.GetThread(ctx, req.ContinuationID)
		if err != nil {
			return nil, core.ErrState(core.CodeStoreFailed, "loading continuation thread").WithCause(err)
		}
		switch {
		case thread == nil:
			r.logger.Info("continuation thread expired, starting a new one", "thread_id", req.ContinuationID)
		case len(thread.Turns)+2 <= maxTurns:
			threadID = thread.ThreadID
			existing = len(thread.Turns)
		default:
			r.logger.Info("continuation thread full, starting a new one",
				"thread_id", req.ContinuationID, "turns", len(thread.Turns), "max_turns", maxTurns)
			parentID = thread.ThreadID
		}
	}

	if threadID == "" {
		id, err := r.threads.CreateThread(ctx, core.ToolName, parentID, initialContext(req))
		if err != nil {
			return nil, core.ErrState(core.CodeStoreFailed, "creating thread").WithCause(err)
		}
		threadID = id
	}

	// Both turns land together so a refused exchange leaves no orphaned
	// user turn, even when another continuation filled the thread meanwhile.
	ok, err := r.threads.AddTurn(ctx, threadID, user, assistant)
	if err != nil {
		return nil, core.ErrState(core.CodeStoreFailed, "adding turns").WithCause(err)
	}
	if !ok {
		r.logger.Warn("thread refused exchange, no continuation offered", "thread_id", threadID)
		return nil, nil
	}
	if stored, err := r.threads.GetThread(ctx, threadID); err == nil && stored != nil {
		existing = len(stored.Turns) - 2
	}

	remaining := maxTurns - (existing + 2)
	if remaining < 0 {
		remaining = 0
	}
	return &core.ContinuationOffer{
		ContinuationID: threadID,
		RemainingTurns: remaining,
		Note:           fmt.Sprintf("You can continue this conversation for %d more exchanges.", remaining),
	}, nil
}

func (r *Recorder) turns(report *core.ConsensusReport, req PersistRequest) (core.Turn, core.Turn) {
	names := make([]string, 0, len(report.Responses))
	for _, resp := range report.Responses {
		names = append(names, resp.Model)
	}
	modelName := strings.Join(names, ", ")
	if modelName == "" {
		modelName = "no successful models"
	}

	user := core.Turn{
		Role:     core.RoleUser,
		Content:  req.Prompt,
		Files:    req.Files,
		Images:   req.Images,
		ToolName: core.ToolName,
	}
	assistant := core.Turn{
		Role:          core.RoleAssistant,
		Content:       FormatForStorage(report),
		ToolName:      core.ToolName,
		ModelProvider: core.ModelProviderTag,
		ModelName:     modelName,
		Metadata:      turnMetadata(report),
	}
	return user, assistant
}

func initialContext(req PersistRequest) map[string]interface{} {
	models := make([]interface{}, 0, len(req.Models))
	for _, m := range req.Models {
		models = append(models, m.Label())
	}
	files := make([]interface{}, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, f)
	}
	return map[string]interface{}{
		"prompt":                req.Prompt,
		"models":                models,
		"relevant_files":        files,
		"enable_cross_feedback": req.EnableCrossFeedback,
		"temperature":           req.Temperature,
		"reasoning_effort":      req.ReasoningEffort,
	}
}
