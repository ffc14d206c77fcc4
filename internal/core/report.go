package core

// Report status values.
const (
	ReportStatusComplete = "consensus_complete"
	ReportStatusError    = "error"
)

// Workflow types recorded in report metadata.
const (
	WorkflowParallel             = "parallel_consensus"
	WorkflowParallelWithFeedback = "parallel_consensus_with_feedback"
)

// NextStepsInstruction is appended to every report for the calling agent.
const NextStepsInstruction = "PARALLEL CONSENSUS GATHERING IS COMPLETE. Please synthesize the responses:\n" +
	"1. Review the responses from all models\n" +
	"2. Identify key points of AGREEMENT across models\n" +
	"3. Note key points of DISAGREEMENT and underlying reasons\n" +
	"4. Provide your final recommendation based on the collective insights\n" +
	"5. Suggest specific, actionable next steps"

// ConsensusReport is the structured output of one consultation.
type ConsensusReport struct {
	Status               string             `json:"status" yaml:"status"`
	ConsensusComplete    bool               `json:"consensus_complete" yaml:"consensus_complete"`
	InitialPrompt        string             `json:"initial_prompt" yaml:"initial_prompt"`
	ModelsConsulted      int                `json:"models_consulted" yaml:"models_consulted"`
	SuccessfulResponses  int                `json:"successful_responses" yaml:"successful_responses"`
	FailedModels         []ModelFailure     `json:"failed_models" yaml:"failed_models"`
	RefinementFailures   []ModelFailure     `json:"refinement_failures,omitempty" yaml:"refinement_failures,omitempty"`
	CrossFeedbackEnabled bool               `json:"cross_feedback_enabled" yaml:"cross_feedback_enabled"`
	Responses            []ModelResponse    `json:"responses" yaml:"responses"`
	NextSteps            string             `json:"next_steps" yaml:"next_steps"`
	Metadata             ReportMetadata     `json:"metadata" yaml:"metadata"`
	ContinuationOffer    *ContinuationOffer `json:"continuation_offer,omitempty" yaml:"continuation_offer,omitempty"`
}

// ModelFailure records one model that did not contribute a response.
type ModelFailure struct {
	Model    string        `json:"model" yaml:"model"`
	Error    string        `json:"error" yaml:"error"`
	Phase    Phase         `json:"phase" yaml:"phase"`
	Kind     Status        `json:"kind" yaml:"kind"`
	Category ErrorCategory `json:"category,omitempty" yaml:"category,omitempty"`
}

// ModelResponse is one model's final answer.
type ModelResponse struct {
	Model    string           `json:"model" yaml:"model"`
	Status   Status           `json:"status" yaml:"status"`
	Response string           `json:"response" yaml:"response"`
	Metadata ResponseMetadata `json:"metadata" yaml:"metadata"`
}

// ResponseMetadata carries the cost and timing of a response.
// Refinement fields are set only when the refined answer was used; times are seconds.
type ResponseMetadata struct {
	Provider               string   `json:"provider,omitempty" yaml:"provider,omitempty"`
	ModelName              string   `json:"model_name" yaml:"model_name"`
	Refined                bool     `json:"refined" yaml:"refined"`
	InitialResponseTime    float64  `json:"initial_response_time" yaml:"initial_response_time"`
	RefinementResponseTime *float64 `json:"refinement_response_time,omitempty" yaml:"refinement_response_time,omitempty"`
	TotalResponseTime      float64  `json:"total_response_time" yaml:"total_response_time"`
	InputTokensInitial     int      `json:"input_tokens_initial" yaml:"input_tokens_initial"`
	OutputTokensInitial    int      `json:"output_tokens_initial" yaml:"output_tokens_initial"`
	InputTokensRefinement  *int     `json:"input_tokens_refinement,omitempty" yaml:"input_tokens_refinement,omitempty"`
	OutputTokensRefinement *int     `json:"output_tokens_refinement,omitempty" yaml:"output_tokens_refinement,omitempty"`
	TotalInputTokens       int      `json:"total_input_tokens" yaml:"total_input_tokens"`
	TotalOutputTokens      int      `json:"total_output_tokens" yaml:"total_output_tokens"`
}

// ReportMetadata summarizes the consultation.
type ReportMetadata struct {
	ToolName              string `json:"tool_name" yaml:"tool_name"`
	WorkflowType          string `json:"workflow_type" yaml:"workflow_type"`
	TotalModels           int    `json:"total_models" yaml:"total_models"`
	SuccessfulModels      int    `json:"successful_models" yaml:"successful_models"`
	ModelsWithRefinements int    `json:"models_with_refinements" yaml:"models_with_refinements"`
}

// ContinuationOffer lets the caller resume the conversation.
type ContinuationOffer struct {
	ContinuationID string `json:"continuation_id" yaml:"continuation_id"`
	RemainingTurns int    `json:"remaining_turns" yaml:"remaining_turns"`
	Note           string `json:"note" yaml:"note"`
}

// ErrorReport is the whole-call failure payload.
type ErrorReport struct {
	Status   string         `json:"status" yaml:"status"`
	Error    string         `json:"error" yaml:"error"`
	Code     string         `json:"code,omitempty" yaml:"code,omitempty"`
	Metadata ReportMetadata `json:"metadata" yaml:"metadata"`
}

// NewErrorReport wraps a whole-call error.
func NewErrorReport(err error) *ErrorReport {
	return &ErrorReport{
		Status: ReportStatusError,
		Error:  err.Error(),
		Code:   GetCode(err),
		Metadata: ReportMetadata{
			ToolName:     ToolName,
			WorkflowType: WorkflowParallel,
		},
	}
}
