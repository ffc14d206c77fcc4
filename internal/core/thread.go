package core

import (
	"time"
)

// ToolName tags threads and turns written by the consensus engine.
const ToolName = "consensus"

// ModelProviderTag is recorded on assistant turns produced by a consultation.
const ModelProviderTag = "multi-model-consensus"

// Thread defaults.
const (
	DefaultMaxTurns  = 20
	DefaultThreadTTL = 3 * time.Hour
)

// TurnRole identifies who produced a turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// Turn metadata keys used for history reconstruction.
const (
	MetaConsensusData   = "consensus_data"
	MetaResponses       = "responses"
	MetaConsultedModels = "consulted_models"
)

// Thread is a persisted multi-turn conversation.
type Thread struct {
	ThreadID       string                 `json:"thread_id" yaml:"thread_id"`
	ParentThreadID string                 `json:"parent_thread_id,omitempty" yaml:"parent_thread_id,omitempty"`
	CreatedAt      time.Time              `json:"created_at" yaml:"created_at"`
	LastUpdatedAt  time.Time              `json:"last_updated_at" yaml:"last_updated_at"`
	ToolName       string                 `json:"tool_name" yaml:"tool_name"`
	Turns          []Turn                 `json:"turns" yaml:"turns"`
	InitialContext map[string]interface{} `json:"initial_context,omitempty" yaml:"initial_context,omitempty"`
}

// Turn is one message of a thread.
type Turn struct {
	Role          TurnRole               `json:"role" yaml:"role"`
	Content       string                 `json:"content" yaml:"content"`
	Timestamp     time.Time              `json:"timestamp" yaml:"timestamp"`
	Files         []string               `json:"files,omitempty" yaml:"files,omitempty"`
	Images        []string               `json:"images,omitempty" yaml:"images,omitempty"`
	ToolName      string                 `json:"tool_name,omitempty" yaml:"tool_name,omitempty"`
	ModelProvider string                 `json:"model_provider,omitempty" yaml:"model_provider,omitempty"`
	ModelName     string                 `json:"model_name,omitempty" yaml:"model_name,omitempty"`
	Metadata      map[string]interface{} `json:"model_metadata,omitempty" yaml:"model_metadata,omitempty"`
}

// Clone returns a deep-enough copy for stores that hand out threads.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return nil
	}
	c := *t
	c.Turns = append([]Turn(nil), t.Turns...)
	if t.InitialContext != nil {
		c.InitialContext = make(map[string]interface{}, len(t.InitialContext))
		for k, v := range t.InitialContext {
			c.InitialContext[k] = v
		}
	}
	return &c
}

// RemainingTurns returns how many more turns fit under maxTurns.
func (t *Thread) RemainingTurns(maxTurns int) int {
	n := maxTurns - len(t.Turns)
	if n < 0 {
		return 0
	}
	return n
}
