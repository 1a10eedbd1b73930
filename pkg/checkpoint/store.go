// Package checkpoint persists per-thread snapshots of ReAct engine state
// so interrupted sessions can resume. Two backends: in-memory (process
// lifetime) and PostgreSQL (durable).
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/docsight/docsight/pkg/models"
)

// ErrNotFound is returned when no checkpoint exists for a thread.
var ErrNotFound = errors.New("checkpoint not found")

// State is the per-thread snapshot. Messages includes tool traffic — the
// full working transcript, unlike the conversation store's pure history.
type State struct {
	ThreadID string           `json:"thread_id"`
	Messages []models.Message `json:"messages"`
	Summary  string           `json:"summary,omitempty"`

	// ToolReferences aggregates references produced by tools during the
	// current request. Cleared at the end of each request so references
	// never leak across turns.
	ToolReferences []models.Reference `json:"tool_references,omitempty"`

	NeedsSummarization  bool `json:"needs_summarization"`
	LastSummarizationAt int  `json:"last_summarization_at"`
	MessageCount        int  `json:"message_count"`

	// PendingToolCalls holds the tool calls awaiting approval when the
	// engine interrupted before the tool node.
	PendingToolCalls []models.ToolCall `json:"pending_tool_calls,omitempty"`
	AwaitingApproval bool              `json:"awaiting_approval,omitempty"`

	// AgentContext is the request scope captured at interrupt time so
	// approved tool calls resume with the same index and document
	// bindings.
	AgentContext models.AgentContext `json:"agent_context"`
	// ModelID is the model the interrupted request ran with, including
	// any per-request override.
	ModelID string `json:"model_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Messages            *[]models.Message
	Summary             *string
	ToolReferences      *[]models.Reference
	NeedsSummarization  *bool
	LastSummarizationAt *int
	MessageCount        *int
	PendingToolCalls    *[]models.ToolCall
	AwaitingApproval    *bool
	AgentContext        *models.AgentContext
	ModelID             *string
}

// ClearToolReferences is a patch that empties the reference aggregate.
func ClearToolReferences() Patch {
	empty := []models.Reference{}
	return Patch{ToolReferences: &empty}
}

// Store is the checkpoint backend contract.
type Store interface {
	// GetState returns the snapshot for a thread, or ErrNotFound.
	GetState(ctx context.Context, threadID string) (*State, error)
	// UpdateState applies a partial update, creating the record if absent.
	UpdateState(ctx context.Context, threadID string, patch Patch) error
	// Delete removes one thread's checkpoint, or all when threadID is empty.
	Delete(ctx context.Context, threadID string) error
}

// apply merges a patch into a state in place and stamps UpdatedAt.
func (s *State) apply(patch Patch, now time.Time) {
	if patch.Messages != nil {
		s.Messages = *patch.Messages
	}
	if patch.Summary != nil {
		s.Summary = *patch.Summary
	}
	if patch.ToolReferences != nil {
		s.ToolReferences = *patch.ToolReferences
	}
	if patch.NeedsSummarization != nil {
		s.NeedsSummarization = *patch.NeedsSummarization
	}
	if patch.LastSummarizationAt != nil {
		s.LastSummarizationAt = *patch.LastSummarizationAt
	}
	if patch.MessageCount != nil {
		s.MessageCount = *patch.MessageCount
	}
	if patch.PendingToolCalls != nil {
		s.PendingToolCalls = *patch.PendingToolCalls
	}
	if patch.AwaitingApproval != nil {
		s.AwaitingApproval = *patch.AwaitingApproval
	}
	if patch.AgentContext != nil {
		s.AgentContext = *patch.AgentContext
	}
	if patch.ModelID != nil {
		s.ModelID = *patch.ModelID
	}
	s.UpdatedAt = now
}
