// Package events defines the typed event stream emitted by the
// orchestration core and the multiplexer that joins pipeline producers
// onto a single ordered channel.
//
// Every event serializes flat (NDJSON/SSE friendly):
//
//	{"type": "<event>", "timestamp": "<RFC3339Nano>", ...type-specific fields}
//
// Exactly one terminal event ends every request stream: stream_end on
// success, error on failure, interrupt on approval pending. No events
// follow the terminal.
package events

import "time"

// Type identifies a core event on the wire.
type Type string

const (
	TypePhaseUpdate       Type = "phase_update"
	TypePlanGenerated     Type = "plan_generated"
	TypePlanToken         Type = "plan_token"
	TypeStepExecuting     Type = "step_executing"
	TypeStepCompleted     Type = "step_completed"
	TypeSynthesizingStart Type = "synthesizing_start"
	TypeTextChunk         Type = "text_chunk"
	TypeToolUse           Type = "tool_use"
	TypeToolResult        Type = "tool_result"
	TypeReferences        Type = "references"
	TypeCitationData      Type = "citation_data"
	TypeStreamEnd         Type = "stream_end"
	TypeError             Type = "error"
	TypeInterrupt         Type = "interrupt"

	// Deep-research per-segment lifecycle.
	TypeTaskStart         Type = "task_start"
	TypeTaskComplete      Type = "task_complete"
	TypeTaskFailed        Type = "task_failed"
	TypeExecutionComplete Type = "execution_complete"
)

// terminalTypes end a stream; nothing may follow them.
var terminalTypes = map[Type]bool{
	TypeStreamEnd: true,
	TypeError:     true,
	TypeInterrupt: true,
}

// IsTerminal reports whether t ends a stream.
func IsTerminal(t Type) bool { return terminalTypes[t] }

// Event is implemented by all core event payloads.
type Event interface {
	EventType() Type
}

// Meta is the envelope embedded in every event payload.
type Meta struct {
	Type      Type   `json:"type"`
	StepID    string `json:"step_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// EventType returns the wire type of the event.
func (m Meta) EventType() Type { return m.Type }

// NewMeta stamps an envelope with the current time.
func NewMeta(t Type, stepID, threadID string) Meta {
	return Meta{
		Type:      t,
		StepID:    stepID,
		ThreadID:  threadID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}
