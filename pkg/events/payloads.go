package events

import "github.com/docsight/docsight/pkg/models"

// PhaseUpdate announces a pipeline phase transition or progress tick.
type PhaseUpdate struct {
	Meta
	Phase   string `json:"phase"`             // planning, executing, synthesizing, completed, error
	Message string `json:"message,omitempty"` // optional human-readable note
	// Progress is a percentage in [0,100]; used by deep research batches.
	Progress *float64 `json:"progress,omitempty"`
}

// PlanToken streams raw planner reasoning before the plan is final.
type PlanToken struct {
	Meta
	Token string `json:"token"`
}

// PlanGenerated carries the validated execution plan.
type PlanGenerated struct {
	Meta
	Plan       []models.PlanStep `json:"plan"`
	TotalSteps int               `json:"total_steps"`
}

// StepExecuting announces that a plan step started.
type StepExecuting struct {
	Meta
	Step     int    `json:"step"`
	ToolName string `json:"tool_name"`
	Thought  string `json:"thought,omitempty"`
}

// StepCompleted carries the outcome of one plan step.
type StepCompleted struct {
	Meta
	Step          int                `json:"step"`
	Success       bool               `json:"success"`
	ResultSummary string             `json:"result_summary"`
	SourceID      int                `json:"source_id"`
	ExecutionS    float64            `json:"execution_time"`
	Error         string             `json:"error,omitempty"`
	References    []models.Reference `json:"references,omitempty"`
}

// SynthesizingStart marks the transition into answer synthesis.
type SynthesizingStart struct {
	Meta
}

// TextChunk is one coherent span of streamed answer text. TextID is
// stable for a contiguous assistant span; citations attach by TextID.
type TextChunk struct {
	Meta
	TextID string `json:"text_id"`
	Text   string `json:"text"`
}

// ToolUse announces a tool dispatch from the ReAct engine.
type ToolUse struct {
	Meta
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments,omitempty"`
}

// ToolResult carries the normalized outcome of a ReAct tool dispatch.
type ToolResult struct {
	Meta
	ToolCallID string  `json:"tool_call_id"`
	ToolName   string  `json:"tool_name"`
	Success    bool    `json:"success"`
	Summary    string  `json:"summary,omitempty"`
	Error      string  `json:"error,omitempty"`
	ExecutionS float64 `json:"execution_time"`
	Truncated  bool    `json:"truncated,omitempty"`
}

// References is the single terminal references event, emitted at most
// once per request, before stream_end, deduplicated by id/document id.
type References struct {
	Meta
	References []models.Reference `json:"references"`
}

// CitationData links an inline citation to its sources.
type CitationData struct {
	Meta
	TargetTextID string `json:"target_text_id"`
	SourceIDs    []int  `json:"source_ids"`
}

// StreamEnd is the success terminal.
type StreamEnd struct {
	Meta
}

// Error is the failure terminal.
type Error struct {
	Meta
	ErrorMessage string `json:"error_message"`
	ErrorCode    string `json:"error_code,omitempty"`
}

// Interrupt is the approval-pending terminal. The request resumes through
// a separate Resume entry point.
type Interrupt struct {
	Meta
	RequiresApproval bool `json:"requires_approval"`
}

// TaskStart announces one research segment entering analysis.
type TaskStart struct {
	Meta
	SegmentID string `json:"segment_id"`
}

// TaskComplete announces one research segment analyzed successfully.
type TaskComplete struct {
	Meta
	SegmentID string `json:"segment_id"`
	Summary   string `json:"summary,omitempty"`
}

// TaskFailed announces one research segment that failed analysis.
type TaskFailed struct {
	Meta
	SegmentID string `json:"segment_id"`
	Error     string `json:"error"`
}

// ExecutionComplete summarizes a finished research job.
type ExecutionComplete struct {
	Meta
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}
