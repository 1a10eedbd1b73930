package models

import "time"

// StepStatus tracks a plan step through execution.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepExecuting StepStatus = "executing"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// PlanStep is one tool invocation within an execution plan.
type PlanStep struct {
	Step          int            `json:"step"`
	Thought       string         `json:"thought"`
	ToolName      string         `json:"tool_name"`
	ToolInput     map[string]any `json:"tool_input"`
	Status        StepStatus     `json:"status"`
	ResultSummary string         `json:"result_summary,omitempty"`
	// SourceID is assigned at execution time and cited by the synthesizer.
	SourceID int `json:"source_id,omitempty"`
}

// ExecutionPlan is the planner's structured output.
type ExecutionPlan struct {
	Plan       []PlanStep `json:"plan"`
	TotalSteps int        `json:"total_steps"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ExecutionResult captures the outcome of one executed plan step.
type ExecutionResult struct {
	StepNumber    int            `json:"step_number"`
	ToolName      string         `json:"tool_name"`
	Success       bool           `json:"success"`
	ResultData    map[string]any `json:"result_data,omitempty"`
	SourceID      int            `json:"source_id"`
	Error         string         `json:"error,omitempty"`
	ExecutionS    float64        `json:"execution_time_s"`
	ResultSummary string         `json:"result_summary"`
	References    []Reference    `json:"references,omitempty"`
	ResultText    string         `json:"-"`
}

// SearchPhase tracks a plan-execute-respond request through its stages.
type SearchPhase string

const (
	PhasePlanning     SearchPhase = "planning"
	PhaseExecuting    SearchPhase = "executing"
	PhaseSynthesizing SearchPhase = "synthesizing"
	PhaseCompleted    SearchPhase = "completed"
	PhaseError        SearchPhase = "error"
)

// SearchState is the per-request state of the plan-execute-respond
// pipeline. Lives for a single request.
type SearchState struct {
	Query       string            `json:"query"`
	Phase       SearchPhase       `json:"phase"`
	Plan        *ExecutionPlan    `json:"plan,omitempty"`
	Results     []ExecutionResult `json:"results"`
	CurrentStep int               `json:"current_step"`
	IndexID     string            `json:"index_id,omitempty"`
	DocumentID  string            `json:"document_id,omitempty"`
	SegmentID   string            `json:"segment_id,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Error       string            `json:"error,omitempty"`

	nextSourceID int
}

// NextSourceID returns a fresh source id, monotonic within this state.
func (s *SearchState) NextSourceID() int {
	s.nextSourceID++
	return s.nextSourceID
}
