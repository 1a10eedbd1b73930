package plan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docsight/docsight/pkg/events"
	"github.com/docsight/docsight/pkg/models"
	"github.com/docsight/docsight/pkg/tools"
)

// interStepDelay smooths event pacing between plan steps.
const interStepDelay = 100 * time.Millisecond

// ErrNoSuccessfulResults is surfaced when every plan step failed; the
// pipeline stops before synthesis.
var ErrNoSuccessfulResults = fmt.Errorf("no plan step produced a result")

// Executor runs plan steps in order through the tool registry.
type Executor struct {
	registry *tools.Registry
	logger   *slog.Logger
}

// NewExecutor wires an executor.
func NewExecutor(registry *tools.Registry) *Executor {
	return &Executor{registry: registry, logger: slog.Default()}
}

// Execute runs every step of the state's plan. Step failures are recorded
// and execution continues; ErrNoSuccessfulResults is returned only when
// nothing succeeded. Results accumulate on the state.
func (e *Executor) Execute(ctx context.Context, state *models.SearchState, threadID string, emit func(events.Event)) error {
	if state.Plan == nil || len(state.Plan.Plan) == 0 {
		return fmt.Errorf("no plan to execute")
	}

	agentCtx := &models.AgentContext{
		IndexID:    state.IndexID,
		DocumentID: state.DocumentID,
		SegmentID:  state.SegmentID,
		ThreadID:   threadID,
		UserQuery:  state.Query,
	}

	successes := 0
	for i := range state.Plan.Plan {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		step := &state.Plan.Plan[i]
		state.CurrentStep = step.Step
		step.Status = models.StepExecuting

		emit(events.StepExecuting{
			Meta:     events.NewMeta(events.TypeStepExecuting, fmt.Sprintf("step-%d", step.Step), threadID),
			Step:     step.Step,
			ToolName: step.ToolName,
			Thought:  step.Thought,
		})

		result := e.executeStep(ctx, state, step, agentCtx)
		state.Results = append(state.Results, result)

		if result.Success {
			successes++
			step.Status = models.StepCompleted
		} else {
			step.Status = models.StepFailed
		}
		step.ResultSummary = result.ResultSummary
		step.SourceID = result.SourceID

		emit(events.StepCompleted{
			Meta:          events.NewMeta(events.TypeStepCompleted, fmt.Sprintf("step-%d", step.Step), threadID),
			Step:          step.Step,
			Success:       result.Success,
			ResultSummary: result.ResultSummary,
			SourceID:      result.SourceID,
			ExecutionS:    result.ExecutionS,
			Error:         result.Error,
			References:    result.References,
		})

		if i < len(state.Plan.Plan)-1 {
			select {
			case <-time.After(interStepDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if successes == 0 {
		return ErrNoSuccessfulResults
	}
	return nil
}

func (e *Executor) executeStep(ctx context.Context, state *models.SearchState, step *models.PlanStep, agentCtx *models.AgentContext) models.ExecutionResult {
	input := substituteVariables(step.ToolInput, state)
	sourceID := state.NextSourceID()

	result, err := e.registry.Invoke(ctx, step.ToolName, input, agentCtx)
	if err != nil {
		e.logger.Warn("Plan step dispatch failed",
			"step", step.Step, "tool", step.ToolName, "error", err)
		return models.ExecutionResult{
			StepNumber:    step.Step,
			ToolName:      step.ToolName,
			Success:       false,
			SourceID:      sourceID,
			Error:         err.Error(),
			ResultSummary: fmt.Sprintf("%s failed: %s", step.ToolName, err),
		}
	}

	out := models.ExecutionResult{
		StepNumber: step.Step,
		ToolName:   step.ToolName,
		Success:    result.Success,
		ResultData: result.Data,
		SourceID:   sourceID,
		Error:      result.Error,
		ExecutionS: result.ExecutionS,
		References: result.References,
		ResultText: result.TextContent(),
	}
	out.ResultSummary = summarizeResult(step.ToolName, result)
	if !result.Success {
		out.ResultSummary = fmt.Sprintf("%s failed: %s", step.ToolName, result.Error)
	}
	return out
}

// substituteVariables replaces template placeholders in string inputs:
// {query}, {index_id}, {document_id}, {segment_id}.
func substituteVariables(input map[string]any, state *models.SearchState) map[string]any {
	replacer := strings.NewReplacer(
		"{query}", state.Query,
		"{index_id}", state.IndexID,
		"{document_id}", state.DocumentID,
		"{segment_id}", state.SegmentID,
	)
	out := make(map[string]any, len(input))
	for k, v := range input {
		if s, ok := v.(string); ok {
			out[k] = replacer.Replace(s)
			continue
		}
		out[k] = v
	}
	return out
}

// summarizeResult renders the human-readable step outcome.
func summarizeResult(toolName string, result *models.ToolResult) string {
	if result.Data != nil {
		if results, ok := result.Data["results"].([]any); ok {
			return fmt.Sprintf("%s found %d results", toolName, len(results))
		}
	}
	if text := result.TextContent(); text != "" {
		return fmt.Sprintf("%s extracted %d chars", toolName, len(text))
	}
	return fmt.Sprintf("%s executed successfully", toolName)
}
