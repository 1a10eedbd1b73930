package plan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsight/docsight/pkg/config"
	"github.com/docsight/docsight/pkg/events"
	"github.com/docsight/docsight/pkg/models"
	"github.com/docsight/docsight/pkg/tools"
)

func executorRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	return tools.NewRegistry(config.ToolsConfig{
		MaxContentLen: 32000,
		CallTimeout:   5 * time.Second,
		MaxAttempts:   1,
	})
}

func planOf(steps ...models.PlanStep) *models.ExecutionPlan {
	return &models.ExecutionPlan{Plan: steps, TotalSteps: len(steps)}
}

func TestSubstituteVariables(t *testing.T) {
	state := &models.SearchState{
		Query:      "quarterly revenue",
		IndexID:    "idx-1",
		DocumentID: "doc-9",
		SegmentID:  "seg-3",
	}
	input := map[string]any{
		"query":       "{query}",
		"index_id":    "{index_id}",
		"document_id": "{document_id}",
		"segment_id":  "{segment_id}",
		"mixed":       "about {query} in {document_id}",
		"size":        5,
	}

	out := substituteVariables(input, state)

	assert.Equal(t, "quarterly revenue", out["query"])
	assert.Equal(t, "idx-1", out["index_id"])
	assert.Equal(t, "doc-9", out["document_id"])
	assert.Equal(t, "seg-3", out["segment_id"])
	assert.Equal(t, "about quarterly revenue in doc-9", out["mixed"])
	assert.Equal(t, 5, out["size"])
}

func TestSummarizeResult(t *testing.T) {
	tests := []struct {
		name   string
		result *models.ToolResult
		want   string
	}{
		{
			name:   "results list",
			result: &models.ToolResult{Success: true, Data: map[string]any{"results": []any{1, 2, 3}}},
			want:   "hybrid_search found 3 results",
		},
		{
			name:   "text content",
			result: &models.ToolResult{Success: true, Message: "0123456789"},
			want:   "hybrid_search extracted 10 chars",
		},
		{
			name:   "no payload",
			result: &models.ToolResult{Success: true},
			want:   "hybrid_search executed successfully",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summarizeResult("hybrid_search", tt.result))
		})
	}
}

func TestExecuteEmitsStepEventsAndAssignsSourceIDs(t *testing.T) {
	registry := executorRegistry(t)
	require.NoError(t, registry.Register(models.ToolSpec{Name: "a", SupportsAgentContext: true},
		func(ctx context.Context, args map[string]any, agentCtx *models.AgentContext) (*models.ToolResult, error) {
			return &models.ToolResult{Success: true, Message: "first"}, nil
		}))
	require.NoError(t, registry.Register(models.ToolSpec{Name: "b", SupportsAgentContext: true},
		func(ctx context.Context, args map[string]any, agentCtx *models.AgentContext) (*models.ToolResult, error) {
			return nil, errors.New("backend unavailable")
		}))

	state := &models.SearchState{Query: "q", IndexID: "idx-1"}
	state.Plan = planOf(
		models.PlanStep{Step: 1, ToolName: "a", ToolInput: map[string]any{}},
		models.PlanStep{Step: 2, ToolName: "b", ToolInput: map[string]any{}},
	)

	var emitted []events.Event
	err := NewExecutor(registry).Execute(context.Background(), state, "th", func(ev events.Event) {
		emitted = append(emitted, ev)
	})
	require.NoError(t, err)

	require.Len(t, state.Results, 2)
	assert.Equal(t, 1, state.Results[0].SourceID)
	assert.Equal(t, 2, state.Results[1].SourceID)
	assert.True(t, state.Results[0].Success)
	assert.False(t, state.Results[1].Success)
	assert.Equal(t, models.StepCompleted, state.Plan.Plan[0].Status)
	assert.Equal(t, models.StepFailed, state.Plan.Plan[1].Status)

	require.Len(t, emitted, 4)
	assert.Equal(t, events.TypeStepExecuting, emitted[0].EventType())
	assert.Equal(t, events.TypeStepCompleted, emitted[1].EventType())
	assert.Equal(t, events.TypeStepExecuting, emitted[2].EventType())
	done := emitted[3].(events.StepCompleted)
	assert.False(t, done.Success)
	assert.Contains(t, done.ResultSummary, "failed")
}

func TestExecuteAllStepsFailed(t *testing.T) {
	registry := executorRegistry(t)
	require.NoError(t, registry.Register(models.ToolSpec{Name: "broken"},
		func(ctx context.Context, args map[string]any, agentCtx *models.AgentContext) (*models.ToolResult, error) {
			return &models.ToolResult{Success: false, Error: "boom"}, nil
		}))

	state := &models.SearchState{Query: "q"}
	state.Plan = planOf(models.PlanStep{Step: 1, ToolName: "broken", ToolInput: map[string]any{}})

	err := NewExecutor(registry).Execute(context.Background(), state, "th", func(events.Event) {})
	assert.ErrorIs(t, err, ErrNoSuccessfulResults)
}

func TestExecuteEmptyPlan(t *testing.T) {
	state := &models.SearchState{Query: "q", Plan: planOf()}
	err := NewExecutor(executorRegistry(t)).Execute(context.Background(), state, "th", func(events.Event) {})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSuccessfulResults)
}
