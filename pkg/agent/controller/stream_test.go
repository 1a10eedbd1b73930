package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsight/docsight/pkg/agent/prompt"
	"github.com/docsight/docsight/pkg/checkpoint"
	"github.com/docsight/docsight/pkg/config"
	"github.com/docsight/docsight/pkg/conversation"
	"github.com/docsight/docsight/pkg/events"
	"github.com/docsight/docsight/pkg/mcp"
	"github.com/docsight/docsight/pkg/model"
	"github.com/docsight/docsight/pkg/models"
	"github.com/docsight/docsight/pkg/tools"
)

// modelTurn scripts one Generate call of the fake model.
type modelTurn struct {
	text      string
	toolCalls []models.ToolCall
	usage     *models.TokenUsage
	err       string
}

// scriptedModel replays a fixed sequence of turns. Calls past the script
// repeat the last turn. Every GenerateInput is recorded for assertions.
type scriptedModel struct {
	mu     sync.Mutex
	turns  []modelTurn
	calls  int
	inputs []*model.GenerateInput
}

func (m *scriptedModel) Generate(_ context.Context, in *model.GenerateInput) (<-chan model.Chunk, error) {
	m.mu.Lock()
	idx := m.calls
	if idx >= len(m.turns) {
		idx = len(m.turns) - 1
	}
	turn := m.turns[idx]
	m.calls++
	m.inputs = append(m.inputs, in)
	m.mu.Unlock()

	ch := make(chan model.Chunk, 8)
	go func() {
		defer close(ch)
		if turn.err != "" {
			ch <- model.ErrorChunk{Message: turn.err}
			return
		}
		if turn.text != "" {
			ch <- model.TextChunk{Content: turn.text}
		}
		for _, call := range turn.toolCalls {
			ch <- model.ToolCallChunk{CallID: call.ID, Name: call.Name, Arguments: call.Arguments}
		}
		if turn.usage != nil {
			ch <- model.UsageChunk{
				InputTokens:  turn.usage.InputTokens,
				OutputTokens: turn.usage.OutputTokens,
				TotalTokens:  turn.usage.TotalTokens,
			}
		}
	}()
	return ch, nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *scriptedModel) input(i int) *model.GenerateInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputs[i]
}

// echoRegistry registers a single echo tool that records the agent
// context it was invoked with.
func echoRegistry(t *testing.T, result *models.ToolResult, observed *[]models.AgentContext) *tools.Registry {
	t.Helper()
	var mu sync.Mutex
	reg := tools.NewRegistry(config.ToolsConfig{
		MaxContentLen:        32000,
		RefImageMaxAttach:    1,
		RefImageMaxBase64Len: 500000,
		CallTimeout:          time.Second,
		MaxAttempts:          1,
	})
	err := reg.Register(models.ToolSpec{
		Name:        "echo",
		Description: "Echoes the message back.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"message": map[string]any{"type": "string"}},
		},
		SupportsAgentContext: true,
	}, func(_ context.Context, args map[string]any, agentCtx *models.AgentContext) (*models.ToolResult, error) {
		if observed != nil && agentCtx != nil {
			mu.Lock()
			*observed = append(*observed, *agentCtx)
			mu.Unlock()
		}
		if result != nil {
			out := *result
			return &out, nil
		}
		msg, _ := args["message"].(string)
		return &models.ToolResult{Success: true, Message: "Echo: " + msg}, nil
	})
	require.NoError(t, err)
	return reg
}

func loopEngine(m model.Client, registry *tools.Registry, health *mcp.HealthChecker, modelCfg config.ModelConfig) *Engine {
	if modelCfg.ModelID == "" {
		modelCfg.ModelID = "claude-sonnet-4-5"
	}
	if modelCfg.MaxTokens == 0 {
		modelCfg.MaxTokens = 1024
	}
	return NewEngine(
		m, registry, health,
		conversation.NewStore(10, 50, time.Hour),
		checkpoint.NewMemoryStore(),
		prompt.NewRegistry(),
		modelCfg,
		config.ConversationConfig{
			SummarizationThreshold:  100,
			MinMessagesSinceSummary: 6,
			KeepRecentMessages:      4,
			MaxConversationMessages: 10,
		},
	)
}

func collectEvents(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var out []events.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for stream to close after %d events", len(out))
		}
	}
}

func eventTypes(evs []events.Event) []events.Type {
	out := make([]events.Type, len(evs))
	for i, ev := range evs {
		out[i] = ev.EventType()
	}
	return out
}

func TestStreamOneToolTurn(t *testing.T) {
	m := &scriptedModel{turns: []modelTurn{
		{toolCalls: []models.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"message": "Hi"}}}},
		{text: "Said: Hi"},
	}}
	var observed []models.AgentContext
	e := loopEngine(m, echoRegistry(t, nil, &observed), nil, config.ModelConfig{})

	ch, err := e.Stream(context.Background(), Input{
		Query:    "Hello",
		ThreadID: "t1",
		AgentCtx: models.AgentContext{IndexID: "idx-1", ThreadID: "t1", UserQuery: "Hello"},
	})
	require.NoError(t, err)
	evs := collectEvents(t, ch)

	require.Equal(t, []events.Type{
		events.TypeToolUse,
		events.TypeToolResult,
		events.TypeTextChunk,
		events.TypeStreamEnd,
	}, eventTypes(evs))

	use := evs[0].(events.ToolUse)
	assert.Equal(t, "echo", use.ToolName)
	assert.Equal(t, "c1", use.ToolCallID)

	result := evs[1].(events.ToolResult)
	assert.True(t, result.Success)
	assert.Equal(t, "c1", result.ToolCallID)

	assert.Equal(t, "Said: Hi", evs[2].(events.TextChunk).Text)

	require.Len(t, observed, 1)
	assert.Equal(t, "idx-1", observed[0].IndexID)

	// The tool observation reached the second model turn.
	second := m.input(1)
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, models.RoleTool, last.Role)
	assert.Contains(t, last.Content, "Echo: Hi")
}

func TestStreamEmitsSingleReferencesEventBeforeEnd(t *testing.T) {
	toolResult := &models.ToolResult{
		Success: true,
		Message: "found it",
		References: []models.Reference{
			{ID: "r1", Type: models.ReferenceDocument, Title: "Doc", Value: "https://d/1"},
			{ID: "r1", Type: models.ReferenceDocument, Title: "Doc dup", Value: "https://d/1"},
		},
	}
	m := &scriptedModel{turns: []modelTurn{
		{toolCalls: []models.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"message": "x"}}}},
		{text: "done"},
	}}
	e := loopEngine(m, echoRegistry(t, toolResult, nil), nil, config.ModelConfig{})

	ch, err := e.Stream(context.Background(), Input{Query: "q", ThreadID: "t-refs"})
	require.NoError(t, err)
	evs := collectEvents(t, ch)

	require.Equal(t, []events.Type{
		events.TypeToolUse,
		events.TypeToolResult,
		events.TypeTextChunk,
		events.TypeReferences,
		events.TypeStreamEnd,
	}, eventTypes(evs))

	refs := evs[3].(events.References)
	require.Len(t, refs.References, 1)
	assert.Equal(t, "r1", refs.References[0].ID)
}

func TestStreamInterruptAndResume(t *testing.T) {
	m := &scriptedModel{turns: []modelTurn{
		{toolCalls: []models.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"message": "Hi"}}}},
		{text: "Said: Hi"},
	}}
	var observed []models.AgentContext
	e := loopEngine(m, echoRegistry(t, nil, &observed), nil, config.ModelConfig{})

	ch, err := e.Stream(context.Background(), Input{
		Query:           "Hello",
		ThreadID:        "t-approve",
		AgentCtx:        models.AgentContext{IndexID: "idx-1", DocumentID: "doc-1", ThreadID: "t-approve"},
		RequireApproval: true,
	})
	require.NoError(t, err)
	evs := collectEvents(t, ch)

	require.Equal(t, []events.Type{
		events.TypeToolUse,
		events.TypeInterrupt,
	}, eventTypes(evs))
	assert.True(t, evs[1].(events.Interrupt).RequiresApproval)
	assert.Empty(t, observed, "no tool may run before approval")

	resumed, err := e.Resume(context.Background(), "t-approve", true)
	require.NoError(t, err)
	evs = collectEvents(t, resumed)

	// Pending calls were announced at interrupt time; the resumed stream
	// starts with their results.
	require.Equal(t, []events.Type{
		events.TypeToolResult,
		events.TypeTextChunk,
		events.TypeStreamEnd,
	}, eventTypes(evs))

	// The approved call ran with the original request scope.
	require.Len(t, observed, 1)
	assert.Equal(t, "idx-1", observed[0].IndexID)
	assert.Equal(t, "doc-1", observed[0].DocumentID)
}

func TestStreamResumeRejected(t *testing.T) {
	m := &scriptedModel{turns: []modelTurn{
		{toolCalls: []models.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"message": "Hi"}}}},
		{text: "Proceeding without the tool."},
	}}
	var observed []models.AgentContext
	e := loopEngine(m, echoRegistry(t, nil, &observed), nil, config.ModelConfig{})

	ch, err := e.Stream(context.Background(), Input{
		Query:           "Hello",
		ThreadID:        "t-reject",
		RequireApproval: true,
	})
	require.NoError(t, err)
	collectEvents(t, ch)

	resumed, err := e.Resume(context.Background(), "t-reject", false)
	require.NoError(t, err)
	evs := collectEvents(t, resumed)

	require.Equal(t, []events.Type{
		events.TypeTextChunk,
		events.TypeStreamEnd,
	}, eventTypes(evs))
	assert.Empty(t, observed, "rejected tool must not run")

	// The model saw the rejection as the tool observation.
	second := m.input(1)
	last := second.Messages[len(second.Messages)-1]
	require.Equal(t, models.RoleTool, last.Role)
	assert.Equal(t, toolRejectionMessage, last.Content)
}

func TestResumeWithoutPendingApproval(t *testing.T) {
	e := loopEngine(&scriptedModel{turns: []modelTurn{{text: "hi"}}}, echoRegistry(t, nil, nil), nil, config.ModelConfig{})
	_, err := e.Resume(context.Background(), "never-interrupted", true)
	require.Error(t, err)
}

// downLister simulates an unreachable aggregator for the health checker.
type downLister struct{}

func (downLister) ListTools(context.Context) ([]*mcpsdk.Tool, error) {
	return nil, errors.New("connection refused")
}

func TestStreamProceedsWithoutToolsWhenAggregatorUnhealthy(t *testing.T) {
	health := mcp.NewHealthChecker(downLister{}, time.Second)
	health.SetUnhealthy("aggregator down")

	m := &scriptedModel{turns: []modelTurn{{text: "Answer from context alone."}}}
	e := loopEngine(m, echoRegistry(t, nil, nil), health, config.ModelConfig{})

	ch, err := e.Stream(context.Background(), Input{Query: "q", ThreadID: "t-degraded"})
	require.NoError(t, err)
	evs := collectEvents(t, ch)

	require.Equal(t, []events.Type{
		events.TypeTextChunk,
		events.TypeStreamEnd,
	}, eventTypes(evs))
	assert.Empty(t, m.input(0).Tools, "unhealthy aggregator must not offer tools")
}

func TestStreamBudgetExceededTerminates(t *testing.T) {
	m := &scriptedModel{turns: []modelTurn{
		{
			toolCalls: []models.ToolCall{{ID: "c1", Name: "echo", Arguments: map[string]any{"message": "x"}}},
			usage:     &models.TokenUsage{InputTokens: 1000, OutputTokens: 1000, TotalTokens: 2000},
		},
		{text: "never reached"},
	}}
	e := loopEngine(m, echoRegistry(t, nil, nil), nil, config.ModelConfig{
		BudgetUSD:       0.001,
		InputCostPer1K:  1,
		OutputCostPer1K: 1,
	})

	ch, err := e.Stream(context.Background(), Input{Query: "q", ThreadID: "t-budget"})
	require.NoError(t, err)
	evs := collectEvents(t, ch)

	require.Equal(t, []events.Type{
		events.TypeToolUse,
		events.TypeToolResult,
		events.TypePhaseUpdate,
		events.TypeError,
	}, eventTypes(evs))
	assert.Equal(t, "budget_exceeded", evs[3].(events.Error).ErrorCode)
	assert.Equal(t, 1, m.callCount(), "no model call may follow budget exhaustion")
}

func TestStreamModelFailureEmitsErrorTerminal(t *testing.T) {
	m := &scriptedModel{turns: []modelTurn{{err: "upstream 500"}}}
	e := loopEngine(m, echoRegistry(t, nil, nil), nil, config.ModelConfig{})

	ch, err := e.Stream(context.Background(), Input{Query: "q", ThreadID: "t-err"})
	require.NoError(t, err)
	evs := collectEvents(t, ch)

	require.Len(t, evs, 1)
	errEv := evs[0].(events.Error)
	assert.Equal(t, events.TypeError, errEv.EventType())
	assert.Contains(t, errEv.ErrorMessage, "upstream 500")
}

func TestCapPromptHistory(t *testing.T) {
	msgs := []models.Message{{Role: models.RoleSystem, Content: "sys"}}
	for i := 0; i < 6; i++ {
		msgs = append(msgs, models.Message{Role: models.RoleUser, Content: string(rune('a' + i))})
	}

	capped := capPromptHistory(msgs, 3)
	require.Len(t, capped, 4)
	assert.Equal(t, models.RoleSystem, capped[0].Role)
	assert.Equal(t, "d", capped[1].Content)
	assert.Equal(t, "f", capped[3].Content)

	// Under the cap and cap disabled: unchanged.
	assert.Len(t, capPromptHistory(msgs, 10), 7)
	assert.Len(t, capPromptHistory(msgs, 0), 7)
}
