// Package controller implements the ReAct engine: a message-driven loop
// that alternates model calls and tool dispatch, with conversation
// summarization, approval interrupts, reference aggregation, and budget
// enforcement.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

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

// maxIterations bounds model/tool round trips per request.
const maxIterations = 10

// toolRejectionMessage is injected as the tool observation when the user
// declines a pending tool call.
const toolRejectionMessage = "Tool execution was rejected by the user. Answer with the information already available, and say what could not be verified."

// Input is one ReAct request.
type Input struct {
	Query    string
	ThreadID string
	ModelID  string
	AgentCtx models.AgentContext
	// Files are user-supplied attachments, re-encoded before the first
	// model turn.
	Files []models.Attachment
	// RequireApproval interrupts before the first tool dispatch; the
	// request continues through Resume.
	RequireApproval bool
}

// Engine is the ReAct controller. One instance serves all threads.
type Engine struct {
	model   model.Client
	tools   *tools.Registry
	health  *mcp.HealthChecker
	conv    *conversation.Store
	ckpt    checkpoint.Store
	prompts *prompt.Registry

	modelCfg config.ModelConfig
	convCfg  config.ConversationConfig

	logger *slog.Logger
}

// NewEngine wires the controller.
func NewEngine(
	modelClient model.Client,
	registry *tools.Registry,
	health *mcp.HealthChecker,
	conv *conversation.Store,
	ckpt checkpoint.Store,
	prompts *prompt.Registry,
	modelCfg config.ModelConfig,
	convCfg config.ConversationConfig,
) *Engine {
	return &Engine{
		model:    modelClient,
		tools:    registry,
		health:   health,
		conv:     conv,
		ckpt:     ckpt,
		prompts:  prompts,
		modelCfg: modelCfg,
		convCfg:  convCfg,
		logger:   slog.Default(),
	}
}

// Stream runs a ReAct session and returns its event stream. Attachment
// validation happens before the channel is returned, so malformed files
// fail the call rather than the stream.
func (e *Engine) Stream(ctx context.Context, in Input) (<-chan events.Event, error) {
	attachments, err := prepareAttachments(in.Files)
	if err != nil {
		return nil, err
	}

	out := make(chan events.Event, 16)
	go func() {
		defer close(out)
		e.run(ctx, in, attachments, out)
	}()
	return out, nil
}

// Resume continues a session interrupted for tool approval. On
// approved=false the pending calls are answered with a rejection
// observation and the model produces a final answer without them.
func (e *Engine) Resume(ctx context.Context, threadID string, approved bool) (<-chan events.Event, error) {
	state, err := e.ckpt.GetState(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !state.AwaitingApproval || len(state.PendingToolCalls) == 0 {
		return nil, fmt.Errorf("thread %q has no pending tool approval", threadID)
	}

	out := make(chan events.Event, 16)
	go func() {
		defer close(out)
		e.resume(ctx, threadID, approved, state, out)
	}()
	return out, nil
}

// session is the per-request working state.
type session struct {
	engine   *Engine
	threadID string
	modelID  string
	agentCtx models.AgentContext
	out      chan<- events.Event

	usage      models.TokenUsage
	references []models.Reference
	// approvalPending is true until the first tool batch is approved.
	approvalPending bool
}

func (e *Engine) run(ctx context.Context, in Input, attachments []models.Attachment, out chan<- events.Event) {
	s := &session{
		engine:          e,
		threadID:        in.ThreadID,
		modelID:         e.resolveModelID(in.ModelID),
		agentCtx:        in.AgentCtx,
		out:             out,
		approvalPending: in.RequireApproval,
	}

	if e.shouldSummarize(in.ThreadID) {
		if err := e.summarize(ctx, in.ThreadID, s.modelID); err != nil {
			// Summarization is best effort; the full history still fits the
			// next call.
			e.logger.Warn("Summarization failed", "thread_id", in.ThreadID, "error", err)
		}
	}

	summary, _ := e.conv.Summary(in.ThreadID)
	rendered, err := e.prompts.Render(prompt.TemplateReact, map[string]string{
		"QUERY":       in.Query,
		"SUMMARY":     summary,
		"DOCUMENT_ID": in.AgentCtx.DocumentID,
		"SEGMENT_ID":  in.AgentCtx.SegmentID,
	})
	if err != nil {
		s.emitError(ctx, err.Error(), "internal")
		return
	}

	userMsg := models.Message{Role: models.RoleUser, Content: rendered.Instruction}
	if len(attachments) > 0 {
		blocks := []models.ContentBlock{{Type: models.BlockText, Text: rendered.Instruction}}
		for _, a := range attachments {
			blocks = append(blocks, models.ContentBlock{
				Type:      models.BlockImageRef,
				MediaType: a.MediaType,
				Data:      a.Data,
			})
		}
		userMsg = models.Message{Role: models.RoleUser, Blocks: blocks}
	}

	msgs := capPromptHistory(
		e.conv.Prepare(in.ThreadID, []models.Message{userMsg}, rendered.SystemPrompt),
		e.convCfg.MaxConversationMessages,
	)
	e.conv.AppendUser(in.ThreadID, in.Query)

	s.loop(ctx, msgs)
}

func (e *Engine) resume(ctx context.Context, threadID string, approved bool, state *checkpoint.State, out chan<- events.Event) {
	s := &session{
		engine:     e,
		threadID:   threadID,
		modelID:    e.resolveModelID(state.ModelID),
		agentCtx:   state.AgentContext,
		out:        out,
		references: state.ToolReferences,
	}

	awaiting := false
	pending := []models.ToolCall{}
	if err := e.ckpt.UpdateState(ctx, threadID, checkpoint.Patch{
		AwaitingApproval: &awaiting,
		PendingToolCalls: &pending,
	}); err != nil {
		s.emitError(ctx, fmt.Sprintf("failed to clear approval state: %s", err), "internal")
		return
	}

	msgs := state.Messages
	if approved {
		// The pending calls were announced with tool_use events at
		// interrupt time; the resumed stream carries only their results.
		msgs = s.toolNode(ctx, msgs, state.PendingToolCalls, false)
	} else {
		for _, call := range state.PendingToolCalls {
			msgs = append(msgs, models.Message{
				Role:       models.RoleTool,
				Content:    toolRejectionMessage,
				ToolCallID: call.ID,
			})
		}
	}
	s.loop(ctx, msgs)
}

// loop is the call_model → tools cycle shared by Stream and Resume.
func (s *session) loop(ctx context.Context, msgs []models.Message) {
	e := s.engine

	for iteration := 0; iteration < maxIterations; iteration++ {
		if code, ok := s.overBudget(); ok {
			s.emit(ctx, events.PhaseUpdate{
				Meta:    events.NewMeta(events.TypePhaseUpdate, "", s.threadID),
				Phase:   "error",
				Message: code,
			})
			s.emitError(ctx, "request exceeded the configured model budget", code)
			return
		}

		resp, err := s.callModel(ctx, msgs)
		if err != nil {
			s.emitError(ctx, err.Error(), classifyModelError(err))
			return
		}
		if resp.Usage != nil {
			s.usage.Add(*resp.Usage)
		}

		if len(resp.ToolCalls) == 0 {
			e.conv.AppendAssistant(s.threadID, resp.Text)
			s.finish(ctx, append(msgs, models.Message{
				Role:    models.RoleAssistant,
				Content: resp.Text,
			}))
			return
		}

		assistant := models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		}
		msgs = append(msgs, assistant)

		if s.approvalPending {
			s.interrupt(ctx, msgs, resp.ToolCalls)
			return
		}
		msgs = s.toolNode(ctx, msgs, resp.ToolCalls, true)
		if ctx.Err() != nil {
			return
		}
	}

	s.emitError(ctx, fmt.Sprintf("aborted after %d model iterations without a final answer", maxIterations), "internal")
}

// callModel invokes the model with the current toolset, streaming text
// deltas as text_chunk events under one stable text id.
func (s *session) callModel(ctx context.Context, msgs []models.Message) (*model.Response, error) {
	e := s.engine

	var toolSpecs []models.ToolSpec
	if e.health == nil || e.health.IsHealthy(ctx) {
		toolSpecs = e.tools.List()
	} else {
		e.logger.Warn("Tool aggregator unhealthy, proceeding without tools",
			"thread_id", s.threadID)
	}

	stream, err := e.model.Generate(ctx, &model.GenerateInput{
		ModelID:     s.modelID,
		Messages:    msgs,
		Tools:       toolSpecs,
		MaxTokens:   e.modelCfg.MaxTokens,
		Temperature: e.modelCfg.Temperature,
	})
	if err != nil {
		return nil, err
	}

	textID := uuid.NewString()
	return model.CollectWithCallback(stream, func(delta string) {
		s.emit(ctx, events.TextChunk{
			Meta:   events.NewMeta(events.TypeTextChunk, "", s.threadID),
			TextID: textID,
			Text:   delta,
		})
	})
}

// toolNode dispatches each tool call in model order, emitting
// tool_use/tool_result pairs and appending tool observations. At most one
// image attachment from this batch is forwarded to the next model turn.
// announce=false skips the tool_use events for calls already announced
// before an approval interrupt.
func (s *session) toolNode(ctx context.Context, msgs []models.Message, calls []models.ToolCall, announce bool) []models.Message {
	e := s.engine
	var forwarded *models.Attachment

	for _, call := range calls {
		if announce {
			s.emit(ctx, events.ToolUse{
				Meta:       events.NewMeta(events.TypeToolUse, "", s.threadID),
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Arguments:  call.Arguments,
			})
		}

		result, err := e.tools.Invoke(ctx, call.Name, call.Arguments, &s.agentCtx)
		if err != nil {
			// Contract violations (unknown tool, schema) become observations
			// the model can correct on the next turn.
			result = &models.ToolResult{Success: false, Error: err.Error()}
		}

		observation := result.TextContent()
		if !result.Success {
			observation = fmt.Sprintf("Tool %s failed: %s", call.Name, result.Error)
			if e.health != nil && looksLikeTransportFailure(result.Error) {
				e.health.SetUnhealthy(result.Error)
			}
		}
		msgs = append(msgs, models.Message{
			Role:       models.RoleTool,
			Content:    observation,
			ToolCallID: call.ID,
		})

		s.references = append(s.references, result.References...)
		if forwarded == nil && len(result.Attachments) > 0 {
			a := result.Attachments[0]
			forwarded = &a
		}

		s.emit(ctx, events.ToolResult{
			Meta:       events.NewMeta(events.TypeToolResult, "", s.threadID),
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Success:    result.Success,
			Summary:    summarizeObservation(observation),
			Error:      result.Error,
			ExecutionS: result.ExecutionS,
			Truncated:  result.Truncated,
		})
	}

	if forwarded != nil {
		msgs = append(msgs, models.Message{
			Role: models.RoleUser,
			Blocks: []models.ContentBlock{
				{Type: models.BlockText, Text: "Image returned by the tool above:"},
				{Type: models.BlockImageRef, MediaType: forwarded.MediaType, Data: forwarded.Data},
			},
		})
	}
	return msgs
}

// interrupt announces the pending calls, persists the full working
// transcript, and emits the interrupt terminal. No stream_end follows.
func (s *session) interrupt(ctx context.Context, msgs []models.Message, calls []models.ToolCall) {
	e := s.engine
	for _, call := range calls {
		s.emit(ctx, events.ToolUse{
			Meta:       events.NewMeta(events.TypeToolUse, "", s.threadID),
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Arguments:  call.Arguments,
		})
	}
	awaiting := true
	count := len(msgs)
	if err := e.ckpt.UpdateState(ctx, s.threadID, checkpoint.Patch{
		Messages:         &msgs,
		PendingToolCalls: &calls,
		AwaitingApproval: &awaiting,
		ToolReferences:   &s.references,
		MessageCount:     &count,
		AgentContext:     &s.agentCtx,
		ModelID:          &s.modelID,
	}); err != nil {
		s.emitError(ctx, fmt.Sprintf("failed to persist interrupt state: %s", err), "internal")
		return
	}
	s.emit(ctx, events.Interrupt{
		Meta:             events.NewMeta(events.TypeInterrupt, "", s.threadID),
		RequiresApproval: true,
	})
}

// finish emits the single deduplicated references event when any tool
// produced references, then stream_end, and clears per-request state from
// the checkpoint.
func (s *session) finish(ctx context.Context, msgs []models.Message) {
	e := s.engine

	if refs := dedupReferences(s.references); len(refs) > 0 {
		s.emit(ctx, events.References{
			Meta:       events.NewMeta(events.TypeReferences, "", s.threadID),
			References: refs,
		})
	}
	s.emit(ctx, events.StreamEnd{
		Meta: events.NewMeta(events.TypeStreamEnd, "", s.threadID),
	})

	count := len(msgs)
	patch := checkpoint.ClearToolReferences()
	patch.Messages = &msgs
	patch.MessageCount = &count
	awaiting := false
	patch.AwaitingApproval = &awaiting
	if err := e.ckpt.UpdateState(ctx, s.threadID, patch); err != nil {
		e.logger.Warn("Failed to update checkpoint at request end",
			"thread_id", s.threadID, "error", err)
	}
}

func (s *session) overBudget() (string, bool) {
	cfg := s.engine.modelCfg
	if cfg.BudgetUSD <= 0 {
		return "", false
	}
	cost := float64(s.usage.InputTokens)/1000*cfg.InputCostPer1K +
		float64(s.usage.OutputTokens)/1000*cfg.OutputCostPer1K
	if cost > cfg.BudgetUSD {
		return "budget_exceeded", true
	}
	return "", false
}

func (s *session) emit(ctx context.Context, ev events.Event) {
	select {
	case s.out <- ev:
	case <-ctx.Done():
	}
}

func (s *session) emitError(ctx context.Context, message, code string) {
	s.emit(ctx, events.Error{
		Meta:         events.NewMeta(events.TypeError, "", s.threadID),
		ErrorMessage: message,
		ErrorCode:    code,
	})
}

func (e *Engine) resolveModelID(override string) string {
	if override != "" {
		return override
	}
	return e.modelCfg.ModelID
}

// capPromptHistory bounds the non-system portion of a prompt to the most
// recent max messages. Older turns are carried by the thread summary, not
// by replaying the full transcript.
func capPromptHistory(msgs []models.Message, max int) []models.Message {
	if max <= 0 {
		return msgs
	}
	start := 0
	if len(msgs) > 0 && msgs[0].Role == models.RoleSystem {
		start = 1
	}
	if len(msgs)-start <= max {
		return msgs
	}
	return append(msgs[:start:start], msgs[len(msgs)-max:]...)
}

// summarizeObservation shortens a tool observation for the event stream.
func summarizeObservation(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 200 {
		return text[:200]
	}
	return text
}

// dedupReferences drops repeated references, keyed by id when present,
// otherwise by target value.
func dedupReferences(refs []models.Reference) []models.Reference {
	if len(refs) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(refs))
	out := make([]models.Reference, 0, len(refs))
	for _, ref := range refs {
		key := ref.ID
		if key == "" {
			key = ref.Value
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ref)
	}
	return out
}

// looksLikeTransportFailure matches connection-class tool errors that
// indicate the aggregator itself is down, not just one bad call.
func looksLikeTransportFailure(errMsg string) bool {
	msg := strings.ToLower(errMsg)
	for _, s := range []string{"connection refused", "connection reset", "no such host", "no session"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func classifyModelError(err error) string {
	switch {
	case errors.Is(err, model.ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, context.DeadlineExceeded):
		return "model_timeout"
	default:
		return "model_error"
	}
}
