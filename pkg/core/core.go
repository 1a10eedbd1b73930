// Package core wires the agent subsystems together and exposes the
// streaming entry points the HTTP layer serves. All dependencies are
// constructed in New; there are no package-level singletons.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/google/uuid"

	"github.com/docsight/docsight/pkg/agent/controller"
	"github.com/docsight/docsight/pkg/agent/prompt"
	"github.com/docsight/docsight/pkg/checkpoint"
	"github.com/docsight/docsight/pkg/config"
	"github.com/docsight/docsight/pkg/conversation"
	"github.com/docsight/docsight/pkg/events"
	"github.com/docsight/docsight/pkg/index"
	"github.com/docsight/docsight/pkg/mcp"
	"github.com/docsight/docsight/pkg/model"
	"github.com/docsight/docsight/pkg/models"
	"github.com/docsight/docsight/pkg/plan"
	"github.com/docsight/docsight/pkg/research"
	"github.com/docsight/docsight/pkg/tools"
)

// Execution modes accepted by Stream.
const (
	ModeReact        = "react"
	ModePlanExecute  = "plan_execute"
	ModeDeepResearch = "deep_research"
)

const maxThreadIDLen = 100

var threadIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Request is one streaming query.
type Request struct {
	Query      string              `json:"query"`
	Mode       string              `json:"mode,omitempty"`
	IndexID    string              `json:"index_id,omitempty"`
	DocumentID string              `json:"document_id,omitempty"`
	SegmentID  string              `json:"segment_id,omitempty"`
	ThreadID   string              `json:"thread_id,omitempty"`
	ModelID    string              `json:"model_id,omitempty"`
	Files      []models.Attachment `json:"files,omitempty"`
	// RequireApproval interrupts react sessions before the first tool
	// dispatch; the caller continues the thread through Resume.
	RequireApproval bool `json:"require_approval,omitempty"`
}

// ReinitOptions selects what Reinit rebuilds or clears.
type ReinitOptions struct {
	// ModelID, when set, becomes the new default model; the engine and
	// pipelines are rebuilt around it.
	ModelID string `json:"model_id,omitempty"`
	// ReloadPrompts restores the builtin prompt templates.
	ReloadPrompts bool `json:"reload_prompts,omitempty"`
	// ThreadID, when set, clears that thread's conversation history and
	// checkpoint.
	ThreadID string `json:"thread_id,omitempty"`
}

// HealthReport is the aggregate status surfaced on the health endpoint.
type HealthReport struct {
	Status       string             `json:"status"`
	MCP          mcp.Status         `json:"mcp"`
	Tools        int                `json:"tools"`
	Conversation conversation.Stats `json:"conversation"`
	RecentErrors []ErrorRecord      `json:"recent_errors,omitempty"`
}

// Core owns the agent subsystems and dispatches requests to the mode
// pipelines.
type Core struct {
	cfg *config.Config

	registry  *tools.Registry
	mcpClient *mcp.Client
	health    *mcp.HealthChecker
	conv      *conversation.Store
	// searchConv is the plan_execute mode's thread history, bounded
	// separately because search traffic fans across many more threads.
	searchConv *conversation.Store
	ckpt       checkpoint.Store
	prompts   *prompt.Registry
	docs      *index.Client
	mux       *events.Mux
	errs      *ErrorHistory

	// mu guards the model client and everything rebuilt on Reinit.
	mu       sync.RWMutex
	model    model.Client
	engine   *controller.Engine
	plan     *plan.Pipeline
	research *research.Pipeline

	logger *slog.Logger
}

// New builds the core from configuration. The MCP aggregator is probed
// and bridged best effort; a down aggregator leaves the builtin tools
// available and the health state unhealthy.
func New(ctx context.Context, cfg *config.Config) (*Core, error) {
	modelClient, err := model.NewClient(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}

	ckpt, err := newCheckpointStore(ctx, cfg.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	registry := tools.NewRegistry(cfg.Tools)
	docs := index.NewClient(cfg.Index)
	if err := index.RegisterBuiltins(registry, docs); err != nil {
		return nil, fmt.Errorf("failed to register builtin tools: %w", err)
	}

	c := &Core{
		cfg:      cfg,
		model:    modelClient,
		registry: registry,
		conv: conversation.NewStore(
			cfg.Conversation.MaxThreads,
			cfg.Conversation.MaxMessagesPerThread,
			cfg.Conversation.TTL,
		),
		searchConv: conversation.NewStore(
			cfg.Conversation.MaxSearchThreads,
			cfg.Conversation.MaxMessagesPerThread,
			cfg.Conversation.TTL,
		),
		ckpt:    ckpt,
		prompts: prompt.NewRegistry(),
		docs:    docs,
		mux:     events.NewMux(),
		errs:    NewErrorHistory(),
		logger:  slog.Default(),
	}

	if cfg.MCP.AggregatorURL != "" {
		c.mcpClient = mcp.NewClient(cfg.MCP.AggregatorURL)
		c.health = mcp.NewHealthChecker(c.mcpClient, cfg.MCP.HealthCheckTimeout)
		// An aggregator that was down gets its tools re-bridged as soon as
		// a probe sees it back. Register overwrites by name, so re-running
		// the bridge is safe.
		c.health.OnRecovery = func(recoveryCtx context.Context) {
			if n, err := mcp.RegisterTools(recoveryCtx, c.mcpClient, registry); err != nil {
				c.logger.Warn("Failed to re-bridge aggregator tools after recovery", "error", err)
			} else {
				c.logger.Info("Re-bridged aggregator tools after recovery", "count", n)
			}
		}
		if n, err := mcp.RegisterTools(ctx, c.mcpClient, registry); err != nil {
			c.logger.Warn("MCP aggregator unavailable at startup, continuing with builtin tools",
				"endpoint", cfg.MCP.AggregatorURL, "error", err)
			c.health.SetUnhealthy(err.Error())
		} else {
			c.logger.Info("Registered aggregator tools", "count", n)
		}
		if cfg.MCP.HealthCheckInterval > 0 {
			c.health.Start(ctx, cfg.MCP.HealthCheckInterval)
		}
	}

	c.rebuildLocked()
	return c, nil
}

// newCheckpointStore selects the checkpoint backend.
func newCheckpointStore(ctx context.Context, cfg config.CheckpointConfig) (checkpoint.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return checkpoint.NewMemoryStore(), nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres checkpoint backend requires a database_url")
		}
		return checkpoint.NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// rebuildLocked reconstructs the mode pipelines around the current model
// client. Callers hold c.mu or are still single-threaded in New.
func (c *Core) rebuildLocked() {
	c.engine = controller.NewEngine(
		c.model, c.registry, c.health, c.conv, c.ckpt, c.prompts,
		c.cfg.Model, c.cfg.Conversation,
	)
	c.plan = plan.NewPipeline(
		c.model, c.registry, c.prompts, c.searchConv,
		c.cfg.Model, c.cfg.Conversation,
	)
	c.research = research.NewPipeline(
		c.model, c.registry, c.prompts, c.docs,
		c.cfg.Research, c.cfg.Model,
	)
}

// Stream validates the request, dispatches it to the mode pipeline, and
// returns the wrapped event stream. The returned channel always carries
// exactly one terminal event.
func (c *Core) Stream(ctx context.Context, req Request) (<-chan events.Event, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeReact
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	} else if len(threadID) > maxThreadIDLen || !threadIDRe.MatchString(threadID) {
		return nil, fmt.Errorf("%w: thread_id must be at most %d characters of [A-Za-z0-9_-]",
			ErrValidation, maxThreadIDLen)
	}

	agentCtx := models.AgentContext{
		IndexID:    req.IndexID,
		DocumentID: req.DocumentID,
		SegmentID:  req.SegmentID,
		ThreadID:   threadID,
		SessionID:  threadID,
		UserQuery:  req.Query,
	}

	c.mu.RLock()
	engine, planPipe, researchPipe := c.engine, c.plan, c.research
	c.mu.RUnlock()

	var (
		producer <-chan events.Event
		err      error
	)
	switch mode {
	case ModeReact:
		producer, err = engine.Stream(ctx, controller.Input{
			Query:           req.Query,
			ThreadID:        threadID,
			ModelID:         req.ModelID,
			AgentCtx:        agentCtx,
			Files:           req.Files,
			RequireApproval: req.RequireApproval,
		})
	case ModePlanExecute:
		producer, err = planPipe.Stream(ctx, req.Query, threadID, agentCtx)
	case ModeDeepResearch:
		producer, err = researchPipe.Stream(ctx, req.Query, threadID, agentCtx)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrValidation, mode)
	}
	if err != nil {
		c.errs.Record(Classify(err), err.Error())
		return nil, err
	}

	c.logger.Info("Stream started", "mode", mode, "thread_id", threadID)
	return c.observe(ctx, c.mux.Wrap(ctx, threadID, producer)), nil
}

// Resume continues a react thread interrupted for tool approval.
func (c *Core) Resume(ctx context.Context, threadID string, approved bool) (<-chan events.Event, error) {
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread_id is required", ErrValidation)
	}

	c.mu.RLock()
	engine := c.engine
	c.mu.RUnlock()

	producer, err := engine.Resume(ctx, threadID, approved)
	if err != nil {
		if kind := Classify(err); kind == KindNotFound {
			err = fmt.Errorf("%w: no pending approval for thread %q", ErrNotFound, threadID)
		}
		c.errs.Record(Classify(err), err.Error())
		return nil, err
	}

	c.logger.Info("Stream resumed", "thread_id", threadID, "approved", approved)
	return c.observe(ctx, c.mux.Wrap(ctx, threadID, producer)), nil
}

// Reinit applies runtime reconfiguration without restarting the process.
func (c *Core) Reinit(ctx context.Context, opts ReinitOptions) error {
	if opts.ReloadPrompts {
		c.prompts.Reload()
		c.logger.Info("Prompt templates reloaded")
	}

	if opts.ThreadID != "" {
		c.conv.Clear(opts.ThreadID)
		c.searchConv.Clear(opts.ThreadID)
		if err := c.ckpt.Delete(ctx, opts.ThreadID); err != nil {
			return fmt.Errorf("failed to clear thread %q: %w", opts.ThreadID, err)
		}
		c.logger.Info("Thread cleared", "thread_id", opts.ThreadID)
	}

	if opts.ModelID != "" && opts.ModelID != c.cfg.Model.ModelID {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.cfg.Model.ModelID = opts.ModelID
		modelClient, err := model.NewClient(c.cfg.Model)
		if err != nil {
			return fmt.Errorf("failed to switch model: %w", err)
		}
		c.model = modelClient
		c.rebuildLocked()
		c.logger.Info("Model switched", "model_id", opts.ModelID)
	}
	return nil
}

// Health reports aggregator, tool, and conversation status plus recent
// classified errors.
func (c *Core) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:       "ok",
		Tools:        len(c.registry.List()),
		Conversation: c.conv.Stats(),
		RecentErrors: c.errs.Recent(),
	}
	if c.health != nil {
		report.MCP = c.health.GetStatus()
		if !c.health.IsHealthy(ctx) {
			report.Status = "degraded"
			report.MCP = c.health.GetStatus()
		}
	}
	return report
}

// Close releases background resources.
func (c *Core) Close() error {
	if c.health != nil {
		c.health.Stop()
	}
	if c.mcpClient != nil {
		if err := c.mcpClient.Close(); err != nil {
			return err
		}
	}
	if closer, ok := c.ckpt.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// observe tees error events into the error history without altering the
// stream. A cancelled consumer stops receiving but the producer is still
// drained so upstream goroutines can finish their sends.
func (c *Core) observe(ctx context.Context, in <-chan events.Event) <-chan events.Event {
	out := make(chan events.Event, 16)
	go func() {
		defer close(out)
		for ev := range in {
			if errEv, ok := ev.(events.Error); ok {
				c.errs.Record(Kind(errEv.ErrorCode), errEv.ErrorMessage)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
	}()
	return out
}
