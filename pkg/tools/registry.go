// Package tools provides the tool registry: a catalog of named tools with
// typed input schemas, uniform dispatch with agent-context propagation,
// result normalization, and size capping.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/docsight/docsight/pkg/config"
	"github.com/docsight/docsight/pkg/models"
)

// ErrUnknownTool is returned when the tool name is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// ErrSchema is returned when arguments violate the tool's input schema.
var ErrSchema = errors.New("tool arguments violate schema")

// ErrRateLimited marks a rate-limited tool call; surfaced without retry.
var ErrRateLimited = errors.New("tool rate limited")

// Handler executes one tool call. agentCtx may be nil for tools that
// declare SupportsAgentContext=false.
type Handler func(ctx context.Context, args map[string]any, agentCtx *models.AgentContext) (*models.ToolResult, error)

type entry struct {
	spec    models.ToolSpec
	handler Handler
	schema  *jsonschema.Schema // nil = no validation
}

// Registry is the tool catalog. Read-mostly after startup; Register and
// Reset take the write lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	cache *resultCache
	cfg   config.ToolsConfig

	// lastScope tracks the agent-context scope of the previous invocation;
	// a scope change invalidates the result cache.
	lastScope scopeKey

	logger *slog.Logger
}

type scopeKey struct {
	indexID   string
	sessionID string
}

// NewRegistry creates an empty registry with the given bounds.
func NewRegistry(cfg config.ToolsConfig) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		cache:   newResultCache(resultCacheSize),
		cfg:     cfg,
		logger:  slog.Default(),
	}
}

// Register adds a tool. The input schema, when present, is compiled once
// here so Invoke validates without recompilation. Re-registering a name
// replaces the previous tool.
func (r *Registry) Register(spec models.ToolSpec, handler Handler) error {
	if spec.Name == "" {
		return fmt.Errorf("tool spec requires a name")
	}
	if handler == nil {
		return fmt.Errorf("tool %q requires a handler", spec.Name)
	}

	var schema *jsonschema.Schema
	if spec.InputSchema != nil {
		compiler := jsonschema.NewCompiler()
		resource := fmt.Sprintf("inmem://tools/%s.json", spec.Name)
		if err := compiler.AddResource(resource, normalizeSchemaDoc(spec.InputSchema)); err != nil {
			return fmt.Errorf("failed to add schema for tool %q: %w", spec.Name, err)
		}
		compiled, err := compiler.Compile(resource)
		if err != nil {
			return fmt.Errorf("failed to compile schema for tool %q: %w", spec.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[spec.Name]; !exists {
		r.order = append(r.order, spec.Name)
	}
	r.entries[spec.Name] = &entry{spec: spec, handler: handler, schema: schema}
	return nil
}

// List returns the registered tool specs in registration order.
func (r *Registry) List() []models.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].spec)
	}
	return out
}

// Reset removes all registered tools and clears the result cache.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry)
	r.order = nil
	r.cache.Clear()
}

// Invoke dispatches a tool call. Returns ErrUnknownTool or ErrSchema for
// contract violations; all handler failures (including panics) come back
// as ToolResult{Success:false} with a nil error. The result is always
// normalized: text capped, references extracted and stamped, attachments
// filtered.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, agentCtx *models.AgentContext) (*models.ToolResult, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	if args == nil {
		args = map[string]any{}
	}
	if e.schema != nil {
		if err := e.schema.Validate(toValidatable(args)); err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrSchema, name, err)
		}
	}

	r.maybeInvalidateCache(agentCtx)

	start := time.Now()
	result, err := r.dispatch(ctx, e, args, agentCtx)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		result = &models.ToolResult{
			Success: false,
			Error:   err.Error(),
		}
	}
	if result == nil {
		result = &models.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool %q returned no result", name),
		}
	}
	result.ExecutionS = elapsed

	r.normalize(result, name)

	if result.Success {
		r.cache.Record(name, args, result)
	}
	return result, nil
}

// RecentResults exposes the bounded result cache for observability.
func (r *Registry) RecentResults() []CachedResult {
	return r.cache.Recent()
}

// dispatch runs the handler with panic recovery, per-call timeout, and
// bounded retry on transport-class failures.
func (r *Registry) dispatch(ctx context.Context, e *entry, args map[string]any, agentCtx *models.AgentContext) (*models.ToolResult, error) {
	attempts := r.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if r.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		}
		result, err := r.invokeOnce(callCtx, e, args, agentCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrRateLimited) || isRateLimited(err) {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, err)
		}
		if !isTransient(err) || attempt == attempts {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("Tool call failed, retrying",
			"tool", e.spec.Name, "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

func (r *Registry) invokeOnce(ctx context.Context, e *entry, args map[string]any, agentCtx *models.AgentContext) (result *models.ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Tool handler panicked",
				"tool", e.spec.Name, "panic", rec, "stack", string(debug.Stack()))
			result = nil
			err = fmt.Errorf("tool %q panicked: %v", e.spec.Name, rec)
		}
	}()
	if !e.spec.SupportsAgentContext {
		agentCtx = nil
	}
	return e.handler(ctx, args, agentCtx)
}

// maybeInvalidateCache clears the result cache when the invocation scope
// (index or session) changes.
func (r *Registry) maybeInvalidateCache(agentCtx *models.AgentContext) {
	if agentCtx == nil {
		return
	}
	scope := scopeKey{indexID: agentCtx.IndexID, sessionID: agentCtx.SessionID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if scope != r.lastScope {
		r.cache.Clear()
		r.lastScope = scope
	}
}

// normalizeSchemaDoc converts a schema map to the generic JSON form the
// compiler expects (json.Unmarshal output: map[string]any with []any and
// float64 leaves).
func normalizeSchemaDoc(doc map[string]any) any {
	return toValidatable(doc)
}

func toValidatable(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = toValidatable(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = toValidatable(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// isTransient reports connection, TLS, DNS, and timeout failures.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused", "connection reset", "broken pipe",
		"no such host", "tls", "ssl", "timeout", "deadline exceeded",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}
