package mcp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// State is the aggregator health state.
type State string

const (
	StateUnknown   State = "unknown"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
)

// maxStatusAge bounds how long a health verdict is trusted before the
// next IsHealthy call re-probes.
const maxStatusAge = 60 * time.Second

// Status is a point-in-time health snapshot.
type Status struct {
	State     State     `json:"state"`
	LastCheck time.Time `json:"last_check"`
	Error     string    `json:"error,omitempty"`
	ToolCount int       `json:"tool_count"`
}

// toolLister is the probe surface the checker needs from the client.
type toolLister interface {
	ListTools(ctx context.Context) ([]*mcpsdk.Tool, error)
}

// HealthChecker tracks aggregator health. A check lists the aggregator's
// tools with a bounded timeout; at least one tool means healthy. The
// state starts Unknown and is resolved on first use. SetUnhealthy lets
// callers that hit a hard failure downgrade the state immediately.
type HealthChecker struct {
	client  toolLister
	timeout time.Duration

	// OnRecovery runs when a probe observes the unhealthy-to-healthy
	// transition. The core uses it to re-bridge aggregator tools after
	// an outage.
	OnRecovery func(ctx context.Context)

	mu        sync.RWMutex
	status    Status
	toolCache []*mcpsdk.Tool

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewHealthChecker creates a checker over the given client. timeout
// bounds each probe.
func NewHealthChecker(client toolLister, timeout time.Duration) *HealthChecker {
	return &HealthChecker{
		client:  client,
		timeout: timeout,
		status:  Status{State: StateUnknown},
		logger:  slog.Default(),
	}
}

// IsHealthy reports aggregator health, probing when the state is Unknown
// or the last verdict is stale.
func (h *HealthChecker) IsHealthy(ctx context.Context) bool {
	h.mu.RLock()
	status := h.status
	h.mu.RUnlock()

	if status.State == StateUnknown || time.Since(status.LastCheck) > maxStatusAge {
		status = h.ForceCheck(ctx)
	}
	return status.State == StateHealthy
}

// ForceCheck probes the aggregator now and returns the new status.
func (h *HealthChecker) ForceCheck(ctx context.Context) Status {
	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	tools, err := h.client.ListTools(checkCtx)

	h.mu.Lock()
	prev := h.status.State
	h.status.LastCheck = time.Now().UTC()
	switch {
	case err != nil:
		h.status.State = StateUnhealthy
		h.status.Error = err.Error()
		h.status.ToolCount = 0
		h.logger.Warn("MCP health check failed", "error", err)
	case len(tools) == 0:
		h.status.State = StateUnhealthy
		h.status.Error = "aggregator reports no tools"
		h.status.ToolCount = 0
	default:
		h.status.State = StateHealthy
		h.status.Error = ""
		h.status.ToolCount = len(tools)
		h.toolCache = tools
	}
	status := h.status
	h.mu.Unlock()

	if prev == StateUnhealthy && status.State == StateHealthy && h.OnRecovery != nil {
		h.logger.Info("MCP aggregator recovered", "tool_count", status.ToolCount)
		h.OnRecovery(ctx)
	}
	return status
}

// SetUnhealthy downgrades the state immediately. The next IsHealthy
// after the staleness window re-probes.
func (h *HealthChecker) SetUnhealthy(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status.State = StateUnhealthy
	h.status.Error = reason
	h.status.LastCheck = time.Now().UTC()
}

// GetStatus returns the current snapshot without probing.
func (h *HealthChecker) GetStatus() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// ToolsAvailable returns the tool list from the last healthy check.
func (h *HealthChecker) ToolsAvailable() []*mcpsdk.Tool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.toolCache
}

// Start launches a background loop that re-probes on an interval.
// Calling Start on a running checker is a no-op.
func (h *HealthChecker) Start(ctx context.Context, interval time.Duration) {
	if h.cancel != nil {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)
		h.ForceCheck(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.ForceCheck(ctx)
			}
		}
	}()
}

// Stop shuts down the background loop. Start may be called again after.
func (h *HealthChecker) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.cancel = nil
	h.done = nil
}
