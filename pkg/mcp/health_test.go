package mcp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLister scripts the probe outcome and counts probes.
type fakeLister struct {
	mu    sync.Mutex
	tools []*mcpsdk.Tool
	err   error
	calls int
}

func (f *fakeLister) ListTools(context.Context) ([]*mcpsdk.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.tools, f.err
}

func (f *fakeLister) set(tools []*mcpsdk.Tool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = tools
	f.err = err
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func toolCatalog(names ...string) []*mcpsdk.Tool {
	out := make([]*mcpsdk.Tool, 0, len(names))
	for _, n := range names {
		out = append(out, &mcpsdk.Tool{Name: n})
	}
	return out
}

func TestHealthCheckerResolvesUnknownOnFirstUse(t *testing.T) {
	lister := &fakeLister{tools: toolCatalog("doc_search")}
	h := NewHealthChecker(lister, time.Second)
	assert.Equal(t, StateUnknown, h.GetStatus().State)

	assert.True(t, h.IsHealthy(context.Background()))
	assert.Equal(t, 1, lister.callCount())

	status := h.GetStatus()
	assert.Equal(t, StateHealthy, status.State)
	assert.Equal(t, 1, status.ToolCount)
	assert.Empty(t, status.Error)

	// A fresh verdict is trusted without re-probing.
	assert.True(t, h.IsHealthy(context.Background()))
	assert.Equal(t, 1, lister.callCount())
}

func TestHealthCheckerProbeFailure(t *testing.T) {
	lister := &fakeLister{err: errors.New("connection refused")}
	h := NewHealthChecker(lister, time.Second)

	assert.False(t, h.IsHealthy(context.Background()))

	status := h.GetStatus()
	assert.Equal(t, StateUnhealthy, status.State)
	assert.Contains(t, status.Error, "connection refused")
	assert.Zero(t, status.ToolCount)
}

func TestHealthCheckerZeroToolsIsUnhealthy(t *testing.T) {
	h := NewHealthChecker(&fakeLister{}, time.Second)
	status := h.ForceCheck(context.Background())
	assert.Equal(t, StateUnhealthy, status.State)
	assert.Contains(t, status.Error, "no tools")
}

func TestHealthCheckerRecoveryFiresOnTransitionOnly(t *testing.T) {
	lister := &fakeLister{err: errors.New("connection refused")}
	h := NewHealthChecker(lister, time.Second)
	recoveries := 0
	h.OnRecovery = func(context.Context) { recoveries++ }

	h.ForceCheck(context.Background()) // unknown -> unhealthy
	assert.Zero(t, recoveries)

	lister.set(toolCatalog("doc_search"), nil)
	h.ForceCheck(context.Background()) // unhealthy -> healthy
	assert.Equal(t, 1, recoveries)

	h.ForceCheck(context.Background()) // healthy -> healthy
	assert.Equal(t, 1, recoveries, "recovery must fire once per outage")
}

func TestHealthCheckerRecoveryNotFiredFromUnknown(t *testing.T) {
	lister := &fakeLister{tools: toolCatalog("doc_search")}
	h := NewHealthChecker(lister, time.Second)
	recoveries := 0
	h.OnRecovery = func(context.Context) { recoveries++ }

	h.ForceCheck(context.Background()) // unknown -> healthy
	assert.Zero(t, recoveries, "first resolution is not a recovery")
}

func TestHealthCheckerSetUnhealthyTrustedUntilStale(t *testing.T) {
	lister := &fakeLister{tools: toolCatalog("doc_search")}
	h := NewHealthChecker(lister, time.Second)
	require.True(t, h.IsHealthy(context.Background()))
	require.Equal(t, 1, lister.callCount())

	h.SetUnhealthy("rpc error: connection reset")
	assert.False(t, h.IsHealthy(context.Background()))
	assert.Equal(t, 1, lister.callCount(), "fresh verdict must not re-probe")
	assert.Equal(t, "rpc error: connection reset", h.GetStatus().Error)
}

func TestHealthCheckerStaleVerdictReprobes(t *testing.T) {
	lister := &fakeLister{tools: toolCatalog("doc_search")}
	h := NewHealthChecker(lister, time.Second)
	h.SetUnhealthy("transient blip")

	h.mu.Lock()
	h.status.LastCheck = time.Now().Add(-2 * maxStatusAge)
	h.mu.Unlock()

	assert.True(t, h.IsHealthy(context.Background()))
	assert.Equal(t, 1, lister.callCount())
}

func TestHealthCheckerToolsAvailableSurvivesFailedProbe(t *testing.T) {
	lister := &fakeLister{tools: toolCatalog("doc_search", "get_document_info")}
	h := NewHealthChecker(lister, time.Second)
	assert.Nil(t, h.ToolsAvailable())

	h.ForceCheck(context.Background())
	assert.Len(t, h.ToolsAvailable(), 2)

	lister.set(nil, errors.New("connection refused"))
	h.ForceCheck(context.Background())
	assert.Len(t, h.ToolsAvailable(), 2, "last healthy catalog is kept through an outage")
}

func TestHealthCheckerStartStop(t *testing.T) {
	lister := &fakeLister{tools: toolCatalog("doc_search")}
	h := NewHealthChecker(lister, time.Second)

	h.Start(context.Background(), 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return h.GetStatus().State == StateHealthy
	}, time.Second, 5*time.Millisecond)
	h.Stop()

	probes := lister.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, probes, lister.callCount(), "no probes after Stop")
}
