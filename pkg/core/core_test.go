package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsight/docsight/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Model: config.ModelConfig{
			Provider:  "anthropic",
			ModelID:   "claude-sonnet-4-5",
			MaxTokens: 4096,
		},
		Conversation: config.ConversationConfig{
			MaxThreads:              10,
			MaxSearchThreads:        10,
			MaxMessagesPerThread:    50,
			MaxConversationMessages: 10,
			TTL:                     time.Hour,
			SummarizationThreshold:  20,
			MinMessagesSinceSummary: 6,
			KeepRecentMessages:      4,
		},
		Checkpoint: config.CheckpointConfig{Backend: "memory"},
		Tools: config.ToolsConfig{
			MaxContentLen: 32000,
			CallTimeout:   5 * time.Second,
			MaxAttempts:   1,
		},
		Index: config.IndexConfig{
			HybridSearchSize: 10,
			RerankThreshold:  0.5,
			RerankTopN:       3,
		},
		Research: config.ResearchConfig{
			BatchSize:     10,
			NumWorkers:    2,
			MaxConcurrent: 2,
		},
	}
}

func newTestCore(t *testing.T) *Core {
	t.Helper()
	c, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewRegistersBuiltinTools(t *testing.T) {
	c := newTestCore(t)
	report := c.Health(context.Background())
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, 5, report.Tools)
}

func TestNewRejectsUnknownCheckpointBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Checkpoint.Backend = "redis"
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint")
}

func TestNewPostgresBackendRequiresURL(t *testing.T) {
	cfg := testConfig()
	cfg.Checkpoint.Backend = "postgres"
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")
}

func TestStreamValidation(t *testing.T) {
	c := newTestCore(t)

	tests := []struct {
		name string
		req  Request
	}{
		{"empty query", Request{}},
		{"unknown mode", Request{Query: "q", Mode: "graph"}},
		{"thread id too long", Request{Query: "q", ThreadID: strings.Repeat("a", maxThreadIDLen+1)}},
		{"thread id bad characters", Request{Query: "q", ThreadID: "has spaces!"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Stream(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestResumeValidation(t *testing.T) {
	c := newTestCore(t)
	_, err := c.Resume(context.Background(), "", true)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestResumeUnknownThread(t *testing.T) {
	c := newTestCore(t)
	_, err := c.Resume(context.Background(), "never-started", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReinitClearsThread(t *testing.T) {
	c := newTestCore(t)
	c.conv.AppendUser("th-1", "hello")
	require.Equal(t, 1, c.conv.MessageCount("th-1"))

	require.NoError(t, c.Reinit(context.Background(), ReinitOptions{ThreadID: "th-1"}))
	assert.Equal(t, 0, c.conv.MessageCount("th-1"))
}

func TestReinitModelSwitchRebuildsEngine(t *testing.T) {
	c := newTestCore(t)
	before := c.engine

	require.NoError(t, c.Reinit(context.Background(), ReinitOptions{ModelID: "claude-opus-4-1"}))
	assert.Equal(t, "claude-opus-4-1", c.cfg.Model.ModelID)
	assert.NotSame(t, before, c.engine)
}

func TestHealthIncludesRecordedErrors(t *testing.T) {
	c := newTestCore(t)
	_, err := c.Stream(context.Background(), Request{})
	require.Error(t, err)

	report := c.Health(context.Background())
	require.NotEmpty(t, report.RecentErrors)
	assert.Equal(t, KindValidation, report.RecentErrors[0].Kind)
}
