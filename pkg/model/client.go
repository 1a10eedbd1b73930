// Package model provides streaming language-model clients.
//
// Two provider paths are supported: Anthropic (native SDK) and any
// OpenAI-compatible endpoint. Both deliver output as a channel of typed
// chunks; the retry wrapper adds capped exponential backoff and the
// per-call model timeout.
package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/docsight/docsight/pkg/config"
	"github.com/docsight/docsight/pkg/models"
)

// GenerateInput is one model invocation.
type GenerateInput struct {
	ModelID string
	System  string
	// Messages is the conversation; system-role entries are lifted into
	// the provider's native system slot.
	Messages []models.Message
	// Tools offered to the model for this turn. Empty means no tool use.
	Tools       []models.ToolSpec
	MaxTokens   int
	Temperature float32
}

// Client is a streaming model client. Generate returns a channel of
// chunks that is closed when the response is complete; an ErrorChunk on
// the channel means the call failed mid-stream.
type Client interface {
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)
}

// Chunk is one element of a streamed model response.
type Chunk interface{ isChunk() }

// TextChunk carries a text delta.
type TextChunk struct {
	Content string
}

// ToolCallChunk carries one complete tool call (arguments fully
// accumulated by the provider before emission).
type ToolCallChunk struct {
	CallID    string
	Name      string
	Arguments map[string]any
}

// UsageChunk carries token accounting, emitted once near stream end.
type UsageChunk struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ErrorChunk signals a mid-stream failure. Retryable marks transport-class
// errors that the retry wrapper may re-attempt.
type ErrorChunk struct {
	Message   string
	Code      string
	Retryable bool
}

func (TextChunk) isChunk()     {}
func (ToolCallChunk) isChunk() {}
func (UsageChunk) isChunk()    {}
func (ErrorChunk) isChunk()    {}

// Response is a fully-collected model reply.
type Response struct {
	Text      string
	ToolCalls []models.ToolCall
	Usage     *models.TokenUsage
}

// StreamCallback is invoked for each text delta during collection. Used
// by pipelines to forward tokens to clients in real time.
type StreamCallback func(delta string)

// Collect drains a chunk channel into a complete Response. Returns an
// error if an ErrorChunk is received.
func Collect(stream <-chan Chunk) (*Response, error) {
	return CollectWithCallback(stream, nil)
}

// CollectWithCallback collects a stream while calling back for each text
// delta. The callback is optional (nil = buffered mode, same as Collect).
func CollectWithCallback(stream <-chan Chunk, callback StreamCallback) (*Response, error) {
	resp := &Response{}
	var buf strings.Builder

	for chunk := range stream {
		switch c := chunk.(type) {
		case TextChunk:
			buf.WriteString(c.Content)
			if callback != nil {
				callback(c.Content)
			}
		case ToolCallChunk:
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        c.CallID,
				Name:      c.Name,
				Arguments: c.Arguments,
			})
		case UsageChunk:
			resp.Usage = &models.TokenUsage{
				InputTokens:  c.InputTokens,
				OutputTokens: c.OutputTokens,
				TotalTokens:  c.TotalTokens,
			}
		case ErrorChunk:
			return nil, fmt.Errorf("model error: %s (code: %s, retryable: %v)",
				c.Message, c.Code, c.Retryable)
		}
	}

	resp.Text = buf.String()
	return resp, nil
}

// Generate performs a complete non-streaming call: invoke, collect, return.
func Generate(ctx context.Context, client Client, input *GenerateInput) (*Response, error) {
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := client.Generate(genCtx, input)
	if err != nil {
		return nil, fmt.Errorf("model Generate failed: %w", err)
	}
	return Collect(stream)
}

// NewClient constructs the configured provider wrapped with retry.
func NewClient(cfg config.ModelConfig) (Client, error) {
	var inner Client
	switch cfg.Provider {
	case "anthropic":
		inner = NewAnthropicClient(cfg)
	case "openai":
		inner = NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	return NewRetryingClient(inner, cfg), nil
}
