package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/docsight/docsight/pkg/config"
	"github.com/docsight/docsight/pkg/models"
)

// OpenAIClient implements Client against any OpenAI-compatible endpoint.
// Some compatible providers stream cumulative text instead of deltas;
// that is handled downstream by the synthesizer's prefix detection, not
// here — this client forwards chunk text as received.
type OpenAIClient struct {
	client *openai.Client
	cfg    config.ModelConfig
	logger *slog.Logger
}

// NewOpenAIClient creates an OpenAI-compatible model client.
func NewOpenAIClient(cfg config.ModelConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
		logger: slog.Default(),
	}
}

// Generate sends the conversation and returns a channel of chunks.
func (c *OpenAIClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	req, err := c.buildRequest(input)
	if err != nil {
		return nil, err
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion stream: %w", err)
	}

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()
		c.pump(ctx, stream, ch)
	}()
	return ch, nil
}

func (c *OpenAIClient) pump(ctx context.Context, stream *openai.ChatCompletionStream, ch chan<- Chunk) {
	// Tool calls arrive fragmented across chunks, keyed by index.
	type partialCall struct {
		id   string
		name string
		args strings.Builder
	}
	calls := make(map[int]*partialCall)
	var order []int
	var usage *UsageChunk

	emit := func(chunk Chunk) bool {
		select {
		case ch <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	flushCalls := func() bool {
		for _, idx := range order {
			pc := calls[idx]
			if pc.id == "" && pc.name == "" {
				continue
			}
			args := map[string]any{}
			if raw := pc.args.String(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					c.logger.Warn("Failed to parse tool call arguments",
						"tool", pc.name, "error", err)
				}
			}
			if !emit(ToolCallChunk{CallID: pc.id, Name: pc.name, Arguments: args}) {
				return false
			}
		}
		calls = make(map[int]*partialCall)
		order = nil
		return true
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !flushCalls() {
					return
				}
				if usage != nil {
					emit(*usage)
				}
				return
			}
			emit(ErrorChunk{
				Message:   err.Error(),
				Code:      classifyOpenAIError(err),
				Retryable: isTransportError(err),
			})
			return
		}

		if resp.Usage != nil {
			usage = &UsageChunk{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				TotalTokens:  resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			if !emit(TextChunk{Content: choice.Delta.Content}) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			pc, ok := calls[idx]
			if !ok {
				pc = &partialCall{}
				calls[idx] = pc
				order = append(order, idx)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !flushCalls() {
				return
			}
		}
	}
}

func (c *OpenAIClient) buildRequest(input *GenerateInput) (openai.ChatCompletionRequest, error) {
	modelID := input.ModelID
	if modelID == "" {
		modelID = c.cfg.ModelID
	}
	maxTokens := input.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	msgs, err := convertOpenAIMessages(input.Messages, input.System)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	req := openai.ChatCompletionRequest{
		Model:         modelID,
		Messages:      msgs,
		MaxTokens:     maxTokens,
		Temperature:   input.Temperature,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if len(input.Tools) > 0 {
		req.Tools = convertOpenAITools(input.Tools)
	}
	return req, nil
}

func convertOpenAIMessages(msgs []models.Message, system string) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range msgs {
		if msg.Role == models.RoleSystem {
			if system == "" {
				out = append(out, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleSystem,
					Content: msg.Text(),
				})
				system = msg.Text()
			}
			continue
		}

		m := openai.ChatCompletionMessage{Role: string(msg.Role)}

		if len(msg.Blocks) > 0 {
			var parts []openai.ChatMessagePart
			for _, b := range msg.Blocks {
				switch b.Type {
				case models.BlockText:
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: b.Text,
					})
				case models.BlockImageRef:
					parts = append(parts, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    fmt.Sprintf("data:%s;base64,%s", b.MediaType, b.Data),
							Detail: openai.ImageURLDetailAuto,
						},
					})
				}
			}
			m.MultiContent = parts
		} else {
			m.Content = msg.Content
		}

		if len(msg.ToolCalls) > 0 {
			m.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool call arguments: %w", err)
				}
				m.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				}
			}
		}
		if msg.Role == models.RoleTool {
			m.Role = openai.ChatMessageRoleTool
			m.ToolCallID = msg.ToolCallID
		}

		out = append(out, m)
	}
	return out, nil
}

func convertOpenAITools(tools []models.ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		}
	}
	return out
}

func classifyOpenAIError(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429:
			return "rate_limit"
		case 408, 504:
			return "timeout"
		}
		return "api_error"
	}
	return "transport_error"
}
