package model

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/docsight/docsight/pkg/config"
	"github.com/docsight/docsight/pkg/models"
)

// AnthropicClient implements Client against the Anthropic Messages API.
// Anthropic streams deltas (never cumulative text), so chunks map 1:1.
type AnthropicClient struct {
	client anthropic.Client
	cfg    config.ModelConfig
	logger *slog.Logger
}

// NewAnthropicClient creates an Anthropic-backed model client.
func NewAnthropicClient(cfg config.ModelConfig) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: slog.Default(),
	}
}

// Generate sends the conversation and returns a channel of chunks.
func (c *AnthropicClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	params := c.buildParams(input)
	stream := c.client.Messages.NewStreaming(ctx, params)

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		c.pump(ctx, stream, ch)
	}()
	return ch, nil
}

type anthropicStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

func (c *AnthropicClient) pump(ctx context.Context, stream anthropicStream, ch chan<- Chunk) {
	defer func() { _ = stream.Close() }()

	var (
		toolID    string
		toolName  string
		toolInput strings.Builder
		inTool    bool
		usage     UsageChunk
	)

	emit := func(chunk Chunk) bool {
		select {
		case ch <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.InputTokens = int(start.Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				toolID = toolUse.ID
				toolName = toolUse.Name
				toolInput.Reset()
				inTool = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" && !emit(TextChunk{Content: delta.Text}) {
					return
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if inTool {
				args := map[string]any{}
				raw := toolInput.String()
				if raw != "" {
					if err := json.Unmarshal([]byte(raw), &args); err != nil {
						c.logger.Warn("Failed to parse tool call arguments",
							"tool", toolName, "error", err)
					}
				}
				if !emit(ToolCallChunk{CallID: toolID, Name: toolName, Arguments: args}) {
					return
				}
				inTool = false
			}

		case "message_delta":
			d := event.AsMessageDelta()
			if d.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(d.Usage.OutputTokens)
			}

		case "message_stop":
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			emit(usage)
			return
		}
	}

	if err := stream.Err(); err != nil {
		emit(ErrorChunk{
			Message:   err.Error(),
			Code:      classifyAnthropicError(err),
			Retryable: isTransportError(err),
		})
	}
}

func (c *AnthropicClient) buildParams(input *GenerateInput) anthropic.MessageNewParams {
	modelID := input.ModelID
	if modelID == "" {
		modelID = c.cfg.ModelID
	}
	maxTokens := input.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		Messages:  convertAnthropicMessages(input.Messages),
		MaxTokens: int64(maxTokens),
	}
	if input.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(input.Temperature))
	}

	system := input.System
	for _, m := range input.Messages {
		if m.Role == models.RoleSystem && system == "" {
			system = m.Text()
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(input.Tools) > 0 {
		params.Tools = convertAnthropicTools(input.Tools)
	}
	return params
}

// convertAnthropicMessages maps the internal conversation onto Anthropic
// content blocks. System messages are lifted out by the caller; tool-role
// replies become user messages carrying tool_result blocks.
func convertAnthropicMessages(msgs []models.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range msgs {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, b := range msg.Blocks {
			switch b.Type {
			case models.BlockText:
				content = append(content, anthropic.NewTextBlock(b.Text))
			case models.BlockImageRef:
				content = append(content, anthropic.NewImageBlockBase64(b.MediaType, b.Data))
			case models.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(b.ToolCallID, b.Text, false))
			}
		}
		if msg.Role == models.RoleTool && msg.ToolCallID != "" && len(msg.Blocks) == 0 {
			content = []anthropic.ContentBlockParamUnion{
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			}
		}
		for _, tc := range msg.ToolCalls {
			content = append(content, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out
}

func convertAnthropicTools(tools []models.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if t.InputSchema != nil {
			if props, ok := t.InputSchema["properties"]; ok {
				schema.Properties = props
			}
			// Builtins build schemas with []string; schemas decoded from
			// JSON carry []any. Accept both.
			switch req := t.InputSchema["required"].(type) {
			case []string:
				schema.Required = append(schema.Required, req...)
			case []any:
				for _, r := range req {
					if s, ok := r.(string); ok {
						schema.Required = append(schema.Required, s)
					}
				}
			}
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, param)
	}
	return out
}

func classifyAnthropicError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return "rate_limit"
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		return "timeout"
	default:
		return "api_error"
	}
}
