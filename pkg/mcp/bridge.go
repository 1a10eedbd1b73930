package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docsight/docsight/pkg/models"
	"github.com/docsight/docsight/pkg/tools"
)

// RegisterTools lists the aggregator's tools and registers each one in
// the tool registry. Aggregator tools accept agent context: scope fields
// the schema declares (index_id, document_id, segment_id) are filled
// from the agent context when the caller leaves them unset.
func RegisterTools(ctx context.Context, client *Client, registry *tools.Registry) (int, error) {
	list, err := client.ListTools(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list aggregator tools: %w", err)
	}

	registered := 0
	for _, tool := range list {
		schema := schemaToMap(tool.InputSchema)
		spec := models.ToolSpec{
			Name:                 tool.Name,
			Description:          tool.Description,
			InputSchema:          schema,
			SupportsAgentContext: true,
		}
		handler := makeHandler(client, tool.Name, schema)
		if err := registry.Register(spec, handler); err != nil {
			slog.Warn("Failed to register aggregator tool", "tool", tool.Name, "error", err)
			continue
		}
		registered++
	}
	return registered, nil
}

func makeHandler(client *Client, toolName string, schema map[string]any) tools.Handler {
	return func(ctx context.Context, args map[string]any, agentCtx *models.AgentContext) (*models.ToolResult, error) {
		merged := injectContext(schema, args, agentCtx)
		result, err := client.CallTool(ctx, toolName, merged)
		if err != nil {
			return nil, err
		}
		return convertResult(result), nil
	}
}

// injectContext fills scope arguments the schema declares but the caller
// left unset. The input map is not mutated.
func injectContext(schema, args map[string]any, agentCtx *models.AgentContext) map[string]any {
	if agentCtx == nil {
		return args
	}
	props, _ := schema["properties"].(map[string]any)
	if props == nil {
		return args
	}

	merged := make(map[string]any, len(args)+3)
	for k, v := range args {
		merged[k] = v
	}
	fill := func(key, value string) {
		if value == "" {
			return
		}
		if _, declared := props[key]; !declared {
			return
		}
		if _, set := merged[key]; !set {
			merged[key] = value
		}
	}
	fill("index_id", agentCtx.IndexID)
	fill("document_id", agentCtx.DocumentID)
	fill("segment_id", agentCtx.SegmentID)
	return merged
}

// convertResult maps an SDK tool result onto the registry's result type.
// Text content items are concatenated; image content becomes attachments;
// other content types are skipped.
func convertResult(result *mcpsdk.CallToolResult) *models.ToolResult {
	var parts []string
	var attachments []models.Attachment
	for _, c := range result.Content {
		switch tc := c.(type) {
		case *mcpsdk.TextContent:
			parts = append(parts, tc.Text)
		case *mcpsdk.ImageContent:
			// The SDK decodes the wire payload, so Data holds raw bytes;
			// attachments carry base64 end to end.
			attachments = append(attachments, models.Attachment{
				Type:      "image",
				MediaType: tc.MIMEType,
				Data:      base64.StdEncoding.EncodeToString(tc.Data),
			})
		default:
			slog.Debug("MCP tool returned unsupported content, skipping",
				"content_type", fmt.Sprintf("%T", c))
		}
	}
	text := strings.Join(parts, "\n")

	out := &models.ToolResult{
		Success:     !result.IsError,
		Message:     text,
		Attachments: attachments,
	}
	if result.IsError {
		out.Error = text
		out.Message = ""
		return out
	}

	// Tools that return a JSON object get it surfaced as structured data
	// so reference extraction can see it.
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		var data map[string]any
		if err := json.Unmarshal([]byte(trimmed), &data); err == nil {
			out.Data = data
			out.Message = ""
		}
	}
	return out
}

// schemaToMap round-trips the SDK's schema representation into the plain
// map form the registry compiles.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	encoded, err := json.Marshal(schema)
	if err != nil {
		slog.Debug("Failed to marshal tool input schema", "error", err)
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil
	}
	return out
}
