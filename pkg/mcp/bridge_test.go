package mcp

import (
	"encoding/base64"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsight/docsight/pkg/models"
)

func TestInjectContextFillsDeclaredScope(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":       map[string]any{"type": "string"},
			"index_id":    map[string]any{"type": "string"},
			"document_id": map[string]any{"type": "string"},
		},
	}
	args := map[string]any{"query": "q", "document_id": "explicit"}
	agentCtx := &models.AgentContext{IndexID: "idx-1", DocumentID: "doc-9", SegmentID: "seg-1"}

	merged := injectContext(schema, args, agentCtx)
	assert.Equal(t, "idx-1", merged["index_id"])
	assert.Equal(t, "explicit", merged["document_id"], "caller arguments win")
	assert.NotContains(t, merged, "segment_id", "undeclared scope fields stay out")
	assert.NotContains(t, args, "index_id", "input map must not be mutated")
}

func TestInjectContextPassThrough(t *testing.T) {
	args := map[string]any{"query": "q"}

	// No agent context, or a schema without properties: args unchanged.
	assert.Equal(t, args, injectContext(map[string]any{"properties": map[string]any{"index_id": true}}, args, nil))
	assert.Equal(t, args, injectContext(map[string]any{}, args, &models.AgentContext{IndexID: "idx-1"}))
}

func TestConvertResultTextAndImage(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', '\r', '\n'}
	result := convertResult(&mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: "page one"},
			&mcpsdk.TextContent{Text: "page two"},
			&mcpsdk.ImageContent{MIMEType: "image/png", Data: raw},
		},
	})

	assert.True(t, result.Success)
	assert.Equal(t, "page one\npage two", result.Message)
	require.Len(t, result.Attachments, 1)
	assert.Equal(t, "image/png", result.Attachments[0].MediaType)

	// The SDK hands over raw bytes; attachments carry base64.
	decoded, err := base64.StdEncoding.DecodeString(result.Attachments[0].Data)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestConvertResultError(t *testing.T) {
	result := convertResult(&mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "tool exploded"}},
	})
	assert.False(t, result.Success)
	assert.Equal(t, "tool exploded", result.Error)
	assert.Empty(t, result.Message)
}

func TestConvertResultJSONObjectBecomesData(t *testing.T) {
	result := convertResult(&mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: `{"page_count": 4}`}},
	})
	assert.True(t, result.Success)
	require.NotNil(t, result.Data)
	assert.Equal(t, float64(4), result.Data["page_count"])
	assert.Empty(t, result.Message)
}

func TestSchemaToMap(t *testing.T) {
	out := schemaToMap(map[string]any{
		"type":     "object",
		"required": []any{"query"},
	})
	require.NotNil(t, out)
	assert.Equal(t, "object", out["type"])

	assert.Nil(t, schemaToMap(nil))
	assert.Nil(t, schemaToMap(func() {}), "unmarshalable schema yields nil")
}
