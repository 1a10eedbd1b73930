package tools

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsight/docsight/pkg/config"
	"github.com/docsight/docsight/pkg/models"
)

func TestParseReferenceString(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantTitle string
		wantValue string
	}{
		{
			name:      "title and url",
			input:     "Annual Report 2024 : https://docs.example.com/report.pdf",
			wantTitle: "Annual Report 2024",
			wantValue: "https://docs.example.com/report.pdf",
		},
		{
			name:      "splits on first separator only",
			input:     "A : B : C",
			wantTitle: "A",
			wantValue: "B : C",
		},
		{
			name:      "no separator",
			input:     "https://docs.example.com/plain",
			wantTitle: "https://docs.example.com/plain",
			wantValue: "https://docs.example.com/plain",
		},
		{
			name:      "colon without spaces is not a separator",
			input:     "https://example.com:8080/page",
			wantTitle: "https://example.com:8080/page",
			wantValue: "https://example.com:8080/page",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := parseReferenceString(tt.input)
			assert.Equal(t, tt.wantTitle, ref.Title)
			assert.Equal(t, tt.wantValue, ref.Value)
			assert.Equal(t, tt.wantTitle, ref.DisplayName)
		})
	}
}

func TestCollectReferencesStampsProvenance(t *testing.T) {
	r := NewRegistry(testConfig())
	result := &models.ToolResult{
		Success: true,
		Data: map[string]any{
			"references": []any{
				"Page 3 : https://docs.example.com/doc-1/page-3.png",
				map[string]any{"title": "Summary", "url": "https://docs.example.com/doc-1"},
			},
		},
	}

	r.normalize(result, "hybrid_search")

	require.Len(t, result.References, 2)
	assert.NotContains(t, result.Data, "references")

	img := result.References[0]
	assert.NotEmpty(t, img.ID)
	assert.Equal(t, models.ReferenceImage, img.Type)
	assert.Equal(t, "hybrid_search", img.Metadata["tool"])
	assert.Equal(t, "tool_execution", img.Metadata["source"])

	doc := result.References[1]
	assert.Equal(t, models.ReferenceDocument, doc.Type)
	assert.Equal(t, "https://docs.example.com/doc-1", doc.Value)
}

func TestCollectReferencesNestedData(t *testing.T) {
	r := NewRegistry(testConfig())
	result := &models.ToolResult{
		Success: true,
		Data: map[string]any{
			"data": map[string]any{
				"references": []string{"Intro : https://docs.example.com/intro"},
			},
		},
	}

	r.normalize(result, "get_document_info")

	require.Len(t, result.References, 1)
	inner := result.Data["data"].(map[string]any)
	assert.NotContains(t, inner, "references")
}

func TestCapContent(t *testing.T) {
	cfg := testConfig()
	cfg.MaxContentLen = 50
	r := NewRegistry(cfg)

	result := &models.ToolResult{
		Success: true,
		Message: "short prefix",
		Data:    map[string]any{"content": strings.Repeat("x", 200)},
	}
	r.normalize(result, "t")

	assert.True(t, result.Truncated)
	assert.Len(t, result.Message, 50)
	assert.NotContains(t, result.Data, "content")

	// Under the cap nothing changes.
	small := &models.ToolResult{Success: true, Message: "tiny"}
	r.normalize(small, "t")
	assert.False(t, small.Truncated)
	assert.Equal(t, "tiny", small.Message)
}

func TestFilterAttachments(t *testing.T) {
	cfg := config.ToolsConfig{RefImageMaxAttach: 2, RefImageMaxBase64Len: 10}
	r := NewRegistry(cfg)

	result := &models.ToolResult{
		Success: true,
		Attachments: []models.Attachment{
			{Type: "image", MediaType: "image/png", Data: "abc"},
			{Type: "audio", MediaType: "audio/mp3", Data: "abc"},
			{Type: "image", MediaType: "image/png", Data: strings.Repeat("y", 50)},
			{Type: "image", MediaType: "image/jpeg", Data: "def"},
			{Type: "image", MediaType: "image/png", Data: "ghi"},
		},
	}
	r.normalize(result, "t")

	require.Len(t, result.Attachments, 2)
	assert.Equal(t, "abc", result.Attachments[0].Data)
	assert.Equal(t, "def", result.Attachments[1].Data)
}

func TestReferenceTypeForURL(t *testing.T) {
	assert.Equal(t, models.ReferenceImage, models.ReferenceTypeForURL("https://x.com/a/page.PNG"))
	assert.Equal(t, models.ReferenceImage, models.ReferenceTypeForURL("https://x.com/a.jpg?token=1"))
	assert.Equal(t, models.ReferenceDocument, models.ReferenceTypeForURL("https://x.com/a/report.pdf"))
	assert.Equal(t, models.ReferenceDocument, models.ReferenceTypeForURL("https://x.com/a"))
}
