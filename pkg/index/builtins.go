package index

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/docsight/docsight/pkg/models"
	"github.com/docsight/docsight/pkg/tools"
)

// Builtin tool names.
const (
	ToolHybridSearch        = "hybrid_search"
	ToolGetDocumentAnalysis = "get_document_analysis"
	ToolGetDocumentInfo     = "get_document_info"
	ToolAnalyzeImageSegment = "analyze_image_segment"
	ToolAnalyzeVideoSegment = "analyze_video_segment"
)

// RegisterBuiltins installs the retrieval tools into the registry. Every
// builtin accepts agent context; scope arguments left unset fall back to
// the context values.
func RegisterBuiltins(registry *tools.Registry, client *Client) error {
	builtins := []struct {
		spec    models.ToolSpec
		handler tools.Handler
	}{
		{
			spec: models.ToolSpec{
				Name:        ToolHybridSearch,
				Description: "Search the document index with a combined lexical and vector query. Returns reranked passages with scores and references.",
				InputSchema: objectSchema(map[string]any{
					"query":    map[string]any{"type": "string", "description": "The search query."},
					"index_id": map[string]any{"type": "string", "description": "Index to search. Defaults to the active index."},
					"size":     map[string]any{"type": "integer", "description": "Maximum candidates before reranking."},
				}, []string{"query"}),
				SupportsAgentContext: true,
			},
			handler: client.hybridSearchTool,
		},
		{
			spec: models.ToolSpec{
				Name:        ToolGetDocumentAnalysis,
				Description: "Fetch the stored analysis for a document or one of its segments.",
				InputSchema: objectSchema(map[string]any{
					"document_id": map[string]any{"type": "string"},
					"segment_id":  map[string]any{"type": "string"},
				}, nil),
				SupportsAgentContext: true,
			},
			handler: client.documentAnalysisTool,
		},
		{
			spec: models.ToolSpec{
				Name:        ToolGetDocumentInfo,
				Description: "Fetch document metadata: title, page count, segment listing, source URI.",
				InputSchema: objectSchema(map[string]any{
					"document_id": map[string]any{"type": "string"},
				}, nil),
				SupportsAgentContext: true,
			},
			handler: client.documentInfoTool,
		},
		{
			spec: models.ToolSpec{
				Name:        ToolAnalyzeImageSegment,
				Description: "Fetch a page or image segment as an image attachment for visual analysis.",
				InputSchema: objectSchema(map[string]any{
					"segment_id": map[string]any{"type": "string"},
					"image_uri":  map[string]any{"type": "string", "description": "Direct image URI. Defaults to the segment's image."},
				}, nil),
				SupportsAgentContext: true,
			},
			handler: client.analyzeImageTool,
		},
		{
			spec: models.ToolSpec{
				Name:        ToolAnalyzeVideoSegment,
				Description: "Fetch a video segment's keyframe and timecodes for visual analysis.",
				InputSchema: objectSchema(map[string]any{
					"segment_id":     map[string]any{"type": "string"},
					"start_timecode": map[string]any{"type": "string"},
					"end_timecode":   map[string]any{"type": "string"},
				}, nil),
				SupportsAgentContext: true,
			},
			handler: client.analyzeVideoTool,
		},
	}

	for _, b := range builtins {
		if err := registry.Register(b.spec, b.handler); err != nil {
			return fmt.Errorf("failed to register builtin %q: %w", b.spec.Name, err)
		}
	}
	return nil
}

func objectSchema(props map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (c *Client) hybridSearchTool(ctx context.Context, args map[string]any, agentCtx *models.AgentContext) (*models.ToolResult, error) {
	if agentCtx != nil && agentCtx.SkipOpenSearchQuery {
		return &models.ToolResult{
			Success: true,
			Message: "Search skipped for this request.",
			Data:    map[string]any{"results": []any{}},
		}, nil
	}

	query, _ := args["query"].(string)
	indexID := stringArg(args, "index_id")
	if indexID == "" && agentCtx != nil {
		indexID = agentCtx.IndexID
	}
	if indexID == "" {
		return nil, fmt.Errorf("hybrid_search requires an index_id")
	}
	size := intArg(args, "size")

	resp, err := c.HybridSearch(ctx, indexID, query, size)
	if err != nil {
		return nil, err
	}
	hits := c.Rerank(resp.Hits)

	var content strings.Builder
	references := make([]any, 0, len(hits))
	results := make([]any, 0, len(hits))
	for i, h := range hits {
		fmt.Fprintf(&content, "[%d] %s\n%s\n\n", i+1, h.Title, h.Content)
		results = append(results, map[string]any{
			"document_id": h.DocumentID,
			"segment_id":  h.SegmentID,
			"title":       h.Title,
			"content":     h.Content,
			"score":       h.Score,
		})
		if h.URL != "" {
			references = append(references, fmt.Sprintf("%s : %s", h.Title, h.URL))
		}
	}

	return &models.ToolResult{
		Success: true,
		Message: fmt.Sprintf("Found %d results", len(hits)),
		Data: map[string]any{
			"content":    content.String(),
			"results":    results,
			"references": references,
		},
	}, nil
}

func (c *Client) documentInfoTool(ctx context.Context, args map[string]any, agentCtx *models.AgentContext) (*models.ToolResult, error) {
	documentID := stringArg(args, "document_id")
	if documentID == "" && agentCtx != nil {
		documentID = agentCtx.DocumentID
	}
	if documentID == "" {
		return nil, fmt.Errorf("get_document_info requires a document_id")
	}

	info, err := c.DocumentInfo(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &models.ToolResult{
		Success: true,
		Message: fmt.Sprintf("Document info for %s", documentID),
		Data:    info,
	}, nil
}

func (c *Client) documentAnalysisTool(ctx context.Context, args map[string]any, agentCtx *models.AgentContext) (*models.ToolResult, error) {
	documentID := stringArg(args, "document_id")
	segmentID := stringArg(args, "segment_id")
	if agentCtx != nil {
		if documentID == "" {
			documentID = agentCtx.DocumentID
		}
		if segmentID == "" {
			segmentID = agentCtx.SegmentID
		}
	}
	if documentID == "" {
		return nil, fmt.Errorf("get_document_analysis requires a document_id")
	}

	analysis, err := c.DocumentAnalysis(ctx, documentID, segmentID)
	if err != nil {
		return nil, err
	}
	return &models.ToolResult{
		Success: true,
		Message: fmt.Sprintf("Analysis for document %s", documentID),
		Data:    analysis,
	}, nil
}

func (c *Client) analyzeImageTool(ctx context.Context, args map[string]any, agentCtx *models.AgentContext) (*models.ToolResult, error) {
	imageURI := stringArg(args, "image_uri")
	if imageURI == "" && agentCtx != nil {
		imageURI = agentCtx.ImageURI
		if imageURI == "" {
			imageURI = agentCtx.FileURI
		}
	}
	if imageURI == "" {
		return nil, fmt.Errorf("analyze_image_segment requires an image_uri")
	}

	data, mediaType, err := c.SegmentImage(ctx, imageURI)
	if err != nil {
		return nil, err
	}
	segmentID := stringArg(args, "segment_id")
	if segmentID == "" && agentCtx != nil {
		segmentID = agentCtx.SegmentID
	}

	return &models.ToolResult{
		Success: true,
		Message: fmt.Sprintf("Fetched image for segment %s (%d bytes)", segmentID, len(data)),
		Attachments: []models.Attachment{{
			Type:      "image",
			MediaType: mediaType,
			Data:      base64.StdEncoding.EncodeToString(data),
		}},
	}, nil
}

func (c *Client) analyzeVideoTool(ctx context.Context, args map[string]any, agentCtx *models.AgentContext) (*models.ToolResult, error) {
	start := stringArg(args, "start_timecode")
	end := stringArg(args, "end_timecode")
	segmentID := stringArg(args, "segment_id")
	var keyframeURI string
	if agentCtx != nil {
		if start == "" {
			start = agentCtx.StartTimecode
		}
		if end == "" {
			end = agentCtx.EndTimecode
		}
		if segmentID == "" {
			segmentID = agentCtx.SegmentID
		}
		keyframeURI = agentCtx.ImageURI
	}

	result := &models.ToolResult{
		Success: true,
		Message: fmt.Sprintf("Video segment %s spans %s to %s", segmentID, start, end),
		Data: map[string]any{
			"segment_id":     segmentID,
			"start_timecode": start,
			"end_timecode":   end,
		},
	}

	// Attach the keyframe when the segment has one so the model can see it.
	if keyframeURI != "" {
		data, mediaType, err := c.SegmentImage(ctx, keyframeURI)
		if err != nil {
			c.logger.Debug("Keyframe fetch failed", "segment", segmentID, "error", err)
		} else {
			result.Attachments = []models.Attachment{{
				Type:      "image",
				MediaType: mediaType,
				Data:      base64.StdEncoding.EncodeToString(data),
			}}
		}
	}
	return result, nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
