// Package index is the retrieval glue: HTTP clients for the external
// search index and the document/segment service, plus the builtin tools
// that expose them through the tool registry.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/docsight/docsight/pkg/config"
)

// SearchHit is one entry from a hybrid search response.
type SearchHit struct {
	DocumentID string  `json:"document_id"`
	SegmentID  string  `json:"segment_id,omitempty"`
	PageIndex  int     `json:"page_index,omitempty"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	URL        string  `json:"url,omitempty"`
	Score      float64 `json:"score"`
}

// SearchResponse is the normalized hybrid search result.
type SearchResponse struct {
	Hits  []SearchHit `json:"hits"`
	Total int         `json:"total"`
}

// Client talks to the search index and the document/segment service.
type Client struct {
	http      *http.Client
	searchURL string
	docURL    string
	cfg       config.IndexConfig
	logger    *slog.Logger
}

// NewClient creates a client from the index configuration.
func NewClient(cfg config.IndexConfig) *Client {
	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		searchURL: cfg.SearchURL,
		docURL:    cfg.DocumentServiceURL,
		cfg:       cfg,
		logger:    slog.Default(),
	}
}

// HybridSearch runs a combined lexical and vector query against an index.
func (c *Client) HybridSearch(ctx context.Context, indexID, query string, size int) (*SearchResponse, error) {
	if size <= 0 {
		size = c.cfg.HybridSearchSize
	}
	body := map[string]any{
		"index_id": indexID,
		"query":    query,
		"size":     size,
	}
	var resp SearchResponse
	if err := c.postJSON(ctx, c.searchURL+"/v1/hybrid_search", body, &resp); err != nil {
		return nil, fmt.Errorf("hybrid search failed: %w", err)
	}
	return &resp, nil
}

// Rerank filters hits below the score threshold and keeps the top N by
// score. The input order is not assumed sorted.
func (c *Client) Rerank(hits []SearchHit) []SearchHit {
	kept := make([]SearchHit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= c.cfg.RerankThreshold {
			kept = append(kept, h)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if c.cfg.RerankTopN > 0 && len(kept) > c.cfg.RerankTopN {
		kept = kept[:c.cfg.RerankTopN]
	}
	return kept
}

// DocumentInfo fetches document metadata. The service historically wraps
// the payload in an "api_response" envelope; this boundary always
// unwraps it so callers see one canonical shape.
func (c *Client) DocumentInfo(ctx context.Context, documentID string) (map[string]any, error) {
	var raw map[string]any
	url := fmt.Sprintf("%s/v1/documents/%s", c.docURL, documentID)
	if err := c.getJSON(ctx, url, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch document info: %w", err)
	}
	if inner, ok := raw["api_response"].(map[string]any); ok {
		return inner, nil
	}
	return raw, nil
}

// DocumentAnalysis fetches the stored analysis for a document or one of
// its segments.
func (c *Client) DocumentAnalysis(ctx context.Context, documentID, segmentID string) (map[string]any, error) {
	url := fmt.Sprintf("%s/v1/documents/%s/analysis", c.docURL, documentID)
	if segmentID != "" {
		url += "?segment_id=" + segmentID
	}
	var raw map[string]any
	if err := c.getJSON(ctx, url, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch document analysis: %w", err)
	}
	if inner, ok := raw["api_response"].(map[string]any); ok {
		return inner, nil
	}
	return raw, nil
}

// SegmentImageURL returns the document service endpoint serving a
// segment's rendered image. Used when the segment listing carries no
// explicit image URI.
func (c *Client) SegmentImageURL(documentID, segmentID string) string {
	return fmt.Sprintf("%s/v1/documents/%s/segments/%s/image", c.docURL, documentID, segmentID)
}

// SegmentImage fetches raw image bytes for a segment. Returns the bytes
// and the response media type.
func (c *Client) SegmentImage(ctx context.Context, imageURI string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURI, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build image request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch segment image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image body: %w", err)
	}
	mediaType := resp.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = "image/png"
	}
	return data, mediaType, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s returned status %d: %s", req.URL.Path, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
