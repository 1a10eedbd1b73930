package index

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsight/docsight/pkg/config"
)

func testClient(searchURL, docURL string) *Client {
	return NewClient(config.IndexConfig{
		SearchURL:          searchURL,
		DocumentServiceURL: docURL,
		HybridSearchSize:   10,
		RerankThreshold:    0.5,
		RerankTopN:         3,
		Timeout:            5 * time.Second,
	})
}

func TestHybridSearchRequestShape(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(SearchResponse{
			Hits:  []SearchHit{{DocumentID: "d1", Title: "Report", Content: "text", Score: 0.9}},
			Total: 1,
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	resp, err := c.HybridSearch(context.Background(), "idx-1", "revenue growth", 0)
	require.NoError(t, err)

	assert.Equal(t, "/v1/hybrid_search", gotPath)
	assert.Equal(t, "idx-1", gotBody["index_id"])
	assert.Equal(t, "revenue growth", gotBody["query"])
	assert.Equal(t, float64(10), gotBody["size"]) // default from config
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "d1", resp.Hits[0].DocumentID)
}

func TestHybridSearchNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	_, err := c.HybridSearch(context.Background(), "idx-1", "q", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestRerank(t *testing.T) {
	c := testClient("", "")
	hits := []SearchHit{
		{DocumentID: "low", Score: 0.2},
		{DocumentID: "b", Score: 0.7},
		{DocumentID: "a", Score: 0.9},
		{DocumentID: "c", Score: 0.6},
		{DocumentID: "d", Score: 0.55},
	}

	out := c.Rerank(hits)

	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].DocumentID)
	assert.Equal(t, "b", out[1].DocumentID)
	assert.Equal(t, "c", out[2].DocumentID)
}

func TestRerankStableForEqualScores(t *testing.T) {
	c := testClient("", "")
	hits := []SearchHit{
		{DocumentID: "first", Score: 0.8},
		{DocumentID: "second", Score: 0.8},
	}

	out := c.Rerank(hits)

	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].DocumentID)
	assert.Equal(t, "second", out[1].DocumentID)
}

func TestDocumentInfoUnwrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/documents/doc-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"api_response": map[string]any{"page_count": 12, "title": "Q3 Report"},
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	info, err := c.DocumentInfo(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, float64(12), info["page_count"])
	assert.Equal(t, "Q3 Report", info["title"])
}

func TestDocumentInfoWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"page_count": 3})
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	info, err := c.DocumentInfo(context.Background(), "doc-2")
	require.NoError(t, err)
	assert.Equal(t, float64(3), info["page_count"])
}

func TestDocumentAnalysisSegmentParam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/documents/doc-1/analysis", r.URL.Path)
		assert.Equal(t, "seg-2", r.URL.Query().Get("segment_id"))
		_ = json.NewEncoder(w).Encode(map[string]any{"analysis": "tables detected"})
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	out, err := c.DocumentAnalysis(context.Background(), "doc-1", "seg-2")
	require.NoError(t, err)
	assert.Equal(t, "tables detected", out["analysis"])
}

func TestSegmentImage(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	data, mediaType, err := c.SegmentImage(context.Background(), srv.URL+"/img")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "image/png", mediaType)
}
