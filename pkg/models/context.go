package models

// AgentContext carries request-scoped identifiers and retrieval hints into
// every tool invocation. Built once per request by the core and threaded
// through dispatch unchanged.
type AgentContext struct {
	IndexID      string `json:"index_id"`
	DocumentID   string `json:"document_id,omitempty"`
	SegmentID    string `json:"segment_id,omitempty"`
	SegmentIndex int    `json:"segment_index,omitempty"`

	FileURI       string `json:"file_uri,omitempty"`
	ImageURI      string `json:"image_uri,omitempty"`
	StartTimecode string `json:"start_timecode,omitempty"`
	EndTimecode   string `json:"end_timecode,omitempty"`

	ThreadID  string `json:"thread_id"`
	SessionID string `json:"session_id"`
	UserQuery string `json:"user_query"`

	// PreviousAnalysisContext carries the prior segment's findings during
	// deep research so adjacent segments build on each other.
	PreviousAnalysisContext string   `json:"previous_analysis_context,omitempty"`
	AnalysisHistory         []string `json:"analysis_history,omitempty"`

	// SkipOpenSearchQuery tells retrieval tools to bypass the index and
	// operate on the provided document/segment only.
	SkipOpenSearchQuery bool `json:"skip_opensearch_query,omitempty"`
}

// Clone returns a copy with its own AnalysisHistory slice.
func (c *AgentContext) Clone() *AgentContext {
	if c == nil {
		return nil
	}
	out := *c
	out.AnalysisHistory = append([]string(nil), c.AnalysisHistory...)
	return &out
}
