package models

import "time"

// JobStatus tracks a deep-research job through its lifetime.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobProgress is the externally-visible progress of a research job.
type JobProgress struct {
	CompletedSegments int     `json:"completed_segments"`
	FailedSegments    int     `json:"failed_segments"`
	Percentage        float64 `json:"percentage"`
}

// ResearchJob is one deep-research run over a document's segments.
type ResearchJob struct {
	JobID         string      `json:"job_id"`
	DocumentID    string      `json:"document_id"`
	Query         string      `json:"query"`
	TotalPages    int         `json:"total_pages"`
	TotalSegments int         `json:"total_segments"`
	Status        JobStatus   `json:"status"`
	Progress      JobProgress `json:"progress"`
	StartedAt     time.Time   `json:"started_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

// ResearchProgress is the lead coordinator's internal progress ledger.
type ResearchProgress struct {
	TotalPages     int      `json:"total_pages"`
	CompletedPages int      `json:"completed_pages"`
	FailedPages    []string `json:"failed_pages"`
	CurrentBatch   int      `json:"current_batch"`
}

// ResearchCost accumulates token and dollar spend across a job.
type ResearchCost struct {
	TokensIn   int     `json:"tokens_in"`
	TokensOut  int     `json:"tokens_out"`
	DollarsEst float64 `json:"dollars_est"`
}

// ResearchMemory is the lead coordinator's working state: progress plus
// cost, checked between batches by the continuation predicate.
type ResearchMemory struct {
	Progress ResearchProgress `json:"progress"`
	Cost     ResearchCost     `json:"cost"`
}

// SegmentType hints which analyzer a segment routes to.
type SegmentType string

const (
	SegmentPage    SegmentType = "page"
	SegmentChapter SegmentType = "chapter"
)

// Segment is one independently-analyzable unit of a document.
type Segment struct {
	ID    string      `json:"id"`
	Index int         `json:"index"`
	Type  SegmentType `json:"type"`
	// ImageURI locates the segment's rendered image on the document
	// service; the page analyzer fetches it from here.
	ImageURI string `json:"image_uri,omitempty"`
	// Timecodes bound video chapters; empty for pages.
	StartTimecode string `json:"start_timecode,omitempty"`
	EndTimecode   string `json:"end_timecode,omitempty"`
}

// Finding is one piece of evidence extracted from a segment.
type Finding struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// Evidence is the analysis record for a single segment.
type Evidence struct {
	Findings  []Finding `json:"findings"`
	Sections  []Section `json:"sections"`
	Summary   string    `json:"summary"`
	PageIndex int       `json:"page_index"`
}

// Section is a structural heading observed in a segment.
type Section struct {
	Title string `json:"title"`
}

// SegmentResult is the worker pool's per-segment outcome.
type SegmentResult struct {
	SegmentID string `json:"segment_id"`
	Success   bool   `json:"success"`
	Summary   string `json:"summary,omitempty"`
	Error     string `json:"error,omitempty"`
}
