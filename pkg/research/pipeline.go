package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docsight/docsight/pkg/agent/prompt"
	"github.com/docsight/docsight/pkg/config"
	"github.com/docsight/docsight/pkg/events"
	"github.com/docsight/docsight/pkg/index"
	"github.com/docsight/docsight/pkg/model"
	"github.com/docsight/docsight/pkg/models"
	"github.com/docsight/docsight/pkg/tools"
)

// Pipeline is the deep_research mode: enumerate a document's segments,
// analyze them in bounded batches, and synthesize a final report.
type Pipeline struct {
	model       model.Client
	registry    *tools.Registry
	prompts     *prompt.Registry
	docs        *index.Client
	researchCfg config.ResearchConfig
	modelCfg    config.ModelConfig
	logger      *slog.Logger
}

// NewPipeline wires the research pipeline.
func NewPipeline(
	m model.Client,
	registry *tools.Registry,
	prompts *prompt.Registry,
	docs *index.Client,
	researchCfg config.ResearchConfig,
	modelCfg config.ModelConfig,
) *Pipeline {
	return &Pipeline{
		model:       m,
		registry:    registry,
		prompts:     prompts,
		docs:        docs,
		researchCfg: researchCfg,
		modelCfg:    modelCfg,
		logger:      slog.Default(),
	}
}

// Stream runs a research job over the document in the agent context and
// returns its event stream.
func (p *Pipeline) Stream(ctx context.Context, query, threadID string, agentCtx models.AgentContext) (<-chan events.Event, error) {
	if agentCtx.DocumentID == "" {
		return nil, fmt.Errorf("deep research requires a document_id")
	}
	out := make(chan events.Event, 16)
	go func() {
		defer close(out)
		p.run(ctx, query, threadID, agentCtx, out)
	}()
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, query, threadID string, agentCtx models.AgentContext, out chan<- events.Event) {
	emit := func(ev events.Event) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}
	fail := func(message, code string) {
		emit(events.Error{
			Meta:         events.NewMeta(events.TypeError, "", threadID),
			ErrorMessage: message,
			ErrorCode:    code,
		})
	}

	segments, err := p.listSegments(ctx, agentCtx.DocumentID)
	if err != nil {
		fail(err.Error(), "not_found")
		return
	}
	if len(segments) == 0 {
		fail(fmt.Sprintf("document %q has no analyzable segments", agentCtx.DocumentID), "not_found")
		return
	}

	jobID := uuid.NewString()
	job := &models.ResearchJob{
		JobID:         jobID,
		DocumentID:    agentCtx.DocumentID,
		Query:         query,
		TotalPages:    len(segments),
		TotalSegments: len(segments),
		Status:        models.JobRunning,
		StartedAt:     time.Now().UTC(),
	}

	evidence := NewEvidenceStore()
	defer evidence.Clear(jobID)
	lead := NewLead(p.model, p.prompts, p.modelCfg, evidence, len(segments))

	pool := NewPool(p.researchCfg)
	pool.OnTaskStart = func(segment models.Segment) {
		emit(events.TaskStart{
			Meta:      events.NewMeta(events.TypeTaskStart, segment.ID, threadID),
			SegmentID: segment.ID,
		})
	}
	pool.OnBatchDone = func(batch, completed, failed, total int) bool {
		memory := lead.BatchDone()
		percentage := float64(completed+failed) / float64(total) * 100
		emit(events.PhaseUpdate{
			Meta:     events.NewMeta(events.TypePhaseUpdate, "", threadID),
			Phase:    string(models.JobRunning),
			Message:  fmt.Sprintf("Batch %d complete: %d analyzed, %d failed", batch, completed, failed),
			Progress: &percentage,
		})

		if completed+failed < total {
			if assessment := lead.Assess(ctx, jobID, query); assessment != "" {
				p.logger.Info("Research progress assessment",
					"job_id", jobID, "batch", memory.Progress.CurrentBatch, "assessment", assessment)
			}
		}
		return lead.ShouldContinue()
	}

	analyze := func(ctx context.Context, segment models.Segment) models.SegmentResult {
		result := p.analyzeSegment(ctx, jobID, query, segment, agentCtx, lead)
		if result.Success {
			emit(events.TaskComplete{
				Meta:      events.NewMeta(events.TypeTaskComplete, segment.ID, threadID),
				SegmentID: segment.ID,
				Summary:   result.Summary,
			})
		} else {
			emit(events.TaskFailed{
				Meta:      events.NewMeta(events.TypeTaskFailed, segment.ID, threadID),
				SegmentID: segment.ID,
				Error:     result.Error,
			})
		}
		return result
	}

	successful, failed := 0, 0
	for result := range pool.Process(ctx, segments, analyze) {
		if result.Success {
			successful++
		} else {
			failed++
		}
	}
	if ctx.Err() != nil {
		return
	}

	// Report synthesis from the partial or full evidence set.
	textID := uuid.NewString()
	err = lead.FinalReport(ctx, jobID, query, func(delta string) {
		emit(events.TextChunk{
			Meta:   events.NewMeta(events.TypeTextChunk, "", threadID),
			TextID: textID,
			Text:   delta,
		})
	})
	if err != nil {
		job.Status = models.JobFailed
		fail(err.Error(), "internal")
		return
	}

	now := time.Now().UTC()
	job.CompletedAt = &now
	job.Status = models.JobCompleted
	job.Progress = models.JobProgress{
		CompletedSegments: successful,
		FailedSegments:    failed,
		Percentage:        float64(successful+failed) / float64(len(segments)) * 100,
	}

	emit(events.ExecutionComplete{
		Meta:       events.NewMeta(events.TypeExecutionComplete, "", threadID),
		Total:      len(segments),
		Successful: successful,
		Failed:     failed,
	})
	emit(events.StreamEnd{Meta: events.NewMeta(events.TypeStreamEnd, "", threadID)})
}

// analyzeSegment runs one segment through its analyzer tool and the
// analysis model call, recording the outcome with the lead.
func (p *Pipeline) analyzeSegment(ctx context.Context, jobID, query string, segment models.Segment, base models.AgentContext, lead *Lead) models.SegmentResult {
	segCtx := base.Clone()
	segCtx.SegmentID = segment.ID
	segCtx.SegmentIndex = segment.Index
	segCtx.ImageURI = segment.ImageURI
	segCtx.StartTimecode = segment.StartTimecode
	segCtx.EndTimecode = segment.EndTimecode
	segCtx.UserQuery = query

	toolName := index.ToolAnalyzeImageSegment
	args := map[string]any{"segment_id": segment.ID}
	if segment.Type == models.SegmentChapter {
		toolName = index.ToolAnalyzeVideoSegment
		args["start_timecode"] = segment.StartTimecode
		args["end_timecode"] = segment.EndTimecode
	}

	toolResult, err := p.registry.Invoke(ctx, toolName, args, segCtx)
	if err != nil {
		lead.RecordFailure(segment, nil)
		return models.SegmentResult{SegmentID: segment.ID, Error: err.Error()}
	}
	if !toolResult.Success {
		lead.RecordFailure(segment, nil)
		return models.SegmentResult{SegmentID: segment.ID, Error: toolResult.Error}
	}

	rendered, err := p.prompts.Render(prompt.TemplateResearchAnalyze, map[string]string{
		"QUERY":         query,
		"SEGMENT_ID":    segment.ID,
		"SEGMENT_INDEX": fmt.Sprintf("%d", segment.Index),
	})
	if err != nil {
		lead.RecordFailure(segment, nil)
		return models.SegmentResult{SegmentID: segment.ID, Error: err.Error()}
	}

	blocks := []models.ContentBlock{{Type: models.BlockText, Text: rendered.Instruction}}
	if text := toolResult.TextContent(); text != "" {
		blocks = append(blocks, models.ContentBlock{Type: models.BlockText, Text: text})
	}
	for _, a := range toolResult.Attachments {
		blocks = append(blocks, models.ContentBlock{
			Type:      models.BlockImageRef,
			MediaType: a.MediaType,
			Data:      a.Data,
		})
	}

	resp, err := model.Generate(ctx, p.model, &model.GenerateInput{
		ModelID:  p.modelCfg.ModelID,
		System:   rendered.SystemPrompt,
		Messages: []models.Message{{Role: models.RoleUser, Blocks: blocks}},
		MaxTokens: p.modelCfg.MaxTokens,
	})
	if err != nil {
		lead.RecordFailure(segment, nil)
		return models.SegmentResult{SegmentID: segment.ID, Error: err.Error()}
	}

	summary := strings.TrimSpace(resp.Text)
	lead.RecordSuccess(jobID, segment, models.Evidence{
		Summary:   summary,
		PageIndex: segment.Index,
	}, resp.Usage)

	return models.SegmentResult{
		SegmentID: segment.ID,
		Success:   true,
		Summary:   summary,
	}
}

// listSegments enumerates a document's analyzable segments from the
// document service. Documents that report only a page count get
// synthesized page segments.
func (p *Pipeline) listSegments(ctx context.Context, documentID string) ([]models.Segment, error) {
	info, err := p.docs.DocumentInfo(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if raw, ok := info["segments"].([]any); ok {
		segments := make([]models.Segment, 0, len(raw))
		for i, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			seg := models.Segment{
				ID:    stringField(m, "id"),
				Index: i,
				Type:  models.SegmentPage,
			}
			if idx, ok := m["index"].(float64); ok {
				seg.Index = int(idx)
			}
			if t := stringField(m, "type"); t != "" {
				seg.Type = models.SegmentType(t)
			}
			seg.StartTimecode = stringField(m, "start_timecode")
			seg.EndTimecode = stringField(m, "end_timecode")
			if seg.ID == "" {
				seg.ID = fmt.Sprintf("%s-seg-%d", documentID, seg.Index)
			}
			seg.ImageURI = stringField(m, "image_uri")
			if seg.ImageURI == "" {
				seg.ImageURI = stringField(m, "file_uri")
			}
			if seg.ImageURI == "" && seg.Type == models.SegmentPage {
				seg.ImageURI = p.docs.SegmentImageURL(documentID, seg.ID)
			}
			segments = append(segments, seg)
		}
		return segments, nil
	}

	pageCount := 0
	for _, key := range []string{"page_count", "total_pages", "pages"} {
		if v, ok := info[key].(float64); ok {
			pageCount = int(v)
			break
		}
	}
	segments := make([]models.Segment, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		id := fmt.Sprintf("%s-page-%d", documentID, i+1)
		segments = append(segments, models.Segment{
			ID:       id,
			Index:    i,
			Type:     models.SegmentPage,
			ImageURI: p.docs.SegmentImageURL(documentID, id),
		})
	}
	return segments, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
