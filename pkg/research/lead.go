package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/docsight/docsight/pkg/agent/prompt"
	"github.com/docsight/docsight/pkg/config"
	"github.com/docsight/docsight/pkg/model"
	"github.com/docsight/docsight/pkg/models"
)

// Lead coordinates a research job: it keeps the memory ledger (progress
// and cost), decides between batches whether the job should continue,
// and synthesizes the final report from the evidence store.
type Lead struct {
	model    model.Client
	prompts  *prompt.Registry
	modelCfg config.ModelConfig

	mu     sync.Mutex
	memory models.ResearchMemory

	evidence *EvidenceStore
	logger   *slog.Logger
}

// NewLead wires a lead coordinator for one job.
func NewLead(m model.Client, prompts *prompt.Registry, modelCfg config.ModelConfig, evidence *EvidenceStore, totalSegments int) *Lead {
	return &Lead{
		model:    m,
		prompts:  prompts,
		modelCfg: modelCfg,
		evidence: evidence,
		memory: models.ResearchMemory{
			Progress: models.ResearchProgress{TotalPages: totalSegments},
		},
		logger: slog.Default(),
	}
}

// RecordSuccess registers one analyzed segment and its evidence.
func (l *Lead) RecordSuccess(jobID string, segment models.Segment, ev models.Evidence, usage *models.TokenUsage) {
	l.evidence.Put(jobID, segment.ID, ev)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.memory.Progress.CompletedPages++
	l.addCostLocked(usage)
}

// RecordFailure registers one failed segment.
func (l *Lead) RecordFailure(segment models.Segment, usage *models.TokenUsage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.memory.Progress.FailedPages = append(l.memory.Progress.FailedPages, segment.ID)
	l.addCostLocked(usage)
}

// BatchDone advances the batch counter and returns the current memory
// snapshot.
func (l *Lead) BatchDone() models.ResearchMemory {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.memory.Progress.CurrentBatch++
	return l.memory
}

// Memory returns a snapshot of the ledger.
func (l *Lead) Memory() models.ResearchMemory {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.memory
}

// ShouldContinue is the between-batch termination predicate: processing
// halts when the estimated spend exceeds the configured budget.
func (l *Lead) ShouldContinue() bool {
	if l.modelCfg.BudgetUSD <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.memory.Cost.DollarsEst <= l.modelCfg.BudgetUSD
}

func (l *Lead) addCostLocked(usage *models.TokenUsage) {
	if usage == nil {
		return
	}
	l.memory.Cost.TokensIn += usage.InputTokens
	l.memory.Cost.TokensOut += usage.OutputTokens
	l.memory.Cost.DollarsEst += float64(usage.InputTokens)/1000*l.modelCfg.InputCostPer1K +
		float64(usage.OutputTokens)/1000*l.modelCfg.OutputCostPer1K
}

// Assess runs a midway progress assessment over the summaries so far.
// Best effort; failures are logged and skipped.
func (l *Lead) Assess(ctx context.Context, jobID, query string) string {
	evidence := l.evidence.ForJob(jobID)
	if len(evidence) == 0 {
		return ""
	}
	var summaries strings.Builder
	for _, ev := range evidence {
		if ev.Summary == "" {
			continue
		}
		fmt.Fprintf(&summaries, "- Segment %d: %s\n", ev.PageIndex, ev.Summary)
	}

	rendered, err := l.prompts.Render(prompt.TemplateResearchAssess, map[string]string{
		"QUERY":     query,
		"SUMMARIES": summaries.String(),
	})
	if err != nil {
		l.logger.Warn("Failed to render assessment prompt", "error", err)
		return ""
	}

	resp, err := model.Generate(ctx, l.model, &model.GenerateInput{
		ModelID: l.modelCfg.ModelID,
		System:  rendered.SystemPrompt,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: rendered.Instruction},
		},
		MaxTokens:   l.modelCfg.SummaryMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		l.logger.Warn("Progress assessment failed", "error", err)
		return ""
	}
	if resp.Usage != nil {
		l.mu.Lock()
		l.addCostLocked(resp.Usage)
		l.mu.Unlock()
	}
	return strings.TrimSpace(resp.Text)
}

// FinalReport synthesizes the final answer from all gathered evidence,
// streaming text deltas to onDelta.
func (l *Lead) FinalReport(ctx context.Context, jobID, query string, onDelta func(string)) error {
	evidence := l.evidence.ForJob(jobID)
	if len(evidence) == 0 {
		return fmt.Errorf("no evidence gathered for job %q", jobID)
	}

	var body strings.Builder
	for _, ev := range evidence {
		fmt.Fprintf(&body, "## Segment %d\n", ev.PageIndex)
		for _, section := range ev.Sections {
			fmt.Fprintf(&body, "Section: %s\n", section.Title)
		}
		for _, finding := range ev.Findings {
			fmt.Fprintf(&body, "- %s\n", finding.Text)
		}
		if ev.Summary != "" {
			fmt.Fprintf(&body, "%s\n", ev.Summary)
		}
		body.WriteString("\n")
	}

	mem := l.Memory()
	vars := map[string]string{
		"QUERY":         query,
		"EVIDENCE":      body.String(),
		"SEGMENT_COUNT": fmt.Sprintf("%d", len(evidence)),
	}
	if failed := len(mem.Progress.FailedPages); failed > 0 {
		vars["FAILED_COUNT"] = fmt.Sprintf("%d", failed)
	}
	rendered, err := l.prompts.Render(prompt.TemplateResearchLead, vars)
	if err != nil {
		return fmt.Errorf("failed to render lead prompt: %w", err)
	}

	stream, err := l.model.Generate(ctx, &model.GenerateInput{
		ModelID: l.modelCfg.ModelID,
		System:  rendered.SystemPrompt,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: rendered.Instruction},
		},
		MaxTokens:   l.modelCfg.MaxTokens,
		Temperature: l.modelCfg.Temperature,
	})
	if err != nil {
		return fmt.Errorf("final synthesis failed: %w", err)
	}
	resp, err := model.CollectWithCallback(stream, onDelta)
	if err != nil {
		return fmt.Errorf("final synthesis failed: %w", err)
	}
	if resp.Usage != nil {
		l.mu.Lock()
		l.addCostLocked(resp.Usage)
		l.mu.Unlock()
	}
	return nil
}
