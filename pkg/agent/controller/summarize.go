package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/docsight/docsight/pkg/agent/prompt"
	"github.com/docsight/docsight/pkg/model"
	"github.com/docsight/docsight/pkg/models"
)

// shouldSummarize reports whether a thread's history has grown enough to
// fold into a summary: at or past the threshold, with enough new messages
// since the last summarization to be worth another pass.
func (e *Engine) shouldSummarize(threadID string) bool {
	count := e.conv.MessageCount(threadID)
	if count < e.convCfg.SummarizationThreshold {
		return false
	}
	_, lastAt := e.conv.Summary(threadID)
	return count-lastAt >= e.convCfg.MinMessagesSinceSummary
}

// summarize compacts all but the most recent messages into the thread
// summary. Images are stripped before the text reaches the summarizer.
// Failures leave the history untouched; the engine proceeds with the
// full transcript.
func (e *Engine) summarize(ctx context.Context, threadID, modelID string) error {
	history := e.conv.History(threadID)
	keep := e.convCfg.KeepRecentMessages
	if len(history) <= keep {
		return nil
	}
	older := history[:len(history)-keep]

	var transcript strings.Builder
	for _, msg := range older {
		text := msg.StripImages().Text()
		if text == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, text)
	}

	priorSummary, _ := e.conv.Summary(threadID)
	rendered, err := e.prompts.Render(prompt.TemplateSummarizer, map[string]string{
		"CONVERSATION":  transcript.String(),
		"PRIOR_SUMMARY": priorSummary,
	})
	if err != nil {
		return fmt.Errorf("failed to render summarizer prompt: %w", err)
	}

	resp, err := model.Generate(ctx, e.model, &model.GenerateInput{
		ModelID: modelID,
		System:  rendered.SystemPrompt,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: rendered.Instruction},
		},
		MaxTokens:   e.modelCfg.SummaryMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		return fmt.Errorf("summarization model call failed: %w", err)
	}
	summary := strings.TrimSpace(resp.Text)
	if summary == "" {
		return fmt.Errorf("summarizer returned empty output")
	}

	e.conv.SetSummary(threadID, summary, keep)
	e.logger.Info("Conversation summarized",
		"thread_id", threadID, "folded", len(older), "kept", keep)
	return nil
}
