package plan

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/docsight/docsight/pkg/agent/prompt"
	"github.com/docsight/docsight/pkg/config"
	"github.com/docsight/docsight/pkg/events"
	"github.com/docsight/docsight/pkg/model"
	"github.com/docsight/docsight/pkg/models"
)

// citationRe matches inline citations: [cite: 1] or [cite: 1, 3].
var citationRe = regexp.MustCompile(`\[cite:\s*([0-9]+(?:\s*,\s*[0-9]+)*)\s*\]`)

// Synthesizer streams the final answer from the collected results.
type Synthesizer struct {
	model    model.Client
	prompts  *prompt.Registry
	modelCfg config.ModelConfig
	logger   *slog.Logger
}

// NewSynthesizer wires a synthesizer.
func NewSynthesizer(m model.Client, prompts *prompt.Registry, modelCfg config.ModelConfig) *Synthesizer {
	return &Synthesizer{model: m, prompts: prompts, modelCfg: modelCfg, logger: slog.Default()}
}

// Synthesize renders the answer prompt over the successful results and
// streams the response through the chunker: coherent text_chunk events
// with inline citations stripped into citation_data. history carries the
// thread's earlier turns so follow-up questions resolve correctly.
// Returns the full answer text with citation markers removed.
func (s *Synthesizer) Synthesize(ctx context.Context, state *models.SearchState, threadID, history string, emit func(events.Event)) (string, error) {
	results := formatResults(state.Results)
	if results == "" {
		return "", fmt.Errorf("no successful results to synthesize from")
	}

	rendered, err := s.prompts.Render(prompt.TemplateSynthesizer, map[string]string{
		"QUERY":   state.Query,
		"RESULTS": results,
		"HISTORY": history,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render synthesizer prompt: %w", err)
	}

	emit(events.SynthesizingStart{
		Meta: events.NewMeta(events.TypeSynthesizingStart, "", threadID),
	})

	stream, err := s.model.Generate(ctx, &model.GenerateInput{
		ModelID: s.modelCfg.ModelID,
		System:  rendered.SystemPrompt,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: rendered.Instruction},
		},
		MaxTokens:   s.modelCfg.MaxTokens,
		Temperature: s.modelCfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("synthesizer model call failed: %w", err)
	}

	ch := newChunker(threadID, emit)
	_, err = model.CollectWithCallback(stream, ch.feed)
	if err != nil {
		return "", fmt.Errorf("synthesizer stream failed: %w", err)
	}
	ch.finish()
	return citationRe.ReplaceAllString(ch.received.String(), ""), nil
}

// formatResults renders the successful execution results for the prompt,
// each block addressable by its source id.
func formatResults(results []models.ExecutionResult) string {
	var out strings.Builder
	for _, r := range results {
		if !r.Success {
			continue
		}
		text := r.ResultText
		if text == "" {
			text = r.ResultSummary
		}
		fmt.Fprintf(&out, "### Source ID %d (%s)\n%s\n\n", r.SourceID, r.ToolName, text)
	}
	return out.String()
}

// chunker turns a raw token stream into coherent text chunks. It absorbs
// both delta and cumulative providers, buffers until a natural break,
// strips inline [cite: N] markers, and emits citation_data for each.
type chunker struct {
	threadID string
	textID   string
	emit     func(events.Event)

	// received is all text accepted so far, used to turn cumulative
	// payloads into deltas by prefix containment.
	received strings.Builder
	pending  string
}

func newChunker(threadID string, emit func(events.Event)) *chunker {
	return &chunker{
		threadID: threadID,
		textID:   uuid.NewString(),
		emit:     emit,
	}
}

// feed accepts one token from the model stream.
func (c *chunker) feed(token string) {
	delta := token
	if sofar := c.received.String(); sofar != "" && strings.HasPrefix(token, sofar) {
		// Cumulative provider: the payload repeats everything so far.
		delta = token[len(sofar):]
	}
	if delta == "" {
		return
	}
	c.received.WriteString(delta)
	c.pending += delta

	for {
		flushable, rest, ok := splitAtBreak(c.pending)
		if !ok {
			return
		}
		c.pending = rest
		c.emitSpan(flushable)
	}
}

// finish flushes whatever remains.
func (c *chunker) finish() {
	if c.pending != "" {
		c.emitSpan(c.pending)
		c.pending = ""
	}
}

// emitSpan strips citations from a span, emits the text chunk, then one
// citation_data per citation found.
func (c *chunker) emitSpan(span string) {
	matches := citationRe.FindAllStringSubmatch(span, -1)
	text := citationRe.ReplaceAllString(span, "")

	if text != "" {
		c.emit(events.TextChunk{
			Meta:   events.NewMeta(events.TypeTextChunk, "", c.threadID),
			TextID: c.textID,
			Text:   text,
		})
	}
	for _, m := range matches {
		ids := parseSourceIDs(m[1])
		if len(ids) == 0 {
			continue
		}
		c.emit(events.CitationData{
			Meta:         events.NewMeta(events.TypeCitationData, "", c.threadID),
			TargetTextID: c.textID,
			SourceIDs:    ids,
		})
	}
}

// splitAtBreak decides whether pending holds a complete, coherent chunk.
// A partial citation at the tail is always held back so markers are never
// split across chunks.
func splitAtBreak(pending string) (flushable, rest string, ok bool) {
	cut := len(pending)
	if idx := danglingCitationStart(pending); idx >= 0 {
		cut = idx
	}
	candidate := pending[:cut]
	if !isNaturalBreak(candidate) {
		return "", "", false
	}
	return candidate, pending[cut:], true
}

func isNaturalBreak(s string) bool {
	if len(s) >= 100 {
		return true
	}
	if strings.Contains(s, "\n\n") {
		return true
	}
	if len(s) >= 50 {
		last := s[len(s)-1]
		if last == '.' || last == '!' || last == '?' {
			return true
		}
	}
	return strings.Count(s, " ") >= 8 && len(s) >= 50
}

// danglingCitationStart returns the index of an unterminated citation
// marker at the tail, or -1.
func danglingCitationStart(s string) int {
	idx := strings.LastIndexByte(s, '[')
	if idx < 0 || strings.ContainsRune(s[idx:], ']') {
		return -1
	}
	frag := s[idx:]
	const marker = "[cite:"
	if len(frag) < len(marker) {
		if strings.HasPrefix(marker, frag) {
			return idx
		}
		return -1
	}
	if strings.HasPrefix(frag, marker) {
		return idx
	}
	return -1
}

func parseSourceIDs(list string) []int {
	parts := strings.Split(list, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
