package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docsight/docsight/pkg/agent/prompt"
	"github.com/docsight/docsight/pkg/config"
	"github.com/docsight/docsight/pkg/conversation"
	"github.com/docsight/docsight/pkg/events"
	"github.com/docsight/docsight/pkg/model"
	"github.com/docsight/docsight/pkg/models"
	"github.com/docsight/docsight/pkg/tools"
)

// Pipeline is the plan_execute mode: plan, run the steps, synthesize a
// cited answer. A SearchState lives for one request; the conversation
// store carries the thread's question/answer turns across requests.
type Pipeline struct {
	planner     *Planner
	executor    *Executor
	synthesizer *Synthesizer
	conv        *conversation.Store
	convCfg     config.ConversationConfig
	mux         *events.Mux
	logger      *slog.Logger
}

// NewPipeline wires the three stages over a shared conversation store.
func NewPipeline(
	m model.Client,
	registry *tools.Registry,
	prompts *prompt.Registry,
	conv *conversation.Store,
	modelCfg config.ModelConfig,
	convCfg config.ConversationConfig,
) *Pipeline {
	return &Pipeline{
		planner:     NewPlanner(m, registry, prompts, modelCfg),
		executor:    NewExecutor(registry),
		synthesizer: NewSynthesizer(m, prompts, modelCfg),
		conv:        conv,
		convCfg:     convCfg,
		mux:         events.NewMux(),
		logger:      slog.Default(),
	}
}

// Stream runs the pipeline and returns its event stream. The stages are
// joined sequentially; a failed stage ends the stream and later stages
// never start.
func (p *Pipeline) Stream(ctx context.Context, query, threadID string, agentCtx models.AgentContext) (<-chan events.Event, error) {
	state := &models.SearchState{
		Query:      query,
		Phase:      models.PhasePlanning,
		IndexID:    agentCtx.IndexID,
		DocumentID: agentCtx.DocumentID,
		SegmentID:  agentCtx.SegmentID,
		StartedAt:  time.Now().UTC(),
	}

	return p.mux.Join(ctx, threadID,
		p.stage(state, threadID, p.planStage),
		p.stage(state, threadID, p.executeStage),
		p.stage(state, threadID, p.synthesizeStage),
	), nil
}

// stageFunc is one pipeline stage. A nil return ends the stage with
// stream_end (swallowed by Join for non-final stages); an error becomes
// the stream's error terminal.
type stageFunc func(ctx context.Context, state *models.SearchState, threadID string, emit func(events.Event)) error

func (p *Pipeline) stage(state *models.SearchState, threadID string, run stageFunc) func(context.Context) <-chan events.Event {
	return func(ctx context.Context) <-chan events.Event {
		out := make(chan events.Event, 16)
		go func() {
			defer close(out)
			emit := func(ev events.Event) {
				select {
				case out <- ev:
				case <-ctx.Done():
				}
			}
			if err := run(ctx, state, threadID, emit); err != nil {
				if ctx.Err() != nil {
					return
				}
				state.Phase = models.PhaseError
				state.Error = err.Error()
				message, code := classifyStageError(err)
				emit(events.Error{
					Meta:         events.NewMeta(events.TypeError, "", threadID),
					ErrorMessage: message,
					ErrorCode:    code,
				})
				return
			}
			emit(events.StreamEnd{Meta: events.NewMeta(events.TypeStreamEnd, "", threadID)})
		}()
		return out
	}
}

func (p *Pipeline) planStage(ctx context.Context, state *models.SearchState, threadID string, emit func(events.Event)) error {
	p.setPhase(state, threadID, models.PhasePlanning, "Generating execution plan", emit)

	plan, err := p.planner.Plan(ctx, state, threadID, emit)
	if err != nil {
		return err
	}
	state.Plan = plan
	emit(events.PlanGenerated{
		Meta:       events.NewMeta(events.TypePlanGenerated, "", threadID),
		Plan:       plan.Plan,
		TotalSteps: plan.TotalSteps,
	})
	return nil
}

func (p *Pipeline) executeStage(ctx context.Context, state *models.SearchState, threadID string, emit func(events.Event)) error {
	p.setPhase(state, threadID, models.PhaseExecuting, "Executing plan", emit)
	return p.executor.Execute(ctx, state, threadID, emit)
}

func (p *Pipeline) synthesizeStage(ctx context.Context, state *models.SearchState, threadID string, emit func(events.Event)) error {
	p.setPhase(state, threadID, models.PhaseSynthesizing, "Synthesizing answer", emit)

	answer, err := p.synthesizer.Synthesize(ctx, state, threadID, p.historyFor(threadID), emit)
	if err != nil {
		return err
	}

	if refs := collectReferences(state.Results); len(refs) > 0 {
		emit(events.References{
			Meta:       events.NewMeta(events.TypeReferences, "", threadID),
			References: refs,
		})
	}

	p.conv.AppendUser(threadID, state.Query)
	p.conv.AppendAssistant(threadID, answer)

	now := time.Now().UTC()
	state.CompletedAt = &now
	state.Phase = models.PhaseCompleted
	return nil
}

func (p *Pipeline) setPhase(state *models.SearchState, threadID string, phase models.SearchPhase, message string, emit func(events.Event)) {
	state.Phase = phase
	emit(events.PhaseUpdate{
		Meta:    events.NewMeta(events.TypePhaseUpdate, "", threadID),
		Phase:   string(phase),
		Message: message,
	})
}

// historyFor renders the thread's recent turns for the synthesizer
// prompt. Empty for a fresh thread.
func (p *Pipeline) historyFor(threadID string) string {
	msgs := p.conv.History(threadID)
	if max := p.convCfg.MaxConversationMessages; max > 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	var out strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case models.RoleUser:
			fmt.Fprintf(&out, "User: %s\n", m.Text())
		case models.RoleAssistant:
			fmt.Fprintf(&out, "Assistant: %s\n", m.Text())
		}
	}
	return strings.TrimSpace(out.String())
}

// classifyStageError maps stage failures to the wire error shape.
func classifyStageError(err error) (message, code string) {
	if errors.Is(err, ErrNoSuccessfulResults) {
		return "all plan steps failed", "no_successful_results"
	}
	return err.Error(), "internal"
}

// collectReferences gathers and deduplicates references across results,
// keyed by id when present, otherwise by value.
func collectReferences(results []models.ExecutionResult) []models.Reference {
	seen := make(map[string]bool)
	var out []models.Reference
	for _, r := range results {
		for _, ref := range r.References {
			key := ref.ID
			if key == "" {
				key = ref.Value
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, ref)
		}
	}
	return out
}
