// Package plan implements the plan_execute pipeline: a planner that asks
// the model for a JSON tool plan, an executor that runs the steps through
// the tool registry, and a synthesizer that streams a cited answer from
// the collected results.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/docsight/docsight/pkg/agent/prompt"
	"github.com/docsight/docsight/pkg/config"
	"github.com/docsight/docsight/pkg/events"
	"github.com/docsight/docsight/pkg/model"
	"github.com/docsight/docsight/pkg/models"
	"github.com/docsight/docsight/pkg/tools"
)

// fallbackToolPattern selects the search-shaped tool for fallback plans.
var fallbackToolPattern = regexp.MustCompile(`(?i)search|find|query|hybrid`)

// Planner asks the model for an execution plan over the available tools.
type Planner struct {
	model    model.Client
	registry *tools.Registry
	prompts  *prompt.Registry
	modelCfg config.ModelConfig
	logger   *slog.Logger
}

// NewPlanner wires a planner.
func NewPlanner(m model.Client, registry *tools.Registry, prompts *prompt.Registry, modelCfg config.ModelConfig) *Planner {
	return &Planner{
		model:    m,
		registry: registry,
		prompts:  prompts,
		modelCfg: modelCfg,
		logger:   slog.Default(),
	}
}

// Plan produces an execution plan for the query. Raw planner tokens are
// streamed to emit as plan_token events. A response without a parsable
// plan yields the single-step fallback, never an error.
func (p *Planner) Plan(ctx context.Context, state *models.SearchState, threadID string, emit func(events.Event)) (*models.ExecutionPlan, error) {
	available := p.registry.List()
	if len(available) == 0 {
		return nil, fmt.Errorf("no tools available for planning")
	}

	rendered, err := p.prompts.Render(prompt.TemplatePlanner, map[string]string{
		"QUERY":        state.Query,
		"TOOL_CATALOG": describeTools(available),
		"INDEX_ID":     state.IndexID,
		"DOCUMENT_ID":  state.DocumentID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render planner prompt: %w", err)
	}

	stream, err := p.model.Generate(ctx, &model.GenerateInput{
		ModelID: p.modelCfg.ModelID,
		System:  rendered.SystemPrompt,
		Messages: []models.Message{
			{Role: models.RoleUser, Content: rendered.Instruction},
		},
		MaxTokens:   p.modelCfg.MaxTokens,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("planner model call failed: %w", err)
	}

	resp, err := model.CollectWithCallback(stream, func(delta string) {
		emit(events.PlanToken{
			Meta:  events.NewMeta(events.TypePlanToken, "", threadID),
			Token: delta,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("planner model call failed: %w", err)
	}

	plan := p.parsePlan(resp.Text)
	if plan == nil || len(plan.Plan) == 0 {
		p.logger.Info("Planner output had no usable steps, using fallback plan",
			"query", state.Query)
		plan = fallbackPlan(available)
	}
	return plan, nil
}

// parsePlan extracts the first top-level JSON object from the model
// output and validates its steps. Steps without a tool name are skipped;
// the survivors are renumbered 1..n.
func (p *Planner) parsePlan(text string) *models.ExecutionPlan {
	raw := extractJSONObject(text)
	if raw == "" {
		return nil
	}

	var parsed struct {
		Plan []struct {
			Step      int            `json:"step"`
			Thought   string         `json:"thought"`
			ToolName  string         `json:"tool_name"`
			ToolInput map[string]any `json:"tool_input"`
		} `json:"plan"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		p.logger.Debug("Planner output failed to parse", "error", err)
		return nil
	}

	steps := make([]models.PlanStep, 0, len(parsed.Plan))
	for _, s := range parsed.Plan {
		if strings.TrimSpace(s.ToolName) == "" {
			continue
		}
		input := s.ToolInput
		if input == nil {
			input = map[string]any{}
		}
		steps = append(steps, models.PlanStep{
			Step:      len(steps) + 1,
			Thought:   s.Thought,
			ToolName:  s.ToolName,
			ToolInput: input,
			Status:    models.StepPending,
		})
	}
	if len(steps) == 0 {
		return nil
	}
	return newExecutionPlan(steps)
}

func newExecutionPlan(steps []models.PlanStep) *models.ExecutionPlan {
	return &models.ExecutionPlan{
		Plan:       steps,
		TotalSteps: len(steps),
		CreatedAt:  time.Now().UTC(),
	}
}

// fallbackPlan builds the single-step plan used when the model produced
// nothing usable: the first search-shaped tool, else the first tool.
func fallbackPlan(available []models.ToolSpec) *models.ExecutionPlan {
	chosen := available[0]
	for _, spec := range available {
		if fallbackToolPattern.MatchString(spec.Name) {
			chosen = spec
			break
		}
	}
	return newExecutionPlan([]models.PlanStep{{
		Step:     1,
		Thought:  "Search the index for material relevant to the query.",
		ToolName: chosen.Name,
		ToolInput: map[string]any{
			"query":    "{query}",
			"index_id": "{index_id}",
		},
		Status: models.StepPending,
	}})
}

// extractJSONObject returns the first balanced top-level {...} span,
// respecting string literals and escapes.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// describeTools renders the tool catalog for the planner prompt: name,
// description, and parameter names.
func describeTools(specs []models.ToolSpec) string {
	var out strings.Builder
	for _, spec := range specs {
		fmt.Fprintf(&out, "- %s: %s", spec.Name, spec.Description)
		if props, ok := spec.InputSchema["properties"].(map[string]any); ok && len(props) > 0 {
			names := make([]string, 0, len(props))
			for name := range props {
				names = append(names, name)
			}
			// Stable catalog text keeps the prompt cache effective.
			sort.Strings(names)
			fmt.Fprintf(&out, " (parameters: %s)", strings.Join(names, ", "))
		}
		out.WriteString("\n")
	}
	return out.String()
}
