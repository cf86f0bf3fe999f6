package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/OGODEVO/studious-system/pkg/llm"
	"github.com/OGODEVO/studious-system/pkg/models"
)

// Planning modes.
const (
	PlanModeFast       = "fast"       // never plan
	PlanModeAuto       = "auto"       // plan when the text signals multi-step work
	PlanModeAutonomous = "autonomous" // always plan
)

// planSignal marks requests that benefit from an explicit plan in auto mode.
var planSignal = regexp.MustCompile(`(?i)\b(plan|roadmap|strategy|organi[sz]e|step[- ]by[- ]step|break (it |this )?down|multi[- ]step|project|campaign)\b`)

// Plan is a generated execution plan for one turn.
type Plan struct {
	Goal               string   `json:"goal"`
	Steps              []string `json:"steps"`
	CompletionCriteria []string `json:"completion_criteria"`
}

// shouldPlan decides whether this turn gets a plan.
func shouldPlan(mode, userText string) bool {
	switch mode {
	case PlanModeAutonomous:
		return true
	case PlanModeAuto:
		return planSignal.MatchString(userText)
	default:
		return false
	}
}

// generatePlan asks the model for a JSON plan. Any invalid response yields
// no plan; planning is best-effort and never fails the turn.
func generatePlan(ctx context.Context, client llm.Client, userText string) *Plan {
	prompt := "Produce an execution plan for the request below as JSON with exactly these keys: " +
		`"goal" (string), "steps" (array of 3 to 6 strings), "completion_criteria" (array of up to 6 strings). ` +
		"Respond with JSON only, no prose.\n\nRequest: " + userText
	out, err := client.Complete(ctx, llm.ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: prompt}},
	})
	if err != nil {
		slog.Warn("Plan generation failed", "error", err)
		return nil
	}
	return parsePlan(out)
}

// parsePlan validates the model output against the plan shape. Steps must
// number 3 to 6; completion criteria are clipped at 6.
func parsePlan(out string) *Plan {
	out = strings.TrimSpace(out)
	// Models fence JSON in markdown more often than not.
	if strings.HasPrefix(out, "```") {
		out = strings.TrimPrefix(out, "```json")
		out = strings.TrimPrefix(out, "```")
		out = strings.TrimSuffix(strings.TrimSpace(out), "```")
	}
	var p Plan
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		return nil
	}
	if strings.TrimSpace(p.Goal) == "" || len(p.Steps) < 3 || len(p.Steps) > 6 {
		return nil
	}
	if len(p.CompletionCriteria) > 6 {
		p.CompletionCriteria = p.CompletionCriteria[:6]
	}
	return &p
}

// render formats the plan for the system prompt.
func (p *Plan) render() string {
	var b strings.Builder
	b.WriteString("Goal: " + p.Goal + "\n\nSteps:\n")
	for i, s := range p.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	if len(p.CompletionCriteria) > 0 {
		b.WriteString("\nCompletion criteria:\n")
		for _, c := range p.CompletionCriteria {
			b.WriteString("- " + c + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
