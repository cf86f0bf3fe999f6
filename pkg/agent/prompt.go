package agent

import (
	"regexp"
	"strings"
	"time"

	"github.com/OGODEVO/studious-system/pkg/skills"
)

// defaultPersona is used when the config supplies none.
const defaultPersona = "You are a capable autonomous assistant. Be direct, concrete and honest. " +
	"Use your tools when they apply instead of guessing; never claim to have used a tool you did not call."

// Tool-routing hints keyed by intent pattern. The matching hints are
// appended to the system prompt so the model reaches for the right tool.
var routingHints = []struct {
	pattern *regexp.Regexp
	hint    string
}{
	{regexp.MustCompile(`(?i)\b(price|news|weather|latest|today|right now|currently|score)\b`), "For current or real-time facts, call perplexity_search before answering."},
	{regexp.MustCompile(`(?i)\b(wallet|balance|address|funds)\b`), "For wallet questions, call wallet_address or wallet_balance; never invent values."},
	{regexp.MustCompile(`(?i)\b(remind|reminder|schedule|heartbeat)\b`), "For scheduling, use schedule_reminder, list_reminders, cancel_reminder, set_heartbeat or disable_heartbeat."},
	{regexp.MustCompile(`(?i)\b(post|tweet|timeline|feed)\b`), "For the social network, use social_post and social_timeline."},
	{regexp.MustCompile(`(?i)\b(remember|memori[sz]e|note down|don'?t forget)\b`), "To persist information, use remember_this, write_memory_entry or write_goal_entry."},
	{regexp.MustCompile(`(?i)\bhttps?://\S+`), "To read a page, call browse_url with the URL."},
}

// buildSystemPrompt assembles the per-turn system prompt: persona, time
// context, bootstrap memory, skill catalogue, active skill, plan and
// routing hints.
func buildSystemPrompt(persona string, now time.Time, bootstrap, skillSummary string, active *skills.Skill, plan *Plan, userText string) string {
	if strings.TrimSpace(persona) == "" {
		persona = defaultPersona
	}
	var b strings.Builder
	b.WriteString(persona)

	b.WriteString("\n\n## Current Time\n")
	b.WriteString("Local: " + now.Format("Monday, 2 January 2006 15:04 MST") + "\n")
	b.WriteString("UTC: " + now.UTC().Format(time.RFC3339))

	if bootstrap != "" {
		b.WriteString("\n\n## Memory\n" + bootstrap)
	}
	if skillSummary != "" {
		b.WriteString("\n\n## Available Skills\n" + skillSummary)
	}
	if active != nil {
		b.WriteString("\n\n## Active Skill Instructions\n" + strings.TrimSpace(active.Body))
	}
	if plan != nil {
		b.WriteString("\n\n## Execution Plan\n" + plan.render())
	}
	if hints := matchRoutingHints(userText); len(hints) > 0 {
		b.WriteString("\n\n## Tool Routing\n" + strings.Join(hints, "\n"))
	}
	return b.String()
}

func matchRoutingHints(userText string) []string {
	var out []string
	for _, h := range routingHints {
		if h.pattern.MatchString(userText) {
			out = append(out, h.hint)
		}
	}
	return out
}
