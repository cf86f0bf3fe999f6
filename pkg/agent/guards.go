package agent

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/OGODEVO/studious-system/pkg/llm"
	"github.com/OGODEVO/studious-system/pkg/models"
)

// maxPromiseRetries bounds the action-promise guard's loop restarts.
const maxPromiseRetries = 2

// realtimeIntent marks questions about current or live facts.
var realtimeIntent = regexp.MustCompile(`(?i)\b(latest|current(ly)?|right now|today'?s?|this (week|morning|evening)|breaking|live|news|weather|price of|stock|score)\b`)

// promisePattern matches replies that promise action instead of taking it.
var promisePattern = regexp.MustCompile(`(?i)\b(i'?ll (check|look|get|find|search|post|schedule|do)|let me (check|look|get|find|search|see)|give me a (moment|minute|sec)|one (moment|sec(ond)?)|i will (check|look|find|search))\b`)

// Claim patterns: the reply asserts a tool family was used.
var (
	claimSearch    = regexp.MustCompile(`(?i)\b(i (just )?searched|according to (my|the|a) (web )?search|perplexity|search results show)\b`)
	claimSocial    = regexp.MustCompile(`(?i)\b(i (just )?(posted|tweeted)|posted (it|this|that) (to|on)|i checked (the|your) (timeline|feed))\b`)
	claimScheduler = regexp.MustCompile(`(?i)\b(i('?ve| have)? (scheduled|set) (a |the |up )?(reminder|heartbeat)|reminder (is |has been )?(set|scheduled))\b`)
)

// turnState tracks which tools fired during one agent turn.
type turnState struct {
	called  map[string]bool
	outputs []string
}

func newTurnState() *turnState {
	return &turnState{called: make(map[string]bool)}
}

func (st *turnState) record(name, output string) {
	st.called[name] = true
	st.outputs = append(st.outputs, output)
}

func (st *turnState) anyCalled(names ...string) bool {
	for _, n := range names {
		if st.called[n] {
			return true
		}
	}
	return false
}

// walletGuard answers wallet questions with real tool output when the
// model skipped the wallet tools.
func (a *Agent) walletGuard(ctx context.Context, userText, reply string, st *turnState) string {
	switch {
	case walletBalanceIntent.MatchString(userText) && !st.called["wallet_balance"] && a.tools.Has("wallet_balance"):
		out := a.tools.ExecuteArgs(ctx, "wallet_balance", map[string]any{})
		st.record("wallet_balance", out)
		return out + "\n\n" + reply
	case walletAddrIntent.MatchString(userText) && !st.called["wallet_address"] && a.tools.Has("wallet_address"):
		out := a.tools.ExecuteArgs(ctx, "wallet_address", map[string]any{})
		st.record("wallet_address", out)
		return out + "\n\n" + reply
	}
	return reply
}

// realtimeGuard grounds answers about live facts in a search call, then
// rewrites the draft against the results.
func (a *Agent) realtimeGuard(ctx context.Context, userText, reply string, st *turnState) string {
	if !realtimeIntent.MatchString(userText) || st.called["perplexity_search"] || !a.tools.Has("perplexity_search") {
		return reply
	}
	results := a.tools.ExecuteArgs(ctx, "perplexity_search", map[string]any{
		"query":       userText,
		"max_results": 5,
	})
	st.record("perplexity_search", results)
	if strings.HasPrefix(results, "Error") {
		return reply
	}

	prompt := "Rewrite the draft reply so it is grounded in the live search results. " +
		"Keep it concise and answer the user's question directly.\n\n" +
		"User question: " + userText + "\n\nDraft reply: " + reply + "\n\nLive results:\n" + results
	rewritten, err := a.llm.Complete(ctx, llm.ChatRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: prompt}},
	})
	if err != nil || strings.TrimSpace(rewritten) == "" {
		slog.Warn("Realtime rewrite failed, prepending raw results", "error", err)
		return results + "\n\n" + reply
	}
	return rewritten
}

// claimGuard backfills tool output when the reply claims a tool family was
// used but nothing in that family fired this turn.
func (a *Agent) claimGuard(ctx context.Context, userText, reply string, st *turnState) string {
	type family struct {
		claim      *regexp.Regexp
		members    []string
		equivalent string
		args       map[string]any
	}
	families := []family{
		{claimSearch, []string{"perplexity_search"}, "perplexity_search", map[string]any{"query": userText, "max_results": 5}},
		{claimSocial, []string{"social_post", "social_timeline"}, "social_timeline", map[string]any{}},
		{claimScheduler, []string{"schedule_reminder", "cancel_reminder", "list_reminders", "set_heartbeat", "disable_heartbeat"}, "list_reminders", map[string]any{}},
	}
	for _, f := range families {
		if !f.claim.MatchString(reply) || st.anyCalled(f.members...) || !a.tools.Has(f.equivalent) {
			continue
		}
		out := a.tools.ExecuteArgs(ctx, f.equivalent, f.args)
		st.record(f.equivalent, out)
		reply = out + "\n\n" + reply
	}
	return reply
}

// needsPromiseRetry reports whether the reply promises tool-capable action
// without having taken any. The returned override message is appended to
// the conversation before retrying the loop.
func needsPromiseRetry(userText, reply string, st *turnState) (string, bool) {
	if len(st.called) > 0 || !toolCapable(userText) || !promisePattern.MatchString(reply) {
		return "", false
	}
	if strings.HasPrefix(reply, "BLOCKED:") {
		return "", false
	}
	override := "System override: you promised an action but called no tool. " +
		"Call the appropriate tool now, or reply exactly `BLOCKED: <reason>` if you cannot."
	return override, true
}

// toolCapable reports whether any tool intent covers the request.
func toolCapable(userText string) bool {
	return len(matchRoutingHints(userText)) > 0
}

// planFooter appends a per-step status list. A step counts as done when
// its words overlap the turn's reply and tool outputs strongly enough.
func planFooter(plan *Plan, reply string, st *turnState) string {
	turnText := reply + " " + strings.Join(st.outputs, " ")
	turnWords := fieldSet(turnText)
	var b strings.Builder
	b.WriteString("\n\n---\nPlan status:\n")
	for i, step := range plan.Steps {
		status := "[pending]"
		if stepDone(step, turnWords) {
			status = "[done]"
		}
		b.WriteString(strings.TrimSpace(strings.Join([]string{status, step}, " ")))
		if i < len(plan.Steps)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// stepDone reports whether at least half the step's significant words
// appear in the turn text.
func stepDone(step string, turnWords map[string]bool) bool {
	words := fieldSet(step)
	if len(words) == 0 {
		return false
	}
	hits := 0
	for w := range words {
		if turnWords[w] {
			hits++
		}
	}
	return hits*2 >= len(words)
}

// fieldSet lowercases and splits text into significant words (length ≥ 3).
func fieldSet(text string) map[string]bool {
	set := make(map[string]bool)
	clean := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == ' ' {
			return r
		}
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return ' '
	}, text)
	for _, w := range strings.Fields(clean) {
		if len(w) >= 3 {
			set[w] = true
		}
	}
	return set
}
