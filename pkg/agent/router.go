package agent

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/OGODEVO/studious-system/pkg/tools"
)

// High-confidence intent patterns. A match routes straight to a tool and
// skips the LLM entirely.
var (
	datetimeIntent = regexp.MustCompile(`(?i)\b(what('?s| is) the (time|date)|what time is it|current (time|date)|today'?s date)\b`)
	walletAddrIntent = regexp.MustCompile(`(?i)\b(wallet|your) address\b`)
	walletBalanceIntent = regexp.MustCompile(`(?i)\b(wallet balance|your balance|how much .{0,20}(wallet|balance)|what('?s| is) (your|the) balance)\b`)

	remindInIntent   = regexp.MustCompile(`(?i)\bremind me in (\d+(?:\.\d+)?) (minutes?|mins?|hours?|hrs?) (?:to |that )?(.+)`)
	listRemindersIntent = regexp.MustCompile(`(?i)\b(list|show|what) (?:my |are my )?reminders\b`)
	cancelReminderIntent = regexp.MustCompile(`(?i)\bcancel (?:the )?reminder (\S+)`)

	timelineIntent = regexp.MustCompile(`(?i)\b(show|check|read) (?:my |the )?(timeline|feed)\b`)
	postIntent     = regexp.MustCompile(`(?i)^(?:please )?post (?:this[:,]? ?)?(.+)`)
)

// route matches the user text against the deterministic intents and, on a
// hit, executes the tool directly. Returns the tool output and true on a
// match; intents whose tool is not registered fall through to the LLM.
func route(ctx context.Context, reg *tools.Registry, text string) (string, bool) {
	trimmed := strings.TrimSpace(text)

	if datetimeIntent.MatchString(trimmed) && reg.Has("get_datetime") {
		return reg.ExecuteArgs(ctx, "get_datetime", map[string]any{}), true
	}
	if walletBalanceIntent.MatchString(trimmed) && reg.Has("wallet_balance") {
		return reg.ExecuteArgs(ctx, "wallet_balance", map[string]any{}), true
	}
	if walletAddrIntent.MatchString(trimmed) && reg.Has("wallet_address") {
		return reg.ExecuteArgs(ctx, "wallet_address", map[string]any{}), true
	}

	if m := remindInIntent.FindStringSubmatch(trimmed); m != nil && reg.Has("schedule_reminder") {
		minutes, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			if strings.HasPrefix(strings.ToLower(m[2]), "h") {
				minutes *= 60
			}
			return reg.ExecuteArgs(ctx, "schedule_reminder", map[string]any{
				"minutes": minutes,
				"prompt":  strings.TrimSpace(m[3]),
			}), true
		}
	}
	if listRemindersIntent.MatchString(trimmed) && reg.Has("list_reminders") {
		return reg.ExecuteArgs(ctx, "list_reminders", map[string]any{}), true
	}
	if m := cancelReminderIntent.FindStringSubmatch(trimmed); m != nil && reg.Has("cancel_reminder") {
		return reg.ExecuteArgs(ctx, "cancel_reminder", map[string]any{"id": m[1]}), true
	}

	if timelineIntent.MatchString(trimmed) && reg.Has("social_timeline") {
		return reg.ExecuteArgs(ctx, "social_timeline", map[string]any{}), true
	}
	if m := postIntent.FindStringSubmatch(trimmed); m != nil && reg.Has("social_post") {
		return reg.ExecuteArgs(ctx, "social_post", map[string]any{"text": strings.TrimSpace(m[1])}), true
	}

	return "", false
}
