package memory

import (
	"regexp"
	"strings"
)

// Goal-candidate patterns applied to the user message. The capture group is
// the goal title.
var goalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwe need to\s+(.{4,120})`),
	regexp.MustCompile(`(?i)\bi want to\s+(.{4,120})`),
	regexp.MustCompile(`(?i)\blet'?s\s+(.{4,120})`),
	regexp.MustCompile(`(?i)\bgoal:\s*(.{4,120})`),
	regexp.MustCompile(`(?i)\bmission:\s*(.{4,120})`),
	regexp.MustCompile(`(?i)\bpriority:\s*(.{4,120})`),
}

// Preference patterns → semantic "User Preferences" bullets.
var preferencePatterns = []struct {
	re     *regexp.Regexp
	render func(match string) string
}{
	{regexp.MustCompile(`(?i)\bi (?:prefer|like)\s+(.{2,80})`), func(m string) string { return "Prefers " + m }},
	{regexp.MustCompile(`(?i)\bi (?:dislike|hate|can't stand)\s+(.{2,80})`), func(m string) string { return "Dislikes " + m }},
	{regexp.MustCompile(`(?i)\bi(?:'m| am) (?:based |living )?in\s+([A-Za-z][A-Za-z ,.-]{1,60})`), func(m string) string { return "Location: " + m }},
	{regexp.MustCompile(`(?i)\bmy timezone is\s+([A-Za-z0-9_/+-]{2,40})`), func(m string) string { return "Timezone: " + m }},
}

// ruleSignal matches sentences worth keeping as procedural rules.
var ruleSignal = regexp.MustCompile(`(?i)\b(always|never|should|must|don't|do not)\b`)

// maxRulesPerTurn caps rule mining per turn.
const maxRulesPerTurn = 4

// goalProgressOverlap is the minimum turn/title token overlap that counts
// as progress on an active goal.
const goalProgressOverlap = 0.12

// Status-change word lists checked against the turn text.
var (
	completionWords = []string{"completed", "finished", "shipped", "done with", "accomplished"}
	pauseWords      = []string{"pause", "on hold", "put off", "postpone"}
	cancelWords     = []string{"cancel", "abandon", "drop the", "give up on"}
)

// extractGoalTitles returns cleaned goal-title candidates from a user
// message: pattern captures plus items of a bulleted "priorities" list.
func extractGoalTitles(userText string) []string {
	var titles []string
	seen := make(map[string]bool)
	add := func(raw string) {
		title := cleanGoalTitle(raw)
		if title == "" {
			return
		}
		key := normalizeText(title)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		titles = append(titles, title)
	}

	for _, re := range goalPatterns {
		for _, m := range re.FindAllStringSubmatch(userText, -1) {
			add(m[1])
		}
	}

	// Bulleted list under a "priorities" line.
	lines := strings.Split(userText, "\n")
	inList := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		switch {
		case strings.Contains(lower, "priorities"):
			inList = true
		case inList && (strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ")):
			add(trimmed[2:])
		case trimmed == "":
			// blank lines keep the list open
		default:
			inList = false
		}
	}
	return titles
}

// cleanGoalTitle trims sentence tails and punctuation off a raw capture.
func cleanGoalTitle(raw string) string {
	title := strings.TrimSpace(raw)
	// Cut at the first sentence boundary.
	for _, sep := range []string{". ", "! ", "? ", "; ", "\n"} {
		if idx := strings.Index(title, sep); idx > 0 {
			title = title[:idx]
		}
	}
	title = strings.TrimRight(title, ".!?;:, ")
	if len(title) < 4 {
		return ""
	}
	if len(title) > 100 {
		title = strings.TrimSpace(title[:100])
	}
	return title
}

// extractPreferences mines "User Preferences" bullets from a user message.
func extractPreferences(userText string) []string {
	var out []string
	for _, p := range preferencePatterns {
		for _, m := range p.re.FindAllStringSubmatch(userText, -1) {
			val := strings.TrimSpace(m[1])
			// Greedy captures run past the sentence; cut at the boundary.
			for _, sep := range []string{". ", "! ", "? ", "; ", "\n"} {
				if idx := strings.Index(val, sep); idx > 0 {
					val = val[:idx]
				}
			}
			val = strings.TrimRight(val, ".!?;:, ")
			if val != "" {
				out = append(out, p.render(val))
			}
		}
	}
	return out
}

// extractRules mines "Learned Behaviors" sentences from a user message,
// capped at maxRulesPerTurn.
func extractRules(userText string) []string {
	var out []string
	for _, sentence := range splitSentences(userText) {
		if len(out) >= maxRulesPerTurn {
			break
		}
		if len(sentence) < 12 || len(sentence) > 240 {
			continue
		}
		if ruleSignal.MatchString(sentence) {
			out = append(out, sentence)
		}
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(strings.TrimRight(cur.String(), ".!?\n")); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// firstSentence returns the leading sentence of text, trimmed to max runes.
func firstSentence(text string, max int) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}
	s := sentences[0]
	if len(s) > max {
		s = strings.TrimSpace(s[:max])
	}
	return s
}

// statusFromText detects a lifecycle change for a goal mentioned in the
// turn. Returns "" when no change is signalled.
func statusFromText(turnText string) GoalStatus {
	lower := strings.ToLower(turnText)
	for _, w := range completionWords {
		if strings.Contains(lower, w) {
			return GoalCompleted
		}
	}
	for _, w := range cancelWords {
		if strings.Contains(lower, w) {
			return GoalCancelled
		}
	}
	for _, w := range pauseWords {
		if strings.Contains(lower, w) {
			return GoalPaused
		}
	}
	return ""
}
