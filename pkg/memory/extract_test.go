package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractGoalTitlesFromPatterns(t *testing.T) {
	titles := extractGoalTitles("We need to ship the newsletter. Also, I want to learn rust this year!")
	require.Len(t, titles, 2)
	assert.Equal(t, "ship the newsletter", titles[0])
	assert.Equal(t, "learn rust this year", titles[1])
}

func TestExtractGoalTitlesFromPriorityList(t *testing.T) {
	text := "Here are my priorities for this quarter:\n- grow the audience\n- ship v2 of the app\n\n* fix the billing bug\nunrelated trailing line"
	titles := extractGoalTitles(text)
	assert.Equal(t, []string{"grow the audience", "ship v2 of the app", "fix the billing bug"}, titles)
}

func TestExtractGoalTitlesDeduplicates(t *testing.T) {
	titles := extractGoalTitles("we need to ship the newsletter\ngoal: Ship The Newsletter")
	assert.Equal(t, []string{"ship the newsletter"}, titles)
}

func TestCleanGoalTitle(t *testing.T) {
	assert.Equal(t, "ship the newsletter", cleanGoalTitle("  ship the newsletter!!  "))
	assert.Equal(t, "ship it", cleanGoalTitle("ship it. Then relax"))
	assert.Equal(t, "", cleanGoalTitle("go"))
}

func TestExtractPreferences(t *testing.T) {
	prefs := extractPreferences("I prefer short replies. I dislike long meetings. I'm based in Lisbon. My timezone is Europe/Lisbon.")
	assert.Equal(t, []string{
		"Prefers short replies",
		"Dislikes long meetings",
		"Location: Lisbon",
		"Timezone: Europe/Lisbon",
	}, prefs)
}

func TestExtractRulesCapped(t *testing.T) {
	text := "Always cite your sources. Never post without asking me first. You should keep replies short. You must use metric units. Don't use emojis in posts. This one has no signal words."
	rules := extractRules(text)
	require.Len(t, rules, maxRulesPerTurn)
	assert.Equal(t, "Always cite your sources", rules[0])
}

func TestStatusFromText(t *testing.T) {
	assert.Equal(t, GoalCompleted, statusFromText("great, the newsletter is finished"))
	assert.Equal(t, GoalPaused, statusFromText("let's put the rust project on hold"))
	assert.Equal(t, GoalCancelled, statusFromText("I'm going to abandon that plan"))
	assert.Equal(t, GoalStatus(""), statusFromText("still working through it"))
}

func TestFirstSentence(t *testing.T) {
	assert.Equal(t, "Hello there", firstSentence("Hello there. Second sentence.", 80))
	assert.Equal(t, "Hello", firstSentence("Hello there", 5))
	assert.Equal(t, "", firstSentence("", 80))
}
