package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdownStoreAppendUnique(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semantic", "memory.md")
	store := newMarkdownStore(path, "Semantic Memory", []string{SectionPreferences, SectionKnownFacts})

	added, err := store.AppendUnique(SectionPreferences, "Prefers dark mode")
	require.NoError(t, err)
	assert.True(t, added)

	// Exact repeat is a no-op.
	added, err = store.AppendUnique(SectionPreferences, "Prefers dark mode")
	require.NoError(t, err)
	assert.False(t, added)

	// Dedup holds across sections, not just within one.
	added, err = store.AppendUnique(SectionKnownFacts, "prefers DARK mode!")
	require.NoError(t, err)
	assert.False(t, added)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "# Semantic Memory\n"))
	assert.Equal(t, 1, strings.Count(content, "- Prefers dark mode"))
}

func TestMarkdownStoreUnknownSectionAppended(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.md")
	store := newMarkdownStore(path, "Semantic Memory", []string{SectionPreferences})

	added, err := store.AppendUnique("Scratch Notes", "ad-hoc note")
	require.NoError(t, err)
	assert.True(t, added)

	content := store.ReadAll()
	assert.Contains(t, content, "## Scratch Notes")
	assert.Contains(t, content, "- ad-hoc note")
}

func TestMarkdownStoreSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.md")
	first := newMarkdownStore(path, "Procedural Memory", []string{SectionOperatingRules})
	_, err := first.AppendUnique(SectionOperatingRules, "Always reply in English")
	require.NoError(t, err)

	second := newMarkdownStore(path, "Procedural Memory", []string{SectionOperatingRules})
	added, err := second.AppendUnique(SectionOperatingRules, "Always reply in English")
	require.NoError(t, err)
	assert.False(t, added)
}

func TestEpisodicStoreAppendAndRecent(t *testing.T) {
	dir := t.TempDir()
	store := newEpisodicStore(dir)

	day1 := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 14, 5, 0, 0, time.UTC)

	added, err := store.Append(day1, "Task: plan launch | Approach: outline | Outcome: completed")
	require.NoError(t, err)
	assert.True(t, added)

	// Same entry on the same day is skipped even with a different stamp.
	added, err = store.Append(day1.Add(2*time.Hour), "Task: plan launch | Approach: outline | Outcome: completed")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = store.Append(day2, "Remembered: user ships on Fridays")
	require.NoError(t, err)

	recent := store.Recent(5)
	require.Len(t, recent, 2)
	assert.Contains(t, recent[0], "2026-03-02")
	assert.Contains(t, recent[1], "2026-03-01")
	assert.Contains(t, recent[1], "[09:30]")

	assert.Len(t, store.Recent(1), 1)
}

func TestAtomicWriteCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "file.md")
	require.NoError(t, atomicWrite(path, []byte("hello\n")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestEquivalentBullets(t *testing.T) {
	assert.True(t, equivalentBullets("Prefers dark mode", "prefers dark mode."))
	assert.True(t, equivalentBullets("a b c d e f g h i j", "a b c d e f g h i j k"))
	assert.False(t, equivalentBullets("Prefers dark mode", "Dislikes light mode"))
	assert.False(t, equivalentBullets("", "anything"))
}

func TestSameGoalTitle(t *testing.T) {
	assert.True(t, sameGoalTitle("Ship the newsletter", "ship the newsletter"))
	assert.True(t, sameGoalTitle("ship the newsletter", "ship the newsletter by Friday"))
	assert.True(t, sameGoalTitle("grow the weekly newsletter audience fast", "grow the weekly newsletter audience"))
	assert.False(t, sameGoalTitle("ship the newsletter", "learn woodworking"))
	assert.False(t, sameGoalTitle("", "ship the newsletter"))
}
