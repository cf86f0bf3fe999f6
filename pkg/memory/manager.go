// Package memory implements the layered memory manager: semantic,
// procedural and episodic markdown stores, persistent goals, deterministic
// per-turn extraction and the compaction flush.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/OGODEVO/studious-system/pkg/models"
)

// Store names accepted by WriteMemoryEntry.
const (
	StoreSemantic   = "semantic"
	StoreProcedural = "procedural"
)

// Semantic sections.
const (
	SectionPreferences = "User Preferences"
	SectionKnownFacts  = "Known Facts"
	SectionWorkflow    = "Workflow Notes"
)

// Procedural sections.
const (
	SectionOperatingRules   = "Operating Rules"
	SectionLearnedBehaviors = "Learned Behaviors"
)

// maxFlushPairs bounds how many trailing user/assistant pairs the
// compaction flush re-extracts.
const maxFlushPairs = 40

// Config holds the memory manager settings.
type Config struct {
	// Dir is the memory root; stores live in subdirectories.
	Dir string
	// ExtractEveryNTurns is the episodic write cadence.
	ExtractEveryNTurns int
	// MaxRecentEpisodes bounds the episodic blocks in bootstrap context.
	MaxRecentEpisodes int
}

// Summarizer produces a session summary from a prompt. Wired to an LLM
// call by the composition root; nil disables LLM summaries.
type Summarizer func(ctx context.Context, prompt string) (string, error)

// Health is a snapshot of the manager's counters.
type Health struct {
	Writes         map[string]int     `json:"writes"`
	DuplicateSkips int                `json:"duplicate_skips"`
	Errors         int                `json:"errors"`
	LastWriteAt    time.Time          `json:"last_write_at"`
	GoalCounts     map[GoalStatus]int `json:"goal_counts"`
}

// Manager owns the memory stores. Write paths are serialized per store;
// readers may observe an earlier snapshot.
type Manager struct {
	cfg        Config
	semantic   *markdownStore
	procedural *markdownStore
	episodic   *episodicStore
	goals      *goalStore
	sessionCtx string // path of session_context.md
	summarize  Summarizer
	clock      func() time.Time

	mu        sync.Mutex
	turnCount int
	writes    map[string]int
	dupSkips  int
	errors    int
	lastWrite time.Time
}

// NewManager creates the manager and its stores under cfg.Dir.
func NewManager(cfg Config, summarize Summarizer) *Manager {
	return newManagerWithClock(cfg, summarize, time.Now)
}

func newManagerWithClock(cfg Config, summarize Summarizer, clock func() time.Time) *Manager {
	if cfg.ExtractEveryNTurns < 1 {
		cfg.ExtractEveryNTurns = 3
	}
	if cfg.MaxRecentEpisodes < 1 {
		cfg.MaxRecentEpisodes = 3
	}
	return &Manager{
		cfg: cfg,
		semantic: newMarkdownStore(
			filepath.Join(cfg.Dir, "semantic", "memory.md"),
			"Semantic Memory",
			[]string{SectionPreferences, SectionKnownFacts, SectionWorkflow},
		),
		procedural: newMarkdownStore(
			filepath.Join(cfg.Dir, "procedural", "rules.md"),
			"Procedural Memory",
			[]string{SectionOperatingRules, SectionLearnedBehaviors},
		),
		episodic:   newEpisodicStore(filepath.Join(cfg.Dir, "episodic")),
		goals:      newGoalStore(filepath.Join(cfg.Dir, "goals", "goals.md"), clock),
		sessionCtx: filepath.Join(cfg.Dir, "semantic", "session_context.md"),
		summarize:  summarize,
		clock:      clock,
		writes:     make(map[string]int),
	}
}

// BootstrapContext assembles the memory block injected at the top of each
// agent turn. Empty stores contribute nothing.
func (m *Manager) BootstrapContext() string {
	var parts []string
	if s := strings.TrimSpace(m.semantic.ReadAll()); s != "" {
		parts = append(parts, "=== SEMANTIC MEMORY ===\n"+s)
	}
	if s := strings.TrimSpace(m.procedural.ReadAll()); s != "" {
		parts = append(parts, "=== PROCEDURAL MEMORY ===\n"+s)
	}
	if goals := m.goals.All(); len(goals) > 0 {
		ptrs := make([]*Goal, len(goals))
		for i := range goals {
			ptrs[i] = &goals[i]
		}
		parts = append(parts, "=== PERSISTENT GOALS ===\n"+strings.TrimSpace(SerializeGoals(ptrs)))
	}
	if episodes := m.episodic.Recent(m.cfg.MaxRecentEpisodes); len(episodes) > 0 {
		parts = append(parts, "=== EPISODIC MEMORY (most recent first) ===\n"+strings.Join(episodes, "\n\n"))
	}
	if s := m.SessionContext(); s != "" {
		parts = append(parts, "=== ACTIVE SESSION CONTEXT ===\n"+s)
	}
	return strings.Join(parts, "\n\n")
}

// SessionContext returns the carried-over session summary, if any.
func (m *Manager) SessionContext() string {
	data, err := os.ReadFile(m.sessionCtx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// OnTurn applies per-turn deterministic extraction to one completed
// user/assistant exchange and, every ExtractEveryNTurns turns, writes the
// episodic turn summary. Extraction failures are swallowed and counted.
func (m *Manager) OnTurn(userText, assistantText string) {
	m.extractTurn(userText, assistantText)

	m.mu.Lock()
	m.turnCount++
	due := m.turnCount%m.cfg.ExtractEveryNTurns == 0
	m.mu.Unlock()
	if !due {
		return
	}

	summary := fmt.Sprintf("Task: %s | Approach: %s | Outcome: completed",
		firstSentence(userText, 80), firstSentence(assistantText, 80))
	m.appendEpisode(summary)
}

// extractTurn runs goal upsert, goal progress, preference and rule mining
// for one exchange.
func (m *Manager) extractTurn(userText, assistantText string) {
	// Goal upserts from user phrasing.
	for _, title := range extractGoalTitles(userText) {
		if _, _, err := m.goals.Upsert(title, "user", firstSentence(userText, maxProgressNote)); err != nil {
			m.countError("goals", err)
		} else {
			m.countWrite("goals")
		}
	}

	// Progress on active goals the turn touches.
	turnText := userText + " " + assistantText
	turnTokens := tokenSet(turnText)
	status := statusFromText(turnText)
	for _, g := range m.goals.Active() {
		if jaccard(tokenSet(g.Title), turnTokens) < goalProgressOverlap {
			continue
		}
		note := firstSentence(assistantText, maxProgressNote)
		if err := m.goals.AddProgress(g.ID, "assistant", note, status); err != nil {
			m.countError("goals", err)
		} else {
			m.countWrite("goals")
		}
	}

	// Preferences → semantic, rules → procedural.
	for _, pref := range extractPreferences(userText) {
		m.appendStore(m.semantic, StoreSemantic, SectionPreferences, pref)
	}
	for _, rule := range extractRules(userText) {
		m.appendStore(m.procedural, StoreProcedural, SectionLearnedBehaviors, rule)
	}
}

// FlushBeforeCompaction re-extracts the trailing conversation pairs and
// replaces the session context summary. Called right before history
// truncation; must never fail the agent turn.
func (m *Manager) FlushBeforeCompaction(ctx context.Context, history []models.Message) {
	pairs := pairHistory(history)
	if len(pairs) > maxFlushPairs {
		pairs = pairs[len(pairs)-maxFlushPairs:]
	}
	for _, p := range pairs {
		m.extractTurn(p[0], p[1])
	}

	summary := m.sessionSummary(ctx, pairs)
	if err := atomicWrite(m.sessionCtx, []byte(summary+"\n")); err != nil {
		m.countError("session_context", err)
		return
	}
	m.countWrite("session_context")
}

// sessionSummary asks the LLM for a structured summary, falling back to a
// deterministic digest when the call fails or no summarizer is wired.
func (m *Manager) sessionSummary(ctx context.Context, pairs [][2]string) string {
	transcript := renderPairs(pairs)
	if m.summarize != nil {
		prompt := "Summarize this conversation for carry-over into the next session.\n" +
			"Use exactly these headings: Current Goal, Important Facts About User, Progress and Next Steps.\n\n" +
			transcript
		if out, err := m.summarize(ctx, prompt); err == nil && strings.TrimSpace(out) != "" {
			return strings.TrimSpace(out)
		} else if err != nil {
			m.countError("session_context", err)
		}
	}
	return deterministicSummary(pairs)
}

// WriteMemoryEntry is the tool-callable semantic/procedural append.
func (m *Manager) WriteMemoryEntry(store, section, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "Error: content is required", nil
	}
	var target *markdownStore
	switch store {
	case StoreSemantic:
		target = m.semantic
		if section == "" {
			section = SectionKnownFacts
		}
	case StoreProcedural:
		target = m.procedural
		if section == "" {
			section = SectionOperatingRules
		}
	default:
		return fmt.Sprintf("Error: unknown store %q (want semantic or procedural)", store), nil
	}
	added, err := target.AppendUnique(section, content)
	if err != nil {
		m.countError(store, err)
		return "", err
	}
	if !added {
		m.countDup()
		return fmt.Sprintf("Already stored in %s memory.", store), nil
	}
	m.countWrite(store)
	return fmt.Sprintf("Saved to %s memory (%s).", store, section), nil
}

// WriteGoalEntry is the tool-callable goal upsert.
func (m *Manager) WriteGoalEntry(title, progress, status string, tags []string) (string, error) {
	goal, created, err := m.goals.Upsert(title, "user", progress)
	if err != nil {
		m.countError("goals", err)
		return "", err
	}
	if goal == nil {
		return "Error: title is required", nil
	}
	if st := GoalStatus(status); validStatus(st) && st != goal.Status {
		if err := m.goals.AddProgress(goal.ID, "system", "", st); err != nil {
			m.countError("goals", err)
		}
	}
	if len(tags) > 0 {
		if err := m.goals.SetTags(goal.ID, tags); err != nil {
			m.countError("goals", err)
		}
	}
	m.countWrite("goals")
	if created {
		return fmt.Sprintf("Goal created: %s", goal.Title), nil
	}
	return fmt.Sprintf("Goal updated: %s", goal.Title), nil
}

// RememberThis stores a fact in semantic Known Facts, upserts a matching
// goal, and logs the fact to the episodic journal.
func (m *Manager) RememberThis(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "Error: text is required", nil
	}
	added, err := m.semantic.AppendUnique(SectionKnownFacts, text)
	if err != nil {
		m.countError(StoreSemantic, err)
		return "", err
	}
	if !added {
		m.countDup()
		return "Already remembered.", nil
	}
	m.countWrite(StoreSemantic)

	for _, title := range extractGoalTitles(text) {
		if _, _, err := m.goals.Upsert(title, "user", text); err == nil {
			m.countWrite("goals")
		}
	}
	m.appendEpisode("Remembered: " + firstSentence(text, 120))
	return "Remembered.", nil
}

// Goals exposes the goal records for the status surface.
func (m *Manager) Goals() []Goal { return m.goals.All() }

// HealthMetrics returns a snapshot of the manager's counters.
func (m *Manager) HealthMetrics() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	writes := make(map[string]int, len(m.writes))
	for k, v := range m.writes {
		writes[k] = v
	}
	return Health{
		Writes:         writes,
		DuplicateSkips: m.dupSkips,
		Errors:         m.errors,
		LastWriteAt:    m.lastWrite,
		GoalCounts:     m.goals.CountsByStatus(),
	}
}

func (m *Manager) appendStore(store *markdownStore, name, section, bullet string) {
	added, err := store.AppendUnique(section, bullet)
	switch {
	case err != nil:
		m.countError(name, err)
	case added:
		m.countWrite(name)
	default:
		m.countDup()
	}
}

func (m *Manager) appendEpisode(line string) {
	added, err := m.episodic.Append(m.clock(), line)
	switch {
	case err != nil:
		m.countError("episodic", err)
	case added:
		m.countWrite("episodic")
	default:
		m.countDup()
	}
}

func (m *Manager) countWrite(store string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes[store]++
	m.lastWrite = m.clock()
}

func (m *Manager) countDup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dupSkips++
}

func (m *Manager) countError(store string, err error) {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
	slog.Warn("Memory write failed", "store", store, "error", err)
}

// pairHistory folds a message list into consecutive (user, assistant)
// text pairs, skipping system and tool messages.
func pairHistory(history []models.Message) [][2]string {
	var pairs [][2]string
	var pendingUser string
	havePending := false
	for _, msg := range history {
		switch msg.Role {
		case models.RoleUser:
			pendingUser = msg.Text()
			havePending = true
		case models.RoleAssistant:
			if havePending && msg.Text() != "" {
				pairs = append(pairs, [2]string{pendingUser, msg.Text()})
				havePending = false
			}
		}
	}
	return pairs
}

func renderPairs(pairs [][2]string) string {
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString("User: " + p[0] + "\nAssistant: " + p[1] + "\n")
	}
	return b.String()
}

// deterministicSummary is the no-LLM fallback for the session context.
func deterministicSummary(pairs [][2]string) string {
	var b strings.Builder
	b.WriteString("## Current Goal\n")
	if len(pairs) > 0 {
		b.WriteString("- " + firstSentence(pairs[len(pairs)-1][0], 120) + "\n")
	} else {
		b.WriteString("- (none)\n")
	}
	b.WriteString("\n## Important Facts About User\n")
	count := 0
	for _, p := range pairs {
		for _, pref := range extractPreferences(p[0]) {
			if count >= 6 {
				break
			}
			b.WriteString("- " + pref + "\n")
			count++
		}
	}
	if count == 0 {
		b.WriteString("- (none)\n")
	}
	b.WriteString("\n## Progress and Next Steps\n")
	n := len(pairs)
	for i := maxInt(0, n-3); i < n; i++ {
		b.WriteString("- " + firstSentence(pairs[i][1], 120) + "\n")
	}
	if n == 0 {
		b.WriteString("- (none)\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
