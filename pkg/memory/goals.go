package memory

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// GoalStatus is the lifecycle state of a persistent goal.
type GoalStatus string

// Goal statuses.
const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalPaused    GoalStatus = "paused"
	GoalCancelled GoalStatus = "cancelled"
)

func validStatus(s GoalStatus) bool {
	switch s {
	case GoalActive, GoalCompleted, GoalPaused, GoalCancelled:
		return true
	}
	return false
}

// Bounds on goal records.
const (
	maxGoalTags     = 12
	maxProgressLen  = 24
	maxProgressNote = 180
)

// ProgressNote is one entry in a goal's progress log.
type ProgressNote struct {
	At     time.Time
	Source string // user, assistant or system
	Note   string
}

// Goal is a persistent mission record.
type Goal struct {
	ID        string
	Title     string
	Status    GoalStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	Tags      []string
	Progress  []ProgressNote
}

// goalStore persists goals as a round-trippable markdown document.
type goalStore struct {
	path  string
	clock func() time.Time

	mu    sync.Mutex
	goals []*Goal
}

func newGoalStore(path string, clock func() time.Time) *goalStore {
	s := &goalStore{path: path, clock: clock}
	if data, err := os.ReadFile(path); err == nil {
		s.goals = ParseGoals(string(data))
	}
	return s
}

// Upsert reuses an existing goal when the candidate title names it (see
// sameGoalTitle), else creates one. A progress note from the given source
// is appended either way; reaffirmation reactivates the goal.
func (s *goalStore) Upsert(title, source, note string) (goal *Goal, created bool, err error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, false, nil
	}
	now := s.clock().UTC().Truncate(time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.goals {
		if sameGoalTitle(g.Title, title) {
			g.Status = GoalActive
			g.UpdatedAt = now
			appendProgress(g, ProgressNote{At: now, Source: source, Note: note})
			return g, false, s.saveLocked()
		}
	}
	g := &Goal{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Title:     title,
		Status:    GoalActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	appendProgress(g, ProgressNote{At: now, Source: source, Note: note})
	s.goals = append(s.goals, g)
	return g, true, s.saveLocked()
}

// AddProgress appends a note to the identified goal and optionally moves
// its status.
func (s *goalStore) AddProgress(id, source, note string, status GoalStatus) error {
	now := s.clock().UTC().Truncate(time.Second)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.goals {
		if g.ID != id {
			continue
		}
		if note != "" {
			appendProgress(g, ProgressNote{At: now, Source: source, Note: note})
		}
		if validStatus(status) {
			g.Status = status
		}
		g.UpdatedAt = now
		return s.saveLocked()
	}
	return fmt.Errorf("goal %s not found", id)
}

// SetTags merges tags into the goal, bounded at maxGoalTags.
func (s *goalStore) SetTags(id string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.goals {
		if g.ID != id {
			continue
		}
		for _, tag := range tags {
			tag = strings.TrimSpace(tag)
			if tag == "" || contains(g.Tags, tag) {
				continue
			}
			if len(g.Tags) >= maxGoalTags {
				break
			}
			g.Tags = append(g.Tags, tag)
		}
		return s.saveLocked()
	}
	return fmt.Errorf("goal %s not found", id)
}

// Active returns copies of the goals currently in the active state.
func (s *goalStore) Active() []Goal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Goal
	for _, g := range s.goals {
		if g.Status == GoalActive {
			out = append(out, copyGoal(g))
		}
	}
	return out
}

// All returns copies of every goal ordered by UpdatedAt descending.
func (s *goalStore) All() []Goal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Goal, 0, len(s.goals))
	for _, g := range s.goals {
		out = append(out, copyGoal(g))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// CountsByStatus returns the live goal counts per status.
func (s *goalStore) CountsByStatus() map[GoalStatus]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[GoalStatus]int)
	for _, g := range s.goals {
		counts[g.Status]++
	}
	return counts
}

func (s *goalStore) saveLocked() error {
	ordered := make([]*Goal, len(s.goals))
	copy(ordered, s.goals)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].UpdatedAt.After(ordered[j].UpdatedAt) })
	return atomicWrite(s.path, []byte(SerializeGoals(ordered)))
}

// appendProgress adds the note, dropping the oldest entries on overflow.
func appendProgress(g *Goal, note ProgressNote) {
	note.Note = strings.TrimSpace(note.Note)
	if note.Note == "" {
		return
	}
	if len(note.Note) > maxProgressNote {
		note.Note = note.Note[:maxProgressNote]
	}
	g.Progress = append(g.Progress, note)
	if overflow := len(g.Progress) - maxProgressLen; overflow > 0 {
		g.Progress = g.Progress[overflow:]
	}
}

func copyGoal(g *Goal) Goal {
	out := *g
	out.Tags = append([]string(nil), g.Tags...)
	out.Progress = append([]ProgressNote(nil), g.Progress...)
	return out
}

// SerializeGoals renders the goals document. Inverse of ParseGoals.
func SerializeGoals(goals []*Goal) string {
	var b strings.Builder
	b.WriteString("# Goals\n")
	for _, g := range goals {
		fmt.Fprintf(&b, "\n## %s\n\n", strings.ReplaceAll(g.Title, "\n", " "))
		fmt.Fprintf(&b, "- id: %s\n", g.ID)
		fmt.Fprintf(&b, "- status: %s\n", g.Status)
		fmt.Fprintf(&b, "- created: %s\n", g.CreatedAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "- updated: %s\n", g.UpdatedAt.UTC().Format(time.RFC3339))
		if len(g.Tags) > 0 {
			fmt.Fprintf(&b, "- tags: %s\n", strings.Join(g.Tags, ", "))
		}
		if len(g.Progress) > 0 {
			b.WriteString("\n### Progress\n\n")
			for _, p := range g.Progress {
				note := strings.ReplaceAll(p.Note, "|", "/")
				fmt.Fprintf(&b, "- [%s] (%s) %s\n", p.At.UTC().Format(time.RFC3339), p.Source, note)
			}
		}
	}
	return b.String()
}

// ParseGoals parses a goals document produced by SerializeGoals. Malformed
// entries are skipped; an unreadable document yields no goals.
func ParseGoals(doc string) []*Goal {
	var goals []*Goal
	var cur *Goal
	inProgress := false

	flush := func() {
		if cur != nil && cur.ID != "" && cur.Title != "" {
			if !validStatus(cur.Status) {
				cur.Status = GoalActive
			}
			goals = append(goals, cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(doc, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "## "):
			flush()
			cur = &Goal{Title: strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))}
			inProgress = false
		case strings.HasPrefix(trimmed, "### Progress"):
			inProgress = true
		case cur != nil && strings.HasPrefix(trimmed, "- "):
			body := strings.TrimPrefix(trimmed, "- ")
			if inProgress {
				if p, ok := parseProgressLine(body); ok {
					cur.Progress = append(cur.Progress, p)
				}
				continue
			}
			key, value, found := strings.Cut(body, ": ")
			if !found {
				continue
			}
			switch key {
			case "id":
				cur.ID = value
			case "status":
				cur.Status = GoalStatus(value)
			case "created":
				if t, err := time.Parse(time.RFC3339, value); err == nil {
					cur.CreatedAt = t
				}
			case "updated":
				if t, err := time.Parse(time.RFC3339, value); err == nil {
					cur.UpdatedAt = t
				}
			case "tags":
				for _, tag := range strings.Split(value, ",") {
					if tag = strings.TrimSpace(tag); tag != "" {
						cur.Tags = append(cur.Tags, tag)
					}
				}
			}
		}
	}
	flush()
	return goals
}

// parseProgressLine parses "- [iso] (source) note" bodies.
func parseProgressLine(body string) (ProgressNote, bool) {
	if !strings.HasPrefix(body, "[") {
		return ProgressNote{}, false
	}
	end := strings.Index(body, "] (")
	if end < 0 {
		return ProgressNote{}, false
	}
	at, err := time.Parse(time.RFC3339, body[1:end])
	if err != nil {
		return ProgressNote{}, false
	}
	rest := body[end+len("] ("):]
	srcEnd := strings.Index(rest, ") ")
	if srcEnd < 0 {
		return ProgressNote{}, false
	}
	return ProgressNote{
		At:     at,
		Source: rest[:srcEnd],
		Note:   rest[srcEnd+len(") "):],
	}, true
}
