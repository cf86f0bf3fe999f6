// Package skills loads the read-only skill catalogue from
// markdown-with-frontmatter files and scores skills against user text.
package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill is one catalogue entry. Body is the markdown content below the
// frontmatter, injected into the system prompt when the skill is selected.
type Skill struct {
	ID          string
	Name        string
	Description string
	Triggers    []string
	Priority    int
	Body        string
}

// frontmatter is the YAML header of a skill file.
type frontmatter struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Triggers    []string `yaml:"triggers"`
	Priority    int      `yaml:"priority"`
}

// minScore is the selection floor: skills scoring below it never match.
const minScore = 10

// Scoring weights.
const (
	nameHitScore    = 20
	triggerHitScore = 10
	descWordScore   = 1
)

// Catalog is the immutable skill table loaded at startup.
type Catalog struct {
	skills []Skill
}

// Load reads every *.md file in dir. A missing directory yields an empty
// catalogue; malformed files are skipped with a warning.
func Load(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return &Catalog{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("skills: read dir: %w", err)
	}

	var skills []Skill
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Skipping unreadable skill file", "path", path, "error", err)
			continue
		}
		skill, err := parse(entry.Name(), data)
		if err != nil {
			slog.Warn("Skipping malformed skill file", "path", path, "error", err)
			continue
		}
		skills = append(skills, skill)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].ID < skills[j].ID })
	slog.Info("Skill catalogue loaded", "dir", dir, "count", len(skills))
	return &Catalog{skills: skills}, nil
}

// parse splits the frontmatter from the body. The id defaults to the file
// name without extension.
func parse(filename string, data []byte) (Skill, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return Skill{}, fmt.Errorf("missing frontmatter")
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return Skill{}, fmt.Errorf("unterminated frontmatter")
	}
	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return Skill{}, fmt.Errorf("frontmatter: %w", err)
	}
	if fm.Name == "" {
		return Skill{}, fmt.Errorf("frontmatter: name is required")
	}
	id := fm.ID
	if id == "" {
		id = strings.TrimSuffix(filename, ".md")
	}
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	return Skill{
		ID:          id,
		Name:        fm.Name,
		Description: fm.Description,
		Triggers:    fm.Triggers,
		Priority:    fm.Priority,
		Body:        strings.TrimSpace(body),
	}, nil
}

// All returns the catalogue entries ordered by id.
func (c *Catalog) All() []Skill {
	return append([]Skill(nil), c.skills...)
}

// Len returns the number of loaded skills.
func (c *Catalog) Len() int { return len(c.skills) }

// Match scores every skill against the user text and returns the best one,
// or nil when no skill reaches the selection floor. Ties break by higher
// priority, then lexicographic id.
func (c *Catalog) Match(userText string) *Skill {
	text := normalize(userText)
	if text == "" {
		return nil
	}
	words := wordSet(text)

	var best *Skill
	bestScore := 0
	for i := range c.skills {
		s := &c.skills[i]
		score := scoreSkill(s, text, words)
		if score < minScore {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && (s.Priority > best.Priority ||
				(s.Priority == best.Priority && s.ID < best.ID))) {
			best = s
			bestScore = score
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

// Summary renders a compact one-line-per-skill catalogue for the system
// prompt.
func (c *Catalog) Summary() string {
	if len(c.skills) == 0 {
		return ""
	}
	var b strings.Builder
	for _, s := range c.skills {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func scoreSkill(s *Skill, text string, words map[string]bool) int {
	score := 0
	if name := normalize(s.Name); name != "" && strings.Contains(text, name) {
		score += nameHitScore
	}
	for _, trig := range s.Triggers {
		if t := normalize(trig); t != "" && strings.Contains(text, t) {
			score += triggerHitScore
		}
	}
	for _, w := range strings.Fields(normalize(s.Description)) {
		if len(w) >= 3 && words[w] {
			score += descWordScore
		}
	}
	return score
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func wordSet(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(normalized) {
		set[w] = true
	}
	return set
}
