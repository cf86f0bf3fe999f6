package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// atomicWrite writes data to an adjacent temp file then renames it over
// path. Readers never observe a partial file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// markdownStore is a section-keyed bulletlist file: a level-1 title and
// level-2 section headings, each holding "- " bullets. Writes are
// serialized per file; appends are no-ops when an equivalent bullet already
// exists in any section of the file.
type markdownStore struct {
	path     string
	title    string
	sections []string // canonical section order

	mu sync.Mutex
}

func newMarkdownStore(path, title string, sections []string) *markdownStore {
	return &markdownStore{path: path, title: title, sections: sections}
}

// AppendUnique adds a bullet under the named section. Returns false when an
// equivalent bullet exists anywhere in the file. An unknown section is
// appended to the section list.
func (s *markdownStore) AppendUnique(section, bullet string) (bool, error) {
	bullet = strings.TrimSpace(bullet)
	if bullet == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	order, content := s.parseLocked()
	for _, bullets := range content {
		for _, existing := range bullets {
			if equivalentBullets(existing, bullet) {
				return false, nil
			}
		}
	}
	if _, ok := content[section]; !ok && !contains(order, section) {
		order = append(order, section)
	}
	content[section] = append(content[section], bullet)
	return true, s.writeLocked(order, content)
}

// ReadAll returns the rendered file, or "" when missing or unreadable.
func (s *markdownStore) ReadAll() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	return string(data)
}

// Replace atomically rewrites the whole file.
func (s *markdownStore) Replace(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicWrite(s.path, []byte(content))
}

// parseLocked reads the file into section order + bullets. A missing or
// corrupt file yields the canonical empty layout.
func (s *markdownStore) parseLocked() ([]string, map[string][]string) {
	order := append([]string(nil), s.sections...)
	content := make(map[string][]string, len(order))

	data, err := os.ReadFile(s.path)
	if err != nil {
		return order, content
	}
	current := ""
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "## "):
			current = strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))
			if current != "" && !contains(order, current) {
				order = append(order, current)
			}
		case strings.HasPrefix(trimmed, "- ") && current != "":
			content[current] = append(content[current], strings.TrimPrefix(trimmed, "- "))
		}
	}
	return order, content
}

func (s *markdownStore) writeLocked(order []string, content map[string][]string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", s.title)
	for _, section := range order {
		b.WriteString("\n## " + section + "\n\n")
		for _, bullet := range content[section] {
			b.WriteString("- " + bullet + "\n")
		}
	}
	return atomicWrite(s.path, []byte(b.String()))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// episodicStore holds append-only per-day markdown logs named
// <YYYY-MM-DD>.md under its directory.
type episodicStore struct {
	dir string
	mu  sync.Mutex
}

func newEpisodicStore(dir string) *episodicStore {
	return &episodicStore{dir: dir}
}

// Append adds a time-stamped entry to the day file for now, unless an
// equivalent entry already exists in that file.
func (s *episodicStore) Append(now time.Time, entry string) (bool, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, now.Format("2006-01-02")+".md")
	existing, _ := os.ReadFile(path)
	for _, line := range strings.Split(string(existing), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "- ") {
			continue
		}
		// Strip the "[HH:MM] " stamp before comparing.
		body := strings.TrimPrefix(trimmed, "- ")
		if idx := strings.Index(body, "] "); strings.HasPrefix(body, "[") && idx > 0 {
			body = body[idx+2:]
		}
		if equivalentBullets(body, entry) {
			return false, nil
		}
	}

	var b strings.Builder
	if len(existing) == 0 {
		fmt.Fprintf(&b, "# Episodes — %s\n\n", now.Format("2006-01-02"))
	} else {
		b.Write(existing)
		if !strings.HasSuffix(string(existing), "\n") {
			b.WriteByte('\n')
		}
	}
	fmt.Fprintf(&b, "- [%s] %s\n", now.Format("15:04"), entry)
	return true, atomicWrite(path, []byte(b.String()))
}

// Recent returns up to n day files, most recent first, each as a rendered
// block.
func (s *episodicStore) Recent(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil || n <= 0 {
		return nil
	}
	var days []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			days = append(days, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days))) // date-named: lexicographic == chronological
	if len(days) > n {
		days = days[:n]
	}
	var out []string
	for _, day := range days {
		if data, err := os.ReadFile(filepath.Join(s.dir, day)); err == nil {
			out = append(out, strings.TrimSpace(string(data)))
		}
	}
	return out
}
