package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/OGODEVO/studious-system/pkg/models"
)

// maxSessionHistory bounds the front-end conversation ring.
const maxSessionHistory = 100

// sessionHistory is the bounded conversation ring shared by user turns.
// It persists a sanitized copy (image parts replaced) across restarts.
type sessionHistory struct {
	path string

	mu   sync.Mutex
	msgs []models.Message
}

func newSessionHistory(path string) *sessionHistory {
	h := &sessionHistory{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return h
	}
	if err := json.Unmarshal(data, &h.msgs); err != nil {
		slog.Warn("Session history file is corrupt, starting empty", "path", path, "error", err)
		h.msgs = nil
	}
	if len(h.msgs) > maxSessionHistory {
		h.msgs = h.msgs[len(h.msgs)-maxSessionHistory:]
	}
	return h
}

// Snapshot returns a copy of the current history.
func (h *sessionHistory) Snapshot() []models.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Replace swaps the ring for the completed turn's history, trims it to the
// cap and persists the sanitized form.
func (h *sessionHistory) Replace(msgs []models.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(msgs) > maxSessionHistory {
		msgs = msgs[len(msgs)-maxSessionHistory:]
	}
	h.msgs = make([]models.Message, len(msgs))
	copy(h.msgs, msgs)
	if err := h.persistLocked(); err != nil {
		slog.Warn("Failed to persist session history", "error", err)
	}
}

// Len returns the current message count.
func (h *sessionHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

func (h *sessionHistory) persistLocked() error {
	if h.path == "" {
		return nil
	}
	sanitized := make([]models.Message, len(h.msgs))
	for i, m := range h.msgs {
		sanitized[i] = m.Sanitize()
	}
	data, err := json.MarshalIndent(sanitized, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(h.path)+".tmp-*")
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
	if err := os.Rename(tmpName, h.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
