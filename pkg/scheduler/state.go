package scheduler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/OGODEVO/studious-system/pkg/models"
)

// Reminder is a recurring scheduled prompt. Identity is by ID.
type Reminder struct {
	ID              string      `json:"id" yaml:"id"`
	Prompt          string      `json:"prompt" yaml:"prompt"`
	IntervalMinutes int         `json:"interval_minutes" yaml:"interval_minutes"`
	Lane            models.Lane `json:"lane" yaml:"lane"`
	Enabled         bool        `json:"enabled" yaml:"enabled"`
}

// OneTimeReminder fires once at RunAtMs (epoch milliseconds) and is removed
// from state before dispatch.
type OneTimeReminder struct {
	ID      string      `json:"id"`
	Prompt  string      `json:"prompt"`
	RunAtMs int64       `json:"runAtMs"`
	Lane    models.Lane `json:"lane"`
	Enabled bool        `json:"enabled"`
}

// Heartbeat is the singleton self-prompt configuration. When enabled it
// joins the recurring set as id "self-heartbeat" on the background lane.
type Heartbeat struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	IntervalMinutes int    `json:"intervalMinutes" yaml:"interval_minutes"`
	Prompt          string `json:"prompt" yaml:"prompt"`
}

// state is the crash-safe scheduler state. Mutations are persisted by the
// scheduler under its lock; a save must observe the mutation that caused it.
type state struct {
	NextRunByID map[string]int64
	OneTime     []OneTimeReminder
	Heartbeat   Heartbeat
}

func newState() *state {
	return &state{NextRunByID: make(map[string]int64)}
}

// persistedState is the on-disk shape.
type persistedState struct {
	NextRunByID      map[string]int64  `json:"nextRunById"`
	OneTimeReminders []OneTimeReminder `json:"oneTimeReminders"`
	Heartbeat        Heartbeat         `json:"heartbeat"`
	UpdatedAt        string            `json:"updatedAt"`
}

// rawPersistedState tolerates malformed fields so one bad entry does not
// discard the rest of the state.
type rawPersistedState struct {
	NextRunByID      map[string]json.RawMessage `json:"nextRunById"`
	OneTimeReminders []map[string]json.RawMessage `json:"oneTimeReminders"`
	Heartbeat        struct {
		Enabled         bool    `json:"enabled"`
		IntervalMinutes float64 `json:"intervalMinutes"`
		Prompt          string  `json:"prompt"`
	} `json:"heartbeat"`
}

// loadState reads and validates the state file. A missing or corrupt file
// yields empty state; invalid entries are dropped individually.
func loadState(path string) *state {
	st := newState()
	data, err := os.ReadFile(path)
	if err != nil {
		return st
	}
	var raw rawPersistedState
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Warn("Scheduler state file is corrupt, starting empty", "path", path, "error", err)
		return st
	}

	for id, msg := range raw.NextRunByID {
		if ts, ok := decodeEpochMs(msg); ok && id != "" {
			st.NextRunByID[id] = ts
		}
	}
	for _, entry := range raw.OneTimeReminders {
		if r, ok := decodeOneTime(entry); ok {
			st.OneTime = append(st.OneTime, r)
		}
	}
	st.Heartbeat = Heartbeat{
		Enabled:         raw.Heartbeat.Enabled,
		IntervalMinutes: floorMinutes(raw.Heartbeat.IntervalMinutes),
		Prompt:          raw.Heartbeat.Prompt,
	}
	sortOneTime(st.OneTime)
	return st
}

// save writes the full state atomically: temp file adjacent to the target,
// then rename.
func (st *state) save(path string, now time.Time) error {
	sortOneTime(st.OneTime)
	doc := persistedState{
		NextRunByID:      st.NextRunByID,
		OneTimeReminders: st.OneTime,
		Heartbeat:        st.Heartbeat,
		UpdatedAt:        now.UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scheduler state: %w", err)
	}

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

func sortOneTime(list []OneTimeReminder) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].RunAtMs < list[j].RunAtMs })
}

// decodeEpochMs accepts only finite JSON numbers.
func decodeEpochMs(msg json.RawMessage) (int64, bool) {
	var f float64
	if err := json.Unmarshal(msg, &f); err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

// decodeOneTime validates one persisted reminder: string id, finite
// runAtMs; an unknown lane falls back to background.
func decodeOneTime(entry map[string]json.RawMessage) (OneTimeReminder, bool) {
	var r OneTimeReminder
	if err := json.Unmarshal(entry["id"], &r.ID); err != nil || r.ID == "" {
		return r, false
	}
	runAt, ok := decodeEpochMs(entry["runAtMs"])
	if !ok {
		return r, false
	}
	r.RunAtMs = runAt
	json.Unmarshal(entry["prompt"], &r.Prompt)

	var lane string
	json.Unmarshal(entry["lane"], &lane)
	r.Lane = models.Lane(lane)
	if !r.Lane.Valid() {
		r.Lane = models.LaneBackground
	}
	r.Enabled = true
	json.Unmarshal(entry["enabled"], &r.Enabled)
	return r, true
}

// floorMinutes converts a raw heartbeat interval to integer minutes ≥ 1.
func floorMinutes(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 1 {
		return 1
	}
	return int(math.Floor(v))
}
