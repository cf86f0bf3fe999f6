// Package scheduler runs recurring and one-shot reminder prompts on a
// tick loop with crash-safe persisted next-run state.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/OGODEVO/studious-system/pkg/models"
	"github.com/OGODEVO/studious-system/pkg/resilience"
)

// heartbeatID is the synthetic reminder id the heartbeat runs under.
const heartbeatID = "self-heartbeat"

// maxHistory bounds the rolling assistant-reply history.
const maxHistory = 50

// minOneTimeLead is the minimum lead time for a one-time reminder.
const minOneTimeLead = 2 * time.Second

// RunFunc executes one scheduled prompt on the given lane and returns the
// assistant reply. The composition root wires this to the agent via the
// lane queue; runs must enqueue rather than execute inline so a slow agent
// turn never blocks the tick loop.
type RunFunc func(ctx context.Context, prompt string, lane models.Lane) (string, error)

// Config holds the scheduler settings.
type Config struct {
	TickSeconds int
	StateFile   string
	Reminders   []Reminder
	Heartbeat   Heartbeat
}

// Health is a snapshot of the scheduler's counters.
type Health struct {
	Ticks         int64     `json:"ticks"`
	RunsStarted   int64     `json:"runs_started"`
	RunsSucceeded int64     `json:"runs_succeeded"`
	RunsFailed    int64     `json:"runs_failed"`
	Running       []string  `json:"running"`
	OneTimeCount  int       `json:"one_time_count"`
	Heartbeat     Heartbeat `json:"heartbeat"`
	LastTickAt    time.Time `json:"last_tick_at"`
}

type runItem struct {
	id     string
	prompt string
	lane   models.Lane
}

// Scheduler evaluates due reminders every tick and dispatches them through
// the resilient executor. All state mutations persist before dispatch.
type Scheduler struct {
	cfg   Config
	run   RunFunc
	exec  *resilience.Executor
	clock func() time.Time

	mu        sync.Mutex
	st        *state
	reminders []Reminder // recurring set, seeded from config
	running   map[string]bool
	history   []string
	ticks     int64
	started   int64
	succeeded int64
	failed    int64
	lastTick  time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a scheduler from config, loading persisted state. Config
// supplies the heartbeat only when no state file exists yet; afterwards the
// persisted heartbeat wins.
func New(cfg Config, exec *resilience.Executor, run RunFunc) *Scheduler {
	return newWithClock(cfg, exec, run, time.Now)
}

func newWithClock(cfg Config, exec *resilience.Executor, run RunFunc, clock func() time.Time) *Scheduler {
	if cfg.TickSeconds < 1 {
		cfg.TickSeconds = 1
	}
	_, statErr := os.Stat(cfg.StateFile)
	st := loadState(cfg.StateFile)
	if os.IsNotExist(statErr) {
		st.Heartbeat = cfg.Heartbeat
		if st.Heartbeat.IntervalMinutes < 1 {
			st.Heartbeat.IntervalMinutes = 1
		}
	}
	reminders := make([]Reminder, 0, len(cfg.Reminders))
	for _, r := range cfg.Reminders {
		if r.ID == "" || r.IntervalMinutes < 1 {
			slog.Warn("Skipping invalid reminder", "id", r.ID, "interval_minutes", r.IntervalMinutes)
			continue
		}
		if !r.Lane.Valid() {
			r.Lane = models.LaneBackground
		}
		reminders = append(reminders, r)
	}
	return &Scheduler{
		cfg:       cfg,
		run:       run,
		exec:      exec,
		clock:     clock,
		st:        st,
		reminders: reminders,
		running:   make(map[string]bool),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the tick loop. The context bounds all dispatched runs.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	slog.Info("Scheduler started",
		"tick_seconds", s.cfg.TickSeconds,
		"reminders", len(s.reminders),
		"heartbeat_enabled", s.st.Heartbeat.Enabled)
}

// Stop halts the tick loop and waits for in-flight runs.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	slog.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.cfg.TickSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, s.clock())
		}
	}
}

// tick evaluates due reminders at now. Errors are logged; the next tick
// retries.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	nowMs := now.UnixMilli()
	var due []runItem

	s.mu.Lock()
	s.ticks++
	s.lastTick = now
	dirty := false

	for _, r := range s.effectiveRecurringLocked() {
		intervalMs := int64(r.IntervalMinutes) * 60_000
		next, ok := s.st.NextRunByID[r.ID]
		switch {
		case !ok:
			s.st.NextRunByID[r.ID] = nowMs + intervalMs
			dirty = true
		case nowMs < next:
			// not due yet
		default:
			s.st.NextRunByID[r.ID] = nowMs + intervalMs
			dirty = true
			if !s.running[r.ID] {
				s.running[r.ID] = true
				due = append(due, runItem{id: r.ID, prompt: r.Prompt, lane: r.Lane})
			}
		}
	}

	remaining := s.st.OneTime[:0]
	for _, r := range s.st.OneTime {
		if r.Enabled && nowMs >= r.RunAtMs && !s.running[r.ID] {
			// Removed and persisted before dispatch so a crash cannot
			// replay it.
			dirty = true
			s.running[r.ID] = true
			due = append(due, runItem{id: r.ID, prompt: r.Prompt, lane: r.Lane})
			continue
		}
		remaining = append(remaining, r)
	}
	s.st.OneTime = remaining

	if dirty {
		if err := s.st.save(s.cfg.StateFile, now); err != nil {
			slog.Error("Failed to persist scheduler state", "error", err)
		}
	}
	s.started += int64(len(due))
	s.mu.Unlock()

	for _, item := range due {
		s.wg.Add(1)
		go s.dispatch(ctx, item)
	}
}

// effectiveRecurringLocked is the configured recurring set plus the
// heartbeat when enabled.
func (s *Scheduler) effectiveRecurringLocked() []Reminder {
	out := make([]Reminder, 0, len(s.reminders)+1)
	for _, r := range s.reminders {
		if r.Enabled {
			out = append(out, r)
		}
	}
	if hb := s.st.Heartbeat; hb.Enabled {
		prompt := hb.Prompt
		if prompt == "" {
			prompt = "Heartbeat check-in: review your goals and act on anything pending."
		}
		out = append(out, Reminder{
			ID:              heartbeatID,
			Prompt:          prompt,
			IntervalMinutes: hb.IntervalMinutes,
			Lane:            models.LaneBackground,
			Enabled:         true,
		})
	}
	return out
}

func (s *Scheduler) dispatch(ctx context.Context, item runItem) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.running, item.id)
		s.mu.Unlock()
	}()

	reply, err := resilience.Execute(ctx, s.exec, "scheduler:"+item.id, func(ctx context.Context) (string, error) {
		return s.run(ctx, item.prompt, item.lane)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failed++
		slog.Warn("Scheduled run failed", "id", item.id, "lane", item.lane, "error", err)
		return
	}
	s.succeeded++
	s.history = append(s.history, reply)
	if overflow := len(s.history) - maxHistory; overflow > 0 {
		s.history = s.history[overflow:]
	}
	slog.Info("Scheduled run completed", "id", item.id, "lane", item.lane)
}

// SetHeartbeat enables the heartbeat at the given interval. The next-run
// entry is dropped so the first tick reinitializes it.
func (s *Scheduler) SetHeartbeat(intervalMinutes int, prompt string) error {
	if intervalMinutes < 1 {
		return fmt.Errorf("heartbeat interval must be at least 1 minute, got %d", intervalMinutes)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Heartbeat = Heartbeat{Enabled: true, IntervalMinutes: intervalMinutes, Prompt: prompt}
	delete(s.st.NextRunByID, heartbeatID)
	return s.st.save(s.cfg.StateFile, s.clock())
}

// DisableHeartbeat turns the heartbeat off, keeping its interval and prompt.
func (s *Scheduler) DisableHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Heartbeat.Enabled = false
	delete(s.st.NextRunByID, heartbeatID)
	if err := s.st.save(s.cfg.StateFile, s.clock()); err != nil {
		slog.Error("Failed to persist scheduler state", "error", err)
	}
}

// HeartbeatConfig returns the current heartbeat settings.
func (s *Scheduler) HeartbeatConfig() Heartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Heartbeat
}

// SetReminderEnabled flips a recurring reminder. Re-enabling drops the
// next-run entry so the first tick reinitializes it to now + interval.
func (s *Scheduler) SetReminderEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.reminders {
		if s.reminders[i].ID != id {
			continue
		}
		if enabled && !s.reminders[i].Enabled {
			delete(s.st.NextRunByID, id)
		}
		s.reminders[i].Enabled = enabled
		return s.st.save(s.cfg.StateFile, s.clock())
	}
	return fmt.Errorf("reminder %s not found", id)
}

// ScheduleOneTimeIn schedules a one-time reminder the given number of
// minutes from now on the named lane (background when unknown).
func (s *Scheduler) ScheduleOneTimeIn(minutes float64, prompt, lane string) (string, error) {
	runAt := s.clock().Add(time.Duration(minutes * float64(time.Minute)))
	return s.ScheduleOneTimeAt(runAt.UnixMilli(), prompt, lane)
}

// ScheduleOneTimeAt schedules a one-time reminder at the given epoch
// millisecond timestamp, which must be at least minOneTimeLead ahead.
func (s *Scheduler) ScheduleOneTimeAt(runAtMs int64, prompt, lane string) (string, error) {
	now := s.clock()
	if runAtMs <= now.Add(minOneTimeLead).UnixMilli() {
		return "", fmt.Errorf("one-time reminder must be at least %s in the future", minOneTimeLead)
	}
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("one-time reminder prompt is required")
	}
	l := models.Lane(lane)
	if !l.Valid() {
		l = models.LaneBackground
	}
	r := OneTimeReminder{
		ID:      ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Prompt:  strings.TrimSpace(prompt),
		RunAtMs: runAtMs,
		Lane:    l,
		Enabled: true,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.OneTime = append(s.st.OneTime, r)
	if err := s.st.save(s.cfg.StateFile, now); err != nil {
		s.st.OneTime = s.st.OneTime[:len(s.st.OneTime)-1]
		return "", err
	}
	return r.ID, nil
}

// CancelOneTime removes a pending one-time reminder. Returns false when no
// reminder with that id is pending.
func (s *Scheduler) CancelOneTime(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.st.OneTime {
		if r.ID != id {
			continue
		}
		s.st.OneTime = append(s.st.OneTime[:i], s.st.OneTime[i+1:]...)
		if err := s.st.save(s.cfg.StateFile, s.clock()); err != nil {
			slog.Error("Failed to persist scheduler state", "error", err)
		}
		return true
	}
	return false
}

// ListOneTime returns the pending one-time reminders ordered by due time.
func (s *Scheduler) ListOneTime() []OneTimeReminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OneTimeReminder, len(s.st.OneTime))
	copy(out, s.st.OneTime)
	sortOneTime(out)
	return out
}

// DescribeOneTime renders the pending reminders for tool output.
func (s *Scheduler) DescribeOneTime() string {
	list := s.ListOneTime()
	if len(list) == 0 {
		return "No reminders scheduled."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d reminder(s) scheduled:\n", len(list))
	for _, r := range list {
		due := time.UnixMilli(r.RunAtMs).UTC().Format("2006-01-02 15:04 MST")
		fmt.Fprintf(&b, "- %s at %s [%s]: %s\n", r.ID, due, r.Lane, r.Prompt)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Reminders returns the recurring set as configured, heartbeat excluded.
func (s *Scheduler) Reminders() []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reminder, len(s.reminders))
	copy(out, s.reminders)
	return out
}

// History returns the rolling assistant replies from scheduled runs.
func (s *Scheduler) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

// HealthMetrics returns a snapshot of the scheduler's counters.
func (s *Scheduler) HealthMetrics() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	running := make([]string, 0, len(s.running))
	for id := range s.running {
		running = append(running, id)
	}
	return Health{
		Ticks:         s.ticks,
		RunsStarted:   s.started,
		RunsSucceeded: s.succeeded,
		RunsFailed:    s.failed,
		Running:       running,
		OneTimeCount:  len(s.st.OneTime),
		Heartbeat:     s.st.Heartbeat,
		LastTickAt:    s.lastTick,
	}
}
