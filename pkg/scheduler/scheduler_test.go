package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OGODEVO/studious-system/pkg/models"
	"github.com/OGODEVO/studious-system/pkg/resilience"
)

type virtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type runRecorder struct {
	mu   sync.Mutex
	runs []runItem
	err  error
}

func (r *runRecorder) run(ctx context.Context, prompt string, lane models.Lane) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.runs = append(r.runs, runItem{prompt: prompt, lane: lane})
	return "done: " + prompt, nil
}

func (r *runRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func newTestScheduler(t *testing.T, cfg Config, rec *runRecorder, clock *virtualClock) *Scheduler {
	t.Helper()
	if cfg.StateFile == "" {
		cfg.StateFile = filepath.Join(t.TempDir(), "scheduler.json")
	}
	exec := resilience.NewExecutor(resilience.Policy{
		Retry:          resilience.RetryPolicy{MaxAttempts: 1},
		CircuitBreaker: resilience.BreakerPolicy{FailureThreshold: 100, Cooldown: time.Minute},
	})
	return newWithClock(cfg, exec, rec.run, clock.Now)
}

func TestRecurringReminderTick(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := &virtualClock{now: t0}
	rec := &runRecorder{}
	s := newTestScheduler(t, Config{
		TickSeconds: 1,
		Reminders:   []Reminder{{ID: "ping", Prompt: "check in", IntervalMinutes: 1, Lane: models.LaneBackground, Enabled: true}},
	}, rec, clock)

	// First tick initializes the next-run without dispatching.
	tick1 := t0.Add(time.Second)
	clock.Set(tick1)
	s.tick(context.Background(), tick1)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, tick1.Add(time.Minute).UnixMilli(), s.st.NextRunByID["ping"])

	// Not yet due.
	tick2 := tick1.Add(30 * time.Second)
	clock.Set(tick2)
	s.tick(context.Background(), tick2)
	assert.Equal(t, 0, rec.count())

	// Due: dispatches once and advances.
	tick3 := tick1.Add(time.Minute)
	clock.Set(tick3)
	s.tick(context.Background(), tick3)
	s.Stop()
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, tick3.Add(time.Minute).UnixMilli(), s.st.NextRunByID["ping"])

	health := s.HealthMetrics()
	assert.Equal(t, int64(1), health.RunsStarted)
	assert.Equal(t, int64(1), health.RunsSucceeded)
	assert.Equal(t, []string{"done: check in"}, s.History())
}

func TestOneTimeReminderDispatchedOnceAcrossRestart(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	stateFile := filepath.Join(t.TempDir(), "scheduler.json")
	clock := &virtualClock{now: t0}
	rec := &runRecorder{}
	s := newTestScheduler(t, Config{TickSeconds: 1, StateFile: stateFile}, rec, clock)

	id, err := s.ScheduleOneTimeIn(1, "heartbeat probe", "background")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// t = 59 s: not due, still present in state.
	tick1 := t0.Add(59 * time.Second)
	clock.Set(tick1)
	s.tick(context.Background(), tick1)
	assert.Equal(t, 0, rec.count())
	assert.Len(t, s.ListOneTime(), 1)

	// t = 60 s: due, removed from state before dispatch.
	tick2 := t0.Add(60 * time.Second)
	clock.Set(tick2)
	s.tick(context.Background(), tick2)
	s.Stop()
	assert.Equal(t, 1, rec.count())
	assert.Empty(t, s.ListOneTime())

	// Crash-recover: reloaded state must not re-enqueue it.
	recovered := newTestScheduler(t, Config{TickSeconds: 1, StateFile: stateFile}, rec, clock)
	tick3 := t0.Add(61 * time.Second)
	clock.Set(tick3)
	recovered.tick(context.Background(), tick3)
	recovered.Stop()
	assert.Equal(t, 1, rec.count())
}

func TestOneTimeReminderLeadTimeValidation(t *testing.T) {
	clock := &virtualClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	s := newTestScheduler(t, Config{TickSeconds: 1}, &runRecorder{}, clock)

	_, err := s.ScheduleOneTimeAt(clock.Now().Add(time.Second).UnixMilli(), "too soon", "fast")
	assert.Error(t, err)

	_, err = s.ScheduleOneTimeAt(clock.Now().Add(time.Minute).UnixMilli(), "", "fast")
	assert.Error(t, err)

	id, err := s.ScheduleOneTimeAt(clock.Now().Add(time.Minute).UnixMilli(), "fine", "not-a-lane")
	require.NoError(t, err)
	list := s.ListOneTime()
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, models.LaneBackground, list[0].Lane)
}

func TestCancelOneTime(t *testing.T) {
	clock := &virtualClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	s := newTestScheduler(t, Config{TickSeconds: 1}, &runRecorder{}, clock)

	id, err := s.ScheduleOneTimeIn(5, "call mom", "background")
	require.NoError(t, err)
	assert.True(t, s.CancelOneTime(id))
	assert.False(t, s.CancelOneTime(id))
	assert.Empty(t, s.ListOneTime())
	assert.Equal(t, "No reminders scheduled.", s.DescribeOneTime())
}

func TestRestartProducesSameDueDecisions(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	stateFile := filepath.Join(t.TempDir(), "scheduler.json")
	cfg := Config{
		TickSeconds: 1,
		StateFile:   stateFile,
		Reminders:   []Reminder{{ID: "digest", Prompt: "daily digest", IntervalMinutes: 2, Lane: models.LaneSlow, Enabled: true}},
	}
	clock := &virtualClock{now: t0}
	rec := &runRecorder{}

	first := newTestScheduler(t, cfg, rec, clock)
	clock.Set(t0.Add(time.Second))
	first.tick(context.Background(), t0.Add(time.Second))
	first.Stop()
	nextBefore := first.st.NextRunByID["digest"]

	// A restarted scheduler sees the persisted next-run and makes the same
	// not-due decision.
	second := newTestScheduler(t, cfg, rec, clock)
	assert.Equal(t, nextBefore, second.st.NextRunByID["digest"])
	clock.Set(t0.Add(time.Minute))
	second.tick(context.Background(), t0.Add(time.Minute))
	second.Stop()
	assert.Equal(t, 0, rec.count())

	clock.Set(t0.Add(3 * time.Minute))
	third := newTestScheduler(t, cfg, rec, clock)
	third.tick(context.Background(), t0.Add(3*time.Minute))
	third.Stop()
	assert.Equal(t, 1, rec.count())
}

func TestRunningReminderNotDispatchedConcurrently(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := &virtualClock{now: t0}
	rec := &runRecorder{}
	s := newTestScheduler(t, Config{
		TickSeconds: 1,
		Reminders:   []Reminder{{ID: "ping", Prompt: "check in", IntervalMinutes: 1, Lane: models.LaneBackground, Enabled: true}},
	}, rec, clock)

	s.mu.Lock()
	s.st.NextRunByID["ping"] = t0.UnixMilli()
	s.running["ping"] = true
	s.mu.Unlock()

	s.tick(context.Background(), t0)
	s.Stop()
	assert.Equal(t, 0, rec.count())
	// The next-run still advanced.
	assert.Equal(t, t0.Add(time.Minute).UnixMilli(), s.st.NextRunByID["ping"])
}

func TestHeartbeatJoinsRecurringSet(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := &virtualClock{now: t0}
	rec := &runRecorder{}
	s := newTestScheduler(t, Config{TickSeconds: 1}, rec, clock)

	assert.Error(t, s.SetHeartbeat(0, ""))
	require.NoError(t, s.SetHeartbeat(1, "status check"))

	clock.Set(t0.Add(time.Second))
	s.tick(context.Background(), t0.Add(time.Second))
	assert.Equal(t, 0, rec.count())

	due := t0.Add(time.Second + time.Minute)
	clock.Set(due)
	s.tick(context.Background(), due)
	s.Stop()
	require.Equal(t, 1, rec.count())
	rec.mu.Lock()
	assert.Equal(t, "status check", rec.runs[0].prompt)
	assert.Equal(t, models.LaneBackground, rec.runs[0].lane)
	rec.mu.Unlock()

	s.DisableHeartbeat()
	assert.False(t, s.HeartbeatConfig().Enabled)
	s.mu.Lock()
	_, hasNext := s.st.NextRunByID[heartbeatID]
	s.mu.Unlock()
	assert.False(t, hasNext)
}

func TestReenablingReminderReinitializesNextRun(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := &virtualClock{now: t0}
	rec := &runRecorder{}
	s := newTestScheduler(t, Config{
		TickSeconds: 1,
		Reminders:   []Reminder{{ID: "digest", Prompt: "daily digest", IntervalMinutes: 1, Lane: models.LaneSlow, Enabled: true}},
	}, rec, clock)

	s.tick(context.Background(), t0)
	require.Contains(t, s.st.NextRunByID, "digest")

	require.NoError(t, s.SetReminderEnabled("digest", false))
	s.tick(context.Background(), t0.Add(2*time.Minute))
	assert.Equal(t, 0, rec.count())

	require.NoError(t, s.SetReminderEnabled("digest", true))
	s.mu.Lock()
	_, hasNext := s.st.NextRunByID["digest"]
	s.mu.Unlock()
	assert.False(t, hasNext)

	assert.Error(t, s.SetReminderEnabled("nope", true))
	s.Stop()
}

func TestFailedRunCountsAndSkipsHistory(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := &virtualClock{now: t0}
	rec := &runRecorder{err: errors.New("lane refused")}
	s := newTestScheduler(t, Config{
		TickSeconds: 1,
		Reminders:   []Reminder{{ID: "ping", Prompt: "check in", IntervalMinutes: 1, Lane: models.LaneBackground, Enabled: true}},
	}, rec, clock)

	s.mu.Lock()
	s.st.NextRunByID["ping"] = t0.UnixMilli()
	s.mu.Unlock()
	s.tick(context.Background(), t0)
	s.Stop()

	health := s.HealthMetrics()
	assert.Equal(t, int64(1), health.RunsStarted)
	assert.Equal(t, int64(1), health.RunsFailed)
	assert.Empty(t, s.History())
}

func TestHistoryBounded(t *testing.T) {
	clock := &virtualClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	s := newTestScheduler(t, Config{TickSeconds: 1}, &runRecorder{}, clock)

	s.mu.Lock()
	for i := 0; i < maxHistory+10; i++ {
		s.history = append(s.history, fmt.Sprintf("reply %d", i))
		if overflow := len(s.history) - maxHistory; overflow > 0 {
			s.history = s.history[overflow:]
		}
	}
	s.mu.Unlock()

	history := s.History()
	require.Len(t, history, maxHistory)
	assert.Equal(t, "reply 10", history[0])
}

func TestLoadStateValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler.json")
	doc := `{
  "nextRunById": {"ping": 1740000000000, "bad": "soon", "": 5},
  "oneTimeReminders": [
    {"id": "ok", "prompt": "p", "runAtMs": 1740000060000, "lane": "warp", "enabled": true},
    {"id": 42, "prompt": "numeric id", "runAtMs": 1740000060000, "lane": "fast"},
    {"id": "no-time", "prompt": "p", "runAtMs": "tomorrow"}
  ],
  "heartbeat": {"enabled": true, "intervalMinutes": 2.9, "prompt": "hb"}
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	st := loadState(path)
	assert.Equal(t, map[string]int64{"ping": 1740000000000}, st.NextRunByID)
	require.Len(t, st.OneTime, 1)
	assert.Equal(t, "ok", st.OneTime[0].ID)
	assert.Equal(t, models.LaneBackground, st.OneTime[0].Lane)
	assert.Equal(t, Heartbeat{Enabled: true, IntervalMinutes: 2, Prompt: "hb"}, st.Heartbeat)
}

func TestLoadStateCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	st := loadState(path)
	assert.Empty(t, st.NextRunByID)
	assert.Empty(t, st.OneTime)
}

func TestStateSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.json")
	st := newState()
	st.NextRunByID["ping"] = 1740000000000
	st.OneTime = []OneTimeReminder{
		{ID: "b", Prompt: "later", RunAtMs: 2000, Lane: models.LaneSlow, Enabled: true},
		{ID: "a", Prompt: "sooner", RunAtMs: 1000, Lane: models.LaneFast, Enabled: true},
	}
	st.Heartbeat = Heartbeat{Enabled: true, IntervalMinutes: 30, Prompt: "hb"}
	require.NoError(t, st.save(path, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))

	loaded := loadState(path)
	assert.Equal(t, st.NextRunByID, loaded.NextRunByID)
	require.Len(t, loaded.OneTime, 2)
	assert.Equal(t, "a", loaded.OneTime[0].ID) // sorted by due time
	assert.Equal(t, st.Heartbeat, loaded.Heartbeat)
}
