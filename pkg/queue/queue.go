// Package queue implements the lane-based task queue: per-lane FIFO
// admission with a fixed concurrency cap per lane.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/OGODEVO/studious-system/pkg/models"
)

// TaskFunc is the unit of work submitted to a lane. It returns the final
// assistant reply and the updated conversation history.
type TaskFunc func(ctx context.Context) (reply string, history []models.Message, err error)

// LaneCounters is an observable snapshot of one lane's load.
type LaneCounters struct {
	Pending int `json:"pending"` // currently running
	Queued  int `json:"queued"`  // waiting in FIFO
}

// LaneCaps holds the per-lane concurrency caps.
type LaneCaps struct {
	Fast       int `yaml:"fast_cap"`
	Slow       int `yaml:"slow_cap"`
	Background int `yaml:"background_cap"`
}

// DefaultLaneCaps returns the standard caps: fast=2, slow=1, background=1.
func DefaultLaneCaps() LaneCaps {
	return LaneCaps{Fast: 2, Slow: 1, Background: 1}
}

type task struct {
	id     string
	fn     TaskFunc
	result chan models.TaskResult
}

// lane is an independent FIFO with a concurrency cap. All fields are
// guarded by mu; strict consistency holds within a lane, eventual between
// lanes.
type lane struct {
	name    models.Lane
	cap     int
	mu      sync.Mutex
	waiting []*task
	running int
}

// Queue dispatches tasks across the three lanes. Tasks within a lane start
// in submission order; cancellation of in-flight tasks is not supported.
type Queue struct {
	lanes map[models.Lane]*lane
	clock func() time.Time
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a queue with the given lane caps.
func New(caps LaneCaps) *Queue {
	q := &Queue{
		lanes: map[models.Lane]*lane{
			models.LaneFast:       {name: models.LaneFast, cap: caps.Fast},
			models.LaneSlow:       {name: models.LaneSlow, cap: caps.Slow},
			models.LaneBackground: {name: models.LaneBackground, cap: caps.Background},
		},
		clock: time.Now,
	}
	for _, l := range q.lanes {
		if l.cap < 1 {
			l.cap = 1
		}
	}
	return q
}

// Submit enqueues fn on the given lane and returns a buffered channel that
// receives exactly one TaskResult. An unknown lane falls back to background.
func (q *Queue) Submit(ctx context.Context, laneName models.Lane, fn TaskFunc) <-chan models.TaskResult {
	if !laneName.Valid() {
		laneName = models.LaneBackground
	}
	t := &task{
		id:     ulid.MustNew(ulid.Timestamp(q.clock()), ulid.DefaultEntropy()).String(),
		fn:     fn,
		result: make(chan models.TaskResult, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		t.result <- models.TaskResult{
			ID:     t.id,
			Lane:   laneName,
			Status: models.TaskFailed,
			Error:  "queue is shut down",
		}
		return t.result
	}
	q.mu.Unlock()

	l := q.lanes[laneName]
	l.mu.Lock()
	l.waiting = append(l.waiting, t)
	l.mu.Unlock()

	q.dispatch(ctx, l)
	return t.result
}

// dispatch starts waiting tasks while the lane has spare capacity.
func (q *Queue) dispatch(ctx context.Context, l *lane) {
	for {
		l.mu.Lock()
		if l.running >= l.cap || len(l.waiting) == 0 {
			l.mu.Unlock()
			return
		}
		t := l.waiting[0]
		l.waiting = l.waiting[1:]
		l.running++
		l.mu.Unlock()

		q.wg.Add(1)
		go q.runTask(ctx, l, t)
	}
}

func (q *Queue) runTask(ctx context.Context, l *lane, t *task) {
	defer q.wg.Done()
	started := q.clock()

	reply, history, err := q.invoke(ctx, t)

	res := models.TaskResult{
		ID:          t.id,
		Lane:        l.name,
		Reply:       reply,
		History:     history,
		Status:      models.TaskCompleted,
		StartedAt:   started,
		CompletedAt: q.clock(),
	}
	if err != nil {
		res.Status = models.TaskFailed
		res.Error = err.Error()
		res.Reply = ""
		slog.Warn("Task failed", "task_id", t.id, "lane", l.name, "error", err)
	}
	t.result <- res

	l.mu.Lock()
	l.running--
	l.mu.Unlock()
	q.dispatch(ctx, l)
}

// invoke runs the task function, converting panics into errors so a
// misbehaving handler cannot take down the worker goroutine.
func (q *Queue) invoke(ctx context.Context, t *task) (reply string, history []models.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return t.fn(ctx)
}

// Counters returns the per-lane load snapshot.
func (q *Queue) Counters() map[models.Lane]LaneCounters {
	out := make(map[models.Lane]LaneCounters, len(q.lanes))
	for name, l := range q.lanes {
		l.mu.Lock()
		out[name] = LaneCounters{Pending: l.running, Queued: len(l.waiting)}
		l.mu.Unlock()
	}
	return out
}

// Shutdown stops admission and waits for running tasks to finish, up to the
// context deadline. Queued-but-unstarted tasks are failed immediately.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	for _, l := range q.lanes {
		l.mu.Lock()
		orphans := l.waiting
		l.waiting = nil
		l.mu.Unlock()
		for _, t := range orphans {
			t.result <- models.TaskResult{
				ID:     t.id,
				Lane:   l.name,
				Status: models.TaskFailed,
				Error:  "queue is shut down",
			}
		}
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
