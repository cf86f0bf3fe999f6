// Package events provides the in-process event bus used to deliver tool
// lifecycle notifications and streaming deltas to front-end subscribers.
//
// Delivery is fire-and-forget: each subscriber owns a bounded buffer and a
// drain goroutine, so a slow dashboard client can never block a tool
// handler. Overflowing events are dropped and counted.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventTypeToolStart   = "tool:start"
	EventTypeToolEnd     = "tool:end"
	EventTypeStreamChunk = "stream.chunk"
	EventTypeTaskStatus  = "task.status"
)

// outputPreviewLimit caps the tool output preview carried on tool:end.
const outputPreviewLimit = 1200

// Event is one bus message. Payload is one of the payload structs below.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// ToolStartPayload announces a tool handler invocation.
type ToolStartPayload struct {
	Tool  string         `json:"tool"`
	Args  map[string]any `json:"args,omitempty"`
	Label string         `json:"label"`
}

// ToolEndPayload reports a finished tool handler invocation.
type ToolEndPayload struct {
	Tool          string `json:"tool"`
	DurationMs    int64  `json:"duration_ms"`
	Success       bool   `json:"success"`
	OutputPreview string `json:"output_preview"`
}

// StreamChunkPayload carries one assistant token delta. High frequency,
// ephemeral; subscribers concatenate deltas locally.
type StreamChunkPayload struct {
	TaskID string `json:"task_id,omitempty"`
	Delta  string `json:"delta"`
}

// TaskStatusPayload reports a lane-task lifecycle transition.
type TaskStatusPayload struct {
	TaskID string `json:"task_id"`
	Lane   string `json:"lane"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// subscriber owns a buffered channel drained by its own goroutine.
type subscriber struct {
	id string
	ch chan Event
}

// Bus fans events out to subscribers without blocking publishers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	dropped     atomic.Int64
	closed      bool
	wg          sync.WaitGroup
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers fn to receive every event published after this call.
// fn runs on a dedicated goroutine per subscriber; it must not be assumed
// to run on the publisher's goroutine. Returns an unsubscribe function.
func (b *Bus) Subscribe(fn func(Event)) (cancel func()) {
	sub := &subscriber{
		id: uuid.New().String(),
		ch: make(chan Event, 256),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for ev := range sub.ch {
			fn(ev)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subscribers[sub.id]; ok {
			delete(b.subscribers, sub.id)
			close(s.ch)
		}
	}
}

// Publish delivers the event to all current subscribers. Never blocks; a
// full subscriber buffer drops the event for that subscriber.
func (b *Bus) Publish(eventType string, payload any) {
	ev := Event{Type: eventType, Timestamp: time.Now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
			slog.Debug("Event dropped for slow subscriber",
				"subscriber_id", sub.id, "event_type", eventType)
		}
	}
}

// PublishToolStart emits the tool:start event for one tool invocation.
func (b *Bus) PublishToolStart(tool string, args map[string]any, label string) {
	b.Publish(EventTypeToolStart, ToolStartPayload{Tool: tool, Args: args, Label: label})
}

// PublishToolEnd emits the tool:end event. The output preview is truncated
// to 1200 characters; success means the output does not start with "Error".
func (b *Bus) PublishToolEnd(tool string, duration time.Duration, success bool, output string) {
	b.Publish(EventTypeToolEnd, ToolEndPayload{
		Tool:          tool,
		DurationMs:    duration.Milliseconds(),
		Success:       success,
		OutputPreview: truncatePreview(output),
	})
}

// Close unsubscribes everyone and waits for drain goroutines to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.ch)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// Dropped returns the number of events dropped on full subscriber buffers.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

func truncatePreview(s string) string {
	if len(s) <= outputPreviewLimit {
		return s
	}
	cut := outputPreviewLimit
	for cut > 0 && s[cut]&0xC0 == 0x80 { // don't split a UTF-8 sequence
		cut--
	}
	return s[:cut]
}
