package models

import "time"

// Lane is a named concurrency class. Each lane has a fixed cap and an
// unbounded FIFO waiting list.
type Lane string

// Lanes.
const (
	LaneFast       Lane = "fast"
	LaneSlow       Lane = "slow"
	LaneBackground Lane = "background"
)

// Valid reports whether l is a known lane.
func (l Lane) Valid() bool {
	switch l {
	case LaneFast, LaneSlow, LaneBackground:
		return true
	}
	return false
}

// TaskStatus is the terminal state of a queued task.
type TaskStatus string

// Task statuses.
const (
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskResult is the outcome of one lane-queue task.
type TaskResult struct {
	ID          string     `json:"id"`
	Lane        Lane       `json:"lane"`
	Reply       string     `json:"reply,omitempty"`
	History     []Message  `json:"history,omitempty"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at"`
}

// TokenUsage reports the context accounting for one agent turn. Mode is
// "exact-ish" when a real encoder produced the counts, "estimate" otherwise.
type TokenUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Mode             string `json:"mode"`
}
