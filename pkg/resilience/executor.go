// Package resilience provides the per-operation retry and circuit breaker
// executor that wraps every LLM, scheduler and memory-summarization call.
package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy controls the retry loop for a single Execute call.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts (first call included).
	MaxAttempts int
	// BaseDelay is the delay before the first retry; doubled each retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// JitterRatio spreads each delay uniformly within ±ratio.
	JitterRatio float64
}

// BreakerPolicy controls the per-operation circuit breaker.
type BreakerPolicy struct {
	// FailureThreshold is the number of consecutive final failures that
	// opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open once tripped.
	Cooldown time.Duration
}

// Policy is the immutable resilience policy of one Executor instance.
type Policy struct {
	Retry          RetryPolicy
	CircuitBreaker BreakerPolicy
}

// DefaultPolicy returns a conservative policy suitable for LLM calls.
func DefaultPolicy() Policy {
	return Policy{
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    8 * time.Second,
			JitterRatio: 0.2,
		},
		CircuitBreaker: BreakerPolicy{
			FailureThreshold: 4,
			Cooldown:         30 * time.Second,
		},
	}
}

// CircuitOpenError is returned by Execute while an operation's circuit is
// open. The wrapped function is not invoked.
type CircuitOpenError struct {
	Op        string
	RetryIn   time.Duration
	LastError string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s: retry in %s (last error: %s)",
		e.Op, e.RetryIn.Round(time.Millisecond), e.LastError)
}

// Metrics is a read-only snapshot of one operation's counters.
type Metrics struct {
	Op                  string     `json:"op"`
	Total               int        `json:"total"`
	Successes           int        `json:"successes"`
	Failures            int        `json:"failures"`
	Retries             int        `json:"retries"`
	CircuitOpenEvents   int        `json:"circuit_open_events"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastStartedAt       time.Time  `json:"last_started_at"`
	LastSucceededAt     *time.Time `json:"last_succeeded_at,omitempty"`
	LastFailedAt        *time.Time `json:"last_failed_at,omitempty"`
	CircuitOpenUntil    *time.Time `json:"circuit_open_until,omitempty"`
}

// opState is the mutable per-operation record. Guarded by Executor.mu.
type opState struct {
	metrics   Metrics
	openUntil time.Time
}

// Clock abstracts time for tests. Sleep must honor context cancellation.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Executor runs operations under a fixed resilience policy, tracking
// metrics and circuit state per operation name. Safe for concurrent use.
type Executor struct {
	policy Policy
	clock  Clock

	mu  sync.Mutex
	ops map[string]*opState
}

// NewExecutor creates an executor with the given policy.
func NewExecutor(policy Policy) *Executor {
	return NewExecutorWithClock(policy, realClock{})
}

// NewExecutorWithClock creates an executor with an injected clock.
func NewExecutorWithClock(policy Policy, clock Clock) *Executor {
	if policy.Retry.MaxAttempts < 1 {
		policy.Retry.MaxAttempts = 1
	}
	return &Executor{
		policy: policy,
		clock:  clock,
		ops:    make(map[string]*opState),
	}
}

// Policy returns the executor's immutable policy.
func (e *Executor) Policy() Policy { return e.policy }

// Execute runs fn under the executor's policy for the named operation and
// returns its value. On exhausted retries the last underlying error is
// returned unchanged. While the operation's circuit is open it fails fast
// with *CircuitOpenError without invoking fn.
func Execute[T any](ctx context.Context, e *Executor, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := e.execute(ctx, op, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// Do is the untyped form of Execute for callers that only need the error.
func (e *Executor) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := e.execute(ctx, op, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func (e *Executor) execute(ctx context.Context, op string, fn func(context.Context) (any, error)) (any, error) {
	now := e.clock.Now()

	e.mu.Lock()
	st := e.state(op)
	st.metrics.Total++
	st.metrics.LastStartedAt = now
	if st.openUntil.After(now) {
		err := &CircuitOpenError{
			Op:        op,
			RetryIn:   st.openUntil.Sub(now),
			LastError: st.metrics.LastError,
		}
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= e.policy.Retry.MaxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			e.recordSuccess(op)
			return v, nil
		}
		lastErr = err
		if attempt < e.policy.Retry.MaxAttempts {
			e.recordRetry(op)
			if sleepErr := e.clock.Sleep(ctx, e.backoff(attempt)); sleepErr != nil {
				e.recordFailure(op, sleepErr)
				return nil, sleepErr
			}
		}
	}
	e.recordFailure(op, lastErr)
	return nil, lastErr
}

// backoff returns the delay after the given 1-based attempt:
// min(maxDelay, base·2^(attempt−1)), jittered within ±JitterRatio.
func (e *Executor) backoff(attempt int) time.Duration {
	d := e.policy.Retry.BaseDelay << (attempt - 1)
	if max := e.policy.Retry.MaxDelay; max > 0 && d > max {
		d = max
	}
	if r := e.policy.Retry.JitterRatio; r > 0 {
		spread := 1 - r + 2*r*rand.Float64()
		d = time.Duration(float64(d) * spread)
	}
	return d
}

func (e *Executor) state(op string) *opState {
	st, ok := e.ops[op]
	if !ok {
		st = &opState{metrics: Metrics{Op: op}}
		e.ops[op] = st
	}
	return st
}

func (e *Executor) recordSuccess(op string) {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state(op)
	st.metrics.Successes++
	st.metrics.ConsecutiveFailures = 0
	st.metrics.LastSucceededAt = &now
	st.openUntil = time.Time{}
	st.metrics.CircuitOpenUntil = nil
}

func (e *Executor) recordRetry(op string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state(op).metrics.Retries++
}

// recordFailure registers a final failure and trips the circuit when the
// consecutive-failure threshold is reached.
func (e *Executor) recordFailure(op string, err error) {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state(op)
	st.metrics.Failures++
	st.metrics.ConsecutiveFailures++
	st.metrics.LastFailedAt = &now
	if err != nil {
		st.metrics.LastError = err.Error()
	}
	threshold := e.policy.CircuitBreaker.FailureThreshold
	if threshold > 0 && st.metrics.ConsecutiveFailures >= threshold {
		until := now.Add(e.policy.CircuitBreaker.Cooldown)
		st.openUntil = until
		st.metrics.CircuitOpenUntil = &until
		st.metrics.CircuitOpenEvents++
		st.metrics.ConsecutiveFailures = 0
	}
}

// MetricsSnapshot returns a copy of every operation's metrics.
func (e *Executor) MetricsSnapshot() map[string]Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]Metrics, len(e.ops))
	for name, st := range e.ops {
		m := st.metrics
		if m.LastSucceededAt != nil {
			t := *m.LastSucceededAt
			m.LastSucceededAt = &t
		}
		if m.LastFailedAt != nil {
			t := *m.LastFailedAt
			m.LastFailedAt = &t
		}
		if m.CircuitOpenUntil != nil {
			t := *m.CircuitOpenUntil
			m.CircuitOpenUntil = &t
		}
		out[name] = m
	}
	return out
}

// OpMetrics returns the metrics for one operation (zero value if unknown).
func (e *Executor) OpMetrics(op string) Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.ops[op]; ok {
		return st.metrics
	}
	return Metrics{Op: op}
}
