package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OGODEVO/studious-system/pkg/events"
)

type eventRecorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *eventRecorder) record(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *eventRecorder) wait(t *testing.T, n int) []events.Event {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.evs) >= n
	}, time.Second, 5*time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.evs...)
}

func newTestRegistry(t *testing.T, extra ...Spec) (*Registry, *eventRecorder) {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	rec := &eventRecorder{}
	bus.Subscribe(rec.record)

	specs := append([]Spec{{
		Name:        "echo",
		Description: "Echo the text argument.",
		Schema:      objSchema(map[string]string{"text": "string"}, []string{"text"}),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return StringArg(args, "text"), nil
		},
	}}, extra...)

	reg, err := NewRegistry(bus, specs...)
	require.NoError(t, err)
	return reg, rec
}

func TestExecuteEmitsStartEndPair(t *testing.T) {
	reg, rec := newTestRegistry(t)

	out := reg.Execute(context.Background(), "echo", `{"text":"hi"}`)
	assert.Equal(t, "hi", out)

	evs := rec.wait(t, 2)
	require.Equal(t, events.EventTypeToolStart, evs[0].Type)
	start := evs[0].Payload.(events.ToolStartPayload)
	assert.Equal(t, "echo", start.Tool)
	assert.Equal(t, "Using echo", start.Label)

	require.Equal(t, events.EventTypeToolEnd, evs[1].Type)
	end := evs[1].Payload.(events.ToolEndPayload)
	assert.True(t, end.Success)
	assert.Equal(t, "hi", end.OutputPreview)
}

func TestUnknownTool(t *testing.T) {
	reg, _ := newTestRegistry(t)
	out := reg.Execute(context.Background(), "nope", "{}")
	assert.Equal(t, "Unknown tool: nope", out)
}

func TestMalformedArgumentsJSON(t *testing.T) {
	reg, _ := newTestRegistry(t)
	out := reg.Execute(context.Background(), "echo", `{"text":`)
	assert.Contains(t, out, "Error executing echo:")
}

func TestSchemaRejectsMissingRequired(t *testing.T) {
	reg, _ := newTestRegistry(t)
	out := reg.Execute(context.Background(), "echo", `{}`)
	assert.Contains(t, out, "Error executing echo: invalid arguments")
}

func TestHandlerErrorBecomesErrorString(t *testing.T) {
	reg, rec := newTestRegistry(t, Spec{
		Name:        "flaky",
		Description: "always fails",
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("upstream down")
		},
	})
	out := reg.Execute(context.Background(), "flaky", "")
	assert.Equal(t, "Error executing flaky: upstream down", out)

	evs := rec.wait(t, 2)
	end := evs[1].Payload.(events.ToolEndPayload)
	assert.False(t, end.Success)
}

func TestHandlerPanicIsContained(t *testing.T) {
	reg, _ := newTestRegistry(t, Spec{
		Name:        "bomb",
		Description: "panics",
		Handler: func(context.Context, map[string]any) (string, error) {
			panic("kaboom")
		},
	})
	out := reg.Execute(context.Background(), "bomb", "")
	assert.Contains(t, out, "Error executing bomb: panic: kaboom")
}

func TestEmptyArgumentsAllowed(t *testing.T) {
	called := false
	reg, _ := newTestRegistry(t, Spec{
		Name:        "noarg",
		Description: "no arguments",
		Handler: func(context.Context, map[string]any) (string, error) {
			called = true
			return "ok", nil
		},
	})
	assert.Equal(t, "ok", reg.Execute(context.Background(), "noarg", ""))
	assert.True(t, called)
}

func TestDuplicateNameRejected(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	spec := Spec{Name: "x", Handler: func(context.Context, map[string]any) (string, error) { return "", nil }}
	_, err := NewRegistry(bus, spec, spec)
	require.Error(t, err)
}

func TestDefinitionsPreserveOrder(t *testing.T) {
	reg, _ := newTestRegistry(t, Spec{
		Name:        "second",
		Description: "second tool",
		Handler:     func(context.Context, map[string]any) (string, error) { return "", nil },
	})
	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "echo", defs[0].Name)
	assert.Equal(t, "second", defs[1].Name)
}

func TestCustomLabelFormatter(t *testing.T) {
	reg, rec := newTestRegistry(t, Spec{
		Name:        "labelled",
		Description: "custom label",
		Label:       func(map[string]any) string { return "Doing the thing" },
		Handler:     func(context.Context, map[string]any) (string, error) { return "ok", nil },
	})
	reg.ExecuteArgs(context.Background(), "labelled", nil)
	evs := rec.wait(t, 2)
	assert.Equal(t, "Doing the thing", evs[0].Payload.(events.ToolStartPayload).Label)
}
