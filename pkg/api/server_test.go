package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OGODEVO/studious-system/pkg/agent"
	"github.com/OGODEVO/studious-system/pkg/events"
	"github.com/OGODEVO/studious-system/pkg/llm"
	"github.com/OGODEVO/studious-system/pkg/memory"
	"github.com/OGODEVO/studious-system/pkg/models"
	"github.com/OGODEVO/studious-system/pkg/queue"
	"github.com/OGODEVO/studious-system/pkg/resilience"
	"github.com/OGODEVO/studious-system/pkg/scheduler"
	"github.com/OGODEVO/studious-system/pkg/tools"
)

type stubLLM struct {
	reply string
}

func (s *stubLLM) StreamChat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if req.OnToken != nil {
		req.OnToken(s.reply)
	}
	return &llm.ChatResponse{Content: s.reply}, nil
}

func (s *stubLLM) Complete(context.Context, llm.ChatRequest) (string, error) {
	return s.reply, nil
}

func (s *stubLLM) Model() string { return "test-model" }

type stubWallet struct{}

func (stubWallet) Address(context.Context) (string, error) { return "0xAGENT", nil }
func (stubWallet) Balance(context.Context) (string, error) { return "Balance: 42 TOK", nil }

func newTestServer(t *testing.T) (*Server, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	specs := []tools.Spec{tools.DatetimeSpec(time.Now)}
	specs = append(specs, tools.WalletSpecs(stubWallet{})...)
	registry, err := tools.NewRegistry(bus, specs...)
	require.NoError(t, err)

	mem := memory.NewManager(memory.Config{Dir: t.TempDir()}, nil)
	exec := resilience.NewExecutor(resilience.DefaultPolicy())
	ag := agent.New(agent.Config{ContextWindow: 100000, PlanMode: agent.PlanModeFast},
		&stubLLM{reply: "hello from the model"}, registry, nil, mem, exec, agent.NewTokenCounter(nil))

	q := queue.New(queue.DefaultLaneCaps())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		q.Shutdown(ctx)
	})

	sched := scheduler.New(scheduler.Config{
		TickSeconds: 60,
		StateFile:   filepath.Join(t.TempDir(), "scheduler.json"),
	}, resilience.NewExecutor(resilience.DefaultPolicy()), func(context.Context, string, models.Lane) (string, error) {
		return "ok", nil
	})
	t.Cleanup(sched.Stop)

	s := NewServer(Config{Addr: ":0", HistoryFile: filepath.Join(t.TempDir(), "session_history.json")},
		ag, q, sched, bus, mem, exec)
	t.Cleanup(func() { s.hub.Close() })
	return s, bus
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSubmitTaskReturnsResult(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/tasks", `{"message":"hi there how are you","lane":"fast"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		TaskID string `json:"task_id"`
		Result struct {
			Reply  string `json:"reply"`
			Status string `json:"status"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, "hello from the model", resp.Result.Reply)
	assert.Equal(t, "completed", resp.Result.Status)

	// The turn landed in the session ring.
	assert.Equal(t, 2, s.history.Len())
}

func TestSubmitTaskValidation(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/tasks", `{"lane":"fast"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitTaskRoutedIntent(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/tasks", `{"message":"what is your balance?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Balance: 42 TOK")
}

func TestStatusProbeShape(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var status map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	for _, key := range []string{"agent", "queue", "heartbeat", "scheduler", "memory", "executor"} {
		assert.Contains(t, status, key)
	}

	var agentBlock struct {
		Status        string `json:"status"`
		Model         string `json:"model"`
		ContextWindow int    `json:"context_window"`
	}
	require.NoError(t, json.Unmarshal(status["agent"], &agentBlock))
	assert.Equal(t, "idle", agentBlock.Status)
	assert.Equal(t, "test-model", agentBlock.Model)
	assert.Equal(t, 100000, agentBlock.ContextWindow)
}

func TestReminderLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/scheduler/reminders", `{"prompt":"water the plants","minutes":30,"lane":"background"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	w = doJSON(t, s, http.MethodGet, "/api/scheduler/reminders", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "water the plants")

	w = doJSON(t, s, http.MethodDelete, "/api/scheduler/reminders/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, s, http.MethodDelete, "/api/scheduler/reminders/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReminderValidation(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/scheduler/reminders", `{"minutes":5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Lead time too short.
	w = doJSON(t, s, http.MethodPost, "/api/scheduler/reminders", `{"prompt":"now","minutes":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHeartbeatEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPut, "/api/scheduler/heartbeat", `{"interval_minutes":30,"prompt":"check goals"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enabled":true`)

	w = doJSON(t, s, http.MethodDelete, "/api/scheduler/heartbeat", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/status", "")
	assert.Contains(t, w.Body.String(), `"enabled":false`)
}

func TestSessionHistoryPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	h := newSessionHistory(path)
	h.Replace([]models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello", Parts: []models.ContentPart{
			{Type: "image_url", ImageURL: "data:image/png;base64,xxx"},
		}},
	})

	reloaded := newSessionHistory(path)
	msgs := reloaded.Snapshot()
	require.Len(t, msgs, 2)
	// Image payloads never persist.
	require.Len(t, msgs[1].Parts, 1)
	assert.Equal(t, "text", msgs[1].Parts[0].Type)
	assert.Equal(t, "[image was attached]", msgs[1].Parts[0].Text)
}

func TestSessionHistoryBounded(t *testing.T) {
	h := newSessionHistory("")
	var msgs []models.Message
	for i := 0; i < maxSessionHistory+20; i++ {
		msgs = append(msgs, models.Message{Role: models.RoleUser, Content: "m"})
	}
	h.Replace(msgs)
	assert.Equal(t, maxSessionHistory, h.Len())
}
