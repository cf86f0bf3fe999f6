// Package api exposes the HTTP front-end: task submission, the status
// probe, scheduler reminder management and the WebSocket event stream.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/OGODEVO/studious-system/pkg/agent"
	"github.com/OGODEVO/studious-system/pkg/events"
	"github.com/OGODEVO/studious-system/pkg/memory"
	"github.com/OGODEVO/studious-system/pkg/models"
	"github.com/OGODEVO/studious-system/pkg/queue"
	"github.com/OGODEVO/studious-system/pkg/resilience"
	"github.com/OGODEVO/studious-system/pkg/scheduler"
)

// Config holds the HTTP server settings.
type Config struct {
	Addr        string
	HistoryFile string
}

// Server wires the runtime components behind the HTTP surface.
type Server struct {
	agent   *agent.Agent
	queue   *queue.Queue
	sched   *scheduler.Scheduler
	bus     *events.Bus
	mem     *memory.Manager
	exec    *resilience.Executor
	hub     *Hub
	history *sessionHistory

	engine     *gin.Engine
	httpServer *http.Server
}

// NewServer builds the server and its route table.
func NewServer(cfg Config, ag *agent.Agent, q *queue.Queue, sched *scheduler.Scheduler, bus *events.Bus, mem *memory.Manager, exec *resilience.Executor) *Server {
	s := &Server{
		agent:   ag,
		queue:   q,
		sched:   sched,
		bus:     bus,
		mem:     mem,
		exec:    exec,
		hub:     NewHub(bus),
		history: newSessionHistory(cfg.HistoryFile),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	engine.GET("/healthz", s.healthz)
	engine.GET("/ws", s.handleWS)

	apiGroup := engine.Group("/api")
	apiGroup.POST("/tasks", s.submitTask)
	apiGroup.GET("/status", s.status)
	apiGroup.GET("/scheduler/reminders", s.listReminders)
	apiGroup.POST("/scheduler/reminders", s.createReminder)
	apiGroup.DELETE("/scheduler/reminders/:id", s.deleteReminder)
	apiGroup.PUT("/scheduler/heartbeat", s.setHeartbeat)
	apiGroup.DELETE("/scheduler/heartbeat", s.disableHeartbeat)

	s.engine = engine
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and closes the WebSocket hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// taskRequest is the POST /api/tasks body.
type taskRequest struct {
	Message string `json:"message" binding:"required"`
	Lane    string `json:"lane"`
	Stream  bool   `json:"stream"`
}

// submitTask enqueues one user turn on the requested lane and waits for
// its result. Stream=true pushes content deltas over the event stream.
func (s *Server) submitTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	lane := models.Lane(req.Lane)
	if !lane.Valid() {
		lane = models.LaneFast
	}

	taskID := uuid.New().String()
	var onToken func(string)
	if req.Stream {
		onToken = func(delta string) {
			s.bus.Publish(events.EventTypeStreamChunk, events.StreamChunkPayload{
				TaskID: taskID,
				Delta:  delta,
			})
		}
	}

	ctx := c.Request.Context()
	resultCh := s.queue.Submit(ctx, lane, func(ctx context.Context) (string, []models.Message, error) {
		res, err := s.agent.Run(ctx, req.Message, s.history.Snapshot(), onToken)
		if err != nil {
			return "", nil, err
		}
		s.history.Replace(res.History)
		return res.Reply, res.History, nil
	})

	select {
	case <-ctx.Done():
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "request cancelled"})
	case result := <-resultCh:
		c.JSON(http.StatusOK, gin.H{"task_id": taskID, "result": result})
	}
}

// status is the probe consumed by dashboards and the heartbeat display.
func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"agent": gin.H{
			"status":         s.agent.Status(),
			"model":          s.agent.Model(),
			"context_window": s.agent.ContextWindow(),
		},
		"queue":             s.queue.Counters(),
		"heartbeat":         s.sched.HeartbeatConfig(),
		"scheduler":         s.sched.HealthMetrics(),
		"memory":            s.mem.HealthMetrics(),
		"executor":          s.exec.MetricsSnapshot(),
		"session_messages":  s.history.Len(),
		"websocket_clients": s.hub.ConnectionCount(),
	})
}

func (s *Server) listReminders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"recurring": s.sched.Reminders(),
		"one_time":  s.sched.ListOneTime(),
	})
}

// reminderRequest is the POST /api/scheduler/reminders body. Either
// Minutes or RunAtMs selects the due time.
type reminderRequest struct {
	Prompt  string  `json:"prompt" binding:"required"`
	Minutes float64 `json:"minutes"`
	RunAtMs int64   `json:"run_at_ms"`
	Lane    string  `json:"lane"`
}

func (s *Server) createReminder(c *gin.Context) {
	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	var (
		id  string
		err error
	)
	if req.RunAtMs > 0 {
		id, err = s.sched.ScheduleOneTimeAt(req.RunAtMs, req.Prompt, req.Lane)
	} else {
		id, err = s.sched.ScheduleOneTimeIn(req.Minutes, req.Prompt, req.Lane)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) deleteReminder(c *gin.Context) {
	if !s.sched.CancelOneTime(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "reminder not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// heartbeatRequest is the PUT /api/scheduler/heartbeat body.
type heartbeatRequest struct {
	IntervalMinutes int    `json:"interval_minutes" binding:"required"`
	Prompt          string `json:"prompt"`
}

func (s *Server) setHeartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval_minutes is required"})
		return
	}
	if err := s.sched.SetHeartbeat(req.IntervalMinutes, req.Prompt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"heartbeat": s.sched.HeartbeatConfig()})
}

func (s *Server) disableHeartbeat(c *gin.Context) {
	s.sched.DisableHeartbeat()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	s.hub.HandleConnection(c.Request.Context(), conn)
}
