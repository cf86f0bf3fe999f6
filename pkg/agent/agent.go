// Package agent implements the streaming tool-call loop: compaction check,
// deterministic routing, skill and plan assembly, the LLM tool loop, and
// the post-reply integrity guards.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OGODEVO/studious-system/pkg/llm"
	"github.com/OGODEVO/studious-system/pkg/memory"
	"github.com/OGODEVO/studious-system/pkg/models"
	"github.com/OGODEVO/studious-system/pkg/resilience"
	"github.com/OGODEVO/studious-system/pkg/skills"
	"github.com/OGODEVO/studious-system/pkg/tools"
)

// opChatStream is the executor op name for the streaming completion.
const opChatStream = "agent:chat_completion_stream"

// maxToolIterations bounds tool-call round-trips within one turn.
const maxToolIterations = 8

// compactionKeepMessages is the history tail kept after a compaction flush.
const compactionKeepMessages = 10

// Agent statuses for the status probe.
const (
	StatusIdle      = "idle"
	StatusThinking  = "thinking"
	StatusStreaming = "streaming"
)

// Config holds the agent settings.
type Config struct {
	Persona       string
	Temperature   float32
	MaxTokens     int
	ContextWindow int
	// CompactionTokenThreshold defaults to 90% of ContextWindow.
	CompactionTokenThreshold int
	PlanMode                 string
}

// Result is one completed agent turn.
type Result struct {
	Reply   string
	History []models.Message
	Usage   models.TokenUsage
}

// Agent runs conversation turns against the LLM and the tool registry.
type Agent struct {
	cfg     Config
	llm     llm.Client
	tools   *tools.Registry
	skills  *skills.Catalog
	memory  *memory.Manager
	exec    *resilience.Executor
	counter *TokenCounter
	clock   func() time.Time

	mu     sync.Mutex
	status string
}

// New builds an agent. The skills catalog may be nil.
func New(cfg Config, client llm.Client, registry *tools.Registry, catalog *skills.Catalog, mem *memory.Manager, exec *resilience.Executor, counter *TokenCounter) *Agent {
	if cfg.CompactionTokenThreshold < 1 && cfg.ContextWindow > 0 {
		cfg.CompactionTokenThreshold = cfg.ContextWindow * 9 / 10
	}
	if cfg.PlanMode == "" {
		cfg.PlanMode = PlanModeAuto
	}
	return &Agent{
		cfg:     cfg,
		llm:     client,
		tools:   registry,
		skills:  catalog,
		memory:  mem,
		exec:    exec,
		counter: counter,
		clock:   time.Now,
		status:  StatusIdle,
	}
}

// Status reports idle, thinking or streaming for the status probe.
func (a *Agent) Status() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Model returns the underlying model identifier.
func (a *Agent) Model() string { return a.llm.Model() }

// ContextWindow returns the configured context window.
func (a *Agent) ContextWindow() int { return a.cfg.ContextWindow }

func (a *Agent) setStatus(s string) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

// Run executes one conversation turn and returns the reply, the updated
// history and the token usage. It fails only when the LLM is unavailable
// after the executor's retries; every tool problem surfaces as tool output.
func (a *Agent) Run(ctx context.Context, userMessage string, history []models.Message, onToken func(string)) (*Result, error) {
	a.setStatus(StatusThinking)
	defer a.setStatus(StatusIdle)

	// Compaction check. Flush memory then keep only the recent tail.
	contextTokens := a.counter.Count(a.cfg.Persona) + a.counter.CountHistory(history) + a.counter.Count(userMessage)
	if a.cfg.CompactionTokenThreshold > 0 && contextTokens >= a.cfg.CompactionTokenThreshold {
		slog.Info("Compacting conversation", "context_tokens", contextTokens, "threshold", a.cfg.CompactionTokenThreshold)
		a.memory.FlushBeforeCompaction(ctx, history)
		if len(history) > compactionKeepMessages {
			history = history[len(history)-compactionKeepMessages:]
		}
	}

	// Deterministic router: high-confidence intents skip the LLM.
	if out, ok := route(ctx, a.tools, userMessage); ok {
		return a.finishTurn(userMessage, history, out, nil), nil
	}

	// Skill and plan assembly.
	var activeSkill *skills.Skill
	skillSummary := ""
	if a.skills != nil {
		activeSkill = a.skills.Match(userMessage)
		skillSummary = a.skills.Summary()
	}
	var plan *Plan
	if shouldPlan(a.cfg.PlanMode, userMessage) {
		plan = generatePlan(ctx, a.llm, userMessage)
	}

	sysPrompt := buildSystemPrompt(a.cfg.Persona, a.clock(), a.memory.BootstrapContext(), skillSummary, activeSkill, plan, userMessage)

	msgs := make([]models.Message, 0, len(history)+2)
	msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: sysPrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, models.Message{Role: models.RoleUser, Content: userMessage})

	st := newTurnState()
	usage := &llm.Usage{}
	var reply string
	retries := 0

	for iter := 0; iter < maxToolIterations; iter++ {
		a.setStatus(StatusStreaming)
		resp, err := resilience.Execute(ctx, a.exec, opChatStream, func(ctx context.Context) (*llm.ChatResponse, error) {
			return a.llm.StreamChat(ctx, llm.ChatRequest{
				Messages:    msgs,
				Tools:       a.tools.Definitions(),
				Temperature: a.cfg.Temperature,
				MaxTokens:   a.cfg.MaxTokens,
				OnToken:     onToken,
			})
		})
		a.setStatus(StatusThinking)
		if err != nil {
			return nil, fmt.Errorf("llm unavailable: %w", err)
		}
		if resp.Usage != nil {
			usage.PromptTokens += resp.Usage.PromptTokens
			usage.CompletionTokens += resp.Usage.CompletionTokens
			usage.TotalTokens += resp.Usage.TotalTokens
		}

		if len(resp.ToolCalls) > 0 {
			msgs = append(msgs, models.Message{
				Role:      models.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			for _, tc := range resp.ToolCalls {
				out := a.tools.Execute(ctx, tc.Name, tc.Arguments)
				st.record(tc.Name, out)
				msgs = append(msgs, models.Message{
					Role:       models.RoleTool,
					Content:    out,
					ToolCallID: tc.ID,
				})
			}
			continue
		}

		reply = resp.Content
		reply = a.walletGuard(ctx, userMessage, reply, st)
		reply = a.realtimeGuard(ctx, userMessage, reply, st)
		reply = a.claimGuard(ctx, userMessage, reply, st)

		if override, need := needsPromiseRetry(userMessage, reply, st); need && retries < maxPromiseRetries {
			retries++
			msgs = append(msgs,
				models.Message{Role: models.RoleAssistant, Content: reply},
				models.Message{Role: models.RoleUser, Content: override})
			continue
		}
		break
	}

	if plan != nil {
		reply += planFooter(plan, reply, st)
	}

	return a.finishTurn(userMessage, history, reply, usage), nil
}

// finishTurn builds the result, fills the usage report and fires the
// asynchronous turn epilogue.
func (a *Agent) finishTurn(userMessage string, history []models.Message, reply string, usage *llm.Usage) *Result {
	newHistory := make([]models.Message, 0, len(history)+2)
	newHistory = append(newHistory, history...)
	newHistory = append(newHistory,
		models.Message{Role: models.RoleUser, Content: userMessage},
		models.Message{Role: models.RoleAssistant, Content: reply})

	report := models.TokenUsage{Mode: a.counter.Mode()}
	if usage != nil && usage.TotalTokens > 0 {
		report.PromptTokens = usage.PromptTokens
		report.CompletionTokens = usage.CompletionTokens
		report.TotalTokens = usage.TotalTokens
	} else {
		report.PromptTokens = a.counter.CountHistory(history) + a.counter.Count(userMessage)
		report.CompletionTokens = a.counter.Count(reply)
		report.TotalTokens = report.PromptTokens + report.CompletionTokens
	}

	// Extraction is best-effort and must not delay the reply.
	go a.memory.OnTurn(userMessage, reply)

	return &Result{Reply: reply, History: newHistory, Usage: report}
}
