// agentd — the autonomous agent runtime: lane-based task queue, resilient
// scheduler, streaming tool-call agent loop, layered markdown memory and the
// HTTP/WebSocket front-end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/OGODEVO/studious-system/pkg/agent"
	"github.com/OGODEVO/studious-system/pkg/api"
	"github.com/OGODEVO/studious-system/pkg/config"
	"github.com/OGODEVO/studious-system/pkg/events"
	"github.com/OGODEVO/studious-system/pkg/llm"
	"github.com/OGODEVO/studious-system/pkg/memory"
	"github.com/OGODEVO/studious-system/pkg/models"
	"github.com/OGODEVO/studious-system/pkg/queue"
	"github.com/OGODEVO/studious-system/pkg/resilience"
	"github.com/OGODEVO/studious-system/pkg/scheduler"
	"github.com/OGODEVO/studious-system/pkg/skills"
	"github.com/OGODEVO/studious-system/pkg/tools"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("CONFIG_PATH", "./config.yaml"),
		"Path to configuration file")
	flag.Parse()

	// Load .env before config so {{.VAR}} expansion and the API key see it.
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(*configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. LLM client
	llmClient, err := llm.NewOpenAIClient(llm.Options{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.Agent.BaseURL,
		Model:   cfg.Agent.Model,
	})
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM client initialized", "model", cfg.Agent.Model)

	// 3. Memory manager. Summaries run through their own executor so a
	// degraded provider cannot wedge compaction flushes.
	memExec := resilience.NewExecutor(cfg.Resilience.Memory.ToPolicy())
	summarize := func(ctx context.Context, prompt string) (string, error) {
		return resilience.Execute(ctx, memExec, "memory:summarize", func(ctx context.Context) (string, error) {
			return llmClient.Complete(ctx, llm.ChatRequest{
				Messages:    []models.Message{{Role: models.RoleUser, Content: prompt}},
				Temperature: 0.3,
			})
		})
	}
	mem := memory.NewManager(memory.Config{
		Dir:                cfg.Memory.Dir,
		ExtractEveryNTurns: cfg.Memory.ExtractEveryNTurns,
		MaxRecentEpisodes:  cfg.Memory.MaxRecentEpisodes,
	}, summarize)

	// 4. Event bus and lane queue
	bus := events.NewBus()
	defer bus.Close()
	q := queue.New(cfg.Queue.ToCaps())

	// 5. Scheduler. Its run function submits prompts as agent turns on the
	// lane queue; the agent is assigned below, before Start is called.
	var ag *agent.Agent
	schedExec := resilience.NewExecutor(cfg.Resilience.Scheduler.ToPolicy())
	sched := scheduler.New(cfg.Scheduler.ToSchedulerConfig(), schedExec,
		func(ctx context.Context, prompt string, lane models.Lane) (string, error) {
			result := <-q.Submit(ctx, lane, func(ctx context.Context) (string, []models.Message, error) {
				res, err := ag.Run(ctx, prompt, nil, nil)
				if err != nil {
					return "", nil, err
				}
				return res.Reply, res.History, nil
			})
			if result.Status == models.TaskFailed {
				return "", fmt.Errorf("%s", result.Error)
			}
			return result.Reply, nil
		})

	// 6. Tool registry. External collaborators register only when their
	// endpoints are configured; the core tools are always present.
	specs := []tools.Spec{tools.DatetimeSpec(time.Now)}
	specs = append(specs, tools.SchedulerSpecs(sched)...)
	specs = append(specs, tools.MemorySpecs(mem)...)
	if key := os.Getenv("PERPLEXITY_API_KEY"); key != "" {
		specs = append(specs, tools.SearchSpec(newPerplexitySearch(key, os.Getenv("PERPLEXITY_MODEL"))))
	}
	if addr := os.Getenv("WALLET_RPC_URL"); addr != "" {
		specs = append(specs, tools.WalletSpecs(newHTTPWallet(addr))...)
	}
	if addr := os.Getenv("SOCIAL_API_URL"); addr != "" {
		specs = append(specs, tools.SocialSpecs(newHTTPSocial(addr))...)
	}
	if addr := os.Getenv("BROWSER_SERVICE_URL"); addr != "" {
		specs = append(specs, tools.BrowseSpec(newHTTPBrowser(addr)))
	}
	registry, err := tools.NewRegistry(bus, specs...)
	if err != nil {
		slog.Error("Failed to build tool registry", "error", err)
		os.Exit(1)
	}
	slog.Info("Tool registry built", "tools", registry.Names())

	// 7. Skill catalogue (optional)
	catalog, err := skills.Load(cfg.Skills.Dir)
	if err != nil {
		slog.Warn("Skill catalogue unavailable", "dir", cfg.Skills.Dir, "error", err)
		catalog = nil
	}

	// 8. Agent
	agentExec := resilience.NewExecutor(cfg.Resilience.Agent.ToPolicy())
	ag = agent.New(agent.Config{
		Persona:                  cfg.Agent.Persona,
		Temperature:              cfg.Agent.Temperature,
		MaxTokens:                cfg.Agent.MaxTokens,
		ContextWindow:            cfg.Agent.ContextWindow,
		CompactionTokenThreshold: cfg.Agent.CompactionThreshold(),
		PlanMode:                 cfg.Agent.PlanningMode,
	}, llmClient, registry, catalog, mem, agentExec, agent.NewTokenCounter(nil))

	// 9. Start scheduler and HTTP server
	sched.Start(ctx)

	server := api.NewServer(api.Config{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		HistoryFile: cfg.Server.HistoryFile,
	}, ag, q, sched, bus, mem, agentExec)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Agent runtime started",
		"port", cfg.Server.Port,
		"model", cfg.Agent.Model,
		"planning_mode", cfg.Agent.PlanningMode)

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop admitting scheduler runs, drain the lane
	// queue, then close the HTTP surface.
	sched.Stop()

	drainCtx, drainCancel := context.WithTimeout(ctx, 30*time.Second)
	defer drainCancel()
	if err := q.Shutdown(drainCtx); err != nil {
		slog.Warn("Queue drain incomplete", "error", err)
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
