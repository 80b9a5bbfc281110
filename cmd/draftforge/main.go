package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/draftforge/draftforge/internal/agent"
	"github.com/draftforge/draftforge/internal/hub"
	"github.com/draftforge/draftforge/internal/memory"
	"github.com/draftforge/draftforge/internal/models"
	"github.com/draftforge/draftforge/internal/workflow"
)

const version = "0.1.0"

func main() {
	var (
		topic        = flag.String("topic", "The future of renewable energy", "workflow topic")
		targetLength = flag.Int("length", 800, "target word count")
		threshold    = flag.Float64("quality", 0.8, "quality threshold")
		dataDir      = flag.String("data", "./data", "data directory for checkpoints and memory")
		storeBackend = flag.String("store", "memory", "memory store backend: memory, sqlite or redis")
		redisAddr    = flag.String("redis", "localhost:6379", "redis address (store=redis)")
		logLevel     = flag.String("log-level", "info", "log level: debug, info, warn or error")
	)
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	printBanner()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nShutting down...")
		cancel()
	}()

	if err := run(ctx, logger, *topic, *targetLength, *threshold, *dataDir, *storeBackend, *redisAddr); err != nil {
		fmt.Printf("❌ Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, topic string, targetLength int, threshold float64, dataDir, storeBackend, redisAddr string) error {
	store, err := newMemoryStore(storeBackend, dataDir, redisAddr)
	if err != nil {
		return fmt.Errorf("failed to open memory store: %w", err)
	}

	manager := memory.NewManager(store, memory.DefaultConfig(), logger)
	defer manager.Close()

	persistence, err := workflow.NewBadgerPersistence(filepath.Join(dataDir, "workflows"), logger)
	if err != nil {
		return fmt.Errorf("failed to open workflow persistence: %w", err)
	}
	defer persistence.Close()

	messageHub := hub.New(nil, logger)
	machine := workflow.NewStateMachine(logger)
	orchestrator := workflow.NewOrchestrator(machine, messageHub, persistence, nil, logger)

	agents := []agent.PhaseAgent{
		agent.NewResearcher("researcher-1", "Researcher", manager, nil, nil, logger),
		agent.NewWriter("writer-1", "Writer", manager, nil, nil, logger),
		agent.NewEditor("editor-1", "Editor", manager, nil, nil, logger),
	}
	for _, a := range agents {
		if err := orchestrator.RegisterAgent(a); err != nil {
			return fmt.Errorf("failed to register agent %s: %w", a.ID(), err)
		}
	}

	orchestrator.Start()
	defer orchestrator.Stop()

	fmt.Println("🤖 Content Pipeline Active:")
	fmt.Println("   • Researcher - sources & insights")
	fmt.Println("   • Writer     - draft generation")
	fmt.Println("   • Editor     - polish & quality score")
	fmt.Println()

	executionID, err := orchestrator.ExecuteWorkflow(topic, targetLength, threshold)
	if err != nil {
		return fmt.Errorf("failed to submit workflow: %w", err)
	}
	fmt.Printf("▶ Workflow submitted | execution: %s | topic: %s\n\n", executionID, topic)

	exec, err := waitForWorkflow(ctx, orchestrator, executionID)
	if err != nil {
		return err
	}

	switch exec.Status {
	case models.ExecutionCompleted:
		printResult(ctx, persistence, exec)
	case models.ExecutionError:
		fmt.Printf("❌ Workflow failed: %s\n", exec.ErrorMessage)
	case models.ExecutionCancelled:
		fmt.Println("⏹ Workflow cancelled")
	}

	printStats(ctx, orchestrator, manager)
	return nil
}

// waitForWorkflow polls the execution until it reaches a terminal status
// or the context is cancelled.
func waitForWorkflow(ctx context.Context, orchestrator *workflow.Orchestrator, executionID string) (models.WorkflowExecution, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		exec, err := orchestrator.GetWorkflowStatus(executionID)
		if err != nil {
			return models.WorkflowExecution{}, err
		}
		if exec.Status.Terminal() {
			return exec, nil
		}

		select {
		case <-ctx.Done():
			if err := orchestrator.CancelWorkflow(executionID); err == nil {
				fmt.Println("⏹ Cancellation requested, waiting for phase boundary...")
			}
			// Give the run a moment to settle at the boundary.
			time.Sleep(500 * time.Millisecond)
			exec, _ := orchestrator.GetWorkflowStatus(executionID)
			return exec, nil
		case <-ticker.C:
		}
	}
}

func printResult(ctx context.Context, persistence workflow.Persistence, exec models.WorkflowExecution) {
	cp, err := persistence.Load(ctx, exec.WorkflowID)
	if err != nil || cp.State == nil {
		fmt.Println("✓ Workflow completed (no checkpoint available)")
		return
	}

	duration := time.Duration(0)
	if exec.EndTime != nil {
		duration = exec.EndTime.Sub(exec.StartTime)
	}

	fmt.Printf("✓ Workflow completed in %.1fs | quality %.2f | %d words\n\n",
		duration.Seconds(), cp.State.QualityScore, cp.State.WordCount)
	fmt.Println("===== Final Content =====")
	fmt.Println(cp.State.FinalContent)
	fmt.Println("=========================")
}

func printStats(ctx context.Context, orchestrator *workflow.Orchestrator, manager *memory.Manager) {
	stats, err := manager.Stats(ctx)
	if err == nil {
		fmt.Printf("\n🧠 Memory: %v\n", stats)
	}
	fmt.Printf("📊 Orchestrator: %v\n", orchestrator.Status()["metrics"])
}

func newMemoryStore(backend, dataDir, redisAddr string) (memory.Store, error) {
	switch backend {
	case "memory":
		return memory.NewInMemoryStore(), nil
	case "sqlite":
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, err
		}
		return memory.NewSQLiteStore(filepath.Join(dataDir, "memory.db"))
	case "redis":
		return memory.NewRedisStore(&memory.RedisConfig{Addr: redisAddr})
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func printBanner() {
	fmt.Printf(`
  ____             __ _   _____
 |  _ \ _ __ __ _ / _| |_|  ___|__  _ __ __ _  ___
 | | | | '__/ _' | |_| __| |_ / _ \| '__/ _' |/ _ \
 | |_| | | | (_| |  _| |_|  _| (_) | | | (_| |  __/
 |____/|_|  \__,_|_|  \__|_|  \___/|_|  \__, |\___|
                                        |___/
 DraftForge %s — multi-agent content pipeline

`, version)
}
