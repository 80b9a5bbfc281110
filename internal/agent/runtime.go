// Package agent provides the runtime shared by all pipeline agents and
// the three phase agents (researcher, writer, editor). The runtime owns
// one agent's lifecycle record and wraps phase implementations with
// bounded retry, backoff and tracing.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/draftforge/draftforge/internal/memory"
	"github.com/draftforge/draftforge/internal/models"
)

// ErrRetriesExhausted wraps the last error after the retry budget is spent.
var ErrRetriesExhausted = errors.New("agent retries exhausted")

// PhaseFunc is a phase-specific implementation wrapped by Runtime.Execute.
type PhaseFunc func(ctx context.Context, wctx *models.WorkflowContext) error

// PhaseAgent is the contract a pipeline phase agent fulfills
type PhaseAgent interface {
	ID() string
	Type() models.AgentType
	Name() string
	Execute(ctx context.Context, wctx *models.WorkflowContext) error
	Reset()
	Status() map[string]interface{}
}

// Config holds agent runtime configuration
type Config struct {
	// MaxAttempts bounds how often a failing phase implementation is
	// run before the last error propagates.
	MaxAttempts int

	// BaseDelay is the first backoff delay; it doubles per attempt.
	BaseDelay time.Duration
}

// DefaultConfig returns default runtime configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
	}
}

// Runtime owns one agent's identity and lifecycle state. The record is
// mutated only through the lifecycle methods, keeping the
// idle→busy→{completed|error} progression intact within a task.
type Runtime struct {
	mu     sync.Mutex
	record models.AgentRecord

	memory *memory.Manager
	tracer Tracer
	config *Config
	logger *slog.Logger
}

// NewRuntime creates a runtime for one agent. A nil tracer degrades to
// log-only spans; a nil memory manager disables memory delegation.
func NewRuntime(id string, agentType models.AgentType, name string, mem *memory.Manager, tracer Tracer, config *Config, logger *slog.Logger) *Runtime {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("agent_id", id, "agent_name", name)
	if tracer == nil {
		tracer = NewLogTracer(logger)
	}

	return &Runtime{
		record: models.AgentRecord{
			ID:           id,
			Type:         agentType,
			Name:         name,
			Status:       models.AgentStatusIdle,
			LastActivity: time.Now().UTC(),
		},
		memory: mem,
		tracer: tracer,
		config: config,
		logger: logger,
	}
}

// ID returns the agent id.
func (r *Runtime) ID() string { return r.record.ID }

// Type returns the agent type.
func (r *Runtime) Type() models.AgentType { return r.record.Type }

// Name returns the agent name.
func (r *Runtime) Name() string { return r.record.Name }

// Execute runs impl with bounded retry and exponential backoff. Each
// failed attempt is logged, stored as a high-importance error memory
// and retried; once the budget is exhausted the last error propagates.
func (r *Runtime) Execute(ctx context.Context, wctx *models.WorkflowContext, impl PhaseFunc) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		span := r.startSpan(ctx, fmt.Sprintf("%s_execute", r.record.Type), map[string]interface{}{
			"workflow_id": wctx.WorkflowID,
			"attempt":     attempt,
		})

		err := impl(ctx, wctx)
		r.endSpan(span, err)
		if err == nil {
			return nil
		}

		lastErr = err
		r.logger.Error("agent execution failed",
			"attempt", attempt, "max_attempts", r.config.MaxAttempts, "error", err)
		r.HandleError(ctx, err, fmt.Sprintf("execution attempt %d", attempt))

		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.config.BaseDelay << (attempt - 1)
		r.logger.Info("retrying agent execution", "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("agent %s: %w", r.record.Name, ctx.Err())
		}
	}

	return fmt.Errorf("%w: agent %s failed after %d attempts: %v",
		ErrRetriesExhausted, r.record.Name, r.config.MaxAttempts, lastErr)
}

// startSpan shields execution from a misbehaving tracer.
func (r *Runtime) startSpan(ctx context.Context, name string, attrs map[string]interface{}) Span {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("tracer unavailable, continuing without tracing", "panic", rec)
		}
	}()
	return r.tracer.StartSpan(ctx, name, attrs)
}

func (r *Runtime) endSpan(span Span, err error) {
	if span == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("tracer failed closing span", "panic", rec)
		}
	}()
	span.End(err)
}

// StartTask transitions the agent to busy and records the task.
func (r *Runtime) StartTask(task string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record.Status = models.AgentStatusBusy
	r.record.CurrentTask = task
	r.record.Progress = 0
	r.record.LastActivity = time.Now().UTC()
	r.logger.Info("task started", "task", task)
}

// UpdateProgress sets task progress, clamped to [0,1].
func (r *Runtime) UpdateProgress(progress float64, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	r.record.Progress = progress
	r.record.LastActivity = time.Now().UTC()

	if message != "" {
		r.logger.Info("task progress", "progress", progress, "message", message)
	}
}

// CompleteTask transitions the agent to completed and stores the result
// summary as a task_result memory.
func (r *Runtime) CompleteTask(ctx context.Context, result string) {
	r.mu.Lock()
	r.record.Status = models.AgentStatusCompleted
	r.record.Progress = 1
	r.record.LastActivity = time.Now().UTC()
	task := r.record.CurrentTask
	r.mu.Unlock()

	r.logger.Info("task completed", "task", task)
	if result != "" {
		r.storeMemoryQuiet(ctx, result, "task_result", 0.8, nil)
	}
}

// HandleError transitions the agent to error and stores the failure as
// a high-importance error memory for later retrieval.
func (r *Runtime) HandleError(ctx context.Context, err error, errCtx string) {
	msg := fmt.Sprintf("Error in %s: %v", errCtx, err)

	r.mu.Lock()
	r.record.Status = models.AgentStatusError
	r.record.LastError = msg
	r.record.LastActivity = time.Now().UTC()
	r.mu.Unlock()

	r.logger.Error("agent error", "context", errCtx, "error", err)
	r.storeMemoryQuiet(ctx, msg, "error", 0.9, nil)
}

// Reset returns the agent to idle. Historical memories are untouched.
func (r *Runtime) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record.Status = models.AgentStatusIdle
	r.record.CurrentTask = ""
	r.record.Progress = 0
	r.record.LastError = ""
	r.record.LastActivity = time.Now().UTC()
	r.logger.Info("agent reset")
}

// StoreMemory delegates to the memory manager.
func (r *Runtime) StoreMemory(ctx context.Context, content, memType string, importance float64, metadata map[string]interface{}) (string, error) {
	if r.memory == nil {
		return "", nil
	}
	return r.memory.Store(ctx, content, memType, importance, metadata, r.record.ID)
}

// RetrieveMemories delegates to the memory manager.
func (r *Runtime) RetrieveMemories(ctx context.Context, query, memType string, limit int) ([]*models.MemoryEntry, error) {
	if r.memory == nil {
		return nil, nil
	}
	return r.memory.Retrieve(ctx, query, memType, limit, nil)
}

// RetrieveSimilarMemories delegates to the memory manager.
func (r *Runtime) RetrieveSimilarMemories(ctx context.Context, query string, limit int, threshold float64) ([]models.ScoredMemory, error) {
	if r.memory == nil {
		return nil, nil
	}
	return r.memory.RetrieveSimilar(ctx, query, limit, threshold)
}

// storeMemoryQuiet is used from lifecycle paths where a memory failure
// must not surface.
func (r *Runtime) storeMemoryQuiet(ctx context.Context, content, memType string, importance float64, metadata map[string]interface{}) {
	if _, err := r.StoreMemory(ctx, content, memType, importance, metadata); err != nil {
		r.logger.Warn("failed to store memory", "memory_type", memType, "error", err)
	}
}

// Record returns a copy of the agent's lifecycle record.
func (r *Runtime) Record() models.AgentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record
}

// Status returns the agent state as a plain key-value map.
func (r *Runtime) Status() map[string]interface{} {
	rec := r.Record()
	return map[string]interface{}{
		"agent_id":      rec.ID,
		"name":          rec.Name,
		"type":          string(rec.Type),
		"status":        string(rec.Status),
		"current_task":  rec.CurrentTask,
		"task_progress": rec.Progress,
		"last_activity": rec.LastActivity,
		"error_message": rec.LastError,
	}
}

// Health reports a coarse healthy/unhealthy view of the agent.
func (r *Runtime) Health() map[string]interface{} {
	rec := r.Record()
	health := "healthy"
	if rec.Status == models.AgentStatusError {
		health = "unhealthy"
	}
	return map[string]interface{}{
		"agent_id":   rec.ID,
		"status":     health,
		"last_error": rec.LastError,
		"idle_for":   time.Since(rec.LastActivity).Seconds(),
	}
}
