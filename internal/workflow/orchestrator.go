package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/draftforge/internal/agent"
	"github.com/draftforge/draftforge/internal/hub"
	"github.com/draftforge/draftforge/internal/models"
)

var (
	// ErrUnknownExecution is returned for operations on an unknown execution id.
	ErrUnknownExecution = errors.New("execution not found")
	// ErrNotRunning is returned when work is submitted to a stopped orchestrator.
	ErrNotRunning = errors.New("orchestrator not running")
)

// orchestratorID is the sender id the orchestrator uses on the hub.
const orchestratorID = "orchestrator"

// taskTags maps task request tags to the agent type that serves them.
// The set is closed: an unrecognized tag is a dispatch error.
var taskTags = map[string]models.AgentType{
	"research": models.AgentTypeResearcher,
	"write":    models.AgentTypeWriter,
	"edit":     models.AgentTypeEditor,
}

// OrchestratorConfig holds orchestrator tuning knobs
type OrchestratorConfig struct {
	// MaxAttempts bounds whole-run retries: a run that ends in the
	// error state is re-submitted from scratch until the budget is spent.
	MaxAttempts int

	// RetryDelay is the fixed wait between whole-run attempts.
	RetryDelay time.Duration
}

// DefaultOrchestratorConfig returns default orchestrator configuration
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		MaxAttempts: 3,
		RetryDelay:  5 * time.Second,
	}
}

// execControl carries the advisory pause and cancel flags of one
// execution. Flag changes take effect at the next phase boundary.
type execControl struct {
	mu        sync.Mutex
	paused    bool
	cancelled bool
	changed   chan struct{}
}

func newExecControl() *execControl {
	return &execControl{changed: make(chan struct{})}
}

func (c *execControl) set(paused, cancelled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = paused
	c.cancelled = c.cancelled || cancelled
	close(c.changed)
	c.changed = make(chan struct{})
}

// gate blocks while paused and aborts once cancelled. The state machine
// calls it at every phase boundary.
func (c *execControl) gate(ctx context.Context, _ *models.WorkflowContext) error {
	for {
		c.mu.Lock()
		cancelled, paused := c.cancelled, c.paused
		changed := c.changed
		c.mu.Unlock()

		if cancelled {
			return ErrCancelled
		}
		if !paused {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Orchestrator owns the agent pool, submits workflow executions to the
// state machine, applies whole-run retries and checkpoints progress.
type Orchestrator struct {
	machine *StateMachine
	hub     *hub.Hub
	store   Persistence
	metrics *Metrics
	config  *OrchestratorConfig
	logger  *slog.Logger

	mu         sync.RWMutex
	agents     map[string]agent.PhaseAgent
	byType     map[models.AgentType]agent.PhaseAgent
	executions map[string]*models.WorkflowExecution
	controls   map[string]*execControl

	runMu   sync.Mutex
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. A nil persistence disables
// checkpointing; a nil hub creates a private one.
func NewOrchestrator(machine *StateMachine, h *hub.Hub, store Persistence, config *OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if machine == nil {
		machine = NewStateMachine(logger)
	}
	if h == nil {
		h = hub.New(nil, logger)
	}
	if config == nil {
		config = DefaultOrchestratorConfig()
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		machine:    machine,
		hub:        h,
		store:      store,
		metrics:    NewMetrics(),
		config:     config,
		logger:     logger.With("component", "orchestrator"),
		agents:     make(map[string]agent.PhaseAgent),
		byType:     make(map[models.AgentType]agent.PhaseAgent),
		executions: make(map[string]*models.WorkflowExecution),
		controls:   make(map[string]*execControl),
	}
}

// Hub exposes the orchestrator's message hub.
func (o *Orchestrator) Hub() *hub.Hub { return o.hub }

// RegisterAgent adds the agent to the pool, registers it on the hub and,
// for phase agents, wires its Execute as the phase handler.
func (o *Orchestrator) RegisterAgent(a agent.PhaseAgent) error {
	if err := o.hub.RegisterAgent(a.ID(), a.Name(), o.agentHandler(a)); err != nil {
		return err
	}

	o.mu.Lock()
	o.agents[a.ID()] = a
	o.byType[a.Type()] = a
	o.mu.Unlock()

	if phase, ok := phaseForType(a.Type()); ok {
		if err := o.machine.SetHandler(phase, a.Execute); err != nil {
			return err
		}
	}

	o.logger.Info("agent registered", "agent_id", a.ID(), "type", a.Type())
	return nil
}

// UnregisterAgent removes the agent; its phase handler reverts to the
// built-in simulation.
func (o *Orchestrator) UnregisterAgent(agentID string) error {
	o.mu.Lock()
	a, ok := o.agents[agentID]
	if ok {
		delete(o.agents, agentID)
		if o.byType[a.Type()] == a {
			delete(o.byType, a.Type())
		}
	}
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", hub.ErrUnknownAgent, agentID)
	}

	if phase, ok := phaseForType(a.Type()); ok {
		if err := o.machine.SetHandler(phase, nil); err != nil {
			return err
		}
	}
	return o.hub.UnregisterAgent(agentID)
}

func phaseForType(t models.AgentType) (models.WorkflowState, bool) {
	switch t {
	case models.AgentTypeResearcher:
		return models.StateResearching, true
	case models.AgentTypeWriter:
		return models.StateWriting, true
	case models.AgentTypeEditor:
		return models.StateEditing, true
	default:
		return "", false
	}
}

// agentHandler builds the hub handler for one agent. Dispatch is a
// closed switch over the message type; anything else is an error, never
// a silent fallthrough.
func (o *Orchestrator) agentHandler(a agent.PhaseAgent) hub.Handler {
	return func(ctx context.Context, msg *models.Message) error {
		switch msg.Type {
		case models.MessageTypeTaskRequest:
			return o.handleTaskRequest(a, msg)
		case models.MessageTypeTaskResponse:
			o.logger.Debug("task response received",
				"agent_id", a.ID(), "sender_id", msg.SenderID)
			return nil
		case models.MessageTypeStatusUpdate:
			o.logger.Debug("status update received",
				"agent_id", a.ID(), "sender_id", msg.SenderID, "payload", msg.Payload)
			return nil
		case models.MessageTypeError:
			o.logger.Warn("error notification received",
				"agent_id", a.ID(), "sender_id", msg.SenderID, "payload", msg.Payload)
			return nil
		case models.MessageTypeMemoryShare, models.MessageTypeWorkflowEvent, models.MessageTypeCoordination:
			o.logger.Debug("informational message received",
				"agent_id", a.ID(), "message_type", msg.Type)
			return nil
		default:
			return fmt.Errorf("unknown message type %q for agent %s", msg.Type, a.ID())
		}
	}
}

// handleTaskRequest validates the task tag against the closed tag set
// and the recipient's role, then acknowledges with a task response.
func (o *Orchestrator) handleTaskRequest(a agent.PhaseAgent, msg *models.Message) error {
	tag, _ := msg.Payload["task_type"].(string)
	wantType, ok := taskTags[tag]
	if !ok {
		return fmt.Errorf("unknown task type %q in request %s", tag, msg.ID)
	}
	if wantType != a.Type() {
		return fmt.Errorf("task type %q routed to %s agent %s", tag, a.Type(), a.ID())
	}

	reply := &models.Message{
		ID:          uuid.NewString(),
		SenderID:    a.ID(),
		RecipientID: msg.SenderID,
		Type:        models.MessageTypeTaskResponse,
		Priority:    models.PriorityNormal,
		Payload: map[string]interface{}{
			"request_id": msg.ID,
			"task_type":  tag,
			"accepted":   true,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := o.hub.Send(reply); err != nil {
		o.logger.Warn("failed to acknowledge task request",
			"request_id", msg.ID, "error", err)
	}
	return nil
}

// Start launches the hub dispatch loop and accepts executions.
func (o *Orchestrator) Start() {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	if o.running {
		return
	}
	o.baseCtx, o.cancel = context.WithCancel(context.Background())
	o.running = true
	o.hub.Start()
	o.logger.Info("orchestrator started")
}

// Stop cancels in-flight executions, waits for them to settle and stops
// the hub.
func (o *Orchestrator) Stop() {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	if !o.running {
		return
	}
	o.cancel()
	o.wg.Wait()
	o.hub.Stop()
	o.running = false
	o.logger.Info("orchestrator stopped")
}

// Running reports whether executions are being accepted.
func (o *Orchestrator) Running() bool {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.running
}

// ExecuteWorkflow submits a workflow and returns its execution id
// immediately; the run proceeds in the background.
func (o *Orchestrator) ExecuteWorkflow(topic string, targetLength int, qualityThreshold float64) (string, error) {
	o.runMu.Lock()
	if !o.running {
		o.runMu.Unlock()
		return "", ErrNotRunning
	}
	runCtx := o.baseCtx
	o.runMu.Unlock()

	executionID := fmt.Sprintf("exec_%s", uuid.NewString()[:8])
	workflowID := fmt.Sprintf("workflow_%s", uuid.NewString()[:8])

	exec := &models.WorkflowExecution{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Status:      models.ExecutionPending,
		StartTime:   time.Now().UTC(),
		Metadata: map[string]interface{}{
			"topic":             topic,
			"target_length":     targetLength,
			"quality_threshold": qualityThreshold,
		},
	}
	ctl := newExecControl()

	o.mu.Lock()
	o.executions[executionID] = exec
	o.controls[executionID] = ctl
	o.mu.Unlock()

	o.metrics.RecordStart()
	o.logger.Info("workflow submitted",
		"execution_id", executionID, "workflow_id", workflowID, "topic", topic)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runExecution(runCtx, exec, ctl, topic, targetLength, qualityThreshold)
	}()

	return executionID, nil
}

// runExecution drives one execution to a final status, re-running the
// whole workflow on error-state runs until the attempt budget is spent.
func (o *Orchestrator) runExecution(ctx context.Context, exec *models.WorkflowExecution, ctl *execControl, topic string, targetLength int, qualityThreshold float64) {
	o.updateExecution(exec.ExecutionID, func(e *models.WorkflowExecution) {
		e.Status = models.ExecutionRunning
	})
	o.broadcastEvent(exec, "workflow_started", "")

	var wctx *models.WorkflowContext
	for attempt := 1; attempt <= o.config.MaxAttempts; attempt++ {
		// Whole-run retry: every attempt starts from a fresh context
		// under the same workflow id.
		wctx = o.machine.NewContext(exec.WorkflowID, topic, targetLength, qualityThreshold)
		o.checkpoint(wctx, StatusActive)

		err := o.machine.Run(ctx, wctx, ctl.gate)
		if err != nil {
			o.finishAborted(exec, wctx, err)
			return
		}

		if wctx.CurrentState == models.StateCompleted {
			o.checkpoint(wctx, StatusCompleted)
			o.updateExecution(exec.ExecutionID, func(e *models.WorkflowExecution) {
				now := time.Now().UTC()
				e.Status = models.ExecutionCompleted
				e.EndTime = &now
				e.Progress = 1.0
			})
			o.metrics.RecordCompletion(time.Since(exec.StartTime))
			o.broadcastEvent(exec, "workflow_completed", "")
			o.logger.Info("workflow completed",
				"execution_id", exec.ExecutionID, "attempt", attempt,
				"quality_score", wctx.QualityScore)
			return
		}

		// The run ended in the error state; retry if budget remains.
		o.logger.Warn("workflow attempt failed",
			"execution_id", exec.ExecutionID, "attempt", attempt,
			"max_attempts", o.config.MaxAttempts, "error", wctx.ErrorMessage)
		if attempt == o.config.MaxAttempts {
			break
		}
		select {
		case <-time.After(o.config.RetryDelay):
		case <-ctx.Done():
			o.finishAborted(exec, wctx, ctx.Err())
			return
		}
	}

	o.checkpoint(wctx, StatusFailed)
	o.updateExecution(exec.ExecutionID, func(e *models.WorkflowExecution) {
		now := time.Now().UTC()
		e.Status = models.ExecutionError
		e.EndTime = &now
		e.ErrorMessage = wctx.ErrorMessage
	})
	o.metrics.RecordFailure(time.Since(exec.StartTime))
	o.broadcastEvent(exec, "workflow_failed", wctx.ErrorMessage)
	o.logger.Error("workflow failed",
		"execution_id", exec.ExecutionID, "error", wctx.ErrorMessage)
}

// finishAborted settles an execution stopped at a gate: cancellation or
// shutdown of the orchestrator context.
func (o *Orchestrator) finishAborted(exec *models.WorkflowExecution, wctx *models.WorkflowContext, cause error) {
	o.checkpoint(wctx, StatusFailed)

	status := models.ExecutionError
	if errors.Is(cause, ErrCancelled) {
		status = models.ExecutionCancelled
	}
	o.updateExecution(exec.ExecutionID, func(e *models.WorkflowExecution) {
		now := time.Now().UTC()
		e.Status = status
		e.EndTime = &now
		e.ErrorMessage = cause.Error()
	})
	if errors.Is(cause, ErrCancelled) {
		o.metrics.RecordCancellation()
	} else {
		o.metrics.RecordFailure(time.Since(exec.StartTime))
	}
	o.broadcastEvent(exec, "workflow_aborted", cause.Error())
	o.logger.Info("workflow aborted",
		"execution_id", exec.ExecutionID, "cause", cause)
}

// checkpoint persists the run state; persistence failures are logged,
// never fatal to the run.
func (o *Orchestrator) checkpoint(wctx *models.WorkflowContext, status string) {
	if o.store == nil || wctx == nil {
		return
	}
	if err := o.store.Save(context.Background(), wctx, status); err != nil {
		o.logger.Warn("failed to checkpoint workflow",
			"workflow_id", wctx.WorkflowID, "status", status, "error", err)
	}
}

// broadcastEvent fans a workflow event out to every registered agent.
func (o *Orchestrator) broadcastEvent(exec *models.WorkflowExecution, event, detail string) {
	payload := map[string]interface{}{
		"event":        event,
		"execution_id": exec.ExecutionID,
		"workflow_id":  exec.WorkflowID,
	}
	if detail != "" {
		payload["detail"] = detail
	}
	o.hub.Broadcast(&models.Message{
		SenderID:  orchestratorID,
		Type:      models.MessageTypeWorkflowEvent,
		Priority:  models.PriorityNormal,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}, false)
}

// PauseWorkflow requests a pause; the run holds at its next phase boundary.
func (o *Orchestrator) PauseWorkflow(executionID string) error {
	ctl, exec, err := o.lookup(executionID)
	if err != nil {
		return err
	}
	if exec.Status != models.ExecutionRunning {
		return fmt.Errorf("execution %s is %s, not running", executionID, exec.Status)
	}

	ctl.set(true, false)
	o.updateExecution(executionID, func(e *models.WorkflowExecution) {
		e.Status = models.ExecutionPaused
	})
	o.logger.Info("workflow paused", "execution_id", executionID)
	return nil
}

// ResumeWorkflow releases a paused execution.
func (o *Orchestrator) ResumeWorkflow(executionID string) error {
	ctl, exec, err := o.lookup(executionID)
	if err != nil {
		return err
	}
	if exec.Status != models.ExecutionPaused {
		return fmt.Errorf("execution %s is %s, not paused", executionID, exec.Status)
	}

	ctl.set(false, false)
	o.updateExecution(executionID, func(e *models.WorkflowExecution) {
		e.Status = models.ExecutionRunning
	})
	o.logger.Info("workflow resumed", "execution_id", executionID)
	return nil
}

// CancelWorkflow requests cancellation; the run aborts at its next
// phase boundary. A paused run is released so it can observe the flag.
func (o *Orchestrator) CancelWorkflow(executionID string) error {
	ctl, exec, err := o.lookup(executionID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return fmt.Errorf("execution %s already %s", executionID, exec.Status)
	}

	ctl.set(false, true)
	o.logger.Info("workflow cancellation requested", "execution_id", executionID)
	return nil
}

func (o *Orchestrator) lookup(executionID string) (*execControl, models.WorkflowExecution, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	ctl, ok := o.controls[executionID]
	if !ok {
		return nil, models.WorkflowExecution{}, fmt.Errorf("%w: %s", ErrUnknownExecution, executionID)
	}
	return ctl, *o.executions[executionID], nil
}

// updateExecution mutates one execution record under the write lock.
// Terminal records are immutable: a pause or resume racing the end of a
// run must not overwrite the final status.
func (o *Orchestrator) updateExecution(executionID string, mutate func(*models.WorkflowExecution)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	exec, ok := o.executions[executionID]
	if !ok || exec.Status.Terminal() {
		return
	}
	mutate(exec)
}

// GetWorkflowStatus returns a snapshot of one execution.
func (o *Orchestrator) GetWorkflowStatus(executionID string) (models.WorkflowExecution, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	exec, ok := o.executions[executionID]
	if !ok {
		return models.WorkflowExecution{}, fmt.Errorf("%w: %s", ErrUnknownExecution, executionID)
	}
	return *exec, nil
}

// GetAllWorkflows returns snapshots of every tracked execution, newest
// submitted first.
func (o *Orchestrator) GetAllWorkflows() []models.WorkflowExecution {
	o.mu.RLock()
	out := make([]models.WorkflowExecution, 0, len(o.executions))
	for _, exec := range o.executions {
		out = append(out, *exec)
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

// AgentStatuses returns the state of every registered agent.
func (o *Orchestrator) AgentStatuses() []map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]map[string]interface{}, 0, len(o.agents))
	for _, a := range o.agents {
		out = append(out, a.Status())
	}
	return out
}

// Status returns an orchestrator snapshot as a plain key-value map.
func (o *Orchestrator) Status() map[string]interface{} {
	o.mu.RLock()
	active := 0
	for _, exec := range o.executions {
		if exec.Status == models.ExecutionRunning || exec.Status == models.ExecutionPaused {
			active++
		}
	}
	total := len(o.executions)
	agents := len(o.agents)
	o.mu.RUnlock()

	return map[string]interface{}{
		"running":           o.Running(),
		"registered_agents": agents,
		"active_workflows":  active,
		"total_workflows":   total,
		"hub":               o.hub.Status(),
		"metrics":           o.metrics.Snapshot(),
	}
}

// Metrics exposes the orchestrator's metrics collector.
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }
