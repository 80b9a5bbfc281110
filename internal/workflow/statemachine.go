// Package workflow contains the phase state machine, the orchestrator
// that drives executions through it, and checkpoint persistence.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/draftforge/internal/models"
)

var (
	// ErrInvalidTransition is returned for an edge not in the phase graph.
	ErrInvalidTransition = errors.New("invalid workflow transition")
	// ErrCancelled aborts a run at a phase boundary.
	ErrCancelled = errors.New("workflow cancelled")
)

// PhaseHandler performs the external work of one working phase and
// records its output on the context. A returned error routes the
// workflow to the Error state; the state machine never retries.
type PhaseHandler func(ctx context.Context, wctx *models.WorkflowContext) error

// Gate is consulted at every phase boundary. It blocks while the
// execution is paused and returns ErrCancelled (or a context error) to
// abort; pause and cancel are advisory and take effect only here.
type Gate func(ctx context.Context, wctx *models.WorkflowContext) error

// transitions is the closed phase graph. Error is additionally
// reachable from every working phase.
var transitions = map[models.WorkflowState][]models.WorkflowState{
	models.StatePending:     {models.StateResearching},
	models.StateResearching: {models.StateWriting, models.StateError},
	models.StateWriting:     {models.StateEditing, models.StateError},
	models.StateEditing:     {models.StateCompleted, models.StateError},
}

// phaseOrder is the working-phase sequence from Pending to Completed.
var phaseOrder = []models.WorkflowState{
	models.StateResearching,
	models.StateWriting,
	models.StateEditing,
}

// phaseLabel names a phase in error messages.
var phaseLabel = map[models.WorkflowState]string{
	models.StateResearching: "Research",
	models.StateWriting:     "Writing",
	models.StateEditing:     "Editing",
}

// CanTransition reports whether from→to is an edge of the phase graph.
func CanTransition(from, to models.WorkflowState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateMachine drives one workflow context through the phase graph.
// Handlers default to simulated output until the orchestrator wires in
// agent-backed ones.
type StateMachine struct {
	mu       sync.RWMutex
	handlers map[models.WorkflowState]PhaseHandler
	logger   *slog.Logger
}

// NewStateMachine creates a state machine with simulated phase handlers
func NewStateMachine(logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	sm := &StateMachine{
		handlers: make(map[models.WorkflowState]PhaseHandler),
		logger:   logger.With("component", "state_machine"),
	}
	sm.handlers[models.StateResearching] = simulateResearch
	sm.handlers[models.StateWriting] = simulateWriting
	sm.handlers[models.StateEditing] = simulateEditing
	return sm
}

// SetHandler replaces the handler for a working phase.
func (sm *StateMachine) SetHandler(state models.WorkflowState, handler PhaseHandler) error {
	if _, ok := phaseLabel[state]; !ok {
		return fmt.Errorf("%w: %s is not a working phase", ErrInvalidTransition, state)
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if handler == nil {
		handler = defaultHandler(state)
	}
	sm.handlers[state] = handler
	return nil
}

func defaultHandler(state models.WorkflowState) PhaseHandler {
	switch state {
	case models.StateResearching:
		return simulateResearch
	case models.StateWriting:
		return simulateWriting
	default:
		return simulateEditing
	}
}

// NewContext allocates a fresh workflow context in the Pending state.
// An empty workflowID generates one.
func (sm *StateMachine) NewContext(workflowID, topic string, targetLength int, qualityThreshold float64) *models.WorkflowContext {
	if workflowID == "" {
		workflowID = fmt.Sprintf("workflow_%s", uuid.NewString()[:8])
	}
	now := time.Now().UTC()
	return &models.WorkflowContext{
		WorkflowID:       workflowID,
		Topic:            topic,
		TargetLength:     targetLength,
		QualityThreshold: qualityThreshold,
		CreatedAt:        now,
		UpdatedAt:        now,
		CurrentState:     models.StatePending,
	}
}

// Run drives the context from Pending to a terminal state. Phase errors
// are routed to the Error state on the context, not returned; the
// returned error is non-nil only for gate aborts (pause-then-cancel or
// context cancellation).
func (sm *StateMachine) Run(ctx context.Context, wctx *models.WorkflowContext, gate Gate) error {
	if wctx.CurrentState != models.StatePending {
		return fmt.Errorf("%w: run must start from %s, got %s",
			ErrInvalidTransition, models.StatePending, wctx.CurrentState)
	}

	for _, phase := range phaseOrder {
		if gate != nil {
			if err := gate(ctx, wctx); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := sm.transition(wctx, phase); err != nil {
			return err
		}

		sm.logger.Info("phase started", "workflow_id", wctx.WorkflowID, "phase", phase)
		if err := sm.handler(phase)(ctx, wctx); err != nil {
			wctx.ErrorMessage = fmt.Sprintf("%s failed: %v", phaseLabel[phase], err)
		}

		// Routing: an error message set by this phase ends the run.
		if wctx.ErrorMessage != "" {
			sm.logger.Error("phase failed", "workflow_id", wctx.WorkflowID,
				"phase", phase, "error", wctx.ErrorMessage)
			return sm.transition(wctx, models.StateError)
		}
		sm.logger.Info("phase completed", "workflow_id", wctx.WorkflowID, "phase", phase)
	}

	return sm.transition(wctx, models.StateCompleted)
}

// Execute allocates a fresh context and drives it to a terminal state.
func (sm *StateMachine) Execute(ctx context.Context, topic string, targetLength int, qualityThreshold float64) (*models.WorkflowContext, error) {
	wctx := sm.NewContext("", topic, targetLength, qualityThreshold)
	err := sm.Run(ctx, wctx, nil)
	return wctx, err
}

func (sm *StateMachine) handler(state models.WorkflowState) PhaseHandler {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.handlers[state]
}

func (sm *StateMachine) transition(wctx *models.WorkflowContext, to models.WorkflowState) error {
	if !CanTransition(wctx.CurrentState, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, wctx.CurrentState, to)
	}
	wctx.SetState(to)
	sm.logger.Debug("workflow transitioned", "workflow_id", wctx.WorkflowID, "state", to)
	return nil
}

// Simulated handlers stand in until real agents are registered.

func simulateResearch(ctx context.Context, wctx *models.WorkflowContext) error {
	wctx.Sources = []models.ResearchSource{{
		Title:          fmt.Sprintf("Overview of %s", wctx.Topic),
		URL:            "https://example.com",
		Content:        fmt.Sprintf("Background material on %s.", wctx.Topic),
		RelevanceScore: 0.9,
		WordCount:      5,
	}}
	wctx.KeyInsights = []string{
		fmt.Sprintf("Key insight on %s", wctx.Topic),
		fmt.Sprintf("Secondary insight on %s", wctx.Topic),
	}
	return nil
}

func simulateWriting(ctx context.Context, wctx *models.WorkflowContext) error {
	wctx.DraftContent = fmt.Sprintf("Draft content about %s targeting roughly %d words.",
		wctx.Topic, wctx.TargetLength)
	wctx.WordCount = len(strings.Fields(wctx.DraftContent))
	return nil
}

func simulateEditing(ctx context.Context, wctx *models.WorkflowContext) error {
	wctx.FinalContent = wctx.DraftContent + " [edited]"
	wctx.QualityScore = 0.85
	return nil
}
