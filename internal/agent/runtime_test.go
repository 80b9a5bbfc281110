package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/internal/memory"
	"github.com/draftforge/draftforge/internal/models"
)

func fastConfig() *Config {
	return &Config{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func newTestRuntime(t *testing.T, mem *memory.Manager) *Runtime {
	t.Helper()
	return NewRuntime("agent-1", models.AgentTypeResearcher, "Test Agent", mem, nil, fastConfig(), nil)
}

func newTestMemory() *memory.Manager {
	return memory.NewManager(memory.NewInMemoryStore(), memory.DefaultConfig(), nil)
}

// TestExecuteSucceedsFirstAttempt tests that a passing phase runs once
func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	r := newTestRuntime(t, nil)
	wctx := &models.WorkflowContext{WorkflowID: "wf-1", Topic: "solar"}

	calls := 0
	err := r.Execute(context.Background(), wctx, func(ctx context.Context, w *models.WorkflowContext) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

// TestExecuteRetriesThenSucceeds tests recovery within the attempt budget
func TestExecuteRetriesThenSucceeds(t *testing.T) {
	r := newTestRuntime(t, nil)
	wctx := &models.WorkflowContext{WorkflowID: "wf-1", Topic: "solar"}

	calls := 0
	err := r.Execute(context.Background(), wctx, func(ctx context.Context, w *models.WorkflowContext) error {
		calls++
		if calls < 3 {
			return errors.New("transient failure")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

// TestExecuteExhaustsRetries tests that the budget bounds attempts and the
// final error wraps ErrRetriesExhausted
func TestExecuteExhaustsRetries(t *testing.T) {
	r := newTestRuntime(t, nil)
	wctx := &models.WorkflowContext{WorkflowID: "wf-1", Topic: "solar"}

	calls := 0
	err := r.Execute(context.Background(), wctx, func(ctx context.Context, w *models.WorkflowContext) error {
		calls++
		return errors.New("persistent failure")
	})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Contains(t, err.Error(), "persistent failure")
	assert.Equal(t, 3, calls)
	assert.Equal(t, models.AgentStatusError, r.Record().Status)
}

// TestExecuteStopsOnContextCancel tests that backoff respects cancellation
func TestExecuteStopsOnContextCancel(t *testing.T) {
	r := NewRuntime("agent-1", models.AgentTypeWriter, "Slow Agent", nil, nil,
		&Config{MaxAttempts: 3, BaseDelay: time.Minute}, nil)
	wctx := &models.WorkflowContext{WorkflowID: "wf-1"}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := r.Execute(ctx, wctx, func(ctx context.Context, w *models.WorkflowContext) error {
		return errors.New("fails, then waits a minute")
	})
	require.ErrorIs(t, err, context.Canceled)
}

// TestExecuteStoresErrorMemories tests that each failed attempt leaves a
// high-importance error memory
func TestExecuteStoresErrorMemories(t *testing.T) {
	mem := newTestMemory()
	r := newTestRuntime(t, mem)
	wctx := &models.WorkflowContext{WorkflowID: "wf-1"}
	ctx := context.Background()

	calls := 0
	_ = r.Execute(ctx, wctx, func(ctx context.Context, w *models.WorkflowContext) error {
		calls++
		return errors.New("attempt failure")
	})
	require.Equal(t, 3, calls)

	entries, err := mem.Retrieve(ctx, "", "error", 0, nil)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, 0.9, entries[0].Importance)
}

// TestLifecycle tests the idle→busy→completed progression and reset
func TestLifecycle(t *testing.T) {
	mem := newTestMemory()
	r := newTestRuntime(t, mem)
	ctx := context.Background()

	assert.Equal(t, models.AgentStatusIdle, r.Record().Status)

	r.StartTask("researching solar")
	rec := r.Record()
	assert.Equal(t, models.AgentStatusBusy, rec.Status)
	assert.Equal(t, "researching solar", rec.CurrentTask)
	assert.Equal(t, 0.0, rec.Progress)

	r.CompleteTask(ctx, "found 3 sources")
	rec = r.Record()
	assert.Equal(t, models.AgentStatusCompleted, rec.Status)
	assert.Equal(t, 1.0, rec.Progress)

	results, err := mem.Retrieve(ctx, "", "task_result", 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.8, results[0].Importance)

	r.Reset()
	rec = r.Record()
	assert.Equal(t, models.AgentStatusIdle, rec.Status)
	assert.Empty(t, rec.CurrentTask)
}

// TestUpdateProgressClamps tests the [0,1] clamp
func TestUpdateProgressClamps(t *testing.T) {
	r := newTestRuntime(t, nil)

	r.UpdateProgress(-0.5, "")
	assert.Equal(t, 0.0, r.Record().Progress)

	r.UpdateProgress(1.7, "")
	assert.Equal(t, 1.0, r.Record().Progress)

	r.UpdateProgress(0.42, "")
	assert.Equal(t, 0.42, r.Record().Progress)
}

// TestHealth tests the coarse health view
func TestHealth(t *testing.T) {
	r := newTestRuntime(t, nil)
	assert.Equal(t, "healthy", r.Health()["status"])

	r.HandleError(context.Background(), errors.New("boom"), "test")
	assert.Equal(t, "unhealthy", r.Health()["status"])
}

// TestMemoryDelegationWithoutManager tests that a nil memory manager
// degrades to no-ops instead of panicking
func TestMemoryDelegationWithoutManager(t *testing.T) {
	r := newTestRuntime(t, nil)
	ctx := context.Background()

	hash, err := r.StoreMemory(ctx, "content", "research", 0.5, nil)
	require.NoError(t, err)
	assert.Empty(t, hash)

	entries, err := r.RetrieveMemories(ctx, "q", "", 5)
	require.NoError(t, err)
	assert.Nil(t, entries)

	scored, err := r.RetrieveSimilarMemories(ctx, "q", 5, 0.5)
	require.NoError(t, err)
	assert.Nil(t, scored)
}
