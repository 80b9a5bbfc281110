package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/internal/models"
)

func newTestPersistence(t *testing.T) *BadgerPersistence {
	t.Helper()
	p, err := NewBadgerPersistence("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func checkpointState(workflowID string, state models.WorkflowState) *models.WorkflowContext {
	return &models.WorkflowContext{
		WorkflowID:   workflowID,
		Topic:        "test topic",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
		CurrentState: state,
	}
}

// TestSaveAndLoad tests the save/load round trip across partitions
func TestSaveAndLoad(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	state := checkpointState("wf-1", models.StateResearching)
	require.NoError(t, p.Save(ctx, state, StatusActive))

	cp, err := p.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", cp.WorkflowID)
	assert.Equal(t, StatusActive, cp.Status)
	assert.Equal(t, models.StateResearching, cp.State.CurrentState)
	assert.Equal(t, "test topic", cp.State.Topic)

	_, err = p.Load(ctx, "wf-missing")
	require.ErrorIs(t, err, ErrCheckpointNotFound)
}

// TestSaveRejectsUnknownStatus tests partition validation
func TestSaveRejectsUnknownStatus(t *testing.T) {
	p := newTestPersistence(t)

	err := p.Save(context.Background(), checkpointState("wf-1", models.StatePending), "limbo")
	require.ErrorIs(t, err, ErrUnknownStatus)
}

// TestSaveMovesAcrossPartitions tests that re-saving under a new status
// leaves exactly one copy
func TestSaveMovesAcrossPartitions(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.Save(ctx, checkpointState("wf-1", models.StateWriting), StatusActive))
	require.NoError(t, p.Save(ctx, checkpointState("wf-1", models.StateCompleted), StatusCompleted))

	stats, err := p.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats[StatusActive])
	assert.Equal(t, 1, stats[StatusCompleted])

	cp, err := p.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, cp.Status)
}

// TestUpdateStatus tests moving a checkpoint between partitions
func TestUpdateStatus(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.Save(ctx, checkpointState("wf-1", models.StateError), StatusActive))
	require.NoError(t, p.UpdateStatus(ctx, "wf-1", StatusFailed))

	cp, err := p.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, cp.Status)
	assert.Equal(t, models.StateError, cp.State.CurrentState, "state snapshot survives the move")

	// Moving to the partition it already occupies is a no-op.
	require.NoError(t, p.UpdateStatus(ctx, "wf-1", StatusFailed))

	require.ErrorIs(t, p.UpdateStatus(ctx, "wf-missing", StatusFailed), ErrCheckpointNotFound)
	require.ErrorIs(t, p.UpdateStatus(ctx, "wf-1", "limbo"), ErrUnknownStatus)
}

// TestList tests per-partition and all-partition listing, newest first
func TestList(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.Save(ctx, checkpointState("wf-old", models.StateCompleted), StatusCompleted))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, p.Save(ctx, checkpointState("wf-new", models.StateCompleted), StatusCompleted))
	require.NoError(t, p.Save(ctx, checkpointState("wf-active", models.StateWriting), StatusActive))

	completed, err := p.List(ctx, StatusCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 2)
	assert.Equal(t, "wf-new", completed[0].WorkflowID, "newest saved first")
	assert.Equal(t, "wf-old", completed[1].WorkflowID)

	all, err := p.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = p.List(ctx, "limbo")
	require.ErrorIs(t, err, ErrUnknownStatus)
}

// TestArchiveAndCleanup tests archival and age-based deletion
func TestArchiveAndCleanup(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.Save(ctx, checkpointState("wf-1", models.StateCompleted), StatusCompleted))
	require.NoError(t, p.Archive(ctx, "wf-1"))

	stats, err := p.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[StatusArchived])
	assert.Equal(t, 0, stats[StatusCompleted])

	// A generous cutoff keeps the fresh checkpoint.
	removed, err := p.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	// A zero cutoff removes everything archived so far.
	time.Sleep(2 * time.Millisecond)
	removed, err = p.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = p.Load(ctx, "wf-1")
	require.ErrorIs(t, err, ErrCheckpointNotFound)
}

// TestStatistics tests the per-partition counts
func TestStatistics(t *testing.T) {
	p := newTestPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.Save(ctx, checkpointState("wf-1", models.StateWriting), StatusActive))
	require.NoError(t, p.Save(ctx, checkpointState("wf-2", models.StateCompleted), StatusCompleted))
	require.NoError(t, p.Save(ctx, checkpointState("wf-3", models.StateError), StatusFailed))

	stats, err := p.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[StatusActive])
	assert.Equal(t, 1, stats[StatusCompleted])
	assert.Equal(t, 1, stats[StatusFailed])
	assert.Equal(t, 0, stats[StatusArchived])
}
