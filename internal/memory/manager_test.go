package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(NewInMemoryStore(), DefaultConfig(), nil)
}

// TestStoreAndGet tests the basic store/retrieve round trip
func TestStoreAndGet(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	hash, err := m.Store(ctx, "solar adoption is accelerating", "research", 0.7,
		map[string]interface{}{"topic": "energy"}, "researcher-1")
	require.NoError(t, err)
	assert.Equal(t, HashContent("solar adoption is accelerating"), hash)

	entry, err := m.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "research", entry.Type)
	assert.Equal(t, 0.7, entry.Importance)
	assert.Equal(t, "researcher-1", entry.AgentID)
	assert.NotEmpty(t, entry.Embedding)
}

// TestStoreDeduplicates tests that identical content stored twice yields
// one entry under one hash, keeping the original attributes
func TestStoreDeduplicates(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	first, err := m.Store(ctx, "same text", "research", 0.7, nil, "agent-a")
	require.NoError(t, err)
	second, err := m.Store(ctx, "same text", "editing", 0.2, nil, "agent-b")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["total_memories"])

	entry, err := m.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "research", entry.Type, "first write wins")
	assert.Equal(t, 0.7, entry.Importance)
}

// TestConcurrentStoreSameContent tests that racing writers of identical
// content produce exactly one entry
func TestConcurrentStoreSameContent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Store(ctx, "racy content", "research", 0.5, nil, "agent")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["total_memories"])
}

// TestRetrieve tests substring matching, type filtering and importance order
func TestRetrieve(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Store(ctx, "wind turbines in the north sea", "research", 0.5, nil, "a")
	require.NoError(t, err)
	_, err = m.Store(ctx, "wind power subsidies", "research", 0.9, nil, "a")
	require.NoError(t, err)
	_, err = m.Store(ctx, "wind section draft", "content_plan", 0.8, nil, "b")
	require.NoError(t, err)

	got, err := m.Retrieve(ctx, "wind", "research", 10, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "wind power subsidies", got[0].Content, "highest importance first")

	got, err = m.Retrieve(ctx, "wind", "", 2, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2, "limit truncates")

	minImp := 0.85
	got, err = m.Retrieve(ctx, "", "", 0, &Filters{MinImportance: &minImp})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

// TestRetrieveSimilar tests cosine ranking and thresholding
func TestRetrieveSimilar(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Store(ctx, "an exact phrase to find", "research", 0.5, nil, "a")
	require.NoError(t, err)
	_, err = m.Store(ctx, "something else entirely", "research", 0.5, nil, "a")
	require.NoError(t, err)

	// The fallback embedding is deterministic, so the identical text
	// scores cosine 1 against itself.
	got, err := m.RetrieveSimilar(ctx, "an exact phrase to find", 10, 0.99)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "an exact phrase to find", got[0].Entry.Content)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)

	// A threshold above 1 can match nothing.
	got, err = m.RetrieveSimilar(ctx, "an exact phrase to find", 10, 1.1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// TestCosine tests the cosine definition including its zero cases
func TestCosine(t *testing.T) {
	a := []float32{1, 0, 2}

	assert.InDelta(t, 1.0, Cosine(a, a), 1e-9)
	assert.Equal(t, 0.0, Cosine(a, []float32{0, 0, 0}), "zero norm")
	assert.Equal(t, 0.0, Cosine(a, []float32{1, 2}), "length mismatch")
	assert.Equal(t, 0.0, Cosine(nil, nil), "empty vectors")
	assert.InDelta(t, -1.0, Cosine(a, []float32{-1, 0, -2}), 1e-9)
}

// TestFallbackEmbeddingDeterminism tests that the fallback embeds equal
// text identically and different text differently
func TestFallbackEmbeddingDeterminism(t *testing.T) {
	gen := NewFallbackEmbedding(64)
	ctx := context.Background()

	first, err := gen.Generate(ctx, "repeatable")
	require.NoError(t, err)
	second, err := gen.Generate(ctx, "repeatable")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	other, err := gen.Generate(ctx, "different")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

// TestUpdateAndDelete tests field updates and removal by hash
func TestUpdateAndDelete(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	hash, err := m.Store(ctx, "mutable entry", "research", 0.4, nil, "a")
	require.NoError(t, err)

	importance := 0.95
	newType := "error"
	require.NoError(t, m.Update(ctx, hash, Updates{Importance: &importance, Type: &newType}))

	entry, err := m.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 0.95, entry.Importance)
	assert.Equal(t, "error", entry.Type)

	require.NoError(t, m.Delete(ctx, hash))
	_, err = m.Get(ctx, hash)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, m.Delete(ctx, hash), ErrNotFound)
}

// TestClear tests clearing by type and clearing everything
func TestClear(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Store(ctx, "entry one", "research", 0.5, nil, "a")
	require.NoError(t, err)
	_, err = m.Store(ctx, "entry two", "research", 0.5, nil, "a")
	require.NoError(t, err)
	_, err = m.Store(ctx, "entry three", "editing", 0.5, nil, "a")
	require.NoError(t, err)

	cleared, err := m.Clear(ctx, "research")
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)

	cleared, err = m.Clear(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats["total_memories"])
}

// TestExport tests the JSON export envelope
func TestExport(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Store(ctx, "exported entry", "research", 0.5, nil, "a")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Export(ctx, &buf))

	var out struct {
		ExportedAt time.Time         `json:"exported_at"`
		Memories   []json.RawMessage `json:"memories"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.False(t, out.ExportedAt.IsZero())
	assert.Len(t, out.Memories, 1)
}
