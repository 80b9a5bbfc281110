package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/draftforge/draftforge/internal/models"
)

// Manager is the content-addressable memory service shared by all
// agents. Writes are deduplicated by SHA-256 content hash; similarity
// queries embed the query and rank every stored vector by cosine.
type Manager struct {
	store     Store
	embedding EmbeddingGenerator
	config    *Config
	logger    *slog.Logger
}

// NewManager creates a memory manager over the given store. When the
// config names no embedding provider, generation degrades to the
// deterministic fallback.
func NewManager(store Store, config *Config, logger *slog.Logger) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	var embedding EmbeddingGenerator
	if config.EmbeddingURL != "" {
		embedding = NewHTTPEmbedding(config)
	} else {
		logger.Warn("no embedding provider configured, using deterministic fallback")
		embedding = NewFallbackEmbedding(config.EmbeddingDimensions)
	}

	return &Manager{
		store:     store,
		embedding: embedding,
		config:    config,
		logger:    logger.With("component", "memory"),
	}
}

// HashContent returns the dedup key for a piece of text.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Store persists content and returns its hash. Storing identical text a
// second time is a no-op that returns the existing hash.
func (m *Manager) Store(ctx context.Context, content, memType string, importance float64, metadata map[string]interface{}, agentID string) (string, error) {
	hash := HashContent(content)

	if _, err := m.store.Get(ctx, hash); err == nil {
		m.logger.Debug("memory already stored", "content_hash", hash)
		return hash, nil
	}

	embedding, err := m.embedding.Generate(ctx, content)
	if err != nil {
		// Embedding failure must not fail the caller; fall back to a
		// deterministic vector and keep the write.
		m.logger.Error("embedding generation failed, using fallback", "error", err)
		embedding, _ = NewFallbackEmbedding(m.config.EmbeddingDimensions).Generate(ctx, content)
	}

	entry := &models.MemoryEntry{
		ContentHash: hash,
		Content:     content,
		Embedding:   embedding,
		Importance:  importance,
		Type:        memType,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
		AgentID:     agentID,
	}

	inserted, err := m.store.PutIfAbsent(ctx, entry)
	if err != nil {
		return "", fmt.Errorf("failed to store memory: %w", err)
	}
	if !inserted {
		// Lost the first-writer race; the existing entry wins.
		m.logger.Debug("memory stored concurrently by another writer", "content_hash", hash)
	}

	m.logger.Info("stored memory", "content_hash", hash, "memory_type", memType)
	return hash, nil
}

// Retrieve returns entries matching the query substring and filters,
// ranked by importance descending and truncated to limit.
func (m *Manager) Retrieve(ctx context.Context, query, memType string, limit int, filters *Filters) ([]*models.MemoryEntry, error) {
	entries, err := m.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	matched := make([]*models.MemoryEntry, 0, len(entries))
	for _, entry := range entries {
		if !matches(entry, query, memType, filters) {
			continue
		}
		matched = append(matched, entry)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Importance > matched[j].Importance
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// RetrieveSimilar embeds the query and returns entries whose cosine
// similarity is at least threshold, most similar first.
func (m *Manager) RetrieveSimilar(ctx context.Context, query string, limit int, threshold float64) ([]models.ScoredMemory, error) {
	queryEmbedding, err := m.embedding.Generate(ctx, query)
	if err != nil {
		m.logger.Error("query embedding failed, using fallback", "error", err)
		queryEmbedding, _ = NewFallbackEmbedding(m.config.EmbeddingDimensions).Generate(ctx, query)
	}

	entries, err := m.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	scored := make([]models.ScoredMemory, 0, len(entries))
	for _, entry := range entries {
		similarity := Cosine(queryEmbedding, entry.Embedding)
		if similarity >= threshold {
			scored = append(scored, models.ScoredMemory{Entry: entry, Similarity: similarity})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}

	m.logger.Debug("similarity search", "candidates", len(entries), "returned", len(scored))
	return scored, nil
}

// Get returns a single entry by content hash.
func (m *Manager) Get(ctx context.Context, hash string) (*models.MemoryEntry, error) {
	return m.store.Get(ctx, hash)
}

// Update applies field updates to one entry.
func (m *Manager) Update(ctx context.Context, hash string, updates Updates) error {
	entry, err := m.store.Get(ctx, hash)
	if err != nil {
		return err
	}

	if updates.Importance != nil {
		entry.Importance = *updates.Importance
	}
	if updates.Type != nil {
		entry.Type = *updates.Type
	}
	if updates.Metadata != nil {
		entry.Metadata = updates.Metadata
	}

	if err := m.store.Update(ctx, entry); err != nil {
		return fmt.Errorf("failed to update memory %s: %w", hash, err)
	}
	m.logger.Info("updated memory", "content_hash", hash)
	return nil
}

// Delete removes one entry by content hash.
func (m *Manager) Delete(ctx context.Context, hash string) error {
	if err := m.store.Delete(ctx, hash); err != nil {
		return err
	}
	m.logger.Info("deleted memory", "content_hash", hash)
	return nil
}

// Clear deletes all entries, or only those of memType when non-empty.
// It returns the number removed.
func (m *Manager) Clear(ctx context.Context, memType string) (int, error) {
	entries, err := m.store.All(ctx)
	if err != nil {
		return 0, err
	}

	cleared := 0
	for _, entry := range entries {
		if memType != "" && entry.Type != memType {
			continue
		}
		if err := m.store.Delete(ctx, entry.ContentHash); err != nil {
			return cleared, err
		}
		cleared++
	}

	m.logger.Info("cleared memories", "count", cleared, "memory_type", memType)
	return cleared, nil
}

// Stats reports entry counts in total and per memory type.
func (m *Manager) Stats(ctx context.Context) (map[string]interface{}, error) {
	entries, err := m.store.All(ctx)
	if err != nil {
		return nil, err
	}

	byType := make(map[string]int)
	for _, entry := range entries {
		byType[entry.Type]++
	}

	return map[string]interface{}{
		"total_memories": len(entries),
		"memory_types":   byType,
	}, nil
}

// Export writes every entry as JSON to w.
func (m *Manager) Export(ctx context.Context, w io.Writer) error {
	entries, err := m.store.All(ctx)
	if err != nil {
		return err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	export := map[string]interface{}{
		"exported_at": time.Now().UTC(),
		"memories":    entries,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// Cosine computes cos(a,b) = dot(a,b)/(|a|*|b|), defined as 0 when
// either vector has zero norm or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// matches applies the substring, type and structured filters to one entry.
func matches(entry *models.MemoryEntry, query, memType string, filters *Filters) bool {
	if query != "" && !strings.Contains(strings.ToLower(entry.Content), strings.ToLower(query)) {
		return false
	}
	if memType != "" && entry.Type != memType {
		return false
	}
	if filters == nil {
		return true
	}

	if filters.MinImportance != nil && entry.Importance < *filters.MinImportance {
		return false
	}
	if filters.MaxImportance != nil && entry.Importance > *filters.MaxImportance {
		return false
	}
	if filters.After != nil && entry.CreatedAt.Before(*filters.After) {
		return false
	}
	if filters.Before != nil && entry.CreatedAt.After(*filters.Before) {
		return false
	}
	if filters.AgentID != "" && entry.AgentID != filters.AgentID {
		return false
	}
	for key, want := range filters.Metadata {
		got, ok := entry.Metadata[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}
