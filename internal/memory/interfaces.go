package memory

import (
	"context"
	"errors"
	"time"

	"github.com/draftforge/draftforge/internal/models"
)

// ErrNotFound is returned when no entry exists for a content hash.
var ErrNotFound = errors.New("memory entry not found")

// Store persists memory entries keyed by content hash. Implementations
// must make PutIfAbsent atomic per hash so two concurrent first-writers
// of identical content cannot both insert.
type Store interface {
	// PutIfAbsent inserts the entry unless its hash is already present.
	// It reports whether the entry was inserted.
	PutIfAbsent(ctx context.Context, entry *models.MemoryEntry) (bool, error)

	// Get returns the entry for a content hash, or ErrNotFound.
	Get(ctx context.Context, hash string) (*models.MemoryEntry, error)

	// All returns every stored entry.
	All(ctx context.Context) ([]*models.MemoryEntry, error)

	// Update overwrites an existing entry; ErrNotFound if absent.
	Update(ctx context.Context, entry *models.MemoryEntry) error

	// Delete removes the entry for a hash; ErrNotFound if absent.
	Delete(ctx context.Context, hash string) error

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int64, error)

	// Close releases store resources.
	Close() error
}

// EmbeddingGenerator creates vector embeddings for text
type EmbeddingGenerator interface {
	// Generate creates an embedding vector for text
	Generate(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector dimensionality
	Dimensions() int
}

// Filters narrows a Retrieve call beyond the query substring
type Filters struct {
	MinImportance *float64
	MaxImportance *float64
	After         *time.Time
	Before        *time.Time
	Metadata      map[string]interface{} // equality on each key
	AgentID       string
}

// Updates lists the mutable fields of an entry. Content is fixed: it
// determines the hash, so changing it would change the entry's identity.
type Updates struct {
	Importance *float64
	Type       *string
	Metadata   map[string]interface{}
}

// Config holds memory manager configuration
type Config struct {
	// Embedding provider endpoint; empty means no provider is
	// configured and the deterministic fallback is used.
	EmbeddingURL   string
	EmbeddingModel string

	EmbeddingDimensions int

	// Requests per minute allowed against the embedding provider.
	EmbeddingRateLimit int

	// Timeout for one embedding request.
	EmbeddingTimeout time.Duration
}

// DefaultConfig returns default memory manager configuration
func DefaultConfig() *Config {
	return &Config{
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 256,
		EmbeddingRateLimit:  120,
		EmbeddingTimeout:    30 * time.Second,
	}
}
