package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/draftforge/draftforge/internal/models"
)

// SQLiteStore is a durable Store backed by a local SQLite database.
// PutIfAbsent relies on INSERT OR IGNORE against the hash primary key,
// so the check and the insert are one statement.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory_entries (
		content_hash TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		embedding TEXT NOT NULL,
		importance_score REAL NOT NULL,
		memory_type TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME NOT NULL,
		agent_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_memory_type ON memory_entries(memory_type);
	CREATE INDEX IF NOT EXISTS idx_created_at ON memory_entries(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// PutIfAbsent inserts the entry unless its hash is already present.
func (s *SQLiteStore) PutIfAbsent(ctx context.Context, entry *models.MemoryEntry) (bool, error) {
	embeddingJSON, err := json.Marshal(entry.Embedding)
	if err != nil {
		return false, fmt.Errorf("failed to marshal embedding: %w", err)
	}
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO memory_entries (
			content_hash, content, embedding, importance_score,
			memory_type, metadata, created_at, agent_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ContentHash,
		entry.Content,
		string(embeddingJSON),
		entry.Importance,
		entry.Type,
		string(metadataJSON),
		entry.CreatedAt,
		entry.AgentID,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Get returns the entry for a content hash, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, hash string) (*models.MemoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT content_hash, content, embedding, importance_score,
		       memory_type, metadata, created_at, agent_id
		FROM memory_entries WHERE content_hash = ?`, hash)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return entry, err
}

// All returns every stored entry.
func (s *SQLiteStore) All(ctx context.Context) ([]*models.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, content, embedding, importance_score,
		       memory_type, metadata, created_at, agent_id
		FROM memory_entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Update overwrites an existing entry.
func (s *SQLiteStore) Update(ctx context.Context, entry *models.MemoryEntry) error {
	embeddingJSON, err := json.Marshal(entry.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE memory_entries
		SET content = ?, embedding = ?, importance_score = ?,
		    memory_type = ?, metadata = ?, agent_id = ?
		WHERE content_hash = ?`,
		entry.Content,
		string(embeddingJSON),
		entry.Importance,
		entry.Type,
		string(metadataJSON),
		entry.AgentID,
		entry.ContentHash,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the entry for a hash.
func (s *SQLiteStore) Delete(ctx context.Context, hash string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE content_hash = ?`, hash)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of stored entries.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_entries`).Scan(&count)
	return count, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*models.MemoryEntry, error) {
	var (
		entry         models.MemoryEntry
		embeddingJSON string
		metadataJSON  sql.NullString
		agentID       sql.NullString
		createdAt     time.Time
	)

	err := row.Scan(
		&entry.ContentHash,
		&entry.Content,
		&embeddingJSON,
		&entry.Importance,
		&entry.Type,
		&metadataJSON,
		&createdAt,
		&agentID,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(embeddingJSON), &entry.Embedding); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	entry.CreatedAt = createdAt
	entry.AgentID = agentID.String
	return &entry, nil
}
