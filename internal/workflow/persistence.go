package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/draftforge/draftforge/internal/models"
)

// Checkpoint statuses partition stored workflow state. A workflow id
// lives in exactly one partition at a time.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusArchived  = "archived"
)

var (
	// ErrCheckpointNotFound is returned when no partition holds the id.
	ErrCheckpointNotFound = errors.New("workflow checkpoint not found")
	// ErrUnknownStatus rejects statuses outside the partition set.
	ErrUnknownStatus = errors.New("unknown checkpoint status")
)

// statuses in lookup order.
var statuses = []string{StatusActive, StatusCompleted, StatusFailed, StatusArchived}

// Checkpoint is one persisted workflow snapshot.
type Checkpoint struct {
	WorkflowID string                  `json:"workflow_id"`
	Status     string                  `json:"status"`
	SavedAt    time.Time               `json:"saved_at"`
	State      *models.WorkflowContext `json:"state"`
}

// Persistence stores workflow checkpoints partitioned by status.
type Persistence interface {
	// Save writes a snapshot under the given status, replacing any
	// previous snapshot of the same workflow in other partitions.
	Save(ctx context.Context, state *models.WorkflowContext, status string) error
	// Load finds a workflow's checkpoint, searching every partition.
	Load(ctx context.Context, workflowID string) (*Checkpoint, error)
	// List returns checkpoints in one partition, or in all partitions
	// when status is empty, newest saved first.
	List(ctx context.Context, status string) ([]*Checkpoint, error)
	// UpdateStatus moves a workflow's checkpoint to another partition.
	UpdateStatus(ctx context.Context, workflowID, status string) error
	// Archive moves a checkpoint to the archived partition.
	Archive(ctx context.Context, workflowID string) error
	// Cleanup deletes archived checkpoints saved before the cutoff and
	// returns how many were removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
	// Statistics returns the checkpoint count per partition.
	Statistics(ctx context.Context) (map[string]int, error)
	Close() error
}

func validStatus(status string) error {
	for _, s := range statuses {
		if s == status {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownStatus, status)
}

// checkpointKey builds the partitioned key workflow:<status>:<id>.
func checkpointKey(status, workflowID string) []byte {
	return []byte(fmt.Sprintf("workflow:%s:%s", status, workflowID))
}

func statusPrefix(status string) []byte {
	return []byte(fmt.Sprintf("workflow:%s:", status))
}

// BadgerPersistence keeps checkpoints in an embedded Badger store. An
// empty path opens an in-memory database.
type BadgerPersistence struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerPersistence opens (or creates) the checkpoint database.
func NewBadgerPersistence(path string, logger *slog.Logger) (*BadgerPersistence, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	return &BadgerPersistence{
		db:     db,
		logger: logger.With("component", "persistence"),
	}, nil
}

// Save writes the snapshot into the status partition and removes the
// workflow's entry from every other partition in the same transaction.
func (p *BadgerPersistence) Save(ctx context.Context, state *models.WorkflowContext, status string) error {
	if err := validStatus(status); err != nil {
		return err
	}
	if state == nil || state.WorkflowID == "" {
		return fmt.Errorf("checkpoint requires a workflow id")
	}

	cp := &Checkpoint{
		WorkflowID: state.WorkflowID,
		Status:     status,
		SavedAt:    time.Now().UTC(),
		State:      state,
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	err = p.db.Update(func(txn *badger.Txn) error {
		for _, s := range statuses {
			if s == status {
				continue
			}
			if err := txn.Delete(checkpointKey(s, state.WorkflowID)); err != nil {
				return err
			}
		}
		return txn.Set(checkpointKey(status, state.WorkflowID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	p.logger.Debug("checkpoint saved", "workflow_id", state.WorkflowID, "status", status)
	return nil
}

// Load searches every partition for the workflow id.
func (p *BadgerPersistence) Load(ctx context.Context, workflowID string) (*Checkpoint, error) {
	var cp *Checkpoint
	err := p.db.View(func(txn *badger.Txn) error {
		for _, status := range statuses {
			item, err := txn.Get(checkpointKey(status, workflowID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				cp = &Checkpoint{}
				return json.Unmarshal(val, cp)
			})
		}
		return ErrCheckpointNotFound
	})
	if err != nil {
		if errors.Is(err, ErrCheckpointNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, workflowID)
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// List returns the checkpoints of one partition (or all, for an empty
// status), newest saved first.
func (p *BadgerPersistence) List(ctx context.Context, status string) ([]*Checkpoint, error) {
	scan := statuses
	if status != "" {
		if err := validStatus(status); err != nil {
			return nil, err
		}
		scan = []string{status}
	}

	var out []*Checkpoint
	err := p.db.View(func(txn *badger.Txn) error {
		for _, s := range scan {
			prefix := statusPrefix(s)
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				err := it.Item().Value(func(val []byte) error {
					cp := &Checkpoint{}
					if err := json.Unmarshal(val, cp); err != nil {
						return err
					}
					out = append(out, cp)
					return nil
				})
				if err != nil {
					it.Close()
					return err
				}
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}

// UpdateStatus moves the checkpoint to another partition, preserving
// its state snapshot.
func (p *BadgerPersistence) UpdateStatus(ctx context.Context, workflowID, status string) error {
	if err := validStatus(status); err != nil {
		return err
	}

	err := p.db.Update(func(txn *badger.Txn) error {
		for _, s := range statuses {
			item, err := txn.Get(checkpointKey(s, workflowID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if s == status {
				return nil // already there
			}

			var data []byte
			if err := item.Value(func(val []byte) error {
				data = bytes.Clone(val)
				return nil
			}); err != nil {
				return err
			}

			cp := &Checkpoint{}
			if err := json.Unmarshal(data, cp); err != nil {
				return err
			}
			cp.Status = status
			cp.SavedAt = time.Now().UTC()
			moved, err := json.Marshal(cp)
			if err != nil {
				return err
			}

			if err := txn.Delete(checkpointKey(s, workflowID)); err != nil {
				return err
			}
			return txn.Set(checkpointKey(status, workflowID), moved)
		}
		return ErrCheckpointNotFound
	})
	if err != nil {
		if errors.Is(err, ErrCheckpointNotFound) {
			return fmt.Errorf("%w: %s", ErrCheckpointNotFound, workflowID)
		}
		return fmt.Errorf("failed to update checkpoint status: %w", err)
	}

	p.logger.Debug("checkpoint moved", "workflow_id", workflowID, "status", status)
	return nil
}

// Archive moves a checkpoint into the archived partition.
func (p *BadgerPersistence) Archive(ctx context.Context, workflowID string) error {
	return p.UpdateStatus(ctx, workflowID, StatusArchived)
}

// Cleanup deletes archived checkpoints saved before the cutoff.
func (p *BadgerPersistence) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	var stale [][]byte
	err := p.db.View(func(txn *badger.Txn) error {
		prefix := statusPrefix(StatusArchived)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				cp := &Checkpoint{}
				if err := json.Unmarshal(val, cp); err != nil {
					return err
				}
				if cp.SavedAt.Before(cutoff) {
					stale = append(stale, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan archived checkpoints: %w", err)
	}

	err = p.db.Update(func(txn *badger.Txn) error {
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete archived checkpoints: %w", err)
	}

	if len(stale) > 0 {
		p.logger.Info("cleaned up archived checkpoints", "removed", len(stale))
	}
	return len(stale), nil
}

// Statistics counts checkpoints per partition.
func (p *BadgerPersistence) Statistics(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int, len(statuses))
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		for _, s := range statuses {
			prefix := statusPrefix(s)
			it := txn.NewIterator(opts)
			count := 0
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				count++
			}
			it.Close()
			stats[s] = count
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to gather checkpoint statistics: %w", err)
	}
	return stats, nil
}

// Close closes the underlying database.
func (p *BadgerPersistence) Close() error {
	return p.db.Close()
}
