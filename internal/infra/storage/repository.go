package storage

import (
	"context"
	"errors"

	"github.com/vietddude/harvester/internal/core/domain"
)

var (
	// ErrRunNotFound is returned when a session run doesn't exist
	ErrRunNotFound = errors.New("run not found")
)

// RecordRepository handles collected record storage
type RecordRepository interface {
	// Save saves a record
	Save(ctx context.Context, record *domain.Record) error

	// SaveBatch saves multiple records
	SaveBatch(ctx context.Context, records []*domain.Record) error

	// GetByKey retrieves a record by its dedupe key, (nil, nil) when absent
	GetByKey(ctx context.Context, sessionID, key string) (*domain.Record, error)

	// GetBySession retrieves all records collected by a session
	GetBySession(ctx context.Context, sessionID string) ([]*domain.Record, error)

	// Count returns how many records a session has collected
	Count(ctx context.Context, sessionID string) (int, error)
}

// RunRepository handles session run history
type RunRepository interface {
	// Create persists a new run
	Create(ctx context.Context, run *domain.SessionRun) error

	// Update updates a run's state and counters
	Update(ctx context.Context, run *domain.SessionRun) error

	// GetLatest retrieves the most recent run for a session, (nil, nil) when none
	GetLatest(ctx context.Context, sessionID string) (*domain.SessionRun, error)

	// GetAll retrieves all runs for a session, newest first
	GetAll(ctx context.Context, sessionID string) ([]*domain.SessionRun, error)
}

// FailedItemRepository handles the failed item queue
type FailedItemRepository interface {
	// Add adds a failed item
	Add(ctx context.Context, item *domain.FailedItem) error

	// GetNext retrieves the next pending failed item to retry
	GetNext(ctx context.Context, sessionID string) (*domain.FailedItem, error)

	// IncrementRetry increments retry count
	IncrementRetry(ctx context.Context, id string) error

	// MarkResolved marks a failed item as successfully retried
	MarkResolved(ctx context.Context, id string) error

	// MarkIgnored marks a failed item as permanently skipped
	MarkIgnored(ctx context.Context, id string) error

	// GetAll retrieves all failed items for a session
	GetAll(ctx context.Context, sessionID string) ([]*domain.FailedItem, error)

	// Count returns the count of pending failed items
	Count(ctx context.Context, sessionID string) (int, error)
}
