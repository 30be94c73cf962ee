package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/storage"
)

// MemoryStorage backs all repositories with in-process maps. It is the
// default when neither a database URL nor an archive path is configured,
// and the backend tests run against.
type MemoryStorage struct {
	records map[string]*domain.Record       // sessionID + "/" + key
	runs    map[string][]*domain.SessionRun // per session, append order
	failed  map[string][]*domain.FailedItem // per session, append order
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*domain.Record),
		runs:    make(map[string][]*domain.SessionRun),
		failed:  make(map[string][]*domain.FailedItem),
	}
}

func recordKey(sessionID, key string) string {
	return sessionID + "/" + key
}

// -----------------------------------------------------------------------------
// Record Repository
// -----------------------------------------------------------------------------

type RecordRepo struct {
	store *MemoryStorage
}

func NewRecordRepo(store *MemoryStorage) *RecordRepo {
	return &RecordRepo{store: store}
}

func (r *RecordRepo) Save(ctx context.Context, record *domain.Record) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.records[recordKey(record.SessionID, record.Key)] = record
	return nil
}

func (r *RecordRepo) SaveBatch(ctx context.Context, records []*domain.Record) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, rec := range records {
		r.store.records[recordKey(rec.SessionID, rec.Key)] = rec
	}
	return nil
}

func (r *RecordRepo) GetByKey(ctx context.Context, sessionID, key string) (*domain.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.records[recordKey(sessionID, key)], nil
}

func (r *RecordRepo) GetBySession(ctx context.Context, sessionID string) ([]*domain.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Record
	for _, rec := range r.store.records {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *RecordRepo) Count(ctx context.Context, sessionID string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	count := 0
	for _, rec := range r.store.records {
		if rec.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Run Repository
// -----------------------------------------------------------------------------

type RunRepo struct {
	store *MemoryStorage
}

func NewRunRepo(store *MemoryStorage) *RunRepo {
	return &RunRepo{store: store}
}

func (r *RunRepo) Create(ctx context.Context, run *domain.SessionRun) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.runs[run.SessionID] = append(r.store.runs[run.SessionID], run)
	return nil
}

func (r *RunRepo) Update(ctx context.Context, run *domain.SessionRun) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	runs := r.store.runs[run.SessionID]
	for i, existing := range runs {
		if existing.ID == run.ID {
			runs[i] = run
			return nil
		}
	}
	return storage.ErrRunNotFound
}

func (r *RunRepo) GetLatest(ctx context.Context, sessionID string) (*domain.SessionRun, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	runs := r.store.runs[sessionID]
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[len(runs)-1], nil
}

func (r *RunRepo) GetAll(ctx context.Context, sessionID string) ([]*domain.SessionRun, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	runs := r.store.runs[sessionID]
	// Newest first
	out := make([]*domain.SessionRun, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		out = append(out, runs[i])
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Failed Item Repository
// -----------------------------------------------------------------------------

type FailedRepo struct {
	store *MemoryStorage
}

func NewFailedRepo(store *MemoryStorage) *FailedRepo {
	return &FailedRepo{store: store}
}

func (r *FailedRepo) Add(ctx context.Context, item *domain.FailedItem) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.failed[item.SessionID] = append(r.store.failed[item.SessionID], item)
	return nil
}

func (r *FailedRepo) GetNext(ctx context.Context, sessionID string) (*domain.FailedItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, item := range r.store.failed[sessionID] {
		if item.Status == domain.FailedItemStatusPending {
			return item, nil
		}
	}
	return nil, nil
}

func (r *FailedRepo) IncrementRetry(ctx context.Context, id string) error {
	return r.update(id, func(item *domain.FailedItem) {
		item.RetryCount++
		item.LastAttempt = time.Now()
	})
}

func (r *FailedRepo) MarkResolved(ctx context.Context, id string) error {
	return r.update(id, func(item *domain.FailedItem) {
		item.Status = domain.FailedItemStatusResolved
	})
}

func (r *FailedRepo) MarkIgnored(ctx context.Context, id string) error {
	return r.update(id, func(item *domain.FailedItem) {
		item.Status = domain.FailedItemStatusIgnored
	})
}

func (r *FailedRepo) GetAll(ctx context.Context, sessionID string) ([]*domain.FailedItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	items := r.store.failed[sessionID]
	out := make([]*domain.FailedItem, len(items))
	copy(out, items)
	return out, nil
}

func (r *FailedRepo) Count(ctx context.Context, sessionID string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	count := 0
	for _, item := range r.store.failed[sessionID] {
		if item.Status == domain.FailedItemStatusPending {
			count++
		}
	}
	return count, nil
}

func (r *FailedRepo) update(id string, fn func(*domain.FailedItem)) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, items := range r.store.failed {
		for _, item := range items {
			if item.ID == id {
				fn(item)
				return nil
			}
		}
	}
	return fmt.Errorf("failed item not found: %s", id)
}
