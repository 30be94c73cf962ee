package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/storage"
)

// -----------------------------------------------------------------------------
// Record Repository
// -----------------------------------------------------------------------------

type RecordRepo struct {
	store *Store
}

func NewRecordRepo(store *Store) *RecordRepo {
	return &RecordRepo{store: store}
}

func recordKey(sessionID, dedupeKey string) []byte {
	return []byte(sessionID + "/" + dedupeKey)
}

func (r *RecordRepo) Save(ctx context.Context, record *domain.Record) error {
	return r.store.put(bucketRecords, recordKey(record.SessionID, record.Key), record)
}

func (r *RecordRepo) SaveBatch(ctx context.Context, records []*domain.Record) error {
	return r.store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		for _, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to marshal record %s: %w", rec.Key, err)
			}
			if err := b.Put(recordKey(rec.SessionID, rec.Key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *RecordRepo) GetByKey(ctx context.Context, sessionID, key string) (*domain.Record, error) {
	var rec domain.Record
	found, err := r.store.get(bucketRecords, recordKey(sessionID, key), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (r *RecordRepo) GetBySession(ctx context.Context, sessionID string) ([]*domain.Record, error) {
	var out []*domain.Record
	err := r.store.forEachPrefix(bucketRecords, sessionPrefix(sessionID), func(k, v []byte) error {
		var rec domain.Record
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("corrupt record at %s: %w", k, err)
		}
		out = append(out, &rec)
		return nil
	})
	return out, err
}

func (r *RecordRepo) Count(ctx context.Context, sessionID string) (int, error) {
	count := 0
	err := r.store.forEachPrefix(bucketRecords, sessionPrefix(sessionID), func(k, v []byte) error {
		count++
		return nil
	})
	return count, err
}

// -----------------------------------------------------------------------------
// Run Repository
// -----------------------------------------------------------------------------

type RunRepo struct {
	store *Store
}

func NewRunRepo(store *Store) *RunRepo {
	return &RunRepo{store: store}
}

// runKey orders runs chronologically within a session. StartedAt is fixed at
// Create, so Update can recompute the same key.
func runKey(run *domain.SessionRun) []byte {
	return []byte(fmt.Sprintf("%s/%020d-%s", run.SessionID, run.StartedAt, run.ID))
}

func (r *RunRepo) Create(ctx context.Context, run *domain.SessionRun) error {
	return r.store.put(bucketRuns, runKey(run), run)
}

func (r *RunRepo) Update(ctx context.Context, run *domain.SessionRun) error {
	key := runKey(run)
	var existing domain.SessionRun
	found, err := r.store.get(bucketRuns, key, &existing)
	if err != nil {
		return err
	}
	if !found {
		return storage.ErrRunNotFound
	}
	return r.store.put(bucketRuns, key, run)
}

func (r *RunRepo) GetLatest(ctx context.Context, sessionID string) (*domain.SessionRun, error) {
	runs, err := r.GetAll(ctx, sessionID)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

func (r *RunRepo) GetAll(ctx context.Context, sessionID string) ([]*domain.SessionRun, error) {
	var asc []*domain.SessionRun
	err := r.store.forEachPrefix(bucketRuns, sessionPrefix(sessionID), func(k, v []byte) error {
		var run domain.SessionRun
		if err := json.Unmarshal(v, &run); err != nil {
			return fmt.Errorf("corrupt run at %s: %w", k, err)
		}
		asc = append(asc, &run)
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Newest first
	out := make([]*domain.SessionRun, 0, len(asc))
	for i := len(asc) - 1; i >= 0; i-- {
		out = append(out, asc[i])
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Failed Item Repository
// -----------------------------------------------------------------------------

type FailedRepo struct {
	store *Store
}

func NewFailedRepo(store *Store) *FailedRepo {
	return &FailedRepo{store: store}
}

func failedKey(item *domain.FailedItem) []byte {
	return []byte(fmt.Sprintf("%s/%020d-%s", item.SessionID, item.CreatedAt.UnixNano(), item.ID))
}

func (r *FailedRepo) Add(ctx context.Context, item *domain.FailedItem) error {
	return r.store.put(bucketFailed, failedKey(item), item)
}

func (r *FailedRepo) GetNext(ctx context.Context, sessionID string) (*domain.FailedItem, error) {
	var next *domain.FailedItem
	err := r.store.forEachPrefix(bucketFailed, sessionPrefix(sessionID), func(k, v []byte) error {
		if next != nil {
			return nil
		}
		var item domain.FailedItem
		if err := json.Unmarshal(v, &item); err != nil {
			return fmt.Errorf("corrupt failed item at %s: %w", k, err)
		}
		if item.Status == domain.FailedItemStatusPending {
			next = &item
		}
		return nil
	})
	return next, err
}

func (r *FailedRepo) IncrementRetry(ctx context.Context, id string) error {
	return r.mutate(id, func(item *domain.FailedItem) {
		item.RetryCount++
		item.LastAttempt = time.Now()
	})
}

func (r *FailedRepo) MarkResolved(ctx context.Context, id string) error {
	return r.mutate(id, func(item *domain.FailedItem) {
		item.Status = domain.FailedItemStatusResolved
	})
}

func (r *FailedRepo) MarkIgnored(ctx context.Context, id string) error {
	return r.mutate(id, func(item *domain.FailedItem) {
		item.Status = domain.FailedItemStatusIgnored
	})
}

func (r *FailedRepo) GetAll(ctx context.Context, sessionID string) ([]*domain.FailedItem, error) {
	var out []*domain.FailedItem
	err := r.store.forEachPrefix(bucketFailed, sessionPrefix(sessionID), func(k, v []byte) error {
		var item domain.FailedItem
		if err := json.Unmarshal(v, &item); err != nil {
			return fmt.Errorf("corrupt failed item at %s: %w", k, err)
		}
		out = append(out, &item)
		return nil
	})
	return out, err
}

func (r *FailedRepo) Count(ctx context.Context, sessionID string) (int, error) {
	count := 0
	err := r.store.forEachPrefix(bucketFailed, sessionPrefix(sessionID), func(k, v []byte) error {
		var item domain.FailedItem
		if err := json.Unmarshal(v, &item); err != nil {
			return fmt.Errorf("corrupt failed item at %s: %w", k, err)
		}
		if item.Status == domain.FailedItemStatusPending {
			count++
		}
		return nil
	})
	return count, err
}

// mutate finds an item by id across all sessions, applies fn and writes it
// back, all inside one transaction.
func (r *FailedRepo) mutate(id string, fn func(*domain.FailedItem)) error {
	return r.store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFailed)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var item domain.FailedItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("corrupt failed item at %s: %w", k, err)
			}
			if item.ID != id {
				continue
			}
			fn(&item)
			data, err := json.Marshal(&item)
			if err != nil {
				return err
			}
			return b.Put(k, data)
		}
		return fmt.Errorf("failed item not found: %s", id)
	})
}
