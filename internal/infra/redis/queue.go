package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/harvester/internal/core/domain"
)

// failedItemTTL bounds how long a queued failed item survives without being
// retried. Stale entries are dropped rather than replayed weeks later.
const failedItemTTL = 24 * time.Hour

// FailedItemQueue mirrors failed items into Redis so sibling processes and
// the status CLI can observe them. It satisfies recovery.Queue; the storage
// repository remains the source of truth.
type FailedItemQueue struct {
	rdb       *redis.Client
	sessionID string
}

// NewFailedItemQueue creates a queue scoped to one session.
func NewFailedItemQueue(client *Client, sessionID string) *FailedItemQueue {
	return &FailedItemQueue{rdb: client.rdb, sessionID: sessionID}
}

func (q *FailedItemQueue) queueKey() string {
	return fmt.Sprintf("harvester:failed_items:%s", q.sessionID)
}

func (q *FailedItemQueue) itemKey(id string) string {
	return fmt.Sprintf("harvester:failed_item:%s:%s", q.sessionID, id)
}

// PushFailedItem stores the item and queues its id. The sorted-set score is
// the retry count, so the least-retried item surfaces first.
func (q *FailedItemQueue) PushFailedItem(ctx context.Context, item *domain.FailedItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal failed item: %w", err)
	}

	if err := q.rdb.Set(ctx, q.itemKey(item.ID), data, failedItemTTL).Err(); err != nil {
		return fmt.Errorf("failed to set failed item: %w", err)
	}

	if err := q.rdb.ZAdd(ctx, q.queueKey(), redis.Z{
		Score:  float64(item.RetryCount),
		Member: item.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to queue failed item: %w", err)
	}
	return nil
}

// PopNext returns the least-retried queued item, or (nil, nil) when the
// queue is empty. Expired payloads are pruned from the queue as encountered.
func (q *FailedItemQueue) PopNext(ctx context.Context) (*domain.FailedItem, error) {
	ids, err := q.rdb.ZRange(ctx, q.queueKey(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	id := ids[0]

	data, err := q.rdb.Get(ctx, q.itemKey(id)).Bytes()
	if err == redis.Nil {
		q.rdb.ZRem(ctx, q.queueKey(), id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed item: %w", err)
	}

	var item domain.FailedItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed item: %w", err)
	}
	return &item, nil
}

// Remove drops an item from the queue after it was resolved or ignored.
func (q *FailedItemQueue) Remove(ctx context.Context, id string) error {
	if err := q.rdb.ZRem(ctx, q.queueKey(), id).Err(); err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}
	if err := q.rdb.Del(ctx, q.itemKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete failed item: %w", err)
	}
	return nil
}

// Clear drops the whole queue and every payload, for session resets.
func (q *FailedItemQueue) Clear(ctx context.Context) error {
	ids, err := q.rdb.ZRange(ctx, q.queueKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("zrange failed: %w", err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, q.itemKey(id))
	}
	keys = append(keys, q.queueKey())
	if err := q.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// Len reports how many items are queued.
func (q *FailedItemQueue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.ZCard(ctx, q.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(n), nil
}
