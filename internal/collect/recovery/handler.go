package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/storage"
)

// Queue is an optional secondary sink for failed items (the Redis queue) so
// sibling processes can observe them. Failures to enqueue never fail the
// primary write.
type Queue interface {
	PushFailedItem(ctx context.Context, item *domain.FailedItem) error
}

// Handler records failed items and replays them through the retry callback.
type Handler struct {
	repo     storage.FailedItemRepository
	queue    Queue
	retry    ItemRetryFunc
	strategy RetryStrategy
}

// NewHandler creates a new failed item handler. queue may be nil.
func NewHandler(
	repo storage.FailedItemRepository,
	queue Queue,
	retry ItemRetryFunc,
	strategy RetryStrategy,
) *Handler {
	if strategy == nil {
		strategy = DefaultBackoff()
	}
	return &Handler{
		repo:     repo,
		queue:    queue,
		retry:    retry,
		strategy: strategy,
	}
}

// HandleFailure is called by the collect loop when an item is skipped or
// exhausts its retries. It creates a new FailedItem entry.
func (h *Handler) HandleFailure(
	ctx context.Context,
	sessionID, key, keyword, stage string,
	cause error,
) error {
	item := &domain.FailedItem{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Key:         key,
		Keyword:     keyword,
		Stage:       stage,
		Error:       cause.Error(),
		RetryCount:  0,
		Status:      domain.FailedItemStatusPending,
		LastAttempt: time.Now(),
		CreatedAt:   time.Now(),
	}

	if err := h.repo.Add(ctx, item); err != nil {
		return fmt.Errorf("failed to add failed item: %w", err)
	}

	if h.queue != nil {
		// Best effort; the repository is the source of truth.
		_ = h.queue.PushFailedItem(ctx, item)
	}
	return nil
}

// ProcessNext picks the next pending failed item and retries it if its rest
// period has passed. A nil return with no work done is normal.
func (h *Handler) ProcessNext(ctx context.Context, sessionID string) error {
	item, err := h.repo.GetNext(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to get next failed item: %w", err)
	}
	if item == nil {
		return nil
	}

	if !h.strategy.ShouldRetry(fmt.Errorf("%s", item.Error), item.RetryCount) {
		if err := h.repo.MarkIgnored(ctx, item.ID); err != nil {
			return fmt.Errorf("failed to ignore item %s: %w", item.ID, err)
		}
		return nil
	}

	delay := h.strategy.GetDelay(item.RetryCount)
	if time.Now().Before(item.LastAttempt.Add(delay)) {
		return nil
	}

	if err := h.retry(ctx, item); err == nil {
		if err := h.repo.MarkResolved(ctx, item.ID); err != nil {
			return fmt.Errorf("failed to resolve item %s: %w", item.ID, err)
		}
		return nil
	}

	if err := h.repo.IncrementRetry(ctx, item.ID); err != nil {
		return fmt.Errorf("failed to increment retry: %w", err)
	}
	return nil
}
