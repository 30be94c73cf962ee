package domain

import "time"

// FailedItem represents an item that was skipped or exhausted its retries.
// The reprocessor replays pending items later, bounded by MaxRetries.
type FailedItem struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"session_id"`
	Key         string           `json:"key"`
	Keyword     string           `json:"keyword"`
	Stage       string           `json:"stage"`
	Error       string           `json:"error_msg"`
	RetryCount  int              `json:"retry_count"`
	Status      FailedItemStatus `json:"status"`
	LastAttempt time.Time        `json:"last_attempt"`
	CreatedAt   time.Time        `json:"created_at"`
}

type FailedItemStatus string

const (
	FailedItemStatusPending  FailedItemStatus = "pending"
	FailedItemStatusResolved FailedItemStatus = "resolved"
	FailedItemStatusIgnored  FailedItemStatus = "ignored"
)
