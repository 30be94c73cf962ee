package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
)

// FailedItemRepo implements storage.FailedItemRepository using PostgreSQL.
type FailedItemRepo struct {
	db *DB
}

// NewFailedItemRepo creates a new PostgreSQL failed item repository.
func NewFailedItemRepo(db *DB) *FailedItemRepo {
	return &FailedItemRepo{db: db}
}

type failedItemRow struct {
	ID          string    `db:"id"`
	SessionID   string    `db:"session_id"`
	DedupeKey   string    `db:"dedupe_key"`
	Keyword     string    `db:"keyword"`
	Stage       string    `db:"stage"`
	ErrorMsg    string    `db:"error_msg"`
	RetryCount  int       `db:"retry_count"`
	Status      string    `db:"status"`
	LastAttempt time.Time `db:"last_attempt"`
	CreatedAt   time.Time `db:"created_at"`
}

func (row failedItemRow) toDomain() *domain.FailedItem {
	return &domain.FailedItem{
		ID:          row.ID,
		SessionID:   row.SessionID,
		Key:         row.DedupeKey,
		Keyword:     row.Keyword,
		Stage:       row.Stage,
		Error:       row.ErrorMsg,
		RetryCount:  row.RetryCount,
		Status:      domain.FailedItemStatus(row.Status),
		LastAttempt: row.LastAttempt,
		CreatedAt:   row.CreatedAt,
	}
}

const failedItemColumns = `id, session_id, dedupe_key, keyword, stage, error_msg, retry_count, status, last_attempt, created_at`

// Add adds a failed item.
func (r *FailedItemRepo) Add(ctx context.Context, item *domain.FailedItem) error {
	query := `
		INSERT INTO failed_items (` + failedItemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	status := string(item.Status)
	if status == "" {
		status = string(domain.FailedItemStatusPending)
	}

	_, err := r.db.ExecContext(ctx, query,
		item.ID,
		item.SessionID,
		item.Key,
		item.Keyword,
		item.Stage,
		item.Error,
		item.RetryCount,
		status,
		item.LastAttempt,
		item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add failed item: %w", err)
	}
	return nil
}

// GetNext returns the oldest pending failed item, (nil, nil) when none.
func (r *FailedItemRepo) GetNext(ctx context.Context, sessionID string) (*domain.FailedItem, error) {
	query := `
		SELECT ` + failedItemColumns + `
		FROM failed_items
		WHERE session_id = $1 AND status = 'pending'
		ORDER BY created_at ASC
		LIMIT 1
	`

	var row failedItemRow
	err := r.db.GetContext(ctx, &row, query, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed item: %w", err)
	}
	return row.toDomain(), nil
}

// IncrementRetry increments retry count and updates timestamp.
func (r *FailedItemRepo) IncrementRetry(ctx context.Context, id string) error {
	query := `
		UPDATE failed_items
		SET retry_count = retry_count + 1, last_attempt = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// MarkResolved marks a failed item as successfully retried.
func (r *FailedItemRepo) MarkResolved(ctx context.Context, id string) error {
	query := `
		UPDATE failed_items
		SET status = 'resolved'
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// MarkIgnored marks a failed item as permanently skipped.
func (r *FailedItemRepo) MarkIgnored(ctx context.Context, id string) error {
	query := `
		UPDATE failed_items
		SET status = 'ignored'
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// GetAll returns all failed items for a session.
func (r *FailedItemRepo) GetAll(ctx context.Context, sessionID string) ([]*domain.FailedItem, error) {
	query := `
		SELECT ` + failedItemColumns + `
		FROM failed_items
		WHERE session_id = $1
		ORDER BY created_at ASC
	`

	var rows []failedItemRow
	if err := r.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to get all failed items: %w", err)
	}

	var items []*domain.FailedItem
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

// Count returns the number of pending failed items.
func (r *FailedItemRepo) Count(ctx context.Context, sessionID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM failed_items
		WHERE session_id = $1 AND status = 'pending'
	`
	var count int
	err := r.db.GetContext(ctx, &count, query, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to count failed items: %w", err)
	}
	return count, nil
}
