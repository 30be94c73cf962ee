package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vietddude/harvester/internal/core/domain"
)

// RecordRepo implements storage.RecordRepository using PostgreSQL.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new PostgreSQL record repository.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// recordRow maps one records row for scanning.
type recordRow struct {
	SessionID      string `db:"session_id"`
	DedupeKey      string `db:"dedupe_key"`
	ItemID         string `db:"item_id"`
	Title          string `db:"title"`
	Body           string `db:"body"`
	Author         string `db:"author"`
	Comments       []byte `db:"comments"`
	Degraded       bool   `db:"degraded"`
	DegradedReason string `db:"degraded_reason"`
	Keyword        string `db:"keyword"`
	URL            string `db:"url"`
	CollectedAt    int64  `db:"collected_at"`
}

func (row recordRow) toDomain() (*domain.Record, error) {
	rec := &domain.Record{
		Key:            row.DedupeKey,
		ItemID:         row.ItemID,
		Title:          row.Title,
		Body:           row.Body,
		Author:         row.Author,
		Degraded:       row.Degraded,
		DegradedReason: row.DegradedReason,
		Keyword:        row.Keyword,
		SessionID:      row.SessionID,
		URL:            row.URL,
		CollectedAt:    row.CollectedAt,
	}
	if len(row.Comments) > 0 {
		if err := json.Unmarshal(row.Comments, &rec.Comments); err != nil {
			return nil, fmt.Errorf("corrupt comments for %s: %w", row.DedupeKey, err)
		}
	}
	return rec, nil
}

func commentsJSON(comments []string) ([]byte, error) {
	if comments == nil {
		comments = []string{}
	}
	return json.Marshal(comments)
}

const recordColumns = `session_id, dedupe_key, item_id, title, body, author, comments, degraded, degraded_reason, keyword, url, collected_at`

// Save upserts a record keyed by (session_id, dedupe_key).
func (r *RecordRepo) Save(ctx context.Context, record *domain.Record) error {
	comments, err := commentsJSON(record.Comments)
	if err != nil {
		return fmt.Errorf("failed to marshal comments: %w", err)
	}

	query := `
		INSERT INTO records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_id, dedupe_key) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			author = EXCLUDED.author,
			comments = EXCLUDED.comments,
			degraded = EXCLUDED.degraded,
			degraded_reason = EXCLUDED.degraded_reason,
			collected_at = EXCLUDED.collected_at
	`

	_, err = r.db.ExecContext(ctx, query,
		record.SessionID,
		record.Key,
		record.ItemID,
		record.Title,
		record.Body,
		record.Author,
		comments,
		record.Degraded,
		record.DegradedReason,
		record.Keyword,
		record.URL,
		record.CollectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// SaveBatch saves multiple records in one transaction.
func (r *RecordRepo) SaveBatch(ctx context.Context, records []*domain.Record) error {
	if len(records) == 0 {
		return nil
	}

	uow, err := r.db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.SaveRecords(ctx, records); err != nil {
		return err
	}
	return uow.Commit()
}

// GetByKey retrieves a record by dedupe key, (nil, nil) when absent.
func (r *RecordRepo) GetByKey(ctx context.Context, sessionID, key string) (*domain.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE session_id = $1 AND dedupe_key = $2
	`

	var row recordRow
	err := r.db.GetContext(ctx, &row, query, sessionID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return row.toDomain()
}

// GetBySession retrieves all records a session has collected.
func (r *RecordRepo) GetBySession(ctx context.Context, sessionID string) ([]*domain.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE session_id = $1
		ORDER BY collected_at ASC
	`

	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	out := make([]*domain.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns how many records a session has collected.
func (r *RecordRepo) Count(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM records WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}
