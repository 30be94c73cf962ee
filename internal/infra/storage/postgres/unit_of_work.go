package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/harvester/internal/core/domain"
)

// UnitOfWork bundles record and run writes into a single database
// transaction, ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// SaveRecords upserts multiple records within the transaction.
func (u *UnitOfWork) SaveRecords(ctx context.Context, records []*domain.Record) error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
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

	for _, rec := range records {
		comments, err := commentsJSON(rec.Comments)
		if err != nil {
			return fmt.Errorf("failed to marshal comments: %w", err)
		}
		_, err = u.tx.ExecContext(ctx, query,
			rec.SessionID,
			rec.Key,
			rec.ItemID,
			rec.Title,
			rec.Body,
			rec.Author,
			comments,
			rec.Degraded,
			rec.DegradedReason,
			rec.Keyword,
			rec.URL,
			rec.CollectedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save record %s: %w", rec.Key, err)
		}
	}
	return nil
}

// UpdateRun updates a run's counters within the transaction, so a record
// batch and the run totals land atomically.
func (u *UnitOfWork) UpdateRun(ctx context.Context, run *domain.SessionRun) error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}

	query := `
		UPDATE session_runs
		SET state = $2, collected = $3, rounds = $4, finished_at = $5, last_error = $6
		WHERE id = $1
	`
	_, err := u.tx.ExecContext(ctx, query,
		run.ID,
		string(run.State),
		run.Collected,
		run.Rounds,
		run.FinishedAt,
		run.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}
