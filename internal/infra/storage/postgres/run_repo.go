package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/infra/storage"
)

// RunRepo implements storage.RunRepository using PostgreSQL.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new PostgreSQL run repository.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

type runRow struct {
	ID         string `db:"id"`
	SessionID  string `db:"session_id"`
	State      string `db:"state"`
	Target     int    `db:"target"`
	Collected  int    `db:"collected"`
	Rounds     int    `db:"rounds"`
	StartedAt  int64  `db:"started_at"`
	FinishedAt int64  `db:"finished_at"`
	LastError  string `db:"last_error"`
}

func (row runRow) toDomain() *domain.SessionRun {
	return &domain.SessionRun{
		ID:         row.ID,
		SessionID:  row.SessionID,
		State:      domain.RunState(row.State),
		Target:     row.Target,
		Collected:  row.Collected,
		Rounds:     row.Rounds,
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
		LastError:  row.LastError,
	}
}

const runColumns = `id, session_id, state, target, collected, rounds, started_at, finished_at, last_error`

// Create persists a new run.
func (r *RunRepo) Create(ctx context.Context, run *domain.SessionRun) error {
	query := `
		INSERT INTO session_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.SessionID,
		string(run.State),
		run.Target,
		run.Collected,
		run.Rounds,
		run.StartedAt,
		run.FinishedAt,
		run.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// Update updates a run's state and counters.
func (r *RunRepo) Update(ctx context.Context, run *domain.SessionRun) error {
	query := `
		UPDATE session_runs
		SET state = $2, collected = $3, rounds = $4, finished_at = $5, last_error = $6
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query,
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
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrRunNotFound
	}
	return nil
}

// GetLatest retrieves the most recent run for a session, (nil, nil) when none.
func (r *RunRepo) GetLatest(ctx context.Context, sessionID string) (*domain.SessionRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM session_runs
		WHERE session_id = $1
		ORDER BY started_at DESC
		LIMIT 1
	`

	var row runRow
	err := r.db.GetContext(ctx, &row, query, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return row.toDomain(), nil
}

// GetAll retrieves all runs for a session, newest first.
func (r *RunRepo) GetAll(ctx context.Context, sessionID string) ([]*domain.SessionRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM session_runs
		WHERE session_id = $1
		ORDER BY started_at DESC
	`

	var rows []runRow
	if err := r.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	out := make([]*domain.SessionRun, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}
