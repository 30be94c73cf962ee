package emitter

import (
	"context"
	"log/slog"

	"github.com/vietddude/harvester/internal/core/domain"
)

// LogEmitter writes one structured log line per record. It is the default
// sink when no output file is configured.
type LogEmitter struct {
	log *slog.Logger
}

func NewLogEmitter() *LogEmitter {
	return &LogEmitter{log: slog.Default().With("component", "emitter")}
}

func (e *LogEmitter) Emit(ctx context.Context, record *domain.Record) error {
	e.log.Info("collected",
		"session", record.SessionID,
		"key", record.Key,
		"item", record.ItemID,
		"title", record.Title,
		"keyword", record.Keyword,
		"degraded", record.Degraded)
	return nil
}

func (e *LogEmitter) EmitBatch(ctx context.Context, records []*domain.Record) error {
	for _, rec := range records {
		if err := e.Emit(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (e *LogEmitter) Close() error { return nil }
