// Package emitter streams collected records out of the collect loop. The
// orchestrator treats emission as fire-and-forget delivery to whoever consumes
// the harvest; storage repositories are the durable copy.
package emitter

import (
	"context"

	"github.com/vietddude/harvester/internal/core/domain"
)

// Emitter defines the interface for streaming collected records
type Emitter interface {
	// Emit sends a single record
	Emit(ctx context.Context, record *domain.Record) error

	// EmitBatch sends multiple records
	EmitBatch(ctx context.Context, records []*domain.Record) error

	// Close closes the emitter and flushes anything buffered
	Close() error
}
