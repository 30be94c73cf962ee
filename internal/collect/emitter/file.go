package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vietddude/harvester/internal/core/domain"
)

// FileEmitter appends records to a JSONL file, one record per line. Writes
// are serialized so multiple sessions can share one output file.
type FileEmitter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileEmitter opens (or creates) the JSONL file at path in append mode.
func NewFileEmitter(path string) (*FileEmitter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}
	return &FileEmitter{file: f, enc: json.NewEncoder(f)}, nil
}

func (e *FileEmitter) Emit(ctx context.Context, record *domain.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.file == nil {
		return fmt.Errorf("emitter is closed")
	}
	if err := e.enc.Encode(record); err != nil {
		return fmt.Errorf("failed to write record %s: %w", record.Key, err)
	}
	return nil
}

func (e *FileEmitter) EmitBatch(ctx context.Context, records []*domain.Record) error {
	for _, rec := range records {
		if err := e.Emit(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (e *FileEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file = nil
	return err
}
