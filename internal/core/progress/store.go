package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/vietddude/harvester/internal/core/domain"
)

// Store persists progress snapshots keyed by session ID.
type Store interface {
	// Save persists a snapshot. The write must be atomic: a reader never
	// observes a partially-written snapshot.
	Save(ctx context.Context, snap *domain.ProgressSnapshot) error

	// Load returns the snapshot for a session, or (nil, nil) when none exists.
	Load(ctx context.Context, sessionID string) (*domain.ProgressSnapshot, error)

	// Delete removes the snapshot for a session. Deleting a missing snapshot
	// is not an error.
	Delete(ctx context.Context, sessionID string) error
}

// =============================================================================
// File store
// =============================================================================

// FileStore keeps one JSON file per session under a directory. Saves write to
// <session>.json.tmp and rename into place, which is atomic on POSIX.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a file store.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("progress: empty state dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// Save writes the snapshot atomically via temp file + rename.
func (s *FileStore) Save(ctx context.Context, snap *domain.ProgressSnapshot) error {
	if snap == nil || snap.SessionID == "" {
		return errors.New("progress: snapshot missing session id")
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	path := s.path(snap.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename snapshot into place: %w", err)
	}
	return nil
}

// Load reads the snapshot for a session, returning (nil, nil) when absent.
func (s *FileStore) Load(ctx context.Context, sessionID string) (*domain.ProgressSnapshot, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap domain.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &snap, nil
}

// Delete removes the snapshot file. Missing files are ignored.
func (s *FileStore) Delete(ctx context.Context, sessionID string) error {
	if err := os.Remove(s.path(sessionID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// =============================================================================
// Memory store
// =============================================================================

// MemoryStore is an in-memory Store for tests and ephemeral sessions.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]*domain.ProgressSnapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]*domain.ProgressSnapshot)}
}

// Save stores a deep copy of the snapshot.
func (s *MemoryStore) Save(ctx context.Context, snap *domain.ProgressSnapshot) error {
	if snap == nil || snap.SessionID == "" {
		return errors.New("progress: snapshot missing session id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.SessionID] = snap.Clone()
	return nil
}

// Load returns a deep copy of the stored snapshot, or (nil, nil) when absent.
func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*domain.ProgressSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[sessionID]
	if !ok {
		return nil, nil
	}
	return snap.Clone(), nil
}

// Delete removes the stored snapshot.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, sessionID)
	return nil
}
