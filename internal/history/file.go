package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"bienestar/internal/models"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileStore keeps each slot in its own JSON file under a directory
type FileStore struct {
	dir   string
	codec slotCodec
	mu    sync.Mutex
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string, codec slotCodec) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: failed to create history directory: %v", ErrStore, err)
	}
	return &FileStore{dir: dir, codec: codec}, nil
}

func (s *FileStore) path(userID string) string {
	return filepath.Join(s.dir, unsafeName.ReplaceAllString(SlotKey(userID), "_")+".json")
}

// Load returns an empty history when the slot was never written
func (s *FileStore) Load(ctx context.Context, userID string) ([]models.AssessmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return []models.AssessmentRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read history: %v", ErrStore, err)
	}
	return s.codec.decode(userID, string(data))
}

// Save overwrites the slot atomically (temp file + rename)
func (s *FileStore) Save(ctx context.Context, userID string, records []models.AssessmentRecord) error {
	payload, err := s.codec.encode(userID, records)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(userID)
	tmp, err := os.CreateTemp(s.dir, ".history-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", ErrStore, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to write history: %v", ErrStore, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to sync history: %v", ErrStore, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to close history: %v", ErrStore, err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("%w: failed to set permissions: %v", ErrStore, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("%w: failed to replace history: %v", ErrStore, err)
	}
	return nil
}

// Close is a no-op
func (s *FileStore) Close() error { return nil }
