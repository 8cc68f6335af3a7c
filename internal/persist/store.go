// Package persist stores the resumable projection of a generation session as
// a single JSON record keyed by session id.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/bannerforge/bannerforge/internal/generation"
	"github.com/bannerforge/bannerforge/internal/logging"
)

// Store persists one snapshot per session key under a namespace directory.
type Store struct {
	dir string
	key string
	log *logging.Logger
}

// NewStore creates a snapshot store rooted at dir/namespace, keyed by
// sessionID.
func NewStore(dir, namespace, sessionID string, log *logging.Logger) *Store {
	if log == nil {
		log = logging.NewDefault()
	}
	return &Store{
		dir: filepath.Join(dir, namespace),
		key: sessionID,
		log: log,
	}
}

// Write serializes the snapshot atomically: a temp file is renamed over the
// record so a crash mid-write leaves the previous record intact.
func (s *Store) Write(snap generation.Snapshot) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Read loads the persisted snapshot. A missing, partial or corrupt record is
// treated as no prior session: (nil, nil).
func (s *Store) Read() (*generation.Snapshot, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("unreadable session snapshot", zap.Error(err))
		}
		return nil, nil
	}

	var snap generation.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn("discarding corrupt session snapshot", zap.Error(err))
		return nil, nil
	}
	if snap.JobID == "" || snap.State == "" {
		s.log.Warn("discarding incomplete session snapshot")
		return nil, nil
	}
	return &snap, nil
}

// Clear removes the persisted record. Missing records are not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

func (s *Store) path() string {
	return filepath.Join(s.dir, s.key+".session")
}
