package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
)

// Compile-time interface check.
var _ domain.ProfileStore = (*FileStore)(nil)

// profileFile is the on-disk layout.
type profileFile struct {
	UserID      string            `json:"user_id"`
	ChatHistory []domain.ChatTurn `json:"chat_history"`
}

// FileStore keeps the profile in a JSON file. Every write replaces the file
// atomically. Safe for concurrent access within one process.
type FileStore struct {
	mu   sync.Mutex
	path string
	data profileFile
	log  *logger.Logger
}

// NewFileStore opens (or lazily creates) the profile at dir/profile.json.
func NewFileStore(dir string, log *logger.Logger) (*FileStore, error) {
	s := &FileStore{
		path: filepath.Join(dir, "profile.json"),
		log:  log.Named("store"),
	}

	raw, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.log.Debug("no profile at %s yet", s.path)
	case err != nil:
		return nil, fmt.Errorf("reading profile: %w", err)
	default:
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("parsing profile %s: %w", s.path, err)
		}
		s.data.ChatHistory = trimHistory(s.data.ChatHistory)
		s.log.Debug("loaded profile %s (%d turns)", s.data.UserID, len(s.data.ChatHistory))
	}
	return s, nil
}

// UserID returns the profile's user id, creating and persisting it on
// first use.
func (s *FileStore) UserID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.UserID != "" {
		return s.data.UserID, nil
	}
	s.data.UserID = newUserID()
	if err := s.flush(); err != nil {
		return "", err
	}
	s.log.Info("created user id %s", s.data.UserID)
	return s.data.UserID, nil
}

// History returns a copy of the stored chat turns, oldest first.
func (s *FileStore) History(ctx context.Context) ([]domain.ChatTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatTurn(nil), s.data.ChatHistory...), nil
}

// AppendHistory adds turns, drops the oldest beyond the cap and persists.
func (s *FileStore) AppendHistory(ctx context.Context, turns ...domain.ChatTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.ChatHistory = trimHistory(append(s.data.ChatHistory, turns...))
	return s.flush()
}

// flush writes the profile via a temp file and rename. Caller holds s.mu.
func (s *FileStore) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating profile dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".profile-*.json")
	if err != nil {
		return fmt.Errorf("creating temp profile: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing profile: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing profile: %w", err)
	}
	s.log.Debug("saved profile (%d turns)", len(s.data.ChatHistory))
	return nil
}
