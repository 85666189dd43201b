// Package storage persists the local user profile: a stable user id and the
// recent consultation history.
package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
)

// Compile-time interface check.
var _ domain.ProfileStore = (*MemoryStore)(nil)

// newUserID returns a fresh "user_<uuid>" identifier.
func newUserID() string {
	return "user_" + uuid.NewString()
}

// trimHistory keeps the newest MaxHistoryTurns turns.
func trimHistory(turns []domain.ChatTurn) []domain.ChatTurn {
	if len(turns) <= domain.MaxHistoryTurns {
		return turns
	}
	return append([]domain.ChatTurn(nil), turns[len(turns)-domain.MaxHistoryTurns:]...)
}

// MemoryStore is an in-memory profile store. Safe for concurrent access.
type MemoryStore struct {
	mu      sync.RWMutex
	userID  string
	history []domain.ChatTurn
	log     *logger.Logger
}

// NewMemoryStore creates an empty in-memory profile store.
func NewMemoryStore(log *logger.Logger) *MemoryStore {
	return &MemoryStore{log: log.Named("store")}
}

// UserID returns the profile's user id, creating it on first use.
func (s *MemoryStore) UserID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userID == "" {
		s.userID = newUserID()
		s.log.Debug("created user id %s", s.userID)
	}
	return s.userID, nil
}

// History returns a copy of the stored chat turns, oldest first.
func (s *MemoryStore) History(ctx context.Context) ([]domain.ChatTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ChatTurn(nil), s.history...), nil
}

// AppendHistory adds turns and drops the oldest beyond the cap.
func (s *MemoryStore) AppendHistory(ctx context.Context, turns ...domain.ChatTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = trimHistory(append(s.history, turns...))
	s.log.Debug("history now %d turns", len(s.history))
	return nil
}
