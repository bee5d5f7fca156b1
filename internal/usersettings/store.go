package usersettings

import (
	"context"
	"errors"
	"sync"
)

var ErrInvalidArgument = errors.New("usersettings: invalid argument")

// Store resolves per-user settings. Implementations return defaults
// (MaxConcurrentCalls = 1, no credentials) for unknown users rather than
// an error: a user without a settings row still dials one call at a time.
type Store interface {
	GetByUserID(ctx context.Context, userID string) (UserSettings, error)
}

// MemoryStore is an in-memory Store for tests and early development.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]UserSettings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]UserSettings{}}
}

func (s *MemoryStore) Put(u UserSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[u.UserID] = u
}

func (s *MemoryStore) GetByUserID(ctx context.Context, userID string) (UserSettings, error) {
	if userID == "" {
		return UserSettings{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.rows[userID]
	if !ok {
		return UserSettings{UserID: userID, MaxConcurrentCalls: DefaultMaxConcurrentCalls}, nil
	}
	if u.MaxConcurrentCalls <= 0 {
		u.MaxConcurrentCalls = DefaultMaxConcurrentCalls
	}
	return u, nil
}
