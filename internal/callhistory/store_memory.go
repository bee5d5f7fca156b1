package callhistory

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]CallHistory

	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]CallHistory{}, clock: time.Now}
}

// SetClock injects a deterministic clock for tests.
func (s *MemoryStore) SetClock(clock func() time.Time) { s.clock = clock }

func (s *MemoryStore) Insert(ctx context.Context, h CallHistory) error {
	if h.CallID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now
	s.rows[h.CallID] = h
	return nil
}

func (s *MemoryStore) GetByCallID(ctx context.Context, callID string) (CallHistory, error) {
	if callID == "" {
		return CallHistory{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.rows[callID]
	if !ok {
		return CallHistory{}, ErrNotFound
	}
	return h, nil
}

func (s *MemoryStore) ApplyTerminal(ctx context.Context, callID string, upd TerminalUpdate) (bool, error) {
	if callID == "" {
		return false, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.rows[callID]
	if !ok {
		return false, ErrNotFound
	}
	if h.Status.Terminal() {
		return false, nil
	}
	h.Status = upd.Status
	ended := upd.EndedAt
	h.EndedAt = &ended
	h.DurationSeconds = upd.DurationSeconds
	h.EndReason = upd.EndReason
	h.BilledDurationSeconds = upd.BilledDurationSeconds
	if upd.Summary != "" {
		h.Summary = upd.Summary
	}
	if upd.ShortSummary != "" {
		h.ShortSummary = upd.ShortSummary
	}
	if upd.RecordingURL != "" {
		h.RecordingURL = upd.RecordingURL
	}
	h.UpdatedAt = s.clock().UTC()
	s.rows[callID] = h
	return true, nil
}

func (s *MemoryStore) MergeBilling(ctx context.Context, callID string, upd BillingUpdate) error {
	if callID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.rows[callID]
	if !ok {
		return ErrNotFound
	}
	if !h.Status.Terminal() {
		return nil
	}
	if upd.BilledDurationSeconds > 0 {
		h.BilledDurationSeconds = upd.BilledDurationSeconds
	}
	if h.Summary == "" {
		h.Summary = upd.Summary
	}
	if h.ShortSummary == "" {
		h.ShortSummary = upd.ShortSummary
	}
	if h.RecordingURL == "" {
		h.RecordingURL = upd.RecordingURL
	}
	h.UpdatedAt = s.clock().UTC()
	s.rows[callID] = h
	return nil
}
