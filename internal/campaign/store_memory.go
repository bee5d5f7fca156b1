package campaign

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
// The mutex makes ClaimPendingContact atomic relative to concurrent claims,
// matching the conditional-update semantics of the Postgres store.
type MemoryStore struct {
	mu        sync.Mutex
	campaigns map[string]*Campaign

	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: map[string]*Campaign{},
		clock:     time.Now,
	}
}

// SetClock injects a deterministic clock for tests.
func (s *MemoryStore) SetClock(clock func() time.Time) { s.clock = clock }

// Put inserts or replaces a campaign (test seeding).
func (s *MemoryStore) Put(c *Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.CampaignID] = clone(c)
}

func clone(c *Campaign) *Campaign {
	// Deep copy through JSON keeps callers from sharing contact slices.
	b, _ := json.Marshal(c)
	out := &Campaign{}
	_ = json.Unmarshal(b, out)
	return out
}

func (s *MemoryStore) GetByID(ctx context.Context, campaignID string) (*Campaign, error) {
	if campaignID == "" {
		return nil, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (s *MemoryStore) ListByUserAndStatus(ctx context.Context, userID string, statuses ...Status) ([]*Campaign, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Campaign, 0)
	for _, c := range s.campaigns {
		if c.UserID != userID {
			continue
		}
		if matchesStatus(c.Status, statuses) {
			out = append(out, clone(c))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, statuses ...Status) ([]*Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Campaign, 0)
	for _, c := range s.campaigns {
		if matchesStatus(c.Status, statuses) {
			out = append(out, clone(c))
		}
	}
	sortByCreated(out)
	return out, nil
}

func matchesStatus(st Status, statuses []Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if st == want {
			return true
		}
	}
	return false
}

func sortByCreated(cs []*Campaign) {
	// Insertion sort; lists are small and this keeps ordering deterministic.
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0; j-- {
			a, b := cs[j-1], cs[j]
			if a.CreatedAt.After(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.CampaignID > b.CampaignID) {
				cs[j-1], cs[j] = cs[j], cs[j-1]
			}
		}
	}
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, campaignID string, upd StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return ErrNotFound
	}
	applyStatusUpdate(c, upd, s.clock().UTC())
	return nil
}

func (s *MemoryStore) ClaimPendingContact(ctx context.Context, campaignID string) (*Claim, error) {
	if campaignID == "" {
		return nil, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return nil, ErrNotFound
	}
	for i := range c.Contacts {
		if c.Contacts[i].CallStatus != ContactPending {
			continue
		}
		now := s.clock().UTC()
		c.Contacts[i].CallStatus = ContactInProgress
		c.Contacts[i].CalledAt = &now
		c.UpdatedAt = now
		return &Claim{Campaign: clone(c), Contact: c.Contacts[i]}, nil
	}
	return nil, nil
}

func (s *MemoryStore) UpdateContact(ctx context.Context, campaignID, contactID string, upd ContactUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return ErrNotFound
	}
	ct := c.ContactByID(contactID)
	if ct == nil {
		return ErrNotFound
	}
	applyContactUpdate(ct, upd)
	c.UpdatedAt = s.clock().UTC()
	return nil
}

func (s *MemoryStore) ContactCounts(ctx context.Context, campaignID string) (ContactCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return ContactCounts{}, ErrNotFound
	}
	return c.CountContacts(), nil
}

func (s *MemoryStore) IncrementTotals(ctx context.Context, campaignID string, completed, successful, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return ErrNotFound
	}
	c.CompletedCalls += completed
	c.SuccessfulCalls += successful
	c.FailedCalls += failed
	c.UpdatedAt = s.clock().UTC()
	return nil
}
