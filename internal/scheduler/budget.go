package scheduler

import (
	"context"

	"voicedial-platform/internal/campaign"
	"voicedial-platform/internal/usersettings"
)

// getBudget returns the user's budget, rebuilding it from durable state the
// first time the user is seen. The rebuild counts in-progress contacts
// across the user's non-draft campaigns so a restart never double-books a
// user beyond their cap.
//
// Callers must not hold s.mu.
func (s *Scheduler) getBudget(ctx context.Context, userID string) (*userBudget, error) {
	s.mu.Lock()
	if b, ok := s.budgets[userID]; ok {
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	inFlight := 0
	camps, err := s.campaigns.ListByUserAndStatus(ctx, userID,
		campaign.StatusActive, campaign.StatusPaused, campaign.StatusPausedTimeWindow)
	if err != nil {
		return nil, err
	}
	for _, c := range camps {
		inFlight += c.CountContacts().InProgress
	}

	max := usersettings.DefaultMaxConcurrentCalls
	if st, err := s.settings.GetByUserID(ctx, userID); err == nil && st.MaxConcurrentCalls > 0 {
		max = st.MaxConcurrentCalls
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.budgets[userID]; ok {
		// Lost the rebuild race; the winner's view stands.
		return b, nil
	}
	b := &userBudget{
		activeCalls:     inFlight,
		maxConcurrent:   max,
		activeCampaigns: map[string]struct{}{},
	}
	s.budgets[userID] = b
	s.log.Debug("rebuilt user budget", "user_id", userID, "active_calls", inFlight, "max_concurrent", max)
	return b, nil
}

// setMaxConcurrent refreshes the user's cap from settings. Called at the top
// of every processing pass so operator changes apply without restart.
func (s *Scheduler) setMaxConcurrent(userID string, max int) {
	if max <= 0 {
		max = usersettings.DefaultMaxConcurrentCalls
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.budgets[userID]; ok {
		b.maxConcurrent = max
	}
}

// tryAcquireSlot reserves one concurrent-call slot, reporting false when the
// user is at their cap.
func (s *Scheduler) tryAcquireSlot(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.budgets[userID]
	if !ok {
		return false
	}
	if b.activeCalls >= b.maxConcurrent {
		return false
	}
	b.activeCalls++
	return true
}

// releaseSlot frees one slot, flooring at zero. The floor absorbs releases
// for calls counted before a budget rebuild.
func (s *Scheduler) releaseSlot(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.budgets[userID]
	if !ok {
		return
	}
	if b.activeCalls > 0 {
		b.activeCalls--
	}
}

// beginProcessing latches the user's processing flag; false means another
// pass is already running for this user.
func (s *Scheduler) beginProcessing(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.budgets[userID]
	if !ok || b.processing {
		return false
	}
	b.processing = true
	return true
}

func (s *Scheduler) endProcessing(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.budgets[userID]; ok {
		b.processing = false
	}
}

// registerCall records an in-flight call under the given key. The key is the
// engine call id once known, or a synthetic pending key during initiation.
func (s *Scheduler) registerCall(key string, rec activeCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[key] = rec
}

// rekeyCall moves a registry entry from the synthetic pending key to the
// engine call id.
func (s *Scheduler) rekeyCall(oldKey, newKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.active[oldKey]; ok {
		delete(s.active, oldKey)
		s.active[newKey] = rec
	}
}

// dropCall removes a registry entry, returning it if present.
func (s *Scheduler) dropCall(key string) (activeCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.active[key]
	if ok {
		delete(s.active, key)
	}
	return rec, ok
}

// trackCampaign adds a campaign to the user's round-robin set.
func (s *Scheduler) trackCampaign(userID, campaignID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.budgets[userID]; ok {
		b.activeCampaigns[campaignID] = struct{}{}
	}
}

// untrackCampaign drops a finished campaign from the user's round-robin set.
func (s *Scheduler) untrackCampaign(userID, campaignID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.budgets[userID]; ok {
		delete(b.activeCampaigns, campaignID)
	}
}
