package scheduler

import (
	"context"
	"sort"
	"time"

	"voicedial-platform/internal/campaign"
)

// wakeDelay spaces an out-of-band processing pass slightly behind the event
// that requested it, letting bursts of webhook arrivals coalesce.
const wakeDelay = time.Second

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.log.Info("scheduler loop started",
		"tick", s.cfg.TickInterval.String(),
		"stale_threshold", s.cfg.StaleCallThreshold.String(),
		"max_call_duration", s.cfg.MaxCallDuration.String())

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler loop stopping", "reason", "context canceled")
			return
		case <-s.stop:
			s.log.Info("scheduler loop stopping", "reason", "shutdown")
			return
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.wake:
			timer := time.NewTimer(wakeDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.stop:
				timer.Stop()
				return
			case <-timer.C:
			}
			s.Tick(ctx)
		}
	}
}

// Tick runs one full scheduler pass: reap, promote, resume, stop, then fan
// out per-user call processing. Exported so admin operations and tests can
// force a pass synchronously.
func (s *Scheduler) Tick(ctx context.Context) {
	s.reapStaleCalls(ctx)
	s.promoteScheduled(ctx)
	s.resumeParked(ctx)
	s.stopClosedWindows(ctx)
	s.dispatchUsers(ctx)
}

// promoteScheduled activates scheduled outbound campaigns whose window has
// opened within the grace period.
func (s *Scheduler) promoteScheduled(ctx context.Context) {
	camps, err := s.campaigns.ListByStatus(ctx, campaign.StatusScheduled)
	if err != nil {
		s.log.Error("list scheduled campaigns", "error", err)
		return
	}
	now := s.now()
	for _, camp := range camps {
		if camp.Type != campaign.TypeOutbound || !campaign.ShouldStart(camp.Schedule, now) {
			continue
		}
		started := now
		if err := s.campaigns.UpdateStatus(ctx, camp.CampaignID, campaign.StatusUpdate{
			Status:    campaign.StatusActive,
			StartedAt: &started,
		}); err != nil {
			s.log.Error("activate scheduled campaign", "campaign_id", camp.CampaignID, "error", err)
			continue
		}
		s.log.Info("campaign window opened", "campaign_id", camp.CampaignID, "user_id", camp.UserID)
	}
}

// resumeParked reopens paused-time-window campaigns whose daily window is
// open again and which still have pending contacts. Parked campaigns with
// nothing left to dial are settled instead.
func (s *Scheduler) resumeParked(ctx context.Context) {
	camps, err := s.campaigns.ListByStatus(ctx, campaign.StatusPausedTimeWindow)
	if err != nil {
		s.log.Error("list parked campaigns", "error", err)
		return
	}
	now := s.now()
	for _, camp := range camps {
		counts := camp.CountContacts()
		if counts.Drained() {
			s.checkCampaignComplete(ctx, camp.CampaignID, camp.UserID)
			continue
		}
		if counts.Pending == 0 || !campaign.CanResumeInWindow(camp.Schedule, now) {
			continue
		}
		empty := ""
		resumed := now
		if err := s.campaigns.UpdateStatus(ctx, camp.CampaignID, campaign.StatusUpdate{
			Status:       campaign.StatusActive,
			PausedReason: &empty,
			StartedAt:    &resumed,
		}); err != nil {
			s.log.Error("resume parked campaign", "campaign_id", camp.CampaignID, "error", err)
			continue
		}
		s.log.Info("campaign resumed in daily window",
			"campaign_id", camp.CampaignID, "user_id", camp.UserID, "pending", counts.Pending)
	}
}

// stopClosedWindows parks active campaigns whose daily window has closed.
// Campaigns with no work left complete instead of parking; in-flight calls
// are left to finish and settle through the reducer.
func (s *Scheduler) stopClosedWindows(ctx context.Context) {
	camps, err := s.campaigns.ListByStatus(ctx, campaign.StatusActive)
	if err != nil {
		s.log.Error("list active campaigns", "error", err)
		return
	}
	now := s.now()
	for _, camp := range camps {
		if camp.Type != campaign.TypeOutbound || !campaign.ShouldStop(camp.Schedule, now) {
			continue
		}
		counts := camp.CountContacts()
		if counts.Drained() {
			s.checkCampaignComplete(ctx, camp.CampaignID, camp.UserID)
			continue
		}
		reason := campaign.PausedReasonEndTime
		processed := now
		if err := s.campaigns.UpdateStatus(ctx, camp.CampaignID, campaign.StatusUpdate{
			Status:          campaign.StatusPausedTimeWindow,
			PausedReason:    &reason,
			LastProcessedAt: &processed,
		}); err != nil {
			s.log.Error("park campaign past end time", "campaign_id", camp.CampaignID, "error", err)
			continue
		}
		s.untrackCampaign(camp.UserID, camp.CampaignID)
		s.log.Info("campaign window closed",
			"campaign_id", camp.CampaignID, "user_id", camp.UserID,
			"pending", counts.Pending, "in_progress", counts.InProgress)
	}
}

// dispatchUsers groups active campaigns by owner and runs one processing
// pass per user concurrently. The per-user latch keeps overlapping ticks
// from double-processing a user.
func (s *Scheduler) dispatchUsers(ctx context.Context) {
	camps, err := s.campaigns.ListByStatus(ctx, campaign.StatusActive)
	if err != nil {
		s.log.Error("list active campaigns", "error", err)
		return
	}
	byUser := map[string][]string{}
	for _, camp := range camps {
		if camp.Type != campaign.TypeOutbound {
			continue
		}
		byUser[camp.UserID] = append(byUser[camp.UserID], camp.CampaignID)
	}
	for userID, campaignIDs := range byUser {
		go s.ProcessUserCalls(ctx, userID, campaignIDs)
	}
}

// ProcessUserCalls claims and initiates contacts for one user's active
// campaigns, round-robin across campaigns, until the user's budget is
// exhausted or no campaign yields a claim.
func (s *Scheduler) ProcessUserCalls(ctx context.Context, userID string, campaignIDs []string) {
	b, err := s.getBudget(ctx, userID)
	if err != nil {
		s.log.Error("load user budget", "user_id", userID, "error", err)
		return
	}
	if !s.beginProcessing(userID) {
		return
	}
	defer s.endProcessing(userID)

	// Re-read the cap every pass so operator changes apply immediately.
	if st, err := s.settings.GetByUserID(ctx, userID); err == nil {
		s.setMaxConcurrent(userID, st.MaxConcurrentCalls)
	}

	for _, id := range campaignIDs {
		s.trackCampaign(userID, id)
	}

	order := s.campaignOrder(b)
	if len(order) == 0 {
		return
	}

	exhausted := map[string]bool{}
	for {
		progressed := false
		for _, campaignID := range order {
			if exhausted[campaignID] {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if !s.tryAcquireSlot(userID) {
				return
			}
			claim, err := s.campaigns.ClaimPendingContact(ctx, campaignID)
			if err != nil {
				s.releaseSlot(userID)
				s.log.Error("claim pending contact", "campaign_id", campaignID, "error", err)
				exhausted[campaignID] = true
				continue
			}
			if claim == nil {
				s.releaseSlot(userID)
				exhausted[campaignID] = true
				s.checkCampaignComplete(ctx, campaignID, userID)
				continue
			}
			s.initiateCall(ctx, claim)
			progressed = true
		}
		if !progressed {
			return
		}
	}
}

// campaignOrder returns the user's tracked campaigns sorted, rotated by the
// round-robin cursor so successive passes start from different campaigns.
func (s *Scheduler) campaignOrder(b *userBudget) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(b.activeCampaigns))
	for id := range b.activeCampaigns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return nil
	}
	offset := b.rr % len(ids)
	b.rr++
	rotated := make([]string, 0, len(ids))
	rotated = append(rotated, ids[offset:]...)
	rotated = append(rotated, ids[:offset]...)
	return rotated
}
