package scheduler

import (
	"context"

	"voicedial-platform/internal/campaign"
)

// reapStaleCalls fails in-progress contacts whose call never produced a
// terminal event. It scans durable state rather than the in-memory registry
// so calls stranded by a restart are reaped too.
//
// The history row is finalized here as well, so a webhook that limps in
// after the reap hits the duplicate path in the reducer instead of
// double-counting.
func (s *Scheduler) reapStaleCalls(ctx context.Context) {
	now := s.now()
	camps, err := s.campaigns.ListByStatus(ctx,
		campaign.StatusActive, campaign.StatusPaused, campaign.StatusPausedTimeWindow)
	if err != nil {
		s.log.Error("list campaigns for reap", "error", err)
		return
	}

	reaped := 0
	for _, camp := range camps {
		for i := range camp.Contacts {
			ct := &camp.Contacts[i]
			if ct.CallStatus != campaign.ContactInProgress {
				continue
			}
			if ct.CalledAt == nil || now.Sub(*ct.CalledAt) < s.cfg.StaleCallThreshold {
				continue
			}

			s.log.Warn("reaping stale call",
				"campaign_id", camp.CampaignID, "contact_id", ct.ContactID,
				"call_id", ct.EngineCallID, "age", now.Sub(*ct.CalledAt).String())

			if ct.EngineCallID != "" {
				s.finalizeHistory(ctx, ct.EngineCallID, OutcomeFailed, "timeout")
				s.dropCall(ct.EngineCallID)
			}
			s.dropCall(pendingCallKey(camp.CampaignID, ct.ContactID))
			s.releaseSlot(camp.UserID)
			s.failContact(ctx, camp.CampaignID, ct.ContactID, camp.UserID, "call timed out")
			reaped++
		}
	}
	if reaped > 0 {
		s.log.Info("stale call reap finished", "reaped", reaped)
		s.scheduleWake()
	}
}
