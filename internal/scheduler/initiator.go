package scheduler

import (
	"context"
	"errors"
	"fmt"

	"voicedial-platform/internal/callhistory"
	"voicedial-platform/internal/campaign"
	"voicedial-platform/internal/engine"
	"voicedial-platform/internal/telephony"
)

// pendingCallKey is the synthetic registry key used between claiming a
// contact and the engine assigning a call id.
func pendingCallKey(campaignID, contactID string) string {
	return "pending_" + campaignID + "_" + contactID
}

// initiateCall drives one claimed contact through call setup:
//
//  1. allocate an engine session (join URL),
//  2. insert the in-progress call history row,
//  3. stamp the contact with the engine call id,
//  4. bridge the customer leg via the telephony provider.
//
// The caller has already reserved a budget slot; on any failure the slot is
// released and the contact finalized as failed. Initiation failures are
// handled in place and do not propagate: the processing pass moves on to the
// next contact.
func (s *Scheduler) initiateCall(ctx context.Context, claim *campaign.Claim) {
	camp := claim.Campaign
	contact := claim.Contact
	log := s.log.With("campaign_id", camp.CampaignID, "contact_id", contact.ContactID, "user_id", camp.UserID)

	abort := func(reason string) {
		s.releaseSlot(camp.UserID)
		s.failContact(ctx, camp.CampaignID, contact.ContactID, camp.UserID, reason)
	}

	if camp.OutboundMedium == nil || camp.OutboundMedium.Provider == "" || camp.OutboundMedium.FromPhone == "" {
		log.Error("campaign has no usable outbound medium")
		abort("campaign outbound medium not configured")
		return
	}
	if camp.AgentRef == "" {
		log.Error("campaign has no agent")
		abort("campaign agent not configured")
		return
	}

	settings, err := s.settings.GetByUserID(ctx, camp.UserID)
	if err != nil {
		log.Error("load user settings", "error", err)
		abort("user settings unavailable")
		return
	}
	creds, ok := settings.CredentialsFor(camp.OutboundMedium.Provider)
	if !ok {
		log.Error("missing telephony credentials", "provider", camp.OutboundMedium.Provider)
		abort(fmt.Sprintf("missing %s credentials", camp.OutboundMedium.Provider))
		return
	}

	pendingKey := pendingCallKey(camp.CampaignID, contact.ContactID)
	s.registerCall(pendingKey, activeCall{
		CampaignID: camp.CampaignID,
		ContactID:  contact.ContactID,
		UserID:     camp.UserID,
		StartedAt:  s.now(),
	})

	res, err := s.engine.CreateCall(ctx, engine.CreateCallRequest{
		AgentID: camp.AgentRef,
		Medium: engine.Medium{
			Provider: camp.OutboundMedium.Provider,
			Incoming: true,
		},
		MaxDurationSeconds: int(s.cfg.MaxCallDuration.Seconds()),
		RecordingEnabled:   true,
		CorrelationTags: map[string]string{
			callhistory.MetaCampaignID: camp.CampaignID,
			callhistory.MetaContactID:  contact.ContactID,
		},
	})
	if err != nil {
		log.Error("engine call creation failed", "error", err)
		s.dropCall(pendingKey)
		abort("engine call creation failed")
		return
	}
	log = log.With("call_id", res.CallID)
	s.rekeyCall(pendingKey, res.CallID)

	hist := callhistory.CallHistory{
		CallID:        res.CallID,
		UserID:        camp.UserID,
		AgentID:       camp.AgentRef,
		CustomerName:  contact.Name,
		CustomerPhone: contact.PhoneNumber,
		Status:        callhistory.StatusInProgress,
		StartedAt:     s.now(),
		Metadata: map[string]string{
			callhistory.MetaCampaignID: camp.CampaignID,
			callhistory.MetaContactID:  contact.ContactID,
		},
	}
	if err := s.history.Insert(ctx, hist); err != nil {
		log.Error("insert call history", "error", err)
		s.dropCall(res.CallID)
		abort("call history insert failed")
		return
	}

	engineCallID := res.CallID
	if err := s.campaigns.UpdateContact(ctx, camp.CampaignID, contact.ContactID, campaign.ContactUpdate{
		EngineCallID:  &engineCallID,
		CallHistoryID: &engineCallID,
	}); err != nil {
		log.Error("stamp contact with call id", "error", err)
	}

	_, err = s.dialer.Bridge(ctx, telephony.BridgeRequest{
		Provider:      camp.OutboundMedium.Provider,
		FromPhone:     camp.OutboundMedium.FromPhone,
		ToPhone:       contact.PhoneNumber,
		JoinURL:       res.JoinURL,
		CampaignID:    camp.CampaignID,
		ContactID:     contact.ContactID,
		CallHistoryID: res.CallID,
		Credentials:   creds,
	})
	if err != nil {
		log.Error("provider bridge failed", "error", err)
		s.dropCall(res.CallID)
		s.finalizeHistory(ctx, res.CallID, OutcomeFailed, "bridge_failed")
		abort("provider bridge failed")
		return
	}

	log.Info("call initiated", "provider", camp.OutboundMedium.Provider, "to", contact.PhoneNumber)
}

// failContact finalizes a contact as failed, records the reason, bumps the
// campaign totals, and runs the completion check.
func (s *Scheduler) failContact(ctx context.Context, campaignID, contactID, userID, reason string) {
	st := campaign.ContactFailed
	if err := s.campaigns.UpdateContact(ctx, campaignID, contactID, campaign.ContactUpdate{
		CallStatus: st,
		CallNotes:  &reason,
	}); err != nil {
		s.log.Error("mark contact failed", "campaign_id", campaignID, "contact_id", contactID, "error", err)
		return
	}
	if err := s.campaigns.IncrementTotals(ctx, campaignID, 1, 0, 1); err != nil {
		s.log.Error("increment campaign totals", "campaign_id", campaignID, "error", err)
	}
	s.checkCampaignComplete(ctx, campaignID, userID)
	s.scheduleWake()
}

// finalizeHistory applies a terminal status to a history row when call setup
// fails after the row was created. Duplicate application is a no-op.
func (s *Scheduler) finalizeHistory(ctx context.Context, callID string, outcome Outcome, endReason string) {
	_, err := s.history.ApplyTerminal(ctx, callID, callhistory.TerminalUpdate{
		Status:    historyStatusFor(outcome),
		EndedAt:   s.now(),
		EndReason: endReason,
	})
	if err != nil && !errors.Is(err, callhistory.ErrNotFound) {
		s.log.Error("finalize call history", "call_id", callID, "error", err)
	}
}

// checkCampaignComplete marks the campaign completed once no pending or
// in-progress contacts remain, and drops it from the user's round-robin set.
func (s *Scheduler) checkCampaignComplete(ctx context.Context, campaignID, userID string) {
	counts, err := s.campaigns.ContactCounts(ctx, campaignID)
	if err != nil {
		s.log.Error("count contacts", "campaign_id", campaignID, "error", err)
		return
	}
	if !counts.Drained() {
		return
	}
	camp, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		s.log.Error("load campaign", "campaign_id", campaignID, "error", err)
		return
	}
	switch camp.Status {
	case campaign.StatusActive, campaign.StatusPausedTimeWindow:
	default:
		return
	}
	now := s.now()
	empty := ""
	if err := s.campaigns.UpdateStatus(ctx, campaignID, campaign.StatusUpdate{
		Status:       campaign.StatusCompleted,
		CompletedAt:  &now,
		PausedReason: &empty,
	}); err != nil {
		s.log.Error("mark campaign completed", "campaign_id", campaignID, "error", err)
		return
	}
	s.untrackCampaign(userID, campaignID)
	s.log.Info("campaign completed", "campaign_id", campaignID,
		"completed", counts.Completed, "failed", counts.Failed, "no_answer", counts.NoAnswer)
}
