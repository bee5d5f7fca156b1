package scheduler

import (
	"context"
	"errors"

	"voicedial-platform/internal/callhistory"
	"voicedial-platform/internal/campaign"
)

// billingIncrementSeconds is the billing granularity: answered calls bill
// in whole minutes, rounded up, never less than one.
const billingIncrementSeconds = 60

// HandleCallTerminated reduces one terminal call event into durable state.
// It is idempotent: the call history row's single terminal transition is the
// dedup point, so duplicate webhooks and provider/engine races collapse to
// one state change. Events for unknown call ids are logged and dropped.
func (s *Scheduler) HandleCallTerminated(ctx context.Context, ev CallTerminated) error {
	log := s.log.With("call_id", ev.EngineCallID, "outcome", string(ev.Outcome))

	hist, err := s.history.GetByCallID(ctx, ev.EngineCallID)
	if err != nil {
		if errors.Is(err, callhistory.ErrNotFound) {
			log.Warn("terminal event for unknown call, dropping")
			return nil
		}
		return err
	}

	campaignID := hist.Metadata[callhistory.MetaCampaignID]
	contactID := hist.Metadata[callhistory.MetaContactID]
	if campaignID == "" {
		campaignID = ev.CampaignID
	}
	if contactID == "" {
		contactID = ev.ContactID
	}

	duration := ev.DurationSeconds
	if ev.JoinedAt != nil && ev.EndedAt != nil && ev.EndedAt.After(*ev.JoinedAt) {
		duration = int(ev.EndedAt.Sub(*ev.JoinedAt).Seconds())
	}

	outcome := ev.Outcome
	if outcome == OutcomeBusy {
		if s.cfg.RetryBusy {
			return s.requeueBusyContact(ctx, ev, campaignID, contactID, hist.UserID)
		}
		outcome = OutcomeFailed
		if ev.EndReason == "" {
			ev.EndReason = "busy"
		}
	}

	billed := ev.BilledSeconds
	if billed == 0 && duration > 0 {
		billed = billableSeconds(duration)
	}

	endedAt := s.now()
	if ev.EndedAt != nil {
		endedAt = *ev.EndedAt
	}
	applied, err := s.history.ApplyTerminal(ctx, ev.EngineCallID, callhistory.TerminalUpdate{
		Status:                historyStatusFor(outcome),
		EndedAt:               endedAt,
		DurationSeconds:       duration,
		EndReason:             ev.EndReason,
		BilledDurationSeconds: billed,
		Summary:               ev.Summary,
		ShortSummary:          ev.ShortSummary,
		RecordingURL:          ev.RecordingURL,
	})
	if err != nil {
		return err
	}
	if !applied {
		// A call.billed event can lose the finalization race to call.ended;
		// its billing fields still belong on the row.
		if ev.BilledSeconds > 0 || ev.Summary != "" || ev.ShortSummary != "" || ev.RecordingURL != "" {
			if err := s.history.MergeBilling(ctx, ev.EngineCallID, callhistory.BillingUpdate{
				BilledDurationSeconds: ev.BilledSeconds,
				Summary:               ev.Summary,
				ShortSummary:          ev.ShortSummary,
				RecordingURL:          ev.RecordingURL,
			}); err != nil {
				log.Error("merge late billing fields", "error", err)
			}
		}
		log.Debug("duplicate terminal event, already finalized")
		return nil
	}

	if campaignID == "" || contactID == "" {
		// History rows from instant/ad-hoc calls may carry no campaign link.
		log.Info("call finalized without campaign link")
		s.releaseForCall(ev.EngineCallID, hist.UserID)
		return nil
	}

	notes := ev.ShortSummary
	if notes == "" {
		notes = ev.EndReason
	}
	upd := campaign.ContactUpdate{
		CallStatus:          contactStatusFor(outcome),
		CallDurationSeconds: &duration,
	}
	if notes != "" {
		upd.CallNotes = &notes
	}
	if err := s.campaigns.UpdateContact(ctx, campaignID, contactID, upd); err != nil && !errors.Is(err, campaign.ErrNotFound) {
		log.Error("finalize contact", "campaign_id", campaignID, "contact_id", contactID, "error", err)
	}

	successful, failed := 0, 1
	if outcome == OutcomeCompleted {
		successful, failed = 1, 0
	}
	if err := s.campaigns.IncrementTotals(ctx, campaignID, 1, successful, failed); err != nil {
		log.Error("increment campaign totals", "campaign_id", campaignID, "error", err)
	}

	s.releaseForCall(ev.EngineCallID, hist.UserID)
	s.checkCampaignComplete(ctx, campaignID, hist.UserID)

	log.Info("call finalized", "campaign_id", campaignID, "contact_id", contactID,
		"duration_s", duration, "billed_s", billed)
	s.scheduleWake()
	return nil
}

// billableSeconds rounds a connected call's duration up to the next whole
// billing increment, so a 170s call bills as three minutes.
func billableSeconds(duration int) int {
	increments := (duration + billingIncrementSeconds - 1) / billingIncrementSeconds
	if increments < 1 {
		increments = 1
	}
	return increments * billingIncrementSeconds
}

// requeueBusyContact puts a busy contact back in the queue instead of
// failing it. The history row is finalized so a retried attempt gets a fresh
// one; campaign totals are not bumped since the contact is not terminal.
func (s *Scheduler) requeueBusyContact(ctx context.Context, ev CallTerminated, campaignID, contactID, userID string) error {
	applied, err := s.history.ApplyTerminal(ctx, ev.EngineCallID, callhistory.TerminalUpdate{
		Status:    callhistory.StatusFailed,
		EndedAt:   s.now(),
		EndReason: "busy",
	})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	if campaignID != "" && contactID != "" {
		notes := "busy, requeued"
		if err := s.campaigns.UpdateContact(ctx, campaignID, contactID, campaign.ContactUpdate{
			CallStatus: campaign.ContactPending,
			Force:      true,
			CallNotes:  &notes,
		}); err != nil {
			s.log.Error("requeue busy contact", "campaign_id", campaignID, "contact_id", contactID, "error", err)
		}
	}
	s.releaseForCall(ev.EngineCallID, userID)
	s.log.Info("busy contact requeued", "call_id", ev.EngineCallID, "campaign_id", campaignID, "contact_id", contactID)
	s.scheduleWake()
	return nil
}

// releaseForCall drops the registry entry for a call and frees its budget
// slot. The registry entry may be missing after a restart; the slot release
// still applies because the rebuilt budget counted the in-progress contact.
func (s *Scheduler) releaseForCall(callID, fallbackUserID string) {
	rec, ok := s.dropCall(callID)
	userID := fallbackUserID
	if ok && rec.UserID != "" {
		userID = rec.UserID
	}
	if userID != "" {
		s.releaseSlot(userID)
	}
}
