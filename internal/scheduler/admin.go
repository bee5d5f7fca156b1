package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"voicedial-platform/internal/campaign"
)

// Admin operations: manual lifecycle control and introspection. These back
// the operator HTTP endpoints and bypass window evaluation where noted.

var (
	ErrCampaignNotStartable = fmt.Errorf("scheduler: campaign cannot be started in its current status")
	ErrCampaignNotPausable  = fmt.Errorf("scheduler: campaign cannot be paused in its current status")
	ErrCampaignNotResumable = fmt.Errorf("scheduler: campaign cannot be resumed in its current status")
	ErrContactNotDialable   = fmt.Errorf("scheduler: contact is not pending")
	ErrBudgetExhausted      = fmt.Errorf("scheduler: user concurrency budget exhausted")
)

// StartNow activates a campaign immediately, ignoring its schedule. Valid
// from draft, scheduled, or paused.
func (s *Scheduler) StartNow(ctx context.Context, campaignID string) error {
	camp, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	switch camp.Status {
	case campaign.StatusDraft, campaign.StatusScheduled, campaign.StatusPaused, campaign.StatusPausedTimeWindow:
	default:
		return fmt.Errorf("%w: %s", ErrCampaignNotStartable, camp.Status)
	}
	now := s.now()
	empty := ""
	upd := campaign.StatusUpdate{Status: campaign.StatusActive, PausedReason: &empty, StartedAt: &now}
	if err := s.campaigns.UpdateStatus(ctx, campaignID, upd); err != nil {
		return err
	}
	s.log.Info("campaign started manually", "campaign_id", campaignID, "user_id", camp.UserID)
	s.scheduleWake()
	return nil
}

// Pause suspends an active campaign. In-flight calls finish normally; no
// new contacts are claimed while paused.
func (s *Scheduler) Pause(ctx context.Context, campaignID string) error {
	camp, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if camp.Status != campaign.StatusActive {
		return fmt.Errorf("%w: %s", ErrCampaignNotPausable, camp.Status)
	}
	reason := "paused by operator"
	if err := s.campaigns.UpdateStatus(ctx, campaignID, campaign.StatusUpdate{
		Status:       campaign.StatusPaused,
		PausedReason: &reason,
	}); err != nil {
		return err
	}
	s.untrackCampaign(camp.UserID, campaignID)
	s.log.Info("campaign paused manually", "campaign_id", campaignID, "user_id", camp.UserID)
	return nil
}

// Resume reactivates a paused or window-parked campaign regardless of its
// daily window.
func (s *Scheduler) Resume(ctx context.Context, campaignID string) error {
	camp, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	switch camp.Status {
	case campaign.StatusPaused, campaign.StatusPausedTimeWindow:
	default:
		return fmt.Errorf("%w: %s", ErrCampaignNotResumable, camp.Status)
	}
	now := s.now()
	empty := ""
	if err := s.campaigns.UpdateStatus(ctx, campaignID, campaign.StatusUpdate{
		Status:       campaign.StatusActive,
		PausedReason: &empty,
		StartedAt:    &now,
	}); err != nil {
		return err
	}
	s.log.Info("campaign resumed manually", "campaign_id", campaignID, "user_id", camp.UserID)
	s.scheduleWake()
	return nil
}

// ResetUserCallState is the escape hatch for a wedged user: it zeroes the
// user's budget, drops their in-memory call records, and force-fails every
// in-progress contact across their campaigns. Returns the number of
// contacts reset.
func (s *Scheduler) ResetUserCallState(ctx context.Context, userID string) (int, error) {
	camps, err := s.campaigns.ListByUserAndStatus(ctx, userID,
		campaign.StatusActive, campaign.StatusPaused, campaign.StatusPausedTimeWindow)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	if b, ok := s.budgets[userID]; ok {
		b.activeCalls = 0
	}
	for key, rec := range s.active {
		if rec.UserID == userID {
			delete(s.active, key)
		}
	}
	s.mu.Unlock()

	reset := 0
	note := "reset due to manual state clear"
	for _, camp := range camps {
		for i := range camp.Contacts {
			ct := &camp.Contacts[i]
			if ct.CallStatus != campaign.ContactInProgress {
				continue
			}
			if ct.EngineCallID != "" {
				s.finalizeHistory(ctx, ct.EngineCallID, OutcomeFailed, "manual_reset")
			}
			if err := s.campaigns.UpdateContact(ctx, camp.CampaignID, ct.ContactID, campaign.ContactUpdate{
				CallStatus: campaign.ContactFailed,
				Force:      true,
				CallNotes:  &note,
			}); err != nil {
				s.log.Error("reset contact", "campaign_id", camp.CampaignID, "contact_id", ct.ContactID, "error", err)
				continue
			}
			if err := s.campaigns.IncrementTotals(ctx, camp.CampaignID, 1, 0, 1); err != nil {
				s.log.Error("increment campaign totals", "campaign_id", camp.CampaignID, "error", err)
			}
			reset++
		}
		s.checkCampaignComplete(ctx, camp.CampaignID, userID)
	}

	s.log.Info("user call state reset", "user_id", userID, "contacts_reset", reset)
	s.scheduleWake()
	return reset, nil
}

// ResumableCampaign is one window-parked campaign with work remaining.
// InWindowNow tells the operator whether the next tick would resume it or a
// manual resume is needed.
type ResumableCampaign struct {
	CampaignID   string    `json:"campaign_id"`
	UserID       string    `json:"user_id"`
	Pending      int       `json:"pending_contacts"`
	PausedReason string    `json:"paused_reason,omitempty"`
	ParkedAt     time.Time `json:"parked_at"`
	InWindowNow  bool      `json:"in_window_now"`
}

// GetResumableCampaigns lists one user's window-parked campaigns that still
// have pending contacts, each annotated with whether its daily window is
// currently open.
func (s *Scheduler) GetResumableCampaigns(ctx context.Context, userID string) ([]ResumableCampaign, error) {
	camps, err := s.campaigns.ListByUserAndStatus(ctx, userID, campaign.StatusPausedTimeWindow)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]ResumableCampaign, 0, len(camps))
	for _, camp := range camps {
		counts := camp.CountContacts()
		if counts.Pending == 0 {
			continue
		}
		rc := ResumableCampaign{
			CampaignID:   camp.CampaignID,
			UserID:       camp.UserID,
			Pending:      counts.Pending,
			PausedReason: camp.PausedReason,
			InWindowNow:  campaign.CanResumeInWindow(camp.Schedule, now),
		}
		if camp.LastProcessedAt != nil {
			rc.ParkedAt = *camp.LastProcessedAt
		}
		out = append(out, rc)
	}
	return out, nil
}

// PendingSummary tallies one campaign's remaining work for the operator view.
type PendingSummary struct {
	CampaignID string                 `json:"campaign_id"`
	Status     campaign.Status        `json:"status"`
	Counts     campaign.ContactCounts `json:"counts"`
}

// GetPendingContactsSummary reports per-campaign contact counts for one
// user's non-terminal campaigns.
func (s *Scheduler) GetPendingContactsSummary(ctx context.Context, userID string) ([]PendingSummary, error) {
	camps, err := s.campaigns.ListByUserAndStatus(ctx, userID,
		campaign.StatusScheduled, campaign.StatusActive,
		campaign.StatusPaused, campaign.StatusPausedTimeWindow)
	if err != nil {
		return nil, err
	}
	out := make([]PendingSummary, 0, len(camps))
	for _, camp := range camps {
		out = append(out, PendingSummary{
			CampaignID: camp.CampaignID,
			Status:     camp.Status,
			Counts:     camp.CountContacts(),
		})
	}
	return out, nil
}

// UserCallState is a snapshot of one user's in-memory scheduler state.
type UserCallState struct {
	UserID        string           `json:"user_id"`
	ActiveCalls   int              `json:"active_calls"`
	MaxConcurrent int              `json:"max_concurrent"`
	Processing    bool             `json:"processing"`
	Calls         []ActiveCallInfo `json:"calls,omitempty"`
}

// ActiveCallInfo is one registry entry in a call-state snapshot.
type ActiveCallInfo struct {
	Key        string    `json:"key"`
	CampaignID string    `json:"campaign_id"`
	ContactID  string    `json:"contact_id"`
	StartedAt  time.Time `json:"started_at"`
}

// CallState snapshots every known user budget and active call, for the
// operator debugging endpoint.
func (s *Scheduler) CallState() []UserCallState {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser := map[string]*UserCallState{}
	for userID, b := range s.budgets {
		byUser[userID] = &UserCallState{
			UserID:        userID,
			ActiveCalls:   b.activeCalls,
			MaxConcurrent: b.maxConcurrent,
			Processing:    b.processing,
		}
	}
	for key, rec := range s.active {
		st, ok := byUser[rec.UserID]
		if !ok {
			st = &UserCallState{UserID: rec.UserID}
			byUser[rec.UserID] = st
		}
		st.Calls = append(st.Calls, ActiveCallInfo{
			Key:        key,
			CampaignID: rec.CampaignID,
			ContactID:  rec.ContactID,
			StartedAt:  rec.StartedAt,
		})
	}

	out := make([]UserCallState, 0, len(byUser))
	for _, st := range byUser {
		sort.Slice(st.Calls, func(i, j int) bool { return st.Calls[i].Key < st.Calls[j].Key })
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// GenerateInstantCall dials one specific pending contact immediately,
// bypassing window checks but not the user's concurrency budget.
func (s *Scheduler) GenerateInstantCall(ctx context.Context, campaignID, contactID string) error {
	camp, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	ct := camp.ContactByID(contactID)
	if ct == nil {
		return campaign.ErrNotFound
	}
	if ct.CallStatus != campaign.ContactPending {
		return fmt.Errorf("%w: %s", ErrContactNotDialable, ct.CallStatus)
	}

	if _, err := s.getBudget(ctx, camp.UserID); err != nil {
		return err
	}
	if !s.tryAcquireSlot(camp.UserID) {
		return ErrBudgetExhausted
	}

	now := s.now()
	if err := s.campaigns.UpdateContact(ctx, campaignID, contactID, campaign.ContactUpdate{
		CallStatus: campaign.ContactInProgress,
		CalledAt:   &now,
	}); err != nil {
		s.releaseSlot(camp.UserID)
		return err
	}
	ct.CallStatus = campaign.ContactInProgress
	ct.CalledAt = &now

	s.initiateCall(ctx, &campaign.Claim{Campaign: camp, Contact: *ct})
	return nil
}
