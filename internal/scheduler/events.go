package scheduler

import (
	"strings"
	"time"

	"voicedial-platform/internal/callhistory"
	"voicedial-platform/internal/campaign"
)

// Outcome is the normalized result of a terminated call, produced from
// either an engine webhook or a telephony provider status callback.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeNoAnswer  Outcome = "no-answer"

	// OutcomeBusy is kept distinct so the busy-retry knob can requeue the
	// contact; with the knob off it settles to failed.
	OutcomeBusy Outcome = "busy"
)

// CallTerminated is the normalized terminal event the webhook reducer
// consumes. EngineCallID is the correlation key; for provider callbacks it
// arrives via the callHistoryId query parameter.
type CallTerminated struct {
	EngineCallID string
	CampaignID   string
	ContactID    string

	Outcome         Outcome
	DurationSeconds int
	EndReason       string

	JoinedAt *time.Time
	EndedAt  *time.Time

	BilledSeconds int
	Summary       string
	ShortSummary  string
	RecordingURL  string
}

// OutcomeFromEngineReason maps the engine's end reason to an outcome.
// Unknown or absent reasons count as failures rather than silently
// completing.
func OutcomeFromEngineReason(reason string) Outcome {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "hangup", "user_hangup", "agent_hangup", "call_transfer":
		return OutcomeCompleted
	case "unjoined", "no_answer", "timeout", "voicemail":
		return OutcomeNoAnswer
	case "busy", "user_busy":
		return OutcomeBusy
	default:
		return OutcomeFailed
	}
}

// OutcomeFromProviderStatus maps a telephony status callback to an outcome.
// Returns false for non-terminal statuses (ringing, initiated, answered),
// which the reducer ignores. A zero-duration "completed" means the call was
// never answered.
func OutcomeFromProviderStatus(status string, durationSeconds int) (Outcome, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "hangup":
		if durationSeconds > 0 {
			return OutcomeCompleted, true
		}
		return OutcomeNoAnswer, true
	case "busy":
		return OutcomeBusy, true
	case "no-answer", "no_answer", "timeout":
		return OutcomeNoAnswer, true
	case "failed", "canceled", "cancel", "machine", "machine_detected":
		return OutcomeFailed, true
	default:
		return "", false
	}
}

// contactStatusFor maps an outcome to the contact status written back to the
// campaign. Busy is resolved by the reducer before this point.
func contactStatusFor(o Outcome) campaign.ContactStatus {
	switch o {
	case OutcomeCompleted:
		return campaign.ContactCompleted
	case OutcomeNoAnswer:
		return campaign.ContactNoAnswer
	default:
		return campaign.ContactFailed
	}
}

// historyStatusFor mirrors contactStatusFor for call history rows.
func historyStatusFor(o Outcome) callhistory.Status {
	switch o {
	case OutcomeCompleted:
		return callhistory.StatusCompleted
	case OutcomeNoAnswer:
		return callhistory.StatusNoAnswer
	default:
		return callhistory.StatusFailed
	}
}
