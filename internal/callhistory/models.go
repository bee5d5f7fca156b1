package callhistory

import "time"

// CallHistory is one row per initiated call, keyed by the voice engine's
// call id. Created when the engine accepts a call, finalized by the webhook
// reducer (or the stale-call reaper when no webhook ever arrives).

type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no-answer"
)

// Terminal reports whether a history status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer:
		return true
	default:
		return false
	}
}

// Metadata keys linking a history row back to its campaign contact.
const (
	MetaCampaignID = "campaignId"
	MetaContactID  = "contactId"
)

type CallHistory struct {
	CallID string `json:"call_id"` // engine call id

	UserID        string `json:"user_id"`
	AgentID       string `json:"agent_id"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`

	Status Status `json:"status"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	DurationSeconds       int    `json:"duration_seconds"`
	EndReason             string `json:"end_reason,omitempty"`
	BilledDurationSeconds int    `json:"billed_duration_seconds"`

	Summary      string `json:"summary,omitempty"`
	ShortSummary string `json:"short_summary,omitempty"`
	RecordingURL string `json:"recording_url,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TerminalUpdate finalizes a history row. Applied at most once; stores
// report whether the update took effect so duplicate webhooks become no-ops.
type TerminalUpdate struct {
	Status                Status
	EndedAt               time.Time
	DurationSeconds       int
	EndReason             string
	BilledDurationSeconds int
	Summary               string
	ShortSummary          string
	RecordingURL          string
}

// BillingUpdate carries billing fields from an event that arrived after the
// row was finalized. A non-zero billed duration overrides the derived value;
// text fields only fill gaps.
type BillingUpdate struct {
	BilledDurationSeconds int
	Summary               string
	ShortSummary          string
	RecordingURL          string
}
