package campaign

import "time"

// Campaign is an ordered set of contacts dialed by a single agent within a
// scheduled window. Only outbound campaigns participate in the scheduler
// loop; inbound/ondemand campaigns are touched by admin endpoints only.
//
// Durable state is authoritative here: every in-memory view (user budgets,
// active call records) must be reconstructible from campaign rows.

type Type string

const (
	TypeOutbound Type = "outbound"
	TypeInbound  Type = "inbound"
	TypeOnDemand Type = "ondemand"
)

type Status string

const (
	StatusDraft             Status = "draft"
	StatusScheduled         Status = "scheduled"
	StatusActive            Status = "active"
	StatusPaused            Status = "paused"
	StatusPausedTimeWindow  Status = "paused-time-window"
	StatusCompleted         Status = "completed"
)

// PausedReasonEndTime marks a campaign parked because its daily window closed
// with pending work remaining.
const PausedReasonEndTime = "end-time-reached"

type ContactStatus string

const (
	ContactPending    ContactStatus = "pending"
	ContactInProgress ContactStatus = "in-progress"
	ContactCompleted  ContactStatus = "completed"
	ContactFailed     ContactStatus = "failed"
	ContactNoAnswer   ContactStatus = "no-answer"
)

// Terminal reports whether a contact status is final.
func (s ContactStatus) Terminal() bool {
	switch s {
	case ContactCompleted, ContactFailed, ContactNoAnswer:
		return true
	default:
		return false
	}
}

// Schedule is the daily dialing window. Times are wall-clock in Timezone;
// EndTime earlier than ScheduledTime rolls past midnight.
type Schedule struct {
	ScheduledDate string `json:"scheduled_date"` // 2006-01-02
	ScheduledTime string `json:"scheduled_time"` // 15:04
	EndTime       string `json:"end_time"`       // 15:04, required for outbound
	Timezone      string `json:"timezone"`       // IANA name
}

// OutboundMedium is the (provider, caller-ID) pair used to bridge calls.
type OutboundMedium struct {
	Provider  string `json:"provider"`
	FromPhone string `json:"from_phone"`
}

type Contact struct {
	ContactID   string        `json:"contact_id"`
	Name        string        `json:"name"`
	PhoneNumber string        `json:"phone_number"` // E.164
	CallStatus  ContactStatus `json:"call_status"`

	EngineCallID  string     `json:"engine_call_id,omitempty"`
	CallHistoryID string     `json:"call_history_id,omitempty"`
	CalledAt      *time.Time `json:"called_at,omitempty"`

	CallDurationSeconds int    `json:"call_duration,omitempty"`
	CallNotes           string `json:"call_notes,omitempty"`
}

type Campaign struct {
	CampaignID string `json:"campaign_id"`
	UserID     string `json:"user_id"`
	Type       Type   `json:"type"`
	AgentRef   string `json:"agent_ref"`
	Status     Status `json:"status"`

	Schedule       *Schedule       `json:"schedule,omitempty"`
	OutboundMedium *OutboundMedium `json:"outbound_medium,omitempty"`

	Contacts []Contact `json:"contacts"`

	CompletedCalls  int `json:"completed_calls"`
	SuccessfulCalls int `json:"successful_calls"`
	FailedCalls     int `json:"failed_calls"`

	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
	PausedReason    string     `json:"paused_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContactCounts tallies contact statuses for one campaign.
type ContactCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	NoAnswer   int `json:"no_answer"`
}

func (c ContactCounts) Total() int {
	return c.Pending + c.InProgress + c.Completed + c.Failed + c.NoAnswer
}

// Drained reports whether the campaign has no work left.
func (c ContactCounts) Drained() bool {
	return c.Pending == 0 && c.InProgress == 0
}

// CountContacts tallies the campaign's contact statuses.
func (c *Campaign) CountContacts() ContactCounts {
	var out ContactCounts
	for i := range c.Contacts {
		switch c.Contacts[i].CallStatus {
		case ContactPending:
			out.Pending++
		case ContactInProgress:
			out.InProgress++
		case ContactCompleted:
			out.Completed++
		case ContactFailed:
			out.Failed++
		case ContactNoAnswer:
			out.NoAnswer++
		}
	}
	return out
}

// ContactByID returns a pointer into Contacts, or nil.
func (c *Campaign) ContactByID(contactID string) *Contact {
	for i := range c.Contacts {
		if c.Contacts[i].ContactID == contactID {
			return &c.Contacts[i]
		}
	}
	return nil
}
