package campaign

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("campaign: not found")
	ErrInvalidArgument = errors.New("campaign: invalid argument")

	// ErrClaimConflict signals a lost conditional-update race; callers retry
	// a bounded number of times and then yield to the next campaign.
	ErrClaimConflict = errors.New("campaign: claim conflict")
)

// Claim is a successfully claimed contact together with the campaign state
// observed at claim time.
type Claim struct {
	Campaign *Campaign
	Contact  Contact
}

// StatusUpdate mutates campaign lifecycle fields. Nil pointers leave the
// field untouched; a pointer to the zero value clears it.
type StatusUpdate struct {
	Status Status

	PausedReason    *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LastProcessedAt *time.Time
}

// ContactUpdate mutates one contact in place. Nil pointers leave the field
// untouched. Status changes respect monotonicity: a terminal contact is
// never regressed unless Force is set (manual reset / busy requeue).
type ContactUpdate struct {
	CallStatus ContactStatus // empty = leave
	Force      bool

	EngineCallID        *string
	CallHistoryID       *string
	CalledAt            *time.Time
	CallDurationSeconds *int
	CallNotes           *string
}

// Store is the durable campaign state. ClaimPendingContact is the system's
// serialization point: it is the only legal way to move a contact out of
// pending.
type Store interface {
	GetByID(ctx context.Context, campaignID string) (*Campaign, error)
	ListByUserAndStatus(ctx context.Context, userID string, statuses ...Status) ([]*Campaign, error)
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Campaign, error)

	UpdateStatus(ctx context.Context, campaignID string, upd StatusUpdate) error

	// ClaimPendingContact atomically transitions the first pending contact
	// to in-progress, stamping CalledAt. Returns (nil, nil) when the
	// campaign has no pending contact.
	ClaimPendingContact(ctx context.Context, campaignID string) (*Claim, error)

	UpdateContact(ctx context.Context, campaignID, contactID string, upd ContactUpdate) error
	ContactCounts(ctx context.Context, campaignID string) (ContactCounts, error)

	// IncrementTotals adds to the campaign's running call totals.
	IncrementTotals(ctx context.Context, campaignID string, completed, successful, failed int) error
}

// applyContactUpdate is shared by store implementations.
func applyContactUpdate(ct *Contact, upd ContactUpdate) {
	if upd.CallStatus != "" && (upd.Force || !ct.CallStatus.Terminal()) {
		ct.CallStatus = upd.CallStatus
	}
	if upd.EngineCallID != nil {
		ct.EngineCallID = *upd.EngineCallID
	}
	if upd.CallHistoryID != nil {
		ct.CallHistoryID = *upd.CallHistoryID
	}
	if upd.CalledAt != nil {
		ct.CalledAt = upd.CalledAt
	}
	if upd.CallDurationSeconds != nil {
		ct.CallDurationSeconds = *upd.CallDurationSeconds
	}
	if upd.CallNotes != nil {
		ct.CallNotes = *upd.CallNotes
	}
}

// applyStatusUpdate is shared by store implementations.
func applyStatusUpdate(c *Campaign, upd StatusUpdate, now time.Time) {
	if upd.Status != "" {
		c.Status = upd.Status
	}
	if upd.PausedReason != nil {
		c.PausedReason = *upd.PausedReason
	}
	if upd.StartedAt != nil {
		c.StartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		c.CompletedAt = upd.CompletedAt
	}
	if upd.LastProcessedAt != nil {
		c.LastProcessedAt = upd.LastProcessedAt
	}
	c.UpdatedAt = now
}
