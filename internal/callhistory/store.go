package callhistory

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("callhistory: not found")
	ErrInvalidArgument = errors.New("callhistory: invalid argument")
)

// Store persists call history rows.
type Store interface {
	Insert(ctx context.Context, h CallHistory) error
	GetByCallID(ctx context.Context, callID string) (CallHistory, error)

	// ApplyTerminal finalizes the row once. Returns false without error when
	// the row is already terminal (duplicate webhook).
	ApplyTerminal(ctx context.Context, callID string, upd TerminalUpdate) (bool, error)

	// MergeBilling lands billing and summary fields on an already-terminal
	// row without touching its status or duration, so an authoritative
	// billing event that lost the finalization race is still recorded.
	MergeBilling(ctx context.Context, callID string, upd BillingUpdate) error
}
