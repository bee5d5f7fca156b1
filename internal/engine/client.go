package engine

import (
	"context"
	"time"
)

// Client is the voice engine API used by the call initiator. Mirrors the
// provider-adapter rule from the telephony layer: nothing outside this
// package speaks the engine's wire format.
type Client interface {
	// CreateCall allocates an engine session. With Medium.Incoming set the
	// engine does not dial anyone: it returns a join URL the telephony
	// provider bridges the real call into.
	CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResult, error)

	// GetCallDetails returns timing, billing, summary, and recording for a call.
	GetCallDetails(ctx context.Context, callID string) (CallDetails, error)

	CreateWebhook(ctx context.Context, req CreateWebhookRequest) (string, error)
	DeleteWebhook(ctx context.Context, webhookID string) error
}

type Medium struct {
	Provider string `json:"provider"`
	Incoming bool   `json:"incoming"`
}

type CreateCallRequest struct {
	AgentID            string            `json:"agent_id"`
	Medium             Medium            `json:"medium"`
	MaxDurationSeconds int               `json:"max_duration_seconds"`
	RecordingEnabled   bool              `json:"recording_enabled"`
	CorrelationTags    map[string]string `json:"correlation_tags,omitempty"`
}

type CreateCallResult struct {
	CallID  string `json:"call_id"`
	JoinURL string `json:"join_url"`
}

type CallDetails struct {
	CallID string `json:"call_id"`

	JoinedAt *time.Time `json:"joined_at,omitempty"`
	EndedAt  *time.Time `json:"ended_at,omitempty"`

	DurationSeconds int    `json:"duration_seconds"`
	BilledSeconds   int    `json:"billed_seconds"`
	EndReason       string `json:"end_reason,omitempty"`

	Summary      string `json:"summary,omitempty"`
	ShortSummary string `json:"short_summary,omitempty"`
	RecordingURL string `json:"recording_url,omitempty"`
}

type CreateWebhookRequest struct {
	URL     string   `json:"url"`
	Events  []string `json:"events"`
	AgentID string   `json:"agent_id,omitempty"`
	Secret  string   `json:"secret,omitempty"`
}
