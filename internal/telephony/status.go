package telephony

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusEvent is a normalized terminal (or in-flight) status callback from a
// telephony provider. Correlation ids come from the query parameters the
// Dialer attached to the callback URL.
type StatusEvent struct {
	Provider       string
	ProviderCallID string

	// Status is the provider's own status string, lowercased. The scheduler
	// maps it to a call outcome; non-terminal statuses are ignored there.
	Status          string
	DurationSeconds int

	CampaignID    string
	ContactID     string
	CallHistoryID string
}

func correlationFromQuery(r *http.Request, ev *StatusEvent) {
	q := r.URL.Query()
	ev.CampaignID = q.Get("campaignId")
	ev.ContactID = q.Get("contactId")
	ev.CallHistoryID = q.Get("callHistoryId")
}

// ParseTwilioStatus decodes a Twilio status callback (form encoded).
func ParseTwilioStatus(r *http.Request) (StatusEvent, error) {
	if err := r.ParseForm(); err != nil {
		return StatusEvent{}, err
	}
	ev := StatusEvent{
		Provider:       ProviderTwilio,
		ProviderCallID: r.PostFormValue("CallSid"),
		Status:         strings.ToLower(r.PostFormValue("CallStatus")),
	}
	if d := r.PostFormValue("CallDuration"); d != "" {
		ev.DurationSeconds, _ = strconv.Atoi(d)
	}
	correlationFromQuery(r, &ev)
	return ev, nil
}

// ParsePlivoStatus decodes a Plivo hangup callback (form encoded).
func ParsePlivoStatus(r *http.Request) (StatusEvent, error) {
	if err := r.ParseForm(); err != nil {
		return StatusEvent{}, err
	}
	ev := StatusEvent{
		Provider:       ProviderPlivo,
		ProviderCallID: r.PostFormValue("CallUUID"),
		Status:         strings.ToLower(r.PostFormValue("CallStatus")),
	}
	if ev.Status == "" {
		// Hangup callbacks report the final state in Event/HangupCause terms.
		ev.Status = strings.ToLower(r.PostFormValue("Event"))
	}
	if d := r.PostFormValue("Duration"); d != "" {
		ev.DurationSeconds, _ = strconv.Atoi(d)
	}
	correlationFromQuery(r, &ev)
	return ev, nil
}

// ParseTelnyxStatus decodes a Telnyx Call Control webhook (JSON envelope).
// Only call.hangup events produce a terminal status; everything else comes
// back with an empty Status and is skipped by the caller.
func ParseTelnyxStatus(r *http.Request) (StatusEvent, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return StatusEvent{}, err
	}
	var envelope struct {
		Data struct {
			EventType string `json:"event_type"`
			Payload   struct {
				CallControlID string `json:"call_control_id"`
				HangupCause   string `json:"hangup_cause"`
				StartTime     string `json:"start_time"`
				EndTime       string `json:"end_time"`
			} `json:"payload"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return StatusEvent{}, err
	}

	ev := StatusEvent{
		Provider:       ProviderTelnyx,
		ProviderCallID: envelope.Data.Payload.CallControlID,
	}
	correlationFromQuery(r, &ev)

	if envelope.Data.EventType != "call.hangup" {
		return ev, nil
	}
	if start, errS := time.Parse(time.RFC3339, envelope.Data.Payload.StartTime); errS == nil {
		if end, errE := time.Parse(time.RFC3339, envelope.Data.Payload.EndTime); errE == nil && end.After(start) {
			ev.DurationSeconds = int(end.Sub(start) / time.Second)
		}
	}
	switch strings.ToLower(envelope.Data.Payload.HangupCause) {
	case "normal_clearing":
		ev.Status = "completed"
	case "user_busy":
		ev.Status = "busy"
	case "no_answer", "originator_cancel", "timeout":
		ev.Status = "no-answer"
	default:
		ev.Status = "failed"
	}
	return ev, nil
}
