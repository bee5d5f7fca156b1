package telephony

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestParseTwilioStatus(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("CallStatus", "Completed")
	form.Set("CallDuration", "42")

	r := httptest.NewRequest("POST",
		"/webhook/twilio/status?campaignId=c1&contactId=ct1&callHistoryId=h1",
		strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	ev, err := ParseTwilioStatus(r)
	if err != nil {
		t.Fatalf("ParseTwilioStatus: %v", err)
	}
	if ev.ProviderCallID != "CA123" || ev.Status != "completed" || ev.DurationSeconds != 42 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.CampaignID != "c1" || ev.ContactID != "ct1" || ev.CallHistoryID != "h1" {
		t.Fatalf("correlation ids not parsed: %+v", ev)
	}
}

func TestParsePlivoStatusHangup(t *testing.T) {
	form := url.Values{}
	form.Set("CallUUID", "plv-1")
	form.Set("CallStatus", "completed")
	form.Set("Duration", "17")

	r := httptest.NewRequest("POST",
		"/webhook/plivo/status?campaignId=c1&contactId=ct1&callHistoryId=h1",
		strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	ev, err := ParsePlivoStatus(r)
	if err != nil {
		t.Fatalf("ParsePlivoStatus: %v", err)
	}
	if ev.ProviderCallID != "plv-1" || ev.Status != "completed" || ev.DurationSeconds != 17 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.CallHistoryID != "h1" {
		t.Fatalf("correlation ids not parsed: %+v", ev)
	}
}

func TestParseTelnyxStatusHangup(t *testing.T) {
	body := `{"data":{"event_type":"call.hangup","payload":{
		"call_control_id":"cc-1",
		"hangup_cause":"NORMAL_CLEARING",
		"start_time":"2026-01-02T10:00:00Z",
		"end_time":"2026-01-02T10:01:30Z"}}}`

	r := httptest.NewRequest("POST",
		"/webhook/telnyx/status?campaignId=c1&contactId=ct1&callHistoryId=h1",
		strings.NewReader(body))

	ev, err := ParseTelnyxStatus(r)
	if err != nil {
		t.Fatalf("ParseTelnyxStatus: %v", err)
	}
	if ev.Status != "completed" {
		t.Fatalf("hangup cause not mapped: %+v", ev)
	}
	if ev.DurationSeconds != 90 {
		t.Fatalf("duration from start/end times = %d, want 90", ev.DurationSeconds)
	}
	if ev.ProviderCallID != "cc-1" || ev.CallHistoryID != "h1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestParseTelnyxStatusCauseMapping(t *testing.T) {
	cases := map[string]string{
		"user_busy":         "busy",
		"no_answer":         "no-answer",
		"timeout":           "no-answer",
		"originator_cancel": "no-answer",
		"call_rejected":     "failed",
	}
	for cause, want := range cases {
		body := `{"data":{"event_type":"call.hangup","payload":{"call_control_id":"cc","hangup_cause":"` + cause + `"}}}`
		r := httptest.NewRequest("POST", "/webhook/telnyx/status", strings.NewReader(body))
		ev, err := ParseTelnyxStatus(r)
		if err != nil {
			t.Fatalf("cause %q: %v", cause, err)
		}
		if ev.Status != want {
			t.Fatalf("cause %q mapped to %q, want %q", cause, ev.Status, want)
		}
	}
}

func TestParseTelnyxStatusIgnoresNonHangup(t *testing.T) {
	body := `{"data":{"event_type":"call.answered","payload":{"call_control_id":"cc-1"}}}`
	r := httptest.NewRequest("POST", "/webhook/telnyx/status", strings.NewReader(body))
	ev, err := ParseTelnyxStatus(r)
	if err != nil {
		t.Fatalf("ParseTelnyxStatus: %v", err)
	}
	if ev.Status != "" {
		t.Fatalf("non-hangup event should have empty status, got %q", ev.Status)
	}
}
