package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"voicedial-platform/internal/usersettings"
)

func testCreds() usersettings.Credentials {
	return usersettings.Credentials{AccountID: "AC1", AuthToken: "tok", APIKey: "key"}
}

func TestDialerDecoratesCallbackURLs(t *testing.T) {
	var got BridgeRequest
	fake := &fakeBridger{provider: ProviderTwilio, fn: func(req BridgeRequest) (BridgeResult, error) {
		got = req
		return BridgeResult{ProviderCallID: "CA1"}, nil
	}}
	d := NewDialer("https://api.example.com/", fake)

	_, err := d.Bridge(context.Background(), BridgeRequest{
		Provider:      ProviderTwilio,
		FromPhone:     "+15550001111",
		ToPhone:       "+15550002222",
		JoinURL:       "wss://engine/join/1",
		CampaignID:    "camp-1",
		ContactID:     "ct-1",
		CallHistoryID: "hist-1",
		Credentials:   testCreds(),
	})
	if err != nil {
		t.Fatalf("Bridge: %v", err)
	}
	if !strings.HasPrefix(got.StatusCallbackURL, "https://api.example.com/webhook/twilio/status?") {
		t.Fatalf("status callback url = %q", got.StatusCallbackURL)
	}
	for _, want := range []string{"campaignId=camp-1", "contactId=ct-1", "callHistoryId=hist-1"} {
		if !strings.Contains(got.StatusCallbackURL, want) {
			t.Fatalf("status callback url missing %q: %q", want, got.StatusCallbackURL)
		}
	}
	if !strings.HasPrefix(got.AnswerURL, "https://api.example.com/webhook/twilio/answer?joinUrl=") {
		t.Fatalf("answer url = %q", got.AnswerURL)
	}
}

func TestDialerUnknownProvider(t *testing.T) {
	d := NewDialer("https://api.example.com")
	_, err := d.Bridge(context.Background(), BridgeRequest{
		Provider: "vonage", FromPhone: "+1", ToPhone: "+2", JoinURL: "wss://j",
		Credentials: testCreds(),
	})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestDialerMissingCredentials(t *testing.T) {
	d := NewDialer("https://api.example.com", &fakeBridger{provider: ProviderTwilio})
	_, err := d.Bridge(context.Background(), BridgeRequest{
		Provider: ProviderTwilio, FromPhone: "+1", ToPhone: "+2", JoinURL: "wss://j",
	})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("err = %v, want ErrMissingCredentials", err)
	}
}

type fakeBridger struct {
	provider string
	fn       func(BridgeRequest) (BridgeResult, error)
}

func (f *fakeBridger) Provider() string { return f.provider }

func (f *fakeBridger) Bridge(_ context.Context, req BridgeRequest) (BridgeResult, error) {
	if f.fn == nil {
		return BridgeResult{ProviderCallID: "fake"}, nil
	}
	return f.fn(req)
}

func TestTwilioBridger(t *testing.T) {
	var gotPath string
	var gotForm map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"CA999"}`))
	}))
	defer srv.Close()

	b := NewTwilioBridger()
	b.SetAPIBase(srv.URL)

	res, err := b.Bridge(context.Background(), BridgeRequest{
		FromPhone:         "+15550001111",
		ToPhone:           "+15550002222",
		JoinURL:           "wss://engine/join/1",
		Credentials:       usersettings.Credentials{AccountID: "AC1", AuthToken: "tok"},
		StatusCallbackURL: "https://api.example.com/webhook/twilio/status",
	})
	if err != nil {
		t.Fatalf("Bridge: %v", err)
	}
	if res.ProviderCallID != "CA999" {
		t.Fatalf("provider call id = %q", res.ProviderCallID)
	}
	if gotPath != "/2010-04-01/Accounts/AC1/Calls.json" {
		t.Fatalf("path = %q", gotPath)
	}
	if len(gotForm["StatusCallbackEvent"]) != 5 {
		t.Fatalf("StatusCallbackEvent = %v", gotForm["StatusCallbackEvent"])
	}
	if !strings.Contains(gotForm["Twiml"][0], "wss://engine/join/1") {
		t.Fatalf("twiml = %q", gotForm["Twiml"][0])
	}
}

func TestTwilioBridgerAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"auth failed"}`))
	}))
	defer srv.Close()

	b := NewTwilioBridger()
	b.SetAPIBase(srv.URL)
	_, err := b.Bridge(context.Background(), BridgeRequest{
		FromPhone: "+1", ToPhone: "+2", JoinURL: "wss://j",
		Credentials: usersettings.Credentials{AccountID: "AC1", AuthToken: "bad"},
	})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v, want status 401 error", err)
	}
}

func TestPlivoBridger(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/Account/MA1/Call/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"request_uuid":"req-1"}`))
	}))
	defer srv.Close()

	b := NewPlivoBridger()
	b.SetAPIBase(srv.URL)

	res, err := b.Bridge(context.Background(), BridgeRequest{
		FromPhone:         "+15550001111",
		ToPhone:           "+15550002222",
		JoinURL:           "wss://engine/join/1",
		Credentials:       usersettings.Credentials{AccountID: "MA1", AuthToken: "tok"},
		AnswerURL:         "https://api.example.com/webhook/plivo/answer",
		StatusCallbackURL: "https://api.example.com/webhook/plivo/status",
	})
	if err != nil {
		t.Fatalf("Bridge: %v", err)
	}
	if res.ProviderCallID != "req-1" {
		t.Fatalf("provider call id = %q", res.ProviderCallID)
	}
	if gotBody["answer_url"] != "https://api.example.com/webhook/plivo/answer" {
		t.Fatalf("answer_url = %v", gotBody["answer_url"])
	}
	if gotBody["hangup_url"] != "https://api.example.com/webhook/plivo/status" {
		t.Fatalf("hangup_url = %v", gotBody["hangup_url"])
	}
}

func TestTelnyxBridger(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/calls" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"call_control_id":"cc-1"}}`))
	}))
	defer srv.Close()

	b := NewTelnyxBridger()
	b.SetAPIBase(srv.URL)

	res, err := b.Bridge(context.Background(), BridgeRequest{
		FromPhone:         "+15550001111",
		ToPhone:           "+15550002222",
		JoinURL:           "wss://engine/join/1",
		Credentials:       usersettings.Credentials{APIKey: "KEY", AccountID: "conn-1"},
		StatusCallbackURL: "https://api.example.com/webhook/telnyx/status",
	})
	if err != nil {
		t.Fatalf("Bridge: %v", err)
	}
	if res.ProviderCallID != "cc-1" {
		t.Fatalf("provider call id = %q", res.ProviderCallID)
	}
	if gotAuth != "Bearer KEY" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotBody["connection_id"] != "conn-1" || gotBody["stream_url"] != "wss://engine/join/1" {
		t.Fatalf("body = %v", gotBody)
	}
}
