package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com"

// TwilioBridger creates an outbound Twilio call whose audio is streamed
// into the engine session via inline TwiML <Connect><Stream>.
type TwilioBridger struct {
	apiBase string
	hc      *http.Client
}

func NewTwilioBridger() *TwilioBridger {
	return &TwilioBridger{
		apiBase: twilioAPIBase,
		hc:      &http.Client{Timeout: 8 * time.Second},
	}
}

// SetAPIBase overrides the Twilio API base (tests).
func (b *TwilioBridger) SetAPIBase(base string) {
	b.apiBase = strings.TrimRight(base, "/")
}

func (b *TwilioBridger) Provider() string { return ProviderTwilio }

func (b *TwilioBridger) Bridge(ctx context.Context, req BridgeRequest) (BridgeResult, error) {
	if req.Credentials.AccountID == "" || req.Credentials.AuthToken == "" {
		return BridgeResult{}, ErrMissingCredentials
	}

	twiml, err := RenderConnectStream(req.JoinURL)
	if err != nil {
		return BridgeResult{}, err
	}

	form := url.Values{}
	form.Set("To", req.ToPhone)
	form.Set("From", req.FromPhone)
	form.Set("Twiml", twiml)
	form.Set("StatusCallback", req.StatusCallbackURL)
	form.Set("StatusCallbackMethod", http.MethodPost)
	for _, ev := range []string{"completed", "busy", "failed", "no-answer", "canceled"} {
		form.Add("StatusCallbackEvent", ev)
	}
	form.Set("MachineDetection", "Enable")

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", b.apiBase, req.Credentials.AccountID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return BridgeResult{}, err
	}
	httpReq.SetBasicAuth(req.Credentials.AccountID, req.Credentials.AuthToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.hc.Do(httpReq)
	if err != nil {
		return BridgeResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return BridgeResult{}, fmt.Errorf("telephony: twilio call create failed: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Sid string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return BridgeResult{}, err
	}
	if out.Sid == "" {
		return BridgeResult{}, errors.New("telephony: twilio response missing call sid")
	}
	return BridgeResult{ProviderCallID: out.Sid}, nil
}
