package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const plivoAPIBase = "https://api.plivo.com"

// PlivoBridger creates an outbound Plivo call. Plivo fetches call
// instructions from the answer URL on pickup; the answer handler renders
// the <Stream> XML pointing at the engine join URL.
type PlivoBridger struct {
	apiBase string
	hc      *http.Client
}

func NewPlivoBridger() *PlivoBridger {
	return &PlivoBridger{
		apiBase: plivoAPIBase,
		hc:      &http.Client{Timeout: 8 * time.Second},
	}
}

// SetAPIBase overrides the Plivo API base (tests).
func (b *PlivoBridger) SetAPIBase(base string) {
	b.apiBase = strings.TrimRight(base, "/")
}

func (b *PlivoBridger) Provider() string { return ProviderPlivo }

func (b *PlivoBridger) Bridge(ctx context.Context, req BridgeRequest) (BridgeResult, error) {
	if req.Credentials.AccountID == "" || req.Credentials.AuthToken == "" {
		return BridgeResult{}, ErrMissingCredentials
	}

	payload := map[string]any{
		"from":              req.FromPhone,
		"to":                req.ToPhone,
		"answer_url":        req.AnswerURL,
		"answer_method":     http.MethodGet,
		"hangup_url":        req.StatusCallbackURL,
		"hangup_method":     http.MethodPost,
		"machine_detection": "true",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return BridgeResult{}, err
	}

	endpoint := fmt.Sprintf("%s/v1/Account/%s/Call/", b.apiBase, req.Credentials.AccountID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return BridgeResult{}, err
	}
	httpReq.SetBasicAuth(req.Credentials.AccountID, req.Credentials.AuthToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.hc.Do(httpReq)
	if err != nil {
		return BridgeResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return BridgeResult{}, fmt.Errorf("telephony: plivo call create failed: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		RequestUUID string `json:"request_uuid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return BridgeResult{}, err
	}
	if out.RequestUUID == "" {
		return BridgeResult{}, errors.New("telephony: plivo response missing request uuid")
	}
	return BridgeResult{ProviderCallID: out.RequestUUID}, nil
}
