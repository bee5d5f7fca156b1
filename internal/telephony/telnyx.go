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

const telnyxAPIBase = "https://api.telnyx.com"

// TelnyxBridger creates an outbound call via the Telnyx Call Control API
// with media streamed into the engine session.
//
// Credentials mapping: APIKey is the Telnyx API key, AccountID is the Call
// Control connection id.
type TelnyxBridger struct {
	apiBase string
	hc      *http.Client
}

func NewTelnyxBridger() *TelnyxBridger {
	return &TelnyxBridger{
		apiBase: telnyxAPIBase,
		hc:      &http.Client{Timeout: 8 * time.Second},
	}
}

// SetAPIBase overrides the Telnyx API base (tests).
func (b *TelnyxBridger) SetAPIBase(base string) {
	b.apiBase = strings.TrimRight(base, "/")
}

func (b *TelnyxBridger) Provider() string { return ProviderTelnyx }

func (b *TelnyxBridger) Bridge(ctx context.Context, req BridgeRequest) (BridgeResult, error) {
	if req.Credentials.APIKey == "" || req.Credentials.AccountID == "" {
		return BridgeResult{}, ErrMissingCredentials
	}

	payload := map[string]any{
		"connection_id":               req.Credentials.AccountID,
		"to":                          req.ToPhone,
		"from":                        req.FromPhone,
		"stream_url":                  req.JoinURL,
		"stream_track":                "both_tracks",
		"webhook_url":                 req.StatusCallbackURL,
		"webhook_url_method":          "POST",
		"answering_machine_detection": "detect",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return BridgeResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiBase+"/v2/calls", bytes.NewReader(body))
	if err != nil {
		return BridgeResult{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.Credentials.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.hc.Do(httpReq)
	if err != nil {
		return BridgeResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return BridgeResult{}, fmt.Errorf("telephony: telnyx call create failed: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Data struct {
			CallControlID string `json:"call_control_id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return BridgeResult{}, err
	}
	if out.Data.CallControlID == "" {
		return BridgeResult{}, errors.New("telephony: telnyx response missing call control id")
	}
	return BridgeResult{ProviderCallID: out.Data.CallControlID}, nil
}
