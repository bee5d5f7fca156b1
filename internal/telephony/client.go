package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"voicedial-platform/internal/usersettings"
)

// Provider tags recognized by the dialer. These match the keys used in
// user telephony credentials and in campaign outbound mediums.
const (
	ProviderTwilio = "twilio"
	ProviderPlivo  = "plivo"
	ProviderTelnyx = "telnyx"
)

// BridgeRequest asks a provider to dial the customer and stream the call
// audio into an already-allocated engine session (JoinURL).
//
// Correlation ids ride on the provider's status callback URL as query
// parameters so terminal callbacks can be matched without provider state.
type BridgeRequest struct {
	Provider  string
	FromPhone string
	ToPhone   string
	JoinURL   string

	CampaignID    string
	ContactID     string
	CallHistoryID string

	Credentials usersettings.Credentials

	// StatusCallbackURL and AnswerURL are filled in by the Dialer.
	StatusCallbackURL string
	AnswerURL         string
}

type BridgeResult struct {
	ProviderCallID string
}

// Client is what the scheduler depends on.
type Client interface {
	Bridge(ctx context.Context, req BridgeRequest) (BridgeResult, error)
}

// Bridger is one provider adapter.
//
// Rules carried over from the provider-agnostic telephony layer:
// - No provider SDK calls outside adapters.
// - Requests carry explicit per-user credentials; adapters hold none.
type Bridger interface {
	Provider() string
	Bridge(ctx context.Context, req BridgeRequest) (BridgeResult, error)
}

var (
	ErrUnknownProvider    = errors.New("telephony: unknown provider")
	ErrMissingCredentials = errors.New("telephony: missing credentials")
)

// Dialer dispatches bridge requests to the registered provider adapters and
// decorates requests with the callback URLs they need.
type Dialer struct {
	baseURL  string
	bridgers map[string]Bridger
}

// NewDialer registers the given adapters. baseURL is the externally
// reachable webhook base (WEBHOOK_BASE_URL).
func NewDialer(baseURL string, bridgers ...Bridger) *Dialer {
	d := &Dialer{
		baseURL:  strings.TrimRight(baseURL, "/"),
		bridgers: map[string]Bridger{},
	}
	for _, b := range bridgers {
		d.bridgers[b.Provider()] = b
	}
	return d
}

func (d *Dialer) Bridge(ctx context.Context, req BridgeRequest) (BridgeResult, error) {
	b, ok := d.bridgers[req.Provider]
	if !ok {
		return BridgeResult{}, fmt.Errorf("%w: %q", ErrUnknownProvider, req.Provider)
	}
	if req.Credentials.Empty() {
		return BridgeResult{}, ErrMissingCredentials
	}
	if req.FromPhone == "" || req.ToPhone == "" || req.JoinURL == "" {
		return BridgeResult{}, errors.New("telephony: from, to and join url are required")
	}
	req.StatusCallbackURL = d.statusCallbackURL(req)
	req.AnswerURL = d.answerURL(req)
	return b.Bridge(ctx, req)
}

func (d *Dialer) statusCallbackURL(req BridgeRequest) string {
	q := url.Values{}
	q.Set("campaignId", req.CampaignID)
	q.Set("contactId", req.ContactID)
	q.Set("callHistoryId", req.CallHistoryID)
	return fmt.Sprintf("%s/webhook/%s/status?%s", d.baseURL, req.Provider, q.Encode())
}

// answerURL is used by providers that fetch call instructions on answer
// (Plivo) instead of accepting them inline.
func (d *Dialer) answerURL(req BridgeRequest) string {
	q := url.Values{}
	q.Set("joinUrl", req.JoinURL)
	return fmt.Sprintf("%s/webhook/%s/answer?%s", d.baseURL, req.Provider, q.Encode())
}
