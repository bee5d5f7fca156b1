package engine

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

	"voicedial-platform/internal/config"
)

// StatusError is a non-2xx engine response. The scheduler treats every one
// of these as terminal for the contact being dialed; there is no retry.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine: status %d: %s", e.StatusCode, e.Message)
}

var ErrMissingCallID = errors.New("engine: response missing call id")

// HTTPClient talks to the voice engine REST API. Timeouts are single-digit
// seconds so a hung engine cannot block a user's processing latch.
type HTTPClient struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

func NewHTTPClient(cfg config.EngineConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		apiKey:  cfg.APIKey,
		hc: &http.Client{
			Timeout: 8 * time.Second,
		},
	}
}

func (c *HTTPClient) CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResult, error) {
	var out CreateCallResult
	if err := c.do(ctx, http.MethodPost, "/v1/calls", req, &out); err != nil {
		return CreateCallResult{}, err
	}
	if out.CallID == "" {
		return CreateCallResult{}, ErrMissingCallID
	}
	return out, nil
}

func (c *HTTPClient) GetCallDetails(ctx context.Context, callID string) (CallDetails, error) {
	if callID == "" {
		return CallDetails{}, errors.New("engine: call id is required")
	}
	var out CallDetails
	if err := c.do(ctx, http.MethodGet, "/v1/calls/"+callID, nil, &out); err != nil {
		return CallDetails{}, err
	}
	return out, nil
}

func (c *HTTPClient) CreateWebhook(ctx context.Context, req CreateWebhookRequest) (string, error) {
	var out struct {
		WebhookID string `json:"webhook_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/webhooks", req, &out); err != nil {
		return "", err
	}
	if out.WebhookID == "" {
		return "", errors.New("engine: response missing webhook id")
	}
	return out.WebhookID, nil
}

func (c *HTTPClient) DeleteWebhook(ctx context.Context, webhookID string) error {
	if webhookID == "" {
		return errors.New("engine: webhook id is required")
	}
	return c.do(ctx, http.MethodDelete, "/v1/webhooks/"+webhookID, nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
