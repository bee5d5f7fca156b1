package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"voicedial-platform/internal/callhistory"
	"voicedial-platform/internal/campaign"
	"voicedial-platform/internal/engine"
	"voicedial-platform/internal/telephony"
	"voicedial-platform/internal/usersettings"
)

// fakeEngine records CreateCall requests and hands out sequential call ids.
type fakeEngine struct {
	mu      sync.Mutex
	calls   []engine.CreateCallRequest
	nextID  int
	failing bool
}

func (f *fakeEngine) CreateCall(_ context.Context, req engine.CreateCallRequest) (engine.CreateCallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return engine.CreateCallResult{}, fmt.Errorf("engine unavailable")
	}
	f.nextID++
	f.calls = append(f.calls, req)
	id := fmt.Sprintf("call-%d", f.nextID)
	return engine.CreateCallResult{CallID: id, JoinURL: "wss://engine/join/" + id}, nil
}

func (f *fakeEngine) GetCallDetails(context.Context, string) (engine.CallDetails, error) {
	return engine.CallDetails{}, fmt.Errorf("not implemented")
}

func (f *fakeEngine) CreateWebhook(context.Context, engine.CreateWebhookRequest) (string, error) {
	return "wh-1", nil
}

func (f *fakeEngine) DeleteWebhook(context.Context, string) error { return nil }

func (f *fakeEngine) createdCalls() []engine.CreateCallRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]engine.CreateCallRequest, len(f.calls))
	copy(out, f.calls)
	return out
}

// fakeDialer records bridge requests.
type fakeDialer struct {
	mu      sync.Mutex
	bridges []telephony.BridgeRequest
	failing bool
}

func (f *fakeDialer) Bridge(_ context.Context, req telephony.BridgeRequest) (telephony.BridgeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return telephony.BridgeResult{}, fmt.Errorf("provider rejected call")
	}
	f.bridges = append(f.bridges, req)
	return telephony.BridgeResult{ProviderCallID: fmt.Sprintf("prov-%d", len(f.bridges))}, nil
}

func (f *fakeDialer) bridged() []telephony.BridgeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]telephony.BridgeRequest, len(f.bridges))
	copy(out, f.bridges)
	return out
}

// testEnv wires a scheduler against memory stores with a controllable clock.
type testEnv struct {
	sched     *Scheduler
	campaigns *campaign.MemoryStore
	history   *callhistory.MemoryStore
	settings  *usersettings.MemoryStore
	engine    *fakeEngine
	dialer    *fakeDialer

	mu  sync.Mutex
	now time.Time
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{
		campaigns: campaign.NewMemoryStore(),
		history:   callhistory.NewMemoryStore(),
		settings:  usersettings.NewMemoryStore(),
		engine:    &fakeEngine{},
		dialer:    &fakeDialer{},
		now:       time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time {
		env.mu.Lock()
		defer env.mu.Unlock()
		return env.now
	}
	env.campaigns.SetClock(clock)
	env.history.SetClock(clock)
	env.sched = New(env.campaigns, env.history, env.settings, env.engine, env.dialer,
		slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	env.sched.SetClock(clock)
	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func (e *testEnv) clockNow() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

// outboundCampaign builds an active outbound campaign with n pending
// contacts, windowed 09:00-17:00 UTC around the env clock's date.
func outboundCampaign(id, userID string, n int) *campaign.Campaign {
	contacts := make([]campaign.Contact, n)
	for i := range contacts {
		contacts[i] = campaign.Contact{
			ContactID:   fmt.Sprintf("%s-ct-%d", id, i+1),
			Name:        fmt.Sprintf("Contact %d", i+1),
			PhoneNumber: fmt.Sprintf("+1555000%04d", i+1),
			CallStatus:  campaign.ContactPending,
		}
	}
	return &campaign.Campaign{
		CampaignID: id,
		UserID:     userID,
		Type:       campaign.TypeOutbound,
		AgentRef:   "agent-1",
		Status:     campaign.StatusActive,
		Schedule: &campaign.Schedule{
			ScheduledDate: "2026-03-10",
			ScheduledTime: "09:00",
			EndTime:       "17:00",
			Timezone:      "UTC",
		},
		OutboundMedium: &campaign.OutboundMedium{Provider: "twilio", FromPhone: "+15550009999"},
		Contacts:       contacts,
		CreatedAt:      time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
	}
}

func putTwilioUser(e *testEnv, userID string, maxConcurrent int) {
	e.settings.Put(usersettings.UserSettings{
		UserID:             userID,
		MaxConcurrentCalls: maxConcurrent,
		Telephony: map[string]usersettings.Credentials{
			"twilio": {AccountID: "AC1", AuthToken: "tok"},
		},
	})
}

// processUser runs one synchronous processing pass for a user's campaigns.
func (e *testEnv) processUser(t *testing.T, userID string, campaignIDs ...string) {
	t.Helper()
	e.sched.ProcessUserCalls(context.Background(), userID, campaignIDs)
}
