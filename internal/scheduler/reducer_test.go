package scheduler

import (
	"context"
	"testing"
	"time"

	"voicedial-platform/internal/callhistory"
	"voicedial-platform/internal/campaign"
)

// dialOne runs a pass that initiates exactly one call and returns its engine
// call id.
func dialOne(t *testing.T, env *testEnv, userID, campaignID string) string {
	t.Helper()
	before := len(env.engine.createdCalls())
	env.processUser(t, userID, campaignID)
	calls := env.engine.createdCalls()
	if len(calls) != before+1 {
		t.Fatalf("engine calls = %d, want %d", len(calls), before+1)
	}
	camp, err := env.campaigns.GetByID(context.Background(), campaignID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	for i := range camp.Contacts {
		if camp.Contacts[i].CallStatus == campaign.ContactInProgress {
			return camp.Contacts[i].EngineCallID
		}
	}
	t.Fatal("no in-progress contact after initiation")
	return ""
}

func TestHandleCallTerminatedCompletedCall(t *testing.T) {
	env := newTestEnv(t, Config{})
	putTwilioUser(env, "user-1", 1)
	env.campaigns.Put(outboundCampaign("camp-1", "user-1", 2))
	callID := dialOne(t, env, "user-1", "camp-1")

	joined := env.clockNow()
	ended := joined.Add(95 * time.Second)
	err := env.sched.HandleCallTerminated(context.Background(), CallTerminated{
		EngineCallID: callID,
		Outcome:      OutcomeCompleted,
		EndReason:    "hangup",
		JoinedAt:     &joined,
		EndedAt:      &ended,
		ShortSummary: "customer booked a demo",
	})
	if err != nil {
		t.Fatalf("HandleCallTerminated: %v", err)
	}

	hist, err := env.history.GetByCallID(context.Background(), callID)
	if err != nil {
		t.Fatalf("GetByCallID: %v", err)
	}
	if hist.Status != callhistory.StatusCompleted {
		t.Fatalf("history status = %s, want completed", hist.Status)
	}
	if hist.DurationSeconds != 95 {
		t.Fatalf("duration = %d, want 95", hist.DurationSeconds)
	}
	if hist.BilledDurationSeconds != 120 {
		t.Fatalf("billed = %d, want 120 (next whole minute)", hist.BilledDurationSeconds)
	}

	camp, _ := env.campaigns.GetByID(context.Background(), "camp-1")
	ct := camp.ContactByID("camp-1-ct-1")
	if ct.CallStatus != campaign.ContactCompleted {
		t.Fatalf("contact status = %s, want completed", ct.CallStatus)
	}
	if ct.CallDurationSeconds != 95 {
		t.Fatalf("contact duration = %d, want 95", ct.CallDurationSeconds)
	}
	if camp.CompletedCalls != 1 || camp.SuccessfulCalls != 1 || camp.FailedCalls != 0 {
		t.Fatalf("totals = %d/%d/%d", camp.CompletedCalls, camp.SuccessfulCalls, camp.FailedCalls)
	}

	// Slot freed: the next pass dials the remaining contact.
	env.processUser(t, "user-1", "camp-1")
	if got := len(env.engine.createdCalls()); got != 2 {
		t.Fatalf("engine calls = %d, want 2 after slot release", got)
	}
}

func TestHandleCallTerminatedBilledFloor(t *testing.T) {
	env := newTestEnv(t, Config{})
	putTwilioUser(env, "user-1", 1)
	env.campaigns.Put(outboundCampaign("camp-1", "user-1", 1))
	callID := dialOne(t, env, "user-1", "camp-1")

	err := env.sched.HandleCallTerminated(context.Background(), CallTerminated{
		EngineCallID:    callID,
		Outcome:         OutcomeCompleted,
		DurationSeconds: 20,
	})
	if err != nil {
		t.Fatalf("HandleCallTerminated: %v", err)
	}
	hist, _ := env.history.GetByCallID(context.Background(), callID)
	if hist.BilledDurationSeconds != 60 {
		t.Fatalf("billed = %d, want 60 (floor)", hist.BilledDurationSeconds)
	}
	if hist.DurationSeconds != 20 {
		t.Fatalf("duration = %d, want 20", hist.DurationSeconds)
	}
}

func TestHandleCallTerminatedBilledRoundsUpWholeMinute(t *testing.T) {
	env := newTestEnv(t, Config{})
	putTwilioUser(env, "user-1", 1)
	env.campaigns.Put(outboundCampaign("camp-1", "user-1", 1))
	callID := dialOne(t, env, "user-1", "camp-1")

	// 2m50s on the line bills as three minutes.
	joined := env.clockNow()
	ended := joined.Add(170 * time.Second)
	err := env.sched.HandleCallTerminated(context.Background(), CallTerminated{
		EngineCallID: callID,
		Outcome:      OutcomeCompleted,
		EndReason:    "hangup",
		JoinedAt:     &joined,
		EndedAt:      &ended,
	})
	if err != nil {
		t.Fatalf("HandleCallTerminated: %v", err)
	}
	hist, _ := env.history.GetByCallID(context.Background(), callID)
	if hist.DurationSeconds != 170 {
		t.Fatalf("duration = %d, want 170", hist.DurationSeconds)
	}
	if hist.BilledDurationSeconds != 180 {
		t.Fatalf("billed = %d, want 180 (three whole minutes)", hist.BilledDurationSeconds)
	}
}

func TestHandleCallTerminatedLateBilledEventLands(t *testing.T) {
	env := newTestEnv(t, Config{})
	putTwilioUser(env, "user-1", 1)
	env.campaigns.Put(outboundCampaign("camp-1", "user-1", 1))
	callID := dialOne(t, env, "user-1", "camp-1")

	joined := env.clockNow()
	ended := joined.Add(95 * time.Second)
	first := CallTerminated{
		EngineCallID: callID,
		Outcome:      OutcomeCompleted,
		EndReason:    "hangup",
		JoinedAt:     &joined,
		EndedAt:      &ended,
	}
	if err := env.sched.HandleCallTerminated(context.Background(), first); err != nil {
		t.Fatalf("ended event: %v", err)
	}

	// The billing event lost the race; its figures still land on the row.
	late := CallTerminated{
		EngineCallID:  callID,
		Outcome:       OutcomeCompleted,
		EndReason:     "hangup",
		BilledSeconds: 240,
		RecordingURL:  "https://recordings/call.mp3",
	}
	if err := env.sched.HandleCallTerminated(context.Background(), late); err != nil {
		t.Fatalf("billed event: %v", err)
	}

	hist, _ := env.history.GetByCallID(context.Background(), callID)
	if hist.BilledDurationSeconds != 240 {
		t.Fatalf("billed = %d, want 240 from the billing event", hist.BilledDurationSeconds)
	}
	if hist.RecordingURL != "https://recordings/call.mp3" {
		t.Fatalf("recording url = %q", hist.RecordingURL)
	}
	if hist.DurationSeconds != 95 {
		t.Fatalf("duration = %d, want 95 (unchanged)", hist.DurationSeconds)
	}
	camp, _ := env.campaigns.GetByID(context.Background(), "camp-1")
	if camp.CompletedCalls != 1 {
		t.Fatalf("totals bumped twice: completed = %d", camp.CompletedCalls)
	}
}

func TestHandleCallTerminatedDuplicateIsNoOp(t *testing.T) {
	env := newTestEnv(t, Config{})
	putTwilioUser(env, "user-1", 1)
	env.campaigns.Put(outboundCampaign("camp-1", "user-1", 1))
	callID := dialOne(t, env, "user-1", "camp-1")

	first := CallTerminated{EngineCallID: callID, Outcome: OutcomeCompleted, DurationSeconds: 30}
	if err := env.sched.HandleCallTerminated(context.Background(), first); err != nil {
		t.Fatalf("first event: %v", err)
	}
	// Provider callback races in with a different verdict; it must lose.
	second := CallTerminated{EngineCallID: callID, Outcome: OutcomeFailed, DurationSeconds: 0}
	if err := env.sched.HandleCallTerminated(context.Background(), second); err != nil {
		t.Fatalf("second event: %v", err)
	}

	hist, _ := env.history.GetByCallID(context.Background(), callID)
	if hist.Status != callhistory.StatusCompleted {
		t.Fatalf("history status = %s, want completed (first writer wins)", hist.Status)
	}
	camp, _ := env.campaigns.GetByID(context.Background(), "camp-1")
	if camp.CompletedCalls != 1 {
		t.Fatalf("totals bumped twice: completed = %d", camp.CompletedCalls)
	}
}

func TestHandleCallTerminatedUnknownCallDropped(t *testing.T) {
	env := newTestEnv(t, Config{})
	err := env.sched.HandleCallTerminated(context.Background(), CallTerminated{
		EngineCallID: "never-seen",
		Outcome:      OutcomeCompleted,
	})
	if err != nil {
		t.Fatalf("unknown call should be dropped, got %v", err)
	}
}

func TestHandleCallTerminatedNoAnswerCompletesCampaign(t *testing.T) {
	env := newTestEnv(t, Config{})
	putTwilioUser(env, "user-1", 1)
	env.campaigns.Put(outboundCampaign("camp-1", "user-1", 1))
	callID := dialOne(t, env, "user-1", "camp-1")

	err := env.sched.HandleCallTerminated(context.Background(), CallTerminated{
		EngineCallID: callID,
		Outcome:      OutcomeNoAnswer,
		EndReason:    "unjoined",
	})
	if err != nil {
		t.Fatalf("HandleCallTerminated: %v", err)
	}
	camp, _ := env.campaigns.GetByID(context.Background(), "camp-1")
	if camp.Status != campaign.StatusCompleted {
		t.Fatalf("campaign status = %s, want completed after last contact", camp.Status)
	}
	ct := camp.ContactByID("camp-1-ct-1")
	if ct.CallStatus != campaign.ContactNoAnswer {
		t.Fatalf("contact status = %s, want no-answer", ct.CallStatus)
	}
	if camp.FailedCalls != 1 || camp.SuccessfulCalls != 0 {
		t.Fatalf("totals = success %d / failed %d", camp.SuccessfulCalls, camp.FailedCalls)
	}
}

func TestHandleCallTerminatedBusyDefaultsToFailed(t *testing.T) {
	env := newTestEnv(t, Config{})
	putTwilioUser(env, "user-1", 1)
	env.campaigns.Put(outboundCampaign("camp-1", "user-1", 1))
	callID := dialOne(t, env, "user-1", "camp-1")

	err := env.sched.HandleCallTerminated(context.Background(), CallTerminated{
		EngineCallID: callID,
		Outcome:      OutcomeBusy,
	})
	if err != nil {
		t.Fatalf("HandleCallTerminated: %v", err)
	}
	camp, _ := env.campaigns.GetByID(context.Background(), "camp-1")
	if ct := camp.ContactByID("camp-1-ct-1"); ct.CallStatus != campaign.ContactFailed {
		t.Fatalf("contact status = %s, want failed", ct.CallStatus)
	}
	hist, _ := env.history.GetByCallID(context.Background(), callID)
	if hist.EndReason != "busy" {
		t.Fatalf("end reason = %q, want busy", hist.EndReason)
	}
}

func TestHandleCallTerminatedBusyRequeuesWithKnob(t *testing.T) {
	env := newTestEnv(t, Config{RetryBusy: true})
	putTwilioUser(env, "user-1", 1)
	env.campaigns.Put(outboundCampaign("camp-1", "user-1", 1))
	callID := dialOne(t, env, "user-1", "camp-1")

	err := env.sched.HandleCallTerminated(context.Background(), CallTerminated{
		EngineCallID: callID,
		Outcome:      OutcomeBusy,
	})
	if err != nil {
		t.Fatalf("HandleCallTerminated: %v", err)
	}
	camp, _ := env.campaigns.GetByID(context.Background(), "camp-1")
	ct := camp.ContactByID("camp-1-ct-1")
	if ct.CallStatus != campaign.ContactPending {
		t.Fatalf("contact status = %s, want pending (requeued)", ct.CallStatus)
	}
	if camp.Status != campaign.StatusActive {
		t.Fatalf("campaign status = %s, want still active", camp.Status)
	}
	if camp.CompletedCalls != 0 {
		t.Fatalf("totals bumped for requeued contact: %d", camp.CompletedCalls)
	}

	// The requeued contact is dialable again.
	env.processUser(t, "user-1", "camp-1")
	if got := len(env.engine.createdCalls()); got != 2 {
		t.Fatalf("engine calls = %d, want 2 (retry)", got)
	}
}
