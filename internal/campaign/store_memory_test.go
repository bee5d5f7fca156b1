package campaign

import (
	"context"
	"sync"
	"testing"
	"time"
)

func seedCampaign(n int) *Campaign {
	c := &Campaign{
		CampaignID: "camp1",
		UserID:     "u1",
		Type:       TypeOutbound,
		AgentRef:   "agent1",
		Status:     StatusActive,
		CreatedAt:  time.Unix(1700000000, 0).UTC(),
	}
	for i := 0; i < n; i++ {
		c.Contacts = append(c.Contacts, Contact{
			ContactID:   string(rune('a' + i)),
			Name:        "Contact",
			PhoneNumber: "+15550000000",
			CallStatus:  ContactPending,
		})
	}
	return c
}

func TestClaimPendingContact_OrderAndExhaustion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Put(seedCampaign(2))

	first, err := store.ClaimPendingContact(ctx, "camp1")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if first == nil || first.Contact.ContactID != "a" {
		t.Fatalf("expected first pending contact, got %+v", first)
	}
	if first.Contact.CallStatus != ContactInProgress {
		t.Fatalf("claim must set in-progress, got %s", first.Contact.CallStatus)
	}
	if first.Contact.CalledAt == nil {
		t.Fatalf("claim must stamp called_at")
	}

	second, err := store.ClaimPendingContact(ctx, "camp1")
	if err != nil || second == nil || second.Contact.ContactID != "b" {
		t.Fatalf("expected second contact, got %+v err=%v", second, err)
	}

	third, err := store.ClaimPendingContact(ctx, "camp1")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if third != nil {
		t.Fatalf("expected nil claim when no pending contacts, got %+v", third)
	}
}

func TestClaimPendingContact_ConcurrentClaimsAreDistinct(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Put(seedCampaign(16))

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := store.ClaimPendingContact(ctx, "camp1")
			if err != nil || claim == nil {
				return
			}
			mu.Lock()
			seen[claim.Contact.ContactID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 16 {
		t.Fatalf("expected 16 distinct claims, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("contact %s claimed %d times", id, n)
		}
	}
}

func TestUpdateContact_TerminalStatusDoesNotRegress(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := seedCampaign(1)
	c.Contacts[0].CallStatus = ContactFailed
	store.Put(c)

	if err := store.UpdateContact(ctx, "camp1", "a", ContactUpdate{CallStatus: ContactCompleted}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, _ := store.GetByID(ctx, "camp1")
	if got.Contacts[0].CallStatus != ContactFailed {
		t.Fatalf("terminal status regressed to %s", got.Contacts[0].CallStatus)
	}

	// Force is the manual-reset escape hatch.
	if err := store.UpdateContact(ctx, "camp1", "a", ContactUpdate{CallStatus: ContactPending, Force: true}); err != nil {
		t.Fatalf("forced update failed: %v", err)
	}
	got, _ = store.GetByID(ctx, "camp1")
	if got.Contacts[0].CallStatus != ContactPending {
		t.Fatalf("forced update not applied, got %s", got.Contacts[0].CallStatus)
	}
}

func TestListByUserAndStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a := seedCampaign(0)
	a.CampaignID = "camp-a"
	a.Status = StatusActive
	store.Put(a)

	b := seedCampaign(0)
	b.CampaignID = "camp-b"
	b.Status = StatusPausedTimeWindow
	store.Put(b)

	other := seedCampaign(0)
	other.CampaignID = "camp-x"
	other.UserID = "u2"
	store.Put(other)

	got, err := store.ListByUserAndStatus(ctx, "u1", StatusActive)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 || got[0].CampaignID != "camp-a" {
		t.Fatalf("unexpected list: %+v", got)
	}

	all, err := store.ListByUserAndStatus(ctx, "u1")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 campaigns for u1, got %d err=%v", len(all), err)
	}
}

func TestIncrementTotals(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Put(seedCampaign(0))

	if err := store.IncrementTotals(ctx, "camp1", 1, 1, 0); err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if err := store.IncrementTotals(ctx, "camp1", 1, 0, 1); err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	got, _ := store.GetByID(ctx, "camp1")
	if got.CompletedCalls != 2 || got.SuccessfulCalls != 1 || got.FailedCalls != 1 {
		t.Fatalf("unexpected totals: %+v", got)
	}
}
