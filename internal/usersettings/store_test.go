package usersettings

import (
	"context"
	"testing"
)

func TestMemoryStoreDefaultsForUnknownUser(t *testing.T) {
	s := NewMemoryStore()
	u, err := s.GetByUserID(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if u.MaxConcurrentCalls != DefaultMaxConcurrentCalls {
		t.Fatalf("max concurrent = %d, want default %d", u.MaxConcurrentCalls, DefaultMaxConcurrentCalls)
	}
	if _, ok := u.CredentialsFor("twilio"); ok {
		t.Fatal("unknown user should have no credentials")
	}
}

func TestMemoryStoreFloorsZeroCap(t *testing.T) {
	s := NewMemoryStore()
	s.Put(UserSettings{UserID: "u1", MaxConcurrentCalls: 0})
	u, err := s.GetByUserID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if u.MaxConcurrentCalls != DefaultMaxConcurrentCalls {
		t.Fatalf("max concurrent = %d, want floored to %d", u.MaxConcurrentCalls, DefaultMaxConcurrentCalls)
	}
}

func TestCredentialsFor(t *testing.T) {
	u := UserSettings{
		UserID: "u1",
		Telephony: map[string]Credentials{
			"twilio": {AccountID: "AC1", AuthToken: "tok"},
			"telnyx": {},
		},
	}
	if c, ok := u.CredentialsFor("twilio"); !ok || c.AccountID != "AC1" {
		t.Fatalf("twilio creds = %+v ok=%v", c, ok)
	}
	if _, ok := u.CredentialsFor("telnyx"); ok {
		t.Fatal("empty credentials should not resolve")
	}
	if _, ok := u.CredentialsFor("plivo"); ok {
		t.Fatal("missing provider should not resolve")
	}
}
