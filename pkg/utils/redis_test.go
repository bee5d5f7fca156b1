package utils

import (
	"context"
	"testing"
	"time"
)

func TestLeaseScriptCompiles(t *testing.T) {
	// Compile-time smoke test: script should be initialized.
	if leaseReleaseScript == nil {
		t.Fatalf("expected script to be initialized")
	}
}

func TestMarkOnceValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := MarkOnce(ctx, nil, "k", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestAcquireLeaseValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := AcquireLease(ctx, nil, "k", "h", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := ReleaseLease(ctx, nil, "k", "h"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
