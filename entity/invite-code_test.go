package entity

import (
	"testing"
	"time"
)

func TestInviteCodeCounters(t *testing.T) {
	invite := InviteCode{MaxUses: 3, UsedCount: 0}
	if invite.IsExhausted() || invite.Remaining() != 3 {
		t.Errorf("fresh code: exhausted=%v remaining=%d", invite.IsExhausted(), invite.Remaining())
	}

	invite.UsedCount = 3
	if !invite.IsExhausted() || invite.Remaining() != 0 {
		t.Errorf("spent code: exhausted=%v remaining=%d", invite.IsExhausted(), invite.Remaining())
	}

	// overshoot must never yield a negative remainder
	invite.UsedCount = 5
	if invite.Remaining() != 0 {
		t.Errorf("overshoot remaining = %d", invite.Remaining())
	}
}

func TestInviteCodeExpiry(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	if (&InviteCode{}).IsExpired(now) {
		t.Error("code without expiry must never expire")
	}
	if (&InviteCode{ExpiresAt: &future}).IsExpired(now) {
		t.Error("future expiry reported as expired")
	}
	if !(&InviteCode{ExpiresAt: &past}).IsExpired(now) {
		t.Error("past expiry not reported")
	}
	// boundary: expiry exactly now counts as expired
	if !(&InviteCode{ExpiresAt: &now}).IsExpired(now) {
		t.Error("expiry at the exact instant should count as expired")
	}
}
