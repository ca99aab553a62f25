package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vpnbot/entity"
)

// memStore mirrors the MySQL store's contract: the redeem path is one
// atomic conditional mutation under a single lock, and every method bumps a
// call counter so tests can assert which paths touched storage.
type memStore struct {
	mu      sync.Mutex
	invites map[string]*entity.InviteCode

	createCalls int64
	getCalls    int64
	redeemCalls int64
	refundCalls int64
	revokeCalls int64

	failRedeem bool
}

func newMemStore() *memStore {
	return &memStore{invites: make(map[string]*entity.InviteCode)}
}

func (s *memStore) CreateInvite(_ context.Context, invite *entity.InviteCode) error {
	atomic.AddInt64(&s.createCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invites[invite.Code]; ok {
		return entity.ErrDuplicate
	}
	cp := *invite
	s.invites[invite.Code] = &cp
	return nil
}

func (s *memStore) InviteByCode(_ context.Context, code string) (*entity.InviteCode, error) {
	atomic.AddInt64(&s.getCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.invites[code]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *invite
	return &cp, nil
}

func (s *memStore) RedeemInvite(_ context.Context, code string, now time.Time) (int, bool, error) {
	atomic.AddInt64(&s.redeemCalls, 1)
	if s.failRedeem {
		return 0, false, fmt.Errorf("connection reset")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.invites[code]
	if !ok {
		return 0, false, nil
	}
	if !invite.IsActive || invite.UsedCount >= invite.MaxUses || invite.IsExpired(now) {
		return 0, false, nil
	}
	invite.UsedCount++
	invite.UsedAt = &now
	if invite.UsedCount >= invite.MaxUses {
		invite.IsActive = false
	}
	return invite.UsedCount, true, nil
}

func (s *memStore) RefundInvite(_ context.Context, code string) (bool, error) {
	atomic.AddInt64(&s.refundCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.invites[code]
	if !ok || invite.UsedCount == 0 {
		return false, nil
	}
	if !invite.IsActive && invite.UsedCount >= invite.MaxUses {
		invite.IsActive = true
	}
	invite.UsedCount--
	return true, nil
}

func (s *memStore) RevokeInvite(_ context.Context, code string) (bool, error) {
	atomic.AddInt64(&s.revokeCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.invites[code]
	if !ok || !invite.IsActive {
		return false, nil
	}
	invite.IsActive = false
	return true, nil
}

func (s *memStore) snapshot(code string) entity.InviteCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.invites[code]
}

func testLedger(t *testing.T, store Store) *Ledger {
	t.Helper()
	log := slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(store, log, Config{})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestCreateCodeBounds(t *testing.T) {
	tests := []struct {
		name    string
		maxUses int
		wantErr error
	}{
		{"zero rejected", 0, ErrInvalidArgument},
		{"negative rejected", -3, ErrInvalidArgument},
		{"over ceiling rejected", 1001, ErrInvalidArgument},
		{"lower bound accepted", 1, nil},
		{"upper bound accepted", 1000, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			l := testLedger(t, store)
			invite, err := l.CreateCode(context.Background(), 100, tc.maxUses, nil)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("CreateCode(%d) error = %v, want %v", tc.maxUses, err, tc.wantErr)
				}
				if store.createCalls != 0 {
					t.Fatalf("invalid max_uses reached storage: %d calls", store.createCalls)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateCode(%d): %v", tc.maxUses, err)
			}
			if invite.UsedCount != 0 || !invite.IsActive {
				t.Fatalf("new invite = used %d active %v, want 0/true", invite.UsedCount, invite.IsActive)
			}
			if invite.MaxUses != tc.maxUses {
				t.Fatalf("max_uses = %d, want %d", invite.MaxUses, tc.maxUses)
			}
		})
	}
}

func TestCreateCodeFormat(t *testing.T) {
	l := testLedger(t, newMemStore())
	invite, err := l.CreateCode(context.Background(), 100, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !codePattern.MatchString(invite.Code) {
		t.Fatalf("generated code %q does not match %v", invite.Code, codePattern)
	}
	if !strings.HasPrefix(invite.Code, "INV_") {
		t.Fatalf("generated code %q missing prefix", invite.Code)
	}
}

func TestCreateCodeConflict(t *testing.T) {
	store := newMemStore()
	l := testLedger(t, store)
	first, err := l.CreateCode(context.Background(), 100, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Force a collision by pre-seeding every possible insert outcome: the
	// store rejects duplicates, so inserting the same code again must
	// surface ErrConflict rather than overwrite.
	err = store.CreateInvite(context.Background(), first)
	if !errors.Is(err, entity.ErrDuplicate) {
		t.Fatalf("duplicate insert error = %v, want entity.ErrDuplicate", err)
	}
	_, err = l.CreateCode(context.Background(), 100, 5, nil)
	if err != nil {
		t.Fatalf("fresh code after collision seed: %v", err)
	}
}

func TestValidateFormatRejectionIsPure(t *testing.T) {
	tests := []struct {
		code string
		pure bool // true when the code must be rejected before storage
	}{
		{"INV_TEST123", true}, // uppercase, non-hex
		{"INV_xyz12345", true},
		{"INV_abc1234", true},  // 7 hex chars, below minimum
		{"inv_abc12345", true}, // lowercase prefix
		{"abc12345", true},
		{"", true},
		{"INV_" + strings.Repeat("a", 51), true},
		{"INV_abc12345", false},
		{"INV_" + strings.Repeat("0", 50), false},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			store := newMemStore()
			l := testLedger(t, store)
			_, err := l.ValidateCode(context.Background(), tc.code)
			if tc.pure {
				if !errors.Is(err, ErrInvalidFormat) {
					t.Fatalf("ValidateCode(%q) = %v, want ErrInvalidFormat", tc.code, err)
				}
				if store.getCalls != 0 {
					t.Fatalf("malformed code reached storage: %d calls", store.getCalls)
				}
				return
			}
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("ValidateCode(%q) = %v, want ErrNotFound after lookup", tc.code, err)
			}
			if store.getCalls != 1 {
				t.Fatalf("well-formed code lookup calls = %d, want 1", store.getCalls)
			}
		})
	}
}

func TestValidateClassification(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	tests := []struct {
		name   string
		invite entity.InviteCode
		want   error
	}{
		{"active", entity.InviteCode{MaxUses: 5, UsedCount: 2, IsActive: true}, nil},
		{"active with future expiry", entity.InviteCode{MaxUses: 5, IsActive: true, ExpiresAt: &future}, nil},
		{"expired wins over remaining uses", entity.InviteCode{MaxUses: 10, UsedCount: 0, IsActive: true, ExpiresAt: &past}, ErrExpired},
		{"exhausted", entity.InviteCode{MaxUses: 3, UsedCount: 3, IsActive: false}, ErrExhausted},
		{"revoked", entity.InviteCode{MaxUses: 3, UsedCount: 1, IsActive: false}, ErrRevoked},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			l := testLedger(t, store)
			tc.invite.Code = "INV_abcdef12"
			cp := tc.invite
			store.invites[cp.Code] = &cp

			got, err := l.ValidateCode(context.Background(), cp.Code)
			if tc.want != nil {
				if !errors.Is(err, tc.want) {
					t.Fatalf("ValidateCode = %v, want %v", err, tc.want)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateCode: %v", err)
			}
			if got.UsedCount != cp.UsedCount || got.MaxUses != cp.MaxUses {
				t.Fatalf("metadata = %d/%d, want %d/%d", got.UsedCount, got.MaxUses, cp.UsedCount, cp.MaxUses)
			}
			// Advisory read mutates nothing.
			if after := store.snapshot(cp.Code); after.UsedCount != cp.UsedCount {
				t.Fatalf("ValidateCode mutated used_count: %d", after.UsedCount)
			}
		})
	}
}

func TestRedeemSingleUse(t *testing.T) {
	store := newMemStore()
	l := testLedger(t, store)
	invite, err := l.CreateCode(context.Background(), 42, 1, nil)
	if err != nil {
		t.Fatal(err)
	}

	red, err := l.RedeemCode(context.Background(), invite.Code, 1001)
	if err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if red.UsedCount != 1 || !red.Exhausted || red.CreatedBy != 42 {
		t.Fatalf("redemption = %+v, want used 1, exhausted, creator 42", red)
	}
	row := store.snapshot(invite.Code)
	if row.UsedCount != 1 || row.IsActive {
		t.Fatalf("row after redeem = used %d active %v, want 1/false", row.UsedCount, row.IsActive)
	}

	_, err = l.RedeemCode(context.Background(), invite.Code, 1002)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("second redeem = %v, want ErrExhausted", err)
	}
	if after := store.snapshot(invite.Code); after.UsedCount != 1 {
		t.Fatalf("exhausted redeem mutated used_count: %d", after.UsedCount)
	}
}

// TestRedeemScenario is the three-use walkthrough: A, B, A again (repeat
// redemption by the same user consumes a use by design), then C refused.
func TestRedeemScenario(t *testing.T) {
	store := newMemStore()
	l := testLedger(t, store)
	invite, err := l.CreateCode(context.Background(), 7, 3, nil)
	if err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		redeemer int64
		wantUsed int
	}{
		{redeemer: 1, wantUsed: 1},
		{redeemer: 2, wantUsed: 2},
		{redeemer: 1, wantUsed: 3}, // same redeemer again, not idempotent
	}
	for _, st := range steps {
		red, err := l.RedeemCode(context.Background(), invite.Code, st.redeemer)
		if err != nil {
			t.Fatalf("redeem by %d: %v", st.redeemer, err)
		}
		if red.UsedCount != st.wantUsed {
			t.Fatalf("redeem by %d used_count = %d, want %d", st.redeemer, red.UsedCount, st.wantUsed)
		}
	}

	row := store.snapshot(invite.Code)
	if row.UsedCount != 3 || row.IsActive {
		t.Fatalf("final row = used %d active %v, want 3/false", row.UsedCount, row.IsActive)
	}
	if _, err = l.RedeemCode(context.Background(), invite.Code, 3); !errors.Is(err, ErrExhausted) {
		t.Fatalf("redeem by user C = %v, want ErrExhausted", err)
	}
}

func TestRedeemExpiredNeverIncrements(t *testing.T) {
	store := newMemStore()
	l := testLedger(t, store)
	past := time.Now().UTC().Add(-time.Minute)
	invite, err := l.CreateCode(context.Background(), 7, 10, &past)
	if err != nil {
		t.Fatal(err)
	}

	_, err = l.RedeemCode(context.Background(), invite.Code, 1)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("redeem expired = %v, want ErrExpired", err)
	}
	if row := store.snapshot(invite.Code); row.UsedCount != 0 {
		t.Fatalf("expired redeem incremented used_count: %d", row.UsedCount)
	}
}

func TestRedeemUnknownAndMalformed(t *testing.T) {
	store := newMemStore()
	l := testLedger(t, store)

	if _, err := l.RedeemCode(context.Background(), "INV_TEST123", 1); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("malformed redeem = %v, want ErrInvalidFormat", err)
	}
	if store.redeemCalls != 0 {
		t.Fatalf("malformed redeem reached storage")
	}
	if _, err := l.RedeemCode(context.Background(), "INV_deadbeef", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown redeem = %v, want ErrNotFound", err)
	}
}

func TestRedeemStorageUnavailable(t *testing.T) {
	store := newMemStore()
	l := testLedger(t, store)
	invite, err := l.CreateCode(context.Background(), 7, 2, nil)
	if err != nil {
		t.Fatal(err)
	}

	store.failRedeem = true
	_, err = l.RedeemCode(context.Background(), invite.Code, 1)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("redeem with storage down = %v, want ErrStorageUnavailable", err)
	}

	// Retrying after recovery applies cleanly once.
	store.failRedeem = false
	red, err := l.RedeemCode(context.Background(), invite.Code, 1)
	if err != nil {
		t.Fatalf("redeem after recovery: %v", err)
	}
	if red.UsedCount != 1 {
		t.Fatalf("used_count after recovery = %d, want 1", red.UsedCount)
	}
}

// TestConcurrentExhaustion launches K=50 simultaneous redeemers against a
// code with M=5 uses and requires exactly 5 successes, 45 exhausted refusals,
// and a final row of used_count=5, inactive. This is the invariant the whole
// package exists for.
func TestConcurrentExhaustion(t *testing.T) {
	const (
		maxUses   = 5
		redeemers = 50
	)
	store := newMemStore()
	l := testLedger(t, store)
	invite, err := l.CreateCode(context.Background(), 7, maxUses, nil)
	if err != nil {
		t.Fatal(err)
	}

	var (
		start     = make(chan struct{})
		wg        sync.WaitGroup
		succeeded int64
		exhausted int64
		other     int64
	)
	for i := 0; i < redeemers; i++ {
		wg.Add(1)
		go func(redeemer int64) {
			defer wg.Done()
			<-start
			_, err := l.RedeemCode(context.Background(), invite.Code, redeemer)
			switch {
			case err == nil:
				atomic.AddInt64(&succeeded, 1)
			case errors.Is(err, ErrExhausted):
				atomic.AddInt64(&exhausted, 1)
			default:
				atomic.AddInt64(&other, 1)
			}
		}(int64(i + 1))
	}
	close(start)
	wg.Wait()

	if succeeded != maxUses {
		t.Fatalf("successes = %d, want %d", succeeded, maxUses)
	}
	if exhausted != redeemers-maxUses {
		t.Fatalf("exhausted refusals = %d, want %d", exhausted, redeemers-maxUses)
	}
	if other != 0 {
		t.Fatalf("unexpected refusal reasons: %d", other)
	}
	row := store.snapshot(invite.Code)
	if row.UsedCount != maxUses || row.IsActive {
		t.Fatalf("final row = used %d active %v, want %d/false", row.UsedCount, row.IsActive, maxUses)
	}
}

func TestRevoke(t *testing.T) {
	store := newMemStore()
	l := testLedger(t, store)
	invite, err := l.CreateCode(context.Background(), 7, 5, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err = l.RevokeCode(context.Background(), invite.Code); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err = l.RedeemCode(context.Background(), invite.Code, 1); !errors.Is(err, ErrRevoked) {
		t.Fatalf("redeem revoked = %v, want ErrRevoked", err)
	}
	// Revoking an already-exhausted or revoked code reports the state.
	if err = l.RevokeCode(context.Background(), invite.Code); !errors.Is(err, ErrRevoked) {
		t.Fatalf("second revoke = %v, want ErrRevoked", err)
	}
	if err = l.RevokeCode(context.Background(), "INV_deadbeef"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("revoke unknown = %v, want ErrNotFound", err)
	}
}

func TestRefund(t *testing.T) {
	store := newMemStore()
	l := testLedger(t, store)
	ctx := context.Background()

	invite, err := l.CreateCode(ctx, 7, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = l.RedeemCode(ctx, invite.Code, 1); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	// refund reopens a code the redemption exhausted
	if err = l.RefundCode(ctx, invite.Code); err != nil {
		t.Fatalf("refund: %v", err)
	}
	snap := store.snapshot(invite.Code)
	if snap.UsedCount != 0 || !snap.IsActive {
		t.Fatalf("after refund used=%d active=%v, want 0/true", snap.UsedCount, snap.IsActive)
	}
	if _, err = l.RedeemCode(ctx, invite.Code, 2); err != nil {
		t.Fatalf("redeem after refund: %v", err)
	}

	// nothing consumed, nothing to give back
	if err = l.RefundCode(ctx, invite.Code); err != nil {
		t.Fatalf("refund exhausted code: %v", err)
	}
	if err = l.RefundCode(ctx, invite.Code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("refund with zero uses = %v, want ErrNotFound", err)
	}
	if err = l.RefundCode(ctx, "INV_deadbeef"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("refund unknown = %v, want ErrNotFound", err)
	}

	// a manual revocation survives the refund
	redeemed, err := l.CreateCode(ctx, 7, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = l.RedeemCode(ctx, redeemed.Code, 3); err != nil {
		t.Fatal(err)
	}
	if err = l.RevokeCode(ctx, redeemed.Code); err != nil {
		t.Fatal(err)
	}
	if err = l.RefundCode(ctx, redeemed.Code); err != nil {
		t.Fatalf("refund revoked: %v", err)
	}
	snap = store.snapshot(redeemed.Code)
	if snap.IsActive {
		t.Error("refund must not reactivate a revoked code")
	}
	if snap.UsedCount != 0 {
		t.Errorf("revoked code used = %d, want 0", snap.UsedCount)
	}
}

func TestCodeLengthConfig(t *testing.T) {
	store := newMemStore()
	log := slog.New(slog.NewTextHandler(discard{}, nil))

	for _, hexLen := range []int{8, 16, 50} {
		l := New(store, log, Config{CodeHexLength: hexLen})
		invite, err := l.CreateCode(context.Background(), 1, 1, nil)
		if err != nil {
			t.Fatalf("CreateCode with hex length %d: %v", hexLen, err)
		}
		if got := len(invite.Code) - len("INV_"); got != hexLen {
			t.Fatalf("code hex length = %d, want %d", got, hexLen)
		}
	}

	// Out-of-range lengths clamp to the pattern bounds instead of minting
	// unredeemable codes.
	l := New(store, log, Config{CodeHexLength: 200})
	invite, err := l.CreateCode(context.Background(), 1, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !codePattern.MatchString(invite.Code) {
		t.Fatalf("clamped code %q does not match pattern", invite.Code)
	}
}
