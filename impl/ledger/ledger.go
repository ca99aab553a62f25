// Package ledger admits new users against bounded-use invite codes.
//
// The one hard guarantee here: across any number of concurrent redeemers,
// per process or per instance, a code with max_uses = M is redeemed exactly
// M times. Correctness comes from a single conditional write in the storage
// backend whose affected-row count is the success signal; the ledger never
// takes a lock and never does a read-then-write increment.
package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"vpnbot/entity"
	"vpnbot/lib/sl"
)

// Refusal reasons. Everything except ErrStorageUnavailable is terminal for
// the given code or attempt; only ErrStorageUnavailable is worth a retry.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidFormat      = errors.New("invalid code format")
	ErrConflict           = errors.New("code already exists")
	ErrNotFound           = errors.New("code not found")
	ErrExpired            = errors.New("code expired")
	ErrExhausted          = errors.New("code exhausted")
	ErrRevoked            = errors.New("code revoked")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// codePattern is checked at the boundary before any storage access, so
// forwarded garbage from chat messages is rejected for free.
var codePattern = regexp.MustCompile(`^INV_[a-f0-9]{8,50}$`)

// Store is the storage contract the ledger runs on. RedeemInvite must execute
// the increment-and-deactivate as one atomic conditional update and report
// whether it applied together with the post-update used_count from the same
// round trip. Implementations return entity.ErrNotFound / entity.ErrDuplicate
// for the corresponding row conditions.
type Store interface {
	CreateInvite(ctx context.Context, invite *entity.InviteCode) error
	InviteByCode(ctx context.Context, code string) (*entity.InviteCode, error)
	RedeemInvite(ctx context.Context, code string, now time.Time) (used int, applied bool, err error)
	RefundInvite(ctx context.Context, code string) (applied bool, err error)
	RevokeInvite(ctx context.Context, code string) (applied bool, err error)
}

// Config bounds are product choices, not protocol constants, so they come
// from the config file. Zero values fall back to the defaults below.
type Config struct {
	CodeHexLength int // hex chars after the INV_ prefix, 8..50
	MaxUsesLimit  int // inclusive upper bound for max_uses at creation
}

const (
	defaultCodeHexLength = 16
	defaultMaxUsesLimit  = 1000
	minCodeHexLength     = 8
	maxCodeHexLength     = 50
)

type Ledger struct {
	store Store
	log   *slog.Logger
	conf  Config
}

func New(store Store, log *slog.Logger, conf Config) *Ledger {
	if store == nil {
		panic("ledger store is nil")
	}
	if conf.CodeHexLength == 0 {
		conf.CodeHexLength = defaultCodeHexLength
	}
	if conf.CodeHexLength < minCodeHexLength {
		conf.CodeHexLength = minCodeHexLength
	}
	if conf.CodeHexLength > maxCodeHexLength {
		conf.CodeHexLength = maxCodeHexLength
	}
	if conf.MaxUsesLimit <= 0 {
		conf.MaxUsesLimit = defaultMaxUsesLimit
	}
	return &Ledger{
		store: store,
		log:   log.With(sl.Module("ledger")),
		conf:  conf,
	}
}

// Redemption is the successful outcome of RedeemCode. CreatedBy feeds
// referral attribution; Exhausted tells the caller this redemption consumed
// the last use.
type Redemption struct {
	Code      string
	CreatedBy int64
	UsedCount int
	MaxUses   int
	Exhausted bool
}

// CreateCode mints a new invite on behalf of a pre-authorized creator.
// The caller's permission to mint is checked by impl/auth, not here.
func (l *Ledger) CreateCode(ctx context.Context, creator int64, maxUses int, expiresAt *time.Time) (*entity.InviteCode, error) {
	if maxUses < 1 || maxUses > l.conf.MaxUsesLimit {
		return nil, fmt.Errorf("%w: max_uses must be in [1, %d], got %d", ErrInvalidArgument, l.conf.MaxUsesLimit, maxUses)
	}
	code, err := l.generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	invite := &entity.InviteCode{
		Code:      code,
		CreatedBy: creator,
		MaxUses:   maxUses,
		UsedCount: 0,
		IsActive:  true,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if err = l.store.CreateInvite(ctx, invite); err != nil {
		if errors.Is(err, entity.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, code)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	l.log.Info("invite code created",
		slog.Int64("created_by", creator),
		slog.Int("max_uses", maxUses),
		sl.Secret("code", code),
	)
	return invite, nil
}

// ValidateCode is a read-only preview of a code's state. It is advisory:
// the answer can be stale the moment it returns, so it must never gate a
// subsequent RedeemCode.
func (l *Ledger) ValidateCode(ctx context.Context, code string) (*entity.InviteCode, error) {
	if !codePattern.MatchString(code) {
		return nil, ErrInvalidFormat
	}
	invite, err := l.store.InviteByCode(ctx, code)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if reason := classify(invite, time.Now().UTC()); reason != nil {
		return nil, reason
	}
	return invite, nil
}

// RedeemCode consumes one use of the code. This is the only sanctioned way
// to increment used_count: the store serializes concurrent redeemers through
// its conditional update, and a zero-row outcome is classified by a follow-up
// read, never by a pre-check. A successful redemption is final; it cannot be
// rolled back by context cancellation.
func (l *Ledger) RedeemCode(ctx context.Context, code string, redeemer int64) (*Redemption, error) {
	if !codePattern.MatchString(code) {
		return nil, ErrInvalidFormat
	}
	now := time.Now().UTC()

	used, applied, err := l.store.RedeemInvite(ctx, code, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if !applied {
		invite, err := l.store.InviteByCode(ctx, code)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if reason := classify(invite, now); reason != nil {
			return nil, reason
		}
		// The update matched nothing but the row reads as redeemable again.
		// No transition leads back to Active, so treat it as a transient
		// storage inconsistency and let the caller retry.
		return nil, fmt.Errorf("%w: invite state changed during redemption", ErrStorageUnavailable)
	}

	// Creator and max_uses are immutable once minted, so reading them after
	// the committed update is safe.
	invite, err := l.store.InviteByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: redemption committed, attribution read failed: %v", ErrStorageUnavailable, err)
	}

	l.log.Info("invite code redeemed",
		slog.Int64("redeemer", redeemer),
		slog.Int("used_count", used),
		slog.Int("max_uses", invite.MaxUses),
		sl.Secret("code", code),
	)
	return &Redemption{
		Code:      code,
		CreatedBy: invite.CreatedBy,
		UsedCount: used,
		MaxUses:   invite.MaxUses,
		Exhausted: used >= invite.MaxUses,
	}, nil
}

// RefundCode gives back one consumed use. It compensates a redemption
// whose admission lost to a concurrent duplicate, so the winner's use is
// the only one that sticks. A code the redemption exhausted is reactivated;
// a manually revoked one stays revoked.
func (l *Ledger) RefundCode(ctx context.Context, code string) error {
	if !codePattern.MatchString(code) {
		return ErrInvalidFormat
	}
	applied, err := l.store.RefundInvite(ctx, code)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !applied {
		return ErrNotFound
	}
	l.log.Info("invite use refunded", sl.Secret("code", code))
	return nil
}

// RevokeCode deactivates a code ahead of exhaustion or expiry. It goes
// through the same conditional-update discipline as redemption so a revoke
// racing a redeemer cannot lose updates.
func (l *Ledger) RevokeCode(ctx context.Context, code string) error {
	if !codePattern.MatchString(code) {
		return ErrInvalidFormat
	}
	applied, err := l.store.RevokeInvite(ctx, code)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if applied {
		l.log.Info("invite code revoked", sl.Secret("code", code))
		return nil
	}

	invite, err := l.store.InviteByCode(ctx, code)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if reason := classify(invite, time.Now().UTC()); reason != nil {
		return reason
	}
	return fmt.Errorf("%w: invite state changed during revocation", ErrStorageUnavailable)
}

// classify maps a row's current state to a refusal reason, or nil when the
// code is redeemable. Expiry wins over exhaustion, exhaustion over manual
// revocation, matching the order a user can act on the answer.
func classify(invite *entity.InviteCode, now time.Time) error {
	if invite.IsExpired(now) {
		return ErrExpired
	}
	if invite.IsExhausted() {
		return ErrExhausted
	}
	if !invite.IsActive {
		return ErrRevoked
	}
	return nil
}

func (l *Ledger) generateCode() (string, error) {
	buf := make([]byte, (l.conf.CodeHexLength+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "INV_" + hex.EncodeToString(buf)[:l.conf.CodeHexLength], nil
}
