package entity

import (
	"net/http"
	"time"
	"vpnbot/lib/validate"
)

// InviteCode is a bounded-use admission token. Admins and managers mint codes,
// new users open a deep link (t.me/bot?start=CODE) which redeems one use.
// UsedCount never exceeds MaxUses: the only sanctioned increment is the
// conditional UPDATE behind ledger.RedeemCode.
type InviteCode struct {
	Code      string     `json:"code" bson:"code"`
	CreatedBy int64      `json:"created_by" bson:"created_by"`
	MaxUses   int        `json:"max_uses" bson:"max_uses"`
	UsedCount int        `json:"used_count" bson:"used_count"`
	IsActive  bool       `json:"is_active" bson:"is_active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" bson:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty" bson:"used_at,omitempty"`
}

func (i *InviteCode) IsExhausted() bool {
	return i.UsedCount >= i.MaxUses
}

func (i *InviteCode) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && !i.ExpiresAt.After(now)
}

// InviteRequest is the REST payload for minting a code.
type InviteRequest struct {
	MaxUses   int `json:"max_uses" validate:"required,min=1"`
	ValidDays int `json:"valid_days" validate:"min=0"`
}

func (r *InviteRequest) Bind(_ *http.Request) error {
	return validate.Struct(r)
}

// Remaining returns the number of redemptions left on the code.
func (i *InviteCode) Remaining() int {
	if i.UsedCount >= i.MaxUses {
		return 0
	}
	return i.MaxUses - i.UsedCount
}
