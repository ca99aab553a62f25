package entity

import (
	"net/http"
	"time"
	"vpnbot/lib/validate"
)

// Role controls access level within the bot.
// Hierarchy: RoleUser < RoleManager < RoleAdmin.
// Managers can mint invite codes and see statistics; admins have full access.
type Role string

const (
	RoleUser    Role = "user"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// ParseRole maps a stored string to a Role, defaulting to RoleUser
// for unknown values (old rows written before the role column existed).
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleManager:
		return RoleManager
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUser
	}
}

// User is a bot subscriber with an optional VPN account on the panel.
// VPN fields (VlessUUID, PanelUUID, limits) are populated when a trial or a
// paid subscription provisions the panel user.
type User struct {
	TelegramId       int64      `json:"telegram_id" bson:"telegram_id" validate:"required"`
	TelegramUsername string     `json:"telegram_username" bson:"telegram_username"`
	FirstName        string     `json:"first_name" bson:"first_name"`
	Role             Role       `json:"role" bson:"role"`
	ReferralCode     string     `json:"referral_code" bson:"referral_code"`
	InvitedBy        int64      `json:"invited_by,omitempty" bson:"invited_by,omitempty"`
	ApiToken         string     `json:"-" bson:"api_token,omitempty"`
	VlessUUID        string     `json:"vless_uuid,omitempty" bson:"vless_uuid,omitempty"`
	PanelUUID        string     `json:"panel_uuid,omitempty" bson:"panel_uuid,omitempty"`
	DataLimitBytes   int64      `json:"data_limit_bytes" bson:"data_limit_bytes"`
	UsedBytes        int64      `json:"used_bytes" bson:"used_bytes"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	IsBlocked        bool       `json:"is_blocked" bson:"is_blocked"`
	TrialActivated   bool       `json:"trial_activated" bson:"trial_activated"`
	TrialExpiry      *time.Time `json:"trial_expiry,omitempty" bson:"trial_expiry,omitempty"`
	CreatedAt        time.Time  `json:"created_at" bson:"created_at"`
}

func (u *User) Bind(_ *http.Request) error {
	return validate.Struct(u)
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) IsManager() bool {
	return u.Role == RoleManager || u.Role == RoleAdmin
}

// CanInvite reports whether the user may mint invite codes.
func (u *User) CanInvite() bool {
	return u.IsManager()
}

// HasActiveAccess reports whether the user currently holds VPN access,
// either from a subscription or a running trial.
func (u *User) HasActiveAccess(now time.Time) bool {
	if u.IsBlocked {
		return false
	}
	if u.ExpiresAt != nil && u.ExpiresAt.After(now) {
		return true
	}
	return u.TrialExpiry != nil && u.TrialExpiry.After(now)
}

func (u *User) DisplayName() string {
	if u.TelegramUsername != "" {
		return "@" + u.TelegramUsername
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return "unknown"
}
