package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"vpnbot/entity"
	"vpnbot/impl/ledger"
	"vpnbot/lib/sl"

	"github.com/google/uuid"
)

const referralPrefix = "ref_"

// Profile is the Telegram identity supplied with /start.
type Profile struct {
	TelegramId int64
	Username   string
	FirstName  string
}

// RegisterUser admits a user through /start. Existing users get a profile
// refresh. New users are admitted if registration is open, if they are a
// bootstrap admin, or if the start payload carries a valid invite code;
// a referral payload records who brought them but does not admit by itself.
func (c *Core) RegisterUser(ctx context.Context, profile Profile, startPayload string) (*entity.User, bool, error) {
	log := c.log.With(slog.Int64("telegram_id", profile.TelegramId))

	user, err := c.db.UserByTelegramId(ctx, profile.TelegramId)
	if err == nil {
		if user.TelegramUsername != profile.Username || user.FirstName != profile.FirstName {
			if err = c.db.UpdateUserProfile(ctx, profile.TelegramId, profile.Username, profile.FirstName); err != nil {
				log.Warn("update profile", sl.Err(err))
			}
			user.TelegramUsername = profile.Username
			user.FirstName = profile.FirstName
			c.invalidateUser(ctx, profile.TelegramId)
		}
		return user, false, nil
	}
	if !errors.Is(err, entity.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup user: %w", err)
	}

	var invitedBy int64
	var referrer *entity.User
	var redeemedCode string

	switch {
	case c.auth.IsBootstrapAdmin(profile.TelegramId):
		// config admins always get in

	case strings.HasPrefix(startPayload, "INV_"):
		redemption, err := c.ledger.RedeemCode(ctx, startPayload, profile.TelegramId)
		if err != nil {
			log.With(
				slog.String("code", startPayload),
			).Info("invite redemption refused", sl.Err(err))
			return nil, false, err
		}
		invitedBy = redemption.CreatedBy
		redeemedCode = redemption.Code
		if c.archive != nil {
			if err = c.archive.SaveRedemption(redemption.Code, profile.TelegramId, redemption.UsedCount); err != nil {
				log.Warn("archive redemption", sl.Err(err))
			}
		}

	case strings.HasPrefix(startPayload, referralPrefix):
		referrer, err = c.db.UserByReferralCode(ctx, strings.TrimPrefix(startPayload, referralPrefix))
		if err != nil {
			if !errors.Is(err, entity.ErrNotFound) {
				return nil, false, fmt.Errorf("lookup referrer: %w", err)
			}
			referrer = nil
		}
		if !c.auth.OpenRegistration() && referrer == nil {
			return nil, false, ErrInviteRequired
		}
		if !c.auth.OpenRegistration() && referrer != nil && !c.conf.Referral.Enabled {
			return nil, false, ErrInviteRequired
		}
		if referrer != nil && referrer.TelegramId == profile.TelegramId {
			referrer = nil
		}

	default:
		if !c.auth.OpenRegistration() {
			return nil, false, ErrInviteRequired
		}
	}

	referralCode, err := randomHex(8)
	if err != nil {
		return nil, false, fmt.Errorf("generate referral code: %w", err)
	}

	user = &entity.User{
		TelegramId:       profile.TelegramId,
		TelegramUsername: profile.Username,
		FirstName:        profile.FirstName,
		Role:             entity.RoleUser,
		ReferralCode:     referralCode,
		InvitedBy:        invitedBy,
		ApiToken:         uuid.New().String(),
		VlessUUID:        uuid.New().String(),
		CreatedAt:        time.Now().UTC(),
	}
	if c.auth.IsBootstrapAdmin(profile.TelegramId) {
		user.Role = entity.RoleAdmin
	}
	if referrer != nil {
		user.InvitedBy = referrer.TelegramId
	}

	if err = c.db.CreateUser(ctx, user); err != nil {
		if errors.Is(err, entity.ErrDuplicate) {
			// concurrent /start, the first insert won; give the use this
			// redemption consumed back to the code
			if redeemedCode != "" {
				if refundErr := c.ledger.RefundCode(ctx, redeemedCode); refundErr != nil {
					log.Warn("refund invite use", sl.Err(refundErr))
				}
			}
			existing, lookupErr := c.db.UserByTelegramId(ctx, profile.TelegramId)
			if lookupErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("create user: %w", err)
	}

	if referrer != nil && c.conf.Referral.Enabled {
		ref := &entity.Referral{
			ReferrerId: referrer.TelegramId,
			ReferredId: user.TelegramId,
			Status:     entity.ReferralPending,
			BonusCents: c.conf.Referral.BonusCents,
			CreatedAt:  time.Now().UTC(),
		}
		if err = c.db.CreateReferral(ctx, ref); err != nil && !errors.Is(err, entity.ErrDuplicate) {
			log.Warn("create referral", sl.Err(err))
		}
	}

	log.With(
		slog.String("name", user.DisplayName()),
		slog.Int64("invited_by", user.InvitedBy),
	).Info("user registered")
	return user, true, nil
}

// CreateInvite mints a new invite code. Managers and admins only.
func (c *Core) CreateInvite(ctx context.Context, creator *entity.User, maxUses int, validDays int) (*entity.InviteCode, error) {
	if !creator.CanInvite() {
		return nil, ErrPermission
	}
	var expiresAt *time.Time
	if validDays > 0 {
		t := time.Now().UTC().AddDate(0, 0, validDays)
		expiresAt = &t
	}
	return c.ledger.CreateCode(ctx, creator.TelegramId, maxUses, expiresAt)
}

// ValidateInvite is the advisory check; it never consumes a use.
func (c *Core) ValidateInvite(ctx context.Context, code string) (*entity.InviteCode, error) {
	return c.ledger.ValidateCode(ctx, code)
}

// RedeemInvite consumes one use of a code on behalf of a redeemer.
func (c *Core) RedeemInvite(ctx context.Context, code string, redeemer int64) (*ledger.Redemption, error) {
	return c.ledger.RedeemCode(ctx, code, redeemer)
}

// RevokeInvite deactivates a code. The creator, managers and admins may revoke.
func (c *Core) RevokeInvite(ctx context.Context, actor *entity.User, code string) error {
	if !actor.CanInvite() {
		return ErrPermission
	}
	if !actor.IsAdmin() {
		invite, err := c.db.InviteByCode(ctx, code)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				return ledger.ErrNotFound
			}
			return fmt.Errorf("lookup invite: %w", err)
		}
		if invite.CreatedBy != actor.TelegramId {
			return ErrPermission
		}
	}
	return c.ledger.RevokeCode(ctx, code)
}

// MyInvites lists codes minted by the user, newest first.
func (c *Core) MyInvites(ctx context.Context, creator *entity.User, limit int) ([]*entity.InviteCode, error) {
	if !creator.CanInvite() {
		return nil, ErrPermission
	}
	if limit <= 0 {
		limit = 20
	}
	return c.db.InvitesByCreator(ctx, creator.TelegramId, limit)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:n], nil
}
