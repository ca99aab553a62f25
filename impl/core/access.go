package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"vpnbot/entity"
	"vpnbot/internal/panel"
	"vpnbot/lib/sl"
	"vpnbot/lib/vless"
)

const bytesPerGB = int64(1) << 30

// ActivateTrial grants the one-shot trial period. The trial flag flips
// through a conditional update, so a second activation attempt reports
// ErrTrialUsed even when two requests race.
func (c *Core) ActivateTrial(ctx context.Context, user *entity.User) (*entity.Subscription, error) {
	if !c.conf.Trial.Enabled {
		return nil, ErrTrialDisabled
	}
	if user.TrialActivated {
		return nil, ErrTrialUsed
	}

	log := c.log.With(slog.Int64("telegram_id", user.TelegramId))
	now := time.Now().UTC()
	expiry := now.AddDate(0, 0, c.conf.Trial.Days)
	dataLimit := int64(c.conf.Trial.DataLimitGB) * bytesPerGB

	applied, err := c.db.ActivateTrial(ctx, user.TelegramId, expiry, dataLimit)
	if err != nil {
		return nil, fmt.Errorf("activate trial: %w", err)
	}
	if !applied {
		return nil, ErrTrialUsed
	}
	user.TrialActivated = true
	user.TrialExpiry = &expiry

	if err = c.provisionPanel(ctx, user, dataLimit, expiry); err != nil {
		log.Error("provision trial on panel", sl.Err(err))
	}

	sub := &entity.Subscription{
		TelegramId:     user.TelegramId,
		PlanCode:       "trial",
		Status:         entity.SubscriptionTrial,
		DataLimitBytes: dataLimit,
		StartedAt:      now,
		ExpiresAt:      expiry,
	}
	if err = c.db.CreateSubscription(ctx, sub); err != nil {
		log.Warn("record trial subscription", sl.Err(err))
	}

	c.invalidateUser(ctx, user.TelegramId)
	log.With(
		slog.Time("expiry", expiry),
		slog.Int("days", c.conf.Trial.Days),
	).Info("trial activated")
	return sub, nil
}

// grantAccess extends the user's VPN access by the plan period. An active
// period is extended from its current end, not from now, so renewing early
// never loses paid days.
func (c *Core) grantAccess(ctx context.Context, user *entity.User, plan *entity.Plan, paymentId int64) error {
	log := c.log.With(
		slog.Int64("telegram_id", user.TelegramId),
		slog.String("plan", plan.Code),
	)
	now := time.Now().UTC()

	start := now
	if user.ExpiresAt != nil && user.ExpiresAt.After(now) {
		start = *user.ExpiresAt
	}
	expiry := start.AddDate(0, 0, plan.Days)
	dataLimit := int64(plan.DataLimitGB) * bytesPerGB

	if err := c.provisionPanel(ctx, user, dataLimit, expiry); err != nil {
		// access is still recorded; the panel push is retried on next sync
		log.Error("provision panel", sl.Err(err))
	}

	if err := c.db.SetUserAccess(ctx, user.TelegramId, user.PanelUUID, dataLimit, &expiry); err != nil {
		return fmt.Errorf("set user access: %w", err)
	}
	user.DataLimitBytes = dataLimit
	user.ExpiresAt = &expiry

	sub := &entity.Subscription{
		TelegramId:     user.TelegramId,
		PlanCode:       plan.Code,
		Status:         entity.SubscriptionActive,
		DataLimitBytes: dataLimit,
		StartedAt:      now,
		ExpiresAt:      expiry,
		PaymentId:      paymentId,
	}
	if err := c.db.CreateSubscription(ctx, sub); err != nil {
		log.Warn("record subscription", sl.Err(err))
	}

	c.invalidateUser(ctx, user.TelegramId)
	log.With(slog.Time("expiry", expiry)).Info("access granted")
	return nil
}

// provisionPanel creates or updates the user's panel account.
func (c *Core) provisionPanel(ctx context.Context, user *entity.User, dataLimit int64, expiry time.Time) error {
	if c.panel == nil {
		return nil
	}
	days := int(time.Until(expiry).Hours()/24) + 1
	account := &panel.User{
		UUID:         user.VlessUUID,
		Name:         user.DisplayName(),
		UsageLimitGB: float64(dataLimit) / float64(bytesPerGB),
		PackageDays:  days,
		Enable:       true,
	}

	if user.PanelUUID != "" {
		if err := c.panel.UpdateUser(ctx, account); err == nil {
			return nil
		} else if !errors.Is(err, panel.ErrNotFound) {
			return err
		}
		// the panel lost the account, recreate it
	}
	if err := c.panel.CreateUser(ctx, account); err != nil {
		return err
	}
	user.PanelUUID = user.VlessUUID
	if err := c.db.SetUserAccess(ctx, user.TelegramId, user.PanelUUID, dataLimit, &expiry); err != nil {
		return fmt.Errorf("store panel uuid: %w", err)
	}
	return nil
}

// UserConfig returns the connection link and its QR code for a user with
// active access.
func (c *Core) UserConfig(ctx context.Context, user *entity.User) (string, []byte, error) {
	if !user.HasActiveAccess(time.Now().UTC()) {
		return "", nil, ErrNoAccess
	}
	if user.VlessUUID == "" {
		return "", nil, ErrNoAccess
	}
	params := vless.Params{
		UUID:       user.VlessUUID,
		ServerAddr: c.conf.Vless.ServerAddr,
		Port:       c.conf.Vless.Port,
		PublicKey:  c.conf.Vless.PublicKey,
		Sni:        c.conf.Vless.Sni,
		Tag:        c.conf.Vless.Tag,
	}
	link := vless.URL(params)
	png, err := vless.QR(params)
	if err != nil {
		return link, nil, err
	}
	return link, png, nil
}

// Usage fetches current traffic from the panel and merges it into the
// profile view.
func (c *Core) Usage(ctx context.Context, user *entity.User) (*entity.User, error) {
	if c.panel == nil || user.PanelUUID == "" {
		return user, nil
	}
	account, err := c.panel.User(ctx, user.PanelUUID)
	if err != nil {
		if errors.Is(err, panel.ErrNotFound) {
			return user, nil
		}
		return user, err
	}
	user.UsedBytes = int64(account.CurrentUsageGB * float64(bytesPerGB))
	return user, nil
}
