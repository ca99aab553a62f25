package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"vpnbot/entity"
	"vpnbot/lib/sl"

	"github.com/stripe/stripe-go/v76"
)

// BeginStripeCheckout opens a stripe payment for a plan and books the
// pending payment row.
func (c *Core) BeginStripeCheckout(ctx context.Context, user *entity.User, planCode string) (*entity.Payment, error) {
	if c.sc == nil {
		return nil, ErrProviderOff
	}
	plan, err := c.PlanByCode(planCode)
	if err != nil {
		return nil, err
	}
	payment, err := c.sc.CreateCheckout(user.TelegramId, plan)
	if err != nil {
		return nil, err
	}
	if err = c.db.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	return payment, nil
}

// BeginCryptoInvoice opens a CryptoBot invoice for a plan and books the
// pending payment row.
func (c *Core) BeginCryptoInvoice(ctx context.Context, user *entity.User, planCode string) (*entity.Payment, error) {
	if c.cb == nil {
		return nil, ErrProviderOff
	}
	plan, err := c.PlanByCode(planCode)
	if err != nil {
		return nil, err
	}
	payment, err := c.cb.CreateInvoice(ctx, user.TelegramId, plan)
	if err != nil {
		return nil, err
	}
	if err = c.db.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	return payment, nil
}

// StripeVerifySignature checks a webhook request signature.
func (c *Core) StripeVerifySignature(payload []byte, header string, tolerance time.Duration) bool {
	if c.sc == nil {
		return false
	}
	return c.sc.VerifySignature(payload, header, tolerance)
}

// StripeEvent processes a verified stripe webhook event.
func (c *Core) StripeEvent(ctx context.Context, evt *stripe.Event, rawBody []byte) {
	if c.archive != nil {
		if err := c.archive.SaveWebhookEvent("stripe", evt.ID, rawBody); err != nil {
			c.log.Warn("archive stripe event", sl.Err(err))
		}
	}
	if c.sc == nil {
		return
	}
	result := c.sc.HandleEvent(evt)
	if result == nil {
		return
	}
	if err := c.completePayment(ctx, result.SessionId, result.ChargeId); err != nil {
		c.log.With(
			slog.String("session_id", result.SessionId),
		).Error("complete stripe payment", sl.Err(err))
	}
}

// CryptoBotVerifySignature checks a webhook request signature.
func (c *Core) CryptoBotVerifySignature(payload []byte, signature string) bool {
	if c.cb == nil {
		return false
	}
	return c.cb.VerifySignature(payload, signature)
}

// CryptoBotUpdate processes a verified CryptoBot webhook update.
func (c *Core) CryptoBotUpdate(ctx context.Context, body []byte) {
	if c.archive != nil {
		if err := c.archive.SaveWebhookEvent("cryptobot", "", body); err != nil {
			c.log.Warn("archive cryptobot update", sl.Err(err))
		}
	}
	if c.cb == nil {
		return
	}
	result := c.cb.HandleUpdate(body)
	if result == nil {
		return
	}
	if err := c.completePayment(ctx, result.InvoiceId, ""); err != nil {
		c.log.With(
			slog.String("invoice_id", result.InvoiceId),
		).Error("complete cryptobot payment", sl.Err(err))
	}
}

// RecordStarsPayment books and completes a Telegram Stars purchase. Stars
// payments confirm inside the bot update, so there is no pending phase
// visible to us; the row is created already completed and access granted
// in the same call.
func (c *Core) RecordStarsPayment(ctx context.Context, user *entity.User, planCode, chargeId string) error {
	plan, err := c.PlanByCode(planCode)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	payment := &entity.Payment{
		TelegramId:        user.TelegramId,
		Provider:          entity.ProviderStars,
		ProviderPaymentId: chargeId,
		Amount:            plan.PriceStars,
		Currency:          "XTR",
		Status:            entity.PaymentCompleted,
		PlanCode:          plan.Code,
		ChargeId:          chargeId,
		CreatedAt:         now,
		CompletedAt:       &now,
	}
	if err = c.db.CreatePayment(ctx, payment); err != nil {
		if errors.Is(err, entity.ErrDuplicate) {
			// duplicate delivery of the same successful_payment update;
			// if the first delivery died before the grant, finish it now
			existing, lookupErr := c.db.PaymentByProviderId(ctx, chargeId)
			if lookupErr != nil {
				return fmt.Errorf("load stars payment: %w", lookupErr)
			}
			settled, lookupErr := c.paymentSettled(ctx, existing.Id)
			if lookupErr != nil {
				return lookupErr
			}
			if settled {
				return nil
			}
			return c.settlePayment(ctx, existing)
		}
		return fmt.Errorf("record stars payment: %w", err)
	}
	if c.archive != nil {
		if err = c.archive.SavePayment(payment.ProviderPaymentId, payment); err != nil {
			c.log.Warn("archive stars payment", sl.Err(err))
		}
	}
	return c.settlePayment(ctx, payment)
}

// completePayment flips a pending payment to completed and grants access.
// The conditional update makes webhook replays a no-op: only the first
// delivery observes applied=true. A replay is still checked against the
// subscription table, so a delivery that flipped the status but crashed
// before the grant gets its settlement finished by the provider's retry.
func (c *Core) completePayment(ctx context.Context, providerPaymentId, chargeId string) error {
	applied, err := c.db.CompletePayment(ctx, providerPaymentId, chargeId, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("complete payment: %w", err)
	}
	payment, err := c.db.PaymentByProviderId(ctx, providerPaymentId)
	if err != nil {
		return fmt.Errorf("load payment: %w", err)
	}
	if !applied {
		log := c.log.With(slog.String("provider_payment_id", providerPaymentId))
		if payment.Status != entity.PaymentCompleted {
			log.Info("payment not pending, skipping",
				slog.String("status", string(payment.Status)))
			return nil
		}
		settled, err := c.paymentSettled(ctx, payment.Id)
		if err != nil {
			return err
		}
		if settled {
			log.Info("payment already settled, skipping")
			return nil
		}
		log.Warn("completed payment has no subscription, finishing settlement")
	}
	if c.archive != nil {
		if err = c.archive.SavePayment(payment.ProviderPaymentId, payment); err != nil {
			c.log.Warn("archive payment", sl.Err(err))
		}
	}
	return c.settlePayment(ctx, payment)
}

// paymentSettled reports whether a subscription was already recorded for
// the payment.
func (c *Core) paymentSettled(ctx context.Context, paymentId int64) (bool, error) {
	_, err := c.db.SubscriptionByPaymentId(ctx, paymentId)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, entity.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("check settlement: %w", err)
}

// settlePayment grants plan access for a completed payment and activates
// the referral bonus if this was the user's first purchase.
func (c *Core) settlePayment(ctx context.Context, payment *entity.Payment) error {
	log := c.log.With(
		slog.Int64("telegram_id", payment.TelegramId),
		slog.String("plan", payment.PlanCode),
		slog.String("provider", string(payment.Provider)),
	)

	plan, err := c.PlanByCode(payment.PlanCode)
	if err != nil {
		return fmt.Errorf("payment references %q: %w", payment.PlanCode, err)
	}
	user, err := c.db.UserByTelegramId(ctx, payment.TelegramId)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if err = c.grantAccess(ctx, user, plan, payment.Id); err != nil {
		return err
	}

	if c.conf.Referral.Enabled {
		applied, err := c.db.ActivateReferral(ctx, payment.TelegramId, payment.Id)
		if err != nil {
			log.Warn("activate referral", sl.Err(err))
		} else if applied {
			log.Info("referral bonus activated")
		}
	}

	log.Info("payment settled")
	return nil
}
