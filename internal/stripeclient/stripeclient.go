package stripeclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"vpnbot/entity"
	"vpnbot/internal/config"
	"vpnbot/lib/sl"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// CheckoutResult is the completed side of a stripe checkout: the session
// id we booked the pending payment under, plus the charge reference for
// the audit trail.
type CheckoutResult struct {
	SessionId  string
	ChargeId   string
	TelegramId int64
	PlanCode   string
	Amount     int64
	Currency   string
}

type StripeClient struct {
	sc            *client.API
	webhookSecret string
	successUrl    string
	log           *slog.Logger
}

func New(conf *config.Config, logger *slog.Logger) *StripeClient {
	if !conf.Stripe.Enabled {
		return nil
	}
	sc := &client.API{}
	sc.Init(conf.Stripe.APIKey, nil)
	return &StripeClient{
		sc:            sc,
		webhookSecret: conf.Stripe.WebhookSecret,
		successUrl:    conf.Stripe.SuccessURL,
		log:           logger.With(sl.Module("stripe")),
	}
}

// CreateCheckout opens a checkout session for one plan purchase. The
// telegram id and plan code travel in the session metadata and come back
// with the completion webhook.
func (s *StripeClient) CreateCheckout(telegramId int64, plan *entity.Plan) (*entity.Payment, error) {
	log := s.log.With(
		slog.Int64("telegram_id", telegramId),
		slog.String("plan", plan.Code),
	)

	if s.successUrl == "" {
		return nil, fmt.Errorf("missing success url")
	}

	csParams := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(plan.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(plan.Title),
					},
					UnitAmount: stripe.Int64(plan.PriceCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"telegram_id": strconv.FormatInt(telegramId, 10),
			"plan_code":   plan.Code,
		},
		SuccessURL: stripe.String(s.successUrl),
	}

	cs, err := s.sc.CheckoutSessions.New(csParams)
	if err != nil {
		err = s.parseErr(err)
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}

	payment := &entity.Payment{
		TelegramId:        telegramId,
		Provider:          entity.ProviderStripe,
		ProviderPaymentId: cs.ID,
		Amount:            plan.PriceCents,
		Currency:          plan.Currency,
		Status:            entity.PaymentPending,
		PlanCode:          plan.Code,
		PayURL:            cs.URL,
		CreatedAt:         time.Now().UTC(),
	}

	log.Info("payment link created", slog.String("session_id", cs.ID))
	return payment, nil
}

// VerifySignature checks the Stripe-Signature header against the webhook
// secret: v1 is HMAC-SHA256 over "<timestamp>.<payload>".
func (s *StripeClient) VerifySignature(payload []byte, header string, tolerance time.Duration) bool {
	parts := strings.Split(header, ",")
	var ts, sig string
	for _, p := range parts {
		if strings.HasPrefix(p, "t=") {
			ts = strings.TrimPrefix(p, "t=")
		}
		if strings.HasPrefix(p, "v1=") {
			sig = strings.TrimPrefix(p, "v1=")
		}
	}
	if ts == "" || sig == "" {
		s.log.Warn("missing timestamp or signature in header")
		return false
	}

	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		s.log.With(
			slog.Any("error", err),
		).Warn("failed to parse timestamp")
		return false
	}

	eventTime := time.Unix(tsInt, 0)
	timeSince := time.Since(eventTime)
	if timeSince > tolerance {
		s.log.With(
			slog.Time("timestamp", eventTime),
			slog.Duration("age", timeSince),
			slog.Duration("tolerance", tolerance),
		).Warn("webhook timestamp too old")
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	isValid := hmac.Equal([]byte(expected), []byte(sig))
	if !isValid {
		s.log.Warn("signature mismatch")
	}
	return isValid
}

// HandleEvent extracts the completed checkout from a webhook event.
// Returns nil for event types we do not act on.
func (s *StripeClient) HandleEvent(evt *stripe.Event) *CheckoutResult {
	if evt.Type != stripe.EventTypeCheckoutSessionCompleted {
		return nil
	}

	sessId := evt.GetObjectValue("id")
	log := s.log.With(
		slog.String("event_id", evt.ID),
		slog.String("session_id", sessId),
	)

	sess, err := s.sc.CheckoutSessions.Get(sessId, nil)
	if err != nil {
		log.With(sl.Err(err)).Error("get session from stripe")
		return nil
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		log.With(
			slog.String("payment_status", string(sess.PaymentStatus)),
		).Warn("checkout completed but not paid")
		return nil
	}

	result := &CheckoutResult{
		SessionId: sess.ID,
		Amount:    sess.AmountTotal,
		Currency:  strings.ToUpper(string(sess.Currency)),
	}
	if sess.PaymentIntent != nil {
		result.ChargeId = sess.PaymentIntent.ID
	}
	if sess.Metadata != nil {
		result.TelegramId, _ = strconv.ParseInt(sess.Metadata["telegram_id"], 10, 64)
		result.PlanCode = sess.Metadata["plan_code"]
	}
	if result.TelegramId == 0 || result.PlanCode == "" {
		log.Error("session metadata incomplete")
		return nil
	}

	log.With(
		slog.Int64("telegram_id", result.TelegramId),
		slog.String("plan", result.PlanCode),
		slog.Int64("amount", result.Amount),
	).Info("checkout completed")
	return result
}
