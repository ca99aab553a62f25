package entity

import (
	"net/http"
	"time"
	"vpnbot/lib/validate"
)

type PaymentProvider string

const (
	ProviderStripe    PaymentProvider = "stripe"
	ProviderCryptoBot PaymentProvider = "cryptobot"
	ProviderStars     PaymentProvider = "telegram_stars"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Payment is one purchase attempt for a plan. ProviderPaymentId is the
// external identifier (checkout session id, invoice id, or Stars charge id)
// and is unique across providers.
type Payment struct {
	Id                int64           `json:"id" bson:"id"`
	TelegramId        int64           `json:"telegram_id" bson:"telegram_id" validate:"required"`
	Provider          PaymentProvider `json:"provider" bson:"provider" validate:"required,oneof=stripe cryptobot telegram_stars"`
	ProviderPaymentId string          `json:"provider_payment_id" bson:"provider_payment_id" validate:"required"`
	Amount            int64           `json:"amount" bson:"amount" validate:"required,min=1"`
	Currency          string          `json:"currency" bson:"currency" validate:"required"`
	Status            PaymentStatus   `json:"status" bson:"status"`
	PlanCode          string          `json:"plan_code" bson:"plan_code" validate:"required"`
	PayURL            string          `json:"pay_url,omitempty" bson:"pay_url,omitempty"`
	InvoicePayload    string          `json:"invoice_payload,omitempty" bson:"invoice_payload,omitempty"`
	ChargeId          string          `json:"charge_id,omitempty" bson:"charge_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at" bson:"created_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

func (p *Payment) Bind(_ *http.Request) error {
	return validate.Struct(p)
}

func (p *Payment) IsPending() bool {
	return p.Status == PaymentPending
}
