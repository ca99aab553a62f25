package entity

import "time"

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription is a period of paid (or trial) VPN access. The user row keeps
// the effective limits; subscriptions are the audit trail behind them.
type Subscription struct {
	Id             int64              `json:"id" bson:"id"`
	TelegramId     int64              `json:"telegram_id" bson:"telegram_id"`
	PlanCode       string             `json:"plan_code" bson:"plan_code"`
	Status         SubscriptionStatus `json:"status" bson:"status"`
	DataLimitBytes int64              `json:"data_limit_bytes" bson:"data_limit_bytes"`
	StartedAt      time.Time          `json:"started_at" bson:"started_at"`
	ExpiresAt      time.Time          `json:"expires_at" bson:"expires_at"`
	PaymentId      int64              `json:"payment_id,omitempty" bson:"payment_id,omitempty"`
}

func (s *Subscription) IsActive(now time.Time) bool {
	if s.Status != SubscriptionActive && s.Status != SubscriptionTrial {
		return false
	}
	return s.ExpiresAt.After(now)
}
