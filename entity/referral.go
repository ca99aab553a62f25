package entity

import "time"

type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending" // referred user joined, no payment yet
	ReferralActive    ReferralStatus = "active"  // first payment completed, bonus booked
	ReferralCancelled ReferralStatus = "cancelled"
)

// Referral links a referrer to a user who joined through their personal
// deep link. The bonus is booked when the referred user's first payment
// completes.
type Referral struct {
	Id          int64          `json:"id" bson:"id"`
	ReferrerId  int64          `json:"referrer_id" bson:"referrer_id"`
	ReferredId  int64          `json:"referred_id" bson:"referred_id"`
	Status      ReferralStatus `json:"status" bson:"status"`
	BonusCents  int64          `json:"bonus_cents" bson:"bonus_cents"`
	PaymentId   int64          `json:"payment_id,omitempty" bson:"payment_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at" bson:"created_at"`
	ActivatedAt *time.Time     `json:"activated_at,omitempty" bson:"activated_at,omitempty"`
}

// ReferralStats is an aggregate for the /ref command.
type ReferralStats struct {
	Total       int   `json:"total"`
	Active      int   `json:"active"`
	EarnedCents int64 `json:"earned_cents"`
}
