package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"vpnbot/entity"
)

func (s *MySql) CreatePayment(ctx context.Context, payment *entity.Payment) error {
	stmt, err := s.stmtInsertPayment()
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx,
		payment.TelegramId, string(payment.Provider), payment.ProviderPaymentId,
		payment.Amount, payment.Currency, string(payment.Status), payment.PlanCode,
		payment.PayURL, payment.InvoicePayload, payment.ChargeId, payment.CreatedAt,
	)
	if err != nil {
		if mapped := findError(err); mapped == entity.ErrDuplicate {
			return mapped
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	payment.Id, _ = res.LastInsertId()
	return nil
}

func (s *MySql) PaymentByProviderId(ctx context.Context, providerPaymentId string) (*entity.Payment, error) {
	stmt, err := s.stmtSelectPaymentByProviderId()
	if err != nil {
		return nil, err
	}
	payment, err := scanPayment(stmt.QueryRowContext(ctx, providerPaymentId))
	if err != nil {
		if mapped := findError(err); mapped == entity.ErrNotFound {
			return nil, mapped
		}
		return nil, fmt.Errorf("select payment: %w", err)
	}
	return payment, nil
}

// CompletePayment transitions the payment to completed only while it is
// still pending, so a replayed webhook cannot credit twice. Returns whether
// this call performed the transition.
func (s *MySql) CompletePayment(ctx context.Context, providerPaymentId, chargeId string, completedAt time.Time) (bool, error) {
	stmt, err := s.stmtCompletePayment()
	if err != nil {
		return false, err
	}
	res, err := stmt.ExecContext(ctx,
		string(entity.PaymentCompleted), chargeId, completedAt,
		providerPaymentId, string(entity.PaymentPending),
	)
	if err != nil {
		return false, fmt.Errorf("complete payment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete payment rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *MySql) CreateSubscription(ctx context.Context, sub *entity.Subscription) error {
	stmt, err := s.stmtInsertSubscription()
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx,
		sub.TelegramId, sub.PlanCode, string(sub.Status), sub.DataLimitBytes,
		sub.StartedAt, sub.ExpiresAt, sub.PaymentId,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	sub.Id, _ = res.LastInsertId()
	return nil
}

func (s *MySql) ActiveSubscription(ctx context.Context, telegramId int64) (*entity.Subscription, error) {
	stmt, err := s.stmtSelectActiveSubscription()
	if err != nil {
		return nil, err
	}
	var sub entity.Subscription
	var status string
	err = stmt.QueryRowContext(ctx, telegramId, time.Now().UTC()).Scan(
		&sub.Id, &sub.TelegramId, &sub.PlanCode, &status, &sub.DataLimitBytes,
		&sub.StartedAt, &sub.ExpiresAt, &sub.PaymentId,
	)
	if err != nil {
		if mapped := findError(err); mapped == entity.ErrNotFound {
			return nil, mapped
		}
		return nil, fmt.Errorf("select subscription: %w", err)
	}
	sub.Status = entity.SubscriptionStatus(status)
	return &sub, nil
}

// SubscriptionByPaymentId tells whether a completed payment was settled:
// completion flips the status first and records the subscription second, so
// a webhook retry uses this lookup to finish a settlement the first
// delivery did not get to.
func (s *MySql) SubscriptionByPaymentId(ctx context.Context, paymentId int64) (*entity.Subscription, error) {
	stmt, err := s.stmtSelectSubscriptionByPayment()
	if err != nil {
		return nil, err
	}
	var sub entity.Subscription
	var status string
	err = stmt.QueryRowContext(ctx, paymentId).Scan(
		&sub.Id, &sub.TelegramId, &sub.PlanCode, &status, &sub.DataLimitBytes,
		&sub.StartedAt, &sub.ExpiresAt, &sub.PaymentId,
	)
	if err != nil {
		if mapped := findError(err); mapped == entity.ErrNotFound {
			return nil, mapped
		}
		return nil, fmt.Errorf("select subscription by payment: %w", err)
	}
	sub.Status = entity.SubscriptionStatus(status)
	return &sub, nil
}

func scanPayment(row rowScanner) (*entity.Payment, error) {
	var payment entity.Payment
	var provider, status string
	var completedAt sql.NullTime
	err := row.Scan(
		&payment.Id, &payment.TelegramId, &provider, &payment.ProviderPaymentId,
		&payment.Amount, &payment.Currency, &status, &payment.PlanCode,
		&payment.PayURL, &payment.InvoicePayload, &payment.ChargeId,
		&payment.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	payment.Provider = entity.PaymentProvider(provider)
	payment.Status = entity.PaymentStatus(status)
	payment.CompletedAt = timePtr(completedAt)
	return &payment, nil
}
