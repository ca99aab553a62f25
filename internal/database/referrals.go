package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"vpnbot/entity"
)

func (s *MySql) CreateReferral(ctx context.Context, ref *entity.Referral) error {
	stmt, err := s.stmtInsertReferral()
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx,
		ref.ReferrerId, ref.ReferredId, string(ref.Status), ref.BonusCents, ref.CreatedAt,
	)
	if err != nil {
		// unique key on referred_id: one referral per invited user
		if mapped := findError(err); mapped == entity.ErrDuplicate {
			return mapped
		}
		return fmt.Errorf("insert referral: %w", err)
	}
	ref.Id, _ = res.LastInsertId()
	return nil
}

func (s *MySql) ReferralByReferred(ctx context.Context, referredId int64) (*entity.Referral, error) {
	stmt, err := s.stmtSelectReferralByReferred()
	if err != nil {
		return nil, err
	}
	var ref entity.Referral
	var status string
	var paymentId sql.NullInt64
	var activatedAt sql.NullTime
	err = stmt.QueryRowContext(ctx, referredId).Scan(
		&ref.Id, &ref.ReferrerId, &ref.ReferredId, &status, &ref.BonusCents,
		&paymentId, &ref.CreatedAt, &activatedAt,
	)
	if err != nil {
		if mapped := findError(err); mapped == entity.ErrNotFound {
			return nil, mapped
		}
		return nil, fmt.Errorf("select referral: %w", err)
	}
	ref.Status = entity.ReferralStatus(status)
	ref.PaymentId = paymentId.Int64
	ref.ActivatedAt = timePtr(activatedAt)
	return &ref, nil
}

// ActivateReferral books the bonus for the referred user's first completed
// payment. The status predicate makes the transition single-shot under
// concurrent payment webhooks.
func (s *MySql) ActivateReferral(ctx context.Context, referredId, paymentId int64) (bool, error) {
	stmt, err := s.stmtActivateReferral()
	if err != nil {
		return false, err
	}
	res, err := stmt.ExecContext(ctx,
		string(entity.ReferralActive), paymentId, time.Now().UTC(),
		referredId, string(entity.ReferralPending),
	)
	if err != nil {
		return false, fmt.Errorf("activate referral: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("activate referral rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *MySql) ReferralStats(ctx context.Context, referrerId int64) (*entity.ReferralStats, error) {
	stmt, err := s.stmtReferralStats()
	if err != nil {
		return nil, err
	}
	var stats entity.ReferralStats
	err = stmt.QueryRowContext(ctx, referrerId).Scan(&stats.Total, &stats.Active, &stats.EarnedCents)
	if err != nil {
		return nil, fmt.Errorf("referral stats: %w", err)
	}
	return &stats, nil
}
