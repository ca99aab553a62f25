package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"vpnbot/entity"
)

func (s *MySql) CreateInvite(ctx context.Context, invite *entity.InviteCode) error {
	stmt, err := s.stmtInsertInvite()
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx,
		invite.Code, invite.CreatedBy, invite.MaxUses, invite.UsedCount,
		invite.IsActive, nullTime(invite.ExpiresAt), invite.CreatedAt,
	)
	if err != nil {
		if mapped := findError(err); mapped == entity.ErrDuplicate {
			return mapped
		}
		return fmt.Errorf("insert invite: %w", err)
	}
	return nil
}

func (s *MySql) InviteByCode(ctx context.Context, code string) (*entity.InviteCode, error) {
	stmt, err := s.stmtSelectInvite()
	if err != nil {
		return nil, err
	}
	invite, err := scanInvite(stmt.QueryRowContext(ctx, code))
	if err != nil {
		if mapped := findError(err); mapped == entity.ErrNotFound {
			return nil, mapped
		}
		return nil, fmt.Errorf("select invite: %w", err)
	}
	return invite, nil
}

// RedeemInvite runs the ledger's atomic conditional update. Zero affected
// rows means the predicate did not hold (missing, exhausted, expired, or
// revoked); the caller classifies with a follow-up read. On success the
// post-update used_count comes back via LAST_INSERT_ID in the same round
// trip, so the value is exact even under contention.
func (s *MySql) RedeemInvite(ctx context.Context, code string, now time.Time) (int, bool, error) {
	stmt, err := s.stmtRedeemInvite()
	if err != nil {
		return 0, false, err
	}
	res, err := stmt.ExecContext(ctx, now, code, now)
	if err != nil {
		return 0, false, fmt.Errorf("redeem invite: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("redeem invite rows affected: %w", err)
	}
	if affected == 0 {
		return 0, false, nil
	}
	used, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("redeem invite used count: %w", err)
	}
	return int(used), true, nil
}

// RefundInvite decrements used_count by one, reactivating a code that was
// deactivated by exhaustion. Zero affected rows means the code is missing
// or has no uses to give back.
func (s *MySql) RefundInvite(ctx context.Context, code string) (bool, error) {
	stmt, err := s.stmtRefundInvite()
	if err != nil {
		return false, err
	}
	res, err := stmt.ExecContext(ctx, code)
	if err != nil {
		return false, fmt.Errorf("refund invite: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("refund invite rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *MySql) RevokeInvite(ctx context.Context, code string) (bool, error) {
	stmt, err := s.stmtRevokeInvite()
	if err != nil {
		return false, err
	}
	res, err := stmt.ExecContext(ctx, code)
	if err != nil {
		return false, fmt.Errorf("revoke invite: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke invite rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *MySql) InvitesByCreator(ctx context.Context, createdBy int64, limit int) ([]*entity.InviteCode, error) {
	stmt, err := s.stmtSelectInvitesByCreator()
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, createdBy, limit)
	if err != nil {
		return nil, fmt.Errorf("select invites: %w", err)
	}
	defer rows.Close()

	var invites []*entity.InviteCode
	for rows.Next() {
		invite, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		invites = append(invites, invite)
	}
	return invites, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvite(row rowScanner) (*entity.InviteCode, error) {
	var invite entity.InviteCode
	var expiresAt, usedAt sql.NullTime
	err := row.Scan(
		&invite.Code, &invite.CreatedBy, &invite.MaxUses, &invite.UsedCount,
		&invite.IsActive, &expiresAt, &invite.CreatedAt, &usedAt,
	)
	if err != nil {
		return nil, err
	}
	invite.ExpiresAt = timePtr(expiresAt)
	invite.UsedAt = timePtr(usedAt)
	return &invite, nil
}
