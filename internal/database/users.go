package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"vpnbot/entity"
)

func (s *MySql) CreateUser(ctx context.Context, user *entity.User) error {
	stmt, err := s.stmtInsertUser()
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx,
		user.TelegramId, user.TelegramUsername, user.FirstName, string(user.Role),
		user.ReferralCode, user.InvitedBy, user.ApiToken, user.VlessUUID, user.PanelUUID,
		user.DataLimitBytes, user.UsedBytes, nullTime(user.ExpiresAt),
		user.IsBlocked, user.TrialActivated, nullTime(user.TrialExpiry), user.CreatedAt,
	)
	if err != nil {
		if mapped := findError(err); mapped == entity.ErrDuplicate {
			return mapped
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *MySql) UserByTelegramId(ctx context.Context, telegramId int64) (*entity.User, error) {
	stmt, err := s.stmtSelectUser()
	if err != nil {
		return nil, err
	}
	return s.scanUserRow(stmt.QueryRowContext(ctx, telegramId))
}

func (s *MySql) UserByToken(ctx context.Context, token string) (*entity.User, error) {
	stmt, err := s.stmtSelectUserByToken()
	if err != nil {
		return nil, err
	}
	return s.scanUserRow(stmt.QueryRowContext(ctx, token))
}

func (s *MySql) UserByReferralCode(ctx context.Context, code string) (*entity.User, error) {
	stmt, err := s.stmtSelectUserByReferralCode()
	if err != nil {
		return nil, err
	}
	return s.scanUserRow(stmt.QueryRowContext(ctx, code))
}

func (s *MySql) AllUsers(ctx context.Context) ([]*entity.User, error) {
	stmt, err := s.stmtSelectAllUsers()
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []*entity.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *MySql) UpdateUserProfile(ctx context.Context, telegramId int64, username, firstName string) error {
	stmt, err := s.stmtUpdateUserProfile()
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, username, firstName, telegramId)
	if err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	return nil
}

func (s *MySql) SetUserRole(ctx context.Context, telegramId int64, role entity.Role) error {
	stmt, err := s.stmtSetUserRole()
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, string(role), telegramId)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	return nil
}

func (s *MySql) SetUserBlocked(ctx context.Context, telegramId int64, blocked bool) error {
	stmt, err := s.stmtSetUserBlocked()
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, blocked, telegramId)
	if err != nil {
		return fmt.Errorf("set user blocked: %w", err)
	}
	return nil
}

// SetUserAccess writes the effective panel limits after a subscription or
// trial is provisioned.
func (s *MySql) SetUserAccess(ctx context.Context, telegramId int64, panelUUID string, dataLimitBytes int64, expiresAt *time.Time) error {
	stmt, err := s.stmtSetUserAccess()
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, panelUUID, dataLimitBytes, nullTime(expiresAt), telegramId)
	if err != nil {
		return fmt.Errorf("set user access: %w", err)
	}
	return nil
}

// ActivateTrial flips the one-shot trial flag and reports whether this call
// won the flip. Zero affected rows means the trial was already consumed.
func (s *MySql) ActivateTrial(ctx context.Context, telegramId int64, expiry time.Time, dataLimitBytes int64) (bool, error) {
	stmt, err := s.stmtActivateTrial()
	if err != nil {
		return false, err
	}
	res, err := stmt.ExecContext(ctx, expiry, dataLimitBytes, telegramId)
	if err != nil {
		return false, fmt.Errorf("activate trial: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("activate trial rows affected: %w", err)
	}
	return affected > 0, nil
}

type UsersStats struct {
	Total   int
	Blocked int
	Trial   int
	Paying  int
}

func (s *MySql) Stats(ctx context.Context) (*UsersStats, error) {
	stmt, err := s.stmtUsersStats()
	if err != nil {
		return nil, err
	}
	var stats UsersStats
	err = stmt.QueryRowContext(ctx, time.Now().UTC()).Scan(
		&stats.Total, &stats.Blocked, &stats.Trial, &stats.Paying,
	)
	if err != nil {
		return nil, fmt.Errorf("users stats: %w", err)
	}
	return &stats, nil
}

func (s *MySql) scanUserRow(row *sql.Row) (*entity.User, error) {
	user, err := scanUser(row)
	if err != nil {
		if mapped := findError(err); mapped == entity.ErrNotFound {
			return nil, mapped
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return user, nil
}

func scanUser(row rowScanner) (*entity.User, error) {
	var user entity.User
	var role string
	var expiresAt, trialExpiry sql.NullTime
	err := row.Scan(
		&user.TelegramId, &user.TelegramUsername, &user.FirstName, &role,
		&user.ReferralCode, &user.InvitedBy, &user.ApiToken, &user.VlessUUID, &user.PanelUUID,
		&user.DataLimitBytes, &user.UsedBytes, &expiresAt,
		&user.IsBlocked, &user.TrialActivated, &trialExpiry, &user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Role = entity.ParseRole(role)
	user.ExpiresAt = timePtr(expiresAt)
	user.TrialExpiry = timePtr(trialExpiry)
	return &user, nil
}
