package database

import (
	"database/sql"
	"fmt"
)

func (s *MySql) prepareStmt(name, query string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stmt, ok := s.statements[name]; ok {
		return stmt, nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("prepare statement [%s]: %w", name, err)
	}

	s.statements[name] = stmt
	return stmt, nil
}

func (s *MySql) closeStmt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, stmt := range s.statements {
		_ = stmt.Close()
		delete(s.statements, name)
	}
}

// --- invites ---

func (s *MySql) stmtInsertInvite() (*sql.Stmt, error) {
	return s.prepareStmt("insertInvite",
		`INSERT INTO invites (code, created_by, max_uses, used_count, is_active, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
}

func (s *MySql) stmtSelectInvite() (*sql.Stmt, error) {
	return s.prepareStmt("selectInvite",
		`SELECT code, created_by, max_uses, used_count, is_active, expires_at, created_at, used_at
		 FROM invites WHERE code = ?`)
}

// stmtRedeemInvite is the ledger's conditional update. The whole
// check-and-increment runs as one statement so concurrent redeemers are
// serialized by the row lock; the affected-row count is the success signal.
// is_active is assigned before used_count so it reads the pre-increment
// value regardless of MySQL's left-to-right SET evaluation, and
// LAST_INSERT_ID(expr) carries the post-update used_count back in the same
// round trip.
func (s *MySql) stmtRedeemInvite() (*sql.Stmt, error) {
	return s.prepareStmt("redeemInvite",
		`UPDATE invites
		 SET is_active = (used_count + 1 < max_uses),
		     used_count = LAST_INSERT_ID(used_count + 1),
		     used_at = ?
		 WHERE code = ? AND is_active = 1 AND used_count < max_uses
		   AND (expires_at IS NULL OR expires_at > ?)`)
}

// stmtRefundInvite gives back a use consumed by a redemption whose
// admission lost a duplicate race. is_active is assigned before used_count
// so the pre-decrement values decide: a code deactivated by exhaustion
// comes back to life, a manually revoked one stays revoked.
func (s *MySql) stmtRefundInvite() (*sql.Stmt, error) {
	return s.prepareStmt("refundInvite",
		`UPDATE invites
		 SET is_active = (is_active OR used_count >= max_uses),
		     used_count = used_count - 1
		 WHERE code = ? AND used_count > 0`)
}

func (s *MySql) stmtRevokeInvite() (*sql.Stmt, error) {
	return s.prepareStmt("revokeInvite",
		`UPDATE invites SET is_active = 0 WHERE code = ? AND is_active = 1`)
}

func (s *MySql) stmtSelectInvitesByCreator() (*sql.Stmt, error) {
	return s.prepareStmt("selectInvitesByCreator",
		`SELECT code, created_by, max_uses, used_count, is_active, expires_at, created_at, used_at
		 FROM invites WHERE created_by = ? ORDER BY created_at DESC LIMIT ?`)
}

// --- users ---

const userColumns = `telegram_id, telegram_username, first_name, role, referral_code, invited_by,
	 api_token, vless_uuid, panel_uuid, data_limit_bytes, used_bytes, expires_at,
	 is_blocked, trial_activated, trial_expiry, created_at`

func (s *MySql) stmtInsertUser() (*sql.Stmt, error) {
	return s.prepareStmt("insertUser",
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
}

func (s *MySql) stmtSelectUser() (*sql.Stmt, error) {
	return s.prepareStmt("selectUser",
		`SELECT `+userColumns+` FROM users WHERE telegram_id = ?`)
}

func (s *MySql) stmtSelectUserByToken() (*sql.Stmt, error) {
	return s.prepareStmt("selectUserByToken",
		`SELECT `+userColumns+` FROM users WHERE api_token = ? AND api_token <> ''`)
}

func (s *MySql) stmtSelectUserByReferralCode() (*sql.Stmt, error) {
	return s.prepareStmt("selectUserByReferralCode",
		`SELECT `+userColumns+` FROM users WHERE referral_code = ?`)
}

func (s *MySql) stmtSelectAllUsers() (*sql.Stmt, error) {
	return s.prepareStmt("selectAllUsers",
		`SELECT `+userColumns+` FROM users ORDER BY created_at`)
}

func (s *MySql) stmtUpdateUserProfile() (*sql.Stmt, error) {
	return s.prepareStmt("updateUserProfile",
		`UPDATE users SET telegram_username = ?, first_name = ? WHERE telegram_id = ?`)
}

func (s *MySql) stmtSetUserRole() (*sql.Stmt, error) {
	return s.prepareStmt("setUserRole",
		`UPDATE users SET role = ? WHERE telegram_id = ?`)
}

func (s *MySql) stmtSetUserBlocked() (*sql.Stmt, error) {
	return s.prepareStmt("setUserBlocked",
		`UPDATE users SET is_blocked = ? WHERE telegram_id = ?`)
}

func (s *MySql) stmtSetUserAccess() (*sql.Stmt, error) {
	return s.prepareStmt("setUserAccess",
		`UPDATE users SET panel_uuid = ?, data_limit_bytes = ?, expires_at = ? WHERE telegram_id = ?`)
}

// stmtActivateTrial uses the same conditional-update discipline as invite
// redemption: the one-shot flag flips only if it was still unset, so two
// racing /trial commands cannot both provision.
func (s *MySql) stmtActivateTrial() (*sql.Stmt, error) {
	return s.prepareStmt("activateTrial",
		`UPDATE users SET trial_activated = 1, trial_expiry = ?, data_limit_bytes = ?
		 WHERE telegram_id = ? AND trial_activated = 0`)
}

// --- payments ---

const paymentColumns = `id, telegram_id, provider, provider_payment_id, amount, currency, status,
	 plan_code, pay_url, invoice_payload, charge_id, created_at, completed_at`

func (s *MySql) stmtInsertPayment() (*sql.Stmt, error) {
	return s.prepareStmt("insertPayment",
		`INSERT INTO payments (telegram_id, provider, provider_payment_id, amount, currency,
		   status, plan_code, pay_url, invoice_payload, charge_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
}

func (s *MySql) stmtSelectPaymentByProviderId() (*sql.Stmt, error) {
	return s.prepareStmt("selectPaymentByProviderId",
		`SELECT `+paymentColumns+` FROM payments WHERE provider_payment_id = ?`)
}

// stmtCompletePayment transitions pending -> completed; the status predicate
// makes duplicate webhook deliveries a no-op instead of a double credit.
func (s *MySql) stmtCompletePayment() (*sql.Stmt, error) {
	return s.prepareStmt("completePayment",
		`UPDATE payments SET status = ?, charge_id = ?, completed_at = ?
		 WHERE provider_payment_id = ? AND status = ?`)
}

// --- subscriptions ---

func (s *MySql) stmtInsertSubscription() (*sql.Stmt, error) {
	return s.prepareStmt("insertSubscription",
		`INSERT INTO subscriptions (telegram_id, plan_code, status, data_limit_bytes,
		   started_at, expires_at, payment_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
}

func (s *MySql) stmtSelectSubscriptionByPayment() (*sql.Stmt, error) {
	return s.prepareStmt("selectSubscriptionByPayment",
		`SELECT id, telegram_id, plan_code, status, data_limit_bytes, started_at, expires_at, payment_id
		 FROM subscriptions WHERE payment_id = ? LIMIT 1`)
}

func (s *MySql) stmtSelectActiveSubscription() (*sql.Stmt, error) {
	return s.prepareStmt("selectActiveSubscription",
		`SELECT id, telegram_id, plan_code, status, data_limit_bytes, started_at, expires_at, payment_id
		 FROM subscriptions
		 WHERE telegram_id = ? AND status IN ('active', 'trial') AND expires_at > ?
		 ORDER BY expires_at DESC LIMIT 1`)
}

// --- tickets ---

func (s *MySql) stmtInsertTicket() (*sql.Stmt, error) {
	return s.prepareStmt("insertTicket",
		`INSERT INTO support_tickets (telegram_id, category, status, title, created_at)
		 VALUES (?, ?, ?, ?, ?)`)
}

func (s *MySql) stmtCountOpenTickets() (*sql.Stmt, error) {
	return s.prepareStmt("countOpenTickets",
		`SELECT COUNT(*) FROM support_tickets
		 WHERE telegram_id = ? AND status IN ('open', 'in_progress')`)
}

func (s *MySql) stmtSelectTicket() (*sql.Stmt, error) {
	return s.prepareStmt("selectTicket",
		`SELECT id, telegram_id, category, status, title, created_at, resolved_at
		 FROM support_tickets WHERE id = ?`)
}

func (s *MySql) stmtSelectTicketsByUser() (*sql.Stmt, error) {
	return s.prepareStmt("selectTicketsByUser",
		`SELECT id, telegram_id, category, status, title, created_at, resolved_at
		 FROM support_tickets WHERE telegram_id = ? ORDER BY created_at DESC LIMIT ?`)
}

func (s *MySql) stmtSelectOpenTickets() (*sql.Stmt, error) {
	return s.prepareStmt("selectOpenTickets",
		`SELECT id, telegram_id, category, status, title, created_at, resolved_at
		 FROM support_tickets WHERE status IN ('open', 'in_progress') ORDER BY created_at`)
}

func (s *MySql) stmtSetTicketStatus() (*sql.Stmt, error) {
	return s.prepareStmt("setTicketStatus",
		`UPDATE support_tickets SET status = ?, resolved_at = ? WHERE id = ?`)
}

func (s *MySql) stmtInsertTicketMessage() (*sql.Stmt, error) {
	return s.prepareStmt("insertTicketMessage",
		`INSERT INTO ticket_messages (ticket_id, telegram_id, message, from_admin, created_at)
		 VALUES (?, ?, ?, ?, ?)`)
}

func (s *MySql) stmtSelectTicketMessages() (*sql.Stmt, error) {
	return s.prepareStmt("selectTicketMessages",
		`SELECT id, ticket_id, telegram_id, message, from_admin, created_at
		 FROM ticket_messages WHERE ticket_id = ? ORDER BY created_at`)
}

// --- referrals ---

func (s *MySql) stmtInsertReferral() (*sql.Stmt, error) {
	return s.prepareStmt("insertReferral",
		`INSERT INTO referrals (referrer_id, referred_id, status, bonus_cents, created_at)
		 VALUES (?, ?, ?, ?, ?)`)
}

func (s *MySql) stmtSelectReferralByReferred() (*sql.Stmt, error) {
	return s.prepareStmt("selectReferralByReferred",
		`SELECT id, referrer_id, referred_id, status, bonus_cents, payment_id, created_at, activated_at
		 FROM referrals WHERE referred_id = ?`)
}

// stmtActivateReferral transitions pending -> active exactly once per
// referred user, same discipline as invite redemption.
func (s *MySql) stmtActivateReferral() (*sql.Stmt, error) {
	return s.prepareStmt("activateReferral",
		`UPDATE referrals SET status = ?, payment_id = ?, activated_at = ?
		 WHERE referred_id = ? AND status = ?`)
}

func (s *MySql) stmtReferralStats() (*sql.Stmt, error) {
	return s.prepareStmt("referralStats",
		`SELECT COUNT(*),
		        COALESCE(SUM(status = 'active'), 0),
		        COALESCE(SUM(CASE WHEN status = 'active' THEN bonus_cents ELSE 0 END), 0)
		 FROM referrals WHERE referrer_id = ?`)
}

// --- stats ---

func (s *MySql) stmtUsersStats() (*sql.Stmt, error) {
	return s.prepareStmt("usersStats",
		`SELECT COUNT(*),
		        COALESCE(SUM(is_blocked), 0),
		        COALESCE(SUM(trial_activated), 0),
		        COALESCE(SUM(expires_at IS NOT NULL AND expires_at > ?), 0)
		 FROM users`)
}
