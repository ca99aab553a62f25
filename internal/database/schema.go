package database

// Schema bootstrap. Tables are created on startup so a fresh database works
// without a migration tool; ALTERs for new columns go through
// addColumnIfNotExists.

var tableDefinitions = map[string]string{
	"users": `CREATE TABLE IF NOT EXISTS users (
		telegram_id BIGINT NOT NULL PRIMARY KEY,
		telegram_username VARCHAR(255) NOT NULL DEFAULT '',
		first_name VARCHAR(255) NOT NULL DEFAULT '',
		role VARCHAR(20) NOT NULL DEFAULT 'user',
		referral_code VARCHAR(50) NOT NULL DEFAULT '',
		invited_by BIGINT NOT NULL DEFAULT 0,
		api_token VARCHAR(64) NOT NULL DEFAULT '',
		vless_uuid VARCHAR(36) NOT NULL DEFAULT '',
		panel_uuid VARCHAR(36) NOT NULL DEFAULT '',
		data_limit_bytes BIGINT NOT NULL DEFAULT 0,
		used_bytes BIGINT NOT NULL DEFAULT 0,
		expires_at DATETIME NULL,
		is_blocked TINYINT(1) NOT NULL DEFAULT 0,
		trial_activated TINYINT(1) NOT NULL DEFAULT 0,
		trial_expiry DATETIME NULL,
		created_at DATETIME NOT NULL,
		UNIQUE KEY uq_users_referral_code (referral_code),
		KEY ix_users_invited_by (invited_by)
	)`,
	"invites": `CREATE TABLE IF NOT EXISTS invites (
		code VARCHAR(54) NOT NULL PRIMARY KEY,
		created_by BIGINT NOT NULL,
		max_uses INT NOT NULL,
		used_count INT NOT NULL DEFAULT 0,
		is_active TINYINT(1) NOT NULL DEFAULT 1,
		expires_at DATETIME NULL,
		created_at DATETIME NOT NULL,
		used_at DATETIME NULL,
		KEY ix_invites_created_by (created_by)
	)`,
	"subscriptions": `CREATE TABLE IF NOT EXISTS subscriptions (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		telegram_id BIGINT NOT NULL,
		plan_code VARCHAR(50) NOT NULL,
		status VARCHAR(20) NOT NULL,
		data_limit_bytes BIGINT NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		payment_id BIGINT NOT NULL DEFAULT 0,
		KEY ix_subscriptions_user (telegram_id)
	)`,
	"payments": `CREATE TABLE IF NOT EXISTS payments (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		telegram_id BIGINT NOT NULL,
		provider VARCHAR(20) NOT NULL,
		provider_payment_id VARCHAR(200) NOT NULL,
		amount BIGINT NOT NULL,
		currency VARCHAR(10) NOT NULL,
		status VARCHAR(20) NOT NULL,
		plan_code VARCHAR(50) NOT NULL,
		pay_url VARCHAR(512) NOT NULL DEFAULT '',
		invoice_payload VARCHAR(200) NOT NULL DEFAULT '',
		charge_id VARCHAR(200) NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		completed_at DATETIME NULL,
		UNIQUE KEY uq_payments_provider_id (provider_payment_id),
		KEY ix_payments_user (telegram_id)
	)`,
	"support_tickets": `CREATE TABLE IF NOT EXISTS support_tickets (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		telegram_id BIGINT NOT NULL,
		category VARCHAR(20) NOT NULL,
		status VARCHAR(20) NOT NULL,
		title VARCHAR(200) NOT NULL,
		created_at DATETIME NOT NULL,
		resolved_at DATETIME NULL,
		KEY ix_tickets_user (telegram_id),
		KEY ix_tickets_status (status)
	)`,
	"ticket_messages": `CREATE TABLE IF NOT EXISTS ticket_messages (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		ticket_id BIGINT NOT NULL,
		telegram_id BIGINT NOT NULL,
		message TEXT NOT NULL,
		from_admin TINYINT(1) NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		KEY ix_ticket_messages_ticket (ticket_id)
	)`,
	"referrals": `CREATE TABLE IF NOT EXISTS referrals (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		referrer_id BIGINT NOT NULL,
		referred_id BIGINT NOT NULL,
		status VARCHAR(20) NOT NULL,
		bonus_cents BIGINT NOT NULL DEFAULT 0,
		payment_id BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		activated_at DATETIME NULL,
		UNIQUE KEY uq_referrals_referred (referred_id),
		KEY ix_referrals_referrer (referrer_id)
	)`,
}

// tableOrder keeps bootstrap deterministic for log output.
var tableOrder = []string{
	"users", "invites", "subscriptions", "payments",
	"support_tickets", "ticket_messages", "referrals",
}

func (s *MySql) createTables() error {
	for _, name := range tableOrder {
		if _, err := s.db.Exec(tableDefinitions[name]); err != nil {
			return err
		}
	}
	return nil
}
