package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"vpnbot/entity"
	"vpnbot/internal/database"
	"vpnbot/internal/panel"
)

// OpenTicket creates a support ticket with its first message. Users are
// capped at a few open tickets to keep the queue honest.
func (c *Core) OpenTicket(ctx context.Context, user *entity.User, category entity.TicketCategory, text string) (*entity.Ticket, error) {
	open, err := c.db.OpenTicketCount(ctx, user.TelegramId)
	if err != nil {
		return nil, fmt.Errorf("count open tickets: %w", err)
	}
	if open >= c.conf.Support.MaxOpenTickets {
		return nil, ErrTooManyTickets
	}

	title := text
	if runes := []rune(title); len(runes) > 60 {
		title = string(runes[:60])
	}
	ticket := &entity.Ticket{
		TelegramId: user.TelegramId,
		Category:   category,
		Status:     entity.TicketOpen,
		Title:      title,
		CreatedAt:  time.Now().UTC(),
	}
	if err = c.db.CreateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	msg := &entity.TicketMessage{
		TicketId:   ticket.Id,
		TelegramId: user.TelegramId,
		Message:    text,
		CreatedAt:  time.Now().UTC(),
	}
	if err = c.db.AddTicketMessage(ctx, msg); err != nil {
		c.log.Warn("store first ticket message",
			slog.Int64("ticket_id", ticket.Id),
			slog.String("error", err.Error()))
	}

	c.log.With(
		slog.Int64("telegram_id", user.TelegramId),
		slog.Int64("ticket_id", ticket.Id),
		slog.String("category", string(category)),
	).Info("ticket opened")
	return ticket, nil
}

// MyTickets lists the user's tickets, newest first.
func (c *Core) MyTickets(ctx context.Context, user *entity.User, limit int) ([]*entity.Ticket, error) {
	if limit <= 0 {
		limit = 10
	}
	return c.db.TicketsByUser(ctx, user.TelegramId, limit)
}

// OpenTickets lists all unresolved tickets for support staff.
func (c *Core) OpenTickets(ctx context.Context, actor *entity.User) ([]*entity.Ticket, error) {
	if !actor.IsManager() {
		return nil, ErrPermission
	}
	return c.db.OpenTickets(ctx)
}

// TicketThread returns a ticket with its messages. Users see only their
// own tickets; staff see all.
func (c *Core) TicketThread(ctx context.Context, actor *entity.User, ticketId int64) (*entity.Ticket, []*entity.TicketMessage, error) {
	ticket, err := c.db.TicketById(ctx, ticketId)
	if err != nil {
		return nil, nil, err
	}
	if ticket.TelegramId != actor.TelegramId && !actor.IsManager() {
		return nil, nil, ErrPermission
	}
	messages, err := c.db.TicketMessages(ctx, ticketId)
	if err != nil {
		return nil, nil, err
	}
	return ticket, messages, nil
}

// ReplyTicket appends a message to a ticket thread. A staff reply moves an
// open ticket to in_progress.
func (c *Core) ReplyTicket(ctx context.Context, actor *entity.User, ticketId int64, text string) error {
	ticket, err := c.db.TicketById(ctx, ticketId)
	if err != nil {
		return err
	}
	fromStaff := actor.IsManager() && ticket.TelegramId != actor.TelegramId
	if ticket.TelegramId != actor.TelegramId && !fromStaff {
		return ErrPermission
	}

	msg := &entity.TicketMessage{
		TicketId:   ticketId,
		TelegramId: actor.TelegramId,
		Message:    text,
		FromAdmin:  fromStaff,
		CreatedAt:  time.Now().UTC(),
	}
	if err = c.db.AddTicketMessage(ctx, msg); err != nil {
		return fmt.Errorf("add ticket message: %w", err)
	}
	if fromStaff && ticket.Status == entity.TicketOpen {
		if err = c.db.SetTicketStatus(ctx, ticketId, entity.TicketInProgress); err != nil {
			c.log.Warn("advance ticket status",
				slog.Int64("ticket_id", ticketId),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// CloseTicket resolves a ticket. The owner may close their own; staff may
// close any.
func (c *Core) CloseTicket(ctx context.Context, actor *entity.User, ticketId int64, status entity.TicketStatus) error {
	if status.IsOpen() {
		return fmt.Errorf("target status %q is not terminal", status)
	}
	ticket, err := c.db.TicketById(ctx, ticketId)
	if err != nil {
		return err
	}
	if ticket.TelegramId != actor.TelegramId && !actor.IsManager() {
		return ErrPermission
	}
	return c.db.SetTicketStatus(ctx, ticketId, status)
}

// ReferralLink builds the user's personal invite deep link.
func (c *Core) ReferralLink(botUsername string, user *entity.User) string {
	return fmt.Sprintf("https://t.me/%s?start=%s%s", botUsername, referralPrefix, user.ReferralCode)
}

// MyReferralStats aggregates the user's referral results.
func (c *Core) MyReferralStats(ctx context.Context, user *entity.User) (*entity.ReferralStats, error) {
	return c.db.ReferralStats(ctx, user.TelegramId)
}

// --- admin operations ---

// AllUsers lists every registered user. Admin only.
func (c *Core) AllUsers(ctx context.Context, actor *entity.User) ([]*entity.User, error) {
	if !actor.IsAdmin() {
		return nil, ErrPermission
	}
	return c.db.AllUsers(ctx)
}

// SetRole changes a user's role. Admin only; bootstrap admins cannot be
// demoted since their role is restored on every load.
func (c *Core) SetRole(ctx context.Context, actor *entity.User, telegramId int64, role entity.Role) error {
	if !actor.IsAdmin() {
		return ErrPermission
	}
	if err := c.db.SetUserRole(ctx, telegramId, role); err != nil {
		return err
	}
	c.invalidateUser(ctx, telegramId)
	return nil
}

// SetBlocked blocks or unblocks a user. Admin only.
func (c *Core) SetBlocked(ctx context.Context, actor *entity.User, telegramId int64, blocked bool) error {
	if !actor.IsAdmin() {
		return ErrPermission
	}
	if err := c.db.SetUserBlocked(ctx, telegramId, blocked); err != nil {
		return err
	}
	c.invalidateUser(ctx, telegramId)
	return nil
}

// UsersStats returns aggregate counters for /stats. Managers and admins.
func (c *Core) UsersStats(ctx context.Context, actor *entity.User) (*database.UsersStats, error) {
	if !actor.IsManager() {
		return nil, ErrPermission
	}
	return c.db.Stats(ctx)
}

// PanelStats returns the panel's server snapshot for /stats, or nil when
// no panel is configured.
func (c *Core) PanelStats(ctx context.Context, actor *entity.User) (*panel.Stats, error) {
	if !actor.IsManager() {
		return nil, ErrPermission
	}
	if c.panel == nil {
		return nil, nil
	}
	return c.panel.Stats(ctx)
}
