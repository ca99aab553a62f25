package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"vpnbot/entity"
)

func (s *MySql) CreateTicket(ctx context.Context, ticket *entity.Ticket) error {
	stmt, err := s.stmtInsertTicket()
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx,
		ticket.TelegramId, string(ticket.Category), string(ticket.Status),
		ticket.Title, ticket.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	ticket.Id, _ = res.LastInsertId()
	return nil
}

func (s *MySql) OpenTicketCount(ctx context.Context, telegramId int64) (int, error) {
	stmt, err := s.stmtCountOpenTickets()
	if err != nil {
		return 0, err
	}
	var count int
	if err = stmt.QueryRowContext(ctx, telegramId).Scan(&count); err != nil {
		return 0, fmt.Errorf("count open tickets: %w", err)
	}
	return count, nil
}

func (s *MySql) TicketById(ctx context.Context, id int64) (*entity.Ticket, error) {
	stmt, err := s.stmtSelectTicket()
	if err != nil {
		return nil, err
	}
	ticket, err := scanTicket(stmt.QueryRowContext(ctx, id))
	if err != nil {
		if mapped := findError(err); mapped == entity.ErrNotFound {
			return nil, mapped
		}
		return nil, fmt.Errorf("select ticket: %w", err)
	}
	return ticket, nil
}

func (s *MySql) TicketsByUser(ctx context.Context, telegramId int64, limit int) ([]*entity.Ticket, error) {
	stmt, err := s.stmtSelectTicketsByUser()
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, telegramId, limit)
	if err != nil {
		return nil, fmt.Errorf("select tickets: %w", err)
	}
	defer rows.Close()
	return collectTickets(rows)
}

func (s *MySql) OpenTickets(ctx context.Context) ([]*entity.Ticket, error) {
	stmt, err := s.stmtSelectOpenTickets()
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("select open tickets: %w", err)
	}
	defer rows.Close()
	return collectTickets(rows)
}

func (s *MySql) SetTicketStatus(ctx context.Context, id int64, status entity.TicketStatus) error {
	stmt, err := s.stmtSetTicketStatus()
	if err != nil {
		return err
	}
	var resolvedAt sql.NullTime
	if !status.IsOpen() {
		resolvedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	_, err = stmt.ExecContext(ctx, string(status), resolvedAt, id)
	if err != nil {
		return fmt.Errorf("set ticket status: %w", err)
	}
	return nil
}

func (s *MySql) AddTicketMessage(ctx context.Context, msg *entity.TicketMessage) error {
	stmt, err := s.stmtInsertTicketMessage()
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx,
		msg.TicketId, msg.TelegramId, msg.Message, msg.FromAdmin, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ticket message: %w", err)
	}
	msg.Id, _ = res.LastInsertId()
	return nil
}

func (s *MySql) TicketMessages(ctx context.Context, ticketId int64) ([]*entity.TicketMessage, error) {
	stmt, err := s.stmtSelectTicketMessages()
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, ticketId)
	if err != nil {
		return nil, fmt.Errorf("select ticket messages: %w", err)
	}
	defer rows.Close()

	var messages []*entity.TicketMessage
	for rows.Next() {
		var msg entity.TicketMessage
		if err = rows.Scan(&msg.Id, &msg.TicketId, &msg.TelegramId, &msg.Message, &msg.FromAdmin, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

func scanTicket(row rowScanner) (*entity.Ticket, error) {
	var ticket entity.Ticket
	var category, status string
	var resolvedAt sql.NullTime
	err := row.Scan(&ticket.Id, &ticket.TelegramId, &category, &status, &ticket.Title, &ticket.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	ticket.Category = entity.TicketCategory(category)
	ticket.Status = entity.TicketStatus(status)
	ticket.ResolvedAt = timePtr(resolvedAt)
	return &ticket, nil
}

func collectTickets(rows *sql.Rows) ([]*entity.Ticket, error) {
	var tickets []*entity.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}
