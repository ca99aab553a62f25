package entity

import "time"

type TicketCategory string

const (
	CategoryPayment    TicketCategory = "payment"
	CategoryConnection TicketCategory = "connection"
	CategorySpeed      TicketCategory = "speed"
	CategoryAccount    TicketCategory = "account"
	CategoryOther      TicketCategory = "other"
)

// TicketCategories lists the categories in keyboard display order.
var TicketCategories = []TicketCategory{
	CategoryPayment, CategoryConnection, CategorySpeed, CategoryAccount, CategoryOther,
}

type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
	TicketClosed     TicketStatus = "closed"
)

func (s TicketStatus) IsOpen() bool {
	return s == TicketOpen || s == TicketInProgress
}

type Ticket struct {
	Id         int64          `json:"id" bson:"id"`
	TelegramId int64          `json:"telegram_id" bson:"telegram_id"`
	Category   TicketCategory `json:"category" bson:"category"`
	Status     TicketStatus   `json:"status" bson:"status"`
	Title      string         `json:"title" bson:"title"`
	CreatedAt  time.Time      `json:"created_at" bson:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
}

// TicketMessage is one message in a ticket thread. FromAdmin marks replies
// sent by support staff.
type TicketMessage struct {
	Id         int64     `json:"id" bson:"id"`
	TicketId   int64     `json:"ticket_id" bson:"ticket_id"`
	TelegramId int64     `json:"telegram_id" bson:"telegram_id"`
	Message    string    `json:"message" bson:"message"`
	FromAdmin  bool      `json:"from_admin" bson:"from_admin"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}
