package core

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"vpnbot/entity"
	"vpnbot/impl/auth"
	"vpnbot/impl/ledger"
	"vpnbot/internal/cache"
	"vpnbot/internal/config"
	"vpnbot/internal/cryptobot"
	"vpnbot/internal/database"
	"vpnbot/internal/panel"
	"vpnbot/internal/stripeclient"
	"vpnbot/lib/sl"
)

var (
	ErrInviteRequired = errors.New("registration requires an invite code")
	ErrTrialDisabled  = errors.New("trial is disabled")
	ErrTrialUsed      = errors.New("trial already used")
	ErrUnknownPlan    = errors.New("unknown plan")
	ErrProviderOff    = errors.New("payment provider is not enabled")
	ErrNoAccess       = errors.New("no active access")
	ErrTooManyTickets = errors.New("open ticket limit reached")
	ErrPermission     = errors.New("operation not permitted")
)

// Database is the relational store behind all core operations.
type Database interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user *entity.User) error
	UserByTelegramId(ctx context.Context, telegramId int64) (*entity.User, error)
	UserByReferralCode(ctx context.Context, code string) (*entity.User, error)
	AllUsers(ctx context.Context) ([]*entity.User, error)
	UpdateUserProfile(ctx context.Context, telegramId int64, username, firstName string) error
	SetUserRole(ctx context.Context, telegramId int64, role entity.Role) error
	SetUserBlocked(ctx context.Context, telegramId int64, blocked bool) error
	SetUserAccess(ctx context.Context, telegramId int64, panelUUID string, dataLimitBytes int64, expiresAt *time.Time) error
	ActivateTrial(ctx context.Context, telegramId int64, expiry time.Time, dataLimitBytes int64) (bool, error)
	Stats(ctx context.Context) (*database.UsersStats, error)

	InviteByCode(ctx context.Context, code string) (*entity.InviteCode, error)
	InvitesByCreator(ctx context.Context, createdBy int64, limit int) ([]*entity.InviteCode, error)

	CreatePayment(ctx context.Context, payment *entity.Payment) error
	PaymentByProviderId(ctx context.Context, providerPaymentId string) (*entity.Payment, error)
	CompletePayment(ctx context.Context, providerPaymentId, chargeId string, completedAt time.Time) (bool, error)
	CreateSubscription(ctx context.Context, sub *entity.Subscription) error
	ActiveSubscription(ctx context.Context, telegramId int64) (*entity.Subscription, error)
	SubscriptionByPaymentId(ctx context.Context, paymentId int64) (*entity.Subscription, error)

	CreateReferral(ctx context.Context, ref *entity.Referral) error
	ReferralByReferred(ctx context.Context, referredId int64) (*entity.Referral, error)
	ActivateReferral(ctx context.Context, referredId, paymentId int64) (bool, error)
	ReferralStats(ctx context.Context, referrerId int64) (*entity.ReferralStats, error)

	CreateTicket(ctx context.Context, ticket *entity.Ticket) error
	OpenTicketCount(ctx context.Context, telegramId int64) (int, error)
	TicketById(ctx context.Context, id int64) (*entity.Ticket, error)
	TicketsByUser(ctx context.Context, telegramId int64, limit int) ([]*entity.Ticket, error)
	OpenTickets(ctx context.Context) ([]*entity.Ticket, error)
	SetTicketStatus(ctx context.Context, id int64, status entity.TicketStatus) error
	AddTicketMessage(ctx context.Context, msg *entity.TicketMessage) error
	TicketMessages(ctx context.Context, ticketId int64) ([]*entity.TicketMessage, error)
}

// Archive is the optional write-mostly audit store.
type Archive interface {
	SaveWebhookEvent(provider, eventId string, payload []byte) error
	SaveRedemption(code string, redeemerId int64, usedCount int) error
	SavePayment(providerPaymentId string, payment interface{}) error
}

type Core struct {
	db      Database
	ledger  *ledger.Ledger
	auth    *auth.Auth
	panel   *panel.Client
	cache   *cache.Redis
	sc      *stripeclient.StripeClient
	cb      *cryptobot.Client
	archive Archive
	conf    *config.Config
	log     *slog.Logger
}

func New(db Database, lg *ledger.Ledger, au *auth.Auth, conf *config.Config, log *slog.Logger) *Core {
	if db == nil {
		panic("database is nil")
	}
	if lg == nil {
		panic("ledger is nil")
	}
	return &Core{
		db:     db,
		ledger: lg,
		auth:   au,
		conf:   conf,
		log:    log.With(sl.Module("core")),
	}
}

func (c *Core) SetPanel(p *panel.Client)               { c.panel = p }
func (c *Core) SetCache(r *cache.Redis)                { c.cache = r }
func (c *Core) SetStripe(s *stripeclient.StripeClient) { c.sc = s }
func (c *Core) SetCryptoBot(cb *cryptobot.Client)      { c.cb = cb }
func (c *Core) SetArchive(a Archive)                   { c.archive = a }

// AuthenticateByToken resolves an API bearer token to a user.
func (c *Core) AuthenticateByToken(ctx context.Context, token string) (*entity.User, error) {
	return c.auth.UserByToken(ctx, token)
}

// Health reports whether the relational store is reachable.
func (c *Core) Health(ctx context.Context) error {
	return c.db.Ping(ctx)
}

// User loads a profile, consulting the cache first.
func (c *Core) User(ctx context.Context, telegramId int64) (*entity.User, error) {
	if user := c.cache.User(ctx, telegramId); user != nil {
		return user, nil
	}
	user, err := c.auth.UserById(ctx, telegramId)
	if err != nil {
		return nil, err
	}
	c.cache.SetUser(ctx, user)
	return user, nil
}

// PlanByCode finds a plan in the configured catalog.
func (c *Core) PlanByCode(code string) (*entity.Plan, error) {
	for i := range c.conf.Plans {
		if c.conf.Plans[i].Code == code {
			return &c.conf.Plans[i], nil
		}
	}
	return nil, ErrUnknownPlan
}

// Plans returns the configured catalog.
func (c *Core) Plans() []entity.Plan {
	return c.conf.Plans
}

func (c *Core) invalidateUser(ctx context.Context, telegramId int64) {
	c.cache.InvalidateUser(ctx, telegramId)
}
