// Package bot is the Telegram surface of the VPN reseller service.
//
// Architecture overview:
//   - tgbot.go     — TgBot struct, lifecycle (Start/Stop), dispatcher wiring
//   - commands.go  — User commands: /start, /trial, /plans, /config, /status, /ref, /ticket, /help
//   - admin.go     — Staff commands: /invite, /codes, /revokecode, /users, /role, /block, /stats, /queue, /reply, /close, /broadcast
//   - callbacks.go — Inline keyboard builders and callback query handlers
//   - menus.go     — Per-role command menus via Telegram's BotCommandScope API
//   - messaging.go — Admin notifications and throttled broadcast delivery
//   - helpers.go   — Shared utilities: Sanitize, plainResponse, reportError
//
// Registration happens through /start deep links: t.me/bot?start=INV_...
// redeems an invite code, t.me/bot?start=ref_... records a referral.
// Telegram Stars purchases confirm in-band: the pre-checkout query is
// answered here and the successful_payment update settles through core.
//
// Thread safety: pendingTickets is guarded by mu; everything else is
// either immutable after Start or owned by core.
package bot

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
	"vpnbot/entity"
	"vpnbot/impl/core"
	"vpnbot/internal/config"
	"vpnbot/lib/sl"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
)

type TgBot struct {
	log     *slog.Logger
	api     *tgbotapi.Bot
	core    *core.Core
	conf    *config.Config
	updater *ext.Updater

	mu             sync.Mutex
	pendingTickets map[int64]entity.TicketCategory // chat id -> chosen category, awaiting text
}

func NewTgBot(conf *config.Config, c *core.Core, log *slog.Logger) (*TgBot, error) {
	tgBot := &TgBot{
		log:            log.With(sl.Module("tgbot")),
		core:           c,
		conf:           conf,
		pendingTickets: make(map[int64]entity.TicketCategory),
	}

	api, err := tgbotapi.NewBot(conf.Telegram.ApiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}
	tgBot.api = api

	return tgBot, nil
}

// Username returns the bot's Telegram username for deep link construction.
func (t *TgBot) Username() string {
	return t.api.Username
}

func (t *TgBot) Start() error {
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(b *tgbotapi.Bot, ctx *ext.Context, err error) ext.DispatcherAction {
			t.log.Error("handling update:", sl.Err(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	t.updater = ext.NewUpdater(dispatcher, nil)

	// User commands
	dispatcher.AddHandler(handlers.NewCommand("start", t.start))
	dispatcher.AddHandler(handlers.NewCommand("trial", t.trial))
	dispatcher.AddHandler(handlers.NewCommand("plans", t.plans))
	dispatcher.AddHandler(handlers.NewCommand("config", t.config))
	dispatcher.AddHandler(handlers.NewCommand("status", t.status))
	dispatcher.AddHandler(handlers.NewCommand("ref", t.ref))
	dispatcher.AddHandler(handlers.NewCommand("ticket", t.ticket))
	dispatcher.AddHandler(handlers.NewCommand("tickets", t.tickets))
	dispatcher.AddHandler(handlers.NewCommand("help", t.help))

	// Staff commands
	dispatcher.AddHandler(handlers.NewCommand("invite", t.invite))
	dispatcher.AddHandler(handlers.NewCommand("codes", t.codes))
	dispatcher.AddHandler(handlers.NewCommand("revokecode", t.revokeCode))
	dispatcher.AddHandler(handlers.NewCommand("users", t.usersCmd))
	dispatcher.AddHandler(handlers.NewCommand("role", t.roleCmd))
	dispatcher.AddHandler(handlers.NewCommand("block", t.blockCmd))
	dispatcher.AddHandler(handlers.NewCommand("stats", t.statsCmd))
	dispatcher.AddHandler(handlers.NewCommand("queue", t.queueCmd))
	dispatcher.AddHandler(handlers.NewCommand("reply", t.replyCmd))
	dispatcher.AddHandler(handlers.NewCommand("close", t.closeCmd))
	dispatcher.AddHandler(handlers.NewCommand("broadcast", t.broadcast))

	// Callback query handlers
	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbPlan), t.onPlanCallback))
	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbPay), t.onPayCallback))
	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbTicketCategory), t.onTicketCategoryCallback))

	// Telegram Stars payment flow
	dispatcher.AddHandler(handlers.NewPreCheckoutQuery(nil, t.onPreCheckout))
	dispatcher.AddHandler(handlers.NewMessage(func(msg *tgbotapi.Message) bool {
		return msg.SuccessfulPayment != nil
	}, t.onSuccessfulPayment))

	// Plain text fills in a pending ticket
	dispatcher.AddHandler(handlers.NewMessage(func(msg *tgbotapi.Message) bool {
		return msg.Text != "" && msg.Text[0] != '/'
	}, t.onText))

	t.setDefaultCommands()

	err := t.updater.StartPolling(t.api, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &tgbotapi.GetUpdatesOpts{
			Timeout: 9,
			RequestOpts: &tgbotapi.RequestOpts{
				Timeout: time.Second * 10,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start polling: %w", err)
	}

	t.updater.Idle()
	return nil
}

func (t *TgBot) Stop() {
	if t.updater != nil {
		t.log.Info("stopping telegram bot")
		_ = t.updater.Stop()
	}
}

func (t *TgBot) setPendingTicket(chatId int64, category entity.TicketCategory) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingTickets[chatId] = category
}

func (t *TgBot) takePendingTicket(chatId int64) (entity.TicketCategory, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	category, ok := t.pendingTickets[chatId]
	if ok {
		delete(t.pendingTickets, chatId)
	}
	return category, ok
}
