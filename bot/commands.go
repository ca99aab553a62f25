package bot

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"vpnbot/entity"
	"vpnbot/impl/core"
	"vpnbot/impl/ledger"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

func (t *TgBot) start(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	payload := ""
	if args := commandArgs(ectx); len(args) > 0 {
		payload = args[0]
	}

	profile := core.Profile{
		TelegramId: chatId,
		Username:   ectx.EffectiveUser.Username,
		FirstName:  ectx.EffectiveUser.FirstName,
	}
	user, created, err := t.core.RegisterUser(ctx, profile, payload)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInviteRequired):
			t.plainResponse(chatId, "Registration is invite\\-only\\. Ask for an invite link and open it again\\.")
		case errors.Is(err, ledger.ErrInvalidFormat), errors.Is(err, ledger.ErrNotFound):
			t.plainResponse(chatId, "This invite link is not valid\\.")
		case errors.Is(err, ledger.ErrExpired):
			t.plainResponse(chatId, "This invite code has expired\\.")
		case errors.Is(err, ledger.ErrExhausted):
			t.plainResponse(chatId, "This invite code has no uses left\\.")
		case errors.Is(err, ledger.ErrRevoked):
			t.plainResponse(chatId, "This invite code has been revoked\\.")
		default:
			t.reportError(chatId, "/start", err)
		}
		return nil
	}

	t.setUserCommands(chatId, user.Role)

	if created {
		t.plainResponse(chatId, fmt.Sprintf(
			"Welcome, %s\\!\n\nUse /trial for a free trial, /plans to buy access, /help for everything else\\.",
			Sanitize(user.FirstName)))
		t.NotifyAdmins(fmt.Sprintf("New user: %s \\(%d\\)", Sanitize(user.DisplayName()), chatId))
		return nil
	}
	t.plainResponse(chatId, "Welcome back\\! Use /status to see your subscription\\.")
	return nil
}

func (t *TgBot) trial(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	sub, err := t.core.ActivateTrial(ctx, user)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrTrialDisabled):
			t.plainResponse(chatId, "Trial is not available\\.")
		case errors.Is(err, core.ErrTrialUsed):
			t.plainResponse(chatId, "You have already used your trial\\. See /plans\\.")
		default:
			t.reportError(chatId, "/trial", err)
		}
		return nil
	}

	t.plainResponse(chatId, fmt.Sprintf(
		"Trial activated until %s \\(%s\\)\\.\nUse /config to get your connection link\\.",
		Sanitize(sub.ExpiresAt.Format("2006-01-02")),
		Sanitize(formatBytes(sub.DataLimitBytes))))
	return nil
}

func (t *TgBot) plans(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	if t.resolveUser(ctx, ectx) == nil {
		return nil
	}

	plans := t.core.Plans()
	if len(plans) == 0 {
		t.plainResponse(chatId, "No plans are configured\\.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString("*Available plans:*\n")
	for _, plan := range plans {
		sb.WriteString(fmt.Sprintf("\n*%s* — %d days, %d GB\n%s\n",
			Sanitize(plan.Title), plan.Days, plan.DataLimitGB,
			Sanitize(fmt.Sprintf("%.2f %s / %d Stars", float64(plan.PriceCents)/100.0, plan.Currency, plan.PriceStars))))
	}
	t.sendWithKeyboard(chatId, sb.String(), buildPlansKeyboard(plans))
	return nil
}

func (t *TgBot) config(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	link, qr, err := t.core.UserConfig(ctx, user)
	if err != nil {
		if errors.Is(err, core.ErrNoAccess) {
			t.plainResponse(chatId, "You have no active access\\. Use /trial or /plans first\\.")
			return nil
		}
		t.reportError(chatId, "/config", err)
		return nil
	}

	t.plainResponse(chatId, fmt.Sprintf("Your connection link:\n`%s`", Sanitize(link)))
	if len(qr) > 0 {
		_, err = t.api.SendPhoto(chatId, tgbotapi.InputFileByReader("config.png", bytes.NewReader(qr)), &tgbotapi.SendPhotoOpts{
			Caption: "Scan with your VPN client",
		})
		if err != nil {
			t.log.Warn("sending qr", "id", chatId, "error", err.Error())
		}
	}
	return nil
}

func (t *TgBot) status(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}
	user, err := t.core.Usage(ctx, user)
	if err != nil {
		t.log.Warn("fetching usage", "id", chatId, "error", err.Error())
	}

	access := "none"
	if user.ExpiresAt != nil {
		access = user.ExpiresAt.Format("2006-01-02")
	} else if user.TrialExpiry != nil {
		access = user.TrialExpiry.Format("2006-01-02") + " (trial)"
	}

	msg := fmt.Sprintf(
		"*Your account*\n"+
			"Role: `%s`\n"+
			"Access until: `%s`\n"+
			"Traffic: `%s / %s`",
		Sanitize(string(user.Role)),
		Sanitize(access),
		Sanitize(formatBytes(user.UsedBytes)),
		Sanitize(formatBytes(user.DataLimitBytes)),
	)
	t.plainResponse(chatId, msg)
	return nil
}

func (t *TgBot) ref(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	stats, err := t.core.MyReferralStats(ctx, user)
	if err != nil {
		t.reportError(chatId, "/ref", err)
		return nil
	}

	link := t.core.ReferralLink(t.Username(), user)
	msg := fmt.Sprintf(
		"*Your referral link:*\n%s\n\n"+
			"Invited: `%d`\nPaid: `%d`\nEarned: `%s`",
		Sanitize(link),
		stats.Total, stats.Active,
		Sanitize(fmt.Sprintf("%.2f", float64(stats.EarnedCents)/100.0)),
	)
	t.plainResponse(chatId, msg)
	return nil
}

func (t *TgBot) ticket(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	if t.resolveUser(ctx, ectx) == nil {
		return nil
	}

	t.sendWithKeyboard(chatId, "What is your question about?", buildTicketCategoryKeyboard())
	return nil
}

func (t *TgBot) tickets(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	list, err := t.core.MyTickets(ctx, user, 10)
	if err != nil {
		t.reportError(chatId, "/tickets", err)
		return nil
	}
	if len(list) == 0 {
		t.plainResponse(chatId, "You have no tickets\\. Open one with /ticket\\.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString("*Your tickets:*\n")
	for _, ticket := range list {
		sb.WriteString(fmt.Sprintf("\\#%d \\[%s\\] %s — %s\n",
			ticket.Id, Sanitize(string(ticket.Status)),
			Sanitize(string(ticket.Category)), Sanitize(ticket.Title)))
	}
	t.plainResponse(chatId, sb.String())
	return nil
}

// onText completes the two-step ticket flow: category was chosen from the
// keyboard, the next plain message is the ticket body.
func (t *TgBot) onText(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	category, pending := t.takePendingTicket(chatId)
	if !pending {
		return nil
	}
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	ticket, err := t.core.OpenTicket(ctx, user, category, ectx.EffectiveMessage.Text)
	if err != nil {
		if errors.Is(err, core.ErrTooManyTickets) {
			t.plainResponse(chatId, "You already have too many open tickets\\.")
			return nil
		}
		t.reportError(chatId, "ticket:open", err)
		return nil
	}

	t.plainResponse(chatId, fmt.Sprintf("Ticket \\#%d created\\. Support will reply here\\.", ticket.Id))
	t.NotifyAdmins(fmt.Sprintf("New ticket \\#%d \\[%s\\] from %s:\n%s",
		ticket.Id, Sanitize(string(category)), Sanitize(user.DisplayName()), Sanitize(ticket.Title)))
	return nil
}

func (t *TgBot) help(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	var role entity.Role = entity.RoleUser
	if user, err := t.core.User(ctx, chatId); err == nil {
		role = user.Role
	}

	var sb strings.Builder
	sb.WriteString("*Available Commands*\n\n")
	sb.WriteString("`/start` \\- Register or refresh your account\n")
	sb.WriteString("`/trial` \\- Activate the free trial\n")
	sb.WriteString("`/plans` \\- Buy a subscription\n")
	sb.WriteString("`/config` \\- Get your connection link and QR\n")
	sb.WriteString("`/status` \\- Show your subscription\n")
	sb.WriteString("`/ref` \\- Your referral link and stats\n")
	sb.WriteString("`/ticket` \\- Contact support\n")
	sb.WriteString("`/tickets` \\- Your support tickets\n")
	sb.WriteString("`/help` \\- Show this help\n")

	if role == entity.RoleManager || role == entity.RoleAdmin {
		sb.WriteString("\n*Staff Commands:*\n")
		sb.WriteString("`/invite [uses] [days]` \\- Mint an invite code\n")
		sb.WriteString("`/codes` \\- List your invite codes\n")
		sb.WriteString("`/revokecode <code>` \\- Revoke an invite code\n")
		sb.WriteString("`/stats` \\- Service statistics\n")
		sb.WriteString("`/queue` \\- Open support tickets\n")
		sb.WriteString("`/reply <id> <text>` \\- Reply to a ticket\n")
		sb.WriteString("`/close <id>` \\- Close a ticket\n")
	}
	if role == entity.RoleAdmin {
		sb.WriteString("\n*Admin Commands:*\n")
		sb.WriteString("`/users` \\- List all users\n")
		sb.WriteString("`/role <id> <user|manager|admin>` \\- Change role\n")
		sb.WriteString("`/block <id> [off]` \\- Block or unblock a user\n")
		sb.WriteString("`/broadcast <text>` \\- Message all users\n")
	}

	t.plainResponse(chatId, sb.String())
	return nil
}
