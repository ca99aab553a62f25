package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"vpnbot/entity"
	"vpnbot/impl/core"
	"vpnbot/impl/ledger"
	"vpnbot/lib/sl"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
)

// invite mints an invite code: /invite [uses] [days]. Defaults to a
// single-use code without expiry.
func (t *TgBot) invite(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	maxUses := 1
	validDays := 0
	args := commandArgs(ectx)
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil {
			maxUses = n
		}
	}
	if len(args) > 1 {
		if n, err := strconv.Atoi(args[1]); err == nil {
			validDays = n
		}
	}

	invite, err := t.core.CreateInvite(ctx, user, maxUses, validDays)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrPermission):
			t.plainResponse(chatId, "Staff access required\\.")
		case errors.Is(err, ledger.ErrInvalidArgument):
			t.plainResponse(chatId, "Usage: `/invite [uses] [days]` — uses must be between 1 and "+
				strconv.Itoa(t.conf.Invites.MaxUsesLimit))
		default:
			t.reportError(chatId, "/invite", err)
		}
		return nil
	}

	deepLink := fmt.Sprintf("https://t.me/%s?start=%s", t.Username(), invite.Code)
	expiry := "never"
	if invite.ExpiresAt != nil {
		expiry = invite.ExpiresAt.Format("2006-01-02")
	}
	t.plainResponse(chatId, fmt.Sprintf(
		"Invite code: `%s`\nUses: %d, expires: %s\nDeep link: %s",
		Sanitize(invite.Code), invite.MaxUses, Sanitize(expiry), Sanitize(deepLink)))
	return nil
}

// codes lists the caller's invite codes with remaining uses.
func (t *TgBot) codes(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	invites, err := t.core.MyInvites(ctx, user, 20)
	if err != nil {
		if errors.Is(err, core.ErrPermission) {
			t.plainResponse(chatId, "Staff access required\\.")
			return nil
		}
		t.reportError(chatId, "/codes", err)
		return nil
	}
	if len(invites) == 0 {
		t.plainResponse(chatId, "You have no invite codes\\. Mint one with /invite\\.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString("*Your invite codes:*\n")
	for _, invite := range invites {
		state := "active"
		if !invite.IsActive {
			state = "inactive"
		}
		sb.WriteString(fmt.Sprintf("`%s` %d/%d used, %s\n",
			Sanitize(invite.Code), invite.UsedCount, invite.MaxUses, Sanitize(state)))
	}
	t.plainResponse(chatId, sb.String())
	return nil
}

// revokeCode deactivates an invite code.
func (t *TgBot) revokeCode(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	args := commandArgs(ectx)
	if len(args) < 1 {
		t.plainResponse(chatId, "Usage: `/revokecode <code>`")
		return nil
	}

	err := t.core.RevokeInvite(ctx, user, args[0])
	if err != nil {
		switch {
		case errors.Is(err, core.ErrPermission):
			t.plainResponse(chatId, "You may only revoke your own codes\\.")
		case errors.Is(err, ledger.ErrInvalidFormat), errors.Is(err, ledger.ErrNotFound):
			t.plainResponse(chatId, "Code not found\\.")
		case errors.Is(err, ledger.ErrExpired), errors.Is(err, ledger.ErrExhausted), errors.Is(err, ledger.ErrRevoked):
			t.plainResponse(chatId, "Code is already inactive\\.")
		default:
			t.reportError(chatId, "/revokecode", err)
		}
		return nil
	}
	t.plainResponse(chatId, "Code revoked\\.")
	return nil
}

// usersCmd lists all registered users. Admin only.
func (t *TgBot) usersCmd(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	users, err := t.core.AllUsers(ctx, user)
	if err != nil {
		if errors.Is(err, core.ErrPermission) {
			t.plainResponse(chatId, "Admin access required\\.")
			return nil
		}
		t.reportError(chatId, "/users", err)
		return nil
	}
	if len(users) == 0 {
		t.plainResponse(chatId, "No users found\\.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Users* \\(%d total\\)\n", len(users)))
	for _, u := range users {
		state := ""
		if u.IsBlocked {
			state = " blocked"
		}
		sb.WriteString(fmt.Sprintf("%s \\(%d\\) role:%s access:%s%s\n",
			Sanitize(u.DisplayName()), u.TelegramId,
			Sanitize(string(u.Role)), Sanitize(formatDate(u.ExpiresAt)), Sanitize(state)))
	}

	for _, part := range splitMessage(sb.String(), maxTelegramMessageLen) {
		t.plainResponse(chatId, part)
	}
	return nil
}

// roleCmd changes a user's role: /role <id> <user|manager|admin>.
func (t *TgBot) roleCmd(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	args := commandArgs(ectx)
	if len(args) < 2 {
		t.plainResponse(chatId, "Usage: `/role <id> <user|manager|admin>`")
		return nil
	}
	targetId, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		t.plainResponse(chatId, "Invalid user id: "+Sanitize(args[0]))
		return nil
	}
	role := entity.ParseRole(strings.ToLower(args[1]))

	if err = t.core.SetRole(ctx, user, targetId, role); err != nil {
		if errors.Is(err, core.ErrPermission) {
			t.plainResponse(chatId, "Admin access required\\.")
			return nil
		}
		t.reportError(chatId, "/role", err)
		return nil
	}

	t.plainResponse(chatId, fmt.Sprintf("Role of %d set to `%s`\\.", targetId, Sanitize(string(role))))
	t.setUserCommands(targetId, role)
	t.plainResponse(targetId, fmt.Sprintf("Your role is now `%s`\\.", Sanitize(string(role))))
	return nil
}

// blockCmd blocks a user, or unblocks with "off": /block <id> [off].
func (t *TgBot) blockCmd(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	args := commandArgs(ectx)
	if len(args) < 1 {
		t.plainResponse(chatId, "Usage: `/block <id> [off]`")
		return nil
	}
	targetId, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		t.plainResponse(chatId, "Invalid user id: "+Sanitize(args[0]))
		return nil
	}
	blocked := len(args) < 2 || args[1] != "off"

	if err = t.core.SetBlocked(ctx, user, targetId, blocked); err != nil {
		if errors.Is(err, core.ErrPermission) {
			t.plainResponse(chatId, "Admin access required\\.")
			return nil
		}
		t.reportError(chatId, "/block", err)
		return nil
	}

	if blocked {
		t.plainResponse(chatId, fmt.Sprintf("User %d blocked\\.", targetId))
	} else {
		t.plainResponse(chatId, fmt.Sprintf("User %d unblocked\\.", targetId))
	}
	return nil
}

// statsCmd shows aggregate counters. Managers and admins.
func (t *TgBot) statsCmd(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	stats, err := t.core.UsersStats(ctx, user)
	if err != nil {
		if errors.Is(err, core.ErrPermission) {
			t.plainResponse(chatId, "Staff access required\\.")
			return nil
		}
		t.reportError(chatId, "/stats", err)
		return nil
	}

	text := fmt.Sprintf(
		"*Service statistics*\n"+
			"Users: `%d`\n"+
			"Paying: `%d`\n"+
			"Trials used: `%d`\n"+
			"Blocked: `%d`",
		stats.Total, stats.Paying, stats.Trial, stats.Blocked)

	panelStats, err := t.core.PanelStats(ctx, user)
	if err != nil {
		t.log.Warn("panel stats", sl.Err(err))
	} else if panelStats != nil {
		text += fmt.Sprintf(
			"\n*Panel*\n"+
				"Accounts: `%d`\n"+
				"Active: `%d`\n"+
				"Online: `%d`\n"+
				"Traffic today: `%.1f GB`\n"+
				"Traffic month: `%.1f GB`",
			panelStats.TotalUsers, panelStats.ActiveUsers, panelStats.OnlineUsers,
			panelStats.TodayTrafficGB, panelStats.MonthTrafficGB)
	}

	t.plainResponse(chatId, text)
	return nil
}

// queueCmd lists open support tickets for staff.
func (t *TgBot) queueCmd(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	tickets, err := t.core.OpenTickets(ctx, user)
	if err != nil {
		if errors.Is(err, core.ErrPermission) {
			t.plainResponse(chatId, "Staff access required\\.")
			return nil
		}
		t.reportError(chatId, "/queue", err)
		return nil
	}
	if len(tickets) == 0 {
		t.plainResponse(chatId, "No open tickets\\.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString("*Open tickets:*\n")
	for _, ticket := range tickets {
		sb.WriteString(fmt.Sprintf("\\#%d \\[%s\\] from %d: %s\n",
			ticket.Id, Sanitize(string(ticket.Category)), ticket.TelegramId, Sanitize(ticket.Title)))
	}
	for _, part := range splitMessage(sb.String(), maxTelegramMessageLen) {
		t.plainResponse(chatId, part)
	}
	return nil
}

// replyCmd answers a ticket: /reply <id> <text...>. The reply is stored in
// the thread and forwarded to the ticket owner.
func (t *TgBot) replyCmd(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	args := commandArgs(ectx)
	if len(args) < 2 {
		t.plainResponse(chatId, "Usage: `/reply <id> <text>`")
		return nil
	}
	ticketId, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		t.plainResponse(chatId, "Invalid ticket id: "+Sanitize(args[0]))
		return nil
	}
	text := strings.Join(args[1:], " ")

	if err = t.core.ReplyTicket(ctx, user, ticketId, text); err != nil {
		if errors.Is(err, core.ErrPermission) {
			t.plainResponse(chatId, "Not your ticket\\.")
			return nil
		}
		t.reportError(chatId, "/reply", err)
		return nil
	}

	ticket, _, err := t.core.TicketThread(ctx, user, ticketId)
	if err == nil && ticket.TelegramId != chatId {
		t.plainResponse(ticket.TelegramId, fmt.Sprintf(
			"Support replied to ticket \\#%d:\n%s", ticketId, Sanitize(text)))
	}
	t.plainResponse(chatId, "Reply sent\\.")
	return nil
}

// closeCmd resolves a ticket: /close <id>.
func (t *TgBot) closeCmd(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	args := commandArgs(ectx)
	if len(args) < 1 {
		t.plainResponse(chatId, "Usage: `/close <id>`")
		return nil
	}
	ticketId, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		t.plainResponse(chatId, "Invalid ticket id: "+Sanitize(args[0]))
		return nil
	}

	if err = t.core.CloseTicket(ctx, user, ticketId, entity.TicketResolved); err != nil {
		if errors.Is(err, core.ErrPermission) {
			t.plainResponse(chatId, "Not your ticket\\.")
			return nil
		}
		t.reportError(chatId, "/close", err)
		return nil
	}
	t.plainResponse(chatId, fmt.Sprintf("Ticket \\#%d resolved\\.", ticketId))
	return nil
}

// broadcast sends a message to every registered user. Admin only.
func (t *TgBot) broadcast(_ *tgbotapi.Bot, ectx *ext.Context) error {
	chatId := ectx.EffectiveUser.Id
	ctx, cancel := t.requestCtx()
	defer cancel()

	user := t.resolveUser(ctx, ectx)
	if user == nil {
		return nil
	}

	args := commandArgs(ectx)
	if len(args) == 0 {
		t.plainResponse(chatId, "Usage: `/broadcast <text>`")
		return nil
	}
	text := strings.Join(args, " ")

	users, err := t.core.AllUsers(ctx, user)
	if err != nil {
		if errors.Is(err, core.ErrPermission) {
			t.plainResponse(chatId, "Admin access required\\.")
			return nil
		}
		t.reportError(chatId, "/broadcast", err)
		return nil
	}

	go t.deliverBroadcast(users, Sanitize(text))
	t.plainResponse(chatId, fmt.Sprintf("Broadcast queued for %d users\\.", len(users)))
	return nil
}
