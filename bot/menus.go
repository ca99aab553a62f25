package bot

import (
	"vpnbot/entity"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
)

// Per-role command lists for Telegram's menu button (the "/" icon in the chat
// input). These are pushed via SetMyCommands with BotCommandScopeChat to give
// each user a role-appropriate command menu.

var commandsAnonymous = []tgbotapi.BotCommand{
	{Command: "start", Description: "Register with an invite code"},
	{Command: "help", Description: "Show available commands"},
}

var commandsUser = []tgbotapi.BotCommand{
	{Command: "trial", Description: "Activate a free trial"},
	{Command: "plans", Description: "Browse subscription plans"},
	{Command: "config", Description: "Get your connection config"},
	{Command: "status", Description: "Show subscription and traffic"},
	{Command: "ref", Description: "Your referral link and stats"},
	{Command: "ticket", Description: "Open a support ticket"},
	{Command: "tickets", Description: "List your tickets"},
	{Command: "help", Description: "Show available commands"},
}

var commandsManager = []tgbotapi.BotCommand{
	{Command: "trial", Description: "Activate a free trial"},
	{Command: "plans", Description: "Browse subscription plans"},
	{Command: "config", Description: "Get your connection config"},
	{Command: "status", Description: "Show subscription and traffic"},
	{Command: "invite", Description: "Mint an invite code"},
	{Command: "codes", Description: "List your invite codes"},
	{Command: "revokecode", Description: "Revoke an invite code"},
	{Command: "stats", Description: "Service statistics"},
	{Command: "queue", Description: "Open support tickets"},
	{Command: "reply", Description: "Reply to a ticket"},
	{Command: "close", Description: "Close a ticket"},
	{Command: "help", Description: "Show available commands"},
}

var commandsAdmin = []tgbotapi.BotCommand{
	{Command: "config", Description: "Get your connection config"},
	{Command: "status", Description: "Show subscription and traffic"},
	{Command: "invite", Description: "Mint an invite code"},
	{Command: "codes", Description: "List your invite codes"},
	{Command: "revokecode", Description: "Revoke an invite code"},
	{Command: "users", Description: "List all users"},
	{Command: "role", Description: "Change a user's role"},
	{Command: "block", Description: "Block or unblock a user"},
	{Command: "stats", Description: "Service statistics"},
	{Command: "queue", Description: "Open support tickets"},
	{Command: "reply", Description: "Reply to a ticket"},
	{Command: "close", Description: "Close a ticket"},
	{Command: "broadcast", Description: "Message all users"},
	{Command: "help", Description: "Show available commands"},
}

// setDefaultCommands sets the default bot menu for unregistered users.
func (t *TgBot) setDefaultCommands() {
	_, err := t.api.SetMyCommands(commandsAnonymous, &tgbotapi.SetMyCommandsOpts{
		Scope: tgbotapi.BotCommandScopeDefault{},
	})
	if err != nil {
		t.log.Warn("setting default commands", "error", err)
	}
}

// setUserCommands sets the command menu for a specific user based on their role.
func (t *TgBot) setUserCommands(chatId int64, role entity.Role) {
	var commands []tgbotapi.BotCommand
	switch role {
	case entity.RoleAdmin:
		commands = commandsAdmin
	case entity.RoleManager:
		commands = commandsManager
	default:
		commands = commandsUser
	}

	_, err := t.api.SetMyCommands(commands, &tgbotapi.SetMyCommandsOpts{
		Scope: tgbotapi.BotCommandScopeChat{ChatId: chatId},
	})
	if err != nil {
		t.log.Warn("setting user commands", "chat_id", chatId, "error", err)
	}
}
