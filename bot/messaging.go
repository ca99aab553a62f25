package bot

import (
	"time"
	"vpnbot/entity"
)

// broadcastInterval keeps bulk sends under Telegram's ~30 messages per
// second flood limit, with margin for concurrent command traffic.
const broadcastInterval = 50 * time.Millisecond

// NotifyAdmins sends a service message to every configured admin chat.
// The message must already be sanitized for MarkdownV2.
func (t *TgBot) NotifyAdmins(msg string) {
	for _, id := range t.conf.Telegram.AdminIds {
		t.plainResponse(id, msg)
	}
}

// deliverBroadcast sends msg to every user in the list, skipping blocked
// accounts. Runs in its own goroutine; delivery failures are logged by
// plainResponse and do not stop the loop.
func (t *TgBot) deliverBroadcast(users []*entity.User, msg string) {
	sent := 0
	for _, user := range users {
		if user.IsBlocked {
			continue
		}
		t.plainResponse(user.TelegramId, msg)
		sent++
		time.Sleep(broadcastInterval)
	}
	t.log.Info("broadcast delivered", "recipients", sent)
}
