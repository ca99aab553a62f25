package auth

import (
	"context"
	"fmt"
	"vpnbot/entity"
	"vpnbot/internal/config"
)

type Database interface {
	UserByToken(ctx context.Context, token string) (*entity.User, error)
	UserByTelegramId(ctx context.Context, telegramId int64) (*entity.User, error)
}

// Auth resolves identity and admission. Registration policy is decided
// once at startup: either open registration is enabled explicitly in the
// config, or a valid invite code is required. There is no fallback that
// admits everyone when the ledger is unavailable.
type Auth struct {
	db               Database
	adminIds         map[int64]bool
	openRegistration bool
}

func New(db Database, conf *config.Config) *Auth {
	adminIds := make(map[int64]bool, len(conf.Telegram.AdminIds))
	for _, id := range conf.Telegram.AdminIds {
		adminIds[id] = true
	}
	return &Auth{
		db:               db,
		adminIds:         adminIds,
		openRegistration: conf.Invites.OpenRegistration,
	}
}

// OpenRegistration reports whether users may join without an invite code.
func (a *Auth) OpenRegistration() bool {
	return a.openRegistration
}

// IsBootstrapAdmin reports whether the id is in the config admin list.
// Bootstrap admins keep admin rights regardless of the stored role, so a
// bad role update cannot lock everyone out.
func (a *Auth) IsBootstrapAdmin(telegramId int64) bool {
	return a.adminIds[telegramId]
}

// UserByToken authenticates an API request by bearer token.
func (a *Auth) UserByToken(ctx context.Context, token string) (*entity.User, error) {
	if a.db == nil {
		return nil, fmt.Errorf("database not connected")
	}
	if token == "" {
		return nil, fmt.Errorf("empty token")
	}
	user, err := a.db.UserByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if user.IsBlocked {
		return nil, fmt.Errorf("user is blocked")
	}
	a.applyBootstrap(user)
	return user, nil
}

// UserById loads a user and applies the bootstrap admin override.
func (a *Auth) UserById(ctx context.Context, telegramId int64) (*entity.User, error) {
	if a.db == nil {
		return nil, fmt.Errorf("database not connected")
	}
	user, err := a.db.UserByTelegramId(ctx, telegramId)
	if err != nil {
		return nil, err
	}
	a.applyBootstrap(user)
	return user, nil
}

func (a *Auth) applyBootstrap(user *entity.User) {
	if user != nil && a.adminIds[user.TelegramId] {
		user.Role = entity.RoleAdmin
	}
}
