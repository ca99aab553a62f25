package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"vpnbot/entity"
	"vpnbot/internal/config"
)

const userTTL = 5 * time.Minute

// Redis is an optional read-through cache for user profiles. A nil *Redis
// is valid and means caching is disabled; every method is a safe no-op
// then, so callers never branch on configuration.
type Redis struct {
	client *redis.Client
}

func NewRedisClient(conf *config.Config) *Redis {
	if !conf.Redis.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", conf.Redis.Host, conf.Redis.Port),
		Password: conf.Redis.Password,
		DB:       conf.Redis.Db,
	})
	return &Redis{client: client}
}

func (r *Redis) Close() error {
	if r == nil {
		return nil
	}
	return r.client.Close()
}

func userKey(telegramId int64) string {
	return fmt.Sprintf("user:%d", telegramId)
}

// User returns the cached profile or nil on miss. Decode failures count
// as misses; the stale entry is dropped.
func (r *Redis) User(ctx context.Context, telegramId int64) *entity.User {
	if r == nil {
		return nil
	}
	data, err := r.client.Get(ctx, userKey(telegramId)).Bytes()
	if err != nil {
		return nil
	}
	var user entity.User
	if err = json.Unmarshal(data, &user); err != nil {
		r.client.Del(ctx, userKey(telegramId))
		return nil
	}
	return &user
}

func (r *Redis) SetUser(ctx context.Context, user *entity.User) {
	if r == nil || user == nil {
		return
	}
	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	r.client.Set(ctx, userKey(user.TelegramId), data, userTTL)
}

// InvalidateUser drops the cached profile; call after any write that
// changes role, access, or block state.
func (r *Redis) InvalidateUser(ctx context.Context, telegramId int64) {
	if r == nil {
		return
	}
	r.client.Del(ctx, userKey(telegramId))
}

// Ping verifies connectivity at startup.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.Join(errors.New("redis ping"), err)
	}
	return nil
}
