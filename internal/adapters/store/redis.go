// Package store mirrors relay presence into Redis so that other processes
// (the HTTP API, dashboards) can see who is online. The relay never reads
// it back: in-memory state stays authoritative.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/relay/internal/app"
	"github.com/dkeye/relay/internal/config"
	"github.com/dkeye/relay/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	onlineKey       = "presence:online"
	presenceChannel = "presence"
	defaultBuffer   = 1024
)

func userKey(uid domain.UserID) string { return "presence:user:" + string(uid) }

// Connect opens a client and checks it with PING.
func Connect(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

type update struct {
	online bool
	user   app.ActiveUser
	uid    domain.UserID
}

// RedisPresence is an app.PresenceSink. Updates are queued and written by
// Run; when the queue is full the update is dropped.
type RedisPresence struct {
	client  *redis.Client
	ttl     time.Duration
	updates chan update

	// online is owned by Run and used to refresh key TTLs.
	online map[domain.UserID]app.ActiveUser
}

func NewRedisPresence(client *redis.Client, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisPresence{
		client:  client,
		ttl:     ttl,
		updates: make(chan update, defaultBuffer),
		online:  make(map[domain.UserID]app.ActiveUser),
	}
}

func (p *RedisPresence) Online(au app.ActiveUser) {
	p.enqueue(update{online: true, user: au, uid: au.UserID})
}

func (p *RedisPresence) Offline(uid domain.UserID) {
	p.enqueue(update{uid: uid})
}

func (p *RedisPresence) enqueue(u update) {
	select {
	case p.updates <- u:
	default:
		log.Warn().Str("module", "store.redis").Str("user", string(u.uid)).Msg("presence queue full, update dropped")
	}
}

// Run writes queued updates until ctx is done. Keys of online users are
// refreshed every half TTL so they only expire if the relay dies.
func (p *RedisPresence) Run(ctx context.Context) {
	if err := p.reset(ctx); err != nil {
		log.Error().Err(err).Str("module", "store.redis").Msg("reset presence")
	}
	ticker := time.NewTicker(p.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "store.redis").Msg("presence writer stopped")
			return
		case u := <-p.updates:
			if err := p.apply(ctx, u); err != nil {
				log.Error().Err(err).Str("module", "store.redis").Str("user", string(u.uid)).Msg("presence write")
			}
		case <-ticker.C:
			if err := p.refresh(ctx); err != nil {
				log.Error().Err(err).Str("module", "store.redis").Msg("presence refresh")
			}
		}
	}
}

// reset drops the online set left by a previous process.
func (p *RedisPresence) reset(ctx context.Context) error {
	return p.client.Del(ctx, onlineKey).Err()
}

type presenceEvent struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username,omitempty"`
	Status   domain.Status `json:"status"`
}

func (p *RedisPresence) apply(ctx context.Context, u update) error {
	key := userKey(u.uid)
	ev := presenceEvent{UserID: u.uid, Status: domain.StatusOffline}

	pipe := p.client.TxPipeline()
	if u.online {
		pipe.HSet(ctx, key, map[string]any{
			"connectionId": string(u.user.ConnID),
			"username":     u.user.Username,
			"status":       string(u.user.Status),
			"since":        u.user.Since.Unix(),
		})
		pipe.Expire(ctx, key, p.ttl)
		pipe.SAdd(ctx, onlineKey, string(u.uid))
		p.online[u.uid] = u.user
		ev.Username = u.user.Username
		ev.Status = u.user.Status
	} else {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, onlineKey, string(u.uid))
		delete(p.online, u.uid)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pipe.Publish(ctx, presenceChannel, b)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence %s: %w", u.uid, err)
	}
	return nil
}

func (p *RedisPresence) refresh(ctx context.Context) error {
	if len(p.online) == 0 {
		return nil
	}
	pipe := p.client.Pipeline()
	for uid := range p.online {
		pipe.Expire(ctx, userKey(uid), p.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
