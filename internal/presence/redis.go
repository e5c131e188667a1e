package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/muurk/jsonwire/internal/config"
)

// Redis is a Store backed by Redis, shared by every server pointing at the
// same instance and key prefix.
//
// Layout:
//
//	<prefix>presence:conn            hash  conn id -> user
//	<prefix>presence:user:<user>     set   live conn ids
//
// A user is online while their set is non-empty. Connection ids are only unique
// per process, so servers sharing one Redis need distinct key prefixes, and
// NewRedis clears the keys a previous run under the same prefix left behind.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedis connects to Redis and verifies the connection with PING
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	r := NewRedisWithClient(client, cfg.KeyPrefix)
	if err := r.Reset(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return r, nil
}

// NewRedisWithClient wraps an existing client. Stale keys are kept; call Reset
// before first use when the prefix may hold a previous run's sessions.
func NewRedisWithClient(client redis.UniversalClient, keyPrefix string) *Redis {
	return &Redis{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Reset deletes every presence key under the prefix
func (r *Redis) Reset(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"presence:*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan stale presence keys: %w", err)
	}

	for len(keys) > 0 {
		batch := keys[:min(len(keys), 100)]
		keys = keys[len(batch):]
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to clear stale presence keys: %w", err)
		}
	}
	return nil
}

func (r *Redis) connKey() string {
	return r.keyPrefix + "presence:conn"
}

func (r *Redis) userKey(user string) string {
	return r.keyPrefix + "presence:user:" + user
}

// OnLogin implements Store
func (r *Redis) OnLogin(ctx context.Context, connID uint64, user string) error {
	if user == "" {
		return ErrEmptyUser
	}
	id := strconv.FormatUint(connID, 10)

	previous, err := r.client.HGet(ctx, r.connKey(), id).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to look up connection %d: %w", connID, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != "" && previous != user {
			pipe.SRem(ctx, r.userKey(previous), id)
		}
		pipe.HSet(ctx, r.connKey(), id, user)
		pipe.SAdd(ctx, r.userKey(user), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record login for connection %d: %w", connID, err)
	}
	return nil
}

// OnDisconnect implements Store
func (r *Redis) OnDisconnect(ctx context.Context, connID uint64) error {
	id := strconv.FormatUint(connID, 10)

	user, err := r.client.HGet(ctx, r.connKey(), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up connection %d: %w", connID, err)
	}

	// An emptied set is removed by Redis itself, which is the offline demotion
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, r.userKey(user), id)
		pipe.HDel(ctx, r.connKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record disconnect for connection %d: %w", connID, err)
	}
	return nil
}

// Online implements Store
func (r *Redis) Online(ctx context.Context, user string) (bool, error) {
	n, err := r.client.SCard(ctx, r.userKey(user)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read presence for %q: %w", user, err)
	}
	return n > 0, nil
}

// Close implements Store
func (r *Redis) Close() error {
	return r.client.Close()
}
