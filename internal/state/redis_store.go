package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"monitoring/internal/config"

	"github.com/go-redis/redis/v8"
)

// RedisStore persists monitoring state in redis using native primitives.
// Params: go-redis client plus a ping watcher that derives reconnect notifications.
// Returns: redis-backed state store implementation.
type RedisStore struct {
	client    *redis.Client
	settings  config.RedisConfig
	connected atomic.Bool

	hooksMu sync.RWMutex
	hooks   Hooks

	stop    context.CancelFunc
	watchWG sync.WaitGroup
}

// NewRedisStore connects to redis and starts connectivity watching.
// Params: redis settings from config.
// Returns: initialized store or connect error.
func NewRedisStore(settings config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        settings.Addr,
		Password:    settings.Password,
		DB:          settings.DB,
		PoolSize:    settings.PoolSize,
		DialTimeout: time.Duration(settings.DialTimeoutMS) * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	watchCtx, stop := context.WithCancel(context.Background())
	store := &RedisStore{client: client, settings: settings, stop: stop}
	store.connected.Store(true)
	store.watchWG.Add(1)
	go store.watch(watchCtx)
	return store, nil
}

// watch pings redis and reports connection transitions through hooks.
// Params: context cancelled on Close.
// Returns: when context is cancelled.
func (s *RedisStore) watch(ctx context.Context) {
	defer s.watchWG.Done()
	interval := time.Duration(s.settings.PingIntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		err := s.client.Ping(pingCtx).Err()
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			if s.connected.CompareAndSwap(true, false) {
				s.currentHooks().fireBeforeReconnect()
			}
			if s.settings.MaxPingFailures > 0 && failures == s.settings.MaxPingFailures {
				s.currentHooks().fireError(fmt.Errorf("redis unreachable after %d pings: %w", failures, err))
			}
			continue
		}
		failures = 0
		if s.connected.CompareAndSwap(false, true) {
			s.currentHooks().fireAfterReconnect()
		}
	}
}

func (s *RedisStore) currentHooks() Hooks {
	s.hooksMu.RLock()
	defer s.hooksMu.RUnlock()
	return s.hooks
}

// Get returns string value.
// Params: key.
// Returns: value or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	return value, mapRedisErr("get", err)
}

// Set writes string value unconditionally.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return mapRedisErr("set", s.client.Set(ctx, key, value, 0).Err())
}

// SetNX writes string value only when key is absent.
// Params: key and value.
// Returns: true when the key was created.
func (s *RedisStore) SetNX(ctx context.Context, key, value string) (bool, error) {
	created, err := s.client.SetNX(ctx, key, value, 0).Result()
	return created, mapRedisErr("setnx", err)
}

// GetSet swaps string value atomically.
// Params: key and new value.
// Returns: previous value or ErrNotFound when key was absent.
func (s *RedisStore) GetSet(ctx context.Context, key, value string) (string, error) {
	previous, err := s.client.GetSet(ctx, key, value).Result()
	return previous, mapRedisErr("getset", err)
}

// Del removes keys.
func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return mapRedisErr("del", s.client.Del(ctx, keys...).Err())
}

// SAdd adds set members.
func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	return mapRedisErr("sadd", s.client.SAdd(ctx, key, toInterfaces(members)...).Err())
}

// SRem removes set members.
func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	return mapRedisErr("srem", s.client.SRem(ctx, key, toInterfaces(members)...).Err())
}

// SMembers lists set members.
func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	return members, mapRedisErr("smembers", err)
}

// HSet writes hash field.
func (s *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	return mapRedisErr("hset", s.client.HSet(ctx, key, field, value).Err())
}

// HSetNX writes hash field only when absent.
func (s *RedisStore) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	created, err := s.client.HSetNX(ctx, key, field, value).Result()
	return created, mapRedisErr("hsetnx", err)
}

// HGet reads hash field.
// Params: hash key and field.
// Returns: value or ErrNotFound.
func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, error) {
	value, err := s.client.HGet(ctx, key, field).Result()
	return value, mapRedisErr("hget", err)
}

// HGetAll reads all hash fields.
func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	return fields, mapRedisErr("hgetall", err)
}

// HDel removes hash fields.
func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	return mapRedisErr("hdel", s.client.HDel(ctx, key, fields...).Err())
}

// HIncrBy increments integer hash field.
func (s *RedisStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	value, err := s.client.HIncrBy(ctx, key, field, delta).Result()
	return value, mapRedisErr("hincrby", err)
}

// RPush appends list values.
func (s *RedisStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	length, err := s.client.RPush(ctx, key, toInterfaces(values)...).Result()
	return length, mapRedisErr("rpush", err)
}

// LRange reads list slice.
func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	values, err := s.client.LRange(ctx, key, start, stop).Result()
	return values, mapRedisErr("lrange", err)
}

// LTrim keeps list slice.
func (s *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return mapRedisErr("ltrim", s.client.LTrim(ctx, key, start, stop).Err())
}

// Connected reports the last observed connectivity.
func (s *RedisStore) Connected() bool {
	return s.connected.Load()
}

// SetHooks installs lifecycle hooks.
func (s *RedisStore) SetHooks(hooks Hooks) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = hooks
}

// Close stops the watcher and closes the client.
// Params: none.
// Returns: client close error.
func (s *RedisStore) Close() error {
	s.stop()
	s.watchWG.Wait()
	s.connected.Store(false)
	return s.client.Close()
}

// mapRedisErr converts go-redis errors into store errors.
// Params: operation name and raw error.
// Returns: ErrNotFound, ErrWrongType, wrapped error, or nil.
func mapRedisErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrNotFound
	case strings.HasPrefix(err.Error(), "WRONGTYPE"):
		return ErrWrongType
	default:
		return fmt.Errorf("redis %s: %w", op, err)
	}
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, value := range values {
		out[i] = value
	}
	return out
}
