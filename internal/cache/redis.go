package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/asheshgoplani/snipdeck/internal/logging"
)

const (
	DefaultRedisKeyPrefix = "snipdeck:render:"
	DefaultRedisTTL       = time.Hour

	// clearBatch is both the SCAN count hint and the DEL batch size.
	clearBatch = 200
)

// RedisConfig configures the shared tier.
type RedisConfig struct {
	// URL is a redis:// or rediss:// connection URL.
	URL       string
	KeyPrefix string
	TTL       time.Duration
}

// RedisStore shares rendered markup between processes. Keys are those
// produced by Key, stored under a prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}
	return newRedisStore(client, cfg), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, cfg RedisConfig) *RedisStore {
	return newRedisStore(client, cfg)
}

func newRedisStore(client *redis.Client, cfg RedisConfig) *RedisStore {
	s := &RedisStore{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL}
	if s.prefix == "" {
		s.prefix = DefaultRedisKeyPrefix
	}
	if s.ttl <= 0 {
		s.ttl = DefaultRedisTTL
	}
	logging.ForComponent(logging.CompCache).Info("redis_tier_connected",
		slog.String("addr", client.Options().Addr),
		slog.String("prefix", s.prefix),
		slog.Duration("ttl", s.ttl))
	return s
}

// Get returns the markup stored under key. A missing key is not an error.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: redis get: %w", err)
	}
	return v, true, nil
}

// Set stores markup under key with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, key, markup string) error {
	if err := s.client.Set(ctx, s.prefix+key, markup, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// Clear deletes every key under the store's prefix, one DEL per batch of
// scanned keys. Keys removed before an error are included in the count.
func (s *RedisStore) Clear(ctx context.Context) (int, error) {
	deleted := 0
	batch := make([]string, 0, clearBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("cache: redis del: %w", err)
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	iter := s.client.Scan(ctx, 0, s.prefix+"*", clearBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == clearBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("cache: redis scan: %w", err)
	}
	return deleted, flush()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
