package kv

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vstore/vstore/common/config"
	"github.com/vstore/vstore/common/logger"
)

// RedisStore implements Store on top of a redis client.
type RedisStore struct {
	redis *redis.Client
	log   *logger.Logger
}

// NewRedisStore creates a Store backed by the configured redis instance.
func NewRedisStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info("redis connected", "addr", cfg.Redis.Addr)
	return &RedisStore{redis: client, log: log}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		s.log.Error("redis GET failed", "key", key, "error", err)
		return "", fmt.Errorf("get key %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.redis.Set(ctx, key, value, 0).Err(); err != nil {
		s.log.Error("redis SET failed", "key", key, "error", err)
		return fmt.Errorf("set key %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string) (bool, error) {
	ok, err := s.redis.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		s.log.Error("redis SETNX failed", "key", key, "error", err)
		return false, fmt.Errorf("setnx key %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		s.log.Error("redis DEL failed", "key", key, "error", err)
		return fmt.Errorf("delete key %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.redis.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan keys %s*: %w", prefix, err)
	}
	return keys, nil
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}
