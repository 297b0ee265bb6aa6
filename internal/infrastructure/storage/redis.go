package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ipede/uma-auth-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore implements domain.EntryStore on a redis instance. CasPut maps
// to SET NX, which redis executes atomically, giving the same exactly-once
// guarantee as the in-memory store across processes.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore connects to redis and verifies the connection
func NewRedisStore(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to connect to redis", zap.String("addr", addr), zap.Error(err))
		return nil, err
	}
	return &RedisStore{client: client, logger: logger}, nil
}

// Get returns the value for key, or domain.ErrEntryNotFound on a miss.
// Redis expires entries itself, so a TTL'd miss looks identical to an
// absent key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrEntryNotFound
		}
		s.logger.Error("Redis GET failed", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	return value, nil
}

// Put stores value under key with the given TTL; zero TTL means no expiry
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.logger.Error("Redis SET failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Delete removes key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Error("Redis DEL failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// CasPut stores value only if key is absent, via SET NX
func (s *RedisStore) CasPut(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	won, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		s.logger.Error("Redis SETNX failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return won, nil
}

// Close releases the redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
