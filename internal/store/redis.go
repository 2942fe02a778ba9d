// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const interimKeyPrefix = "interim:"

// opTimeout bounds every single Redis operation so a slow store surfaces
// as a per-message failure, not a stuck batch.
const opTimeout = 2 * time.Second

// RedisInterim is the Redis-backed InterimStore. TTLs are delegated to
// Redis key expiry.
type RedisInterim struct {
	client *redis.Client
	logger zerolog.Logger
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// NewRedisInterim connects to Redis and verifies the connection.
func NewRedisInterim(cfg RedisConfig, logger zerolog.Logger) (*RedisInterim, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to interim store")

	return &RedisInterim{client: client, logger: logger}, nil
}

// NewRedisInterimFromClient wraps an existing client; used by tests.
func NewRedisInterimFromClient(client *redis.Client, logger zerolog.Logger) *RedisInterim {
	return &RedisInterim{client: client, logger: logger}
}

// Upsert implements InterimStore. The TTL is derived from ExpiresAt, so
// a redelivered query simply refreshes its own window.
func (s *RedisInterim) Upsert(ctx context.Context, rec InterimRecord) error {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		// Already past its window; writing it would create an immortal or
		// instantly-dead key depending on the client. Treat as a no-op.
		s.logger.Debug().
			Str("correlation_id", rec.CorrelationID).
			Time("expires_at", rec.ExpiresAt).
			Msg("skipping interim upsert past its expiry")
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("interim marshal %s: %w", rec.CorrelationID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, interimKeyPrefix+rec.CorrelationID, data, ttl).Err(); err != nil {
		return fmt.Errorf("interim set %s: %w", rec.CorrelationID, err)
	}
	return nil
}

// Get implements InterimStore.
func (s *RedisInterim) Get(ctx context.Context, correlationID string) (InterimRecord, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, interimKeyPrefix+correlationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return InterimRecord{}, false, nil
	}
	if err != nil {
		return InterimRecord{}, false, fmt.Errorf("interim get %s: %w", correlationID, err)
	}

	var rec InterimRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return InterimRecord{}, false, fmt.Errorf("interim unmarshal %s: %w", correlationID, err)
	}
	return rec, true, nil
}

// Delete implements InterimStore.
func (s *RedisInterim) Delete(ctx context.Context, correlationID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, interimKeyPrefix+correlationID).Err(); err != nil {
		return fmt.Errorf("interim delete %s: %w", correlationID, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisInterim) Close() error {
	return s.client.Close()
}
