// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ManuGH/timegate/internal/evaluator"
	xglog "github.com/ManuGH/timegate/internal/log"
	"github.com/ManuGH/timegate/internal/schedule"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	fieldMinutes = "minutes"
	fieldCount   = "count"

	// DefaultKeyTTL keeps a week of occurrences plus slack.
	DefaultKeyTTL = 8 * 24 * time.Hour
)

// RedisConfig holds connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	KeyTTL   time.Duration
}

// Redis stores per-occurrence counters in a hash with fields "minutes" and
// "count".
type Redis struct {
	client *redis.Client
	logger zerolog.Logger
	keyTTL time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	r := NewRedisFromClient(client, cfg.KeyTTL)
	r.logger.Info().
		Str(xglog.FieldEvent, "usage.redis_connected").
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to usage store")
	return r, nil
}

// NewRedisFromClient wraps an existing client. keyTTL <= 0 uses DefaultKeyTTL.
func NewRedisFromClient(client *redis.Client, keyTTL time.Duration) *Redis {
	if keyTTL <= 0 {
		keyTTL = DefaultKeyTTL
	}
	return &Redis{
		client: client,
		logger: xglog.WithComponent("usage"),
		keyTTL: keyTTL,
	}
}

func (r *Redis) Usage(ctx context.Context, subjectKey string, w schedule.Window, now time.Time) (evaluator.Usage, error) {
	vals, err := r.client.HMGet(ctx, Key(subjectKey, w, now), fieldMinutes, fieldCount).Result()
	if err != nil {
		return evaluator.Usage{}, fmt.Errorf("usage read: %w", err)
	}
	minutes, err := hashInt(vals[0])
	if err != nil {
		return evaluator.Usage{}, fmt.Errorf("usage read %s: %w", fieldMinutes, err)
	}
	count, err := hashInt(vals[1])
	if err != nil {
		return evaluator.Usage{}, fmt.Errorf("usage read %s: %w", fieldCount, err)
	}
	return evaluator.Usage{Minutes: minutes, Count: count}, nil
}

// Record adds minutes and count to the occurrence of w containing at and
// refreshes the key's expiry.
func (r *Redis) Record(ctx context.Context, subjectKey string, w schedule.Window, at time.Time, minutes, count int) error {
	if minutes < 0 || count < 0 {
		return errors.New("usage record: negative increment")
	}
	key := Key(subjectKey, w, at)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, key, fieldMinutes, int64(minutes))
		p.HIncrBy(ctx, key, fieldCount, int64(count))
		p.Expire(ctx, key, r.keyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("usage record: %w", err)
	}
	return nil
}

// Ping reports whether the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func hashInt(v any) (int, error) {
	switch s := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.Atoi(s)
	default:
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
}
