// Package backend wraps a pooled connection to a sorted-set-capable
// key-value store (Redis) behind a small interface the telemetry store and
// rate limiter depend on, so neither needs to import go-redis directly or
// reach for a live server in unit tests.
package backend

import (
	"context"
	"errors"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// ErrNotFound names the missing-key case. Get and Batch.Get do not return
// it: they report a missing key as (0, false, nil).
var ErrNotFound = errors.New("backend: key not found")

// Store is the contract the rule engine depends on: sorted-set range
// operations, integer counters with TTL, and a pipelined batch for
// multi-command round trips.
type Store interface {
	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)
	ZRangeAll(ctx context.Context, key string) ([]string, error)
	Get(ctx context.Context, key string) (int64, bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Batch() Batch
	Ping(ctx context.Context) error
	Close() error
}

// Batch is a pipelined round trip: every queued command runs in a single
// network exchange, and each command's outcome is retrieved independently
// through the accessor returned when it was queued — mirroring Redis's
// per-command error slots.
type Batch interface {
	ZAdd(key, member string, score float64)
	ZRangeByScore(key string, min, max float64) func() ([]string, error)
	ZRemRangeByScore(key string, min, max float64) func() (int64, error)
	ZRangeAll(key string) func() ([]string, error)
	Get(key string) func() (int64, bool, error)
	Incr(key string) func() (int64, error)
	Expire(key string, ttl time.Duration)
	Exec(ctx context.Context) error
}

// Config configures the pooled Redis client.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	IdleTimeout  time.Duration
}

type redisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// New constructs a pooled Store backed by Redis. Acquiring a client from the
// pool never blocks longer than IdleTimeout; connections that error are
// discarded by go-redis rather than returned to the pool.
func New(cfg Config, logger *slog.Logger) (Store, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		PoolTimeout:  cfg.IdleTimeout,
		ConnMaxIdleTime: cfg.IdleTimeout,
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &redisStore{client: client, logger: logger}, nil
}

func (s *redisStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *redisStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
}

func (s *redisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	return s.client.ZRemRangeByScore(ctx, key, formatScore(min), formatScore(max)).Result()
}

func (s *redisStore) ZRangeAll(ctx context.Context, key string) ([]string, error) {
	return s.client.ZRange(ctx, key, 0, -1).Result()
}

func (s *redisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	val, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

func (s *redisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) Batch() Batch {
	return &redisBatch{pipe: s.client.Pipeline()}
}

type redisBatch struct {
	pipe redis.Pipeliner
}

func (b *redisBatch) ZAdd(key, member string, score float64) {
	b.pipe.ZAdd(context.Background(), key, redis.Z{Score: score, Member: member})
}

func (b *redisBatch) ZRangeByScore(key string, min, max float64) func() ([]string, error) {
	cmd := b.pipe.ZRangeByScore(context.Background(), key, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	})
	return func() ([]string, error) { return cmd.Result() }
}

func (b *redisBatch) ZRemRangeByScore(key string, min, max float64) func() (int64, error) {
	cmd := b.pipe.ZRemRangeByScore(context.Background(), key, formatScore(min), formatScore(max))
	return func() (int64, error) { return cmd.Result() }
}

func (b *redisBatch) ZRangeAll(key string) func() ([]string, error) {
	cmd := b.pipe.ZRange(context.Background(), key, 0, -1)
	return func() ([]string, error) { return cmd.Result() }
}

func (b *redisBatch) Get(key string) func() (int64, bool, error) {
	cmd := b.pipe.Get(context.Background(), key)
	return func() (int64, bool, error) {
		val, err := cmd.Int64()
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		if err != nil {
			return 0, false, err
		}
		return val, true, nil
	}
}

func (b *redisBatch) Incr(key string) func() (int64, error) {
	cmd := b.pipe.Incr(context.Background(), key)
	return func() (int64, error) { return cmd.Result() }
}

func (b *redisBatch) Expire(key string, ttl time.Duration) {
	b.pipe.Expire(context.Background(), key, ttl)
}

func (b *redisBatch) Exec(ctx context.Context) error {
	_, err := b.pipe.Exec(ctx)
	if errors.Is(err, redis.Nil) {
		// Exec returns redis.Nil when any queued GET missed; individual
		// accessors still report their own per-command outcome correctly.
		return nil
	}
	return err
}

func formatScore(v float64) string {
	if v == negInf {
		return "-inf"
	}
	if v == posInf {
		return "+inf"
	}
	return formatFloat(v)
}
