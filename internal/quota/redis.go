package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "callcoach:quota:"

// RedisClient is the subset of the go-redis API used by [RedisLedger].
// *redis.Client, *redis.ClusterClient and redis.UniversalClient satisfy it.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	IncrByFloat(ctx context.Context, key string, value float64) *redis.FloatCmd
	ExpireAt(ctx context.Context, key string, tm time.Time) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisLedger is a [Ledger] shared between processes. Each day's spend lives
// in its own keys, which expire at the following midnight.
type RedisLedger struct {
	client RedisClient
	budget float64
	prefix string
	now    func() time.Time
}

// RedisOption configures a [RedisLedger].
type RedisOption func(*RedisLedger)

// WithKeyPrefix overrides the key prefix. Default: "callcoach:quota:".
func WithKeyPrefix(p string) RedisOption {
	return func(l *RedisLedger) {
		l.prefix = p
	}
}

// WithRedisClock overrides the time source used to pick the day's keys.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(l *RedisLedger) {
		l.now = now
	}
}

// NewRedisLedger returns a ledger backed by client. A non-positive budget
// disables the limit.
func NewRedisLedger(client RedisClient, budget float64, opts ...RedisOption) *RedisLedger {
	l := &RedisLedger{
		client: client,
		budget: budget,
		prefix: defaultKeyPrefix,
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("quota: redis ping %s: %w", addr, err)
	}
	return c, nil
}

func (l *RedisLedger) totalKey(t time.Time) string {
	return l.prefix + dayKey(t) + ":total"
}

func (l *RedisLedger) serviceKey(t time.Time, s Service) string {
	return l.prefix + dayKey(t) + ":" + string(s)
}

// CanAfford implements [Ledger].
func (l *RedisLedger) CanAfford(ctx context.Context, estimate float64) (bool, error) {
	if l.budget <= 0 {
		return true, nil
	}
	spent, err := l.Spent(ctx)
	if err != nil {
		return false, err
	}
	return spent+estimate <= l.budget, nil
}

// RecordUsage implements [Ledger].
func (l *RedisLedger) RecordUsage(ctx context.Context, service Service, cost float64) error {
	if cost < 0 {
		return fmt.Errorf("quota: negative cost %v for %s", cost, service)
	}
	now := l.now()
	expiry := nextMidnight(now)
	for _, key := range []string{l.totalKey(now), l.serviceKey(now, service)} {
		if err := l.client.IncrByFloat(ctx, key, cost).Err(); err != nil {
			return fmt.Errorf("quota: redis incr %s: %w", key, err)
		}
		if err := l.client.ExpireAt(ctx, key, expiry).Err(); err != nil {
			return fmt.Errorf("quota: redis expire %s: %w", key, err)
		}
	}
	return nil
}

// Spent implements [Ledger].
func (l *RedisLedger) Spent(ctx context.Context) (float64, error) {
	key := l.totalKey(l.now())
	val, err := l.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota: redis get %s: %w", key, err)
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("quota: corrupt spend %q at %s: %w", val, key, err)
	}
	return f, nil
}

// Ping reports whether Redis is reachable.
func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

var _ Ledger = (*RedisLedger)(nil)
