package quota

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis implements RedisClient over a map.
type fakeRedis struct {
	mu      sync.Mutex
	vals    map[string]float64
	expiry  map[string]time.Time
	getErr  error
	pingErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{vals: map[string]float64{}, expiry: map[string]time.Time{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.vals[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(strconv.FormatFloat(v, 'f', -1, 64), nil)
}

func (f *fakeRedis) IncrByFloat(_ context.Context, key string, value float64) *redis.FloatCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vals[key] += value
	return redis.NewFloatResult(f.vals[key], nil)
}

func (f *fakeRedis) ExpireAt(_ context.Context, key string, tm time.Time) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiry[key] = tm
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

func TestRedisLedger_RecordAndSpend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	fr := newFakeRedis()
	l := NewRedisLedger(fr, 1.0, WithRedisClock(func() time.Time { return now }))

	if spent, err := l.Spent(ctx); err != nil || spent != 0 {
		t.Fatalf("Spent on empty = %v, %v; want 0, nil", spent, err)
	}
	if err := l.RecordUsage(ctx, ServiceTTS, 0.4); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := l.RecordUsage(ctx, ServiceLLM, 0.5); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	spent, err := l.Spent(ctx)
	if err != nil {
		t.Fatalf("Spent: %v", err)
	}
	if spent < 0.899 || spent > 0.901 {
		t.Errorf("Spent = %v, want 0.9", spent)
	}
	if got := fr.vals["callcoach:quota:2026-07-01:tts"]; got != 0.4 {
		t.Errorf("tts key = %v, want 0.4", got)
	}
	wantExpiry := time.Date(2026, 7, 2, 0, 0, 0, 0, time.UTC)
	if got := fr.expiry["callcoach:quota:2026-07-01:total"]; !got.Equal(wantExpiry) {
		t.Errorf("expiry = %v, want %v", got, wantExpiry)
	}

	if ok, _ := l.CanAfford(ctx, 0.05); !ok {
		t.Error("0.9 + 0.05 should fit")
	}
	if ok, _ := l.CanAfford(ctx, 0.2); ok {
		t.Error("0.9 + 0.2 should not fit")
	}
}

func TestRedisLedger_GetError(t *testing.T) {
	fr := newFakeRedis()
	fr.getErr = errors.New("connection refused")
	l := NewRedisLedger(fr, 1.0)

	if _, err := l.CanAfford(context.Background(), 0.1); err == nil {
		t.Error("expected error when redis is down")
	}
}

func TestRedisLedger_Ping(t *testing.T) {
	fr := newFakeRedis()
	l := NewRedisLedger(fr, 1.0, WithKeyPrefix("test:"))
	if err := l.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	fr.pingErr = errors.New("down")
	if err := l.Ping(context.Background()); err == nil {
		t.Error("expected ping error")
	}
}
