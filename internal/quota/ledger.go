// Package quota keeps the daily budget of paid external-service calls.
//
// A [Ledger] holds the running cost of the current day. Before each paid call
// the [Gate] asks the ledger whether a per-operation estimate still fits the
// budget; after a successful call the ledger is debited with the cost the
// provider actually reported. Exhausted budgets are soft failures: the Gate
// returns [ErrQuotaExceeded] and callers substitute canned output.
//
// Two ledgers are provided: [MemoryLedger] for single-process use and tests,
// and [RedisLedger] which shares the day's spend between processes.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrQuotaExceeded is returned by [Gate.Call] when the estimate does not fit
// the remaining budget. It is never surfaced from a turn cycle.
var ErrQuotaExceeded = errors.New("quota: daily budget exceeded")

// Service names a paid collaborator in the ledger.
type Service string

const (
	ServiceLLM Service = "llm"
	ServiceTTS Service = "tts"
)

// Ledger is the quota ledger collaborator.
//
// Implementations must be safe for concurrent use.
type Ledger interface {
	// CanAfford reports whether spending estimate today stays within budget.
	CanAfford(ctx context.Context, estimate float64) (bool, error)

	// RecordUsage debits the actual cost of a completed call.
	RecordUsage(ctx context.Context, service Service, cost float64) error

	// Spent returns the total debited today.
	Spent(ctx context.Context) (float64, error)
}

// dayKey identifies the budget window containing t. Windows follow the
// calendar day of t's location.
func dayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

// nextMidnight returns the start of the day after t in t's location.
func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// MemoryLedger is an in-process [Ledger] that resets at local midnight.
type MemoryLedger struct {
	budget float64
	now    func() time.Time

	mu        sync.Mutex
	day       string
	total     float64
	byService map[Service]float64
}

// MemoryOption configures a [MemoryLedger].
type MemoryOption func(*MemoryLedger)

// WithClock overrides the time source used to detect day changes.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLedger) {
		l.now = now
	}
}

// NewMemoryLedger returns a ledger with the given daily budget. A
// non-positive budget disables the limit.
func NewMemoryLedger(budget float64, opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		budget:    budget,
		now:       time.Now,
		byService: make(map[Service]float64),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *MemoryLedger) rollLocked() {
	if d := dayKey(l.now()); d != l.day {
		l.day = d
		l.total = 0
		clear(l.byService)
	}
}

// CanAfford implements [Ledger].
func (l *MemoryLedger) CanAfford(_ context.Context, estimate float64) (bool, error) {
	if l.budget <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return l.total+estimate <= l.budget, nil
}

// RecordUsage implements [Ledger].
func (l *MemoryLedger) RecordUsage(_ context.Context, service Service, cost float64) error {
	if cost < 0 {
		return fmt.Errorf("quota: negative cost %v for %s", cost, service)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	l.total += cost
	l.byService[service] += cost
	return nil
}

// Spent implements [Ledger].
func (l *MemoryLedger) Spent(context.Context) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return l.total, nil
}

// SpentBy returns today's spend of one service.
func (l *MemoryLedger) SpentBy(service Service) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollLocked()
	return l.byService[service]
}

var _ Ledger = (*MemoryLedger)(nil)
