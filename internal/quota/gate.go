package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/internal/resilience"
)

// Gate wraps a paid call in an affordability check, a retry policy and a
// debit of the actual cost.
type Gate struct {
	ledger  Ledger
	retry   resilience.RetryPolicy
	metrics *observe.Metrics
	log     *slog.Logger
}

// GateOption configures a [Gate].
type GateOption func(*Gate)

// WithMetrics records spend and rejections on m.
func WithMetrics(m *observe.Metrics) GateOption {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		g.log = l
	}
}

// NewGate returns a Gate debiting ledger and retrying with policy.
func NewGate(ledger Ledger, policy resilience.RetryPolicy, opts ...GateOption) *Gate {
	g := &Gate{ledger: ledger, retry: policy, log: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Ledger returns the underlying ledger.
func (g *Gate) Ledger() Ledger { return g.ledger }

// Call runs fn if estimate fits today's budget. fn reports the actual cost of
// a successful attempt; transient failures are retried per the Gate's policy.
//
// Call returns an error wrapping [ErrQuotaExceeded] when the budget is
// exhausted or the ledger cannot be read, and fn's last error when every
// attempt failed. In both cases fn's side effects must be ignored and the
// caller should fall back. A failed debit after a successful call is logged
// only.
func (g *Gate) Call(ctx context.Context, service Service, estimate float64, fn func(ctx context.Context) (float64, error)) error {
	ok, err := g.ledger.CanAfford(ctx, estimate)
	if err != nil {
		g.log.Warn("quota ledger unavailable, skipping paid call", "service", service, "err", err)
		g.reject(ctx, service)
		return fmt.Errorf("%w: ledger: %w", ErrQuotaExceeded, err)
	}
	if !ok {
		g.log.Info("daily budget exhausted", "service", service, "estimate", estimate)
		g.reject(ctx, service)
		return ErrQuotaExceeded
	}

	cost, err := resilience.Retry(ctx, g.retry, fn)
	if err != nil {
		return err
	}

	if err := g.ledger.RecordUsage(ctx, service, cost); err != nil {
		g.log.Warn("quota debit failed", "service", service, "cost", cost, "err", err)
		return nil
	}
	if g.metrics != nil {
		g.metrics.RecordQuotaSpend(ctx, string(service), cost)
	}
	return nil
}

func (g *Gate) reject(ctx context.Context, service Service) {
	if g.metrics != nil {
		g.metrics.RecordQuotaRejection(ctx, string(service))
	}
}

// IsExceeded reports whether err is a quota rejection.
func IsExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}
