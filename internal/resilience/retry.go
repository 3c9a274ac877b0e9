package resilience

import (
	"context"
	"log/slog"
	"time"
)

// DefaultBackoff is the wait before each of the three retries.
var DefaultBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// RetryPolicy retries a call while its error is transient.
//
// The zero value is usable and means one attempt plus three retries with
// [DefaultBackoff] and [IsTransient] as the classifier.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Backoff holds the wait after attempt i (0-based). The last entry is
	// reused when there are more attempts than entries.
	Backoff []time.Duration

	// Retryable classifies errors. Default: IsTransient.
	Retryable func(error) bool

	// Sleep waits for d or until ctx is done. Tests replace it to avoid real
	// waits. Default: a timer-backed sleep.
	Sleep func(ctx context.Context, d time.Duration) error

	// Name labels log lines.
	Name string
}

// DefaultMaxAttempts is the first call plus one retry per [DefaultBackoff] step.
const DefaultMaxAttempts = 4

// DefaultRetryPolicy returns a policy that retries three times, after 1s, 2s
// and 4s.
func DefaultRetryPolicy(name string) RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Backoff: DefaultBackoff, Name: name}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if len(p.Backoff) == 0 {
		p.Backoff = DefaultBackoff
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

// Delay returns the wait after the given 0-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt >= len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[attempt]
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. The last error is returned unchanged.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Retry is the value-returning form of [RetryPolicy.Do].
func Retry[R any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (R, error)) (R, error) {
	p = p.withDefaults()
	var (
		result R
		err    error
	)
	for attempt := range p.MaxAttempts {
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt == p.MaxAttempts-1 || !p.Retryable(err) {
			break
		}
		delay := p.Delay(attempt)
		slog.Debug("retrying after transient failure",
			"call", p.Name, "attempt", attempt+1, "delay", delay, "err", err)
		if serr := p.Sleep(ctx, delay); serr != nil {
			return result, err
		}
	}
	return result, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
