// Package observe provides application-wide observability primitives for
// callcoach: OpenTelemetry metrics, tracing, trace-aware structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all callcoach metrics.
const meterName = "github.com/MrWong99/callcoach"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks one full turn cycle, from recognised utterance to
	// "ready to listen".
	TurnDuration metric.Float64Histogram

	// LLMDuration tracks text-generation latency including retries.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech-synthesis latency including retries.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Attributes:
	//   provider, kind, status
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures. Attributes: provider, kind
	ProviderErrors metric.Int64Counter

	// QuotaSpend accumulates the debited cost per service. Attribute: service
	QuotaSpend metric.Float64Counter

	// QuotaRejections counts calls skipped because the budget was exhausted.
	// Attribute: service
	QuotaRejections metric.Int64Counter

	// FallbackReplies counts partner turns answered with canned text.
	// Attribute: reason
	FallbackReplies metric.Int64Counter

	// Disruptions counts injected disruption events. Attribute: type
	Disruptions metric.Int64Counter

	// BargeIns counts user interruptions of partner speech.
	BargeIns metric.Int64Counter

	// CallerTransitions counts stress-mode caller changes.
	CallerTransitions metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	//   breaker, to
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live training sessions.
	ActiveSessions metric.Int64UpDownCounter

	// Stamina records every stamina update of stress-mode sessions.
	Stamina metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   method, route, status
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// conversational turn latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

var staminaBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	hist := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}
	if met.TurnDuration, err = hist("callcoach.turn.duration", "Latency of one full turn cycle."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = hist("callcoach.llm.duration", "Latency of text generation."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = hist("callcoach.tts.duration", "Latency of speech synthesis."); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "callcoach.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "callcoach.provider.errors", "Total provider errors by provider and kind."},
		{&met.QuotaRejections, "callcoach.quota.rejections", "Paid calls skipped because the daily budget was exhausted."},
		{&met.FallbackReplies, "callcoach.partner.fallbacks", "Partner turns answered with canned text."},
		{&met.Disruptions, "callcoach.disruptions", "Injected disruption events by type."},
		{&met.BargeIns, "callcoach.barge_ins", "User interruptions of partner speech."},
		{&met.CallerTransitions, "callcoach.caller.transitions", "Stress-mode caller transitions."},
		{&met.BreakerTransitions, "callcoach.breaker.transitions", "Circuit breaker state changes."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.QuotaSpend, err = m.Float64Counter("callcoach.quota.spend",
		metric.WithDescription("Cost debited from the daily quota ledger by service."),
		metric.WithUnit("USD"),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("callcoach.active_sessions",
		metric.WithDescription("Number of live training sessions."),
	); err != nil {
		return nil, err
	}
	if met.Stamina, err = m.Float64Histogram("callcoach.stamina",
		metric.WithDescription("Stamina after each completed stress-mode exchange."),
		metric.WithExplicitBucketBoundaries(staminaBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("callcoach.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route pattern and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one provider request.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordQuotaSpend adds cost to the spend counter of service.
func (m *Metrics) RecordQuotaSpend(ctx context.Context, service string, cost float64) {
	m.QuotaSpend.Add(ctx, cost, metric.WithAttributes(attribute.String("service", service)))
}

// RecordQuotaRejection records a call skipped for lack of budget.
func (m *Metrics) RecordQuotaRejection(ctx context.Context, service string) {
	m.QuotaRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

// RecordFallback records a canned partner reply.
func (m *Metrics) RecordFallback(ctx context.Context, reason string) {
	m.FallbackReplies.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordDisruption records one injected disruption.
func (m *Metrics) RecordDisruption(ctx context.Context, kind string) {
	m.Disruptions.Add(ctx, 1, metric.WithAttributes(attribute.String("type", kind)))
}

// RecordBreakerTransition records a circuit breaker entering state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}
