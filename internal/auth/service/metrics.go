package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "marketplace/backend/internal/auth/service"

// Refresh outcomes recorded on auth.session.refreshes.
const (
	outcomeOK            = "ok"
	outcomeMalformed     = "malformed"
	outcomeExpired       = "expired"
	outcomeNoToken       = "no_token"
	outcomeInvalidated   = "invalidated"
	outcomeSessionClosed = "session_closed"
	outcomeRateLimited   = "rate_limited"
	outcomeIneligible    = "ineligible"
	outcomeError         = "error"
)

type metrics struct {
	logins    metric.Int64Counter
	refreshes metric.Int64Counter
	logouts   metric.Int64Counter
}

// newMetrics registers the manager's counters on the global meter provider. Registration failures fall
// back to no-op instruments.
func newMetrics() *metrics {
	meter := otel.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}
	return &metrics{
		logins:    counter("auth.session.logins", "Sessions created by login."),
		refreshes: counter("auth.session.refreshes", "Refresh attempts by outcome."),
		logouts:   counter("auth.session.logouts", "Logout operations by scope."),
	}
}

func (m *metrics) login(ctx context.Context, outcome string) {
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) refresh(ctx context.Context, outcome string) {
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) logout(ctx context.Context, scope string) {
	m.logouts.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}

// startSpan opens a span on the global tracer provider. Callers end it.
func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}
