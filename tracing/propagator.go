// Package tracing bridges responder dispatch and transport headers to OpenTelemetry.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	cbus "github.com/next-trace/scg-autorespond/contract/bus"
)

// Propagator is a bus.HeaderPropagator backed by an OpenTelemetry TextMapPropagator.
type Propagator struct {
	p propagation.TextMapPropagator
}

var _ cbus.HeaderPropagator = Propagator{}

// NewPropagator wraps p. A nil p uses W3C trace context and baggage.
func NewPropagator(p propagation.TextMapPropagator) Propagator {
	if p == nil {
		p = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	}

	return Propagator{p: p}
}

// GlobalPropagator follows whatever propagator is installed with otel.SetTextMapPropagator.
func GlobalPropagator() Propagator { return Propagator{p: otel.GetTextMapPropagator()} }

func (p Propagator) Inject(ctx context.Context, headers map[string]string) {
	if headers == nil {
		return
	}

	p.p.Inject(ctx, propagation.MapCarrier(headers))
}

func (p Propagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}

	return p.p.Extract(ctx, propagation.MapCarrier(headers))
}
