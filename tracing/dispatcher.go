package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/next-trace/scg-autorespond/autorespond"
	cbus "github.com/next-trace/scg-autorespond/contract/bus"
)

const instrumentation = "github.com/next-trace/scg-autorespond"

// Dispatcher decorates another autorespond.Dispatcher with one server span per request.
// Async spans end when the handler's future settles.
type Dispatcher struct {
	next   autorespond.Dispatcher
	tracer trace.Tracer
}

var _ autorespond.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher wraps next. A nil next wraps a DefaultDispatcher over DefaultResolver;
// a nil tp uses the global tracer provider.
func NewDispatcher(tp trace.TracerProvider, next autorespond.Dispatcher) *Dispatcher {
	if next == nil {
		next = autorespond.NewDispatcher(nil)
	}

	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Dispatcher{next: next, tracer: tp.Tracer(instrumentation)}
}

func (d *Dispatcher) start(ctx context.Context, b autorespond.Binding) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, "respond "+b.RequestType.String(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("autorespond.handler", b.ConcreteType.String()),
			attribute.String("autorespond.method", b.Method),
			attribute.String("autorespond.shape", b.Shape.String()),
		),
	)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

// finishOnPanic ends span with an error status for a recovered panic and re-panics.
// It must be deferred directly.
func finishOnPanic(span trace.Span) {
	if p := recover(); p != nil {
		finish(span, fmt.Errorf("panic: %v", p))
		panic(p)
	}
}

// Dispatch implements autorespond.Dispatcher.
func (d *Dispatcher) Dispatch(b autorespond.Binding) cbus.DispatchFunc {
	next := d.next.Dispatch(b)

	return func(ctx context.Context, req any) (res any, err error) {
		ctx, span := d.start(ctx, b)
		defer func() {
			if p := recover(); p != nil {
				finish(span, fmt.Errorf("panic: %v", p))
				panic(p)
			}

			finish(span, err)
		}()

		return next(ctx, req)
	}
}

// DispatchAsync implements autorespond.Dispatcher.
func (d *Dispatcher) DispatchAsync(b autorespond.Binding) cbus.AsyncDispatchFunc {
	next := d.next.DispatchAsync(b)

	return func(ctx context.Context, req any) *cbus.Future[any] {
		ctx, span := d.start(ctx, b)

		f := func() *cbus.Future[any] {
			defer finishOnPanic(span)
			return next(ctx, req)
		}()
		if f == nil {
			f = cbus.Erase[any](nil)
		}

		out, settle := cbus.NewFuture[any]()

		go func() {
			v, err := f.Result()
			finish(span, err)
			settle(v, err)
		}()

		return out
	}
}
