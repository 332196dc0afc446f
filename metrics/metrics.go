// Package metrics instruments responder dispatch with Prometheus collectors.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/next-trace/scg-autorespond/autorespond"
	cbus "github.com/next-trace/scg-autorespond/contract/bus"
)

const namespace = "autorespond"

var labels = []string{"handler", "request", "shape"}

// Dispatcher decorates another autorespond.Dispatcher and records, per binding, how many
// requests were dispatched, how many failed, how long they took and how many are in flight.
// Async requests are measured until their future settles.
type Dispatcher struct {
	next autorespond.Dispatcher

	dispatched *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inflight   *prometheus.GaugeVec
}

var _ autorespond.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher registers the dispatch collectors with reg and wraps next.
// A nil next wraps a DefaultDispatcher over DefaultResolver; a nil reg uses the default registerer.
func NewDispatcher(reg prometheus.Registerer, next autorespond.Dispatcher) *Dispatcher {
	if next == nil {
		next = autorespond.NewDispatcher(nil)
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	f := promauto.With(reg)

	return &Dispatcher{
		next: next,
		dispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatched_total",
			Help:      "Total number of requests dispatched to a responder",
		}, labels),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Total number of responder invocations that returned an error",
		}, labels),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Responder invocation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, labels),
		inflight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight",
			Help:      "Number of responder invocations in progress",
		}, labels),
	}
}

type observer struct {
	d     *Dispatcher
	lv    []string
	start time.Time
}

func (d *Dispatcher) begin(b autorespond.Binding) observer {
	lv := []string{b.ConcreteType.String() + "." + b.Method, b.RequestType.String(), b.Shape.String()}

	d.dispatched.WithLabelValues(lv...).Inc()
	d.inflight.WithLabelValues(lv...).Inc()

	return observer{d: d, lv: lv, start: time.Now()}
}

func (o observer) end(err error) {
	o.d.inflight.WithLabelValues(o.lv...).Dec()
	o.d.duration.WithLabelValues(o.lv...).Observe(time.Since(o.start).Seconds())

	if err != nil {
		o.d.failures.WithLabelValues(o.lv...).Inc()
	}
}

// endOnPanic records a recovered panic as a failure and re-panics. It must be deferred directly.
func (o observer) endOnPanic() {
	if p := recover(); p != nil {
		o.end(fmt.Errorf("panic: %v", p))
		panic(p)
	}
}

// Dispatch implements autorespond.Dispatcher.
func (d *Dispatcher) Dispatch(b autorespond.Binding) cbus.DispatchFunc {
	next := d.next.Dispatch(b)

	return func(ctx context.Context, req any) (res any, err error) {
		o := d.begin(b)
		defer func() {
			if p := recover(); p != nil {
				o.end(fmt.Errorf("panic: %v", p))
				panic(p)
			}

			o.end(err)
		}()

		return next(ctx, req)
	}
}

// DispatchAsync implements autorespond.Dispatcher.
func (d *Dispatcher) DispatchAsync(b autorespond.Binding) cbus.AsyncDispatchFunc {
	next := d.next.DispatchAsync(b)

	return func(ctx context.Context, req any) *cbus.Future[any] {
		o := d.begin(b)

		f := func() *cbus.Future[any] {
			defer o.endOnPanic()
			return next(ctx, req)
		}()
		if f == nil {
			f = cbus.Erase[any](nil)
		}

		out, settle := cbus.NewFuture[any]()

		go func() {
			v, err := f.Result()
			o.end(err)
			settle(v, err)
		}()

		return out
	}
}
