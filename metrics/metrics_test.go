package metrics_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-autorespond/autorespond"
	cbus "github.com/next-trace/scg-autorespond/contract/bus"
	"github.com/next-trace/scg-autorespond/metrics"
)

type ping struct{ Fail bool }

type pong struct{}

var errPing = errors.New("ping failed")

type pinger struct{}

func (*pinger) Handle(_ context.Context, req ping) (pong, error) {
	if req.Fail {
		return pong{}, errPing
	}

	return pong{}, nil
}

type asyncPinger struct{}

func (*asyncPinger) HandleAsync(_ context.Context, req ping) *cbus.Future[pong] {
	if req.Fail {
		return cbus.Failed[pong](errPing)
	}

	return cbus.Completed(pong{})
}

type panicky struct{}

func (*panicky) Handle(context.Context, ping) (pong, error) { panic("boom") }

type asyncPanicky struct{}

func (*asyncPanicky) HandleAsync(context.Context, ping) *cbus.Future[pong] { panic("boom") }

func binding(t *testing.T, sample any, shape autorespond.Shape) autorespond.Binding {
	t.Helper()

	bs, err := autorespond.Discover(autorespond.TypesOf(sample), shape)
	require.NoError(t, err)
	require.Len(t, bs, 1)

	return bs[0]
}

type recordingSink struct {
	got cbus.DispatchFunc
}

func (s *recordingSink) Respond(_, _ reflect.Type, dispatch cbus.DispatchFunc, _ cbus.Configurator) error {
	s.got = dispatch
	return nil
}

func TestDispatcher_Sync(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := metrics.NewDispatcher(reg, nil)
	fn := d.Dispatch(binding(t, &pinger{}, autorespond.Sync))

	_, err := fn(context.Background(), ping{})
	require.NoError(t, err)

	_, err = fn(context.Background(), ping{Fail: true})
	require.ErrorIs(t, err, errPing)

	lv := map[string]string{"handler": "*metrics_test.pinger.Handle", "request": "metrics_test.ping", "shape": "sync"}

	assert.InDelta(t, 2, value(t, reg, "autorespond_dispatched_total", lv), 0)
	assert.InDelta(t, 1, value(t, reg, "autorespond_failures_total", lv), 0)
	assert.InDelta(t, 0, value(t, reg, "autorespond_inflight", lv), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "autorespond_dispatch_duration_seconds"))
}

func TestDispatcher_AsyncMeasuresUntilSettled(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := metrics.NewDispatcher(reg, autorespond.NewDispatcher(nil))
	fn := d.DispatchAsync(binding(t, &asyncPinger{}, autorespond.Async))

	_, err := fn(context.Background(), ping{}).Result()
	require.NoError(t, err)

	_, err = fn(context.Background(), ping{Fail: true}).Result()
	require.ErrorIs(t, err, errPing)

	lv := map[string]string{"handler": "*metrics_test.asyncPinger.HandleAsync", "request": "metrics_test.ping", "shape": "async"}

	assert.InDelta(t, 2, value(t, reg, "autorespond_dispatched_total", lv), 0)
	assert.InDelta(t, 1, value(t, reg, "autorespond_failures_total", lv), 0)
	assert.InDelta(t, 0, value(t, reg, "autorespond_inflight", lv), 0)
}

func TestDispatcher_PanicCountsAsFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := metrics.NewDispatcher(reg, nil)

	fn := d.Dispatch(binding(t, &panicky{}, autorespond.Sync))
	assert.PanicsWithValue(t, "boom", func() { _, _ = fn(context.Background(), ping{}) })

	lv := map[string]string{"handler": "*metrics_test.panicky.Handle", "request": "metrics_test.ping", "shape": "sync"}

	assert.InDelta(t, 1, value(t, reg, "autorespond_dispatched_total", lv), 0)
	assert.InDelta(t, 1, value(t, reg, "autorespond_failures_total", lv), 0)
	assert.InDelta(t, 0, value(t, reg, "autorespond_inflight", lv), 0)

	afn := d.DispatchAsync(binding(t, &asyncPanicky{}, autorespond.Async))
	assert.PanicsWithValue(t, "boom", func() { afn(context.Background(), ping{}) })

	lv = map[string]string{"handler": "*metrics_test.asyncPanicky.HandleAsync", "request": "metrics_test.ping", "shape": "async"}

	assert.InDelta(t, 1, value(t, reg, "autorespond_failures_total", lv), 0)
	assert.InDelta(t, 0, value(t, reg, "autorespond_inflight", lv), 0)
}

func TestDispatcher_WiresIntoAutoResponder(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := &recordingSink{}

	ar, err := autorespond.New(sink, autorespond.WithDispatcher(metrics.NewDispatcher(reg, nil)))
	require.NoError(t, err)
	require.NoError(t, ar.Respond(autorespond.TypeOf[*pinger]()))
	require.NotNil(t, sink.got)

	_, err = sink.got(context.Background(), ping{})
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "autorespond_dispatched_total"))
}

func TestNewDispatcher_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewDispatcher(reg, nil)

	assert.Panics(t, func() { metrics.NewDispatcher(reg, nil) })
}

func value(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}

		for _, m := range mf.GetMetric() {
			if !matches(m.GetLabel(), labels) {
				continue
			}

			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}

	t.Fatalf("no %s sample for %v", name, labels)

	return 0
}

func matches(pairs []*dto.LabelPair, labels map[string]string) bool {
	if len(pairs) != len(labels) {
		return false
	}

	for _, p := range pairs {
		if labels[p.GetName()] != p.GetValue() {
			return false
		}
	}

	return true
}
