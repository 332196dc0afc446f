package autorespond_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-autorespond/autorespond"
	cbus "github.com/next-trace/scg-autorespond/contract/bus"
	berr "github.com/next-trace/scg-autorespond/contract/errors"
)

func TestDispatch_SyncReleasesScopeOnce(t *testing.T) {
	r := newCounting(autorespond.DefaultResolver())
	d := autorespond.NewDispatcher(r)
	fn := d.Dispatch(bindingFor(autorespond.TypesOf(&Echo{}), autorespond.Sync))

	res, err := fn(context.Background(), StringRequest{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, StringResponse{Text: "hi"}, res)

	assert.EqualValues(t, 1, r.created.Load())
	assert.EqualValues(t, 1, r.released.Load())
	assert.Zero(t, r.doubled.Load())
}

func TestDispatch_SyncErrorIsUnmodified(t *testing.T) {
	r := newCounting(autorespond.DefaultResolver())
	fn := autorespond.NewDispatcher(r).Dispatch(bindingFor(autorespond.TypesOf(&Failing{}), autorespond.Sync))

	_, err := fn(context.Background(), StringRequest{})
	assert.Same(t, errHandler, err)
	assert.EqualValues(t, 1, r.released.Load())
}

func TestDispatch_SyncPanicStillReleases(t *testing.T) {
	r := newCounting(autorespond.DefaultResolver())
	fn := autorespond.NewDispatcher(r).Dispatch(bindingFor(autorespond.TypesOf(&Panicking{}), autorespond.Sync))

	assert.PanicsWithValue(t, "boom", func() { _, _ = fn(context.Background(), StringRequest{}) })
	assert.EqualValues(t, 1, r.created.Load())
	assert.EqualValues(t, 1, r.released.Load())
}

func TestDispatch_WrongRequestType(t *testing.T) {
	fn := autorespond.NewDispatcher(nil).Dispatch(bindingFor(autorespond.TypesOf(&Echo{}), autorespond.Sync))

	_, err := fn(context.Background(), "not a request")
	assert.ErrorIs(t, err, berr.ErrHandlerTypeMismatch)

	res, err := fn(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StringResponse{}, res)
}

func TestDispatch_ResolverFailuresPropagate(t *testing.T) {
	boom := errors.New("no scope")
	d := autorespond.NewDispatcher(brokenResolver{err: boom})

	_, err := d.Dispatch(bindingFor(autorespond.TypesOf(&Echo{}), autorespond.Sync))(context.Background(), StringRequest{})
	assert.Same(t, boom, err)

	_, err = d.DispatchAsync(bindingFor(autorespond.TypesOf(&AsyncEcho{}), autorespond.Async))(context.Background(), StringRequest{}).Result()
	assert.Same(t, boom, err)
}

func TestDispatch_ResolveFailureReleasesScope(t *testing.T) {
	r := newCounting(autorespond.NewProviderResolver(nil))
	d := autorespond.NewDispatcher(r)

	_, err := d.Dispatch(bindingFor(autorespond.TypesOf(&Echo{}), autorespond.Sync))(context.Background(), StringRequest{})
	require.ErrorIs(t, err, berr.ErrResolveFailed)

	_, err = d.DispatchAsync(bindingFor(autorespond.TypesOf(&AsyncEcho{}), autorespond.Async))(context.Background(), StringRequest{}).Result()
	require.ErrorIs(t, err, berr.ErrResolveFailed)

	assert.EqualValues(t, 2, r.created.Load())
	assert.EqualValues(t, 2, r.released.Load())
}

func gatedResolver(gate <-chan struct{}, fail bool) *autorespond.ProviderResolver {
	p := autorespond.NewProviderResolver(nil)
	autorespond.Provide(p, func(context.Context, cbus.Scope) (*Gated, error) {
		return &Gated{gate: gate, fail: fail}, nil
	})

	return p
}

func TestDispatchAsync_ReleaseWaitsForCompletion(t *testing.T) {
	for _, fail := range []bool{false, true} {
		t.Run(map[bool]string{false: "success", true: "failure"}[fail], func(t *testing.T) {
			gate := make(chan struct{})
			r := newCounting(gatedResolver(gate, fail))
			fn := autorespond.NewDispatcher(r).DispatchAsync(bindingFor(autorespond.TypesOf(&Gated{}), autorespond.Async))

			f := fn(context.Background(), StringRequest{Text: "later"})

			assert.EqualValues(t, 1, r.created.Load())
			assert.Never(t, func() bool { return r.released.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

			close(gate)

			res, err := f.Result()
			assert.EqualValues(t, 1, r.released.Load(), "scope is released before the outer future settles")
			assert.Zero(t, r.doubled.Load())

			if fail {
				assert.Same(t, errHandler, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, StringResponse{Text: "later"}, res)
		})
	}
}

func TestDispatchAsync_SyncPanicStillReleases(t *testing.T) {
	r := newCounting(autorespond.DefaultResolver())
	fn := autorespond.NewDispatcher(r).DispatchAsync(bindingFor(autorespond.TypesOf(&PanickingAsync{}), autorespond.Async))

	assert.PanicsWithValue(t, "boom", func() { fn(context.Background(), StringRequest{}) })
	assert.EqualValues(t, 1, r.created.Load())
	assert.EqualValues(t, 1, r.released.Load())
	assert.Zero(t, r.doubled.Load())
}

func TestDispatchAsync_NilFuture(t *testing.T) {
	r := newCounting(autorespond.DefaultResolver())
	fn := autorespond.NewDispatcher(r).DispatchAsync(bindingFor(autorespond.TypesOf(&NilFuture{}), autorespond.Async))

	_, err := fn(context.Background(), StringRequest{}).Result()
	assert.ErrorIs(t, err, berr.ErrNilFuture)
	assert.EqualValues(t, 1, r.released.Load())
}

func TestDispatch_CrossShape(t *testing.T) {
	d := autorespond.NewDispatcher(nil)

	res, err := d.Dispatch(bindingFor(autorespond.TypesOf(&AsyncEcho{}), autorespond.Async))(context.Background(), StringRequest{Text: "a"})
	require.NoError(t, err)
	assert.Equal(t, StringResponse{Text: "a"}, res)

	res, err = d.DispatchAsync(bindingFor(autorespond.TypesOf(&Echo{}), autorespond.Sync))(context.Background(), StringRequest{Text: "b"}).Result()
	require.NoError(t, err)
	assert.Equal(t, StringResponse{Text: "b"}, res)
}

func TestDispatch_ConcurrentInvocationsAreIsolated(t *testing.T) {
	const n = 50

	p := autorespond.NewProviderResolver(nil)
	autorespond.Provide(p, func(context.Context, cbus.Scope) (*Tracker, error) { return &Tracker{}, nil })

	r := newCounting(p)
	fn := autorespond.NewDispatcher(r).Dispatch(bindingFor(autorespond.TypesOf(&Tracker{}), autorespond.Sync))

	var wg sync.WaitGroup

	errs := make(chan error, n)

	for range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := fn(context.Background(), StringRequest{Text: "x"})
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.EqualValues(t, n, r.created.Load())
	assert.EqualValues(t, n, r.released.Load())

	distinct := map[any]bool{}
	for _, h := range r.all() {
		distinct[h] = true
	}

	assert.Len(t, distinct, n)
}
