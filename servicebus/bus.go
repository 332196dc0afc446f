package servicebus

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	cbus "github.com/next-trace/scg-autorespond/contract/bus"
	berr "github.com/next-trace/scg-autorespond/contract/errors"
	"github.com/next-trace/scg-autorespond/internal/codec"
)

// DefaultPrefetch is the prefetch count a responder gets before its configurator runs.
const DefaultPrefetch uint16 = 50

// Bus is an in-process request/response mediator.
// It is the registration sink for discovered responders and the requester-side entry point;
// with a Client configured, requests without a local responder are sent over the transport.
//
// Bus is concurrency-safe and contains no global state.
type Bus struct {
	mu sync.RWMutex

	sync  map[reflect.Type]*route
	async map[reflect.Type]*route

	// global middleware executed in registration order
	mw []Middleware

	prefetch  uint16
	queueName func(reflect.Type) string
	client    cbus.Client
	prop      cbus.HeaderPropagator
	logger    *slog.Logger
	closed    bool
}

// BusOption configures a Bus instance.
type BusOption func(*Bus)

// Middleware wraps responder execution. Middlewares are executed in registration order.
type Middleware func(next cbus.DispatchFunc) cbus.DispatchFunc

// WithMiddleware registers global middleware via an option.
func WithMiddleware(mw ...Middleware) BusOption {
	return func(b *Bus) { b.mw = append(b.mw, mw...) }
}

// WithDefaultPrefetch sets the prefetch count applied before each responder's configurator.
// Zero leaves responders unbounded unless they configure a prefetch themselves.
func WithDefaultPrefetch(n uint16) BusOption {
	return func(b *Bus) { b.prefetch = n }
}

// WithQueueNamer replaces the conventional queue name given to a request type.
func WithQueueNamer(fn func(reflect.Type) string) BusOption {
	return func(b *Bus) {
		if fn != nil {
			b.queueName = fn
		}
	}
}

// WithClient sends requests that have no local responder over a transport.
func WithClient(c cbus.Client) BusOption {
	return func(b *Bus) { b.client = c }
}

// WithPropagator sets the propagator used to carry context in remote request headers.
func WithPropagator(p cbus.HeaderPropagator) BusOption {
	return func(b *Bus) {
		if p != nil {
			b.prop = p
		}
	}
}

// New constructs a new Bus.
func New(logger *slog.Logger, opts ...BusOption) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bus{
		sync:      make(map[reflect.Type]*route),
		async:     make(map[reflect.Type]*route),
		prefetch:  DefaultPrefetch,
		queueName: QueueName,
		prop:      cbus.NopHeaderPropagator{},
		logger:    logger,
	}

	for _, o := range opts {
		o(b)
	}

	return b
}

var (
	_ cbus.Responder      = (*Bus)(nil)
	_ cbus.AsyncResponder = (*Bus)(nil)
)

// QueueName is the conventional queue for request type t: "rpc." followed by its qualified name.
func QueueName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return "rpc." + strings.ToLower(t.String())
}

// Registration is one responder known to the bus.
type Registration struct {
	RequestType  reflect.Type
	ResponseType reflect.Type
	Async        bool
	Options      cbus.Options

	call      cbus.DispatchFunc
	callAsync cbus.AsyncDispatchFunc
}

// Call invokes the responder and waits for its result.
func (r Registration) Call(ctx context.Context, req any) (any, error) { return r.call(ctx, req) }

// CallAsync invokes the responder and returns a future for its result.
func (r Registration) CallAsync(ctx context.Context, req any) *cbus.Future[any] {
	return r.callAsync(ctx, req)
}

// Endpoint describes the registration for a transport server.
func (r Registration) Endpoint() cbus.Endpoint {
	return cbus.Endpoint{
		Queue:         r.Options.QueueName,
		PrefetchCount: r.Options.PrefetchCount,
		RequestType:   r.RequestType,
		ResponseType:  r.ResponseType,
		Handle:        r.call,
	}
}

type route struct {
	reg Registration
	sem *semaphore.Weighted
}

// Respond registers a synchronous responder for req. Duplicate request types are rejected.
func (b *Bus) Respond(req, res reflect.Type, dispatch cbus.DispatchFunc, configure cbus.Configurator) error {
	if dispatch == nil {
		return fmt.Errorf("respond %v: nil dispatch: %w", req, berr.ErrHandlerTypeMismatch)
	}

	return b.add(req, res, false, dispatch, nil, configure)
}

// RespondAsync registers an asynchronous responder for req. Duplicate request types are rejected.
func (b *Bus) RespondAsync(req, res reflect.Type, dispatch cbus.AsyncDispatchFunc, configure cbus.Configurator) error {
	if dispatch == nil {
		return fmt.Errorf("respond async %v: nil dispatch: %w", req, berr.ErrHandlerTypeMismatch)
	}

	return b.add(req, res, true, nil, dispatch, configure)
}

func (b *Bus) add(
	req, res reflect.Type,
	async bool,
	dispatch cbus.DispatchFunc,
	dispatchAsync cbus.AsyncDispatchFunc,
	configure cbus.Configurator,
) error {
	if req == nil || res == nil {
		return fmt.Errorf("respond: missing request or response type: %w", berr.ErrHandlerTypeMismatch)
	}

	opts := cbus.ApplyOptions(cbus.Options{PrefetchCount: b.prefetch, QueueName: b.queueName(req)}, configure)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("respond %s: %w", req.String(), berr.ErrBusClosed)
	}

	table := b.sync
	if async {
		table = b.async
	}

	if _, exists := table[req]; exists {
		return fmt.Errorf("respond %s: %w", req.String(), berr.ErrHandlerExists)
	}

	r := &route{}
	if opts.PrefetchCount > 0 {
		r.sem = semaphore.NewWeighted(int64(opts.PrefetchCount))
	}

	r.reg = Registration{RequestType: req, ResponseType: res, Async: async, Options: opts}
	r.reg.call, r.reg.callAsync = b.bind(r.sem, dispatch, dispatchAsync)
	table[req] = r

	b.logger.Debug("responder bound",
		"request", req.String(),
		"response", res.String(),
		"async", async,
		"queue", opts.QueueName,
		"prefetch", opts.PrefetchCount,
	)

	return nil
}

// bind builds both call forms for one responder: middleware wraps the synchronous form, and
// the semaphore bounds how many calls run at once.
func (b *Bus) bind(
	sem *semaphore.Weighted,
	dispatch cbus.DispatchFunc,
	dispatchAsync cbus.AsyncDispatchFunc,
) (cbus.DispatchFunc, cbus.AsyncDispatchFunc) {
	if dispatch == nil {
		dispatch = func(ctx context.Context, req any) (any, error) { return dispatchAsync(ctx, req).Await(ctx) }
	}

	final := dispatch
	for i := len(b.mw) - 1; i >= 0; i-- {
		final = b.mw[i](final)
	}

	call := func(ctx context.Context, req any) (any, error) {
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil, err
			}
			defer sem.Release(1)
		}

		return final(ctx, req)
	}

	if dispatchAsync == nil || len(b.mw) > 0 {
		return call, func(ctx context.Context, req any) *cbus.Future[any] {
			return cbus.Go(func() (any, error) { return call(ctx, req) })
		}
	}

	callAsync := func(ctx context.Context, req any) *cbus.Future[any] {
		if sem == nil {
			return dispatchAsync(ctx, req)
		}

		return cbus.Go(func() (any, error) {
			if err := sem.Acquire(ctx, 1); err != nil {
				return nil, err
			}
			defer sem.Release(1)

			f := dispatchAsync(ctx, req)
			if f == nil {
				return nil, berr.ErrNilFuture
			}

			return f.Result()
		})
	}

	return call, callAsync
}

// lookup finds the responder for t, preferring the given shape.
func (b *Bus) lookup(t reflect.Type, async bool) (Registration, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return Registration{}, false, berr.ErrBusClosed
	}

	first, second := b.sync, b.async
	if async {
		first, second = second, first
	}

	if r, ok := first[t]; ok {
		return r.reg, true, nil
	}

	if r, ok := second[t]; ok {
		return r.reg, true, nil
	}

	return Registration{}, false, nil
}

// Request sends req to its local responder and waits for the untyped response.
func (b *Bus) Request(ctx context.Context, req any) (any, error) {
	t := reflect.TypeOf(req)
	if t == nil {
		return nil, fmt.Errorf("request <nil>: %w", berr.ErrHandlerNotFound)
	}

	reg, ok, err := b.lookup(t, false)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", t.String(), err)
	}

	if !ok {
		return nil, fmt.Errorf("request %s: %w", t.String(), berr.ErrHandlerNotFound)
	}

	return reg.Call(ctx, req)
}

// RequestAsync sends req to its local responder and returns a future for the untyped response.
func (b *Bus) RequestAsync(ctx context.Context, req any) *cbus.Future[any] {
	t := reflect.TypeOf(req)
	if t == nil {
		return cbus.Failed[any](fmt.Errorf("request async <nil>: %w", berr.ErrHandlerNotFound))
	}

	reg, ok, err := b.lookup(t, true)
	if err != nil {
		return cbus.Failed[any](fmt.Errorf("request async %s: %w", t.String(), err))
	}

	if !ok {
		return cbus.Failed[any](fmt.Errorf("request async %s: %w", t.String(), berr.ErrHandlerNotFound))
	}

	return reg.CallAsync(ctx, req)
}

// Request sends req and waits for a Res. A local responder wins; otherwise the request goes
// to the configured Client on the conventional queue of Req.
func Request[Req, Res any](ctx context.Context, b *Bus, req Req) (Res, error) {
	var zero Res

	t := reflect.TypeFor[Req]()

	reg, ok, err := b.lookup(t, false)
	if err != nil {
		return zero, fmt.Errorf("request %s: %w", t.String(), err)
	}

	if !ok {
		return remote[Res](ctx, b, t, req)
	}

	v, err := reg.Call(ctx, req)
	if err != nil {
		return zero, err
	}

	res, ok := v.(Res)
	if !ok {
		return zero, fmt.Errorf("request %s: got %T: %w", t.String(), v, berr.ErrHandlerTypeMismatch)
	}

	return res, nil
}

// RequestAsync is the asynchronous form of Request.
func RequestAsync[Req, Res any](ctx context.Context, b *Bus, req Req) *cbus.Future[Res] {
	t := reflect.TypeFor[Req]()

	reg, ok, err := b.lookup(t, true)
	if err != nil {
		return cbus.Failed[Res](fmt.Errorf("request async %s: %w", t.String(), err))
	}

	if !ok {
		return cbus.Go(func() (Res, error) { return remote[Res](ctx, b, t, req) })
	}

	return cbus.Narrow[Res](reg.CallAsync(ctx, req))
}

func remote[Res any](ctx context.Context, b *Bus, t reflect.Type, req any) (Res, error) {
	var zero Res

	if b.client == nil {
		return zero, fmt.Errorf("request %s: %w", t.String(), berr.ErrHandlerNotFound)
	}

	body, err := codec.Encode(req)
	if err != nil {
		return zero, fmt.Errorf("request %s: %w", t.String(), err)
	}

	headers := map[string]string{codec.HeaderRequestType: t.String()}
	b.prop.Inject(ctx, headers)

	out, err := b.client.Call(ctx, b.queueName(t), body, headers)
	if err != nil {
		return zero, fmt.Errorf("request %s: %w", t.String(), err)
	}

	return codec.DecodeAs[Res](out)
}

// Registrations returns a snapshot of every responder, synchronous first, each group ordered by queue.
func (b *Bus) Registrations() []Registration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Registration, 0, len(b.sync)+len(b.async))
	for _, table := range []map[reflect.Type]*route{b.sync, b.async} {
		group := make([]Registration, 0, len(table))
		for _, r := range table {
			group = append(group, r.reg)
		}

		slices.SortFunc(group, func(x, y Registration) int {
			return cmp.Compare(x.Options.QueueName, y.Options.QueueName)
		})

		out = append(out, group...)
	}

	return out
}

// Endpoints returns the transport view of Registrations, one endpoint per queue. A request type
// with both a synchronous and an asynchronous responder on the same queue is served by the
// synchronous one.
func (b *Bus) Endpoints() []cbus.Endpoint {
	regs := b.Registrations()

	seen := make(map[string]struct{}, len(regs))
	out := make([]cbus.Endpoint, 0, len(regs))

	for _, r := range regs {
		if _, dup := seen[r.Options.QueueName]; dup {
			continue
		}

		seen[r.Options.QueueName] = struct{}{}
		out = append(out, r.Endpoint())
	}

	return out
}

// Close stops the bus from accepting registrations and requests and closes the client when it
// is an io.Closer. Close is idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}

	b.closed = true
	c := b.client
	b.mu.Unlock()

	if closer, ok := c.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}
