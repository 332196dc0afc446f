package autorespond_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/next-trace/scg-autorespond/autorespond"
	cbus "github.com/next-trace/scg-autorespond/contract/bus"
)

type StringRequest struct{ Text string }

type StringResponse struct{ Text string }

type CountResponse struct{ N int }

var (
	_ cbus.RequestHandler[StringRequest, StringResponse]      = (*Echo)(nil)
	_ cbus.RequestHandler[StringRequest, StringResponse]      = (*RoutedEcho)(nil)
	_ cbus.AsyncRequestHandler[StringRequest, StringResponse] = (*AsyncEcho)(nil)
)

// Echo responds synchronously with the request text.
type Echo struct{}

func (*Echo) Handle(_ context.Context, r StringRequest) (StringResponse, error) {
	return StringResponse{Text: r.Text}, nil
}

// RoutedEcho carries a type-level override that leaves prefetch unset.
type RoutedEcho struct{}

func (*RoutedEcho) Handle(_ context.Context, r StringRequest) (StringResponse, error) {
	return StringResponse{Text: r.Text}, nil
}

func (*RoutedEcho) ResponderOverride() autorespond.Override {
	return autorespond.Override{PrefetchCount: 0, QueueName: "echo-queue"}
}

// Text declares two capabilities, one with a method-level override.
type Text struct{}

func (*Text) Capabilities() []autorespond.Capability {
	return []autorespond.Capability{
		autorespond.Handles((*Text).Reverse),
		autorespond.Handles((*Text).Count, autorespond.WithOverride(autorespond.Override{PrefetchCount: 5})),
		autorespond.HandlesAsync((*Text).UpperAsync),
	}
}

func (*Text) ResponderOverride() autorespond.Override {
	return autorespond.Override{PrefetchCount: 9, QueueName: "text"}
}

func (*Text) Reverse(_ context.Context, r StringRequest) (StringResponse, error) {
	rs := []rune(r.Text)
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}

	return StringResponse{Text: string(rs)}, nil
}

func (*Text) Count(_ context.Context, r StringRequest) (CountResponse, error) {
	return CountResponse{N: len(r.Text)}, nil
}

func (*Text) UpperAsync(_ context.Context, r StringRequest) *cbus.Future[StringResponse] {
	return cbus.Completed(StringResponse{Text: strings.ToUpper(r.Text)})
}

// Responder is abstract: an interface cannot be instantiated.
type Responder interface {
	Handle(ctx context.Context, r StringRequest) (StringResponse, error)
}

// Generic is only dispatchable once instantiated with concrete types.
type Generic[Req, Res any] struct{}

func (*Generic[Req, Res]) Handle(context.Context, Req) (Res, error) {
	var zero Res
	return zero, nil
}

// Open handles anything and therefore nothing in particular.
type Open struct{}

func (*Open) Handle(_ context.Context, r any) (any, error) { return r, nil }

// NotAHandler has a Handle method of the wrong shape.
type NotAHandler struct{}

func (*NotAHandler) Handle(r StringRequest) StringResponse { return StringResponse(r) }

// AsyncEcho responds asynchronously.
type AsyncEcho struct{}

func (*AsyncEcho) HandleAsync(_ context.Context, r StringRequest) *cbus.Future[StringResponse] {
	return cbus.Go(func() (StringResponse, error) { return StringResponse{Text: r.Text}, nil })
}

var errHandler = errors.New("handler failed")

// Failing always fails.
type Failing struct{}

func (*Failing) Handle(context.Context, StringRequest) (StringResponse, error) {
	return StringResponse{}, errHandler
}

// Panicking always panics.
type Panicking struct{}

func (*Panicking) Handle(context.Context, StringRequest) (StringResponse, error) {
	panic("boom")
}

type PanickingAsync struct{}

func (*PanickingAsync) HandleAsync(context.Context, StringRequest) *cbus.Future[StringResponse] {
	panic("boom")
}

// NilFuture returns no future at all.
type NilFuture struct{}

func (*NilFuture) HandleAsync(context.Context, StringRequest) *cbus.Future[StringResponse] {
	return nil
}

// Gated completes only when its gate is closed; built by a ProviderResolver.
type Gated struct {
	gate <-chan struct{}
	fail bool
}

func (g *Gated) HandleAsync(_ context.Context, r StringRequest) *cbus.Future[StringResponse] {
	return cbus.Go(func() (StringResponse, error) {
		<-g.gate

		if g.fail {
			return StringResponse{}, errHandler
		}

		return StringResponse{Text: r.Text}, nil
	})
}

// Tracker records the request on the instance; it has a field so every instance has its own address.
type Tracker struct{ seen string }

func (t *Tracker) Handle(_ context.Context, r StringRequest) (StringResponse, error) {
	t.seen = r.Text
	return StringResponse{Text: r.Text}, nil
}

// WrongReceiver declares a capability for another type.
type WrongReceiver struct{}

func (*WrongReceiver) Capabilities() []autorespond.Capability {
	return []autorespond.Capability{autorespond.Handles((*Echo).Handle)}
}

// Exploding panics while declaring its capabilities.
type Exploding struct{}

func (*Exploding) Capabilities() []autorespond.Capability { panic("cannot introspect") }

// countingResolver wraps a resolver and counts scopes, releases and instances.
type countingResolver struct {
	inner cbus.Resolver

	created  atomic.Int32
	released atomic.Int32
	doubled  atomic.Int32

	mu        sync.Mutex
	instances []any
}

func newCounting(inner cbus.Resolver) *countingResolver { return &countingResolver{inner: inner} }

func (c *countingResolver) CreateScope(ctx context.Context) (cbus.Scope, error) {
	s, err := c.inner.CreateScope(ctx)
	if err != nil {
		return nil, err
	}

	c.created.Add(1)

	return &countingScope{parent: c, inner: s}, nil
}

func (c *countingResolver) all() []any {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]any(nil), c.instances...)
}

type countingScope struct {
	parent   *countingResolver
	inner    cbus.Scope
	released atomic.Bool
}

func (s *countingScope) Resolve(ctx context.Context, t reflect.Type) (any, error) {
	v, err := s.inner.Resolve(ctx, t)
	if err != nil {
		return nil, err
	}

	s.parent.mu.Lock()
	s.parent.instances = append(s.parent.instances, v)
	s.parent.mu.Unlock()

	return v, nil
}

func (s *countingScope) Release() {
	if s.released.Swap(true) {
		s.parent.doubled.Add(1)
		return
	}

	s.parent.released.Add(1)
	s.inner.Release()
}

// brokenResolver fails to open scopes.
type brokenResolver struct{ err error }

func (b brokenResolver) CreateScope(context.Context) (cbus.Scope, error) { return nil, b.err }

func bindingFor(types []reflect.Type, shape autorespond.Shape) autorespond.Binding {
	bs, err := autorespond.Discover(types, shape)
	if err != nil || len(bs) != 1 {
		panic("fixture must produce exactly one binding")
	}

	return bs[0]
}
