package autorespond

import (
	"context"

	cbus "github.com/next-trace/scg-autorespond/contract/bus"
)

// Dispatcher turns bindings into the adapters registered with the bus.
// Replace it on the AutoResponder to decorate or re-route every dispatch.
type Dispatcher interface {
	Dispatch(b Binding) cbus.DispatchFunc
	DispatchAsync(b Binding) cbus.AsyncDispatchFunc
}

// DefaultDispatcher resolves one handler instance per request from a scoped resolver.
// The adapters it returns share nothing but the binding and the resolver and may be invoked
// concurrently.
type DefaultDispatcher struct {
	resolver cbus.Resolver
}

var _ Dispatcher = (*DefaultDispatcher)(nil)

// NewDispatcher returns a DefaultDispatcher over r, or over DefaultResolver when r is nil.
func NewDispatcher(r cbus.Resolver) *DefaultDispatcher {
	if r == nil {
		r = DefaultResolver()
	}

	return &DefaultDispatcher{resolver: r}
}

// Dispatch returns a synchronous adapter. The scope is released before the adapter returns,
// including when the handler fails or panics. Errors are returned unmodified.
func (d *DefaultDispatcher) Dispatch(b Binding) cbus.DispatchFunc {
	resolver := d.resolver

	return func(ctx context.Context, req any) (any, error) {
		scope, err := resolver.CreateScope(ctx)
		if err != nil {
			return nil, err
		}
		defer scope.Release()

		h, err := scope.Resolve(ctx, b.ConcreteType)
		if err != nil {
			return nil, err
		}

		return b.Invoke(ctx, h, req)
	}
}

// DispatchAsync returns an asynchronous adapter. The scope stays open until the handler's
// future settles and is released before the returned future settles.
func (d *DefaultDispatcher) DispatchAsync(b Binding) cbus.AsyncDispatchFunc {
	resolver := d.resolver

	return func(ctx context.Context, req any) *cbus.Future[any] {
		scope, err := resolver.CreateScope(ctx)
		if err != nil {
			return cbus.Failed[any](err)
		}

		handedOff := false

		defer func() {
			if !handedOff {
				scope.Release()
			}
		}()

		h, err := scope.Resolve(ctx, b.ConcreteType)
		if err != nil {
			return cbus.Failed[any](err)
		}

		f := b.InvokeAsync(ctx, h, req)
		handedOff = true

		return f.Finally(scope.Release)
	}
}
