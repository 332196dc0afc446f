package autorespond

import (
	"context"
	"fmt"
	"reflect"

	cbus "github.com/next-trace/scg-autorespond/contract/bus"
	berr "github.com/next-trace/scg-autorespond/contract/errors"
)

// Binding is one discovered capability: a concrete handler type responding to RequestType
// with ResponseType through its Method. Bindings are produced by Discover and never mutated.
type Binding struct {
	ConcreteType reflect.Type
	Shape        Shape
	RequestType  reflect.Type
	ResponseType reflect.Type
	Method       string

	methodOverride *Override
	typeOverride   *Override
	invoke         invoker
}

// Override returns the override that applies to the binding, if any.
// A method-level override wins over a type-level one.
func (b Binding) Override() (Override, bool) {
	if b.methodOverride != nil {
		return *b.methodOverride, true
	}

	if b.typeOverride != nil {
		return *b.typeOverride, true
	}

	return Override{}, false
}

func (b Binding) String() string {
	return fmt.Sprintf("%s.%s(%s) %s", b.ConcreteType.String(), b.Method, b.RequestType.String(), b.ResponseType.String())
}

// Invoke calls the handle operation on h, an instance of ConcreteType, and waits for its result.
// An async binding is awaited. A request of the wrong type fails with ErrHandlerTypeMismatch.
func (b Binding) Invoke(ctx context.Context, h, req any) (any, error) {
	if b.invoke.sync == nil && b.invoke.async == nil {
		return nil, fmt.Errorf("invoke %s: %w", b.Method, berr.ErrHandlerTypeMismatch)
	}

	return b.invoke.call(ctx, h, req)
}

// InvokeAsync calls the handle operation on h and returns its future. A sync binding runs in
// its own goroutine.
func (b Binding) InvokeAsync(ctx context.Context, h, req any) *cbus.Future[any] {
	if b.invoke.sync == nil && b.invoke.async == nil {
		return cbus.Failed[any](fmt.Errorf("invoke %s: %w", b.Method, berr.ErrHandlerTypeMismatch))
	}

	return b.invoke.callAsync(ctx, h, req)
}

// invoker calls the handle operation on a resolved instance. Exactly one of sync and async is set.
type invoker struct {
	sync  func(ctx context.Context, h, req any) (any, error)
	async func(ctx context.Context, h, req any) *cbus.Future[any]
}

// call invokes the handler and waits for its result whatever its shape.
func (inv invoker) call(ctx context.Context, h, req any) (any, error) {
	if inv.sync != nil {
		return inv.sync(ctx, h, req)
	}

	return inv.async(ctx, h, req).Result()
}

// callAsync invokes the handler and returns a future whatever its shape.
func (inv invoker) callAsync(ctx context.Context, h, req any) *cbus.Future[any] {
	if inv.async != nil {
		return inv.async(ctx, h, req)
	}

	return cbus.Go(func() (any, error) { return inv.sync(ctx, h, req) })
}

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// methodInvoker builds an invoker from a method found in t's method set.
// It reports false when the method does not have the shape's signature.
func methodInvoker(t reflect.Type, m reflect.Method, shape Shape) (req, res reflect.Type, inv invoker, ok bool) {
	ft := m.Type // receiver is In(0)
	if ft.IsVariadic() || ft.NumIn() != 3 || ft.In(1) != contextType {
		return nil, nil, invoker{}, false
	}

	req = ft.In(2)

	switch shape {
	case Sync:
		if ft.NumOut() != 2 || ft.Out(1) != errorType {
			return nil, nil, invoker{}, false
		}

		res = ft.Out(0)
	case Async:
		if ft.NumOut() != 1 {
			return nil, nil, invoker{}, false
		}

		res, ok = cbus.FutureElem(ft.Out(0))
		if !ok {
			return nil, nil, invoker{}, false
		}
	default:
		return nil, nil, invoker{}, false
	}

	fn := m.Func

	args := func(ctx context.Context, h, r any) ([]reflect.Value, error) {
		hv := reflect.ValueOf(h)
		if !hv.IsValid() || hv.Type() != t {
			return nil, fmt.Errorf("handler instance %T is not %s: %w", h, t.String(), berr.ErrHandlerTypeMismatch)
		}

		rv := reflect.ValueOf(r)

		switch {
		case !rv.IsValid():
			rv = reflect.Zero(req)
		case !rv.Type().AssignableTo(req):
			return nil, fmt.Errorf("request %T is not %s: %w", r, req.String(), berr.ErrHandlerTypeMismatch)
		}

		return []reflect.Value{hv, reflect.ValueOf(&ctx).Elem(), rv}, nil
	}

	if shape == Sync {
		inv.sync = func(ctx context.Context, h, r any) (any, error) {
			in, err := args(ctx, h, r)
			if err != nil {
				return nil, err
			}

			out := fn.Call(in)
			if !out[1].IsNil() {
				return nil, out[1].Interface().(error) //nolint:forcetypeassert // signature checked above
			}

			return out[0].Interface(), nil
		}
	} else {
		inv.async = func(ctx context.Context, h, r any) *cbus.Future[any] {
			in, err := args(ctx, h, r)
			if err != nil {
				return cbus.Failed[any](err)
			}

			f, _ := cbus.EraseFuture(fn.Call(in)[0].Interface())

			return f
		}
	}

	return req, res, inv, true
}
