package autorespond

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	cbus "github.com/next-trace/scg-autorespond/contract/bus"
	berr "github.com/next-trace/scg-autorespond/contract/errors"
)

// Override replaces parts of the global responder configuration for one handler.
// A zero PrefetchCount or an empty QueueName leaves the global value untouched.
type Override struct {
	PrefetchCount uint16
	QueueName     string
}

func (o Override) empty() bool { return o.PrefetchCount == 0 && o.QueueName == "" }

// OverrideProvider is implemented by handler types that carry a type-level override.
// It is called on a zero value during discovery.
type OverrideProvider interface {
	ResponderOverride() Override
}

// CapabilityDeclarer is implemented by handler types that list their capabilities explicitly.
// Capabilities is called on a zero value during discovery.
//
//	func (*Orders) Capabilities() []autorespond.Capability {
//		return []autorespond.Capability{
//			autorespond.Handles((*Orders).Get),
//			autorespond.Handles((*Orders).Cancel, autorespond.WithOverride(autorespond.Override{PrefetchCount: 5})),
//		}
//	}
type CapabilityDeclarer interface {
	Capabilities() []Capability
}

// Capability is one declared (request, response, handle method) triple.
type Capability struct {
	shape    Shape
	receiver reflect.Type
	req      reflect.Type
	res      reflect.Type
	method   string
	override *Override
	invoke   invoker
	err      error
}

// CapabilityOption configures a declared capability.
type CapabilityOption func(*Capability)

// WithOverride attaches a method-level override. It takes precedence over OverrideProvider.
func WithOverride(o Override) CapabilityOption {
	return func(c *Capability) { c.override = &o }
}

// WithMethodName sets the name reported for the handle operation. By default it is taken
// from the method expression.
func WithMethodName(name string) CapabilityOption {
	return func(c *Capability) { c.method = name }
}

// Handles declares a synchronous capability backed by a method expression such as (*Echo).Reverse.
func Handles[H, Req, Res any](handle func(H, context.Context, Req) (Res, error), opts ...CapabilityOption) Capability {
	c := newCapability[H, Req, Res](Sync, handle, opts)
	if handle == nil {
		c.err = errors.New("nil handle func")
		return c
	}

	c.invoke = invoker{
		sync: func(ctx context.Context, h, req any) (any, error) {
			hh, r, err := assertArgs[H, Req](h, req)
			if err != nil {
				return nil, err
			}

			res, err := handle(hh, ctx, r)
			if err != nil {
				return nil, err
			}

			return res, nil
		},
	}

	return c
}

// HandlesAsync declares an asynchronous capability backed by a method expression.
func HandlesAsync[H, Req, Res any](handle func(H, context.Context, Req) *cbus.Future[Res], opts ...CapabilityOption) Capability {
	c := newCapability[H, Req, Res](Async, handle, opts)
	if handle == nil {
		c.err = errors.New("nil handle func")
		return c
	}

	c.invoke = invoker{
		async: func(ctx context.Context, h, req any) *cbus.Future[any] {
			hh, r, err := assertArgs[H, Req](h, req)
			if err != nil {
				return cbus.Failed[any](err)
			}

			return cbus.Erase(handle(hh, ctx, r))
		},
	}

	return c
}

func newCapability[H, Req, Res any](shape Shape, fn any, opts []CapabilityOption) Capability {
	c := Capability{
		shape:    shape,
		receiver: reflect.TypeFor[H](),
		req:      reflect.TypeFor[Req](),
		res:      reflect.TypeFor[Res](),
		method:   funcName(fn),
	}

	for _, o := range opts {
		o(&c)
	}

	return c
}

func assertArgs[H, Req any](h, req any) (H, Req, error) {
	var (
		zh H
		zr Req
	)

	hh, ok := h.(H)
	if !ok {
		return zh, zr, fmt.Errorf("handler instance %T is not %s: %w", h, reflect.TypeFor[H]().String(), berr.ErrHandlerTypeMismatch)
	}

	r, ok := req.(Req)
	if !ok && req != nil {
		return zh, zr, fmt.Errorf("request %T is not %s: %w", req, reflect.TypeFor[Req]().String(), berr.ErrHandlerTypeMismatch)
	}

	return hh, r, nil
}

// funcName extracts "Reverse" from a method expression like (*Echo).Reverse.
func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}

	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return ""
	}

	name := strings.TrimSuffix(f.Name(), "-fm")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}

	return name
}
