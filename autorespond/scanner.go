package autorespond

import (
	"fmt"
	"reflect"

	berr "github.com/next-trace/scg-autorespond/contract/errors"
)

var (
	declarerType = reflect.TypeFor[CapabilityDeclarer]()
	providerType = reflect.TypeFor[OverrideProvider]()
)

type pair struct{ req, res reflect.Type }

// Discover returns one Binding per (concrete type, request, response) capability of the given
// shape found among types. Types that are not instantiable or do not match are skipped;
// capabilities over interface-typed requests or responses are not dispatchable and are skipped too.
//
// A nil type, a declared capability whose receiver is not the candidate, or a panic raised by
// Capabilities or ResponderOverride aborts discovery with ErrIntrospectionFailed.
func Discover(types []reflect.Type, shape Shape) ([]Binding, error) {
	if !shape.valid() {
		return nil, fmt.Errorf("discover %s: %w", shape, berr.ErrIntrospectionFailed)
	}

	var out []Binding

	for i, t := range types {
		if t == nil {
			return nil, fmt.Errorf("discover: candidate %d is nil: %w", i, berr.ErrIntrospectionFailed)
		}

		bs, err := discoverType(t, shape)
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", t.String(), err)
		}

		out = append(out, bs...)
	}

	return out, nil
}

func discoverType(t reflect.Type, shape Shape) (out []Binding, err error) {
	if !instantiable(t) {
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%v: %w", r, berr.ErrIntrospectionFailed)
		}
	}()

	var typeOverride *Override

	if t.Implements(providerType) {
		o := zeroValue(t).Interface().(OverrideProvider).ResponderOverride() //nolint:forcetypeassert // Implements checked
		if !o.empty() {
			typeOverride = &o
		}
	}

	seen := make(map[pair]bool)

	if t.Implements(declarerType) {
		caps := zeroValue(t).Interface().(CapabilityDeclarer).Capabilities() //nolint:forcetypeassert // Implements checked
		for _, c := range caps {
			if c.err != nil {
				return nil, fmt.Errorf("capability %s: %w: %w", c.method, berr.ErrIntrospectionFailed, c.err)
			}

			if c.receiver != t {
				return nil, fmt.Errorf("capability %s declared with receiver %s: %w", c.method, c.receiver, berr.ErrIntrospectionFailed)
			}

			p := pair{c.req, c.res}
			if c.shape != shape || !concrete(c.req) || !concrete(c.res) || seen[p] {
				continue
			}

			seen[p] = true

			out = append(out, Binding{
				ConcreteType:   t,
				Shape:          shape,
				RequestType:    c.req,
				ResponseType:   c.res,
				Method:         c.method,
				methodOverride: c.override,
				typeOverride:   typeOverride,
				invoke:         c.invoke,
			})
		}
	}

	if m, ok := t.MethodByName(shape.methodName()); ok {
		req, res, inv, ok := methodInvoker(t, m, shape)
		if ok && concrete(req) && concrete(res) && !seen[pair{req, res}] {
			out = append(out, Binding{
				ConcreteType: t,
				Shape:        shape,
				RequestType:  req,
				ResponseType: res,
				Method:       m.Name,
				typeOverride: typeOverride,
				invoke:       inv,
			})
		}
	}

	return out, nil
}

// instantiable reports whether a handler instance of t can be constructed: interfaces are
// abstract and unnamed types cannot carry methods.
func instantiable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface:
		return false
	case reflect.Pointer:
		e := t.Elem()
		return e.Kind() != reflect.Interface && e.Kind() != reflect.Pointer && e.Name() != ""
	default:
		return t.Name() != ""
	}
}

// concrete reports whether values of t can be decoded and dispatched without further type information.
func concrete(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return t.Kind() != reflect.Interface
}

// zeroValue returns a usable zero instance of t; pointer types get a freshly allocated element.
func zeroValue(t reflect.Type) reflect.Value {
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem())
	}

	return reflect.New(t).Elem()
}
