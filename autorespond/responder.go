package autorespond

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	cbus "github.com/next-trace/scg-autorespond/contract/bus"
	berr "github.com/next-trace/scg-autorespond/contract/errors"
)

// Module groups candidate handler types, typically one per package.
type Module interface {
	Types() []reflect.Type
}

// TypeList is a Module over a fixed list of types.
type TypeList []reflect.Type

// Types implements Module.
func (l TypeList) Types() []reflect.Type { return l }

// TypeOf returns the candidate type for T. Pass pointer types for handlers with pointer receivers.
func TypeOf[T any]() reflect.Type { return reflect.TypeFor[T]() }

// TypesOf returns the dynamic types of samples.
func TypesOf(samples ...any) TypeList {
	out := make(TypeList, 0, len(samples))
	for _, s := range samples {
		out = append(out, reflect.TypeOf(s))
	}

	return out
}

// AutoResponder discovers handlers and registers them with a bus.
// Registration is a startup operation; an AutoResponder must not be used from several
// goroutines at once.
type AutoResponder struct {
	sink       any
	dispatcher Dispatcher
	configure  cbus.Configurator
	logger     *slog.Logger
}

// Option configures an AutoResponder.
type Option func(*AutoResponder)

// WithResolver uses a DefaultDispatcher over r.
func WithResolver(r cbus.Resolver) Option {
	return func(a *AutoResponder) { a.dispatcher = NewDispatcher(r) }
}

// WithDispatcher replaces the dispatcher used to build adapters.
func WithDispatcher(d Dispatcher) Option {
	return func(a *AutoResponder) { a.dispatcher = d }
}

// WithConfigure sets the global configurator applied to every responder before overrides.
func WithConfigure(fn cbus.Configurator) Option {
	return func(a *AutoResponder) { a.configure = fn }
}

// WithLogger sets the logger used to report registrations.
func WithLogger(l *slog.Logger) Option {
	return func(a *AutoResponder) { a.logger = l }
}

// New returns an AutoResponder registering into sink, which must expose a Respond and/or
// RespondAsync entry point (see RegisterAll).
func New(sink any, opts ...Option) (*AutoResponder, error) {
	if sink == nil {
		return nil, fmt.Errorf("new auto responder: %w", berr.ErrNilSink)
	}

	a := &AutoResponder{sink: sink}
	for _, o := range opts {
		o(a)
	}

	if a.dispatcher == nil {
		a.dispatcher = NewDispatcher(nil)
	}

	if a.logger == nil {
		a.logger = slog.Default()
	}

	return a, nil
}

// SetConfigure replaces the global configurator. Nil restores the no-op default.
func (a *AutoResponder) SetConfigure(fn cbus.Configurator) { a.configure = fn }

// SetDispatcher replaces the dispatcher. Nil restores a DefaultDispatcher over DefaultResolver.
func (a *AutoResponder) SetDispatcher(d Dispatcher) {
	if d == nil {
		d = NewDispatcher(nil)
	}

	a.dispatcher = d
}

// Respond registers every synchronous handler found among types.
func (a *AutoResponder) Respond(types ...reflect.Type) error {
	if len(types) == 0 {
		return fmt.Errorf("respond: %w", berr.ErrNoCandidates)
	}

	return a.register(types, Sync)
}

// RespondModules registers every synchronous handler declared by the modules.
func (a *AutoResponder) RespondModules(modules ...Module) error {
	types, err := expand(modules)
	if err != nil {
		return fmt.Errorf("respond: %w", err)
	}

	return a.register(types, Sync)
}

// RespondAsync registers every asynchronous handler found among types.
func (a *AutoResponder) RespondAsync(types ...reflect.Type) error {
	if len(types) == 0 {
		return fmt.Errorf("respond async: %w", berr.ErrNoCandidates)
	}

	return a.register(types, Async)
}

// RespondAsyncModules registers every asynchronous handler declared by the modules.
func (a *AutoResponder) RespondAsyncModules(modules ...Module) error {
	types, err := expand(modules)
	if err != nil {
		return fmt.Errorf("respond async: %w", err)
	}

	return a.register(types, Async)
}

func expand(modules []Module) ([]reflect.Type, error) {
	var (
		types []reflect.Type
		found bool
	)

	for _, m := range modules {
		if m == nil {
			continue
		}

		found = true
		types = append(types, m.Types()...)
	}

	if !found {
		return nil, berr.ErrNoCandidates
	}

	return types, nil
}

func (a *AutoResponder) register(types []reflect.Type, shape Shape) error {
	bindings, err := RegisterAll(types, shape, a.configure, a.dispatcher, a.sink)

	for _, b := range bindings {
		a.logger.Info("registered responder",
			"shape", shape.String(),
			"request", b.RequestType.String(),
			"response", b.ResponseType.String(),
			"handler", b.ConcreteType.String(),
			"method", b.Method,
		)
	}

	return err
}

var (
	typeType         = reflect.TypeFor[reflect.Type]()
	configuratorType = reflect.TypeFor[cbus.Configurator]()
)

// RegisterAll discovers the bindings of the given shape among types and registers one
// adapter per binding with sink, returning the bindings registered.
//
// The entry point is the single exported method of sink with signature
//
//	func(req, res reflect.Type, dispatch bus.DispatchFunc, configure bus.Configurator) error
//
// (bus.AsyncDispatchFunc for Async); its name does not matter. Zero or several matching
// methods fail with ErrEntryPointNotFound or ErrEntryPointAmbiguous before any discovery.
// A sink error stops the pass; bindings registered before it are still returned.
func RegisterAll(types []reflect.Type, shape Shape, global cbus.Configurator, d Dispatcher, sink any) ([]Binding, error) {
	entry, err := entryPoint(sink, shape)
	if err != nil {
		return nil, err
	}

	bindings, err := Discover(types, shape)
	if err != nil {
		return nil, err
	}

	done := make([]Binding, 0, len(bindings))

	for _, b := range bindings {
		var adapter reflect.Value
		if shape == Async {
			adapter = reflect.ValueOf(d.DispatchAsync(b))
		} else {
			adapter = reflect.ValueOf(d.Dispatch(b))
		}

		out := entry.Call([]reflect.Value{
			reflect.ValueOf(&b.RequestType).Elem(),
			reflect.ValueOf(&b.ResponseType).Elem(),
			adapter,
			reflect.ValueOf(ResolveConfiguration(b, global)),
		})

		if err, _ := out[0].Interface().(error); err != nil {
			return done, fmt.Errorf("register %s: %w", b, err)
		}

		done = append(done, b)
	}

	return done, nil
}

func entryPoint(sink any, shape Shape) (reflect.Value, error) {
	if sink == nil {
		return reflect.Value{}, berr.ErrNilSink
	}

	if !shape.valid() {
		return reflect.Value{}, fmt.Errorf("entry point for %s: %w", shape, berr.ErrEntryPointNotFound)
	}

	v := reflect.ValueOf(sink)
	want := shape.dispatchType()

	var (
		found []reflect.Value
		names []string
	)

	for i := range v.NumMethod() {
		mt := v.Method(i).Type()
		if mt.NumIn() != 4 || mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}

		if mt.In(0) != typeType || mt.In(1) != typeType || mt.In(2) != want || mt.In(3) != configuratorType {
			continue
		}

		found = append(found, v.Method(i))
		names = append(names, v.Type().Method(i).Name)
	}

	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return reflect.Value{}, fmt.Errorf("entry point for %s on %T: %w", shape, sink, berr.ErrEntryPointNotFound)
	default:
		return reflect.Value{}, fmt.Errorf("entry point for %s on %T: %s: %w", shape, sink, strings.Join(names, ", "), berr.ErrEntryPointAmbiguous)
	}
}
