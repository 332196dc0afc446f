package autorespond

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"slices"
	"sync"

	cbus "github.com/next-trace/scg-autorespond/contract/bus"
	berr "github.com/next-trace/scg-autorespond/contract/errors"
)

// DefaultResolver returns a resolver that default-constructs every requested type and keeps
// no scope-local state. Pointer types resolve to a pointer to a new zero value.
func DefaultResolver() cbus.Resolver { return activator{} }

type activator struct{}

func (activator) CreateScope(context.Context) (cbus.Scope, error) { return activatorScope{}, nil }

type activatorScope struct{}

func (activatorScope) Resolve(_ context.Context, t reflect.Type) (any, error) {
	if t == nil || t.Kind() == reflect.Interface {
		return nil, fmt.Errorf("construct %v: %w", t, berr.ErrResolveFailed)
	}

	return zeroValue(t).Interface(), nil
}

func (activatorScope) Release() {}

// Factory builds an instance of T inside a scope. It may resolve its own dependencies from s.
type Factory[T any] func(ctx context.Context, s cbus.Scope) (T, error)

// ProviderResolver is a minimal scoped container. Each scope builds at most one instance per
// type from the registered factories; on release, instances implementing io.Closer are closed
// in reverse order of creation.
type ProviderResolver struct {
	mu        sync.RWMutex
	factories map[reflect.Type]func(context.Context, cbus.Scope) (any, error)
	logger    *slog.Logger
}

// NewProviderResolver returns an empty ProviderResolver. Close failures during release are
// logged to logger, or to slog.Default() when logger is nil.
func NewProviderResolver(logger *slog.Logger) *ProviderResolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &ProviderResolver{
		factories: make(map[reflect.Type]func(context.Context, cbus.Scope) (any, error)),
		logger:    logger,
	}
}

// Provide registers the factory for T, replacing any previous one.
func Provide[T any](r *ProviderResolver, f Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[reflect.TypeFor[T]()] = func(ctx context.Context, s cbus.Scope) (any, error) {
		return f(ctx, s)
	}
}

// CreateScope opens a new scope.
func (r *ProviderResolver) CreateScope(context.Context) (cbus.Scope, error) {
	return &providerScope{r: r, instances: make(map[reflect.Type]any)}, nil
}

type providerScope struct {
	r *ProviderResolver

	mu        sync.Mutex
	instances map[reflect.Type]any
	created   []any
	released  bool
}

func (s *providerScope) Resolve(ctx context.Context, t reflect.Type) (any, error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil, fmt.Errorf("resolve %v: scope released: %w", t, berr.ErrResolveFailed)
	}

	if v, ok := s.instances[t]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	s.r.mu.RLock()
	f, ok := s.r.factories[t]
	s.r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("resolve %v: no provider: %w", t, berr.ErrResolveFailed)
	}

	v, err := f(ctx, s)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.instances[t]; ok {
		return existing, nil
	}

	s.instances[t] = v
	s.created = append(s.created, v)

	return v, nil
}

func (s *providerScope) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}

	s.released = true
	created := s.created
	s.created = nil
	s.instances = nil
	s.mu.Unlock()

	for _, v := range slices.Backward(created) {
		c, ok := v.(io.Closer)
		if !ok {
			continue
		}

		if err := c.Close(); err != nil {
			s.r.logger.Warn("close scoped instance", "type", fmt.Sprintf("%T", v), "error", err)
		}
	}
}
