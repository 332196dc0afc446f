package bus

import (
	"context"
	"fmt"
	"reflect"

	berr "github.com/next-trace/scg-autorespond/contract/errors"
)

// Resolver provisions handler instances inside lifetime scopes.
// Implementations must be safe for concurrent use; each request opens its own scope.
type Resolver interface {
	CreateScope(ctx context.Context) (Scope, error)
}

// Scope resolves instances for the duration of one request.
// Release must be called exactly once, after which resolved instances must not be used.
type Scope interface {
	Resolve(ctx context.Context, t reflect.Type) (any, error)
	Release()
}

// ResolveAs resolves an instance of T from the scope.
func ResolveAs[T any](ctx context.Context, s Scope) (T, error) {
	var zero T

	t := reflect.TypeFor[T]()

	v, err := s.Resolve(ctx, t)
	if err != nil {
		return zero, err
	}

	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("resolve %s: got %T: %w", t.String(), v, berr.ErrHandlerTypeMismatch)
	}

	return out, nil
}
