package bus

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	berr "github.com/next-trace/scg-autorespond/contract/errors"
)

// Future is the eventual result of an asynchronous request.
// A Future settles exactly once; all methods are safe for concurrent use.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// erasable is implemented only by *Future[T]; it lets reflection-driven callers
// consume futures whose element type is unknown at compile time.
type erasable interface {
	Done() <-chan struct{}
	erase() *Future[any]
}

var erasableType = reflect.TypeFor[erasable]()

// NewFuture returns a pending future and the function that settles it.
// Calls to the settle function after the first are ignored.
func NewFuture[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{done: make(chan struct{})}
	return f, f.settle
}

// Go runs fn in a new goroutine and returns a future for its result.
func Go[T any](fn func() (T, error)) *Future[T] {
	f, settle := NewFuture[T]()

	go func() { settle(fn()) }()

	return f
}

// Completed returns a future already settled with v.
func Completed[T any](v T) *Future[T] {
	f, settle := NewFuture[T]()
	settle(v, nil)

	return f
}

// Failed returns a future already settled with err.
func Failed[T any](err error) *Future[T] {
	f, settle := NewFuture[T]()

	var zero T
	settle(zero, err)

	return f
}

func (f *Future[T]) settle(v T, err error) {
	f.once.Do(func() {
		f.val = v
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Result blocks until the future settles and returns its value and error.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.val, f.err
}

// Await waits for the future or for ctx, whichever finishes first.
// Giving up on the wait does not cancel the underlying operation.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Finally returns a future that settles with f's outcome after fn has run.
// fn runs exactly once, after f settles, whether f succeeded or failed.
func (f *Future[T]) Finally(fn func()) *Future[T] {
	out, settle := NewFuture[T]()

	go func() {
		<-f.done
		fn()
		settle(f.val, f.err)
	}()

	return out
}

func (f *Future[T]) erase() *Future[any] { return Erase(f) }

// Erase converts a typed future into a Future[any]. A nil future yields ErrNilFuture.
func Erase[T any](f *Future[T]) *Future[any] {
	if f == nil {
		return Failed[any](berr.ErrNilFuture)
	}

	if fa, ok := any(f).(*Future[any]); ok {
		return fa
	}

	out, settle := NewFuture[any]()

	go func() {
		<-f.done

		if f.err != nil {
			settle(nil, f.err)
			return
		}

		settle(f.val, nil)
	}()

	return out
}

// Narrow converts a Future[any] into a typed future. A value of the wrong type settles
// the result with ErrHandlerTypeMismatch.
func Narrow[T any](f *Future[any]) *Future[T] {
	if f == nil {
		return Failed[T](berr.ErrNilFuture)
	}

	if ft, ok := any(f).(*Future[T]); ok {
		return ft
	}

	out, settle := NewFuture[T]()

	go func() {
		v, err := f.Result()

		var zero T
		if err != nil {
			settle(zero, err)
			return
		}

		t, ok := v.(T)
		if !ok {
			settle(zero, fmt.Errorf("narrow %T to %s: %w", v, reflect.TypeFor[T]().String(), berr.ErrHandlerTypeMismatch))
			return
		}

		settle(t, nil)
	}()

	return out
}

// EraseFuture converts v, which must be a *Future[T] for some T, into a Future[any].
// It reports false when v is not a future.
func EraseFuture(v any) (*Future[any], bool) {
	e, ok := v.(erasable)
	if !ok {
		return nil, false
	}

	return e.erase(), true
}

// FutureElem reports the element type T when t is *Future[T].
func FutureElem(t reflect.Type) (reflect.Type, bool) {
	if t == nil || t.Kind() != reflect.Pointer || !t.Implements(erasableType) {
		return nil, false
	}

	m, ok := t.MethodByName("Result")
	if !ok {
		return nil, false
	}

	return m.Type.Out(0), true
}
