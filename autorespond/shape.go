package autorespond

import (
	"fmt"
	"reflect"

	cbus "github.com/next-trace/scg-autorespond/contract/bus"
)

// Shape selects between the synchronous and asynchronous handler contracts.
type Shape int

const (
	// Sync handlers return (Res, error) and are invoked on the caller's goroutine.
	Sync Shape = iota + 1
	// Async handlers return *bus.Future[Res].
	Async
)

func (s Shape) String() string {
	switch s {
	case Sync:
		return "sync"
	case Async:
		return "async"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

func (s Shape) valid() bool { return s == Sync || s == Async }

// methodName is the conventional handle operation for the shape.
func (s Shape) methodName() string {
	if s == Async {
		return "HandleAsync"
	}

	return "Handle"
}

// dispatchType is the adapter type a bus entry point must accept for the shape.
func (s Shape) dispatchType() reflect.Type {
	if s == Async {
		return reflect.TypeFor[cbus.AsyncDispatchFunc]()
	}

	return reflect.TypeFor[cbus.DispatchFunc]()
}
