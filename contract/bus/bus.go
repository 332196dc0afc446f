package bus

import (
	"context"
	"reflect"
)

// DispatchFunc is the type-erased synchronous responder a bus invokes for one request type.
type DispatchFunc func(ctx context.Context, req any) (any, error)

// AsyncDispatchFunc is the type-erased asynchronous responder a bus invokes for one request type.
type AsyncDispatchFunc func(ctx context.Context, req any) *Future[any]

// Responder is the synchronous registration entry point exposed by a bus.
//
// req and res are the concrete request and response types. The bus owns everything that
// happens after registration: queue topology, prefetch enforcement, acknowledgement and retries.
type Responder interface {
	Respond(req, res reflect.Type, dispatch DispatchFunc, configure Configurator) error
}

// AsyncResponder is the asynchronous registration entry point exposed by a bus.
type AsyncResponder interface {
	RespondAsync(req, res reflect.Type, dispatch AsyncDispatchFunc, configure Configurator) error
}
