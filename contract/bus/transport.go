package bus

import (
	"context"
	"reflect"
)

// Endpoint is a registered responder as seen by a transport.
type Endpoint struct {
	Queue         string
	PrefetchCount uint16
	RequestType   reflect.Type
	ResponseType  reflect.Type
	Handle        DispatchFunc
}

// Server exposes endpoints over a transport.
// Serve blocks until ctx is done or a consumer fails; it returns nil on cancellation.
type Server interface {
	Serve(ctx context.Context, endpoints ...Endpoint) error
}

// Client sends one encoded request to the responder consuming queue and returns the encoded reply.
// A reply marked as faulted by the responder is returned as an error wrapping ErrRemoteFault.
type Client interface {
	Call(ctx context.Context, queue string, body []byte, headers map[string]string) ([]byte, error)
}
