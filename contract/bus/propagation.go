package bus

import "context"

// HeaderPropagator moves request-scoped values such as trace context between a context and
// the string headers of a transport message. Inject runs on the calling side before a request
// is sent; Extract runs on the responding side before the request is dispatched.
// Implementations must be safe for concurrent use.
type HeaderPropagator interface {
	Inject(ctx context.Context, headers map[string]string)
	Extract(ctx context.Context, headers map[string]string) context.Context
}

// NopHeaderPropagator leaves headers and contexts untouched.
type NopHeaderPropagator struct{}

func (NopHeaderPropagator) Inject(context.Context, map[string]string) {}

func (NopHeaderPropagator) Extract(ctx context.Context, _ map[string]string) context.Context {
	return ctx
}
