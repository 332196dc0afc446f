package bus

import "context"

// RequestHandler handles requests of type Req and returns a response of type Res.
// Implementations are resolved per request, so they need not be safe for concurrent use
// unless the configured resolver shares instances.
type RequestHandler[Req, Res any] interface {
	Handle(ctx context.Context, req Req) (Res, error)
}

// AsyncRequestHandler handles requests of type Req and returns a future response of type Res.
// The handler instance stays alive until the returned future settles.
type AsyncRequestHandler[Req, Res any] interface {
	HandleAsync(ctx context.Context, req Req) *Future[Res]
}
