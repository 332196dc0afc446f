/*
Package autorespond discovers request handlers among a set of candidate types and registers
a dispatch adapter for each of them with a request/response bus.

A candidate type declares a capability either conventionally, by having a method

	Handle(ctx context.Context, req Req) (Res, error)           // Sync
	HandleAsync(ctx context.Context, req Req) *bus.Future[Res]  // Async

in its method set, or explicitly, by implementing CapabilityDeclarer and listing method
expressions built with Handles and HandlesAsync. The explicit form lets one type respond to
several request types and carry per-method configuration overrides.

Each discovered capability becomes a Binding. A Dispatcher turns a Binding into a
type-erased adapter that opens a resolver scope per request, resolves a fresh handler
instance, invokes it and releases the scope; for asynchronous handlers the scope is released
only once the returned future has settled.

AutoResponder ties it together: it selects the bus entry point, discovers bindings, merges
the global configurator with per-handler overrides and registers every adapter.
*/
package autorespond
