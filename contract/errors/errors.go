package errors

// Error codes for the responder contracts. Keep stable; used across adapters, the bus and the engine.
const (
	ErrCodeNoCandidates           = "autorespond.no_candidates"
	ErrCodeNilSink                = "autorespond.nil_sink"
	ErrCodeEntryPointNotFound     = "autorespond.entry_point_not_found"
	ErrCodeEntryPointAmbiguous    = "autorespond.entry_point_ambiguous"
	ErrCodeIntrospectionFailed    = "autorespond.introspection_failed"
	ErrCodeResolveFailed          = "autorespond.resolve_failed"
	ErrCodeNilFuture              = "autorespond.nil_future"
	ErrCodeHandlerExists          = "servicebus.handler_exists"
	ErrCodeHandlerNotFound        = "servicebus.handler_not_found"
	ErrCodeHandlerTypeMismatch    = "servicebus.handler_type_mismatch"
	ErrCodeSerializationFailed    = "servicebus.serialization_failed"
	ErrCodePublishFailed          = "servicebus.publish_failed"
	ErrCodeTransportNotConfigured = "servicebus.transport_not_configured"
	ErrCodeRemoteFault            = "servicebus.remote_fault"
	ErrCodeBusClosed              = "servicebus.closed"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrNoCandidates           = Code(ErrCodeNoCandidates)
	ErrNilSink                = Code(ErrCodeNilSink)
	ErrEntryPointNotFound     = Code(ErrCodeEntryPointNotFound)
	ErrEntryPointAmbiguous    = Code(ErrCodeEntryPointAmbiguous)
	ErrIntrospectionFailed    = Code(ErrCodeIntrospectionFailed)
	ErrResolveFailed          = Code(ErrCodeResolveFailed)
	ErrNilFuture              = Code(ErrCodeNilFuture)
	ErrHandlerExists          = Code(ErrCodeHandlerExists)
	ErrHandlerNotFound        = Code(ErrCodeHandlerNotFound)
	ErrHandlerTypeMismatch    = Code(ErrCodeHandlerTypeMismatch)
	ErrSerializationFailed    = Code(ErrCodeSerializationFailed)
	ErrPublishFailed          = Code(ErrCodePublishFailed)
	ErrTransportNotConfigured = Code(ErrCodeTransportNotConfigured)
	ErrRemoteFault            = Code(ErrCodeRemoteFault)
	ErrBusClosed              = Code(ErrCodeBusClosed)
)
