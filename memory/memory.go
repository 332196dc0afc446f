package memory

import (
	"log/slog"

	"github.com/next-trace/scg-autorespond/autorespond"
	"github.com/next-trace/scg-autorespond/servicebus"
)

// Bus is an in-process service bus paired with the auto-responder that registers into it.
type Bus struct {
	*servicebus.Bus

	Responder *autorespond.AutoResponder
}

// New constructs an in-process service bus and an AutoResponder bound to it, along with a
// cleanup function that closes the bus. Responder options are passed through; the bus and the
// responder share the given logger.
func New(logger *slog.Logger, opts ...autorespond.Option) (*Bus, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	sb := servicebus.New(logger)

	ar, err := autorespond.New(sb, append([]autorespond.Option{autorespond.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() { _ = sb.Close() }

	return &Bus{Bus: sb, Responder: ar}, cleanup, nil
}
