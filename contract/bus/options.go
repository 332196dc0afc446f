package bus

// Configuration is the mutable responder configuration a bus hands to a Configurator
// while registering a responder.
type Configuration interface {
	WithPrefetchCount(n uint16) Configuration
	WithQueueName(name string) Configuration
}

// Configurator mutates a responder configuration. A nil Configurator is a no-op.
type Configurator func(Configuration)

// Options is the plain Configuration implementation used by buses and tests.
// Zero values mean "not set".
type Options struct {
	PrefetchCount uint16
	QueueName     string
}

var _ Configuration = (*Options)(nil)

// WithPrefetchCount sets how many unacknowledged requests the responder may hold.
func (o *Options) WithPrefetchCount(n uint16) Configuration {
	o.PrefetchCount = n
	return o
}

// WithQueueName sets the destination the responder consumes from.
func (o *Options) WithQueueName(name string) Configuration {
	o.QueueName = name
	return o
}

// ApplyOptions runs the configurators in order over base and returns the result.
func ApplyOptions(base Options, fns ...Configurator) Options {
	for _, fn := range fns {
		if fn != nil {
			fn(&base)
		}
	}

	return base
}
