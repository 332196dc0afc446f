package autorespond

import cbus "github.com/next-trace/scg-autorespond/contract/bus"

// ResolveConfiguration composes the configurator registered for b: global runs first, then the
// binding's override replaces the prefetch count when it is positive and the queue name when
// it is non-empty. Without an override the result only applies global.
func ResolveConfiguration(b Binding, global cbus.Configurator) cbus.Configurator {
	o, ok := b.Override()

	return func(c cbus.Configuration) {
		if global != nil {
			global(c)
		}

		if !ok {
			return
		}

		// zero means "unset"; the bus default stays in place
		if o.PrefetchCount > 0 {
			c.WithPrefetchCount(o.PrefetchCount)
		}

		if o.QueueName != "" {
			c.WithQueueName(o.QueueName)
		}
	}
}
