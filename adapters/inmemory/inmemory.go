package inmemory

import (
	"reflect"
	"sync"

	cbus "github.com/next-trace/scg-autorespond/contract/bus"
)

// Registration is one recorded call to a responder entry point.
type Registration struct {
	Request       reflect.Type
	Response      reflect.Type
	Dispatch      cbus.DispatchFunc
	DispatchAsync cbus.AsyncDispatchFunc
	Configure     cbus.Configurator
}

// Options evaluates the recorded configurator over empty options.
func (r Registration) Options() cbus.Options {
	return cbus.ApplyOptions(cbus.Options{}, r.Configure)
}

// Recorder is a thread-safe in-memory responder sink.
// It records every registration for testing and examples and never dispatches anything itself.
type Recorder struct {
	mu    sync.Mutex
	sync  []Registration
	async []Registration
	err   error
}

var (
	_ cbus.Responder      = (*Recorder)(nil)
	_ cbus.AsyncResponder = (*Recorder)(nil)
)

// New creates a new in-memory recorder.
func New() *Recorder { return &Recorder{} }

// FailWith makes every later entry point call return err after recording the call.
// A nil err restores success.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.err = err
}

func (r *Recorder) Respond(req, res reflect.Type, dispatch cbus.DispatchFunc, configure cbus.Configurator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sync = append(r.sync, Registration{Request: req, Response: res, Dispatch: dispatch, Configure: configure})

	return r.err
}

func (r *Recorder) RespondAsync(req, res reflect.Type, dispatch cbus.AsyncDispatchFunc, configure cbus.Configurator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.async = append(r.async, Registration{Request: req, Response: res, DispatchAsync: dispatch, Configure: configure})

	return r.err
}

// Registrations returns a snapshot of all recorded registrations, synchronous first.
func (r *Recorder) Registrations() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Registration, 0, len(r.sync)+len(r.async))
	out = append(out, r.sync...)

	return append(out, r.async...)
}

// SyncRegistrations returns a snapshot of the recorded Respond calls.
func (r *Recorder) SyncRegistrations() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Registration(nil), r.sync...)
}

// AsyncRegistrations returns a snapshot of the recorded RespondAsync calls.
func (r *Recorder) AsyncRegistrations() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Registration(nil), r.async...)
}
