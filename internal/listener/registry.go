// Package listener provides a keyed registry of event handlers.
//
// A Registry maps a key (an event type, a key name, a gesture name) to an
// ordered list of handlers. Dispatch runs every handler registered for the
// key in registration order; a handler that returns an error or panics is
// logged and reported, and the remaining handlers still run.
//
// Registration never fails and duplicates are kept: registering the same
// function twice produces two entries with distinct RegistrationIDs.
// Unregistering an id removes exactly that entry and is a no-op when the id
// is unknown.
package listener

import (
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"atbridge/internal/logging"
)

// Handler processes one dispatched payload.
type Handler[P any] func(P) error

// RegistrationID identifies one registration. Zero is never issued.
type RegistrationID uint64

// HandlerError describes a handler that failed during Dispatch.
type HandlerError struct {
	Key       string
	ID        RegistrationID
	Err       error
	Panicked  bool
	Stack     []byte
	Recovered any
}

func (e *HandlerError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("listener %s#%d panicked: %v", e.Key, e.ID, e.Recovered)
	}
	return fmt.Sprintf("listener %s#%d: %v", e.Key, e.ID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// DispatchResult summarizes one Dispatch call.
type DispatchResult struct {
	Invoked  int
	Failures []*HandlerError
}

// OK reports whether every handler succeeded.
func (r DispatchResult) OK() bool {
	return len(r.Failures) == 0
}

type entry[P any] struct {
	id      RegistrationID
	handler Handler[P]
}

// Registry is safe for concurrent use. Handlers may register or unregister
// from inside a dispatch; the change applies to the next Dispatch.
type Registry[K comparable, P any] struct {
	mu        sync.RWMutex
	entries   map[K][]entry[P]
	nextID    atomic.Uint64
	logger    *logging.Logger
	onFailure func(*HandlerError)
	name      string
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	logger    *logging.Logger
	onFailure func(*HandlerError)
	name      string
}

// WithLogger sets the logger used to report handler failures.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithFailureHook is called once per failed handler, after logging.
func WithFailureHook(fn func(*HandlerError)) Option {
	return func(o *options) { o.onFailure = fn }
}

// WithName labels log records from this registry.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// New creates an empty registry.
func New[K comparable, P any](opts ...Option) *Registry[K, P] {
	o := options{name: "listeners"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Default().WithComponent("listener")
	}
	return &Registry[K, P]{
		entries:   make(map[K][]entry[P]),
		logger:    o.logger,
		onFailure: o.onFailure,
		name:      o.name,
	}
}

// Register appends h to the handlers for key.
func (r *Registry[K, P]) Register(key K, h Handler[P]) RegistrationID {
	id := RegistrationID(r.nextID.Add(1))

	r.mu.Lock()
	r.entries[key] = append(r.entries[key], entry[P]{id: id, handler: h})
	r.mu.Unlock()
	return id
}

// Unregister removes the registration id under key. It reports whether an
// entry was removed.
func (r *Registry[K, P]) Unregister(key K, id RegistrationID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.entries[key]
	for i, e := range list {
		if e.id != id {
			continue
		}
		// Copy so snapshots handed to in-flight dispatches stay intact.
		next := make([]entry[P], 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.entries, key)
		} else {
			r.entries[key] = next
		}
		return true
	}
	return false
}

// Dispatch invokes every handler registered for key, in registration order.
func (r *Registry[K, P]) Dispatch(key K, payload P) DispatchResult {
	r.mu.RLock()
	snapshot := r.entries[key]
	r.mu.RUnlock()

	result := DispatchResult{Invoked: len(snapshot)}
	for _, e := range snapshot {
		if herr := r.invoke(key, e, payload); herr != nil {
			result.Failures = append(result.Failures, herr)
		}
	}
	return result
}

func (r *Registry[K, P]) invoke(key K, e entry[P], payload P) (herr *HandlerError) {
	defer func() {
		if rec := recover(); rec != nil {
			herr = &HandlerError{
				Key:       fmt.Sprint(key),
				ID:        e.id,
				Err:       fmt.Errorf("panic: %v", rec),
				Panicked:  true,
				Stack:     debug.Stack(),
				Recovered: rec,
			}
		}
		if herr != nil {
			r.report(herr)
		}
	}()

	if err := e.handler(payload); err != nil {
		return &HandlerError{Key: fmt.Sprint(key), ID: e.id, Err: err}
	}
	return nil
}

func (r *Registry[K, P]) report(herr *HandlerError) {
	if herr.Panicked {
		r.logger.Error("listener panicked",
			"registry", r.name,
			"key", herr.Key,
			"id", uint64(herr.ID),
			"panic", fmt.Sprint(herr.Recovered),
			"stack", string(herr.Stack),
		)
	} else {
		r.logger.Warn("listener failed",
			"registry", r.name,
			"key", herr.Key,
			"id", uint64(herr.ID),
			"error", herr.Err,
		)
	}
	if r.onFailure != nil {
		r.onFailure(herr)
	}
}

// Len returns the number of handlers registered for key.
func (r *Registry[K, P]) Len(key K) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[key])
}

// Total returns the number of handlers across all keys.
func (r *Registry[K, P]) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, list := range r.entries {
		n += len(list)
	}
	return n
}

// Keys returns every key with at least one handler, sorted by their
// formatted value.
func (r *Registry[K, P]) Keys() []K {
	r.mu.RLock()
	keys := make([]K, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j]) })
	return keys
}

// Has reports whether any handler is registered for key.
func (r *Registry[K, P]) Has(key K) bool {
	return r.Len(key) > 0
}

// Clear removes every registration.
func (r *Registry[K, P]) Clear() {
	r.mu.Lock()
	r.entries = make(map[K][]entry[P])
	r.mu.Unlock()
}
