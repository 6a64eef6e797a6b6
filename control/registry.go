package control

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/user-none/emubridge/wire"
)

var (
	// ErrReserved is returned when registering a name the subprocess uses
	// for built-in notifications.
	ErrReserved = errors.New("control: reserved method name")

	// ErrDuplicate is returned when a handler is already registered under
	// the name.
	ErrDuplicate = errors.New("control: handler already registered")
)

// Handler answers a named call from the subprocess. The bool result reports
// whether a return value is present. Handlers run on the RPC goroutine, not
// the main thread.
type Handler func(arg string) (string, bool)

// WatchFunc receives values pushed for a watch. It runs on the main thread.
type WatchFunc func(v wire.WatchValue)

type watchEntry struct {
	w  wire.Watch
	fn WatchFunc
}

// Registry maps method names to handlers and watch keys to callbacks. It is
// safe for concurrent use and outlives individual sessions.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	watches  map[uint64]watchEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		watches:  make(map[uint64]watchEntry),
	}
}

// IsReserved reports whether name is handled internally.
func IsReserved(name string) bool {
	return name == wire.MethodROMLoaded || name == wire.MethodWatchValue
}

// Register adds h under name.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" || h == nil {
		return fmt.Errorf("control: register %q: empty name or nil handler", name)
	}
	if IsReserved(name) {
		return fmt.Errorf("%w: %q", ErrReserved, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	r.handlers[name] = h
	return nil
}

// Unregister removes the handler for name and reports whether one existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[name]
	delete(r.handlers, name)
	return ok
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Watch registers fn for w and returns the watch key. Registering the same
// key again replaces the callback.
func (r *Registry) Watch(w wire.Watch, fn WatchFunc) (uint64, error) {
	if fn == nil {
		return 0, errors.New("control: nil watch callback")
	}
	if err := w.Validate(); err != nil {
		return 0, err
	}
	key := w.Key()
	r.mu.Lock()
	r.watches[key] = watchEntry{w: w, fn: fn}
	r.mu.Unlock()
	return key, nil
}

// Unwatch removes the watch with key and returns it.
func (r *Registry) Unwatch(key uint64) (wire.Watch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.watches[key]
	delete(r.watches, key)
	return e.w, ok
}

func (r *Registry) watchFunc(key uint64) (WatchFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.watches[key]
	return e.fn, ok
}

// Watches returns every registered watch ordered by key.
func (r *Registry) Watches() []wire.Watch {
	r.mu.RLock()
	keys := make([]uint64, 0, len(r.watches))
	for k := range r.watches {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]wire.Watch, len(keys))
	for i, k := range keys {
		out[i] = r.watches[k].w
	}
	r.mu.RUnlock()
	return out
}
