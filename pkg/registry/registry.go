// Package registry maps handler keys to handler functions.
//
// A registry is filled before workers start. Worker.Start freezes it, after
// which Register fails with core.ErrRegistryFrozen and lookups need no
// coordination beyond a read lock.
package registry

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
	"github.com/jdziat/simple-lease-jobs/pkg/internal/handler"
	"github.com/jdziat/simple-lease-jobs/pkg/security"
)

// Registry holds the handler bound to each key.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]entry
	frozen   bool
}

type entry struct {
	handler *handler.Handler
	code    uintptr
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]entry)}
}

// Register binds key to fn. Binding a key to the function it already holds
// is a no-op; binding it to a different function returns core.ErrDuplicateHandler.
func (r *Registry) Register(key string, fn any) error {
	if err := security.ValidateHandlerKey(key); err != nil {
		return fmt.Errorf("%w: %q", err, key)
	}

	h, err := handler.NewHandler(fn)
	if err != nil {
		return fmt.Errorf("jobs: handler for %q: %w", key, err)
	}
	code := h.Fn.Pointer()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: cannot register %q", core.ErrRegistryFrozen, key)
	}
	if existing, ok := r.handlers[key]; ok {
		if existing.code == code && existing.handler.Fn.Type() == h.Fn.Type() {
			return nil
		}
		return fmt.Errorf("%w: %q", core.ErrDuplicateHandler, key)
	}

	r.handlers[key] = entry{handler: h, code: code}
	return nil
}

// MustRegister is Register that panics on error, for init-time wiring.
func (r *Registry) MustRegister(key string, fn any) {
	if err := r.Register(key, fn); err != nil {
		panic(err.Error())
	}
}

// Resolve returns the handler bound to key.
func (r *Registry) Resolve(key string) (*handler.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.handlers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownHandler, key)
	}
	return e.handler, nil
}

// Has reports whether key is bound.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[key]
	return ok
}

// Keys returns the bound keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Freeze rejects further registrations. It is idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// TypeOf returns the function type bound to key, for diagnostics.
func (r *Registry) TypeOf(key string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.handlers[key]
	if !ok {
		return nil, false
	}
	return e.handler.Fn.Type(), true
}
