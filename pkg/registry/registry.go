// Package registry implements the per-connection id registries and the
// per-entity state machines they hold: OutboundClient, InboundClient,
// InboundRequest, OutboundRequest, InboundStream, OutboundStream.
//
// Locking discipline: a registry lock is held only for a single
// get/put/remove and is never held across I/O or executor submission.
// Each entity guards its own fields with a private lock that is taken and
// released inside that entity's methods, so no entity lock is ever held
// while a registry lock is acquired, nor across executor submission.
package registry

import "sync"

// Registry is a concurrent id-keyed map holding entities of one kind. An id
// is present in at most one registry at any time, enforced by callers
// choosing the right registry per command, never by the Registry itself.
type Registry[V any] struct {
	mu   sync.Mutex
	byID map[uint32]V
}

// New returns an empty Registry.
func New[V any]() *Registry[V] {
	return &Registry[V]{byID: make(map[uint32]V)}
}

// Get returns the entity for id, or the zero value and ok=false if absent.
func (r *Registry[V]) Get(id uint32) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	return v, ok
}

// Put inserts v under id, overwriting any existing entry. Callers that
// need insert-only-if-absent semantics (first REQUEST frame) use
// PutIfAbsent instead.
func (r *Registry[V]) Put(id uint32, v V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = v
}

// PutIfAbsent inserts v under id only if id is not already present.
// Returns ok=false if id was already present, in which case v is not
// inserted.
func (r *Registry[V]) PutIfAbsent(id uint32, v V) (ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; exists {
		return false
	}
	r.byID[id] = v
	return true
}

// Remove deletes id and returns the entity that was stored there, if any.
func (r *Registry[V]) Remove(id uint32) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
	}
	return v, ok
}

// Count returns the number of entities currently registered.
func (r *Registry[V]) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Each calls fn for every entity currently registered, in no particular
// order. Used by connection teardown to cancel every in-flight entity; fn
// must not call back into the Registry.
func (r *Registry[V]) Each(fn func(id uint32, v V)) {
	r.mu.Lock()
	snapshot := make(map[uint32]V, len(r.byID))
	for id, v := range r.byID {
		snapshot[id] = v
	}
	r.mu.Unlock()

	for id, v := range snapshot {
		fn(id, v)
	}
}
