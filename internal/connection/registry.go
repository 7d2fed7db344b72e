package connection

import "sync"

// Listener identifies one registration in a registry. Removal matches on the
// Listener pointer, so registering the same function twice yields two
// independent Listeners.
type Listener struct {
	fn any
}

// registry maps keys to ordered listener lists. A key is present only while
// its list is non-empty.
type registry[K comparable] struct {
	mu        sync.RWMutex
	listeners map[K][]*Listener
}

func newRegistry[K comparable]() *registry[K] {
	return &registry[K]{
		listeners: make(map[K][]*Listener),
	}
}

// on appends a listener for key, creating the list if absent.
func (r *registry[K]) on(key K, fn any) *Listener {
	l := &Listener{fn: fn}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners[key] = append(r.listeners[key], l)
	return l
}

// off removes the first occurrence of l under key and deletes the key once
// its list is empty. Unknown listeners are ignored.
func (r *registry[K]) off(key K, l *Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.listeners[key]
	if !ok {
		return
	}

	for i, existing := range list {
		if existing != l {
			continue
		}
		next := make([]*Listener, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.listeners, key)
		} else {
			r.listeners[key] = next
		}
		return
	}
}

// snapshot returns a copy of the listeners for key. Registrations made while
// the caller iterates the copy only affect later snapshots.
func (r *registry[K]) snapshot(key K) ([]*Listener, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list, ok := r.listeners[key]
	if !ok {
		return nil, false
	}
	out := make([]*Listener, len(list))
	copy(out, list)
	return out, true
}

// keys returns the registered keys, for diagnostics.
func (r *registry[K]) keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]K, 0, len(r.listeners))
	for k := range r.listeners {
		out = append(out, k)
	}
	return out
}
