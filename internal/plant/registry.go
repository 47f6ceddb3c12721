package plant

import (
	"slices"
	"sync"

	"codeberg.org/mutker/pvdash/internal/errors"
)

// Registry is the ordered set of tracked plants. It owns each plant's derived
// state; readers only ever receive copies.
type Registry struct {
	mu        sync.RWMutex
	plants    map[Key]*Plant
	order     []Key
	lastEpoch uint64
}

func NewRegistry() *Registry {
	return &Registry{
		plants: make(map[Key]*Plant),
	}
}

// Add registers p with zeroed derived state and returns the assigned epoch.
func (r *Registry) Add(p Plant) (uint64, error) {
	if p.Key == "" {
		return 0, errors.New().New(ErrEmptyKey)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plants[p.Key]; ok {
		return 0, &DuplicateKeyError{Key: p.Key}
	}

	r.lastEpoch++
	p.Epoch = r.lastEpoch
	p.Derived = Derived{}
	r.plants[p.Key] = &p
	r.order = append(r.order, p.Key)

	return p.Epoch, nil
}

// Remove unregisters key. Removing an absent key is a no-op.
func (r *Registry) Remove(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.plants[key]; !ok {
		return false
	}
	delete(r.plants, key)

	for i, k := range r.order {
		if k == key {
			r.order = slices.Delete(r.order, i, i+1)
			break
		}
	}

	return true
}

// Snapshot returns a deep copy of the current membership in insertion order.
func (r *Registry) Snapshot() []Plant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Plant, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.plants[k].clone())
	}
	return out
}

// Find returns a copy of the plant registered under key.
func (r *Registry) Find(key Key) (Plant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plants[key]
	if !ok {
		return Plant{}, false
	}
	return p.clone(), true
}

// Update runs fn against the live derived state of key while holding the
// registry lock. A non-zero epoch must match the registered incarnation.
// It reports whether fn ran.
func (r *Registry) Update(key Key, epoch uint64, fn func(*Derived)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.plants[key]
	if !ok {
		return false
	}
	if epoch != 0 && p.Epoch != epoch {
		return false
	}

	fn(&p.Derived)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Key, len(r.order))
	copy(out, r.order)
	return out
}
