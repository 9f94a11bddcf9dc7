package cache

import "sync"

// UniquenessRegistry tracks values that must be unique or deduplicated
// system-wide: registered emails, the specialties catalog, visited-doctor
// ids per patient. Sets are namespaced by name so unrelated domains never
// collide; per-patient sets embed the patient id in the set name.
type UniquenessRegistry struct {
	mu   sync.RWMutex
	sets map[string]*idSet
}

func NewUniquenessRegistry() *UniquenessRegistry {
	return &UniquenessRegistry{sets: make(map[string]*idSet)}
}

// Add inserts value into the named set. Inserting an existing value is a
// no-op.
func (r *UniquenessRegistry) Add(set, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sets[set]
	if !ok {
		s = newIDSet()
		r.sets[set] = s
	}
	s.add(value)
}

func (r *UniquenessRegistry) Contains(set, value string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sets[set]
	if !ok {
		return false
	}
	_, ok = s.member[value]
	return ok
}

// Values returns a snapshot of the named set.
func (r *UniquenessRegistry) Values(set string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sets[set]
	if !ok {
		return nil
	}
	return s.values()
}

func (r *UniquenessRegistry) Remove(set, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sets[set]
	if !ok {
		return
	}
	s.remove(value)
	if s.empty() {
		delete(r.sets, set)
	}
}

// Clear drops every set, used on session teardown.
func (r *UniquenessRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = make(map[string]*idSet)
}
