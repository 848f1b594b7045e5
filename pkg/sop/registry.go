package sop

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds every procedure the engine knows about, indexed by id,
// with the full version history retained per id (Propose never discards a
// prior version; Activate only changes which one is current).
//
// A mutex-guarded map with defensive copies on read, generalized from one
// active procedure per id to a version history per id.
type Registry struct {
	mu       sync.RWMutex
	active   map[string]*Definition   // id -> currently active version
	versions map[string][]*Definition // id -> all versions, oldest first
	order    []string                 // sorted ids, for deterministic Resolve iteration
}

// NewRegistry builds a Registry from an initial set of definitions, each
// of which is activated immediately (the startup-load path; later versions
// arrive via Propose/Activate instead).
func NewRegistry(defs []Definition) *Registry {
	r := &Registry{
		active:   make(map[string]*Definition),
		versions: make(map[string][]*Definition),
	}
	for i := range defs {
		d := defs[i]
		d.Active = true
		r.versions[d.ID] = []*Definition{&d}
		r.active[d.ID] = &d
	}
	r.rebuildOrder()
	return r
}

func (r *Registry) rebuildOrder() {
	order := make([]string, 0, len(r.versions))
	for id := range r.versions {
		order = append(order, id)
	}
	sort.Strings(order)
	r.order = order
}

// Get returns the active version of the procedure id.
func (r *Registry) Get(id string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.active[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *d, nil
}

// GetVersion returns a specific version of procedure id, active or not.
func (r *Registry) GetVersion(id string, version int) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.versions[id] {
		if d.Version == version {
			return *d, nil
		}
	}
	if _, ok := r.versions[id]; !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return Definition{}, fmt.Errorf("%w: %s v%d", ErrVersionNotFound, id, version)
}

// Versions returns every retained version of procedure id, oldest first.
func (r *Registry) Versions(id string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vs := r.versions[id]
	out := make([]Definition, len(vs))
	for i, d := range vs {
		out[i] = *d
	}
	return out
}

// Propose adds a new version of a procedure to its history without making
// it active. The registry refuses a version number that already exists
// for this id, since versions are append-only and never overwritten.
func (r *Registry) Propose(def Definition) error {
	if err := validate(def); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.versions[def.ID] {
		if existing.Version == def.Version {
			return fmt.Errorf("%w: %s v%d already proposed", ErrValidationFailed, def.ID, def.Version)
		}
	}
	def.Active = false
	r.versions[def.ID] = append(r.versions[def.ID], &def)
	r.rebuildOrder()
	return nil
}

// Activate promotes version of procedure id to active, demoting whatever
// was active before — without removing it from Versions.
func (r *Registry) Activate(id string, version int) (Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var target *Definition
	for _, d := range r.versions[id] {
		if d.Version == version {
			target = d
			break
		}
	}
	if target == nil {
		return Definition{}, fmt.Errorf("%w: %s v%d", ErrVersionNotFound, id, version)
	}
	if cur, ok := r.active[id]; ok && cur.Version == version {
		return *cur, ErrAlreadyActive
	}
	if cur, ok := r.active[id]; ok {
		cur.Active = false
	}
	target.Active = true
	r.active[id] = target
	return *target, nil
}

// All returns the active version of every procedure, in deterministic
// (sorted-by-id) order — the same order Resolve iterates.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, id := range r.order {
		if d, ok := r.active[id]; ok {
			out = append(out, *d)
		}
	}
	return out
}

// Len reports the number of procedures with an active version.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
