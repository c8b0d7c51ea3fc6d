package registry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Snapshot is an immutable view of the registry at one instant. Lookups and
// listings against a snapshot are stable even while writers swap in new
// ones; in-flight calls are never retroactively affected by mutation.
type Snapshot struct {
	byName map[string]*Definition
}

// Lookup resolves a definition by name.
func (s *Snapshot) Lookup(name string) (*Definition, bool) {
	d, ok := s.byName[name]
	return d, ok
}

// All returns every definition, sorted by name for deterministic listings.
func (s *Snapshot) All() []*Definition {
	out := make([]*Definition, 0, len(s.byName))
	for _, d := range s.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HasKind reports whether at least one definition of the given category is
// present. The initialize handshake uses this to decide which notification
// topics to advertise.
func (s *Snapshot) HasKind(k Kind) bool {
	for _, d := range s.byName {
		if d.Kind == k {
			return true
		}
	}
	return false
}

// Registry is the shared table of callable definitions. Reads go through an
// atomically swapped snapshot and never block; writers serialize among
// themselves and publish a full copy.
type Registry struct {
	writeMu sync.Mutex
	current atomic.Pointer[Snapshot]
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	r.current.Store(&Snapshot{byName: make(map[string]*Definition)})
	return r
}

// Snapshot returns the current immutable view.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Register validates and adds a definition, effective immediately for
// subsequent lookups. Registering an existing name replaces it.
func (r *Registry) Register(d *Definition) error {
	if err := d.validate(); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	old := r.current.Load()
	next := make(map[string]*Definition, len(old.byName)+1)
	for k, v := range old.byName {
		next[k] = v
	}
	next[d.Name] = d
	r.current.Store(&Snapshot{byName: next})
	return nil
}

// Unregister removes a definition by name. Not retroactive: calls already
// dispatched against an older snapshot run to completion.
func (r *Registry) Unregister(name string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	old := r.current.Load()
	if _, ok := old.byName[name]; !ok {
		return fmt.Errorf("registry: %q is not registered", name)
	}
	next := make(map[string]*Definition, len(old.byName)-1)
	for k, v := range old.byName {
		if k != name {
			next[k] = v
		}
	}
	r.current.Store(&Snapshot{byName: next})
	return nil
}
