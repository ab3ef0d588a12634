// Package source tracks the script source units the debugger knows about.
//
// Every real script file gets a small positive UnitID. Ids at or above the
// registry's pseudo offset do not name files: they index the list of active
// include expanders, each of which produced one expanded pseudo source.
package source

import (
	"path/filepath"
	"sort"
	"sync"
)

// UnitID identifies a source unit.
type UnitID int

// Unknown is the id of positions that cannot be attributed to any unit.
const Unknown UnitID = 0

// DefaultPseudoOffset is the first id reserved for include-expanded units.
const DefaultPseudoOffset UnitID = 1_000_000

// Expander translates lines of an expanded pseudo source back to the file
// and line they were taken from.
type Expander interface {
	// Translate returns the original path and line for a line of the
	// expanded text. It returns ("", 0) when the line is out of range.
	Translate(line int) (path string, origLine int)
}

// Registry maps source paths to unit ids and keeps the active expanders.
type Registry struct {
	mu sync.RWMutex

	offset    UnitID
	byPath    map[string]UnitID
	paths     []string // paths[id-1]
	expanders []Expander
}

// Option configures a Registry.
type Option func(*Registry)

// WithPseudoOffset sets the first pseudo unit id.
func WithPseudoOffset(offset UnitID) Option {
	return func(r *Registry) {
		if offset > 1 {
			r.offset = offset
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		offset: DefaultPseudoOffset,
		byPath: make(map[string]UnitID),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PseudoOffset returns the first id reserved for pseudo units.
func (r *Registry) PseudoOffset() UnitID {
	return r.offset
}

// IsPseudo reports whether id refers to an include-expanded unit.
func (r *Registry) IsPseudo(id UnitID) bool {
	return id >= r.offset
}

// ID returns the unit id for path, registering the path if needed.
// It returns Unknown for an empty path or when the real id range is exhausted.
func (r *Registry) ID(path string) UnitID {
	if path == "" {
		return Unknown
	}
	key := normalize(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byPath[key]; ok {
		return id
	}
	id := UnitID(len(r.paths) + 1)
	if id >= r.offset {
		return Unknown
	}
	r.paths = append(r.paths, key)
	r.byPath[key] = id
	return id
}

// Lookup returns the id of an already registered path.
func (r *Registry) Lookup(path string) (UnitID, bool) {
	if path == "" {
		return Unknown, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPath[normalize(path)]
	return id, ok
}

// Path returns the path of a real unit, or "" if id is not registered.
func (r *Registry) Path(id UnitID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id <= Unknown || int(id) > len(r.paths) {
		return ""
	}
	return r.paths[id-1]
}

// Known reports whether id is a registered real unit.
func (r *Registry) Known(id UnitID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return id > Unknown && int(id) <= len(r.paths)
}

// IDs returns all registered real unit ids in ascending order.
func (r *Registry) IDs() []UnitID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]UnitID, len(r.paths))
	for i := range r.paths {
		ids[i] = UnitID(i + 1)
	}
	return ids
}

// Paths returns all registered paths sorted by name.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.paths))
	copy(out, r.paths)
	sort.Strings(out)
	return out
}

// AddExpander activates an expander and returns its pseudo unit id.
func (r *Registry) AddExpander(e Expander) UnitID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expanders = append(r.expanders, e)
	return r.offset + UnitID(len(r.expanders)-1)
}

// Expander returns the expander at index, i.e. pseudo id minus offset.
func (r *Registry) Expander(index int) (Expander, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.expanders) {
		return nil, false
	}
	return r.expanders[index], true
}

// ExpanderCount returns the number of active expanders.
func (r *Registry) ExpanderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.expanders)
}

// ResetExpanders drops all active expanders. Pseudo ids handed out before
// the reset no longer resolve.
func (r *Registry) ResetExpanders() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expanders = nil
}

func normalize(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
