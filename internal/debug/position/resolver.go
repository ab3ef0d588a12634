// Package position resolves debugger positions that refer to include-expanded
// pseudo sources back to concrete file positions.
package position

import (
	"fmt"

	"github.com/dshills/scriptdbg/internal/source"
)

// Position is a line within a source unit.
type Position struct {
	Unit source.UnitID
	Line int
}

// IsZero reports whether p is the unknown position.
func (p Position) IsZero() bool {
	return p.Unit == source.Unknown
}

// String returns "unit:line".
func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Unit, p.Line)
}

// Registry is the part of the source registry the resolver depends on.
type Registry interface {
	// PseudoOffset returns the first pseudo unit id.
	PseudoOffset() source.UnitID
	// Expander returns the expander at the given index.
	Expander(index int) (source.Expander, bool)
	// ID returns the unit id of path, creating one if needed.
	ID(path string) source.UnitID
}

// Resolver maps (unit, line) pairs to concrete positions and caches the
// answers for pseudo units. The cache is never invalidated implicitly: an
// expander's line mapping is assumed stable for the lifetime of a session.
//
// Resolver is not safe for concurrent use; the debugger touches it only from
// the event loop goroutine.
type Resolver struct {
	reg   Registry
	cache map[Position]Position
}

// NewResolver creates a resolver backed by reg.
func NewResolver(reg Registry) *Resolver {
	return &Resolver{
		reg:   reg,
		cache: make(map[Position]Position),
	}
}

// Resolve returns the concrete position for (unit, line).
//
// Concrete units pass through unchanged. Pseudo units are translated through
// their expander once and then served from the cache. A pseudo id without an
// active expander resolves to the zero position, and so does a translation
// that lands in another pseudo unit: only one level of indirection exists.
func (r *Resolver) Resolve(unit source.UnitID, line int) Position {
	offset := r.reg.PseudoOffset()
	if unit < offset {
		return Position{Unit: unit, Line: line}
	}

	key := Position{Unit: unit, Line: line}
	if pos, ok := r.cache[key]; ok {
		return pos
	}

	exp, ok := r.reg.Expander(int(unit - offset))
	if !ok {
		return Position{}
	}

	path, origLine := exp.Translate(line)
	id := r.reg.ID(path)
	if id >= offset {
		id = source.Unknown
	}

	pos := Position{Unit: id, Line: origLine}
	r.cache[key] = pos
	return pos
}

// Len returns the number of cached pseudo positions.
func (r *Resolver) Len() int {
	return len(r.cache)
}

// Reset drops all cached resolutions. Hosts call it between sessions when
// expanders are replaced.
func (r *Resolver) Reset() {
	r.cache = make(map[Position]Position)
}
