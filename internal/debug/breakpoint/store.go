// Package breakpoint keeps the line breakpoints of every source unit.
package breakpoint

import (
	"sort"

	"github.com/dshills/scriptdbg/internal/source"
)

// Store holds a set of breakpoint lines per source unit.
//
// The store is mutated only by explicit user actions and read by the
// debugger on every trace event. It is not safe for concurrent use; all
// access happens on the event loop goroutine.
type Store struct {
	byUnit map[source.UnitID]map[int]struct{}
}

// NewStore creates an empty breakpoint store.
func NewStore() *Store {
	return &Store{
		byUnit: make(map[source.UnitID]map[int]struct{}),
	}
}

// IsBreakpoint reports whether line of unit carries a breakpoint.
func (s *Store) IsBreakpoint(unit source.UnitID, line int) bool {
	lines, ok := s.byUnit[unit]
	if !ok {
		return false
	}
	_, ok = lines[line]
	return ok
}

// Toggle adds a breakpoint at the given location, or removes the one that is
// already there. It returns true when a breakpoint was added.
func (s *Store) Toggle(unit source.UnitID, line int) bool {
	if s.IsBreakpoint(unit, line) {
		s.remove(unit, line)
		return false
	}
	s.Set(unit, line)
	return true
}

// Set adds a breakpoint. Setting an existing breakpoint is a no-op.
func (s *Store) Set(unit source.UnitID, line int) {
	if unit == source.Unknown || line <= 0 {
		return
	}
	lines, ok := s.byUnit[unit]
	if !ok {
		lines = make(map[int]struct{})
		s.byUnit[unit] = lines
	}
	lines[line] = struct{}{}
}

// remove deletes a breakpoint and drops empty units.
func (s *Store) remove(unit source.UnitID, line int) {
	lines := s.byUnit[unit]
	delete(lines, line)
	if len(lines) == 0 {
		delete(s.byUnit, unit)
	}
}

// ClearUnit removes all breakpoints of one unit.
func (s *Store) ClearUnit(unit source.UnitID) {
	delete(s.byUnit, unit)
}

// ClearAll removes all breakpoints.
func (s *Store) ClearAll() {
	s.byUnit = make(map[source.UnitID]map[int]struct{})
}

// Lines returns the breakpoint lines of unit in ascending order.
func (s *Store) Lines(unit source.UnitID) []int {
	lines := s.byUnit[unit]
	out := make([]int, 0, len(lines))
	for line := range lines {
		out = append(out, line)
	}
	sort.Ints(out)
	return out
}

// Units returns the units that carry at least one breakpoint, ascending.
func (s *Store) Units() []source.UnitID {
	out := make([]source.UnitID, 0, len(s.byUnit))
	for unit := range s.byUnit {
		out = append(out, unit)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the total number of breakpoints.
func (s *Store) Count() int {
	n := 0
	for _, lines := range s.byUnit {
		n += len(lines)
	}
	return n
}
