// Package addr implements the bounded-depth hierarchical module
// addressing scheme used to route events and pin changes through a
// board's module graph without storing pointers.
package addr

import "fmt"

// MaxDepth bounds a Module's path from the board root.
const MaxDepth = 6

// Module is a value-type path from the board root to a module. It is
// compared and hashed as a whole; addresses are assigned once at
// construction time and never mutated in place.
type Module struct {
	depth   uint8
	address [MaxDepth]uint8
}

// Root returns the empty address naming the board root itself.
func Root() Module {
	return Module{}
}

// IsEmpty reports whether the address names the current dispatch
// target (depth has been fully consumed).
func (m Module) IsEmpty() bool {
	return m.depth == 0
}

// Current returns the oldest unconsumed path element — the id a
// dispatcher at this level should branch on next.
func (m Module) Current() uint8 {
	return m.address[m.depth-1]
}

// Advance consumes the current path element, returning the address one
// level further from the root.
func (m Module) Advance() Module {
	if m.depth > 0 {
		m.depth--
	}
	return m
}

// ChildID prepends a new id to the path, returning the address of a
// child module one level deeper than m.
func (m Module) ChildID(id uint8) Module {
	if m.depth >= MaxDepth {
		panic("addr: module address exceeds max depth")
	}
	var next [MaxDepth]uint8
	next[0] = id
	copy(next[1:], m.address[:MaxDepth-1])
	return Module{depth: m.depth + 1, address: next}
}

// WithPin derives a PinAddress for the given pin on this module.
func (m Module) WithPin(pin uint8) Pin {
	return Pin{Module: m, PinID: pin}
}

// WithEventPort derives an EventPort address for the given port on
// this module.
func (m Module) WithEventPort(port uint8) EventPort {
	return EventPort{Module: m, PortID: port}
}

// String renders a dotted, most-significant-first hex path, matching
// the original "XX.XX.XX" display convention.
func (m Module) String() string {
	if m.depth == 0 {
		return "_"
	}
	s := ""
	for i := int(m.depth) - 1; i >= 1; i-- {
		s += fmt.Sprintf("%02x.", m.address[i])
	}
	return s + fmt.Sprintf("%02x", m.address[0])
}

// Pin addresses a single wire-level pin on a module.
type Pin struct {
	Module Module
	PinID  uint8
}

// String renders "addr!pin".
func (p Pin) String() string {
	return fmt.Sprintf("%s!%d", p.Module, p.PinID)
}

// EventPort addresses a single internal event receiver on a module.
type EventPort struct {
	Module Module
	PortID uint8
}

// String renders "addr:port".
func (e EventPort) String() string {
	return fmt.Sprintf("%s:%d", e.Module, e.PortID)
}
