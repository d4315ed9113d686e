package sched

import "github.com/avrsim/boardsim/pkg/addr"

// multiplexer tracks one pin's alternate-function selection: a
// priority-ordered list of connections and, per connection, whether its
// owning peripheral currently claims the pin. The active connection is
// the first one (in priority order) whose flag is set; the last entry
// always starts flagged, modelling "GPIO is the default."
type multiplexer struct {
	wireablePin    addr.Pin
	connections    []addr.Pin
	flags          []bool
	activePosition int
}

// MultiplexingTable resolves, for any pin that participates in pin
// multiplexing, which of its alternate functions is currently driving
// it.
type MultiplexingTable struct {
	incoming map[addr.Pin][]addr.Pin
	ownerOf  map[addr.Pin]int
	tables   []*multiplexer
}

// NewMultiplexingTable returns an empty table.
func NewMultiplexingTable() *MultiplexingTable {
	return &MultiplexingTable{
		incoming: make(map[addr.Pin][]addr.Pin),
		ownerOf:  make(map[addr.Pin]int),
	}
}

// Register declares that wireablePin has the given connections as its
// alternate functions, in priority order (last = GPIO = default
// active). Pins never registered here receive incoming changes directly
// and fan outgoing changes out through the static net-list alone.
func (mt *MultiplexingTable) Register(wireablePin addr.Pin, connections []addr.Pin) {
	m := &multiplexer{
		wireablePin:    wireablePin,
		connections:    append([]addr.Pin(nil), connections...),
		flags:          make([]bool, len(connections)),
		activePosition: len(connections) - 1,
	}
	if len(connections) > 0 {
		m.flags[len(connections)-1] = true
	}
	idx := len(mt.tables)
	mt.tables = append(mt.tables, m)

	mt.incoming[wireablePin] = append([]addr.Pin(nil), connections...)
	mt.ownerOf[wireablePin] = idx
	for _, c := range connections {
		mt.ownerOf[c] = idx
	}
}

// SetFlag marks whether the peripheral owning pin currently claims it,
// then re-scans left to right for the first true flag to determine the
// new active connection.
func (mt *MultiplexingTable) SetFlag(pin addr.Pin, flag bool) {
	idx, ok := mt.ownerOf[pin]
	if !ok {
		return
	}
	m := mt.tables[idx]
	for i, c := range m.connections {
		if c == pin {
			m.flags[i] = flag
			break
		}
	}
	for i, f := range m.flags {
		if f {
			m.activePosition = i
			break
		}
	}
}

// IncomingEventListeners returns every connection registered for addr,
// or addr alone if it is not a multiplexed pin. Used when delivering a
// wire change that arrived addressed to the multiplexer's main pin.
func (mt *MultiplexingTable) IncomingEventListeners(a addr.Pin) []addr.Pin {
	if conns, ok := mt.incoming[a]; ok {
		return conns
	}
	return []addr.Pin{a}
}

// OutgoingEventListeners returns the set of pins that should receive a
// change driven from addr: if addr is the currently active alternate of
// a multiplexer, every other alternate plus the net-list's static
// connections; otherwise (addr is inactive, or unregistered) just the
// net-list's static connections. Static wiring is always looked up on
// the multiplexer's wireable (main GPIO) pin, not on addr itself —
// board wires attach to that main pin (boardyaml resolves "mcu.E:1" to
// the bank pin), while a peripheral drives its own alternate pin
// address, so looking up addr's net-list entry directly would find
// nothing whenever an alternate function is the active driver.
func (mt *MultiplexingTable) OutgoingEventListeners(wt *WiringTable, a addr.Pin) []addr.Pin {
	idx, ok := mt.ownerOf[a]
	if !ok {
		return wt.GetConnected(a)
	}
	m := mt.tables[idx]
	pos := -1
	for i, c := range m.connections {
		if c == a {
			pos = i
			break
		}
	}
	if pos != m.activePosition {
		return nil
	}
	var out []addr.Pin
	for i, c := range m.connections {
		if i != pos {
			out = append(out, c)
		}
	}
	out = append(out, wt.GetConnected(m.wireablePin)...)
	return out
}

// ReadPinAddr returns the currently active alternate for addr, or addr
// itself if it is not multiplexed.
func (mt *MultiplexingTable) ReadPinAddr(a addr.Pin) addr.Pin {
	idx, ok := mt.ownerOf[a]
	if !ok {
		return a
	}
	m := mt.tables[idx]
	return m.connections[m.activePosition]
}
