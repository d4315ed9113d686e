package sched

import (
	"sync"

	"github.com/avrsim/boardsim/pkg/addr"
	"github.com/avrsim/boardsim/pkg/clock"
)

// postedWireEvent is what crosses an inbox channel: a wire change
// destined for a module in another active module's domain, stamped
// with the sender's time.
type postedWireEvent struct {
	event WireChangeEvent
	at    clock.Timestamp
}

// Inbox is the cross-domain mailbox table: one bounded channel per
// active module's root prefix, so a wire change originating in one
// MCU's clock domain can be delivered into another's without either
// domain blocking on the other mid-instruction. The table is threaded
// through every active module's constructor by pointer, never held as
// a package-level singleton, so independent simulations can coexist in
// one process.
type Inbox struct {
	mu        sync.RWMutex
	listeners map[uint8]chan postedWireEvent
}

// NewInbox returns an empty mailbox table.
func NewInbox() *Inbox {
	return &Inbox{listeners: make(map[uint8]chan postedWireEvent)}
}

// AddListener registers a receive channel for the given root prefix
// and returns it. Capacity is bounded; a full mailbox applies
// backpressure to the sender rather than growing unboundedly.
func (ib *Inbox) AddListener(rootPrefix uint8) <-chan postedWireEvent {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ch := make(chan postedWireEvent, 256)
	ib.listeners[rootPrefix] = ch
	return ch
}

// Send delivers a wire-change event to the domain named by the event's
// receiver address.
func (ib *Inbox) Send(e WireChangeEvent, at clock.Timestamp) {
	ib.mu.RLock()
	ch, ok := ib.listeners[e.ReceiverID.Module.Current()]
	ib.mu.RUnlock()
	if !ok {
		return
	}
	ch <- postedWireEvent{event: e, at: at}
}

// WiringTable is the board's static net-list: for each driven pin, the
// set of pins that are permanently wired to it. Populated once at
// board-construction time from the YAML "wires:" section and never
// mutated afterward.
type WiringTable struct {
	mu    sync.RWMutex
	edges map[addr.Pin][]addr.Pin
}

// NewWiringTable returns an empty net-list.
func NewWiringTable() *WiringTable {
	return &WiringTable{edges: make(map[addr.Pin][]addr.Pin)}
}

// AddWire records a (possibly bidirectional) connection: to is wired to
// from and vice versa, since physical wires carry signals both ways.
func (wt *WiringTable) AddWire(from addr.Pin, tos []addr.Pin) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	wt.edges[from] = append(wt.edges[from], tos...)
	for _, to := range tos {
		wt.edges[to] = append(wt.edges[to], from)
	}
}

// GetConnected returns the pins statically wired to p.
func (wt *WiringTable) GetConnected(p addr.Pin) []addr.Pin {
	wt.mu.RLock()
	defer wt.mu.RUnlock()
	return append([]addr.Pin(nil), wt.edges[p]...)
}

// Tables bundles the cross-domain mailbox, the static net-list, and the
// shared append-only message log — everything an active module needs
// that must be visible board-wide rather than owned by a single
// module. Constructed once per board and passed by pointer into every
// active module, never stored as a package-level global.
type Tables struct {
	Inbox   *Inbox
	Wiring  *WiringTable
	mu      sync.Mutex
	Message []string
}

// NewTables returns a fresh, empty board-wide table set.
func NewTables() *Tables {
	return &Tables{
		Inbox:  NewInbox(),
		Wiring: NewWiringTable(),
	}
}

// AddMessage appends to the shared message log, used by the test
// harness to report state on failure and by passive components (LED)
// to record observable transitions.
func (t *Tables) AddMessage(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Message = append(t.Message, msg)
}

// Messages returns a snapshot of the message log.
func (t *Tables) Messages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.Message...)
}
