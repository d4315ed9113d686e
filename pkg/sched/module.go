// Package sched implements the discrete-event scheduler: two min-heaps
// (internal events, wire-change events) plus a bounded mailbox for
// cross-domain delivery, the pin-multiplexing table, and the shared
// board-wide tables passed by reference into every active module.
//
// The Module family of interfaces lives here rather than in a separate
// package because EventQueue methods are dispatched through them and
// Go forbids the import cycle that would otherwise result from
// splitting them apart.
package sched

import (
	"github.com/avrsim/boardsim/pkg/addr"
	"github.com/avrsim/boardsim/pkg/clock"
	"github.com/avrsim/boardsim/pkg/wire"
)

// PinID indexes a single pin on a WireableModule.
type PinID uint8

// PortID indexes a single memory-mapped register on a DataModule.
type PortID uint16

// Module is the common interface implemented by every node in a
// board's module graph, active or passive.
type Module interface {
	Address() addr.Module
	HandleEvent(event InternalEvent, q *EventQueue, t clock.Timestamp)
	Find(address addr.Module) Module
	FindMut(address addr.Module) Module
	ToWireable() WireableModule
}

// WireableModule is implemented by modules that expose pins on the
// wire-state lattice.
type WireableModule interface {
	Module
	GetPin(q *EventQueue, id PinID) wire.State
	SetPin(q *EventQueue, id PinID, data wire.State)
}

// DataModule is implemented by modules addressable through the
// memory-mapped register space (GPIO banks, Timer16, Uart, the IO
// controller itself).
type DataModule interface {
	Module
	ReadPort(q *EventQueue, id PortID) uint8
	WritePort(q *EventQueue, id PortID, data uint8)
}

// ActiveModule is implemented by modules that own their own clock
// domain and event queue (currently only the AVR MCU).
type ActiveModule interface {
	Module
	RunUntilTime(t clock.Timestamp) clock.Timestamp
	EventQueue() *EventQueue
}
