// Package gpio implements an 8-pin AVR GPIO bank: the DDR/PORT/PIN
// register triplet, one-tick input latch, and pull-up resistor
// modelling via the weak wire levels.
package gpio

import (
	"github.com/avrsim/boardsim/pkg/addr"
	"github.com/avrsim/boardsim/pkg/clock"
	"github.com/avrsim/boardsim/pkg/sched"
	"github.com/avrsim/boardsim/pkg/vcd"
	"github.com/avrsim/boardsim/pkg/wire"
)

// Register offsets within a bank, matching the AVR's PINx/DDRx/PORTx
// memory order.
const (
	PinPort sched.PortID = 0
	DDRPort sched.PortID = 1
	OutPort sched.PortID = 2
)

// Bank is one 8-pin GPIO port (A through L on an ATmega2560, minus I).
type Bank struct {
	moduleID addr.Module

	ddr  uint8
	port uint8

	inputStates    [8]wire.Input
	readableStates [8]wire.Input

	vcdCh chan<- vcd.Event
	vcdID int32
}

// RegisterVCD claims one 8-bit bus signal covering this bank's resolved
// pin levels (pin 7 first), matching a logic analyzer's per-port view.
func (b *Bank) RegisterVCD(events chan<- vcd.Event, startID int32) ([]vcd.Signal, int32) {
	b.vcdCh = events
	b.vcdID = startID
	return []vcd.Signal{{Name: "port", ID: startID, Size: 8}}, 1
}

func (b *Bank) emitVCD(q *sched.EventQueue) {
	if b.vcdCh == nil {
		return
	}
	states := make([]wire.State, 8)
	for i := uint8(0); i < 8; i++ {
		states[7-i] = resolvedState(b.ddr, b.port, i)
	}
	b.vcdCh <- vcd.Event{T: q.Clock.CurrentTime(), SignalID: b.vcdID, Value: vcd.StateString(states)}
}

// New returns a freshly reset GPIO bank at the given module address.
func New(moduleID addr.Module) *Bank {
	b := &Bank{moduleID: moduleID}
	for i := range b.inputStates {
		b.inputStates[i] = wire.InputHigh
		b.readableStates[i] = wire.InputHigh
	}
	return b
}

func (b *Bank) Address() addr.Module { return b.moduleID }

func (b *Bank) HandleEvent(event sched.InternalEvent, q *sched.EventQueue, t clock.Timestamp) {
	if event.ReceiverID.PortID != 0 {
		panic("gpio: unexpected event port")
	}
	b.readableStates = b.inputStates
	b.emitVCD(q)
}

func (b *Bank) Find(a addr.Module) sched.Module {
	if a.IsEmpty() {
		return b
	}
	return nil
}

func (b *Bank) FindMut(a addr.Module) sched.Module {
	if a.IsEmpty() {
		return b
	}
	return nil
}

func (b *Bank) ToWireable() sched.WireableModule { return b }

// updateOutputs recomputes the resolved wire level for each of the 8
// pins from the current DDR/PORT bits and fans out a SetWire only for
// pins whose resolved level actually changed, avoiding redundant wire
// events on every register write.
func (b *Bank) updateOutputs(q *sched.EventQueue, prevDDR, prevPort uint8) {
	for i := uint8(0); i < 8; i++ {
		was := resolvedState(prevDDR, prevPort, i)
		now := resolvedState(b.ddr, b.port, i)
		if was != now {
			q.SetWire(b.moduleID.WithPin(i), now)
		}
	}
}

func resolvedState(ddr, port uint8, bit uint8) wire.State {
	isOutput := (ddr>>bit)&1 != 0
	isHigh := (port>>bit)&1 != 0
	switch {
	case isOutput && isHigh:
		return wire.High
	case isOutput && !isHigh:
		return wire.Low
	case !isOutput && isHigh:
		return wire.WeakHigh
	default:
		return wire.Z
	}
}

func (b *Bank) GetPin(q *sched.EventQueue, id sched.PinID) wire.State {
	return resolvedState(b.ddr, b.port, uint8(id))
}

func (b *Bank) SetPin(q *sched.EventQueue, id sched.PinID, data wire.State) {
	b.inputStates[id] = wire.InputFromState(data)
	q.FireEventNextTick(sched.InternalEvent{ReceiverID: b.moduleID.WithEventPort(0)})
}

func (b *Bank) ReadPort(q *sched.EventQueue, id sched.PortID) uint8 {
	switch id {
	case PinPort:
		// Always the latched value, for output-configured bits too; the
		// latch only moves on the one-tick synchronizer event.
		var v uint8
		for i := uint8(0); i < 8; i++ {
			if b.readableStates[i] == wire.InputHigh {
				v |= 1 << i
			}
		}
		return v
	case DDRPort:
		return b.ddr
	case OutPort:
		return b.port
	default:
		panic("gpio: invalid port id")
	}
}

func (b *Bank) WritePort(q *sched.EventQueue, id sched.PortID, data uint8) {
	prevDDR, prevPort := b.ddr, b.port
	switch id {
	case PinPort:
		// Writing the PIN register toggles the corresponding PORT bits,
		// a documented AVR feature distinct from reading it.
		b.port ^= data
	case DDRPort:
		b.ddr = data
	case OutPort:
		b.port = data
	default:
		panic("gpio: invalid port id")
	}
	b.updateOutputs(q, prevDDR, prevPort)
	b.emitVCD(q)
}
