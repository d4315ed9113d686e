// Package board assembles active modules (MCUs) and their passive
// children into one runnable system: it owns the board-wide shared
// Tables, the name-to-address map a YAML description or test script
// refers to components by, and the run loop that advances every active
// module's independent clock domain to a shared deadline.
package board

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/avrsim/boardsim/pkg/addr"
	"github.com/avrsim/boardsim/pkg/clock"
	"github.com/avrsim/boardsim/pkg/sched"
	"github.com/avrsim/boardsim/pkg/wire"
)

// Board is a fully wired system: N active modules (each an independent
// clock domain) plus whatever passives they own, sharing one Tables.
type Board struct {
	Tables *sched.Tables

	modules []sched.ActiveModule
	idMap   map[string]addr.Module

	t clock.Timestamp
}

// New returns an empty board sharing tables, ready for AddModule/
// RegisterName calls from a board-description loader.
func New(tables *sched.Tables) *Board {
	return &Board{
		Tables: tables,
		idMap:  make(map[string]addr.Module),
	}
}

// NextRootPrefix returns the root prefix the next AddModule call will
// assign, so a loader can construct an active module (which must know
// its own root prefix up front to compute its global address) before
// handing it to AddModule.
func (b *Board) NextRootPrefix() uint8 { return uint8(len(b.modules)) }

// AddModule registers a newly constructed active module under name,
// assigning it the root prefix NextRootPrefix last reported.
func (b *Board) AddModule(name string, m sched.ActiveModule) {
	b.modules = append(b.modules, m)
	b.RegisterName(name, m.Address())
}

// RegisterName records a named reference to a submodule's address —
// used directly by AddModule for top-level active modules, and by a
// board-description loader for passives nested inside an MCU (named
// "<parent>.<id>").
func (b *Board) RegisterName(name string, a addr.Module) {
	b.idMap[name] = a
}

// Modules returns the board's active modules in root-prefix order.
func (b *Board) Modules() []sched.ActiveModule { return b.modules }

// CurrentTime reports the board's external clock, advanced only by
// RunFor — used to timestamp externally injected wire
// changes (test-script set_wire calls).
func (b *Board) CurrentTime() clock.Timestamp { return b.t }

// RunFor advances every active module's clock domain in parallel to a
// shared deadline t+delta, then waits for all of them (a goalpost
// barrier). A script's execute() call is itself the only observation
// point between deadlines, so no finer-grained synchronization is
// needed even with several MCUs running concurrently.
func (b *Board) RunFor(delta clock.TimeDiff) {
	deadline := b.t + clock.Timestamp(delta)
	var wg sync.WaitGroup
	for _, m := range b.modules {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RunUntilTime(deadline)
		}()
	}
	wg.Wait()
	b.t = deadline
}

// FindModule resolves a registered component name to its Module,
// stripping the root prefix before dispatching into the owning active
// module's Find.
func (b *Board) FindModule(name string) (sched.Module, error) {
	full, ok := b.idMap[name]
	if !ok {
		return nil, fmt.Errorf("board: unknown component %q", name)
	}
	root := b.modules[full.Current()]
	rest := full.Advance()
	m := root.Find(rest)
	if m == nil {
		return nil, fmt.Errorf("board: component %q not found under its root module", name)
	}
	return m, nil
}

// findModuleMut is FindModule's mutable-dispatch counterpart, used by
// GetPin/SetWire resolution which must call through to FindMut so
// nested Find implementations can return the same concrete instance
// for either call.
func (b *Board) findModuleMut(full addr.Module) (sched.ActiveModule, sched.Module, error) {
	root := b.modules[full.Current()]
	rest := full.Advance()
	m := root.FindMut(rest)
	if m == nil {
		return nil, nil, fmt.Errorf("board: module not found at %s", full)
	}
	return root, m, nil
}

// PinAddress resolves a "component:pin" reference (the form board-wire
// lists and test scripts use) to a concrete, board-global pin address.
func (b *Board) PinAddress(ref string) (addr.Pin, error) {
	name, pinStr, ok := strings.Cut(ref, ":")
	if !ok {
		return addr.Pin{}, fmt.Errorf("board: malformed pin reference %q, want \"name:pin\"", ref)
	}
	pin, err := strconv.ParseUint(pinStr, 10, 8)
	if err != nil {
		return addr.Pin{}, fmt.Errorf("board: malformed pin number in %q: %w", ref, err)
	}
	m, err := b.FindModule(name)
	if err != nil {
		return addr.Pin{}, err
	}
	return m.Address().WithPin(uint8(pin)), nil
}

// GetPin reads a pin's current driven value, resolving through the
// owning domain's multiplexing table first so an alternate-function
// pin reads back whichever peripheral presently claims it.
func (b *Board) GetPin(pinAddr addr.Pin) (wire.State, error) {
	root := b.modules[pinAddr.Module.Current()]
	translated := root.EventQueue().LookupPin(pinAddr)
	_, m, err := b.findModuleMut(translated.Module)
	if err != nil {
		return wire.Z, err
	}
	w := m.ToWireable()
	if w == nil {
		return wire.Z, fmt.Errorf("board: module at %s is not wireable", translated.Module)
	}
	return w.GetPin(root.EventQueue(), sched.PinID(translated.PinID)), nil
}

// SetWire posts an externally driven wire change to the board mailbox,
// timestamped at the board's current external clock — the same path a
// test script's set_wire/set_wires calls use, bypassing any single
// domain's local SetWire since the source isn't inside any domain.
func (b *Board) SetWire(pinAddr addr.Pin, state wire.State) {
	b.Tables.Inbox.Send(sched.WireChangeEvent{ReceiverID: pinAddr, State: state}, b.t)
}

// SetWireByName resolves name ("component:pin") and drives it High or
// Low.
func (b *Board) SetWireByName(name string, value bool) error {
	pinAddr, err := b.PinAddress(name)
	if err != nil {
		return err
	}
	b.SetWire(pinAddr, wire.FromBool(value))
	return nil
}

// GetWireByName resolves name ("component:pin") and reads its boolean
// value.
func (b *Board) GetWireByName(name string) (bool, error) {
	pinAddr, err := b.PinAddress(name)
	if err != nil {
		return false, err
	}
	state, err := b.GetPin(pinAddr)
	if err != nil {
		return false, err
	}
	return state.ToBool(), nil
}

// bitRange returns the pin carrying each value bit, LSB first: entry i
// is the pin for bit i, walking from lsb toward msb in whichever
// direction the pair implies, so an inverted (msb < lsb) range reverses
// the bit order.
func bitRange(msb, lsb uint8) []uint8 {
	var pins []uint8
	if msb >= lsb {
		for p := lsb; ; p++ {
			pins = append(pins, p)
			if p == msb {
				break
			}
		}
	} else {
		for p := lsb; ; p-- {
			pins = append(pins, p)
			if p == msb {
				break
			}
		}
	}
	return pins
}

// SetWires drives bits msb..lsb of value onto component's consecutively
// numbered pins.
func (b *Board) SetWires(component string, msb, lsb uint8, value uint64) error {
	base, ok := b.idMap[component]
	if !ok {
		return fmt.Errorf("board: unknown component %q", component)
	}
	for i, pin := range bitRange(msb, lsb) {
		bit := value>>i&1 == 1
		b.SetWire(base.WithPin(pin), wire.FromBool(bit))
	}
	return nil
}

// GetWires reads bits msb..lsb back from component's consecutively
// numbered pins into a single value.
func (b *Board) GetWires(component string, msb, lsb uint8) (uint64, error) {
	base, ok := b.idMap[component]
	if !ok {
		return 0, fmt.Errorf("board: unknown component %q", component)
	}
	var value uint64
	for i, pin := range bitRange(msb, lsb) {
		state, err := b.GetPin(base.WithPin(pin))
		if err != nil {
			return 0, err
		}
		if state.ToBool() {
			value |= 1 << i
		}
	}
	return value, nil
}
