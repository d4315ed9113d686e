// Package components implements the board's passive modules: leaf
// devices that expose pins but own no clock domain of their own and
// never receive internal events. The set is closed (LED, UartConsole);
// each is a concrete type that an MCU holds among its children through
// the sched.Module interface.
package components

import (
	"fmt"

	"github.com/avrsim/boardsim/pkg/addr"
	"github.com/avrsim/boardsim/pkg/clock"
	"github.com/avrsim/boardsim/pkg/sched"
	"github.com/avrsim/boardsim/pkg/vcd"
	"github.com/avrsim/boardsim/pkg/wire"
)

// LED is a single-pin sink: it drives nothing back onto its wire and
// logs ON/OFF transitions to the board's shared message log, the only
// externally observable effect a test script can check for besides
// reading the pin back directly.
type LED struct {
	moduleID addr.Module
	on       bool

	vcdCh chan<- vcd.Event
	vcdID int32
}

// RegisterVCD claims a single one-bit signal for this LED's pin state.
func (l *LED) RegisterVCD(events chan<- vcd.Event, startID int32) ([]vcd.Signal, int32) {
	l.vcdCh = events
	l.vcdID = startID
	return []vcd.Signal{{Name: "led", ID: startID, Size: 1}}, 1
}

// NewLED returns an LED mounted at moduleID, initially off.
func NewLED(moduleID addr.Module) *LED {
	return &LED{moduleID: moduleID}
}

func (l *LED) Address() addr.Module { return l.moduleID }

func (l *LED) HandleEvent(event sched.InternalEvent, q *sched.EventQueue, t clock.Timestamp) {
	panic("components: LED does not receive internal events")
}

func (l *LED) Find(a addr.Module) sched.Module {
	if a.IsEmpty() {
		return l
	}
	return nil
}

func (l *LED) FindMut(a addr.Module) sched.Module { return l.Find(a) }

func (l *LED) ToWireable() sched.WireableModule { return l }

// GetPin always reads Z: an LED never drives its own pin.
func (l *LED) GetPin(q *sched.EventQueue, id sched.PinID) wire.State {
	return wire.Z
}

func (l *LED) SetPin(q *sched.EventQueue, id sched.PinID, data wire.State) {
	switch wire.InputFromState(data) {
	case wire.InputHigh:
		if !l.on {
			q.AddMessage(fmt.Sprintf("%d: LED ON: %s", q.Clock.CurrentTime(), l.moduleID))
		}
		l.on = true
	case wire.InputLow:
		if l.on {
			q.AddMessage(fmt.Sprintf("%d: LED OFF: %s", q.Clock.CurrentTime(), l.moduleID))
		}
		l.on = false
	}
	if l.vcdCh != nil {
		l.vcdCh <- vcd.Event{T: q.Clock.CurrentTime(), SignalID: l.vcdID, Value: vcd.StateString([]wire.State{data})}
	}
}

// On reports the LED's last-observed state, for tests and the CLI's
// --verbose board dump.
func (l *LED) On() bool { return l.on }
