package components

import (
	"testing"

	"github.com/avrsim/boardsim/pkg/addr"
	"github.com/avrsim/boardsim/pkg/sched"
	"github.com/avrsim/boardsim/pkg/vcd"
	"github.com/avrsim/boardsim/pkg/wire"
)

func newTestConsole(cfg UartConsoleConfig) (*UartConsole, *sched.EventQueue) {
	tables := sched.NewTables()
	q := sched.NewEventQueue(tables, 1, 0)
	id := q.RootModuleID()
	u := NewUartConsole(id, cfg)
	for _, p := range []sched.PinID{PinRX, PinTX, PinXCK} {
		pin := id.WithPin(uint8(p))
		q.RegisterMultiplexer(pin, []addr.Pin{pin})
	}
	return u, q
}

func TestLEDLogsOnOffTransitions(t *testing.T) {
	tables := sched.NewTables()
	q := sched.NewEventQueue(tables, 1, 0)
	led := NewLED(q.RootModuleID())

	led.SetPin(q, 0, wire.High)
	led.SetPin(q, 0, wire.High)
	led.SetPin(q, 0, wire.Low)

	msgs := tables.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected exactly one ON and one OFF message, got %v", msgs)
	}
}

func TestLEDEmitsVCDEventsOnceRegistered(t *testing.T) {
	tables := sched.NewTables()
	q := sched.NewEventQueue(tables, 1, 0)
	led := NewLED(q.RootModuleID())

	events := make(chan vcd.Event, 4)
	signals, count := led.RegisterVCD(events, 7)
	if count != 1 || len(signals) != 1 || signals[0].ID != 7 {
		t.Fatalf("expected one signal at id 7, got %v count=%d", signals, count)
	}

	led.SetPin(q, 0, wire.High)
	select {
	case e := <-events:
		if e.SignalID != 7 || e.Value != "1" {
			t.Fatalf("unexpected VCD event %+v", e)
		}
	default:
		t.Fatalf("expected a VCD event to be emitted")
	}
}

func TestUartConsoleTransmitsQueuedByte(t *testing.T) {
	u, q := newTestConsole(UartConsoleConfig{CharSize: 8})
	u.WriteByte(0x55)

	u.SetPin(q, PinXCK, wire.High) // rising edge: UCPOL=0 changes TX here
	if u.txState.kind != consoleStart {
		t.Fatalf("expected transmitter to move to Start on first clock edge, got %v", u.txState.kind)
	}
	if u.GetPin(q, PinTX) != wire.Low {
		t.Fatalf("expected TX line to be driven Low for the start bit")
	}
}

func TestUartConsoleReceivesFrameIntoQueue(t *testing.T) {
	u, q := newTestConsole(UartConsoleConfig{CharSize: 8})

	edges := []wire.State{wire.Low} // start bit
	for i := 0; i < 8; i++ {
		if (0x42>>i)&1 != 0 {
			edges = append(edges, wire.High)
		} else {
			edges = append(edges, wire.Low)
		}
	}
	edges = append(edges, wire.High) // stop bit

	for _, lvl := range edges {
		u.SetPin(q, PinRX, lvl)
		u.SetPin(q, PinXCK, wire.Low) // falling edge samples RX (UCPOL=0 default)
	}

	b, ok := u.ReadByte()
	if !ok {
		t.Fatalf("expected a received byte")
	}
	if b != 0x42 {
		t.Fatalf("got byte %#x, want 0x42", b)
	}
	if u.FrameError {
		t.Fatalf("did not expect a frame error on a well-formed frame")
	}
}

func TestUartConsoleParityErrorOnCorruptedBit(t *testing.T) {
	u, q := newTestConsole(UartConsoleConfig{CharSize: 8, Parity: ConsoleParityEven})

	u.SetPin(q, PinRX, wire.Low)
	u.SetPin(q, PinXCK, wire.Low) // falling edge samples RX (UCPOL=0 default): start
	for i := 0; i < 8; i++ {
		u.SetPin(q, PinRX, wire.Low) // data = 0x00, even parity bit should be Low
		u.SetPin(q, PinXCK, wire.Low)
	}
	u.SetPin(q, PinRX, wire.High) // corrupt: parity bit should have been Low
	u.SetPin(q, PinXCK, wire.Low)

	if !u.ParityError {
		t.Fatalf("expected parity error after corrupting the parity bit")
	}
}
