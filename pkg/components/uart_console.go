package components

import (
	"bufio"
	"io"

	"github.com/avrsim/boardsim/pkg/addr"
	"github.com/avrsim/boardsim/pkg/clock"
	"github.com/avrsim/boardsim/pkg/sched"
	"github.com/avrsim/boardsim/pkg/vcd"
	"github.com/avrsim/boardsim/pkg/wire"
)

// ConsoleParity mirrors the USART's parity selector, used to configure
// the external console end of a wired-up link.
type ConsoleParity uint8

const (
	ConsoleParityDisabled ConsoleParity = iota
	ConsoleParityEven
	ConsoleParityOdd
)

// UartConsoleConfig is the passive module's board-description-supplied
// framing configuration; it has no baud-divisor of its own since its
// clock comes entirely from the XCK pin driven by the MCU it is wired
// to.
type UartConsoleConfig struct {
	Parity         ConsoleParity
	DoubleStopBit  bool
	CharSize       uint8
	InvertPolarity bool
}

// consoleFrame is the frame-assembly state machine's current phase;
// Data/End carry their bit/stop-bit index alongside the phase.
type consoleFrameKind uint8

const (
	consoleIdle consoleFrameKind = iota
	consoleStart
	consoleData
	consoleParity
	consoleEnd
)

type consoleFrame struct {
	kind consoleFrameKind
	idx  uint8
}

// Pin indices within the console's own 3-pin space, matching the
// register-mapped USART's RX/TX/XCK layout so board wiring treats both
// endpoints uniformly.
const (
	PinRX  sched.PinID = 0
	PinTX  sched.PinID = 1
	PinXCK sched.PinID = 2
)

// UartConsole is the passive counterpart to pkg/avr/uart: a
// shift-register frame assembler with no register-mapped front end,
// bridged to the host process's stdin/stdout so a test harness or a
// human can talk to an MCU's USART over a simulated serial link.
type UartConsole struct {
	moduleID addr.Module
	config   UartConsoleConfig

	txBuf, rxBuf uint16

	txState, rxState consoleFrame

	txData []uint16
	rxData []uint16

	xckVal wire.Input
	txVal  wire.State
	rxVal  wire.Input

	ParityError bool
	FrameError  bool

	toHost   chan<- uint16
	fromHost <-chan uint16

	vcdCh chan<- vcd.Event
	vcdID int32
}

// RegisterVCD claims a single one-bit TX signal.
func (u *UartConsole) RegisterVCD(events chan<- vcd.Event, startID int32) ([]vcd.Signal, int32) {
	u.vcdCh = events
	u.vcdID = startID
	return []vcd.Signal{{Name: "tx", ID: startID, Size: 1}}, 1
}

// NewUartConsole returns a console mounted at moduleID with its pins at
// rest: RX pulled high (idle mark), TX floating until the frame state
// machine starts driving it.
func NewUartConsole(moduleID addr.Module, config UartConsoleConfig) *UartConsole {
	return &UartConsole{
		moduleID: moduleID,
		config:   config,
		xckVal:   wire.InputLow,
		txVal:    wire.Z,
		rxVal:    wire.InputHigh,
	}
}

func (u *UartConsole) Address() addr.Module { return u.moduleID }

func (u *UartConsole) HandleEvent(event sched.InternalEvent, q *sched.EventQueue, t clock.Timestamp) {
	panic("components: UartConsole does not receive internal events")
}

func (u *UartConsole) Find(a addr.Module) sched.Module {
	if a.IsEmpty() {
		return u
	}
	return nil
}

func (u *UartConsole) FindMut(a addr.Module) sched.Module { return u.Find(a) }

func (u *UartConsole) ToWireable() sched.WireableModule { return u }

func (u *UartConsole) setTX(q *sched.EventQueue, data wire.State) {
	u.txVal = data
	out := wire.Combine(data, wire.WeakHigh)
	q.SetWire(u.moduleID.WithPin(uint8(PinTX)), out)
	if u.vcdCh != nil {
		u.vcdCh <- vcd.Event{T: q.Clock.CurrentTime(), SignalID: u.vcdID, Value: vcd.StateString([]wire.State{out})}
	}
}

// advance steps a frame-state machine forward one bit period: Idle is
// a fixed point (only the caller transitions out of it), Start always
// moves to the first data bit, Data counts up to char_size then
// detours through Parity if configured, End(0) optionally repeats once
// for a double stop bit.
func (u *UartConsole) advance(s consoleFrame) consoleFrame {
	switch s.kind {
	case consoleIdle:
		return s
	case consoleStart:
		return consoleFrame{kind: consoleData, idx: 0}
	case consoleData:
		if s.idx+1 < u.config.CharSize {
			return consoleFrame{kind: consoleData, idx: s.idx + 1}
		}
		if u.config.Parity != ConsoleParityDisabled {
			return consoleFrame{kind: consoleParity}
		}
		return consoleFrame{kind: consoleEnd, idx: 0}
	case consoleParity:
		return consoleFrame{kind: consoleEnd, idx: 0}
	case consoleEnd:
		if s.idx == 0 && u.config.DoubleStopBit {
			return consoleFrame{kind: consoleEnd, idx: 1}
		}
		return consoleFrame{kind: consoleIdle}
	default:
		return consoleFrame{kind: consoleIdle}
	}
}

func parityBit(parity ConsoleParity, data uint16, charSize uint8) bool {
	mask := uint16(1)<<charSize - 1
	ones := popcount16(data & mask)
	switch parity {
	case ConsoleParityEven:
		return ones%2 == 1
	case ConsoleParityOdd:
		return ones%2 == 0
	default:
		return false
	}
}

func popcount16(v uint16) int {
	n := 0
	for v != 0 {
		n += int(v & 1)
		v >>= 1
	}
	return n
}

func (u *UartConsole) triggerReceiver() {
	u.rxState = u.advance(u.rxState)

	if u.rxState.kind == consoleIdle {
		if u.rxVal == wire.InputLow {
			u.rxState = consoleFrame{kind: consoleStart}
		}
		return
	}

	switch u.rxState.kind {
	case consoleData:
		var bit uint16
		if u.rxVal == wire.InputHigh {
			bit = 1
		}
		mask := uint16(1) << u.rxState.idx
		u.rxBuf = (u.rxBuf &^ mask) | (bit << u.rxState.idx)
	case consoleParity:
		want := parityBit(u.config.Parity, u.rxBuf, u.config.CharSize)
		if want != (u.rxVal == wire.InputHigh) {
			u.ParityError = true
		}
	case consoleEnd:
		if u.rxState.idx == 0 {
			if u.rxVal == wire.InputLow {
				u.FrameError = true
			}
			if u.toHost == nil {
				u.rxData = append(u.rxData, u.rxBuf)
			} else {
				select {
				case u.toHost <- u.rxBuf:
				default:
					u.rxData = append(u.rxData, u.rxBuf)
				}
			}
		}
	}
}

func (u *UartConsole) triggerTransmitter(q *sched.EventQueue) {
	if u.fromHost != nil {
		for {
			select {
			case x := <-u.fromHost:
				u.txData = append(u.txData, x)
				continue
			default:
			}
			break
		}
	}

	u.txState = u.advance(u.txState)

	if u.txState.kind == consoleIdle && len(u.txData) > 0 {
		u.txBuf, u.txData = u.txData[0], u.txData[1:]
		u.txState = consoleFrame{kind: consoleStart}
	}

	switch u.txState.kind {
	case consoleIdle:
		u.setTX(q, wire.Z)
	case consoleStart:
		u.setTX(q, wire.Low)
	case consoleData:
		u.setTX(q, wire.FromBool((u.txBuf>>u.txState.idx)&1 != 0))
	case consoleParity:
		u.setTX(q, wire.FromBool(parityBit(u.config.Parity, u.txBuf, u.config.CharSize)))
	case consoleEnd:
		u.setTX(q, wire.High)
	}
}

// triggerClock dispatches an XCK edge to whichever direction samples
// on it, per UCPOL: polarity=false changes TX on the rising edge and
// samples RX on the falling edge; polarity=true is the reverse.
func (u *UartConsole) triggerClock(q *sched.EventQueue) {
	if u.config.InvertPolarity {
		if u.xckVal == wire.InputHigh {
			u.triggerReceiver()
		} else {
			u.triggerTransmitter(q)
		}
	} else {
		if u.xckVal == wire.InputHigh {
			u.triggerTransmitter(q)
		} else {
			u.triggerReceiver()
		}
	}
}

func (u *UartConsole) GetPin(q *sched.EventQueue, id sched.PinID) wire.State {
	switch id {
	case PinRX:
		return wire.Combine(u.rxVal.ToState(), wire.WeakHigh)
	case PinTX:
		return wire.Combine(u.txVal, wire.WeakHigh)
	case PinXCK:
		return wire.Z
	default:
		panic("components: invalid uart console pin")
	}
}

func (u *UartConsole) SetPin(q *sched.EventQueue, id sched.PinID, data wire.State) {
	switch id {
	case PinRX:
		u.rxVal = wire.InputFromState(wire.Combine(data, wire.WeakHigh))
	case PinTX:
		// The console never samples its own TX line.
	case PinXCK:
		u.xckVal = wire.InputFromState(data)
		u.triggerClock(q)
	default:
		panic("components: invalid uart console pin")
	}
}

// WriteByte queues one character for transmission; CharSize must be 8.
func (u *UartConsole) WriteByte(b byte) {
	u.txData = append(u.txData, uint16(b))
}

// WriteString queues each byte of s for transmission; CharSize must be 8.
func (u *UartConsole) WriteString(s string) {
	for i := 0; i < len(s); i++ {
		u.WriteByte(s[i])
	}
}

// ReadByte pops the oldest received character, if any has arrived.
func (u *UartConsole) ReadByte() (byte, bool) {
	if len(u.rxData) == 0 {
		return 0, false
	}
	b := byte(u.rxData[0])
	u.rxData = u.rxData[1:]
	return b, true
}

// Bridge connects this console's TX/RX queues to the host's stdin and
// stdout: bytes the MCU transmits are written to out, and keystrokes
// read from in are queued for transmission back to the MCU, each side
// pumped by its own blocking goroutine.
func (u *UartConsole) Bridge(in io.Reader, out io.Writer) {
	toHost := make(chan uint16, 1024)
	fromHost := make(chan uint16, 1024)
	u.toHost = toHost
	u.fromHost = fromHost

	go func() {
		w := bufio.NewWriter(out)
		for x := range toHost {
			w.WriteByte(byte(x))
			w.Flush()
		}
	}()
	go func() {
		r := bufio.NewReader(in)
		for {
			b, err := r.ReadByte()
			if err != nil {
				return
			}
			fromHost <- uint16(b)
		}
	}()
}
