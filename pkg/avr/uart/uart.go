// Package uart implements the AVR USART: a register-mapped
// asynchronous/synchronous serial transceiver with a frame-assembly
// state machine, configurable parity, character size and stop-bit
// count, and a two-deep receive FIFO.
//
// Clocking follows the hardware shape: an internal divider flips the
// XCK level every baud-divisor ticks; one polarity of that square wave
// clocks the transmitter (through a mode-dependent prescaler) and the
// other samples the receiver. In synchronous slave mode the divider is
// bypassed and external edges on the XCK pin clock the module instead.
package uart

import (
	"fmt"

	"github.com/avrsim/boardsim/pkg/addr"
	"github.com/avrsim/boardsim/pkg/clock"
	"github.com/avrsim/boardsim/pkg/sched"
	"github.com/avrsim/boardsim/pkg/vcd"
	"github.com/avrsim/boardsim/pkg/wire"
)

// Pin indices within the USART's own pin space.
const (
	PinRX  sched.PinID = 0
	PinTX  sched.PinID = 1
	PinXCK sched.PinID = 2
)

// Register offsets, matching UCSRnA/B/C, UBRRnL/H, UDRn.
const (
	UCSRA sched.PortID = 0x0
	UCSRB sched.PortID = 0x1
	UCSRC sched.PortID = 0x2
	_res  sched.PortID = 0x3
	UBRRL sched.PortID = 0x4
	UBRRH sched.PortID = 0x5
	UDR   sched.PortID = 0x6
)

// ParityMode is the 2-bit UPMn1:0 selector, validated rather than
// bit-cast on decode.
type ParityMode uint8

const (
	ParityDisabled ParityMode = iota
	parityReserved
	ParityEven
	ParityOdd
)

func decodeParityMode(bits uint8) ParityMode {
	switch bits & 0x3 {
	case 2:
		return ParityEven
	case 3:
		return ParityOdd
	default:
		return ParityDisabled
	}
}

// CharacterSize is the (UCSZn2, UCSZn1, UCSZn0) 3-bit field, validated
// against its five defined encodings; undefined combinations saturate
// to 8 data bits.
type CharacterSize uint8

const (
	Bits5 CharacterSize = iota
	Bits6
	Bits7
	Bits8
	_
	_
	_
	Bits9
)

func decodeCharacterSize(bits uint8) CharacterSize {
	switch bits & 0x7 {
	case 0:
		return Bits5
	case 1:
		return Bits6
	case 2:
		return Bits7
	case 3:
		return Bits8
	case 7:
		return Bits9
	default:
		return Bits8
	}
}

func (c CharacterSize) bits() int {
	switch c {
	case Bits5:
		return 5
	case Bits6:
		return 6
	case Bits7:
		return 7
	case Bits9:
		return 9
	default:
		return 8
	}
}

// Mode is the UMSELn1:0 operating-mode selector.
type Mode uint8

const (
	ModeAsync Mode = iota
	ModeSync
	ModeMasterSPI
)

func decodeMode(bits uint8) Mode {
	switch bits & 0x3 {
	case 1:
		return ModeSync
	case 3:
		return ModeMasterSPI
	default:
		return ModeAsync
	}
}

// frameState is the bit-by-bit frame assembly/disassembly state,
// tracked independently for transmit and receive. The data-bit index
// travels alongside in txBit/rxBit.
type frameState int

const (
	stateIdle frameState = iota
	stateStart
	stateData
	stateParity
	stateEndFirst
	stateEndSecond
)

// Uart is one register-mapped USART peripheral.
type Uart struct {
	moduleID  addr.Module
	interrupt addr.EventPort

	mode       Mode
	u2x        bool
	parity     ParityMode
	charSize   CharacterSize
	ucpol      bool
	doubleStop bool
	baudRate   uint16

	rxcie, txcie, udrie bool
	rxen, txen          bool

	txState frameState
	txBit   int
	txShift uint16 // frame currently on the wire
	txData  uint16 // one-deep holding register, bit 8 via UCSRB's TXB8
	txFull  bool   // holding register occupied
	txcFlag bool   // TXC: frame fully shifted out

	rxState   frameState
	rxBit     int
	rxShift   uint16
	rxFIFO    [2]uint16
	rxFIFOLen int

	parityError    bool
	frameError     bool
	dataOverrunErr bool

	// Clock-generation state: counter counts down to the next XCK
	// flip; the per-direction prescalers divide XCK edges into bit
	// periods.
	counter     uint16
	txPrescaler int
	rxPrescaler int

	ddrXCK bool
	xckVal wire.Input
	txVal  wire.State
	rxVal  wire.Input

	lastTick clock.TickTimestamp

	debug bool

	vcdCh  chan<- vcd.Event
	vcdIDs [2]int32
}

// RegisterVCD claims one one-bit signal each for TX and RX.
func (u *Uart) RegisterVCD(events chan<- vcd.Event, startID int32) ([]vcd.Signal, int32) {
	u.vcdCh = events
	u.vcdIDs = [2]int32{startID, startID + 1}
	return []vcd.Signal{
		{Name: "tx", ID: u.vcdIDs[0], Size: 1},
		{Name: "rx", ID: u.vcdIDs[1], Size: 1},
	}, 2
}

// New returns a freshly reset USART at the given address. interrupt
// names the event port (on the owning IO controller) notified whenever
// an enabled RX-complete, TX-complete, or data-register-empty
// condition arises.
func New(moduleID addr.Module, interrupt addr.EventPort) *Uart {
	return &Uart{
		moduleID:  moduleID,
		interrupt: interrupt,
		charSize:  Bits8, // UCSRnC resets to 0x06
		txVal:     wire.Z,
		rxVal:     wire.InputHigh,
		xckVal:    wire.InputLow,
	}
}

// SetDebug enables Debug() rendering.
func (u *Uart) SetDebug(on bool) { u.debug = on }

// Debug renders a one-line frame-machine snapshot when debugging is
// enabled, and an empty string otherwise.
func (u *Uart) Debug() string {
	if !u.debug {
		return ""
	}
	return fmt.Sprintf("tick %d tx: %d/%d rx: %d/%d fifo: %d shift: %.3X counter: %d\n",
		u.lastTick, u.txState, u.txBit, u.rxState, u.rxBit, u.rxFIFOLen, u.rxShift, u.counter)
}

func (u *Uart) Address() addr.Module { return u.moduleID }

func (u *Uart) Find(a addr.Module) sched.Module {
	if a.IsEmpty() {
		return u
	}
	return nil
}
func (u *Uart) FindMut(a addr.Module) sched.Module {
	if a.IsEmpty() {
		return u
	}
	return nil
}
func (u *Uart) ToWireable() sched.WireableModule { return u }

func (u *Uart) HandleEvent(event sched.InternalEvent, q *sched.EventQueue, at clock.Timestamp) {
	if event.ReceiverID.PortID != 0 {
		panic("uart: unexpected event port")
	}
	u.simulate(q.Clock.CurrentTick(), q)
	u.scheduleEvent(q)
}

func (u *Uart) GetPin(q *sched.EventQueue, id sched.PinID) wire.State {
	switch id {
	case PinRX:
		return u.rxVal.ToState().Combine(wire.WeakHigh)
	case PinTX:
		return u.txVal.Combine(wire.WeakHigh)
	case PinXCK:
		return u.xckVal.ToState()
	default:
		panic("uart: invalid pin")
	}
}

func (u *Uart) SetPin(q *sched.EventQueue, id sched.PinID, data wire.State) {
	switch id {
	case PinRX:
		u.rxVal = wire.InputFromState(data.Combine(wire.WeakHigh))
		if u.vcdCh != nil {
			u.vcdCh <- vcd.Event{T: q.Clock.CurrentTime(), SignalID: u.vcdIDs[1], Value: vcd.StateString([]wire.State{data})}
		}
	case PinTX:
		// TX is an output; external drive is ignored.
	case PinXCK:
		// Synchronous slave mode: external edges clock the module.
		if u.mode == ModeSync && !u.ddrXCK {
			u.xckVal = wire.InputFromState(data)
			u.triggerClock(q)
			u.lastTick = q.Clock.CurrentTick()
			u.scheduleEvent(q)
		}
	default:
		panic("uart: invalid pin")
	}
}

// SetDDRXck records the parent GPIO bank's data-direction bit for the
// XCK pin, deciding clock-master vs clock-slave in synchronous mode.
func (u *Uart) SetDDRXck(output bool) { u.ddrXCK = output }

func (u *Uart) setTX(q *sched.EventQueue, v wire.State) {
	u.txVal = v
	q.SetWire(u.moduleID.WithPin(uint8(PinTX)), v.Combine(wire.WeakHigh))
	if u.vcdCh != nil {
		u.vcdCh <- vcd.Event{T: q.Clock.CurrentTime(), SignalID: u.vcdIDs[0], Value: vcd.StateString([]wire.State{v.Combine(wire.WeakHigh)})}
	}
}

// bitPrescaler returns how many same-polarity XCK edges make up one
// bit period for a direction.
func (u *Uart) bitPrescaler() int {
	switch {
	case u.mode == ModeAsync && !u.u2x:
		return 8
	case u.mode == ModeAsync && u.u2x:
		return 4
	case u.mode == ModeSync:
		return 1
	default:
		return 2
	}
}

// nextState advances a frame machine one bit period. i is the current
// data-bit index; the returned index restarts at 0 whenever the state
// changes.
func (u *Uart) nextState(s frameState, i int) (frameState, int) {
	switch s {
	case stateIdle:
		return stateIdle, 0
	case stateStart:
		return stateData, 0
	case stateData:
		if i+1 < u.charSize.bits() {
			return stateData, i + 1
		}
		if u.parity != ParityDisabled {
			return stateParity, 0
		}
		return stateEndFirst, 0
	case stateParity:
		return stateEndFirst, 0
	case stateEndFirst:
		if u.doubleStop {
			return stateEndSecond, 0
		}
		return stateIdle, 0
	default:
		return stateIdle, 0
	}
}

func parityBit(data uint16, bits int, mode ParityMode) bool {
	var ones int
	for i := 0; i < bits; i++ {
		if (data>>uint(i))&1 != 0 {
			ones++
		}
	}
	odd := ones%2 != 0
	if mode == ParityOdd {
		return !odd
	}
	return odd
}

// triggerReceiver advances the receive frame machine one bit period,
// sampling bit. A high line while idle stays idle; a low sample is the
// start bit.
func (u *Uart) triggerReceiver(bit wire.Input, q *sched.EventQueue) {
	u.rxState, u.rxBit = u.nextState(u.rxState, u.rxBit)

	if u.rxState == stateIdle {
		if bit == wire.InputLow {
			u.rxState = stateStart
		}
		return
	}

	switch u.rxState {
	case stateData:
		mask := uint16(1) << uint(u.rxBit)
		if bit == wire.InputHigh {
			u.rxShift |= mask
		} else {
			u.rxShift &^= mask
		}
	case stateParity:
		want := parityBit(u.rxShift, u.charSize.bits(), u.parity)
		if (bit == wire.InputHigh) != want {
			u.parityError = true
		}
	case stateEndFirst:
		if bit == wire.InputLow {
			u.frameError = true
		}
		if u.rxFIFOLen < len(u.rxFIFO) {
			u.rxFIFO[u.rxFIFOLen] = u.rxShift
			u.rxFIFOLen++
		} else {
			u.dataOverrunErr = true
		}
		if u.rxcie {
			q.FireEventNow(sched.InternalEvent{ReceiverID: u.interrupt})
		}
	case stateEndSecond:
		// Second stop bit carries no data.
	}
}

// triggerTransmitter advances the transmit frame machine one bit
// period and drives the TX pin accordingly.
func (u *Uart) triggerTransmitter(q *sched.EventQueue) {
	u.txState, u.txBit = u.nextState(u.txState, u.txBit)

	if u.txState == stateIdle && u.txFull {
		u.txState = stateStart
		u.txShift = u.txData
		u.txFull = false
		if u.udrie {
			q.FireEventNow(sched.InternalEvent{ReceiverID: u.interrupt})
		}
	}

	switch u.txState {
	case stateIdle:
		u.setTX(q, wire.Z)
	case stateStart:
		u.setTX(q, wire.Low)
	case stateData:
		u.setTX(q, wire.FromBool((u.txShift>>uint(u.txBit))&1 != 0))
	case stateParity:
		u.setTX(q, wire.FromBool(parityBit(u.txShift, u.charSize.bits(), u.parity)))
	case stateEndFirst, stateEndSecond:
		u.setTX(q, wire.High)
		u.txcFlag = true
		if u.txcie {
			q.FireEventNow(sched.InternalEvent{ReceiverID: u.interrupt})
		}
	}
}

func (u *Uart) triggerTransmitterClock(q *sched.EventQueue) {
	u.txPrescaler++
	if u.txPrescaler >= u.bitPrescaler() {
		u.txPrescaler = 0
		u.triggerTransmitter(q)
	}
}

// triggerReceiverClock divides receive-polarity XCK edges into bit
// periods. While idle, every edge probes for a start bit; once a frame
// begins, samples land half a bit period past each bit boundary so a
// mid-bit value is read rather than the transition edge.
func (u *Uart) triggerReceiverClock(q *sched.EventQueue) {
	prescaler := u.bitPrescaler()
	if u.rxState == stateIdle {
		u.triggerReceiver(u.rxVal, q)
		if u.rxState != stateIdle {
			u.rxPrescaler = -(prescaler / 2)
		}
		return
	}
	u.rxPrescaler++
	if u.rxPrescaler >= prescaler {
		u.rxPrescaler = 0
		u.triggerReceiver(u.rxVal, q)
	}
}

// triggerClock services one XCK edge: republish the level, then clock
// whichever direction this polarity drives per UCPOL.
func (u *Uart) triggerClock(q *sched.EventQueue) {
	q.SetWire(u.moduleID.WithPin(uint8(PinXCK)), u.xckVal.ToState())
	txEdge := u.xckVal == wire.InputHigh
	if u.ucpol {
		// UCPOL=1: sample on rising, change on falling.
		txEdge = !txEdge
	}
	if txEdge {
		if u.txen {
			u.triggerTransmitterClock(q)
		}
	} else {
		if u.rxen {
			u.triggerReceiverClock(q)
		}
	}
}

// simulate settles the clock divider forward to timestamp. The event
// schedule lands exactly on each XCK flip, so overshooting one is a
// scheduling bug.
func (u *Uart) simulate(timestamp clock.TickTimestamp, q *sched.EventQueue) {
	if !u.txen && !u.rxen {
		u.lastTick = timestamp
		return
	}
	if u.mode == ModeSync && !u.ddrXCK {
		// Externally clocked; edges arrive through SetPin.
		u.lastTick = timestamp
		return
	}

	ticks := int64(timestamp - u.lastTick)
	newCounter := int64(u.counter) - ticks
	switch {
	case newCounter == -1:
		u.counter = u.baudRate
		u.xckVal = u.xckVal.Flip()
		u.triggerClock(q)
	case newCounter < 0:
		panic("uart: clock divider advanced past a scheduled event")
	default:
		u.counter = uint16(newCounter)
	}
	u.lastTick = timestamp
}

func (u *Uart) scheduleEvent(q *sched.EventQueue) {
	if !u.txen && !u.rxen {
		return
	}
	if u.mode == ModeSync && !u.ddrXCK {
		return
	}
	next := q.Clock.CurrentTick() + clock.TickTimestamp(u.counter) + 1
	q.FireEventAtTicks(sched.InternalEvent{ReceiverID: u.moduleID.WithEventPort(0)}, next)
}

// Interrupt conditions, scanned by the IO controller's vector table.

// RXInterrupt reports the RX-complete condition: the FIFO is
// non-empty. It clears through UDR reads, never by vectoring.
func (u *Uart) RXInterrupt() bool { return u.rxFIFOLen > 0 }

// UDRInterrupt reports the data-register-empty condition. It clears
// through UDR writes, never by vectoring.
func (u *Uart) UDRInterrupt() bool { return !u.txFull }

// TXInterrupt reports the transmit-complete flag.
func (u *Uart) TXInterrupt() bool { return u.txcFlag }

// ClearTXInterrupt retires the transmit-complete flag, as hardware
// does when the TXC vector is taken (or software writes one to TXCn).
func (u *Uart) ClearTXInterrupt() { u.txcFlag = false }

// RXIntEnabled, TXIntEnabled and UDRIntEnabled expose the UCSRnB
// enable bits for the vector scan.
func (u *Uart) RXIntEnabled() bool  { return u.rxcie }
func (u *Uart) TXIntEnabled() bool  { return u.txcie }
func (u *Uart) UDRIntEnabled() bool { return u.udrie }

func (u *Uart) ReadPort(q *sched.EventQueue, id sched.PortID) uint8 {
	switch id {
	case UCSRA:
		var v uint8
		if u.RXInterrupt() {
			v |= 1 << 7
		}
		if u.txcFlag {
			v |= 1 << 6
		}
		if u.UDRInterrupt() {
			v |= 1 << 5
		}
		if u.frameError {
			v |= 1 << 4
		}
		if u.dataOverrunErr {
			v |= 1 << 3
		}
		if u.parityError {
			v |= 1 << 2
		}
		if u.u2x {
			v |= 1 << 1
		}
		return v
	case UCSRB:
		var v uint8
		if u.rxcie {
			v |= 1 << 7
		}
		if u.txcie {
			v |= 1 << 6
		}
		if u.udrie {
			v |= 1 << 5
		}
		if u.rxen {
			v |= 1 << 4
		}
		if u.txen {
			v |= 1 << 3
		}
		v |= (uint8(u.charSize) >> 2) << 2
		v |= uint8((u.rxFIFO[0]>>8)&1) << 1
		v |= uint8((u.txData >> 8) & 1)
		return v
	case UCSRC:
		var v uint8
		v |= uint8(u.mode) << 6
		v |= uint8(u.parity) << 4
		if u.doubleStop {
			v |= 1 << 3
		}
		v |= (uint8(u.charSize) & 0x3) << 1
		if u.ucpol {
			v |= 1
		}
		return v
	case UBRRL:
		return uint8(u.baudRate)
	case UBRRH:
		return uint8(u.baudRate >> 8)
	case UDR:
		switch u.rxFIFOLen {
		case 0:
			return 0
		case 1:
			v := uint8(u.rxFIFO[0])
			u.rxFIFOLen = 0
			return v
		default:
			v := uint8(u.rxFIFO[0])
			u.rxFIFO[0] = u.rxFIFO[1]
			u.rxFIFOLen = 1
			return v
		}
	default:
		panic("uart: invalid port id")
	}
}

func (u *Uart) WritePort(q *sched.EventQueue, id sched.PortID, data uint8) {
	u.simulate(q.Clock.CurrentTick(), q)
	switch id {
	case UCSRA:
		if data&0x40 != 0 {
			u.txcFlag = false
		}
		u.u2x = data&0x02 != 0
	case UCSRB:
		u.rxcie = data&0x80 != 0
		u.txcie = data&0x40 != 0
		u.udrie = data&0x20 != 0
		u.rxen = data&0x10 != 0
		u.txen = data&0x08 != 0
		u.charSize = decodeCharacterSize(uint8(u.charSize)&0x3 | ((data>>2)&1)<<2)
		u.txData = u.txData&0xFF | uint16(data&1)<<8

		q.SetMultiplexerFlag(u.moduleID.WithPin(uint8(PinRX)), u.rxen)
		q.SetMultiplexerFlag(u.moduleID.WithPin(uint8(PinTX)), u.txen)
		if u.rxen {
			q.SetWire(u.moduleID.WithPin(uint8(PinRX)), wire.WeakHigh)
		}
		if u.txen {
			q.SetWire(u.moduleID.WithPin(uint8(PinTX)), wire.WeakHigh)
		}
	case UCSRC:
		u.mode = decodeMode(data >> 6)
		u.parity = decodeParityMode(data >> 4)
		u.doubleStop = data&0x08 != 0
		u.charSize = decodeCharacterSize(uint8(u.charSize)&0x4 | (data>>1)&0x3)
		u.ucpol = data&0x01 != 0

		q.SetMultiplexerFlag(u.moduleID.WithPin(uint8(PinXCK)), u.mode == ModeSync)
	case UBRRL:
		u.baudRate = u.baudRate&0xFF00 | uint16(data)
		u.counter = u.baudRate
	case UBRRH:
		u.baudRate = u.baudRate&0x00FF | uint16(data)<<8
	case UDR:
		if !u.txFull {
			u.txData = u.txData&0x100 | uint16(data)
			u.txFull = true
		}
	default:
		panic("uart: invalid port id")
	}
	u.scheduleEvent(q)
}
