// Package timer16 implements the AVR 16-bit Timer/Counter: a
// free-running counter with selectable waveform-generation mode,
// prescaler, three output-compare channels, and overflow/compare
// interrupt flags.
//
// The counter is never stepped tick-by-tick. Instead the timer settles
// lazily: it remembers the counter value and tick of the last
// settlement, schedules an internal event at the next point anything
// observable happens (top, an active OCR match, the overflow sample),
// and batch-advances across the gap when that event or a register
// access arrives. Advancing past a scheduled point without having
// dispatched it is a scheduling bug and panics.
package timer16

import (
	"fmt"

	"github.com/avrsim/boardsim/pkg/addr"
	"github.com/avrsim/boardsim/pkg/clock"
	"github.com/avrsim/boardsim/pkg/sched"
	"github.com/avrsim/boardsim/pkg/vcd"
	"github.com/avrsim/boardsim/pkg/wire"
)

// Register offsets within a timer's IO window, matching the
// ATmega2560's TCCRnA/B/C, TCNTn, ICRn, OCRnA/B/C layout.
const (
	TCCRA sched.PortID = 0x0
	TCCRB sched.PortID = 0x1
	TCCRC sched.PortID = 0x2
	_res  sched.PortID = 0x3
	TCNTL sched.PortID = 0x4
	TCNTH sched.PortID = 0x5
	ICRL  sched.PortID = 0x6
	ICRH  sched.PortID = 0x7
	OCRAL sched.PortID = 0x8
	OCRAH sched.PortID = 0x9
	OCRBL sched.PortID = 0xA
	OCRBH sched.PortID = 0xB
	OCRCL sched.PortID = 0xC
	OCRCH sched.PortID = 0xD

	// TIMSKPort and TIFRPort are accessed out-of-band through the IO
	// controller's own register map (they sit in shared TIMSKn/TIFRn
	// bytes away from the timer's register window in real hardware);
	// the IO controller routes to them with these sentinel port ids.
	TIMSKPort sched.PortID = 0xFE
	TIFRPort  sched.PortID = 0xFF
)

// WaveformMode is the 4-bit WGMn3:0 waveform-generation mode selector.
// Decoded with validation (saturating to Reserved) rather than a raw
// bit-cast.
type WaveformMode uint8

const (
	WGMNormal WaveformMode = iota
	WGMPWM8PhaseCorrect
	WGMPWM9PhaseCorrect
	WGMPWM10PhaseCorrect
	WGMCTCOCRA
	WGMFastPWM8
	WGMFastPWM9
	WGMFastPWM10
	WGMPWMPhaseFreqICR
	WGMPWMPhaseFreqOCRA
	WGMPWMPhaseICR
	WGMPWMPhaseOCRA
	WGMCTCICR
	WGMReserved13
	WGMFastPWMICR
	WGMFastPWMOCRA
)

func decodeWaveformMode(bits uint8) WaveformMode {
	if bits > uint8(WGMFastPWMOCRA) {
		return WGMReserved13
	}
	return WaveformMode(bits)
}

// ClockMode is the 3-bit CSn2:0 prescaler/clock selector.
type ClockMode uint8

const (
	ClockStopped ClockMode = iota
	ClockDiv1
	ClockDiv8
	ClockDiv64
	ClockDiv256
	ClockDiv1024
	ClockExtFalling
	ClockExtRising
)

func decodeClockMode(bits uint8) ClockMode {
	if bits > uint8(ClockExtRising) {
		return ClockStopped
	}
	return ClockMode(bits)
}

// CompareOutputMode is the 2-bit COMnX1:0 selector for one OC channel.
type CompareOutputMode uint8

const (
	COMDisconnected CompareOutputMode = iota
	COMToggle
	COMClear
	COMSet
)

func decodeCompareOutputMode(bits uint8) CompareOutputMode {
	return CompareOutputMode(bits & 0x3)
}

// InterruptFlags mirrors TIFRn's writable bits.
type InterruptFlags struct {
	InputCapture bool
	OC           [3]bool
	Overflow     bool
}

// InterruptMasks mirrors TIMSKn's enable bits.
type InterruptMasks struct {
	InputCapture bool
	OC           [3]bool
	Overflow     bool
}

// OC pin indices within the timer's own pin space (OCnA=0, OCnB=1, OCnC=2).
const (
	PinOCA sched.PinID = 0
	PinOCB sched.PinID = 1
	PinOCC sched.PinID = 2
)

// Timer implements one 16-bit Timer/Counter channel group (OCnA/B/C).
type Timer struct {
	moduleID  addr.Module
	interrupt addr.EventPort

	wgm  WaveformMode
	cs   ClockMode
	com  [3]CompareOutputMode
	icnc bool // input capture noise canceler, stored but not modelled
	ices bool // input capture edge select

	icr uint16
	ocr [3]uint16

	pins [3]bool

	// Settlement state: the counter held lastCounter at lastTick.
	lastCounter uint16
	lastTick    clock.TickTimestamp
	upcounting  bool

	InterruptFlags InterruptFlags
	InterruptMasks InterruptMasks

	debug bool

	vcdCh  chan<- vcd.Event
	vcdIDs [3]int32
}

// RegisterVCD claims one one-bit signal per output-compare channel
// (OCnA/OCnB/OCnC).
func (t *Timer) RegisterVCD(events chan<- vcd.Event, startID int32) ([]vcd.Signal, int32) {
	t.vcdCh = events
	names := [3]string{"oca", "ocb", "occ"}
	signals := make([]vcd.Signal, 3)
	for i := range names {
		t.vcdIDs[i] = startID + int32(i)
		signals[i] = vcd.Signal{Name: names[i], ID: t.vcdIDs[i], Size: 1}
	}
	return signals, 3
}

// New returns a freshly reset Timer16 channel. interrupt names the
// event port (on the owning IO controller) notified whenever this
// timer raises an unmasked interrupt flag.
func New(moduleID addr.Module, interrupt addr.EventPort) *Timer {
	return &Timer{
		moduleID:   moduleID,
		interrupt:  interrupt,
		upcounting: true,
	}
}

// SetDebug enables Debug() rendering.
func (t *Timer) SetDebug(on bool) { t.debug = on }

// Debug renders a one-line settlement snapshot when debugging is
// enabled, and an empty string otherwise.
func (t *Timer) Debug() string {
	if !t.debug {
		return ""
	}
	return fmt.Sprintf("tick %d tcnt: %.4X wgm: %d cs: %d up: %t ocr: %.4X %.4X %.4X\n",
		t.lastTick, t.lastCounter, t.wgm, t.cs, t.upcounting, t.ocr[0], t.ocr[1], t.ocr[2])
}

func (t *Timer) Address() addr.Module { return t.moduleID }

func (t *Timer) HandleEvent(event sched.InternalEvent, q *sched.EventQueue, at clock.Timestamp) {
	if event.ReceiverID.PortID != 0 {
		panic("timer16: unexpected event port")
	}
	t.simulate(q.Clock.CurrentTick(), q)
	t.scheduleEvent(q)
}

func (t *Timer) Find(a addr.Module) sched.Module {
	if a.IsEmpty() {
		return t
	}
	return nil
}
func (t *Timer) FindMut(a addr.Module) sched.Module {
	if a.IsEmpty() {
		return t
	}
	return nil
}
func (t *Timer) ToWireable() sched.WireableModule { return t }

func (t *Timer) GetPin(q *sched.EventQueue, id sched.PinID) wire.State {
	if id > PinOCC {
		panic("timer16: invalid pin")
	}
	return wire.FromBool(t.pins[id])
}

func (t *Timer) SetPin(q *sched.EventQueue, id sched.PinID, data wire.State) {
	// Output-compare pins are outputs only; external drive is ignored.
}

// top returns the value the counter turns around at in the active
// waveform mode.
func (t *Timer) top() uint16 {
	switch t.wgm {
	case WGMNormal:
		return 0xFFFF
	case WGMPWM8PhaseCorrect, WGMFastPWM8:
		return 0x00FF
	case WGMPWM9PhaseCorrect, WGMFastPWM9:
		return 0x01FF
	case WGMPWM10PhaseCorrect, WGMFastPWM10:
		return 0x03FF
	case WGMCTCOCRA, WGMPWMPhaseFreqOCRA, WGMPWMPhaseOCRA, WGMFastPWMOCRA:
		return t.ocr[0]
	case WGMPWMPhaseFreqICR, WGMPWMPhaseICR, WGMCTCICR, WGMFastPWMICR:
		return t.icr
	default:
		return 0xFFFF
	}
}

// overflowValue returns the counter value at which TOVn is sampled:
// MAX in Normal/CTC, TOP in fast PWM, BOTTOM in the phase-correct
// modes.
func (t *Timer) overflowValue() uint16 {
	switch t.wgm {
	case WGMNormal, WGMCTCOCRA, WGMCTCICR:
		return 0xFFFF
	case WGMFastPWM8:
		return 0x00FF
	case WGMFastPWM9:
		return 0x01FF
	case WGMFastPWM10:
		return 0x03FF
	case WGMFastPWMICR:
		return t.icr
	case WGMFastPWMOCRA:
		return t.ocr[0]
	default:
		// All phase-correct PWM variants sample overflow at BOTTOM.
		return 0
	}
}

func (t *Timer) isPhaseCorrect() bool {
	switch t.wgm {
	case WGMPWM8PhaseCorrect, WGMPWM9PhaseCorrect, WGMPWM10PhaseCorrect,
		WGMPWMPhaseFreqICR, WGMPWMPhaseFreqOCRA, WGMPWMPhaseICR, WGMPWMPhaseOCRA:
		return true
	default:
		return false
	}
}

func (t *Timer) isOCActive(ch int) bool {
	return t.com[ch] != COMDisconnected || t.InterruptMasks.OC[ch]
}

// prescalerShift returns log2 of the selected prescaler divisor.
// Settlement works on prescaler-aligned tick windows, so the divisor
// is applied by shifting tick counts rather than dividing.
func (t *Timer) prescalerShift() uint {
	switch t.cs {
	case ClockDiv1:
		return 0
	case ClockDiv8:
		return 3
	case ClockDiv64:
		return 6
	case ClockDiv256:
		return 8
	case ClockDiv1024:
		return 10
	case ClockExtFalling, ClockExtRising:
		panic("timer16: external clock modes are not implemented")
	default:
		panic("timer16: prescaler shift of a stopped timer")
	}
}

func (t *Timer) ticksUpTo(timestamp clock.TickTimestamp) int64 {
	shift := t.prescalerShift()
	return int64(timestamp>>shift) - int64(t.lastTick>>shift)
}

func (t *Timer) addTicks(timestamp clock.TickTimestamp, timerTicks int64) clock.TickTimestamp {
	if t.cs == ClockStopped {
		return timestamp
	}
	shift := t.prescalerShift()
	return clock.TickTimestamp((int64(timestamp>>shift) + timerTicks) << shift)
}

// ticksUntilNextEvent returns the number of counter steps to the
// nearest observable point: the turnaround at top (or bottom while
// downcounting), the next active OCR match, or the overflow sample
// when the overflow interrupt is unmasked.
func (t *Timer) ticksUntilNextEvent() int64 {
	if t.upcounting {
		minTicks := int64(t.top()) - int64(t.lastCounter) + 1
		for ch := 0; ch < 3; ch++ {
			if t.isOCActive(ch) && t.lastCounter < t.ocr[ch] {
				if d := int64(t.ocr[ch]) - int64(t.lastCounter); d < minTicks {
					minTicks = d
				}
			}
		}
		if t.InterruptMasks.Overflow && t.lastCounter < t.overflowValue() {
			if d := int64(t.overflowValue()) - int64(t.lastCounter); d < minTicks {
				minTicks = d
			}
		}
		return minTicks
	}

	minTicks := int64(t.lastCounter) + 1
	for ch := 0; ch < 3; ch++ {
		if t.isOCActive(ch) && t.lastCounter > t.ocr[ch] {
			if d := int64(t.lastCounter) - int64(t.ocr[ch]); d < minTicks {
				minTicks = d
			}
		}
	}
	if t.InterruptMasks.Overflow && t.lastCounter > t.overflowValue() {
		if d := int64(t.lastCounter) - int64(t.overflowValue()); d < minTicks {
			minTicks = d
		}
	}
	return minTicks
}

// simulate batch-settles the counter from the last settlement point to
// timestamp. The event schedule guarantees no observable crossing lies
// strictly inside the gap, so landing exactly on top+1 (or one past
// bottom) is the only wrap case and anything further is a missed
// event.
func (t *Timer) simulate(timestamp clock.TickTimestamp, q *sched.EventQueue) {
	if t.cs == ClockStopped {
		t.lastTick = timestamp
		return
	}

	ticks := t.ticksUpTo(timestamp)
	if t.upcounting {
		top := t.top()
		newCounter := int64(t.lastCounter) + ticks
		switch {
		case newCounter == int64(top)+1:
			if t.isPhaseCorrect() {
				t.upcounting = false
				t.lastCounter = top - 1
			} else {
				t.lastCounter = 0
			}
		case newCounter > int64(top)+1:
			panic("timer16: counter advanced past a scheduled event")
		default:
			t.lastCounter = uint16(newCounter)
		}
	} else {
		switch {
		case ticks-1 == int64(t.lastCounter):
			if !t.isPhaseCorrect() {
				panic("timer16: downcounting outside a phase-correct mode")
			}
			t.upcounting = true
			t.lastCounter = 1
		case ticks-1 > int64(t.lastCounter):
			panic("timer16: counter advanced past a scheduled event")
		default:
			t.lastCounter -= uint16(ticks)
		}
	}
	t.lastTick = timestamp

	// A zero-tick settle (several register accesses within one tick)
	// must not re-fire the crossing the counter is already sitting on.
	if ticks == 0 {
		return
	}

	for ch := 0; ch < 3; ch++ {
		if t.ocr[ch] == t.lastCounter {
			t.triggerOC(ch, q)
		}
	}
	if t.InterruptMasks.Overflow && t.overflowValue() == t.lastCounter {
		t.InterruptFlags.Overflow = true
		t.notifyInterrupt(q)
	}
}

// calculateCounter interpolates the counter value at timestamp without
// settling, for TCNT reads between events.
func (t *Timer) calculateCounter(timestamp clock.TickTimestamp) uint16 {
	if t.cs == ClockStopped {
		return t.lastCounter
	}
	ticks := t.ticksUpTo(timestamp)
	if ticks > t.ticksUntilNextEvent() {
		panic("timer16: counter read past a scheduled event")
	}
	if t.upcounting {
		return t.lastCounter + uint16(ticks)
	}
	return t.lastCounter - uint16(ticks)
}

// triggerOC services a compare match on channel ch: flag + interrupt
// when unmasked, then the COM-selected pin action.
func (t *Timer) triggerOC(ch int, q *sched.EventQueue) {
	if t.InterruptMasks.OC[ch] {
		t.InterruptFlags.OC[ch] = true
		t.notifyInterrupt(q)
	}
	pin := t.moduleID.WithPin(uint8(ch))
	switch t.com[ch] {
	case COMDisconnected:
		return
	case COMToggle:
		t.pins[ch] = !t.pins[ch]
		q.SetWire(pin, wire.FromBool(t.pins[ch]))
	case COMClear:
		if t.pins[ch] {
			q.SetWire(pin, wire.Low)
		}
		t.pins[ch] = false
	case COMSet:
		if !t.pins[ch] {
			q.SetWire(pin, wire.High)
		}
		t.pins[ch] = true
	}
	if t.vcdCh != nil {
		t.vcdCh <- vcd.Event{T: q.Clock.CurrentTime(), SignalID: t.vcdIDs[ch], Value: vcd.StateString([]wire.State{wire.FromBool(t.pins[ch])})}
	}
}

func (t *Timer) notifyInterrupt(q *sched.EventQueue) {
	q.FireEventNow(sched.InternalEvent{ReceiverID: t.interrupt})
}

func (t *Timer) scheduleEvent(q *sched.EventQueue) {
	if t.cs == ClockStopped {
		return
	}
	next := t.addTicks(q.Clock.CurrentTick(), t.ticksUntilNextEvent())
	q.FireEventAtTicks(sched.InternalEvent{ReceiverID: t.moduleID.WithEventPort(0)}, next)
}

func (t *Timer) ReadPort(q *sched.EventQueue, id sched.PortID) uint8 {
	switch id {
	case TCCRA:
		return uint8(t.com[0])<<6 | uint8(t.com[1])<<4 | uint8(t.com[2])<<2 | uint8(t.wgm)&0x3
	case TCCRB:
		icnc := boolBit(t.icnc, 7)
		ices := boolBit(t.ices, 6)
		wgmHi := (uint8(t.wgm) >> 2) << 3
		return icnc | ices | wgmHi | uint8(t.cs)
	case TCCRC:
		return 0
	case TCNTL:
		return uint8(t.calculateCounter(q.Clock.CurrentTick()))
	case TCNTH:
		return uint8(t.calculateCounter(q.Clock.CurrentTick()) >> 8)
	case ICRL:
		return uint8(t.icr)
	case ICRH:
		return uint8(t.icr >> 8)
	case OCRAL:
		return uint8(t.ocr[0])
	case OCRAH:
		return uint8(t.ocr[0] >> 8)
	case OCRBL:
		return uint8(t.ocr[1])
	case OCRBH:
		return uint8(t.ocr[1] >> 8)
	case OCRCL:
		return uint8(t.ocr[2])
	case OCRCH:
		return uint8(t.ocr[2] >> 8)
	case TIMSKPort:
		return boolBit(t.InterruptMasks.InputCapture, 5) |
			boolBit(t.InterruptMasks.OC[2], 3) | boolBit(t.InterruptMasks.OC[1], 2) |
			boolBit(t.InterruptMasks.OC[0], 1) | boolBit(t.InterruptMasks.Overflow, 0)
	case TIFRPort:
		return boolBit(t.InterruptFlags.InputCapture, 5) |
			boolBit(t.InterruptFlags.OC[2], 3) | boolBit(t.InterruptFlags.OC[1], 2) |
			boolBit(t.InterruptFlags.OC[0], 1) | boolBit(t.InterruptFlags.Overflow, 0)
	default:
		panic("timer16: invalid port id")
	}
}

func boolBit(b bool, shift uint) uint8 {
	if b {
		return 1 << shift
	}
	return 0
}

func (t *Timer) WritePort(q *sched.EventQueue, id sched.PortID, data uint8) {
	t.simulate(q.Clock.CurrentTick(), q)
	switch id {
	case TCCRA:
		t.com[0] = decodeCompareOutputMode(data >> 6)
		t.com[1] = decodeCompareOutputMode(data >> 4)
		t.com[2] = decodeCompareOutputMode(data >> 2)
		t.wgm = decodeWaveformMode(uint8(t.wgm)&0xC | data&0x3)
		t.upcounting = true
		for ch := 0; ch < 3; ch++ {
			q.SetMultiplexerFlag(t.moduleID.WithPin(uint8(ch)), t.com[ch] != COMDisconnected)
		}
	case TCCRB:
		t.icnc = data&0x80 != 0
		t.ices = data&0x40 != 0
		t.wgm = decodeWaveformMode(((data>>3)&0x3)<<2 | uint8(t.wgm)&0x3)
		t.cs = decodeClockMode(data & 0x7)
		t.upcounting = true
	case TCCRC:
		// Force-output-compare bits: not modelled.
	case TCNTL:
		// The paired 16-bit write protocol requires both halves inside
		// one simulation step; the simulate() above pinned lastTick to
		// the current tick, so the counter swap is atomic here.
		t.lastCounter = t.lastCounter&0xFF00 | uint16(data)
	case TCNTH:
		t.lastCounter = t.lastCounter&0x00FF | uint16(data)<<8
	case ICRL:
		t.icr = t.icr&0xFF00 | uint16(data)
	case ICRH:
		t.icr = t.icr&0x00FF | uint16(data)<<8
	case OCRAL:
		t.ocr[0] = t.ocr[0]&0xFF00 | uint16(data)
	case OCRAH:
		t.ocr[0] = t.ocr[0]&0x00FF | uint16(data)<<8
	case OCRBL:
		t.ocr[1] = t.ocr[1]&0xFF00 | uint16(data)
	case OCRBH:
		t.ocr[1] = t.ocr[1]&0x00FF | uint16(data)<<8
	case OCRCL:
		t.ocr[2] = t.ocr[2]&0xFF00 | uint16(data)
	case OCRCH:
		t.ocr[2] = t.ocr[2]&0x00FF | uint16(data)<<8
	case TIMSKPort:
		t.InterruptMasks.InputCapture = data&0x20 != 0
		t.InterruptMasks.OC[2] = data&0x08 != 0
		t.InterruptMasks.OC[1] = data&0x04 != 0
		t.InterruptMasks.OC[0] = data&0x02 != 0
		t.InterruptMasks.Overflow = data&0x01 != 0
	case TIFRPort:
		// Write-one-to-clear.
		if data&0x20 != 0 {
			t.InterruptFlags.InputCapture = false
		}
		if data&0x08 != 0 {
			t.InterruptFlags.OC[2] = false
		}
		if data&0x04 != 0 {
			t.InterruptFlags.OC[1] = false
		}
		if data&0x02 != 0 {
			t.InterruptFlags.OC[0] = false
		}
		if data&0x01 != 0 {
			t.InterruptFlags.Overflow = false
		}
	default:
		panic("timer16: invalid port id")
	}
	t.scheduleEvent(q)
}
