package uart

import (
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/avrsim/boardsim/pkg/addr"
	"github.com/avrsim/boardsim/pkg/clock"
	"github.com/avrsim/boardsim/pkg/sched"
	"github.com/avrsim/boardsim/pkg/wire"
)

func newTestUart() (*Uart, *sched.EventQueue) {
	tables := sched.NewTables()
	q := sched.NewEventQueue(tables, 1, 0)
	id := q.RootModuleID()
	u := New(id, id.WithEventPort(9))
	for _, p := range []sched.PinID{PinRX, PinTX, PinXCK} {
		pin := id.WithPin(uint8(p))
		q.RegisterMultiplexer(pin, []addr.Pin{pin})
	}
	return u, q
}

func TestParityBitEvenOdd(t *testing.T) {
	if parityBit(0b0000_0011, 8, ParityEven) != false {
		t.Fatalf("two set bits should need no even-parity correction bit")
	}
	if parityBit(0b0000_0001, 8, ParityEven) != true {
		t.Fatalf("one set bit should need an even-parity correction bit")
	}
	if parityBit(0b0000_0001, 8, ParityOdd) != false {
		t.Fatalf("odd parity of one set bit should need no correction bit")
	}
}

func TestBitPrescalerSelection(t *testing.T) {
	u, _ := newTestUart()
	u.mode, u.u2x = ModeAsync, false
	if got := u.bitPrescaler(); got != 8 {
		t.Errorf("async/no-u2x prescaler = %d, want 8", got)
	}
	u.u2x = true
	if got := u.bitPrescaler(); got != 4 {
		t.Errorf("async/u2x prescaler = %d, want 4", got)
	}
	u.mode = ModeSync
	if got := u.bitPrescaler(); got != 1 {
		t.Errorf("sync prescaler = %d, want 1", got)
	}
	u.mode = ModeMasterSPI
	if got := u.bitPrescaler(); got != 2 {
		t.Errorf("master-SPI prescaler = %d, want 2", got)
	}
}

func TestAsyncTransmitDrainsHoldingRegister(t *testing.T) {
	u, q := newTestUart()
	u.WritePort(q, UCSRB, 0x08) // TXEN
	u.WritePort(q, UBRRL, 1)
	u.WritePort(q, UBRRH, 0)
	u.WritePort(q, UDR, 0x55)

	// Frame = 10 bit periods; each bit period = 8 transmit-polarity
	// edges = 16 XCK flips = 16*(baud+1) ticks. Walk well past that.
	for i := 0; i < 12*16*2+64; i++ {
		q.Clock.Advance(1)
		u.HandleEvent(sched.InternalEvent{}, q, 0)
	}

	if u.txFull {
		t.Fatalf("holding register still occupied after the frame window: %s", spew.Sdump(u))
	}
	if !u.txcFlag {
		t.Fatalf("transmit-complete flag not raised after the frame drained")
	}
}

func TestReceiverDetectsFrameError(t *testing.T) {
	u, q := newTestUart()
	u.charSize = Bits8

	// Parity state advances into the first stop bit; a low sample there
	// is a framing violation.
	u.parity = ParityEven
	u.rxState = stateParity
	u.triggerReceiver(wire.InputLow, q)

	if !u.frameError {
		t.Fatalf("frame error not flagged when the stop bit samples low")
	}
}

func TestReceiverFIFOOverrunFlag(t *testing.T) {
	u, q := newTestUart()
	u.charSize = Bits8
	u.rxFIFOLen = 2
	u.rxState = stateParity
	u.parity = ParityEven
	u.rxShift = 0x42

	u.triggerReceiver(wire.InputHigh, q)
	if !u.dataOverrunErr {
		t.Fatalf("data overrun not flagged when the 2-deep RX FIFO is already full")
	}
}

// feedFrame walks a whole frame through the receive machine one bit
// period at a time, the way the sampling clock would.
func feedFrame(u *Uart, q *sched.EventQueue, bits []wire.Input) {
	for _, b := range bits {
		u.triggerReceiver(b, q)
	}
}

func frameBits(data uint8, parity ParityMode) []wire.Input {
	bits := []wire.Input{wire.InputLow} // start
	for i := 0; i < 8; i++ {
		if (data>>uint(i))&1 != 0 {
			bits = append(bits, wire.InputHigh)
		} else {
			bits = append(bits, wire.InputLow)
		}
	}
	if parity != ParityDisabled {
		if parityBit(uint16(data), 8, parity) {
			bits = append(bits, wire.InputHigh)
		} else {
			bits = append(bits, wire.InputLow)
		}
	}
	bits = append(bits, wire.InputHigh) // stop
	return bits
}

func TestReceiveFrameAssembles(t *testing.T) {
	u, q := newTestUart()
	u.charSize = Bits8

	feedFrame(u, q, frameBits(0xA7, ParityDisabled))

	if u.rxFIFOLen != 1 {
		t.Fatalf("FIFO len = %d after one frame, want 1: %s", u.rxFIFOLen, spew.Sdump(u))
	}
	if got := uint8(u.rxFIFO[0]); got != 0xA7 {
		t.Fatalf("received %#02x, want 0xA7", got)
	}
	if u.frameError || u.parityError {
		t.Fatalf("clean frame raised errors: frame=%t parity=%t", u.frameError, u.parityError)
	}
}

func TestCorruptedDataBitSetsParityError(t *testing.T) {
	u, q := newTestUart()
	u.charSize = Bits8
	u.parity = ParityEven

	bits := frameBits(0x5A, ParityEven)
	bits[3] = bits[3].Flip() // corrupt data bit 2 en route

	feedFrame(u, q, bits)

	if !u.parityError {
		t.Fatalf("parity error not flagged for a corrupted data bit")
	}
}

func TestUDRReadDrainsFIFOInOrder(t *testing.T) {
	u, q := newTestUart()
	u.rxFIFO[0] = 0x11
	u.rxFIFO[1] = 0x22
	u.rxFIFOLen = 2

	if got := u.ReadPort(q, UDR); got != 0x11 {
		t.Fatalf("first UDR read = %#x, want 0x11", got)
	}
	if got := u.ReadPort(q, UDR); got != 0x22 {
		t.Fatalf("second UDR read = %#x, want 0x22", got)
	}
	if u.rxFIFOLen != 0 {
		t.Fatalf("FIFO not drained, len=%d", u.rxFIFOLen)
	}
}

func TestUCSRCRoundTripsFraming(t *testing.T) {
	u, q := newTestUart()
	want := uint8(0x40) | uint8(ParityEven)<<4 | 0x08 | 0x06
	u.WritePort(q, UCSRC, want)

	if u.mode != ModeSync {
		t.Fatalf("synchronous mode not selected")
	}
	if u.parity != ParityEven {
		t.Fatalf("even parity not selected, got %v", u.parity)
	}
	if !u.doubleStop {
		t.Fatalf("double stop bit not selected")
	}
	if got := u.ReadPort(q, UCSRC); got != want {
		t.Fatalf("UCSRC read-back = %#02x, want %#02x", got, want)
	}
}

// uartPair routes a clock domain with two USARTs as children 1 and 2,
// so a master and slave can be wired together through the net-list.
type uartPair struct {
	a, b *Uart
}

func (p *uartPair) Address() addr.Module { return addr.Root() }
func (p *uartPair) HandleEvent(event sched.InternalEvent, q *sched.EventQueue, t clock.Timestamp) {
	panic("uartPair: events always name a child")
}
func (p *uartPair) Find(a addr.Module) sched.Module {
	if a.IsEmpty() {
		return p
	}
	switch a.Current() {
	case 1:
		return p.a.Find(a.Advance())
	case 2:
		return p.b.Find(a.Advance())
	}
	return nil
}
func (p *uartPair) FindMut(a addr.Module) sched.Module { return p.Find(a) }
func (p *uartPair) ToWireable() sched.WireableModule   { return nil }

func TestSyncMasterToSlaveTransfer(t *testing.T) {
	tables := sched.NewTables()
	q := sched.NewEventQueue(tables, 1, 0)
	idA := q.RootModuleID().ChildID(1)
	idB := q.RootModuleID().ChildID(2)
	a := New(idA, idA.WithEventPort(9))
	b := New(idB, idB.WithEventPort(9))
	pair := &uartPair{a: a, b: b}

	for _, u := range []addr.Module{idA, idB} {
		for _, p := range []sched.PinID{PinRX, PinTX, PinXCK} {
			pin := u.WithPin(uint8(p))
			q.RegisterMultiplexer(pin, []addr.Pin{pin})
		}
	}
	tables.Wiring.AddWire(idA.WithPin(uint8(PinTX)), []addr.Pin{idB.WithPin(uint8(PinRX))})
	tables.Wiring.AddWire(idA.WithPin(uint8(PinXCK)), []addr.Pin{idB.WithPin(uint8(PinXCK))})

	// Master: synchronous 8N1, XCK as output, baud divisor 3.
	a.WritePort(q, UCSRC, 0x40|0x06)
	a.SetDDRXck(true)
	a.WritePort(q, UBRRL, 3)
	a.WritePort(q, UCSRB, 0x08) // TXEN

	// Slave: synchronous 8N1, XCK as input, receiver enabled.
	b.WritePort(q, UCSRC, 0x40|0x06)
	b.WritePort(q, UCSRB, 0x10) // RXEN

	a.WritePort(q, UDR, 0x5A)

	// Sync bit period = one full XCK cycle = 2*(baud+1) ticks; a frame
	// is 10 bits. Run a comfortable multiple.
	for i := 0; i < 40*2*4; i++ {
		q.Clock.Advance(1)
		q.Update(pair)
	}

	if b.rxFIFOLen != 1 {
		t.Fatalf("slave FIFO len = %d, want 1: %s", b.rxFIFOLen, spew.Sdump(b))
	}
	if got := uint8(b.rxFIFO[0]); got != 0x5A {
		t.Fatalf("slave received %#02x, want 0x5A", got)
	}
	if b.frameError {
		t.Fatalf("clean sync transfer raised a framing error")
	}
}
