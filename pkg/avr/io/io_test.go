package io

import (
	"testing"

	"github.com/go-test/deep"

	"github.com/avrsim/boardsim/pkg/addr"
	"github.com/avrsim/boardsim/pkg/avr/gpio"
	"github.com/avrsim/boardsim/pkg/avr/timer16"
	"github.com/avrsim/boardsim/pkg/sched"
)

func newTestController() (*Controller, *sched.EventQueue) {
	tables := sched.NewTables()
	q := sched.NewEventQueue(tables, 1, 0)
	id := q.RootModuleID()
	c := New(id, q, id.WithEventPort(0))
	return c, q
}

func TestPinIDMatchesBankLayout(t *testing.T) {
	if got := pinID(BankA, 0); got != 0 {
		t.Errorf("pin_id(A,0) = %d, want 0", got)
	}
	if got := pinID(BankB, 0); got != 8 {
		t.Errorf("pin_id(B,0) = %d, want 8", got)
	}
	if got := pinID(BankH, 0); got != 54 {
		t.Errorf("pin_id(H,0) = %d, want 54", got)
	}
}

func TestGPIORegisterRangeDispatch(t *testing.T) {
	c, q := newTestController()
	// Bank A: PIN=0x20, DDR=0x21, PORT=0x22.
	c.WritePort(q, 0x21, 0xFF)
	c.WritePort(q, 0x22, 0x01)
	if got := c.banks[BankA].ReadPort(q, gpio.OutPort); got != 0x01 {
		t.Errorf("bank A PORT = %#x, want 0x01", got)
	}

	// Bank H continues at 0x100.
	c.WritePort(q, 0x101, 0xFF)
	c.WritePort(q, 0x102, 0x02)
	if got := c.banks[BankH].ReadPort(q, gpio.OutPort); got != 0x02 {
		t.Errorf("bank H PORT = %#x, want 0x02", got)
	}
}

func TestTimer1RegisterRangeDispatch(t *testing.T) {
	c, q := newTestController()
	c.WritePort(q, 0x80+sched.PortID(timer16.OCRAL), 42)
	if got := c.timer1.ReadPort(q, timer16.OCRAL); got != 42 {
		t.Errorf("timer1 OCRAL = %d, want 42", got)
	}
}

func TestInterruptPriorityScanOrder(t *testing.T) {
	c, _ := newTestController()
	c.timer4.InterruptFlags.Overflow = true
	c.timer4.InterruptMasks.Overflow = true
	c.timer1.InterruptFlags.OC[1] = true
	c.timer1.InterruptMasks.OC[1] = true

	if got := c.GetInterruptAddress(); got != 0x0024 {
		t.Fatalf("expected timer1 OCB vector (higher priority) to win, got %#x", got)
	}
}

func TestNoInterruptReturnsZero(t *testing.T) {
	c, _ := newTestController()
	if got := c.GetInterruptAddress(); got != 0 {
		t.Fatalf("expected no pending interrupt, got %#x", got)
	}
}

func TestOCPinMultiplexerDefaultsToGPIO(t *testing.T) {
	c, q := newTestController()
	pin := c.moduleID.ChildID(BankB).WithPin(5)
	active := q.LookupPin(pin)
	want := c.moduleID.ChildID(BankB).WithPin(5)
	if active != want {
		t.Fatalf("expected GPIO to be the default active alternate, got %v", active)
	}
	_ = addr.Root()
}

func TestTimerOCClaimsSharedPinWhileEnabled(t *testing.T) {
	c, q := newTestController()
	pin := c.moduleID.ChildID(BankB).WithPin(5) // OC1A's GPIO home

	c.WritePort(q, 0x80, uint8(timer16.COMToggle)<<6)
	if got := q.LookupPin(pin); got != c.timer1.Address().WithPin(uint8(timer16.PinOCA)) {
		t.Fatalf("enabled OC1A should claim the pin, got %v", got)
	}

	c.WritePort(q, 0x80, 0)
	if got := q.LookupPin(pin); got != pin {
		t.Fatalf("disabling OC1A should hand the pin back to GPIO, got %v", got)
	}
}

func TestInterruptLineLatchesAndClears(t *testing.T) {
	c, q := newTestController()
	if c.HasInterrupt() {
		t.Fatalf("request line up on a fresh controller")
	}

	c.timer1.InterruptFlags.Overflow = true
	c.timer1.InterruptMasks.Overflow = true
	c.HandleEvent(sched.InternalEvent{}, q, 0)
	if !c.HasInterrupt() {
		t.Fatalf("request line did not latch on a notification event")
	}

	c.ClearInterrupt(0x0028)
	if c.timer1.InterruptFlags.Overflow {
		t.Fatalf("vectoring did not auto-clear the overflow flag")
	}
	if c.HasInterrupt() {
		t.Fatalf("request line still up with no pending source")
	}
}

func TestTIMSKRoundTripsThroughController(t *testing.T) {
	c, q := newTestController()
	c.WritePort(q, 0x6F, 0x27) // ICIE1 | OCIE1B | OCIE1A | TOIE1

	want := timer16.InterruptMasks{InputCapture: true, OC: [3]bool{true, true, false}, Overflow: true}
	if diff := deep.Equal(c.timer1.InterruptMasks, want); diff != nil {
		t.Fatalf("TIMSK1 decode mismatch: %v", diff)
	}
	if got := c.ReadPort(q, 0x6F); got != 0x27 {
		t.Fatalf("TIMSK1 read-back = %#02x, want 0x27", got)
	}
}
