package sched

import (
	"testing"

	"github.com/avrsim/boardsim/pkg/addr"
)

func pinAt(child, pin uint8) addr.Pin {
	return addr.Root().ChildID(child).WithPin(pin)
}

func TestMultiplexerDefaultsToLastEntry(t *testing.T) {
	mt := NewMultiplexingTable()
	main := pinAt(1, 5)
	timerAlt := pinAt(2, 0)
	gpioAlt := pinAt(1, 5)
	mt.Register(main, []addr.Pin{timerAlt, gpioAlt})

	if got := mt.ReadPinAddr(main); got != gpioAlt {
		t.Fatalf("expected GPIO (last entry) active by default, got %v", got)
	}
}

func TestMultiplexerSetFlagActivatesFirstTrue(t *testing.T) {
	mt := NewMultiplexingTable()
	main := pinAt(1, 5)
	timerAlt := pinAt(2, 0)
	gpioAlt := pinAt(1, 5)
	mt.Register(main, []addr.Pin{timerAlt, gpioAlt})

	mt.SetFlag(timerAlt, true)
	if got := mt.ReadPinAddr(main); got != timerAlt {
		t.Fatalf("expected timer alt active once flagged, got %v", got)
	}
}

func TestUnregisteredPinFallsBackToWiringTable(t *testing.T) {
	mt := NewMultiplexingTable()
	wt := NewWiringTable()
	a := pinAt(1, 0)
	b := pinAt(2, 0)
	wt.AddWire(a, []addr.Pin{b})

	out := mt.OutgoingEventListeners(wt, a)
	if len(out) != 1 || out[0] != b {
		t.Fatalf("expected static wiring fallback [%v], got %v", b, out)
	}
}

func TestInactiveMultiplexedPinHasNoOutgoingListeners(t *testing.T) {
	mt := NewMultiplexingTable()
	wt := NewWiringTable()
	main := pinAt(1, 5)
	timerAlt := pinAt(2, 0)
	gpioAlt := pinAt(1, 5)
	mt.Register(main, []addr.Pin{timerAlt, gpioAlt})

	out := mt.OutgoingEventListeners(wt, timerAlt)
	if len(out) != 0 {
		t.Fatalf("expected no listeners from the inactive alternate, got %v", out)
	}
}

// TestActiveAlternateReachesMainPinsWiring exercises the case where the
// multiplexer's main (wireable) pin is a distinct address from its
// active alternate, as every real registration in pkg/avr/io is: a
// board wire attaches to the main GPIO pin, but an active peripheral
// drives its own alternate address, so static wiring must be looked up
// on the main pin, not on the address the signal was driven from.
func TestActiveAlternateReachesMainPinsWiring(t *testing.T) {
	mt := NewMultiplexingTable()
	wt := NewWiringTable()
	main := pinAt(1, 5)
	timerAlt := pinAt(2, 0)
	led := pinAt(3, 0)
	mt.Register(main, []addr.Pin{timerAlt, main})
	wt.AddWire(main, []addr.Pin{led})

	mt.SetFlag(timerAlt, true)
	out := mt.OutgoingEventListeners(wt, timerAlt)

	found := false
	for _, p := range out {
		if p == led {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the externally wired LED pin %v among listeners, got %v", led, out)
	}
}
