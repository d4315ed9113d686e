// Package io implements the IO controller: the memory-mapped register
// dispatcher that fans reads/writes out across the 11 GPIO banks, 4
// 16-bit timers, and 4 USARTs, wires their alternate-function pins
// through the multiplexing table, and resolves interrupt vector
// addresses by strict priority scan.
package io

import (
	"fmt"

	"github.com/avrsim/boardsim/pkg/addr"
	"github.com/avrsim/boardsim/pkg/avr/gpio"
	"github.com/avrsim/boardsim/pkg/avr/timer16"
	"github.com/avrsim/boardsim/pkg/avr/uart"
	"github.com/avrsim/boardsim/pkg/clock"
	"github.com/avrsim/boardsim/pkg/sched"
	"github.com/avrsim/boardsim/pkg/vcd"
)

// Bank letter identifiers, matching the ATmega2560's GPIO port naming;
// there is no bank "I".
const (
	BankA uint8 = iota + 1
	BankB
	BankC
	BankD
	BankE
	BankF
	BankG
	BankH
	BankJ
	BankK
	BankL
)

// Child module ids for the owned peripherals, continuing the GPIO
// bank numbering.
const (
	childTimer1 uint8 = 12
	childTimer3 uint8 = 13
	childTimer4 uint8 = 14
	childTimer5 uint8 = 15
	childUart0  uint8 = 16
	childUart1  uint8 = 17
	childUart2  uint8 = 18
	childUart3  uint8 = 19
)

// pinID maps a (bank, pin) pair to the flat 0-69 pin-numbering scheme
// used by the original hardware description: banks A-G pack 8 pins
// each except G (6 pins), H-L continue from there.
func pinID(bank, pin uint8) uint8 {
	if bank <= BankG {
		return (bank-1)*8 + pin
	}
	return (bank-1)*8 - 2 + pin
}

// Controller owns every GPIO bank, timer, and USART on the chip and
// dispatches the AVR's memory-mapped IO register space across them.
type Controller struct {
	moduleID addr.Module

	banks   map[uint8]*gpio.Bank
	timer1  *timer16.Timer
	timer3  *timer16.Timer
	timer4  *timer16.Timer
	timer5  *timer16.Timer
	uart0   *uart.Uart
	uart1   *uart.Uart
	uart2   *uart.Uart
	uart3   *uart.Uart

	// interruptPending is the shared interrupt request line: raised by
	// peripheral notification events landing on this controller's event
	// port, lowered when the vector scan comes up empty.
	interruptPending bool

	sleepMode    SleepMode
	sleepEnabled bool

	debug bool
}

// SleepMode mirrors SMCR's SM2:0 field.
type SleepMode uint8

const (
	SleepIdle SleepMode = iota
	SleepADCNoiseReduction
	SleepPowerDown
	SleepPowerSave
	_reservedSleep4
	_reservedSleep5
	SleepStandby
	SleepExtendedStandby
)

func decodeSleepMode(bits uint8) SleepMode {
	if bits > uint8(SleepExtendedStandby) {
		return SleepIdle
	}
	return SleepMode(bits)
}

// New constructs a fully wired IO controller: every GPIO bank, timer,
// and USART child module, with the OC-channel and USART alternate-pin
// multiplexers registered exactly as real ATmega2560 silicon routes
// them.
// interrupt names the event port peripherals fire their
// interrupt-request notifications at; it resolves back to this
// controller, whose HandleEvent raises the shared request line.
func New(moduleID addr.Module, q *sched.EventQueue, interrupt addr.EventPort) *Controller {
	c := &Controller{
		moduleID: moduleID,
		banks:    make(map[uint8]*gpio.Bank),
	}
	for bank := BankA; bank <= BankL; bank++ {
		c.banks[bank] = gpio.New(moduleID.ChildID(bank))
	}

	c.timer1 = timer16.New(moduleID.ChildID(childTimer1), interrupt)
	c.timer3 = timer16.New(moduleID.ChildID(childTimer3), interrupt)
	c.timer4 = timer16.New(moduleID.ChildID(childTimer4), interrupt)
	c.timer5 = timer16.New(moduleID.ChildID(childTimer5), interrupt)

	c.uart0 = uart.New(moduleID.ChildID(childUart0), interrupt)
	c.uart1 = uart.New(moduleID.ChildID(childUart1), interrupt)
	c.uart2 = uart.New(moduleID.ChildID(childUart2), interrupt)
	c.uart3 = uart.New(moduleID.ChildID(childUart3), interrupt)

	c.registerMultiplexers(q)
	return c
}

// registerMultiplexers wires each timer's OC channels and each USART's
// RX/TX/XCK pins onto their shared GPIO pins, in the priority order
// real ATmega2560 silicon uses (alternate function first, GPIO last =
// default-active).
func (c *Controller) registerMultiplexers(q *sched.EventQueue) {
	reg := func(gpioBank uint8, gpioPin uint8, altModule addr.Module, altPin uint8) {
		main := c.moduleID.ChildID(gpioBank).WithPin(gpioPin)
		alt := altModule.WithPin(altPin)
		q.RegisterMultiplexer(main, []addr.Pin{alt, main})
	}

	// Timer1 OC1A/B/C -> bank B pins 5,6,7.
	reg(BankB, 5, c.timer1.Address(), uint8(timer16.PinOCA))
	reg(BankB, 6, c.timer1.Address(), uint8(timer16.PinOCB))
	reg(BankB, 7, c.timer1.Address(), uint8(timer16.PinOCC))

	// Timer3 OC3A/B/C -> bank E pins 3,4,5.
	reg(BankE, 3, c.timer3.Address(), uint8(timer16.PinOCA))
	reg(BankE, 4, c.timer3.Address(), uint8(timer16.PinOCB))
	reg(BankE, 5, c.timer3.Address(), uint8(timer16.PinOCC))

	// Timer4 OC4A/B/C -> bank H pins 3,4,5.
	reg(BankH, 3, c.timer4.Address(), uint8(timer16.PinOCA))
	reg(BankH, 4, c.timer4.Address(), uint8(timer16.PinOCB))
	reg(BankH, 5, c.timer4.Address(), uint8(timer16.PinOCC))

	// Timer5 OC5A/B/C -> bank L pins 3,4,5.
	reg(BankL, 3, c.timer5.Address(), uint8(timer16.PinOCA))
	reg(BankL, 4, c.timer5.Address(), uint8(timer16.PinOCB))
	reg(BankL, 5, c.timer5.Address(), uint8(timer16.PinOCC))

	// Uart0 RX/TX/XCK -> bank E pins 0,1,2.
	reg(BankE, 0, c.uart0.Address(), uint8(uart.PinRX))
	reg(BankE, 1, c.uart0.Address(), uint8(uart.PinTX))
	reg(BankE, 2, c.uart0.Address(), uint8(uart.PinXCK))

	// Uart1 RX/TX/XCK -> bank D pins 2,3,5 (not contiguous on real silicon).
	reg(BankD, 2, c.uart1.Address(), uint8(uart.PinRX))
	reg(BankD, 3, c.uart1.Address(), uint8(uart.PinTX))
	reg(BankD, 5, c.uart1.Address(), uint8(uart.PinXCK))

	// Uart2 RX/TX/XCK -> bank H pins 0,1,2.
	reg(BankH, 0, c.uart2.Address(), uint8(uart.PinRX))
	reg(BankH, 1, c.uart2.Address(), uint8(uart.PinTX))
	reg(BankH, 2, c.uart2.Address(), uint8(uart.PinXCK))

	// Uart3 RX/TX/XCK -> bank J pins 0,1,2.
	reg(BankJ, 0, c.uart3.Address(), uint8(uart.PinRX))
	reg(BankJ, 1, c.uart3.Address(), uint8(uart.PinTX))
	reg(BankJ, 2, c.uart3.Address(), uint8(uart.PinXCK))
}

// bankLetters lists the GPIO bank letters in construction order, for
// RegisterVCD's deterministic scope ordering.
var bankLetters = []byte{'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'J', 'K', 'L'}

// RegisterVCD claims a nested scope per GPIO bank, timer, and USART,
// matching the board's module hierarchy.
func (c *Controller) RegisterVCD(events chan<- vcd.Event, startID int32) ([]vcd.Signal, int32) {
	var scopes []vcd.Signal
	id := startID
	for _, letter := range bankLetters {
		n, _ := BankLetter(letter)
		sig, count := c.banks[n].RegisterVCD(events, id)
		scopes = append(scopes, vcd.Signal{Name: fmt.Sprintf("gpio%c", letter), Children: sig})
		id += count
	}
	timerNames := []string{"timer1", "timer3", "timer4", "timer5"}
	for i, t := range []*timer16.Timer{c.timer1, c.timer3, c.timer4, c.timer5} {
		sig, count := t.RegisterVCD(events, id)
		scopes = append(scopes, vcd.Signal{Name: timerNames[i], Children: sig})
		id += count
	}
	uartNames := []string{"uart0", "uart1", "uart2", "uart3"}
	for i, u := range []*uart.Uart{c.uart0, c.uart1, c.uart2, c.uart3} {
		sig, count := u.RegisterVCD(events, id)
		scopes = append(scopes, vcd.Signal{Name: uartNames[i], Children: sig})
		id += count
	}
	return scopes, id - startID
}

// BankLetter maps a GPIO bank's letter ('A'-'L', skipping 'I') to its
// numeric bank id, for a board loader resolving a YAML/Lua pin
// reference like "mcu.A:3" down to the controller's address space.
func BankLetter(letter byte) (uint8, error) {
	switch {
	case letter >= 'A' && letter <= 'H':
		return uint8(letter-'A') + BankA, nil
	case letter == 'I':
		return 0, fmt.Errorf("io: bank %q does not exist on the ATmega2560", rune(letter))
	case letter >= 'J' && letter <= 'L':
		return uint8(letter-'A') + BankA - 1, nil
	default:
		return 0, fmt.Errorf("io: unknown GPIO bank letter %q", rune(letter))
	}
}

// BankAddress resolves a bank letter to its module address, for naming
// the bank as a board component a wire list or test script can
// address directly by name.
func (c *Controller) BankAddress(letter byte) (addr.Module, error) {
	id, err := BankLetter(letter)
	if err != nil {
		return addr.Module{}, err
	}
	return c.moduleID.ChildID(id), nil
}

func (c *Controller) Address() addr.Module { return c.moduleID }

// HandleEvent receives the peripherals' interrupt-request
// notifications and raises the shared request line; the MCU polls it
// between instructions and scans the vector table when it is up.
func (c *Controller) HandleEvent(event sched.InternalEvent, q *sched.EventQueue, at clock.Timestamp) {
	c.interruptPending = true
}

func (c *Controller) child(id uint8) sched.Module {
	if b, ok := c.banks[id]; ok {
		return b
	}
	switch id {
	case childTimer1:
		return c.timer1
	case childTimer3:
		return c.timer3
	case childTimer4:
		return c.timer4
	case childTimer5:
		return c.timer5
	case childUart0:
		return c.uart0
	case childUart1:
		return c.uart1
	case childUart2:
		return c.uart2
	case childUart3:
		return c.uart3
	default:
		return nil
	}
}

func (c *Controller) Find(a addr.Module) sched.Module {
	if a.IsEmpty() {
		return c
	}
	id := a.Current()
	m := c.child(id)
	if m == nil {
		return nil
	}
	return m.Find(a.Advance())
}

func (c *Controller) FindMut(a addr.Module) sched.Module {
	return c.Find(a)
}

func (c *Controller) ToWireable() sched.WireableModule { return nil }

// ReadPort and WritePort dispatch across the flattened AVR IO address
// space (offsets relative to the conventional 0x20 IO-register base),
// covering GPIO banks A-L, timers 1/3/4/5, USARTs 0-3, and SMCR.
func (c *Controller) ReadPort(q *sched.EventQueue, id sched.PortID) uint8 {
	switch {
	case id >= 0x20 && id <= 0x34:
		return c.readGPIO(q, id)
	case id == 0x53:
		return c.readSMCR()
	case id >= 0x80 && id <= 0x89:
		return c.timer1.ReadPort(q, sched.PortID(id-0x80))
	case id == 0x36:
		return c.timer1.ReadPort(q, timer16.TIFRPort)
	case id == 0x6F:
		return c.timer1.ReadPort(q, timer16.TIMSKPort)
	case id >= 0x90 && id <= 0x99:
		return c.timer3.ReadPort(q, sched.PortID(id-0x90))
	case id == 0x38:
		return c.timer3.ReadPort(q, timer16.TIFRPort)
	case id == 0x71:
		return c.timer3.ReadPort(q, timer16.TIMSKPort)
	case id >= 0xA0 && id <= 0xA9:
		return c.timer4.ReadPort(q, sched.PortID(id-0xA0))
	case id == 0x39:
		return c.timer4.ReadPort(q, timer16.TIFRPort)
	case id == 0x72:
		return c.timer4.ReadPort(q, timer16.TIMSKPort)
	case id >= 0x120 && id <= 0x129:
		return c.timer5.ReadPort(q, sched.PortID(id-0x120))
	case id == 0x3A:
		return c.timer5.ReadPort(q, timer16.TIFRPort)
	case id == 0x73:
		return c.timer5.ReadPort(q, timer16.TIMSKPort)
	case id >= 0xC0 && id <= 0xC7:
		return c.uart0.ReadPort(q, sched.PortID(id-0xC0))
	case id >= 0xC8 && id <= 0xCF:
		return c.uart1.ReadPort(q, sched.PortID(id-0xC8))
	case id >= 0xD0 && id <= 0xD7:
		return c.uart2.ReadPort(q, sched.PortID(id-0xD0))
	case id >= 0x130 && id <= 0x137:
		return c.uart3.ReadPort(q, sched.PortID(id-0x130))
	case id >= 0x100 && id <= 0x10B:
		return c.readGPIOExtended(q, id)
	default:
		return 0
	}
}

func (c *Controller) WritePort(q *sched.EventQueue, id sched.PortID, data uint8) {
	switch {
	case id >= 0x20 && id <= 0x34:
		c.writeGPIO(q, id, data)
	case id == 0x53:
		c.writeSMCR(data)
	case id >= 0x80 && id <= 0x89:
		c.timer1.WritePort(q, sched.PortID(id-0x80), data)
	case id == 0x36:
		c.timer1.WritePort(q, timer16.TIFRPort, data)
	case id == 0x6F:
		c.timer1.WritePort(q, timer16.TIMSKPort, data)
	case id >= 0x90 && id <= 0x99:
		c.timer3.WritePort(q, sched.PortID(id-0x90), data)
	case id == 0x38:
		c.timer3.WritePort(q, timer16.TIFRPort, data)
	case id == 0x71:
		c.timer3.WritePort(q, timer16.TIMSKPort, data)
	case id >= 0xA0 && id <= 0xA9:
		c.timer4.WritePort(q, sched.PortID(id-0xA0), data)
	case id == 0x39:
		c.timer4.WritePort(q, timer16.TIFRPort, data)
	case id == 0x72:
		c.timer4.WritePort(q, timer16.TIMSKPort, data)
	case id >= 0x120 && id <= 0x129:
		c.timer5.WritePort(q, sched.PortID(id-0x120), data)
	case id == 0x3A:
		c.timer5.WritePort(q, timer16.TIFRPort, data)
	case id == 0x73:
		c.timer5.WritePort(q, timer16.TIMSKPort, data)
	case id >= 0xC0 && id <= 0xC7:
		c.uart0.WritePort(q, sched.PortID(id-0xC0), data)
	case id >= 0xC8 && id <= 0xCF:
		c.uart1.WritePort(q, sched.PortID(id-0xC8), data)
	case id >= 0xD0 && id <= 0xD7:
		c.uart2.WritePort(q, sched.PortID(id-0xD0), data)
	case id >= 0x130 && id <= 0x137:
		c.uart3.WritePort(q, sched.PortID(id-0x130), data)
	case id >= 0x100 && id <= 0x10B:
		c.writeGPIOExtended(q, id, data)
	}
}

// Banks A-G sit at 0x20-0x34 (3 registers apiece: PIN, DDR, PORT);
// H-L continue at 0x100-0x10B.
func (c *Controller) readGPIO(q *sched.EventQueue, id sched.PortID) uint8 {
	offset := id - 0x20
	bank := BankA + uint8(offset/3)
	reg := sched.PortID(offset % 3)
	return c.banks[bank].ReadPort(q, reg)
}

func (c *Controller) writeGPIO(q *sched.EventQueue, id sched.PortID, data uint8) {
	offset := id - 0x20
	bank := BankA + uint8(offset/3)
	reg := sched.PortID(offset % 3)
	c.banks[bank].WritePort(q, reg, data)

	// The USART XCK pins double as GPIO bits, so their data-direction
	// bits live in the banks' DDR registers; mirror them into the
	// USARTs' clock-master selection. UART1's XCK sits on port D bit 5,
	// off the regular bit-2 pattern the other ports follow.
	switch id {
	case 0x2A: // DDRD
		c.uart1.SetDDRXck((data>>5)&1 != 0)
	case 0x2D: // DDRE
		c.uart0.SetDDRXck((data>>2)&1 != 0)
	}
}

func (c *Controller) readGPIOExtended(q *sched.EventQueue, id sched.PortID) uint8 {
	offset := id - 0x100
	bank := BankH + uint8(offset/3)
	reg := sched.PortID(offset % 3)
	return c.banks[bank].ReadPort(q, reg)
}

func (c *Controller) writeGPIOExtended(q *sched.EventQueue, id sched.PortID, data uint8) {
	offset := id - 0x100
	bank := BankH + uint8(offset/3)
	reg := sched.PortID(offset % 3)
	c.banks[bank].WritePort(q, reg, data)

	switch id {
	case 0x101: // DDRH
		c.uart2.SetDDRXck((data>>2)&1 != 0)
	case 0x104: // DDRJ
		c.uart3.SetDDRXck((data>>2)&1 != 0)
	}
}

func (c *Controller) readSMCR() uint8 {
	var v uint8
	v |= uint8(c.sleepMode) << 1
	if c.sleepEnabled {
		v |= 1
	}
	return v
}

// SleepEnabled reports SMCR's SE bit, gating the SLEEP instruction.
func (c *Controller) SleepEnabled() bool { return c.sleepEnabled }

func (c *Controller) writeSMCR(data uint8) {
	c.sleepMode = decodeSleepMode((data >> 1) & 0x7)
	c.sleepEnabled = data&0x1 != 0
}

// vector is one entry in the interrupt vector table. clear is
// nil for sources whose status bit isn't retired merely by the CPU
// taking the interrupt (the USART status flags, which clear through
// FIFO/data-register activity instead of hardware auto-clear on
// vectoring).
type vector struct {
	address uint16
	pending func() bool
	clear   func()
}

// HasInterrupt reports the state of the shared interrupt request line.
// The line rises through peripheral notification events, so checking
// it every instruction costs nothing while no interrupt is in flight.
func (c *Controller) HasInterrupt() bool {
	return c.interruptPending
}

// LowerInterrupt drops the request line without vectoring, for the
// case where the line was raised but every underlying condition has
// since cleared.
func (c *Controller) LowerInterrupt() {
	c.interruptPending = false
}

// interruptVectors returns every peripheral's interrupt source, grouped
// by peripheral rather than sorted by vector address; priority comes
// from the address itself (GetInterruptAddress picks the lowest).
func (c *Controller) interruptVectors() []vector {
	return []vector{
		{0x0020, func() bool { return c.timer1.InterruptFlags.InputCapture && c.timer1.InterruptMasks.InputCapture }, func() { c.timer1.InterruptFlags.InputCapture = false }},
		{0x0022, func() bool { return c.timer1.InterruptFlags.OC[0] && c.timer1.InterruptMasks.OC[0] }, func() { c.timer1.InterruptFlags.OC[0] = false }},
		{0x0024, func() bool { return c.timer1.InterruptFlags.OC[1] && c.timer1.InterruptMasks.OC[1] }, func() { c.timer1.InterruptFlags.OC[1] = false }},
		{0x0026, func() bool { return c.timer1.InterruptFlags.OC[2] && c.timer1.InterruptMasks.OC[2] }, func() { c.timer1.InterruptFlags.OC[2] = false }},
		{0x0028, func() bool { return c.timer1.InterruptFlags.Overflow && c.timer1.InterruptMasks.Overflow }, func() { c.timer1.InterruptFlags.Overflow = false }},
		{0x00D4, func() bool { return c.uart0.RXInterrupt() && c.uart0.RXIntEnabled() }, nil},
		{0x00D6, func() bool { return c.uart0.UDRInterrupt() && c.uart0.UDRIntEnabled() }, nil},
		{0x00D8, func() bool { return c.uart0.TXInterrupt() && c.uart0.TXIntEnabled() }, c.uart0.ClearTXInterrupt},
		{0x0042, func() bool { return c.timer3.InterruptFlags.InputCapture && c.timer3.InterruptMasks.InputCapture }, func() { c.timer3.InterruptFlags.InputCapture = false }},
		{0x0044, func() bool { return c.timer3.InterruptFlags.OC[0] && c.timer3.InterruptMasks.OC[0] }, func() { c.timer3.InterruptFlags.OC[0] = false }},
		{0x0046, func() bool { return c.timer3.InterruptFlags.OC[1] && c.timer3.InterruptMasks.OC[1] }, func() { c.timer3.InterruptFlags.OC[1] = false }},
		{0x0048, func() bool { return c.timer3.InterruptFlags.OC[2] && c.timer3.InterruptMasks.OC[2] }, func() { c.timer3.InterruptFlags.OC[2] = false }},
		{0x004A, func() bool { return c.timer3.InterruptFlags.Overflow && c.timer3.InterruptMasks.Overflow }, func() { c.timer3.InterruptFlags.Overflow = false }},
		{0x00DC, func() bool { return c.uart1.RXInterrupt() && c.uart1.RXIntEnabled() }, nil},
		{0x00DE, func() bool { return c.uart1.UDRInterrupt() && c.uart1.UDRIntEnabled() }, nil},
		{0x00E0, func() bool { return c.uart1.TXInterrupt() && c.uart1.TXIntEnabled() }, c.uart1.ClearTXInterrupt},
		{0x004C, func() bool { return c.timer4.InterruptFlags.InputCapture && c.timer4.InterruptMasks.InputCapture }, func() { c.timer4.InterruptFlags.InputCapture = false }},
		{0x004E, func() bool { return c.timer4.InterruptFlags.OC[0] && c.timer4.InterruptMasks.OC[0] }, func() { c.timer4.InterruptFlags.OC[0] = false }},
		{0x0050, func() bool { return c.timer4.InterruptFlags.OC[1] && c.timer4.InterruptMasks.OC[1] }, func() { c.timer4.InterruptFlags.OC[1] = false }},
		{0x0052, func() bool { return c.timer4.InterruptFlags.OC[2] && c.timer4.InterruptMasks.OC[2] }, func() { c.timer4.InterruptFlags.OC[2] = false }},
		{0x0054, func() bool { return c.timer4.InterruptFlags.Overflow && c.timer4.InterruptMasks.Overflow }, func() { c.timer4.InterruptFlags.Overflow = false }},
		{0x0060, func() bool { return c.timer5.InterruptFlags.InputCapture && c.timer5.InterruptMasks.InputCapture }, func() { c.timer5.InterruptFlags.InputCapture = false }},
		{0x0062, func() bool { return c.timer5.InterruptFlags.OC[0] && c.timer5.InterruptMasks.OC[0] }, func() { c.timer5.InterruptFlags.OC[0] = false }},
		{0x0064, func() bool { return c.timer5.InterruptFlags.OC[1] && c.timer5.InterruptMasks.OC[1] }, func() { c.timer5.InterruptFlags.OC[1] = false }},
		{0x0066, func() bool { return c.timer5.InterruptFlags.OC[2] && c.timer5.InterruptMasks.OC[2] }, func() { c.timer5.InterruptFlags.OC[2] = false }},
		{0x0068, func() bool { return c.timer5.InterruptFlags.Overflow && c.timer5.InterruptMasks.Overflow }, func() { c.timer5.InterruptFlags.Overflow = false }},
		{0x00E8, func() bool { return c.uart2.RXInterrupt() && c.uart2.RXIntEnabled() }, nil},
		{0x00EA, func() bool { return c.uart2.UDRInterrupt() && c.uart2.UDRIntEnabled() }, nil},
		{0x00EC, func() bool { return c.uart2.TXInterrupt() && c.uart2.TXIntEnabled() }, c.uart2.ClearTXInterrupt},
		{0x0130, func() bool { return c.uart3.RXInterrupt() && c.uart3.RXIntEnabled() }, nil},
		{0x0132, func() bool { return c.uart3.UDRInterrupt() && c.uart3.UDRIntEnabled() }, nil},
		{0x0134, func() bool { return c.uart3.TXInterrupt() && c.uart3.TXIntEnabled() }, c.uart3.ClearTXInterrupt},
	}
}

// GetInterruptAddress scans every peripheral's pending interrupt flags
// and returns the lowest pending vector address (0 if none), without
// clearing anything — safe to call as often as a caller likes.
func (c *Controller) GetInterruptAddress() uint16 {
	var best uint16
	for _, v := range c.interruptVectors() {
		if v.pending() && (best == 0 || v.address < best) {
			best = v.address
		}
	}
	return best
}

// ClearInterrupt retires the writable flag backing vectorAddr, the way
// real ATmega2560 hardware auto-clears a timer's OCF/TOV/ICF flag the
// moment the CPU actually vectors to its ISR, then re-scans so the
// request line stays asserted while other sources remain pending. Call
// this only when the interrupt is taken (mcu.enterInterrupt), never
// from the read-only HasInterrupt/GetInterruptAddress path — otherwise
// merely checking whether an interrupt is pending would consume it.
func (c *Controller) ClearInterrupt(vectorAddr uint16) {
	for _, v := range c.interruptVectors() {
		if v.address == vectorAddr {
			if v.clear != nil {
				v.clear()
			}
			break
		}
	}
	c.interruptPending = c.GetInterruptAddress() != 0
}

// SetDebug enables Debug() rendering on the controller and every
// timer and USART it owns.
func (c *Controller) SetDebug(on bool) {
	c.debug = on
	for _, t := range []*timer16.Timer{c.timer1, c.timer3, c.timer4, c.timer5} {
		t.SetDebug(on)
	}
	for _, u := range []*uart.Uart{c.uart0, c.uart1, c.uart2, c.uart3} {
		u.SetDebug(on)
	}
}

// Debug concatenates the owned peripherals' snapshots when debugging
// is enabled, and returns an empty string otherwise.
func (c *Controller) Debug() string {
	if !c.debug {
		return ""
	}
	s := fmt.Sprintf("irq: %t sleep: %d/%t\n", c.interruptPending, c.sleepMode, c.sleepEnabled)
	for _, t := range []*timer16.Timer{c.timer1, c.timer3, c.timer4, c.timer5} {
		s += t.Debug()
	}
	for _, u := range []*uart.Uart{c.uart0, c.uart1, c.uart2, c.uart3} {
		s += u.Debug()
	}
	return s
}
