package mcu

import (
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-test/deep"

	"github.com/avrsim/boardsim/pkg/sched"
)

func newTestMCU(t *testing.T) *MCU {
	t.Helper()
	tables := sched.NewTables()
	return New(tables, 0)
}

func TestAddSetsHalfCarry(t *testing.T) {
	m := newTestMCU(t)
	m.SetReg(3, 0x3F)
	m.SetReg(17, 0x01)
	m.LoadFlash([]uint16{0x0E31}) // ADD r3, r17  (0000 1110 0011 0001)

	cycles := m.execute()
	if cycles != 1 {
		t.Fatalf("ADD cycles = %d, want 1", cycles)
	}
	if got := m.Reg(3); got != 0x40 {
		t.Fatalf("r3 = 0x%02X, want 0x40", got)
	}
	if !m.flag(sregH) {
		t.Fatalf("H flag not set for 0x3F+0x01")
	}
	if m.flag(sregC) {
		t.Fatalf("C flag unexpectedly set")
	}
	if m.flag(sregZ) {
		t.Fatalf("Z flag unexpectedly set")
	}
}

func TestSubiBorrowsAndSetsCarry(t *testing.T) {
	m := newTestMCU(t)
	m.SetReg(18, 0x10)
	// SUBI r18, 0xAB: 0101 KKKK dddd KKKK, d=18-16=2, K=0xAB -> 0101 1010 0010 1011
	m.LoadFlash([]uint16{0x5A2B})

	m.execute()
	a, b := uint8(0x10), uint8(0xAB)
	want := a - b
	if got := m.Reg(18); got != want {
		t.Fatalf("r18 = 0x%02X, want 0x%02X", got, want)
	}
	if !m.flag(sregC) {
		t.Fatalf("C flag not set for borrowing subtraction")
	}
	if m.flag(sregN) {
		t.Fatalf("N flag set for positive result 0x%02X", want)
	}
}

func TestSbcAndsZeroWithPreviousZero(t *testing.T) {
	m := newTestMCU(t)
	m.SetSREG(sregZ) // pretend the prior instruction left Z set
	m.SetReg(4, 0x05)
	m.SetReg(5, 0x04)
	m.setFlag(sregC, true)
	// SBC r4, r5 with carry in: 0x05 - 0x04 - 1 = 0x00
	cycles := m.iSBC(4, 5)
	if cycles != 1 {
		t.Fatalf("SBC cycles = %d, want 1", cycles)
	}
	if m.Reg(4) != 0 {
		t.Fatalf("r4 = 0x%02X, want 0x00", m.Reg(4))
	}
	if !m.flag(sregZ) {
		t.Fatalf("Z flag should stay set: result is zero and prior Z was set")
	}

	m.SetSREG(0) // prior Z clear this time, same arithmetic
	m.SetReg(4, 0x05)
	m.SetReg(5, 0x04)
	m.setFlag(sregC, true)
	m.iSBC(4, 5)
	if m.flag(sregZ) {
		t.Fatalf("Z flag must clear when prior Z was clear, even though result is zero")
	}
}

func TestMulProducesUnsignedProductInR0R1(t *testing.T) {
	m := newTestMCU(t)
	m.SetReg(16, 0xFF)
	m.SetReg(17, 0xFF)
	// MUL r16, r17: 1001 11rd dddd rrrr, d=16,r=17 -> 1001 1111 0000 0001
	m.LoadFlash([]uint16{0x9F01})

	cycles := m.execute()
	if cycles != 2 {
		t.Fatalf("MUL cycles = %d, want 2", cycles)
	}
	want := uint16(0xFF) * uint16(0xFF)
	got := uint16(m.Reg(1))<<8 | uint16(m.Reg(0))
	if got != want {
		t.Fatalf("R1:R0 = 0x%04X, want 0x%04X", got, want)
	}
	if !m.flag(sregC) {
		t.Fatalf("C flag should mirror product bit 15 (0x%04X)", want)
	}
}

func TestCallStackLayoutAndTarget(t *testing.T) {
	m := newTestMCU(t)
	m.SetSP(0x21FF)
	m.SetPC(0x1234)
	// CALL 0x015678 (word address): 1001 010k kkkk 111k, next word holds
	// the low 16 bits; the high 6 bits (here just 0x01) are scattered
	// across opcode bits 8,7,6,5,4,0 per decode22.
	target := uint32(0x015678)
	next := uint16(target)
	high := uint16(target>>16) & 0x3F
	op := uint16(0x940E) |
		(high>>5&1)<<8 | (high>>4&1)<<7 | (high>>3&1)<<6 |
		(high>>2&1)<<5 | (high>>1&1)<<4 | (high & 1)
	m.flash[0x1234] = op
	m.flash[0x1235] = next

	cycles := m.execute()
	if cycles != 5 {
		t.Fatalf("CALL cycles = %d, want 5", cycles)
	}
	if m.PC() != target {
		t.Fatalf("PC after CALL = 0x%06X, want 0x%06X", m.PC(), target)
	}
	if m.SP() != 0x21FC {
		t.Fatalf("SP after CALL = 0x%04X, want 0x21FC", m.SP())
	}
	// Return address is 0x1236 (past both opcode words); its low byte
	// sits at the entry SP and the high byte at the lowest address, so
	// 0x21FD..0x21FF read 0x00, 0x12, 0x36.
	if got := m.ReadSRAM(0x21FD); got != 0x00 {
		t.Fatalf("high byte at 0x21FD = 0x%02X, want 0x00", got)
	}
	if got := m.ReadSRAM(0x21FE); got != 0x12 {
		t.Fatalf("mid byte at 0x21FE = 0x%02X, want 0x12", got)
	}
	if got := m.ReadSRAM(0x21FF); got != 0x36 {
		t.Fatalf("low byte at 0x21FF = 0x%02X, want 0x36", got)
	}
}

func TestLpmReadsLowByteOfFlashWordThenIncrementsZ(t *testing.T) {
	m := newTestMCU(t)
	m.flash[0x1234] = 0x2023
	m.setZ(0x2468) // byte address = word index * 2

	cycles := m.iLPM(1, idxZ, true)
	if cycles != 3 {
		t.Fatalf("LPM cycles = %d, want 3", cycles)
	}
	if got := m.Reg(1); got != 0x23 {
		t.Fatalf("r1 = 0x%02X, want 0x23", got)
	}
	if got := m.z(); got != 0x2469 {
		t.Fatalf("Z after post-increment = 0x%04X, want 0x2469", got)
	}
}

func TestRjmpToSelfHalts(t *testing.T) {
	m := newTestMCU(t)
	m.SetPC(0x0010)
	m.flash[0x0010] = 0xCFFF // RJMP -1 -> targets itself

	cycles := m.execute()
	if cycles != 1 {
		t.Fatalf("self-RJMP cycles = %d, want 1", cycles)
	}
	if !m.Halted() {
		t.Fatalf("MCU should halt on a self-targeting RJMP")
	}
	if m.PC() != 0x0010 {
		t.Fatalf("PC should remain at the spin address, got 0x%04X", m.PC())
	}
}

func TestMovwCopiesWholePair(t *testing.T) {
	m := newTestMCU(t)
	m.SetReg(30, 0xCD)
	m.SetReg(31, 0xAB)
	// MOVW r1:r0 <- r31:r30: 0000 0001 dddd rrrr with pair indices
	m.LoadFlash([]uint16{0x010F})

	m.execute()

	got := []uint8{m.Reg(0), m.Reg(1)}
	if diff := deep.Equal(got, []uint8{0xCD, 0xAB}); diff != nil {
		t.Fatalf("register pair mismatch: %v", diff)
	}
}

func TestTimerInterruptUnhaltsAndVectors(t *testing.T) {
	m := newTestMCU(t)
	m.flash[0x0000] = 0xCFFF // rjmp .-0
	m.SetSREG(sregI)

	// Timer1: overflow interrupt armed two counts below wrap at clk/1.
	m.writeData(0x6F, 0x01) // TIMSK1: TOIE1
	m.writeData(0x84, 0xFE) // TCNT1L
	m.writeData(0x85, 0xFF) // TCNT1H
	m.writeData(0x81, 0x01) // TCCR1B: clk/1

	m.Step()
	if !m.Halted() {
		t.Fatalf("MCU did not halt on the spin: %s", spew.Sdump(m))
	}

	for i := 0; i < 10 && m.Halted(); i++ {
		m.Step()
	}
	if m.Halted() {
		t.Fatalf("timer overflow did not un-halt the MCU")
	}
	if m.PC() != 0x0028 {
		t.Fatalf("PC = 0x%06X, want the TOV1 vector 0x000028", m.PC())
	}
	if m.flag(sregI) {
		t.Fatalf("global interrupt flag must clear on interrupt entry")
	}
	if got := m.ReadSRAM(SRAMEnd); got != 0x00 {
		t.Fatalf("pushed return-address low byte = 0x%02X, want 0x00", got)
	}
}

func TestLoadHexRoundTrip(t *testing.T) {
	src := ":0F00000001020304050607080910111213141555\n:00000001FF\n"
	words, err := LoadHex(strings.NewReader(src))
	if err != nil {
		t.Fatalf("LoadHex: %v", err)
	}
	if len(words) != 8 {
		t.Fatalf("word count = %d, want 8", len(words))
	}
	if words[0] != 0x0201 {
		t.Fatalf("words[0] = 0x%04X, want 0x0201 (little-endian pack)", words[0])
	}
}

func TestLoadHexRejectsBadChecksum(t *testing.T) {
	src := ":0F000000010203040506070809101112131415FF\n:00000001FF\n"
	if _, err := LoadHex(strings.NewReader(src)); err == nil {
		t.Fatalf("expected checksum error")
	}
}
