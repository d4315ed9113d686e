package mcu

// Flag computation follows the AVR instruction set manual's Boolean
// formulas over the sign bits of the operands and result, not a
// generic "compute from the wider arithmetic result" shortcut — the
// two coincide for plain addition/subtraction but diverge for the
// half-carry and overflow bits on compare-with-carry forms.

func bit(v uint8, n uint) bool { return v&(1<<n) != 0 }

// addFlags sets H/V/N/Z/S/C for an 8-bit addition (ADD/ADC/ADIW's byte
// half is handled separately).
func (m *MCU) addFlags(rd, rr, res uint8) {
	d7, r7, R7 := bit(rd, 7), bit(rr, 7), bit(res, 7)
	d3, r3, R3 := bit(rd, 3), bit(rr, 3), bit(res, 3)
	h := (d3 && r3) || (r3 && !R3) || (!R3 && d3)
	v := (d7 && r7 && !R7) || (!d7 && !r7 && R7)
	n := R7
	c := (d7 && r7) || (r7 && !R7) || (!R7 && d7)
	m.setFlag(sregH, h)
	m.setFlag(sregV, v)
	m.setFlag(sregN, n)
	m.setFlag(sregZ, res == 0)
	m.setFlag(sregC, c)
	m.setFlag(sregS, n != v)
}

// subFlags sets H/V/N/Z/S/C for an 8-bit subtraction (SUB/SUBI/CP/CPI).
// zeroIsZ controls whether Z is assigned from the result directly
// (SUB/CP family) or ANDed with the previous Z (SBC/CPC/SBCI family).
func (m *MCU) subFlags(rd, rr, res uint8, carryIn bool, zeroIsZ bool) {
	d7, r7, R7 := bit(rd, 7), bit(rr, 7), bit(res, 7)
	d3, r3, R3 := bit(rd, 3), bit(rr, 3), bit(res, 3)
	h := (!d3 && r3) || (r3 && R3) || (R3 && !d3)
	v := (d7 && !r7 && !R7) || (!d7 && r7 && R7)
	n := R7
	c := (!d7 && r7) || (r7 && R7) || (R7 && !d7)
	m.setFlag(sregH, h)
	m.setFlag(sregV, v)
	m.setFlag(sregN, n)
	if zeroIsZ {
		m.setFlag(sregZ, res == 0)
	} else {
		m.setFlag(sregZ, res == 0 && m.flag(sregZ))
	}
	m.setFlag(sregC, c)
	m.setFlag(sregS, n != v)
}

// logicFlags sets N/Z/S and clears V, per the AND/OR/EOR family rule.
func (m *MCU) logicFlags(res uint8) {
	n := bit(res, 7)
	m.setFlag(sregN, n)
	m.setFlag(sregZ, res == 0)
	m.setFlag(sregV, false)
	m.setFlag(sregS, n)
}

// wordFlags sets flags for the 16-bit ADIW/SBIW result, per the
// datasheet's Rdh7/R15 formulas over the pre- and post-operation MSBs.
func (m *MCU) wordFlags(before, after uint16, isAdd bool) {
	b15, a15 := before&0x8000 != 0, after&0x8000 != 0
	var v, c bool
	if isAdd {
		v = !b15 && a15
		c = !a15 && b15
	} else {
		v = b15 && !a15
		c = a15 && !b15
	}
	n := a15
	m.setFlag(sregV, v)
	m.setFlag(sregN, n)
	m.setFlag(sregZ, after == 0)
	m.setFlag(sregC, c)
	m.setFlag(sregS, n != v)
}
