package mcu

// Control flow: unconditional and conditional jumps/calls/returns, and
// the skip-next-instruction family. Skips must know whether the
// instruction they're skipping occupies one or two flash words, since
// LDS/STS/JMP/CALL's second word has to be skipped too.

// iRJMP performs a relative jump. instrAddr is the word address of the
// RJMP opcode itself; when the computed target equals instrAddr the
// program has jumped to itself, the idiomatic AVR "done, spin forever"
// idle loop, and the MCU halts instead of busy-looping so simulated
// time can be skipped forward to the next external event.
func (m *MCU) iRJMP(instrAddr uint32, offset int16) int {
	target := uint32(int32(instrAddr) + 1 + int32(offset))
	if target == instrAddr {
		m.pc = instrAddr
		m.halted = true
		return 1
	}
	m.pc = target % FlashWords
	return 2
}

func (m *MCU) iJMP(target uint32) int {
	m.pc = target % FlashWords
	return 3
}

func (m *MCU) iIJMP() int {
	m.pc = uint32(m.z()) % FlashWords
	return 2
}

func (m *MCU) iEIJMP() int {
	m.pc = (uint32(m.eind)<<16 | uint32(m.z())) % FlashWords
	return 2
}

func (m *MCU) iRCALL(instrAddr uint32, offset int16) int {
	target := uint32(int32(instrAddr) + 1 + int32(offset))
	m.pushPC(instrAddr + 1)
	m.pc = target % FlashWords
	return 4
}

func (m *MCU) iCALL(target uint32) int {
	m.pushPC(m.pc)
	m.pc = target % FlashWords
	return 5
}

func (m *MCU) iICALL() int {
	m.pushPC(m.pc)
	m.pc = uint32(m.z()) % FlashWords
	return 4
}

func (m *MCU) iEICALL() int {
	m.pushPC(m.pc)
	m.pc = (uint32(m.eind)<<16 | uint32(m.z())) % FlashWords
	return 4
}

func (m *MCU) iRET() int {
	m.pc = m.popPC() % FlashWords
	return 5
}

func (m *MCU) iRETI() int {
	m.pc = m.popPC() % FlashWords
	m.setFlag(sregI, true)
	return 5
}

// iBRBS/iBRBC branch on SREG bit set/clear. instrAddr is the opcode's
// own word address; set is the already-incremented fallthrough PC.
func (m *MCU) iBRBS(instrAddr uint32, bit uint8, offset int16) int {
	if m.sreg&(1<<bit) != 0 {
		m.pc = uint32(int32(instrAddr) + 1 + int32(offset))
		return 2
	}
	return 1
}

func (m *MCU) iBRBC(instrAddr uint32, bit uint8, offset int16) int {
	if m.sreg&(1<<bit) == 0 {
		m.pc = uint32(int32(instrAddr) + 1 + int32(offset))
		return 2
	}
	return 1
}

// skipNext advances PC past the instruction now sitting at m.pc,
// accounting for two-word opcodes, and returns the cycle cost the skip
// family uses when the skip is taken (2 for a one-word victim, 3 for a
// two-word victim).
func (m *MCU) skipNext() int {
	op := m.fetch(m.pc)
	if isTwoWordOpcode(op) {
		m.pc = (m.pc + 2) % FlashWords
		return 3
	}
	m.pc = (m.pc + 1) % FlashWords
	return 2
}

func (m *MCU) iCPSE(d, r uint8) int {
	if m.r[d] == m.r[r] {
		return m.skipNext()
	}
	return 1
}

func (m *MCU) iSBRC(d uint8, bit uint8) int {
	if m.r[d]&(1<<bit) == 0 {
		return m.skipNext()
	}
	return 1
}

func (m *MCU) iSBRS(d uint8, bit uint8) int {
	if m.r[d]&(1<<bit) != 0 {
		return m.skipNext()
	}
	return 1
}

func (m *MCU) iSBIC(ioReg uint8, bit uint8) int {
	if m.readData(ioAddr(ioReg))&(1<<bit) == 0 {
		return m.skipNext()
	}
	return 1
}

func (m *MCU) iSBIS(ioReg uint8, bit uint8) int {
	if m.readData(ioAddr(ioReg))&(1<<bit) != 0 {
		return m.skipNext()
	}
	return 1
}
