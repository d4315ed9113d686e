package mcu

// Arithmetic and logic instruction handlers. Each takes the decoded
// register indices (or immediate) and returns its cycle cost; flag
// updates follow the Boolean formulas in flags.go exactly.

func (m *MCU) iADD(d, r uint8) int {
	rd, rr := m.r[d], m.r[r]
	res := rd + rr
	m.r[d] = res
	m.addFlags(rd, rr, res)
	return 1
}

func (m *MCU) iADC(d, r uint8) int {
	rd, rr := m.r[d], m.r[r]
	var c uint8
	if m.flag(sregC) {
		c = 1
	}
	res := rd + rr + c
	m.r[d] = res
	m.addFlags(rd, rr, res)
	return 1
}

func (m *MCU) iADIW(dpair uint8, k uint16) int {
	before := m.pair(dpair)
	after := before + k
	m.setPair(dpair, after)
	m.wordFlags(before, after, true)
	return 2
}

func (m *MCU) iSUB(d, r uint8) int {
	rd, rr := m.r[d], m.r[r]
	res := rd - rr
	m.r[d] = res
	m.subFlags(rd, rr, res, false, true)
	return 1
}

func (m *MCU) iSUBI(d uint8, k uint8) int {
	rd := m.r[d]
	res := rd - k
	m.r[d] = res
	m.subFlags(rd, k, res, false, true)
	return 1
}

func (m *MCU) iSBC(d, r uint8) int {
	rd, rr := m.r[d], m.r[r]
	var c uint8
	if m.flag(sregC) {
		c = 1
	}
	res := rd - rr - c
	m.r[d] = res
	m.subFlags(rd, rr, res, m.flag(sregC), false)
	return 1
}

func (m *MCU) iSBCI(d uint8, k uint8) int {
	rd := m.r[d]
	var c uint8
	if m.flag(sregC) {
		c = 1
	}
	res := rd - k - c
	m.r[d] = res
	m.subFlags(rd, k, res, m.flag(sregC), false)
	return 1
}

func (m *MCU) iSBIW(dpair uint8, k uint16) int {
	before := m.pair(dpair)
	after := before - k
	m.setPair(dpair, after)
	m.wordFlags(before, after, false)
	return 2
}

func (m *MCU) iINC(d uint8) int {
	rd := m.r[d]
	res := rd + 1
	m.r[d] = res
	m.logicFlags(res)
	m.setFlag(sregV, rd == 0x7F)
	m.setFlag(sregS, m.flag(sregN) != m.flag(sregV))
	return 1
}

func (m *MCU) iDEC(d uint8) int {
	rd := m.r[d]
	res := rd - 1
	m.r[d] = res
	m.logicFlags(res)
	m.setFlag(sregV, rd == 0x80)
	m.setFlag(sregS, m.flag(sregN) != m.flag(sregV))
	return 1
}

func (m *MCU) iCP(d, r uint8) int {
	rd, rr := m.r[d], m.r[r]
	res := rd - rr
	m.subFlags(rd, rr, res, false, true)
	return 1
}

func (m *MCU) iCPC(d, r uint8) int {
	rd, rr := m.r[d], m.r[r]
	var c uint8
	if m.flag(sregC) {
		c = 1
	}
	res := rd - rr - c
	m.subFlags(rd, rr, res, m.flag(sregC), false)
	return 1
}

func (m *MCU) iCPI(d uint8, k uint8) int {
	rd := m.r[d]
	res := rd - k
	m.subFlags(rd, k, res, false, true)
	return 1
}

func (m *MCU) iNEG(d uint8) int {
	rd := m.r[d]
	res := uint8(0) - rd
	m.r[d] = res
	m.subFlags(0, rd, res, false, true)
	m.setFlag(sregC, res != 0)
	return 1
}

func (m *MCU) iAND(d, r uint8) int {
	res := m.r[d] & m.r[r]
	m.r[d] = res
	m.logicFlags(res)
	return 1
}

func (m *MCU) iANDI(d uint8, k uint8) int {
	res := m.r[d] & k
	m.r[d] = res
	m.logicFlags(res)
	return 1
}

func (m *MCU) iOR(d, r uint8) int {
	res := m.r[d] | m.r[r]
	m.r[d] = res
	m.logicFlags(res)
	return 1
}

func (m *MCU) iORI(d uint8, k uint8) int {
	res := m.r[d] | k
	m.r[d] = res
	m.logicFlags(res)
	return 1
}

func (m *MCU) iEOR(d, r uint8) int {
	res := m.r[d] ^ m.r[r]
	m.r[d] = res
	m.logicFlags(res)
	return 1
}

func (m *MCU) iCOM(d uint8) int {
	res := 0xFF - m.r[d]
	m.r[d] = res
	m.logicFlags(res)
	m.setFlag(sregC, true)
	return 1
}

func (m *MCU) iLSR(d uint8) int {
	rd := m.r[d]
	res := rd >> 1
	m.r[d] = res
	m.setFlag(sregC, rd&0x01 != 0)
	m.setFlag(sregN, false)
	m.setFlag(sregZ, res == 0)
	m.setFlag(sregV, m.flag(sregN) != m.flag(sregC))
	m.setFlag(sregS, m.flag(sregN) != m.flag(sregV))
	return 1
}

func (m *MCU) iROR(d uint8) int {
	rd := m.r[d]
	var carryIn uint8
	if m.flag(sregC) {
		carryIn = 0x80
	}
	res := (rd >> 1) | carryIn
	m.r[d] = res
	m.setFlag(sregC, rd&0x01 != 0)
	m.setFlag(sregN, res&0x80 != 0)
	m.setFlag(sregZ, res == 0)
	m.setFlag(sregV, m.flag(sregN) != m.flag(sregC))
	m.setFlag(sregS, m.flag(sregN) != m.flag(sregV))
	return 1
}

func (m *MCU) iASR(d uint8) int {
	rd := m.r[d]
	res := (rd >> 1) | (rd & 0x80)
	m.r[d] = res
	m.setFlag(sregC, rd&0x01 != 0)
	m.setFlag(sregN, res&0x80 != 0)
	m.setFlag(sregZ, res == 0)
	m.setFlag(sregV, m.flag(sregN) != m.flag(sregC))
	m.setFlag(sregS, m.flag(sregN) != m.flag(sregV))
	return 1
}

func (m *MCU) iSWAP(d uint8) int {
	rd := m.r[d]
	m.r[d] = rd<<4 | rd>>4
	return 1
}
