package mcu

// Data transfer: register moves, immediate loads, indirect load/store
// through X/Y/Z (plain, post-increment, pre-decrement, and displaced),
// direct SRAM load/store, program-memory reads, IO space access, and
// the stack push/pop pair PUSH/POP ride on directly.

func (m *MCU) iMOV(d, r uint8) int {
	m.r[d] = m.r[r]
	return 1
}

func (m *MCU) iMOVW(dpair, rpair uint8) int {
	m.setPair(dpair, m.pair(rpair))
	return 1
}

func (m *MCU) iLDI(d uint8, k uint8) int {
	m.r[d] = k
	return 1
}

// indexReg identifies which of X/Y/Z an LD/ST/LDD/STD opcode names.
type indexReg uint8

const (
	idxX indexReg = iota
	idxY
	idxZ
)

func (m *MCU) indexValue(ix indexReg) uint16 {
	switch ix {
	case idxX:
		return m.x()
	case idxY:
		return m.y()
	default:
		return m.z()
	}
}

func (m *MCU) setIndexValue(ix indexReg, v uint16) {
	switch ix {
	case idxX:
		m.setX(v)
	case idxY:
		m.setY(v)
	default:
		m.setZ(v)
	}
}

// The index registers hold full data-space addresses: an LD through X
// can just as well land in the GPR file or the IO window as in SRAM,
// and programs use exactly that to poke registers via pointers.

func (m *MCU) iLDIndirect(d uint8, ix indexReg) int {
	m.r[d] = m.readData(m.indexValue(ix))
	return 2
}

func (m *MCU) iLDPostInc(d uint8, ix indexReg) int {
	addr := m.indexValue(ix)
	m.r[d] = m.readData(addr)
	m.setIndexValue(ix, addr+1)
	return 2
}

func (m *MCU) iLDPreDec(d uint8, ix indexReg) int {
	addr := m.indexValue(ix) - 1
	m.setIndexValue(ix, addr)
	m.r[d] = m.readData(addr)
	return 2
}

func (m *MCU) iSTIndirect(r uint8, ix indexReg) int {
	m.writeData(m.indexValue(ix), m.r[r])
	return 2
}

func (m *MCU) iSTPostInc(r uint8, ix indexReg) int {
	addr := m.indexValue(ix)
	m.writeData(addr, m.r[r])
	m.setIndexValue(ix, addr+1)
	return 2
}

func (m *MCU) iSTPreDec(r uint8, ix indexReg) int {
	addr := m.indexValue(ix) - 1
	m.setIndexValue(ix, addr)
	m.writeData(addr, m.r[r])
	return 2
}

func (m *MCU) iLDD(d uint8, ix indexReg, q uint8) int {
	m.r[d] = m.readData(m.indexValue(ix) + uint16(q))
	return 2
}

func (m *MCU) iSTD(r uint8, ix indexReg, q uint8) int {
	m.writeData(m.indexValue(ix)+uint16(q), m.r[r])
	return 2
}

func (m *MCU) iLDS(d uint8, address uint16) int {
	m.r[d] = m.readData(address)
	return 2
}

func (m *MCU) iSTS(address uint16, r uint8) int {
	m.writeData(address, m.r[r])
	return 2
}

// iLPM reads one byte of flash addressed by Z, a 16-bit byte pointer
// into the low 64Ki bytes of flash (Z/2 selects the word, Z's low bit
// the byte within it, little-endian).
func (m *MCU) iLPM(d uint8, ix indexReg, postInc bool) int {
	byteAddr := m.z()
	word := m.fetch(uint32(byteAddr) / 2)
	if byteAddr&1 == 0 {
		m.r[d] = uint8(word)
	} else {
		m.r[d] = uint8(word >> 8)
	}
	if postInc {
		m.setZ(byteAddr + 1)
	}
	return 3
}

// iELPM is LPM extended with RAMPZ as the byte address's top bits, for
// flash beyond the first 64KiB.
func (m *MCU) iELPM(d uint8, postInc bool) int {
	byteAddr := uint32(m.rampz)<<16 | uint32(m.z())
	word := m.fetch(byteAddr / 2)
	if byteAddr&1 == 0 {
		m.r[d] = uint8(word)
	} else {
		m.r[d] = uint8(word >> 8)
	}
	if postInc {
		next := byteAddr + 1
		m.setZ(uint16(next))
		m.rampz = uint8(next>>16) & 0x03
	}
	return 3
}

// iIN/iOUT address the IO register window via its 6-bit IO-instruction
// address, which is the data address space's IO window shifted down by
// IOBase.
func (m *MCU) iIN(d uint8, ioReg uint8) int {
	m.r[d] = m.readData(ioAddr(ioReg))
	return 1
}

func (m *MCU) iOUT(ioReg uint8, r uint8) int {
	m.writeData(ioAddr(ioReg), m.r[r])
	return 1
}

func (m *MCU) iPUSH(r uint8) int {
	m.pushByte(m.r[r])
	return 2
}

func (m *MCU) iPOP(d uint8) int {
	m.r[d] = m.popByte()
	return 2
}
