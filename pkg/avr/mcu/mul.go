package mcu

// Multiply family. All six forms deposit their 16-bit product in the
// fixed R1:R0 pair regardless of which registers supplied the operands.

func (m *MCU) setProduct(res uint16) {
	m.r[0] = uint8(res)
	m.r[1] = uint8(res >> 8)
}

func (m *MCU) iMUL(d, r uint8) int {
	res := uint16(m.r[d]) * uint16(m.r[r])
	m.setProduct(res)
	m.setFlag(sregC, res&0x8000 != 0)
	m.setFlag(sregZ, res == 0)
	return 2
}

func (m *MCU) iMULS(d, r uint8) int {
	res := uint16(int16(int8(m.r[d])) * int16(int8(m.r[r])))
	m.setProduct(res)
	m.setFlag(sregC, res&0x8000 != 0)
	m.setFlag(sregZ, res == 0)
	return 2
}

func (m *MCU) iMULSU(d, r uint8) int {
	res := uint16(int16(int8(m.r[d])) * int16(m.r[r]))
	m.setProduct(res)
	m.setFlag(sregC, res&0x8000 != 0)
	m.setFlag(sregZ, res == 0)
	return 2
}

func (m *MCU) iFMUL(d, r uint8) int {
	raw := uint16(m.r[d]) * uint16(m.r[r])
	m.setFlag(sregC, raw&0x8000 != 0)
	res := raw << 1
	m.setProduct(res)
	m.setFlag(sregZ, res == 0)
	return 2
}

func (m *MCU) iFMULS(d, r uint8) int {
	raw := uint16(int16(int8(m.r[d])) * int16(int8(m.r[r])))
	m.setFlag(sregC, raw&0x8000 != 0)
	res := raw << 1
	m.setProduct(res)
	m.setFlag(sregZ, res == 0)
	return 2
}

func (m *MCU) iFMULSU(d, r uint8) int {
	raw := uint16(int16(int8(m.r[d])) * int16(m.r[r]))
	m.setFlag(sregC, raw&0x8000 != 0)
	res := raw << 1
	m.setProduct(res)
	m.setFlag(sregZ, res == 0)
	return 2
}
