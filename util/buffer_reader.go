package util

// ReadBytes 从 cursor 处读取 n 字节, 返回新的 cursor
func ReadBytes(buff []byte, cursor int, n int) (int, []byte) {
	if n <= 0 {
		return cursor, nil
	}
	return cursor + n, buff[cursor : cursor+n]
}

// ReadBE2 读取2字节大端整数
func ReadBE2(buff []byte, cursor int) (int, uint16) {
	return cursor + 2, uint16(buff[cursor])<<8 | uint16(buff[cursor+1])
}

// ReadBE4 读取4字节大端整数
func ReadBE4(buff []byte, cursor int) (int, uint32) {
	i := uint32(buff[cursor]) << 24
	i |= uint32(buff[cursor+1]) << 16
	i |= uint32(buff[cursor+2]) << 8
	i |= uint32(buff[cursor+3])
	return cursor + 4, i
}

// ReadBE8 读取8字节大端整数
func ReadBE8(buff []byte, cursor int) (int, uint64) {
	return ReadBEN(buff, cursor, 8)
}

// ReadBEN 读取 width 字节的大端整数
func ReadBEN(buff []byte, cursor int, width int) (int, uint64) {
	var i uint64
	for _, b := range buff[cursor : cursor+width] {
		i = i<<8 | uint64(b)
	}
	return cursor + width, i
}

// LoadBE2 读取 buf[0:2]
func LoadBE2(buf []byte) uint16 {
	_, i := ReadBE2(buf, 0)
	return i
}

// LoadBE8 读取 buf[0:8]
func LoadBE8(buf []byte) uint64 {
	_, i := ReadBEN(buf, 0, 8)
	return i
}

// LoadBEN 读取 buf[0:width]
func LoadBEN(buf []byte, width int) uint64 {
	_, i := ReadBEN(buf, 0, width)
	return i
}
