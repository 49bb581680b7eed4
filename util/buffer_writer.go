package util

// 索引文件中的整数均以大端序存放 (高位在前), 与按字节比较的键顺序一致

// WriteBE2 追加2字节大端整数
func WriteBE2(buf []byte, i uint16) []byte {
	return append(buf, byte(i>>8), byte(i))
}

// WriteBE4 追加4字节大端整数
func WriteBE4(buf []byte, i uint32) []byte {
	return append(buf, byte(i>>24), byte(i>>16), byte(i>>8), byte(i))
}

// WriteBE8 追加8字节大端整数
func WriteBE8(buf []byte, i uint64) []byte {
	return append(buf,
		byte(i>>56), byte(i>>48), byte(i>>40), byte(i>>32),
		byte(i>>24), byte(i>>16), byte(i>>8), byte(i))
}

// WriteBEN 追加 width 字节的大端整数, width 取 1..8
func WriteBEN(buf []byte, width int, i uint64) []byte {
	for shift := (width - 1) * 8; shift >= 0; shift -= 8 {
		buf = append(buf, byte(i>>uint(shift)))
	}
	return buf
}

// StoreBE2 在 buf[0:2] 写入大端整数
func StoreBE2(buf []byte, i uint16) {
	_ = buf[1]
	buf[0] = byte(i >> 8)
	buf[1] = byte(i)
}

// StoreBE8 在 buf[0:8] 写入大端整数
func StoreBE8(buf []byte, i uint64) {
	_ = buf[7]
	for n := 0; n < 8; n++ {
		buf[n] = byte(i >> uint(56-8*n))
	}
}

// StoreBEN 在 buf[0:width] 写入大端整数
func StoreBEN(buf []byte, width int, i uint64) {
	_ = buf[width-1]
	for n := 0; n < width; n++ {
		buf[n] = byte(i >> uint((width-1-n)*8))
	}
}
