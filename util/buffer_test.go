package util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBigEndian(t *testing.T) {
	t.Run("追加与读取", func(t *testing.T) {
		buf := WriteBE2(nil, 0x1234)
		buf = WriteBE4(buf, 0xdeadbeef)
		buf = WriteBE8(buf, 42)
		buf = WriteBEN(buf, 3, 0x010203)

		assert.Equal(t, []byte{0x12, 0x34}, buf[:2])
		cursor, v2 := ReadBE2(buf, 0)
		cursor, v4 := ReadBE4(buf, cursor)
		cursor, v8 := ReadBE8(buf, cursor)
		cursor, v3 := ReadBEN(buf, cursor, 3)
		assert.Equal(t, uint16(0x1234), v2)
		assert.Equal(t, uint32(0xdeadbeef), v4)
		assert.Equal(t, uint64(42), v8)
		assert.Equal(t, uint64(0x010203), v3)
		assert.Equal(t, len(buf), cursor)
	})

	t.Run("原地写入", func(t *testing.T) {
		buf := make([]byte, 8)
		StoreBE2(buf, 0x8001)
		assert.Equal(t, uint16(0x8001), LoadBE2(buf))
		StoreBE8(buf, 1<<40)
		assert.Equal(t, uint64(1<<40), LoadBE8(buf))
		StoreBEN(buf, 5, 77)
		assert.Equal(t, uint64(77), LoadBEN(buf, 5))
	})

	t.Run("字节序与数值序一致", func(t *testing.T) {
		a := WriteBE8(nil, 255)
		b := WriteBE8(nil, 256)
		assert.Equal(t, -1, bytes.Compare(a, b))
	})
}
