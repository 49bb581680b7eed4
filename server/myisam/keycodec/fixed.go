package keycodec

import (
	"fmt"

	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
)

// Fixed 定长键
type Fixed struct {
	base
}

// NewFixed 创建定长编解码器
func NewFixed(keyLength, refLength int, opts ...Option) *Fixed {
	return &Fixed{base: newBase(keyLength, refLength, opts)}
}

func (f *Fixed) Kind() Kind { return KindFixed }

func (f *Fixed) FixedWidth() (int, bool) {
	return f.keyLength + f.refLength, true
}

func (f *Fixed) MaxEntryLength() int {
	return f.keyLength + f.refLength
}

func (f *Fixed) Check(entry []byte) error {
	if len(entry) != f.keyLength+f.refLength {
		return fmt.Errorf("%w: entry length %d, want %d", basic.ErrInvalidKey, len(entry), f.keyLength+f.refLength)
	}
	return nil
}

func (f *Fixed) Pack(dst, _ []byte, entry []byte) []byte {
	return append(dst, entry...)
}

func (f *Fixed) Unpack(buf, _ []byte) ([]byte, int, error) {
	width := f.keyLength + f.refLength
	if len(buf) < width {
		return nil, 0, fmt.Errorf("%w: %d bytes left for a %d byte entry", basic.ErrCorrupted, len(buf), width)
	}
	entry := make([]byte, width)
	copy(entry, buf)
	return entry, width, nil
}
