package keycodec

import (
	"fmt"

	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
	"github.com/zhukovaskychina/xmysql-myisam/util"
)

// Prefix 前缀压缩键
//
// 编码: 共享前缀长度, 后缀长度, 后缀, 行引用.
// 长度小于255时占1字节, 否则为 0xff 加2字节大端长度.
type Prefix struct {
	base
}

// NewPrefix 创建前缀压缩编解码器, keyLength 为最大键长
func NewPrefix(keyLength, refLength int, opts ...Option) *Prefix {
	return &Prefix{base: newBase(keyLength, refLength, opts)}
}

func (p *Prefix) Kind() Kind { return KindPrefix }

func (p *Prefix) FixedWidth() (int, bool) { return 0, false }

func (p *Prefix) MaxEntryLength() int {
	return lengthSize(p.keyLength)*2 + p.keyLength + p.refLength
}

func (p *Prefix) Check(entry []byte) error {
	return checkVariable(&p.base, entry)
}

func lengthSize(n int) int {
	if n < 255 {
		return 1
	}
	return 3
}

func writeLength(dst []byte, n int) []byte {
	if n < 255 {
		return append(dst, byte(n))
	}
	return util.WriteBE2(append(dst, 0xff), uint16(n))
}

func readLength(buf []byte, cursor int) (int, int, error) {
	if cursor >= len(buf) {
		return cursor, 0, fmt.Errorf("%w: truncated length", basic.ErrCorrupted)
	}
	if buf[cursor] != 0xff {
		return cursor + 1, int(buf[cursor]), nil
	}
	if cursor+3 > len(buf) {
		return cursor, 0, fmt.Errorf("%w: truncated length", basic.ErrCorrupted)
	}
	cursor, n := util.ReadBE2(buf, cursor+1)
	return cursor, int(n), nil
}

func commonPrefix(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func (p *Prefix) Pack(dst, prev, entry []byte) []byte {
	key := p.Key(entry)
	shared := 0
	if prev != nil {
		shared = commonPrefix(p.Key(prev), key)
	}
	dst = writeLength(dst, shared)
	dst = writeLength(dst, len(key)-shared)
	dst = append(dst, key[shared:]...)
	return append(dst, p.RowRef(entry)...)
}

func (p *Prefix) Unpack(buf, prev []byte) ([]byte, int, error) {
	cursor, shared, err := readLength(buf, 0)
	if err != nil {
		return nil, 0, err
	}
	cursor, suffix, err := readLength(buf, cursor)
	if err != nil {
		return nil, 0, err
	}
	var prevKey []byte
	if prev != nil {
		prevKey = p.Key(prev)
	}
	if shared > len(prevKey) || shared+suffix > p.keyLength {
		return nil, 0, fmt.Errorf("%w: prefix %d suffix %d against previous key of %d bytes",
			basic.ErrCorrupted, shared, suffix, len(prevKey))
	}
	end := cursor + suffix + p.refLength
	if end > len(buf) {
		return nil, 0, fmt.Errorf("%w: entry runs past buffer", basic.ErrCorrupted)
	}
	entry := make([]byte, 0, shared+suffix+p.refLength)
	entry = append(entry, prevKey[:shared]...)
	entry = append(entry, buf[cursor:end]...)
	return entry, end, nil
}
