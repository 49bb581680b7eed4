package keycodec

import (
	"fmt"

	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
	"github.com/zhukovaskychina/xmysql-myisam/util"
)

// VarLen 变长键: 2字节键长 + 键 + 行引用
type VarLen struct {
	base
}

// NewVarLen 创建变长编解码器, keyLength 为最大键长
func NewVarLen(keyLength, refLength int, opts ...Option) *VarLen {
	return &VarLen{base: newBase(keyLength, refLength, opts)}
}

func (v *VarLen) Kind() Kind { return KindVarLen }

func (v *VarLen) FixedWidth() (int, bool) { return 0, false }

func (v *VarLen) MaxEntryLength() int {
	return 2 + v.keyLength + v.refLength
}

func (v *VarLen) Check(entry []byte) error {
	return checkVariable(&v.base, entry)
}

func checkVariable(b *base, entry []byte) error {
	keyLen := len(entry) - b.refLength
	if keyLen < 0 || keyLen > b.keyLength {
		return fmt.Errorf("%w: key length %d exceeds %d", basic.ErrInvalidKey, keyLen, b.keyLength)
	}
	return nil
}

func (v *VarLen) Pack(dst, _ []byte, entry []byte) []byte {
	dst = util.WriteBE2(dst, uint16(len(entry)-v.refLength))
	return append(dst, entry...)
}

func (v *VarLen) Unpack(buf, _ []byte) ([]byte, int, error) {
	if len(buf) < 2 {
		return nil, 0, fmt.Errorf("%w: truncated key length", basic.ErrCorrupted)
	}
	_, keyLen := util.ReadBE2(buf, 0)
	n := 2 + int(keyLen) + v.refLength
	if int(keyLen) > v.keyLength || len(buf) < n {
		return nil, 0, fmt.Errorf("%w: key length %d with %d bytes left", basic.ErrCorrupted, keyLen, len(buf))
	}
	entry := make([]byte, n-2)
	copy(entry, buf[2:n])
	return entry, n, nil
}
