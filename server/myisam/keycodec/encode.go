package keycodec

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
	"github.com/zhukovaskychina/xmysql-myisam/util"
)

// 键段编码: 产生可按字节比较的定长字节串

// EncodeInt64 有符号整数, 翻转符号位
func EncodeInt64(v int64) []byte {
	return util.WriteBE8(make([]byte, 0, 8), uint64(v)^(1<<63))
}

// DecodeInt64 EncodeInt64 的逆操作
func DecodeInt64(b []byte) int64 {
	return int64(util.LoadBE8(b) ^ (1 << 63))
}

// EncodeUint64 无符号整数
func EncodeUint64(v uint64) []byte {
	return util.WriteBE8(make([]byte, 0, 8), v)
}

// EncodeString 定宽字符串, 不足补空格, 超出截断
func EncodeString(s string, width int) []byte {
	out := make([]byte, width)
	n := copy(out, s)
	for i := n; i < width; i++ {
		out[i] = ' '
	}
	return out
}

// DecimalWidth 精度为 precision 的十进制数编码宽度
func DecimalWidth(precision int) int {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(precision)), nil)
	return (limit.BitLen() + 1 + 7) / 8
}

// EncodeDecimal 将十进制数按 scale 放大为整数后做偏移二进制编码
func EncodeDecimal(d decimal.Decimal, precision, scale int) ([]byte, error) {
	if precision <= 0 || scale < 0 || scale > precision {
		return nil, fmt.Errorf("%w: decimal(%d,%d)", basic.ErrInvalidKey, precision, scale)
	}
	v := d.Shift(int32(scale)).Round(0).BigInt()
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(precision)), nil)
	if new(big.Int).Abs(v).Cmp(limit) >= 0 {
		return nil, fmt.Errorf("%w: %s out of range for decimal(%d,%d)", basic.ErrInvalidKey, d.String(), precision, scale)
	}

	width := DecimalWidth(precision)
	bias := new(big.Int).Lsh(big.NewInt(1), uint(width*8-1))
	v.Add(v, bias)
	return v.FillBytes(make([]byte, width)), nil
}

// DecodeDecimal EncodeDecimal 的逆操作
func DecodeDecimal(b []byte, scale int) decimal.Decimal {
	v := new(big.Int).SetBytes(b)
	bias := new(big.Int).Lsh(big.NewInt(1), uint(len(b)*8-1))
	v.Sub(v, bias)
	return decimal.NewFromBigInt(v, int32(-scale))
}

// JoinKey 拼接多个键段
func JoinKey(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	key := make([]byte, 0, n)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

// EncodeRowRef 行位置编码为 width 字节的行引用
func EncodeRowRef(pos uint64, width int) []byte {
	return util.WriteBEN(make([]byte, 0, width), width, pos)
}

// DecodeRowRef 行引用解码为行位置
func DecodeRowRef(ref []byte) uint64 {
	return util.LoadBEN(ref, len(ref))
}
