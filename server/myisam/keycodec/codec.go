package keycodec

import (
	"bytes"
	"fmt"

	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
)

// Kind 键编码方式, 每个索引打开时确定一次
type Kind uint8

const (
	// KindFixed 定长键, 条目按原样存放
	KindFixed Kind = iota
	// KindVarLen 变长键, 2字节长度前缀
	KindVarLen
	// KindPrefix 前缀压缩键, 记录与前一条目共享的前缀长度
	KindPrefix
)

func (k Kind) String() string {
	switch k {
	case KindFixed:
		return "fixed"
	case KindVarLen:
		return "varlen"
	case KindPrefix:
		return "prefix"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind 解析编码名称
func ParseKind(name string) (Kind, error) {
	switch name {
	case "fixed":
		return KindFixed, nil
	case "varlen":
		return KindVarLen, nil
	case "prefix", "packed":
		return KindPrefix, nil
	}
	return 0, fmt.Errorf("unknown key kind %q", name)
}

// CompareFunc 键比较函数, 只比较键部分
type CompareFunc func(a, b []byte) int

// Codec 索引条目编解码器
//
// 条目 (entry) 由键和定长行引用拼接而成: key || rowref.
// Pack 以前一条目为参照编码, prev 为 nil 表示页内第一个条目.
type Codec interface {
	Kind() Kind
	KeyLength() int
	RefLength() int
	// FixedWidth 定长编码时返回每个条目的字节数
	FixedWidth() (int, bool)
	// MaxEntryLength 单个编码后条目的最大字节数
	MaxEntryLength() int

	CompareKeys(a, b []byte) int
	Compare(a, b []byte) int
	Key(entry []byte) []byte
	RowRef(entry []byte) []byte
	Check(entry []byte) error

	Pack(dst, prev, entry []byte) []byte
	Unpack(buf, prev []byte) (entry []byte, n int, err error)
}

// Option 编解码器选项
type Option func(*base)

// WithCompare 指定排序规则
func WithCompare(fn CompareFunc) Option {
	return func(b *base) {
		b.cmp = fn
	}
}

type base struct {
	keyLength int
	refLength int
	cmp       CompareFunc
}

func newBase(keyLength, refLength int, opts []Option) base {
	b := base{keyLength: keyLength, refLength: refLength, cmp: bytes.Compare}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) KeyLength() int { return b.keyLength }
func (b *base) RefLength() int { return b.refLength }

func (b *base) Key(entry []byte) []byte {
	return entry[:len(entry)-b.refLength]
}

func (b *base) RowRef(entry []byte) []byte {
	return entry[len(entry)-b.refLength:]
}

func (b *base) CompareKeys(x, y []byte) int {
	return b.cmp(x, y)
}

// Compare 先比较键, 键相等时比较行引用
func (b *base) Compare(x, y []byte) int {
	if c := b.cmp(b.Key(x), b.Key(y)); c != 0 {
		return c
	}
	return bytes.Compare(b.RowRef(x), b.RowRef(y))
}

// New 按类型创建编解码器
func New(kind Kind, keyLength, refLength int, opts ...Option) (Codec, error) {
	if refLength < 0 || refLength > basic.MaxRefLength {
		return nil, fmt.Errorf("%w: row reference width %d", basic.ErrInvalidKey, refLength)
	}
	if keyLength <= 0 || keyLength > basic.MaxKeyLength {
		return nil, fmt.Errorf("%w: key length %d", basic.ErrInvalidKey, keyLength)
	}
	switch kind {
	case KindFixed:
		return NewFixed(keyLength, refLength, opts...), nil
	case KindVarLen:
		return NewVarLen(keyLength, refLength, opts...), nil
	case KindPrefix:
		return NewPrefix(keyLength, refLength, opts...), nil
	}
	return nil, fmt.Errorf("%w: unknown kind %d", basic.ErrInvalidKey, kind)
}

// MakeEntry 拼接键和行引用
func MakeEntry(key, ref []byte) []byte {
	entry := make([]byte, 0, len(key)+len(ref))
	entry = append(entry, key...)
	return append(entry, ref...)
}
