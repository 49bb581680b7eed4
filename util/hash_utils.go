package util

import (
	"github.com/OneOfOne/xxhash"
)

// HashCode 将一个键进行Hash
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}

// Checksum 累加式校验, 用于按顺序遍历的键集合
type Checksum struct {
	h *xxhash.XXHash64
}

// NewChecksum 创建校验器
func NewChecksum() *Checksum {
	return &Checksum{h: xxhash.New64()}
}

// Add 追加一段数据
func (c *Checksum) Add(b []byte) {
	c.h.Write(b)
}

// Sum 返回当前校验值
func (c *Checksum) Sum() uint64 {
	return c.h.Sum64()
}
