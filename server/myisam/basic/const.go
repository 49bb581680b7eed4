package basic

import "math"

// NoPage 空指针, 对应空根或空闲链表结尾
const NoPage uint64 = math.MaxUint64

const (
	// MinBlockLength 最小页大小, 也是页面对齐单位
	MinBlockLength = 1024
	// MaxBlockLength 最大页大小
	MaxBlockLength = 16384
	// BlockClasses 页大小类别数: 1K,2K,4K,8K,16K
	BlockClasses = 5

	// PageHeaderLength 页头: 2字节已用长度, 最高位表示非叶子页
	PageHeaderLength = 2
	// NodeFlag 已用长度字段中的非叶子标志
	NodeFlag = 0x8000

	// MaxKeyLength 单个键的最大长度
	MaxKeyLength = 1000
	// MaxRefLength 行引用最大宽度
	MaxRefLength = 8
)

// BlockClass 返回页大小对应的类别, 非法大小返回 -1
func BlockClass(blockLength int) int {
	class := 0
	for size := MinBlockLength; size <= MaxBlockLength; size <<= 1 {
		if size == blockLength {
			return class
		}
		class++
	}
	return -1
}

// ClassBlockLength 返回类别对应的页大小
func ClassBlockLength(class int) int {
	return MinBlockLength << uint(class)
}
