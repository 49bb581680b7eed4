package bulkinsert

import (
	gbtree "github.com/google/btree"
	"github.com/zhukovaskychina/xmysql-myisam/logger"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/btree"
)

const degree = 32

// Stats 缓冲计数
type Stats struct {
	Buffered uint64
	Flushes  uint64
	Written  uint64
	// Dropped 写出失败而丢弃的条目
	Dropped uint64
}

// Buffer 单个索引的内存有序缓冲
//
// 条目先按索引顺序暂存, 达到内存上限或语句结束时按顺序逐条写入索引树.
// 只改变写入顺序, 不改变插入语义.
type Buffer struct {
	tree  *btree.Tree
	items *gbtree.BTreeG[[]byte]
	limit int64
	size  int64
	stats Stats
}

// New 创建缓冲, limit 为内存上限(字节)
func New(tree *btree.Tree, limit int64) *Buffer {
	codec := tree.Codec()
	less := func(a, b []byte) bool {
		return codec.Compare(a, b) < 0
	}
	return &Buffer{
		tree:  tree,
		items: gbtree.NewG[[]byte](degree, less),
		limit: limit,
	}
}

// Insert 暂存一个条目, 超过上限时先写出全部缓冲
func (b *Buffer) Insert(entry []byte) error {
	codec := b.tree.Codec()
	if err := codec.Check(entry); err != nil {
		return err
	}
	if existing, ok := b.items.Get(entry); ok {
		return &basic.DuplicateKeyError{
			Index:  b.tree.Options().Index,
			RowRef: append([]byte(nil), codec.RowRef(existing)...),
		}
	}
	// 树中已有的条目同样立即报冲突, 与直接插入一致
	ref, err := b.tree.Lookup(entry)
	if err == nil {
		return &basic.DuplicateKeyError{Index: b.tree.Options().Index, RowRef: ref}
	}
	if !basic.IsNotFound(err) {
		return err
	}
	b.items.ReplaceOrInsert(append([]byte(nil), entry...))
	b.size += int64(len(entry)) + elementOverhead
	b.stats.Buffered++
	if b.size > b.limit {
		return b.Flush()
	}
	return nil
}

// Flush 按顺序写出全部缓冲
//
// 写入失败时停止: 已写出的条目和失败的条目从缓冲中移除, 其后的条目保留.
func (b *Buffer) Flush() error {
	if b.items.Len() == 0 {
		return nil
	}
	b.stats.Flushes++
	logger.Debugf("index %d: flushing %d buffered entries", b.tree.Options().Index, b.items.Len())
	for {
		entry, ok := b.items.Min()
		if !ok {
			break
		}
		err := b.tree.Insert(entry)
		b.items.DeleteMin()
		b.size -= int64(len(entry)) + elementOverhead
		if err != nil {
			b.stats.Dropped++
			logger.Warnf("index %d: dropped buffered entry %x: %v", b.tree.Options().Index, entry, err)
			return err
		}
		b.stats.Written++
	}
	b.size = 0
	return nil
}

// Len 缓冲中的条目数
func (b *Buffer) Len() int { return b.items.Len() }

// Size 缓冲占用的估算字节数
func (b *Buffer) Size() int64 { return b.size }

// Limit 内存上限
func (b *Buffer) Limit() int64 { return b.limit }

func (b *Buffer) Stats() Stats { return b.stats }

// Reset 丢弃缓冲中的条目
func (b *Buffer) Reset() {
	b.items.Clear(false)
	b.size = 0
}
