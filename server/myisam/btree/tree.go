package btree

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/keycodec"
)

// PageStore 树所需的页分配与读写接口
type PageStore interface {
	Alloc(blockLength int) (uint64, error)
	Free(offset uint64, blockLength int) error
	ReadPage(offset uint64, blockLength int) ([]byte, error)
	WritePage(offset uint64, page []byte) error
}

// Options 索引树配置
type Options struct {
	// Index 索引编号, 用于错误信息
	Index       int
	BlockLength int
	Unique      bool
	// AppendMostly 键按递增顺序插入时在最后一个条目处分裂, 保持前面的页满载
	AppendMostly bool
	// MaxEntriesPerPage 每页条目数上限, 0 表示只受页大小限制
	MaxEntriesPerPage int
	// PointerWidth 子页指针字节数, 默认4
	PointerWidth int
}

// DefaultOptions 默认配置
func DefaultOptions() Options {
	return Options{
		BlockLength:  basic.MinBlockLength,
		AppendMostly: true,
		PointerWidth: 4,
	}
}

// Stats 结构变化计数
type Stats struct {
	Splits     uint64
	RootSplits uint64
	Balances   uint64
	Merges     uint64
	Rotations  uint64
	Collapses  uint64
}

// Tree 一个索引对应的磁盘 B 树
//
// 键同时存在于内部页和叶子页. 调用方负责对同一索引的结构修改串行化.
type Tree struct {
	store       PageStore
	codec       keycodec.Codec
	opts        Options
	blockLength int
	ptrWidth    int
	// width 定长编码的条目宽度, 变长时为0
	width int

	root    uint64
	entries uint64
	last    []byte
	stats   Stats
	scratch []byte
	batch   *pageBatch
}

// New 创建空树
func New(store PageStore, codec keycodec.Codec, opts Options) (*Tree, error) {
	if opts.BlockLength == 0 {
		opts.BlockLength = basic.MinBlockLength
	}
	if opts.PointerWidth == 0 {
		opts.PointerWidth = 4
	}
	if basic.BlockClass(opts.BlockLength) < 0 {
		return nil, errors.Errorf("invalid block length %d", opts.BlockLength)
	}
	if opts.PointerWidth < 2 || opts.PointerWidth > 8 {
		return nil, errors.Errorf("invalid pointer width %d", opts.PointerWidth)
	}
	if opts.MaxEntriesPerPage == 1 || opts.MaxEntriesPerPage < 0 {
		return nil, errors.Errorf("max entries per page %d must be 0 or at least 2", opts.MaxEntriesPerPage)
	}
	// 一页至少容纳三个最长的条目, 分裂后两边都不为空
	need := basic.PageHeaderLength + opts.PointerWidth + 3*(codec.MaxEntryLength()+opts.PointerWidth)
	if need > opts.BlockLength {
		return nil, errors.Errorf("entries of %d bytes need blocks of at least %d bytes, have %d",
			codec.MaxEntryLength(), need, opts.BlockLength)
	}

	t := &Tree{
		store:       store,
		codec:       codec,
		opts:        opts,
		blockLength: opts.BlockLength,
		ptrWidth:    opts.PointerWidth,
		root:        basic.NoPage,
		scratch:     make([]byte, 0, opts.BlockLength*2),
	}
	if w, fixed := codec.FixedWidth(); fixed {
		t.width = w
	}
	return t, nil
}

func (t *Tree) Codec() keycodec.Codec { return t.codec }
func (t *Tree) Options() Options      { return t.opts }
func (t *Tree) BlockLength() int      { return t.blockLength }
func (t *Tree) Stats() Stats          { return t.stats }

// Root 根页偏移, NoPage 表示空索引
func (t *Tree) Root() uint64 { return t.root }

// Entries 索引条目数
func (t *Tree) Entries() uint64 { return t.entries }

// SetRoot 从外部元数据恢复根指针和条目数
func (t *Tree) SetRoot(root uint64, entries uint64) {
	t.root = root
	t.entries = entries
	t.last = nil
}

// Height 树高, 空树为0
func (t *Tree) Height() (int, error) {
	height := 0
	for off := t.root; off != basic.NoPage; height++ {
		n, err := t.readNode(off)
		if err != nil {
			return 0, err
		}
		if n.leaf {
			return height + 1, nil
		}
		off = n.children[0]
	}
	return height, nil
}

// entryCmp 唯一索引只比较键, 否则比较键和行引用
func (t *Tree) entryCmp(target []byte) func([]byte) int {
	if t.opts.Unique {
		key := t.codec.Key(target)
		return func(e []byte) int {
			return t.codec.CompareKeys(t.codec.Key(e), key)
		}
	}
	return func(e []byte) int {
		return t.codec.Compare(e, target)
	}
}

func (t *Tree) keyCmp(key []byte) func([]byte) int {
	return func(e []byte) int {
		return t.codec.CompareKeys(t.codec.Key(e), key)
	}
}

func (t *Tree) compareEntries(a, b []byte) int {
	if t.opts.Unique {
		return t.codec.CompareKeys(t.codec.Key(a), t.codec.Key(b))
	}
	return t.codec.Compare(a, b)
}

// Free 释放整棵树的所有页面
func (t *Tree) Free() error {
	stack := []uint64{}
	if t.root != basic.NoPage {
		stack = append(stack, t.root)
	}
	for len(stack) > 0 {
		off := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, err := t.readNode(off)
		if err != nil {
			return err
		}
		if !n.leaf {
			stack = append(stack, n.children...)
		}
		if err := t.store.Free(off, t.blockLength); err != nil {
			return err
		}
	}
	t.SetRoot(basic.NoPage, 0)
	return nil
}

func clone(b []byte) []byte {
	return bytes.Clone(b)
}
