package btree

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-myisam/logger"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
	"github.com/zhukovaskychina/xmysql-myisam/util"
)

// node 解码后的索引页
//
// 非叶子页: children[i] 指向小于 entries[i] 的子树, children[len(entries)] 指向最右子树.
type node struct {
	leaf     bool
	entries  [][]byte
	children []uint64
}

func (n *node) insertAt(i int, entry []byte, right uint64) {
	n.entries = slices.Insert(n.entries, i, entry)
	if !n.leaf {
		n.children = slices.Insert(n.children, i+1, right)
	}
}

// removeAt 删除条目 i 及其右侧子指针
func (n *node) removeAt(i int) {
	n.entries = slices.Delete(n.entries, i, i+1)
	if !n.leaf {
		n.children = slices.Delete(n.children, i+1, i+2)
	}
}

func concat[T any](parts ...[]T) []T {
	var out []T
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func (t *Tree) pointer(buf []byte, offset uint64) []byte {
	return util.WriteBEN(buf, t.ptrWidth, offset/basic.MinBlockLength)
}

// encodeBody 编码页头之后的内容, 页头占位2字节
func (t *Tree) encodeBody(dst []byte, n *node) []byte {
	dst = append(dst, 0, 0)
	if !n.leaf {
		dst = t.pointer(dst, n.children[0])
	}
	var prev []byte
	for i, e := range n.entries {
		dst = t.codec.Pack(dst, prev, e)
		if !n.leaf {
			dst = t.pointer(dst, n.children[i+1])
		}
		prev = e
	}
	return dst
}

// size 编码后的已用长度
func (t *Tree) size(n *node) int {
	if t.width > 0 {
		ptr := 0
		if !n.leaf {
			ptr = t.ptrWidth
		}
		return basic.PageHeaderLength + ptr + len(n.entries)*(t.width+ptr)
	}
	return len(t.encodeBody(t.scratch[:0], n))
}

func (t *Tree) fits(n *node) bool {
	if t.opts.MaxEntriesPerPage > 0 && len(n.entries) > t.opts.MaxEntriesPerPage {
		return false
	}
	return t.size(n) <= t.blockLength
}

// capacity 定长键每页可容纳的条目数
func (t *Tree) capacity(leaf bool) int {
	ptr := 0
	if !leaf {
		ptr = t.ptrWidth
	}
	n := (t.blockLength - basic.PageHeaderLength - ptr) / (t.width + ptr)
	if t.opts.MaxEntriesPerPage > 0 && t.opts.MaxEntriesPerPage < n {
		n = t.opts.MaxEntriesPerPage
	}
	return n
}

func (t *Tree) encode(offset uint64, n *node) ([]byte, error) {
	t.scratch = t.encodeBody(t.scratch[:0], n)
	used := len(t.scratch)
	if used > t.blockLength {
		return nil, errors.Errorf("page %d: %d bytes do not fit in a %d byte block", offset, used, t.blockLength)
	}
	flag := uint16(used)
	if !n.leaf {
		flag |= basic.NodeFlag
	}
	page := make([]byte, t.blockLength)
	copy(page, t.scratch)
	util.StoreBE2(page, flag)
	return page, nil
}

func (t *Tree) decode(offset uint64, page []byte) (*node, error) {
	head := util.LoadBE2(page)
	used := int(head &^ basic.NodeFlag)
	n := &node{leaf: head&basic.NodeFlag == 0}
	if used < basic.PageHeaderLength || used > len(page) {
		return nil, basic.NewCorrupted(offset, used, "used length out of range")
	}

	pos := basic.PageHeaderLength
	readPointer := func() (uint64, error) {
		if pos+t.ptrWidth > used {
			return 0, basic.NewCorrupted(offset, used, "child pointer past used length")
		}
		_, v := util.ReadBEN(page, pos, t.ptrWidth)
		pos += t.ptrWidth
		return v * basic.MinBlockLength, nil
	}

	if !n.leaf {
		child, err := readPointer()
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, child)
	}
	var prev []byte
	for pos < used {
		e, size, err := t.codec.Unpack(page[pos:used], prev)
		if err != nil {
			return nil, basic.NewCorrupted(offset, used, "entry at %d: %v", pos, err)
		}
		pos += size
		n.entries = append(n.entries, e)
		prev = e
		if !n.leaf {
			child, err := readPointer()
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, child)
		}
	}
	if !n.leaf && len(n.entries) == 0 {
		return nil, basic.NewCorrupted(offset, used, "node page without keys")
	}
	return n, nil
}

func (t *Tree) readNode(offset uint64) (*node, error) {
	page, err := t.store.ReadPage(offset, t.blockLength)
	if err != nil {
		return nil, err
	}
	n, err := t.decode(offset, page)
	if err != nil {
		logger.Errorf("index %d: %v", t.opts.Index, err)
		return nil, err
	}
	return n, nil
}

func (t *Tree) writeNode(offset uint64, n *node) error {
	page, err := t.encode(offset, n)
	if err != nil {
		return err
	}
	return t.store.WritePage(offset, page)
}

func (t *Tree) allocNode(n *node) (uint64, error) {
	offset, err := t.store.Alloc(t.blockLength)
	if err != nil {
		return 0, err
	}
	return offset, t.writeNode(offset, n)
}

// pageBatch 一次插入中待写的页面和新分配的页
type pageBatch struct {
	offsets   []uint64
	pages     [][]byte
	allocated []uint64
}

// stage 编码页面并记入当前批次, 由 modify 统一写盘
func (t *Tree) stage(offset uint64, n *node) error {
	page, err := t.encode(offset, n)
	if err != nil {
		return err
	}
	t.batch.offsets = append(t.batch.offsets, offset)
	t.batch.pages = append(t.batch.pages, page)
	return nil
}

func (t *Tree) allocPage() (uint64, error) {
	offset, err := t.store.Alloc(t.blockLength)
	if err != nil {
		return 0, err
	}
	t.batch.allocated = append(t.batch.allocated, offset)
	return offset, nil
}
