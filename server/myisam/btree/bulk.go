package btree

import (
	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
)

// Assembler 由已排序条目自底向上建树
//
// 每层只保留一个未写出的页缓冲. 页满时写出, 最后一个条目作为分隔条目追加到上一层;
// Finish 依次写出各层剩余缓冲, 最后写出的页成为根.
type Assembler struct {
	t      *Tree
	levels []*node
	last   []byte
	count  uint64
	pages  []uint64
	done   bool
}

// NewAssembler 在空树上创建装配器
func (t *Tree) NewAssembler() (*Assembler, error) {
	if t.root != basic.NoPage {
		return nil, errors.Errorf("index %d: bulk assembly needs an empty tree", t.opts.Index)
	}
	return &Assembler{t: t}, nil
}

// Count 已追加的条目数
func (a *Assembler) Count() uint64 { return a.count }

// Pages 已写出的页数
func (a *Assembler) Pages() int { return len(a.pages) }

// Last 最后追加的条目
func (a *Assembler) Last() []byte { return a.last }

// Add 追加一个条目, 条目必须严格递增
func (a *Assembler) Add(entry []byte) error {
	if a.done {
		return errors.New("assembler already finished")
	}
	if err := a.t.codec.Check(entry); err != nil {
		return err
	}
	if a.last != nil && a.t.compareEntries(a.last, entry) >= 0 {
		return errors.Errorf("index %d: bulk input out of order", a.t.opts.Index)
	}
	a.last = clone(entry)
	a.count++
	return a.insert(0, a.last, basic.NoPage)
}

func (a *Assembler) insert(level int, entry []byte, prevChild uint64) error {
	if level == len(a.levels) {
		a.levels = append(a.levels, nil)
	}
	n := a.levels[level]
	if n == nil {
		n = &node{leaf: level == 0, entries: [][]byte{entry}}
		if level > 0 {
			n.children = []uint64{prevChild, basic.NoPage}
		}
		a.levels[level] = n
		return nil
	}

	n.entries = append(n.entries, entry)
	if level > 0 {
		n.children[len(n.children)-1] = prevChild
		n.children = append(n.children, basic.NoPage)
	}
	if a.t.fits(n) {
		return nil
	}

	// 去掉新条目和它前面的条目, 后者上移为分隔条目
	count := len(n.entries)
	sep := n.entries[count-2]
	n.entries = n.entries[:count-2]
	var carry uint64
	if level > 0 {
		carry = n.children[len(n.children)-2]
		n.children = n.children[:len(n.children)-2]
	}
	off, err := a.write(n)
	if err != nil {
		return err
	}
	if err := a.insert(level+1, sep, off); err != nil {
		return err
	}
	a.levels[level] = nil
	return a.insert(level, entry, carry)
}

func (a *Assembler) write(n *node) (uint64, error) {
	off, err := a.t.allocNode(n)
	if err != nil {
		return 0, err
	}
	a.pages = append(a.pages, off)
	return off, nil
}

// Finish 写出所有层的缓冲并返回根页, 不修改树的根指针
func (a *Assembler) Finish() (uint64, error) {
	if a.done {
		return basic.NoPage, errors.New("assembler already finished")
	}
	a.done = true
	root := basic.NoPage
	for level, n := range a.levels {
		if n == nil {
			break
		}
		if level > 0 {
			n.children[len(n.children)-1] = root
		}
		off, err := a.write(n)
		if err != nil {
			return basic.NoPage, err
		}
		root = off
	}
	return root, nil
}

// Abort 释放已写出的页
func (a *Assembler) Abort() error {
	a.done = true
	for _, off := range a.pages {
		if err := a.t.store.Free(off, a.t.blockLength); err != nil {
			return err
		}
	}
	a.pages = nil
	return nil
}
