package btree

import (
	"sort"

	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
)

// SearchMode 查找方式
type SearchMode int

const (
	// Exact 键完全相等, 非唯一索引定位到第一个相等的条目
	Exact SearchMode = iota
	// ExactOrNext 第一个不小于键的条目
	ExactOrNext
	// ExactOrPrev 最后一个不大于键的条目
	ExactOrPrev
	// Same 重新定位到上一次返回的条目, 该条目已删除时定位到其后继
	Same
)

func (m SearchMode) String() string {
	switch m {
	case Exact:
		return "exact"
	case ExactOrNext:
		return "exact-or-next"
	case ExactOrPrev:
		return "exact-or-prev"
	case Same:
		return "same"
	}
	return "unknown"
}

// frame 路径上的一层
//
// 游标栈顶的 idx 是当前条目下标; 其余各层的 idx 是向下走过的子指针下标.
type frame struct {
	off uint64
	n   *node
	idx int
}

// Cursor 有序遍历游标, 树被修改后失效
type Cursor struct {
	t     *Tree
	stack []frame
}

// Search 按模式查找键, 键只包含键部分不含行引用
func (t *Tree) Search(key []byte, mode SearchMode) (*Cursor, error) {
	var (
		c   *Cursor
		err error
	)
	switch mode {
	case Exact:
		c, err = t.seekGE(t.keyCmp(key))
		if basic.IsEndOfData(err) {
			return nil, basic.ErrKeyNotFound
		}
		if err == nil && t.codec.CompareKeys(c.Key(), key) != 0 {
			return nil, basic.ErrKeyNotFound
		}
	case ExactOrNext:
		c, err = t.seekGE(t.keyCmp(key))
	case ExactOrPrev:
		c, err = t.seekLE(t.keyCmp(key))
	case Same:
		if t.last == nil {
			return nil, basic.ErrKeyNotFound
		}
		c, err = t.seekGE(t.entryCmp(t.last))
	default:
		return nil, basic.ErrInvalidKey
	}
	if err != nil {
		return nil, err
	}
	c.remember()
	return c, nil
}

// Lookup 查找与 entry 相同的条目 (唯一索引只比较键), 返回已存在条目的行引用
func (t *Tree) Lookup(entry []byte) ([]byte, error) {
	cmp := t.entryCmp(entry)
	c, err := t.seekGE(cmp)
	if basic.IsEndOfData(err) {
		return nil, basic.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	if cmp(c.Entry()) != 0 {
		return nil, basic.ErrKeyNotFound
	}
	return clone(c.RowRef()), nil
}

// First 第一个条目
func (t *Tree) First() (*Cursor, error) {
	c, err := t.seekGE(func([]byte) int { return 1 })
	if err != nil {
		return nil, err
	}
	c.remember()
	return c, nil
}

// Last 最后一个条目
func (t *Tree) Last() (*Cursor, error) {
	c, err := t.seekLE(func([]byte) int { return -1 })
	if err != nil {
		return nil, err
	}
	c.remember()
	return c, nil
}

// seekGE 定位到第一个 cmp(entry) >= 0 的条目
func (t *Tree) seekGE(cmp func([]byte) int) (*Cursor, error) {
	c := &Cursor{t: t}
	for off := t.root; off != basic.NoPage; {
		n, err := t.readNode(off)
		if err != nil {
			return nil, err
		}
		i := sort.Search(len(n.entries), func(i int) bool { return cmp(n.entries[i]) >= 0 })
		c.stack = append(c.stack, frame{off: off, n: n, idx: i})
		if n.leaf {
			break
		}
		off = n.children[i]
	}
	if err := c.settleForward(); err != nil {
		return nil, err
	}
	return c, nil
}

// seekLE 定位到最后一个 cmp(entry) <= 0 的条目
func (t *Tree) seekLE(cmp func([]byte) int) (*Cursor, error) {
	c := &Cursor{t: t}
	for off := t.root; off != basic.NoPage; {
		n, err := t.readNode(off)
		if err != nil {
			return nil, err
		}
		i := sort.Search(len(n.entries), func(i int) bool { return cmp(n.entries[i]) > 0 })
		if n.leaf {
			c.stack = append(c.stack, frame{off: off, n: n, idx: i - 1})
			break
		}
		c.stack = append(c.stack, frame{off: off, n: n, idx: i})
		off = n.children[i]
	}
	if err := c.settleBackward(); err != nil {
		return nil, err
	}
	return c, nil
}

// settleForward 栈顶越过页尾时回溯到祖先中的下一个条目
func (c *Cursor) settleForward() error {
	for len(c.stack) > 0 {
		top := c.stack[len(c.stack)-1]
		if top.idx < len(top.n.entries) {
			return nil
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
	return basic.ErrEndOfData
}

// settleBackward 栈顶越过页首时回溯到祖先中的上一个条目
func (c *Cursor) settleBackward() error {
	for len(c.stack) > 0 {
		if c.stack[len(c.stack)-1].idx >= 0 {
			return nil
		}
		c.stack = c.stack[:len(c.stack)-1]
		if len(c.stack) > 0 {
			c.stack[len(c.stack)-1].idx--
		}
	}
	return basic.ErrEndOfData
}

func (c *Cursor) remember() {
	if len(c.stack) > 0 {
		c.t.last = clone(c.Entry())
	}
}

// Valid 游标是否指向条目
func (c *Cursor) Valid() bool {
	return len(c.stack) > 0
}

// Entry 当前条目 (键 + 行引用)
func (c *Cursor) Entry() []byte {
	if len(c.stack) == 0 {
		return nil
	}
	top := c.stack[len(c.stack)-1]
	return top.n.entries[top.idx]
}

// Key 当前条目的键部分
func (c *Cursor) Key() []byte {
	if e := c.Entry(); e != nil {
		return c.t.codec.Key(e)
	}
	return nil
}

// RowRef 当前条目的行引用
func (c *Cursor) RowRef() []byte {
	if e := c.Entry(); e != nil {
		return c.t.codec.RowRef(e)
	}
	return nil
}

func (c *Cursor) push(off uint64) (*node, error) {
	n, err := c.t.readNode(off)
	if err != nil {
		return nil, err
	}
	c.stack = append(c.stack, frame{off: off, n: n})
	return n, nil
}

// Next 移动到下一个条目, 到达末尾返回 ErrEndOfData
func (c *Cursor) Next() error {
	if len(c.stack) == 0 {
		return basic.ErrEndOfData
	}
	top := &c.stack[len(c.stack)-1]
	top.idx++
	if !top.n.leaf {
		// 右子树的最左叶子
		off := top.n.children[top.idx]
		for {
			n, err := c.push(off)
			if err != nil {
				return err
			}
			if n.leaf {
				break
			}
			off = n.children[0]
		}
	}
	if err := c.settleForward(); err != nil {
		return err
	}
	c.remember()
	return nil
}

// Prev 移动到上一个条目, 到达开头返回 ErrEndOfData
func (c *Cursor) Prev() error {
	if len(c.stack) == 0 {
		return basic.ErrEndOfData
	}
	top := &c.stack[len(c.stack)-1]
	if top.n.leaf {
		top.idx--
	} else {
		// 左子树的最右叶子
		off := top.n.children[top.idx]
		for {
			n, err := c.push(off)
			if err != nil {
				return err
			}
			last := len(n.entries)
			if n.leaf {
				c.stack[len(c.stack)-1].idx = last - 1
				break
			}
			c.stack[len(c.stack)-1].idx = last
			off = n.children[last]
		}
	}
	if err := c.settleBackward(); err != nil {
		return err
	}
	c.remember()
	return nil
}
