package btree

import (
	"sort"

	"github.com/zhukovaskychina/xmysql-myisam/logger"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
)

// Insert 插入一个条目 (键 + 行引用)
//
// 唯一索引中键已存在时返回 *basic.DuplicateKeyError, 树保持不变.
func (t *Tree) Insert(entry []byte) error {
	if err := t.codec.Check(entry); err != nil {
		return err
	}
	entry = clone(entry)
	if t.root == basic.NoPage {
		off, err := t.allocNode(&node{leaf: true, entries: [][]byte{entry}})
		if err != nil {
			return err
		}
		t.root = off
		t.entries++
		return nil
	}

	path, last, err := t.insertPath(entry)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1]
	leaf.n.insertAt(leaf.idx, entry, 0)
	if err := t.modify(func() error { return t.fixup(path, len(path)-1, last) }); err != nil {
		return err
	}
	t.entries++
	return nil
}

// modify 先在内存中完成一次结构修改并分配所需的全部新页, 都成功后才写盘
//
// 分配失败 (如 IndexFileFull) 时已分配的页退回空闲链表, 文件中的树保持原样.
func (t *Tree) modify(fn func() error) error {
	root, stats := t.root, t.stats
	t.batch = &pageBatch{}
	defer func() { t.batch = nil }()

	if err := fn(); err != nil {
		t.root, t.stats = root, stats
		for _, off := range t.batch.allocated {
			if ferr := t.store.Free(off, t.blockLength); ferr != nil {
				logger.Warnf("index %d: release page %d: %v", t.opts.Index, off, ferr)
			}
		}
		return err
	}
	for i, off := range t.batch.offsets {
		if err := t.store.WritePage(off, t.batch.pages[i]); err != nil {
			return err
		}
	}
	return nil
}

// insertPath 从根到叶子记录插入位置; last 表示新条目在每一层都是最大的
func (t *Tree) insertPath(entry []byte) ([]frame, bool, error) {
	cmp := t.entryCmp(entry)
	last := t.opts.AppendMostly
	var path []frame
	for off := t.root; ; {
		n, err := t.readNode(off)
		if err != nil {
			return nil, false, err
		}
		i := sort.Search(len(n.entries), func(i int) bool { return cmp(n.entries[i]) >= 0 })
		if i < len(n.entries) {
			if cmp(n.entries[i]) == 0 {
				return nil, false, &basic.DuplicateKeyError{
					Index:  t.opts.Index,
					RowRef: clone(t.codec.RowRef(n.entries[i])),
				}
			}
			last = false
		}
		path = append(path, frame{off: off, n: n, idx: i})
		if n.leaf {
			return path, last, nil
		}
		off = n.children[i]
	}
}

// fixup 写回 path[level]; 页溢出时先尝试与兄弟页平衡, 否则分裂
func (t *Tree) fixup(path []frame, level int, last bool) error {
	f := path[level]
	if t.fits(f.n) {
		return t.stage(f.off, f.n)
	}
	appendSplit := last && f.n.leaf
	if t.width > 0 && level > 0 && !appendSplit {
		return t.balance(path, level)
	}
	return t.split(path, level, appendSplit)
}

// splitPoint 返回上移的分隔条目下标
func (t *Tree) splitPoint(n *node, appendSplit bool) int {
	count := len(n.entries)
	if appendSplit {
		return count - 2
	}
	if t.width > 0 {
		return count / 2
	}

	// 变长键按累计字节数取中点
	ptr := 0
	if !n.leaf {
		ptr = t.ptrWidth
	}
	sizes := make([]int, count)
	body := 0
	var prev []byte
	for i, e := range n.entries {
		sizes[i] = len(t.codec.Pack(t.scratch[:0], prev, e)) + ptr
		body += sizes[i]
		prev = e
	}
	half := body/2 - basic.PageHeaderLength - ptr
	pos, sum := 0, 0
	for pos < count-1 {
		sum += sizes[pos]
		if sum >= half {
			break
		}
		pos++
	}
	return max(1, min(pos, count-2))
}

// split 将 path[level] 一分为二, 右半部分写入新页, 分隔条目上移到父页
func (t *Tree) split(path []frame, level int, appendSplit bool) error {
	f := path[level]
	n := f.n
	s := t.splitPoint(n, appendSplit)
	sep := n.entries[s]

	right := &node{leaf: n.leaf, entries: concat(n.entries[s+1:])}
	n.entries = concat(n.entries[:s])
	if !n.leaf {
		right.children = concat(n.children[s+1:])
		n.children = concat(n.children[:s+1])
	}
	newOff, err := t.allocPage()
	if err != nil {
		return err
	}
	if err := t.stage(newOff, right); err != nil {
		return err
	}
	if err := t.stage(f.off, n); err != nil {
		return err
	}
	t.stats.Splits++

	if level == 0 {
		return t.enlargeRoot(f.off, sep, newOff)
	}
	parent := path[level-1]
	parent.n.insertAt(parent.idx, sep, newOff)
	return t.fixup(path, level-1, false)
}

// enlargeRoot 新建只含一个分隔条目的根页, 树高加一
func (t *Tree) enlargeRoot(left uint64, sep []byte, right uint64) error {
	root := &node{entries: [][]byte{sep}, children: []uint64{left, right}}
	off, err := t.allocPage()
	if err != nil {
		return err
	}
	if err := t.stage(off, root); err != nil {
		return err
	}
	t.root = off
	t.stats.RootSplits++
	return nil
}

// balance 定长键页溢出时与相邻兄弟页重新分配条目
//
// 兄弟页有空位时两页平分; 两页都满时拆成三页, 新的分隔条目插入父页.
func (t *Tree) balance(path []frame, level int) error {
	cur := path[level]
	parent := path[level-1]
	p := parent.n
	c := parent.idx

	useRight := (c < len(p.entries) && t.entries&1 == 1) || c == 0
	var (
		sepIdx          int
		sibOff          uint64
		leftOff, rigOff uint64
		left, right     *node
		sibling         *node
	)
	if useRight {
		sepIdx, sibOff = c, p.children[c+1]
	} else {
		sepIdx, sibOff = c-1, p.children[c-1]
	}
	sibling, err := t.readNode(sibOff)
	if err != nil {
		return err
	}
	if useRight {
		leftOff, rigOff, left, right = cur.off, sibOff, cur.n, sibling
	} else {
		leftOff, rigOff, left, right = sibOff, cur.off, sibling, cur.n
	}

	keys := len(left.entries) + len(right.entries)
	seq := concat(left.entries, [][]byte{p.entries[sepIdx]}, right.entries)
	var kids []uint64
	if !left.leaf {
		kids = concat(left.children, right.children)
	}

	if len(sibling.entries)+1 <= t.capacity(left.leaf) {
		nl := keys / 2
		left.entries, right.entries = concat(seq[:nl]), concat(seq[nl+1:])
		p.entries[sepIdx] = seq[nl]
		if kids != nil {
			left.children, right.children = concat(kids[:nl+1]), concat(kids[nl+1:])
		}
		t.stats.Balances++
		if err := t.stage(leftOff, left); err != nil {
			return err
		}
		if err := t.stage(rigOff, right); err != nil {
			return err
		}
		return t.stage(parent.off, p)
	}

	// 两页都满, 拆成三页
	nl := (keys + 1) / 3
	nr := nl
	if keys == 5 {
		nl--
	}
	newOff, err := t.allocPage()
	if err != nil {
		return err
	}
	var offs [3]uint64
	if useRight {
		offs = [3]uint64{cur.off, newOff, sibOff}
	} else {
		offs = [3]uint64{sibOff, cur.off, newOff}
	}
	parts := [3]*node{
		{leaf: left.leaf, entries: concat(seq[:nl])},
		{leaf: left.leaf, entries: concat(seq[nl+1 : nl+1+nr])},
		{leaf: left.leaf, entries: concat(seq[nl+2+nr:])},
	}
	if kids != nil {
		parts[0].children = concat(kids[:nl+1])
		parts[1].children = concat(kids[nl+1 : nl+nr+2])
		parts[2].children = concat(kids[nl+nr+2:])
	}
	for i := range parts {
		if err := t.stage(offs[i], parts[i]); err != nil {
			return err
		}
	}

	p.entries[sepIdx] = seq[nl]
	p.insertAt(sepIdx+1, seq[nl+1+nr], offs[2])
	p.children[sepIdx] = offs[0]
	p.children[sepIdx+1] = offs[1]
	t.stats.Balances++
	t.stats.Splits++
	return t.fixup(path, level-1, false)
}
