package btree

import (
	"bytes"
	"sort"

	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
)

// Delete 删除一个条目, 键和行引用都必须匹配
//
// 只有被删空的页才会与兄弟页合并或借用条目, 未满的页不做平衡.
func (t *Tree) Delete(entry []byte) error {
	path, ok, err := t.find(entry)
	if err != nil {
		return err
	}
	if !ok {
		return basic.ErrKeyNotFound
	}
	f := path[len(path)-1]
	if !bytes.Equal(f.n.entries[f.idx], entry) {
		return basic.ErrKeyNotFound
	}

	if f.n.leaf {
		f.n.removeAt(f.idx)
		if err := t.afterRemove(path); err != nil {
			return err
		}
		t.entries--
		return nil
	}

	// 内部页条目用左子树中的最大条目替换
	pred, err := t.rightmost(f.n.children[f.idx])
	if err != nil {
		return err
	}
	if err := t.removeLeafEntry(pred); err != nil {
		return err
	}
	path, ok, err = t.find(entry)
	if err != nil {
		return err
	}
	if !ok {
		return basic.NewCorrupted(t.root, t.blockLength, "entry lost while replacing it with its predecessor")
	}
	g := path[len(path)-1]
	g.n.entries[g.idx] = pred
	if err := t.fixup(path, len(path)-1, false); err != nil {
		return err
	}
	t.entries--
	return nil
}

// find 下降到包含 entry 的页, 栈顶 idx 为条目下标
func (t *Tree) find(entry []byte) ([]frame, bool, error) {
	cmp := t.entryCmp(entry)
	var path []frame
	for off := t.root; off != basic.NoPage; {
		n, err := t.readNode(off)
		if err != nil {
			return nil, false, err
		}
		i := sort.Search(len(n.entries), func(i int) bool { return cmp(n.entries[i]) >= 0 })
		path = append(path, frame{off: off, n: n, idx: i})
		if i < len(n.entries) && cmp(n.entries[i]) == 0 {
			return path, true, nil
		}
		if n.leaf {
			break
		}
		off = n.children[i]
	}
	return path, false, nil
}

func (t *Tree) rightmost(off uint64) ([]byte, error) {
	for {
		n, err := t.readNode(off)
		if err != nil {
			return nil, err
		}
		if n.leaf {
			if len(n.entries) == 0 {
				return nil, basic.NewCorrupted(off, t.blockLength, "empty leaf page")
			}
			return n.entries[len(n.entries)-1], nil
		}
		off = n.children[len(n.entries)]
	}
}

func (t *Tree) removeLeafEntry(entry []byte) error {
	path, ok, err := t.find(entry)
	if err != nil {
		return err
	}
	f := path[len(path)-1]
	if !ok || !f.n.leaf {
		return basic.NewCorrupted(f.off, t.blockLength, "predecessor entry not in a leaf")
	}
	f.n.removeAt(f.idx)
	return t.afterRemove(path)
}

func (t *Tree) afterRemove(path []frame) error {
	f := path[len(path)-1]
	if len(f.n.entries) > 0 {
		return t.writeNode(f.off, f.n)
	}
	return t.collapse(path, len(path)-1)
}

// collapse 处理被删空的页: 根页直接释放或下沉, 其他页与兄弟页经父页分隔条目合并,
// 合并后放不下时从兄弟页借一个条目
func (t *Tree) collapse(path []frame, level int) error {
	f := path[level]
	if level == 0 {
		if f.n.leaf {
			t.root = basic.NoPage
		} else {
			t.root = f.n.children[0]
		}
		t.stats.Collapses++
		return t.store.Free(f.off, t.blockLength)
	}

	parent := path[level-1]
	p := parent.n
	c := parent.idx

	if c < len(p.entries) {
		sibOff := p.children[c+1]
		sib, err := t.readNode(sibOff)
		if err != nil {
			return err
		}
		merged := &node{
			leaf:     sib.leaf,
			entries:  concat([][]byte{p.entries[c]}, sib.entries),
			children: concat(f.n.children, sib.children),
		}
		if !t.fits(merged) {
			f.n.entries = [][]byte{p.entries[c]}
			if !f.n.leaf {
				f.n.children = append(f.n.children, sib.children[0])
				sib.children = sib.children[1:]
			}
			p.entries[c] = sib.entries[0]
			sib.entries = sib.entries[1:]
			return t.rotated(path, level, f, sibOff, sib)
		}
		if err := t.writeNode(sibOff, merged); err != nil {
			return err
		}
		p.entries = concat(p.entries[:c], p.entries[c+1:])
		p.children = concat(p.children[:c], p.children[c+1:])
	} else {
		sibOff := p.children[c-1]
		sib, err := t.readNode(sibOff)
		if err != nil {
			return err
		}
		merged := &node{
			leaf:     sib.leaf,
			entries:  concat(sib.entries, [][]byte{p.entries[c-1]}),
			children: concat(sib.children, f.n.children),
		}
		if !t.fits(merged) {
			last := len(sib.entries) - 1
			f.n.entries = [][]byte{p.entries[c-1]}
			if !f.n.leaf {
				f.n.children = concat([]uint64{sib.children[last+1]}, f.n.children)
				sib.children = sib.children[:last+1]
			}
			p.entries[c-1] = sib.entries[last]
			sib.entries = sib.entries[:last]
			return t.rotated(path, level, f, sibOff, sib)
		}
		if err := t.writeNode(sibOff, merged); err != nil {
			return err
		}
		p.entries = concat(p.entries[:c-1], p.entries[c:])
		p.children = concat(p.children[:c], p.children[c+1:])
	}

	t.stats.Merges++
	if err := t.store.Free(f.off, t.blockLength); err != nil {
		return err
	}
	if len(p.entries) == 0 {
		return t.collapse(path, level-1)
	}
	return t.writeNode(parent.off, p)
}

// rotated 写回借用条目后的两页, 父页分隔条目变化后可能需要分裂
func (t *Tree) rotated(path []frame, level int, f frame, sibOff uint64, sib *node) error {
	t.stats.Rotations++
	if err := t.writeNode(f.off, f.n); err != nil {
		return err
	}
	if err := t.writeNode(sibOff, sib); err != nil {
		return err
	}
	return t.fixup(path, level-1, false)
}
