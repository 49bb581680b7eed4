package btree

import (
	"github.com/zhukovaskychina/xmysql-myisam/logger"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
	"github.com/zhukovaskychina/xmysql-myisam/util"
)

// CheckReport 一致性检查结果
type CheckReport struct {
	Entries   uint64
	Pages     int
	LeafPages int
	Height    int
	UsedBytes uint64
	// KeyChecksum 按顺序对所有条目的校验值, 与页面布局无关
	KeyChecksum uint64
}

// FillPercent 页面平均填充率
func (r CheckReport) FillPercent(blockLength int) float64 {
	if r.Pages == 0 {
		return 0
	}
	return float64(r.UsedBytes) * 100 / float64(uint64(r.Pages)*uint64(blockLength))
}

type checker struct {
	t       *Tree
	report  CheckReport
	visited map[uint64]struct{}
	sum     *util.Checksum
	leaf    int
}

// Check 遍历整棵树, 检查条目顺序、分隔条目范围、叶子深度和条目数
func (t *Tree) Check() (CheckReport, error) {
	c := &checker{
		t:       t,
		visited: make(map[uint64]struct{}),
		sum:     util.NewChecksum(),
		leaf:    -1,
	}
	if t.root != basic.NoPage {
		if err := c.walk(t.root, 1, nil, nil); err != nil {
			logger.Errorf("index %d: check failed: %v", t.opts.Index, err)
			return c.report, err
		}
	}
	if c.leaf > 0 {
		c.report.Height = c.leaf
	}
	c.report.KeyChecksum = c.sum.Sum()
	if c.report.Entries != t.entries {
		return c.report, basic.NewCorrupted(basic.NoPage, 0,
			"index %d holds %d entries, expected %d", t.opts.Index, c.report.Entries, t.entries)
	}
	return c.report, nil
}

// walk lo 和 hi 为开区间边界, nil 表示无界
func (c *checker) walk(off uint64, depth int, lo, hi []byte) error {
	t := c.t
	if off%basic.MinBlockLength != 0 {
		return basic.NewCorrupted(off, t.blockLength, "misaligned page")
	}
	if _, ok := c.visited[off]; ok {
		return basic.NewCorrupted(off, t.blockLength, "page referenced twice")
	}
	c.visited[off] = struct{}{}

	n, err := t.readNode(off)
	if err != nil {
		return err
	}
	if len(n.entries) == 0 {
		return basic.NewCorrupted(off, t.blockLength, "empty page")
	}
	c.report.Pages++
	c.report.UsedBytes += uint64(t.size(n))

	for i, e := range n.entries {
		if err := t.codec.Check(e); err != nil {
			return basic.NewCorrupted(off, t.blockLength, "entry %d: %v", i, err)
		}
		if i > 0 && t.compareEntries(n.entries[i-1], e) >= 0 {
			return basic.NewCorrupted(off, t.blockLength, "entry %d out of order", i)
		}
	}
	if lo != nil && t.compareEntries(lo, n.entries[0]) >= 0 {
		return basic.NewCorrupted(off, t.blockLength, "first entry not above parent separator")
	}
	if hi != nil && t.compareEntries(n.entries[len(n.entries)-1], hi) >= 0 {
		return basic.NewCorrupted(off, t.blockLength, "last entry not below parent separator")
	}

	if n.leaf {
		c.report.LeafPages++
		if c.leaf < 0 {
			c.leaf = depth
		} else if c.leaf != depth {
			return basic.NewCorrupted(off, t.blockLength, "leaf at depth %d, expected %d", depth, c.leaf)
		}
		for _, e := range n.entries {
			c.sum.Add(e)
			c.report.Entries++
		}
		return nil
	}

	// 中序遍历: 子树, 条目, 子树 ...
	for i, child := range n.children {
		left, right := lo, hi
		if i > 0 {
			left = n.entries[i-1]
		}
		if i < len(n.entries) {
			right = n.entries[i]
		}
		if err := c.walk(child, depth+1, left, right); err != nil {
			return err
		}
		if i < len(n.entries) {
			c.sum.Add(n.entries[i])
			c.report.Entries++
		}
	}
	return nil
}
