package bulkinsert

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/btree"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/keycodec"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/pagestore"
)

func TestPlan(t *testing.T) {
	indexes := []Eligibility{
		{MaxEntryLength: 12, Unique: true, Active: true},
		{MaxEntryLength: 12, Active: true},
		{MaxEntryLength: 40, Active: true},
		{MaxEntryLength: 12, Active: false},
		{MaxEntryLength: 12, AutoIncrement: true, Active: true},
	}

	t.Run("行数太少", func(t *testing.T) {
		assert.Equal(t, []int64{0, 0, 0, 0, 0}, Plan(indexes, 8<<20, 50))
	})

	t.Run("内存不足", func(t *testing.T) {
		assert.Equal(t, []int64{0, 0, 0, 0, 0}, Plan(indexes, 2*MinTreeSize-1, 0))
	})

	t.Run("按预估行数", func(t *testing.T) {
		caps := Plan(indexes, 8<<20, 1000)
		assert.Equal(t, []int64{0, 12 * 1000, 40 * 1000, 0, 0}, caps)
	})

	t.Run("按缓存大小", func(t *testing.T) {
		caps := Plan(indexes, 8<<20, 0)
		elements := int64(8<<20) / ((12 + 24 + 40 + 24) * 16)
		assert.Equal(t, []int64{0, 12 * elements, 40 * elements, 0, 0}, caps)
	})
}

func newTree(t *testing.T) *btree.Tree {
	t.Helper()
	store, err := pagestore.Open(filepath.Join(t.TempDir(), "t1.MYI"), pagestore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	opts := btree.DefaultOptions()
	opts.MaxEntriesPerPage = 8
	tree, err := btree.New(store, keycodec.NewFixed(8, 4), opts)
	require.NoError(t, err)
	return tree
}

func entry(v int) []byte {
	return keycodec.MakeEntry(keycodec.EncodeInt64(int64(v)), keycodec.EncodeRowRef(uint64(v), 4))
}

func scan(t *testing.T, tree *btree.Tree) []int {
	var out []int
	c, err := tree.First()
	for err == nil {
		out = append(out, int(keycodec.DecodeInt64(c.Key())))
		err = c.Next()
	}
	require.True(t, basic.IsEndOfData(err))
	return out
}

func TestBuffer(t *testing.T) {
	tree := newTree(t)
	// 每个条目 12+24 字节, 上限可容纳 10 个
	buf := New(tree, 10*36)

	values := rand.New(rand.NewSource(5)).Perm(25)
	for _, v := range values[:10] {
		require.NoError(t, buf.Insert(entry(v)))
	}
	assert.Equal(t, 10, buf.Len())
	assert.Equal(t, uint64(0), tree.Entries())

	t.Run("重复条目", func(t *testing.T) {
		err := buf.Insert(entry(values[3]))
		dup, ok := basic.AsDuplicateKey(err)
		require.True(t, ok)
		assert.Equal(t, uint64(values[3]), keycodec.DecodeRowRef(dup.RowRef))
		assert.Equal(t, 10, buf.Len())
	})

	t.Run("超过上限自动写出", func(t *testing.T) {
		require.NoError(t, buf.Insert(entry(values[10])))
		assert.Equal(t, 0, buf.Len())
		assert.Equal(t, int64(0), buf.Size())
		assert.Equal(t, uint64(11), tree.Entries())
		assert.Equal(t, uint64(1), buf.Stats().Flushes)
	})

	t.Run("语句结束时写出", func(t *testing.T) {
		for _, v := range values[11:] {
			require.NoError(t, buf.Insert(entry(v)))
		}
		require.NoError(t, buf.Flush())
		var want []int
		for i := 0; i < 25; i++ {
			want = append(want, i)
		}
		assert.Equal(t, want, scan(t, tree))
		assert.Equal(t, uint64(25), buf.Stats().Written)
	})

	t.Run("树中已有的条目立即报冲突", func(t *testing.T) {
		err := buf.Insert(entry(7))
		dup, ok := basic.AsDuplicateKey(err)
		require.True(t, ok)
		assert.Equal(t, uint64(7), keycodec.DecodeRowRef(dup.RowRef))
		assert.Equal(t, 0, buf.Len())
	})

	t.Run("写入失败时丢弃失败条目并保留其后的条目", func(t *testing.T) {
		require.NoError(t, buf.Insert(entry(100)))
		require.NoError(t, buf.Insert(entry(300)))
		require.NoError(t, buf.Insert(entry(400)))
		// 缓冲之后才直接写入树
		require.NoError(t, tree.Insert(entry(300)))

		err := buf.Flush()
		assert.True(t, basic.IsDuplicateKey(err))
		assert.Equal(t, 1, buf.Len())
		assert.Equal(t, uint64(1), buf.Stats().Dropped)

		require.NoError(t, buf.Flush())
		assert.Equal(t, 0, buf.Len())
		got := scan(t, tree)
		assert.Equal(t, []int{100, 300, 400}, got[len(got)-3:])

		require.NoError(t, buf.Insert(entry(500)))
		buf.Reset()
		assert.Equal(t, 0, buf.Len())
	})
}
