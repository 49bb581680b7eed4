package manager

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/xmysql-myisam/server/conf"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/btree"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/keycodec"
	"github.com/zhukovaskychina/xmysql-myisam/util"
)

const refWidth = 6

// memRows 内存行存储, 行为 a(8字节) + b(8字节)
type memRows struct {
	mu   sync.Mutex
	rows map[uint64][]byte
}

func newMemRows(pairs [][2]int64) *memRows {
	m := &memRows{rows: map[uint64][]byte{}}
	for i, p := range pairs {
		row := append(keycodec.EncodeInt64(p[0]), keycodec.EncodeInt64(p[1])...)
		m.rows[uint64(i+1)] = row
	}
	return m
}

func (m *memRows) Scan(ctx context.Context, fn func(ref, row []byte) error) error {
	m.mu.Lock()
	refs := make([]uint64, 0, len(m.rows))
	for ref := range m.rows {
		refs = append(refs, ref)
	}
	m.mu.Unlock()
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	for _, ref := range refs {
		m.mu.Lock()
		row, ok := m.rows[ref]
		m.mu.Unlock()
		if !ok {
			continue
		}
		if err := fn(keycodec.EncodeRowRef(ref, refWidth), row); err != nil {
			return err
		}
	}
	return nil
}

func (m *memRows) ReadRow(ref []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[keycodec.DecodeRowRef(ref)]
	if !ok {
		return nil, basic.ErrKeyNotFound
	}
	return row, nil
}

func (m *memRows) DeleteRow(ref []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, keycodec.DecodeRowRef(ref))
	return nil
}

func (m *memRows) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func rowKeys(nr int, row []byte) ([]byte, error) {
	return row[nr*8 : nr*8+8], nil
}

func testCfg(t *testing.T) *conf.Cfg {
	cfg := conf.NewCfg()
	cfg.TmpDir = t.TempDir()
	cfg.SortKeys = 32
	return cfg
}

func twoIndexes(secondUnique bool) []IndexDef {
	return []IndexDef{
		{Name: "a", Kind: keycodec.KindFixed, KeyLength: 8, RefLength: refWidth, AppendMostly: true},
		{Name: "b", Kind: keycodec.KindFixed, KeyLength: 8, RefLength: refWidth, Unique: secondUnique},
	}
}

func scanIndex(t *testing.T, kf *KeyFile, nr int) []int64 {
	t.Helper()
	var out []int64
	c, err := kf.First(nr)
	for err == nil {
		out = append(out, keycodec.DecodeInt64(c.Key()))
		err = c.Next()
	}
	require.True(t, basic.IsEndOfData(err), "%v", err)
	return out
}

func writeRows(t *testing.T, kf *KeyFile, pairs [][2]int64) {
	for i, p := range pairs {
		keys := [][]byte{keycodec.EncodeInt64(p[0]), keycodec.EncodeInt64(p[1])}
		require.NoError(t, kf.WriteRow(keys, keycodec.EncodeRowRef(uint64(i+1), refWidth)))
	}
}

func TestCreateAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t1.MYI")
	kf, err := Create(path, twoIndexes(true), testCfg(t))
	require.NoError(t, err)

	var pairs [][2]int64
	for i := int64(0); i < 500; i++ {
		pairs = append(pairs, [2]int64{i % 37, 1000 - i})
	}
	writeRows(t, kf, pairs)
	require.NoError(t, kf.Close())
	assert.True(t, basic.Is(kf.Insert(0, keycodec.EncodeInt64(1), keycodec.EncodeRowRef(1, refWidth)), basic.ErrClosed))

	kf, err = Open(path, testCfg(t))
	require.NoError(t, err)
	defer kf.Close()

	assert.Equal(t, "b", kf.Defs()[1].Name)
	assert.True(t, kf.Defs()[1].Unique)
	assert.Len(t, scanIndex(t, kf, 0), 500)
	b := scanIndex(t, kf, 1)
	assert.Equal(t, int64(501), b[0])
	assert.Equal(t, int64(1000), b[len(b)-1])

	c, err := kf.Search(1, keycodec.EncodeInt64(700), btree.Exact)
	require.NoError(t, err)
	assert.Equal(t, uint64(301), keycodec.DecodeRowRef(c.RowRef()))

	_, err = kf.Search(1, keycodec.EncodeInt64(5), btree.Exact)
	assert.True(t, basic.IsNotFound(err))
	_, err = kf.Search(2, nil, btree.Exact)
	assert.Equal(t, basic.CodeWrongIndex, basic.Code(err))

	reports, err := kf.Check()
	require.NoError(t, err)
	assert.Equal(t, uint64(500), reports[0].Entries)
}

func TestWriteRowRollback(t *testing.T) {
	kf, err := Create(filepath.Join(t.TempDir(), "t1.MYI"), twoIndexes(true), testCfg(t))
	require.NoError(t, err)
	defer kf.Close()

	writeRows(t, kf, [][2]int64{{1, 10}, {2, 20}})
	err = kf.WriteRow([][]byte{keycodec.EncodeInt64(3), keycodec.EncodeInt64(20)}, keycodec.EncodeRowRef(3, refWidth))
	require.Error(t, err)

	dup, ok := basic.AsDuplicateKey(err)
	require.True(t, ok)
	assert.Equal(t, 1, dup.Index)
	assert.Equal(t, uint64(2), keycodec.DecodeRowRef(dup.RowRef))
	assert.Equal(t, basic.CodeDuplicateKey, basic.Code(err))

	assert.Equal(t, []int64{1, 2}, scanIndex(t, kf, 0))
	assert.Equal(t, []int64{10, 20}, scanIndex(t, kf, 1))
	assert.Equal(t, uint64(1), kf.Stats().RolledBack)

	t.Run("删除整行", func(t *testing.T) {
		require.NoError(t, kf.DeleteRow([][]byte{keycodec.EncodeInt64(1), keycodec.EncodeInt64(10)},
			keycodec.EncodeRowRef(1, refWidth)))
		assert.Equal(t, []int64{2}, scanIndex(t, kf, 0))
		err := kf.DeleteRow([][]byte{keycodec.EncodeInt64(1), keycodec.EncodeInt64(10)},
			keycodec.EncodeRowRef(1, refWidth))
		assert.True(t, basic.IsNotFound(err))
	})
}

func TestBulkInsert(t *testing.T) {
	kf, err := Create(filepath.Join(t.TempDir(), "t1.MYI"), twoIndexes(true), testCfg(t))
	require.NoError(t, err)
	defer kf.Close()

	require.NoError(t, kf.StartBulkInsert(1000))
	assert.Equal(t, []int{0}, kf.BulkBuffered())
	assert.Error(t, kf.StartBulkInsert(1000))

	var pairs [][2]int64
	for i := int64(0); i < 300; i++ {
		pairs = append(pairs, [2]int64{(i * 7919) % 300, i})
	}
	writeRows(t, kf, pairs)

	tree, err := kf.Index(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), tree.Entries())

	// 读取前写出缓冲
	c, err := kf.Search(0, keycodec.EncodeInt64(150), btree.Exact)
	require.NoError(t, err)
	assert.Equal(t, int64(150), keycodec.DecodeInt64(c.Key()))
	assert.Equal(t, uint64(300), tree.Entries())

	require.NoError(t, kf.EndBulkInsert())
	assert.Empty(t, kf.BulkBuffered())
	assert.Len(t, scanIndex(t, kf, 0), 300)

	t.Run("行数太少时不启用", func(t *testing.T) {
		require.NoError(t, kf.StartBulkInsert(10))
		assert.Empty(t, kf.BulkBuffered())
		require.NoError(t, kf.EndBulkInsert())
	})
}

func TestBulkInsertKeepsDuplicateDetection(t *testing.T) {
	for _, bulk := range []bool{false, true} {
		bulk := bulk
		name := "直接写入"
		if bulk {
			name = "批量缓冲"
		}
		t.Run(name, func(t *testing.T) {
			kf, err := Create(filepath.Join(t.TempDir(), "t1.MYI"), twoIndexes(false), testCfg(t))
			require.NoError(t, err)
			defer kf.Close()

			ref := keycodec.EncodeRowRef(1, refWidth)
			require.NoError(t, kf.WriteRow([][]byte{keycodec.EncodeInt64(1), keycodec.EncodeInt64(1)}, ref))
			if bulk {
				require.NoError(t, kf.StartBulkInsert(1000))
				require.Equal(t, []int{0, 1}, kf.BulkBuffered())
			}

			err = kf.WriteRow([][]byte{keycodec.EncodeInt64(2), keycodec.EncodeInt64(1)}, ref)
			dup, ok := basic.AsDuplicateKey(err)
			require.True(t, ok, "%v", err)
			assert.Equal(t, 1, dup.Index)
			assert.Equal(t, uint64(1), keycodec.DecodeRowRef(dup.RowRef))
			assert.Equal(t, uint64(1), kf.Stats().RolledBack)

			assert.Equal(t, []int64{1}, scanIndex(t, kf, 0))
			assert.Equal(t, []int64{1}, scanIndex(t, kf, 1))
			if bulk {
				require.NoError(t, kf.EndBulkInsert())
			}
			assert.Equal(t, []int64{1}, scanIndex(t, kf, 0))
		})
	}
}

func TestRebuild(t *testing.T) {
	var pairs [][2]int64
	for i := int64(0); i < 400; i++ {
		pairs = append(pairs, [2]int64{(i * 31) % 400, i % 100})
	}

	t.Run("与逐条插入结果一致", func(t *testing.T) {
		dir := t.TempDir()
		inserted, err := Create(filepath.Join(dir, "ins.MYI"), twoIndexes(false), testCfg(t))
		require.NoError(t, err)
		defer inserted.Close()
		writeRows(t, inserted, pairs)

		rebuilt, err := Create(filepath.Join(dir, "reb.MYI"), twoIndexes(false), testCfg(t))
		require.NoError(t, err)
		defer rebuilt.Close()
		require.NoError(t, rebuilt.Rebuild(context.Background(), newMemRows(pairs), rowKeys))

		for nr := 0; nr < 2; nr++ {
			assert.Equal(t, scanIndex(t, inserted, nr), scanIndex(t, rebuilt, nr))
		}
		r1, err := inserted.Check()
		require.NoError(t, err)
		r2, err := rebuilt.Check()
		require.NoError(t, err)
		assert.Equal(t, r1[1].KeyChecksum, r2[1].KeyChecksum)
		assert.Len(t, rebuilt.Stats().Builds, 2)
		assert.Greater(t, rebuilt.Stats().Builds[0].Runs, 1)

		_, err = os.Stat(filepath.Join(dir, "reb.MYI.TMM"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("唯一键冲突删除行", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "t1.MYI")
		kf, err := Create(path, twoIndexes(true), testCfg(t))
		require.NoError(t, err)
		rows := newMemRows(pairs)
		require.NoError(t, kf.Rebuild(context.Background(), rows, rowKeys))

		assert.Equal(t, 100, rows.Len())
		assert.Equal(t, uint64(300), kf.Stats().Duplicates)
		assert.Len(t, scanIndex(t, kf, 0), 100)
		assert.Len(t, scanIndex(t, kf, 1), 100)
		_, err = kf.Check()
		require.NoError(t, err)
		require.NoError(t, kf.Close())

		// 重新打开后仍然一致
		kf, err = Open(path, testCfg(t))
		require.NoError(t, err)
		defer kf.Close()
		reports, err := kf.Check()
		require.NoError(t, err)
		assert.Equal(t, uint64(100), reports[0].Entries)
	})

	t.Run("并行重建", func(t *testing.T) {
		cfg := testCfg(t)
		cfg.RepairThreads = 4
		cfg.SortRunCompression = "lz4"
		kf, err := Create(filepath.Join(t.TempDir(), "t1.MYI"), twoIndexes(false), cfg)
		require.NoError(t, err)
		defer kf.Close()
		require.NoError(t, kf.Rebuild(context.Background(), newMemRows(pairs), rowKeys))
		assert.Len(t, scanIndex(t, kf, 0), 400)
		assert.Len(t, scanIndex(t, kf, 1), 400)
	})

	t.Run("取消后保留原索引", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "t1.MYI")
		kf, err := Create(path, twoIndexes(false), testCfg(t))
		require.NoError(t, err)
		defer kf.Close()
		writeRows(t, kf, pairs[:10])

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err = kf.Rebuild(ctx, newMemRows(pairs), rowKeys)
		assert.True(t, basic.IsInterrupted(err))
		assert.Len(t, scanIndex(t, kf, 0), 10)
		_, err = os.Stat(path + ".TMM")
		assert.True(t, os.IsNotExist(err))
	})
}

func TestRebuildSlotLength(t *testing.T) {
	var pairs [][2]int64
	for i := int64(0); i < 200; i++ {
		pairs = append(pairs, [2]int64{(i * 37) % 200, i})
	}
	// 键长随值变化, 较长的键超出排序槽
	varKey := func(nr int, row []byte) ([]byte, error) {
		v := keycodec.DecodeInt64(row[:8])
		return []byte(strings.Repeat("k", int(v%12)) + strconv.FormatInt(v, 10)), nil
	}
	defs := []IndexDef{{Name: "v", Kind: keycodec.KindVarLen, KeyLength: 24, RefLength: refWidth}}

	cfg := testCfg(t)
	cfg.SortSlotLength = 14
	kf, err := Create(filepath.Join(t.TempDir(), "t1.MYI"), defs, cfg)
	require.NoError(t, err)
	defer kf.Close()
	require.NoError(t, kf.Rebuild(context.Background(), newMemRows(pairs), varKey))

	build := kf.Stats().Builds[0]
	assert.Equal(t, uint64(200), build.Keys)
	assert.Greater(t, build.Exceptions, uint64(0))
	assert.Less(t, build.Exceptions, uint64(200))

	var want []string
	for _, p := range pairs {
		key, _ := varKey(0, keycodec.EncodeInt64(p[0]))
		want = append(want, string(key))
	}
	sort.Strings(want)
	var got []string
	c, err := kf.First(0)
	for err == nil {
		got = append(got, string(c.Key()))
		err = c.Next()
	}
	require.True(t, basic.IsEndOfData(err), "%v", err)
	assert.Equal(t, want, got)
	_, err = kf.Check()
	require.NoError(t, err)
}

func TestTruncateAndDrop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t1.MYI")
	kf, err := Create(path, twoIndexes(false), testCfg(t))
	require.NoError(t, err)
	defer kf.Close()

	var pairs [][2]int64
	for i := int64(0); i < 200; i++ {
		pairs = append(pairs, [2]int64{i, i})
	}
	writeRows(t, kf, pairs)

	require.NoError(t, kf.Drop(1))
	assert.Empty(t, scanIndex(t, kf, 1))
	assert.Len(t, scanIndex(t, kf, 0), 200)
	assert.Greater(t, kf.Stats().Store.Freed, uint64(0))

	require.NoError(t, kf.Truncate())
	assert.Empty(t, scanIndex(t, kf, 0))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())

	writeRows(t, kf, pairs[:5])
	assert.Len(t, scanIndex(t, kf, 1), 5)
}

func TestStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t1.MYI")
	kf, err := Create(path, twoIndexes(true), testCfg(t))
	require.NoError(t, err)
	writeRows(t, kf, [][2]int64{{1, 1}, {2, 2}})
	require.NoError(t, kf.Close())

	t.Run("编码往返", func(t *testing.T) {
		buf, err := os.ReadFile(statePath(path))
		require.NoError(t, err)
		fs, err := decodeState(buf)
		require.NoError(t, err)
		assert.Equal(t, encodeState(fs), buf)
		assert.Equal(t, uint64(2), fs.indexes[1].entries)
		assert.Equal(t, 1024, fs.indexes[0].def.BlockLength)
	})

	t.Run("校验和不符", func(t *testing.T) {
		buf, err := os.ReadFile(statePath(path))
		require.NoError(t, err)
		buf[10] ^= 0xff
		require.NoError(t, os.WriteFile(statePath(path), buf, 0644))
		_, err = Open(path, testCfg(t))
		assert.True(t, basic.IsCorrupted(err))
	})

	t.Run("状态文件缺失", func(t *testing.T) {
		require.NoError(t, Remove(path))
		exists, err := util.PathExists(path)
		require.NoError(t, err)
		assert.False(t, exists)
		_, err = Open(path, testCfg(t))
		assert.Error(t, err)
	})
}
