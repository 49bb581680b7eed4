package pagestore

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
)

func openStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "t1.MYI"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAllocAndFree(t *testing.T) {
	s := openStore(t, Options{})

	t.Run("扩展文件", func(t *testing.T) {
		a, err := s.Alloc(1024)
		require.NoError(t, err)
		b, err := s.Alloc(2048)
		require.NoError(t, err)
		c, err := s.Alloc(1024)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), a)
		assert.Equal(t, uint64(1024), b)
		assert.Equal(t, uint64(3072), c)
		assert.Equal(t, uint64(4096), s.Length())
	})

	t.Run("按类别复用", func(t *testing.T) {
		require.NoError(t, s.Free(0, 1024))
		require.NoError(t, s.Free(3072, 1024))
		require.NoError(t, s.Free(1024, 2048))

		n, err := s.CheckFreeList(1024)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		// 后进先出
		off, err := s.Alloc(1024)
		require.NoError(t, err)
		assert.Equal(t, uint64(3072), off)
		off, err = s.Alloc(1024)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), off)
		off, err = s.Alloc(2048)
		require.NoError(t, err)
		assert.Equal(t, uint64(1024), off)

		assert.Equal(t, uint64(4096), s.Length())
		st := s.Stats()
		assert.Equal(t, uint64(3), st.Reused)
		assert.Equal(t, uint64(3), st.Freed)
	})

	t.Run("非法块大小", func(t *testing.T) {
		_, err := s.Alloc(1500)
		assert.Error(t, err)
	})
}

func TestReadWrite(t *testing.T) {
	s := openStore(t, Options{})
	off, err := s.Alloc(1024)
	require.NoError(t, err)

	page, err := s.ReadPage(off, 1024)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 1024), page)

	page[0], page[1023] = 0x80, 0x7f
	require.NoError(t, s.WritePage(off, page))
	got, err := s.ReadPage(off, 1024)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(page, got))

	t.Run("越界读取", func(t *testing.T) {
		_, err := s.ReadPage(8192, 1024)
		assert.True(t, basic.IsCorrupted(err))
		_, err = s.ReadPage(100, 1024)
		assert.True(t, basic.IsCorrupted(err))
		var corrupted *basic.CorruptedError
		require.True(t, basic.As(err, &corrupted))
		assert.Equal(t, uint64(100), corrupted.Offset)
	})
}

func TestMaxFileLength(t *testing.T) {
	s := openStore(t, Options{MaxFileLength: 2048})
	_, err := s.Alloc(1024)
	require.NoError(t, err)
	_, err = s.Alloc(1024)
	require.NoError(t, err)
	_, err = s.Alloc(1024)
	require.True(t, basic.IsIndexFileFull(err))

	var full *basic.IndexFileFullError
	require.True(t, basic.As(err, &full))
	assert.Equal(t, uint64(2048), full.Offset)

	// 空闲页仍可分配
	require.NoError(t, s.Free(1024, 1024))
	off, err := s.Alloc(1024)
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), off)
}

func TestStateRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t2.MYI")
	s, err := Open(path, Options{})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := s.Alloc(1024)
		require.NoError(t, err)
	}
	require.NoError(t, s.Free(2048, 1024))
	state := s.State()
	require.NoError(t, s.Close())

	s, err = Open(path, Options{})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Restore(state))
	off, err := s.Alloc(1024)
	require.NoError(t, err)
	assert.Equal(t, uint64(2048), off)

	bad := state
	bad.FreeHeads[0] = 1 << 30
	assert.True(t, basic.IsCorrupted(s.Restore(bad)))
}

func TestTruncate(t *testing.T) {
	s := openStore(t, Options{})
	for i := 0; i < 3; i++ {
		_, err := s.Alloc(4096)
		require.NoError(t, err)
	}
	require.NoError(t, s.Free(4096, 4096))
	require.NoError(t, s.Truncate())
	assert.Equal(t, uint64(0), s.Length())
	n, err := s.CheckFreeList(4096)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCorruptFreeList(t *testing.T) {
	s := openStore(t, Options{})
	for i := 0; i < 2; i++ {
		_, err := s.Alloc(1024)
		require.NoError(t, err)
	}
	require.NoError(t, s.Free(0, 1024))
	require.NoError(t, s.Free(1024, 1024))

	// 让第二页指回自身, 形成环
	page := make([]byte, 1024)
	page[6], page[7] = 0x04, 0x00
	require.NoError(t, s.WritePage(1024, page))
	_, err := s.CheckFreeList(1024)
	assert.True(t, basic.IsCorrupted(err))
}

func TestPageCache(t *testing.T) {
	s := openStore(t, Options{CacheSize: 1 << 20})
	off, err := s.Alloc(1024)
	require.NoError(t, err)

	page := bytes.Repeat([]byte{1}, 1024)
	require.NoError(t, s.WritePage(off, page))
	for i := 0; i < 3; i++ {
		got, err := s.ReadPage(off, 1024)
		require.NoError(t, err)
		assert.Equal(t, page, got)
		// 调用者修改返回的缓冲区不影响缓存
		got[0] = 9
	}

	page2 := bytes.Repeat([]byte{2}, 1024)
	require.NoError(t, s.WritePage(off, page2))
	got, err := s.ReadPage(off, 1024)
	require.NoError(t, err)
	assert.Equal(t, page2, got)

	require.NoError(t, s.Free(off, 1024))
	got, err = s.ReadPage(off, 1024)
	require.NoError(t, err)
	assert.Equal(t, byte(0xff), got[0])
}
