package pagestore

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-myisam/logger"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
	"github.com/zhukovaskychina/xmysql-myisam/util"
)

// Options 页存储配置
type Options struct {
	// MaxFileLength 索引文件最大长度, 0 表示不限制
	MaxFileLength uint64
	// CacheSize 读缓存容量(字节), 0 表示不启用
	CacheSize int64
}

// State 需要由外部元数据持久化的分配器状态
type State struct {
	FileLength uint64
	FreeHeads  [basic.BlockClasses]uint64
}

// Stats 分配器计数
type Stats struct {
	Allocated   uint64
	Extended    uint64
	Reused      uint64
	Freed       uint64
	Reads       uint64
	Writes      uint64
	CacheHits   uint64
	CacheMisses uint64
}

type counters struct {
	allocated, extended, reused, freed atomic.Uint64
	reads, writes                      atomic.Uint64
	cacheHits, cacheMisses             atomic.Uint64
}

// Store 单个索引文件上的页分配与读写
//
// 页面按块大小分类, 每类一条空闲链表, 链表通过页面前8字节串联.
// 每次修改页面都立即写回文件.
type Store struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	opts   Options
	length uint64
	free   [basic.BlockClasses]uint64
	cache  *pageCache
	stats  counters
}

// Open 打开或创建索引文件
func Open(path string, opts Options) (*Store, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open index file %s", path)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "stat index file %s", path)
	}

	s := &Store{path: path, file: file, opts: opts}
	s.length = alignUp(uint64(info.Size()))
	for i := range s.free {
		s.free[i] = basic.NoPage
	}
	if opts.CacheSize > 0 {
		if s.cache, err = newPageCache(opts.CacheSize); err != nil {
			file.Close()
			return nil, err
		}
	}
	return s, nil
}

func alignUp(n uint64) uint64 {
	return (n + basic.MinBlockLength - 1) / basic.MinBlockLength * basic.MinBlockLength
}

// Path 文件路径
func (s *Store) Path() string {
	return s.path
}

// Length 当前逻辑文件长度
func (s *Store) Length() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

func classOf(blockLength int) (int, error) {
	class := basic.BlockClass(blockLength)
	if class < 0 {
		return 0, errors.Errorf("invalid block length %d", blockLength)
	}
	return class, nil
}

// Alloc 分配一个页面: 优先取空闲链表头, 否则扩展文件
func (s *Store) Alloc(blockLength int) (uint64, error) {
	class, err := classOf(blockLength)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return 0, basic.ErrClosed
	}

	if head := s.free[class]; head != basic.NoPage {
		buf := make([]byte, 8)
		if err := s.readAt(buf, head); err != nil {
			return 0, err
		}
		next := util.LoadBE8(buf)
		if next != basic.NoPage && (next%basic.MinBlockLength != 0 || next+uint64(blockLength) > s.length) {
			logger.Warnf("free list %d: page %d links to invalid page %d", class, head, next)
			return 0, basic.NewCorrupted(head, 8, "free list link to %d", next)
		}
		s.free[class] = next
		s.stats.allocated.Add(1)
		s.stats.reused.Add(1)
		return head, nil
	}

	offset := s.length
	if s.opts.MaxFileLength > 0 && offset+uint64(blockLength) > s.opts.MaxFileLength {
		return 0, &basic.IndexFileFullError{Offset: offset, Max: s.opts.MaxFileLength}
	}
	s.length += uint64(blockLength)
	s.stats.allocated.Add(1)
	s.stats.extended.Add(1)
	logger.Debugf("index file %s extended to %d bytes", s.path, s.length)
	return offset, nil
}

// Free 将页面压入所属类别空闲链表的表头
func (s *Store) Free(offset uint64, blockLength int) error {
	class, err := classOf(blockLength)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return basic.ErrClosed
	}
	if err := s.checkRange(offset, blockLength); err != nil {
		return err
	}

	buf := util.WriteBE8(make([]byte, 0, 8), s.free[class])
	if s.cache != nil {
		s.cache.del(offset)
	}
	if _, err := s.file.WriteAt(buf, int64(offset)); err != nil {
		return errors.Wrapf(err, "free page %d", offset)
	}
	s.free[class] = offset
	s.stats.freed.Add(1)
	s.stats.writes.Add(1)
	return nil
}

func (s *Store) checkRange(offset uint64, length int) error {
	if offset%basic.MinBlockLength != 0 || offset+uint64(length) > s.length {
		return basic.NewCorrupted(offset, length, "page outside index file of %d bytes", s.length)
	}
	return nil
}

// 已分配但从未写入的页读为全零
func (s *Store) readAt(buf []byte, offset uint64) error {
	n, err := s.file.ReadAt(buf, int64(offset))
	if err == io.EOF {
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		err = nil
	}
	s.stats.reads.Add(1)
	return errors.Wrapf(err, "read page %d", offset)
}

// ReadPage 读取页面, 返回的缓冲区归调用者所有
func (s *Store) ReadPage(offset uint64, blockLength int) ([]byte, error) {
	s.mu.Lock()
	if s.file == nil {
		s.mu.Unlock()
		return nil, basic.ErrClosed
	}
	err := s.checkRange(offset, blockLength)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if page, ok := s.cache.get(offset); ok && len(page) == blockLength {
			s.stats.cacheHits.Add(1)
			return page, nil
		}
		s.stats.cacheMisses.Add(1)
	}

	page := make([]byte, blockLength)
	if err := s.readAt(page, offset); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.set(offset, page)
	}
	return page, nil
}

// WritePage 立即写回页面
func (s *Store) WritePage(offset uint64, page []byte) error {
	s.mu.Lock()
	if s.file == nil {
		s.mu.Unlock()
		return basic.ErrClosed
	}
	err := s.checkRange(offset, len(page))
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if basic.BlockClass(len(page)) < 0 {
		return errors.Errorf("invalid page length %d", len(page))
	}

	if s.cache != nil {
		s.cache.del(offset)
	}
	if _, err := s.file.WriteAt(page, int64(offset)); err != nil {
		return errors.Wrapf(err, "write page %d", offset)
	}
	s.stats.writes.Add(1)
	if s.cache != nil {
		s.cache.set(offset, page)
	}
	return nil
}

// State 返回分配器状态
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{FileLength: s.length, FreeHeads: s.free}
}

// Restore 从外部元数据恢复分配器状态
func (s *Store) Restore(state State) error {
	if state.FileLength%basic.MinBlockLength != 0 {
		return basic.NewCorrupted(basic.NoPage, 0, "file length %d not aligned", state.FileLength)
	}
	for class, head := range state.FreeHeads {
		if head == basic.NoPage {
			continue
		}
		if head%basic.MinBlockLength != 0 || head+uint64(basic.ClassBlockLength(class)) > state.FileLength {
			return basic.NewCorrupted(head, basic.ClassBlockLength(class), "free list %d head outside file", class)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.length = state.FileLength
	s.free = state.FreeHeads
	if s.cache != nil {
		s.cache.clear()
	}
	return nil
}

// Truncate 清空索引文件并重置全部空闲链表
func (s *Store) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return basic.ErrClosed
	}
	if err := s.file.Truncate(0); err != nil {
		return errors.Wrapf(err, "truncate %s", s.path)
	}
	s.length = 0
	for i := range s.free {
		s.free[i] = basic.NoPage
	}
	if s.cache != nil {
		s.cache.clear()
	}
	return nil
}

// CheckFreeList 遍历一条空闲链表, 返回链表长度
func (s *Store) CheckFreeList(blockLength int) (int, error) {
	class, err := classOf(blockLength)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := int(s.length / uint64(blockLength))
	buf := make([]byte, 8)
	count := 0
	for next := s.free[class]; next != basic.NoPage; count++ {
		if count > limit {
			return count, basic.NewCorrupted(next, blockLength, "free list %d has a cycle", class)
		}
		if err := s.checkRange(next, blockLength); err != nil {
			return count, err
		}
		if err := s.readAt(buf, next); err != nil {
			return count, err
		}
		next = util.LoadBE8(buf)
	}
	return count, nil
}

// Stats 返回计数快照
func (s *Store) Stats() Stats {
	return Stats{
		Allocated:   s.stats.allocated.Load(),
		Extended:    s.stats.extended.Load(),
		Reused:      s.stats.reused.Load(),
		Freed:       s.stats.freed.Load(),
		Reads:       s.stats.reads.Load(),
		Writes:      s.stats.writes.Load(),
		CacheHits:   s.stats.cacheHits.Load(),
		CacheMisses: s.stats.cacheMisses.Load(),
	}
}

// Sync 刷盘
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return basic.ErrClosed
	}
	return errors.Wrap(s.file.Sync(), "sync index file")
}

// Close 关闭文件
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Sync()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	if s.cache != nil {
		s.cache.close()
	}
	return errors.Wrap(err, "close index file")
}
