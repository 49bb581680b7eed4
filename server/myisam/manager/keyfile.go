package manager

import (
	"os"
	"sync"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-myisam/logger"
	"github.com/zhukovaskychina/xmysql-myisam/server/conf"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/btree"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/bulkinsert"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/keycodec"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/keysort"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/pagestore"
)

// IndexDef 索引定义
type IndexDef struct {
	Name      string
	Kind      keycodec.Kind
	KeyLength int
	RefLength int
	Unique    bool
	// BlockLength 页大小, 0 表示使用 key_block_size
	BlockLength   int
	AppendMostly  bool
	AutoIncrement bool
}

func (d IndexDef) codec() (keycodec.Codec, error) {
	return keycodec.New(d.Kind, d.KeyLength, d.RefLength)
}

// Stats 键文件统计
type Stats struct {
	Store  pagestore.Stats
	Trees  []btree.Stats
	Builds []keysort.Stats
	// Duplicates 重建时因唯一键冲突删除的行数
	Duplicates uint64
	// RolledBack WriteRow 因唯一键冲突撤销的条目数
	RolledBack uint64
}

// KeyFile 一个索引文件及其上的全部索引树
//
// 同一 KeyFile 上的操作由内部互斥锁串行化; 返回的游标在下一次修改后失效.
type KeyFile struct {
	mu    sync.Mutex
	path  string
	cfg   *conf.Cfg
	store *pagestore.Store
	defs  []IndexDef
	trees []*btree.Tree
	bulk  []*bulkinsert.Buffer

	builds     []keysort.Stats
	duplicates uint64
	rolledBack uint64
	closed     bool
}

func storeOptions(cfg *conf.Cfg) pagestore.Options {
	return pagestore.Options{
		MaxFileLength: uint64(cfg.MaxKeyFileLength),
		CacheSize:     cfg.KeyCacheSize,
	}
}

func treeOptions(nr int, def IndexDef) btree.Options {
	opts := btree.DefaultOptions()
	opts.Index = nr
	opts.BlockLength = def.BlockLength
	opts.Unique = def.Unique
	opts.AppendMostly = def.AppendMostly
	return opts
}

func sortOptions(cfg *conf.Cfg) (keysort.Options, error) {
	comp, err := keysort.ParseCompression(cfg.SortRunCompression)
	if err != nil {
		return keysort.Options{}, err
	}
	return keysort.Options{
		SortBufferSize: int64(cfg.SortBufferSize),
		SortKeys:       cfg.SortKeys,
		SlotLength:     cfg.SortSlotLength,
		TmpDir:         cfg.TmpDir,
		Compression:    comp,
		MergeFanIn:     cfg.MergeFanIn,
		MergeLimit:     cfg.MergeLimit,
	}, nil
}

func openTrees(store *pagestore.Store, defs []IndexDef) ([]*btree.Tree, error) {
	trees := make([]*btree.Tree, len(defs))
	for nr, def := range defs {
		codec, err := def.codec()
		if err != nil {
			return nil, errors.Annotatef(err, "index %d (%s)", nr, def.Name)
		}
		trees[nr], err = btree.New(store, codec, treeOptions(nr, def))
		if err != nil {
			return nil, errors.Annotatef(err, "index %d (%s)", nr, def.Name)
		}
	}
	return trees, nil
}

// Create 创建键文件, 已存在的同名文件被清空
func Create(path string, defs []IndexDef, cfg *conf.Cfg) (*KeyFile, error) {
	if cfg == nil {
		cfg = conf.NewCfg()
	}
	if len(defs) == 0 {
		return nil, errors.Annotatef(basic.ErrInvalidIndex, "create %s without indexes", path)
	}
	defs = append([]IndexDef(nil), defs...)
	for nr := range defs {
		if defs[nr].BlockLength == 0 {
			defs[nr].BlockLength = cfg.KeyBlockSize
		}
	}

	store, err := pagestore.Open(path, storeOptions(cfg))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := store.Truncate(); err != nil {
		store.Close()
		return nil, errors.Trace(err)
	}
	trees, err := openTrees(store, defs)
	if err != nil {
		store.Close()
		return nil, err
	}
	kf := &KeyFile{path: path, cfg: cfg, store: store, defs: defs, trees: trees}
	if err := kf.saveState(); err != nil {
		store.Close()
		return nil, err
	}
	logger.Infof("created key file %s with %d indexes", path, len(defs))
	return kf, nil
}

// Open 按状态文件中的定义打开键文件
func Open(path string, cfg *conf.Cfg) (*KeyFile, error) {
	if cfg == nil {
		cfg = conf.NewCfg()
	}
	fs, err := readState(path)
	if err != nil {
		return nil, err
	}
	store, err := pagestore.Open(path, storeOptions(cfg))
	if err != nil {
		return nil, errors.Trace(err)
	}
	kf, err := attach(path, cfg, store, fs)
	if err != nil {
		store.Close()
		return nil, err
	}
	return kf, nil
}

func attach(path string, cfg *conf.Cfg, store *pagestore.Store, fs fileState) (*KeyFile, error) {
	if err := store.Restore(fs.store); err != nil {
		return nil, errors.Annotatef(err, "restore allocator of %s", path)
	}
	defs := make([]IndexDef, len(fs.indexes))
	for nr, ix := range fs.indexes {
		defs[nr] = ix.def
	}
	trees, err := openTrees(store, defs)
	if err != nil {
		return nil, err
	}
	for nr, ix := range fs.indexes {
		trees[nr].SetRoot(ix.root, ix.entries)
	}
	return &KeyFile{path: path, cfg: cfg, store: store, defs: defs, trees: trees}, nil
}

func (kf *KeyFile) state() fileState {
	fs := fileState{store: kf.store.State()}
	for nr, tree := range kf.trees {
		fs.indexes = append(fs.indexes, indexState{def: kf.defs[nr], root: tree.Root(), entries: tree.Entries()})
	}
	return fs
}

func (kf *KeyFile) saveState() error {
	return writeState(kf.path, kf.state())
}

// Path 索引文件路径
func (kf *KeyFile) Path() string { return kf.path }

// Defs 索引定义
func (kf *KeyFile) Defs() []IndexDef {
	return append([]IndexDef(nil), kf.defs...)
}

func (kf *KeyFile) tree(nr int) (*btree.Tree, error) {
	if kf.closed {
		return nil, basic.ErrClosed
	}
	if nr < 0 || nr >= len(kf.trees) {
		return nil, errors.Annotatef(basic.ErrInvalidIndex, "index %d of %d", nr, len(kf.trees))
	}
	return kf.trees[nr], nil
}

// Index 返回索引树
func (kf *KeyFile) Index(nr int) (*btree.Tree, error) {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	return kf.tree(nr)
}

// flushBulk 读取或删除前先写出该索引的批量插入缓冲
func (kf *KeyFile) flushBulk(nr int) error {
	if kf.bulk == nil || kf.bulk[nr] == nil {
		return nil
	}
	return errors.Trace(kf.bulk[nr].Flush())
}

// Search 按模式查找键
func (kf *KeyFile) Search(nr int, key []byte, mode btree.SearchMode) (*btree.Cursor, error) {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	tree, err := kf.tree(nr)
	if err != nil {
		return nil, err
	}
	if err := kf.flushBulk(nr); err != nil {
		return nil, err
	}
	c, err := tree.Search(key, mode)
	return c, errors.Trace(err)
}

// First 索引的第一个条目
func (kf *KeyFile) First(nr int) (*btree.Cursor, error) {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	tree, err := kf.tree(nr)
	if err != nil {
		return nil, err
	}
	if err := kf.flushBulk(nr); err != nil {
		return nil, err
	}
	c, err := tree.First()
	return c, errors.Trace(err)
}

// Last 索引的最后一个条目
func (kf *KeyFile) Last(nr int) (*btree.Cursor, error) {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	tree, err := kf.tree(nr)
	if err != nil {
		return nil, err
	}
	if err := kf.flushBulk(nr); err != nil {
		return nil, err
	}
	c, err := tree.Last()
	return c, errors.Trace(err)
}

// Insert 向一个索引插入键
func (kf *KeyFile) Insert(nr int, key, ref []byte) error {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	return kf.insert(nr, key, ref)
}

func (kf *KeyFile) insert(nr int, key, ref []byte) error {
	tree, err := kf.tree(nr)
	if err != nil {
		return err
	}
	entry := keycodec.MakeEntry(key, ref)
	if kf.bulk != nil && kf.bulk[nr] != nil {
		return errors.Trace(kf.bulk[nr].Insert(entry))
	}
	return errors.Trace(tree.Insert(entry))
}

// Delete 从一个索引删除键
func (kf *KeyFile) Delete(nr int, key, ref []byte) error {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	return kf.delete(nr, key, ref)
}

func (kf *KeyFile) delete(nr int, key, ref []byte) error {
	tree, err := kf.tree(nr)
	if err != nil {
		return err
	}
	if err := kf.flushBulk(nr); err != nil {
		return err
	}
	return errors.Trace(tree.Delete(keycodec.MakeEntry(key, ref)))
}

// WriteRow 把一行的键依次写入所有索引
//
// 某个索引报唯一键冲突时, 已写入前面索引的条目被逐个删除, 然后返回冲突错误.
func (kf *KeyFile) WriteRow(keys [][]byte, ref []byte) error {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	if len(keys) != len(kf.trees) {
		return errors.Annotatef(basic.ErrInvalidIndex, "%d keys for %d indexes", len(keys), len(kf.trees))
	}
	for nr, key := range keys {
		err := kf.insert(nr, key, ref)
		if err == nil {
			continue
		}
		if basic.IsDuplicateKey(err) {
			for j := nr - 1; j >= 0; j-- {
				if rerr := kf.delete(j, keys[j], ref); rerr != nil {
					logger.Errorf("%s: rollback of index %d failed: %v", kf.path, j, rerr)
					return errors.Annotatef(rerr, "rollback index %d after duplicate in index %d", j, nr)
				}
				kf.rolledBack++
			}
		}
		return errors.Annotatef(err, "write row to index %d", nr)
	}
	return nil
}

// DeleteRow 从所有索引删除一行的键
func (kf *KeyFile) DeleteRow(keys [][]byte, ref []byte) error {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	if len(keys) != len(kf.trees) {
		return errors.Annotatef(basic.ErrInvalidIndex, "%d keys for %d indexes", len(keys), len(kf.trees))
	}
	for nr, key := range keys {
		if err := kf.delete(nr, key, ref); err != nil {
			return errors.Annotatef(err, "delete row from index %d", nr)
		}
	}
	return nil
}

// StartBulkInsert 为预计写入 rows 行的语句启用批量插入缓冲, rows 为0表示未知
func (kf *KeyFile) StartBulkInsert(rows uint64) error {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	if kf.closed {
		return basic.ErrClosed
	}
	if kf.bulk != nil {
		return errors.New("bulk insert already started")
	}
	elig := make([]bulkinsert.Eligibility, len(kf.trees))
	for nr, tree := range kf.trees {
		elig[nr] = bulkinsert.Eligibility{
			MaxEntryLength: tree.Codec().MaxEntryLength(),
			Unique:         kf.defs[nr].Unique,
			AutoIncrement:  kf.defs[nr].AutoIncrement,
			Active:         true,
		}
	}
	caps := bulkinsert.Plan(elig, int64(kf.cfg.BulkInsertBufferSize), rows)
	buffers := make([]*bulkinsert.Buffer, len(kf.trees))
	used := 0
	for nr, limit := range caps {
		if limit > 0 {
			buffers[nr] = bulkinsert.New(kf.trees[nr], limit)
			used++
		}
	}
	if used > 0 {
		kf.bulk = buffers
	}
	logger.Debugf("%s: bulk insert buffers for %d of %d indexes", kf.path, used, len(kf.trees))
	return nil
}

// BulkBuffered 返回启用了批量插入缓冲的索引编号
func (kf *KeyFile) BulkBuffered() []int {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	var out []int
	for nr, b := range kf.bulk {
		if b != nil {
			out = append(out, nr)
		}
	}
	return out
}

// EndBulkInsert 写出并释放全部批量插入缓冲
func (kf *KeyFile) EndBulkInsert() error {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	return kf.endBulk()
}

func (kf *KeyFile) endBulk() error {
	var first error
	for nr := range kf.bulk {
		if err := kf.flushBulk(nr); err != nil && first == nil {
			first = errors.Annotatef(err, "flush bulk insert of index %d", nr)
		}
	}
	kf.bulk = nil
	return first
}

// Drop 释放一个索引的全部页面, 索引定义保留
func (kf *KeyFile) Drop(nr int) error {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	tree, err := kf.tree(nr)
	if err != nil {
		return err
	}
	if kf.bulk != nil && kf.bulk[nr] != nil {
		kf.bulk[nr].Reset()
	}
	if err := tree.Free(); err != nil {
		return errors.Annotatef(err, "drop index %d", nr)
	}
	return kf.saveState()
}

// Truncate 清空索引文件, 所有索引变为空
func (kf *KeyFile) Truncate() error {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	if kf.closed {
		return basic.ErrClosed
	}
	for _, b := range kf.bulk {
		if b != nil {
			b.Reset()
		}
	}
	if err := kf.store.Truncate(); err != nil {
		return errors.Trace(err)
	}
	for _, tree := range kf.trees {
		tree.SetRoot(basic.NoPage, 0)
	}
	return kf.saveState()
}

// Check 检查所有索引树和用到的空闲链表
func (kf *KeyFile) Check() ([]btree.CheckReport, error) {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	if kf.closed {
		return nil, basic.ErrClosed
	}
	reports := make([]btree.CheckReport, len(kf.trees))
	seen := map[int]bool{}
	for nr, tree := range kf.trees {
		if err := kf.flushBulk(nr); err != nil {
			return reports, err
		}
		report, err := tree.Check()
		reports[nr] = report
		if err != nil {
			return reports, errors.Annotatef(err, "check index %d", nr)
		}
		if seen[tree.BlockLength()] {
			continue
		}
		seen[tree.BlockLength()] = true
		if _, err := kf.store.CheckFreeList(tree.BlockLength()); err != nil {
			return reports, errors.Annotatef(err, "check free list of %d byte blocks", tree.BlockLength())
		}
	}
	return reports, nil
}

// Stats 返回统计快照
func (kf *KeyFile) Stats() Stats {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	st := Stats{
		Store:      kf.store.Stats(),
		Builds:     append([]keysort.Stats(nil), kf.builds...),
		Duplicates: kf.duplicates,
		RolledBack: kf.rolledBack,
	}
	for _, tree := range kf.trees {
		st.Trees = append(st.Trees, tree.Stats())
	}
	return st
}

// Sync 写出缓冲和状态文件并刷盘
func (kf *KeyFile) Sync() error {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	if kf.closed {
		return basic.ErrClosed
	}
	for nr := range kf.bulk {
		if err := kf.flushBulk(nr); err != nil {
			return err
		}
	}
	if err := kf.saveState(); err != nil {
		return err
	}
	return errors.Trace(kf.store.Sync())
}

// Close 写出缓冲和状态文件后关闭
func (kf *KeyFile) Close() error {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	if kf.closed {
		return nil
	}
	err := kf.endBulk()
	if serr := kf.saveState(); err == nil {
		err = serr
	}
	if cerr := kf.store.Close(); err == nil {
		err = errors.Trace(cerr)
	}
	kf.closed = true
	return err
}

// Remove 删除键文件及其状态文件
func Remove(path string) error {
	for _, p := range []string{path, statePath(path)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Trace(err)
		}
	}
	return nil
}
