package manager

import (
	"context"
	"os"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-myisam/logger"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/btree"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/keycodec"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/keysort"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/pagestore"
	"github.com/zhukovaskychina/xmysql-myisam/util"
	"golang.org/x/sync/errgroup"
)

// RowStore 重建索引时使用的行存储
type RowStore interface {
	// Scan 按存储顺序回调每一行; 并行重建时会被多个协程同时调用
	Scan(ctx context.Context, fn func(ref, row []byte) error) error
	ReadRow(ref []byte) ([]byte, error)
	DeleteRow(ref []byte) error
}

// KeyMaker 从行数据生成第 nr 个索引的键
type KeyMaker func(nr int, row []byte) ([]byte, error)

type rebuild struct {
	kf    *KeyFile
	rows  RowStore
	keys  KeyMaker
	trees []*btree.Tree
	opts  keysort.Options
	stats []keysort.Stats
	dups  uint64
}

// Rebuild 扫描全部行重建所有索引
//
// 新索引写入 <path>.TMM, 全部成功后才替换原文件; 失败或 ctx 取消时原文件保持不变.
// 唯一索引中后出现的重复行被删除, 连同它在前面索引中已建立的条目.
func (kf *KeyFile) Rebuild(ctx context.Context, rows RowStore, keys KeyMaker) error {
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
	kf.bulk = nil

	opts, err := sortOptions(kf.cfg)
	if err != nil {
		return errors.Trace(err)
	}
	tmpPath := kf.path + ".TMM"
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return errors.Trace(err)
	}
	store, err := pagestore.Open(tmpPath, storeOptions(kf.cfg))
	if err != nil {
		return errors.Trace(err)
	}
	discard := func() {
		store.Close()
		os.Remove(tmpPath)
	}
	trees, err := openTrees(store, kf.defs)
	if err != nil {
		discard()
		return err
	}

	r := &rebuild{kf: kf, rows: rows, keys: keys, trees: trees, opts: opts, stats: make([]keysort.Stats, len(trees))}
	logger.Infof("%s: rebuilding %d indexes", kf.path, len(trees))
	if kf.cfg.RepairThreads > 1 && !kf.hasUnique() {
		err = r.parallel(ctx, kf.cfg.RepairThreads)
	} else {
		err = r.sequential(ctx)
	}
	if err != nil {
		discard()
		logger.Warnf("%s: rebuild failed, keeping the old index file: %v", kf.path, err)
		return errors.Annotatef(err, "rebuild %s", kf.path)
	}

	fs := fileState{store: store.State()}
	for nr, tree := range trees {
		fs.indexes = append(fs.indexes, indexState{def: kf.defs[nr], root: tree.Root(), entries: tree.Entries()})
	}
	if err := store.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Trace(err)
	}
	if err := kf.swap(tmpPath, fs); err != nil {
		kf.closed = true
		return err
	}
	kf.builds = r.stats
	kf.duplicates += r.dups
	logger.Infof("%s: rebuild done, %d duplicate rows removed", kf.path, r.dups)
	return nil
}

// swap 用重建好的文件替换原文件并重新打开
func (kf *KeyFile) swap(tmpPath string, fs fileState) error {
	if err := kf.store.Close(); err != nil {
		return errors.Trace(err)
	}
	if err := util.ReplaceFile(tmpPath, kf.path); err != nil {
		return errors.Annotatef(err, "replace %s", kf.path)
	}
	if err := writeState(kf.path, fs); err != nil {
		return err
	}
	store, err := pagestore.Open(kf.path, storeOptions(kf.cfg))
	if err != nil {
		return errors.Trace(err)
	}
	next, err := attach(kf.path, kf.cfg, store, fs)
	if err != nil {
		store.Close()
		return err
	}
	kf.store, kf.trees = next.store, next.trees
	return nil
}

func (kf *KeyFile) hasUnique() bool {
	for _, def := range kf.defs {
		if def.Unique {
			return true
		}
	}
	return false
}

// sequential 逐个索引重建, 唯一键冲突时删除后面的行
func (r *rebuild) sequential(ctx context.Context) error {
	for nr := range r.trees {
		nr := nr
		onDup := func(entry []byte) error { return r.dropRow(nr, entry) }
		if err := r.build(ctx, nr, onDup); err != nil {
			return err
		}
	}
	return nil
}

func (r *rebuild) parallel(ctx context.Context, threads int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for nr := range r.trees {
		nr := nr
		g.Go(func() error {
			return r.build(gctx, nr, nil)
		})
	}
	return g.Wait()
}

func (r *rebuild) build(ctx context.Context, nr int, onDup func([]byte) error) error {
	tree := r.trees[nr]
	b, err := keysort.NewBuilder(tree, r.opts)
	if err != nil {
		return errors.Annotatef(err, "index %d", nr)
	}
	b.OnDuplicate = onDup
	b.Killed = func() bool { return ctx.Err() != nil }

	err = r.rows.Scan(ctx, func(ref, row []byte) error {
		key, err := r.keys(nr, row)
		if err != nil {
			return err
		}
		return b.Add(keycodec.MakeEntry(key, ref))
	})
	if err != nil {
		b.Abort()
		return errors.Annotatef(err, "collect keys of index %d", nr)
	}
	if err := b.Finish(); err != nil {
		return errors.Annotatef(err, "build index %d", nr)
	}
	r.stats[nr] = b.Stats()
	logger.Debugf("index %d: %d keys, %d runs, %d merge passes, %d pages",
		nr, r.stats[nr].Keys, r.stats[nr].Runs, r.stats[nr].MergePasses, r.stats[nr].Pages)
	return nil
}

// dropRow 删除唯一键冲突的行以及它在已建好索引中的条目
func (r *rebuild) dropRow(nr int, entry []byte) error {
	ref := append([]byte(nil), r.trees[nr].Codec().RowRef(entry)...)
	row, err := r.rows.ReadRow(ref)
	if err != nil {
		return errors.Annotatef(err, "read duplicate row")
	}
	for j := 0; j < nr; j++ {
		key, err := r.keys(j, row)
		if err != nil {
			return err
		}
		if err := r.trees[j].Delete(keycodec.MakeEntry(key, ref)); err != nil {
			return errors.Annotatef(err, "remove duplicate row from index %d", j)
		}
	}
	if err := r.rows.DeleteRow(ref); err != nil {
		return errors.Annotatef(err, "delete duplicate row")
	}
	r.dups++
	logger.Warnf("index %d: duplicate key, deleted row %d", nr, keycodec.DecodeRowRef(ref))
	return nil
}
