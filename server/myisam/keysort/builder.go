package keysort

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-myisam/logger"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/btree"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/keycodec"
)

const (
	// DefaultFanIn 一趟合并的顺串数
	DefaultFanIn = 15
	// DefaultMergeLimit 顺串数达到该值时先做中间合并
	DefaultMergeLimit = 31
	// slotOverhead 排序缓冲中每个条目指针的开销
	slotOverhead = 8
	// killCheckInterval 合并时每处理这么多条目检查一次中止标志
	killCheckInterval = 1024
)

// Options 排序建树配置
type Options struct {
	SortBufferSize int64
	// SortKeys 直接指定内存中一次排序的条目数, 0 表示由 SortBufferSize 推算
	SortKeys int
	// SlotLength 排序槽长度, 超过的条目走例外文件; 0 表示条目最大长度
	SlotLength  int
	TmpDir      string
	Compression Compression
	MergeFanIn  int
	MergeLimit  int
}

// DefaultOptions 默认配置
func DefaultOptions() Options {
	return Options{
		SortBufferSize: 8 << 20,
		Compression:    CompressionNone,
		MergeFanIn:     DefaultFanIn,
		MergeLimit:     DefaultMergeLimit,
	}
}

// Stats 建树计数
type Stats struct {
	Keys        uint64
	Runs        int
	MergePasses int
	Duplicates  uint64
	Exceptions  uint64
	Pages       int
}

// Builder 由无序条目流建立一棵索引树
//
// Add 收集条目, 内存满时排序并写出一个顺串; Finish 做多路归并,
// 并把有序条目交给自底向上的装配器. 目标树在整个过程中归 Builder 独占.
type Builder struct {
	tree  *btree.Tree
	codec keycodec.Codec
	opts  Options

	// OnDuplicate 唯一索引出现重复键时调用, 参数为后出现的条目; 返回错误则中止建树
	OnDuplicate func(entry []byte) error
	// Killed 返回 true 时建树以 ErrInterrupted 中止
	Killed func() bool

	slotLength int
	// width 定长条目在顺串中的宽度, 变长时为0
	width      int
	slots      [][]byte
	capacity   int
	runs       *runFile
	exceptions *exceptionFile
	stats      Stats
	done       bool
}

// NewBuilder 为空树创建建树器
func NewBuilder(tree *btree.Tree, opts Options) (*Builder, error) {
	if tree.Root() != basic.NoPage {
		return nil, errors.Errorf("index %d: sort build needs an empty tree", tree.Options().Index)
	}
	if opts.MergeFanIn == 0 {
		opts.MergeFanIn = DefaultFanIn
	}
	if opts.MergeLimit == 0 {
		opts.MergeLimit = DefaultMergeLimit
	}
	if opts.MergeFanIn < 2 || opts.MergeLimit < opts.MergeFanIn {
		return nil, errors.Errorf("invalid merge fan-in %d / limit %d", opts.MergeFanIn, opts.MergeLimit)
	}
	if err := opts.Compression.validate(); err != nil {
		return nil, err
	}

	codec := tree.Codec()
	b := &Builder{tree: tree, codec: codec, opts: opts}
	b.slotLength = opts.SlotLength
	if b.slotLength == 0 {
		b.slotLength = codec.KeyLength() + codec.RefLength()
	}
	if w, fixed := codec.FixedWidth(); fixed {
		b.width = w
	}

	b.capacity = opts.SortKeys
	if b.capacity == 0 {
		b.capacity = int(opts.SortBufferSize / int64(b.slotLength+slotOverhead))
	}
	if b.capacity < 2 {
		return nil, errors.Wrapf(basic.ErrOutOfMemory, "sort buffer of %d bytes holds %d keys",
			opts.SortBufferSize, b.capacity)
	}
	b.slots = make([][]byte, 0, b.capacity)
	logger.Infof("index %d: searching for keys, allocating buffer for %d keys", tree.Options().Index, b.capacity)
	return b, nil
}

func (b *Builder) Stats() Stats { return b.stats }

func (b *Builder) killed() bool {
	return b.Killed != nil && b.Killed()
}

// Add 收集一个条目
func (b *Builder) Add(entry []byte) error {
	if b.done {
		return errors.New("builder already finished")
	}
	if b.killed() {
		return b.fail(errors.WithStack(basic.ErrInterrupted))
	}
	if err := b.codec.Check(entry); err != nil {
		return err
	}
	b.stats.Keys++
	if len(entry) > b.slotLength {
		return b.addException(entry)
	}
	if len(b.slots) == b.capacity {
		if err := b.writeRun(); err != nil {
			return b.fail(err)
		}
	}
	b.slots = append(b.slots, slices.Clone(entry))
	return nil
}

func (b *Builder) addException(entry []byte) error {
	if b.exceptions == nil {
		f, err := newExceptionFile(b.opts.TmpDir)
		if err != nil {
			return b.fail(err)
		}
		b.exceptions = f
	}
	b.stats.Exceptions++
	if err := b.exceptions.write(entry); err != nil {
		return b.fail(err)
	}
	return nil
}

func (b *Builder) sortSlots() {
	slices.SortFunc(b.slots, b.codec.Compare)
}

// writeRun 排序内存中的条目并追加为一个顺串
func (b *Builder) writeRun() error {
	if b.runs == nil {
		f, err := newRunFile(b.opts.TmpDir, b.width, b.opts.Compression)
		if err != nil {
			return err
		}
		b.runs = f
	}
	b.sortSlots()
	if err := b.runs.writeRun(b.slots); err != nil {
		return err
	}
	b.stats.Runs++
	b.slots = b.slots[:0]
	return nil
}

// Finish 归并所有顺串并建树, 成功后才设置树的根
func (b *Builder) Finish() error {
	if b.done {
		return errors.New("builder already finished")
	}
	if b.killed() {
		return b.fail(errors.WithStack(basic.ErrInterrupted))
	}

	asm, err := b.tree.NewAssembler()
	if err != nil {
		return b.fail(err)
	}
	out := &treeSink{b: b, asm: asm}

	if b.runs == nil {
		b.sortSlots()
		for _, e := range b.slots {
			if err := out.add(e); err != nil {
				return b.abort(asm, err)
			}
		}
	} else {
		if len(b.slots) > 0 {
			if err := b.writeRun(); err != nil {
				return b.abort(asm, err)
			}
		}
		b.slots = nil
		if err := b.merge(out); err != nil {
			return b.abort(asm, err)
		}
	}

	logger.Debugf("index %d: building tree from %d keys", b.tree.Options().Index, asm.Count())
	root, err := asm.Finish()
	if err != nil {
		return b.abort(asm, err)
	}
	b.tree.SetRoot(root, asm.Count())
	b.stats.Pages = asm.Pages()

	if err := b.insertExceptions(); err != nil {
		return b.fail(err)
	}
	b.cleanup()
	b.done = true
	return nil
}

// merge 顺串数达到上限时分组做中间合并, 最后一趟直接输出到装配器
func (b *Builder) merge(out *treeSink) error {
	for len(b.runs.runs) >= b.opts.MergeLimit {
		logger.Infof("index %d: merging %d runs", b.tree.Options().Index, len(b.runs.runs))
		next, err := newRunFile(b.opts.TmpDir, b.width, b.opts.Compression)
		if err != nil {
			return err
		}
		runs := b.runs.runs
		fanIn := b.opts.MergeFanIn
		i := 0
		for ; i <= len(runs)-fanIn*3/2; i += fanIn {
			if err := b.mergeToFile(runs[i:i+fanIn], next); err != nil {
				next.close()
				return err
			}
		}
		if err := b.mergeToFile(runs[i:], next); err != nil {
			next.close()
			return err
		}
		b.runs.close()
		b.runs = next
	}

	b.stats.MergePasses++
	if len(b.runs.runs) > 1 {
		logger.Infof("index %d: merging %d runs into the tree", b.tree.Options().Index, len(b.runs.runs))
	}
	return b.mergeRuns(b.runs.runs, out.add)
}

func (b *Builder) mergeToFile(runs []run, dst *runFile) error {
	b.stats.MergePasses++
	w, err := dst.startRun()
	if err != nil {
		return err
	}
	if err := b.mergeRuns(runs, w.write); err != nil {
		return err
	}
	return dst.endRun(w)
}

func (b *Builder) insertExceptions() error {
	if b.exceptions == nil {
		return nil
	}
	return b.exceptions.each(func(entry []byte) error {
		err := b.tree.Insert(entry)
		if basic.IsDuplicateKey(err) {
			return b.duplicate(entry)
		}
		return err
	})
}

func (b *Builder) duplicate(entry []byte) error {
	b.stats.Duplicates++
	if b.OnDuplicate == nil {
		return nil
	}
	return b.OnDuplicate(entry)
}

func (b *Builder) abort(asm *btree.Assembler, cause error) error {
	if err := asm.Abort(); err != nil {
		logger.Warnf("index %d: releasing pages of aborted build: %v", b.tree.Options().Index, err)
	}
	return b.fail(cause)
}

func (b *Builder) fail(err error) error {
	b.done = true
	b.cleanup()
	return err
}

func (b *Builder) cleanup() {
	if b.runs != nil {
		b.runs.close()
		b.runs = nil
	}
	if b.exceptions != nil {
		b.exceptions.close()
		b.exceptions = nil
	}
	b.slots = nil
}

// treeSink 把归并输出交给装配器, 唯一索引中与前一条目键相同的条目按重复处理
type treeSink struct {
	b    *Builder
	asm  *btree.Assembler
	last []byte
}

func (s *treeSink) add(entry []byte) error {
	codec := s.b.codec
	if s.b.tree.Options().Unique && s.last != nil &&
		codec.CompareKeys(codec.Key(s.last), codec.Key(entry)) == 0 {
		return s.b.duplicate(entry)
	}
	if err := s.asm.Add(entry); err != nil {
		return err
	}
	s.last = s.asm.Last()
	return nil
}

// Abort 放弃建树并删除临时文件, 树保持为空
func (b *Builder) Abort() {
	if !b.done {
		b.fail(nil)
	}
}
