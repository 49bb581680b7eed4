package keysort

import (
	"container/heap"
	"io"

	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
)

type mergeSource struct {
	r    *runReader
	head []byte
}

// mergeQueue 以各顺串当前首条目为键的小顶堆
type mergeQueue struct {
	items []*mergeSource
	cmp   func(a, b []byte) int
}

func (q *mergeQueue) Len() int           { return len(q.items) }
func (q *mergeQueue) Less(i, j int) bool { return q.cmp(q.items[i].head, q.items[j].head) < 0 }
func (q *mergeQueue) Swap(i, j int)      { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *mergeQueue) Push(x any) {
	q.items = append(q.items, x.(*mergeSource))
}

func (q *mergeQueue) Pop() any {
	last := len(q.items) - 1
	item := q.items[last]
	q.items[last] = nil
	q.items = q.items[:last]
	return item
}

// mergeRuns 归并若干顺串, 按顺序把条目交给 emit
func (b *Builder) mergeRuns(runs []run, emit func([]byte) error) error {
	q := &mergeQueue{cmp: b.codec.Compare}
	for _, r := range runs {
		src := &mergeSource{r: b.runs.open(r)}
		head, err := src.r.next()
		if err == io.EOF {
			continue
		}
		if err != nil {
			return err
		}
		src.head = head
		q.items = append(q.items, src)
	}
	heap.Init(q)

	for n := 0; q.Len() > 0; n++ {
		if n%killCheckInterval == 0 && b.killed() {
			return errors.WithStack(basic.ErrInterrupted)
		}
		top := q.items[0]
		if err := emit(top.head); err != nil {
			return err
		}
		head, err := top.r.next()
		switch {
		case err == io.EOF:
			heap.Pop(q)
		case err != nil:
			return err
		default:
			top.head = head
			heap.Fix(q, 0)
		}
	}
	return nil
}
