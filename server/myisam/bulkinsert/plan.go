package bulkinsert

const (
	// MinRows 预估行数低于该值时不启用批量插入
	MinRows = 100
	// MinTreeSize 每个索引缓冲至少需要的内存
	MinTreeSize = 16384
	// elementOverhead 有序树中每个条目的额外开销
	elementOverhead = 24
)

// Eligibility 判断一个索引能否使用缓冲所需的信息
type Eligibility struct {
	MaxEntryLength int
	Unique         bool
	// AutoIncrement 索引承载自增列
	AutoIncrement bool
	Active        bool
}

// Plan 计算每个索引的缓冲上限(字节), 0 表示该索引直接写入
//
// rows 为预估行数, 0 表示未知. 唯一索引和自增索引不缓冲, 以免延后唯一性检查.
func Plan(indexes []Eligibility, cacheSize int64, rows uint64) []int64 {
	caps := make([]int64, len(indexes))
	if rows != 0 && rows < MinRows {
		return caps
	}

	var num, total int64
	for _, ix := range indexes {
		if ix.eligible() {
			num++
			total += int64(ix.MaxEntryLength) + elementOverhead
		}
	}
	if num == 0 || num*MinTreeSize > cacheSize {
		return caps
	}

	var elements int64
	if rows != 0 && int64(rows)*total < cacheSize {
		elements = int64(rows)
	} else {
		// 每次只使用缓存的十六分之一
		elements = cacheSize / (total * 16)
	}
	for i, ix := range indexes {
		if ix.eligible() {
			caps[i] = elements * int64(ix.MaxEntryLength)
		}
	}
	return caps
}

func (e Eligibility) eligible() bool {
	return e.Active && !e.Unique && !e.AutoIncrement
}
