package pagestore

import (
	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
)

// pageCache 页面读缓存, 写入时同步更新
type pageCache struct {
	c *ristretto.Cache[uint64, []byte]
}

func newPageCache(size int64) (*pageCache, error) {
	pages := size / basic.MinBlockLength
	if pages < 16 {
		pages = 16
	}
	c, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters:        pages * 10,
		MaxCost:            size,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create key cache")
	}
	return &pageCache{c: c}, nil
}

func (p *pageCache) get(offset uint64) ([]byte, bool) {
	page, ok := p.c.Get(offset)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(page))
	copy(out, page)
	return out, true
}

// set 等待写缓冲生效, 之后的读取不会看到旧页面
func (p *pageCache) set(offset uint64, page []byte) {
	cp := make([]byte, len(page))
	copy(cp, page)
	p.c.Set(offset, cp, int64(len(cp)))
	p.c.Wait()
}

func (p *pageCache) del(offset uint64) {
	p.c.Del(offset)
}

func (p *pageCache) clear() {
	p.c.Clear()
}

func (p *pageCache) close() {
	p.c.Close()
}
