package manager

import (
	"os"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/keycodec"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/pagestore"
	"github.com/zhukovaskychina/xmysql-myisam/util"
)

/*
<path>.state 布局, 整数均为大端序:

	magic "MYIS" | version u16
	file length u64 | free heads 5 x u64
	index count u16
	per index:
	  name length u16 | name | kind u8 | key length u16 | ref length u8
	  flags u8 | block length u16 | root u64 | entries u64
	xxhash64 of all preceding bytes
*/

const (
	stateMagic   = "MYIS"
	stateVersion = 1

	flagUnique        = 1 << 0
	flagAppendMostly  = 1 << 1
	flagAutoIncrement = 1 << 2
)

type indexState struct {
	def     IndexDef
	root    uint64
	entries uint64
}

type fileState struct {
	store   pagestore.State
	indexes []indexState
}

func statePath(path string) string {
	return path + ".state"
}

func encodeState(fs fileState) []byte {
	buf := append([]byte(nil), stateMagic...)
	buf = util.WriteBE2(buf, stateVersion)
	buf = util.WriteBE8(buf, fs.store.FileLength)
	for _, head := range fs.store.FreeHeads {
		buf = util.WriteBE8(buf, head)
	}
	buf = util.WriteBE2(buf, uint16(len(fs.indexes)))
	for _, ix := range fs.indexes {
		def := ix.def
		buf = util.WriteBE2(buf, uint16(len(def.Name)))
		buf = append(buf, def.Name...)
		buf = append(buf, byte(def.Kind))
		buf = util.WriteBE2(buf, uint16(def.KeyLength))
		buf = append(buf, byte(def.RefLength))
		var flags byte
		if def.Unique {
			flags |= flagUnique
		}
		if def.AppendMostly {
			flags |= flagAppendMostly
		}
		if def.AutoIncrement {
			flags |= flagAutoIncrement
		}
		buf = append(buf, flags)
		buf = util.WriteBE2(buf, uint16(def.BlockLength))
		buf = util.WriteBE8(buf, ix.root)
		buf = util.WriteBE8(buf, ix.entries)
	}
	return util.WriteBE8(buf, util.HashCode(buf))
}

// stateReader 带越界检查的顺序读取
type stateReader struct {
	buf []byte
	pos int
	err error
}

func (r *stateReader) need(n int) bool {
	if r.err == nil && r.pos+n > len(r.buf) {
		r.err = basic.NewCorrupted(basic.NoPage, len(r.buf), "state truncated at byte %d", r.pos)
	}
	return r.err == nil
}

func (r *stateReader) u8() byte {
	if !r.need(1) {
		return 0
	}
	r.pos++
	return r.buf[r.pos-1]
}

func (r *stateReader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	var v uint16
	r.pos, v = util.ReadBE2(r.buf, r.pos)
	return v
}

func (r *stateReader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	var v uint64
	r.pos, v = util.ReadBE8(r.buf, r.pos)
	return v
}

func (r *stateReader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	var v []byte
	r.pos, v = util.ReadBytes(r.buf, r.pos, n)
	return v
}

func decodeState(buf []byte) (fileState, error) {
	var fs fileState
	if len(buf) < len(stateMagic)+2+8 || string(buf[:len(stateMagic)]) != stateMagic {
		return fs, basic.NewCorrupted(basic.NoPage, len(buf), "not a key file state")
	}
	body := buf[:len(buf)-8]
	if util.HashCode(body) != util.LoadBE8(buf[len(buf)-8:]) {
		return fs, basic.NewCorrupted(basic.NoPage, len(buf), "state checksum mismatch")
	}

	r := &stateReader{buf: body, pos: len(stateMagic)}
	if v := r.u16(); v != stateVersion {
		return fs, basic.NewCorrupted(basic.NoPage, len(buf), "unsupported state version %d", v)
	}
	fs.store.FileLength = r.u64()
	for i := range fs.store.FreeHeads {
		fs.store.FreeHeads[i] = r.u64()
	}
	count := int(r.u16())
	for i := 0; i < count && r.err == nil; i++ {
		var ix indexState
		ix.def.Name = string(r.bytes(int(r.u16())))
		ix.def.Kind = keycodec.Kind(r.u8())
		ix.def.KeyLength = int(r.u16())
		ix.def.RefLength = int(r.u8())
		flags := r.u8()
		ix.def.Unique = flags&flagUnique != 0
		ix.def.AppendMostly = flags&flagAppendMostly != 0
		ix.def.AutoIncrement = flags&flagAutoIncrement != 0
		ix.def.BlockLength = int(r.u16())
		ix.root = r.u64()
		ix.entries = r.u64()
		fs.indexes = append(fs.indexes, ix)
	}
	if r.err == nil && r.pos != len(body) {
		r.err = basic.NewCorrupted(basic.NoPage, len(buf), "%d trailing state bytes", len(body)-r.pos)
	}
	return fs, r.err
}

func readState(path string) (fileState, error) {
	buf, err := os.ReadFile(statePath(path))
	if err != nil {
		return fileState{}, errors.Annotatef(err, "read state of %s", path)
	}
	fs, err := decodeState(buf)
	return fs, errors.Annotatef(err, "state of %s", path)
}

// writeState 先写临时文件再改名, 避免留下半个状态文件
func writeState(path string, fs fileState) error {
	tmp := statePath(path) + ".tmp"
	if err := os.WriteFile(tmp, encodeState(fs), 0644); err != nil {
		return errors.Annotatef(err, "write state of %s", path)
	}
	return errors.Trace(util.ReplaceFile(tmp, statePath(path)))
}
