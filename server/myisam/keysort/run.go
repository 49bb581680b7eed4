package keysort

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xmysql-myisam/server/myisam/basic"
	"github.com/zhukovaskychina/xmysql-myisam/util"
)

// run 临时文件中的一个有序顺串
type run struct {
	offset int64
	length int64
	count  uint64
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// runFile 顺串文件, 顺串依次追加, 每个顺串单独压缩
//
// 定长条目按原样存放, 变长条目前加2字节长度.
type runFile struct {
	f     *os.File
	width int
	comp  Compression
	cw    *countingWriter
	bw    *bufio.Writer
	runs  []run
}

func newRunFile(dir string, width int, comp Compression) (*runFile, error) {
	f, err := util.CreateTempFile(dir, "MYS")
	if err != nil {
		return nil, errors.Wrap(err, "create run file")
	}
	cw := &countingWriter{w: f}
	return &runFile{
		f:     f,
		width: width,
		comp:  comp,
		cw:    cw,
		bw:    bufio.NewWriterSize(cw, 64<<10),
	}, nil
}

type runWriter struct {
	w      io.Writer
	finish func() error
	width  int
	start  int64
	count  uint64
	head   [2]byte
}

func (w *runWriter) write(entry []byte) error {
	if w.width == 0 {
		util.StoreBE2(w.head[:], uint16(len(entry)))
		if _, err := w.w.Write(w.head[:]); err != nil {
			return errors.Wrap(err, "write run")
		}
	} else if len(entry) != w.width {
		return errors.Errorf("entry of %d bytes in a run of %d byte entries", len(entry), w.width)
	}
	if _, err := w.w.Write(entry); err != nil {
		return errors.Wrap(err, "write run")
	}
	w.count++
	return nil
}

func (rf *runFile) startRun() (*runWriter, error) {
	if err := rf.bw.Flush(); err != nil {
		return nil, errors.Wrap(err, "flush run file")
	}
	w, finish := rf.comp.writer(rf.bw)
	return &runWriter{w: w, finish: finish, width: rf.width, start: rf.cw.n}, nil
}

func (rf *runFile) endRun(w *runWriter) error {
	if err := w.finish(); err != nil {
		return errors.Wrap(err, "finish run")
	}
	if err := rf.bw.Flush(); err != nil {
		return errors.Wrap(err, "flush run file")
	}
	rf.runs = append(rf.runs, run{offset: w.start, length: rf.cw.n - w.start, count: w.count})
	return nil
}

// writeRun 写出一个已排序的顺串
func (rf *runFile) writeRun(entries [][]byte) error {
	w, err := rf.startRun()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.write(e); err != nil {
			return err
		}
	}
	return rf.endRun(w)
}

type runReader struct {
	r     *bufio.Reader
	width int
	left  uint64
	head  [2]byte
}

func (rf *runFile) open(r run) *runReader {
	section := io.NewSectionReader(rf.f, r.offset, r.length)
	return &runReader{r: rf.comp.reader(section), width: rf.width, left: r.count}
}

// next 读取下一个条目, 顺串结束返回 io.EOF
func (rr *runReader) next() ([]byte, error) {
	if rr.left == 0 {
		return nil, io.EOF
	}
	size := rr.width
	if size == 0 {
		if _, err := io.ReadFull(rr.r, rr.head[:]); err != nil {
			return nil, runError(err)
		}
		size = int(util.LoadBE2(rr.head[:]))
	}
	entry := make([]byte, size)
	if _, err := io.ReadFull(rr.r, entry); err != nil {
		return nil, runError(err)
	}
	rr.left--
	return entry, nil
}

func runError(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return basic.NewCorrupted(basic.NoPage, 0, "run ended early")
	}
	return errors.Wrap(err, "read run")
}

func (rf *runFile) close() {
	util.CloseAndRemove(rf.f)
}

// exceptionFile 超出排序槽长度的条目, 建树后逐条插入
type exceptionFile struct {
	f     *os.File
	cw    *countingWriter
	bw    *bufio.Writer
	count uint64
	head  [2]byte
}

func newExceptionFile(dir string) (*exceptionFile, error) {
	f, err := util.CreateTempFile(dir, "MYE")
	if err != nil {
		return nil, errors.Wrap(err, "create exception file")
	}
	cw := &countingWriter{w: f}
	return &exceptionFile{f: f, cw: cw, bw: bufio.NewWriter(cw)}, nil
}

func (ef *exceptionFile) write(entry []byte) error {
	util.StoreBE2(ef.head[:], uint16(len(entry)))
	if _, err := ef.bw.Write(ef.head[:]); err != nil {
		return errors.Wrap(err, "write exception")
	}
	if _, err := ef.bw.Write(entry); err != nil {
		return errors.Wrap(err, "write exception")
	}
	ef.count++
	return nil
}

func (ef *exceptionFile) each(fn func(entry []byte) error) error {
	if err := ef.bw.Flush(); err != nil {
		return errors.Wrap(err, "flush exceptions")
	}
	rr := &runReader{
		r:    bufio.NewReader(io.NewSectionReader(ef.f, 0, ef.cw.n)),
		left: ef.count,
	}
	for {
		entry, err := rr.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
}

func (ef *exceptionFile) close() {
	util.CloseAndRemove(ef.f)
}
