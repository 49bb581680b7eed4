package keysort

import (
	"bufio"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Compression 顺串压缩方式
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
	CompressionLZ4    Compression = "lz4"
)

// ParseCompression 解析配置中的压缩方式, 空串表示不压缩
func ParseCompression(name string) (Compression, error) {
	c := Compression(strings.ToLower(strings.TrimSpace(name)))
	if c == "" {
		c = CompressionNone
	}
	return c, c.validate()
}

func (c Compression) validate() error {
	switch c {
	case "", CompressionNone, CompressionSnappy, CompressionLZ4:
		return nil
	}
	return errors.Errorf("unknown run compression %q", string(c))
}

// writer 包装一个顺串的输出, 返回的 finish 写出压缩尾部但不关闭 w
func (c Compression) writer(w io.Writer) (io.Writer, func() error) {
	switch c {
	case CompressionSnappy:
		sw := snappy.NewBufferedWriter(w)
		return sw, sw.Close
	case CompressionLZ4:
		lw := lz4.NewWriter(w)
		return lw, lw.Close
	}
	return w, func() error { return nil }
}

func (c Compression) reader(r io.Reader) *bufio.Reader {
	switch c {
	case CompressionSnappy:
		r = snappy.NewReader(r)
	case CompressionLZ4:
		r = lz4.NewReader(r)
	}
	return bufio.NewReaderSize(r, 32<<10)
}
