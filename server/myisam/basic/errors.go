package basic

import (
	"errors"
	"fmt"
)

// 索引访问结果
var (
	ErrKeyNotFound = errors.New("didn't find key on read or update")
	ErrEndOfData   = errors.New("no more records (read after end of file)")
)

// 索引维护错误
var (
	ErrDuplicateKey  = errors.New("duplicate key on write or update")
	ErrIndexFileFull = errors.New("no more room in index file")
	ErrCorrupted     = errors.New("index file is crashed")
	ErrOutOfMemory   = errors.New("out of memory in engine")
	ErrInterrupted   = errors.New("operation interrupted")
)

// 参数错误
var (
	ErrInvalidIndex = errors.New("wrong index given to function")
	ErrInvalidKey   = errors.New("invalid key")
	ErrClosed       = errors.New("key file is closed")
)

// 与存储引擎 handler 错误号保持一致
const (
	CodeOK            = 0
	CodeKeyNotFound   = 120
	CodeDuplicateKey  = 121
	CodeInternal      = 122
	CodeWrongIndex    = 124
	CodeCrashed       = 126
	CodeOutOfMemory   = 128
	CodeIndexFileFull = 136
	CodeEndOfFile     = 137
	CodeInterrupted   = 168
)

// DuplicateKeyError 唯一键冲突, 携带已存在行的引用
type DuplicateKeyError struct {
	Index  int
	RowRef []byte
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: index %d, existing row %x", ErrDuplicateKey.Error(), e.Index, e.RowRef)
}

func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateKey
}

// CorruptedError 页面或元数据校验失败
type CorruptedError struct {
	Offset uint64
	Length int
	Reason string
}

func (e *CorruptedError) Error() string {
	if e.Offset == NoPage {
		return fmt.Sprintf("%s: %s", ErrCorrupted.Error(), e.Reason)
	}
	return fmt.Sprintf("%s: %s at offset %d length %d", ErrCorrupted.Error(), e.Reason, e.Offset, e.Length)
}

func (e *CorruptedError) Unwrap() error {
	return ErrCorrupted
}

// NewCorrupted 创建损坏错误
func NewCorrupted(offset uint64, length int, format string, args ...interface{}) error {
	return &CorruptedError{Offset: offset, Length: length, Reason: fmt.Sprintf(format, args...)}
}

// IndexFileFullError 分配页面时超过最大文件长度
type IndexFileFullError struct {
	Offset uint64
	Max    uint64
}

func (e *IndexFileFullError) Error() string {
	return fmt.Sprintf("%s: page at %d exceeds max_key_file_length %d", ErrIndexFileFull.Error(), e.Offset, e.Max)
}

func (e *IndexFileFullError) Unwrap() error {
	return ErrIndexFileFull
}

// 同时识别 Unwrap / Underlying / Cause 三种包装链
func next(err error) error {
	switch e := err.(type) {
	case interface{ Unwrap() error }:
		return e.Unwrap()
	case interface{ Underlying() error }:
		return e.Underlying()
	case interface{ Cause() error }:
		if c := e.Cause(); c != err {
			return c
		}
	}
	return nil
}

// Is 沿包装链查找 target
func Is(err, target error) bool {
	for depth := 0; err != nil && depth < 64; depth++ {
		if errors.Is(err, target) {
			return true
		}
		err = next(err)
	}
	return false
}

// As 沿包装链查找 target 类型
func As(err error, target interface{}) bool {
	for depth := 0; err != nil && depth < 64; depth++ {
		if errors.As(err, target) {
			return true
		}
		err = next(err)
	}
	return false
}

// IsDuplicateKey 检查是否为唯一键冲突
func IsDuplicateKey(err error) bool {
	return Is(err, ErrDuplicateKey)
}

// AsDuplicateKey 提取唯一键冲突详情
func AsDuplicateKey(err error) (*DuplicateKeyError, bool) {
	var dup *DuplicateKeyError
	if As(err, &dup) {
		return dup, true
	}
	return nil, false
}

// IsCorrupted 检查是否为索引损坏
func IsCorrupted(err error) bool {
	return Is(err, ErrCorrupted)
}

// IsIndexFileFull 检查索引文件是否已满
func IsIndexFileFull(err error) bool {
	return Is(err, ErrIndexFileFull)
}

// IsInterrupted 检查是否被外部中止
func IsInterrupted(err error) bool {
	return Is(err, ErrInterrupted)
}

// IsNotFound 检查是否为键不存在
func IsNotFound(err error) bool {
	return Is(err, ErrKeyNotFound)
}

// IsEndOfData 检查是否读到结尾
func IsEndOfData(err error) bool {
	return Is(err, ErrEndOfData)
}

// Code 转换为 handler 错误号
func Code(err error) int {
	switch {
	case err == nil:
		return CodeOK
	case Is(err, ErrKeyNotFound):
		return CodeKeyNotFound
	case Is(err, ErrDuplicateKey):
		return CodeDuplicateKey
	case Is(err, ErrCorrupted):
		return CodeCrashed
	case Is(err, ErrOutOfMemory):
		return CodeOutOfMemory
	case Is(err, ErrIndexFileFull):
		return CodeIndexFileFull
	case Is(err, ErrEndOfData):
		return CodeEndOfFile
	case Is(err, ErrInterrupted):
		return CodeInterrupted
	case Is(err, ErrInvalidIndex):
		return CodeWrongIndex
	default:
		return CodeInternal
	}
}
