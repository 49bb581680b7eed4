package util

import (
	"os"
	"path/filepath"
)

// PathExists 判断路径是否存在
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// CreateTempFile 在 dir 下创建临时文件, dir 为空时使用系统临时目录
func CreateTempFile(dir string, prefix string) (*os.File, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return os.CreateTemp(dir, prefix+"*")
}

// CloseAndRemove 关闭并删除临时文件, 忽略错误
func CloseAndRemove(f *os.File) {
	if f == nil {
		return
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
}

// ReplaceFile 用 from 覆盖 to
func ReplaceFile(from, to string) error {
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return err
	}
	return os.Rename(from, to)
}
