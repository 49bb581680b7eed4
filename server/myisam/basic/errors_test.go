package basic

import (
	"fmt"
	"testing"

	jujuerrors "github.com/juju/errors"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	dup := &DuplicateKeyError{Index: 2, RowRef: []byte{0, 0, 0, 7}}

	t.Run("标准包装", func(t *testing.T) {
		err := fmt.Errorf("write row: %w", dup)
		assert.True(t, IsDuplicateKey(err))
		got, ok := AsDuplicateKey(err)
		require.True(t, ok)
		assert.Equal(t, []byte{0, 0, 0, 7}, got.RowRef)
		assert.Equal(t, CodeDuplicateKey, Code(err))
	})

	t.Run("pkg/errors与juju/errors包装", func(t *testing.T) {
		err := jujuerrors.Annotatef(pkgerrors.Wrap(dup, "insert"), "index %d", 2)
		assert.True(t, IsDuplicateKey(err))
		got, ok := AsDuplicateKey(jujuerrors.Trace(err))
		require.True(t, ok)
		assert.Equal(t, 2, got.Index)
	})

	t.Run("错误号", func(t *testing.T) {
		assert.Equal(t, CodeOK, Code(nil))
		assert.Equal(t, CodeCrashed, Code(NewCorrupted(4096, 1024, "bad length %d", 9999)))
		assert.Equal(t, CodeIndexFileFull, Code(&IndexFileFullError{Offset: 2048, Max: 2048}))
		assert.Equal(t, CodeKeyNotFound, Code(jujuerrors.Trace(ErrKeyNotFound)))
		assert.Equal(t, CodeEndOfFile, Code(ErrEndOfData))
		assert.Equal(t, CodeOutOfMemory, Code(ErrOutOfMemory))
		assert.Equal(t, CodeInterrupted, Code(pkgerrors.WithStack(ErrInterrupted)))
	})

	t.Run("损坏信息包含偏移", func(t *testing.T) {
		err := NewCorrupted(8192, 1024, "used length %d", 5000)
		assert.Contains(t, err.Error(), "offset 8192")
		assert.NotContains(t, NewCorrupted(NoPage, 0, "state checksum").Error(), "offset")
	})
}

func TestBlockClass(t *testing.T) {
	assert.Equal(t, 0, BlockClass(1024))
	assert.Equal(t, 4, BlockClass(16384))
	assert.Equal(t, -1, BlockClass(3000))
	assert.Equal(t, 4096, ClassBlockLength(BlockClass(4096)))
}
