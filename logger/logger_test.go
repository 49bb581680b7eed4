package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	dir := t.TempDir()
	infoPath := filepath.Join(dir, "logs", "info.log")
	errPath := filepath.Join(dir, "logs", "error.log")

	require.NoError(t, InitLogger(LogConfig{
		InfoLogPath:  infoPath,
		ErrorLogPath: errPath,
		LogLevel:     "debug",
	}))

	Infof("rebuild index %d", 1)
	Errorf("page %d crashed", 4096)

	info, err := os.ReadFile(infoPath)
	require.NoError(t, err)
	assert.Contains(t, string(info), "[INFO]")
	assert.Contains(t, string(info), "rebuild index 1")

	errLog, err := os.ReadFile(errPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(errLog), "page 4096 crashed"))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "warning", parseLogLevel("WARN").String())
	assert.Equal(t, "info", parseLogLevel("bogus").String())
}
