package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例 (debug / warn)
	Logger *logrus.Logger
	// InfoLogger 信息日志实例
	InfoLogger *logrus.Logger
	// ErrorLogger 错误日志实例
	ErrorLogger *logrus.Logger
)

// LogConfig 日志配置
type LogConfig struct {
	ErrorLogPath string
	InfoLogPath  string
	LogLevel     string
	// MaxSizeMB 单个日志文件大小上限, 超过后由 lumberjack 轮转
	MaxSizeMB  int
	MaxBackups int
}

// CustomFormatter 自定义日志格式化器
type CustomFormatter struct {
	TimestampFormat string
}

// Format 实现 logrus.Formatter 接口
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	layout := f.TimestampFormat
	if layout == "" {
		layout = "15:04:05 MST 2006/01/02"
	}

	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}

	msg := entry.Message
	if len(entry.Data) > 0 {
		var sb strings.Builder
		for k, v := range entry.Data {
			fmt.Fprintf(&sb, " %s=%v", k, v)
		}
		msg += sb.String()
	}

	return []byte(fmt.Sprintf("[%s] [%s] (%s) %s\n",
		entry.Time.Format(layout), level, getCaller(), msg)), nil
}

// getCaller 跳过日志框架的调用栈，找到实际的调用者
func getCaller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "sirupsen") ||
			strings.Contains(file, "/logger/logger.go") ||
			strings.Contains(file, "/entry.go") {
			continue
		}
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), runtime.FuncForPC(pc).Name(), line)
	}
	return "unknown:unknown:0"
}

// parseLogLevel 解析日志级别字符串为logrus级别
func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func newLogger(level logrus.Level, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&CustomFormatter{})
	l.SetLevel(level)
	l.SetOutput(out)
	return l
}

// InitLogger 初始化日志
func InitLogger(config LogConfig) error {
	level := parseLogLevel(config.LogLevel)

	infoOut, err := openLogOutput(config, config.InfoLogPath, os.Stdout)
	if err != nil {
		return err
	}
	errOut, err := openLogOutput(config, config.ErrorLogPath, os.Stderr)
	if err != nil {
		return err
	}

	InfoLogger = newLogger(level, infoOut)
	ErrorLogger = newLogger(level, errOut)
	Logger = newLogger(level, infoOut)
	return nil
}

// openLogOutput 文件输出经 lumberjack 轮转, 并同时写到控制台
func openLogOutput(config LogConfig, logPath string, console io.Writer) (io.Writer, error) {
	if logPath == "" {
		return console, nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir for %s: %w", logPath, err)
	}
	maxSize := config.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return io.MultiWriter(console, &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxSize,
		MaxBackups: config.MaxBackups,
	}), nil
}

// WithField 返回带字段的日志条目
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger == nil {
		Logger = newLogger(logrus.InfoLevel, os.Stdout)
	}
	return Logger.WithField(key, value)
}

// Info 记录信息日志
func Info(args ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Info(args...)
	}
}

// Infof 记录格式化信息日志
func Infof(format string, args ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Infof(format, args...)
	}
}

// Debug 记录调试日志
func Debug(args ...interface{}) {
	if Logger != nil {
		Logger.Debug(args...)
	}
}

// Debugf 记录格式化调试日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Warn 记录警告日志
func Warn(args ...interface{}) {
	if Logger != nil {
		Logger.Warn(args...)
	}
}

// Warnf 记录格式化警告日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Error 记录错误日志
func Error(args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Error(args...)
	}
}

// Errorf 记录格式化错误日志
func Errorf(format string, args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Errorf(format, args...)
	}
}

// Fatalf 记录格式化致命错误日志并退出
func Fatalf(format string, args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Fatalf(format, args...)
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
