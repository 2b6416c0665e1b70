package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	globalLogger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	files        []*os.File
	mu           sync.Mutex
)

type Config struct {
	Level   string   `mapstructure:"level" json:"level" yaml:"level"`       // debug/info/warn/error
	Outputs []string `mapstructure:"outputs" json:"outputs" yaml:"outputs"` // stdout/stderr/文件路径
}

// ParseLevel 未知级别按info处理
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init 重新配置全局日志。可重复调用，之前打开的日志文件会被关闭。
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	var (
		writers []io.Writer
		opened  []*os.File
	)
	for _, output := range cfg.Outputs {
		switch output {
		case "", "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				closeAll(opened)
				return fmt.Errorf("create log dir: %w", err)
			}
			file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				closeAll(opened)
				return fmt.Errorf("open log file: %w", err)
			}
			opened = append(opened, file)
			writers = append(writers, file)
		}
	}

	// 如果没有指定输出，默认使用stdout
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	closeAll(files)
	files = opened
	globalLogger = slog.New(slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	}))
	return nil
}

// Close 关闭日志文件，日志回退到stdout
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeAll(files)
	files = nil
	globalLogger = slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func closeAll(fs []*os.File) {
	for _, f := range fs {
		_ = f.Close()
	}
}

func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}

func Logger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return globalLogger
}

// Component 返回带component属性的子logger
func Component(name string) *slog.Logger {
	return Logger().With("component", name)
}
