package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newRotatingWriter 按大小切割的日志文件，历史文件按天数和个数清理
func newRotatingWriter(cfg *config.LoggerConfig) (io.Writer, error) {
	dir := cfg.FileDir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	prefix := cfg.FilePrefix
	if prefix == "" {
		prefix = "gateway"
	}

	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, prefix+".log"),
		MaxSize:    positive(cfg.MaxSizeMB, 100),
		MaxBackups: positive(cfg.MaxBackups, 10),
		MaxAge:     positive(cfg.MaxAgeDays, 30),
		Compress:   cfg.Compress,
		LocalTime:  true,
	}, nil
}

func positive(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
