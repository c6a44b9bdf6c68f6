package logger

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/config"
	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/sirupsen/logrus"
)

// 全局日志实例
var log = logrus.New()

func init() {
	log.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: constants.TimeFormatDefault,
		FullTimestamp:   true,
	})
	log.SetOutput(os.Stdout)
}

// Init 初始化日志系统
func Init(cfg *config.LoggerConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %s, %w", cfg.Level, err)
	}
	log.SetLevel(level)

	if strings.ToLower(cfg.Format) == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: constants.TimeFormatDefault,
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: constants.TimeFormatDefault,
			FullTimestamp:   true,
			DisableColors:   cfg.EnableFile,
		})
	}

	var writers []io.Writer
	if cfg.EnableConsole || !cfg.EnableFile {
		writers = append(writers, os.Stdout)
	}
	if cfg.EnableFile {
		w, err := newRotatingWriter(cfg)
		if err != nil {
			return err
		}
		writers = append(writers, w)
	}
	log.SetOutput(io.MultiWriter(writers...))
	return nil
}

// SetOutput 替换日志输出，测试中使用
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// SetLevel 设置日志级别
func SetLevel(level logrus.Level) {
	log.SetLevel(level)
}

// Debug 输出Debug级别日志
func Debug(args ...interface{}) {
	log.Debug(args...)
}

// Info 输出Info级别日志
func Info(args ...interface{}) {
	log.Info(args...)
}

// Infof 格式化输出Info级别日志
func Infof(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Errorf 格式化输出Error级别日志
func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

// WithField 添加字段到日志
func WithField(key string, value interface{}) *logrus.Entry {
	return log.WithField(key, value)
}

// WithFields 添加多个字段到日志
func WithFields(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}

// FormatMsgID 消息ID统一格式化为 0x0200 形式
func FormatMsgID(id uint16) string {
	return fmt.Sprintf("0x%04X", id)
}

// HexDump 以Debug级别记录原始报文
func HexDump(title, remote string, data []byte) {
	if !log.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	log.WithFields(logrus.Fields{
		"remoteAddr": remote,
		"length":     len(data),
		"dataHex":    strings.ToUpper(hex.EncodeToString(data)),
	}).Debug(title)
}
