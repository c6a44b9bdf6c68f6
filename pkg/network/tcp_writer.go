package network

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FrameSender 可以一次写出若干帧的对象
type FrameSender interface {
	SendFrames(frames ...[]byte) error
}

// deadlineWriter net.Conn 满足该接口
type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// TCPWriter 连接的唯一写出口
// 一次 SendFrames 调用全程持锁，协议应答、平台指令和转发数据不会在帧中间交错
type TCPWriter struct {
	mu           sync.Mutex
	w            io.Writer
	remote       string
	writeTimeout time.Duration
	closed       atomic.Bool

	framesWritten atomic.Uint64
	bytesWritten  atomic.Uint64
}

// NewTCPWriter 创建写入器，writeTimeout<=0 时不设置写超时
func NewTCPWriter(w io.Writer, remote string, writeTimeout time.Duration) *TCPWriter {
	return &TCPWriter{
		w:            w,
		remote:       remote,
		writeTimeout: writeTimeout,
	}
}

// SendFrames 依次写出全部帧
// 写失败后写入器被标记为关闭，之后的调用立即返回 ErrSessionClosed
func (tw *TCPWriter) SendFrames(frames ...[]byte) error {
	if tw.closed.Load() {
		return errors.ErrSessionClosed
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed.Load() {
		return errors.ErrSessionClosed
	}
	if dw, ok := tw.w.(deadlineWriter); ok && tw.writeTimeout > 0 {
		_ = dw.SetWriteDeadline(time.Now().Add(tw.writeTimeout))
	}

	for i, frame := range frames {
		if _, err := tw.w.Write(frame); err != nil {
			tw.closed.Store(true)
			logger.WithFields(logrus.Fields{
				"remoteAddr": tw.remote,
				"frame":      fmt.Sprintf("%d/%d", i+1, len(frames)),
				"dataSize":   len(frame),
				"error":      err.Error(),
			}).Error("TCP写入失败")
			return errors.Wrap(errors.ErrCodeSessionClosed, "write failed", err)
		}
		tw.framesWritten.Add(1)
		tw.bytesWritten.Add(uint64(len(frame)))
	}
	return nil
}

// Close 标记关闭，底层连接由所属的连接管理关闭
func (tw *TCPWriter) Close() {
	tw.closed.Store(true)
}

// IsClosed 写入器是否已关闭
func (tw *TCPWriter) IsClosed() bool {
	return tw.closed.Load()
}

// Stats 已写出的帧数和字节数
func (tw *TCPWriter) Stats() (frames, bytes uint64) {
	return tw.framesWritten.Load(), tw.bytesWritten.Load()
}
