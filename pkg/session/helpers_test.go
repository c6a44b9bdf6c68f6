package session

import (
	"sync"
	"testing"
	"time"

	"github.com/bujia-iot/jt808-gateway/pkg/network"
	"github.com/bujia-iot/jt808-gateway/pkg/protocol"
	"github.com/stretchr/testify/require"
)

const testSIM = "13800138000"

// frameSink 记录写入连接的每一帧，TCPWriter 每帧调用一次 Write
type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
	ch     chan []byte
}

func newFrameSink() *frameSink {
	return &frameSink{ch: make(chan []byte, 64)}
}

func (s *frameSink) Write(p []byte) (int, error) {
	frame := append([]byte(nil), p...)
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
	s.ch <- frame
	return len(p), nil
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// next 等待下一帧并解码
func (s *frameSink) next(t *testing.T) *protocol.Message {
	t.Helper()
	select {
	case frame := <-s.ch:
		msg, err := protocol.DecodeFrame(frame)
		require.NoError(t, err)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("等待下行帧超时")
		return nil
	}
}

// frameRecorder 实现 network.FrameSender，模拟转发方
type frameRecorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *frameRecorder) SendFrames(frames ...[]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frames...)
	return nil
}

func (r *frameRecorder) all() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.frames...)
}

var _ network.FrameSender = (*frameRecorder)(nil)

func newTestHandle(t *testing.T, sim string, sink *frameSink, timeout time.Duration) *Handle {
	t.Helper()
	p, err := protocol.NewPackagerForSIM(sim, false, 0)
	require.NoError(t, err)
	return NewHandle(HandleOptions{
		SIM:            sim,
		RemoteAddr:     "10.0.0.1:40000",
		TraceID:        "trace-" + sim,
		Writer:         network.NewTCPWriter(sink, "10.0.0.1:40000", 0),
		Packager:       p,
		CommandTimeout: timeout,
	})
}

// devicePackager 模拟终端侧的编码
func devicePackager(t *testing.T, sim string) *protocol.Packager {
	t.Helper()
	p, err := protocol.NewPackagerForSIM(sim, false, 0)
	require.NoError(t, err)
	return p
}

// deviceMessage 终端上行的一条完整消息
func deviceMessage(t *testing.T, p *protocol.Packager, id uint16, body protocol.BodyEncoder) *protocol.MergedMessage {
	t.Helper()
	msgs, err := p.Serialize(id, body)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	return protocol.NewMergedMessage(msgs[0])
}

// deviceFrame 终端上行的一条转义帧
func deviceFrame(t *testing.T, p *protocol.Packager, id uint16, body protocol.BodyEncoder) []byte {
	t.Helper()
	return deviceMessage(t, p, id, body).Fragments[0].Frame()
}

type recordingObserver struct {
	mu      sync.Mutex
	bound   []string
	unbound []string
	// 按到达顺序记录 +traceID / -traceID
	events []string
}

func (o *recordingObserver) OnSessionBound(info Info) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bound = append(o.bound, info.SIM)
	o.events = append(o.events, "+"+info.TraceID)
}

func (o *recordingObserver) OnSessionUnbound(info Info) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unbound = append(o.unbound, info.SIM)
	o.events = append(o.events, "-"+info.TraceID)
}

// lastEvent 最后一条事件，没有事件时返回空串
func (o *recordingObserver) lastEvent() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.events) == 0 {
		return ""
	}
	return o.events[len(o.events)-1]
}

func (o *recordingObserver) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.bound), len(o.unbound)
}
