package session

import (
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/errors"
	"github.com/bujia-iot/jt808-gateway/pkg/network"
	"github.com/bujia-iot/jt808-gateway/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingForwarder 记录转发出去的帧
type recordingForwarder struct {
	mu     sync.Mutex
	frames [][]byte
	bound  *Handle
}

func (f *recordingForwarder) Forward(frames ...[]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frames...)
}

func (f *recordingForwarder) BindDevice(h *Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound = h
}

func (f *recordingForwarder) all() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

type staticResolver struct {
	fw *recordingForwarder
}

func (r staticResolver) GetForwarder(string) Forwarder { return r.fw }

func newTestConnection(forwards ForwardResolver) (*DeviceConnection, *frameSink, *Registry) {
	sink := newFrameSink()
	reg := NewRegistry()
	conn := NewDeviceConnection("10.0.0.2:50000", network.NewTCPWriter(sink, "10.0.0.2:50000", 0), reg, forwards, ConnectionOptions{
		MaxFrameLength: constants.DefaultMaxFrameLength,
		CommandTimeout: 100 * time.Millisecond,
	})
	return conn, sink, reg
}

func registerRequest() *protocol.RegisterRequest {
	return &protocol.RegisterRequest{
		ProvinceID:   31,
		CityID:       115,
		Manufacturer: "BJ001",
		Model:        "T808",
		TerminalID:   "0000001",
		PlateColor:   1,
		Plate:        "粤B12345",
	}
}

func TestDeviceConnection_RegisterThenLocation(t *testing.T) {
	conn, sink, reg := newTestConnection(nil)
	dev := devicePackager(t, testSIM)

	reqFrame := deviceFrame(t, dev, constants.MsgIDRegister, registerRequest())
	reqMsg, err := protocol.DecodeFrame(reqFrame)
	require.NoError(t, err)

	require.NoError(t, conn.OnData(reqFrame))
	reply := sink.next(t)
	assert.Equal(t, constants.MsgIDRegisterAck, reply.Header.MsgID)
	assert.Equal(t, testSIM, reply.Header.SIM)
	ack, err := protocol.ParseRegisterAck(reply.Body)
	require.NoError(t, err)
	assert.Equal(t, reqMsg.Header.SN, ack.AnswerSN)
	assert.Equal(t, constants.AckResultSuccess, ack.Result)
	assert.Equal(t, constants.DefaultRegisterAuthCode, ack.AuthCode)

	h, ok := reg.Lookup(testSIM)
	require.True(t, ok, "第一条消息到达后会话应登记")
	assert.Equal(t, "10.0.0.2:50000", h.RemoteAddr())

	// 没有订阅方的位置汇报：不回复也不报错
	require.NoError(t, conn.OnData(deviceFrame(t, dev, constants.MsgIDLocationReport, protocol.RawBody(make([]byte, 28)))))
	assert.Equal(t, 1, sink.count())
}

func TestDeviceConnection_AuthReply(t *testing.T) {
	conn, sink, _ := newTestConnection(nil)
	dev := devicePackager(t, testSIM)

	frame := deviceFrame(t, dev, constants.MsgIDAuthenticate, &protocol.AuthRequest{AuthCode: "9090980"})
	msg, err := protocol.DecodeFrame(frame)
	require.NoError(t, err)
	require.NoError(t, conn.OnData(frame))

	reply := sink.next(t)
	assert.Equal(t, constants.MsgIDPlatformGeneralAck, reply.Header.MsgID)
	ack, err := protocol.ParseGeneralAck(reply.Body)
	require.NoError(t, err)
	assert.Equal(t, msg.Header.SN, ack.AnswerSN)
	assert.Equal(t, constants.MsgIDAuthenticate, ack.AnswerID)
	assert.Equal(t, constants.AckResultSuccess, ack.Result)
}

func TestDeviceConnection_ForwardsUplink(t *testing.T) {
	fw := &recordingForwarder{}
	conn, sink, reg := newTestConnection(staticResolver{fw: fw})
	dev := devicePackager(t, testSIM)

	require.NoError(t, conn.OnData(deviceFrame(t, dev, constants.MsgIDRegister, registerRequest())))
	sink.next(t)
	assert.Empty(t, fw.all(), "注册消息在网关终结，不转发")

	location := deviceFrame(t, dev, constants.MsgIDLocationReport, protocol.RawBody{0x00, 0x01, 0x02})
	heartbeat := deviceFrame(t, dev, constants.MsgIDHeartbeat, protocol.RawBody(nil))
	// 粘包并拆成两段送入
	stream := append(append([]byte(nil), location...), heartbeat...)
	require.NoError(t, conn.OnData(stream[:7]))
	require.NoError(t, conn.OnData(stream[7:]))

	got := fw.all()
	require.Len(t, got, 2)
	assert.Equal(t, location, got[0])
	assert.Equal(t, heartbeat, got[1])

	h, ok := reg.Lookup(testSIM)
	require.True(t, ok)
	assert.Same(t, h, fw.bound)
}

func TestDeviceConnection_CommandAckNotForwarded(t *testing.T) {
	fw := &recordingForwarder{}
	conn, sink, reg := newTestConnection(staticResolver{fw: fw})
	dev := devicePackager(t, testSIM)

	require.NoError(t, conn.OnData(deviceFrame(t, dev, constants.MsgIDHeartbeat, protocol.RawBody(nil))))
	h, ok := reg.Lookup(testSIM)
	require.True(t, ok)

	done := sendAsync(h, constants.MsgIDRealtimeAVControl, []byte{0x01, 0x00, 0x00, 0x00})
	cmd := sink.next(t)
	ack := &protocol.GeneralAck{AnswerSN: cmd.Header.SN, AnswerID: cmd.Header.MsgID, Result: 0}
	require.NoError(t, conn.OnData(deviceFrame(t, dev, constants.MsgIDTerminalGeneralAck, ack)))

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, byte(0), res.result)
	assert.Len(t, fw.all(), 1, "只有心跳被转发")
}

func TestDeviceConnection_BadFrames(t *testing.T) {
	conn, sink, _ := newTestConnection(nil)
	dev := devicePackager(t, testSIM)

	// 校验码错误只丢弃该帧
	frame := deviceFrame(t, dev, constants.MsgIDAuthenticate, &protocol.AuthRequest{AuthCode: "1"})
	bad := append([]byte(nil), frame...)
	bad[len(bad)-2] ^= 0x01
	require.NoError(t, conn.OnData(bad))
	require.NoError(t, conn.OnData(frame))
	assert.Equal(t, constants.MsgIDPlatformGeneralAck, sink.next(t).Header.MsgID)

	// 非法转义关闭连接
	malformed := append([]byte{0x7E, 0x7D, 0x05}, make([]byte, 10)...)
	malformed = append(malformed, 0x7E)
	err := conn.OnData(malformed)
	require.Error(t, err)
	assert.True(t, errors.IsConnectionFatal(err))
	assert.True(t, stderrors.Is(err, errors.ErrMalformedEscape))
}

func TestDeviceConnection_ReplacedSession(t *testing.T) {
	reg := NewRegistry()
	dev := devicePackager(t, testSIM)
	newConn := func() (*DeviceConnection, *frameSink) {
		sink := newFrameSink()
		return NewDeviceConnection("10.0.0.3:1", network.NewTCPWriter(sink, "10.0.0.3:1", 0), reg, nil, ConnectionOptions{}), sink
	}

	first, _ := newConn()
	second, _ := newConn()
	heartbeat := deviceFrame(t, dev, constants.MsgIDHeartbeat, protocol.RawBody(nil))

	require.NoError(t, first.OnData(heartbeat))
	require.NoError(t, second.OnData(heartbeat))

	// 旧连接上再收到该终端的数据时断开
	err := first.OnData(heartbeat)
	require.Error(t, err)
	assert.True(t, errors.IsErrCode(err, errors.ErrCodeSessionClosed))

	first.Close(err)
	h, ok := reg.Lookup(testSIM)
	require.True(t, ok, "旧连接关闭不影响新会话")
	assert.False(t, h.IsClosed())

	second.Close(errors.ErrIdleTimeout)
	_, ok = reg.Lookup(testSIM)
	assert.False(t, ok)
}

func TestDeviceConnection_CloseDeregisters(t *testing.T) {
	conn, _, reg := newTestConnection(nil)
	dev := devicePackager(t, testSIM)
	other := devicePackager(t, "13900139000")

	require.NoError(t, conn.OnData(deviceFrame(t, dev, constants.MsgIDHeartbeat, protocol.RawBody(nil))))
	require.NoError(t, conn.OnData(deviceFrame(t, other, constants.MsgIDHeartbeat, protocol.RawBody(nil))))
	assert.Equal(t, 2, reg.Count())
	assert.ElementsMatch(t, []string{testSIM, "13900139000"}, conn.SIMs())

	h, _ := reg.Lookup(testSIM)
	conn.Close(errors.ErrIdleTimeout)
	assert.Equal(t, 0, reg.Count())
	assert.True(t, h.IsClosed())

	err := conn.OnData(deviceFrame(t, dev, constants.MsgIDHeartbeat, protocol.RawBody(nil)))
	assert.True(t, stderrors.Is(err, errors.ErrSessionClosed))
}

func TestIdleTimeout(t *testing.T) {
	assert.Equal(t, constants.DefaultIdleTimeout, IdleTimeout(0))
	assert.Equal(t, 90*time.Second, IdleTimeout(90))
}
