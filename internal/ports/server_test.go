package ports

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/config"
	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/forward"
	"github.com/bujia-iot/jt808-gateway/pkg/protocol"
	"github.com/bujia-iot/jt808-gateway/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSIM = "13800138000"

// freeAddr 取一个本机空闲端口
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

type loopbackGateway struct {
	cfg      *config.Config
	sessions *session.Registry
	forwards *forward.Registry
}

// startGateway 在回环地址上启动终端接入和转发接入两个服务
func startGateway(t *testing.T, tune func(cfg *config.Config)) *loopbackGateway {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.DeviceAddress = freeAddr(t)
	cfg.Server.ForwardAddress = freeAddr(t)
	if tune != nil {
		tune(cfg)
	}

	sessions := session.NewRegistry()
	forwards := forward.NewRegistry(sessions)
	dev, err := NewDeviceServer(cfg, sessions, forwards)
	require.NoError(t, err)
	fwd, err := NewForwardServer(cfg, forwards)
	require.NoError(t, err)

	fwd.Start()
	dev.Start()
	t.Cleanup(func() {
		dev.Stop()
		fwd.Stop()
	})
	return &loopbackGateway{cfg: cfg, sessions: sessions, forwards: forwards}
}

// dialServer 服务端异步监听，连上为止
func dialServer(t *testing.T, addr string) net.Conn {
	t.Helper()
	var conn net.Conn
	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 3*time.Second, 50*time.Millisecond, "连接 %s 失败", addr)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// testDevice 通过真实 TCP 连接收发 JT808 帧的终端
type testDevice struct {
	conn     net.Conn
	packager *protocol.Packager
	parser   *protocol.StreamParser
}

func newTestDevice(t *testing.T, addr string) *testDevice {
	t.Helper()
	p, err := protocol.NewPackagerForSIM(testSIM, false, 0)
	require.NoError(t, err)
	return &testDevice{
		conn:     dialServer(t, addr),
		packager: p,
		parser:   protocol.NewStreamParser(constants.DefaultMaxFrameLength),
	}
}

// send 每帧单独一次 Write，返回最后一帧的流水号
func (d *testDevice) send(t *testing.T, id uint16, body protocol.BodyEncoder) uint16 {
	t.Helper()
	msgs, err := d.packager.Serialize(id, body)
	require.NoError(t, err)
	for _, m := range msgs {
		_, err := d.conn.Write(m.Frame())
		require.NoError(t, err)
	}
	return msgs[len(msgs)-1].Header.SN
}

func (d *testDevice) next(t *testing.T) *protocol.MergedMessage {
	t.Helper()
	require.NoError(t, d.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 1024)
	for {
		msg, err := d.parser.Next()
		require.NoError(t, err)
		if msg != nil {
			return msg
		}
		n, err := d.conn.Read(buf)
		require.NoError(t, err, "等待网关下行超时")
		d.parser.Feed(buf[:n])
	}
}

func TestDeviceServer_RegisterReply(t *testing.T) {
	g := startGateway(t, nil)
	dev := newTestDevice(t, g.cfg.Server.DeviceAddress)

	sn := dev.send(t, constants.MsgIDRegister, &protocol.RegisterRequest{
		ProvinceID:   44,
		CityID:       300,
		Manufacturer: "SIM01",
		Model:        "JT808-SIM",
		TerminalID:   "T000001",
		PlateColor:   1,
		Plate:        "粤B12345",
	})

	reply := dev.next(t)
	require.Equal(t, constants.MsgIDRegisterAck, reply.Header.MsgID)
	assert.Equal(t, testSIM, reply.Header.SIM)
	ack, err := protocol.ParseRegisterAck(reply.Body)
	require.NoError(t, err)
	assert.Equal(t, sn, ack.AnswerSN)
	assert.Equal(t, constants.AckResultSuccess, ack.Result)
	assert.Equal(t, g.cfg.Protocol.AuthCode, ack.AuthCode)

	_, ok := g.sessions.Lookup(testSIM)
	assert.True(t, ok, "注册后会话已登记")
}

func TestServers_BurstForwardedInOrder(t *testing.T) {
	g := startGateway(t, nil)

	consumer := dialServer(t, g.cfg.Server.ForwardAddress)
	ctrl, err := protocol.EncodeForwardControl(constants.ForwardOpReset, []string{testSIM})
	require.NoError(t, err)
	_, err = consumer.Write(ctrl)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		subs := g.forwards.Subscribers()
		return len(subs) == 1 && len(subs[0].SIMs) == 1
	}, 3*time.Second, 20*time.Millisecond, "订阅未生效")

	const n = 2000
	seqs := make(chan uint32, n)
	go func() {
		defer close(seqs)
		_ = consumer.SetReadDeadline(time.Now().Add(20 * time.Second))
		decoder := protocol.NewForwardDecoder()
		buf := make([]byte, 4096)
		for {
			read, err := consumer.Read(buf)
			if err != nil {
				return
			}
			decoder.Feed(buf[:read])
			for {
				pkt, err := decoder.Next()
				if err != nil || (pkt != nil && pkt.Message == nil) {
					return
				}
				if pkt == nil {
					break
				}
				if pkt.Message.Header.MsgID == constants.MsgIDLocationReport && len(pkt.Message.Body) == 4 {
					seqs <- binary.BigEndian.Uint32(pkt.Message.Body)
				}
			}
		}
	}()

	// 终端连续上报，每帧一次 Write，网关读缓冲会被反复复用
	dev := newTestDevice(t, g.cfg.Server.DeviceAddress)
	for i := 0; i < n; i++ {
		dev.send(t, constants.MsgIDLocationReport, protocol.RawBody(binary.BigEndian.AppendUint32(nil, uint32(i))))
	}

	for i := 0; i < n; i++ {
		select {
		case seq, ok := <-seqs:
			require.True(t, ok, "转发连接提前结束，只收到 %d 帧", i)
			require.Equal(t, uint32(i), seq, "转发顺序必须与上报顺序一致")
		case <-time.After(10 * time.Second):
			t.Fatalf("等待转发超时，已收到 %d/%d 帧", i, n)
		}
	}

	// 转发方断开后订阅清除
	require.NoError(t, consumer.Close())
	require.Eventually(t, func() bool { return g.forwards.Count() == 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestDeviceServer_IdleTimeout(t *testing.T) {
	g := startGateway(t, func(cfg *config.Config) {
		cfg.Protocol.IdleTimeoutSeconds = 1
	})
	dev := newTestDevice(t, g.cfg.Server.DeviceAddress)
	dev.send(t, constants.MsgIDHeartbeat, protocol.RawBody(nil))

	require.Eventually(t, func() bool { return g.sessions.Count() == 1 }, 2*time.Second, 20*time.Millisecond)

	// 之后不再发送任何数据，超时后会话注销并断开连接
	require.Eventually(t, func() bool { return g.sessions.Count() == 0 }, 5*time.Second, 50*time.Millisecond, "空闲超时后会话应注销")

	require.NoError(t, dev.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err := dev.conn.Read(make([]byte, 16))
	require.Error(t, err)
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "连接应由网关关闭而不是本端读超时")
	}
}
