package ports

import (
	"fmt"
	"net"
	"time"

	"github.com/aceld/zinx/zconf"
	"github.com/aceld/zinx/ziface"
	"github.com/aceld/zinx/znet"
	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/config"
	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/errors"
	"github.com/bujia-iot/jt808-gateway/pkg/network"
	"github.com/bujia-iot/jt808-gateway/pkg/session"
	"github.com/sirupsen/logrus"
)

// newZinxServer 按监听地址创建 zinx 服务器，解码器只透传原始数据
func newZinxServer(name, addr string, zc config.ZinxConfig) (ziface.IServer, error) {
	host, port, err := config.SplitAddress(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}

	cfg := *zconf.GlobalObject
	cfg.Name = name
	cfg.Host = host
	cfg.TCPPort = port
	if zc.Version != "" {
		cfg.Version = zc.Version
	}
	if zc.MaxConn > 0 {
		cfg.MaxConn = zc.MaxConn
	}
	if zc.MaxPacketSize > 0 {
		cfg.MaxPacketSize = zc.MaxPacketSize
	}
	// 工作池按连接分配 worker，同一连接的数据顺序处理
	if zc.WorkerPoolSize > 0 {
		cfg.WorkerPoolSize = uint32(zc.WorkerPoolSize)
	}
	if zc.MaxWorkerTaskLen > 0 {
		cfg.MaxWorkerTaskLen = uint32(zc.MaxWorkerTaskLen)
	}

	server := znet.NewUserConfServer(&cfg)
	if server == nil {
		return nil, fmt.Errorf("创建Zinx服务器实例失败: %s", name)
	}
	server.SetDecoder(NewRawDecoder())
	return server, nil
}

// stopWithReason 记录原因后断开连接
func stopWithReason(conn ziface.IConnection, reason error) {
	conn.SetProperty(PropKeyStopReason, reason)
	conn.Stop()
}

func stopReason(conn ziface.IConnection) error {
	if v, err := conn.GetProperty(PropKeyStopReason); err == nil && v != nil {
		if reason, ok := v.(error); ok {
			return reason
		}
	}
	return nil
}

// DeviceServer 终端接入服务
type DeviceServer struct {
	server       ziface.IServer
	addr         string
	sessions     *session.Registry
	forwards     session.ForwardResolver
	opts         session.ConnectionOptions
	idleTimeout  time.Duration
	writeTimeout time.Duration
}

// NewDeviceServer 创建终端接入服务
func NewDeviceServer(cfg *config.Config, sessions *session.Registry, forwards session.ForwardResolver) (*DeviceServer, error) {
	server, err := newZinxServer(cfg.Zinx.Name+"-device", cfg.Server.DeviceAddress, cfg.Zinx)
	if err != nil {
		return nil, err
	}
	s := &DeviceServer{
		server:   server,
		addr:     cfg.Server.DeviceAddress,
		sessions: sessions,
		forwards: forwards,
		opts: session.ConnectionOptions{
			MaxFrameLength: cfg.Protocol.MaxFrameLength,
			MaxBodyLength:  cfg.Protocol.MaxBodyLength,
			AuthCode:       cfg.Protocol.AuthCode,
			CommandTimeout: cfg.Protocol.CommandTimeout(),
			LogHexDump:     cfg.Logger.LogHexDump,
		},
		idleTimeout:  session.IdleTimeout(cfg.Protocol.IdleTimeoutSeconds),
		writeTimeout: cfg.Protocol.WriteTimeout(),
	}
	server.AddRouter(RawRouteID, &deviceRouter{srv: s})
	server.SetOnConnStart(s.onConnStart)
	server.SetOnConnStop(s.onConnStop)
	return s, nil
}

// Start 开始监听，不阻塞
func (s *DeviceServer) Start() {
	logger.WithField("address", s.addr).Info("终端接入服务启动")
	s.server.Start()
}

// Stop 停止监听并断开全部连接
func (s *DeviceServer) Stop() {
	s.server.Stop()
	logger.WithField("address", s.addr).Info("终端接入服务已停止")
}

func (s *DeviceServer) onConnStart(conn ziface.IConnection) {
	remote := conn.RemoteAddr().String()
	tcpConn := conn.GetConnection()
	dc := session.NewDeviceConnection(remote, network.NewTCPWriter(tcpConn, remote, s.writeTimeout), s.sessions, s.forwards, s.opts)
	conn.SetProperty(constants.PropKeyDeviceConnection, dc)
	s.refreshDeadline(tcpConn)

	logger.WithFields(logrus.Fields{
		"connID":     conn.GetConnID(),
		"remoteAddr": remote,
		"traceID":    dc.TraceID(),
	}).Info("终端连接已建立")
}

func (s *DeviceServer) onConnStop(conn ziface.IConnection) {
	dc := deviceConnection(conn)
	if dc == nil {
		return
	}
	reason := stopReason(conn)
	if reason == nil && dc.IdleFor() >= s.idleTimeout {
		reason = errors.ErrIdleTimeout
	}
	fields := logrus.Fields{
		"connID":     conn.GetConnID(),
		"remoteAddr": conn.RemoteAddr().String(),
		"traceID":    dc.TraceID(),
		"sims":       dc.SIMs(),
	}
	if reason != nil {
		fields["reason"] = reason.Error()
	}
	logger.WithFields(fields).Info("终端连接已断开")
	dc.Close(reason)
}

func (s *DeviceServer) refreshDeadline(c net.Conn) {
	if c == nil {
		return
	}
	_ = c.SetReadDeadline(time.Now().Add(s.idleTimeout))
}

func deviceConnection(conn ziface.IConnection) *session.DeviceConnection {
	v, err := conn.GetProperty(constants.PropKeyDeviceConnection)
	if err != nil || v == nil {
		return nil
	}
	dc, _ := v.(*session.DeviceConnection)
	return dc
}

// deviceRouter 终端数据入口
type deviceRouter struct {
	znet.BaseRouter
	srv *DeviceServer
}

// Handle 每次读到数据刷新空闲超时，交给连接切帧处理
func (r *deviceRouter) Handle(request ziface.IRequest) {
	conn := request.GetConnection()
	dc := deviceConnection(conn)
	if dc == nil {
		return
	}
	r.srv.refreshDeadline(conn.GetConnection())
	if err := dc.OnData(request.GetData()); err != nil {
		stopWithReason(conn, err)
	}
}
