package ports

import (
	"github.com/aceld/zinx/ziface"
	"github.com/aceld/zinx/znet"
	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/config"
	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/forward"
	"github.com/bujia-iot/jt808-gateway/pkg/network"
	"github.com/sirupsen/logrus"
)

// ForwardServer 转发方接入服务，转发连接不设空闲超时
type ForwardServer struct {
	server   ziface.IServer
	addr     string
	registry *forward.Registry
	cfg      config.ProtocolConfig
}

// NewForwardServer 创建转发方接入服务
func NewForwardServer(cfg *config.Config, registry *forward.Registry) (*ForwardServer, error) {
	server, err := newZinxServer(cfg.Zinx.Name+"-forward", cfg.Server.ForwardAddress, cfg.Zinx)
	if err != nil {
		return nil, err
	}
	s := &ForwardServer{
		server:   server,
		addr:     cfg.Server.ForwardAddress,
		registry: registry,
		cfg:      cfg.Protocol,
	}
	server.AddRouter(RawRouteID, &forwardRouter{})
	server.SetOnConnStart(s.onConnStart)
	server.SetOnConnStop(s.onConnStop)
	return s, nil
}

// Start 开始监听，不阻塞
func (s *ForwardServer) Start() {
	logger.WithField("address", s.addr).Info("转发接入服务启动")
	s.server.Start()
}

// Stop 停止监听
func (s *ForwardServer) Stop() {
	s.server.Stop()
	logger.WithField("address", s.addr).Info("转发接入服务已停止")
}

func (s *ForwardServer) onConnStart(conn ziface.IConnection) {
	remote := conn.RemoteAddr().String()
	fc := forward.NewConnection(remote, network.NewTCPWriter(conn.GetConnection(), remote, s.cfg.WriteTimeout()), s.registry)
	conn.SetProperty(constants.PropKeyForwardConnection, fc)
	logger.WithFields(logrus.Fields{
		"connID":       conn.GetConnID(),
		"remoteAddr":   remote,
		"subscriberID": fc.Subscriber().ID(),
	}).Debug("转发连接已建立")
}

func (s *ForwardServer) onConnStop(conn ziface.IConnection) {
	if fc := forwardConnection(conn); fc != nil {
		fc.Close(stopReason(conn))
	}
}

func forwardConnection(conn ziface.IConnection) *forward.Connection {
	v, err := conn.GetProperty(constants.PropKeyForwardConnection)
	if err != nil || v == nil {
		return nil
	}
	fc, _ := v.(*forward.Connection)
	return fc
}

// forwardRouter 转发方数据入口
type forwardRouter struct {
	znet.BaseRouter
}

// Handle 控制帧或数据帧格式错误时断开转发连接
func (r *forwardRouter) Handle(request ziface.IRequest) {
	conn := request.GetConnection()
	fc := forwardConnection(conn)
	if fc == nil {
		return
	}
	if err := fc.OnData(request.GetData()); err != nil {
		stopWithReason(conn, err)
	}
}
