package app

import (
	"context"
	"sync"
	"time"

	httpapi "github.com/bujia-iot/jt808-gateway/internal/adapter/http"
	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/config"
	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/logger"
	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/redis"
	"github.com/bujia-iot/jt808-gateway/internal/ports"
	"github.com/bujia-iot/jt808-gateway/pkg/constants"
	"github.com/bujia-iot/jt808-gateway/pkg/forward"
	"github.com/bujia-iot/jt808-gateway/pkg/session"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ServiceManager 服务管理器，负责创建和管理网关的各个服务
type ServiceManager struct {
	cfg *config.Config

	// 会话注册表与转发注册表，整个进程只有一份
	Sessions *session.Registry
	Forwards *forward.Registry

	redisClient *goredis.Client
	presence    *redis.PresenceStore

	deviceServer  *ports.DeviceServer
	forwardServer *ports.ForwardServer
	httpServer    *ports.HTTPServer
	httpErr       <-chan error

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewServiceManager 创建服务管理器
func NewServiceManager(cfg *config.Config) *ServiceManager {
	sessions := session.NewRegistry()
	return &ServiceManager{
		cfg:      cfg,
		Sessions: sessions,
		Forwards: forward.NewRegistry(sessions),
		stopCh:   make(chan struct{}),
	}
}

// Init 初始化所有服务
// Redis 是可选的，连接失败只影响在线状态同步，不影响网关基本功能
func (m *ServiceManager) Init() error {
	if m.cfg.Redis.Address != "" {
		client, err := redis.NewClient(m.cfg.Redis)
		if err != nil {
			logger.WithField("error", err.Error()).Warn("初始化Redis连接失败，在线状态不同步")
		} else {
			m.redisClient = client
			m.presence = redis.NewPresenceStore(client, m.cfg.Redis.KeyPrefix)
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := m.presence.Clear(ctx); err != nil {
				logger.WithField("error", err.Error()).Warn("清理遗留在线记录失败")
			}
			cancel()
			m.Sessions.AddObserver(m.presence)
		}
	}

	var err error
	if m.deviceServer, err = ports.NewDeviceServer(m.cfg, m.Sessions, m.Forwards); err != nil {
		return err
	}
	if m.forwardServer, err = ports.NewForwardServer(m.cfg, m.Forwards); err != nil {
		return err
	}
	m.httpServer = ports.NewHTTPServer(m.cfg.Server.HTTPAddress, httpapi.NewHandlerContext(m.Sessions, m.Forwards))
	return nil
}

// Start 启动全部监听和后台清理任务
func (m *ServiceManager) Start() {
	m.httpErr = m.httpServer.Start()
	m.forwardServer.Start()
	m.deviceServer.Start()

	m.wg.Add(1)
	go m.cleanupLoop()

	logger.WithFields(logrus.Fields{
		"device":  m.cfg.Server.DeviceAddress,
		"http":    m.cfg.Server.HTTPAddress,
		"forward": m.cfg.Server.ForwardAddress,
	}).Info("JT808网关启动完成，等待终端连接")
}

// HTTPErrors HTTP服务异常退出时收到错误
func (m *ServiceManager) HTTPErrors() <-chan error {
	return m.httpErr
}

// cleanupLoop 定期清理终端一直未应答的转发流水号
func (m *ServiceManager) cleanupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(constants.ForwardCleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if n := m.Sessions.CleanupForwards(constants.ForwardEntryMaxAge); n > 0 {
				logger.WithField("count", n).Debug("清理超时的转发应答条目")
			}
		}
	}
}

// Shutdown 关闭所有服务
func (m *ServiceManager) Shutdown(ctx context.Context) error {
	close(m.stopCh)
	m.wg.Wait()

	var firstErr error
	if m.httpServer != nil {
		if err := m.httpServer.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if m.deviceServer != nil {
		m.deviceServer.Stop()
	}
	if m.forwardServer != nil {
		m.forwardServer.Stop()
	}
	m.Sessions.CloseAll()
	m.Forwards.CloseAll()

	if m.presence != nil {
		m.presence.Close()
	}
	if m.redisClient != nil {
		if err := m.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
